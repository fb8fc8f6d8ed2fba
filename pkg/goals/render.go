package goals

import (
	"sort"
	"strings"
)

// maxCompletedShown caps how many recently completed goals the fragment
// carries for short-term continuity.
const maxCompletedShown = 3

// Render produces the todo-list fragment for a set of goals: in-progress
// first (marked), then pending, then at most the three most recently
// completed. Children are nested beneath their top-level parent.
func Render(all []*Goal) string {
	if len(all) == 0 {
		return ""
	}

	byParent := make(map[string][]*Goal)
	byID := make(map[string]*Goal, len(all))
	for _, g := range all {
		byID[g.ID] = g
	}
	var roots []*Goal
	for _, g := range all {
		if g.ParentID != "" && byID[g.ParentID] != nil {
			byParent[g.ParentID] = append(byParent[g.ParentID], g)
		} else {
			roots = append(roots, g)
		}
	}

	inProgress := filterStatus(roots, StatusInProgress)
	pending := filterStatus(roots, StatusPending)
	completed := filterStatus(roots, StatusCompleted)

	sortActive(inProgress)
	sortActive(pending)
	sort.Slice(completed, func(i, j int) bool {
		ti, tj := completed[i].CompletedAt, completed[j].CompletedAt
		if ti == nil || tj == nil {
			return tj == nil
		}
		return ti.After(*tj)
	})
	if len(completed) > maxCompletedShown {
		completed = completed[:maxCompletedShown]
	}

	var b strings.Builder
	b.WriteString("## Goals\n")
	for _, g := range inProgress {
		writeGoal(&b, g, byParent, 0, true)
	}
	for _, g := range pending {
		writeGoal(&b, g, byParent, 0, false)
	}
	for _, g := range completed {
		b.WriteString("- [x] " + g.Text + "\n")
	}
	return b.String()
}

// RenderActive renders only in-progress and pending goals, capped at max
// entries. Used when the full render exceeds its token budget.
func RenderActive(all []*Goal, max int) string {
	var active []*Goal
	for _, g := range all {
		if g.Status == StatusInProgress || g.Status == StatusPending {
			active = append(active, g)
		}
	}
	sortActive(active)
	// In-progress goals outrank pending at equal priority.
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Status == StatusInProgress && active[j].Status != StatusInProgress
	})
	if len(active) > max {
		active = active[:max]
	}
	if len(active) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Goals\n")
	for _, g := range active {
		writeGoal(&b, g, nil, 0, g.Status == StatusInProgress)
	}
	return b.String()
}

func writeGoal(b *strings.Builder, g *Goal, byParent map[string][]*Goal, depth int, marked bool) {
	b.WriteString(strings.Repeat("  ", depth))
	switch {
	case marked:
		b.WriteString("- [ ] **" + g.Text + "** (in progress)\n")
	case g.Status == StatusCompleted:
		b.WriteString("- [x] " + g.Text + "\n")
	default:
		b.WriteString("- [ ] " + g.Text + "\n")
	}
	if byParent == nil {
		return
	}
	children := append([]*Goal(nil), byParent[g.ID]...)
	sortActive(children)
	for _, child := range children {
		if child.Status == StatusCancelled {
			continue
		}
		writeGoal(b, child, byParent, depth+1, child.Status == StatusInProgress)
	}
}

func filterStatus(in []*Goal, status Status) []*Goal {
	var out []*Goal
	for _, g := range in {
		if g.Status == status {
			out = append(out, g)
		}
	}
	return out
}

func sortActive(gs []*Goal) {
	sort.Slice(gs, func(i, j int) bool {
		if gs[i].Priority != gs[j].Priority {
			return gs[i].Priority > gs[j].Priority
		}
		return gs[i].CreatedAt.Before(gs[j].CreatedAt)
	})
}
