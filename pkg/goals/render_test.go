package goals

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mkGoal(id, parent, text string, status Status, priority int, created time.Time) *Goal {
	g := &Goal{
		ID:        id,
		SessionID: "s1",
		ParentID:  parent,
		Text:      text,
		Status:    status,
		Priority:  priority,
		CreatedAt: created,
	}
	if status == StatusCompleted {
		done := created.Add(time.Minute)
		g.CompletedAt = &done
	}
	return g
}

func TestRenderOrdering(t *testing.T) {
	base := time.Now()
	out := Render([]*Goal{
		mkGoal("1", "", "pending work item", StatusPending, 1, base),
		mkGoal("2", "", "active work item", StatusInProgress, 1, base),
		mkGoal("3", "", "finished work item", StatusCompleted, 1, base),
	})

	inProg := strings.Index(out, "active work item")
	pending := strings.Index(out, "pending work item")
	done := strings.Index(out, "finished work item")
	assert.True(t, inProg < pending, "in-progress renders before pending")
	assert.True(t, pending < done, "pending renders before completed")
	assert.Contains(t, out, "- [ ] **active work item** (in progress)")
	assert.Contains(t, out, "- [x] finished work item")
}

func TestRenderCapsCompleted(t *testing.T) {
	base := time.Now()
	goals := []*Goal{}
	for i := 0; i < 6; i++ {
		goals = append(goals, mkGoal(
			string(rune('a'+i)), "", "completed item "+string(rune('a'+i)),
			StatusCompleted, 0, base.Add(time.Duration(i)*time.Minute)))
	}
	out := Render(goals)
	assert.Equal(t, maxCompletedShown, strings.Count(out, "- [x]"))
	// The newest completions survive the cap.
	assert.Contains(t, out, "completed item f")
	assert.NotContains(t, out, "completed item a")
}

func TestRenderNestsChildren(t *testing.T) {
	base := time.Now()
	out := Render([]*Goal{
		mkGoal("p", "", "parent goal", StatusPending, 1, base),
		mkGoal("c", "p", "child goal", StatusPending, 1, base),
	})
	assert.Contains(t, out, "- [ ] parent goal\n  - [ ] child goal")
}

func TestRenderSkipsCancelledChildren(t *testing.T) {
	base := time.Now()
	out := Render([]*Goal{
		mkGoal("p", "", "parent goal", StatusPending, 1, base),
		mkGoal("c", "p", "abandoned child", StatusCancelled, 1, base),
	})
	assert.NotContains(t, out, "abandoned child")
}

func TestRenderEmpty(t *testing.T) {
	assert.Empty(t, Render(nil))
}

func TestRenderActiveCapAndPriority(t *testing.T) {
	base := time.Now()
	goals := []*Goal{
		mkGoal("1", "", "low pending item", StatusPending, 1, base),
		mkGoal("2", "", "high pending item", StatusPending, 9, base),
		mkGoal("3", "", "running item", StatusInProgress, 1, base),
		mkGoal("4", "", "finished item", StatusCompleted, 99, base),
	}
	out := RenderActive(goals, 2)
	assert.Contains(t, out, "running item")
	assert.Contains(t, out, "high pending item")
	assert.NotContains(t, out, "low pending item")
	assert.NotContains(t, out, "finished item")
}
