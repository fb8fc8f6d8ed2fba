package goals

import (
	"regexp"
	"strings"
)

// Candidate is a goal suggestion extracted from free-form agent output.
// Extraction is best-effort and may both over- and under-generate; callers
// must treat candidates as suggestions, never as ground truth.
type Candidate struct {
	Text string
}

var (
	bulletRe = regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)])\s+(.+)$`)
	intentRe = regexp.MustCompile(`(?i)^(?:i(?:'| wi)ll|let(?:'s| us)|next,?|we (?:should|need to|will)|todo:?)\s+(.+)$`)
)

// ParseCandidates scans text for imperative or future-intent phrasing and
// bulleted/numbered action items, deduplicating case-insensitively.
func ParseCandidates(text string) []Candidate {
	seen := make(map[string]bool)
	var out []Candidate
	add := func(s string) {
		s = strings.TrimSpace(strings.TrimRight(s, ".!"))
		if len(s) < 8 || len(s) > 200 {
			return
		}
		key := strings.ToLower(s)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, Candidate{Text: s})
	}

	for _, m := range bulletRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}
	for _, line := range strings.Split(text, "\n") {
		if m := intentRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			add(m[1])
		}
	}
	return out
}

// MatchCandidates returns the goals whose text appears, case-insensitively,
// as a literal substring of reply. This is a coarse completion heuristic:
// it false-positives on recurring goal text and false-negatives on
// paraphrased completions. Callers decide whether to act on the matches.
func MatchCandidates(active []*Goal, reply string) []*Goal {
	lower := strings.ToLower(reply)
	var matched []*Goal
	for _, g := range active {
		if g.Text == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(g.Text)) {
			matched = append(matched, g)
		}
	}
	return matched
}
