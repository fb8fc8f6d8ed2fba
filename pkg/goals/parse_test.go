package goals

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCandidatesBullets(t *testing.T) {
	text := "Here is the plan:\n- gather the input files\n* normalize the records\n1. write the summary\n2) send it out for review"
	cands := ParseCandidates(text)
	require.Len(t, cands, 4)
	assert.Equal(t, "gather the input files", cands[0].Text)
	assert.Equal(t, "send it out for review", cands[3].Text)
}

func TestParseCandidatesIntentPhrases(t *testing.T) {
	cands := ParseCandidates("I'll start by indexing the repository")
	require.Len(t, cands, 1)
	assert.Equal(t, "start by indexing the repository", cands[0].Text)

	cands = ParseCandidates("We need to rebuild the cache layer")
	require.Len(t, cands, 1)
	assert.Equal(t, "rebuild the cache layer", cands[0].Text)
}

func TestParseCandidatesDeduplicates(t *testing.T) {
	text := "- Update the changelog\n- update the changelog"
	cands := ParseCandidates(text)
	assert.Len(t, cands, 1)
}

func TestParseCandidatesLengthBounds(t *testing.T) {
	text := "- short\n- this line is comfortably inside the accepted length range"
	cands := ParseCandidates(text)
	require.Len(t, cands, 1)
	assert.Contains(t, cands[0].Text, "comfortably")
}

func TestParseCandidatesTrimsTrailingPunctuation(t *testing.T) {
	cands := ParseCandidates("- finish the migration script.")
	require.Len(t, cands, 1)
	assert.Equal(t, "finish the migration script", cands[0].Text)
}

func TestMatchCandidatesLiteralSubstring(t *testing.T) {
	now := time.Now()
	active := []*Goal{
		mkGoal("1", "", "index the repository", StatusPending, 0, now),
		mkGoal("2", "", "deploy to staging", StatusPending, 0, now),
	}

	matched := MatchCandidates(active, "Done. I went ahead and INDEX THE REPOSITORY as requested.")
	require.Len(t, matched, 1)
	assert.Equal(t, "1", matched[0].ID)

	assert.Empty(t, MatchCandidates(active, "indexing repositories is fun"),
		"matching is literal, not fuzzy")
}
