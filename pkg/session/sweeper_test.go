package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepExpiresAndPurges(t *testing.T) {
	m, db := newTestManager(t)
	ctx := context.Background()

	stale, err := m.Create(ctx, "u1", "", "stale", time.Millisecond)
	require.NoError(t, err)
	_, err = db.SQL().Exec(
		`UPDATE sessions SET expires_at_ms = 1, last_activity_ms = 1 WHERE id = ?`, stale.ID)
	require.NoError(t, err)

	fresh, err := m.Create(ctx, "u1", "", "fresh", time.Hour)
	require.NoError(t, err)

	s := NewSweeper(m, time.Nanosecond)
	require.NoError(t, s.Sweep(ctx))

	_, err = m.Get(ctx, stale.ID, "u1")
	assert.Error(t, err, "stale session should be gone after one sweep")
	_, err = m.Get(ctx, fresh.ID, "u1")
	assert.NoError(t, err)
}

func TestSweeperStartStop(t *testing.T) {
	m, _ := newTestManager(t)

	s := NewSweeper(m, 0)
	require.NoError(t, s.Start("@every 1h"))
	s.Stop()
}

func TestSweeperBadSpec(t *testing.T) {
	m, _ := newTestManager(t)
	s := NewSweeper(m, 0)
	assert.Error(t, s.Start("not a schedule"))
}
