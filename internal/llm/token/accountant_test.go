package token

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxforge-dev/ctxforge/pkg/store"
)

func newTestAccountant(t *testing.T) (*Accountant, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.SQL().Exec(
		`INSERT INTO sessions (id, user_id, status, created_at_ms, expires_at_ms, last_activity_ms)
		 VALUES ('s1', 'u1', 'active', 0, 0, 0)`)
	require.NoError(t, err)

	return NewAccountant(db, NewPriceTable()), db
}

func TestRecordWritesLedgerAndSessionTotals(t *testing.T) {
	a, db := newTestAccountant(t)
	ctx := context.Background()

	rec, err := a.Record(ctx, "s1", "u1", "gpt-4o", "executor", 1000, 500, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.InDelta(t, float64(1000)/1_000_000*2.5+float64(500)/1_000_000*10.0, rec.Cost, 1e-12)

	var in, out, cached int64
	var cost float64
	require.NoError(t, db.SQL().QueryRow(
		`SELECT input_tokens, output_tokens, cached_tokens, total_cost FROM sessions WHERE id = 's1'`).
		Scan(&in, &out, &cached, &cost))
	assert.EqualValues(t, 1000, in)
	assert.EqualValues(t, 500, out)
	assert.Zero(t, cached)
	assert.InDelta(t, rec.Cost, cost, 1e-12)
}

func TestRecordAccumulates(t *testing.T) {
	a, _ := newTestAccountant(t)
	ctx := context.Background()

	_, err := a.Record(ctx, "s1", "u1", "gpt-4o", "executor", 100, 50, 0)
	require.NoError(t, err)
	_, err = a.Record(ctx, "s1", "u1", "gpt-4o", "executor", 200, 100, 40)
	require.NoError(t, err)

	sum, err := a.SessionUsage(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Calls)
	assert.Equal(t, 300, sum.InputTokens)
	assert.Equal(t, 150, sum.OutputTokens)
	assert.Equal(t, 40, sum.CachedTokens)
	assert.Positive(t, sum.TotalCost)
}

func TestRecordUnknownSession(t *testing.T) {
	a, _ := newTestAccountant(t)
	_, err := a.Record(context.Background(), "nope", "u1", "gpt-4o", "executor", 1, 1, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecordUnknownSessionLeavesNoLedgerRow(t *testing.T) {
	a, db := newTestAccountant(t)
	_, _ = a.Record(context.Background(), "nope", "u1", "gpt-4o", "executor", 1, 1, 0)

	var count int
	require.NoError(t, db.SQL().QueryRow(`SELECT COUNT(*) FROM token_usage`).Scan(&count))
	assert.Zero(t, count, "failed record must roll back the ledger insert")
}

func TestUserUsageSpansSessions(t *testing.T) {
	a, db := newTestAccountant(t)
	ctx := context.Background()

	_, err := db.SQL().Exec(
		`INSERT INTO sessions (id, user_id, status, created_at_ms, expires_at_ms, last_activity_ms)
		 VALUES ('s2', 'u1', 'active', 0, 0, 0)`)
	require.NoError(t, err)

	_, err = a.Record(ctx, "s1", "u1", "gpt-4o-mini", "classifier", 10, 5, 0)
	require.NoError(t, err)
	_, err = a.Record(ctx, "s2", "u1", "gpt-4o-mini", "classifier", 20, 10, 0)
	require.NoError(t, err)

	sum, err := a.UserUsage(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Calls)
	assert.Equal(t, 30, sum.InputTokens)
}
