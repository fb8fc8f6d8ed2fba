package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxforge-dev/ctxforge/pkg/store"
)

func newTestLog(t *testing.T, sessionIDs ...string) *Log {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, id := range sessionIDs {
		_, err := db.SQL().Exec(
			`INSERT INTO sessions (id, user_id, status, created_at_ms, expires_at_ms, last_activity_ms)
			 VALUES (?, 'u1', 'active', 0, 0, 0)`, id)
		require.NoError(t, err)
	}
	return New(db)
}

func textPayload(s string) json.RawMessage {
	p, _ := json.Marshal(map[string]string{"text": s})
	return p
}

func TestAppendAssignsSequentialNumbers(t *testing.T) {
	log := newTestLog(t, "s1")
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		ev, err := log.Append(ctx, "s1", KindUser, textPayload(fmt.Sprintf("m%d", i)), nil, 1)
		require.NoError(t, err)
		assert.EqualValues(t, i, ev.SequenceNum)
	}
}

func TestAppendUnknownSession(t *testing.T) {
	log := newTestLog(t, "s1")
	_, err := log.Append(context.Background(), "missing", KindUser, nil, nil, 0)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentAppendsStayContiguous(t *testing.T) {
	log := newTestLog(t, "s1")
	ctx := context.Background()

	const writers = 8
	const perWriter = 10

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := log.Append(ctx, "s1", KindUser, textPayload("x"), nil, 1)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	events, total, err := log.Read(ctx, "s1", 0, 0)
	require.NoError(t, err)
	require.Equal(t, writers*perWriter, total)
	for i, ev := range events {
		assert.EqualValues(t, i+1, ev.SequenceNum, "sequence must be contiguous from 1")
	}
}

func TestConcurrentAppendsAcrossManySessions(t *testing.T) {
	// More sessions than lock stripes, so sessions share stripes and
	// every sequence must still come out dense per session.
	const sessions = lockStripes * 2

	ids := make([]string, sessions)
	for i := range ids {
		ids[i] = fmt.Sprintf("s%03d", i)
	}
	log := newTestLog(t, ids...)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				_, err := log.Append(ctx, id, KindUser, textPayload("x"), nil, 1)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		events, total, err := log.Read(ctx, id, 0, 0)
		require.NoError(t, err)
		require.Equal(t, 3, total, "session %s", id)
		for i, ev := range events {
			assert.EqualValues(t, i+1, ev.SequenceNum, "session %s", id)
		}
	}
}

func TestSequencesIndependentPerSession(t *testing.T) {
	log := newTestLog(t, "s1", "s2")
	ctx := context.Background()

	ev1, err := log.Append(ctx, "s1", KindUser, nil, nil, 0)
	require.NoError(t, err)
	ev2, err := log.Append(ctx, "s2", KindUser, nil, nil, 0)
	require.NoError(t, err)

	assert.EqualValues(t, 1, ev1.SequenceNum)
	assert.EqualValues(t, 1, ev2.SequenceNum)
}

func TestReadFiltersByKind(t *testing.T) {
	log := newTestLog(t, "s1")
	ctx := context.Background()

	_, err := log.Append(ctx, "s1", KindUser, textPayload("q"), nil, 1)
	require.NoError(t, err)
	_, err = log.Append(ctx, "s1", KindAction, nil, nil, 1)
	require.NoError(t, err)
	_, err = log.Append(ctx, "s1", KindAssistant, textPayload("a"), nil, 1)
	require.NoError(t, err)

	events, total, err := log.Read(ctx, "s1", 0, 0, KindUser, KindAssistant)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, events, 2)
	assert.Equal(t, KindUser, events[0].Kind)
	assert.Equal(t, KindAssistant, events[1].Kind)
}

func TestReadPagination(t *testing.T) {
	log := newTestLog(t, "s1")
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := log.Append(ctx, "s1", KindUser, nil, nil, 0)
		require.NoError(t, err)
	}

	events, total, err := log.Read(ctx, "s1", 3, 4)
	require.NoError(t, err)
	assert.Equal(t, 10, total)
	require.Len(t, events, 3)
	assert.EqualValues(t, 5, events[0].SequenceNum)
	assert.EqualValues(t, 7, events[2].SequenceNum)
}

func TestRecentReturnsTailInAscendingOrder(t *testing.T) {
	log := newTestLog(t, "s1")
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := log.Append(ctx, "s1", KindUser, nil, nil, 0)
		require.NoError(t, err)
	}

	events, err := log.Recent(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.EqualValues(t, 8, events[0].SequenceNum)
	assert.EqualValues(t, 10, events[2].SequenceNum)
}

func TestSetCachedTokens(t *testing.T) {
	log := newTestLog(t, "s1")
	ctx := context.Background()

	ev, err := log.Append(ctx, "s1", KindUser, nil, nil, 12)
	require.NoError(t, err)
	require.NoError(t, log.SetCachedTokens(ctx, ev.ID, 8))

	events, _, err := log.Read(ctx, "s1", 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 8, events[0].CachedTokenCount)

	assert.ErrorIs(t, log.SetCachedTokens(ctx, "missing", 1), store.ErrNotFound)
}
