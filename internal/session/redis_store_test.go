package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, ""), mr
}

func TestSessionHashRoundTrip(t *testing.T) {
	created := time.UnixMilli(1714564800123)
	in := &Session{
		UserID:        "77",
		Step:          StepScreenshot,
		ClaimedHandle: "jane_doe",
		AttemptCount:  2,
		CreatedAt:     created,
		UpdatedAt:     created.Add(90 * time.Second),
	}

	fields := make(map[string]string)
	for k, v := range sessionToHash(in) {
		fields[k] = fmt.Sprint(v)
	}

	out, err := sessionFromHash("77", fields)
	require.NoError(t, err)
	assert.Equal(t, in.Step, out.Step)
	assert.Equal(t, in.ClaimedHandle, out.ClaimedHandle)
	assert.Equal(t, in.AttemptCount, out.AttemptCount)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.True(t, in.UpdatedAt.Equal(out.UpdatedAt))
}

func TestSessionFromHashRejectsBadFields(t *testing.T) {
	_, err := sessionFromHash("1", map[string]string{"step": "limbo"})
	assert.Error(t, err)

	_, err = sessionFromHash("1", map[string]string{"step": "done", "created_at": "yesterday"})
	assert.Error(t, err)
}

func TestRedisStoreKeyPrefix(t *testing.T) {
	assert.Equal(t, "verification:session:9", NewRedisStore(nil, "").key("9"))
	assert.Equal(t, "x:9", NewRedisStore(nil, "x:").key("9"))
}

func TestRedisStoreGetSetDelete(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1714564800000)

	_, ok, err := store.Get(ctx, "42")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, &Session{
		UserID: "42", Step: StepScreenshot, ClaimedHandle: "janedoe",
		AttemptCount: 1, CreatedAt: now, UpdatedAt: now,
	}))
	assert.True(t, mr.Exists("verification:session:42"))

	// a replaced session must not keep fields of the old one
	require.NoError(t, store.Set(ctx, &Session{UserID: "42", Step: StepUsername, CreatedAt: now, UpdatedAt: now}))

	s, ok, err := store.Get(ctx, "42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StepUsername, s.Step)
	assert.Empty(t, s.ClaimedHandle)
	assert.Zero(t, s.AttemptCount)
	assert.True(t, now.Equal(s.CreatedAt))

	require.NoError(t, store.Delete(ctx, "42"))
	_, ok, err = store.Get(ctx, "42")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, store.Delete(ctx, "42"))
}

func TestRedisStoreSweepExpired(t *testing.T) {
	store, mr := newTestRedisStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1714564800000)

	// enough keys to need several SCAN pages
	for i := 0; i < 250; i++ {
		created := now.Add(-time.Hour)
		if i%2 == 0 {
			created = now.Add(-time.Minute)
		}
		require.NoError(t, store.Set(ctx, &Session{
			UserID: fmt.Sprint(i), Step: StepFollowCheck, ClaimedHandle: "h",
			CreatedAt: created, UpdatedAt: created,
		}))
	}
	require.NoError(t, mr.Set("other:key", "untouched"))

	removed, err := store.SweepExpired(ctx, now, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 125, removed)

	_, ok, err := store.Get(ctx, "0")
	require.NoError(t, err)
	assert.True(t, ok, "fresh session survives")
	_, ok, err = store.Get(ctx, "1")
	require.NoError(t, err)
	assert.False(t, ok, "expired session is removed")
	assert.True(t, mr.Exists("other:key"))
}

func TestSweepScriptKeepsRecreatedSession(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()
	now := time.UnixMilli(1714564800000)
	stale := now.Add(-time.Hour)

	require.NoError(t, store.Set(ctx, &Session{UserID: "42", Step: StepScreenshot, ClaimedHandle: "janedoe", CreatedAt: stale, UpdatedAt: stale}))
	keys, _, err := store.client.Scan(ctx, 0, store.prefix+"*", 100).Result()
	require.NoError(t, err)
	require.Equal(t, []string{"verification:session:42"}, keys)

	// user restarts after the scan saw the stale session
	require.NoError(t, store.Set(ctx, &Session{UserID: "42", Step: StepUsername, CreatedAt: now, UpdatedAt: now}))

	cutoff := now.Add(-10 * time.Minute).UnixMilli()
	n, err := sweepScript.Run(ctx, store.client, keys, cutoff).Int()
	require.NoError(t, err)
	assert.Zero(t, n)

	s, ok, err := store.Get(ctx, "42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StepUsername, s.Step)
}

func TestSweepScriptIgnoresVanishedKey(t *testing.T) {
	store, _ := newTestRedisStore(t)
	ctx := context.Background()

	n, err := sweepScript.Run(ctx, store.client, []string{store.key("gone")}, time.Now().UnixMilli()).Int()
	require.NoError(t, err)
	assert.Zero(t, n)
}
