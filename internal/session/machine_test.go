package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/followverify-worker/internal/errors"
)

func newTestMachine(t *testing.T) (*Machine, *MemoryStore, *time.Time) {
	t.Helper()
	store := NewMemoryStore()
	m := NewMachine(store, nil)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })
	return m, store, &now
}

func TestParseHandle(t *testing.T) {
	tests := []struct {
		input string
		want  string
		ok    bool
	}{
		{"valid_handle123", "valid_handle123", true},
		{"@janedoe", "janedoe", true},
		{"  jane_doe  ", "jane_doe", true},
		{"a", "a", true},
		{"a very long invalid handle!", "", false},
		{"sixteen_chars_xx", "", false},
		{"", "", false},
		{"@", "", false},
		{"@@jane", "", false},
		{"jane-doe", "", false},
		{"jané", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseHandle(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMachine_CurrentCreatesOnFirstContact(t *testing.T) {
	m, store, now := newTestMachine(t)
	ctx := context.Background()

	s, created, err := m.Current(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StepUsername, s.Step)
	assert.Equal(t, *now, s.CreatedAt)
	assert.Equal(t, 1, store.Len())

	again, created, err := m.Current(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, s, again)
}

func TestMachine_SubmitValidHandle(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()
	_, err := m.Start(ctx, "u1")
	require.NoError(t, err)

	s, err := m.SubmitHandle(ctx, "u1", "valid_handle123")
	require.NoError(t, err)
	assert.Equal(t, StepFollowCheck, s.Step)
	assert.Equal(t, "valid_handle123", s.ClaimedHandle)

	stored, ok, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StepFollowCheck, stored.Step)
}

func TestMachine_SubmitInvalidHandle(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()
	_, err := m.Start(ctx, "u1")
	require.NoError(t, err)

	_, err = m.SubmitHandle(ctx, "u1", "a very long invalid handle!")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrorInvalidHandle))

	stored, _, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StepUsername, stored.Step)
	assert.Empty(t, stored.ClaimedHandle)
}

func TestMachine_FullFlow(t *testing.T) {
	m, store, now := newTestMachine(t)
	ctx := context.Background()

	_, err := m.Start(ctx, "u1")
	require.NoError(t, err)
	_, err = m.SubmitHandle(ctx, "u1", "@jane")
	require.NoError(t, err)

	*now = now.Add(time.Minute)
	s, err := m.ConfirmFollow(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StepScreenshot, s.Step)
	assert.Equal(t, *now, s.UpdatedAt)

	s, err = m.BeginAttempt(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, s.AttemptCount)
	assert.Equal(t, StepScreenshot, s.Step)

	s, err = m.Escalate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StepDone, s.Step)
	assert.Equal(t, "jane", s.ClaimedHandle)

	require.NoError(t, m.Resolve(ctx, "u1"))
	assert.Equal(t, 0, store.Len())
}

func TestMachine_NoStepSkipping(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()
	_, err := m.Start(ctx, "u1")
	require.NoError(t, err)

	_, err = m.ConfirmFollow(ctx, "u1")
	assert.True(t, errors.HasCode(err, errors.ErrorWrongStep))

	_, err = m.BeginAttempt(ctx, "u1")
	assert.True(t, errors.HasCode(err, errors.ErrorWrongStep))

	_, err = m.Escalate(ctx, "u1")
	assert.True(t, errors.HasCode(err, errors.ErrorWrongStep))

	s, _, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StepUsername, s.Step)

	_, err = m.SubmitHandle(ctx, "u1", "jane")
	require.NoError(t, err)
	_, err = m.SubmitHandle(ctx, "u1", "other")
	assert.True(t, errors.HasCode(err, errors.ErrorWrongStep), "handle cannot be changed after follow_check")
}

func TestMachine_InvariantRequiresHandle(t *testing.T) {
	m, store, _ := newTestMachine(t)
	ctx := context.Background()

	// A corrupted session without a handle must not reach screenshot.
	require.NoError(t, store.Set(ctx, &Session{UserID: "u1", Step: StepFollowCheck}))

	_, err := m.ConfirmFollow(ctx, "u1")
	require.Error(t, err)

	s, _, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StepFollowCheck, s.Step)
}

func TestMachine_MissingSession(t *testing.T) {
	m, _, _ := newTestMachine(t)

	_, err := m.SubmitHandle(context.Background(), "ghost", "jane")
	assert.True(t, errors.HasCode(err, errors.ErrorSessionNotFound))
}

func TestMachine_CancelFromAnyStep(t *testing.T) {
	m, store, _ := newTestMachine(t)
	ctx := context.Background()

	for _, step := range []Step{StepUsername, StepFollowCheck, StepScreenshot, StepDone} {
		require.NoError(t, store.Set(ctx, &Session{UserID: "u1", Step: step, ClaimedHandle: "jane"}))
		require.NoError(t, m.Cancel(ctx, "u1"))
		_, ok, err := m.Get(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, ok, "step %s", step)
	}
}

func TestMachine_StartRestarts(t *testing.T) {
	m, _, _ := newTestMachine(t)
	ctx := context.Background()

	_, err := m.Start(ctx, "u1")
	require.NoError(t, err)
	_, err = m.SubmitHandle(ctx, "u1", "jane")
	require.NoError(t, err)

	s, err := m.Start(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, StepUsername, s.Step)
	assert.Empty(t, s.ClaimedHandle)
}
