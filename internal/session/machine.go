package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/adverant/nexus/followverify-worker/internal/errors"
	"github.com/adverant/nexus/followverify-worker/internal/logging"
)

var handlePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

// ParseHandle validates a claimed handle. A single leading '@' is accepted
// and stripped.
func ParseHandle(text string) (string, bool) {
	handle := strings.TrimPrefix(strings.TrimSpace(text), "@")
	if !handlePattern.MatchString(handle) {
		return "", false
	}
	return handle, true
}

// Machine applies verification-flow transitions to a Store. It is the only
// writer of sessions.
type Machine struct {
	store  Store
	now    func() time.Time
	logger *logging.Logger
}

// NewMachine creates a state machine over store
func NewMachine(store Store, logger *logging.Logger) *Machine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Machine{store: store, now: time.Now, logger: logger}
}

// SetClock overrides the time source
func (m *Machine) SetClock(now func() time.Time) {
	m.now = now
}

// Get returns the user's session without creating one
func (m *Machine) Get(ctx context.Context, userID string) (*Session, bool, error) {
	return m.store.Get(ctx, userID)
}

// Start creates a fresh session in the username step, replacing any existing one.
func (m *Machine) Start(ctx context.Context, userID string) (*Session, error) {
	now := m.now()
	s := &Session{
		UserID:    userID,
		Step:      StepUsername,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Set(ctx, s); err != nil {
		return nil, err
	}
	m.logger.Info("Session started", "user", userID)
	return s, nil
}

// Current returns the user's session, creating one on first contact.
func (m *Machine) Current(ctx context.Context, userID string) (*Session, bool, error) {
	s, ok, err := m.store.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return s, false, nil
	}
	s, err = m.Start(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// SubmitHandle stores the claimed handle and moves to follow_check.
// Invalid text leaves the session untouched.
func (m *Machine) SubmitHandle(ctx context.Context, userID string, text string) (*Session, error) {
	s, err := m.require(ctx, userID, StepUsername, "SubmitHandle")
	if err != nil {
		return nil, err
	}

	handle, ok := ParseHandle(text)
	if !ok {
		return s, errors.NewInvalidHandleError(userID, text)
	}

	s.ClaimedHandle = handle
	return m.advance(ctx, s, StepFollowCheck)
}

// ConfirmFollow records the user's follow acknowledgment
func (m *Machine) ConfirmFollow(ctx context.Context, userID string) (*Session, error) {
	s, err := m.require(ctx, userID, StepFollowCheck, "ConfirmFollow")
	if err != nil {
		return nil, err
	}
	return m.advance(ctx, s, StepScreenshot)
}

// BeginAttempt counts a screenshot submission. The session stays in screenshot
// until the decision is applied.
func (m *Machine) BeginAttempt(ctx context.Context, userID string) (*Session, error) {
	s, err := m.require(ctx, userID, StepScreenshot, "BeginAttempt")
	if err != nil {
		return nil, err
	}
	s.AttemptCount++
	s.UpdatedAt = m.now()
	if err := m.store.Set(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Escalate parks the session in done until an operator decides.
func (m *Machine) Escalate(ctx context.Context, userID string) (*Session, error) {
	s, err := m.require(ctx, userID, StepScreenshot, "Escalate")
	if err != nil {
		return nil, err
	}
	return m.advance(ctx, s, StepDone)
}

// Complete ends the session after an automatic accept
func (m *Machine) Complete(ctx context.Context, userID string) error {
	return m.remove(ctx, userID, "completed")
}

// Resolve ends the session after an operator decision
func (m *Machine) Resolve(ctx context.Context, userID string) error {
	return m.remove(ctx, userID, "resolved")
}

// Cancel ends the session on user request, whatever its step
func (m *Machine) Cancel(ctx context.Context, userID string) error {
	return m.remove(ctx, userID, "cancelled")
}

func (m *Machine) require(ctx context.Context, userID string, step Step, op string) (*Session, error) {
	s, ok, err := m.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewSessionNotFoundError(userID)
	}
	if s.Step != step {
		return s, errors.NewWrongStepError(userID, string(s.Step), op)
	}
	return s, nil
}

func (m *Machine) advance(ctx context.Context, s *Session, to Step) (*Session, error) {
	if (to == StepScreenshot || to == StepDone) && s.ClaimedHandle == "" {
		return nil, fmt.Errorf("session %s cannot enter %s without a claimed handle", s.UserID, to)
	}

	from := s.Step
	s.Step = to
	s.UpdatedAt = m.now()
	if err := m.store.Set(ctx, s); err != nil {
		return nil, err
	}
	m.logger.Info("Session advanced", "user", s.UserID, "from", from, "to", to)
	return s, nil
}

func (m *Machine) remove(ctx context.Context, userID string, why string) error {
	if err := m.store.Delete(ctx, userID); err != nil {
		return err
	}
	m.logger.Info("Session removed", "user", userID, "reason", why)
	return nil
}
