/**
 * Verification sessions
 *
 * One session per requesting user, walking
 * username -> follow_check -> screenshot -> done.
 * Leaving the flow (accept, cancel, operator decision, idle sweep) deletes it.
 */

package session

import (
	"context"
	"time"
)

// Step is the position of a user in the verification flow
type Step string

const (
	StepUsername    Step = "username"
	StepFollowCheck Step = "follow_check"
	StepScreenshot  Step = "screenshot"
	StepDone        Step = "done"
)

// Valid reports whether s is a known step
func (s Step) Valid() bool {
	switch s {
	case StepUsername, StepFollowCheck, StepScreenshot, StepDone:
		return true
	}
	return false
}

// Session is the in-progress verification state of one user
type Session struct {
	UserID        string
	Step          Step
	ClaimedHandle string
	AttemptCount  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Expired reports whether the session is older than maxAge at now
func (s *Session) Expired(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.CreatedAt) > maxAge
}

// Store holds sessions keyed by user ID. Implementations must make
// SweepExpired consistent with concurrent Set/Delete on the same key.
type Store interface {
	Get(ctx context.Context, userID string) (*Session, bool, error)
	Set(ctx context.Context, s *Session) error
	Delete(ctx context.Context, userID string) error
	SweepExpired(ctx context.Context, now time.Time, maxAge time.Duration) (int, error)
}
