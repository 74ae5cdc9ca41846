package storage

import (
	"strings"
	"time"
)

// ReviewStatus is the lifecycle state of a pending review
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Valid reports whether s is a known status
func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewPending, ReviewApproved, ReviewRejected:
		return true
	}
	return false
}

// VerifiedUser is a user whose follow has been confirmed
type VerifiedUser struct {
	UserID      string
	DisplayName string
	Handle      string
	Method      string // "auto" or the deciding operator
	VerifiedAt  time.Time
}

// PendingReview is an escalated screenshot waiting for an operator
type PendingReview struct {
	ID            string
	UserID        string
	DisplayName   string
	ClaimedHandle string

	Action       string
	Reason       string
	FollowState  string
	Confidence   int
	ErrorMessage string
	Landmarks    []string

	FileID             string
	ImageURL           string
	OperatorMessageRef string

	Status     ReviewStatus
	ResolvedBy string
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// IsPending reports whether an operator still has to decide
func (r *PendingReview) IsPending() bool {
	return r.Status == ReviewPending
}

// NormalizeHandle strips one leading '@' and lowercases for lookups
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}
