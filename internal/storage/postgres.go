/**
 * PostgreSQL Client for the Follow Verification Worker
 *
 * Persists verified users and escalated screenshots awaiting an operator.
 */

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/adverant/nexus/followverify-worker/internal/errors"
)

const schemaSQL = `
	CREATE SCHEMA IF NOT EXISTS verification;

	CREATE TABLE IF NOT EXISTS verification.verified_users (
		user_id      TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		handle       TEXT NOT NULL,
		method       TEXT NOT NULL,
		verified_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS verification.pending_reviews (
		id                   UUID PRIMARY KEY,
		user_id              TEXT NOT NULL,
		display_name         TEXT NOT NULL DEFAULT '',
		claimed_handle       TEXT NOT NULL,
		action               TEXT NOT NULL,
		reason               TEXT NOT NULL DEFAULT '',
		follow_state         TEXT NOT NULL DEFAULT 'unknown',
		confidence           INTEGER NOT NULL DEFAULT 0,
		error_message        TEXT,
		landmarks            TEXT[] NOT NULL DEFAULT '{}',
		file_id              TEXT,
		image_url            TEXT,
		operator_message_ref TEXT,
		status               TEXT NOT NULL DEFAULT 'pending',
		resolved_by          TEXT,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		resolved_at          TIMESTAMPTZ
	);

	CREATE INDEX IF NOT EXISTS pending_reviews_open_handle_idx
		ON verification.pending_reviews (lower(claimed_handle), created_at DESC)
		WHERE status = 'pending';
`

const reviewColumns = `
	id, user_id, display_name, claimed_handle,
	action, reason, follow_state, confidence, error_message, landmarks,
	file_id, image_url, operator_message_ref,
	status, resolved_by, created_at, resolved_at
`

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// EnsureSchema creates the verification tables when missing
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create verification schema: %w", err)
	}
	return nil
}

// RecordVerifiedUser upserts a verified user. Re-verifying refreshes the
// handle and timestamp.
func (p *PostgresClient) RecordVerifiedUser(ctx context.Context, user *VerifiedUser) error {
	return recordVerifiedUser(ctx, p.db, user)
}

func recordVerifiedUser(ctx context.Context, ex execer, user *VerifiedUser) error {
	if user == nil || user.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if user.Handle == "" {
		return fmt.Errorf("handle is required")
	}

	query := `
		INSERT INTO verification.verified_users (user_id, display_name, handle, method, verified_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			handle = EXCLUDED.handle,
			method = EXCLUDED.method,
			verified_at = EXCLUDED.verified_at
	`

	if _, err := ex.ExecContext(ctx, query, user.UserID, user.DisplayName, user.Handle, user.Method); err != nil {
		return fmt.Errorf("failed to record verified user (user=%s, handle=%s): %w", user.UserID, user.Handle, err)
	}
	return nil
}

// IsVerified reports whether the user has already been verified
func (p *PostgresClient) IsVerified(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM verification.verified_users WHERE user_id = $1)`,
		userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check verified user: %w", err)
	}
	return exists, nil
}

// SavePendingReview inserts a new review case
func (p *PostgresClient) SavePendingReview(ctx context.Context, review *PendingReview) error {
	if review == nil || review.ID == "" {
		return fmt.Errorf("review ID is required")
	}
	if review.Status == "" {
		review.Status = ReviewPending
	}
	if !review.Status.Valid() {
		return fmt.Errorf("invalid review status: %s", review.Status)
	}

	query := `
		INSERT INTO verification.pending_reviews (
			id, user_id, display_name, claimed_handle,
			action, reason, follow_state, confidence, error_message, landmarks,
			file_id, image_url, operator_message_ref, status, created_at
		) VALUES (
			$1::uuid, $2, $3, $4,
			$5, $6, $7, $8, NULLIF($9, ''), $10,
			NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''), $14, NOW()
		)
		RETURNING created_at
	`

	err := p.db.QueryRowContext(ctx, query,
		review.ID,
		review.UserID,
		review.DisplayName,
		review.ClaimedHandle,
		review.Action,
		review.Reason,
		review.FollowState,
		review.Confidence,
		review.ErrorMessage,
		pq.StringArray(nonNil(review.Landmarks)),
		review.FileID,
		review.ImageURL,
		review.OperatorMessageRef,
		string(review.Status),
	).Scan(&review.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save pending review (id=%s, user=%s): %w", review.ID, review.UserID, err)
	}
	return nil
}

// AttachOperatorMessage stores the operator channel message of a review
func (p *PostgresClient) AttachOperatorMessage(ctx context.Context, reviewID, ref string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE verification.pending_reviews SET operator_message_ref = $2 WHERE id = $1::uuid`,
		reviewID, ref,
	)
	if err != nil {
		return fmt.Errorf("failed to attach operator message: %w", err)
	}
	return expectOneRow(res, reviewID)
}

// GetPendingReview loads a review by case ID, whatever its status
func (p *PostgresClient) GetPendingReview(ctx context.Context, reviewID string) (*PendingReview, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM verification.pending_reviews WHERE id = $1::uuid`,
		reviewID,
	)
	review, err := scanReview(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewCaseNotFoundError(reviewID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pending review: %w", err)
	}
	return review, nil
}

// FindPendingByHandle returns the newest open review for a claimed handle
func (p *PostgresClient) FindPendingByHandle(ctx context.Context, handle string) (*PendingReview, error) {
	normalized := NormalizeHandle(handle)
	if normalized == "" {
		return nil, errors.NewCaseNotFoundError(handle)
	}

	row := p.db.QueryRowContext(ctx,
		`SELECT `+reviewColumns+` FROM verification.pending_reviews
		 WHERE lower(claimed_handle) = $1 AND status = 'pending'
		 ORDER BY created_at DESC
		 LIMIT 1`,
		normalized,
	)
	review, err := scanReview(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewCaseNotFoundError(handle)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending review: %w", err)
	}
	return review, nil
}

// ResolvePendingReview closes an open review. Resolving a review that is not
// pending returns a CASE_NOT_FOUND error.
func (p *PostgresClient) ResolvePendingReview(ctx context.Context, reviewID string, status ReviewStatus, operatorID string) error {
	return resolveReview(ctx, p.db, reviewID, status, operatorID)
}

// ApprovePendingReview approves an open review and records the verified user
// in one transaction. A review that is no longer pending returns
// CASE_NOT_FOUND and nothing is written.
func (p *PostgresClient) ApprovePendingReview(ctx context.Context, reviewID, operatorID string, user *VerifiedUser) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin approval (id=%s): %w", reviewID, err)
	}
	defer tx.Rollback()

	if err := approveReview(ctx, tx, reviewID, operatorID, user); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit approval (id=%s): %w", reviewID, err)
	}
	return nil
}

func approveReview(ctx context.Context, ex execer, reviewID, operatorID string, user *VerifiedUser) error {
	if err := resolveReview(ctx, ex, reviewID, ReviewApproved, operatorID); err != nil {
		return err
	}
	return recordVerifiedUser(ctx, ex, user)
}

func resolveReview(ctx context.Context, ex execer, reviewID string, status ReviewStatus, operatorID string) error {
	if status != ReviewApproved && status != ReviewRejected {
		return fmt.Errorf("invalid resolution status: %s", status)
	}

	res, err := ex.ExecContext(ctx,
		`UPDATE verification.pending_reviews
		 SET status = $2, resolved_by = $3, resolved_at = NOW()
		 WHERE id = $1::uuid AND status = 'pending'`,
		reviewID, string(status), operatorID,
	)
	if err != nil {
		return fmt.Errorf("failed to resolve pending review (id=%s): %w", reviewID, err)
	}
	return expectOneRow(res, reviewID)
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReview(row rowScanner) (*PendingReview, error) {
	var (
		r                              PendingReview
		status                         string
		errorMessage, fileID, imageURL sql.NullString
		operatorMessageRef, resolvedBy sql.NullString
		landmarks                      pq.StringArray
		resolvedAt                     sql.NullTime
	)

	err := row.Scan(
		&r.ID, &r.UserID, &r.DisplayName, &r.ClaimedHandle,
		&r.Action, &r.Reason, &r.FollowState, &r.Confidence, &errorMessage, &landmarks,
		&fileID, &imageURL, &operatorMessageRef,
		&status, &resolvedBy, &r.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = ReviewStatus(status)
	r.ErrorMessage = errorMessage.String
	r.Landmarks = []string(landmarks)
	r.FileID = fileID.String
	r.ImageURL = imageURL.String
	r.OperatorMessageRef = operatorMessageRef.String
	r.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		r.ResolvedAt = &t
	}
	return &r, nil
}

func expectOneRow(res sql.Result, reviewID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return errors.NewCaseNotFoundError(reviewID)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
