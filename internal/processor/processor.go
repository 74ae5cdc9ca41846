/**
 * Verification Processor for the Follow Verification Worker
 *
 * Applies inbound chat events to the verification flow:
 * - Text messages drive the session steps (handle, follow acknowledgment)
 * - Screenshots are recognized, classified and auto-accepted or escalated
 * - Operator decisions resolve escalated cases
 *
 * All side effects go through injected collaborators.
 */

package processor

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adverant/nexus/followverify-worker/internal/clients"
	"github.com/adverant/nexus/followverify-worker/internal/errors"
	"github.com/adverant/nexus/followverify-worker/internal/layout"
	"github.com/adverant/nexus/followverify-worker/internal/logging"
	"github.com/adverant/nexus/followverify-worker/internal/ocr"
	"github.com/adverant/nexus/followverify-worker/internal/session"
	"github.com/adverant/nexus/followverify-worker/internal/storage"
)

const (
	controlApprove = "approve"
	controlReject  = "reject"

	DefaultRecognitionTimeout = 60 * time.Second
)

// Persistence stores verification outcomes
type Persistence interface {
	RecordVerifiedUser(ctx context.Context, user *storage.VerifiedUser) error
	IsVerified(ctx context.Context, userID string) (bool, error)
	SavePendingReview(ctx context.Context, review *storage.PendingReview) error
	AttachOperatorMessage(ctx context.Context, reviewID, ref string) error
	GetPendingReview(ctx context.Context, reviewID string) (*storage.PendingReview, error)
	FindPendingByHandle(ctx context.Context, handle string) (*storage.PendingReview, error)
	ResolvePendingReview(ctx context.Context, reviewID string, status storage.ReviewStatus, operatorID string) error
	ApprovePendingReview(ctx context.Context, reviewID, operatorID string, user *storage.VerifiedUser) error
}

// Notifier delivers chat messages
type Notifier interface {
	SendToUser(ctx context.Context, userID string, text string) error
	SendToOperatorChannel(ctx context.Context, msg *clients.OperatorMessage) (string, error)
	EditOperatorMessage(ctx context.Context, ref string, text string) error
}

// EventPublisher broadcasts decisions to other services
type EventPublisher interface {
	PublishDecision(ctx context.Context, event *DecisionEvent) error
}

// DecisionEvent is published for every automatic or operator decision
type DecisionEvent struct {
	Type        string    `json:"type"`
	UserID      string    `json:"userId"`
	Handle      string    `json:"handle"`
	CaseID      string    `json:"caseId,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	FollowState string    `json:"followState,omitempty"`
	Confidence  int       `json:"confidence"`
	OperatorID  string    `json:"operatorId,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Message is an inbound text message from a user
type Message struct {
	UserID      string
	DisplayName string
	Text        string
}

// Photo is an inbound screenshot from a user
type Photo struct {
	UserID      string
	DisplayName string
	Evidence    *ocr.Evidence
}

// OperatorAction is a button press or text reply in the operator channel
type OperatorAction struct {
	OperatorID   string
	CallbackData string
	Text         string
	MessageRef   string
}

// Config holds processor configuration
type Config struct {
	TargetHandle       string
	RecognitionTimeout time.Duration
	PhotoRateInterval  time.Duration
	PhotoRateBurst     int

	Machine     *session.Machine
	Recognizer  ocr.Recognizer
	Persistence Persistence
	Notifier    Notifier
	Events      EventPublisher     // optional
	Classifier  *layout.Classifier // optional, defaults to a logging classifier
}

// Processor runs the verification flow
type Processor struct {
	targetHandle       string
	recognitionTimeout time.Duration

	machine     *session.Machine
	recognizer  ocr.Recognizer
	persistence Persistence
	notifier    Notifier
	events      EventPublisher
	classifier  *layout.Classifier

	locks   *userLocks
	limiter *userLimiter
	now     func() time.Time
	logger  *logging.Logger
}

// NewProcessor creates a new verification processor
func NewProcessor(cfg *Config) (*Processor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	target := strings.TrimPrefix(strings.TrimSpace(cfg.TargetHandle), "@")
	if target == "" {
		return nil, fmt.Errorf("target handle is required")
	}
	if cfg.Machine == nil {
		return nil, fmt.Errorf("session machine is required")
	}
	if cfg.Recognizer == nil {
		return nil, fmt.Errorf("recognizer is required")
	}
	if cfg.Persistence == nil {
		return nil, fmt.Errorf("persistence is required")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}

	timeout := cfg.RecognitionTimeout
	if timeout <= 0 {
		timeout = DefaultRecognitionTimeout
	}

	classifier := cfg.Classifier
	if classifier == nil {
		classifier = layout.NewClassifier(logging.NewLogger("Classifier"))
	}

	return &Processor{
		targetHandle:       target,
		recognitionTimeout: timeout,
		machine:            cfg.Machine,
		recognizer:         cfg.Recognizer,
		persistence:        cfg.Persistence,
		notifier:           cfg.Notifier,
		events:             cfg.Events,
		classifier:         classifier,
		locks:              newUserLocks(),
		limiter:            newUserLimiter(cfg.PhotoRateInterval, cfg.PhotoRateBurst),
		now:                time.Now,
		logger:             logging.NewLogger("VerificationProcessor"),
	}, nil
}

// HandleMessage applies a text message to the user's session
func (p *Processor) HandleMessage(ctx context.Context, msg *Message) error {
	if msg == nil || msg.UserID == "" {
		return fmt.Errorf("user ID is required")
	}

	unlock := p.locks.lock(msg.UserID)
	defer unlock()

	userID := msg.UserID
	text := strings.TrimSpace(msg.Text)

	switch strings.ToLower(text) {
	case "/start":
		return p.start(ctx, userID)
	case "/cancel":
		if err := p.machine.Cancel(ctx, userID); err != nil {
			return err
		}
		p.notifyUser(ctx, userID, msgCancelled)
		return nil
	}

	s, created, err := p.machine.Current(ctx, userID)
	if err != nil {
		return err
	}
	if created {
		p.notifyUser(ctx, userID, msgAskHandle)
		return nil
	}

	switch s.Step {
	case session.StepUsername:
		if _, err := p.machine.SubmitHandle(ctx, userID, text); err != nil {
			if errors.HasCode(err, errors.ErrorInvalidHandle) {
				p.logger.Info("Rejected handle", "user", userID, "length", len(text))
				p.notifyUser(ctx, userID, msgInvalidHandle)
				return nil
			}
			return err
		}
		p.notifyUser(ctx, userID, followInstructions(p.targetHandle))

	case session.StepFollowCheck:
		if !isFollowAck(text) {
			p.notifyUser(ctx, userID, followReminder(p.targetHandle))
			return nil
		}
		if _, err := p.machine.ConfirmFollow(ctx, userID); err != nil {
			return err
		}
		p.notifyUser(ctx, userID, msgAskScreenshot)

	case session.StepScreenshot:
		p.notifyUser(ctx, userID, msgScreenshotReminder)

	case session.StepDone:
		p.notifyUser(ctx, userID, msgAwaitingReview)
	}

	return nil
}

func (p *Processor) start(ctx context.Context, userID string) error {
	verified, err := p.persistence.IsVerified(ctx, userID)
	if err != nil {
		p.logger.Warn("Failed to check verification status", "user", userID, "error", err)
	}
	if verified {
		p.notifyUser(ctx, userID, msgAlreadyVerified)
		return nil
	}

	if _, err := p.machine.Start(ctx, userID); err != nil {
		return err
	}
	p.notifyUser(ctx, userID, msgAskHandle)
	return nil
}

// HandlePhoto runs a screenshot through recognition and the decision rules.
// It returns nil when the photo arrived outside the screenshot step or was
// rate limited.
func (p *Processor) HandlePhoto(ctx context.Context, photo *Photo) (*Decision, error) {
	if photo == nil || photo.UserID == "" {
		return nil, fmt.Errorf("user ID is required")
	}

	unlock := p.locks.lock(photo.UserID)
	defer unlock()

	userID := photo.UserID

	s, created, err := p.machine.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if created {
		p.notifyUser(ctx, userID, msgAskHandle)
		return nil, nil
	}

	switch s.Step {
	case session.StepUsername:
		p.notifyUser(ctx, userID, msgNeedHandleFirst)
		return nil, nil
	case session.StepFollowCheck:
		p.notifyUser(ctx, userID, followReminder(p.targetHandle))
		return nil, nil
	case session.StepDone:
		p.notifyUser(ctx, userID, msgAwaitingReview)
		return nil, nil
	}

	if !p.limiter.allow(userID, p.now()) {
		p.logger.Warn("Screenshot rate limited", "user", userID)
		p.notifyUser(ctx, userID, msgSlowDown)
		return nil, nil
	}

	s, err = p.machine.BeginAttempt(ctx, userID)
	if err != nil {
		return nil, err
	}

	decision := p.evaluate(ctx, s, photo.Evidence)

	if decision.Action == ActionAutoAccept {
		err := p.accept(ctx, s, photo, decision)
		if err == nil {
			return decision, nil
		}
		p.logger.Error("Failed to record auto-accept, escalating instead", "user", userID, "error", err)
		decision = ErrorDecision(s, err)
	}

	if err := p.escalate(ctx, s, photo, decision); err != nil {
		return decision, err
	}
	return decision, nil
}

// evaluate recognizes the screenshot under the recognition timeout and
// decides. Recognition failures become error escalations.
func (p *Processor) evaluate(ctx context.Context, s *session.Session, evidence *ocr.Evidence) *Decision {
	rctx, cancel := context.WithTimeout(ctx, p.recognitionTimeout)
	defer cancel()

	startTime := time.Now()
	result, err := p.recognizer.Recognize(rctx, evidence)
	if err == nil && result == nil {
		err = fmt.Errorf("recognizer returned no result")
	}
	if err != nil {
		verr := p.classifyRecognitionError(s.UserID, err)
		p.logger.Error("Screenshot recognition failed",
			"user", s.UserID, "attempt", s.AttemptCount, "duration", time.Since(startTime), "error", verr)
		return ErrorDecision(s, verr)
	}

	d := decide(p.classifier, s, result.Words, result.Dimensions, result.Text, p.targetHandle)
	p.logger.Info("Screenshot classified",
		"user", s.UserID,
		"attempt", s.AttemptCount,
		"action", d.Action,
		"reason", d.Reason,
		"followState", d.FollowState,
		"confidence", d.Verdict.Confidence,
		"handlePresent", d.HandlePresent,
		"words", len(result.Words),
		"engine", result.Engine,
		"duration", result.Duration,
	)
	return d
}

func (p *Processor) classifyRecognitionError(userID string, err error) *errors.VerificationError {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewRecognitionTimeoutError(userID, p.recognitionTimeout, err)
	case stderrors.Is(err, ocr.ErrEvidenceUnavailable):
		return errors.NewEvidenceUnavailableError(userID, err)
	default:
		return errors.NewRecognitionFailedError(userID, "ocr", err)
	}
}

func (p *Processor) accept(ctx context.Context, s *session.Session, photo *Photo, d *Decision) error {
	err := p.persistence.RecordVerifiedUser(ctx, &storage.VerifiedUser{
		UserID:      s.UserID,
		DisplayName: photo.DisplayName,
		Handle:      s.ClaimedHandle,
		Method:      "auto",
	})
	if err != nil {
		return errors.NewStorageFailedError(s.UserID, err)
	}

	if err := p.machine.Complete(ctx, s.UserID); err != nil {
		p.logger.Warn("Failed to remove completed session", "user", s.UserID, "error", err)
	}

	p.notifyUser(ctx, s.UserID, msgVerified)
	if _, err := p.notifier.SendToOperatorChannel(ctx, &clients.OperatorMessage{Text: autoAcceptCard(d, photo.DisplayName)}); err != nil {
		p.logger.Warn("Failed to notify operators of auto-accept", "user", s.UserID, "error", err)
	}

	p.publish(ctx, &DecisionEvent{
		Type:        string(ActionAutoAccept),
		UserID:      s.UserID,
		Handle:      s.ClaimedHandle,
		Reason:      d.Reason,
		FollowState: string(d.FollowState),
		Confidence:  d.Verdict.Confidence,
	})
	return nil
}

func (p *Processor) escalate(ctx context.Context, s *session.Session, photo *Photo, d *Decision) error {
	review := &storage.PendingReview{
		ID:            uuid.NewString(),
		UserID:        s.UserID,
		DisplayName:   photo.DisplayName,
		ClaimedHandle: s.ClaimedHandle,
		Action:        string(d.Action),
		Reason:        d.Reason,
		FollowState:   string(d.FollowState),
		ErrorMessage:  d.Error,
		Status:        storage.ReviewPending,
	}
	if d.Verdict != nil {
		review.Confidence = d.Verdict.Confidence
		review.Landmarks = d.Verdict.Landmarks.Found()
	}
	if photo.Evidence != nil {
		review.FileID = photo.Evidence.FileID
		review.ImageURL = photo.Evidence.URL
	}

	if err := p.persistence.SavePendingReview(ctx, review); err != nil {
		return errors.NewStorageFailedError(s.UserID, err)
	}

	ref, err := p.notifier.SendToOperatorChannel(ctx, &clients.OperatorMessage{
		Text:           reviewCard(review, s.AttemptCount),
		FileID:         review.FileID,
		ImageURL:       review.ImageURL,
		Controls:       reviewControls(review.ID),
		IdempotencyKey: review.ID,
	})
	if err != nil {
		p.logger.Error("Failed to send review to operators", "user", s.UserID, "case", review.ID, "error", err)
	} else if ref != "" {
		if err := p.persistence.AttachOperatorMessage(ctx, review.ID, ref); err != nil {
			p.logger.Warn("Failed to store operator message reference", "case", review.ID, "error", err)
		}
	}

	if _, err := p.machine.Escalate(ctx, s.UserID); err != nil {
		return err
	}

	if d.Action == ActionErrorEscalate {
		p.notifyUser(ctx, s.UserID, msgErrorReview)
	} else {
		p.notifyUser(ctx, s.UserID, msgPendingReview)
	}

	confidence := 0
	if d.Verdict != nil {
		confidence = d.Verdict.Confidence
	}
	p.publish(ctx, &DecisionEvent{
		Type:        string(d.Action),
		UserID:      s.UserID,
		Handle:      s.ClaimedHandle,
		CaseID:      review.ID,
		Reason:      d.Reason,
		FollowState: string(d.FollowState),
		Confidence:  confidence,
	})

	p.logger.Info("Screenshot escalated", "user", s.UserID, "case", review.ID, "action", d.Action)
	return nil
}

// operatorCommand is a parsed operator action
type operatorCommand struct {
	approve bool
	caseID  string
	handle  string
}

// parseOperatorAction accepts "approve:<case>"/"reject:<case>" button data
// and "yes <handle>"/"no <handle>" replies.
func parseOperatorAction(action *OperatorAction) (operatorCommand, bool) {
	if data := strings.TrimSpace(action.CallbackData); data != "" {
		verb, caseID, ok := strings.Cut(data, ":")
		if !ok || caseID == "" {
			return operatorCommand{}, false
		}
		switch verb {
		case controlApprove:
			return operatorCommand{approve: true, caseID: caseID}, true
		case controlReject:
			return operatorCommand{approve: false, caseID: caseID}, true
		}
		return operatorCommand{}, false
	}

	fields := strings.Fields(action.Text)
	if len(fields) != 2 {
		return operatorCommand{}, false
	}
	handle := strings.TrimPrefix(fields[1], "@")
	if handle == "" {
		return operatorCommand{}, false
	}
	switch strings.ToLower(fields[0]) {
	case "yes", controlApprove:
		return operatorCommand{approve: true, handle: handle}, true
	case "no", controlReject:
		return operatorCommand{approve: false, handle: handle}, true
	}
	return operatorCommand{}, false
}

// HandleOperatorDecision resolves an escalated case. Unknown, malformed or
// already resolved cases are ignored.
func (p *Processor) HandleOperatorDecision(ctx context.Context, action *OperatorAction) error {
	if action == nil {
		return fmt.Errorf("operator action is required")
	}

	cmd, ok := parseOperatorAction(action)
	if !ok {
		p.logger.Debug("Ignoring operator message", "operator", action.OperatorID)
		return nil
	}

	review, err := p.lookupReview(ctx, cmd)
	if err != nil {
		if errors.HasCode(err, errors.ErrorCaseNotFound) {
			p.logger.Warn("Operator decision for unknown case", "operator", action.OperatorID, "case", cmd.caseID, "handle", cmd.handle)
			return nil
		}
		return err
	}
	if !review.IsPending() {
		p.logger.Info("Case already resolved", "case", review.ID, "status", review.Status)
		return nil
	}

	unlock := p.locks.lock(review.UserID)
	defer unlock()

	// another decision may have landed while waiting for the lock
	review, err = p.persistence.GetPendingReview(ctx, review.ID)
	if err != nil {
		return err
	}
	if !review.IsPending() {
		p.logger.Info("Case resolved concurrently", "case", review.ID, "status", review.Status)
		return nil
	}

	status := storage.ReviewRejected
	if cmd.approve {
		status = storage.ReviewApproved
		err = p.persistence.ApprovePendingReview(ctx, review.ID, action.OperatorID, &storage.VerifiedUser{
			UserID:      review.UserID,
			DisplayName: review.DisplayName,
			Handle:      review.ClaimedHandle,
			Method:      "operator:" + action.OperatorID,
		})
	} else {
		err = p.persistence.ResolvePendingReview(ctx, review.ID, status, action.OperatorID)
	}
	if err != nil {
		if errors.HasCode(err, errors.ErrorCaseNotFound) {
			p.logger.Info("Case resolved concurrently", "case", review.ID)
			return nil
		}
		return errors.NewStorageFailedError(review.UserID, err)
	}

	p.endReviewSession(ctx, review.UserID)

	if cmd.approve {
		p.notifyUser(ctx, review.UserID, msgApproved)
	} else {
		p.notifyUser(ctx, review.UserID, msgRejected)
	}

	ref := review.OperatorMessageRef
	if ref == "" {
		ref = action.MessageRef
	}
	if ref != "" {
		if err := p.notifier.EditOperatorMessage(ctx, ref, resolvedCard(review, status, action.OperatorID)); err != nil {
			p.logger.Warn("Failed to update review message", "case", review.ID, "error", err)
		}
	}

	p.publish(ctx, &DecisionEvent{
		Type:        string(status),
		UserID:      review.UserID,
		Handle:      review.ClaimedHandle,
		CaseID:      review.ID,
		Reason:      review.Reason,
		FollowState: review.FollowState,
		Confidence:  review.Confidence,
		OperatorID:  action.OperatorID,
	})

	p.logger.Info("Case resolved", "case", review.ID, "user", review.UserID, "status", status, "operator", action.OperatorID)
	return nil
}

func (p *Processor) lookupReview(ctx context.Context, cmd operatorCommand) (*storage.PendingReview, error) {
	if cmd.caseID != "" {
		if _, err := uuid.Parse(cmd.caseID); err != nil {
			return nil, errors.NewCaseNotFoundError(cmd.caseID)
		}
		return p.persistence.GetPendingReview(ctx, cmd.caseID)
	}
	return p.persistence.FindPendingByHandle(ctx, cmd.handle)
}

// endReviewSession drops the session parked for review. A session the user
// restarted in the meantime is kept.
func (p *Processor) endReviewSession(ctx context.Context, userID string) {
	s, ok, err := p.machine.Get(ctx, userID)
	if err != nil {
		p.logger.Warn("Failed to load session", "user", userID, "error", err)
		return
	}
	if !ok || s.Step != session.StepDone {
		return
	}
	if err := p.machine.Resolve(ctx, userID); err != nil {
		p.logger.Warn("Failed to remove resolved session", "user", userID, "error", err)
	}
}

func (p *Processor) notifyUser(ctx context.Context, userID, text string) {
	if err := p.notifier.SendToUser(ctx, userID, text); err != nil {
		p.logger.Warn("Failed to notify user", "user", userID, "error", err)
	}
}

func (p *Processor) publish(ctx context.Context, event *DecisionEvent) {
	if p.events == nil {
		return
	}
	event.Timestamp = p.now()
	if err := p.events.PublishDecision(ctx, event); err != nil {
		p.logger.Warn("Failed to publish decision event", "type", event.Type, "user", event.UserID, "error", err)
	}
}
