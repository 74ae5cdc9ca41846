package processor

import (
	"strings"

	"github.com/adverant/nexus/followverify-worker/internal/layout"
	"github.com/adverant/nexus/followverify-worker/internal/session"
)

// Action is the outcome of one screenshot submission
type Action string

const (
	ActionAutoAccept    Action = "auto_accept"
	ActionEscalate      Action = "escalate"
	ActionErrorEscalate Action = "error_escalate"
)

// ReasonOwnerNotFound annotates escalations whose screenshot never mentions
// the account being followed.
const ReasonOwnerNotFound = "Owner username not found"

// Decision is what the orchestrator decided for one screenshot
type Decision struct {
	Action        Action
	UserID        string
	ClaimedHandle string
	Attempt       int

	// Verdict is nil for error_escalate
	Verdict       *layout.Verdict
	HandlePresent bool
	Reason        string
	FollowState   layout.FollowState

	// Error is the raw failure text, for operators only
	Error string
}

// Escalated reports whether a human has to decide
func (d *Decision) Escalated() bool {
	return d.Action != ActionAutoAccept
}

// Decide classifies the recognized screenshot and picks an action. It has no
// side effects.
func Decide(sess *session.Session, words []layout.Word, dims layout.Dimensions, fullText string, targetHandle string) *Decision {
	return decide(layout.NewClassifier(nil), sess, words, dims, fullText, targetHandle)
}

func decide(classifier *layout.Classifier, sess *session.Session, words []layout.Word, dims layout.Dimensions, fullText string, targetHandle string) *Decision {
	verdict := classifier.Classify(words, dims)
	handlePresent := strings.Contains(strings.ToLower(fullText), strings.ToLower(targetHandle))

	d := newDecision(sess)
	d.Verdict = &verdict
	d.HandlePresent = handlePresent
	d.FollowState = verdict.FollowState
	d.Reason = verdict.Reason

	if verdict.IsValid && verdict.FollowState == layout.FollowStateFollowing && handlePresent {
		d.Action = ActionAutoAccept
		return d
	}

	d.Action = ActionEscalate
	if !handlePresent {
		d.Reason = verdict.Reason + "; " + ReasonOwnerNotFound
	}
	return d
}

// ErrorDecision escalates a submission whose recognition or bookkeeping failed
func ErrorDecision(sess *session.Session, err error) *Decision {
	d := newDecision(sess)
	d.Action = ActionErrorEscalate
	d.FollowState = layout.FollowStateUnknown
	d.Reason = "Recognition error"
	if err != nil {
		d.Error = err.Error()
	}
	return d
}

func newDecision(sess *session.Session) *Decision {
	d := &Decision{}
	if sess != nil {
		d.UserID = sess.UserID
		d.ClaimedHandle = sess.ClaimedHandle
		d.Attempt = sess.AttemptCount
	}
	return d
}
