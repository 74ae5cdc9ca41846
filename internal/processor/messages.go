package processor

import (
	"fmt"
	"strings"

	"github.com/adverant/nexus/followverify-worker/internal/clients"
	"github.com/adverant/nexus/followverify-worker/internal/storage"
)

// User-facing texts. Internal error details never reach users.
const (
	msgAskHandle          = "Welcome! Please send your username on the network you follow us from (letters, digits and underscores, up to 15 characters)."
	msgInvalidHandle      = "That doesn't look like a valid username. Use 1-15 letters, digits or underscores, for example jane_doe."
	msgAskScreenshot      = "Thanks! Now send a screenshot of your own profile page showing the Following button."
	msgScreenshotReminder = "Please send a screenshot of your profile page to continue, or /cancel to stop."
	msgNeedHandleFirst    = "Please send your username first."
	msgPendingReview      = "Thanks! Your screenshot could not be verified automatically and has been sent to an admin for review."
	msgErrorReview        = "Sorry, something went wrong while checking your screenshot. An admin will review it manually."
	msgAwaitingReview     = "Your verification is waiting for an admin. You will be notified once it has been reviewed."
	msgVerified           = "You're verified. Thanks for following!"
	msgAlreadyVerified    = "You're already verified."
	msgApproved           = "An admin approved your verification. Welcome aboard!"
	msgRejected           = "An admin could not confirm that you follow us. Send /start to try again."
	msgCancelled          = "Verification cancelled. Send /start whenever you want to begin again."
	msgSlowDown           = "You're sending screenshots too quickly. Please wait a moment and try again."
)

func followInstructions(target string) string {
	return fmt.Sprintf("Great. Please follow @%s, then reply \"followed\" once you're done.", target)
}

func followReminder(target string) string {
	return fmt.Sprintf("Reply \"followed\" after following @%s, or /cancel to stop.", target)
}

var followAcks = map[string]bool{
	"/followed":       true,
	"followed":        true,
	"i followed":      true,
	"i have followed": true,
	"done":            true,
}

func isFollowAck(text string) bool {
	return followAcks[strings.ToLower(strings.TrimSpace(text))]
}

func reviewControls(caseID string) []clients.Control {
	return []clients.Control{
		{Label: "✅ Approve", Data: controlApprove + ":" + caseID},
		{Label: "❌ Reject", Data: controlReject + ":" + caseID},
	}
}

func reviewCard(review *storage.PendingReview, attempt int) string {
	var b strings.Builder
	if review.Action == string(ActionErrorEscalate) {
		b.WriteString("⚠️ Verification error, manual review needed\n")
	} else {
		b.WriteString("🔎 Verification review\n")
	}
	fmt.Fprintf(&b, "User: %s (%s)\n", displayNameOr(review.DisplayName, review.UserID), review.UserID)
	fmt.Fprintf(&b, "Claimed handle: @%s\n", review.ClaimedHandle)
	fmt.Fprintf(&b, "Reason: %s\n", review.Reason)
	fmt.Fprintf(&b, "Follow state: %s\n", review.FollowState)
	fmt.Fprintf(&b, "Confidence: %d\n", review.Confidence)
	if len(review.Landmarks) > 0 {
		fmt.Fprintf(&b, "Landmarks: %s\n", strings.Join(review.Landmarks, ", "))
	}
	if review.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n", review.ErrorMessage)
	}
	fmt.Fprintf(&b, "Attempt: %d\n", attempt)
	fmt.Fprintf(&b, "Case: %s\n", review.ID)
	fmt.Fprintf(&b, "Reply \"yes %s\" or \"no %s\", or use the buttons.", review.ClaimedHandle, review.ClaimedHandle)
	return b.String()
}

func autoAcceptCard(d *Decision, displayName string) string {
	return fmt.Sprintf("✅ Auto-verified %s (%s) as @%s, confidence %d",
		displayNameOr(displayName, d.UserID), d.UserID, d.ClaimedHandle, d.Verdict.Confidence)
}

func resolvedCard(review *storage.PendingReview, status storage.ReviewStatus, operatorID string) string {
	verb := "Approved"
	if status == storage.ReviewRejected {
		verb = "Rejected"
	}
	return fmt.Sprintf("%s @%s for %s (%s) by %s\nCase: %s",
		verb, review.ClaimedHandle, displayNameOr(review.DisplayName, review.UserID), review.UserID, operatorID, review.ID)
}

func displayNameOr(name, fallback string) string {
	if strings.TrimSpace(name) == "" {
		return fallback
	}
	return name
}
