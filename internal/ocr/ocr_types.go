/**
 * OCR Types - Shared data structures for screenshot recognition
 *
 * The recognition engine is consumed through Recognizer; the classifier only
 * ever sees the words and page dimensions it returns.
 */

package ocr

import (
	"context"
	"errors"
	"time"

	"github.com/adverant/nexus/followverify-worker/internal/layout"
)

// ErrEvidenceUnavailable wraps failures to obtain the screenshot bytes
var ErrEvidenceUnavailable = errors.New("screenshot unavailable")

// Recognizer turns a screenshot into words with bounding boxes
type Recognizer interface {
	Recognize(ctx context.Context, evidence *Evidence) (*Result, error)
}

// Evidence is a screenshot reference as delivered by the chat platform.
// Data takes precedence over URL.
type Evidence struct {
	FileID string // platform file identifier, forwarded to operators
	URL    string
	Data   []byte
}

// Result represents the result of recognizing one screenshot
type Result struct {
	Text       string
	Confidence float64 // engine-reported mean word confidence, 0-100
	Words      []layout.Word
	Dimensions layout.Dimensions
	Engine     string
	Duration   time.Duration
}
