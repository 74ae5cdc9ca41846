/**
 * Tesseract OCR engine
 *
 * Long-lived recognition resource shared by every request. The underlying
 * gosseract client is created on first use (single-flight, so concurrent
 * first requests share one initialization) and released only on Close.
 */

package tesseract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/otiai10/gosseract/v2"
	"golang.org/x/sync/singleflight"

	"github.com/adverant/nexus/followverify-worker/internal/layout"
	"github.com/adverant/nexus/followverify-worker/internal/logging"
	"github.com/adverant/nexus/followverify-worker/internal/ocr"
)

const EngineName = "tesseract"

// ErrClosed is returned after Close
var ErrClosed = errors.New("tesseract engine closed")

// client is the subset of *gosseract.Client the engine uses
type client interface {
	SetImageFromBytes(data []byte) error
	GetBoundingBoxes(level gosseract.PageIteratorLevel) ([]gosseract.BoundingBox, error)
	Text() (string, error)
	Close() error
}

// Config holds Tesseract configuration
type Config struct {
	Languages []string
	Loader    *ocr.Loader
}

// Engine recognizes profile screenshots with Tesseract
type Engine struct {
	loader    *ocr.Loader
	newClient func() (client, error)
	logger    *logging.Logger

	group singleflight.Group

	stateMu sync.Mutex
	client  client
	closed  bool

	// gosseract clients are not safe for concurrent use
	useMu sync.Mutex
}

// NewEngine creates an engine. The Tesseract client itself is created lazily.
func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = &Config{}
	}
	languages := cfg.Languages
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	loader := cfg.Loader
	if loader == nil {
		loader = ocr.NewLoader(nil)
	}

	return &Engine{
		loader: loader,
		newClient: func() (client, error) {
			c := gosseract.NewClient()
			if err := c.SetLanguage(languages...); err != nil {
				c.Close()
				return nil, fmt.Errorf("failed to set languages %v: %w", languages, err)
			}
			// profile pages are scattered short labels, not paragraphs
			if err := c.SetPageSegMode(gosseract.PSM_SPARSE_TEXT); err != nil {
				c.Close()
				return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
			}
			return c, nil
		},
		logger: logging.NewLogger("Tesseract"),
	}
}

// Warmup initializes the client ahead of the first request
func (e *Engine) Warmup() error {
	_, err := e.acquire()
	return err
}

// Recognize extracts words with bounding boxes from the screenshot. A
// recognition still running when ctx ends is abandoned, not interrupted.
// Requests abandoned while queued for the client never reach it.
func (e *Engine) Recognize(ctx context.Context, evidence *ocr.Evidence) (*ocr.Result, error) {
	startTime := time.Now()

	data, err := e.loader.Load(ctx, evidence)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ocr.ErrEvidenceUnavailable, err)
	}

	dims, ok := ocr.DimensionsFromImage(data)
	if !ok {
		e.logger.Warn("Could not read screenshot dimensions, using defaults",
			"width", dims.Width, "height", dims.Height)
	}

	type outcome struct {
		result *ocr.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := e.recognizeBytes(ctx, data)
		done <- outcome{result: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("tesseract recognition abandoned: %w", ctx.Err())
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		o.result.Dimensions = dims
		o.result.Duration = time.Since(startTime)
		e.logger.Debug("Screenshot recognized",
			"words", len(o.result.Words), "confidence", o.result.Confidence, "duration", o.result.Duration)
		return o.result, nil
	}
}

func (e *Engine) recognizeBytes(ctx context.Context, data []byte) (*ocr.Result, error) {
	c, err := e.acquire()
	if err != nil {
		return nil, err
	}

	e.useMu.Lock()
	defer e.useMu.Unlock()

	if e.isClosed() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := c.SetImageFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	words := make([]layout.Word, 0, len(boxes))
	texts := make([]string, 0, len(boxes))
	confidenceSum := 0.0
	for _, b := range boxes {
		text := strings.TrimSpace(b.Word)
		if text == "" {
			continue
		}
		words = append(words, layout.Word{
			Text:       text,
			Confidence: b.Confidence,
			Box: layout.BoundingBox{
				X0: b.Box.Min.X,
				Y0: b.Box.Min.Y,
				X1: b.Box.Max.X,
				Y1: b.Box.Max.Y,
			},
		})
		texts = append(texts, text)
		confidenceSum += b.Confidence
	}

	text, err := c.Text()
	if err != nil {
		e.logger.Warn("Full-text extraction failed, joining words instead", "error", err)
		text = strings.Join(texts, " ")
	}

	confidence := 0.0
	if len(words) > 0 {
		confidence = confidenceSum / float64(len(words))
	}

	return &ocr.Result{
		Text:       text,
		Confidence: confidence,
		Words:      words,
		Engine:     EngineName,
	}, nil
}

// acquire returns the shared client, creating it at most once at a time.
// A failed initialization is retried by the next caller.
func (e *Engine) acquire() (client, error) {
	e.stateMu.Lock()
	if e.closed {
		e.stateMu.Unlock()
		return nil, ErrClosed
	}
	c := e.client
	e.stateMu.Unlock()
	if c != nil {
		return c, nil
	}

	v, err, _ := e.group.Do("client", func() (interface{}, error) {
		e.stateMu.Lock()
		if e.client != nil {
			existing := e.client
			e.stateMu.Unlock()
			return existing, nil
		}
		e.stateMu.Unlock()

		e.logger.Info("Initializing Tesseract client")
		created, err := e.newClient()
		if err != nil {
			return nil, err
		}

		e.stateMu.Lock()
		defer e.stateMu.Unlock()
		if e.closed {
			created.Close()
			return nil, ErrClosed
		}
		e.client = created
		return created, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tesseract: %w", err)
	}
	return v.(client), nil
}

// Close releases the Tesseract client. Safe to call more than once.
func (e *Engine) Close() error {
	e.stateMu.Lock()
	e.closed = true
	c := e.client
	e.client = nil
	e.stateMu.Unlock()

	if c == nil {
		return nil
	}

	// wait for an in-flight recognition to finish with the client
	e.useMu.Lock()
	defer e.useMu.Unlock()
	return c.Close()
}

func (e *Engine) isClosed() bool {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.closed
}
