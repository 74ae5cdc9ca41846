package ocr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"github.com/adverant/nexus/followverify-worker/internal/logging"
)

const (
	DefaultMaxEvidenceSize = 20 * 1024 * 1024
	defaultDownloadTimeout = 30 * time.Second
)

// HTTPError is a non-2xx response while downloading evidence
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d fetching %s", e.StatusCode, e.URL)
}

// TooLargeError is returned when a screenshot exceeds the size limit
type TooLargeError struct {
	Size  int64
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("screenshot size exceeds maximum: %d > %d bytes", e.Size, e.Limit)
}

// LoaderConfig holds evidence loader configuration
type LoaderConfig struct {
	HTTPClient *http.Client
	MaxSize    int64
	Attempts   uint
	Delay      time.Duration
}

// Loader resolves Evidence to image bytes
type Loader struct {
	client   *http.Client
	maxSize  int64
	attempts uint
	delay    time.Duration
	logger   *logging.Logger
}

// NewLoader creates an evidence loader
func NewLoader(cfg *LoaderConfig) *Loader {
	l := &Loader{
		client:   &http.Client{Timeout: defaultDownloadTimeout},
		maxSize:  DefaultMaxEvidenceSize,
		attempts: 3,
		delay:    500 * time.Millisecond,
		logger:   logging.NewLogger("EvidenceLoader"),
	}
	if cfg == nil {
		return l
	}
	if cfg.HTTPClient != nil {
		l.client = cfg.HTTPClient
	}
	if cfg.MaxSize > 0 {
		l.maxSize = cfg.MaxSize
	}
	if cfg.Attempts > 0 {
		l.attempts = cfg.Attempts
	}
	if cfg.Delay > 0 {
		l.delay = cfg.Delay
	}
	return l
}

// Load returns the screenshot bytes, downloading them when only a URL is known
func (l *Loader) Load(ctx context.Context, ev *Evidence) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("no evidence provided")
	}

	if len(ev.Data) > 0 {
		if int64(len(ev.Data)) > l.maxSize {
			return nil, &TooLargeError{Size: int64(len(ev.Data)), Limit: l.maxSize}
		}
		return ev.Data, nil
	}

	if ev.URL == "" {
		return nil, fmt.Errorf("no evidence source provided (buffer or URL)")
	}

	return retry.DoWithData(
		func() ([]byte, error) {
			return l.download(ctx, ev.URL)
		},
		retry.Context(ctx),
		retry.Attempts(l.attempts),
		retry.Delay(l.delay),
		retry.MaxJitter(l.delay/2),
		retry.RetryIf(isRetryableError),
		retry.OnRetry(func(n uint, err error) {
			l.logger.Warn("Retrying screenshot download", "attempt", n+1, "fileId", ev.FileID, "error", err)
		}),
	)
}

func (l *Loader) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{URL: url, StatusCode: resp.StatusCode}
	}

	if resp.ContentLength > l.maxSize {
		return nil, &TooLargeError{Size: resp.ContentLength, Limit: l.maxSize}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read screenshot: %w", err)
	}
	if int64(len(data)) > l.maxSize {
		return nil, &TooLargeError{Size: int64(len(data)), Limit: l.maxSize}
	}
	return data, nil
}

// isRetryableError returns true for transient errors that should be retried.
func isRetryableError(err error) bool {
	var tooLarge *TooLargeError
	if errors.As(err, &tooLarge) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	return true
}
