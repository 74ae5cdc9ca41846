/**
 * Bot Gateway Client for the Follow Verification Worker
 *
 * Delivers outbound chat messages through the bot gateway:
 * - Replies to the verifying user
 * - Review cards (screenshot + Approve/Reject buttons) in the operator channel
 * - Edits of review cards once an operator has decided
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"

	"github.com/adverant/nexus/followverify-worker/internal/errors"
	"github.com/adverant/nexus/followverify-worker/internal/logging"
)

// Control is an inline button attached to an operator message
type Control struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// OperatorMessage is a review card for the operator channel. IdempotencyKey
// lets the gateway drop a card it has already posted; empty picks a random one.
type OperatorMessage struct {
	Text           string
	FileID         string
	ImageURL       string
	Controls       []Control
	IdempotencyKey string
}

// IdempotencyHeader carries the per-message key, identical across retries
const IdempotencyHeader = "Idempotency-Key"

// GatewayError is a non-2xx gateway response
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Body)
}

type photoRef struct {
	FileID string `json:"fileId,omitempty"`
	URL    string `json:"url,omitempty"`
}

type sendRequest struct {
	ChatID  string    `json:"chatId"`
	Text    string    `json:"text"`
	Photo   *photoRef `json:"photo,omitempty"`
	Buttons []Control `json:"buttons,omitempty"`
}

type editRequest struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

type gatewayResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// GatewayConfig holds gateway client configuration
type GatewayConfig struct {
	BaseURL           string
	OperatorChannelID string
	HTTPClient        *http.Client
	Attempts          uint
	Delay             time.Duration
}

// GatewayClient sends messages through the bot gateway
type GatewayClient struct {
	baseURL           string
	operatorChannelID string
	httpClient        *http.Client
	attempts          uint
	delay             time.Duration
	logger            *logging.Logger
}

// NewGatewayClient creates a new gateway client
func NewGatewayClient(cfg *GatewayConfig) (*GatewayClient, error) {
	if cfg == nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway URL is required")
	}
	if cfg.OperatorChannelID == "" {
		return nil, fmt.Errorf("operator channel ID is required")
	}

	c := &GatewayClient{
		baseURL:           strings.TrimRight(cfg.BaseURL, "/"),
		operatorChannelID: cfg.OperatorChannelID,
		httpClient:        cfg.HTTPClient,
		attempts:          cfg.Attempts,
		delay:             cfg.Delay,
		logger:            logging.NewLogger("Gateway"),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if c.attempts == 0 {
		c.attempts = 3
	}
	if c.delay == 0 {
		c.delay = 250 * time.Millisecond
	}
	return c, nil
}

// HealthCheck verifies the gateway is available
func (c *GatewayClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway health check returned status %d", resp.StatusCode)
	}
	return nil
}

// SendToUser sends a plain text message to a user
func (c *GatewayClient) SendToUser(ctx context.Context, userID string, text string) error {
	_, err := c.post(ctx, "/api/messages", &sendRequest{ChatID: userID, Text: text}, "", false)
	if err != nil {
		return errors.NewNotifyFailedError("user:"+userID, err)
	}
	return nil
}

// SendToOperatorChannel posts a review card and returns its message reference
func (c *GatewayClient) SendToOperatorChannel(ctx context.Context, msg *OperatorMessage) (string, error) {
	req := &sendRequest{
		ChatID:  c.operatorChannelID,
		Text:    msg.Text,
		Buttons: msg.Controls,
	}
	if msg.FileID != "" || msg.ImageURL != "" {
		req.Photo = &photoRef{FileID: msg.FileID, URL: msg.ImageURL}
	}

	resp, err := c.post(ctx, "/api/messages", req, msg.IdempotencyKey, false)
	if err != nil {
		return "", errors.NewNotifyFailedError("operators", err)
	}
	return resp.MessageID, nil
}

// EditOperatorMessage replaces the text of a review card and drops its buttons
func (c *GatewayClient) EditOperatorMessage(ctx context.Context, ref string, text string) error {
	if ref == "" {
		return errors.NewNotifyFailedError("operators", fmt.Errorf("message reference is required"))
	}
	_, err := c.post(ctx, "/api/messages/edit", &editRequest{
		ChatID:    c.operatorChannelID,
		MessageID: ref,
		Text:      text,
	}, "", true)
	if err != nil {
		return errors.NewNotifyFailedError("operators", err)
	}
	return nil
}

// post sends body, retrying transient failures. Sends that are not
// idempotent are retried after a transport error only when the connection
// was never established.
func (c *GatewayClient) post(ctx context.Context, path string, body interface{}, key string, idempotent bool) (*gatewayResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if key == "" {
		key = uuid.NewString()
	}

	return retry.DoWithData(
		func() (*gatewayResponse, error) {
			return c.do(ctx, path, payload, key)
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.MaxJitter(c.delay/2),
		retry.RetryIf(func(err error) bool {
			return isTransient(err, idempotent)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn("Retrying gateway request", "path", path, "attempt", n+1, "error", err)
		}),
	)
}

func (c *GatewayClient) do(ctx context.Context, path string, payload []byte, key string) (*gatewayResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &GatewayError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var result gatewayResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &permanentError{fmt.Errorf("failed to parse response: %w", err)}
	}
	if !result.Success {
		return nil, &permanentError{fmt.Errorf("gateway rejected message: %s", result.Error)}
	}
	return &result, nil
}

// permanentError marks a delivered request the gateway refused
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// isTransient returns true for errors worth another attempt
func isTransient(err error, idempotent bool) bool {
	var perm *permanentError
	if stderrors.As(err, &perm) {
		return false
	}
	var gwErr *GatewayError
	if stderrors.As(err, &gwErr) {
		switch gwErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}
	if idempotent {
		return true
	}
	// the request may have been delivered unless the dial itself failed
	var opErr *net.OpError
	return stderrors.As(err, &opErr) && opErr.Op == "dial"
}
