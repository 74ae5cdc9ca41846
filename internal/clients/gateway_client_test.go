package clients

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/followverify-worker/internal/errors"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *GatewayClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewGatewayClient(&GatewayConfig{
		BaseURL:           srv.URL + "/",
		OperatorChannelID: "ops",
		Attempts:          3,
		Delay:             time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestNewGatewayClientRequiresConfig(t *testing.T) {
	_, err := NewGatewayClient(nil)
	assert.Error(t, err)

	_, err = NewGatewayClient(&GatewayConfig{BaseURL: "http://gw"})
	assert.Error(t, err)
}

func TestSendToOperatorChannel(t *testing.T) {
	var got sendRequest
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/messages", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(gatewayResponse{Success: true, MessageID: "m-17"})
	})

	ref, err := c.SendToOperatorChannel(context.Background(), &OperatorMessage{
		Text:   "review",
		FileID: "file-1",
		Controls: []Control{
			{Label: "Approve", Data: "approve:abc"},
			{Label: "Reject", Data: "reject:abc"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "m-17", ref)

	assert.Equal(t, "ops", got.ChatID)
	require.NotNil(t, got.Photo)
	assert.Equal(t, "file-1", got.Photo.FileID)
	assert.Len(t, got.Buttons, 2)
}

func TestSendToUserRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	var mu sync.Mutex
	keys := map[string]bool{}
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys[r.Header.Get(IdempotencyHeader)] = true
		mu.Unlock()
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(gatewayResponse{Success: true})
	})

	require.NoError(t, c.SendToUser(context.Background(), "42", "hello"))
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, keys, 1, "retries reuse one idempotency key")
	assert.NotContains(t, keys, "")
}

// dropConnection closes the connection after the request reached the server
func dropConnection(calls *atomic.Int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		hj, ok := w.(http.Hijacker)
		if !ok {
			panic("hijacking not supported")
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			panic(err)
		}
		conn.Close()
	}
}

func TestSendToOperatorChannelNotResentAfterLostResponse(t *testing.T) {
	var calls atomic.Int32
	c := newTestGateway(t, dropConnection(&calls))

	_, err := c.SendToOperatorChannel(context.Background(), &OperatorMessage{Text: "review", IdempotencyKey: "case-1"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEditOperatorMessageRetriesLostResponse(t *testing.T) {
	var calls atomic.Int32
	c := newTestGateway(t, dropConnection(&calls))

	require.Error(t, c.EditOperatorMessage(context.Background(), "m-17", "Approved"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestOperatorCardCarriesCaseKey(t *testing.T) {
	var key string
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get(IdempotencyHeader)
		_ = json.NewEncoder(w).Encode(gatewayResponse{Success: true, MessageID: "m-1"})
	})

	_, err := c.SendToOperatorChannel(context.Background(), &OperatorMessage{Text: "review", IdempotencyKey: "case-1"})
	require.NoError(t, err)
	assert.Equal(t, "case-1", key)
}

func TestIsTransient(t *testing.T) {
	dialErr := &url.Error{Op: "Post", URL: "http://gw", Err: &net.OpError{Op: "dial", Net: "tcp", Err: stderrors.New("connection refused")}}
	readErr := &url.Error{Op: "Post", URL: "http://gw", Err: &net.OpError{Op: "read", Net: "tcp", Err: stderrors.New("connection reset")}}

	tests := []struct {
		name       string
		err        error
		idempotent bool
		want       bool
	}{
		{"dial failure", dialErr, false, true},
		{"lost response", readErr, false, false},
		{"lost response idempotent", readErr, true, true},
		{"rate limited", &GatewayError{StatusCode: http.StatusTooManyRequests}, false, true},
		{"forbidden", &GatewayError{StatusCode: http.StatusForbidden}, true, false},
		{"refused", &permanentError{stderrors.New("bad chat")}, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err, tt.idempotent))
		})
	}
}

func TestSendToUserDoesNotRetryRejection(t *testing.T) {
	var calls atomic.Int32
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(gatewayResponse{Success: false, Error: "chat not found"})
	})

	err := c.SendToUser(context.Background(), "42", "hello")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrorNotifyFailed))
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendToUserDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	})

	require.Error(t, c.SendToUser(context.Background(), "42", "hello"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestEditOperatorMessage(t *testing.T) {
	var got editRequest
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/messages/edit", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(gatewayResponse{Success: true})
	})

	require.NoError(t, c.EditOperatorMessage(context.Background(), "m-17", "Approved"))
	assert.Equal(t, editRequest{ChatID: "ops", MessageID: "m-17", Text: "Approved"}, got)

	assert.Error(t, c.EditOperatorMessage(context.Background(), "", "Approved"))
}

func TestHealthCheck(t *testing.T) {
	c := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	assert.NoError(t, c.HealthCheck(context.Background()))
}
