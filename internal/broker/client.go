package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/halocam/livedemo/internal/log"
	"github.com/halocam/livedemo/internal/metrics"
	"github.com/halocam/livedemo/internal/resilience"
	"github.com/halocam/livedemo/internal/source"
)

// Session is one bounded-lifetime viewing grant issued by the broker.
type Session struct {
	ID        string          `json:"session_id"`
	SourceID  string          `json:"source_id"`
	Category  string          `json:"category"`
	StreamURL string          `json:"stream_url"`
	Protocol  source.Protocol `json:"protocol"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Client talks to the session broker service.
type Client struct {
	base string
	http *http.Client
	cb   *resilience.CircuitBreaker
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.http = c }
}

// WithCircuitBreaker guards start calls with the given breaker.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) ClientOption {
	return func(cl *Client) { cl.cb = cb }
}

func New(base string, opts ...ClientOption) *Client {
	cl := &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

type startRequest struct {
	Category string `json:"category"`
	SourceID string `json:"source_id"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
	StreamURL string `json:"stream_url"`
	Protocol  string `json:"protocol"`
	ExpiresAt string `json:"expires_at"`
}

// Start requests a new viewing session for (category, sourceID).
func (c *Client) Start(ctx context.Context, category, sourceID string) (*Session, error) {
	began := time.Now()
	var sess *Session
	run := func() error {
		var err error
		sess, err = c.start(ctx, category, sourceID)
		return err
	}

	var err error
	if c.cb != nil {
		err = c.cb.Execute(run)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			err = &Error{Sentinel: ErrUnavailable, Operation: "start", Err: err}
		}
	} else {
		err = run()
	}
	metrics.ObserveBrokerRequest("start", err, time.Since(began))
	return sess, err
}

func (c *Client) start(ctx context.Context, category, sourceID string) (*Session, error) {
	body, err := json.Marshal(startRequest{Category: category, SourceID: sourceID})
	if err != nil {
		return nil, &Error{Sentinel: ErrBadResponse, Operation: "start", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/demo/start", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Sentinel: ErrBadResponse, Operation: "start", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		sentinel := ErrUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			sentinel = ErrTimeout
		}
		return nil, &Error{Sentinel: sentinel, Operation: "start", Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		sentinel := ErrRejected
		if res.StatusCode >= 500 {
			sentinel = ErrUnavailable
		}
		return nil, &Error{
			Sentinel:  sentinel,
			Operation: "start",
			Status:    res.StatusCode,
			Body:      strings.TrimSpace(string(buf)),
		}
	}

	var payload startResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, &Error{Sentinel: ErrBadResponse, Operation: "start", Err: err}
	}
	if payload.SessionID == "" || payload.StreamURL == "" {
		return nil, &Error{Sentinel: ErrBadResponse, Operation: "start", Body: "missing session_id or stream_url"}
	}
	expiresAt, err := time.Parse(time.RFC3339, payload.ExpiresAt)
	if err != nil {
		return nil, &Error{Sentinel: ErrBadResponse, Operation: "start", Err: err}
	}

	return &Session{
		ID:        payload.SessionID,
		SourceID:  sourceID,
		Category:  category,
		StreamURL: payload.StreamURL,
		Protocol:  source.ParseProtocol(payload.Protocol),
		ExpiresAt: expiresAt,
	}, nil
}

// Stop terminates a session. Failures are non-fatal by contract: they are
// logged, counted and swallowed, and stopping an unknown session is a no-op.
func (c *Client) Stop(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	began := time.Now()
	err := c.stop(ctx, sessionID)
	metrics.ObserveBrokerRequest("stop", err, time.Since(began))
	if err != nil {
		metrics.BrokerStopIgnoredTotal.Inc()
		logger := log.WithComponentFromContext(ctx, "broker")
		logger.Warn().
			Err(err).
			Str(log.FieldSessionID, sessionID).
			Msg("session stop failed, ignoring")
	}
	return nil
}

func (c *Client) stop(ctx context.Context, sessionID string) error {
	body, err := json.Marshal(map[string]string{"session_id": sessionID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/demo/stop", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return &Error{Sentinel: ErrUnavailable, Operation: "stop", Err: err}
	}
	defer res.Body.Close()

	// 404 means the session is already gone; stop is idempotent.
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusNotFound {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &Error{
			Sentinel:  ErrRejected,
			Operation: "stop",
			Status:    res.StatusCode,
			Body:      strings.TrimSpace(string(buf)),
		}
	}
	return nil
}
