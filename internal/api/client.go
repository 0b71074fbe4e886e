// Package api is the gateway to the dashboard backend's users module.
//
// Every request goes through one pipeline: the session token is attached,
// idempotent requests are retried with backoff, the whole exchange runs inside
// a circuit breaker, and a non-2xx answer becomes a coded DashError. That
// error is handed to the ErrorPresenter exactly once before it is returned, so
// callers must not present it again. A 401 on a request that carried a token
// also logs the session out.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/felixgeelhaar/meetdash/internal/errors"
	"github.com/felixgeelhaar/meetdash/internal/log"
	"github.com/felixgeelhaar/meetdash/internal/metrics"
	"github.com/felixgeelhaar/meetdash/internal/session"
)

// DefaultBaseURL is the development backend.
const DefaultBaseURL = "http://localhost:8000/api/v1"

// RequestIDHeader carries a per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// Config holds API client configuration.
type Config struct {
	BaseURL      string
	AuthScheme   string
	Timeout      time.Duration
	MaxRetries   int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	UserAgent    string
	Breaker      BreakerConfig
}

// BreakerConfig configures the circuit breaker around the backend.
type BreakerConfig struct {
	Name         string
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

// DefaultConfig returns the client defaults. The auth scheme is "Token",
// matching Django REST framework token authentication.
func DefaultConfig() Config {
	return Config{
		BaseURL:      DefaultBaseURL,
		AuthScheme:   "Token",
		Timeout:      30 * time.Second,
		MaxRetries:   2,
		RetryWaitMin: 200 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
		UserAgent:    "meetdash",
		Breaker: BreakerConfig{
			Name:         "meetdash-api",
			MaxRequests:  1,
			Interval:     60 * time.Second,
			Timeout:      30 * time.Second,
			FailureRatio: 0.5,
			MinRequests:  5,
		},
	}
}

// ErrorPresenter shows a remote failure to the user.
type ErrorPresenter interface {
	PresentError(err error)
}

// PresenterFunc adapts a function to ErrorPresenter.
type PresenterFunc func(err error)

// PresentError calls f(err).
func (f PresenterFunc) PresentError(err error) { f(err) }

// Session is the part of the session store the client needs.
type Session interface {
	Snapshot() session.State
	Logout()
}

// Client is the backend API client. It is safe for concurrent use.
type Client struct {
	cfg       Config
	http      *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	session   Session
	presenter ErrorPresenter
	logger    *log.Logger
	metrics   *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithSession attaches the token source that is also logged out on 401.
func WithSession(s Session) Option {
	return func(c *Client) { c.session = s }
}

// WithPresenter sets where remote failures are shown.
func WithPresenter(p ErrorPresenter) Option {
	return func(c *Client) { c.presenter = p }
}

// WithLogger sets the client logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a client. Zero-valued fields of cfg fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Client {
	cfg = withDefaults(cfg)
	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = log.OrDiscard(c.logger).With("component", "api")
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}

	bc := cfg.Breaker
	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        bc.Name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < bc.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= bc.FailureRatio
		},
		// Client errors say nothing about the backend's health.
		IsSuccessful: func(err error) bool {
			var se *statusError
			if errors.As(err, &se) {
				return se.status < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
			c.metrics.SetBreakerState(name, breakerValue(to))
		},
	})
	c.metrics.SetBreakerState(bc.Name, 0)
	return c
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.AuthScheme == "" {
		cfg.AuthScheme = def.AuthScheme
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = def.RetryWaitMin
	}
	if cfg.RetryWaitMax < cfg.RetryWaitMin {
		cfg.RetryWaitMax = cfg.RetryWaitMin
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker = def.Breaker
	}
	return cfg
}

func breakerValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// body is a request payload that can be replayed on retry.
type body struct {
	contentType string
	data        []byte
}

func jsonBody(v any) (*body, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAPIRequest, "failed to encode request body", err)
	}
	return &body{contentType: "application/json", data: data}, nil
}

type call struct {
	quiet bool
}

type callOption func(*call)

// quiet skips presentation; used where the caller recovers locally.
func quiet() callOption {
	return func(c *call) { c.quiet = true }
}

// request sends a JSON request and decodes a JSON answer into out.
func (c *Client) request(ctx context.Context, method, path string, in, out any, opts ...callOption) error {
	b, err := jsonBody(in)
	if err != nil {
		return err
	}
	return c.send(ctx, method, path, b, out, opts...)
}

func (c *Client) send(ctx context.Context, method, path string, b *body, out any, opts ...callOption) error {
	var cl call
	for _, opt := range opts {
		opt(&cl)
	}

	err := c.exchange(ctx, method, path, b, out)
	if err == nil {
		return nil
	}
	c.metrics.RecordError(err)
	if ctx.Err() != nil {
		// Cancelled by the caller; nothing to show.
		return err
	}
	if !cl.quiet && c.presenter != nil {
		c.presenter.PresentError(err)
	}
	return err
}

func (c *Client) exchange(ctx context.Context, method, path string, b *body, out any) error {
	requestID := uuid.NewString()
	ctx = log.ContextWithRequestID(ctx, requestID)
	logger := c.logger.WithContext(ctx).With("method", method, "path", path)

	var token string
	if c.session != nil {
		token = c.session.Snapshot().Token
	}

	endpoint := endpointLabel(path)
	start := time.Now()
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.doWithRetry(ctx, method, path, endpoint, requestID, token, b)
	})
	status := 0
	if resp != nil {
		status = resp.StatusCode
	} else {
		var se *statusError
		if errors.As(err, &se) {
			status = se.status
		}
	}
	c.metrics.RecordAPIRequest(method, endpoint, status, time.Since(start))

	if err != nil {
		var se *statusError
		switch {
		case errors.As(err, &se):
			return c.fail(logger, se.toDashError(token != ""), token != "")
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			logger.Warn("request rejected by circuit breaker")
			return errors.Wrap(errors.ErrCodeAPICircuitOpen, "backend temporarily unavailable", err).
				WithSuggestion("Wait a few seconds and try again")
		case ctx.Err() != nil:
			return errors.Wrap(errors.ErrCodeAPIRequest, "request cancelled", ctx.Err())
		default:
			logger.WithError(err).Warn("request failed")
			return errors.NewNetworkError(err)
		}
	}
	defer func() { _ = resp.Body.Close() }()

	logger.Debug("request completed", "status", resp.StatusCode, "duration", time.Since(start))
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return errors.Wrap(errors.ErrCodeAPIDecode, "failed to decode response", err).
			WithStatus(resp.StatusCode)
	}
	return nil
}

func (c *Client) fail(logger *log.Logger, de *errors.DashError, authed bool) error {
	logger.WithError(de).Info("request rejected", "status", de.Status)
	if de.Status == http.StatusUnauthorized && authed && c.session != nil {
		logger.Warn("token rejected, logging out")
		c.session.Logout()
	}
	return de
}

// doWithRetry runs the attempt loop. Non-2xx answers come back as
// *statusError; 5xx answers are first retried for idempotent methods.
func (c *Client) doWithRetry(ctx context.Context, method, path, endpoint, requestID, token string, b *body) (*http.Response, error) {
	retries := 0
	if idempotent(method) {
		retries = c.cfg.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			c.metrics.RecordRetry(endpoint)
			wait := c.cfg.RetryWaitMin * time.Duration(1<<uint(attempt-1))
			if wait > c.cfg.RetryWaitMax {
				wait = c.cfg.RetryWaitMax
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := c.newRequest(ctx, method, path, requestID, token, b)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			if retryable(err) && ctx.Err() == nil {
				continue
			}
			return nil, err
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		se := readStatusError(resp)
		if se.status >= 500 && se.status != http.StatusNotImplemented && attempt < retries {
			lastErr = se
			continue
		}
		return nil, se
	}
	return nil, lastErr
}

func (c *Client) newRequest(ctx context.Context, method, path, requestID, token string, b *body) (*http.Request, error) {
	var rd io.Reader = http.NoBody
	if b != nil {
		rd = bytes.NewReader(b.data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAPIRequest, "failed to create request", err)
	}
	if b != nil {
		req.Header.Set("Content-Type", b.contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set(RequestIDHeader, requestID)
	if token != "" {
		req.Header.Set("Authorization", c.cfg.AuthScheme+" "+token)
	}
	return req, nil
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// endpointLabel replaces id-like path segments so metrics stay low-cardinality.
func endpointLabel(path string) string {
	path, _, _ = strings.Cut(path, "?")
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if strings.IndexFunc(p, func(r rune) bool {
			return !(r >= 'a' && r <= 'z') && r != '-' && r != '_'
		}) >= 0 {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}
