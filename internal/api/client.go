package api

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/dl-alexandre/cellsync/internal/auth"
	"github.com/dl-alexandre/cellsync/internal/errors"
	"github.com/dl-alexandre/cellsync/internal/logging"
	"github.com/dl-alexandre/cellsync/internal/utils"
	"github.com/dl-alexandre/cellsync/pkg/version"
	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"
)

// SessionSource supplies the bearer token and refreshes it on demand
type SessionSource interface {
	oauth2.TokenSource
	Endpoint() string
	NeedsRefresh() bool
	Refresh(ctx context.Context) error
}

// RequestContext identifies one logical API operation in logs and errors
type RequestContext struct {
	Op      string
	TraceID string
}

// NewRequestContext creates a new request context with trace ID
func NewRequestContext(ctx context.Context, op string) *RequestContext {
	traceID := logging.TraceIDFromContext(ctx)
	if traceID == "" {
		traceID = logging.NewTraceID()
	}
	return &RequestContext{Op: op, TraceID: traceID}
}

// HTTPError is a non-2xx response of the metadata API
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// ClientOptions configures the metadata client
type ClientOptions struct {
	MaxRetries     int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	// Transport is the base round tripper, e.g. a logging.DebugTransport
	Transport http.RoundTripper
	Clock     clockwork.Clock
	Logger    logging.Logger
}

// Client talks to the Cells REST API mounted under /a
type Client struct {
	session    SessionSource
	authed     *http.Client
	plain      *http.Client
	maxRetries int
	retryDelay time.Duration
	userAgent  string
	clock      clockwork.Clock
	logger     logging.Logger
}

// NewClient creates a metadata API client that authenticates through session
func NewClient(session SessionSource, opts ClientOptions) *Client {
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Duration(utils.DefaultRetryDelayMs) * time.Millisecond
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	return &Client{
		session: session,
		authed: &http.Client{
			Transport: &oauth2.Transport{Source: session, Base: opts.Transport},
			Timeout:   opts.RequestTimeout,
		},
		plain: &http.Client{
			Transport: opts.Transport,
			Timeout:   opts.RequestTimeout,
		},
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		userAgent:  version.Get().UserAgent(),
		clock:      opts.Clock,
		logger:     opts.Logger,
	}
}

// ExecuteWithRetry executes an API call, retrying 429 and 5xx responses with backoff
func ExecuteWithRetry[T any](ctx context.Context, client *Client, reqCtx *RequestContext, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	logger := client.logger.WithTraceID(reqCtx.TraceID)
	logger.Debug("API operation starting", logging.F("op", reqCtx.Op))

	start := client.clock.Now()

	for attempt := 0; attempt <= client.maxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn("Retrying API operation",
				logging.F("op", reqCtx.Op),
				logging.F("attempt", attempt),
				logging.F("maxRetries", client.maxRetries),
			)
		}

		result, lastErr = fn()
		if lastErr == nil {
			logger.Debug("API operation completed",
				logging.F("op", reqCtx.Op),
				logging.F("duration_ms", client.clock.Since(start).Milliseconds()),
				logging.F("attempts", attempt+1),
			)
			return result, nil
		}

		if !isRetryable(lastErr) {
			logger.Debug("API operation failed (non-retryable)",
				logging.F("op", reqCtx.Op),
				logging.F("duration_ms", client.clock.Since(start).Milliseconds()),
				logging.F("error", lastErr.Error()),
				logging.F("attempts", attempt+1),
			)
			return result, classifyError(lastErr, reqCtx, client.logger)
		}

		if attempt < client.maxRetries {
			delay := calculateBackoff(client.retryDelay, attempt, lastErr)
			logger.Warn("API operation failed (retryable)",
				logging.F("op", reqCtx.Op),
				logging.F("attempt", attempt+1),
				logging.F("delay_ms", delay.Milliseconds()),
				logging.F("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-client.clock.After(delay):
			}
		}
	}

	logger.Error("API operation failed after max retries",
		logging.F("op", reqCtx.Op),
		logging.F("duration_ms", client.clock.Since(start).Milliseconds()),
		logging.F("attempts", client.maxRetries+1),
		logging.F("error", lastErr.Error()),
	)

	return result, classifyError(lastErr, reqCtx, client.logger)
}

func isRetryable(err error) bool {
	var httpErr *HTTPError
	if stderrors.As(err, &httpErr) {
		switch httpErr.Status {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return false
}

// calculateBackoff honours Retry-After, otherwise base * 2^attempt with ±25% jitter
func calculateBackoff(baseDelay time.Duration, attempt int, err error) time.Duration {
	maxDelay := time.Duration(utils.MaxRetryDelayMs) * time.Millisecond

	var httpErr *HTTPError
	if stderrors.As(err, &httpErr) && httpErr.RetryAfter != "" {
		if seconds, err := strconv.Atoi(httpErr.RetryAfter); err == nil {
			delay := time.Duration(seconds) * time.Second
			if delay > maxDelay {
				return maxDelay
			}
			return delay
		}
	}

	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > maxDelay {
		delay = maxDelay
	}

	jitterRange := delay / 4
	if jitterRange > 0 {
		jitter := time.Duration(rand.Int63n(int64(jitterRange*2))) - jitterRange
		delay += jitter
	}

	if delay < 0 {
		delay = baseDelay
	}

	return delay
}

func classifyError(err error, reqCtx *RequestContext, logger logging.Logger) error {
	if stderrors.Is(err, auth.ErrNoSession) || stderrors.Is(err, auth.ErrNoStoredCredentials) {
		return utils.WrapAppError(utils.NewCLIError(utils.ErrCodeAuthRequired,
			"Not logged in. Run 'cellsync login' first.").
			WithContext("traceId", reqCtx.TraceID).
			WithContext("op", reqCtx.Op).
			Build(), err)
	}
	var httpErr *HTTPError
	if stderrors.As(err, &httpErr) {
		err = errors.NewHTTPError(reqCtx.Op, httpErr.Status, httpErr)
	}
	return errors.ToAppError(reqCtx.Op, err, reqCtx.TraceID, logger)
}

// call performs one JSON request; authed requests refresh a stale session
// first and retry once after a 401
func (c *Client) call(ctx context.Context, reqCtx *RequestContext, method, endpoint, path string, in, out interface{}, authed bool) error {
	if !authed {
		return c.send(ctx, reqCtx, c.plain, method, endpoint, path, in, out)
	}

	if c.session.NeedsRefresh() {
		if err := c.session.Refresh(ctx); err != nil && !stderrors.Is(err, auth.ErrNoStoredCredentials) {
			c.logger.Debug("Pre-emptive session refresh failed", logging.F("error", err))
		}
	}

	err := c.send(ctx, reqCtx, c.authed, method, endpoint, path, in, out)
	var httpErr *HTTPError
	if !stderrors.As(err, &httpErr) || httpErr.Status != http.StatusUnauthorized {
		return err
	}

	c.logger.WithTraceID(reqCtx.TraceID).Info("Session rejected, refreshing", logging.F("op", reqCtx.Op))
	if refreshErr := c.session.Refresh(ctx); refreshErr != nil {
		return err
	}
	return c.send(ctx, reqCtx, c.authed, method, endpoint, path, in, out)
}

func (c *Client) send(ctx context.Context, reqCtx *RequestContext, client *http.Client, method, endpoint, path string, in, out interface{}) error {
	if endpoint == "" {
		return auth.ErrNoSession
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", reqCtx.Op, err)
		}
		body = bytes.NewReader(data)
	}

	ctx = logging.ContextWithTraceID(ctx, reqCtx.TraceID)
	req, err := http.NewRequestWithContext(ctx, method, endpoint+utils.APIPrefix+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{
			Status:     resp.StatusCode,
			Body:       string(bytes.TrimSpace(snippet)),
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", reqCtx.Op, err)
	}
	return nil
}
