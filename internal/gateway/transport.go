// Package gateway is the anti-corruption layer between the billing engine and
// the payment provider's REST API. All outbound calls are routed through
// HTTPTransport, which enforces consistent resilience patterns: circuit
// breaking, targeted retries for the upstream anti-bot block, and error
// mapping into the platform's AppError taxonomy.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"zenvoice/internal/types"
)

// botBlockMarkers are body fragments that identify the anti-automation
// challenge page served by the CDN in front of the gateway. A 403 carrying
// one of these is a transient block, distinct from a legitimate API 403.
var botBlockMarkers = []string{
	"Just a moment",
	"cf-browser-verification",
	"Attention Required! | Cloudflare",
}

// RetryPolicy configures the bot-block retry behavior for HTTPTransport.
// Delays follow BaseWait, 2*BaseWait, 4*BaseWait, ... capped at MaxWait.
type RetryPolicy struct {
	MaxRetries int
	BaseWait   time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy returns sensible defaults for gateway calls.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseWait:   500 * time.Millisecond,
		MaxWait:    10 * time.Second,
	}
}

// Transport abstracts the resilient HTTP layer so the provider client can be
// wired against the real transport in production or a deterministic
// test-double in mock mode. Mocking lives at the wiring seam, never as a
// runtime branch inside this package's production path.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// waitFunc blocks until the duration elapses or the context is cancelled.
// Injected for testability; the default is a cancellable timer, not a
// thread-blocking sleep, so a request handler pool is not starved while the
// upstream is degraded.
type waitFunc func(ctx context.Context, d time.Duration) error

// timerWait is the production waitFunc.
func timerWait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HTTPTransport performs outbound gateway calls with:
//  1. User-Agent and request-correlation header injection
//  2. Circuit breaker wrapping
//  3. Exponential-backoff retries on the anti-bot block signature only
//  4. Error mapping to types.AppError
//
// Any failure class other than the bot block -- validation 4xx, timeouts,
// network errors -- is surfaced immediately without retrying.
type HTTPTransport struct {
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[*http.Response]
	policy    RetryPolicy
	userAgent string
	wait      waitFunc
}

// TransportOption is a functional option for configuring an HTTPTransport.
type TransportOption func(*HTTPTransport)

// WithWaitFunc overrides the backoff wait used between retries.
// Intended for testing to avoid real delays.
func WithWaitFunc(fn waitFunc) TransportOption {
	return func(t *HTTPTransport) {
		t.wait = fn
	}
}

// WithBreaker supplies a caller-provided circuit breaker, useful for tests
// or for sharing a breaker across clients.
func WithBreaker(cb *gobreaker.CircuitBreaker[*http.Response]) TransportOption {
	return func(t *HTTPTransport) {
		t.breaker = cb
	}
}

// NewHTTPTransport creates an HTTPTransport with the given http client,
// retry policy, and user agent string.
func NewHTTPTransport(httpClient *http.Client, policy RetryPolicy, userAgent string, opts ...TransportOption) *HTTPTransport {
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	t := &HTTPTransport{
		client:    httpClient,
		breaker:   cb,
		policy:    policy,
		userAgent: userAgent,
		wait:      timerWait,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Do executes the request. On a bot-block response it retries up to
// MaxRetries times with doubling delays; exhausting the retries yields
// ErrCodeGatewayUnavailable. Non-bot-block responses are returned as-is for
// the caller to interpret; transport-level failures (DNS, timeout, breaker
// open) are mapped to AppErrors.
//
// The response body is always replayable by the caller: when the body had to
// be sniffed for the bot-block marker it is restored before returning.
func (t *HTTPTransport) Do(req *http.Request) (*http.Response, error) {
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if reqID := types.GetRequestID(req.Context()); reqID != "" {
		req.Header.Set("X-Request-Id", reqID)
	}

	// Snapshot the request body so it can be replayed on retries.
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, types.NewAppError(
				types.ErrCodeInternalUnexpected,
				"failed to read request body for retry support",
				err,
			)
		}
		req.Body.Close()
	}

	maxAttempts := 1 + t.policy.MaxRetries
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
			req.ContentLength = int64(len(bodyBytes))
		}

		resp, err := t.breaker.Execute(func() (*http.Response, error) {
			r, doErr := t.client.Do(req)
			if doErr != nil {
				return nil, doErr
			}
			if r.StatusCode >= 500 {
				return r, errors.New("gateway returned a server error")
			}
			return r, nil
		})

		if err != nil {
			if resp != nil {
				resp.Body.Close()
			}
			return nil, t.mapTransportError(err)
		}

		blocked, restored, sniffErr := sniffBotBlock(resp)
		if sniffErr != nil {
			resp.Body.Close()
			return nil, types.NewAppError(
				types.ErrCodeGatewayUnavailable,
				"failed to read gateway response body",
				sniffErr,
			)
		}
		resp = restored

		if !blocked {
			// Success or a definitive non-retryable status; caller interprets.
			return resp, nil
		}

		resp.Body.Close()

		if attempt == maxAttempts-1 {
			break
		}

		if err := t.wait(req.Context(), t.backoff(attempt)); err != nil {
			return nil, types.NewAppError(
				types.ErrCodeGatewayUnavailable,
				"gateway call cancelled while backing off from anti-bot block",
				err,
			)
		}
	}

	return nil, types.NewAppError(
		types.ErrCodeGatewayUnavailable,
		"gateway unreachable: anti-bot block persisted after retries",
		nil,
	)
}

// backoff returns the wait before the next retry: BaseWait doubled per
// attempt, capped at MaxWait.
func (t *HTTPTransport) backoff(attempt int) time.Duration {
	wait := t.policy.BaseWait << attempt
	if t.policy.MaxWait > 0 && wait > t.policy.MaxWait {
		wait = t.policy.MaxWait
	}
	return wait
}

// mapTransportError translates circuit breaker and network failures into
// domain-level AppErrors. Timeouts are not retried: the bot-block retry loop
// is reserved for the challenge-page signature alone.
func (t *HTTPTransport) mapTransportError(err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			"circuit breaker is open; payment gateway unavailable",
			err,
		)
	}

	return types.NewAppError(
		types.ErrCodeGatewayUnavailable,
		"payment gateway request failed",
		err,
	)
}

// sniffBotBlock inspects a 403 response for the anti-bot challenge markers.
// It consumes the body to check and returns a response with the body
// restored so downstream decoding still works.
func sniffBotBlock(resp *http.Response) (blocked bool, restored *http.Response, err error) {
	if resp.StatusCode != http.StatusForbidden {
		return false, resp, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if readErr != nil {
		return false, resp, readErr
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	text := string(body)
	for _, marker := range botBlockMarkers {
		if strings.Contains(text, marker) {
			return true, resp, nil
		}
	}
	return false, resp, nil
}
