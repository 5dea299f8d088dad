// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package resilienthttp builds the outbound HTTP transport used for every
// call to the GitHub API (spec.md §4.5): a timeout, wrapped by a circuit
// breaker, wrapped by a retry-with-backoff-and-jitter layer. REST (via
// google/go-github) and GraphQL traffic share the same stack so both get
// identical resilience behavior.
package resilienthttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
)

// Config controls the resilience stack's tunables. Zero values fall back to
// the defaults below.
type Config struct {
	// Timeout bounds a single round trip attempt.
	Timeout time.Duration

	// BreakerName identifies the breaker in logs/metrics; useful when a
	// process runs multiple independent breakers (e.g. REST vs GraphQL).
	BreakerName string
	// BreakerFailureRatio opens the breaker once this fraction of requests
	// in the rolling window fail.
	BreakerFailureRatio float64
	// BreakerMinRequests is the minimum request volume in the rolling
	// window before the failure ratio is evaluated.
	BreakerMinRequests uint32
	// BreakerOpenTimeout is how long the breaker stays open before probing
	// again.
	BreakerOpenTimeout time.Duration
	// BreakerWindow is the rolling sampling window used to evaluate
	// BreakerFailureRatio; gobreaker.Settings.Interval clears counts on this
	// cadence while the breaker is closed.
	BreakerWindow time.Duration

	// MaxRetries bounds retry-tripper attempts after the first try.
	MaxRetries uint64
	// RetryBaseDelay is the base exponential-backoff delay.
	RetryBaseDelay time.Duration
}

const (
	defaultTimeout             = 30 * time.Second
	defaultBreakerFailureRatio = 0.5
	defaultBreakerMinRequests  = 5
	defaultBreakerOpenTimeout  = 30 * time.Second
	defaultBreakerWindow       = 30 * time.Second
	defaultMaxRetries          = 3
	defaultRetryBaseDelay      = 2 * time.Second
)

func (c *Config) withDefaults() *Config {
	out := *c
	if out.Timeout <= 0 {
		out.Timeout = defaultTimeout
	}
	if out.BreakerFailureRatio <= 0 {
		out.BreakerFailureRatio = defaultBreakerFailureRatio
	}
	if out.BreakerMinRequests <= 0 {
		out.BreakerMinRequests = defaultBreakerMinRequests
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = defaultBreakerOpenTimeout
	}
	if out.BreakerWindow <= 0 {
		out.BreakerWindow = defaultBreakerWindow
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = defaultMaxRetries
	}
	if out.RetryBaseDelay <= 0 {
		out.RetryBaseDelay = defaultRetryBaseDelay
	}
	return &out
}

// NewClient returns an *http.Client whose Transport is base (or
// http.DefaultTransport if nil) wrapped in timeout, circuit-breaker, and
// retry layers, outermost first: retryTripper -> breakerTripper ->
// timeoutTripper -> base.
func NewClient(base http.RoundTripper, cfg *Config) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	c := cfg.withDefaults()

	t := &timeoutTripper{next: base, timeout: c.Timeout}
	b := &breakerTripper{next: t, breaker: newBreaker(c)}
	r := &retryTripper{next: b, maxRetries: c.MaxRetries, baseDelay: c.RetryBaseDelay}

	return &http.Client{Transport: r}
}

func newBreaker(c *Config) *gobreaker.CircuitBreaker {
	st := gobreaker.Settings{
		Name:        c.BreakerName,
		MaxRequests: 1, // single probe in half-open state
		Interval:    c.BreakerWindow,
		Timeout:     c.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < c.BreakerMinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= c.BreakerFailureRatio
		},
	}
	return gobreaker.NewCircuitBreaker(st)
}

// timeoutTripper bounds a single attempt's duration by deriving a
// request-scoped context with a deadline.
type timeoutTripper struct {
	next    http.RoundTripper
	timeout time.Duration
}

func (t *timeoutTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	defer cancel()
	resp, err := t.next.RoundTrip(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("request timed out or failed: %w", err)
	}
	return resp, nil
}

// breakerTripper short-circuits requests while the upstream is unhealthy,
// per spec.md §4.5's "circuit breaker" layer.
type breakerTripper struct {
	next    http.RoundTripper
	breaker *gobreaker.CircuitBreaker
}

func (t *breakerTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	result, err := t.breaker.Execute(func() (any, error) {
		resp, err := t.next.RoundTrip(req)
		if err != nil {
			return nil, err
		}
		if isFailureStatus(resp.StatusCode) {
			// Drain and close so the breaker sees the failure without leaking
			// the connection; callers never see this response.
			resp.Body.Close()
			return nil, fmt.Errorf("upstream returned status %d", resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("circuit breaker open: %w", err)
		}
		return nil, err
	}
	return result.(*http.Response), nil
}

// retryTripper retries transient failures with exponential backoff and
// jitter, mirroring the retry idiom used elsewhere against the GitHub API
// but generalized into transport middleware so both REST and GraphQL
// clients share it.
type retryTripper struct {
	next       http.RoundTripper
	maxRetries uint64
	baseDelay  time.Duration
}

func (t *retryTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var reqBody []byte
	if req.Body != nil {
		b, err := readAndRestore(req)
		if err != nil {
			return nil, err
		}
		reqBody = b
	}

	backoff := retry.NewExponential(t.baseDelay)
	backoff = retry.WithMaxRetries(t.maxRetries, backoff)
	backoff = retry.WithJitterPercent(10, backoff)

	var resp *http.Response
	if err := retry.Do(req.Context(), backoff, func(ctx context.Context) error {
		attemptReq := req.Clone(ctx)
		if reqBody != nil {
			attemptReq.Body = newBodyReader(reqBody)
		}

		r, err := t.next.RoundTrip(attemptReq)
		if err != nil {
			if isCircuitBreakerOpen(err) {
				// The breaker is the source of truth for upstream health; don't
				// hammer it with retries while it's open.
				return err
			}
			return retry.RetryableError(err)
		}
		if shouldRetryStatus(r.StatusCode) {
			r.Body.Close()
			return retry.RetryableError(fmt.Errorf("retryable status %d", r.StatusCode))
		}
		resp = r
		return nil
	}); err != nil {
		return nil, fmt.Errorf("request failed after retries: %w", err)
	}
	return resp, nil
}

// isFailureStatus reports whether code is a circuit-breaker failure per
// spec.md §4.5's predicate: HTTP 429 or HTTP >= 500. breakerTripper uses it
// directly; shouldRetryStatus builds on it so the two trippers can never
// diverge on which statuses count as upstream unhealth.
func isFailureStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// shouldRetryStatus reports whether retryTripper should retry code: every
// breaker failure status, plus 408 (request timeout), which the breaker
// doesn't count as upstream unhealth but is still worth one more attempt.
func shouldRetryStatus(code int) bool {
	return isFailureStatus(code) || code == http.StatusRequestTimeout
}

func isCircuitBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
