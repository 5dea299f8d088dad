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

package resilienthttp

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// countingTripper fails the first failUntil attempts with the given status
// (or a transport error if status is 0), then succeeds.
type countingTripper struct {
	attempts  int32
	failUntil int32
	status    int
}

func (c *countingTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	n := atomic.AddInt32(&c.attempts, 1)
	if n <= c.failUntil {
		if c.status == 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return &http.Response{
			StatusCode: c.status,
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     http.Header{},
		}, nil
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Header:     http.Header{},
	}, nil
}

func testConfig() *Config {
	return &Config{
		Timeout:             5 * time.Second,
		BreakerFailureRatio: 0.9,
		BreakerMinRequests:  100, // keep the breaker closed for retry-only tests
		BreakerOpenTimeout:  time.Millisecond,
		MaxRetries:          3,
		RetryBaseDelay:      time.Millisecond,
	}
}

func TestNewClient_RetriesRetryableStatus(t *testing.T) {
	t.Parallel()

	tripper := &countingTripper{failUntil: 2, status: http.StatusServiceUnavailable}
	client := NewClient(tripper, testConfig())

	req, err := http.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	if err != nil {
		t.Fatalf("NewRequest() unexpected error: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := atomic.LoadInt32(&tripper.attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestNewClient_DoesNotRetryNonRetryableStatus(t *testing.T) {
	t.Parallel()

	tripper := &countingTripper{failUntil: 100, status: http.StatusNotFound}
	client := NewClient(tripper, testConfig())

	req, err := http.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	if err != nil {
		t.Fatalf("NewRequest() unexpected error: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	if got := atomic.LoadInt32(&tripper.attempts); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on a non-retryable status)", got)
	}
}

func TestNewClient_ExhaustsRetriesAndFails(t *testing.T) {
	t.Parallel()

	tripper := &countingTripper{failUntil: 1000, status: http.StatusBadGateway}
	cfg := testConfig()
	cfg.MaxRetries = 2
	client := NewClient(tripper, cfg)

	req, err := http.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	if err != nil {
		t.Fatalf("NewRequest() unexpected error: %v", err)
	}

	_, err = client.Do(req)
	if err == nil {
		t.Fatal("Do() expected an error after exhausting retries, got nil")
	}
	// maxRetries=2 means 1 initial attempt + 2 retries = 3 total.
	if got := atomic.LoadInt32(&tripper.attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestNewClient_BreakerOpensAfterFailureRatio(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := &Config{
		Timeout:             5 * time.Second,
		BreakerFailureRatio: 0.5,
		BreakerMinRequests:  2,
		BreakerOpenTimeout:  time.Minute,
		MaxRetries:          0,
		RetryBaseDelay:      time.Millisecond,
	}
	client := NewClient(http.DefaultTransport, cfg)

	for i := 0; i < 3; i++ {
		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		if err != nil {
			t.Fatalf("NewRequest() unexpected error: %v", err)
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
		}
	}

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest() unexpected error: %v", err)
	}
	_, err = client.Do(req)
	if err == nil {
		t.Fatal("Do() expected an error once the breaker has opened, got nil")
	}
	if !strings.Contains(err.Error(), "circuit breaker open") {
		t.Errorf("Do() error = %v, want it to mention the open circuit breaker", err)
	}
}

func TestNewClient_BreakerOpensOnTooManyRequests(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	cfg := &Config{
		Timeout:             5 * time.Second,
		BreakerFailureRatio: 0.5,
		BreakerMinRequests:  2,
		BreakerOpenTimeout:  time.Minute,
		MaxRetries:          0,
		RetryBaseDelay:      time.Millisecond,
	}
	client := NewClient(http.DefaultTransport, cfg)

	for i := 0; i < 3; i++ {
		req, err := http.NewRequest(http.MethodGet, server.URL, nil)
		if err != nil {
			t.Fatalf("NewRequest() unexpected error: %v", err)
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
		}
	}

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest() unexpected error: %v", err)
	}
	_, err = client.Do(req)
	if err == nil {
		t.Fatal("Do() expected an error once the breaker has opened on repeated 429s, got nil")
	}
	if !strings.Contains(err.Error(), "circuit breaker open") {
		t.Errorf("Do() error = %v, want it to mention the open circuit breaker", err)
	}
}

func TestIsFailureStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		code int
		want bool
	}{
		{"ok", http.StatusOK, false},
		{"not_found", http.StatusNotFound, false},
		{"request_timeout", http.StatusRequestTimeout, false},
		{"too_many_requests", http.StatusTooManyRequests, true},
		{"internal_server_error", http.StatusInternalServerError, true},
		{"bad_gateway", http.StatusBadGateway, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := isFailureStatus(tc.code); got != tc.want {
				t.Errorf("isFailureStatus(%d) = %v, want %v", tc.code, got, tc.want)
			}
		})
	}
}

func TestShouldRetryStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		code int
		want bool
	}{
		{"ok", http.StatusOK, false},
		{"not_found", http.StatusNotFound, false},
		{"request_timeout", http.StatusRequestTimeout, true},
		{"too_many_requests", http.StatusTooManyRequests, true},
		{"service_unavailable", http.StatusServiceUnavailable, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := shouldRetryStatus(tc.code); got != tc.want {
				t.Errorf("shouldRetryStatus(%d) = %v, want %v", tc.code, got, tc.want)
			}
		})
	}
}

func TestNewClient_TimeoutBoundsSlowRequest(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Timeout = 10 * time.Millisecond
	cfg.MaxRetries = 0
	client := NewClient(http.DefaultTransport, cfg)

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest() unexpected error: %v", err)
	}

	_, err = client.Do(req)
	if err == nil {
		t.Fatal("Do() expected a timeout error, got nil")
	}
}

func TestNewClient_RetriesWithRequestBody(t *testing.T) {
	t.Parallel()

	tripper := &bodyCapturingTripper{failUntil: 1}
	client := NewClient(tripper, testConfig())

	req, err := http.NewRequest(http.MethodPost, "http://example.invalid/", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("NewRequest() unexpected error: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() unexpected error: %v", err)
	}
	defer resp.Body.Close()

	gotBodies := tripper.bodies
	if len(gotBodies) != 2 {
		t.Fatalf("got %d attempts, want 2", len(gotBodies))
	}
	for i, b := range gotBodies {
		if b != "payload" {
			t.Errorf("attempt %d body = %q, want %q", i, b, "payload")
		}
	}
}

// bodyCapturingTripper records the request body seen on every attempt, to
// verify the retry tripper re-sends the original body rather than an
// already-drained reader.
type bodyCapturingTripper struct {
	attempts  int32
	failUntil int32
	bodies    []string
}

func (b *bodyCapturingTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	body, _ := io.ReadAll(req.Body)
	b.bodies = append(b.bodies, string(body))

	n := atomic.AddInt32(&b.attempts, 1)
	if n <= b.failUntil {
		return &http.Response{
			StatusCode: http.StatusServiceUnavailable,
			Body:       io.NopCloser(strings.NewReader("")),
			Header:     http.Header{},
		}, nil
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Header:     http.Header{},
	}, nil
}
