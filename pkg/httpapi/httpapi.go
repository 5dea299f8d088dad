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

// Package httpapi is the HTTP surface described in spec.md §6: POST
// /webhooks into the intake pipeline, GET /health for startup readiness,
// GET /version, and a Prometheus /metrics endpoint. Grounded on
// pkg/webhook/server.go's Routes/handleVersion idiom.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/abcxyz/pkg/healthcheck"
	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/hookrelay/pkg/idempotency"
	"github.com/abcxyz/hookrelay/pkg/metrics"
	"github.com/abcxyz/hookrelay/pkg/model"
	"github.com/abcxyz/hookrelay/pkg/result"
	"github.com/abcxyz/hookrelay/pkg/version"
	"github.com/abcxyz/hookrelay/pkg/webhook"
)

const (
	// SHA256SignatureHeader is the GitHub header key used to pass the
	// HMAC-SHA256 hexdigest.
	SHA256SignatureHeader = "X-Hub-Signature-256"
	// EventTypeHeader is the GitHub header key used to pass the event type.
	EventTypeHeader = "X-Github-Event"
	// DeliveryIDHeader is the GitHub header key used to pass the unique ID
	// for the webhook event.
	DeliveryIDHeader = "X-Github-Delivery"

	// mb is used for conversion to megabytes.
	mb = 1000000
	// maxBodyBytes is the webhook payload size cap (spec.md §5).
	maxBodyBytes = 25 * mb

	// duplicateShortCircuitTTL is the HTTP middleware's fast-path claim
	// lifetime (spec.md §6 "Middleware TTL: 24 hours").
	duplicateShortCircuitTTL = 24 * time.Hour

	// receiveDeadline bounds how long a single /webhooks request may run;
	// past it the client gets a 503.
	receiveDeadline = 10 * time.Second
)

// Pipeline is the subset of webhook.Pipeline the HTTP layer drives.
type Pipeline interface {
	Process(ctx context.Context, cmd model.ProcessWebhookCommand) result.Result
}

var _ Pipeline = (*webhook.Pipeline)(nil)

// Server wires the intake pipeline to the HTTP surface.
type Server struct {
	pipeline    Pipeline
	idempotency idempotency.Store
	ready       atomic.Bool
}

// New constructs a Server. idem may be nil to disable the duplicate
// short-circuit middleware (the pipeline's own duplicate check still
// applies).
func New(pipeline Pipeline, idem idempotency.Store) *Server {
	return &Server{pipeline: pipeline, idempotency: idem}
}

// MarkReady flips /health to report ready. Call once startup has resolved
// dependencies and sealed handler registrations (spec.md §6 "Health").
func (s *Server) MarkReady() {
	s.ready.Store(true)
}

// Routes builds the top-level mux.
func (s *Server) Routes(ctx context.Context) http.Handler {
	logger := logging.FromContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/health", s.handleHealth())
	mux.Handle("/version", s.handleVersion())
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/webhooks", http.TimeoutHandler(s.duplicateShortCircuit(s.handleWebhook()), receiveDeadline, "request timed out"))

	root := logging.HTTPInterceptor(logger, "")(mux)
	return root
}

func (s *Server) handleHealth() http.Handler {
	inner := healthcheck.HandleHTTPHealthCheck()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "starting up")
			return
		}
		inner.ServeHTTP(w, r)
	})
}

func (s *Server) handleVersion() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"version":%q}`, version.HumanVersion)
	})
}

// duplicateShortCircuit is the HTTP-layer fast path from spec.md §6: a
// second delivery for an already-claimed delivery id short-circuits to 202
// without running the pipeline. The pipeline's own duplicate check (via
// the delivery store) remains authoritative; this is a best-effort
// accelerant, same as the pipeline's own idempotency step.
func (s *Server) duplicateShortCircuit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.idempotency == nil {
			next.ServeHTTP(w, r)
			return
		}

		deliveryID := r.Header.Get(DeliveryIDHeader)
		if deliveryID == "" {
			next.ServeHTTP(w, r)
			return
		}

		key := model.IdempotencyKey{DeliveryID: deliveryID}
		acquired, err := s.idempotency.TryAcquire(r.Context(), key, duplicateShortCircuitTTL)
		if err != nil {
			// Fast-path store is unavailable; fall through to the pipeline's
			// authoritative check rather than fail the request.
			next.ServeHTTP(w, r)
			return
		}
		if !acquired {
			w.WriteHeader(http.StatusAccepted)
			fmt.Fprint(w, "already been processed")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWebhook() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := logging.FromContext(r.Context())

		deliveryID := r.Header.Get(DeliveryIDHeader)
		eventName := r.Header.Get(EventTypeHeader)
		signature := r.Header.Get(SHA256SignatureHeader)

		if deliveryID == "" || eventName == "" || signature == "" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "missing required webhook headers")
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to read webhook body", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "failed to read request body")
			return
		}
		if len(payload) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, "no payload received")
			return
		}

		cmd := model.ProcessWebhookCommand{
			DeliveryID:     deliveryID,
			EventName:      eventName,
			EventAction:    extractAction(payload),
			Payload:        json.RawMessage(payload),
			RawPayload:     payload,
			Signature:      signature,
			InstallationID: extractInstallationID(payload),
		}

		res := s.pipeline.Process(r.Context(), cmd)
		status, body := responseFor(res)
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	})
}

func extractAction(payload []byte) string {
	var envelope struct {
		Action string `json:"action"`
	}
	_ = json.Unmarshal(payload, &envelope)
	return envelope.Action
}

func extractInstallationID(payload []byte) *int64 {
	var envelope struct {
		Installation *struct {
			ID int64 `json:"id"`
		} `json:"installation"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Installation == nil {
		return nil
	}
	id := envelope.Installation.ID
	return &id
}

// responseFor maps a pipeline Result to the HTTP status/body contract in
// spec.md §6.
func responseFor(res result.Result) (int, string) {
	switch res.Code {
	case result.CodeOK, result.CodeWebhookDuplicateDelivery:
		return http.StatusAccepted, "accepted"
	case result.CodeWebhookSignatureInvalid:
		return http.StatusUnauthorized, "failed to validate webhook signature"
	case result.CodeWebhookSecretUnavailable, result.CodeWebhookSecretEmpty:
		return http.StatusInternalServerError, "webhook secret is not configured"
	default:
		return http.StatusInternalServerError, "failed to process webhook"
	}
}
