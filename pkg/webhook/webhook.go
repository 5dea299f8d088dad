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

// Package webhook implements the intake pipeline (spec.md §4.1): turning an
// authenticated, non-duplicate HTTP webhook delivery into a persisted
// WebhookDelivery and a best-effort handler fan-out. Steps 3-4 (persist and
// idempotency claim) run through storage.UnitOfWork; step 5 (routing) runs
// after them so handler side-effects can never roll back persistence.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/hookrelay/pkg/idempotency"
	"github.com/abcxyz/hookrelay/pkg/metrics"
	"github.com/abcxyz/hookrelay/pkg/model"
	"github.com/abcxyz/hookrelay/pkg/resilienthttp"
	"github.com/abcxyz/hookrelay/pkg/result"
	"github.com/abcxyz/hookrelay/pkg/router"
	"github.com/abcxyz/hookrelay/pkg/storage"
)

// defaultIdempotencyTTL is the fast-path claim lifetime (spec.md §4.1 step
// 4 "ttl = 24h").
const defaultIdempotencyTTL = 24 * time.Hour

// SecretSource reads the webhook's HMAC secret from the app's configuration
// port (spec.md §4.1 step 1). A lookup error maps to
// result.CodeWebhookSecretUnavailable; a nil error with an empty string
// maps to result.CodeWebhookSecretEmpty.
type SecretSource interface {
	WebhookSecret(ctx context.Context) (string, error)
}

// StaticSecret is a SecretSource for a secret that is already resolved at
// startup (e.g. read once from an env var or mounted file).
type StaticSecret string

// WebhookSecret implements SecretSource.
func (s StaticSecret) WebhookSecret(ctx context.Context) (string, error) {
	return string(s), nil
}

// InstallationClientBuilder mints an installation-authenticated, resilient
// *http.Client for a delivery's installation (pkg/installationauth
// implements this).
type InstallationClientBuilder interface {
	HTTPClient(ctx context.Context, installationID int64, repositories []string, cfg *resilienthttp.Config) (*http.Client, result.Result)
}

// Pipeline implements replay.Pipeline and is the HTTP handler's entry
// point: both first-time processing and replayed processing call the same
// Process method.
type Pipeline struct {
	secrets        SecretSource
	deliveries     storage.DeliveryStore
	uow            storage.UnitOfWork
	idempotency    idempotency.Store
	idempotencyTTL time.Duration
	router         *router.Registry
	clients        InstallationClientBuilder
	dryRun         bool
	now            func() time.Time
}

// Config configures a Pipeline. Idempotency and Clients may be nil: a nil
// Idempotency store simply skips step 4 (the delivery store remains
// authoritative); a nil Clients builder produces handler contexts with a
// nil HTTPClient for deliveries carrying an installation.
type Config struct {
	Secrets        SecretSource
	Deliveries     storage.DeliveryStore
	UnitOfWork     storage.UnitOfWork
	Idempotency    idempotency.Store
	IdempotencyTTL time.Duration
	Router         *router.Registry
	Clients        InstallationClientBuilder

	// DryRun is threaded onto every dispatched router.Context (spec.md
	// §4.2 "Dry-run behaviour"). Handlers built with router.Act skip their
	// side effect and log the action instead when this is set.
	DryRun bool
}

// New constructs a Pipeline.
func New(cfg *Config) *Pipeline {
	ttl := cfg.IdempotencyTTL
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return &Pipeline{
		secrets:        cfg.Secrets,
		deliveries:     cfg.Deliveries,
		uow:            cfg.UnitOfWork,
		idempotency:    cfg.Idempotency,
		idempotencyTTL: ttl,
		router:         cfg.Router,
		clients:        cfg.Clients,
		dryRun:         cfg.DryRun,
		now:            time.Now,
	}
}

// Process runs the railway pipeline described in spec.md §4.1. Exactly one
// of metrics.Processed, metrics.Duplicate, or a failure path fires per
// call.
func (p *Pipeline) Process(ctx context.Context, cmd model.ProcessWebhookCommand) result.Result {
	logger := logging.FromContext(ctx)
	start := p.now()
	defer func() {
		metrics.ProcessingDuration.WithLabelValues(cmd.EventName).Observe(p.now().Sub(start).Seconds())
	}()

	secret, err := p.secrets.WebhookSecret(ctx)
	if err != nil {
		return result.New(result.CodeWebhookSecretUnavailable, "failed to read webhook secret", err)
	}
	if secret == "" {
		return result.New(result.CodeWebhookSecretEmpty, "webhook secret is configured empty", nil)
	}

	if !isValidSignature(secret, cmd.RawPayload, cmd.Signature) {
		metrics.SignatureInvalid.Inc()
		return result.New(result.CodeWebhookSignatureInvalid, "webhook signature does not match payload", nil)
	}

	existing, err := p.deliveries.Get(ctx, cmd.DeliveryID)
	if err != nil {
		return result.New(result.CodeStorageReadFailed, "failed to check for a duplicate delivery", err)
	}
	if existing != nil {
		metrics.Duplicate.Inc()
		return result.New(result.CodeWebhookDuplicateDelivery, "delivery already processed", nil)
	}

	delivery := &model.WebhookDelivery{
		DeliveryID:     cmd.DeliveryID,
		EventName:      cmd.EventName,
		EventAction:    cmd.EventAction,
		ReceivedAt:     p.now(),
		Payload:        cmd.Payload,
		InstallationID: cmd.InstallationID,
	}

	if err := p.uow.RunInTx(ctx, func(ctx context.Context) error {
		if err := p.deliveries.Save(ctx, delivery); err != nil {
			return err
		}

		if p.idempotency != nil {
			key := model.IdempotencyKey{DeliveryID: cmd.DeliveryID}
			if _, err := p.idempotency.TryAcquire(ctx, key, p.idempotencyTTL); err != nil {
				// Non-fatal: the delivery store above is the authoritative
				// dedup source (spec.md §4.1 step 4).
				logger.WarnContext(ctx, "failed to acquire idempotency fast-path key",
					"delivery_id", cmd.DeliveryID, "error", err)
			}
		}
		return nil
	}); err != nil {
		return result.New(result.CodeStorageWriteFailed, "failed to persist webhook delivery", err)
	}

	metrics.Processed.Inc()

	p.route(ctx, cmd)

	return result.OK()
}

// route builds the router context and dispatches, outside the unit of work
// (spec.md §4.1 "step 5 runs after commit"). Failures here are logged and
// metered but never change the pipeline's result.
func (p *Pipeline) route(ctx context.Context, cmd model.ProcessWebhookCommand) {
	logger := logging.FromContext(ctx)

	rc, err := p.buildContext(ctx, cmd)
	if err != nil {
		metrics.RoutingErrors.WithLabelValues(cmd.EventName).Inc()
		logger.ErrorContext(ctx, "failed to build handler context", "delivery_id", cmd.DeliveryID, "error", err)
		return
	}

	if p.router == nil {
		return
	}

	if err := p.router.Dispatch(ctx, rc); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		metrics.RoutingErrors.WithLabelValues(cmd.EventName).Inc()
		logger.ErrorContext(ctx, "router dispatch failed", "delivery_id", cmd.DeliveryID, "error", err)
	}
}

// isValidSignature implements spec.md §4.1 step 1: HMAC-SHA256 over the raw
// payload, hex-encoded and sha256=-prefixed, compared in constant time.
func isValidSignature(secret string, payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(signature), []byte(want)) == 1
}
