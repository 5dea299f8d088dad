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

// Package storage defines the abstract contract the intake pipeline depends
// on for durable delivery persistence. Concrete adapters (in-memory, sqlite,
// postgres) live in subpackages and are selected at startup by
// persistence.provider; the pipeline itself only ever sees this interface
// (spec.md §1 "the core depends only on their abstract contracts").
package storage

import (
	"context"
	"time"

	"github.com/abcxyz/hookrelay/pkg/model"
)

// DeliveryStore is the exclusive write/read path for WebhookDelivery
// records. Only the webhook-intake use case writes to it (spec.md §3
// "Ownership").
type DeliveryStore interface {
	// Get returns the delivery for deliveryID, or (nil, nil) if it does not
	// exist.
	Get(ctx context.Context, deliveryID string) (*model.WebhookDelivery, error)

	// Save persists a new delivery. Implementations must not allow a second
	// Save for the same DeliveryID to change the stored record.
	Save(ctx context.Context, delivery *model.WebhookDelivery) error

	// PruneOlderThan deletes deliveries received before the given instant.
	// Retention policy is external to this spec (spec.md §3); adapters that
	// have no natural notion of pruning (e.g. the in-memory adapter used only
	// for tests) may implement this as a no-op.
	PruneOlderThan(ctx context.Context, before time.Time) error

	// Close releases any resources held by the store.
	Close() error
}

// UnitOfWork runs fn as one unit of work. The intake pipeline's
// persist-then-acquire-idempotency-key steps (spec.md §4.1, steps 3-4) run
// through it. The in-memory, sqlite and postgres adapters run fn directly
// without a database transaction, so a Save that has completed stays
// durable even if ctx is canceled afterwards.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
