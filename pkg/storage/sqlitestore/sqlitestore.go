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

// Package sqlitestore is the persistence.provider=sqlite adapter for
// storage.DeliveryStore, backed by the cgo-free modernc.org/sqlite driver.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/abcxyz/hookrelay/pkg/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS webhook_deliveries (
	delivery_id     TEXT PRIMARY KEY,
	event_name      TEXT NOT NULL,
	event_action    TEXT NOT NULL DEFAULT '',
	received_at     TEXT NOT NULL,
	payload         TEXT NOT NULL,
	installation_id INTEGER
);
`

// Store is a storage.DeliveryStore and storage.UnitOfWork backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at dsn and ensures
// the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Get implements storage.DeliveryStore.
func (s *Store) Get(ctx context.Context, deliveryID string) (*model.WebhookDelivery, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT delivery_id, event_name, event_action, received_at, payload, installation_id
		 FROM webhook_deliveries WHERE delivery_id = ?`, deliveryID)

	var d model.WebhookDelivery
	var receivedAt string
	var payload string
	var installationID sql.NullInt64
	if err := row.Scan(&d.DeliveryID, &d.EventName, &d.EventAction, &receivedAt, &payload, &installationID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan webhook_delivery row: %w", err)
	}

	parsed, err := time.Parse(time.RFC3339Nano, receivedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse received_at: %w", err)
	}
	d.ReceivedAt = parsed
	d.Payload = json.RawMessage(payload)
	if installationID.Valid {
		id := installationID.Int64
		d.InstallationID = &id
	}
	return &d, nil
}

// Save implements storage.DeliveryStore. Inserts are ignored on conflict so
// a repeated Save for the same delivery id is a no-op, matching spec.md §3's
// "never mutated" invariant.
func (s *Store) Save(ctx context.Context, delivery *model.WebhookDelivery) error {
	var installationID any
	if delivery.InstallationID != nil {
		installationID = *delivery.InstallationID
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_deliveries (delivery_id, event_name, event_action, received_at, payload, installation_id)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(delivery_id) DO NOTHING`,
		delivery.DeliveryID, delivery.EventName, delivery.EventAction,
		delivery.ReceivedAt.UTC().Format(time.RFC3339Nano), string(delivery.Payload), installationID)
	if err != nil {
		return fmt.Errorf("failed to insert webhook_delivery: %w", err)
	}
	return nil
}

// PruneOlderThan implements storage.DeliveryStore.
func (s *Store) PruneOlderThan(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhook_deliveries WHERE received_at < ?`,
		before.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to prune webhook_deliveries: %w", err)
	}
	return nil
}

// Close implements storage.DeliveryStore.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close sqlite database: %w", err)
	}
	return nil
}

// RunInTx implements storage.UnitOfWork. The unit of work the intake
// pipeline wraps (persist, then best-effort idempotency acquire) performs a
// single insert against this store, so a real multi-statement transaction
// buys nothing here; fn runs directly and any error propagates unchanged.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
