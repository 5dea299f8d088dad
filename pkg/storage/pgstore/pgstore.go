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

// Package pgstore is the persistence.provider=postgres adapter for
// storage.DeliveryStore, backed by jackc/pgx.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abcxyz/hookrelay/pkg/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS webhook_deliveries (
	delivery_id     TEXT PRIMARY KEY,
	event_name      TEXT NOT NULL,
	event_action    TEXT NOT NULL DEFAULT '',
	received_at     TIMESTAMPTZ NOT NULL,
	payload         JSONB NOT NULL,
	installation_id BIGINT
);
`

// Store is a storage.DeliveryStore and storage.UnitOfWork backed by
// PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to postgres at connString and ensures the schema exists.
func Open(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Get implements storage.DeliveryStore.
func (s *Store) Get(ctx context.Context, deliveryID string) (*model.WebhookDelivery, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT delivery_id, event_name, event_action, received_at, payload, installation_id
		 FROM webhook_deliveries WHERE delivery_id = $1`, deliveryID)

	var d model.WebhookDelivery
	var installationID *int64
	if err := row.Scan(&d.DeliveryID, &d.EventName, &d.EventAction, &d.ReceivedAt, &d.Payload, &installationID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan webhook_delivery row: %w", err)
	}
	d.InstallationID = installationID
	return &d, nil
}

// Save implements storage.DeliveryStore.
func (s *Store) Save(ctx context.Context, delivery *model.WebhookDelivery) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO webhook_deliveries (delivery_id, event_name, event_action, received_at, payload, installation_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (delivery_id) DO NOTHING`,
		delivery.DeliveryID, delivery.EventName, delivery.EventAction,
		delivery.ReceivedAt, delivery.Payload, delivery.InstallationID)
	if err != nil {
		return fmt.Errorf("failed to insert webhook_delivery: %w", err)
	}
	return nil
}

// PruneOlderThan implements storage.DeliveryStore.
func (s *Store) PruneOlderThan(ctx context.Context, before time.Time) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM webhook_deliveries WHERE received_at < $1`, before); err != nil {
		return fmt.Errorf("failed to prune webhook_deliveries: %w", err)
	}
	return nil
}

// Close implements storage.DeliveryStore.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// RunInTx implements storage.UnitOfWork. The intake pipeline's unit of work
// wraps a single delivery insert, so there is no multi-statement atomicity to
// buy here; fn runs directly against the pool and callers that need a real
// transaction should acquire one themselves via s.pool.Begin.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
