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

// Package pgdlq is the dead_letter_queue.provider=database adapter for
// replay.DeadLetterQueue when persistence.provider=postgres, backed by
// jackc/pgx following the same pool-and-schema idiom as pkg/storage/pgstore.
package pgdlq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abcxyz/hookrelay/pkg/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS dead_letter_items (
	id         TEXT PRIMARY KEY,
	command    JSONB NOT NULL,
	reason     TEXT NOT NULL,
	failed_at  TIMESTAMPTZ NOT NULL,
	last_error TEXT NOT NULL
);
`

// DeadLetterQueue is a replay.DeadLetterQueue backed by PostgreSQL.
type DeadLetterQueue struct {
	pool *pgxpool.Pool
}

// Open connects to postgres at connString and ensures the schema exists.
func Open(ctx context.Context, connString string) (*DeadLetterQueue, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate postgres schema: %w", err)
	}
	return &DeadLetterQueue{pool: pool}, nil
}

// Add implements replay.DeadLetterQueue.
func (d *DeadLetterQueue) Add(ctx context.Context, item model.DeadLetterItem) error {
	cmd, err := json.Marshal(item.Command)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter command: %w", err)
	}

	_, err = d.pool.Exec(ctx,
		`INSERT INTO dead_letter_items (id, command, reason, failed_at, last_error)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		item.ID, cmd, item.Reason, item.FailedAt, item.LastError)
	if err != nil {
		return fmt.Errorf("failed to insert dead_letter_item: %w", err)
	}
	return nil
}

// List implements replay.DeadLetterQueue.
func (d *DeadLetterQueue) List(ctx context.Context) ([]model.DeadLetterItem, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, command, reason, failed_at, last_error FROM dead_letter_items ORDER BY failed_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead_letter_items: %w", err)
	}
	defer rows.Close()

	var items []model.DeadLetterItem
	for rows.Next() {
		var item model.DeadLetterItem
		var cmd []byte
		var failedAt time.Time
		if err := rows.Scan(&item.ID, &cmd, &item.Reason, &failedAt, &item.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan dead_letter_item row: %w", err)
		}
		if err := json.Unmarshal(cmd, &item.Command); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead-letter command: %w", err)
		}
		item.FailedAt = failedAt
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dead_letter_items: %w", err)
	}
	return items, nil
}

// Close releases the underlying connection pool.
func (d *DeadLetterQueue) Close() error {
	d.pool.Close()
	return nil
}
