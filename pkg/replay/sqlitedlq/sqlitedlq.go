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

// Package sqlitedlq is the dead_letter_queue.provider=database adapter for
// replay.DeadLetterQueue when persistence.provider=sqlite, backed by the
// cgo-free modernc.org/sqlite driver, following the same idiom as
// pkg/storage/sqlitestore.
package sqlitedlq

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
CREATE TABLE IF NOT EXISTS dead_letter_items (
	id         TEXT PRIMARY KEY,
	command    TEXT NOT NULL,
	reason     TEXT NOT NULL,
	failed_at  TEXT NOT NULL,
	last_error TEXT NOT NULL
);
`

// DeadLetterQueue is a replay.DeadLetterQueue backed by SQLite.
type DeadLetterQueue struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at dsn and ensures
// the schema exists.
func Open(ctx context.Context, dsn string) (*DeadLetterQueue, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}
	return &DeadLetterQueue{db: db}, nil
}

// Add implements replay.DeadLetterQueue.
func (d *DeadLetterQueue) Add(ctx context.Context, item model.DeadLetterItem) error {
	cmd, err := json.Marshal(item.Command)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter command: %w", err)
	}

	_, err = d.db.ExecContext(ctx,
		`INSERT INTO dead_letter_items (id, command, reason, failed_at, last_error)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		item.ID, string(cmd), item.Reason, item.FailedAt.UTC().Format(time.RFC3339Nano), item.LastError)
	if err != nil {
		return fmt.Errorf("failed to insert dead_letter_item: %w", err)
	}
	return nil
}

// List implements replay.DeadLetterQueue.
func (d *DeadLetterQueue) List(ctx context.Context) ([]model.DeadLetterItem, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, command, reason, failed_at, last_error FROM dead_letter_items ORDER BY failed_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead_letter_items: %w", err)
	}
	defer rows.Close()

	var items []model.DeadLetterItem
	for rows.Next() {
		var item model.DeadLetterItem
		var cmd, failedAt string
		if err := rows.Scan(&item.ID, &cmd, &item.Reason, &failedAt, &item.LastError); err != nil {
			return nil, fmt.Errorf("failed to scan dead_letter_item row: %w", err)
		}
		if err := json.Unmarshal([]byte(cmd), &item.Command); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead-letter command: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, failedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse failed_at: %w", err)
		}
		item.FailedAt = parsed
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dead_letter_items: %w", err)
	}
	return items, nil
}

// Close releases the underlying database handle.
func (d *DeadLetterQueue) Close() error {
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("failed to close sqlite database: %w", err)
	}
	return nil
}
