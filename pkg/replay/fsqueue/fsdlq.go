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

package fsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/abcxyz/hookrelay/pkg/model"
)

// DeadLetterQueue is a replay.DeadLetterQueue backed by one JSON file per
// item under a directory, keyed by delivery id.
type DeadLetterQueue struct {
	mu  sync.Mutex
	dir string
}

// NewDeadLetterQueue creates a DeadLetterQueue rooted at dir, creating it
// if necessary.
func NewDeadLetterQueue(dir string) (*DeadLetterQueue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dead-letter directory %q: %w", dir, err)
	}
	return &DeadLetterQueue{dir: dir}, nil
}

// Add implements replay.DeadLetterQueue.
func (d *DeadLetterQueue) Add(ctx context.Context, item model.DeadLetterItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter item: %w", err)
	}

	path := filepath.Join(d.dir, item.ID+".json")
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write dead-letter file %q: %w", path, err)
	}
	return nil
}

// List implements replay.DeadLetterQueue.
func (d *DeadLetterQueue) List(ctx context.Context) ([]model.DeadLetterItem, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-letter directory %q: %w", d.dir, err)
	}

	items := make([]model.DeadLetterItem, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(d.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read dead-letter file %q: %w", e.Name(), err)
		}
		var item model.DeadLetterItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead-letter file %q: %w", e.Name(), err)
		}
		items = append(items, item)
	}
	return items, nil
}
