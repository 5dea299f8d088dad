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

// Package fsqueue is the replay_queue.provider=filesystem adapter: one JSON
// file per queued command under a directory, ordered by filename so
// dequeue is oldest-first.
package fsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abcxyz/hookrelay/pkg/model"
)

// Queue is a replay.Queue backed by a directory of JSON files.
type Queue struct {
	mu  sync.Mutex
	dir string
}

// New creates a Queue rooted at dir, creating it if necessary.
func New(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory %q: %w", dir, err)
	}
	return &Queue{dir: dir}, nil
}

// Enqueue implements replay.Queue. The filename is a timestamp prefix plus
// a random suffix so concurrent enqueues never collide and directory
// listing sorts oldest-first.
func (q *Queue) Enqueue(ctx context.Context, cmd model.EnqueueReplayCommand) error {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal replay command: %w", err)
	}

	name := fmt.Sprintf("%020d-%s.json", time.Now().UnixNano(), uuid.NewString())
	path := filepath.Join(q.dir, name)

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write queue file %q: %w", path, err)
	}
	return nil
}

// Dequeue implements replay.Queue.
func (q *Queue) Dequeue(ctx context.Context) (model.EnqueueReplayCommand, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	names, err := q.sortedNames()
	if err != nil {
		return model.EnqueueReplayCommand{}, false, err
	}
	if len(names) == 0 {
		return model.EnqueueReplayCommand{}, false, nil
	}

	path := filepath.Join(q.dir, names[0])
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.EnqueueReplayCommand{}, false, fmt.Errorf("failed to read queue file %q: %w", path, err)
	}

	var cmd model.EnqueueReplayCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return model.EnqueueReplayCommand{}, false, fmt.Errorf("failed to unmarshal queue file %q: %w", path, err)
	}

	if err := os.Remove(path); err != nil {
		return model.EnqueueReplayCommand{}, false, fmt.Errorf("failed to remove queue file %q: %w", path, err)
	}
	return cmd, true, nil
}

// Depth implements replay.Queue.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	names, err := q.sortedNames()
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

func (q *Queue) sortedNames() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue directory %q: %w", q.dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
