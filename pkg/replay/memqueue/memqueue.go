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

// Package memqueue is the replay_queue.provider=in_memory adapter.
package memqueue

import (
	"context"
	"sync"

	"github.com/abcxyz/hookrelay/pkg/model"
)

// Queue is a replay.Queue backed by a plain slice, FIFO within a single
// process.
type Queue struct {
	mu    sync.Mutex
	items []model.EnqueueReplayCommand
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue implements replay.Queue.
func (q *Queue) Enqueue(ctx context.Context, cmd model.EnqueueReplayCommand) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, cmd)
	return nil
}

// Dequeue implements replay.Queue.
func (q *Queue) Dequeue(ctx context.Context) (model.EnqueueReplayCommand, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return model.EnqueueReplayCommand{}, false, nil
	}
	cmd := q.items[0]
	q.items = q.items[1:]
	return cmd, true, nil
}

// Depth implements replay.Queue.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}
