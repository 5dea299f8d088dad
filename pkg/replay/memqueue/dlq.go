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

package memqueue

import (
	"context"
	"sync"

	"github.com/abcxyz/hookrelay/pkg/model"
)

// DeadLetterQueue is a replay.DeadLetterQueue backed by a plain slice, the
// dead_letter_queue.provider=in_memory adapter.
type DeadLetterQueue struct {
	mu    sync.Mutex
	items []model.DeadLetterItem
}

// NewDeadLetterQueue creates an empty DeadLetterQueue.
func NewDeadLetterQueue() *DeadLetterQueue {
	return &DeadLetterQueue{}
}

// Add implements replay.DeadLetterQueue.
func (d *DeadLetterQueue) Add(ctx context.Context, item model.DeadLetterItem) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = append(d.items, item)
	return nil
}

// List implements replay.DeadLetterQueue.
func (d *DeadLetterQueue) List(ctx context.Context) ([]model.DeadLetterItem, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]model.DeadLetterItem, len(d.items))
	copy(out, d.items)
	return out, nil
}
