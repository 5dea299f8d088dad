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

// Package replay implements the retry worker that pulls queued
// EnqueueReplayCommands and re-invokes the intake pipeline, escalating
// repeated failures to a dead-letter queue (spec.md §4.3).
package replay

import (
	"context"
	"time"

	"github.com/abcxyz/hookrelay/pkg/model"
)

// Queue is the abstract contract for the replay worker's backing store.
// Implementations need not preserve strict FIFO order across process
// restarts; the worker tolerates reordering since each command carries its
// own attempt counter.
type Queue interface {
	// Enqueue adds cmd to the queue.
	Enqueue(ctx context.Context, cmd model.EnqueueReplayCommand) error

	// Dequeue removes and returns the next command, or ok=false if the
	// queue is empty.
	Dequeue(ctx context.Context) (cmd model.EnqueueReplayCommand, ok bool, err error)

	// Depth reports the current queue length, sampled for the
	// webhook_replay_queue_depth gauge.
	Depth(ctx context.Context) (int, error)
}

// DeadLetterQueue is the abstract contract for escalated replay commands
// (spec.md "DeadLetterItem... Created when attempt >= max_attempts").
type DeadLetterQueue interface {
	// Add stores item.
	Add(ctx context.Context, item model.DeadLetterItem) error

	// List returns all dead-lettered items, for inspection/requeue tooling.
	List(ctx context.Context) ([]model.DeadLetterItem, error)
}

// Locker models the worker's cooperative single-consumer-per-host lease
// (spec.md "cooperative single consumer per host").
type Locker interface {
	// Acquire claims the lease, returning an error without waiting if it is
	// already held. ttl bounds how long the lease is valid absent a renewal.
	Acquire(ctx context.Context, ttl time.Duration) error

	// Release gives up the lease.
	Release(ctx context.Context) error
}
