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

// Package redisqueue is the replay_queue.provider=redis adapter: a Redis
// list used as a FIFO via RPUSH/LPOP. The dead-letter queue has no redis
// adapter (spec.md §6 enumerates dead_letter_queue.provider as in_memory,
// filesystem, or database only); see pkg/replay/pgdlq and
// pkg/replay/sqlitedlq for that provider's database-backed adapters.
package redisqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/abcxyz/hookrelay/pkg/model"
)

const defaultQueueKey = "hookrelay:replay:queue"

// Queue is a replay.Queue backed by a Redis list, used as a FIFO via
// RPUSH/LPOP.
type Queue struct {
	client *redis.Client
	key    string
}

// New wraps an existing *redis.Client. key defaults to defaultQueueKey if
// empty.
func New(client *redis.Client, key string) *Queue {
	if key == "" {
		key = defaultQueueKey
	}
	return &Queue{client: client, key: key}
}

// Enqueue implements replay.Queue.
func (q *Queue) Enqueue(ctx context.Context, cmd model.EnqueueReplayCommand) error {
	raw, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to marshal replay command: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("redis RPUSH failed: %w", err)
	}
	return nil
}

// Dequeue implements replay.Queue.
func (q *Queue) Dequeue(ctx context.Context) (model.EnqueueReplayCommand, bool, error) {
	raw, err := q.client.LPop(ctx, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.EnqueueReplayCommand{}, false, nil
		}
		return model.EnqueueReplayCommand{}, false, fmt.Errorf("redis LPOP failed: %w", err)
	}

	var cmd model.EnqueueReplayCommand
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		return model.EnqueueReplayCommand{}, false, fmt.Errorf("failed to unmarshal replay command: %w", err)
	}
	return cmd, true, nil
}

// Depth implements replay.Queue.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis LLEN failed: %w", err)
	}
	return int(n), nil
}
