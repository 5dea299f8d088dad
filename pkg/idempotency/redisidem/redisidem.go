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

// Package redisidem is the idempotency.provider=redis adapter, suitable for
// multi-instance deployments that need a shared fast-path dedup store.
package redisidem

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abcxyz/hookrelay/pkg/model"
)

// Store is a Redis-backed idempotency.Store using SET NX EX for atomic
// claim-with-ttl semantics.
type Store struct {
	client *redis.Client
}

// New wraps an existing *redis.Client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// TryAcquire implements idempotency.Store.
func (s *Store) TryAcquire(ctx context.Context, key model.IdempotencyKey, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key.String(), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX failed: %w", err)
	}
	return ok, nil
}

// Exists implements idempotency.Store.
func (s *Store) Exists(ctx context.Context, key model.IdempotencyKey) (bool, error) {
	_, err := s.client.Get(ctx, key.String()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis GET failed: %w", err)
	}
	return true, nil
}
