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

// Package memory provides the idempotency.provider=in_memory adapter.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/abcxyz/hookrelay/pkg/model"
)

// Store is a concurrency-safe, in-memory idempotency.Store.
type Store struct {
	mu      sync.Mutex
	claimed map[string]time.Time // key -> expiry
	now     func() time.Time
}

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{
		claimed: make(map[string]time.Time),
		now:     time.Now,
	}
}

// TryAcquire implements idempotency.Store.
func (s *Store) TryAcquire(ctx context.Context, key model.IdempotencyKey, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	now := s.now()
	if expiry, ok := s.claimed[k]; ok && expiry.After(now) {
		return false, nil
	}
	s.claimed[k] = now.Add(ttl)
	return true, nil
}

// Exists implements idempotency.Store.
func (s *Store) Exists(ctx context.Context, key model.IdempotencyKey) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.claimed[key.String()]
	if !ok {
		return false, nil
	}
	return expiry.After(s.now()), nil
}
