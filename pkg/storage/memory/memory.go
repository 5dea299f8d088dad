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

// Package memory provides an in-memory storage.DeliveryStore, the default
// persistence.provider=in_memory adapter used by tests and local
// development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/abcxyz/hookrelay/pkg/model"
)

// Store is a concurrency-safe, in-memory implementation of
// storage.DeliveryStore and storage.UnitOfWork.
type Store struct {
	mu         sync.RWMutex
	deliveries map[string]*model.WebhookDelivery
}

// New creates an empty in-memory Store.
func New() *Store {
	return &Store{
		deliveries: make(map[string]*model.WebhookDelivery),
	}
}

// Get implements storage.DeliveryStore.
func (s *Store) Get(ctx context.Context, deliveryID string) (*model.WebhookDelivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[deliveryID]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

// Save implements storage.DeliveryStore. A delivery once saved is never
// overwritten (spec.md §3 invariant); a second Save for the same id is a
// no-op rather than an error, since the intake pipeline's duplicate check
// (§4.1.2) is expected to filter these before Save is reached.
func (s *Store) Save(ctx context.Context, delivery *model.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deliveries[delivery.DeliveryID]; ok {
		return nil
	}
	cp := *delivery
	s.deliveries[delivery.DeliveryID] = &cp
	return nil
}

// PruneOlderThan implements storage.DeliveryStore.
func (s *Store) PruneOlderThan(ctx context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, d := range s.deliveries {
		if d.ReceivedAt.Before(before) {
			delete(s.deliveries, id)
		}
	}
	return nil
}

// Close implements storage.DeliveryStore.
func (s *Store) Close() error {
	return nil
}

// RunInTx implements storage.UnitOfWork. The in-memory store has no real
// transactional boundary, so fn simply runs with the store's lock not held
// (Get/Save already serialize internally); this matches the teacher's
// pattern of keeping test/in-memory adapters trivial.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Len reports the number of persisted deliveries. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.deliveries)
}
