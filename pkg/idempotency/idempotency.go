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

// Package idempotency defines the distributed "set if absent" fast-path
// store used by the intake pipeline (spec.md §4.1 step 4) and the HTTP
// duplicate-short-circuit middleware (spec.md §6). It is a best-effort
// accelerant: the storage.DeliveryStore remains the authoritative
// deduplication source (spec.md §9 Open Questions).
package idempotency

import (
	"context"
	"time"

	"github.com/abcxyz/hookrelay/pkg/model"
)

// Store is the abstract contract for idempotency key acquisition.
type Store interface {
	// TryAcquire attempts to atomically claim key for ttl. It returns true if
	// this call was the first to claim the key (or the prior claim expired),
	// false if another claim is already active.
	TryAcquire(ctx context.Context, key model.IdempotencyKey, ttl time.Duration) (bool, error)

	// Exists reports whether key is currently claimed, without claiming it.
	Exists(ctx context.Context, key model.IdempotencyKey) (bool, error)
}
