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

// Package memlock is the default single-process replay.Locker: a single
// host only ever has one worker goroutine, so the lease is just a mutex.
package memlock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Locker is a replay.Locker backed by an in-process mutex.
type Locker struct {
	mu     sync.Mutex
	locked bool
}

// New creates an unlocked Locker.
func New() *Locker {
	return &Locker{}
}

// Acquire implements replay.Locker.
func (l *Locker) Acquire(ctx context.Context, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked {
		return fmt.Errorf("replay worker lease already held in this process")
	}
	l.locked = true
	return nil
}

// Release implements replay.Locker.
func (l *Locker) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = false
	return nil
}
