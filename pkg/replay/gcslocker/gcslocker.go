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

// Package gcslocker is the multi-host replay.Locker adapter, generalizing
// the teacher's retry-job GCS object lock
// (pkg/retry/job.go's gcslock.New/Acquire/LockHeldError idiom) from a
// single scheduled job invocation into a long-lived worker lease.
package gcslocker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-gcslock"
	"google.golang.org/api/option"
)

// Locker is a replay.Locker backed by a GCS object lock, for deployments
// running the replay worker on more than one host.
type Locker struct {
	lock gcslock.Lockable
}

// New creates a Locker holding a lease on the given bucket/object.
func New(ctx context.Context, bucket, object string, opts ...option.ClientOption) (*Locker, error) {
	lock, err := gcslock.New(ctx, bucket, object, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs lock: %w", err)
	}
	return &Locker{lock: lock}, nil
}

// Acquire implements replay.Locker. It does not block waiting for a
// contended lease: a LockHeldError means another host already owns the
// lease, and Worker.Run returns the wrapped error without starting.
func (l *Locker) Acquire(ctx context.Context, ttl time.Duration) error {
	if err := l.lock.Acquire(ctx, ttl); err != nil {
		var lockErr *gcslock.LockHeldError
		if errors.As(err, &lockErr) {
			return fmt.Errorf("replay worker lease held by another host: %w", err)
		}
		return fmt.Errorf("failed to acquire gcs lock: %w", err)
	}
	return nil
}

// Release implements replay.Locker.
func (l *Locker) Release(ctx context.Context) error {
	if err := l.lock.Close(ctx); err != nil {
		return fmt.Errorf("failed to release gcs lock: %w", err)
	}
	return nil
}
