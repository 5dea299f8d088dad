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

package replay

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/hookrelay/pkg/metrics"
	"github.com/abcxyz/hookrelay/pkg/model"
	"github.com/abcxyz/hookrelay/pkg/result"
)

// Pipeline is the subset of the webhook intake pipeline the worker needs:
// re-running Process against a replayed command.
type Pipeline interface {
	Process(ctx context.Context, cmd model.ProcessWebhookCommand) result.Result
}

// Worker polls Queue for replay commands and drives each back through
// Pipeline, escalating to DeadLetterQueue past the attempt ceiling
// (spec.md §4.3).
type Worker struct {
	cfg      *Config
	queue    Queue
	dlq      DeadLetterQueue
	locker   Locker
	pipeline Pipeline

	now  func() time.Time
	rand func() float64 // in [0,1); overridable for deterministic tests
}

// NewWorker constructs a Worker. cfg is validated; an invalid cfg is a
// configuration error the caller should fail startup on, not a runtime
// condition to recover from.
func NewWorker(cfg *Config, queue Queue, dlq DeadLetterQueue, locker Locker, pipeline Pipeline) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid replay worker config: %w", err)
	}
	return &Worker{
		cfg:      cfg,
		queue:    queue,
		dlq:      dlq,
		locker:   locker,
		pipeline: pipeline,
		now:      time.Now,
		rand:     rand.Float64,
	}, nil
}

// Run polls and processes replay commands until ctx is canceled. On
// cancellation it stops starting new iterations and drains at most one
// in-flight command, bounded by cfg.ShutdownGrace, then returns
// ctx.Err(). Commands still queued when Run returns are left in the
// queue, per spec.md §4.3 "Cancellation".
func (w *Worker) Run(ctx context.Context) error {
	logger := logging.FromContext(ctx)

	if w.locker != nil {
		if err := w.locker.Acquire(ctx, w.cfg.ShutdownGrace); err != nil {
			return fmt.Errorf("failed to acquire replay worker lease: %w", err)
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), w.cfg.ShutdownGrace)
			defer cancel()
			if err := w.locker.Release(releaseCtx); err != nil {
				logger.ErrorContext(ctx, "failed to release replay worker lease", "error", err)
			}
		}()
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if depth, err := w.queue.Depth(ctx); err != nil {
				logger.ErrorContext(ctx, "failed to sample replay queue depth", "error", err)
			} else {
				metrics.ReplayQueueDepth.Set(float64(depth))
			}

			cmd, ok, err := w.queue.Dequeue(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "failed to dequeue replay command", "error", err)
				continue
			}
			if !ok {
				continue
			}

			// The in-flight command keeps running after ctx is canceled, for
			// at most ShutdownGrace.
			drainCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
			stop := context.AfterFunc(ctx, func() {
				time.AfterFunc(w.cfg.ShutdownGrace, cancel)
			})
			w.processOne(drainCtx, cmd)
			stop()
			cancel()
		}
	}
}

// processOne runs a single dequeued command through the state machine
// described in spec.md §4.3: DLQ if at the attempt ceiling, otherwise
// backoff-sleep then re-invoke the pipeline.
func (w *Worker) processOne(ctx context.Context, cmd model.EnqueueReplayCommand) {
	logger := logging.FromContext(ctx)

	if cmd.Attempt >= w.cfg.MaxAttempts {
		w.deadLetter(ctx, cmd, "attempt ceiling reached", nil)
		return
	}

	delay := w.backoff(cmd.Attempt)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		if err := w.queue.Enqueue(context.Background(), cmd); err != nil {
			logger.ErrorContext(ctx, "failed to re-enqueue command on shutdown", "error", err)
		}
		return
	}

	res, panicked := w.runPipeline(ctx, cmd)

	switch {
	case res.IsOK():
		metrics.ReplaySuccess.Inc()
	case panicked:
		// spec.md §4.3 "On exception": distinct counter from a typed
		// Result failure, same requeue-or-DLQ behavior.
		w.requeueOrDeadLetter(ctx, cmd, res.Error(), metrics.ReplayErrorRetry)
	default:
		w.requeueOrDeadLetter(ctx, cmd, res.Error(), metrics.ReplayRetry)
	}
}

func (w *Worker) runPipeline(ctx context.Context, cmd model.EnqueueReplayCommand) (res result.Result, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			res = result.New(result.CodeStorageWriteFailed, "replay pipeline panicked", fmt.Errorf("%v", r))
			panicked = true
		}
	}()
	return w.pipeline.Process(ctx, cmd.Command), false
}

func (w *Worker) requeueOrDeadLetter(ctx context.Context, cmd model.EnqueueReplayCommand, reason string, retryCounter interface{ Inc() }) {
	next := cmd.NextAttempt()
	if next.Attempt >= w.cfg.MaxAttempts {
		w.deadLetter(ctx, cmd, reason, nil)
		return
	}
	if err := w.queue.Enqueue(ctx, next); err != nil {
		logging.FromContext(ctx).ErrorContext(ctx, "failed to re-enqueue replay command", "error", err)
		return
	}
	retryCounter.Inc()
}

func (w *Worker) deadLetter(ctx context.Context, cmd model.EnqueueReplayCommand, reason string, lastErr error) {
	item := model.DeadLetterItem{
		ID:        cmd.Command.DeliveryID,
		Command:   cmd,
		Reason:    reason,
		FailedAt:  w.now(),
	}
	if lastErr != nil {
		item.LastError = lastErr.Error()
	}
	if err := w.dlq.Add(ctx, item); err != nil {
		logging.FromContext(ctx).ErrorContext(ctx, "failed to move command to dead-letter queue", "error", err)
		return
	}
	metrics.ReplayDLQMoved.Inc()
}

// backoff implements spec.md §4.3's formula:
// min(max_backoff, initial_backoff * multiplier^attempt) * (1 + uniform(-jitter, +jitter)).
func (w *Worker) backoff(attempt int) time.Duration {
	base := float64(w.cfg.InitialBackoff) * pow(w.cfg.Multiplier, attempt)
	capped := base
	if maxB := float64(w.cfg.MaxBackoff); capped > maxB {
		capped = maxB
	}

	jitter := 1 + (2*w.rand()-1)*w.cfg.JitterFactor
	delay := time.Duration(capped * jitter)
	if delay < 0 {
		delay = 0
	}
	return delay
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}
