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

// Package metrics exposes the Prometheus collectors mandated throughout
// spec.md (the exact metric names cited in §4.1, §4.2, §4.3 are defined
// here, once, so every package references the same collector instance).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "webhook"

// registry is a dedicated registry rather than prometheus.DefaultRegisterer
// so tests can spin up independent Handler()s without global state bleeding
// across test cases.
var registry = prometheus.NewRegistry()

var (
	// Processed counts deliveries that completed the intake pipeline
	// successfully (spec.md §4.1 "webhook.processed").
	Processed = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "processed_total",
		Help:      "Total webhook deliveries that completed the intake pipeline successfully.",
	})

	// Duplicate counts deliveries short-circuited as already processed
	// (spec.md §4.1 "webhook.duplicate").
	Duplicate = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "duplicate_total",
		Help:      "Total webhook deliveries recognized as duplicates.",
	})

	// SignatureInvalid counts deliveries rejected for a bad HMAC signature
	// (spec.md §4.1 "webhook.signature_invalid").
	SignatureInvalid = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signature_invalid_total",
		Help:      "Total webhook deliveries rejected for an invalid signature.",
	})

	// ProcessingDuration is the intake pipeline's duration histogram,
	// labeled by event (spec.md §4.1 "webhook.processing.duration").
	ProcessingDuration = promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "processing_duration_seconds",
		Help:      "Webhook intake pipeline duration by event type.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event"})

	// RoutingErrors counts handler errors the router swallowed (spec.md
	// §4.1/§4.2 "webhook.routing_error").
	RoutingErrors = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "routing_error_total",
		Help:      "Total handler errors swallowed by the event router, by event type.",
	}, []string{"event"})

	// HandlerDuration is a per-handler duration histogram (spec.md §4.2).
	HandlerDuration = promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "handler_duration_seconds",
		Help:      "Handler execution duration by event type.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event"})

	// ReplaySuccess counts replayed deliveries that succeeded (spec.md
	// §4.3 "webhook_replay_success").
	ReplaySuccess = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replay_success_total",
		Help:      "Total replayed webhook deliveries that succeeded.",
	})

	// ReplayRetry counts replays re-queued for another attempt (spec.md
	// §4.3 "webhook_replay_retry").
	ReplayRetry = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replay_retry_total",
		Help:      "Total replayed webhook deliveries re-queued for another attempt.",
	})

	// ReplayErrorRetry counts replays re-queued specifically because the
	// retry attempt itself errored (spec.md §4.3
	// "webhook_replay_error_retry").
	ReplayErrorRetry = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replay_error_retry_total",
		Help:      "Total replay attempts that errored and were re-queued.",
	})

	// ReplayDLQMoved counts replays escalated to the dead-letter queue
	// (spec.md §4.3 "webhook_replay_dlq_moved").
	ReplayDLQMoved = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replay_dlq_moved_total",
		Help:      "Total replay commands escalated to the dead-letter queue.",
	})

	// ReplayQueueDepth is sampled on each worker poll (spec.md §4.3
	// "webhook_replay_queue_depth").
	ReplayQueueDepth = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "replay_queue_depth",
		Help:      "Replay queue depth as observed on the most recent worker poll.",
	})
)

// Handler returns an HTTP handler serving the registered collectors in the
// Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
