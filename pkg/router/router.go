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

// Package router maps a delivered webhook event to zero or more registered
// handlers and executes each in isolation (spec.md §4.2). Handler failures
// never abort the fan-out and never reach the HTTP response; the delivery
// is already durable by the time the router runs.
package router

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/hookrelay/pkg/metrics"
)

// Handler processes one routed delivery.
type Handler interface {
	Handle(ctx context.Context, rc *Context) error
}

// HandlerFunc adapts a plain function to the Handler interface, for
// registrations that need no per-invocation dependency scope.
type HandlerFunc func(ctx context.Context, rc *Context) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, rc *Context) error {
	return f(ctx, rc)
}

// Factory builds a fresh Handler instance per dispatch, giving each
// registration its own dependency scope (spec.md §4.2 "Create a fresh
// dependency scope").
type Factory func() Handler

// Registration is one registered pattern/handler pair. Exported so callers
// can introspect a Registry (e.g. for a debug endpoint), but is otherwise
// produced only through Register.
type Registration struct {
	EventPattern  string
	ActionPattern string // "" behaves like "*" (matches any, including null).
	Factory       Factory
}

// Registry holds registrations in registration order, which is also
// dispatch order.
type Registry struct {
	registrations []Registration
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Register appends a handler registration. It panics if factory is nil:
// a nil factory is a programmer error, not a runtime condition callers
// should need to handle.
func (r *Registry) Register(eventPattern, actionPattern string, factory Factory) {
	if factory == nil {
		panic("router: Register called with a nil handler factory")
	}
	r.registrations = append(r.registrations, Registration{
		EventPattern:  eventPattern,
		ActionPattern: actionPattern,
		Factory:       factory,
	})
}

// Dispatch runs every registration matching rc's event/action, in
// registration order, each in its own dependency scope. A handler error is
// logged and metered, not propagated, except when the error is (or wraps)
// context cancellation/deadline-exceeded, which always propagates — the
// outer deadline firing is not a per-handler condition to swallow.
func (r *Registry) Dispatch(ctx context.Context, rc *Context) error {
	logger := logging.FromContext(ctx)

	for _, reg := range r.registrations {
		if !matchEvent(reg.EventPattern, rc.EventName) {
			continue
		}
		if !matchAction(reg.ActionPattern, rc.EventAction) {
			continue
		}

		handler := reg.Factory()
		start := time.Now()
		err := handler.Handle(ctx, rc)
		metrics.HandlerDuration.WithLabelValues(rc.EventName).Observe(time.Since(start).Seconds())
		if err == nil {
			continue
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		metrics.RoutingErrors.WithLabelValues(rc.EventName).Inc()
		logger.ErrorContext(ctx, "handler returned an error",
			"event", rc.EventName,
			"action", rc.EventAction,
			"error", err)
	}
	return nil
}

// matchEvent implements spec.md §4.2's event matching rules: "*" matches
// anything, "X.*" matches exactly E == "X", otherwise case-insensitive
// equality.
func matchEvent(pattern, event string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.EqualFold(prefix, event)
	}
	return strings.EqualFold(pattern, event)
}

// matchAction implements spec.md §4.2's action matching rules: "" or "*"
// matches anything (including a null action); otherwise case-insensitive
// equality, which never matches a null action.
func matchAction(pattern string, action *string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if action == nil {
		return false
	}
	return strings.EqualFold(pattern, *action)
}
