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

// Package model defines the flat, immutable data types shared by the intake
// pipeline, the replay worker, and their storage ports. These are plain
// records, not a polymorphic object graph: see spec.md §9 "Cyclic references
// & deep hierarchies".
package model

import (
	"encoding/json"
	"time"
)

// WebhookDelivery is the durable record of a single processed GitHub webhook
// delivery. Once persisted it is never mutated (spec.md §3).
type WebhookDelivery struct {
	DeliveryID      string          `json:"delivery_id"`
	EventName       string          `json:"event_name"`
	EventAction     string          `json:"event_action,omitempty"`
	ReceivedAt      time.Time       `json:"received_at"`
	Payload         json.RawMessage `json:"payload"`
	InstallationID  *int64          `json:"installation_id,omitempty"`
}

// ProcessWebhookCommand is the immutable reconstruction of an intake call. It
// drives both first-time processing (from the HTTP handler) and replayed
// processing (from the replay worker).
type ProcessWebhookCommand struct {
	DeliveryID     string
	EventName      string
	EventAction    string
	Payload        json.RawMessage
	InstallationID *int64
	RawPayload     []byte
	Signature      string
}

// EnqueueReplayCommand wraps a ProcessWebhookCommand with an attempt counter.
// It is a value type: NextAttempt never mutates the receiver.
type EnqueueReplayCommand struct {
	Command ProcessWebhookCommand
	Attempt int
}

// NextAttempt returns a new EnqueueReplayCommand with Attempt incremented by
// one. The original command is preserved unchanged (spec.md §3 invariant).
func (c EnqueueReplayCommand) NextAttempt() EnqueueReplayCommand {
	return EnqueueReplayCommand{
		Command: c.Command,
		Attempt: c.Attempt + 1,
	}
}

// DeadLetterItem is created when an EnqueueReplayCommand's attempt count
// reaches the configured ceiling. Immutable once stored.
type DeadLetterItem struct {
	ID        string
	Command   EnqueueReplayCommand
	Reason    string
	FailedAt  time.Time
	LastError string
}

// InstallationAccessToken is a short-lived GitHub installation token.
type InstallationAccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// tokenSkew is the safety margin subtracted from ExpiresAt before a cached
// token is considered unusable (spec.md §3).
const tokenSkew = 60 * time.Second

// IsExpired reports whether the token should be considered expired as of
// now, applying the fixed safety skew.
func (t InstallationAccessToken) IsExpired(now time.Time) bool {
	return !t.ExpiresAt.After(now.Add(tokenSkew))
}

// IdempotencyKey wraps a delivery id for use with a "set if absent" store.
// Equality is ordinal (plain string comparison).
type IdempotencyKey struct {
	DeliveryID string
}

// String returns the opaque string form of the key as stored in the
// idempotency backend.
func (k IdempotencyKey) String() string {
	return "webhook-delivery:" + k.DeliveryID
}

// HandlerRegistration describes one entry in the event router's registry.
// EventPattern is an exact event name, "*", or "event.*". ActionPattern is
// "*", "", or nil-equivalent empty string meaning "any action".
type HandlerRegistration struct {
	EventPattern      string
	ActionPattern     string
	HandlerIdentifier string
}

// RepositoryConfigPath identifies a single configuration file location
// within a GitHub repository, with three constructors matching GitHub's own
// cascade conventions (spec.md §3).
type RepositoryConfigPath struct {
	Owner      string
	Repository string
	Path       string
	Ref        string
}

// RootConfigPath returns the RepositoryConfigPath for "<file>" at the
// repository root.
func RootConfigPath(owner, repo, file, ref string) RepositoryConfigPath {
	return RepositoryConfigPath{Owner: owner, Repository: repo, Path: file, Ref: ref}
}

// DotGitHubConfigPath returns the RepositoryConfigPath for
// ".github/<file>" in the target repository.
func DotGitHubConfigPath(owner, repo, file, ref string) RepositoryConfigPath {
	return RepositoryConfigPath{Owner: owner, Repository: repo, Path: ".github/" + file, Ref: ref}
}

// OrgConfigPath returns the RepositoryConfigPath for "<file>" in the
// organization's ".github" repository.
func OrgConfigPath(owner, file, ref string) RepositoryConfigPath {
	return RepositoryConfigPath{Owner: owner, Repository: ".github", Path: file, Ref: ref}
}
