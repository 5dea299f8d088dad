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

package router

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// Repository is the repository info extracted from a webhook payload, when
// present.
type Repository struct {
	ID       int64
	Owner    string
	Name     string
	FullName string
}

// Installation is the installation info extracted from a webhook payload,
// when present.
type Installation struct {
	ID int64
}

// Context is the opaque carrier passed to every handler (spec.md §4.2
// "Context"). It bundles the delivery identity, the parsed payload, an
// installation-authenticated HTTP client, a scoped logger, and accessor
// helpers for the common payload shapes handlers need.
type Context struct {
	DeliveryID string
	EventName  string
	EventAction *string
	Payload    json.RawMessage

	Repository   *Repository
	Installation *Installation

	// HTTPClient is pre-authenticated as the delivery's installation; nil
	// if the delivery carries no installation (e.g. GitHub App-level
	// events).
	HTTPClient *http.Client

	Logger *slog.Logger

	// DryRun causes Act to log the described action instead of performing
	// it (spec.md §4.2 "Dry-run behaviour").
	DryRun bool
}

// issuePayload and pullRequestPayload mirror the subset of GitHub's webhook
// payload shapes that Issue/PullRequest/Repo need; handlers needing more
// should unmarshal rc.Payload themselves.
type issuePayload struct {
	Issue *struct {
		Number int64  `json:"number"`
		Title  string `json:"title"`
		State  string `json:"state"`
	} `json:"issue"`
}

type pullRequestPayload struct {
	PullRequest *struct {
		Number int64  `json:"number"`
		Title  string `json:"title"`
		State  string `json:"state"`
	} `json:"pull_request"`
}

// Issue returns the issue fields number, title, and state. It returns an
// error naming the missing field when the payload has no issue object.
func (rc *Context) Issue() (number int64, title, state string, err error) {
	var p issuePayload
	if err := json.Unmarshal(rc.Payload, &p); err != nil {
		return 0, "", "", fmt.Errorf("failed to parse issue from payload: %w", err)
	}
	if p.Issue == nil {
		return 0, "", "", fmt.Errorf("payload for delivery %s has no issue object", rc.DeliveryID)
	}
	return p.Issue.Number, p.Issue.Title, p.Issue.State, nil
}

// PullRequest returns the pull request fields number, title, and state. It
// returns an error naming the missing field when the payload has no pull
// request object.
func (rc *Context) PullRequest() (number int64, title, state string, err error) {
	var p pullRequestPayload
	if err := json.Unmarshal(rc.Payload, &p); err != nil {
		return 0, "", "", fmt.Errorf("failed to parse pull_request from payload: %w", err)
	}
	if p.PullRequest == nil {
		return 0, "", "", fmt.Errorf("payload for delivery %s has no pull_request object", rc.DeliveryID)
	}
	return p.PullRequest.Number, p.PullRequest.Title, p.PullRequest.State, nil
}

// Repo returns the owner and name of the delivery's repository. It returns
// an error if the delivery carries no repository info.
func (rc *Context) Repo() (owner, name string, err error) {
	if rc.Repository == nil {
		return "", "", fmt.Errorf("payload for delivery %s has no repository object", rc.DeliveryID)
	}
	return rc.Repository.Owner, rc.Repository.Name, nil
}

// Act performs action (invoking do), unless DryRun is set, in which case it
// logs the action's description with params serialized to JSON and returns
// fallback instead, never invoking do (spec.md §4.2 "Dry-run behaviour": "the
// 'execute' variant logs the action description with serialized
// parameters and returns a caller-supplied stand-in value").
func Act[T any](rc *Context, description string, params any, fallback T, do func() (T, error)) (T, error) {
	if rc.DryRun {
		serialized, err := json.Marshal(params)
		if err != nil {
			serialized = []byte(fmt.Sprintf("%+v", params))
		}
		rc.Logger.Info("dry run: skipping action",
			"description", description,
			"params", string(serialized))
		return fallback, nil
	}
	return do()
}
