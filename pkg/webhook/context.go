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

package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/hookrelay/pkg/model"
	"github.com/abcxyz/hookrelay/pkg/router"
)

// repoInstallationPayload extracts the subset of a GitHub webhook payload
// shared by nearly every event type: the repository and installation
// objects, when present.
type repoInstallationPayload struct {
	Repository *struct {
		ID       int64  `json:"id"`
		Name     string `json:"name"`
		FullName string `json:"full_name"`
		Owner    struct {
			Login string `json:"login"`
		} `json:"owner"`
	} `json:"repository"`
	Installation *struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

// buildContext builds the opaque handler carrier described in spec.md
// §4.2, including an installation-authenticated HTTP client when the
// delivery carries an installation and a client builder is configured.
func (p *Pipeline) buildContext(ctx context.Context, cmd model.ProcessWebhookCommand) (*router.Context, error) {
	var payload repoInstallationPayload
	if err := json.Unmarshal(cmd.Payload, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload envelope: %w", err)
	}

	rc := &router.Context{
		DeliveryID: cmd.DeliveryID,
		EventName:  cmd.EventName,
		Payload:    cmd.Payload,
		Logger:     logging.FromContext(ctx).With("delivery_id", cmd.DeliveryID, "event", cmd.EventName),
		DryRun:     p.dryRun,
	}
	if cmd.EventAction != "" {
		action := cmd.EventAction
		rc.EventAction = &action
	}

	if payload.Repository != nil {
		rc.Repository = &router.Repository{
			ID:       payload.Repository.ID,
			Owner:    payload.Repository.Owner.Login,
			Name:     payload.Repository.Name,
			FullName: payload.Repository.FullName,
		}
	}

	installationID := cmd.InstallationID
	if installationID == nil && payload.Installation != nil {
		id := payload.Installation.ID
		installationID = &id
	}

	if installationID != nil {
		rc.Installation = &router.Installation{ID: *installationID}

		if p.clients != nil {
			var repos []string
			if rc.Repository != nil {
				repos = []string{rc.Repository.FullName}
			}
			client, res := p.clients.HTTPClient(ctx, *installationID, repos, nil)
			if res.IsFailure() {
				return nil, fmt.Errorf("failed to build installation-authenticated client: %w", res)
			}
			rc.HTTPClient = client
		}
	}

	return rc, nil
}
