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

package cli

import (
	"context"
	"fmt"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"

	"github.com/abcxyz/hookrelay/pkg/app"
	"github.com/abcxyz/hookrelay/pkg/config"
	"github.com/abcxyz/hookrelay/pkg/router"
	"github.com/abcxyz/hookrelay/pkg/version"
)

var _ cli.Command = (*ReplayWorkerCommand)(nil)

// ReplayWorkerCommand runs the replay worker standalone (spec.md §4.3),
// for deployments that split intake and replay into separate processes
// instead of running ServeCommand's embedded goroutine.
type ReplayWorkerCommand struct {
	cli.BaseCommand

	cfg *config.Config

	// testFlagSetOpts is only used for testing.
	testFlagSetOpts []cli.Option
}

func (c *ReplayWorkerCommand) Desc() string {
	return `Start the standalone replay worker`
}

func (c *ReplayWorkerCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]
  Start the replay worker without the HTTP intake server.
`
}

func (c *ReplayWorkerCommand) Flags() *cli.FlagSet {
	c.cfg = &config.Config{}
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	return c.cfg.ToFlags(set)
}

func (c *ReplayWorkerCommand) Run(ctx context.Context, args []string) error {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %q", args)
	}

	logger := logging.FromContext(ctx)
	logger.DebugContext(ctx, "replay worker starting",
		"name", version.Name,
		"commit", version.Commit,
		"version", version.Version)

	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a, err := app.New(ctx, c.cfg, router.New())
	if err != nil {
		return fmt.Errorf("failed to assemble application: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.ErrorContext(ctx, "failed to close application resources", "error", err)
		}
	}()

	if err := a.Worker.Run(ctx); err != nil {
		return fmt.Errorf("replay worker exited: %w", err)
	}
	return nil
}
