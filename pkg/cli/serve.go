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
	"net/http"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/serving"

	"github.com/abcxyz/hookrelay/pkg/app"
	"github.com/abcxyz/hookrelay/pkg/config"
	"github.com/abcxyz/hookrelay/pkg/router"
	"github.com/abcxyz/hookrelay/pkg/version"
)

var _ cli.Command = (*ServeCommand)(nil)

// ServeCommand starts the HTTP intake server (spec.md §6): webhook ingest,
// health, version, and metrics endpoints. The embedded replay worker runs
// as a background goroutine so a single process serves both roles, per
// spec.md §4.3 "runs as ... a background goroutine within the HTTP
// server process".
type ServeCommand struct {
	cli.BaseCommand

	cfg *config.Config

	// testFlagSetOpts is only used for testing.
	testFlagSetOpts []cli.Option
}

func (c *ServeCommand) Desc() string {
	return `Start the webhook intake HTTP server`
}

func (c *ServeCommand) Help() string {
	return `
Usage: {{ COMMAND }} [options]
  Start the webhook intake HTTP server, including its embedded replay worker.
`
}

func (c *ServeCommand) Flags() *cli.FlagSet {
	c.cfg = &config.Config{}
	set := cli.NewFlagSet(c.testFlagSetOpts...)
	return c.cfg.ToFlags(set)
}

func (c *ServeCommand) Run(ctx context.Context, args []string) error {
	server, mux, a, err := c.RunUnstarted(ctx, args)
	if err != nil {
		return err
	}

	go func() {
		logger := logging.FromContext(ctx)
		if err := a.Worker.Run(ctx); err != nil && ctx.Err() == nil {
			logger.ErrorContext(ctx, "replay worker stopped unexpectedly", "error", err)
		}
	}()

	a.HTTP.MarkReady()
	return server.StartHTTPHandler(ctx, mux) //nolint:wrapcheck
}

func (c *ServeCommand) RunUnstarted(ctx context.Context, args []string) (*serving.Server, http.Handler, *app.App, error) {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to parse flags: %w", err)
	}
	args = f.Args()
	if len(args) > 0 {
		return nil, nil, nil, fmt.Errorf("unexpected arguments: %q", args)
	}

	logger := logging.FromContext(ctx)
	logger.DebugContext(ctx, "server starting",
		"name", version.Name,
		"commit", version.Commit,
		"version", version.Version)

	if err := c.cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a, err := app.New(ctx, c.cfg, router.New())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to assemble application: %w", err)
	}

	mux := a.HTTP.Routes(ctx)

	server, err := serving.New(c.cfg.Port)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create serving infrastructure: %w", err)
	}

	return server, mux, a, nil
}
