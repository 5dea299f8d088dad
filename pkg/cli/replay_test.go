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
	"errors"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/abcxyz/pkg/cli"
	"github.com/abcxyz/pkg/logging"
	"github.com/abcxyz/pkg/testutil"
)

func TestReplayWorkerCommand(t *testing.T) {
	t.Parallel()

	ctx := logging.WithLogger(context.Background(), logging.TestLogger(t))

	baseEnv := map[string]string{
		"WEBHOOK_SECRET":     "test-webhook-secret",
		"GITHUB_APP_ID":      "test-app-id",
		"GITHUB_PRIVATE_KEY": "test-private-key",
	}

	cases := []struct {
		name   string
		args   []string
		env    map[string]string
		expErr string
	}{
		{
			name:   "too_many_args",
			args:   []string{"foo"},
			expErr: `unexpected arguments: ["foo"]`,
		},
		{
			name:   "invalid_config",
			env:    map[string]string{},
			expErr: `WEBHOOK_SECRET is required`,
		},
		{
			name: "happy_path_runs_until_canceled",
			env:  baseEnv,
		},
	}

	for _, tc := range cases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			runCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
			defer cancel()

			var cmd ReplayWorkerCommand
			cmd.testFlagSetOpts = []cli.Option{cli.WithLookupEnv(envconfig.MapLookuper(tc.env).Lookup)}

			_, _, _ = cmd.Pipe()

			err := cmd.Run(runCtx, tc.args)
			if tc.expErr != "" {
				if diff := testutil.DiffErrString(err, tc.expErr); diff != "" {
					t.Fatal(diff)
				}
				return
			}

			if !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("Run() = %v, want wrapped context.DeadlineExceeded", err)
			}
		})
	}
}
