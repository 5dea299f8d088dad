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

package installationauth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/abcxyz/hookrelay/pkg/resilienthttp"
	"github.com/abcxyz/hookrelay/pkg/result"
)

// bearerTripper injects a fixed installation token into every outbound
// request, then hands off to the resilient transport stack (spec.md §4.5
// applies uniformly regardless of which installation minted the token).
type bearerTripper struct {
	next  http.RoundTripper
	token string
}

func (t *bearerTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	resp, err := t.next.RoundTrip(clone)
	if err != nil {
		return nil, fmt.Errorf("installation-authenticated request failed: %w", err)
	}
	return resp, nil
}

// HTTPClient mints (or reuses a cached) installation access token and
// returns an *http.Client that authenticates as that installation and runs
// every request through the resilient transport stack (spec.md §4.4 +
// §4.5). cfg may be nil to accept resilienthttp's defaults.
func (a *Authenticator) HTTPClient(ctx context.Context, installationID int64, repositories []string, cfg *resilienthttp.Config) (*http.Client, result.Result) {
	tok, res := a.Authenticate(ctx, installationID, repositories)
	if res.IsFailure() {
		return nil, res
	}
	if cfg == nil {
		cfg = &resilienthttp.Config{BreakerName: "github-rest"}
	}

	base := &bearerTripper{next: http.DefaultTransport, token: tok.Token}
	return resilienthttp.NewClient(base, cfg), result.OK()
}
