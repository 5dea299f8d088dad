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

// Package installationauth mints and caches per-installation GitHub App
// access tokens (spec.md §4.4). abcxyz/pkg/githubauth signs the JWT and
// exchanges it for an installation token; this package adds the TTL cache
// and safety-skew handling the pipeline and the resilient HTTP clients need
// on every request, not just once per process.
package installationauth

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abcxyz/pkg/githubauth"

	"github.com/abcxyz/hookrelay/pkg/cache"
	"github.com/abcxyz/hookrelay/pkg/model"
	"github.com/abcxyz/hookrelay/pkg/result"
)

// installationTokenTTL is GitHub's fixed installation access token lifetime.
// githubauth.Installation's token source hands back the bearer token string
// only, not an expiry, so Authenticate stamps ExpiresAt itself.
const installationTokenTTL = 1 * time.Hour

// DefaultPermissions is the permission set requested for installation
// tokens: read access to contents, metadata, pull requests and issues, and
// write access to checks.
var DefaultPermissions = map[string]string{
	"contents":      "read",
	"metadata":      "read",
	"pull_requests": "read",
	"issues":        "read",
	"checks":        "write",
}

// Authenticator mints and caches installation access tokens for a single
// GitHub App.
type Authenticator struct {
	app   *githubauth.App
	cache cache.TokenCache
	now   func() time.Time
}

// Config configures an Authenticator.
type Config struct {
	AppID      string
	PrivateKey string // PEM-encoded private key.
	BaseURL    string // GitHub Enterprise Server base URL, empty for github.com.
	Cache      cache.TokenCache
}

// New constructs an Authenticator from a PEM-encoded private key.
func New(cfg *Config) (*Authenticator, error) {
	signer, err := githubauth.NewPrivateKeySigner(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create app private key signer: %w", err)
	}

	var opts []githubauth.Option
	if cfg.BaseURL != "" {
		opts = append(opts, githubauth.WithBaseURL(cfg.BaseURL))
	}

	app, err := githubauth.NewApp(cfg.AppID, signer, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create github app: %w", err)
	}

	return &Authenticator{
		app:   app,
		cache: cfg.Cache,
		now:   time.Now,
	}, nil
}

// Authenticate returns a valid installation access token for
// installationID, minting a new one only if the cached token is missing or
// within the expiry skew. The token always covers all of the installation's
// repositories; repositories only selects the cache entry.
func (a *Authenticator) Authenticate(ctx context.Context, installationID int64, repositories []string) (*model.InstallationAccessToken, result.Result) {
	key := cacheKey(installationID, repositories)

	if a.cache != nil {
		if tok, ok, err := a.cache.Get(ctx, key); err == nil && ok && !tok.IsExpired(a.now()) {
			return &tok, result.OK()
		}
	}

	installation, err := a.app.InstallationForID(ctx, strconv.FormatInt(installationID, 10))
	if err != nil {
		return nil, result.New(result.CodeGitHubInstallationTokenFailed, "failed to get github app installation", err)
	}

	// The installation token source is not narrowed to specific repository
	// names in this library; repositories is still used as a cache key
	// dimension so that differently-scoped callers don't clobber each
	// other's cached permission sets.
	tokenSource := installation.AllReposTokenSource(DefaultPermissions)
	token, err := tokenSource.GitHubToken(ctx)
	if err != nil {
		return nil, result.New(result.CodeGitHubInstallationTokenFailed, "failed to mint installation access token", err)
	}
	if token == "" {
		return nil, result.New(result.CodeGitHubInstallationTokenInvalid, "installation token response had no token", nil)
	}

	tok := model.InstallationAccessToken{
		Token:     token,
		ExpiresAt: a.now().Add(installationTokenTTL),
	}

	if a.cache != nil {
		if err := a.cache.Set(ctx, key, tok); err != nil {
			return nil, result.New(result.CodeGitHubInstallationTokenFailed, "failed to cache installation access token", err)
		}
	}

	return &tok, result.OK()
}

func cacheKey(installationID int64, repositories []string) string {
	if len(repositories) == 0 {
		return strconv.FormatInt(installationID, 10)
	}
	return fmt.Sprintf("%d:%s", installationID, strings.Join(repositories, ","))
}
