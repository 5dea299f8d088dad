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
	"testing"
	"time"

	"github.com/abcxyz/hookrelay/pkg/model"
)

// fakeCache is an in-memory cache.TokenCache stand-in so Authenticate's
// cache-hit path can be exercised without a real GitHub App signer or
// network access.
type fakeCache struct {
	tokens map[string]model.InstallationAccessToken
}

func newFakeCache() *fakeCache {
	return &fakeCache{tokens: map[string]model.InstallationAccessToken{}}
}

func (c *fakeCache) Get(ctx context.Context, key string) (model.InstallationAccessToken, bool, error) {
	tok, ok := c.tokens[key]
	return tok, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, tok model.InstallationAccessToken) error {
	c.tokens[key] = tok
	return nil
}

func TestCacheKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		installationID int64
		repositories   []string
		want           string
	}{
		{
			name:           "no_repositories",
			installationID: 42,
			want:           "42",
		},
		{
			name:           "single_repository",
			installationID: 42,
			repositories:   []string{"widgets"},
			want:           "42:widgets",
		},
		{
			name:           "multiple_repositories",
			installationID: 42,
			repositories:   []string{"widgets", "gadgets"},
			want:           "42:widgets,gadgets",
		},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := cacheKey(tc.installationID, tc.repositories)
			if got != tc.want {
				t.Errorf("cacheKey(%d, %v) = %q, want %q", tc.installationID, tc.repositories, got, tc.want)
			}
		})
	}
}

func TestAuthenticator_Authenticate_CacheHit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cache := newFakeCache()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	want := model.InstallationAccessToken{
		Token:     "cached-token",
		ExpiresAt: now.Add(30 * time.Minute),
	}
	if err := cache.Set(ctx, cacheKey(123, nil), want); err != nil {
		t.Fatalf("Set() unexpected error: %v", err)
	}

	a := &Authenticator{cache: cache, now: func() time.Time { return now }}

	got, res := a.Authenticate(ctx, 123, nil)
	if !res.IsOK() {
		t.Fatalf("Authenticate() unexpected result: %+v", res)
	}
	if got.Token != want.Token {
		t.Errorf("Authenticate() token = %q, want %q", got.Token, want.Token)
	}
}

func TestInstallationAccessToken_IsExpired_RespectsSkew(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		expiresAt   time.Time
		wantExpired bool
	}{
		{
			name:        "well_in_the_future",
			expiresAt:   now.Add(time.Hour),
			wantExpired: false,
		},
		{
			name:        "already_past",
			expiresAt:   now.Add(-time.Minute),
			wantExpired: true,
		},
		{
			name:        "within_safety_skew",
			expiresAt:   now.Add(30 * time.Second),
			wantExpired: true,
		},
	}

	for _, tc := range tests {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			tok := model.InstallationAccessToken{Token: "t", ExpiresAt: tc.expiresAt}
			if got := tok.IsExpired(now); got != tc.wantExpired {
				t.Errorf("IsExpired() = %v, want %v", got, tc.wantExpired)
			}
		})
	}
}
