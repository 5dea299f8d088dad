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

// Package cache defines the token-cache contract used by the installation
// auth subsystem (spec.md §4.4). The repository config loader's file cache
// is separate (pkg/repoconfig/filecache).
package cache

import (
	"context"

	"github.com/abcxyz/hookrelay/pkg/model"
)

// TokenCache is the concurrent "set by installation id" contract spec.md §5
// requires of the installation token cache.
type TokenCache interface {
	// Get returns the cached token for key and true, or a zero value and
	// false if absent.
	Get(ctx context.Context, key string) (model.InstallationAccessToken, bool, error)

	// Set stores tok under key, replacing any previous value.
	Set(ctx context.Context, key string, tok model.InstallationAccessToken) error
}
