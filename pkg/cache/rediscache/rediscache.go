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

// Package rediscache is the cache.provider=redis adapter for
// cache.TokenCache, suitable for sharing installation tokens across
// multiple replicas.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abcxyz/hookrelay/pkg/model"
)

// keyPrefix namespaces cache keys from any other use of the same Redis
// instance.
const keyPrefix = "hookrelay:cache:"

// Cache is a cache.TokenCache backed by Redis, storing JSON-encoded values
// with a TTL derived from the token's own expiry.
type Cache struct {
	client *redis.Client
	now    func() time.Time
}

// New wraps an existing *redis.Client.
func New(client *redis.Client) *Cache {
	return &Cache{client: client, now: time.Now}
}

// Get implements cache.TokenCache.
func (c *Cache) Get(ctx context.Context, key string) (model.InstallationAccessToken, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.InstallationAccessToken{}, false, nil
		}
		return model.InstallationAccessToken{}, false, fmt.Errorf("redis GET failed: %w", err)
	}

	var tok model.InstallationAccessToken
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return model.InstallationAccessToken{}, false, fmt.Errorf("failed to unmarshal cached token: %w", err)
	}
	return tok, true, nil
}

// Set implements cache.TokenCache. Entries with a non-positive remaining TTL
// are stored with a one minute floor so a clock skew at write time does not
// silently drop the write.
func (c *Cache) Set(ctx context.Context, key string, tok model.InstallationAccessToken) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to marshal token for cache: %w", err)
	}

	ttl := tok.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		ttl = time.Minute
	}

	if err := c.client.Set(ctx, keyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}
