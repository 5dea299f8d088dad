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

// Package lrucache is the cache.provider=in_memory adapter for
// cache.TokenCache, backed by an in-process bounded LRU.
package lrucache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/abcxyz/hookrelay/pkg/model"
)

// defaultSize bounds memory use when a deployment runs many installations;
// evicted entries simply get re-minted on next use.
const defaultSize = 4096

// Cache is a cache.TokenCache backed by hashicorp/golang-lru.
type Cache struct {
	cache *lru.Cache[string, model.InstallationAccessToken]
}

// New creates a Cache holding up to size entries (defaultSize if size <= 0).
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = defaultSize
	}
	c, err := lru.New[string, model.InstallationAccessToken](size)
	if err != nil {
		return nil, err
	}
	return &Cache{cache: c}, nil
}

// Get implements cache.TokenCache.
func (c *Cache) Get(ctx context.Context, key string) (model.InstallationAccessToken, bool, error) {
	tok, ok := c.cache.Get(key)
	return tok, ok, nil
}

// Set implements cache.TokenCache.
func (c *Cache) Set(ctx context.Context, key string, tok model.InstallationAccessToken) error {
	c.cache.Add(key, tok)
	return nil
}
