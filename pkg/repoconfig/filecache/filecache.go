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

// Package filecache backs repoconfig's loader file cache with an
// in-process, time-bounded LRU, using the same hashicorp/golang-lru
// family as pkg/cache/lrucache but with the expirable variant so fetched
// repository files naturally fall out after ttl (spec.md §4.6: "cached
// for 5 minutes").
package filecache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultSize = 2048
	defaultTTL  = 5 * time.Minute
)

// Cache is a repoconfig file cache backed by an expirable LRU.
type Cache struct {
	cache *expirable.LRU[string, []byte]
}

// New creates a Cache holding up to size entries (defaultSize if size <= 0),
// each expiring ttl after insertion (defaultTTL if ttl <= 0).
func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = defaultSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{cache: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

// Get satisfies repoconfig's unexported fileCache interface.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok := c.cache.Get(key)
	return raw, ok, nil
}

// Set satisfies repoconfig's unexported fileCache interface.
func (c *Cache) Set(ctx context.Context, key string, value []byte) error {
	c.cache.Add(key, value)
	return nil
}
