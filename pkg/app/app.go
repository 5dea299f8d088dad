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

// Package app is the composition root that wires pkg/config's provider
// selectors into concrete storage/cache/idempotency/replay-queue adapters
// and assembles the intake pipeline, HTTP surface, and replay worker,
// mirroring the teacher's pkg/retry/server.go NewServer idiom (a single
// domain-owned constructor rather than scattering wiring across cli
// commands).
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abcxyz/hookrelay/pkg/cache"
	"github.com/abcxyz/hookrelay/pkg/cache/lrucache"
	"github.com/abcxyz/hookrelay/pkg/cache/rediscache"
	"github.com/abcxyz/hookrelay/pkg/config"
	"github.com/abcxyz/hookrelay/pkg/httpapi"
	"github.com/abcxyz/hookrelay/pkg/idempotency"
	idemmemory "github.com/abcxyz/hookrelay/pkg/idempotency/memory"
	"github.com/abcxyz/hookrelay/pkg/idempotency/redisidem"
	"github.com/abcxyz/hookrelay/pkg/installationauth"
	"github.com/abcxyz/hookrelay/pkg/replay"
	"github.com/abcxyz/hookrelay/pkg/replay/fsqueue"
	"github.com/abcxyz/hookrelay/pkg/replay/gcslocker"
	"github.com/abcxyz/hookrelay/pkg/replay/memlock"
	"github.com/abcxyz/hookrelay/pkg/replay/memqueue"
	"github.com/abcxyz/hookrelay/pkg/replay/pgdlq"
	"github.com/abcxyz/hookrelay/pkg/replay/redisqueue"
	"github.com/abcxyz/hookrelay/pkg/replay/sqlitedlq"
	"github.com/abcxyz/hookrelay/pkg/repoconfig"
	"github.com/abcxyz/hookrelay/pkg/repoconfig/filecache"
	"github.com/abcxyz/hookrelay/pkg/repoconfig/githubfetcher"
	"github.com/abcxyz/hookrelay/pkg/router"
	"github.com/abcxyz/hookrelay/pkg/storage"
	storagememory "github.com/abcxyz/hookrelay/pkg/storage/memory"
	"github.com/abcxyz/hookrelay/pkg/storage/pgstore"
	"github.com/abcxyz/hookrelay/pkg/storage/sqlitestore"
	"github.com/abcxyz/hookrelay/pkg/webhook"
)

// App holds every long-lived dependency the serve and replay-worker
// commands need.
type App struct {
	HTTP   *httpapi.Server
	Worker *replay.Worker
	Repo   *repoconfig.Loader

	deliveries storage.DeliveryStore
	dlq        replay.DeadLetterQueue
}

// Close closes the delivery store. The dead-letter queue, replay queue and
// caches are not closed.
func (a *App) Close() error {
	if a.deliveries != nil {
		return a.deliveries.Close()
	}
	return nil
}

// New assembles the application from cfg. Router is the caller's handler
// registry (spec.md §4.2); it may be empty but not nil.
func New(ctx context.Context, cfg *config.Config, reg *router.Registry) (*App, error) {
	deliveries, uow, err := newDeliveryStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize persistence provider %q: %w", cfg.PersistenceProvider, err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	idemStore, err := newIdempotencyStore(cfg, redisClient)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize idempotency provider %q: %w", cfg.IdempotencyProvider, err)
	}

	tokenCache, err := newTokenCache(cfg, redisClient)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache provider %q: %w", cfg.CacheProvider, err)
	}

	queue, err := newReplayQueue(cfg, redisClient)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize replay_queue provider %q: %w", cfg.ReplayQueueProvider, err)
	}

	dlq, err := newDeadLetterQueue(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize dead_letter_queue provider %q: %w", cfg.DeadLetterQueueProvider, err)
	}

	privateKey, err := resolvePrivateKey(cfg)
	if err != nil {
		return nil, err
	}

	authenticator, err := installationauth.New(&installationauth.Config{
		AppID:      cfg.GitHubAppID,
		PrivateKey: privateKey,
		BaseURL:    cfg.GitHubBaseURL,
		Cache:      tokenCache,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize github app authenticator: %w", err)
	}

	pipeline := webhook.New(&webhook.Config{
		Secrets:     webhook.StaticSecret(cfg.WebhookSecret),
		Deliveries:  deliveries,
		UnitOfWork:  uow,
		Idempotency: idemStore,
		Router:      reg,
		Clients:     authenticator,
		DryRun:      cfg.DryRun,
	})

	httpServer := httpapi.New(pipeline, idemStore)

	locker, err := newLocker(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize locker provider %q: %w", cfg.LockerProvider, err)
	}

	worker, err := replay.NewWorker(replayConfig(cfg), queue, dlq, locker, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize replay worker: %w", err)
	}

	// repoLoader's fetcher starts on the unauthenticated client: most
	// config.yml reads are against public files, and per-installation
	// handlers that need private repos build their own fetcher from
	// authenticator.HTTPClient (spec.md §4.4) instead of sharing this one.
	fetcher := githubfetcher.NewFromHTTPClient(http.DefaultClient)
	fc := filecache.New(0, 0)
	repoLoader := repoconfig.New(repoconfigConfig(cfg), fetcher, fc)

	return &App{
		HTTP:       httpServer,
		Worker:     worker,
		Repo:       repoLoader,
		deliveries: deliveries,
		dlq:        dlq,
	}, nil
}

func newDeliveryStore(ctx context.Context, cfg *config.Config) (storage.DeliveryStore, storage.UnitOfWork, error) {
	switch cfg.PersistenceProvider {
	case "postgres":
		store, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case "sqlite":
		store, err := sqlitestore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case "in_memory", "":
		store := storagememory.New()
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown persistence provider %q", cfg.PersistenceProvider)
	}
}

func newIdempotencyStore(cfg *config.Config, redisClient *redis.Client) (idempotency.Store, error) {
	switch cfg.IdempotencyProvider {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("idempotency_provider=redis requires REDIS_ADDR")
		}
		return redisidem.New(redisClient), nil
	case "in_memory", "":
		return idemmemory.New(), nil
	default:
		return nil, fmt.Errorf("unknown idempotency provider %q", cfg.IdempotencyProvider)
	}
}

func newTokenCache(cfg *config.Config, redisClient *redis.Client) (cache.TokenCache, error) {
	switch cfg.CacheProvider {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("cache_provider=redis requires REDIS_ADDR")
		}
		return rediscache.New(redisClient), nil
	case "in_memory", "":
		c, err := lrucache.New(1024)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache provider %q", cfg.CacheProvider)
	}
}

func newReplayQueue(cfg *config.Config, redisClient *redis.Client) (replay.Queue, error) {
	switch cfg.ReplayQueueProvider {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("replay_queue_provider=redis requires REDIS_ADDR")
		}
		return redisqueue.New(redisClient, "hookrelay:replay"), nil
	case "filesystem":
		return fsqueue.New(cfg.FilesystemQueueDir)
	case "in_memory", "":
		return memqueue.New(), nil
	default:
		return nil, fmt.Errorf("unknown replay_queue provider %q", cfg.ReplayQueueProvider)
	}
}

func newDeadLetterQueue(ctx context.Context, cfg *config.Config) (replay.DeadLetterQueue, error) {
	switch cfg.DeadLetterQueueProvider {
	case "database":
		// Rides on the same database the persistence provider already
		// connects to, rather than introducing a separate connection
		// string: spec.md's dead_letter_queue.provider=database means
		// "the configured SQL persistence store", not a third backend.
		switch cfg.PersistenceProvider {
		case "postgres":
			return pgdlq.Open(ctx, cfg.DatabaseURL)
		case "sqlite":
			return sqlitedlq.Open(ctx, cfg.DatabaseURL)
		default:
			return nil, fmt.Errorf("dead_letter_queue_provider=database requires persistence_provider to be postgres or sqlite, got %q", cfg.PersistenceProvider)
		}
	case "filesystem":
		return fsqueue.NewDeadLetterQueue(cfg.FilesystemQueueDir)
	case "in_memory", "":
		return memqueue.NewDeadLetterQueue(), nil
	default:
		return nil, fmt.Errorf("unknown dead_letter_queue provider %q", cfg.DeadLetterQueueProvider)
	}
}

func newLocker(ctx context.Context, cfg *config.Config) (replay.Locker, error) {
	switch cfg.LockerProvider {
	case "gcs":
		return gcslocker.New(ctx, cfg.GCSLockBucket, cfg.GCSLockObject)
	case "in_memory", "":
		return memlock.New(), nil
	default:
		return nil, fmt.Errorf("unknown locker provider %q", cfg.LockerProvider)
	}
}

func resolvePrivateKey(cfg *config.Config) (string, error) {
	if cfg.GitHubPrivateKey != "" {
		return cfg.GitHubPrivateKey, nil
	}
	if cfg.GitHubPrivateKeyFile != "" {
		b, err := os.ReadFile(cfg.GitHubPrivateKeyFile)
		if err != nil {
			return "", fmt.Errorf("failed to read github private key file: %w", err)
		}
		return string(b), nil
	}
	return "", fmt.Errorf("one of GITHUB_PRIVATE_KEY or GITHUB_PRIVATE_KEY_FILE is required")
}

func replayConfig(cfg *config.Config) *replay.Config {
	return &replay.Config{
		PollInterval:   time.Duration(cfg.PollIntervalSeconds) * time.Second,
		MaxAttempts:    cfg.MaxRetryAttempts,
		InitialBackoff: time.Duration(cfg.InitialBackoffSeconds) * time.Second,
		MaxBackoff:     time.Duration(cfg.MaxBackoffSeconds) * time.Second,
		Multiplier:     cfg.BackoffMultiplier,
		JitterFactor:   cfg.JitterFactor,
		ShutdownGrace:  replay.DefaultConfig().ShutdownGrace,
	}
}

func repoconfigConfig(cfg *config.Config) *repoconfig.Config {
	return &repoconfig.Config{
		EnableGitHubDirectoryCascade: cfg.EnableGitHubDirectoryCascade,
		EnableOrganizationConfig:     cfg.EnableOrganizationConfig,
		EnableExtendsKey:             cfg.EnableExtendsKey,
		MaxExtendsDepth:              cfg.MaxExtendsDepth,
		ArrayMergeStrategy:           repoconfig.ArrayMergeStrategy(cfg.ArrayMergeStrategy),
		DefaultFileName:              cfg.DefaultConfigFileName,
	}
}
