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

// Package config defines the application's environment-variable surface
// (spec.md §6 "Configuration surface"): the webhook secret, GitHub App
// credentials, adapter provider selectors, replay tunables, and
// repository-config options, following the teacher's
// envconfig-tag + cfgloader.Load + ToFlags(*cli.FlagSet) idiom.
package config

import (
	"context"
	"fmt"

	"github.com/abcxyz/pkg/cfgloader"
	"github.com/abcxyz/pkg/cli"
	"github.com/sethvargo/go-envconfig"
)

// Config is the full application configuration surface.
type Config struct {
	Port string `env:"PORT,default=8080"`

	WebhookSecret string `env:"WEBHOOK_SECRET,required"`

	GitHubAppID         string `env:"GITHUB_APP_ID,required"`
	GitHubPrivateKey    string `env:"GITHUB_PRIVATE_KEY"`
	GitHubPrivateKeyFile string `env:"GITHUB_PRIVATE_KEY_FILE"`
	GitHubClientID      string `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret  string `env:"GITHUB_CLIENT_SECRET"`
	GitHubBaseURL       string `env:"GITHUB_BASE_URL"`

	PersistenceProvider     string `env:"PERSISTENCE_PROVIDER,default=in_memory"`
	DatabaseURL             string `env:"DATABASE_URL"`
	CacheProvider           string `env:"CACHE_PROVIDER,default=in_memory"`
	IdempotencyProvider     string `env:"IDEMPOTENCY_PROVIDER,default=in_memory"`
	ReplayQueueProvider     string `env:"REPLAY_QUEUE_PROVIDER,default=in_memory"`
	DeadLetterQueueProvider string `env:"DEAD_LETTER_QUEUE_PROVIDER,default=in_memory"`
	LockerProvider          string `env:"LOCKER_PROVIDER,default=in_memory"`
	RedisAddr               string `env:"REDIS_ADDR"`
	FilesystemQueueDir      string `env:"FILESYSTEM_QUEUE_DIR,default=/var/run/hookrelay/replay"`
	GCSLockBucket           string `env:"GCS_LOCK_BUCKET"`
	GCSLockObject           string `env:"GCS_LOCK_OBJECT,default=hookrelay/replay-worker.lock"`

	MaxRetryAttempts      int     `env:"MAX_RETRY_ATTEMPTS,default=5"`
	InitialBackoffSeconds int     `env:"INITIAL_BACKOFF_SECONDS,default=2"`
	MaxBackoffSeconds     int     `env:"MAX_BACKOFF_SECONDS,default=300"`
	BackoffMultiplier     float64 `env:"BACKOFF_MULTIPLIER,default=2.0"`
	JitterFactor          float64 `env:"JITTER_FACTOR,default=0.1"`
	PollIntervalSeconds   int     `env:"POLL_INTERVAL_SECONDS,default=1"`

	DryRun bool `env:"DRY_RUN,default=false"`

	EnableGitHubDirectoryCascade bool   `env:"ENABLE_GITHUB_DIRECTORY_CASCADE,default=true"`
	EnableOrganizationConfig     bool   `env:"ENABLE_ORGANIZATION_CONFIG,default=true"`
	EnableExtendsKey             bool   `env:"ENABLE_EXTENDS_KEY,default=true"`
	MaxExtendsDepth              int    `env:"MAX_EXTENDS_DEPTH,default=3"`
	ArrayMergeStrategy           string `env:"ARRAY_MERGE_STRATEGY,default=replace"`
	DefaultConfigFileName        string `env:"DEFAULT_CONFIG_FILE_NAME,default=config.yml"`
}

var validProviders = map[string]map[string]bool{
	"persistence":      {"postgres": true, "sqlite": true, "in_memory": true},
	"cache":            {"in_memory": true, "redis": true},
	"idempotency":      {"in_memory": true, "redis": true},
	"replay_queue":      {"in_memory": true, "filesystem": true, "redis": true},
	"dead_letter_queue": {"in_memory": true, "filesystem": true, "database": true},
	"locker":            {"in_memory": true, "gcs": true},
}

// Validate validates the config after load (spec.md §6).
func (cfg *Config) Validate() error {
	if cfg.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if cfg.GitHubAppID == "" {
		return fmt.Errorf("GITHUB_APP_ID is required")
	}
	if cfg.GitHubPrivateKey == "" && cfg.GitHubPrivateKeyFile == "" {
		return fmt.Errorf("one of GITHUB_PRIVATE_KEY or GITHUB_PRIVATE_KEY_FILE is required")
	}

	if !validProviders["persistence"][cfg.PersistenceProvider] {
		return fmt.Errorf("invalid PERSISTENCE_PROVIDER %q", cfg.PersistenceProvider)
	}
	if !validProviders["cache"][cfg.CacheProvider] {
		return fmt.Errorf("invalid CACHE_PROVIDER %q", cfg.CacheProvider)
	}
	if !validProviders["idempotency"][cfg.IdempotencyProvider] {
		return fmt.Errorf("invalid IDEMPOTENCY_PROVIDER %q", cfg.IdempotencyProvider)
	}
	if !validProviders["replay_queue"][cfg.ReplayQueueProvider] {
		return fmt.Errorf("invalid REPLAY_QUEUE_PROVIDER %q", cfg.ReplayQueueProvider)
	}
	if !validProviders["dead_letter_queue"][cfg.DeadLetterQueueProvider] {
		return fmt.Errorf("invalid DEAD_LETTER_QUEUE_PROVIDER %q", cfg.DeadLetterQueueProvider)
	}
	if !validProviders["locker"][cfg.LockerProvider] {
		return fmt.Errorf("invalid LOCKER_PROVIDER %q", cfg.LockerProvider)
	}
	if cfg.LockerProvider == "gcs" && cfg.GCSLockBucket == "" {
		return fmt.Errorf("GCS_LOCK_BUCKET is required when LOCKER_PROVIDER=gcs")
	}

	if cfg.MaxRetryAttempts < 1 {
		return fmt.Errorf("MAX_RETRY_ATTEMPTS must be at least 1")
	}
	if cfg.BackoffMultiplier <= 1.0 {
		return fmt.Errorf("BACKOFF_MULTIPLIER must be greater than 1.0")
	}
	if cfg.JitterFactor < 0 || cfg.JitterFactor > 1 {
		return fmt.Errorf("JITTER_FACTOR must be between 0 and 1")
	}
	if cfg.MaxExtendsDepth < 0 {
		return fmt.Errorf("MAX_EXTENDS_DEPTH must be non-negative")
	}

	switch cfg.ArrayMergeStrategy {
	case "replace", "concatenate", "deep_merge_by_index":
	default:
		return fmt.Errorf("invalid ARRAY_MERGE_STRATEGY %q", cfg.ArrayMergeStrategy)
	}

	return nil
}

// New creates a new Config from environment variables.
func New(ctx context.Context) (*Config, error) {
	return newConfig(ctx, envconfig.OsLookuper())
}

func newConfig(ctx context.Context, lu envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := cfgloader.Load(ctx, &cfg, cfgloader.WithLookuper(lu)); err != nil {
		return nil, fmt.Errorf("failed to parse application config: %w", err)
	}
	return &cfg, nil
}

// ToFlags binds the config to the given [cli.FlagSet] and returns it.
func (cfg *Config) ToFlags(set *cli.FlagSet) *cli.FlagSet {
	f := set.NewSection("SERVER OPTIONS")

	f.StringVar(&cli.StringVar{
		Name:    "port",
		Target:  &cfg.Port,
		EnvVar:  "PORT",
		Default: "8080",
		Usage:   `The port the HTTP server listens on.`,
	})

	f.StringVar(&cli.StringVar{
		Name:   "webhook-secret",
		Target: &cfg.WebhookSecret,
		EnvVar: "WEBHOOK_SECRET",
		Usage:  `The shared secret used to verify GitHub webhook signatures.`,
	})

	f.BoolVar(&cli.BoolVar{
		Name:    "dry-run",
		Target:  &cfg.DryRun,
		EnvVar:  "DRY_RUN",
		Default: false,
		Usage:   `Run handlers in dry-run mode: side-effecting actions are logged instead of performed.`,
	})

	g := set.NewSection("GITHUB APP OPTIONS")

	g.StringVar(&cli.StringVar{
		Name:   "github-app-id",
		Target: &cfg.GitHubAppID,
		EnvVar: "GITHUB_APP_ID",
		Usage:  `The GitHub App ID.`,
	})

	g.StringVar(&cli.StringVar{
		Name:   "github-private-key",
		Target: &cfg.GitHubPrivateKey,
		EnvVar: "GITHUB_PRIVATE_KEY",
		Usage:  `The GitHub App's PEM-encoded private key.`,
	})

	g.StringVar(&cli.StringVar{
		Name:   "github-private-key-file",
		Target: &cfg.GitHubPrivateKeyFile,
		EnvVar: "GITHUB_PRIVATE_KEY_FILE",
		Usage:  `Path to a file containing the GitHub App's PEM-encoded private key.`,
	})

	g.StringVar(&cli.StringVar{
		Name:   "github-client-id",
		Target: &cfg.GitHubClientID,
		EnvVar: "GITHUB_CLIENT_ID",
		Usage:  `The GitHub App's OAuth client ID.`,
	})

	g.StringVar(&cli.StringVar{
		Name:   "github-client-secret",
		Target: &cfg.GitHubClientSecret,
		EnvVar: "GITHUB_CLIENT_SECRET",
		Usage:  `The GitHub App's OAuth client secret.`,
	})

	g.StringVar(&cli.StringVar{
		Name:   "github-base-url",
		Target: &cfg.GitHubBaseURL,
		EnvVar: "GITHUB_BASE_URL",
		Usage:  `Override base URL for GitHub Enterprise Server.`,
	})

	a := set.NewSection("ADAPTER OPTIONS")

	a.StringVar(&cli.StringVar{
		Name:    "persistence-provider",
		Target:  &cfg.PersistenceProvider,
		EnvVar:  "PERSISTENCE_PROVIDER",
		Default: "in_memory",
		Usage:   `One of postgres, sqlite, in_memory.`,
	})

	a.StringVar(&cli.StringVar{
		Name:   "database-url",
		Target: &cfg.DatabaseURL,
		EnvVar: "DATABASE_URL",
		Usage:  `Connection string for the postgres/sqlite persistence providers.`,
	})

	a.StringVar(&cli.StringVar{
		Name:    "cache-provider",
		Target:  &cfg.CacheProvider,
		EnvVar:  "CACHE_PROVIDER",
		Default: "in_memory",
		Usage:   `One of in_memory, redis.`,
	})

	a.StringVar(&cli.StringVar{
		Name:    "idempotency-provider",
		Target:  &cfg.IdempotencyProvider,
		EnvVar:  "IDEMPOTENCY_PROVIDER",
		Default: "in_memory",
		Usage:   `One of in_memory, redis.`,
	})

	a.StringVar(&cli.StringVar{
		Name:    "replay-queue-provider",
		Target:  &cfg.ReplayQueueProvider,
		EnvVar:  "REPLAY_QUEUE_PROVIDER",
		Default: "in_memory",
		Usage:   `One of in_memory, filesystem, redis.`,
	})

	a.StringVar(&cli.StringVar{
		Name:    "dead-letter-queue-provider",
		Target:  &cfg.DeadLetterQueueProvider,
		EnvVar:  "DEAD_LETTER_QUEUE_PROVIDER",
		Default: "in_memory",
		Usage:   `One of in_memory, filesystem, database (reuses the persistence-provider database).`,
	})

	a.StringVar(&cli.StringVar{
		Name:    "locker-provider",
		Target:  &cfg.LockerProvider,
		EnvVar:  "LOCKER_PROVIDER",
		Default: "in_memory",
		Usage:   `One of in_memory, gcs. Governs the replay worker's cooperative single-consumer lease.`,
	})

	a.StringVar(&cli.StringVar{
		Name:   "redis-addr",
		Target: &cfg.RedisAddr,
		EnvVar: "REDIS_ADDR",
		Usage:  `Redis address, required when any provider above is redis.`,
	})

	a.StringVar(&cli.StringVar{
		Name:    "filesystem-queue-dir",
		Target:  &cfg.FilesystemQueueDir,
		EnvVar:  "FILESYSTEM_QUEUE_DIR",
		Default: "/var/run/hookrelay/replay",
		Usage:   `Directory for the filesystem replay_queue/dead_letter_queue providers.`,
	})

	a.StringVar(&cli.StringVar{
		Name:   "gcs-lock-bucket",
		Target: &cfg.GCSLockBucket,
		EnvVar: "GCS_LOCK_BUCKET",
		Usage:  `GCS bucket for the replay worker lease, required when locker-provider=gcs.`,
	})

	a.StringVar(&cli.StringVar{
		Name:    "gcs-lock-object",
		Target:  &cfg.GCSLockObject,
		EnvVar:  "GCS_LOCK_OBJECT",
		Default: "hookrelay/replay-worker.lock",
		Usage:   `GCS object name for the replay worker lease.`,
	})

	r := set.NewSection("REPLAY OPTIONS")

	r.IntVar(&cli.IntVar{
		Name:    "max-retry-attempts",
		Target:  &cfg.MaxRetryAttempts,
		EnvVar:  "MAX_RETRY_ATTEMPTS",
		Default: 5,
		Usage:   `Maximum replay attempts before dead-lettering.`,
	})

	r.IntVar(&cli.IntVar{
		Name:    "initial-backoff-seconds",
		Target:  &cfg.InitialBackoffSeconds,
		EnvVar:  "INITIAL_BACKOFF_SECONDS",
		Default: 2,
		Usage:   `Initial replay backoff, in seconds.`,
	})

	r.IntVar(&cli.IntVar{
		Name:    "max-backoff-seconds",
		Target:  &cfg.MaxBackoffSeconds,
		EnvVar:  "MAX_BACKOFF_SECONDS",
		Default: 300,
		Usage:   `Maximum replay backoff, in seconds.`,
	})

	r.Float64Var(&cli.Float64Var{
		Name:    "backoff-multiplier",
		Target:  &cfg.BackoffMultiplier,
		EnvVar:  "BACKOFF_MULTIPLIER",
		Default: 2.0,
		Usage:   `Exponential backoff multiplier.`,
	})

	r.Float64Var(&cli.Float64Var{
		Name:    "jitter-factor",
		Target:  &cfg.JitterFactor,
		EnvVar:  "JITTER_FACTOR",
		Default: 0.1,
		Usage:   `Fractional jitter applied to each backoff.`,
	})

	r.IntVar(&cli.IntVar{
		Name:    "poll-interval-seconds",
		Target:  &cfg.PollIntervalSeconds,
		EnvVar:  "POLL_INTERVAL_SECONDS",
		Default: 1,
		Usage:   `Replay worker queue poll interval, in seconds.`,
	})

	c := set.NewSection("REPOSITORY CONFIG OPTIONS")

	c.BoolVar(&cli.BoolVar{
		Name:    "enable-github-directory-cascade",
		Target:  &cfg.EnableGitHubDirectoryCascade,
		EnvVar:  "ENABLE_GITHUB_DIRECTORY_CASCADE",
		Default: true,
		Usage:   `Merge the repo's .github/ directory layer into config resolution.`,
	})

	c.BoolVar(&cli.BoolVar{
		Name:    "enable-organization-config",
		Target:  &cfg.EnableOrganizationConfig,
		EnvVar:  "ENABLE_ORGANIZATION_CONFIG",
		Default: true,
		Usage:   `Merge the organization-wide .github repo layer into config resolution.`,
	})

	c.BoolVar(&cli.BoolVar{
		Name:    "enable-extends-key",
		Target:  &cfg.EnableExtendsKey,
		EnvVar:  "ENABLE_EXTENDS_KEY",
		Default: true,
		Usage:   `Honor the _extends key for cross-repository config inheritance.`,
	})

	c.IntVar(&cli.IntVar{
		Name:    "max-extends-depth",
		Target:  &cfg.MaxExtendsDepth,
		EnvVar:  "MAX_EXTENDS_DEPTH",
		Default: 3,
		Usage:   `Maximum _extends chain depth.`,
	})

	c.StringVar(&cli.StringVar{
		Name:    "array-merge-strategy",
		Target:  &cfg.ArrayMergeStrategy,
		EnvVar:  "ARRAY_MERGE_STRATEGY",
		Default: "replace",
		Usage:   `One of replace, concatenate, deep_merge_by_index.`,
	})

	c.StringVar(&cli.StringVar{
		Name:    "default-config-file-name",
		Target:  &cfg.DefaultConfigFileName,
		EnvVar:  "DEFAULT_CONFIG_FILE_NAME",
		Default: "config.yml",
		Usage:   `Repository config file name.`,
	})

	return set
}
