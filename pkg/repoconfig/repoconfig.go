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

// Package repoconfig resolves a repository's YAML configuration file by
// applying GitHub's directory/organization cascade and bounded `_extends`
// inheritance (spec.md §4.6).
package repoconfig

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/abcxyz/hookrelay/pkg/model"
)

// ArrayMergeStrategy selects how array values merge across cascade layers.
type ArrayMergeStrategy string

const (
	ArrayMergeReplace        ArrayMergeStrategy = "replace"
	ArrayMergeConcatenate    ArrayMergeStrategy = "concatenate"
	ArrayMergeDeepByIndex    ArrayMergeStrategy = "deep_merge_by_index"
)

const extendsKey = "_extends"

// ContentFetcher wraps the GitHub repository-content read the loader needs;
// implemented over google/go-github's Repositories.GetContents.
type ContentFetcher interface {
	// GetFile returns the raw bytes of path in owner/repo at ref (empty
	// for the default branch), and false if the file does not exist.
	GetFile(ctx context.Context, owner, repo, path, ref string) ([]byte, bool, error)
}

// Config controls the loader's cascade/extends/merge behavior
// (spec.md §6 "Repository config" options).
type Config struct {
	EnableGitHubDirectoryCascade bool
	EnableOrganizationConfig     bool
	EnableExtendsKey             bool
	MaxExtendsDepth              int
	ArrayMergeStrategy           ArrayMergeStrategy
	DefaultFileName              string
}

// DefaultConfig returns the spec's defaults: cascade and org config and
// `_extends` all enabled, depth cap of 3, replace-wins arrays.
func DefaultConfig() *Config {
	return &Config{
		EnableGitHubDirectoryCascade: true,
		EnableOrganizationConfig:     true,
		EnableExtendsKey:             true,
		MaxExtendsDepth:              3,
		ArrayMergeStrategy:           ArrayMergeReplace,
		DefaultFileName:              "config.yml",
	}
}

// Loader resolves repository configuration files.
type Loader struct {
	cfg     *Config
	fetcher ContentFetcher
	cache   fileCache
}

// fileCache is the loader's 5-minute file cache, kept as an unexported
// narrow interface so New can accept either the real cache or none.
type fileCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// New constructs a Loader. cache may be nil, per spec.md §4.6 "Cache is
// optional".
func New(cfg *Config, fetcher ContentFetcher, cache fileCache) *Loader {
	return &Loader{cfg: cfg, fetcher: fetcher, cache: cache}
}

// Resolve loads and merges the cascade of configuration layers for path,
// then resolves any `_extends` chain, returning the final merged document.
func (l *Loader) Resolve(ctx context.Context, path model.RepositoryConfigPath) (map[string]any, error) {
	merged, err := l.resolveCascade(ctx, path)
	if err != nil {
		return nil, err
	}
	if !l.cfg.EnableExtendsKey {
		delete(merged, extendsKey)
		return merged, nil
	}
	return l.resolveExtends(ctx, path.Owner, merged, 0)
}

// resolveCascade merges the org -> .github/path -> root-path layers,
// least to most specific (spec.md §4.6 "Cascade").
func (l *Loader) resolveCascade(ctx context.Context, path model.RepositoryConfigPath) (map[string]any, error) {
	merged := map[string]any{}

	if l.cfg.EnableOrganizationConfig {
		orgPath := model.OrgConfigPath(path.Owner, path.Path, path.Ref)
		doc, err := l.load(ctx, orgPath)
		if err != nil {
			return nil, err
		}
		merged = mergeDocs(merged, doc, l.cfg.ArrayMergeStrategy)
	}

	if l.cfg.EnableGitHubDirectoryCascade {
		dotGitHubPath := model.DotGitHubConfigPath(path.Owner, path.Repository, path.Path, path.Ref)
		doc, err := l.load(ctx, dotGitHubPath)
		if err != nil {
			return nil, err
		}
		merged = mergeDocs(merged, doc, l.cfg.ArrayMergeStrategy)
	}

	rootDoc, err := l.load(ctx, path)
	if err != nil {
		return nil, err
	}
	merged = mergeDocs(merged, rootDoc, l.cfg.ArrayMergeStrategy)

	return merged, nil
}

// resolveExtends recursively merges the `_extends` chain, parent-first,
// stopping at depth (spec.md §4.6: "Depth is capped... the loader never
// loops forever").
func (l *Loader) resolveExtends(ctx context.Context, currentOwner string, doc map[string]any, depth int) (map[string]any, error) {
	raw, ok := doc[extendsKey]
	if !ok || depth >= l.cfg.MaxExtendsDepth {
		delete(doc, extendsKey)
		return doc, nil
	}

	ref, ok := raw.(string)
	if !ok || ref == "" {
		delete(doc, extendsKey)
		return doc, nil
	}

	owner, repo, file := parseExtends(currentOwner, ref, l.cfg.DefaultFileName)

	parentPath := model.RootConfigPath(owner, repo, file, "")
	parentDoc, err := l.load(ctx, parentPath)
	if err != nil {
		return nil, err
	}

	parentDoc, err = l.resolveExtends(ctx, owner, parentDoc, depth+1)
	if err != nil {
		return nil, err
	}

	delete(doc, extendsKey)
	return mergeDocs(parentDoc, doc, l.cfg.ArrayMergeStrategy), nil
}

// parseExtends parses "owner/repo[:file]", defaulting owner to
// currentOwner and file to defaultFile when omitted (spec.md §4.6
// "`_extends` inheritance").
func parseExtends(currentOwner, ref, defaultFile string) (owner, repo, file string) {
	ownerRepo, file, hasFile := strings.Cut(ref, ":")
	if !hasFile {
		file = defaultFile
	}

	owner, repo, hasOwner := strings.Cut(ownerRepo, "/")
	if !hasOwner {
		owner, repo = currentOwner, ownerRepo
	}
	return owner, repo, file
}

// load fetches and parses a single file, honoring the file cache.
func (l *Loader) load(ctx context.Context, path model.RepositoryConfigPath) (map[string]any, error) {
	cacheKey := fmt.Sprintf("%s/%s/%s@%s", path.Owner, path.Repository, path.Path, path.Ref)

	if l.cache != nil {
		if raw, ok, err := l.cache.Get(ctx, cacheKey); err == nil && ok {
			return parseYAML(raw)
		}
	}

	raw, ok, err := l.fetcher.GetFile(ctx, path.Owner, path.Repository, path.Path, path.Ref)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", cacheKey, err)
	}
	if !ok {
		return map[string]any{}, nil
	}

	if l.cache != nil {
		if err := l.cache.Set(ctx, cacheKey, raw); err != nil {
			return nil, fmt.Errorf("failed to cache %s: %w", cacheKey, err)
		}
	}
	return parseYAML(raw)
}

func parseYAML(raw []byte) (map[string]any, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse yaml: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}
