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

package repoconfig

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/abcxyz/hookrelay/pkg/model"
)

type fakeFetcher struct {
	files map[string][]byte // "owner/repo/path" -> bytes
}

func (f *fakeFetcher) GetFile(ctx context.Context, owner, repo, path, ref string) ([]byte, bool, error) {
	raw, ok := f.files[fmt.Sprintf("%s/%s/%s", owner, repo, path)]
	return raw, ok, nil
}

func TestLoader_Resolve_Cascade(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{files: map[string][]byte{
		"acme/.github/config.yml":       []byte("timeout: 10\nlabels: [org]\n"),
		"acme/widgets/.github/config.yml": []byte("timeout: 20\n"),
		"acme/widgets/config.yml":       []byte("labels: [repo]\n"),
	}}

	cfg := DefaultConfig()
	loader := New(cfg, fetcher, nil)

	got, err := loader.Resolve(context.Background(), model.RootConfigPath("acme", "widgets", "config.yml", ""))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := map[string]any{
		"timeout": 20,
		"labels":  []any{"repo"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_Resolve_Extends(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{files: map[string][]byte{
		"acme/base/config.yml":    []byte("timeout: 5\nretries: 3\n"),
		"acme/widgets/config.yml": []byte("_extends: acme/base\ntimeout: 10\n"),
	}}

	cfg := DefaultConfig()
	cfg.EnableGitHubDirectoryCascade = false
	cfg.EnableOrganizationConfig = false
	loader := New(cfg, fetcher, nil)

	got, err := loader.Resolve(context.Background(), model.RootConfigPath("acme", "widgets", "config.yml", ""))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	want := map[string]any{
		"timeout": 10,
		"retries": 3,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Resolve() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoader_Resolve_ExtendsDepthCap(t *testing.T) {
	t.Parallel()

	// A -> B -> C -> D, each naming the next as _extends. With a depth cap
	// of 1, resolution should stop after following one hop.
	fetcher := &fakeFetcher{files: map[string][]byte{
		"acme/a/config.yml": []byte("_extends: acme/b\nlevel: a\n"),
		"acme/b/config.yml": []byte("_extends: acme/c\nlevel: b\n"),
		"acme/c/config.yml": []byte("_extends: acme/d\nlevel: c\n"),
		"acme/d/config.yml": []byte("level: d\n"),
	}}

	cfg := DefaultConfig()
	cfg.EnableGitHubDirectoryCascade = false
	cfg.EnableOrganizationConfig = false
	cfg.MaxExtendsDepth = 1
	loader := New(cfg, fetcher, nil)

	got, err := loader.Resolve(context.Background(), model.RootConfigPath("acme", "a", "config.yml", ""))
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if got["level"] != "a" {
		t.Errorf("got[level] = %v, want %q (depth cap should stop recursion)", got["level"], "a")
	}
	if _, ok := got[extendsKey]; ok {
		t.Error("_extends key should be stripped from the final merge")
	}
}

func TestMergeArrays(t *testing.T) {
	t.Parallel()

	parent := []any{"p1", "p2"}
	child := []any{"c1"}

	cases := []struct {
		strategy ArrayMergeStrategy
		want     []any
	}{
		{strategy: ArrayMergeReplace, want: []any{"c1"}},
		{strategy: ArrayMergeConcatenate, want: []any{"p1", "p2", "c1"}},
		{strategy: ArrayMergeDeepByIndex, want: []any{"c1", "p2"}},
	}

	for _, tc := range cases {
		got := mergeArrays(parent, child, tc.strategy)
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("mergeArrays(%s) mismatch (-want +got):\n%s", tc.strategy, diff)
		}
	}
}
