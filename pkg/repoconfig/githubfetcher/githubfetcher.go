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

// Package githubfetcher implements repoconfig.ContentFetcher over
// google/go-github's repository contents API, the same client construction
// idiom as pkg/githubclient.
package githubfetcher

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-github/v61/github"
)

// Fetcher is a repoconfig.ContentFetcher backed by an authenticated
// *github.Client. The caller is responsible for producing a client whose
// transport carries a valid installation token, typically by composing
// pkg/installationauth with pkg/resilienthttp.
type Fetcher struct {
	client *github.Client
}

// New wraps an existing *github.Client.
func New(client *github.Client) *Fetcher {
	return &Fetcher{client: client}
}

// NewFromHTTPClient builds a Fetcher from a plain *http.Client, for callers
// that already hold a resilient, token-bearing RoundTripper and don't want
// to construct a *github.Client themselves.
func NewFromHTTPClient(httpClient *http.Client) *Fetcher {
	return &Fetcher{client: github.NewClient(httpClient)}
}

// GetFile implements repoconfig.ContentFetcher.
func (f *Fetcher) GetFile(ctx context.Context, owner, repo, path, ref string) ([]byte, bool, error) {
	var opts *github.RepositoryContentGetOptions
	if ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: ref}
	}

	fileContent, _, resp, err := f.client.Repositories.GetContents(ctx, owner, repo, path, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get contents of %s/%s/%s: %w", owner, repo, path, err)
	}
	if fileContent == nil {
		// path resolved to a directory, not a file.
		return nil, false, nil
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode contents of %s/%s/%s: %w", owner, repo, path, err)
	}
	return []byte(content), true, nil
}
