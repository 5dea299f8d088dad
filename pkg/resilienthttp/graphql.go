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

package resilienthttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/abcxyz/hookrelay/pkg/result"
)

// defaultGraphQLEndpoint is GitHub's single GraphQL entry point.
const defaultGraphQLEndpoint = "https://api.github.com/graphql"

// graphQLRequest is the {query, variables} envelope GitHub's GraphQL API
// expects.
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphQLError is a single entry in a GraphQL response's errors array.
type graphQLError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// graphQLResponse is the {data, errors} envelope every GraphQL response
// shares, regardless of the query shape.
type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// GraphQLClient issues GitHub GraphQL API requests over an already
// resilient *http.Client (the same timeout/breaker/retry stack NewClient
// builds for REST traffic).
type GraphQLClient struct {
	httpClient *http.Client
	endpoint   string
}

// NewGraphQLClient wraps httpClient, which callers typically build with
// NewClient plus an authenticating base transport (pkg/installationauth).
func NewGraphQLClient(httpClient *http.Client, endpoint string) *GraphQLClient {
	if endpoint == "" {
		endpoint = defaultGraphQLEndpoint
	}
	return &GraphQLClient{httpClient: httpClient, endpoint: endpoint}
}

// Query executes a GraphQL query and decodes its data field into out.
func (c *GraphQLClient) Query(ctx context.Context, query string, variables map[string]any, out any) result.Result {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return result.New(result.CodeGitHubGraphQLError, "failed to marshal graphql request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return result.New(result.CodeGitHubGraphQLError, "failed to build graphql request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return result.New(result.CodeGitHubGraphQLHTTPError, "graphql request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return result.New(result.CodeGitHubGraphQLHTTPError, "failed to read graphql response body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return result.New(result.CodeGitHubGraphQLHTTPError,
			fmt.Sprintf("graphql endpoint returned status %d", resp.StatusCode), nil)
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return result.New(result.CodeGitHubGraphQLError, "failed to decode graphql response", err)
	}
	if len(envelope.Errors) > 0 {
		return result.New(result.CodeGitHubGraphQLError, envelope.Errors[0].Message, nil)
	}
	if len(envelope.Data) == 0 {
		return result.New(result.CodeGitHubGraphQLNoData, "graphql response contained no data", nil)
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return result.New(result.CodeGitHubGraphQLError, "failed to decode graphql data into destination", err)
		}
	}
	return result.OK()
}
