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

// Package result defines the (code, message, detail) carrier used to
// propagate outcomes across component boundaries without panicking or
// returning bare errors for expected, typed failures.
package result

import "fmt"

// Code is a stable identifier for a failure. Tests assert on these values, so
// they must not be renamed once published.
type Code string

const (
	// CodeOK is the zero value for a successful Result.
	CodeOK Code = ""

	CodeWebhookSignatureInvalid Code = "webhook_signature_invalid"
	CodeWebhookSecretUnavailable Code = "webhook_secret_unavailable"
	CodeWebhookSecretEmpty      Code = "webhook_secret_empty"
	CodeWebhookDuplicateDelivery Code = "webhook_duplicate_delivery"
	CodeWebhookDeliveryCreationFailed Code = "webhook_delivery_creation_failed"

	CodeStorageReadFailed  Code = "storage_read_failed"
	CodeStorageWriteFailed Code = "storage_write_failed"

	CodeGitHubInstallationTokenFailed     Code = "github_installation_token_failed"
	CodeGitHubInstallationTokenInvalid    Code = "github_installation_token_invalid"
	CodeGitHubInstallationTokenInvalidJSON Code = "github_installation_token_invalid_json"

	CodeGitHubGraphQLError    Code = "github_graphql_error"
	CodeGitHubGraphQLNoData  Code = "github_graphql_no_data"
	CodeGitHubGraphQLHTTPError Code = "github_graphql_http_error"

	CodeGitHubRESTCircuitBreakerOpen Code = "github_rest_circuit_breaker_open"
	CodeGitHubRESTTimeout            Code = "github_rest_timeout"
	CodeGitHubRESTError               Code = "github_rest_error"
)

// nonRetryable lists the codes that are not eligible for replay per spec.md
// §7. Benign and configuration codes are not retryable; everything else
// (infrastructure, upstream, data) is retryable unless explicitly listed as
// not.
var nonRetryable = map[Code]bool{
	CodeOK:                              true,
	CodeWebhookDuplicateDelivery:        true,
	CodeWebhookSignatureInvalid:         true,
	CodeWebhookSecretUnavailable:        true,
	CodeWebhookSecretEmpty:              true,
	CodeWebhookDeliveryCreationFailed:   true,
	CodeGitHubInstallationTokenInvalid:  true,
	CodeGitHubInstallationTokenInvalidJSON: true,
}

// Result carries the outcome of an operation that is expected to fail in
// well-known, typed ways. A zero-value Result (Code == CodeOK) is a success.
type Result struct {
	Code    Code
	Message string
	Detail  string

	// Err is the underlying error, if any, preserved for logging/wrapping.
	Err error
}

// OK returns a successful Result.
func OK() Result {
	return Result{Code: CodeOK}
}

// New returns a failed Result with the given code and message, optionally
// wrapping an underlying error.
func New(code Code, message string, err error) Result {
	return Result{Code: code, Message: message, Err: err}
}

// WithDetail returns a copy of r with Detail set.
func (r Result) WithDetail(detail string) Result {
	r.Detail = detail
	return r
}

// IsOK reports whether the Result represents success.
func (r Result) IsOK() bool {
	return r.Code == CodeOK
}

// IsFailure reports whether the Result represents a failure.
func (r Result) IsFailure() bool {
	return !r.IsOK()
}

// Retryable reports whether this Result is eligible for replay (spec.md
// §7 "Replay eligibility"). Benign and configuration codes are never
// retryable; everything else is, by default.
func (r Result) Retryable() bool {
	if r.IsOK() {
		return false
	}
	return !nonRetryable[r.Code]
}

// Error implements the error interface so a Result can be returned/wrapped
// wherever an error is expected (e.g. from adapter ports).
func (r Result) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s: %v", r.Code, r.Message, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// Unwrap allows errors.Is/errors.As to reach the wrapped error.
func (r Result) Unwrap() error {
	return r.Err
}
