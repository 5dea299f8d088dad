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

package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/abcxyz/hookrelay/pkg/idempotency/memory"
	storagememory "github.com/abcxyz/hookrelay/pkg/storage/memory"
	"github.com/abcxyz/hookrelay/pkg/webhook"

	"github.com/abcxyz/hookrelay/pkg/router"
)

const testSecret = "test-github-webhook-secret"

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	deliveries := storagememory.New()
	pipeline := webhook.New(&webhook.Config{
		Secrets:    webhook.StaticSecret(testSecret),
		Deliveries: deliveries,
		UnitOfWork: deliveries,
		Router:     router.New(),
	})
	srv := New(pipeline, memory.New())
	srv.MarkReady()
	return srv, srv.Routes(context.Background())
}

func TestHandleWebhook_Success(t *testing.T) {
	t.Parallel()

	_, handler := newTestServer(t)
	payload := []byte(`{"action":"opened","repository":{"id":1,"name":"widgets","full_name":"acme/widgets","owner":{"login":"acme"}}}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(payload))
	req.Header.Set(DeliveryIDHeader, "d1")
	req.Header.Set(EventTypeHeader, "pull_request")
	req.Header.Set(SHA256SignatureHeader, sign(testSecret, payload))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d (body %q)", rec.Code, http.StatusAccepted, rec.Body.String())
	}
}

func TestHandleWebhook_MissingHeaders(t *testing.T) {
	t.Parallel()

	_, handler := newTestServer(t)
	payload := []byte(`{}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	t.Parallel()

	_, handler := newTestServer(t)
	payload := []byte(`{}`)

	req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(payload))
	req.Header.Set(DeliveryIDHeader, "d2")
	req.Header.Set(EventTypeHeader, "push")
	req.Header.Set(SHA256SignatureHeader, "sha256=deadbeef")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestHandleWebhook_DuplicateViaHTTPMiddleware(t *testing.T) {
	t.Parallel()

	_, handler := newTestServer(t)
	payload := []byte(`{}`)
	sig := sign(testSecret, payload)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(payload))
		req.Header.Set(DeliveryIDHeader, "d3")
		req.Header.Set(EventTypeHeader, "push")
		req.Header.Set(SHA256SignatureHeader, sig)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusAccepted {
			t.Fatalf("iteration %d: status = %d, want %d", i, rec.Code, http.StatusAccepted)
		}
	}
}

func TestHandleWebhook_DuplicateViaPipeline(t *testing.T) {
	t.Parallel()

	_, handler := newTestServer(t)
	payload := []byte(`{}`)
	sig := sign(testSecret, payload)

	req1 := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(payload))
	req1.Header.Set(DeliveryIDHeader, "d4")
	req1.Header.Set(EventTypeHeader, "push")
	req1.Header.Set(SHA256SignatureHeader, sig)
	handler.ServeHTTP(httptest.NewRecorder(), req1)

	// A second server built with a nil idempotency store has no HTTP
	// middleware short-circuit, so its requests reach the pipeline's
	// storage-backed duplicate check directly.
	deliveries := storagememory.New()
	pipeline := webhook.New(&webhook.Config{
		Secrets:    webhook.StaticSecret(testSecret),
		Deliveries: deliveries,
		UnitOfWork: deliveries,
		Router:     router.New(),
	})
	srv := New(pipeline, nil)
	srv.MarkReady()
	handler2 := srv.Routes(context.Background())

	req2 := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(payload))
	req2.Header.Set(DeliveryIDHeader, "d5")
	req2.Header.Set(EventTypeHeader, "push")
	req2.Header.Set(SHA256SignatureHeader, sig)
	handler2.ServeHTTP(httptest.NewRecorder(), req2)

	req3 := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(payload))
	req3.Header.Set(DeliveryIDHeader, "d5")
	req3.Header.Set(EventTypeHeader, "push")
	req3.Header.Set(SHA256SignatureHeader, sig)
	rec3 := httptest.NewRecorder()
	handler2.ServeHTTP(rec3, req3)

	if rec3.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec3.Code, http.StatusAccepted)
	}
}

func TestHandleHealth_NotReadyBeforeMarkReady(t *testing.T) {
	t.Parallel()

	deliveries := storagememory.New()
	pipeline := webhook.New(&webhook.Config{
		Secrets:    webhook.StaticSecret(testSecret),
		Deliveries: deliveries,
		UnitOfWork: deliveries,
		Router:     router.New(),
	})
	srv := New(pipeline, memory.New())
	handler := srv.Routes(context.Background())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	srv.MarkReady()
	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec2.Code, http.StatusOK)
	}
}

func TestHandleVersion(t *testing.T) {
	t.Parallel()

	_, handler := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
