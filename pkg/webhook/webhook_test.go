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

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/abcxyz/hookrelay/pkg/idempotency/memory"
	storagememory "github.com/abcxyz/hookrelay/pkg/storage/memory"

	"github.com/abcxyz/hookrelay/pkg/model"
	"github.com/abcxyz/hookrelay/pkg/result"
	"github.com/abcxyz/hookrelay/pkg/router"
)

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func newTestPipeline(t *testing.T, reg *router.Registry) (*Pipeline, *storagememory.Store) {
	t.Helper()
	deliveries := storagememory.New()
	cfg := &Config{
		Secrets:     StaticSecret("test-secret"),
		Deliveries:  deliveries,
		UnitOfWork:  deliveries,
		Idempotency: memory.New(),
		Router:      reg,
	}
	return New(cfg), deliveries
}

func TestPipeline_Process_Success(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"repository":{"id":1,"name":"widgets","full_name":"acme/widgets","owner":{"login":"acme"}}}`)

	var handled int32
	reg := router.New()
	reg.Register("push", "*", func() router.Handler {
		return router.HandlerFunc(func(ctx context.Context, rc *router.Context) error {
			atomic.AddInt32(&handled, 1)
			return nil
		})
	})

	p, deliveries := newTestPipeline(t, reg)

	cmd := model.ProcessWebhookCommand{
		DeliveryID: "d1",
		EventName:  "push",
		Payload:    json.RawMessage(payload),
		RawPayload: payload,
		Signature:  sign("test-secret", payload),
	}

	res := p.Process(context.Background(), cmd)
	if res.IsFailure() {
		t.Fatalf("Process() failed: %v", res)
	}

	stored, err := deliveries.Get(context.Background(), "d1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored == nil {
		t.Fatal("expected delivery to be persisted")
	}
	if atomic.LoadInt32(&handled) != 1 {
		t.Errorf("handled = %d, want 1", handled)
	}
}

func TestPipeline_Process_InvalidSignature(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, router.New())

	payload := []byte(`{}`)
	cmd := model.ProcessWebhookCommand{
		DeliveryID: "d2",
		EventName:  "push",
		Payload:    json.RawMessage(payload),
		RawPayload: payload,
		Signature:  "sha256=deadbeef",
	}

	res := p.Process(context.Background(), cmd)
	if res.Code != result.CodeWebhookSignatureInvalid {
		t.Errorf("Code = %q, want %q", res.Code, result.CodeWebhookSignatureInvalid)
	}
}

func TestPipeline_Process_Duplicate(t *testing.T) {
	t.Parallel()

	p, _ := newTestPipeline(t, router.New())

	payload := []byte(`{}`)
	cmd := model.ProcessWebhookCommand{
		DeliveryID: "d3",
		EventName:  "push",
		Payload:    json.RawMessage(payload),
		RawPayload: payload,
		Signature:  sign("test-secret", payload),
	}

	if res := p.Process(context.Background(), cmd); res.IsFailure() {
		t.Fatalf("first Process() failed: %v", res)
	}

	res := p.Process(context.Background(), cmd)
	if res.Code != result.CodeWebhookDuplicateDelivery {
		t.Errorf("Code = %q, want %q", res.Code, result.CodeWebhookDuplicateDelivery)
	}
}

func TestPipeline_Process_EmptySecret(t *testing.T) {
	t.Parallel()

	deliveries := storagememory.New()
	p := New(&Config{
		Secrets:    StaticSecret(""),
		Deliveries: deliveries,
		UnitOfWork: deliveries,
		Router:     router.New(),
	})

	payload := []byte(`{}`)
	cmd := model.ProcessWebhookCommand{
		DeliveryID: "d4",
		EventName:  "push",
		Payload:    json.RawMessage(payload),
		RawPayload: payload,
		Signature:  "sha256=whatever",
	}

	res := p.Process(context.Background(), cmd)
	if res.Code != result.CodeWebhookSecretEmpty {
		t.Errorf("Code = %q, want %q", res.Code, result.CodeWebhookSecretEmpty)
	}
}

func TestPipeline_Process_HandlerErrorDoesNotFailPipeline(t *testing.T) {
	t.Parallel()

	reg := router.New()
	reg.Register("push", "*", func() router.Handler {
		return router.HandlerFunc(func(ctx context.Context, rc *router.Context) error {
			return errBoom
		})
	})

	p, _ := newTestPipeline(t, reg)

	payload := []byte(`{}`)
	cmd := model.ProcessWebhookCommand{
		DeliveryID: "d5",
		EventName:  "push",
		Payload:    json.RawMessage(payload),
		RawPayload: payload,
		Signature:  sign("test-secret", payload),
	}

	res := p.Process(context.Background(), cmd)
	if res.IsFailure() {
		t.Errorf("Process() should succeed despite handler error, got %v", res)
	}
}

func TestPipeline_Process_DryRun_SkipsHandlerSideEffect(t *testing.T) {
	t.Parallel()

	var sideEffectRan bool
	var actResult string

	reg := router.New()
	reg.Register("push", "*", func() router.Handler {
		return router.HandlerFunc(func(ctx context.Context, rc *router.Context) error {
			if !rc.DryRun {
				t.Error("expected rc.DryRun to be true")
			}
			res, err := router.Act(rc, "post a commit comment", map[string]string{"body": "hello"}, "skipped", func() (string, error) {
				sideEffectRan = true
				return "posted", nil
			})
			if err != nil {
				return err
			}
			actResult = res
			return nil
		})
	})

	deliveries := storagememory.New()
	p := New(&Config{
		Secrets:     StaticSecret("test-secret"),
		Deliveries:  deliveries,
		UnitOfWork:  deliveries,
		Idempotency: memory.New(),
		Router:      reg,
		DryRun:      true,
	})

	payload := []byte(`{"repository":{"id":1,"name":"widgets","full_name":"acme/widgets","owner":{"login":"acme"}}}`)
	cmd := model.ProcessWebhookCommand{
		DeliveryID: "d6",
		EventName:  "push",
		Payload:    json.RawMessage(payload),
		RawPayload: payload,
		Signature:  sign("test-secret", payload),
	}

	res := p.Process(context.Background(), cmd)
	if res.IsFailure() {
		t.Fatalf("Process() failed: %v", res)
	}
	if sideEffectRan {
		t.Error("expected the handler's side effect to be skipped in dry-run mode")
	}
	if actResult != "skipped" {
		t.Errorf("actResult = %q, want the fallback value %q", actResult, "skipped")
	}
}

var errBoom = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
