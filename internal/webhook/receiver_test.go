/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/syncd-io/syncd/internal/config"
	"github.com/syncd-io/syncd/internal/rule"
	"github.com/syncd-io/syncd/internal/source"
	"github.com/syncd-io/syncd/pkg/events"
)

type fakeDispatcher struct {
	calls int
	kind  events.Kind
	err   error
}

func (f *fakeDispatcher) DispatchWebhook(_ context.Context, _, _ string, kind events.Kind, _ []byte) (string, error) {
	f.calls++
	f.kind = kind
	if f.err != nil {
		return "", f.err
	}
	return "task-123", nil
}

func testReceiver(t *testing.T, d Dispatcher) *Receiver {
	t.Helper()
	t.Setenv("TEST_WEBHOOK_SECRET", testHMACSecret)

	bundle := &config.Bundle{
		Platforms: []config.Platform{
			{Name: "gh", Kind: "github", WebhookSecretEnv: "TEST_WEBHOOK_SECRET"},
		},
		Datasources: []config.Datasource{
			{Name: "store", Kind: "file", Strategy: config.StrategyFile},
		},
		Rules: []rule.Rule{},
	}
	// Index lookups come from validation; run the same path Load does.
	raw, err := json.Marshal(bundle)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := config.Parse(raw)
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}

	sources := source.NewRegistry()
	sources.Register("github", source.NewGitHubFactory())

	return &Receiver{Bundle: loaded, Sources: sources, Dispatcher: d}
}

func postWebhook(rv *Receiver, target, eventType string, body []byte, sign bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(string(body)))
	req.SetPathValue("platform", pathSegment(target, 2))
	req.SetPathValue("datasource", pathSegment(target, 3))
	if eventType != "" {
		req.Header.Set("X-Github-Event", eventType)
	}
	if sign {
		req.Header.Set("X-Hub-Signature-256", computeHMAC(body, testHMACSecret))
	}
	w := httptest.NewRecorder()
	rv.handleWebhook(w, req)
	return w
}

func pathSegment(target string, i int) string {
	parts := strings.Split(strings.TrimPrefix(target, "/"), "/")
	if i-1 < len(parts) {
		return parts[i-1]
	}
	return ""
}

func TestReceiver_Accepted(t *testing.T) {
	d := &fakeDispatcher{}
	rv := testReceiver(t, d)

	body := []byte(`{"ref":"refs/heads/main","commits":[]}`)
	w := postWebhook(rv, "/webhooks/gh/store", "push", body, true)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "accepted" || resp["task_id"] != "task-123" {
		t.Errorf("resp = %v", resp)
	}
	if d.calls != 1 || d.kind != events.KindPush {
		t.Errorf("dispatcher calls=%d kind=%s", d.calls, d.kind)
	}
}

func TestReceiver_BadSignature(t *testing.T) {
	d := &fakeDispatcher{}
	rv := testReceiver(t, d)

	w := postWebhook(rv, "/webhooks/gh/store", "push", []byte(`{}`), false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if d.calls != 0 {
		t.Error("unverified payload reached the dispatcher")
	}
}

func TestReceiver_UnknownPlatform(t *testing.T) {
	rv := testReceiver(t, &fakeDispatcher{})
	w := postWebhook(rv, "/webhooks/nope/store", "push", []byte(`{}`), true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestReceiver_UnknownDatasource(t *testing.T) {
	rv := testReceiver(t, &fakeDispatcher{})
	w := postWebhook(rv, "/webhooks/gh/nope", "push", []byte(`{}`), true)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestReceiver_IgnoredEventType(t *testing.T) {
	d := &fakeDispatcher{}
	rv := testReceiver(t, d)

	w := postWebhook(rv, "/webhooks/gh/store", "issues", []byte(`{}`), true)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["status"] != "ignored" {
		t.Errorf("resp = %v", resp)
	}
	if d.calls != 0 {
		t.Error("ignored event reached the dispatcher")
	}
}
