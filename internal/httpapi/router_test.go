package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/taskrunner/runner/internal/activity"
	"github.com/taskrunner/runner/internal/apikeys"
	"github.com/taskrunner/runner/internal/config"
	"github.com/taskrunner/runner/internal/dispatcher"
	"github.com/taskrunner/runner/internal/queue"
	"github.com/taskrunner/runner/internal/retry"
	"github.com/taskrunner/runner/internal/skills"
	"github.com/taskrunner/runner/internal/stream"
	"github.com/taskrunner/runner/internal/supervisor"
)

type stubExecutor struct {
	status retry.ResultStatus
	output string
}

func (s stubExecutor) Run(ctx context.Context, task *queue.Task, onChunk func(stream.OutputChunk)) (retry.TaskResult, error) {
	onChunk(stream.OutputChunk{Stream: stream.KindStdout, Text: "hello"})
	return retry.TaskResult{Status: s.status, Output: s.output}, nil
}

func newTestRouter(t *testing.T) (http.Handler, queue.Store, *dispatcher.Dispatcher) {
	t.Helper()
	store := queue.NewMemoryStore(nil)
	d := dispatcher.New(store, retry.DefaultPolicy(), nil, nil)
	d.RegisterNamespace("default", stubExecutor{status: retry.ResultPass, output: "done"}, 64)

	cfgStore, err := config.Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	apiStore, err := apikeys.Open(filepath.Join(t.TempDir(), "api-keys.json"))
	if err != nil {
		t.Fatalf("apikeys open: %v", err)
	}
	skillsRegistry := skills.NewRegistry(filepath.Join(t.TempDir(), "skills"), time.Minute)

	deps := RouterDeps{
		Store:       store,
		Dispatcher:  d,
		Supervisors: map[string]*supervisor.Supervisor{},
		Config:      cfgStore,
		APIKeys:     apiStore,
		Skills:      skillsRegistry,
		Activity:    activity.NewMemoryStore(),
	}
	engine := NewRouter(deps, RouterConfig{})
	return engine, store, d
}

func doRequest(t *testing.T, mux http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestPostChatEnqueuesTask(t *testing.T) {
	mux, store, _ := newTestRouter(t)
	rec := doRequest(t, mux, http.MethodPost, "/api/projects/p1/chat", chatRequest{Content: "do the thing"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.RunID == "" || resp.TaskGroupID == "" {
		t.Fatalf("expected ids to be populated, got %+v", resp)
	}
	tasks, err := store.ListByNamespace(context.Background(), "default", 0)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("expected 1 task enqueued, got %d err=%v", len(tasks), err)
	}
}

func TestPostChatRejectsEmptyContent(t *testing.T) {
	mux, _, _ := newTestRouter(t)
	rec := doRequest(t, mux, http.MethodPost, "/api/projects/p1/chat", chatRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetConversationReturnsEnqueuedMessage(t *testing.T) {
	mux, _, _ := newTestRouter(t)
	doRequest(t, mux, http.MethodPost, "/api/projects/p1/chat", chatRequest{Content: "ping", SessionID: "s1"})

	rec := doRequest(t, mux, http.MethodGet, "/api/projects/p1/conversation?sessionId=s1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Messages []conversationMessage `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Messages) == 0 || body.Messages[0].Content != "ping" {
		t.Fatalf("expected ping message, got %+v", body.Messages)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	mux, _, _ := newTestRouter(t)
	rec := doRequest(t, mux, http.MethodPut, "/api/api-keys/anthropic", setAPIKeyRequest{Key: "sk-ant-1234567890abcdef"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/api-keys/anthropic", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var pub apikeys.Public
	if err := json.Unmarshal(rec.Body.Bytes(), &pub); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !pub.Configured || pub.Masked != "sk-a****cdef" {
		t.Fatalf("unexpected public key view: %+v", pub)
	}
}

func TestSupervisorGlobalRoundTrip(t *testing.T) {
	mux, _, _ := newTestRouter(t)
	updated := config.GlobalConfig{DefaultNamespace: "default", MaxRetries: 9, RestartMax: 2, Enabled: true}
	rec := doRequest(t, mux, http.MethodPut, "/api/supervisor/global", updated)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, mux, http.MethodGet, "/api/supervisor/global", nil)
	var got config.GlobalConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.MaxRetries != 9 {
		t.Fatalf("expected override to persist, got %+v", got)
	}
}
