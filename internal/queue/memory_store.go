package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/taskrunner/runner/internal/logging"
)

const claimBatchSize = 10

// key is the composite (namespace, task_id) primary key.
type key struct {
	namespace string
	taskID    string
}

// MemoryStore is an in-process Store backed by a mutex-guarded map. The
// mutex plays the role the storage engine's compare-and-set primitive plays
// in PostgresStore: every mutation that must be atomic holds the lock for
// its entire read-check-write sequence, mirroring the single-writer style
// of the teacher's TaskLocalStore (internal/delivery/channels/lark/task_store_local.go).
type MemoryStore struct {
	mu      sync.Mutex
	tasks   map[key]*Task
	runners map[key]*RunnerRecord
	logger  *slog.Logger
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		tasks:   make(map[key]*Task),
		runners: make(map[key]*RunnerRecord),
		logger:  logging.Component(logger, "queue.memory"),
	}
}

func (s *MemoryStore) EnsureSchema(ctx context.Context) error { return nil }

func (s *MemoryStore) Enqueue(ctx context.Context, namespace, sessionID, taskGroupID, prompt string, taskType TaskType) (*Task, error) {
	t := NewTask(namespace, sessionID, taskGroupID, prompt, taskType)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[key{namespace, t.TaskID}] = cloneTask(t)
	return cloneTask(t), nil
}

func (s *MemoryStore) GetItem(ctx context.Context, namespace, taskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key{namespace, taskID}]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(t), nil
}

// Claim implements spec §4.1's claim algorithm: scan QUEUED tasks for
// namespace ordered by created_at, take a small batch, and conditionally
// flip the first one to RUNNING.
func (s *MemoryStore) Claim(ctx context.Context, namespace string) (ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*Task
	for k, t := range s.tasks {
		if k.namespace != namespace || t.Status != StatusQueued {
			continue
		}
		candidates = append(candidates, t)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if len(candidates) > claimBatchSize {
		candidates = candidates[:claimBatchSize]
	}
	if len(candidates) == 0 {
		return ClaimResult{OK: false}, nil
	}

	first := candidates[0]
	if first.Status != StatusQueued {
		// Lost the race under the lock — cannot happen in-process, but
		// keep the check so the logic matches the distributed algorithm.
		return ClaimResult{OK: false}, nil
	}
	first.Status = StatusRunning
	first.UpdatedAt = time.Now().UTC()
	return ClaimResult{OK: true, Task: cloneTask(first)}, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, namespace, taskID string, status Status, errorMessage, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key{namespace, taskID}]
	if !ok {
		return ErrNotFound
	}
	if !IsAllowedTransition(t.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, status)
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	if errorMessage != "" {
		t.ErrorMessage = errorMessage
	}
	if output != "" {
		t.Output = output
	}
	return nil
}

func (s *MemoryStore) UpdateStatusWithValidation(ctx context.Context, namespace, taskID string, newStatus Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key{namespace, taskID}]
	if !ok {
		return ErrNotFound
	}
	if !IsAllowedTransition(t.Status, newStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, newStatus)
	}
	t.Status = newStatus
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SetAwaitingResponse(ctx context.Context, namespace, taskID, clarification string, history []ConversationMessage, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key{namespace, taskID}]
	if !ok {
		return ErrNotFound
	}
	if !IsAllowedTransition(t.Status, StatusAwaitingResponse) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, StatusAwaitingResponse)
	}
	t.Status = StatusAwaitingResponse
	t.UpdatedAt = time.Now().UTC()
	t.Clarification = clarification
	if history != nil {
		t.ConversationHistory = history
	}
	if output != "" {
		t.Output = output
	}
	return nil
}

func (s *MemoryStore) ResumeWithResponse(ctx context.Context, namespace, taskID, userText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key{namespace, taskID}]
	if !ok {
		return ErrNotFound
	}
	if !IsAllowedTransition(t.Status, StatusQueued) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, StatusQueued)
	}
	t.ConversationHistory = append(t.ConversationHistory, ConversationMessage{
		Role:      "user",
		Content:   userText,
		Timestamp: time.Now().UTC(),
	})
	t.Status = StatusQueued
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) AppendEvent(ctx context.Context, namespace, taskID string, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key{namespace, taskID}]
	if !ok {
		return ErrNotFound
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	t.Events = append(t.Events, event)
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) RecoverStaleTasks(ctx context.Context, namespace string, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	count := 0
	for k, t := range s.tasks {
		if namespace != "" && k.namespace != namespace {
			continue
		}
		if t.Status != StatusRunning {
			continue
		}
		if now.Sub(t.UpdatedAt) < maxAge {
			continue
		}
		t.Status = StatusError
		t.ErrorMessage = fmt.Sprintf("Task stale: running for %ds without completion", int(now.Sub(t.UpdatedAt).Seconds()))
		t.UpdatedAt = now
		count++
	}
	return count, nil
}

func (s *MemoryStore) RecoverStaleAwaitingResponse(ctx context.Context, namespace string, maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	count := 0
	for k, t := range s.tasks {
		if namespace != "" && k.namespace != namespace {
			continue
		}
		if t.Status != StatusAwaitingResponse {
			continue
		}
		if now.Sub(t.UpdatedAt) < maxAge {
			continue
		}
		t.Status = StatusError
		t.ErrorMessage = fmt.Sprintf("Task stale: awaiting response for %ds without resume", int(now.Sub(t.UpdatedAt).Seconds()))
		t.UpdatedAt = now
		count++
	}
	return count, nil
}

func (s *MemoryStore) ListByNamespace(ctx context.Context, namespace string, limit int) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Task
	for k, t := range s.tasks {
		if k.namespace != namespace {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListByGroup(ctx context.Context, namespace, taskGroupID string) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Task
	for k, t := range s.tasks {
		if k.namespace != namespace || t.TaskGroupID != taskGroupID {
			continue
		}
		out = append(out, cloneTask(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetAllNamespaces(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for k := range s.tasks {
		if !seen[k.namespace] {
			seen[k.namespace] = true
			out = append(out, k.namespace)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) UpsertRunner(ctx context.Context, record RunnerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runners[key{record.Namespace, record.RunnerID}] = &record
	return nil
}

func (s *MemoryStore) GetRunner(ctx context.Context, namespace, runnerID string) (*RunnerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runners[key{namespace, runnerID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListRunners(ctx context.Context) ([]RunnerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RunnerRecord, 0, len(s.runners))
	for _, r := range s.runners {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Namespace < out[j].Namespace })
	return out, nil
}

func cloneTask(t *Task) *Task {
	cp := *t
	if t.ConversationHistory != nil {
		cp.ConversationHistory = append([]ConversationMessage(nil), t.ConversationHistory...)
	}
	if t.Events != nil {
		cp.Events = append([]Event(nil), t.Events...)
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
