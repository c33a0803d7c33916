package queue

import (
	"context"
	"time"
)

// ClaimResult is the outcome of a claim() call (spec §4.1 "Claim algorithm").
type ClaimResult struct {
	OK   bool
	Task *Task
}

// Store is the durable task queue port. Every method is namespace-scoped
// unless explicitly documented otherwise (spec §4.1 "Namespace isolation").
//
// Implementations MUST map Claim's conditional update onto the storage
// engine's compare-and-set primitive: it is the only mechanism preventing
// double execution (spec §4.1 "Claim algorithm is the central contract").
type Store interface {
	// EnsureSchema creates or migrates the backing schema. No-op for
	// in-memory implementations.
	EnsureSchema(ctx context.Context) error

	// Enqueue persists a new QUEUED task and returns it.
	Enqueue(ctx context.Context, namespace, sessionID, taskGroupID, prompt string, taskType TaskType) (*Task, error)

	// GetItem fetches a single task by its composite key.
	GetItem(ctx context.Context, namespace, taskID string) (*Task, error)

	// Claim atomically moves the oldest QUEUED task for namespace to
	// RUNNING and returns it. See spec §4.1 "Claim algorithm".
	Claim(ctx context.Context, namespace string) (ClaimResult, error)

	// UpdateStatus is a convenience wrapper that validates the transition
	// and, on success, also writes optional errorMessage/output.
	UpdateStatus(ctx context.Context, namespace, taskID string, status Status, errorMessage, output string) error

	// UpdateStatusWithValidation performs exactly the state-machine check
	// in spec §4.1 and nothing else; used by property tests.
	UpdateStatusWithValidation(ctx context.Context, namespace, taskID string, newStatus Status) error

	// SetAwaitingResponse attaches a clarification payload (and optional
	// output), preserving conversation_history, and transitions to
	// AWAITING_RESPONSE.
	SetAwaitingResponse(ctx context.Context, namespace, taskID, clarification string, history []ConversationMessage, output string) error

	// ResumeWithResponse appends a user-role entry to conversation_history
	// and transitions the task back to QUEUED.
	ResumeWithResponse(ctx context.Context, namespace, taskID, userText string) error

	// AppendEvent appends a read-only progress event; legal even on
	// terminal tasks (spec §3 Task invariants).
	AppendEvent(ctx context.Context, namespace, taskID string, event Event) error

	// RecoverStaleTasks transitions RUNNING tasks whose updated_at predates
	// now-maxAge to ERROR, and returns the count affected. Idempotent.
	RecoverStaleTasks(ctx context.Context, namespace string, maxAge time.Duration) (int, error)

	// RecoverStaleAwaitingResponse transitions AWAITING_RESPONSE tasks
	// whose updated_at predates now-maxAge to ERROR. This is the
	// dispatcher-level sweeper called out as an Open Question in spec §9.
	RecoverStaleAwaitingResponse(ctx context.Context, namespace string, maxAge time.Duration) (int, error)

	// ListByNamespace lists tasks in a namespace, newest first.
	ListByNamespace(ctx context.Context, namespace string, limit int) ([]*Task, error)

	// ListByGroup lists tasks sharing a task_group_id, ordered by created_at.
	ListByGroup(ctx context.Context, namespace, taskGroupID string) ([]*Task, error)

	// GetAllNamespaces returns every namespace with at least one task.
	// Permitted as an admin/aggregate cross-namespace read (spec §4.1).
	GetAllNamespaces(ctx context.Context) ([]string, error)

	// UpsertRunner records/updates a heartbeat for namespace+runnerID.
	UpsertRunner(ctx context.Context, record RunnerRecord) error

	// GetRunner fetches the heartbeat record for namespace+runnerID.
	GetRunner(ctx context.Context, namespace, runnerID string) (*RunnerRecord, error)

	// ListRunners lists heartbeat records across all namespaces (admin read).
	ListRunners(ctx context.Context) ([]RunnerRecord, error)
}
