// Package queue implements the durable task queue: atomic state transitions,
// namespace isolation, and stale-task recovery (spec §3, §4.1).
package queue

import (
	"time"

	"github.com/google/uuid"
)

// Status is a Task lifecycle state.
type Status string

const (
	StatusQueued           Status = "QUEUED"
	StatusRunning          Status = "RUNNING"
	StatusAwaitingResponse Status = "AWAITING_RESPONSE"
	StatusComplete         Status = "COMPLETE"
	StatusError            Status = "ERROR"
	StatusCancelled        Status = "CANCELLED"
)

// IsTerminal reports whether status accepts no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusComplete, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// allowedTransitions encodes the state machine in spec §4.1 exactly.
var allowedTransitions = map[Status]map[Status]bool{
	StatusQueued: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusComplete:         true,
		StatusError:            true,
		StatusCancelled:        true,
		StatusAwaitingResponse: true,
	},
	StatusAwaitingResponse: {
		StatusQueued:    true,
		StatusRunning:   true,
		StatusCancelled: true,
		StatusError:     true,
	},
}

// IsAllowedTransition reports whether from->to is a legal status transition.
func IsAllowedTransition(from, to Status) bool {
	if from == to {
		return false
	}
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// TaskType is a coarse category driving permissions and timeout profile.
type TaskType string

const (
	TaskTypeReadInfo       TaskType = "READ_INFO"
	TaskTypeImplementation TaskType = "IMPLEMENTATION"
	TaskTypeReport         TaskType = "REPORT"
)

// ConversationMessage is one entry in a task's conversation_history.
type ConversationMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is an append-only progress event recorded against a task.
type Event struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Task is the durable unit of work described in spec §3.
type Task struct {
	Namespace    string   `json:"namespace"`
	TaskID       string   `json:"task_id"`
	TaskGroupID  string   `json:"task_group_id"`
	SessionID    string   `json:"session_id"`
	Status       Status   `json:"status"`
	TaskType     TaskType `json:"task_type"`
	Prompt       string   `json:"prompt"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Output               string                 `json:"output,omitempty"`
	ErrorMessage         string                 `json:"error_message,omitempty"`
	Clarification        string                 `json:"clarification,omitempty"`
	ConversationHistory  []ConversationMessage  `json:"conversation_history,omitempty"`
	Events               []Event                `json:"events,omitempty"`
}

// NewTask constructs a freshly queued task with generated identifiers.
func NewTask(namespace, sessionID, taskGroupID, prompt string, taskType TaskType) *Task {
	now := time.Now().UTC()
	if taskGroupID == "" {
		taskGroupID = uuid.NewString()
	}
	return &Task{
		Namespace:   namespace,
		TaskID:      uuid.NewString(),
		TaskGroupID: taskGroupID,
		SessionID:   sessionID,
		Status:      StatusQueued,
		TaskType:    taskType,
		Prompt:      prompt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RetryAttemptStatus is the outcome of one executor attempt.
type RetryAttemptStatus string

const (
	AttemptPass RetryAttemptStatus = "PASS"
	AttemptFail RetryAttemptStatus = "FAIL"
)

// Attempt is one row of a RetryHistory's ordered attempts.
type Attempt struct {
	AttemptNumber int                `json:"attempt_number"`
	Timestamp     time.Time          `json:"timestamp"`
	FailureType   string             `json:"failure_type,omitempty"`
	Status        RetryAttemptStatus `json:"status"`
	ErrorMessage  string             `json:"error_message,omitempty"`
	DurationMS    int64              `json:"duration_ms"`
}

// RetryHistory tracks attempts for a task (or subtask) per spec §3.
type RetryHistory struct {
	TaskID     string    `json:"task_id"`
	SubtaskID  string    `json:"subtask_id,omitempty"`
	RetryCount int       `json:"retry_count"`
	Attempts   []Attempt `json:"attempts"`
}

// RecordAttempt appends an attempt, keeping retry_count equal to the number
// of FAIL attempts and attempt_number strictly increasing (spec §3 invariant).
func (h *RetryHistory) RecordAttempt(a Attempt) {
	a.AttemptNumber = len(h.Attempts) + 1
	h.Attempts = append(h.Attempts, a)
	if a.Status == AttemptFail {
		h.RetryCount++
	}
}

// RunnerStatus is the liveness state of a heartbeat record.
type RunnerStatus string

const (
	RunnerRunning RunnerStatus = "RUNNING"
	RunnerStopped RunnerStatus = "STOPPED"
)

// RunnerRecord is a namespace's executor heartbeat (spec §3).
type RunnerRecord struct {
	Namespace      string       `json:"namespace"`
	RunnerID       string       `json:"runner_id"`
	StartedAt      time.Time    `json:"started_at"`
	LastHeartbeat  time.Time    `json:"last_heartbeat"`
	Status         RunnerStatus `json:"status"`
	ProjectRoot    string       `json:"project_root,omitempty"`
}

// IsAlive reports whether the heartbeat is fresh relative to now/timeout.
func (r RunnerRecord) IsAlive(now time.Time, heartbeatTimeout time.Duration) bool {
	if r.Status != RunnerRunning {
		return false
	}
	return now.Sub(r.LastHeartbeat) < heartbeatTimeout
}
