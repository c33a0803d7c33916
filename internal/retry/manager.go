package retry

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/taskrunner/runner/internal/logging"
	"github.com/taskrunner/runner/internal/queue"
)

// EventType names the lifecycle events a Manager emits (spec §4.2 "Retry
// events"). Kept as plain strings, matching the Task.Event.Type shape so
// callers can forward them directly into a task's event log.
const (
	EventRetryDecision    = "RETRY_DECISION"
	EventRetryStart       = "RETRY_START"
	EventRetrySuccess     = "RETRY_SUCCESS"
	EventEscalateDecision = "ESCALATE_DECISION"
	EventEscalateExecuted = "ESCALATE_EXECUTED"
	EventRecoveryStart    = "RECOVERY_START"
	EventRecoveryComplete = "RECOVERY_COMPLETE"
)

// ManagerEvent is one emission from a Manager.
type ManagerEvent struct {
	Type      string
	TaskID    string
	Namespace string
	Detail    string
	At        time.Time
}

// EventFunc receives Manager events. Implementations must not block for
// long; the manager treats callback errors/panics as non-fatal (spec §4.2
// "Event delivery is best-effort").
type EventFunc func(ManagerEvent)

// Manager is the stateful retry/escalation coordinator for one namespace's
// dispatch loop. Grounded on the teacher's internal/errors/retry.go
// RetryWithStats, generalized from "retry a single call" to "track attempt
// history per task and decide retry vs escalate".
type Manager struct {
	policy Policy
	logger *slog.Logger
	onEvt  EventFunc

	mu       sync.Mutex
	rng      *rand.Rand
	history  map[string]*queue.RetryHistory
}

// NewManager constructs a Manager. onEvt may be nil.
func NewManager(policy Policy, logger *slog.Logger, onEvt EventFunc) *Manager {
	if onEvt == nil {
		onEvt = func(ManagerEvent) {}
	}
	return &Manager{
		policy:  policy,
		logger:  logging.Component(logger, "retry.manager"),
		onEvt:   onEvt,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		history: make(map[string]*queue.RetryHistory),
	}
}

func (m *Manager) emit(evt ManagerEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("retry event callback panicked", "recover", r)
		}
	}()
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	m.onEvt(evt)
}

func (m *Manager) historyFor(taskID string) *queue.RetryHistory {
	h, ok := m.history[taskID]
	if !ok {
		h = &queue.RetryHistory{TaskID: taskID}
		m.history[taskID] = h
	}
	return h
}

// RecordResult folds one executor attempt's result into the task's retry
// history and returns the decision: retry after a delay, or escalate with a
// report. The caller owns acting on the decision (sleeping, re-dispatching,
// or surfacing the report); Manager only tracks state and decides.
func (m *Manager) RecordResult(ctx context.Context, namespace, taskID string, result TaskResult, durationMS int64) (Decision, *EscalationReport) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history := m.historyFor(taskID)
	attemptStatus := queue.AttemptPass
	cause := Classify(result)
	if cause != "" {
		attemptStatus = queue.AttemptFail
	}
	history.RecordAttempt(queue.Attempt{
		Timestamp:    time.Now().UTC(),
		FailureType:  string(cause),
		Status:       attemptStatus,
		ErrorMessage: result.Error,
		DurationMS:   durationMS,
	})

	if cause == "" {
		m.emit(ManagerEvent{Type: EventRetrySuccess, TaskID: taskID, Namespace: namespace})
		delete(m.history, taskID)
		return Decision{Action: ActionRetry, Attempt: history.RetryCount}, nil
	}

	decision := DecideRetry(m.policy, result, history.RetryCount-1, m.rng)
	m.emit(ManagerEvent{
		Type:      EventRetryDecision,
		TaskID:    taskID,
		Namespace: namespace,
		Detail:    string(decision.Action) + ":" + string(cause),
	})

	if decision.Action == ActionEscalate {
		report := BuildEscalationReport(taskID, decision, *history, result)
		m.emit(ManagerEvent{Type: EventEscalateDecision, TaskID: taskID, Namespace: namespace, Detail: string(decision.Reason)})
		m.emit(ManagerEvent{Type: EventEscalateExecuted, TaskID: taskID, Namespace: namespace})
		delete(m.history, taskID)
		return decision, &report
	}

	m.emit(ManagerEvent{Type: EventRetryStart, TaskID: taskID, Namespace: namespace, Detail: decision.Delay.String()})
	return decision, nil
}

// HistoryFor returns a copy of the in-flight retry history for a task, or a
// zero-value history if nothing has been recorded yet.
func (m *Manager) HistoryFor(taskID string) queue.RetryHistory {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.history[taskID]; ok {
		cp := *h
		cp.Attempts = append([]queue.Attempt(nil), h.Attempts...)
		return cp
	}
	return queue.RetryHistory{TaskID: taskID}
}

// Forget discards tracked history for a task, e.g. after cancellation.
func (m *Manager) Forget(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, taskID)
}
