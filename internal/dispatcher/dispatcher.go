// Package dispatcher runs one single-flight dispatch loop per namespace,
// wiring the Queue Store, Process Supervisor, Output Stream, and Retry
// Engine together (spec §2 "Dispatcher", §5 "Dispatch loop is single-flight
// per namespace").
package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/taskrunner/runner/internal/logging"
	"github.com/taskrunner/runner/internal/queue"
	"github.com/taskrunner/runner/internal/retry"
	"github.com/taskrunner/runner/internal/stream"
)

// Executor runs one task against the namespace's executor process and
// returns its classifiable result. Implementations turn the process's
// stdio into OutputChunks and pass each one to onChunk as they read it;
// the Dispatcher's onChunk stamps the task identity on the chunk, appends
// it to the namespace's Output Stream log and publishes it.
type Executor interface {
	Run(ctx context.Context, task *queue.Task, onChunk func(stream.OutputChunk)) (retry.TaskResult, error)
}

// TimeoutProfile maps a TaskType to its hard per-task deadline (spec §5
// "Cancellation and timeouts ... per-task, derived from TaskType defaults").
type TimeoutProfile map[queue.TaskType]time.Duration

// DefaultTimeoutProfile matches the conservative defaults implied by
// spec §6's supervisor config surface (GET /supervisor/timeout-profiles).
func DefaultTimeoutProfile() TimeoutProfile {
	return TimeoutProfile{
		queue.TaskTypeReadInfo:       2 * time.Minute,
		queue.TaskTypeImplementation: 20 * time.Minute,
		queue.TaskTypeReport:         5 * time.Minute,
	}
}

func (p TimeoutProfile) deadlineFor(t queue.TaskType) time.Duration {
	if d, ok := p[t]; ok {
		return d
	}
	return 10 * time.Minute
}

// Namespace bundles one namespace's wiring: its store (shared across
// namespaces), its own retry manager, output log, and executor handle.
type Namespace struct {
	Name     string
	Executor Executor
	Log      *stream.Log
	Stream   *stream.Broadcaster
	Retry    *retry.Manager
}

// Dispatcher owns the single-flight loops for a set of namespaces. Stale
// RUNNING/AWAITING_RESPONSE tasks are swept by this package's separate
// Sweeper type (spec §9's second Open Question: sweeping ownership lives
// here, not in the retry manager).
type Dispatcher struct {
	store    queue.Store
	policy   retry.Policy
	timeouts TimeoutProfile
	logger   *slog.Logger

	mu         sync.Mutex
	namespaces map[string]*Namespace
}

// New constructs a Dispatcher. Namespaces register themselves with
// RegisterNamespace before Run is called for them.
func New(store queue.Store, policy retry.Policy, timeouts TimeoutProfile, logger *slog.Logger) *Dispatcher {
	if timeouts == nil {
		timeouts = DefaultTimeoutProfile()
	}
	return &Dispatcher{
		store:      store,
		policy:     policy,
		timeouts:   timeouts,
		logger:     logging.Component(logger, "dispatcher"),
		namespaces: make(map[string]*Namespace),
	}
}

// RegisterNamespace wires an executor and output stream for namespace.
func (d *Dispatcher) RegisterNamespace(namespace string, executor Executor, logCapacity int) *Namespace {
	d.mu.Lock()
	defer d.mu.Unlock()
	ns := &Namespace{
		Name:     namespace,
		Executor: executor,
		Log:      stream.NewLog(logCapacity),
		Stream:   stream.NewBroadcaster(),
		Retry:    retry.NewManager(d.policy, d.logger, nil),
	}
	d.namespaces[namespace] = ns
	return ns
}

// Namespace returns the registered bundle, or nil.
func (d *Dispatcher) Namespace(name string) *Namespace {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.namespaces[name]
}

// Run drives one namespace's single-flight claim/execute/decide loop until
// ctx is cancelled. Exactly one executor invocation is ever in flight for
// this namespace: Run blocks on each task's result before claiming the
// next.
func (d *Dispatcher) Run(ctx context.Context, namespace string) error {
	ns := d.Namespace(namespace)
	if ns == nil {
		return nil
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.dispatchOne(ctx, ns); err != nil {
				d.logger.Error("dispatch iteration failed", "namespace", namespace, "error", err)
			}
		}
	}
}

// dispatchOne claims at most one task and drives it to a terminal outcome.
// Retries never release the claim: the task stays RUNNING across attempts
// (the status table in spec §4.1 has no RUNNING→QUEUED edge), so a
// retryable failure just loops this goroutine with the decided backoff
// instead of requeueing. Only PASS (→COMPLETE) and ESCALATE (→ERROR) ever
// mutate status again.
func (d *Dispatcher) dispatchOne(ctx context.Context, ns *Namespace) error {
	claim, err := d.store.Claim(ctx, ns.Name)
	if err != nil {
		return err
	}
	if !claim.OK {
		return nil
	}
	task := claim.Task
	deadline := d.timeouts.deadlineFor(task.TaskType)

	for attempt := 0; ; attempt++ {
		result, durationMS := d.runOnce(ctx, ns, task, deadline)

		decision, report := ns.Retry.RecordResult(ctx, ns.Name, task.TaskID, result, durationMS)

		switch {
		case result.Status == retry.ResultPass:
			return d.store.UpdateStatus(ctx, ns.Name, task.TaskID, queue.StatusComplete, "", result.Output)
		case decision.Action == retry.ActionEscalate:
			msg := result.Error
			if report != nil {
				msg = report.UserMessage
			}
			if err := d.store.UpdateStatus(ctx, ns.Name, task.TaskID, queue.StatusError, msg, result.Output); err != nil {
				return err
			}
			return d.store.AppendEvent(ctx, ns.Name, task.TaskID, queue.Event{Type: "ESCALATE_EXECUTED", Message: msg})
		default:
			if err := d.store.AppendEvent(ctx, ns.Name, task.TaskID, queue.Event{Type: "RETRY_START", Message: string(decision.Cause)}); err != nil {
				return err
			}
			select {
			case <-time.After(decision.Delay):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (d *Dispatcher) runOnce(ctx context.Context, ns *Namespace, task *queue.Task, deadline time.Duration) (retry.TaskResult, int64) {
	taskCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	result, execErr := ns.Executor.Run(taskCtx, task, func(chunk stream.OutputChunk) {
		chunk.SessionID = task.SessionID
		chunk.TaskID = task.TaskID
		chunk.TaskCreatedAt = task.CreatedAt
		stored := ns.Log.Append(chunk)
		ns.Stream.Publish(stored)
	})
	durationMS := time.Since(start).Milliseconds()

	if taskCtx.Err() == context.DeadlineExceeded {
		return retry.TaskResult{Status: retry.ResultTimeout, Error: "execution deadline exceeded"}, durationMS
	}
	if execErr != nil && result.Status == "" {
		return retry.TaskResult{Status: retry.ResultError, Error: execErr.Error()}, durationMS
	}
	return result, durationMS
}
