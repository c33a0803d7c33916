package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskrunner/runner/internal/logging"
)

const (
	queueTable   = "pm_runner_queue"
	runnersTable = "pm_runner_runners"
)

// PostgresStore is the durable Store backing described in spec §6's
// "Storage engine" section: a key-value store with secondary indexes and a
// conditional-update primitive, here realized over Postgres with pgx,
// grounded on internal/delivery/channels/lark/task_store_postgres.go's
// pool-based access pattern.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logging.Component(logger, "queue.postgres")}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    namespace TEXT NOT NULL,
    task_id TEXT NOT NULL,
    task_group_id TEXT NOT NULL,
    session_id TEXT NOT NULL,
    status TEXT NOT NULL,
    task_type TEXT NOT NULL DEFAULT '',
    prompt TEXT NOT NULL DEFAULT '',
    output TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    clarification TEXT NOT NULL DEFAULT '',
    conversation_history JSONB NOT NULL DEFAULT '[]',
    events JSONB NOT NULL DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (namespace, task_id)
);`, queueTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_status_created ON %s (namespace, status, created_at);`, queueTable, queueTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_group_created ON %s (namespace, task_group_id, created_at);`, queueTable, queueTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    namespace TEXT NOT NULL,
    runner_id TEXT NOT NULL,
    started_at TIMESTAMPTZ NOT NULL,
    last_heartbeat TIMESTAMPTZ NOT NULL,
    status TEXT NOT NULL,
    project_root TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (namespace, runner_id)
);`, runnersTable),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure queue schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Enqueue(ctx context.Context, namespace, sessionID, taskGroupID, prompt string, taskType TaskType) (*Task, error) {
	t := NewTask(namespace, sessionID, taskGroupID, prompt, taskType)
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (namespace, task_id, task_group_id, session_id, status, task_type, prompt, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, queueTable),
		t.Namespace, t.TaskID, t.TaskGroupID, t.SessionID, t.Status, t.TaskType, t.Prompt, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return nil, translatePgErr(err)
	}
	return t, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, namespace, taskID string) (*Task, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
SELECT namespace, task_id, task_group_id, session_id, status, task_type, prompt, output, error_message,
       clarification, conversation_history, events, created_at, updated_at
FROM %s WHERE namespace = $1 AND task_id = $2`, queueTable), namespace, taskID)
	return scanTask(row)
}

// Claim is the compare-and-set claim primitive required by spec §4.1: the
// UPDATE's WHERE clause re-checks status=QUEUED so that only one concurrent
// caller's UPDATE can match and RETURN a row for a given task_id.
func (s *PostgresStore) Claim(ctx context.Context, namespace string) (ClaimResult, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
SELECT task_id FROM %s WHERE namespace = $1 AND status = $2 ORDER BY created_at ASC LIMIT $3`, queueTable),
		namespace, StatusQueued, claimBatchSize)
	if err != nil {
		return ClaimResult{}, translatePgErr(err)
	}
	var candidateIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return ClaimResult{}, translatePgErr(err)
		}
		candidateIDs = append(candidateIDs, id)
	}
	rows.Close()
	if len(candidateIDs) == 0 {
		return ClaimResult{OK: false}, nil
	}

	taskID := candidateIDs[0]
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
UPDATE %s SET status = $1, updated_at = $2
WHERE namespace = $3 AND task_id = $4 AND status = $5
RETURNING namespace, task_id, task_group_id, session_id, status, task_type, prompt, output, error_message,
          clarification, conversation_history, events, created_at, updated_at`, queueTable),
		StatusRunning, now, namespace, taskID, StatusQueued)
	task, err := scanTask(row)
	if errors.Is(err, ErrNotFound) {
		// Another worker's conditional update won the race.
		return ClaimResult{OK: false}, nil
	}
	if err != nil {
		return ClaimResult{}, err
	}
	return ClaimResult{OK: true, Task: task}, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, namespace, taskID string, status Status, errorMessage, output string) error {
	current, err := s.GetItem(ctx, namespace, taskID)
	if err != nil {
		return err
	}
	if !IsAllowedTransition(current.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
UPDATE %s SET status = $1, updated_at = $2,
  error_message = CASE WHEN $3 <> '' THEN $3 ELSE error_message END,
  output = CASE WHEN $4 <> '' THEN $4 ELSE output END
WHERE namespace = $5 AND task_id = $6 AND status = $7`, queueTable),
		status, time.Now().UTC(), errorMessage, output, namespace, taskID, current.Status)
	if err != nil {
		return translatePgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) UpdateStatusWithValidation(ctx context.Context, namespace, taskID string, newStatus Status) error {
	return s.UpdateStatus(ctx, namespace, taskID, newStatus, "", "")
}

func (s *PostgresStore) SetAwaitingResponse(ctx context.Context, namespace, taskID, clarification string, history []ConversationMessage, output string) error {
	current, err := s.GetItem(ctx, namespace, taskID)
	if err != nil {
		return err
	}
	if !IsAllowedTransition(current.Status, StatusAwaitingResponse) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, StatusAwaitingResponse)
	}
	if history == nil {
		history = current.ConversationHistory
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
UPDATE %s SET status = $1, updated_at = $2, clarification = $3, conversation_history = $4,
  output = CASE WHEN $5 <> '' THEN $5 ELSE output END
WHERE namespace = $6 AND task_id = $7 AND status = $8`, queueTable),
		StatusAwaitingResponse, time.Now().UTC(), clarification, historyJSON, output, namespace, taskID, current.Status)
	if err != nil {
		return translatePgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) ResumeWithResponse(ctx context.Context, namespace, taskID, userText string) error {
	current, err := s.GetItem(ctx, namespace, taskID)
	if err != nil {
		return err
	}
	if !IsAllowedTransition(current.Status, StatusQueued) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, StatusQueued)
	}
	history := append(current.ConversationHistory, ConversationMessage{
		Role:      "user",
		Content:   userText,
		Timestamp: time.Now().UTC(),
	})
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
UPDATE %s SET status = $1, updated_at = $2, conversation_history = $3
WHERE namespace = $4 AND task_id = $5 AND status = $6`, queueTable),
		StatusQueued, time.Now().UTC(), historyJSON, namespace, taskID, current.Status)
	if err != nil {
		return translatePgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, namespace, taskID string, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
UPDATE %s SET events = events || $1::jsonb, updated_at = $2
WHERE namespace = $3 AND task_id = $4`, queueTable),
		eventJSON, time.Now().UTC(), namespace, taskID)
	if err != nil {
		return translatePgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RecoverStaleTasks(ctx context.Context, namespace string, maxAge time.Duration) (int, error) {
	return s.recoverStale(ctx, namespace, StatusRunning, maxAge, "Task stale: running for %ds without completion")
}

func (s *PostgresStore) RecoverStaleAwaitingResponse(ctx context.Context, namespace string, maxAge time.Duration) (int, error) {
	return s.recoverStale(ctx, namespace, StatusAwaitingResponse, maxAge, "Task stale: awaiting response for %ds without resume")
}

func (s *PostgresStore) recoverStale(ctx context.Context, namespace string, from Status, maxAge time.Duration, messageTemplate string) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	message := fmt.Sprintf(messageTemplate, int(maxAge.Seconds()))
	var tag pgconnCommandTag
	var err error
	if namespace == "" {
		tag, err = s.pool.Exec(ctx, fmt.Sprintf(`
UPDATE %s SET status = $1, error_message = $2, updated_at = now()
WHERE status = $3 AND updated_at < $4`, queueTable), StatusError, message, from, cutoff)
	} else {
		tag, err = s.pool.Exec(ctx, fmt.Sprintf(`
UPDATE %s SET status = $1, error_message = $2, updated_at = now()
WHERE namespace = $3 AND status = $4 AND updated_at < $5`, queueTable), StatusError, message, namespace, from, cutoff)
	}
	if err != nil {
		return 0, translatePgErr(err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListByNamespace(ctx context.Context, namespace string, limit int) ([]*Task, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
SELECT namespace, task_id, task_group_id, session_id, status, task_type, prompt, output, error_message,
       clarification, conversation_history, events, created_at, updated_at
FROM %s WHERE namespace = $1 ORDER BY created_at DESC LIMIT $2`, queueTable), namespace, limit)
	if err != nil {
		return nil, translatePgErr(err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *PostgresStore) ListByGroup(ctx context.Context, namespace, taskGroupID string) ([]*Task, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
SELECT namespace, task_id, task_group_id, session_id, status, task_type, prompt, output, error_message,
       clarification, conversation_history, events, created_at, updated_at
FROM %s WHERE namespace = $1 AND task_group_id = $2 ORDER BY created_at ASC`, queueTable), namespace, taskGroupID)
	if err != nil {
		return nil, translatePgErr(err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

func (s *PostgresStore) GetAllNamespaces(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT DISTINCT namespace FROM %s ORDER BY namespace`, queueTable))
	if err != nil {
		return nil, translatePgErr(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, translatePgErr(err)
		}
		out = append(out, ns)
	}
	return out, nil
}

func (s *PostgresStore) UpsertRunner(ctx context.Context, record RunnerRecord) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (namespace, runner_id, started_at, last_heartbeat, status, project_root)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (namespace, runner_id) DO UPDATE SET
  last_heartbeat = EXCLUDED.last_heartbeat,
  status = EXCLUDED.status,
  project_root = EXCLUDED.project_root`, runnersTable),
		record.Namespace, record.RunnerID, record.StartedAt, record.LastHeartbeat, record.Status, record.ProjectRoot)
	return translatePgErr(err)
}

func (s *PostgresStore) GetRunner(ctx context.Context, namespace, runnerID string) (*RunnerRecord, error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`
SELECT namespace, runner_id, started_at, last_heartbeat, status, project_root
FROM %s WHERE namespace = $1 AND runner_id = $2`, runnersTable), namespace, runnerID)
	var r RunnerRecord
	if err := row.Scan(&r.Namespace, &r.RunnerID, &r.StartedAt, &r.LastHeartbeat, &r.Status, &r.ProjectRoot); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, translatePgErr(err)
	}
	return &r, nil
}

func (s *PostgresStore) ListRunners(ctx context.Context) ([]RunnerRecord, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
SELECT namespace, runner_id, started_at, last_heartbeat, status, project_root FROM %s ORDER BY namespace`, runnersTable))
	if err != nil {
		return nil, translatePgErr(err)
	}
	defer rows.Close()
	var out []RunnerRecord
	for rows.Next() {
		var r RunnerRecord
		if err := rows.Scan(&r.Namespace, &r.RunnerID, &r.StartedAt, &r.LastHeartbeat, &r.Status, &r.ProjectRoot); err != nil {
			return nil, translatePgErr(err)
		}
		out = append(out, r)
	}
	return out, nil
}

// pgconnCommandTag abstracts pgconn.CommandTag so this file only needs the
// RowsAffected method used above.
type pgconnCommandTag interface {
	RowsAffected() int64
}

func scanTask(row pgx.Row) (*Task, error) {
	var (
		t                   Task
		conversationHistory []byte
		events              []byte
	)
	err := row.Scan(&t.Namespace, &t.TaskID, &t.TaskGroupID, &t.SessionID, &t.Status, &t.TaskType, &t.Prompt,
		&t.Output, &t.ErrorMessage, &t.Clarification, &conversationHistory, &events, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, translatePgErr(err)
	}
	if len(conversationHistory) > 0 {
		_ = json.Unmarshal(conversationHistory, &t.ConversationHistory)
	}
	if len(events) > 0 {
		_ = json.Unmarshal(events, &t.Events)
	}
	return &t, nil
}

func scanTasks(rows pgx.Rows) ([]*Task, error) {
	var out []*Task
	for rows.Next() {
		var (
			t                   Task
			conversationHistory []byte
			events              []byte
		)
		err := rows.Scan(&t.Namespace, &t.TaskID, &t.TaskGroupID, &t.SessionID, &t.Status, &t.TaskType, &t.Prompt,
			&t.Output, &t.ErrorMessage, &t.Clarification, &conversationHistory, &events, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, translatePgErr(err)
		}
		if len(conversationHistory) > 0 {
			_ = json.Unmarshal(conversationHistory, &t.ConversationHistory)
		}
		if len(events) > 0 {
			_ = json.Unmarshal(events, &t.Events)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func translatePgErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

var _ Store = (*PostgresStore)(nil)
