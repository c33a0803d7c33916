// Package activity is the append-only cross-cutting event log consumed by
// the UI (spec §3 "ActivityEvent"). Every core component that owns its own
// record type (Task, RetryHistory, RunnerRecord, OutputChunk) appends a
// summary entry here at each state transition without exposing its
// internals — activity entries hold a reference by key only, never the
// underlying record, matching spec §3's ownership rule.
package activity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Importance is a coarse severity/priority tag for UI sorting and filtering.
type Importance string

const (
	ImportanceLow    Importance = "LOW"
	ImportanceNormal Importance = "NORMAL"
	ImportanceHigh   Importance = "HIGH"
)

// Event is one append-only activity record (spec §3 "ActivityEvent" exactly).
type Event struct {
	ID         string         `json:"id"`
	OrgID      string         `json:"orgId"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"projectId,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	Summary    string         `json:"summary"`
	Importance Importance     `json:"importance"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Well-known event types, one per state transition the dispatcher drives
// (spec §2 "Activity events are appended at every state transition").
const (
	TypeTaskEnqueued   = "TASK_ENQUEUED"
	TypeTaskClaimed    = "TASK_CLAIMED"
	TypeTaskCompleted  = "TASK_COMPLETED"
	TypeTaskEscalated  = "TASK_ESCALATED"
	TypeTaskAwaiting   = "TASK_AWAITING_RESPONSE"
	TypeTaskResumed    = "TASK_RESUMED"
	TypeRunnerRestart  = "RUNNER_RESTARTED"
	TypeRunnerBuild    = "RUNNER_BUILT"
)

// Store is the append-only activity log port.
type Store interface {
	// Append records a new event, assigning ID/Timestamp if unset.
	Append(ctx context.Context, event Event) (Event, error)

	// List returns events for an org, newest first, optionally filtered by
	// project and/or session, bounded by limit (0 = no limit).
	List(ctx context.Context, orgID string, filter Filter, limit int) ([]Event, error)
}

// Filter narrows List to a project and/or session. Zero value matches all.
type Filter struct {
	ProjectID string
	SessionID string
}

func (f Filter) matches(e Event) bool {
	if f.ProjectID != "" && e.ProjectID != f.ProjectID {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	return true
}

// MemoryStore is an in-process Store backed by a mutex-guarded slice,
// mirroring internal/queue.MemoryStore's single-writer style since both
// are append-only logs scoped by a tenant key.
type MemoryStore struct {
	mu    sync.Mutex
	byOrg map[string][]Event
}

// NewMemoryStore constructs an empty in-memory activity Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byOrg: make(map[string][]Event)}
}

func (s *MemoryStore) Append(ctx context.Context, event Event) (Event, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Importance == "" {
		event.Importance = ImportanceNormal
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byOrg[event.OrgID] = append(s.byOrg[event.OrgID], event)
	return event, nil
}

func (s *MemoryStore) List(ctx context.Context, orgID string, filter Filter, limit int) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.byOrg[orgID] {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
