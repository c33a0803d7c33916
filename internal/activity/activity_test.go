package activity

import (
	"context"
	"testing"
)

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	s := NewMemoryStore()
	evt, err := s.Append(context.Background(), Event{OrgID: "org1", Type: TypeTaskEnqueued, Summary: "queued a task"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if evt.ID == "" {
		t.Fatal("expected generated ID")
	}
	if evt.Timestamp.IsZero() {
		t.Fatal("expected assigned timestamp")
	}
	if evt.Importance != ImportanceNormal {
		t.Fatalf("expected default NORMAL importance, got %s", evt.Importance)
	}
}

func TestListFiltersByProjectAndSession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	s.Append(ctx, Event{OrgID: "org1", ProjectID: "p1", SessionID: "s1", Type: TypeTaskEnqueued, Summary: "a"})
	s.Append(ctx, Event{OrgID: "org1", ProjectID: "p2", SessionID: "s1", Type: TypeTaskEnqueued, Summary: "b"})
	s.Append(ctx, Event{OrgID: "org1", ProjectID: "p1", SessionID: "s2", Type: TypeTaskEnqueued, Summary: "c"})

	out, err := s.List(ctx, "org1", Filter{ProjectID: "p1"}, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 events for p1, got %d", len(out))
	}

	out, err = s.List(ctx, "org1", Filter{ProjectID: "p1", SessionID: "s2"}, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || out[0].Summary != "c" {
		t.Fatalf("expected single event 'c', got %v", out)
	}
}

func TestListOrdersNewestFirst(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	first, _ := s.Append(ctx, Event{OrgID: "org1", Type: TypeTaskEnqueued, Summary: "first"})
	second, _ := s.Append(ctx, Event{OrgID: "org1", Type: TypeTaskCompleted, Summary: "second"})

	out, err := s.List(ctx, "org1", Filter{}, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 events, got %d", len(out))
	}
	if out[0].ID != second.ID || out[1].ID != first.ID {
		t.Fatal("expected newest-first ordering")
	}
}

func TestListRespectsLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		s.Append(ctx, Event{OrgID: "org1", Type: TypeTaskEnqueued, Summary: "x"})
	}
	out, err := s.List(ctx, "org1", Filter{}, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(out))
	}
}
