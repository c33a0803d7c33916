package stream

import (
	"testing"
	"time"
)

func TestLogGetSinceOrdering(t *testing.T) {
	l := NewLog(100)
	for i := 0; i < 5; i++ {
		l.Append(OutputChunk{SessionID: "s1", Text: string(rune('a' + i))})
	}
	chunks := l.GetSince(0)
	if len(chunks) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(chunks))
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Sequence <= chunks[i-1].Sequence {
			t.Fatalf("sequence not strictly increasing at %d", i)
		}
	}

	since2 := l.GetSince(chunks[1].Sequence)
	if len(since2) != 3 {
		t.Fatalf("expected 3 chunks after second, got %d", len(since2))
	}
}

func TestLogEvictsOldestUnderCapacity(t *testing.T) {
	l := NewLog(3)
	for i := 0; i < 5; i++ {
		l.Append(OutputChunk{SessionID: "s1", Text: string(rune('a' + i))})
	}
	chunks := l.GetSince(0)
	if len(chunks) != 3 {
		t.Fatalf("expected log bounded to 3 entries, got %d", len(chunks))
	}
	if chunks[0].Text != "c" {
		t.Fatalf("expected oldest retained chunk to be 'c', got %q", chunks[0].Text)
	}
}

func TestGetByTaskIDFilteredDropsStaleChunk(t *testing.T) {
	l := NewLog(100)
	now := time.Now()
	l.Append(OutputChunk{SessionID: "s1", TaskID: "T", TaskCreatedAt: now, Text: "current"})
	l.Append(OutputChunk{SessionID: "s1", TaskID: "T", TaskCreatedAt: now.Add(-time.Hour), Text: "stale"})
	l.Append(OutputChunk{SessionID: "s1", TaskID: "other", Text: "unrelated"})

	filtered := l.GetByTaskIDFiltered("T", now, 0)
	if len(filtered) != 1 || filtered[0].Text != "current" {
		t.Fatalf("expected only the current chunk for task T, got %v", filtered)
	}
}

func TestLogGetRecentReturnsTail(t *testing.T) {
	l := NewLog(100)
	for i := 0; i < 5; i++ {
		l.Append(OutputChunk{SessionID: "s1", Text: string(rune('a' + i))})
	}
	recent := l.GetRecent(2)
	if len(recent) != 2 || recent[0].Text != "d" || recent[1].Text != "e" {
		t.Fatalf("expected last 2 chunks [d e], got %v", recent)
	}
	if all := l.GetRecent(100); len(all) != 5 {
		t.Fatalf("expected GetRecent with n > len to return all chunks, got %d", len(all))
	}
}

func TestLogGetByTaskIDUnfiltered(t *testing.T) {
	l := NewLog(100)
	now := time.Now()
	l.Append(OutputChunk{SessionID: "s1", TaskID: "T", TaskCreatedAt: now.Add(-time.Hour), Text: "stale-but-included"})
	l.Append(OutputChunk{SessionID: "s1", TaskID: "other", Text: "unrelated"})

	chunks := l.GetByTaskID("T")
	if len(chunks) != 1 || chunks[0].Text != "stale-but-included" {
		t.Fatalf("expected GetByTaskID to skip staleness filtering, got %v", chunks)
	}
}

func TestLogGetActiveTasks(t *testing.T) {
	l := NewLog(100)
	l.Append(OutputChunk{SessionID: "s1", TaskID: "T1", Text: "a"})
	l.Append(OutputChunk{SessionID: "s1", TaskID: "T2", Text: "b"})
	l.Append(OutputChunk{SessionID: "s1", TaskID: "T1", Text: "c"})
	l.Append(OutputChunk{SessionID: "s1", Text: "no task"})

	active := l.GetActiveTasks()
	if len(active) != 2 || active[0] != "T1" || active[1] != "T2" {
		t.Fatalf("expected [T1 T2], got %v", active)
	}
}

func TestLogClearTask(t *testing.T) {
	l := NewLog(100)
	l.Append(OutputChunk{SessionID: "s1", TaskID: "T1", Text: "a"})
	l.Append(OutputChunk{SessionID: "s1", TaskID: "T2", Text: "b"})

	l.ClearTask("T1")
	remaining := l.GetAll()
	if len(remaining) != 1 || remaining[0].TaskID != "T2" {
		t.Fatalf("expected only T2 to remain, got %v", remaining)
	}
}

func TestLogClear(t *testing.T) {
	l := NewLog(100)
	l.Append(OutputChunk{SessionID: "s1", Text: "a"})
	l.Append(OutputChunk{SessionID: "s1", Text: "b"})

	l.Clear()
	if all := l.GetAll(); len(all) != 0 {
		t.Fatalf("expected empty log after Clear, got %v", all)
	}
}

func TestFilterStaleIgnoresOtherTasks(t *testing.T) {
	now := time.Now()
	chunks := []OutputChunk{
		{TaskID: "T", TaskCreatedAt: now.Add(-time.Hour), Text: "stale-T"},
		{TaskID: "other", TaskCreatedAt: now.Add(-time.Hour), Text: "unrelated"},
	}
	out := FilterStale(chunks, "T", now)
	if len(out) != 1 || out[0].Text != "unrelated" {
		t.Fatalf("expected only unrelated chunk to survive, got %v", out)
	}
}
