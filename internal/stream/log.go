package stream

import (
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Log is the bounded, append-only OutputChunk store. Storage is an LRU
// cache keyed by sequence number (per the teacher's own use of
// golang-lru/v2 for bounded per-session state in gateway.go/factory.go);
// since chunks are only ever written once and read sequentially, the least-
// recently-used entry under this access pattern is always the oldest
// appended one, so eviction behaves as FIFO trimming in practice. An
// ordered index of live sequence numbers is kept alongside so getSince
// doesn't depend on the cache's iteration order, which golang-lru/v2
// doesn't guarantee to be sorted.
type Log struct {
	mu      sync.Mutex
	cache   *lru.Cache[int64, OutputChunk]
	order   []int64
	nextSeq int64
}

// NewLog constructs a Log bounded to capacity entries.
func NewLog(capacity int) *Log {
	l := &Log{}
	cache, err := lru.NewWithEvict[int64, OutputChunk](capacity, l.onEvict)
	if err != nil {
		// Only returns an error for capacity <= 0; fall back to a sane
		// minimum rather than leaving the log unusable.
		cache, _ = lru.NewWithEvict[int64, OutputChunk](1024, l.onEvict)
	}
	l.cache = cache
	return l
}

func (l *Log) onEvict(key int64, _ OutputChunk) {
	// Caller already holds l.mu (only triggered from within Append).
	if len(l.order) > 0 && l.order[0] == key {
		l.order = l.order[1:]
		return
	}
	for i, seq := range l.order {
		if seq == key {
			l.order = append(l.order[:i], l.order[i+1:]...)
			return
		}
	}
}

// Append assigns the next sequence number and stores the chunk.
func (l *Log) Append(chunk OutputChunk) OutputChunk {
	l.mu.Lock()
	defer l.mu.Unlock()
	chunk.Sequence = atomic.AddInt64(&l.nextSeq, 1)
	l.cache.Add(chunk.Sequence, chunk)
	l.order = append(l.order, chunk.Sequence)
	return chunk
}

// GetSince returns every retained chunk with sequence > since, in order.
func (l *Log) GetSince(since int64) []OutputChunk {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]OutputChunk, 0, len(l.order))
	for _, seq := range l.order {
		if seq <= since {
			continue
		}
		if chunk, ok := l.cache.Peek(seq); ok {
			out = append(out, chunk)
		}
	}
	return out
}

// GetByTaskIDFiltered returns chunks belonging to taskID with sequence >
// since, dropping any whose TaskCreatedAt predates currentTaskCreatedAt —
// the stale-chunk fail-closed filter (spec §4.4, §8 "Stale output drop").
// Chunks belonging to other tasks are scoped out before the staleness
// check runs, since FilterStale only ever removes chunks, never narrows
// to one task.
func (l *Log) GetByTaskIDFiltered(taskID string, currentTaskCreatedAt time.Time, since int64) []OutputChunk {
	all := l.GetSince(since)
	scoped := make([]OutputChunk, 0, len(all))
	for _, c := range all {
		if c.TaskID == taskID {
			scoped = append(scoped, c)
		}
	}
	return FilterStale(scoped, taskID, currentTaskCreatedAt)
}

// GetAll returns every retained chunk, in sequence order (spec §4.4
// "getAll").
func (l *Log) GetAll() []OutputChunk {
	return l.GetSince(0)
}

// GetRecent returns at most the last n retained chunks, in sequence order
// (spec §4.4 "getRecent(n)").
func (l *Log) GetRecent(n int) []OutputChunk {
	all := l.GetAll()
	if n <= 0 || len(all) <= n {
		return all
	}
	return all[len(all)-n:]
}

// GetByTaskID returns every retained chunk belonging to taskID, with no
// staleness filtering (spec §4.4 "getByTaskId(id)", distinct from the
// fail-closed getByTaskIdFiltered).
func (l *Log) GetByTaskID(taskID string) []OutputChunk {
	all := l.GetAll()
	out := make([]OutputChunk, 0, len(all))
	for _, c := range all {
		if c.TaskID == taskID {
			out = append(out, c)
		}
	}
	return out
}

// GetActiveTasks returns the distinct, non-empty task ids currently
// represented in the log, in first-seen order (spec §4.4
// "getActiveTasks").
func (l *Log) GetActiveTasks() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, seq := range l.order {
		chunk, ok := l.cache.Peek(seq)
		if !ok || chunk.TaskID == "" || seen[chunk.TaskID] {
			continue
		}
		seen[chunk.TaskID] = true
		out = append(out, chunk.TaskID)
	}
	return out
}

// Clear empties the log (spec §4.4 "clear").
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Purge()
	l.order = nil
}

// ClearTask removes every retained chunk belonging to taskID (spec §4.4
// "clearTask(id)").
func (l *Log) ClearTask(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var toRemove []int64
	for _, seq := range l.order {
		chunk, ok := l.cache.Peek(seq)
		if ok && chunk.TaskID == taskID {
			toRemove = append(toRemove, seq)
		}
	}
	for _, seq := range toRemove {
		l.cache.Remove(seq)
		for i, s := range l.order {
			if s == seq {
				l.order = append(l.order[:i], l.order[i+1:]...)
				break
			}
		}
	}
}
