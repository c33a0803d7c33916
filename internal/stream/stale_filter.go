package stream

import "time"

// FilterStale drops chunks for taskID whose TaskCreatedAt predates
// currentTaskCreatedAt. Chunks for other tasks, or chunks with no task
// association, pass through untouched — staleness is only defined relative
// to a specific task's context (spec §8 "Stale output drop", GLOSSARY
// "Stale chunk").
//
// Fail-closed: a chunk that matches taskID but carries a zero
// TaskCreatedAt is treated as stale and dropped rather than assumed
// current, since a missing timestamp can't be distinguished from one that
// predates every real task context.
func FilterStale(chunks []OutputChunk, taskID string, currentTaskCreatedAt time.Time) []OutputChunk {
	out := make([]OutputChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.TaskID == taskID {
			if c.TaskCreatedAt.IsZero() || c.TaskCreatedAt.Before(currentTaskCreatedAt) {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}
