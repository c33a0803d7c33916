package retry

// RecoveryStrategy names how a partially-completed multi-step task should
// be resumed after a failed attempt (spec §4.2 "Partial recovery").
type RecoveryStrategy string

const (
	// PartialCommit keeps the attempt's subtask output as it is; selected
	// when no subtask failed.
	PartialCommit RecoveryStrategy = "PARTIAL_COMMIT"
	// RollbackAndRetry discards all subtask output from the attempt and
	// retries the whole task from scratch; used when subtasks share state
	// that a partial application would leave inconsistent.
	RollbackAndRetry RecoveryStrategy = "ROLLBACK_AND_RETRY"
	// RetryFailedOnly re-runs only the failed subtasks, leaving succeeded
	// ones untouched and not re-verified.
	RetryFailedOnly RecoveryStrategy = "RETRY_FAILED_ONLY"
	// EscalateRecovery hands the partial state to a human rather than
	// guessing how to reconcile it.
	EscalateRecovery RecoveryStrategy = "ESCALATE"
)

// DecideRecovery picks a RecoveryStrategy given the subtask ids that failed,
// the ones that succeeded, and a dependency map of succeeded subtask id to
// its required predecessor subtask ids (spec §4.2 "Partial recovery"). No
// failures commits the partial result as-is. If any succeeded subtask
// depends on a failed one, its output can't be trusted standing alone, so
// the whole attempt rolls back. Otherwise the failures are independent of
// what already succeeded and only they need to be retried. ESCALATE is a
// terminal strategy too, but classification alone never selects it here —
// only an explicit override does.
func DecideRecovery(failed, succeeded []string, dependencies map[string][]string) RecoveryStrategy {
	if len(failed) == 0 {
		return PartialCommit
	}
	failedSet := make(map[string]bool, len(failed))
	for _, id := range failed {
		failedSet[id] = true
	}
	for _, id := range succeeded {
		for _, dep := range dependencies[id] {
			if failedSet[dep] {
				return RollbackAndRetry
			}
		}
	}
	return RetryFailedOnly
}
