package retry

import "testing"

func TestDecideRecoveryNoFailuresCommits(t *testing.T) {
	got := DecideRecovery(nil, []string{"a", "b"}, nil)
	if got != PartialCommit {
		t.Fatalf("expected PARTIAL_COMMIT, got %v", got)
	}
}

func TestDecideRecoveryIndependentFailureRetriesOnlyFailed(t *testing.T) {
	deps := map[string][]string{"a": nil}
	got := DecideRecovery([]string{"b"}, []string{"a"}, deps)
	if got != RetryFailedOnly {
		t.Fatalf("expected RETRY_FAILED_ONLY, got %v", got)
	}
}

func TestDecideRecoverySucceededDependsOnFailedRollsBack(t *testing.T) {
	deps := map[string][]string{"b": {"a"}}
	got := DecideRecovery([]string{"a"}, []string{"b"}, deps)
	if got != RollbackAndRetry {
		t.Fatalf("expected ROLLBACK_AND_RETRY, got %v", got)
	}
}

func TestDecideRecoveryIgnoresUnrelatedDependency(t *testing.T) {
	deps := map[string][]string{"b": {"c"}}
	got := DecideRecovery([]string{"a"}, []string{"b"}, deps)
	if got != RetryFailedOnly {
		t.Fatalf("expected RETRY_FAILED_ONLY when the succeeded subtask doesn't depend on the failed one, got %v", got)
	}
}
