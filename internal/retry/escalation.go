package retry

import (
	"fmt"

	"github.com/taskrunner/runner/internal/queue"
)

// EscalationReason names why a task stopped retrying and was handed back to
// a human. UNCLASSIFIED resolves the open question in spec §9: rather than
// silently defaulting an unrecognized failure into MAX_RETRIES or
// FATAL_ERROR, it gets its own explicit reason so an operator can tell "we
// gave up" from "we didn't know what this was" (see DESIGN.md).
type EscalationReason string

const (
	ReasonMaxRetries        EscalationReason = "MAX_RETRIES"
	ReasonFatalError        EscalationReason = "FATAL_ERROR"
	ReasonHumanJudgment     EscalationReason = "HUMAN_JUDGMENT"
	ReasonResourceExhausted EscalationReason = "RESOURCE_EXHAUSTED"
	ReasonUnclassified      EscalationReason = "UNCLASSIFIED"
)

// EscalationReport is handed to the user (or operator) when a task cannot
// be completed automatically (spec §4.2 "Escalation report").
type EscalationReport struct {
	TaskID             string
	Reason             EscalationReason
	FailureSummary     string
	UserMessage        string
	DebugInfo          map[string]any
	RecommendedActions []string
	Attempts           []queue.Attempt
}

// BuildEscalationReport assembles the report from the decision that
// triggered it and the task's accumulated retry history.
func BuildEscalationReport(taskID string, decision Decision, history queue.RetryHistory, lastResult TaskResult) EscalationReport {
	summary := fmt.Sprintf("cause=%s after %d attempt(s)", decision.Cause, decision.Attempt+1)
	report := EscalationReport{
		TaskID:         taskID,
		Reason:         decision.Reason,
		FailureSummary: summary,
		Attempts:       append([]queue.Attempt(nil), history.Attempts...),
		DebugInfo: map[string]any{
			"last_error":  lastResult.Error,
			"cause":       string(decision.Cause),
			"attempt_num": decision.Attempt,
		},
	}
	switch decision.Reason {
	case ReasonFatalError:
		report.UserMessage = "The task failed with an unrecoverable error and will not be retried automatically. check credentials and permissions before resubmitting."
		report.RecommendedActions = []string{"check credentials", "re-set API key"}
	case ReasonResourceExhausted:
		report.UserMessage = "The task kept hitting a rate limit and exhausted its retry budget."
		report.RecommendedActions = []string{"split task", "check cost limit"}
	case ReasonHumanJudgment:
		report.UserMessage = "The task's output never satisfied the configured quality gates after repeated retries."
		report.RecommendedActions = []string{"clarify requirements"}
	case ReasonMaxRetries:
		report.UserMessage = fmt.Sprintf("The task did not succeed after repeated automatic retries. See /trace/%s for the full attempt history.", taskID)
		report.RecommendedActions = []string{"split task", "give more specific instructions", "inspect trace"}
	default:
		report.UserMessage = "The task failed in a way that could not be classified automatically."
		report.RecommendedActions = []string{"Inspect the raw output and error below.", "Escalate to a human reviewer."}
	}
	return report
}
