// Package retry implements the failure classification, backoff, and
// escalation state machine described in spec §4.2.
package retry

import (
	"regexp"
	"strings"
)

// FailureType is the taxonomy of spec §4.2 "Failure taxonomy", exactly.
type FailureType string

const (
	FailureIncomplete       FailureType = "INCOMPLETE"
	FailureQuality          FailureType = "QUALITY_FAILURE"
	FailureTimeout          FailureType = "TIMEOUT"
	FailureTransient        FailureType = "TRANSIENT_ERROR"
	FailureRateLimit        FailureType = "RATE_LIMIT"
	FailureFatal            FailureType = "FATAL_ERROR"
	FailureEscalateRequired FailureType = "ESCALATE_REQUIRED"
)

// Retryable is exactly the set in spec §4.2 "Retryable set".
var Retryable = map[FailureType]bool{
	FailureIncomplete: true,
	FailureQuality:    true,
	FailureTimeout:    true,
	FailureTransient:  true,
	FailureRateLimit:  true,
}

// ResultStatus is the raw outcome a TaskResult carries before classification.
type ResultStatus string

const (
	ResultPass    ResultStatus = "PASS"
	ResultFail    ResultStatus = "FAIL"
	ResultError   ResultStatus = "ERROR"
	ResultTimeout ResultStatus = "TIMEOUT"
)

// QualityResult is one named quality gate's outcome.
type QualityResult struct {
	Criterion string
	Passed    bool
	Detail    string
}

// TaskResult is the input to classification and decision-making.
type TaskResult struct {
	Status         ResultStatus
	Output         string
	Error          string
	QualityResults []QualityResult
	DetectedIssues []string
}

var omissionMarkers = []string{
	"...",
	"/* ... */",
	"省略", // CJK "omitted"
	"等々",  // Japanese "and so on"
	"etc.",
}

var (
	fatalPattern     = regexp.MustCompile(`(?i)\b(401|403|unauthorized|auth|permission|denied)\b`)
	rateLimitPattern = regexp.MustCompile(`(?i)(429|rate.?limit)`)
	transientPattern = regexp.MustCompile(`(?i)(5\d\d|econnrefused|etimedout|network|connection)`)
)

// Classify implements spec §4.2's exact classification order:
// TIMEOUT -> quality failure -> omission marker -> error-substring
// (fatal, transient, rate-limit in that order) -> detected_issues -> generic.
func Classify(result TaskResult) FailureType {
	if result.Status == ResultPass {
		return ""
	}
	if result.Status == ResultTimeout {
		return FailureTimeout
	}
	if hasQualityFailure(result.QualityResults) {
		return FailureQuality
	}
	if hasOmissionMarker(result.Output) {
		return FailureIncomplete
	}
	if result.Error != "" {
		if fatalPattern.MatchString(result.Error) {
			return FailureFatal
		}
		if transientPattern.MatchString(result.Error) {
			return FailureTransient
		}
		if rateLimitPattern.MatchString(result.Error) {
			return FailureRateLimit
		}
	}
	if len(result.DetectedIssues) > 0 {
		return FailureEscalateRequired
	}
	// Generic FAIL/ERROR with no recognizable signal: fail closed rather
	// than silently picking a retryable bucket (spec §7 propagation policy,
	// §9 "Open question" on ESCALATE_REQUIRED).
	return FailureEscalateRequired
}

func hasQualityFailure(results []QualityResult) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

func hasOmissionMarker(output string) bool {
	for _, marker := range omissionMarkers {
		if strings.Contains(output, marker) {
			return true
		}
	}
	return false
}

// FailedCriteria returns the names of quality results that did not pass, in
// order, for use in modification hints and escalation summaries.
func FailedCriteria(results []QualityResult) []string {
	var out []string
	for _, r := range results {
		if !r.Passed {
			out = append(out, r.Criterion)
		}
	}
	return out
}
