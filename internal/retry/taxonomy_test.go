package retry

import "testing"

func TestClassifyOrder(t *testing.T) {
	cases := []struct {
		name   string
		result TaskResult
		want   FailureType
	}{
		{
			name:   "timeout wins over everything else",
			result: TaskResult{Status: ResultTimeout, QualityResults: []QualityResult{{Criterion: "x", Passed: false}}},
			want:   FailureTimeout,
		},
		{
			name:   "quality failure beats omission marker",
			result: TaskResult{Status: ResultFail, Output: "...", QualityResults: []QualityResult{{Criterion: "lint", Passed: false}}},
			want:   FailureQuality,
		},
		{
			name:   "omission marker beats error substring",
			result: TaskResult{Status: ResultFail, Output: "did the rest, etc.", Error: "connection refused"},
			want:   FailureIncomplete,
		},
		{
			name:   "fatal beats transient and rate limit",
			result: TaskResult{Status: ResultError, Error: "401 unauthorized, then connection reset, then 429 rate limit"},
			want:   FailureFatal,
		},
		{
			name:   "transient beats rate limit",
			result: TaskResult{Status: ResultError, Error: "connection reset; upstream returned 429"},
			want:   FailureTransient,
		},
		{
			name:   "rate limit alone",
			result: TaskResult{Status: ResultError, Error: "received HTTP 429 Too Many Requests"},
			want:   FailureRateLimit,
		},
		{
			name:   "detected issues with no other signal escalates",
			result: TaskResult{Status: ResultFail, DetectedIssues: []string{"left TODO unresolved"}},
			want:   FailureEscalateRequired,
		},
		{
			name:   "generic failure with no signal escalates",
			result: TaskResult{Status: ResultFail},
			want:   FailureEscalateRequired,
		},
		{
			name:   "pass classifies to empty",
			result: TaskResult{Status: ResultPass},
			want:   "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.result)
			if got != tc.want {
				t.Errorf("Classify() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRetryableSetMatchesSpec(t *testing.T) {
	retryable := []FailureType{FailureIncomplete, FailureQuality, FailureTimeout, FailureTransient, FailureRateLimit}
	for _, ft := range retryable {
		if !Retryable[ft] {
			t.Errorf("%s should be retryable", ft)
		}
	}
	nonRetryable := []FailureType{FailureFatal, FailureEscalateRequired}
	for _, ft := range nonRetryable {
		if Retryable[ft] {
			t.Errorf("%s should not be retryable", ft)
		}
	}
}
