package executor

import (
	"context"
	"testing"
	"time"

	"github.com/taskrunner/runner/internal/queue"
	"github.com/taskrunner/runner/internal/retry"
	"github.com/taskrunner/runner/internal/stream"
)

func newTask(prompt string) *queue.Task {
	return queue.NewTask("default", "s1", "", prompt, queue.TaskTypeReadInfo)
}

func collectChunks(chunks *[]stream.OutputChunk) func(stream.OutputChunk) {
	return func(c stream.OutputChunk) { *chunks = append(*chunks, c) }
}

func TestRunMapsCompleteExitCode(t *testing.T) {
	e := New(Config{Namespace: "default", Command: []string{"sh", "-c", "cat; exit 0"}}, nil)
	var chunks []stream.OutputChunk
	result, err := e.Run(context.Background(), newTask("hello"), collectChunks(&chunks))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != retry.ResultPass {
		t.Fatalf("expected PASS, got %s", result.Status)
	}
	if result.Output != "hello\n" {
		t.Fatalf("expected echoed stdin in output, got %q", result.Output)
	}
}

func TestRunMapsIncompleteExitCode(t *testing.T) {
	e := New(Config{Namespace: "default", Command: []string{"sh", "-c", "echo partial; exit 1"}}, nil)
	result, err := e.Run(context.Background(), newTask("x"), func(stream.OutputChunk) {})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != retry.ResultFail || len(result.QualityResults) == 0 || result.QualityResults[0].Passed {
		t.Fatalf("expected a failed completeness quality gate, got %+v", result)
	}
	failureType := retry.Classify(result)
	if failureType != retry.FailureQuality {
		t.Fatalf("expected FailureQuality, got %s", failureType)
	}
}

func TestRunMapsNoEvidenceExitCode(t *testing.T) {
	e := New(Config{Namespace: "default", Command: []string{"sh", "-c", "exit 2"}}, nil)
	result, err := e.Run(context.Background(), newTask("x"), func(stream.OutputChunk) {})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if retry.Classify(result) != retry.FailureEscalateRequired {
		t.Fatalf("expected NO_EVIDENCE to escalate, got %+v", result)
	}
	if !retry.Retryable[retry.Classify(result)] {
		t.Log("NO_EVIDENCE correctly classified as non-retryable")
	}
}

func TestRunMapsErrorExitCodeWithStderr(t *testing.T) {
	e := New(Config{Namespace: "default", Command: []string{"sh", "-c", "echo 'connection refused' 1>&2; exit 3"}}, nil)
	result, err := e.Run(context.Background(), newTask("x"), func(stream.OutputChunk) {})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != retry.ResultError {
		t.Fatalf("expected ERROR status, got %s", result.Status)
	}
	if retry.Classify(result) != retry.FailureTransient {
		t.Fatalf("expected stderr text to classify as transient, got %s", retry.Classify(result))
	}
}

func TestRunRespectsContextTimeout(t *testing.T) {
	e := New(Config{Namespace: "default", Command: []string{"sleep", "5"}}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	result, err := e.Run(ctx, newTask("x"), func(stream.OutputChunk) {})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != retry.ResultTimeout {
		t.Fatalf("expected TIMEOUT, got %s", result.Status)
	}
}

func TestRunStreamsChunksTaggedWithTask(t *testing.T) {
	e := New(Config{Namespace: "default", Command: []string{"sh", "-c", "echo one; echo two"}}, nil)
	task := newTask("x")
	var chunks []stream.OutputChunk
	if _, err := e.Run(context.Background(), task, collectChunks(&chunks)); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if c.TaskID != task.TaskID || c.SessionID != task.SessionID {
			t.Fatalf("chunk not tagged with task identity: %+v", c)
		}
	}
}
