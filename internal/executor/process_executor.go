// Package executor adapts the one-shot "run this task, exit with a status
// code" CLI contract (spec §6 "Exit codes (CLI mode)") to the dispatcher's
// Executor interface. Grounded on the teacher's internal/devops/process
// Manager.Start (argv + piped stdio + PID bookkeeping), narrowed from a
// long-lived tracked process to one subprocess per task: the Process
// Supervisor owns the long-running executor daemon's lifecycle, while this
// package is what the dispatcher actually invokes per task, shelling out to
// the namespace's configured executor binary.
package executor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/taskrunner/runner/internal/logging"
	"github.com/taskrunner/runner/internal/queue"
	"github.com/taskrunner/runner/internal/retry"
	"github.com/taskrunner/runner/internal/stream"
)

// exitCode mirrors spec §6's CLI mode exit codes exactly.
type exitCode int

const (
	exitComplete   exitCode = 0
	exitIncomplete exitCode = 1
	exitNoEvidence exitCode = 2
	exitError      exitCode = 3
	exitInvalid    exitCode = 4
)

// Config configures one namespace's ProcessExecutor.
type Config struct {
	Namespace string
	Command   []string // argv; the prompt is piped on stdin, not appended as an arg
	WorkDir   string
}

// ProcessExecutor runs Config.Command once per task, feeding the prompt on
// stdin and classifying the result from the process's exit code and
// captured output (spec §6 "Exit codes").
type ProcessExecutor struct {
	cfg    Config
	logger *slog.Logger
}

// New builds a ProcessExecutor for one namespace.
func New(cfg Config, logger *slog.Logger) *ProcessExecutor {
	return &ProcessExecutor{cfg: cfg, logger: logging.Component(logger, "executor."+cfg.Namespace)}
}

// Run implements dispatcher.Executor. It streams stdout/stderr lines to
// onChunk as they arrive, tagged with the task's id and creation time so
// the output log's stale filter (spec §4.4) can do its job, then classifies
// the terminal TaskResult from the process's exit code.
func (e *ProcessExecutor) Run(ctx context.Context, task *queue.Task, onChunk func(stream.OutputChunk)) (retry.TaskResult, error) {
	if len(e.cfg.Command) == 0 {
		return retry.TaskResult{}, fmt.Errorf("executor %s: no command configured", e.cfg.Namespace)
	}

	cmd := exec.CommandContext(ctx, e.cfg.Command[0], e.cfg.Command[1:]...)
	cmd.Dir = e.cfg.WorkDir
	cmd.Stdin = strings.NewReader(task.Prompt)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return retry.TaskResult{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return retry.TaskResult{}, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return retry.TaskResult{}, fmt.Errorf("start executor: %w", err)
	}

	var output strings.Builder
	var lastStderrLine string
	done := make(chan struct{}, 2)
	go e.pump(stdout, stream.KindStdout, task, onChunk, &output, nil, done)
	go e.pump(stderr, stream.KindStderr, task, onChunk, nil, &lastStderrLine, done)
	<-done
	<-done

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return retry.TaskResult{Status: retry.ResultTimeout, Output: output.String()}, nil
	}

	code := exitCode(cmd.ProcessState.ExitCode())
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code = exitCode(exitErr.ExitCode())
	} else if waitErr != nil {
		return retry.TaskResult{}, fmt.Errorf("wait executor: %w", waitErr)
	}

	return classifyExit(code, output.String(), lastStderrLine), nil
}

func (e *ProcessExecutor) pump(r io.Reader, kind stream.Kind, task *queue.Task, onChunk func(stream.OutputChunk), capture *strings.Builder, lastLine *string, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if capture != nil {
			capture.WriteString(line)
			capture.WriteByte('\n')
		}
		if lastLine != nil && strings.TrimSpace(line) != "" {
			*lastLine = line
		}
		onChunk(stream.OutputChunk{
			SessionID:     task.SessionID,
			TaskID:        task.TaskID,
			TaskCreatedAt: task.CreatedAt,
			Stream:        kind,
			Text:          line,
			Timestamp:     time.Now().UTC(),
		})
	}
	if err := scanner.Err(); err != nil {
		e.logger.Warn("pump scan error", "error", err)
	}
}

// classifyExit maps spec §6's CLI exit codes onto a retry.TaskResult,
// choosing signals that steer retry.Classify toward the matching
// FailureType rather than duplicating its heuristics here:
//   - INCOMPLETE fails a quality gate (retryable, spec §4.2).
//   - NO_EVIDENCE and INVALID surface as detected issues with no error
//     text, which Classify routes to ESCALATE_REQUIRED (fail closed rather
//     than retry a request that was never going to succeed).
//   - ERROR carries the last stderr line as Error so Classify's
//     fatal/transient/rate-limit substring matching applies.
func classifyExit(code exitCode, output, lastStderrLine string) retry.TaskResult {
	switch code {
	case exitComplete:
		return retry.TaskResult{Status: retry.ResultPass, Output: output}
	case exitIncomplete:
		return retry.TaskResult{
			Status:         retry.ResultFail,
			Output:         output,
			QualityResults: []retry.QualityResult{{Criterion: "completeness", Passed: false, Detail: "executor exited INCOMPLETE"}},
		}
	case exitNoEvidence:
		return retry.TaskResult{
			Status:         retry.ResultFail,
			Output:         output,
			DetectedIssues: []string{"NO_EVIDENCE"},
		}
	case exitInvalid:
		return retry.TaskResult{
			Status:         retry.ResultFail,
			Output:         output,
			DetectedIssues: []string{"INVALID"},
		}
	default:
		errMsg := lastStderrLine
		if errMsg == "" {
			errMsg = fmt.Sprintf("executor exited with code %d", code)
		}
		return retry.TaskResult{Status: retry.ResultError, Output: output, Error: errMsg}
	}
}
