// Command runnerctl is the operator-facing CLI for the task orchestration
// runner: submit a prompt and wait for it to resolve, inspect a session's
// conversation, and drive the process supervisor. Grounded on the
// teacher's cobra-based CLI (root command plus a tree of subcommands,
// fatih/color output) though scoped to runnerd's HTTP surface rather than
// an in-process agent.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/taskrunner/runner/internal/logging"
)

var (
	success = color.New(color.FgGreen).SprintFunc()
	failure = color.New(color.FgRed).SprintFunc()
	muted   = color.New(color.FgHiBlack).SprintFunc()
)

func main() {
	var (
		serverURL string
		namespace string
	)

	log := logging.LoggerFactory{}.GetLogger("runnerctl")

	root := &cobra.Command{
		Use:   "runnerctl",
		Short: "Operate the task orchestration runner",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "runnerd base URL")
	root.PersistentFlags().StringVar(&namespace, "namespace", "default", "dispatcher namespace")

	root.AddCommand(newRunCommand(&serverURL, &namespace, log))
	root.AddCommand(newStatusCommand(&serverURL))
	root.AddCommand(newRunnerCommand(&serverURL, &namespace, log))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, failure(err.Error()))
		os.Exit(3)
	}
}

// exit codes mirror spec §6's CLI mode contract for a single task's
// terminal outcome, reused here so a script polling `runnerctl run` gets
// the same signal a direct executor invocation would.
const (
	exitComplete   = 0
	exitIncomplete = 1
	exitNoEvidence = 2
	exitError      = 3
	exitInvalid    = 4
)

func newRunCommand(serverURL, namespace *string, log *logging.ComponentLogger) *cobra.Command {
	var (
		project  string
		session  string
		taskType string
		wait     time.Duration
		poll     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Submit a prompt and wait for it to resolve",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*serverURL)
			resp, err := c.submit(project, args[0], taskType)
			if err != nil {
				return err
			}
			log.Info("submitted task %s (run %s)", resp.UserMessage.TaskID, resp.RunID)

			deadline := time.Now().Add(wait)
			ticker := time.NewTicker(poll)
			defer ticker.Stop()
			for {
				messages, err := c.conversation(project, session)
				if err != nil {
					return err
				}
				if m, ok := terminalMessage(messages, resp.UserMessage.TaskID); ok {
					return exitForStatus(m)
				}
				if time.Now().After(deadline) {
					fmt.Println(muted("timed out waiting for task to resolve"))
					os.Exit(exitIncomplete)
				}
				<-ticker.C
			}
		},
	}
	cmd.Flags().StringVar(&project, "project", "default", "project id")
	cmd.Flags().StringVar(&session, "session", "", "session id (defaults to a new one)")
	cmd.Flags().StringVar(&taskType, "task-type", "", "task type override (READ_INFO|IMPLEMENTATION|REPORT)")
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Minute, "maximum time to wait for resolution")
	cmd.Flags().DurationVar(&poll, "poll-interval", 2*time.Second, "conversation poll interval")
	return cmd
}

func terminalMessage(messages []conversationMessage, taskID string) (conversationMessage, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.TaskID == taskID && m.Role == "assistant" && m.Status != "" {
			return m, true
		}
	}
	return conversationMessage{}, false
}

// exitForStatus prints the outcome and terminates the process with the
// exit code matching the task's final queue status.
func exitForStatus(m conversationMessage) error {
	switch m.Status {
	case "COMPLETE":
		fmt.Println(success(m.Content))
		os.Exit(exitComplete)
	case "ERROR":
		fmt.Println(failure(m.Content))
		os.Exit(exitError)
	case "CANCELLED":
		fmt.Println(failure("task cancelled"))
		os.Exit(exitInvalid)
	default:
		fmt.Println(muted(m.Content))
		os.Exit(exitIncomplete)
	}
	return nil
}

func newStatusCommand(serverURL *string) *cobra.Command {
	var project, session string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a session's conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*serverURL)
			messages, err := c.conversation(project, session)
			if err != nil {
				return err
			}
			for _, m := range messages {
				line := fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format(time.RFC3339), m.Role, m.Content)
				if m.Status != "" {
					line += muted(" (" + m.Status + ")")
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "default", "project id")
	cmd.Flags().StringVar(&session, "session", "", "session id")
	return cmd
}

func newRunnerCommand(serverURL, namespace *string, log *logging.ComponentLogger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runner",
		Short: "Inspect or control the executor process supervisor",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the supervisor's process status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*serverURL)
			st, err := c.runnerStatus(*namespace)
			if err != nil {
				return err
			}
			if st.IsRunning {
				fmt.Println(success(fmt.Sprintf("running (pid %d, build %s)", st.PID, st.BuildSHA)))
			} else {
				fmt.Println(muted("stopped"))
			}
			return nil
		},
	})
	var build bool
	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the executor process",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*serverURL)
			result, err := c.runnerRestart(*namespace, build)
			if err != nil {
				return err
			}
			if !result.Success {
				log.Error("restart failed: %s", result.Error)
				os.Exit(1)
			}
			log.Info("restarted (pid %d -> %d)", result.OldPID, result.NewPID)
			return nil
		},
	}
	restartCmd.Flags().BoolVar(&build, "build", false, "rebuild before restarting")
	cmd.AddCommand(restartCmd)
	cmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the executor process",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*serverURL)
			result, err := c.runnerStop(*namespace)
			if err != nil {
				return err
			}
			if !result.Success {
				log.Error("stop failed: %s", result.Error)
				os.Exit(1)
			}
			log.Info("stopped")
			return nil
		},
	})
	return cmd
}
