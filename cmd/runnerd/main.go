// Command runnerd is the task orchestration runner's daemon: it serves the
// HTTP+SSE control surface (internal/httpapi), runs one dispatch loop per
// namespace (internal/dispatcher), and sweeps stuck tasks to ERROR.
// Grounded on the teacher's cmd/task-orchestrator main
// (flag-based, sequential dependency construction with early exit on
// error) and the teacher's server bootstrap's serveUntilSignal shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/taskrunner/runner/internal/activity"
	"github.com/taskrunner/runner/internal/apikeys"
	"github.com/taskrunner/runner/internal/config"
	"github.com/taskrunner/runner/internal/dispatcher"
	"github.com/taskrunner/runner/internal/executor"
	"github.com/taskrunner/runner/internal/httpapi"
	"github.com/taskrunner/runner/internal/logging"
	"github.com/taskrunner/runner/internal/metrics"
	"github.com/taskrunner/runner/internal/queue"
	"github.com/taskrunner/runner/internal/retry"
	"github.com/taskrunner/runner/internal/skills"
	"github.com/taskrunner/runner/internal/supervisor"
)

func main() {
	var (
		addr          = flag.String("addr", ":8080", "HTTP listen address")
		stateDir      = flag.String("state-dir", ".runner", "Directory for config, api keys, skills, and supervisor logs")
		namespaces    = flag.String("namespaces", "default", "Comma-separated dispatcher namespaces to run")
		executorCmd   = flag.String("executor-cmd", "", "Argv (space-separated) of the per-task executor, piped the prompt on stdin")
		supervisorCmd = flag.String("supervisor-cmd", "", "Argv (space-separated) of the long-running executor daemon; empty disables the supervisor")
		postgresDSN   = flag.String("postgres-dsn", "", "Postgres DSN for the queue store; empty uses an in-memory store")
		logFormat     = flag.String("log-format", "text", "Log format (text|json)")
		logLevel      = flag.String("log-level", "info", "Log level (debug|info|warn|error)")
		skillsTTL     = flag.Duration("skills-ttl", 30*time.Second, "Cache TTL for skill definition reloads")
	)
	flag.Parse()

	logger := logging.New(*logFormat, *logLevel, os.Stderr)

	if err := os.MkdirAll(*stateDir, 0o755); err != nil {
		logger.Error("create state dir", "error", err)
		os.Exit(1)
	}

	cfgStore, err := config.Load(filepath.Join(*stateDir, "runner-config.json"))
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	apiKeys, err := apikeys.Open(filepath.Join(*stateDir, "api-keys.json"))
	if err != nil {
		logger.Error("open api keys", "error", err)
		os.Exit(1)
	}

	skillsRegistry := skills.NewRegistry(filepath.Join(*stateDir, "skills"), *skillsTTL)
	activityStore := activity.NewMemoryStore()

	store, closeStore, err := openQueueStore(*postgresDSN, logger)
	if err != nil {
		logger.Error("open queue store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	collector := metrics.New(prometheus.DefaultRegisterer)

	namespaceList := splitCSV(*namespaces)
	d := dispatcher.New(store, retry.DefaultPolicy(), dispatcher.DefaultTimeoutProfile(), logger)
	supervisors := make(map[string]*supervisor.Supervisor, len(namespaceList))

	for _, ns := range namespaceList {
		ex := executor.New(executor.Config{Namespace: ns, Command: strings.Fields(*executorCmd)}, logger)
		d.RegisterNamespace(ns, ex, 1000)

		if cmd := strings.Fields(*supervisorCmd); len(cmd) > 0 {
			nsDir := filepath.Join(*stateDir, "supervisor", ns)
			if err := os.MkdirAll(nsDir, 0o755); err != nil {
				logger.Error("create supervisor dir", "namespace", ns, "error", err)
				os.Exit(1)
			}
			sup := supervisor.New(supervisor.Config{
				Namespace:     ns,
				StartCommand:  cmd,
				WorkDir:       nsDir,
				PIDFile:       filepath.Join(nsDir, "supervisor.pid"),
				LogFile:       filepath.Join(nsDir, "supervisor.log"),
				BuildMetaFile: filepath.Join(nsDir, "build-meta.json"),
			}, logger)
			supervisors[ns] = sup
		}

		go d.Run(ctx, ns)
	}

	sweeper := dispatcher.NewSweeper(store, logger)
	go sweeper.Run(ctx)

	go pollQueueDepth(ctx, store, collector, namespaceList, logger)

	deps := httpapi.RouterDeps{
		Store:       store,
		Dispatcher:  d,
		Supervisors: supervisors,
		Config:      cfgStore,
		APIKeys:     apiKeys,
		Skills:      skillsRegistry,
		Activity:    activityStore,
		Metrics:     collector,
		Logger:      logger,
	}
	engine := httpapi.NewRouter(deps, httpapi.RouterConfig{})

	server := &http.Server{
		Addr:         *addr,
		Handler:      engine,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if err := serveUntilSignal(server, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

// openQueueStore picks a Postgres-backed or in-memory queue.Store, matching
// the teacher's habit of letting a flag gate an optional real backend
// behind a zero-config in-memory default.
func openQueueStore(dsn string, logger *slog.Logger) (queue.Store, func(), error) {
	if dsn == "" {
		return queue.NewMemoryStore(logger), func() {}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	return queue.NewPostgresStore(pool, logger), pool.Close, nil
}

// pollQueueDepth periodically recomputes the per-namespace, per-status
// queue depth gauge, since the queue store has no push-based notification
// of status changes for the dispatcher to hook (spec §6 DOMAIN STACK).
func pollQueueDepth(ctx context.Context, store queue.Store, collector *metrics.Collector, namespaces []string, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ns := range namespaces {
				tasks, err := store.ListByNamespace(ctx, ns, 0)
				if err != nil {
					logger.Warn("poll queue depth", "namespace", ns, "error", err)
					continue
				}
				counts := map[queue.Status]int{}
				for _, t := range tasks {
					counts[t.Status]++
				}
				for _, status := range []queue.Status{queue.StatusQueued, queue.StatusRunning, queue.StatusAwaitingResponse, queue.StatusComplete, queue.StatusError, queue.StatusCancelled} {
					collector.SetQueueDepth(ns, string(status), counts[status])
				}
			}
		}
	}
}

func splitCSV(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func serveUntilSignal(server *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-quit:
		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr := server.Shutdown(ctx)

		serveErr := <-errCh
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
		if shutdownErr != nil {
			return fmt.Errorf("shutdown: %w", shutdownErr)
		}
		if serveErr != nil {
			return fmt.Errorf("server error: %w", serveErr)
		}
		logger.Info("server stopped")
		return nil
	}
}
