package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/taskrunner/runner/internal/queue"
)

// Sweeper periodically recovers stale RUNNING and AWAITING_RESPONSE tasks
// across every namespace. RUNNING recovery is spec §4.1's recoverStaleTasks;
// AWAITING_RESPONSE recovery is the dispatcher-owned sweep spec §9's second
// Open Question assigns here rather than to the Retry Engine or Queue Store.
type Sweeper struct {
	store               queue.Store
	logger              *slog.Logger
	interval            time.Duration
	staleRunningMaxAge  time.Duration
	staleAwaitingMaxAge time.Duration
}

// NewSweeper constructs a Sweeper with spec §4.1's default 5-minute stale
// window for RUNNING tasks; AWAITING_RESPONSE uses a longer default since a
// human may take real time to respond.
func NewSweeper(store queue.Store, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:               store,
		logger:              logger,
		interval:            30 * time.Second,
		staleRunningMaxAge:  5 * time.Minute,
		staleAwaitingMaxAge: 24 * time.Hour,
	}
}

// Run sweeps every namespace on each tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	namespaces, err := s.store.GetAllNamespaces(ctx)
	if err != nil {
		s.logger.Error("sweep: list namespaces failed", "error", err)
		return
	}
	for _, ns := range namespaces {
		if n, err := s.store.RecoverStaleTasks(ctx, ns, s.staleRunningMaxAge); err != nil {
			s.logger.Error("sweep: recover stale running failed", "namespace", ns, "error", err)
		} else if n > 0 {
			s.logger.Info("sweep: recovered stale running tasks", "namespace", ns, "count", n)
		}
		if n, err := s.store.RecoverStaleAwaitingResponse(ctx, ns, s.staleAwaitingMaxAge); err != nil {
			s.logger.Error("sweep: recover stale awaiting-response failed", "namespace", ns, "error", err)
		} else if n > 0 {
			s.logger.Info("sweep: recovered stale awaiting-response tasks", "namespace", ns, "count", n)
		}
	}
}
