package scan

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/repo-governor/pkg/models"
)

// WorkloadSource lists the workloads the scheduler should sweep.
type WorkloadSource interface {
	All() []models.Workload
}

// Scheduler runs a full-fleet scan on a fixed interval. The first sweep
// starts immediately; later sweeps wait out the interval even when a
// sweep overruns it.
type Scheduler struct {
	orch      *Orchestrator
	workloads WorkloadSource
	interval  time.Duration
	logger    *zap.SugaredLogger
}

func NewScheduler(orch *Orchestrator, workloads WorkloadSource, interval time.Duration, logger *zap.SugaredLogger) *Scheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Scheduler{
		orch:      orch,
		workloads: workloads,
		interval:  interval,
		logger:    logger,
	}
}

// Run blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Infow("scheduler starting", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.orch.ScanAll(ctx, s.workloads.All())
}
