package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/repo-governor/pkg/metrics"
	"github.com/your-org/repo-governor/pkg/models"
	"github.com/your-org/repo-governor/pkg/rules"
	"github.com/your-org/repo-governor/pkg/store"
)

// FactSource produces the normalized facts for one repository.
type FactSource interface {
	Fetch(ctx context.Context, owner, repo string) (*models.RepositoryFacts, error)
}

// RuleSource resolves a governance profile to its active rule set.
type RuleSource interface {
	Get(profile string) (*rules.RuleSet, error)
}

// Orchestrator drives the scan lifecycle for single workloads and for
// whole batches. It never retries a failed scan; retry of individual
// API calls happens below it, in the executor.
type Orchestrator struct {
	facts   FactSource
	rules   RuleSource
	store   store.ResultStore
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	workers int
}

func NewOrchestrator(facts FactSource, ruleSource RuleSource, resultStore store.ResultStore, workers int, logger *zap.SugaredLogger, m *metrics.Metrics) *Orchestrator {
	if workers <= 0 {
		workers = 5
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Orchestrator{
		facts:   facts,
		rules:   ruleSource,
		store:   resultStore,
		logger:  logger,
		metrics: m,
		workers: workers,
	}
}

// ScanOne runs the full scan lifecycle for a single workload: fetch
// facts, evaluate the workload's rule set, persist the result. The
// result is appended to the store before being returned; on any
// terminal error nothing is persisted.
func (o *Orchestrator) ScanOne(ctx context.Context, workload models.Workload) (*models.ScanResult, error) {
	started := time.Now()
	scanID := uuid.NewString()
	state := models.ScanPending

	log := o.logger.With(
		"scan_id", scanID,
		"workload", workload.Name,
		"repository", workload.FullName())

	fail := func(err error) (*models.ScanResult, error) {
		o.metrics.ScansTotal.WithLabelValues(string(models.ScanFailed)).Inc()
		log.Warnw("scan failed", "state", state, "error", err)
		return nil, fmt.Errorf("scan %s in state %s: %w", workload.Name, state, err)
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	state = models.ScanFetching
	repoFacts, err := o.facts.Fetch(ctx, workload.Owner, workload.Repo)
	if err != nil {
		return fail(err)
	}

	state = models.ScanEvaluating
	ruleSet, err := o.rules.Get(workload.Profile)
	if err != nil {
		return fail(err)
	}
	violations, score := rules.Evaluate(repoFacts, ruleSet)

	result := &models.ScanResult{
		ID:             scanID,
		Workload:       workload.Name,
		Repository:     workload.FullName(),
		ScannedAt:      time.Now().UTC(),
		RuleSetVersion: ruleSet.Version,
		Facts:          repoFacts,
		MissingFacts:   repoFacts.Missing,
		Violations:     violations,
		Score:          score,
	}

	if err := o.store.SaveScanResult(ctx, result); err != nil {
		return fail(err)
	}
	state = models.ScanPersisted

	o.metrics.ScansTotal.WithLabelValues(string(state)).Inc()
	o.metrics.ScanDuration.Observe(time.Since(started).Seconds())
	log.Infow("scan persisted",
		"score", score.Overall,
		"status", score.Status,
		"violations", len(violations),
		"missing_facts", len(repoFacts.Missing),
		"duration", time.Since(started))
	return result, nil
}

// ScanAll scans every workload with bounded concurrency. One workload's
// failure never stops its siblings; the report carries both outcomes.
// Cancelling the context stops dispatch; workloads that never started
// are reported as failed with the context error.
func (o *Orchestrator) ScanAll(ctx context.Context, workloads []models.Workload) *models.BatchReport {
	report := &models.BatchReport{Started: time.Now().UTC()}

	sem := make(chan struct{}, o.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	o.logger.Infow("batch scan starting", "workloads", len(workloads), "workers", o.workers)

	for _, workload := range workloads {
		select {
		case <-ctx.Done():
			mu.Lock()
			report.Failed = append(report.Failed, models.ScanFailure{
				Workload: workload.Name,
				Error:    ctx.Err().Error(),
				Err:      ctx.Err(),
			})
			mu.Unlock()
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(w models.Workload) {
			defer wg.Done()
			defer func() { <-sem }()

			result, err := o.ScanOne(ctx, w)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, models.ScanFailure{
					Workload: w.Name,
					Error:    err.Error(),
					Err:      err,
				})
				return
			}
			report.Succeeded = append(report.Succeeded, result)
		}(workload)
	}

	wg.Wait()
	report.Finished = time.Now().UTC()

	o.logger.Infow("batch scan finished",
		"succeeded", report.SucceededCount(),
		"failed", report.FailedCount(),
		"duration", report.Finished.Sub(report.Started))
	return report
}
