package store

import (
	"context"
	"time"

	"github.com/your-org/repo-governor/pkg/models"
)

// ResultStore is the append-only history of scan results. Writes never
// update prior rows, so reads can reconstruct the compliance state at
// any past instant.
type ResultStore interface {
	// SaveScanResult appends one completed scan. The result's ID must be
	// unique; saving the same ID twice is a persistence error.
	SaveScanResult(ctx context.Context, result *models.ScanResult) error

	// LatestResult returns the most recent result for a workload. When
	// asOf is non-nil only scans at or before that instant are
	// considered. Returns NotFoundError when the workload has no
	// qualifying history.
	LatestResult(ctx context.Context, workload string, asOf *time.Time) (*models.ScanResult, error)

	// ScoreTrend returns the score history for a workload inside
	// [from, to], oldest first.
	ScoreTrend(ctx context.Context, workload string, from, to time.Time) ([]models.ScorePoint, error)

	// Workloads lists every workload that has at least one stored
	// result, sorted by name.
	Workloads(ctx context.Context) ([]string, error)

	Close() error
}
