package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/your-org/repo-governor/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS scan_results (
    id               UUID PRIMARY KEY,
    workload         TEXT        NOT NULL,
    repository       TEXT        NOT NULL,
    scanned_at       TIMESTAMPTZ NOT NULL,
    rule_set_version TEXT        NOT NULL,
    overall_score    INTEGER     NOT NULL,
    status           TEXT        NOT NULL,
    facts            JSONB       NOT NULL,
    missing_facts    JSONB       NOT NULL,
    violations       JSONB       NOT NULL,
    per_category     JSONB       NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scan_results_workload_time
    ON scan_results (workload, scanned_at DESC);
`

// PostgresStore persists scan results in Postgres. Rows are append-only;
// there is no UPDATE path.
type PostgresStore struct {
	*sql.DB
	logger *zap.SugaredLogger
}

func NewPostgresStore(host, port, user, password, dbname, sslmode string, logger *zap.SugaredLogger) (*PostgresStore, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, &models.PersistenceError{Op: "open", Err: err}
	}

	if err := db.Ping(); err != nil {
		return nil, &models.PersistenceError{Op: "ping", Err: err}
	}

	return &PostgresStore{DB: db, logger: logger}, nil
}

// EnsureSchema creates the scan_results table and its index if they do
// not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.ExecContext(ctx, schema); err != nil {
		return &models.PersistenceError{Op: "migrate", Err: err}
	}
	return nil
}

func (s *PostgresStore) SaveScanResult(ctx context.Context, result *models.ScanResult) error {
	row, err := encodeRow(result)
	if err != nil {
		return &models.PersistenceError{Op: "encode", Err: err}
	}

	_, err = s.ExecContext(ctx,
		`INSERT INTO scan_results
         (id, workload, repository, scanned_at, rule_set_version,
          overall_score, status, facts, missing_facts, violations, per_category)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		row.id, row.workload, row.repository, row.scannedAt, row.ruleSetVersion,
		row.overall, row.status, row.facts, row.missingFacts, row.violations, row.perCategory,
	)
	if err != nil {
		return &models.PersistenceError{Op: "insert", Err: err}
	}

	s.logger.Debugw("scan result persisted",
		"scan_id", result.ID,
		"workload", result.Workload,
		"score", result.Score.Overall)
	return nil
}

func (s *PostgresStore) LatestResult(ctx context.Context, workload string, asOf *time.Time) (*models.ScanResult, error) {
	query := `SELECT id, workload, repository, scanned_at, rule_set_version,
                     overall_score, status, facts, missing_facts, violations, per_category
              FROM scan_results
              WHERE workload = $1`
	args := []any{workload}
	if asOf != nil {
		query += ` AND scanned_at <= $2`
		args = append(args, *asOf)
	}
	query += ` ORDER BY scanned_at DESC LIMIT 1`

	var row resultRow
	err := s.QueryRowContext(ctx, query, args...).Scan(
		&row.id, &row.workload, &row.repository, &row.scannedAt, &row.ruleSetVersion,
		&row.overall, &row.status, &row.facts, &row.missingFacts, &row.violations, &row.perCategory,
	)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Resource: "scan results for workload " + workload}
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "query latest", Err: err}
	}

	result, err := decodeRow(&row)
	if err != nil {
		return nil, &models.PersistenceError{Op: "decode", Err: err}
	}
	return result, nil
}

func (s *PostgresStore) ScoreTrend(ctx context.Context, workload string, from, to time.Time) ([]models.ScorePoint, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT scanned_at, overall_score, status, rule_set_version, per_category
         FROM scan_results
         WHERE workload = $1 AND scanned_at BETWEEN $2 AND $3
         ORDER BY scanned_at ASC`,
		workload, from, to,
	)
	if err != nil {
		return nil, &models.PersistenceError{Op: "query trend", Err: err}
	}
	defer rows.Close()

	var points []models.ScorePoint
	for rows.Next() {
		var (
			p           models.ScorePoint
			status      string
			perCategory []byte
		)
		if err := rows.Scan(&p.ScannedAt, &p.Overall, &status, &p.RuleSetVersion, &perCategory); err != nil {
			return nil, &models.PersistenceError{Op: "scan trend row", Err: err}
		}
		p.Status = models.ComplianceStatus(status)
		if err := json.Unmarshal(perCategory, &p.PerCategory); err != nil {
			return nil, &models.PersistenceError{Op: "decode trend row", Err: err}
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.PersistenceError{Op: "iterate trend rows", Err: err}
	}

	return points, nil
}

func (s *PostgresStore) Workloads(ctx context.Context) ([]string, error) {
	rows, err := s.QueryContext(ctx,
		`SELECT DISTINCT workload FROM scan_results ORDER BY workload ASC`)
	if err != nil {
		return nil, &models.PersistenceError{Op: "query workloads", Err: err}
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &models.PersistenceError{Op: "scan workload row", Err: err}
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.PersistenceError{Op: "iterate workload rows", Err: err}
	}

	return names, nil
}

func (s *PostgresStore) Close() error { return s.DB.Close() }
