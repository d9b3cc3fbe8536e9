package store

import (
	"encoding/json"
	"time"

	"github.com/your-org/repo-governor/pkg/models"
)

// resultRow is the flat wire shape of one scan_results record. Compound
// fields travel as JSONB so the schema never changes when the fact
// vocabulary grows.
type resultRow struct {
	id             string
	workload       string
	repository     string
	scannedAt      time.Time
	ruleSetVersion string
	overall        int
	status         string
	facts          []byte
	missingFacts   []byte
	violations     []byte
	perCategory    []byte
}

func encodeRow(result *models.ScanResult) (*resultRow, error) {
	facts, err := json.Marshal(result.Facts)
	if err != nil {
		return nil, err
	}
	missing := result.MissingFacts
	if missing == nil {
		missing = []models.FactCategory{}
	}
	missingJSON, err := json.Marshal(missing)
	if err != nil {
		return nil, err
	}
	violations := result.Violations
	if violations == nil {
		violations = []models.Violation{}
	}
	violationsJSON, err := json.Marshal(violations)
	if err != nil {
		return nil, err
	}
	perCategory, err := json.Marshal(result.Score.PerCategory)
	if err != nil {
		return nil, err
	}

	return &resultRow{
		id:             result.ID,
		workload:       result.Workload,
		repository:     result.Repository,
		scannedAt:      result.ScannedAt.UTC(),
		ruleSetVersion: result.RuleSetVersion,
		overall:        result.Score.Overall,
		status:         string(result.Score.Status),
		facts:          facts,
		missingFacts:   missingJSON,
		violations:     violationsJSON,
		perCategory:    perCategory,
	}, nil
}

func decodeRow(row *resultRow) (*models.ScanResult, error) {
	result := &models.ScanResult{
		ID:             row.id,
		Workload:       row.workload,
		Repository:     row.repository,
		ScannedAt:      row.scannedAt,
		RuleSetVersion: row.ruleSetVersion,
		Score: models.ComplianceScore{
			Overall: row.overall,
			Status:  models.ComplianceStatus(row.status),
		},
	}
	if err := json.Unmarshal(row.facts, &result.Facts); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(row.missingFacts, &result.MissingFacts); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(row.violations, &result.Violations); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(row.perCategory, &result.Score.PerCategory); err != nil {
		return nil, err
	}
	return result, nil
}
