package models

import (
	"time"
)

// FactCategory identifies one group of repository observations fetched
// independently during a scan.
type FactCategory string

const (
	FactSettings         FactCategory = "settings"
	FactBranchProtection FactCategory = "branch_protection"
	FactFiles            FactCategory = "files"
	FactWorkflows        FactCategory = "workflows"
	FactSecurity         FactCategory = "security"
)

// Severity of a governance rule and of the violations it produces.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Workload is one entry of the workload registry: a named repository under
// a governance profile. Immutable during a scan run.
type Workload struct {
	Name    string   `json:"name" yaml:"name"`
	Owner   string   `json:"owner" yaml:"-"`
	Repo    string   `json:"repo" yaml:"-"`
	Profile string   `json:"profile,omitempty" yaml:"profile"`
	Tags    []string `json:"tags,omitempty" yaml:"tags"`
}

// FullName returns the owner/repo identifier used by the upstream API.
func (w Workload) FullName() string {
	return w.Owner + "/" + w.Repo
}

// SettingsFacts are repository-level configuration flags.
type SettingsFacts struct {
	Private             bool   `json:"private"`
	Archived            bool   `json:"archived"`
	Visibility          string `json:"visibility"`
	DefaultBranch       string `json:"default_branch"`
	HasIssues           bool   `json:"has_issues"`
	HasWiki             bool   `json:"has_wiki"`
	DeleteBranchOnMerge bool   `json:"delete_branch_on_merge"`
	HasLicense          bool   `json:"has_license"`
}

// BranchProtectionFacts describe the protection applied to the default
// branch. Enabled is false when no protection rule exists at all.
type BranchProtectionFacts struct {
	Enabled                 bool `json:"enabled"`
	RequiredReviews         int  `json:"required_reviews"`
	RequireCodeOwnerReviews bool `json:"require_code_owner_reviews"`
	DismissStaleReviews     bool `json:"dismiss_stale_reviews"`
	EnforceAdmins           bool `json:"enforce_admins"`
	RequiredStatusChecks    bool `json:"required_status_checks"`
	StrictStatusChecks      bool `json:"strict_status_checks"`
	AllowForcePushes        bool `json:"allow_force_pushes"`
	AllowDeletions          bool `json:"allow_deletions"`
	RequiredSignatures      bool `json:"required_signatures"`
}

// FileFacts record the presence of governance-relevant files in the
// repository root and .github directory.
type FileFacts struct {
	HasReadme           bool `json:"has_readme"`
	HasLicense          bool `json:"has_license"`
	HasCodeowners       bool `json:"has_codeowners"`
	HasSecurityPolicy   bool `json:"has_security_policy"`
	HasContributing     bool `json:"has_contributing"`
	HasDependabotConfig bool `json:"has_dependabot_config"`
}

// WorkflowFacts summarize the repository's CI workflow definitions.
type WorkflowFacts struct {
	Count         int      `json:"count"`
	HasCIWorkflow bool     `json:"has_ci_workflow"`
	Names         []string `json:"names,omitempty"`
}

// SecurityFacts carry security alert state for the repository.
type SecurityFacts struct {
	VulnerabilityAlertsEnabled bool `json:"vulnerability_alerts_enabled"`
	OpenAlertsCritical         int  `json:"open_alerts_critical"`
	OpenAlertsHigh             int  `json:"open_alerts_high"`
	OpenAlertsMedium           int  `json:"open_alerts_medium"`
	OpenAlertsLow              int  `json:"open_alerts_low"`
	OpenAlertsTotal            int  `json:"open_alerts_total"`
}

// RepositoryFacts is the normalized snapshot a scan evaluates rules
// against. A nil category pointer means that category could not be
// fetched; its name is also recorded in Missing so results carry the
// partial-data condition explicitly.
type RepositoryFacts struct {
	Settings         *SettingsFacts         `json:"settings,omitempty"`
	BranchProtection *BranchProtectionFacts `json:"branch_protection,omitempty"`
	Files            *FileFacts             `json:"files,omitempty"`
	Workflows        *WorkflowFacts         `json:"workflows,omitempty"`
	Security         *SecurityFacts         `json:"security,omitempty"`
	Missing          []FactCategory         `json:"missing,omitempty"`
	FetchedAt        time.Time              `json:"fetched_at"`
}

// HasCategory reports whether the given fact category was fetched.
func (f *RepositoryFacts) HasCategory(c FactCategory) bool {
	switch c {
	case FactSettings:
		return f.Settings != nil
	case FactBranchProtection:
		return f.BranchProtection != nil
	case FactFiles:
		return f.Files != nil
	case FactWorkflows:
		return f.Workflows != nil
	case FactSecurity:
		return f.Security != nil
	}
	return false
}

// Violation is produced when a rule's predicate fails. Never mutated
// after creation.
type Violation struct {
	RuleID   string            `json:"rule_id"`
	Category string            `json:"category"`
	Severity Severity          `json:"severity"`
	Message  string            `json:"message"`
	Evidence map[string]string `json:"evidence,omitempty"`
}

// ComplianceStatus is the coarse classification derived from the score.
type ComplianceStatus string

const (
	StatusCompliant    ComplianceStatus = "compliant"
	StatusPartial      ComplianceStatus = "partial"
	StatusNonCompliant ComplianceStatus = "non-compliant"
)

// CategoryScore is the earned-versus-maximum contribution of one rule
// category.
type CategoryScore struct {
	Earned int `json:"earned"`
	Max    int `json:"max"`
}

// ComplianceScore is the weighted result of evaluating a rule set.
type ComplianceScore struct {
	Overall     int                      `json:"overall"`
	PerCategory map[string]CategoryScore `json:"per_category"`
	Status      ComplianceStatus         `json:"status"`
}

// ScanState tracks the lifecycle of one repository scan attempt.
type ScanState string

const (
	ScanPending    ScanState = "pending"
	ScanFetching   ScanState = "fetching"
	ScanEvaluating ScanState = "evaluating"
	ScanPersisted  ScanState = "persisted"
	ScanFailed     ScanState = "failed"
)

// ScanResult is one immutable record of a completed scan. Results are
// appended to the store, never updated in place.
type ScanResult struct {
	ID             string           `json:"id"`
	Workload       string           `json:"workload"`
	Repository     string           `json:"repository"`
	ScannedAt      time.Time        `json:"scanned_at"`
	RuleSetVersion string           `json:"rule_set_version"`
	Facts          *RepositoryFacts `json:"facts"`
	MissingFacts   []FactCategory   `json:"missing_facts,omitempty"`
	Violations     []Violation      `json:"violations"`
	Score          ComplianceScore  `json:"score"`
}

// ScanFailure records one workload's terminal scan error within a batch.
type ScanFailure struct {
	Workload string `json:"workload"`
	Error    string `json:"error"`
	Err      error  `json:"-"`
}

// BatchReport aggregates the outcome of a batch scan. One workload's
// failure never affects siblings, so both lists are populated
// independently and carry no ordering guarantee.
type BatchReport struct {
	Succeeded []*ScanResult `json:"succeeded"`
	Failed    []ScanFailure `json:"failed"`
	Started   time.Time     `json:"started"`
	Finished  time.Time     `json:"finished"`
}

// SucceededCount returns the number of persisted scan results.
func (r *BatchReport) SucceededCount() int { return len(r.Succeeded) }

// FailedCount returns the number of workloads whose scan attempt failed.
func (r *BatchReport) FailedCount() int { return len(r.Failed) }

// ScorePoint is one historical compliance score sample for trend queries.
type ScorePoint struct {
	ScannedAt      time.Time                `json:"scanned_at"`
	Overall        int                      `json:"overall"`
	Status         ComplianceStatus         `json:"status"`
	RuleSetVersion string                   `json:"rule_set_version"`
	PerCategory    map[string]CategoryScore `json:"per_category,omitempty"`
}
