package rules

import (
	"fmt"
	"strings"

	"github.com/your-org/repo-governor/pkg/models"
)

// Predicate is a small boolean expression over typed repository facts:
// either a leaf {field, operator, value} or a composition via all_of,
// any_of, or not. Exactly one form must be set.
type Predicate struct {
	Field    string      `yaml:"field,omitempty"`
	Operator string      `yaml:"operator,omitempty"`
	Value    interface{} `yaml:"value,omitempty"`

	AllOf []Predicate `yaml:"all_of,omitempty"`
	AnyOf []Predicate `yaml:"any_of,omitempty"`
	Not   *Predicate  `yaml:"not,omitempty"`
}

// Leaf operators.
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
	OpContains = "contains"
)

// factField resolves one selector against the typed facts. ok is false
// when the owning category was not fetched.
type factField struct {
	category models.FactCategory
	resolve  func(f *models.RepositoryFacts) interface{}
}

// factFields is the complete selector vocabulary. Unknown selectors are
// rejected at rule-set load time, not at evaluation time.
var factFields = map[string]factField{
	"settings.private":                {models.FactSettings, func(f *models.RepositoryFacts) interface{} { return f.Settings.Private }},
	"settings.archived":               {models.FactSettings, func(f *models.RepositoryFacts) interface{} { return f.Settings.Archived }},
	"settings.visibility":             {models.FactSettings, func(f *models.RepositoryFacts) interface{} { return f.Settings.Visibility }},
	"settings.default_branch":         {models.FactSettings, func(f *models.RepositoryFacts) interface{} { return f.Settings.DefaultBranch }},
	"settings.has_issues":             {models.FactSettings, func(f *models.RepositoryFacts) interface{} { return f.Settings.HasIssues }},
	"settings.has_wiki":               {models.FactSettings, func(f *models.RepositoryFacts) interface{} { return f.Settings.HasWiki }},
	"settings.delete_branch_on_merge": {models.FactSettings, func(f *models.RepositoryFacts) interface{} { return f.Settings.DeleteBranchOnMerge }},
	"settings.has_license":            {models.FactSettings, func(f *models.RepositoryFacts) interface{} { return f.Settings.HasLicense }},

	"branch_protection.enabled":                    {models.FactBranchProtection, func(f *models.RepositoryFacts) interface{} { return f.BranchProtection.Enabled }},
	"branch_protection.required_reviews":           {models.FactBranchProtection, func(f *models.RepositoryFacts) interface{} { return f.BranchProtection.RequiredReviews }},
	"branch_protection.require_code_owner_reviews": {models.FactBranchProtection, func(f *models.RepositoryFacts) interface{} { return f.BranchProtection.RequireCodeOwnerReviews }},
	"branch_protection.dismiss_stale_reviews":      {models.FactBranchProtection, func(f *models.RepositoryFacts) interface{} { return f.BranchProtection.DismissStaleReviews }},
	"branch_protection.enforce_admins":             {models.FactBranchProtection, func(f *models.RepositoryFacts) interface{} { return f.BranchProtection.EnforceAdmins }},
	"branch_protection.required_status_checks":     {models.FactBranchProtection, func(f *models.RepositoryFacts) interface{} { return f.BranchProtection.RequiredStatusChecks }},
	"branch_protection.strict_status_checks":       {models.FactBranchProtection, func(f *models.RepositoryFacts) interface{} { return f.BranchProtection.StrictStatusChecks }},
	"branch_protection.allow_force_pushes":         {models.FactBranchProtection, func(f *models.RepositoryFacts) interface{} { return f.BranchProtection.AllowForcePushes }},
	"branch_protection.allow_deletions":            {models.FactBranchProtection, func(f *models.RepositoryFacts) interface{} { return f.BranchProtection.AllowDeletions }},
	"branch_protection.required_signatures":        {models.FactBranchProtection, func(f *models.RepositoryFacts) interface{} { return f.BranchProtection.RequiredSignatures }},

	"files.has_readme":            {models.FactFiles, func(f *models.RepositoryFacts) interface{} { return f.Files.HasReadme }},
	"files.has_license":           {models.FactFiles, func(f *models.RepositoryFacts) interface{} { return f.Files.HasLicense }},
	"files.has_codeowners":        {models.FactFiles, func(f *models.RepositoryFacts) interface{} { return f.Files.HasCodeowners }},
	"files.has_security_policy":   {models.FactFiles, func(f *models.RepositoryFacts) interface{} { return f.Files.HasSecurityPolicy }},
	"files.has_contributing":      {models.FactFiles, func(f *models.RepositoryFacts) interface{} { return f.Files.HasContributing }},
	"files.has_dependabot_config": {models.FactFiles, func(f *models.RepositoryFacts) interface{} { return f.Files.HasDependabotConfig }},

	"workflows.count":           {models.FactWorkflows, func(f *models.RepositoryFacts) interface{} { return f.Workflows.Count }},
	"workflows.has_ci_workflow": {models.FactWorkflows, func(f *models.RepositoryFacts) interface{} { return f.Workflows.HasCIWorkflow }},
	"workflows.names":           {models.FactWorkflows, func(f *models.RepositoryFacts) interface{} { return f.Workflows.Names }},

	"security.vulnerability_alerts_enabled": {models.FactSecurity, func(f *models.RepositoryFacts) interface{} { return f.Security.VulnerabilityAlertsEnabled }},
	"security.open_alerts_critical":         {models.FactSecurity, func(f *models.RepositoryFacts) interface{} { return f.Security.OpenAlertsCritical }},
	"security.open_alerts_high":             {models.FactSecurity, func(f *models.RepositoryFacts) interface{} { return f.Security.OpenAlertsHigh }},
	"security.open_alerts_medium":           {models.FactSecurity, func(f *models.RepositoryFacts) interface{} { return f.Security.OpenAlertsMedium }},
	"security.open_alerts_low":              {models.FactSecurity, func(f *models.RepositoryFacts) interface{} { return f.Security.OpenAlertsLow }},
	"security.open_alerts_total":            {models.FactSecurity, func(f *models.RepositoryFacts) interface{} { return f.Security.OpenAlertsTotal }},
}

func (p *Predicate) validate() error {
	forms := 0
	if p.Field != "" || p.Operator != "" {
		forms++
	}
	if len(p.AllOf) > 0 {
		forms++
	}
	if len(p.AnyOf) > 0 {
		forms++
	}
	if p.Not != nil {
		forms++
	}
	if forms != 1 {
		return fmt.Errorf("predicate must be exactly one of field/operator, all_of, any_of, not")
	}

	switch {
	case len(p.AllOf) > 0:
		for i := range p.AllOf {
			if err := p.AllOf[i].validate(); err != nil {
				return err
			}
		}
	case len(p.AnyOf) > 0:
		for i := range p.AnyOf {
			if err := p.AnyOf[i].validate(); err != nil {
				return err
			}
		}
	case p.Not != nil:
		return p.Not.validate()
	default:
		if _, ok := factFields[p.Field]; !ok {
			return fmt.Errorf("unknown fact field %q", p.Field)
		}
		switch p.Operator {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains:
		default:
			return fmt.Errorf("unknown operator %q", p.Operator)
		}
		if p.Value == nil {
			return fmt.Errorf("field predicate %q has no value", p.Field)
		}
	}
	return nil
}

// eval applies the predicate against the facts. A selector whose fact
// category was not fetched fails closed: the predicate is false and the
// evidence records the unavailable field.
func (p *Predicate) eval(facts *models.RepositoryFacts, evidence map[string]string) bool {
	switch {
	case len(p.AllOf) > 0:
		for i := range p.AllOf {
			if !p.AllOf[i].eval(facts, evidence) {
				return false
			}
		}
		return true
	case len(p.AnyOf) > 0:
		for i := range p.AnyOf {
			if p.AnyOf[i].eval(facts, evidence) {
				return true
			}
		}
		return false
	case p.Not != nil:
		return !p.Not.eval(facts, evidence)
	}

	field := factFields[p.Field]
	if !facts.HasCategory(field.category) {
		evidence[p.Field] = "unavailable"
		return false
	}

	actual := field.resolve(facts)
	ok := compare(actual, p.Operator, p.Value)
	if !ok {
		evidence[p.Field] = fmt.Sprintf("%v", actual)
	}
	return ok
}

// compare applies a leaf operator. Numeric comparisons coerce both sides
// to float64; YAML decodes literals as int, bool, or string.
func compare(actual interface{}, op string, expected interface{}) bool {
	switch op {
	case OpEq:
		return looseEqual(actual, expected)
	case OpNe:
		return !looseEqual(actual, expected)
	case OpGt, OpGte, OpLt, OpLte:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		if !aok || !bok {
			return false
		}
		switch op {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	case OpContains:
		list, ok := actual.([]string)
		want := fmt.Sprintf("%v", expected)
		if !ok {
			s, sok := actual.(string)
			return sok && strings.Contains(s, want)
		}
		for _, item := range list {
			if item == want {
				return true
			}
		}
		return false
	}
	return false
}

func looseEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
