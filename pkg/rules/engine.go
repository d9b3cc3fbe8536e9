package rules

import (
	"github.com/your-org/repo-governor/pkg/models"
)

// Evaluate applies every rule of the set to the facts. A satisfied rule
// contributes its weight to its category; a failed rule yields a
// Violation. The result is a pure function of (facts, rule set):
// repeated calls produce identical violations and score.
func Evaluate(facts *models.RepositoryFacts, rs *RuleSet) ([]models.Violation, models.ComplianceScore) {
	violations := make([]models.Violation, 0)
	perCategory := make(map[string]models.CategoryScore)
	earnedTotal := 0

	for i := range rs.Rules {
		rule := &rs.Rules[i]

		cs := perCategory[rule.Category]
		cs.Max += rule.Weight

		evidence := make(map[string]string)
		if rule.When.eval(facts, evidence) {
			cs.Earned += rule.Weight
			earnedTotal += rule.Weight
		} else {
			if len(evidence) == 0 {
				evidence = nil
			}
			violations = append(violations, models.Violation{
				RuleID:   rule.ID,
				Category: rule.Category,
				Severity: rule.Severity,
				Message:  violationMessage(rule),
				Evidence: evidence,
			})
		}
		perCategory[rule.Category] = cs
	}

	overall := earnedTotal
	if overall < 0 {
		overall = 0
	}
	if overall > 100 {
		overall = 100
	}

	return violations, models.ComplianceScore{
		Overall:     overall,
		PerCategory: perCategory,
		Status:      statusFor(overall, rs.PartialThreshold),
	}
}

func statusFor(overall, threshold int) models.ComplianceStatus {
	switch {
	case overall == 100:
		return models.StatusCompliant
	case overall >= threshold:
		return models.StatusPartial
	default:
		return models.StatusNonCompliant
	}
}

func violationMessage(rule *Rule) string {
	if rule.Description != "" {
		return rule.Description
	}
	return "rule " + rule.ID + " not satisfied"
}
