// Package rules loads governance rule sets and evaluates them against
// repository facts. Evaluation is pure: no I/O, deterministic output for
// identical inputs.
package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/your-org/repo-governor/pkg/models"
)

// Rule is one weighted governance check.
type Rule struct {
	ID          string          `yaml:"id"`
	Category    string          `yaml:"category"`
	Severity    models.Severity `yaml:"severity"`
	Weight      int             `yaml:"weight"`
	Description string          `yaml:"description"`
	When        Predicate       `yaml:"when"`
}

// RuleSet is an immutable, versioned configuration of weighted rules for
// one governance profile. Weights must sum to exactly 100 so historical
// scores stay comparable across versions.
type RuleSet struct {
	Profile          string `yaml:"profile"`
	Version          string `yaml:"version"`
	PartialThreshold int    `yaml:"partial_threshold"`
	Rules            []Rule `yaml:"rules"`
}

// ParseRuleSet parses and validates one rule-set document. The source
// name is used in error messages only.
func ParseRuleSet(data []byte, source string) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, &models.ConfigError{Source: source, Reason: fmt.Sprintf("invalid YAML: %v", err)}
	}
	if err := rs.validate(source); err != nil {
		return nil, err
	}
	return &rs, nil
}

func (rs *RuleSet) validate(source string) error {
	if rs.Profile == "" {
		return &models.ConfigError{Source: source, Reason: "rule set has no profile"}
	}
	if rs.Version == "" {
		return &models.ConfigError{Source: source, Reason: "rule set has no version"}
	}
	if rs.PartialThreshold == 0 {
		rs.PartialThreshold = 60
	}
	if rs.PartialThreshold < 0 || rs.PartialThreshold > 100 {
		return &models.ConfigError{Source: source, Reason: fmt.Sprintf("partial_threshold %d out of range", rs.PartialThreshold)}
	}
	if len(rs.Rules) == 0 {
		return &models.ConfigError{Source: source, Reason: "rule set has no rules"}
	}

	seen := make(map[string]bool, len(rs.Rules))
	total := 0
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if r.ID == "" {
			return &models.ConfigError{Source: source, Reason: fmt.Sprintf("rule %d has no id", i)}
		}
		if seen[r.ID] {
			return &models.ConfigError{Source: source, Reason: fmt.Sprintf("duplicate rule id %q", r.ID)}
		}
		seen[r.ID] = true
		if r.Category == "" {
			return &models.ConfigError{Source: source, Reason: fmt.Sprintf("rule %q has no category", r.ID)}
		}
		switch r.Severity {
		case models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow:
		default:
			return &models.ConfigError{Source: source, Reason: fmt.Sprintf("rule %q has invalid severity %q", r.ID, r.Severity)}
		}
		if r.Weight <= 0 {
			return &models.ConfigError{Source: source, Reason: fmt.Sprintf("rule %q has non-positive weight %d", r.ID, r.Weight)}
		}
		if err := r.When.validate(); err != nil {
			return &models.ConfigError{Source: source, Reason: fmt.Sprintf("rule %q: %v", r.ID, err)}
		}
		total += r.Weight
	}

	// Weights must sum to exactly 100. Normalizing silently would make
	// historical scores incomparable across versions.
	if total != 100 {
		return &models.ConfigError{Source: source, Reason: fmt.Sprintf("rule weights sum to %d, expected 100", total)}
	}
	return nil
}

// Registry holds the active rule set per governance profile and supports
// atomic reload. Evaluations always see a complete, validated set.
type Registry struct {
	dir    string
	logger *zap.SugaredLogger

	mu       sync.RWMutex
	profiles map[string]*RuleSet
}

// NewRegistry loads every *.yaml rule-set file under dir. Loading fails
// fast on the first invalid file so no scan ever runs against a broken
// configuration.
func NewRegistry(dir string, logger *zap.SugaredLogger) (*Registry, error) {
	r := &Registry{dir: dir, logger: logger}
	profiles, err := loadDir(dir)
	if err != nil {
		return nil, err
	}
	r.profiles = profiles
	return r, nil
}

func loadDir(dir string) (map[string]*RuleSet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &models.ConfigError{Source: dir, Reason: fmt.Sprintf("cannot read rules directory: %v", err)}
	}

	profiles := make(map[string]*RuleSet)
	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &models.ConfigError{Source: path, Reason: err.Error()}
		}
		rs, err := ParseRuleSet(data, path)
		if err != nil {
			return nil, err
		}
		if _, dup := profiles[rs.Profile]; dup {
			return nil, &models.ConfigError{Source: path, Reason: fmt.Sprintf("profile %q defined twice", rs.Profile)}
		}
		profiles[rs.Profile] = rs
	}
	if len(profiles) == 0 {
		return nil, &models.ConfigError{Source: dir, Reason: "no rule sets found"}
	}
	return profiles, nil
}

// Get returns the active rule set for a profile.
func (r *Registry) Get(profile string) (*RuleSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.profiles[profile]
	if !ok {
		return nil, &models.ConfigError{Reason: fmt.Sprintf("no rule set for profile %q", profile)}
	}
	return rs, nil
}

// Profiles returns the known profile names, sorted.
func (r *Registry) Profiles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Reload re-reads the rules directory and swaps the registry atomically.
// On failure the previous rule sets stay active.
func (r *Registry) Reload() error {
	profiles, err := loadDir(r.dir)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.profiles = profiles
	r.mu.Unlock()
	r.logger.Infow("rule sets reloaded", "profiles", len(profiles))
	return nil
}
