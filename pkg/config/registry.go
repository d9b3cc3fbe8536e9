package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/your-org/repo-governor/pkg/models"
)

// ProfileSelector assigns a governance profile to workloads carrying all
// of the listed tags.
type ProfileSelector struct {
	Profile   string   `yaml:"profile"`
	MatchTags []string `yaml:"match_tags"`
}

type registryFile struct {
	DefaultProfile string            `yaml:"default_profile"`
	Selectors      []ProfileSelector `yaml:"selectors"`
	Workloads      []workloadEntry   `yaml:"workloads"`
}

type workloadEntry struct {
	Name       string   `yaml:"name"`
	Repository string   `yaml:"repository"`
	Profile    string   `yaml:"profile"`
	Tags       []string `yaml:"tags"`
}

// Registry is the immutable workload registry loaded at startup. Lookup
// is by workload name or by owner/repo full name (for webhook routing).
type Registry struct {
	defaultProfile string
	selectors      []ProfileSelector
	workloads      []models.Workload
	byName         map[string]models.Workload
	byRepo         map[string]models.Workload
}

// LoadRegistry parses and validates the workload registry file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.ConfigError{Source: path, Reason: fmt.Sprintf("cannot read registry: %v", err)}
	}
	return ParseRegistry(data, path)
}

// ParseRegistry builds a Registry from raw YAML. The source name is used
// in error messages only.
func ParseRegistry(data []byte, source string) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &models.ConfigError{Source: source, Reason: fmt.Sprintf("invalid YAML: %v", err)}
	}

	r := &Registry{
		defaultProfile: file.DefaultProfile,
		selectors:      file.Selectors,
		byName:         make(map[string]models.Workload),
		byRepo:         make(map[string]models.Workload),
	}

	for _, entry := range file.Workloads {
		if entry.Name == "" {
			return nil, &models.ConfigError{Source: source, Reason: "workload with empty name"}
		}
		owner, repo, ok := strings.Cut(entry.Repository, "/")
		if !ok || owner == "" || repo == "" {
			return nil, &models.ConfigError{
				Source: source,
				Reason: fmt.Sprintf("workload %q: repository must be owner/repo, got %q", entry.Name, entry.Repository),
			}
		}
		if _, dup := r.byName[entry.Name]; dup {
			return nil, &models.ConfigError{Source: source, Reason: fmt.Sprintf("duplicate workload name %q", entry.Name)}
		}

		w := models.Workload{
			Name:    entry.Name,
			Owner:   owner,
			Repo:    repo,
			Profile: entry.Profile,
			Tags:    entry.Tags,
		}
		w.Profile = r.resolveProfile(w)

		r.workloads = append(r.workloads, w)
		r.byName[w.Name] = w
		r.byRepo[w.FullName()] = w
	}

	return r, nil
}

// resolveProfile picks the governance profile for a workload. Precedence
// is deterministic and independent of declaration order: an explicit
// profile on the workload always wins; otherwise the selector matching
// the most tags wins, ties broken by lexicographic profile name; the
// registry default is the fallback.
func (r *Registry) resolveProfile(w models.Workload) string {
	if w.Profile != "" {
		return w.Profile
	}

	tags := make(map[string]bool, len(w.Tags))
	for _, t := range w.Tags {
		tags[t] = true
	}

	type match struct {
		profile string
		tags    int
	}
	var matches []match
	for _, sel := range r.selectors {
		if len(sel.MatchTags) == 0 {
			continue
		}
		all := true
		for _, t := range sel.MatchTags {
			if !tags[t] {
				all = false
				break
			}
		}
		if all {
			matches = append(matches, match{profile: sel.Profile, tags: len(sel.MatchTags)})
		}
	}
	if len(matches) == 0 {
		return r.defaultProfile
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].tags != matches[j].tags {
			return matches[i].tags > matches[j].tags
		}
		return matches[i].profile < matches[j].profile
	})
	return matches[0].profile
}

// Lookup returns the workload with the given name.
func (r *Registry) Lookup(name string) (models.Workload, bool) {
	w, ok := r.byName[name]
	return w, ok
}

// LookupByRepo returns the workload mapped to an owner/repo full name.
func (r *Registry) LookupByRepo(fullName string) (models.Workload, bool) {
	w, ok := r.byRepo[fullName]
	return w, ok
}

// All returns every registered workload in registry order.
func (r *Registry) All() []models.Workload {
	out := make([]models.Workload, len(r.workloads))
	copy(out, r.workloads)
	return out
}
