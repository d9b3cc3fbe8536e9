// Package facts fetches and normalizes the repository observations the
// rule engine evaluates. Every upstream call runs through the
// rate-limited executor and the tiered cache; each fact category fails
// independently so one broken endpoint degrades a scan instead of
// killing it.
package facts

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/go-github/v45/github"
	"go.uber.org/zap"

	"github.com/your-org/repo-governor/pkg/cache"
	"github.com/your-org/repo-governor/pkg/executor"
	"github.com/your-org/repo-governor/pkg/models"
)

// Fetcher assembles RepositoryFacts snapshots.
type Fetcher struct {
	api    API
	exec   *executor.Executor
	cache  *cache.TieredCache
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewFetcher builds a fetcher. ttl is the durable-tier lifetime of each
// cached category payload.
func NewFetcher(api API, exec *executor.Executor, c *cache.TieredCache, ttl time.Duration, logger *zap.SugaredLogger) *Fetcher {
	return &Fetcher{api: api, exec: exec, cache: c, ttl: ttl, logger: logger}
}

// Fetch returns the normalized facts for one repository. A missing
// repository surfaces as NotFoundError; any other per-category failure
// is recorded in Missing and the remaining categories still load.
func (f *Fetcher) Fetch(ctx context.Context, owner, repo string) (*models.RepositoryFacts, error) {
	facts := &models.RepositoryFacts{FetchedAt: time.Now().UTC()}

	settings, err := f.settings(ctx, owner, repo)
	if err != nil {
		var notFound *models.NotFoundError
		if errors.As(err, &notFound) {
			// The repository itself is gone; nothing else can be fetched.
			return nil, &models.NotFoundError{Resource: owner + "/" + repo}
		}
		var authErr *models.AuthError
		if errors.As(err, &authErr) {
			return nil, authErr
		}
		f.logger.Warnw("settings facts unavailable", "repo", owner+"/"+repo, "error", err)
		facts.Missing = append(facts.Missing, models.FactSettings, models.FactBranchProtection)
	} else {
		facts.Settings = settings
		protection, err := f.branchProtection(ctx, owner, repo, settings.DefaultBranch)
		if err != nil {
			f.logger.Warnw("branch protection facts unavailable", "repo", owner+"/"+repo, "error", err)
			facts.Missing = append(facts.Missing, models.FactBranchProtection)
		} else {
			facts.BranchProtection = protection
		}
	}

	if files, err := f.files(ctx, owner, repo); err != nil {
		f.logger.Warnw("file facts unavailable", "repo", owner+"/"+repo, "error", err)
		facts.Missing = append(facts.Missing, models.FactFiles)
	} else {
		facts.Files = files
	}

	if workflows, err := f.workflows(ctx, owner, repo); err != nil {
		f.logger.Warnw("workflow facts unavailable", "repo", owner+"/"+repo, "error", err)
		facts.Missing = append(facts.Missing, models.FactWorkflows)
	} else {
		facts.Workflows = workflows
	}

	if security, err := f.security(ctx, owner, repo); err != nil {
		f.logger.Warnw("security facts unavailable", "repo", owner+"/"+repo, "error", err)
		facts.Missing = append(facts.Missing, models.FactSecurity)
	} else {
		facts.Security = security
	}

	return facts, nil
}

func (f *Fetcher) settings(ctx context.Context, owner, repo string) (*models.SettingsFacts, error) {
	var out models.SettingsFacts
	err := f.cached(ctx, cache.Fingerprint("settings", owner, repo), &out, func(ctx context.Context) (interface{}, error) {
		var repoInfo *github.Repository
		err := f.exec.Execute(ctx, "repos.get", func(ctx context.Context) (*github.Response, error) {
			var resp *github.Response
			var err error
			repoInfo, resp, err = f.api.Repository(ctx, owner, repo)
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		return mapSettings(repoInfo), nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *Fetcher) branchProtection(ctx context.Context, owner, repo, branch string) (*models.BranchProtectionFacts, error) {
	var out models.BranchProtectionFacts
	err := f.cached(ctx, cache.Fingerprint("branch_protection", owner, repo, branch), &out, func(ctx context.Context) (interface{}, error) {
		var protection *github.Protection
		err := f.exec.Execute(ctx, "repos.branch_protection", func(ctx context.Context) (*github.Response, error) {
			var resp *github.Response
			var err error
			protection, resp, err = f.api.BranchProtection(ctx, owner, repo, branch)
			return resp, err
		})
		if err != nil {
			var notFound *models.NotFoundError
			if errors.As(err, &notFound) {
				// No protection rule on the branch: valid data, not a
				// fetch failure.
				return &models.BranchProtectionFacts{Enabled: false}, nil
			}
			return nil, err
		}

		bp := mapProtection(protection)

		// Commit signature requirement lives behind its own endpoint;
		// treat failures as "not required" rather than losing the
		// whole category.
		var signatures *github.SignaturesProtectedBranch
		sigErr := f.exec.Execute(ctx, "repos.signatures_protected", func(ctx context.Context) (*github.Response, error) {
			var resp *github.Response
			var err error
			signatures, resp, err = f.api.SignaturesProtected(ctx, owner, repo, branch)
			return resp, err
		})
		if sigErr == nil && signatures != nil {
			bp.RequiredSignatures = signatures.GetEnabled()
		}
		return bp, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *Fetcher) files(ctx context.Context, owner, repo string) (*models.FileFacts, error) {
	var out models.FileFacts
	err := f.cached(ctx, cache.Fingerprint("files", owner, repo), &out, func(ctx context.Context) (interface{}, error) {
		root, err := f.listDir(ctx, owner, repo, "/")
		if err != nil {
			return nil, err
		}
		dotGithub, err := f.listDir(ctx, owner, repo, ".github")
		if err != nil {
			var notFound *models.NotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
			dotGithub = nil // no .github directory
		}
		return mapFiles(root, dotGithub), nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *Fetcher) listDir(ctx context.Context, owner, repo, path string) ([]*github.RepositoryContent, error) {
	var dir []*github.RepositoryContent
	err := f.exec.Execute(ctx, "repos.contents", func(ctx context.Context) (*github.Response, error) {
		var resp *github.Response
		var err error
		dir, resp, err = f.api.Contents(ctx, owner, repo, path)
		return resp, err
	})
	return dir, err
}

func (f *Fetcher) workflows(ctx context.Context, owner, repo string) (*models.WorkflowFacts, error) {
	var out models.WorkflowFacts
	err := f.cached(ctx, cache.Fingerprint("workflows", owner, repo), &out, func(ctx context.Context) (interface{}, error) {
		var workflows *github.Workflows
		err := f.exec.Execute(ctx, "actions.list_workflows", func(ctx context.Context) (*github.Response, error) {
			var resp *github.Response
			var err error
			workflows, resp, err = f.api.Workflows(ctx, owner, repo)
			return resp, err
		})
		if err != nil {
			return nil, err
		}
		return mapWorkflows(workflows), nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *Fetcher) security(ctx context.Context, owner, repo string) (*models.SecurityFacts, error) {
	var out models.SecurityFacts
	err := f.cached(ctx, cache.Fingerprint("security", owner, repo), &out, func(ctx context.Context) (interface{}, error) {
		var enabled bool
		err := f.exec.Execute(ctx, "repos.vulnerability_alerts", func(ctx context.Context) (*github.Response, error) {
			var resp *github.Response
			var err error
			enabled, resp, err = f.api.VulnerabilityAlertsEnabled(ctx, owner, repo)
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		sec := &models.SecurityFacts{VulnerabilityAlertsEnabled: enabled}

		var alerts []*github.Alert
		alertErr := f.exec.Execute(ctx, "code_scanning.list_alerts", func(ctx context.Context) (*github.Response, error) {
			var resp *github.Response
			var err error
			alerts, resp, err = f.api.CodeScanningAlerts(ctx, owner, repo)
			return resp, err
		})
		if alertErr != nil {
			// Code scanning is commonly disabled; 404 here means zero
			// alerts, anything else loses only the counts.
			var notFound *models.NotFoundError
			if !errors.As(alertErr, &notFound) {
				f.logger.Debugw("code scanning alerts unavailable", "repo", owner+"/"+repo, "error", alertErr)
			}
			return sec, nil
		}
		countAlerts(sec, alerts)
		return sec, nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// cached runs build through the tiered cache, (de)serializing the
// normalized facts as the opaque cache payload.
func (f *Fetcher) cached(ctx context.Context, key string, out interface{}, build func(ctx context.Context) (interface{}, error)) error {
	payload, err := f.cache.GetOrFetch(ctx, key, f.ttl, func(ctx context.Context) ([]byte, error) {
		v, err := build(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, out)
}

func mapSettings(r *github.Repository) *models.SettingsFacts {
	return &models.SettingsFacts{
		Private:             r.GetPrivate(),
		Archived:            r.GetArchived(),
		Visibility:          r.GetVisibility(),
		DefaultBranch:       r.GetDefaultBranch(),
		HasIssues:           r.GetHasIssues(),
		HasWiki:             r.GetHasWiki(),
		DeleteBranchOnMerge: r.GetDeleteBranchOnMerge(),
		HasLicense:          r.GetLicense() != nil,
	}
}

func mapProtection(p *github.Protection) *models.BranchProtectionFacts {
	bp := &models.BranchProtectionFacts{Enabled: true}
	if reviews := p.GetRequiredPullRequestReviews(); reviews != nil {
		bp.RequiredReviews = reviews.RequiredApprovingReviewCount
		bp.RequireCodeOwnerReviews = reviews.RequireCodeOwnerReviews
		bp.DismissStaleReviews = reviews.DismissStaleReviews
	}
	if admins := p.GetEnforceAdmins(); admins != nil {
		bp.EnforceAdmins = admins.Enabled
	}
	if checks := p.RequiredStatusChecks; checks != nil {
		bp.RequiredStatusChecks = true
		bp.StrictStatusChecks = checks.Strict
	}
	if force := p.GetAllowForcePushes(); force != nil {
		bp.AllowForcePushes = force.Enabled
	}
	if deletions := p.GetAllowDeletions(); deletions != nil {
		bp.AllowDeletions = deletions.Enabled
	}
	return bp
}

func mapFiles(root, dotGithub []*github.RepositoryContent) *models.FileFacts {
	files := &models.FileFacts{}
	mark := func(name string) {
		lower := strings.ToLower(name)
		switch {
		case strings.HasPrefix(lower, "readme"):
			files.HasReadme = true
		case strings.HasPrefix(lower, "license") || strings.HasPrefix(lower, "copying"):
			files.HasLicense = true
		case lower == "codeowners":
			files.HasCodeowners = true
		case lower == "security.md":
			files.HasSecurityPolicy = true
		case strings.HasPrefix(lower, "contributing"):
			files.HasContributing = true
		case lower == "dependabot.yml" || lower == "dependabot.yaml":
			files.HasDependabotConfig = true
		}
	}
	for _, c := range root {
		mark(c.GetName())
	}
	for _, c := range dotGithub {
		mark(c.GetName())
	}
	return files
}

// ciNameHints marks a workflow as CI when its name or file matches one
// of these fragments.
var ciNameHints = []string{"ci", "build", "test"}

func mapWorkflows(w *github.Workflows) *models.WorkflowFacts {
	facts := &models.WorkflowFacts{Count: w.GetTotalCount()}
	for _, wf := range w.Workflows {
		name := wf.GetName()
		facts.Names = append(facts.Names, name)
		lowerName := strings.ToLower(name)
		lowerPath := strings.ToLower(wf.GetPath())
		for _, hint := range ciNameHints {
			if strings.Contains(lowerName, hint) || strings.Contains(lowerPath, hint) {
				facts.HasCIWorkflow = true
				break
			}
		}
	}
	return facts
}

func countAlerts(sec *models.SecurityFacts, alerts []*github.Alert) {
	for _, alert := range alerts {
		sec.OpenAlertsTotal++
		switch strings.ToLower(alert.GetRule().GetSecuritySeverityLevel()) {
		case "critical":
			sec.OpenAlertsCritical++
		case "high":
			sec.OpenAlertsHigh++
		case "medium":
			sec.OpenAlertsMedium++
		case "low":
			sec.OpenAlertsLow++
		}
	}
}
