package facts

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v45/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/repo-governor/pkg/cache"
	"github.com/your-org/repo-governor/pkg/executor"
	"github.com/your-org/repo-governor/pkg/models"
)

type fakeAPI struct {
	repo          *github.Repository
	repoErr       error
	protection    *github.Protection
	protectionErr error
	root          []*github.RepositoryContent
	rootErr       error
	dotGithub     []*github.RepositoryContent
	dotGithubErr  error
	workflows     *github.Workflows
	workflowsErr  error
	vulnEnabled   bool
	vulnErr       error
	alerts        []*github.Alert
	alertsErr     error

	repoCalls int32
}

func ok() *github.Response {
	return &github.Response{Response: &http.Response{StatusCode: http.StatusOK}}
}

func notFoundErr(path string) error {
	return &github.ErrorResponse{
		Response: &http.Response{
			StatusCode: http.StatusNotFound,
			Request:    &http.Request{Method: "GET", URL: &url.URL{Path: path}},
		},
		Message: "Not Found",
	}
}

func (f *fakeAPI) Repository(ctx context.Context, owner, repo string) (*github.Repository, *github.Response, error) {
	atomic.AddInt32(&f.repoCalls, 1)
	return f.repo, ok(), f.repoErr
}

func (f *fakeAPI) BranchProtection(ctx context.Context, owner, repo, branch string) (*github.Protection, *github.Response, error) {
	return f.protection, ok(), f.protectionErr
}

func (f *fakeAPI) SignaturesProtected(ctx context.Context, owner, repo, branch string) (*github.SignaturesProtectedBranch, *github.Response, error) {
	return &github.SignaturesProtectedBranch{Enabled: github.Bool(false)}, ok(), nil
}

func (f *fakeAPI) Contents(ctx context.Context, owner, repo, path string) ([]*github.RepositoryContent, *github.Response, error) {
	if path == ".github" {
		return f.dotGithub, ok(), f.dotGithubErr
	}
	return f.root, ok(), f.rootErr
}

func (f *fakeAPI) Workflows(ctx context.Context, owner, repo string) (*github.Workflows, *github.Response, error) {
	return f.workflows, ok(), f.workflowsErr
}

func (f *fakeAPI) VulnerabilityAlertsEnabled(ctx context.Context, owner, repo string) (bool, *github.Response, error) {
	return f.vulnEnabled, ok(), f.vulnErr
}

func (f *fakeAPI) CodeScanningAlerts(ctx context.Context, owner, repo string) ([]*github.Alert, *github.Response, error) {
	return f.alerts, ok(), f.alertsErr
}

func healthyAPI() *fakeAPI {
	return &fakeAPI{
		repo: &github.Repository{
			Private:       github.Bool(true),
			DefaultBranch: github.String("main"),
			Visibility:    github.String("private"),
			License:       &github.License{Key: github.String("mit")},
		},
		protection: &github.Protection{
			RequiredPullRequestReviews: &github.PullRequestReviewsEnforcement{
				RequiredApprovingReviewCount: 2,
				RequireCodeOwnerReviews:      true,
			},
			EnforceAdmins:        &github.AdminEnforcement{Enabled: true},
			RequiredStatusChecks: &github.RequiredStatusChecks{Strict: true},
		},
		root: []*github.RepositoryContent{
			{Name: github.String("README.md")},
			{Name: github.String("LICENSE")},
		},
		dotGithub: []*github.RepositoryContent{
			{Name: github.String("CODEOWNERS")},
			{Name: github.String("dependabot.yml")},
		},
		workflows: &github.Workflows{
			TotalCount: github.Int(2),
			Workflows: []*github.Workflow{
				{Name: github.String("CI"), Path: github.String(".github/workflows/ci.yml")},
				{Name: github.String("Release"), Path: github.String(".github/workflows/release.yml")},
			},
		},
		vulnEnabled: true,
		alerts: []*github.Alert{
			{Rule: &github.Rule{SecuritySeverityLevel: github.String("critical")}},
			{Rule: &github.Rule{SecuritySeverityLevel: github.String("low")}},
		},
	}
}

func newTestFetcher(api API) *Fetcher {
	logger := zap.NewNop().Sugar()
	exec := executor.New(executor.Config{RequestsPerSecond: 10000, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, MaxAttempts: 2}, logger, nil)
	tiered := cache.New(nil, time.Minute, logger, nil)
	return NewFetcher(api, exec, tiered, time.Hour, logger)
}

func TestFetchAssemblesAllCategories(t *testing.T) {
	f := newTestFetcher(healthyAPI())

	facts, err := f.Fetch(context.Background(), "acme", "api")
	require.NoError(t, err)

	require.NotNil(t, facts.Settings)
	assert.True(t, facts.Settings.Private)
	assert.Equal(t, "main", facts.Settings.DefaultBranch)
	assert.True(t, facts.Settings.HasLicense)

	require.NotNil(t, facts.BranchProtection)
	assert.True(t, facts.BranchProtection.Enabled)
	assert.Equal(t, 2, facts.BranchProtection.RequiredReviews)
	assert.True(t, facts.BranchProtection.EnforceAdmins)
	assert.True(t, facts.BranchProtection.StrictStatusChecks)

	require.NotNil(t, facts.Files)
	assert.True(t, facts.Files.HasReadme)
	assert.True(t, facts.Files.HasLicense)
	assert.True(t, facts.Files.HasCodeowners)
	assert.True(t, facts.Files.HasDependabotConfig)

	require.NotNil(t, facts.Workflows)
	assert.Equal(t, 2, facts.Workflows.Count)
	assert.True(t, facts.Workflows.HasCIWorkflow)

	require.NotNil(t, facts.Security)
	assert.True(t, facts.Security.VulnerabilityAlertsEnabled)
	assert.Equal(t, 1, facts.Security.OpenAlertsCritical)
	assert.Equal(t, 1, facts.Security.OpenAlertsLow)
	assert.Equal(t, 2, facts.Security.OpenAlertsTotal)

	assert.Empty(t, facts.Missing)
}

func TestFetchUnknownRepositorySurfacesNotFound(t *testing.T) {
	api := healthyAPI()
	api.repo = nil
	api.repoErr = notFoundErr("/repos/acme/gone")

	f := newTestFetcher(api)
	_, err := f.Fetch(context.Background(), "acme", "gone")

	var notFound *models.NotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Contains(t, notFound.Error(), "acme/gone")
}

func TestFetchUnprotectedBranchIsValidData(t *testing.T) {
	api := healthyAPI()
	api.protection = nil
	api.protectionErr = notFoundErr("/repos/acme/api/branches/main/protection")

	f := newTestFetcher(api)
	facts, err := f.Fetch(context.Background(), "acme", "api")
	require.NoError(t, err)

	require.NotNil(t, facts.BranchProtection)
	assert.False(t, facts.BranchProtection.Enabled)
	assert.NotContains(t, facts.Missing, models.FactBranchProtection)
}

func TestFetchCategoryFailureIsIsolated(t *testing.T) {
	api := healthyAPI()
	api.workflowsErr = errors.New("connection reset")

	f := newTestFetcher(api)
	facts, err := f.Fetch(context.Background(), "acme", "api")
	require.NoError(t, err)

	assert.Nil(t, facts.Workflows)
	assert.Contains(t, facts.Missing, models.FactWorkflows)
	assert.NotNil(t, facts.Settings)
	assert.NotNil(t, facts.Files)
	assert.NotNil(t, facts.Security)
}

func TestFetchServesRepeatLookupsFromCache(t *testing.T) {
	api := healthyAPI()
	f := newTestFetcher(api)

	_, err := f.Fetch(context.Background(), "acme", "api")
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), "acme", "api")
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&api.repoCalls))
}

func TestFetchMissingDotGithubDirectory(t *testing.T) {
	api := healthyAPI()
	api.dotGithub = nil
	api.dotGithubErr = notFoundErr("/repos/acme/api/contents/.github")

	f := newTestFetcher(api)
	facts, err := f.Fetch(context.Background(), "acme", "api")
	require.NoError(t, err)

	require.NotNil(t, facts.Files)
	assert.True(t, facts.Files.HasReadme)
	assert.False(t, facts.Files.HasCodeowners)
}
