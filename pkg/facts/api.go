package facts

import (
	"context"

	"github.com/google/go-github/v45/github"
)

// API is the slice of the upstream client the fetcher needs. Narrowed to
// an interface so tests can stand in for the GitHub API.
type API interface {
	Repository(ctx context.Context, owner, repo string) (*github.Repository, *github.Response, error)
	BranchProtection(ctx context.Context, owner, repo, branch string) (*github.Protection, *github.Response, error)
	SignaturesProtected(ctx context.Context, owner, repo, branch string) (*github.SignaturesProtectedBranch, *github.Response, error)
	Contents(ctx context.Context, owner, repo, path string) ([]*github.RepositoryContent, *github.Response, error)
	Workflows(ctx context.Context, owner, repo string) (*github.Workflows, *github.Response, error)
	VulnerabilityAlertsEnabled(ctx context.Context, owner, repo string) (bool, *github.Response, error)
	CodeScanningAlerts(ctx context.Context, owner, repo string) ([]*github.Alert, *github.Response, error)
}

// githubAPI adapts *github.Client to the API interface.
type githubAPI struct {
	client *github.Client
}

// NewAPI wraps a go-github client.
func NewAPI(client *github.Client) API {
	return &githubAPI{client: client}
}

func (g *githubAPI) Repository(ctx context.Context, owner, repo string) (*github.Repository, *github.Response, error) {
	return g.client.Repositories.Get(ctx, owner, repo)
}

func (g *githubAPI) BranchProtection(ctx context.Context, owner, repo, branch string) (*github.Protection, *github.Response, error) {
	return g.client.Repositories.GetBranchProtection(ctx, owner, repo, branch)
}

func (g *githubAPI) SignaturesProtected(ctx context.Context, owner, repo, branch string) (*github.SignaturesProtectedBranch, *github.Response, error) {
	return g.client.Repositories.GetSignaturesProtectedBranch(ctx, owner, repo, branch)
}

func (g *githubAPI) Contents(ctx context.Context, owner, repo, path string) ([]*github.RepositoryContent, *github.Response, error) {
	_, dir, resp, err := g.client.Repositories.GetContents(ctx, owner, repo, path, nil)
	return dir, resp, err
}

func (g *githubAPI) Workflows(ctx context.Context, owner, repo string) (*github.Workflows, *github.Response, error) {
	return g.client.Actions.ListWorkflows(ctx, owner, repo, &github.ListOptions{PerPage: 100})
}

func (g *githubAPI) VulnerabilityAlertsEnabled(ctx context.Context, owner, repo string) (bool, *github.Response, error) {
	return g.client.Repositories.GetVulnerabilityAlerts(ctx, owner, repo)
}

func (g *githubAPI) CodeScanningAlerts(ctx context.Context, owner, repo string) ([]*github.Alert, *github.Response, error) {
	return g.client.CodeScanning.ListAlertsForRepo(ctx, owner, repo, &github.AlertListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	})
}
