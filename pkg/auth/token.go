// Package auth owns the GitHub App installation token lifecycle. The
// long-lived signing key never leaves this package; callers only ever see
// short-lived installation tokens through the Transport.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v45/github"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/your-org/repo-governor/pkg/metrics"
	"github.com/your-org/repo-governor/pkg/models"
)

// MintFunc performs one credential exchange with the upstream authority
// and returns a fresh installation token with its expiry.
type MintFunc func(ctx context.Context) (token string, expiresAt time.Time, err error)

// TokenAuthority caches the current installation token and refreshes it
// before it enters the safety margin of its expiry. Refresh is
// single-flight: concurrent callers during a refresh await one mint.
type TokenAuthority struct {
	mint    MintFunc
	margin  time.Duration
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	group singleflight.Group

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// NewTokenAuthority builds an authority that mints installation tokens
// through the GitHub Apps API, authenticating with an app JWT signed by
// the private key at keyPath.
func NewTokenAuthority(appID, installationID int64, keyPath, baseURL string, margin time.Duration, logger *zap.SugaredLogger, m *metrics.Metrics) (*TokenAuthority, error) {
	if appID == 0 || installationID == 0 {
		return nil, &models.ValidationError{Field: "github credentials", Reason: "app ID and installation ID are required"}
	}
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, &models.ValidationError{Field: "private key", Reason: fmt.Sprintf("cannot read %s: %v", keyPath, err)}
	}

	atr, err := ghinstallation.NewAppsTransport(http.DefaultTransport, appID, key)
	if err != nil {
		return nil, &models.ValidationError{Field: "private key", Reason: err.Error()}
	}

	client, err := newAppsClient(&http.Client{Transport: atr, Timeout: 30 * time.Second}, baseURL)
	if err != nil {
		return nil, err
	}

	mint := func(ctx context.Context) (string, time.Time, error) {
		it, _, err := client.Apps.CreateInstallationToken(ctx, installationID, nil)
		if err != nil {
			return "", time.Time{}, err
		}
		return it.GetToken(), it.GetExpiresAt(), nil
	}

	logger.Infow("token authority initialized", "app_id", appID, "installation_id", installationID)
	authority := NewTokenAuthorityWithMint(mint, margin, logger)
	if m != nil {
		authority.metrics = m
	}
	return authority, nil
}

// NewTokenAuthorityWithMint builds an authority around an arbitrary mint
// function. Used directly in tests.
func NewTokenAuthorityWithMint(mint MintFunc, margin time.Duration, logger *zap.SugaredLogger) *TokenAuthority {
	if margin <= 0 {
		margin = 60 * time.Second
	}
	return &TokenAuthority{
		mint:    mint,
		margin:  margin,
		logger:  logger,
		metrics: metrics.NewUnregistered(),
	}
}

func newAppsClient(httpClient *http.Client, baseURL string) (*github.Client, error) {
	if baseURL == "" || baseURL == "https://api.github.com/" {
		return github.NewClient(httpClient), nil
	}
	endpoint, err := url.Parse(baseURL)
	if err != nil {
		return nil, &models.ValidationError{Field: "base URL", Reason: err.Error()}
	}
	client, err := github.NewEnterpriseClient(endpoint.String(), endpoint.String(), httpClient)
	if err != nil {
		return nil, &models.ValidationError{Field: "base URL", Reason: err.Error()}
	}
	return client, nil
}

// Token returns a valid installation token, minting a replacement when
// the cached one is absent or within the safety margin of expiry. The
// returned token is never closer than the margin to its expiry.
func (a *TokenAuthority) Token(ctx context.Context) (string, error) {
	a.mu.RLock()
	token, ok := a.current(time.Now())
	a.mu.RUnlock()
	if ok {
		return token, nil
	}

	v, err, _ := a.group.Do("token", func() (interface{}, error) {
		// Another caller may have completed the refresh while this one
		// waited on the group.
		a.mu.RLock()
		token, ok := a.current(time.Now())
		a.mu.RUnlock()
		if ok {
			return token, nil
		}

		fresh, expiresAt, err := a.mint(ctx)
		if err != nil {
			return nil, &models.AuthError{Reason: "installation token exchange failed", Err: err}
		}
		if time.Until(expiresAt) <= a.margin {
			return nil, &models.AuthError{Reason: fmt.Sprintf("minted token expires too soon (%s)", expiresAt.Format(time.RFC3339))}
		}

		a.mu.Lock()
		a.token = fresh
		a.expiresAt = expiresAt
		a.mu.Unlock()

		a.metrics.TokenRefreshes.Inc()
		a.logger.Debugw("installation token refreshed", "expires_at", expiresAt)
		return fresh, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// current returns the cached token when it is still outside the safety
// margin. Callers must hold at least the read lock.
func (a *TokenAuthority) current(now time.Time) (string, bool) {
	if a.token == "" || a.expiresAt.Sub(now) <= a.margin {
		return "", false
	}
	return a.token, true
}

// Transport is an http.RoundTripper that attaches the current
// installation token to each request. It is the only way tokens leave
// the authority.
type Transport struct {
	authority *TokenAuthority
	base      http.RoundTripper
}

// NewTransport wraps base with installation-token authentication.
func NewTransport(authority *TokenAuthority, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{authority: authority, base: base}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.authority.Token(req.Context())
	if err != nil {
		return nil, err
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "token "+token)
	return t.base.RoundTrip(clone)
}

// NewInstallationClient builds a go-github client whose requests carry
// installation tokens from the authority.
func NewInstallationClient(authority *TokenAuthority, baseURL string) (*github.Client, error) {
	httpClient := &http.Client{
		Transport: NewTransport(authority, http.DefaultTransport),
		Timeout:   30 * time.Second,
	}
	if baseURL != "" && baseURL != "https://api.github.com/" {
		base := strings.TrimSuffix(baseURL, "/") + "/"
		return github.NewEnterpriseClient(base, base, httpClient)
	}
	return github.NewClient(httpClient), nil
}
