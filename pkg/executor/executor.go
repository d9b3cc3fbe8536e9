// Package executor wraps every upstream API call with the process-wide
// call policies: concurrency bounding, quota-budget cooldowns, circuit
// breaking, and retry with backoff. It owns no business data.
package executor

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/go-github/v45/github"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/your-org/repo-governor/pkg/metrics"
	"github.com/your-org/repo-governor/pkg/models"
)

// CallFunc performs one upstream request. The returned response carries
// the quota headers the executor tracks; the response body is consumed
// by the caller's closure.
type CallFunc func(ctx context.Context) (*github.Response, error)

// Config shapes the executor's policies. Zero fields fall back to the
// defaults applied by New.
type Config struct {
	// MaxConcurrent bounds in-flight upstream calls process-wide.
	MaxConcurrent int64
	// RequestsPerSecond is the client-side steady-state call rate.
	RequestsPerSecond float64
	// MaxAttempts bounds retries of transient failures.
	MaxAttempts int
	// InitialBackoff and MaxBackoff bound the exponential retry delays.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// CallTimeout bounds one attempt, waits included.
	CallTimeout time.Duration
	// MaxRateLimitWait caps the single wait-until-reset the executor is
	// allowed per call when the upstream rejects for quota exhaustion.
	MaxRateLimitWait time.Duration
	// LowWaterMark and Cooldown throttle proactively when the upstream's
	// remaining quota runs low.
	LowWaterMark int
	Cooldown     time.Duration
	// BreakerFailures trips the circuit after that many consecutive
	// transient failures.
	BreakerFailures uint32
}

func (c *Config) applyDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 15
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 15 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.MaxRateLimitWait <= 0 {
		c.MaxRateLimitWait = 2 * time.Minute
	}
	if c.LowWaterMark <= 0 {
		c.LowWaterMark = 100
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
}

// Executor applies the call policies. Safe for concurrent use.
type Executor struct {
	cfg     Config
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	mu        sync.Mutex
	remaining int
	resetAt   time.Time
	budgetSet bool
}

// New builds an executor with the given policies.
func New(cfg Config, logger *zap.SugaredLogger, m *metrics.Metrics) *Executor {
	cfg.applyDefaults()
	if m == nil {
		m = metrics.NewUnregistered()
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "upstream",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		Timeout: 30 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnw("circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})

	return &Executor{
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.MaxConcurrent)),
		breaker: breaker,
		logger:  logger,
		metrics: m,
	}
}

// Execute runs call under the executor's policies. Transient failures
// are retried with exponential backoff plus jitter; an explicit quota
// rejection is retried after at most one bounded wait for the declared
// reset; permanent failures propagate immediately as typed errors.
func (e *Executor) Execute(ctx context.Context, op string, call CallFunc) error {
	attempts := 0
	backoff := e.cfg.InitialBackoff
	waitedForReset := false

	for {
		if err := ctx.Err(); err != nil {
			return &models.TransientNetworkError{Attempts: attempts, Err: err}
		}
		if err := e.budgetCooldown(ctx); err != nil {
			return &models.TransientNetworkError{Attempts: attempts, Err: err}
		}

		attempts++
		err := e.attempt(ctx, call)
		if err == nil {
			return nil
		}

		var rateErr *models.RateLimitExceeded
		var transientErr *models.TransientNetworkError
		switch {
		case errors.As(err, &rateErr):
			if waitedForReset {
				e.logger.Warnw("rate limit hit twice in one call", "op", op, "reset_at", rateErr.ResetAt)
				return rateErr
			}
			wait := time.Until(rateErr.ResetAt)
			if wait > e.cfg.MaxRateLimitWait {
				e.logger.Warnw("rate limit reset beyond bounded wait", "op", op, "wait", wait)
				return rateErr
			}
			waitedForReset = true
			if wait > 0 {
				e.logger.Infow("waiting for rate limit reset", "op", op, "wait", wait.Round(time.Second))
				if err := sleepCtx(ctx, wait); err != nil {
					return rateErr
				}
			}

		case errors.As(err, &transientErr):
			if attempts >= e.cfg.MaxAttempts {
				return &models.TransientNetworkError{Attempts: attempts, Err: transientErr.Err}
			}
			delay := withJitter(backoff)
			e.logger.Debugw("retrying after transient failure", "op", op, "attempt", attempts, "delay", delay)
			if err := sleepCtx(ctx, delay); err != nil {
				return &models.TransientNetworkError{Attempts: attempts, Err: transientErr.Err}
			}
			if backoff *= 2; backoff > e.cfg.MaxBackoff {
				backoff = e.cfg.MaxBackoff
			}

		default:
			return err
		}
	}
}

// attempt performs one bounded call and returns a typed error.
func (e *Executor) attempt(ctx context.Context, call CallFunc) error {
	if err := e.limiter.Wait(ctx); err != nil {
		return &models.TransientNetworkError{Attempts: 1, Err: err}
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return &models.TransientNetworkError{Attempts: 1, Err: err}
	}
	defer e.sem.Release(1)

	e.metrics.UpstreamInFlight.Inc()
	defer e.metrics.UpstreamInFlight.Dec()

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	var resp *github.Response
	var callErr error
	_, brErr := e.breaker.Execute(func() (interface{}, error) {
		resp, callErr = call(callCtx)
		// Only transient failures count against the breaker; a 404 says
		// nothing about upstream health.
		if callErr != nil && isTransient(callErr) {
			return nil, callErr
		}
		return nil, nil
	})
	if resp != nil {
		e.observeRate(resp.Rate)
	}

	err := callErr
	if err == nil && brErr != nil {
		// Breaker is open: the call never ran.
		err = brErr
	}
	if err == nil {
		e.metrics.UpstreamRequests.WithLabelValues("ok").Inc()
		return nil
	}

	classified := e.classify(err)
	e.metrics.UpstreamRequests.WithLabelValues(outcomeLabel(classified)).Inc()
	return classified
}

// budgetCooldown inserts a delay before issuing calls when the observed
// remaining quota is under the low-water mark and the reset is still
// ahead.
func (e *Executor) budgetCooldown(ctx context.Context) error {
	e.mu.Lock()
	low := e.budgetSet && e.remaining < e.cfg.LowWaterMark && time.Now().Before(e.resetAt)
	remaining := e.remaining
	e.mu.Unlock()

	if !low {
		return nil
	}
	e.logger.Debugw("upstream quota low, cooling down", "remaining", remaining, "cooldown", e.cfg.Cooldown)
	return sleepCtx(ctx, e.cfg.Cooldown)
}

// observeRate records the remaining-quota signal from a response.
func (e *Executor) observeRate(r github.Rate) {
	if r.Limit == 0 && r.Remaining == 0 && r.Reset.Time.IsZero() {
		return
	}
	e.mu.Lock()
	e.remaining = r.Remaining
	e.resetAt = r.Reset.Time
	e.budgetSet = true
	e.mu.Unlock()
	e.metrics.RateRemaining.Set(float64(r.Remaining))
}

// classify maps raw call errors onto the engine's error taxonomy.
func (e *Executor) classify(err error) error {
	var rateLimit *github.RateLimitError
	if errors.As(err, &rateLimit) {
		e.observeRate(rateLimit.Rate)
		return &models.RateLimitExceeded{ResetAt: rateLimit.Rate.Reset.Time, Err: err}
	}

	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		reset := time.Now().Add(abuse.GetRetryAfter())
		return &models.RateLimitExceeded{ResetAt: reset, Err: err}
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusNotFound, http.StatusGone:
			return &models.NotFoundError{Resource: ghErr.Response.Request.URL.Path}
		case http.StatusUnauthorized, http.StatusForbidden:
			return &models.AuthError{Reason: "upstream rejected credentials", Err: err}
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return &models.ValidationError{Reason: err.Error()}
		}
		return &models.TransientNetworkError{Attempts: 1, Err: err}
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &models.TransientNetworkError{Attempts: 1, Err: err}
	}

	var authErr *models.AuthError
	if errors.As(err, &authErr) {
		return authErr
	}

	// Network errors, timeouts, cancellations.
	return &models.TransientNetworkError{Attempts: 1, Err: err}
}

func isTransient(err error) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode >= 500
	}
	var rateLimit *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &rateLimit) || errors.As(err, &abuse) {
		return false
	}
	var authErr *models.AuthError
	return !errors.As(err, &authErr)
}

func outcomeLabel(err error) string {
	switch err.(type) {
	case *models.RateLimitExceeded:
		return "rate_limited"
	case *models.NotFoundError:
		return "not_found"
	case *models.AuthError:
		return "auth_failed"
	case *models.ValidationError:
		return "invalid"
	default:
		return "transient"
	}
}

// withJitter spreads a delay over [d/2, d) so synchronized retries fan
// out.
func withJitter(d time.Duration) time.Duration {
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
