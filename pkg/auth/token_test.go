package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/repo-governor/pkg/models"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestTokenIsCachedUntilMargin(t *testing.T) {
	var mints int32
	mint := func(ctx context.Context) (string, time.Time, error) {
		n := atomic.AddInt32(&mints, 1)
		return "token-" + string(rune('a'+n-1)), time.Now().Add(time.Hour), nil
	}

	authority := NewTokenAuthorityWithMint(mint, time.Minute, testLogger())

	first, err := authority.Token(context.Background())
	require.NoError(t, err)
	second, err := authority.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&mints))
}

func TestTokenRefreshesWithinSafetyMargin(t *testing.T) {
	var mints int32
	expiries := []time.Duration{90 * time.Second, time.Hour}
	mint := func(ctx context.Context) (string, time.Time, error) {
		n := atomic.AddInt32(&mints, 1)
		return "token-" + string(rune('0'+n)), time.Now().Add(expiries[n-1]), nil
	}

	// 2m margin: the first token (90s out) is already inside the margin
	// by the time a second call checks it.
	authority := NewTokenAuthorityWithMint(mint, 2*time.Minute, testLogger())

	_, err := authority.Token(context.Background())
	require.Error(t, err, "first mint is inside the margin and must be rejected")
	var authErr *models.AuthError
	assert.True(t, errors.As(err, &authErr))

	token, err := authority.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "token-2", token)
}

func TestTokenNeverReturnedInsideMargin(t *testing.T) {
	mint := func(ctx context.Context) (string, time.Time, error) {
		return "fresh", time.Now().Add(time.Hour), nil
	}
	authority := NewTokenAuthorityWithMint(mint, time.Minute, testLogger())

	token, err := authority.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)

	authority.mu.RLock()
	remaining := time.Until(authority.expiresAt)
	authority.mu.RUnlock()
	assert.Greater(t, remaining, time.Minute)
}

func TestConcurrentCallersShareOneMint(t *testing.T) {
	var mints int32
	mint := func(ctx context.Context) (string, time.Time, error) {
		atomic.AddInt32(&mints, 1)
		time.Sleep(20 * time.Millisecond) // hold the flight open
		return "shared", time.Now().Add(time.Hour), nil
	}
	authority := NewTokenAuthorityWithMint(mint, time.Minute, testLogger())

	const callers = 25
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = authority.Token(context.Background())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&mints))
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", tokens[i])
	}
}

func TestMintFailureSurfacesAsAuthError(t *testing.T) {
	mint := func(ctx context.Context) (string, time.Time, error) {
		return "", time.Time{}, errors.New("upstream said no")
	}
	authority := NewTokenAuthorityWithMint(mint, time.Minute, testLogger())

	_, err := authority.Token(context.Background())
	require.Error(t, err)

	var authErr *models.AuthError
	require.True(t, errors.As(err, &authErr))
	assert.Contains(t, authErr.Error(), "token exchange failed")
}
