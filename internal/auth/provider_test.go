package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestStaticProviderHeaders(t *testing.T) {
	p := NewStaticProvider(map[string]string{"X-Api-Key": "abc"})

	headers, err := p.Headers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X-Api-Key": "abc"}, headers)

	require.NoError(t, p.Refresh(context.Background()))

	// Callers must not be able to mutate the provider's copy.
	headers["X-Api-Key"] = "mutated"
	again, err := p.Headers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abc", again["X-Api-Key"])
}

// countingSource hands out a new token per call so the test can observe
// caching and refresh behavior.
type countingSource struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return &oauth2.Token{
		AccessToken: "tok",
		TokenType:   "Bearer",
	}, nil
}

func (s *countingSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestTokenProviderCachesToken(t *testing.T) {
	source := &countingSource{}
	p := NewTokenProvider(source)

	headers, err := p.Headers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", headers["Authorization"])

	// A non-expiring token is reused, not refetched.
	_, err = p.Headers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, source.count())
}

func TestTokenProviderRefreshFetchesFreshToken(t *testing.T) {
	source := &countingSource{}
	p := NewTokenProvider(source)

	_, err := p.Headers(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Refresh(context.Background()))
	_, err = p.Headers(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, source.count())
}
