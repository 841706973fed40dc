// Package auth supplies per-backend credentials for remote HTTP backends.
package auth

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
)

// Provider yields the HTTP headers a remote backend connection must carry.
// Implementations are safe for concurrent use.
type Provider interface {
	// Headers returns the headers for the next request batch.
	Headers(ctx context.Context) (map[string]string, error)
	// Refresh discards cached credentials and obtains fresh ones. Called
	// after an authentication failure before the single retry.
	Refresh(ctx context.Context) error
}

// StaticProvider serves a fixed header set, typically an API key. Refresh
// is a no-op since there is nothing to renew.
type StaticProvider struct {
	headers map[string]string
}

// NewStaticProvider creates a provider serving the given headers.
func NewStaticProvider(headers map[string]string) *StaticProvider {
	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}
	return &StaticProvider{headers: copied}
}

// Headers returns the configured header set.
func (p *StaticProvider) Headers(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(p.headers))
	for k, v := range p.headers {
		out[k] = v
	}
	return out, nil
}

// Refresh is a no-op for static credentials.
func (p *StaticProvider) Refresh(ctx context.Context) error {
	return nil
}

// TokenProvider serves bearer tokens from an OAuth2 token source, caching
// them until Refresh or expiry.
type TokenProvider struct {
	mu     sync.Mutex
	base   oauth2.TokenSource
	source oauth2.TokenSource
}

// NewTokenProvider creates a provider over the given token source. The
// source is wrapped in a reusing source so valid tokens are not refetched
// per request.
func NewTokenProvider(base oauth2.TokenSource) *TokenProvider {
	return &TokenProvider{
		base:   base,
		source: oauth2.ReuseTokenSource(nil, base),
	}
}

// Headers returns an Authorization header with the current bearer token.
func (p *TokenProvider) Headers(ctx context.Context) (map[string]string, error) {
	p.mu.Lock()
	source := p.source
	p.mu.Unlock()

	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}
	return map[string]string{
		"Authorization": token.Type() + " " + token.AccessToken,
	}, nil
}

// Refresh drops the cached token so the next Headers call fetches a fresh
// one from the underlying source.
func (p *TokenProvider) Refresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = oauth2.ReuseTokenSource(nil, p.base)
	return nil
}
