package orchestrator

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/fetch"
	"github.com/JakeFAU/listing-crawler/internal/session"
)

// guardedProvider remembers origins whose bootstrap failed during a run and
// refuses them afterwards, so one broken origin costs a single browser
// attempt per run instead of one per URL.
type guardedProvider struct {
	inner fetch.Provider

	mu     sync.Mutex
	failed map[crawler.Origin]error
}

func newGuardedProvider(inner fetch.Provider) *guardedProvider {
	return &guardedProvider{inner: inner, failed: make(map[crawler.Origin]error)}
}

func (g *guardedProvider) GetOrCreate(ctx context.Context, origin crawler.Origin, seedURL string) (*session.Session, error) {
	if err := g.failure(origin); err != nil {
		return nil, err
	}
	sess, err := g.inner.GetOrCreate(ctx, origin, seedURL)
	if err != nil && ctx.Err() == nil && errors.Is(err, crawler.ErrBootstrap) {
		g.mu.Lock()
		g.failed[origin] = err
		g.mu.Unlock()
	}
	return sess, err
}

func (g *guardedProvider) Invalidate(origin crawler.Origin) {
	g.inner.Invalidate(origin)
}

func (g *guardedProvider) failure(origin crawler.Origin) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failed[origin]
}

func (g *guardedProvider) failedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.failed)
}
