package frontier

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/fetch"
	"github.com/JakeFAU/listing-crawler/internal/links"
)

// PageFetcher fetches a page through its origin's session, refreshing the
// session once when needed. *fetch.Fetcher satisfies it.
type PageFetcher interface {
	FetchWithRefresh(ctx context.Context, provider fetch.Provider, rawURL string) ([]byte, error)
}

// ExtractFunc finds product and pagination links in a listing page.
type ExtractFunc func(doc []byte, baseURL string) links.Result

// Discovery is a product URL and the listing page it was found on.
type Discovery struct {
	ProductURL string
	Page       string
}

// WalkResult summarizes one category walk. PagesVisited counts pages that
// were fetched successfully; PagesDropped counts pages given up on.
type WalkResult struct {
	Products     []Discovery
	PagesVisited int
	PagesDropped int
}

// PageReport describes one page outcome. Err is nil for visited pages.
type PageReport struct {
	URL        string
	Products   int
	Pagination int
	Err        error
}

// Walker drives the BFS.
type Walker struct {
	fetcher PageFetcher
	extract ExtractFunc
	logger  *zap.Logger
	onPage  func(PageReport)
}

// WalkerOption customizes a Walker.
type WalkerOption func(*Walker)

// WithExtractor replaces links.Extract.
func WithExtractor(fn ExtractFunc) WalkerOption {
	return func(w *Walker) { w.extract = fn }
}

// WithPageHook is called after every page, visited or dropped.
func WithPageHook(fn func(PageReport)) WalkerOption {
	return func(w *Walker) { w.onPage = fn }
}

// NewWalker builds a Walker.
func NewWalker(fetcher PageFetcher, logger *zap.Logger, opts ...WalkerOption) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Walker{
		fetcher: fetcher,
		extract: links.Extract,
		logger:  logger,
		onPage:  func(PageReport) {},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Walk visits at most pageLimit pages reachable from seedURL through
// pagination links (pageLimit 0 means no bound). A page whose fetch still
// fails after the session refresh is dropped and the walk moves on. Walk
// returns early with ctx's error, along with everything found so far.
func (w *Walker) Walk(ctx context.Context, seedURL string, provider fetch.Provider, pageLimit int) (WalkResult, error) {
	var result WalkResult
	seed, err := crawler.NormalizeURL(seedURL)
	if err != nil {
		return result, fmt.Errorf("walk seed: %w", err)
	}
	if _, err := crawler.OriginOf(seed); err != nil {
		return result, fmt.Errorf("walk seed: %w", err)
	}
	if pageLimit < 0 {
		pageLimit = 0
	}

	f := New(seed)
	products := make(map[string]struct{})
	for f.Len() > 0 && (pageLimit == 0 || result.PagesVisited < pageLimit) {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		page, _ := f.Pop()

		body, err := w.fetcher.FetchWithRefresh(ctx, provider, page)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			result.PagesDropped++
			w.logger.Warn("dropping listing page",
				zap.String("page", page),
				zap.Bool("session_expired", errors.Is(err, crawler.ErrSessionExpired)),
				zap.Bool("bootstrap_failed", errors.Is(err, crawler.ErrBootstrap)),
				zap.Error(err),
			)
			w.onPage(PageReport{URL: page, Err: err})
			continue
		}
		result.PagesVisited++

		found := w.extract(body, page)
		added := 0
		for _, p := range found.Products {
			if _, ok := products[p]; ok {
				continue
			}
			products[p] = struct{}{}
			result.Products = append(result.Products, Discovery{ProductURL: p, Page: page})
			added++
		}
		queued := 0
		for _, next := range found.Pagination {
			// Same normal form as the seed, so one page is never queued twice.
			norm, err := crawler.NormalizeURL(next)
			if err != nil {
				w.logger.Debug("skipping pagination link", zap.String("link", next), zap.Error(err))
				continue
			}
			if f.Push(norm) {
				queued++
			}
		}
		w.logger.Info("listing page visited",
			zap.String("page", page),
			zap.Int("products", added),
			zap.Int("queued_pages", queued),
			zap.Int("pages_visited", result.PagesVisited),
		)
		w.onPage(PageReport{URL: page, Products: added, Pagination: queued})
	}
	return result, nil
}
