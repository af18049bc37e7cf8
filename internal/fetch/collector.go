package fetch

import (
	"context"
	"fmt"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/listing-crawler/internal/session"
)

type attemptResult struct {
	status int
	body   []byte
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// attempt runs one GET on a fresh collector. The collector borrows a shallow
// copy of the session client so the attempt timeout never leaks into the
// shared client.
func (f *Fetcher) attempt(ctx context.Context, sess *session.Session, rawURL string) (attemptResult, error) {
	var (
		result   attemptResult
		fetchErr error
	)
	collector := f.newCollector(ctx, sess)
	configureHooks(collector, &result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()
	return settle(ctx, done, &result, &fetchErr)
}

// settle waits for the visit to finish. A visit that has already completed
// wins over a cancellation that raced with it.
func settle(ctx context.Context, done <-chan error, result *attemptResult, fetchErr *error) (attemptResult, error) {
	var visitErr error
	select {
	case visitErr = <-done:
	case <-ctx.Done():
		select {
		case visitErr = <-done:
		default:
			return attemptResult{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
		}
	}
	if *fetchErr != nil {
		return *result, fmt.Errorf("colly response failed: %w", *fetchErr)
	}
	if visitErr != nil {
		return *result, fmt.Errorf("colly visit failed: %w", visitErr)
	}
	return *result, nil
}

func (f *Fetcher) newCollector(ctx context.Context, sess *session.Session) *colly.Collector {
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.UserAgent(sess.UserAgent()),
		colly.StdlibContext(ctx),
		// Bodies without a declared charset are sniffed and transcoded to UTF-8.
		colly.DetectCharset(),
	)
	// Non-200 statuses are reported as attempt failures by the caller.
	c.ParseHTTPErrorResponse = true

	client := *sess.Client()
	client.Timeout = f.cfg.Timeout
	c.SetClient(&client)
	return c
}

func configureHooks(hooks collectorHooks, result *attemptResult, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = attemptResult{
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result.status = r.StatusCode
		}
		*fetchErr = err
	})
}
