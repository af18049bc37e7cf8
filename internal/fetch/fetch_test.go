package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
	"github.com/JakeFAU/listing-crawler/internal/session"
)

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.delays = append(p.delays, d)
	p.mu.Unlock()
	return ctx.Err()
}

func (p *recordingPauser) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.delays)
}

type countingWaiter struct {
	calls atomic.Int32
}

func (w *countingWaiter) Wait(ctx context.Context, _ string) error {
	w.calls.Add(1)
	return ctx.Err()
}

// cookieBootstrapper issues sid=stale on the first bootstrap of an origin and
// sid=fresh on refreshes.
type cookieBootstrapper struct {
	mu      sync.Mutex
	reasons []string
	fail    error
}

func (b *cookieBootstrapper) Bootstrap(_ context.Context, seedURL, reason string) (*session.Session, error) {
	b.mu.Lock()
	b.reasons = append(b.reasons, reason)
	fail := b.fail
	b.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	origin, err := crawler.OriginOf(seedURL)
	if err != nil {
		return nil, err
	}
	value := "stale"
	if reason == session.ReasonRefresh {
		value = "fresh"
	}
	return session.New(origin, []*http.Cookie{{Name: "sid", Value: value, Path: "/"}}, session.Settings{TLSVerify: true}, reason)
}

func (b *cookieBootstrapper) bootstraps() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.reasons...)
}

func newSession(t *testing.T, rawURL string) *session.Session {
	t.Helper()
	origin, err := crawler.OriginOf(rawURL)
	require.NoError(t, err)
	sess, err := session.New(origin, nil, session.Settings{TLSVerify: true}, session.ReasonInitial)
	require.NoError(t, err)
	return sess
}

func statusServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := int(hits.Add(1))
		status := statuses[len(statuses)-1]
		if n <= len(statuses) {
			status = statuses[n-1]
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte("<html>page</html>"))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestFetchReturnsBodyOn200(t *testing.T) {
	t.Parallel()

	srv, hits := statusServer(t, http.StatusOK)
	f := New(Config{Timeout: 5 * time.Second}, nil, WithPauser(&recordingPauser{}))

	body, err := f.Fetch(context.Background(), newSession(t, srv.URL), srv.URL+"/shop", 3)
	require.NoError(t, err)
	assert.Equal(t, "<html>page</html>", string(body))
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchRetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	srv, hits := statusServer(t, http.StatusInternalServerError)
	pauser := &recordingPauser{}
	f := New(Config{Timeout: 5 * time.Second, RetryDelay: 5 * time.Second}, nil, WithPauser(pauser))

	body, err := f.Fetch(context.Background(), newSession(t, srv.URL), srv.URL+"/p/1", 4)
	require.Error(t, err)
	assert.Nil(t, body)
	assert.Equal(t, int32(4), hits.Load())
	assert.True(t, errors.Is(err, crawler.ErrTransientFetch))

	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 4, fetchErr.Attempts)
	assert.Equal(t, http.StatusInternalServerError, fetchErr.Status)

	// Constant delay between attempts, none after the last.
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, pauser.delays)
}

func TestFetchRecoversWithinBudget(t *testing.T) {
	t.Parallel()

	srv, hits := statusServer(t, http.StatusBadGateway, http.StatusNoContent, http.StatusOK)
	f := New(Config{}, nil, WithPauser(&recordingPauser{}))

	body, err := f.Fetch(context.Background(), newSession(t, srv.URL), srv.URL+"/p/1", 3)
	require.NoError(t, err)
	assert.NotEmpty(t, body)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchTransportErrorCountsAsAttempt(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	rawURL := srv.URL + "/p/1"
	sess := newSession(t, srv.URL)
	srv.Close()

	pauser := &recordingPauser{}
	f := New(Config{Timeout: time.Second}, nil, WithPauser(pauser))
	_, err := f.Fetch(context.Background(), sess, rawURL, 2)

	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 0, fetchErr.Status)
	assert.Equal(t, 2, fetchErr.Attempts)
	assert.Equal(t, 1, pauser.count())
}

func TestFetchRejectsSessionFromAnotherOrigin(t *testing.T) {
	t.Parallel()

	srv, hits := statusServer(t, http.StatusOK)
	f := New(Config{}, nil)

	_, err := f.Fetch(context.Background(), newSession(t, "http://other.onion/"), srv.URL+"/p/1", 3)
	require.Error(t, err)
	assert.False(t, errors.Is(err, crawler.ErrTransientFetch))
	assert.Equal(t, int32(0), hits.Load())
}

func TestFetchStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	srv, hits := statusServer(t, http.StatusOK)
	f := New(Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, newSession(t, srv.URL), srv.URL, 3)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), hits.Load())
}

func TestFetchWaitsOnLimiterEveryAttempt(t *testing.T) {
	t.Parallel()

	srv, _ := statusServer(t, http.StatusServiceUnavailable)
	waiter := &countingWaiter{}
	f := New(Config{}, nil, WithPauser(&recordingPauser{}), WithLimiter(waiter))

	_, err := f.Fetch(context.Background(), newSession(t, srv.URL), srv.URL, 3)
	require.Error(t, err)
	assert.Equal(t, int32(3), waiter.calls.Load())
}

func TestFetchWithRefreshAbandonsAfterOneExtraAttempt(t *testing.T) {
	t.Parallel()

	srv, hits := statusServer(t, http.StatusForbidden)
	boot := &cookieBootstrapper{}
	store := session.NewStore(boot, nil)
	f := New(Config{MaxAttempts: 3}, nil, WithPauser(&recordingPauser{}))

	_, err := f.FetchWithRefresh(context.Background(), store, srv.URL+"/shop/page/2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, crawler.ErrSessionExpired))
	assert.True(t, errors.Is(err, crawler.ErrTransientFetch))

	// k attempts, one re-bootstrap, exactly one more attempt.
	assert.Equal(t, int32(4), hits.Load())
	assert.Equal(t, []string{session.ReasonInitial, session.ReasonRefresh}, boot.bootstraps())
}

func TestFetchWithRefreshSucceedsWithFreshCookies(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if c, err := r.Cookie("sid"); err != nil || c.Value != "fresh" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("product"))
	}))
	t.Cleanup(srv.Close)

	boot := &cookieBootstrapper{}
	store := session.NewStore(boot, nil)
	f := New(Config{MaxAttempts: 2}, nil, WithPauser(&recordingPauser{}))

	body, err := f.FetchWithRefresh(context.Background(), store, srv.URL+"/product/1")
	require.NoError(t, err)
	assert.Equal(t, "product", string(body))
	assert.Equal(t, int32(3), hits.Load())

	origin, err := crawler.OriginOf(srv.URL)
	require.NoError(t, err)
	require.True(t, store.Has(origin))
}

func TestFetchWithRefreshSkipsRefreshOnSuccess(t *testing.T) {
	t.Parallel()

	srv, _ := statusServer(t, http.StatusOK)
	boot := &cookieBootstrapper{}
	store := session.NewStore(boot, nil)
	f := New(Config{}, nil)

	_, err := f.FetchWithRefresh(context.Background(), store, srv.URL+"/a")
	require.NoError(t, err)
	_, err = f.FetchWithRefresh(context.Background(), store, srv.URL+"/b")
	require.NoError(t, err)
	assert.Equal(t, []string{session.ReasonInitial}, boot.bootstraps())
}

func TestFetchWithRefreshReportsBootstrapFailure(t *testing.T) {
	t.Parallel()

	srv, hits := statusServer(t, http.StatusOK)
	boot := &cookieBootstrapper{fail: errors.New("browser crashed")}
	store := session.NewStore(boot, nil)
	f := New(Config{}, nil)

	_, err := f.FetchWithRefresh(context.Background(), store, srv.URL+"/a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, crawler.ErrBootstrap))
	assert.Equal(t, int32(0), hits.Load())
}
