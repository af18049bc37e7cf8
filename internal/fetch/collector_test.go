package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback)       { s.onError = cb }

func TestConfigureHooks(t *testing.T) {
	t.Parallel()

	var (
		result   attemptResult
		fetchErr error
	)
	hooks := &stubHooks{}
	configureHooks(hooks, &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{StatusCode: http.StatusForbidden, Body: []byte("denied")})
	assert.Equal(t, http.StatusForbidden, result.status)
	assert.Equal(t, "denied", string(result.body))

	hooks.onError(&colly.Response{StatusCode: http.StatusBadGateway}, errors.New("boom"))
	assert.Equal(t, http.StatusBadGateway, result.status)
	require.EqualError(t, fetchErr, "boom")
}

func TestNewCollectorCopiesSessionClient(t *testing.T) {
	t.Parallel()

	sess := newSession(t, "http://a.onion/")
	f := New(Config{Timeout: 7 * time.Second}, nil)

	ctx := context.Background()
	c := f.newCollector(ctx, sess)
	assert.Equal(t, sess.UserAgent(), c.UserAgent)
	assert.True(t, c.AllowURLRevisit)
	assert.True(t, c.ParseHTTPErrorResponse)
	assert.True(t, c.DetectCharset)
	assert.Equal(t, ctx, c.Context)
	// The shared session client keeps its own timeout.
	assert.Zero(t, sess.Client().Timeout)
}

func TestSettlePrefersCompletedVisitOverCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan error, 1)
	done <- nil
	result := attemptResult{status: http.StatusOK, body: []byte("<html>p</html>")}
	var fetchErr error

	got, err := settle(ctx, done, &result, &fetchErr)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, got.status)
	assert.Equal(t, "<html>p</html>", string(got.body))
}

func TestSettleReportsCancelWhileVisitRuns(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var (
		result   attemptResult
		fetchErr error
	)
	_, err := settle(ctx, make(chan error), &result, &fetchErr)
	require.ErrorIs(t, err, context.Canceled)
}

func TestAttemptTranscodesLatin1Pages(t *testing.T) {
	t.Parallel()

	// ISO-8859-1 text, repeated so the sniffer has enough to go on.
	latin1 := strings.Repeat("<p>Le caf\xe9 cr\xe8me co\xfbte tr\xe8s cher \xe0 Paris.</p>", 20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/declared" {
			w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		} else {
			w.Header().Set("Content-Type", "text/html")
		}
		_, _ = w.Write([]byte("<html><body>" + latin1 + "</body></html>"))
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second}, nil)
	sess := newSession(t, srv.URL)
	for _, path := range []string{"/declared", "/sniffed"} {
		res, err := f.attempt(context.Background(), sess, srv.URL+path)
		require.NoError(t, err, path)
		assert.True(t, utf8.Valid(res.body), path)
		assert.Contains(t, string(res.body), "caf\u00e9 cr\u00e8me", path)
	}
}
