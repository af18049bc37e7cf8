package session

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func originOf(t *testing.T, raw string) crawler.Origin {
	t.Helper()
	o, err := crawler.OriginOf(raw)
	require.NoError(t, err)
	return o
}

func TestSessionReplaysCookiesAndUserAgent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie := ""
		if c, err := r.Cookie("cf_clearance"); err == nil {
			cookie = c.Value
		}
		_, _ = io.WriteString(w, r.Header.Get("User-Agent")+"|"+cookie)
	}))
	defer srv.Close()

	sess, err := New(originOf(t, srv.URL), []*http.Cookie{{Name: "cf_clearance", Value: "token-1"}}, Settings{TLSVerify: true}, ReasonInitial)
	require.NoError(t, err)

	resp, err := sess.Client().Get(srv.URL + "/cat1")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, DefaultUserAgent+"|token-1", string(body))
	assert.Equal(t, ReasonInitial, sess.Reason())
	assert.Len(t, sess.Cookies(), 1)
}

func TestSessionDecodesCompressedBodies(t *testing.T) {
	t.Parallel()

	const page = "<html><body>listing</body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		switch r.URL.Path {
		case "/gzip":
			zw := gzip.NewWriter(&buf)
			_, _ = zw.Write([]byte(page))
			_ = zw.Close()
			w.Header().Set("Content-Encoding", "gzip")
		case "/br":
			bw := brotli.NewWriter(&buf)
			_, _ = bw.Write([]byte(page))
			_ = bw.Close()
			w.Header().Set("Content-Encoding", "br")
		case "/deflate":
			zw := zlib.NewWriter(&buf)
			_, _ = zw.Write([]byte(page))
			_ = zw.Close()
			w.Header().Set("Content-Encoding", "deflate")
		case "/raw-deflate":
			fw, _ := flate.NewWriter(&buf, flate.DefaultCompression)
			_, _ = fw.Write([]byte(page))
			_ = fw.Close()
			w.Header().Set("Content-Encoding", "deflate")
		default:
			buf.WriteString(page)
		}
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	sess, err := New(originOf(t, srv.URL), nil, Settings{TLSVerify: true}, ReasonInitial)
	require.NoError(t, err)

	for _, path := range []string{"/gzip", "/br", "/deflate", "/raw-deflate", "/plain"} {
		resp, err := sess.Client().Get(srv.URL + path)
		require.NoError(t, err, path)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err, path)
		require.NoError(t, resp.Body.Close())
		assert.Equal(t, page, string(body), path)
		assert.Empty(t, resp.Header.Get("Content-Encoding"), path)
	}
}

func TestSessionRoutesThroughHTTPProxy(t *testing.T) {
	t.Parallel()

	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "via proxy to "+r.URL.Host)
	}))
	defer proxySrv.Close()

	endpoint := proxySrv.Listener.Addr().String()
	sess, err := New(crawler.Origin{Scheme: "http", Host: "a.onion"}, nil, Settings{
		Proxy:     ProxyConfig{Mode: ProxyModeHTTP, Endpoint: endpoint},
		TLSVerify: true,
	}, ReasonInitial)
	require.NoError(t, err)

	resp, err := sess.Client().Get("http://a.onion/cat1")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, "via proxy to a.onion", string(body))
}

func TestNewRequiresOrigin(t *testing.T) {
	t.Parallel()

	_, err := New(crawler.Origin{}, nil, Settings{}, ReasonInitial)
	require.Error(t, err)
}

func TestBaseTransportHonoursTLSAndSOCKS(t *testing.T) {
	t.Parallel()

	transport, err := newBaseTransport(Settings{
		Proxy:     ProxyConfig{Mode: ProxyModeSOCKS5, Endpoint: DefaultSOCKS5ProxyEndpoint},
		TLSVerify: false,
	})
	require.NoError(t, err)
	assert.True(t, transport.TLSClientConfig.InsecureSkipVerify)
	assert.NotNil(t, transport.DialContext)
	assert.Nil(t, transport.Proxy)
}
