package session

import (
	"bufio"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

const acceptEncoding = "gzip, deflate, br"

func newBaseTransport(settings Settings) (*http.Transport, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !settings.TLSVerify, //nolint:gosec // operator opt-out for self-signed origins
			MinVersion:         tls.VersionTLS12,
		},
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 30 * time.Second,
		// decodingTransport negotiates and decodes encodings itself, brotli included.
		DisableCompression: true,
	}
	if err := settings.Proxy.apply(transport); err != nil {
		return nil, err
	}
	return transport, nil
}

// headerTransport pins the session user agent and preferred encodings on
// every request.
type headerTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	if t.userAgent != "" {
		clone.Header.Set("User-Agent", t.userAgent)
	}
	if clone.Header.Get("Accept-Encoding") == "" {
		clone.Header.Set("Accept-Encoding", acceptEncoding)
	}
	return t.base.RoundTrip(clone)
}

// decodingTransport transparently decodes gzip, deflate and br bodies.
type decodingTransport struct {
	base http.RoundTripper
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	var reader io.ReadCloser
	switch encoding {
	case "", "identity":
		return resp, nil
	case "gzip":
		gz, gzErr := gzip.NewReader(resp.Body)
		if gzErr != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("gzip decode: %w", gzErr)
		}
		reader = gz
	case "br":
		reader = io.NopCloser(brotli.NewReader(resp.Body))
	case "deflate":
		dr, dErr := deflateReader(resp.Body)
		if dErr != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("deflate decode: %w", dErr)
		}
		reader = dr
	default:
		return resp, nil
	}
	resp.Body = &decodedBody{Reader: reader, decoder: reader, raw: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return resp, nil
}

// deflateReader reads an HTTP "deflate" body. RFC 9110 defines it as a zlib
// stream, but some servers send raw DEFLATE, so the header decides.
func deflateReader(body io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(body)
	head, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(head) == 2 && isZlibHeader(head[0], head[1]) {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}

func isZlibHeader(cmf, flg byte) bool {
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

type decodedBody struct {
	io.Reader
	decoder io.Closer
	raw     io.Closer
}

func (b *decodedBody) Close() error {
	derr := b.decoder.Close()
	if err := b.raw.Close(); err != nil {
		return err
	}
	return derr
}
