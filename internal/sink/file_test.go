package sink

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

func sampleRecords(n int) []crawler.ProductRecord {
	out := make([]crawler.ProductRecord, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, crawler.ProductRecord{
			Market:        "a.onion",
			Category:      "http://a.onion/cat",
			CategoryPage:  "http://a.onion/cat",
			ProductURL:    "http://a.onion/p/" + string(rune('a'+i)),
			FetchedAt:     1700000000 + int64(i),
			ContentSHA256: "deadbeef",
			HTML:          "<html></html>",
		})
	}
	return out
}

func testRun() crawler.RunInfo {
	return crawler.RunInfo{ID: "run-1", StartedAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.Local), State: crawler.RunStateRunning}
}

func TestFileSinkWritesNamedJSONArray(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFileSink(dir, "")
	require.NoError(t, err)

	uri, err := s.Write(context.Background(), testRun(), sampleRecords(2))
	require.NoError(t, err)

	want := filepath.Join(dir, "products_html_20260304_050607.json")
	assert.Equal(t, want, s.Path(testRun()))
	assert.True(t, strings.HasPrefix(uri, "file://"))
	assert.True(t, strings.HasSuffix(uri, "products_html_20260304_050607.json"))

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	var got []crawler.ProductRecord
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, sampleRecords(2), got)
}

func TestFileSinkKeepsMarkupUnescaped(t *testing.T) {
	t.Parallel()

	s, err := NewFileSink(t.TempDir(), "")
	require.NoError(t, err)
	records := sampleRecords(1)
	records[0].HTML = `<html><a href="/p?a=1&b=2">x</a></html>`
	_, err = s.Write(context.Background(), testRun(), records)
	require.NoError(t, err)

	data, err := os.ReadFile(s.Path(testRun()))
	require.NoError(t, err)
	assert.Contains(t, string(data), `<html><a href=\"/p?a=1&b=2\">x</a></html>`)
	assert.NotContains(t, string(data), `\u003c`)
	assert.True(t, strings.HasSuffix(string(data), "]\n"))
}

func TestFileSinkOverwritesWithoutLeftovers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFileSink(dir, "out")
	require.NoError(t, err)

	_, err = s.Write(context.Background(), testRun(), sampleRecords(3))
	require.NoError(t, err)
	_, err = s.Write(context.Background(), testRun(), sampleRecords(1))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(s.Path(testRun()))
	require.NoError(t, err)
	var got []crawler.ProductRecord
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Len(t, got, 1)
}

func TestFileSinkEmptyRunWritesEmptyArray(t *testing.T) {
	t.Parallel()

	s, err := NewFileSink(t.TempDir(), "")
	require.NoError(t, err)
	_, err = s.Write(context.Background(), testRun(), nil)
	require.NoError(t, err)

	data, err := os.ReadFile(s.Path(testRun()))
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestFileSinkFailureLeavesNoTempFile(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "out")
	s, err := NewFileSink(dir, "")
	require.NoError(t, err)
	_, err = s.Write(context.Background(), testRun(), sampleRecords(2))
	require.NoError(t, err)

	// A non-empty directory at the target path makes the rename fail.
	target := s.Path(testRun())
	require.NoError(t, os.Remove(target))
	require.NoError(t, os.Mkdir(target, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(target, "keep"), []byte("x"), 0o600))

	_, err = s.Write(context.Background(), testRun(), sampleRecords(1))
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasSuffix(e.Name(), ".tmp"), "temp file left behind: %s", e.Name())
	}
}

func TestNewFileSinkRejectsPrefixWithSeparator(t *testing.T) {
	t.Parallel()

	_, err := NewFileSink(t.TempDir(), "../escape")
	require.Error(t, err)
}
