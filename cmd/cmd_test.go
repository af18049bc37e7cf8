package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(args, strings.NewReader(""), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersionPrintsBuildVersion(t *testing.T) {
	t.Parallel()

	code, out, _ := run(t, "version")
	require.Equal(t, 0, code)
	assert.Equal(t, buildVersion()+"\n", out)
}

func TestCrawlRejectsUnknownEngine(t *testing.T) {
	t.Parallel()

	code, _, errOut := run(t, "crawl", "--engine", "lynx")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "engine")
}

func TestCrawlFailsOnMissingSeeds(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "nope.json")
	code, _, errOut := run(t, "crawl", "--seeds", missing)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "nope.json")
}

func TestCrawlReadsConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("proxy:\n  mode: carrier-pigeon\n"), 0o600))

	code, _, errOut := run(t, "crawl", "--config", path)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "proxy.mode")
}

func TestCrawlFlagsMatchConfigKeys(t *testing.T) {
	t.Parallel()

	crawl := newCrawlCmd()
	for _, name := range []string{
		"manual", "socks", "proxy", "page-timeout", "browser-path", "delay",
		"max-products", "session-wait", "disable-js", "insecure",
		"keep-browser-open", "max-pages-per-category", "seeds", "engine", "embedded-tor",
	} {
		assert.NotNil(t, crawl.Flags().Lookup(name), name)
	}
}

func TestCrawlDelayTakesSeconds(t *testing.T) {
	t.Parallel()

	crawl := newCrawlCmd()
	require.NoError(t, crawl.Flags().Parse([]string{"--delay", "2.5", "--session-wait", "90s"}))
	assert.Equal(t, "2.5s", crawl.Flags().Lookup("delay").Value.String())
	assert.Equal(t, "1m30s", crawl.Flags().Lookup("session-wait").Value.String())

	require.Error(t, newCrawlCmd().Flags().Parse([]string{"--delay", "soon"}))
	assert.Contains(t, crawl.Flags().FlagUsages(), "--delay seconds")
}

func TestUnknownCommandFails(t *testing.T) {
	t.Parallel()

	code, _, errOut := run(t, "scrape")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "unknown command")
}
