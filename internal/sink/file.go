package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Output file defaults.
const (
	DefaultDir        = "data"
	DefaultFilePrefix = "products_html"
	fileTimeLayout    = "20060102_150405"
)

// FileSink writes the record set as a pretty-printed JSON array. The file is
// replaced atomically: readers see either the previous flush or this one.
type FileSink struct {
	dir    string
	prefix string
}

// NewFileSink creates dir if needed.
func NewFileSink(dir, prefix string) (*FileSink, error) {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultDir
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultFilePrefix
	}
	if strings.ContainsAny(prefix, `/\`) {
		return nil, fmt.Errorf("output.file_prefix must not contain path separators")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &FileSink{dir: dir, prefix: prefix}, nil
}

// Name implements Sink.
func (s *FileSink) Name() string { return "file" }

// Path is the file a run's records land in.
func (s *FileSink) Path(run crawler.RunInfo) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", s.prefix, run.StartedAt.Local().Format(fileTimeLayout)))
}

// Write implements Sink and returns a file:// URI.
func (s *FileSink) Write(_ context.Context, run crawler.RunInfo, records []crawler.ProductRecord) (string, error) {
	data, err := encodeRecords(records)
	if err != nil {
		return "", err
	}
	target := s.Path(run)
	if err := writeFileAtomic(target, data); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(target)
	if err != nil {
		abs = target
	}
	return "file://" + filepath.ToSlash(abs), nil
}

func writeFileAtomic(target string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil { //nolint:gosec // output is meant to be read by the extraction stage
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
