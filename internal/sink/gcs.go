package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// GCSSink uploads the record set to one object per run.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSSink wraps a storage client.
func NewGCSSink(client *storage.Client, bucket, prefix string) (*GCSSink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("output.gcs.bucket is required")
	}
	return &GCSSink{client: client, bucket: bucket, prefix: prefix}, nil
}

// Name implements Sink.
func (s *GCSSink) Name() string { return "gcs" }

// ObjectName is the object a run's records land in.
func (s *GCSSink) ObjectName(run crawler.RunInfo) string {
	return path.Join(s.prefix, run.ID, "products.json")
}

// Write implements Sink and returns a gs:// URI. The object is overwritten.
func (s *GCSSink) Write(ctx context.Context, run crawler.RunInfo, records []crawler.ProductRecord) (string, error) {
	if run.ID == "" {
		return "", fmt.Errorf("run id is required")
	}
	data, err := encodeRecords(records)
	if err != nil {
		return "", err
	}
	name := s.ObjectName(run)
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "application/json"
	writer.Metadata = map[string]string{
		"run_id":    run.ID,
		"run_state": string(run.State),
		"records":   fmt.Sprint(len(records)),
	}
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}
