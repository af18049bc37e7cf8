// Package sink persists the accumulated record set of a run. Every Write
// replaces what the previous Write for the same run stored.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// Sink stores a run's full record set and returns the artifact URI.
type Sink interface {
	Name() string
	Write(ctx context.Context, run crawler.RunInfo, records []crawler.ProductRecord) (string, error)
}

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable names the Postgres and SQLite tables.
const DefaultTable = "product_pages"

func encodeRecords(records []crawler.ProductRecord) ([]byte, error) {
	if records == nil {
		records = []crawler.ProductRecord{}
	}
	// Page HTML is stored verbatim, so <, > and & stay unescaped.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("encode records: %w", err)
	}
	return buf.Bytes(), nil
}
