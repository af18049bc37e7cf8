// Package seeds reads the list of category URLs a run starts from. The file
// holds a JSON or YAML array of strings.
package seeds

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// DefaultPath is where the seed list lives unless configured otherwise.
const DefaultPath = "data/pages_url.json"

// ErrNoSeeds is returned when the file holds no usable URL.
var ErrNoSeeds = errors.New("no category urls to crawl")

// Load reads and validates the seed file at path.
func Load(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("seed file %s not found (expected a list such as [\"http://market.onion/category1/\"]): %w", path, err)
		}
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	out, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return out, nil
}

// Parse decodes a seed list. Blank entries are skipped and duplicates keep
// their first position.
func Parse(data []byte) ([]string, error) {
	var raw []string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode seed list: %w", err)
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for i, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if _, err := crawler.OriginOf(entry); err != nil {
			return nil, fmt.Errorf("entry %d (%q): %w", i, entry, err)
		}
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
	}
	if len(out) == 0 {
		return nil, ErrNoSeeds
	}
	return out, nil
}
