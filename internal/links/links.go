// Package links pulls product and pagination URLs out of listing pages.
//
// Product discovery runs an ordered list of strategies and keeps the output
// of the first one that finds anything. Pagination works the same way over
// a list of selectors. Extract never fails: unparsable input yields an
// empty Result.
package links

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Result is what a listing page links to. Both slices are de-duplicated and
// keep document order.
type Result struct {
	Products   []string
	Pagination []string
}

// Empty reports whether the page yielded nothing to follow.
func (r Result) Empty() bool {
	return len(r.Products) == 0 && len(r.Pagination) == 0
}

// Page is a parsed listing page and the URL it was fetched from.
type Page struct {
	Doc  *goquery.Document
	Base *url.URL
}

// resolve turns href into an absolute http(s) URL without its fragment.
func (p Page) resolve(href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := p.Base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), true
}

// isBase reports whether candidate is the listing page itself, ignoring a
// trailing slash.
func (p Page) isBase(candidate string) bool {
	return strings.TrimRight(candidate, "/") == strings.TrimRight(p.Base.String(), "/")
}

// Strategy finds candidate URLs on a page.
type Strategy struct {
	Name string
	Find func(Page) []string
}

// Extractor applies product and pagination strategies in priority order.
type Extractor struct {
	Products   []Strategy
	Pagination []Strategy
}

// Default returns the extractor used for crawls.
func Default() Extractor {
	return Extractor{
		Products:   []Strategy{WooCommerce(), PathPatterns()},
		Pagination: PaginationSelectors(DefaultPaginationSelectors...),
	}
}

// Extract runs the default extractor.
func Extract(doc []byte, baseURL string) Result {
	return Default().Extract(doc, baseURL)
}

// Extract parses doc and runs the strategies against it.
func (e Extractor) Extract(doc []byte, baseURL string) Result {
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() || len(bytes.TrimSpace(doc)) == 0 {
		return Result{}
	}
	parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(doc))
	if err != nil {
		return Result{}
	}
	page := Page{Doc: parsed, Base: base}
	return Result{
		Products:   firstMatch(e.Products, page),
		Pagination: firstMatch(e.Pagination, page),
	}
}

func firstMatch(strategies []Strategy, page Page) []string {
	for _, s := range strategies {
		if found := dedupe(s.Find(page)); len(found) > 0 {
			return found
		}
	}
	return nil
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// hrefs resolves the href of every element matched by selector.
func hrefs(page Page, selector string) []string {
	var out []string
	page.Doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		if abs, ok := page.resolve(href); ok {
			out = append(out, abs)
		}
	})
	return out
}
