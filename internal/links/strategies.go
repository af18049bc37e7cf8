package links

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// WooCommerceSelectors match product tiles in the stock WooCommerce loop
// template. Every selector contributes; results are unioned.
var WooCommerceSelectors = []string{
	"li.product a.woocommerce-LoopProduct-link",
	"li.product h2 a",
	"li.product a[href]",
	".products li.product a",
	"ul.products li a",
}

var categoryPaths = []string{"/product-category/", "/category/"}

// WooCommerce finds product tiles and drops category links and the listing
// page itself.
func WooCommerce() Strategy {
	return Strategy{
		Name: "woocommerce",
		Find: func(page Page) []string {
			var out []string
			for _, sel := range WooCommerceSelectors {
				for _, u := range hrefs(page, sel) {
					if containsAny(u, categoryPaths) || page.isBase(u) {
						continue
					}
					out = append(out, u)
				}
			}
			return out
		},
	}
}

var (
	// uuidProductPath matches storefronts that key products by UUID.
	uuidProductPath = regexp.MustCompile(`(?i)/product/[0-9a-f-]{36}`)

	productIndicators = []string{
		"/shop/", "/item/", "/listing/", "/p/", "/product/", "products.php?action=view",
	}
	excludedPatterns = []string{
		"cart", "checkout", "account", "login",
		"/product-category/", "/category/", "/tag/",
		"page/", "/page-", "author", "search", "filter",
	}
)

// PathPatterns scans every anchor. UUID product paths and products.php view
// endpoints are accepted outright; anything else needs a product indicator
// and no excluded pattern.
func PathPatterns() Strategy {
	return Strategy{
		Name: "path-patterns",
		Find: func(page Page) []string {
			var out []string
			page.Doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
				href, _ := s.Attr("href")
				abs, ok := page.resolve(href)
				if !ok {
					return
				}
				if isProductURL(abs) && !page.isBase(abs) {
					out = append(out, abs)
				}
			})
			return out
		},
	}
}

func isProductURL(abs string) bool {
	lower := strings.ToLower(abs)
	if strings.Contains(lower, "/product/") && uuidProductPath.MatchString(pathOf(abs)) {
		return true
	}
	if strings.Contains(lower, "products.php") && strings.Contains(lower, "action=view") {
		return true
	}
	return containsAny(lower, productIndicators) && !containsAny(lower, excludedPatterns)
}

func pathOf(abs string) string {
	u, err := url.Parse(abs)
	if err != nil {
		return ""
	}
	return u.Path
}

// DefaultPaginationSelectors are tried in order; the first with matches wins.
var DefaultPaginationSelectors = []string{
	`a[rel="next"]`,
	"a.next",
	"li.next a",
	".pagination a",
	"ul.pagination a",
	"nav a",
	`a[aria-label="Next"]`,
}

// PaginationSelectors builds one strategy per selector.
func PaginationSelectors(selectors ...string) []Strategy {
	out := make([]Strategy, 0, len(selectors))
	for _, sel := range selectors {
		out = append(out, Strategy{
			Name: "pagination " + sel,
			Find: func(page Page) []string { return hrefs(page, sel) },
		})
	}
	return out
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
