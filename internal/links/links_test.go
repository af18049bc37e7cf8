package links

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wooListing = `<html><body>
<nav><a href="/product-category/flowers/">Flowers</a></nav>
<ul class="products">
  <li class="product">
    <a class="woocommerce-LoopProduct-link" href="/product/alpha/"><span>Alpha</span></a>
    <h2><a href="/product/alpha/">Alpha</a></h2>
  </li>
  <li class="product"><a class="woocommerce-LoopProduct-link" href="http://market.onion/product/beta/#reviews">Beta</a></li>
  <li class="product"><a href="/product-category/other/">Other</a></li>
  <li class="product"><a href="/shop/">Back</a></li>
</ul>
<a href="/item/99">Elsewhere</a>
<div class="pagination"><a href="/shop/page/2/">2</a><a href="/shop/page/3/">3</a></div>
<a class="next" href="/shop/page/2/">Next</a>
</body></html>`

const genericListing = `<html><body>
<a href="/product/123e4567-e89b-12d3-a456-426614174000?ref=search">uuid</a>
<a href="products.php?action=view&amp;id=5">torzon</a>
<a href="/item/42">item</a>
<a href="/item/42#top">same item</a>
<a href="/cart/item/1">cart</a>
<a href="/shop/page/2">paged</a>
<a href="/category/x/item/">category</a>
<a href="mailto:admin@market.onion">mail</a>
<a href="/about">about</a>
<nav><a href="/listing?cat=3&amp;page=2">2</a></nav>
</body></html>`

func TestExtractWooCommerceShortCircuits(t *testing.T) {
	t.Parallel()

	res := Extract([]byte(wooListing), "http://market.onion/shop/")
	assert.Equal(t, []string{
		"http://market.onion/product/alpha/",
		"http://market.onion/product/beta/",
	}, res.Products)
	// a.next ranks above .pagination a.
	assert.Equal(t, []string{"http://market.onion/shop/page/2/"}, res.Pagination)
}

func TestExtractFallsBackToPathPatterns(t *testing.T) {
	t.Parallel()

	res := Extract([]byte(genericListing), "http://market.onion/listing?cat=3")
	assert.Equal(t, []string{
		"http://market.onion/product/123e4567-e89b-12d3-a456-426614174000?ref=search",
		"http://market.onion/products.php?action=view&id=5",
		"http://market.onion/item/42",
	}, res.Products)
	assert.Equal(t, []string{"http://market.onion/listing?cat=3&page=2"}, res.Pagination)
}

func TestExtractExcludesBaseURL(t *testing.T) {
	t.Parallel()

	doc := `<a href="/shop/">self</a><a href="/shop">self again</a><a href="/shop/widget">widget</a>`
	res := Extract([]byte(doc), "http://m.onion/shop/")
	assert.Equal(t, []string{"http://m.onion/shop/widget"}, res.Products)
	assert.Empty(t, res.Pagination)
}

func TestExtractResolvesRelativeLinks(t *testing.T) {
	t.Parallel()

	doc := `<a href="../p/7">seven</a><a rel="next" href="?pg=2">next</a>`
	res := Extract([]byte(doc), "http://m.onion/store/cat/")
	assert.Equal(t, []string{"http://m.onion/store/p/7"}, res.Products)
	assert.Equal(t, []string{"http://m.onion/store/cat/?pg=2"}, res.Pagination)
}

func TestPaginationFirstMatchingSelectorOnly(t *testing.T) {
	t.Parallel()

	doc := `<ul class="pagination"><a href="/c?page=2">2</a><a href="/c?page=3">3</a><a href="/c?page=2">2</a></ul>
<nav><a href="/about">about</a></nav>`
	res := Extract([]byte(doc), "http://m.onion/c")
	assert.Equal(t, []string{"http://m.onion/c?page=2", "http://m.onion/c?page=3"}, res.Pagination)
}

func TestExtractNeverFails(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		doc  []byte
		base string
	}{
		"nil document":    {nil, "http://m.onion/"},
		"blank document":  {[]byte("   \n"), "http://m.onion/"},
		"garbage":         {[]byte("<<<>>><a href=>"), "http://m.onion/"},
		"relative base":   {[]byte(wooListing), "/shop/"},
		"unparsable base": {[]byte(wooListing), "http://%zz/"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			res := Extract(tc.doc, tc.base)
			assert.True(t, res.Empty())
		})
	}
}

func TestExtractorUsesStrategyOrder(t *testing.T) {
	t.Parallel()

	calls := []string{}
	empty := Strategy{Name: "empty", Find: func(Page) []string {
		calls = append(calls, "empty")
		return nil
	}}
	fixed := Strategy{Name: "fixed", Find: func(Page) []string {
		calls = append(calls, "fixed")
		return []string{"http://m.onion/x", "http://m.onion/x"}
	}}
	never := Strategy{Name: "never", Find: func(Page) []string {
		calls = append(calls, "never")
		return []string{"http://m.onion/y"}
	}}

	e := Extractor{Products: []Strategy{empty, fixed, never}}
	res := e.Extract([]byte("<p>hi</p>"), "http://m.onion/")
	require.Equal(t, []string{"http://m.onion/x"}, res.Products)
	assert.Equal(t, []string{"empty", "fixed"}, calls)
}

func TestIsProductURL(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"http://m.onion/product/123e4567-e89b-12d3-a456-426614174000": true,
		"http://m.onion/PRODUCT/123E4567-E89B-12D3-A456-426614174000": true,
		"http://m.onion/products.php?id=3&action=view":                true,
		"http://m.onion/p/44":                                          true,
		"http://m.onion/listing/9":                                     true,
		"http://m.onion/product/thing?filter=red":                      false,
		"http://m.onion/account/item/3":                                false,
		"http://m.onion/tag/item/3":                                    false,
		"http://m.onion/about":                                         false,
	}
	for u, want := range cases {
		assert.Equal(t, want, isProductURL(u), u)
	}
}
