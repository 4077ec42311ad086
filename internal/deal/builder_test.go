package deal

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder("https://www.algumon.com")
	require.NoError(t, err)
	b.now = func() time.Time { return time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC) }
	return b
}

func TestBuild(t *testing.T) {
	b := newTestBuilder(t)
	category, _ := LookupCategory("2")

	d := b.Build(RawListing{
		Href:        "https://www.algumon.com/l/d/939539?v=1",
		AnchorText:  "Widget 12,000원",
		ImageSrc:    "/img/939539.jpg",
		Description: "  limited stock  ",
		SiteLabel:   "쿠팡",
	}, category)

	require.NotNil(t, d)
	assert.Equal(t, "939539", d.ID)
	assert.Equal(t, "Widget 12,000원", d.Title)
	assert.Equal(t, 12000, d.Price)
	assert.True(t, d.HasPrice)
	assert.Equal(t, "12,000원", d.PriceDisplay)
	assert.Equal(t, "https://www.algumon.com/l/d/939539?v=1", d.URL)
	assert.Equal(t, "https://www.algumon.com/img/939539.jpg", d.ImageURL)
	assert.Equal(t, "limited stock", d.Description)
	assert.Equal(t, "쿠팡", d.SiteLabel)
	assert.Equal(t, category, d.Category)
	assert.Equal(t, "algumon-939539", d.CompositeKey())
	assert.False(t, d.CapturedAt.IsZero())
}

func TestBuildResolvesRelativeLink(t *testing.T) {
	b := newTestBuilder(t)

	d := b.Build(RawListing{Href: "/l/d/123456", AnchorTitle: "Relative deal"}, Categories[0])

	require.NotNil(t, d)
	assert.Equal(t, "https://www.algumon.com/l/d/123456", d.URL)
	assert.Equal(t, "123456", d.ID)
}

func TestBuildTitlePreference(t *testing.T) {
	b := newTestBuilder(t)

	d := b.Build(RawListing{
		Href:        "/l/d/1000",
		AnchorTitle: "From attribute",
		AnchorText:  "From text",
		TitleText:   "From title element",
	}, Categories[0])
	require.NotNil(t, d)
	assert.Equal(t, "From attribute", d.Title)

	d = b.Build(RawListing{Href: "/l/d/1000", AnchorText: "  ", TitleText: "From title element"}, Categories[0])
	require.NotNil(t, d)
	assert.Equal(t, "From title element", d.Title)
}

func TestBuildSiteLabelFallsBackToAttribute(t *testing.T) {
	b := newTestBuilder(t)

	d := b.Build(RawListing{Href: "/l/d/1000", AnchorText: "Some deal", SiteAttr: "11번가"}, Categories[0])
	require.NotNil(t, d)
	assert.Equal(t, "11번가", d.SiteLabel)

	d = b.Build(RawListing{Href: "/l/d/1000", AnchorText: "Some deal"}, Categories[0])
	require.NotNil(t, d)
	assert.Empty(t, d.SiteLabel)
	assert.Empty(t, d.ImageURL)
	assert.Empty(t, d.Description)
}

func TestBuildUsesPriceElementFallback(t *testing.T) {
	b := newTestBuilder(t)

	d := b.Build(RawListing{Href: "/l/d/1000", AnchorText: "Mystery box", PriceText: "34,900원"}, Categories[0])
	require.NotNil(t, d)
	assert.True(t, d.HasPrice)
	assert.Equal(t, 34900, d.Price)
}

func TestBuildTruncatesDescription(t *testing.T) {
	b := newTestBuilder(t)

	d := b.Build(RawListing{
		Href:        "/l/d/1000",
		AnchorText:  "Long description deal",
		Description: strings.Repeat("가", 250),
	}, Categories[0])

	require.NotNil(t, d)
	assert.Equal(t, MaxDescriptionLength, len([]rune(d.Description)))
}

func TestBuildRejectsMalformedListings(t *testing.T) {
	b := newTestBuilder(t)

	cases := map[string]RawListing{
		"no href":          {AnchorText: "Nice deal"},
		"no identifier":    {Href: "/category/3", AnchorText: "Nice deal"},
		"short identifier": {Href: "/l/d/12", AnchorText: "Nice deal"},
		"long identifier":  {Href: "/l/d/12345678901", AnchorText: "Nice deal"},
		"no title":         {Href: "/l/d/1000"},
		"short title":      {Href: "/l/d/1000", AnchorText: " ab "},
		"unparseable href": {Href: "http://[::1", AnchorText: "Nice deal"},
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.Nil(t, b.Build(raw, Categories[0]))
			})
		})
	}
}

func TestLookupCategory(t *testing.T) {
	c, ok := LookupCategory("3")
	assert.True(t, ok)
	assert.Equal(t, "컴퓨터", c.Name)

	_, ok = LookupCategory("7")
	assert.False(t, ok)
	assert.Len(t, Categories, 6)
}
