package crawler

import (
	"context"
	"fmt"
	"strings"

	"sjsage522/dealingest/helpers"
	"sjsage522/dealingest/internal/deal"
	"sjsage522/dealingest/logger"
	apperrors "sjsage522/dealingest/pkg/errors"
	"sjsage522/dealingest/services/cache"

	"github.com/PuerkitoBio/goquery"
)

// AlgumonCrawler reads the category pages of the aggregation site
type AlgumonCrawler struct {
	BaseCrawler
	BaseURL   string
	CacheKey  string
	Selectors Selectors
}

// NewAlgumonCrawler creates a crawler. A nil limiter disables rate-limit
// flags and a nil Fetch defaults to helpers.FetchWithRandomHeaders.
func NewAlgumonCrawler(config CrawlerConfig, limiter *cache.RateLimiter, log *logger.Logger) *AlgumonCrawler {
	if log == nil {
		log = logger.Nop()
	}
	fetch := config.Fetch
	if fetch == nil {
		fetch = helpers.FetchWithRandomHeaders
	}
	selectors := config.Selectors
	if selectors.ListItem == "" {
		selectors = DefaultSelectors
	}
	cacheKey := config.CacheKey
	if cacheKey == "" {
		cacheKey = "algumon_rate_limited"
	}

	return &AlgumonCrawler{
		BaseCrawler: BaseCrawler{
			Limiter:   limiter,
			BlockTime: config.BlockTime,
			Fetch:     fetch,
			Log:       log,
		},
		BaseURL:   strings.TrimRight(config.BaseURL, "/"),
		CacheKey:  cacheKey,
		Selectors: selectors,
	}
}

// CategoryURL returns the listing page of a category
func (c *AlgumonCrawler) CategoryURL(category deal.Category) string {
	return fmt.Sprintf("%s/category/%s", c.BaseURL, category.Code)
}

// FetchListings implements Fetcher
func (c *AlgumonCrawler) FetchListings(ctx context.Context, category deal.Category) ([]deal.RawListing, error) {
	url := c.CategoryURL(category)
	cacheKey := c.CacheKey + ":" + category.Code

	body, err := c.fetchWithCache(ctx, url, cacheKey)
	if err != nil {
		return nil, err
	}

	doc, err := c.createDocument(body, url)
	if err != nil {
		return nil, err
	}

	listings := c.ParseListings(doc)
	if len(listings) == 0 {
		return nil, apperrors.NewParsing(url, "category "+category.Code+" has no listings", ErrNoListings)
	}

	c.Log.Debug().
		Str("category", category.Code).
		Int("listings", len(listings)).
		Msg("Category page parsed")

	return listings, nil
}

// ParseListings extracts every listing of a parsed category page in order
func (c *AlgumonCrawler) ParseListings(doc *goquery.Document) []deal.RawListing {
	return c.processListings(doc.Find(c.Selectors.ListItem), c.extractListing)
}

// extractListing fills a RawListing from one list item, or returns nil when
// the item carries no deal anchor.
func (c *AlgumonCrawler) extractListing(s *goquery.Selection) *deal.RawListing {
	anchor := s.Find(c.Selectors.Anchor).First()
	if anchor.Length() == 0 {
		return nil
	}

	href, ok := anchor.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return nil
	}

	siteAttr := s.AttrOr(c.Selectors.SiteAttr, "")
	if siteAttr == "" {
		siteAttr = s.Find("["+c.Selectors.SiteAttr+"]").First().AttrOr(c.Selectors.SiteAttr, "")
	}

	return &deal.RawListing{
		Href:        strings.TrimSpace(href),
		AnchorTitle: strings.TrimSpace(anchor.AttrOr("title", "")),
		AnchorText:  text(anchor),
		TitleText:   text(s.Find(c.Selectors.Title).First()),
		ImageSrc:    strings.TrimSpace(s.Find(c.Selectors.Image).First().AttrOr("src", "")),
		Description: text(s.Find(c.Selectors.Description).First()),
		SiteLabel:   text(s.Find(c.Selectors.SiteLabel).First()),
		SiteAttr:    strings.TrimSpace(siteAttr),
		PriceText:   text(s.Find(c.Selectors.Price).First()),
	}
}

// text returns the selection text with whitespace runs collapsed
func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

var _ Fetcher = (*AlgumonCrawler)(nil)
