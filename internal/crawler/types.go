package crawler

import (
	"context"
	"errors"
	"io"
	"time"

	"sjsage522/dealingest/internal/deal"
)

// ErrNoListings is returned when a category page holds no listing anchors,
// which usually means the markup changed.
var ErrNoListings = errors.New("no listings found on category page")

// Fetcher returns the raw listings of one category page
type Fetcher interface {
	FetchListings(ctx context.Context, category deal.Category) ([]deal.RawListing, error)
}

// FetchFunc downloads a page and returns its UTF-8 body
type FetchFunc func(ctx context.Context, url string) (io.Reader, error)

// Selectors contains CSS selectors for the elements of one listing
type Selectors struct {
	ListItem    string
	Anchor      string
	Title       string
	SiteLabel   string
	SiteAttr    string
	Image       string
	Description string
	Price       string
}

// DefaultSelectors matches the category page markup of the aggregation site
var DefaultSelectors = Selectors{
	ListItem:    "li",
	Anchor:      `a[href*="/l/d/"]`,
	Title:       ".title, .deal-title",
	SiteLabel:   ".site-name, [data-site]",
	SiteAttr:    "data-site",
	Image:       "img",
	Description: ".description, .deal-desc",
	Price:       ".price, .deal-price, .product-price",
}

// CrawlerConfig contains configuration for a crawler
type CrawlerConfig struct {
	BaseURL   string
	CacheKey  string
	BlockTime time.Duration
	Selectors Selectors
	Fetch     FetchFunc
}
