package crawler

import (
	"context"
	"io"
	"sync"
	"time"

	"sjsage522/dealingest/internal/deal"
	"sjsage522/dealingest/logger"
	apperrors "sjsage522/dealingest/pkg/errors"
	"sjsage522/dealingest/services/cache"

	"github.com/PuerkitoBio/goquery"
)

// BaseCrawler provides fetching with rate-limit flags and document helpers
type BaseCrawler struct {
	Limiter   *cache.RateLimiter
	BlockTime time.Duration
	Fetch     FetchFunc
	Log       *logger.Logger
}

// fetchWithCache fetches url unless cacheKey is inside a block window.
// A rate-limited answer opens a new window of BlockTime.
func (c *BaseCrawler) fetchWithCache(ctx context.Context, url, cacheKey string) (io.Reader, error) {
	if c.Limiter != nil && cacheKey != "" {
		blocked, err := c.Limiter.Blocked(cacheKey)
		if err != nil {
			c.Log.Warn().Err(err).Str("key", cacheKey).Msg("Rate limit flag unreadable, fetching anyway")
		}
		if blocked {
			return nil, apperrors.NewRateLimit(cacheKey, c.BlockTime)
		}
	}

	body, err := c.Fetch(ctx, url)
	if err != nil {
		if c.Limiter != nil && cacheKey != "" && apperrors.IsType(err, apperrors.ErrorTypeRateLimit) {
			if setErr := c.Limiter.Block(cacheKey, c.BlockTime); setErr != nil {
				c.Log.Warn().Err(setErr).Str("key", cacheKey).Msg("Failed to store rate limit flag")
			}
		}
		return nil, err
	}

	return body, nil
}

// createDocument creates a goquery document from a reader
func (c *BaseCrawler) createDocument(reader io.Reader, source string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, apperrors.NewParsing(source, "HTML parse failed", err)
	}
	return doc, nil
}

// processListings runs processor over every selection in parallel and
// returns the non-nil results in document order.
func (c *BaseCrawler) processListings(selections *goquery.Selection, processor func(*goquery.Selection) *deal.RawListing) []deal.RawListing {
	slots := make([]*deal.RawListing, selections.Length())
	var wg sync.WaitGroup

	selections.Each(func(i int, s *goquery.Selection) {
		wg.Add(1)
		go func(i int, s *goquery.Selection) {
			defer wg.Done()
			slots[i] = processor(s)
		}(i, s)
	})

	wg.Wait()

	listings := make([]deal.RawListing, 0, len(slots))
	for _, l := range slots {
		if l != nil {
			listings = append(listings, *l)
		}
	}

	return listings
}
