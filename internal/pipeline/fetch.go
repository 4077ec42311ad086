package pipeline

import (
	"context"
	"sync"

	"sjsage522/dealingest/internal/deal"
	"sjsage522/dealingest/logger"
	apperrors "sjsage522/dealingest/pkg/errors"
)

type categoryBatch struct {
	result   CategoryResult
	listings []deal.RawListing
	err      error
}

// fetchAll collects the raw listings of every category. A failed category
// yields an empty batch carrying its error; siblings are unaffected. The
// identifier cache is never touched here.
func (p *Pipeline) fetchAll(ctx context.Context, log *logger.Logger) []categoryBatch {
	batches := make([]categoryBatch, len(p.opts.Categories))

	if p.opts.Parallel {
		var wg sync.WaitGroup
		for i, c := range p.opts.Categories {
			wg.Add(1)
			go func(i int, c deal.Category) {
				defer wg.Done()
				batches[i] = p.fetchCategory(ctx, c, log)
			}(i, c)
		}
		wg.Wait()
		return batches
	}

	for i, c := range p.opts.Categories {
		if i > 0 {
			p.pause(ctx, p.opts.CategoryPause)
		}
		batches[i] = p.fetchCategory(ctx, c, log)
	}
	return batches
}

func (p *Pipeline) fetchCategory(ctx context.Context, c deal.Category, log *logger.Logger) categoryBatch {
	b := categoryBatch{result: CategoryResult{Category: c}}

	listings, err := p.fetcher.FetchListings(ctx, c)
	if err != nil {
		b.err = err
		b.result.Error = apperrors.Message(err)
		log.Warn().
			Err(err).
			Str("category", c.Code).
			Str("category_name", c.Name).
			Msg("Category fetch failed")
		return b
	}

	b.listings = listings
	b.result.Listings = len(listings)
	log.Debug().
		Str("category", c.Code).
		Int("listings", len(listings)).
		Msg("Category fetched")
	return b
}
