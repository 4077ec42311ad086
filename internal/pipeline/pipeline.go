// Package pipeline runs ingestion cycles: fetch every category, build deals,
// drop duplicates within the batch and against the identifier cache, write
// the remainder to the store and remember what the store confirmed.
//
// A Pipeline is not reentrant. RunOnce refuses to start while another cycle
// is running, so any trigger may call it without further serialization.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"sjsage522/dealingest/internal/crawler"
	"sjsage522/dealingest/internal/deal"
	"sjsage522/dealingest/internal/dedup"
	"sjsage522/dealingest/internal/idcache"
	"sjsage522/dealingest/internal/store"
	"sjsage522/dealingest/logger"
	apperrors "sjsage522/dealingest/pkg/errors"
	"sjsage522/dealingest/services/publisher"

	"github.com/google/uuid"
)

// ErrCycleInProgress is returned by RunOnce while another cycle runs
var ErrCycleInProgress = errors.New("ingestion cycle already in progress")

// PublishKey is the stream field new deals are published under
const PublishKey = "algumon"

// State is the step a cycle is in
type State string

const (
	StateIdle        State = "idle"
	StateFetching    State = "fetching"
	StateBuilding    State = "building"
	StateIntraDedup  State = "intra_dedup"
	StateCacheFilter State = "cache_filter"
	StatePersisting  State = "persisting"
	StateCacheUpdate State = "cache_update"
	StateCleanup     State = "cleanup"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Options tunes a pipeline
type Options struct {
	Categories     []deal.Category
	Parallel       bool
	CategoryPause  time.Duration
	RetentionDays  int
	CacheWarmLimit int
}

// DefaultOptions crawls every category sequentially with a one second pause
func DefaultOptions() Options {
	return Options{
		Categories:     deal.Categories,
		CategoryPause:  time.Second,
		RetentionDays:  7,
		CacheWarmLimit: 2000,
	}
}

// Deps are the collaborators of a pipeline. Publisher is optional.
type Deps struct {
	Fetcher   crawler.Fetcher
	Store     store.Store
	Cache     *idcache.Cache
	Builder   *deal.Builder
	Publisher publisher.Publisher
	Log       *logger.Logger
}

// Pipeline owns the identifier cache for its lifetime
type Pipeline struct {
	fetcher   crawler.Fetcher
	store     store.Store
	cache     *idcache.Cache
	builder   *deal.Builder
	publisher publisher.Publisher
	log       *logger.Logger
	opts      Options

	running atomic.Bool

	mu             sync.Mutex
	state          State
	stats          CycleStats
	lastCleanupDay string

	now   func() time.Time
	pause func(ctx context.Context, d time.Duration)
}

// New validates deps and creates a pipeline
func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, apperrors.NewConfiguration("pipeline needs a fetcher", nil)
	case deps.Store == nil:
		return nil, apperrors.NewConfiguration("pipeline needs a store", nil)
	case deps.Cache == nil:
		return nil, apperrors.NewConfiguration("pipeline needs an identifier cache", nil)
	case deps.Builder == nil:
		return nil, apperrors.NewConfiguration("pipeline needs a record builder", nil)
	}

	if len(opts.Categories) == 0 {
		opts.Categories = deal.Categories
	}
	if opts.CacheWarmLimit <= 0 {
		opts.CacheWarmLimit = 2000
	}

	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}

	return &Pipeline{
		fetcher:   deps.Fetcher,
		store:     deps.Store,
		cache:     deps.Cache,
		builder:   deps.Builder,
		publisher: deps.Publisher,
		log:       log,
		opts:      opts,
		state:     StateIdle,
		now:       time.Now,
		pause:     sleep,
	}, nil
}

// Cache exposes the identifier cache for read-only status reporting
func (p *Pipeline) Cache() *idcache.Cache {
	return p.cache
}

// Categories returns the categories crawled each cycle
func (p *Pipeline) Categories() []deal.Category {
	return p.opts.Categories
}

// Running reports whether a cycle is in progress
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// State returns the step of the current or last cycle
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Warm bulk loads the most recent identifiers from the store into the cache.
// On failure the cache is left as is; the store conflict policy still
// prevents duplicate writes.
func (p *Pipeline) Warm(ctx context.Context) (int, error) {
	start := p.now()

	ids, err := p.store.RecentIDs(ctx, p.opts.CacheWarmLimit)
	if err != nil {
		p.log.Warn().Err(err).Msg("Cache warm-up failed, continuing with a cold cache")
		return 0, apperrors.NewStore("recent identifiers query failed", err)
	}

	loaded := p.cache.Load(ids)
	p.log.Info().
		Int("loaded", loaded).
		Int("limit", p.opts.CacheWarmLimit).
		Str("strategy", p.store.Strategy()).
		Dur("elapsed", p.now().Sub(start)).
		Msg("Identifier cache warmed")

	return loaded, nil
}

// RunOnce runs one full cycle. Category fetch failures are reported in the
// summary; a store write failure fails the cycle without touching the cache.
func (p *Pipeline) RunOnce(ctx context.Context) (*Summary, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrCycleInProgress
	}
	defer p.running.Store(false)

	sum := &Summary{
		RunID:     uuid.NewString(),
		StartedAt: p.now(),
	}
	log := p.log.WithField("run_id", sum.RunID)

	err := p.run(ctx, sum, log)
	sum.Duration = p.now().Sub(sum.StartedAt)

	if err != nil {
		sum.State = StateFailed
		sum.Error = apperrors.Message(err)
		p.setState(StateFailed)
		p.record(sum, err)
		log.Error().Err(err).Dur("duration", sum.Duration).Msg("Ingestion cycle failed")
		return sum, err
	}

	sum.State = StateDone
	p.setState(StateDone)
	p.record(sum, nil)
	log.Info().
		Int("listings", sum.Listings).
		Int("unique", sum.Unique).
		Int("cache_hits", sum.CacheHits).
		Int("submitted", sum.Submitted).
		Int("saved", sum.Saved).
		Int("failed_categories", sum.FailedCategories).
		Dur("duration", sum.Duration).
		Msg("Ingestion cycle completed")

	return sum, nil
}

func (p *Pipeline) run(ctx context.Context, sum *Summary, log *logger.Logger) error {
	p.setState(StateFetching)
	batches := p.fetchAll(ctx, log)
	sum.Categories = make([]CategoryResult, 0, len(batches))

	var fetchErrs []error
	for _, b := range batches {
		sum.Categories = append(sum.Categories, b.result)
		sum.Listings += len(b.listings)
		if b.err != nil {
			sum.FailedCategories++
			fetchErrs = append(fetchErrs, b.err)
		}
	}
	if len(batches) > 0 && sum.FailedCategories == len(batches) {
		return apperrors.NewNetwork("algumon", "every category fetch failed", errors.Join(fetchErrs...))
	}

	p.setState(StateBuilding)
	built := make([]deal.Deal, 0, sum.Listings)
	for i, b := range batches {
		for _, raw := range b.listings {
			d := p.builder.Build(raw, b.result.Category)
			if d == nil {
				continue
			}
			built = append(built, *d)
			sum.Categories[i].Built++
		}
	}
	sum.Built = len(built)
	sum.Dropped = sum.Listings - sum.Built

	p.setState(StateIntraDedup)
	unique, removed := dedup.Unique(built)
	sum.Unique = len(unique)
	sum.DuplicatesRemoved = removed

	p.setState(StateCacheFilter)
	partition := dedup.Filter(unique, p.cache)
	sum.CacheHits = len(partition.Duplicate)
	sum.Submitted = len(partition.New)

	var written []string
	if len(partition.New) > 0 {
		p.setState(StatePersisting)
		var err error
		written, err = p.store.UpsertBatch(ctx, partition.New)
		if err != nil {
			return apperrors.NewStore("batch upsert failed", err)
		}
	}
	sum.Saved = len(written)
	sum.Skipped = sum.CacheHits + sum.Submitted - sum.Saved

	p.setState(StateCacheUpdate)
	sum.CacheAdded = p.cache.AddMany(written)

	saved := confirmed(partition.New, written)
	sum.PricesRecorded = p.recordPrices(ctx, saved, log)
	sum.Published = p.publish(ctx, saved, log)

	if p.cleanupDue() {
		p.setState(StateCleanup)
		sum.CleanupRan = true
		deleted, err := p.Cleanup(ctx, p.opts.RetentionDays)
		if err != nil {
			log.Warn().Err(err).Msg("Retention cleanup failed")
		}
		sum.CleanupDeleted = deleted
	}

	return nil
}

// confirmed returns the deals whose identifier the store reported as written
func confirmed(deals []deal.Deal, written []string) []deal.Deal {
	ok := make(map[string]struct{}, len(written))
	for _, id := range written {
		ok[id] = struct{}{}
	}

	out := make([]deal.Deal, 0, len(written))
	for _, d := range deals {
		if _, hit := ok[d.ID]; hit {
			out = append(out, d)
		}
	}
	return out
}

func (p *Pipeline) recordPrices(ctx context.Context, deals []deal.Deal, log *logger.Logger) int {
	recorder, ok := p.store.(store.PriceRecorder)
	if !ok || len(deals) == 0 {
		return 0
	}

	n, err := recorder.RecordPrices(ctx, deals)
	if err != nil {
		log.Warn().Err(err).Msg("Price history write failed")
		return 0
	}
	return n
}

func (p *Pipeline) publish(ctx context.Context, deals []deal.Deal, log *logger.Logger) int {
	if p.publisher == nil || len(deals) == 0 {
		return 0
	}

	published := 0
	for _, d := range deals {
		data, err := json.Marshal(d)
		if err != nil {
			log.Warn().Err(err).Str("deal_id", d.ID).Msg("Deal encoding failed")
			continue
		}
		if err := p.publisher.Publish(ctx, PublishKey, data); err != nil {
			log.Warn().Err(err).Str("deal_id", d.ID).Msg("Deal publish failed")
			continue
		}
		published++
	}

	if err := p.publisher.TrimStreams(ctx); err != nil {
		log.Warn().Err(err).Msg("Stream trimming failed")
	}

	return published
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
