package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"sjsage522/dealingest/internal/crawler"
	"sjsage522/dealingest/internal/deal"
	"sjsage522/dealingest/internal/idcache"
	"sjsage522/dealingest/internal/store"
	apperrors "sjsage522/dealingest/pkg/errors"
	"sjsage522/dealingest/services/publisher"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockFetcher serves canned listings per category code
type mockFetcher struct {
	mu       sync.Mutex
	listings map[string][]deal.RawListing
	errs     map[string]error
	calls    []string
	gate     chan struct{}
	started  chan struct{}
}

var _ crawler.Fetcher = (*mockFetcher)(nil)

func (m *mockFetcher) FetchListings(ctx context.Context, c deal.Category) ([]deal.RawListing, error) {
	m.mu.Lock()
	m.calls = append(m.calls, c.Code)
	m.mu.Unlock()

	if m.started != nil {
		select {
		case m.started <- struct{}{}:
		default:
		}
	}
	if m.gate != nil {
		<-m.gate
	}
	if err := m.errs[c.Code]; err != nil {
		return nil, err
	}
	return m.listings[c.Code], nil
}

type deleteCall struct {
	cutoff        time.Time
	missingIDOnly bool
}

// mockStore confirms every submitted deal unless confirm says otherwise
type mockStore struct {
	mu        sync.Mutex
	recent    []string
	recentErr error
	confirm   func([]deal.Deal) []string
	upsertErr error
	deleteErr error
	submitted [][]deal.Deal
	deletes   []deleteCall
	prices    []deal.Deal
}

var (
	_ store.Store         = (*mockStore)(nil)
	_ store.PriceRecorder = (*mockStore)(nil)
)

func (m *mockStore) RecentIDs(ctx context.Context, limit int) ([]string, error) {
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	if len(m.recent) > limit {
		return m.recent[:limit], nil
	}
	return m.recent, nil
}

func (m *mockStore) UpsertBatch(ctx context.Context, deals []deal.Deal) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.submitted = append(m.submitted, deals)
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	if m.confirm != nil {
		return m.confirm(deals), nil
	}
	return deal.IDs(deals), nil
}

func (m *mockStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, missingIDOnly bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deletes = append(m.deletes, deleteCall{cutoff: cutoff, missingIDOnly: missingIDOnly})
	if m.deleteErr != nil {
		return 0, m.deleteErr
	}
	if missingIDOnly {
		return 2, nil
	}
	return 3, nil
}

func (m *mockStore) Strategy() string { return "mock" }

func (m *mockStore) RecordPrices(ctx context.Context, deals []deal.Deal) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, d := range deals {
		if d.HasPrice {
			m.prices = append(m.prices, d)
			n++
		}
	}
	return n, nil
}

// mockPublisher collects published messages
type mockPublisher struct {
	mu       sync.Mutex
	messages [][]byte
	trims    int
}

var _ publisher.Publisher = (*mockPublisher)(nil)

func (m *mockPublisher) Publish(ctx context.Context, key string, message []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
	return nil
}

func (m *mockPublisher) TrimStreams(ctx context.Context) error {
	m.trims++
	return nil
}

func (m *mockPublisher) Close() error { return nil }

func listing(id, title string) deal.RawListing {
	return deal.RawListing{Href: "/l/d/" + id + "?from=category", AnchorTitle: title}
}

type fixture struct {
	pipeline *Pipeline
	fetcher  *mockFetcher
	store    *mockStore
	cache    *idcache.Cache
	clock    *time.Time
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	builder, err := deal.NewBuilder("https://www.algumon.com")
	require.NoError(t, err)

	f := &fixture{
		fetcher: &mockFetcher{listings: map[string][]deal.RawListing{}, errs: map[string]error{}},
		store:   &mockStore{},
		cache:   idcache.New(),
	}

	if opts.Categories == nil {
		opts.Categories = deal.Categories[:3]
	}
	p, err := New(Deps{Fetcher: f.fetcher, Store: f.store, Cache: f.cache, Builder: builder}, opts)
	require.NoError(t, err)

	clock := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	f.clock = &clock
	p.now = func() time.Time { return *f.clock }
	p.pause = func(context.Context, time.Duration) {}

	f.pipeline = p
	return f
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Deps{}, DefaultOptions())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfiguration))
}

func TestRunOnceAddsOnlyConfirmedIdentifiers(t *testing.T) {
	f := newFixture(t, Options{})
	f.fetcher.listings["1"] = []deal.RawListing{
		listing("1001", "Keyboard 39,000원"),
		listing("1002", "Mouse 25000 special"),
		{Href: "/notice/1", AnchorTitle: "not a deal"},
		listing("1003", "ok"),
	}
	f.fetcher.listings["2"] = []deal.RawListing{
		listing("1002", "Mouse again"),
		listing("1004", "Monitor 가격: 250,000"),
	}
	f.store.confirm = func(deals []deal.Deal) []string {
		return []string{deals[0].ID, deals[2].ID}
	}

	sum, err := f.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, f.store.submitted, 1)
	assert.Equal(t, []string{"1001", "1002", "1004"}, deal.IDs(f.store.submitted[0]))

	assert.Equal(t, 2, f.cache.Size())
	assert.True(t, f.cache.Contains("1001"))
	assert.True(t, f.cache.Contains("1004"))
	assert.False(t, f.cache.Contains("1002"))

	assert.Equal(t, StateDone, sum.State)
	assert.Equal(t, 6, sum.Listings)
	assert.Equal(t, 4, sum.Built)
	assert.Equal(t, 2, sum.Dropped)
	assert.Equal(t, 3, sum.Unique)
	assert.Equal(t, 1, sum.DuplicatesRemoved)
	assert.Equal(t, 3, sum.Submitted)
	assert.Equal(t, 2, sum.Saved)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 2, sum.CacheAdded)
	assert.Equal(t, 2, sum.PricesRecorded)
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, []string{"1001", "1004"}, deal.IDs(f.store.prices))
}

func TestRunOnceSkipsCachedIdentifiers(t *testing.T) {
	f := newFixture(t, Options{})
	f.cache.Load([]string{"100", "200"})
	f.fetcher.listings["1"] = []deal.RawListing{
		listing("100", "Cached deal"),
		listing("300", "Fresh deal"),
		listing("300", "Fresh deal copy"),
		listing("400", "Another deal"),
	}

	sum, err := f.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, f.store.submitted, 1)
	assert.Equal(t, []string{"300", "400"}, deal.IDs(f.store.submitted[0]))
	assert.Equal(t, "Fresh deal", f.store.submitted[0][0].Title)
	assert.Equal(t, 1, sum.CacheHits)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 4, f.cache.Size())
}

func TestRunOnceNothingNewSkipsStore(t *testing.T) {
	f := newFixture(t, Options{})
	f.cache.Load([]string{"100"})
	f.fetcher.listings["1"] = []deal.RawListing{listing("100", "Cached deal")}

	sum, err := f.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.store.submitted)
	assert.Equal(t, 0, sum.Saved)
	assert.Equal(t, 1, sum.Skipped)
}

func TestStoreFailureFailsCycleWithoutCacheChange(t *testing.T) {
	f := newFixture(t, Options{})
	f.cache.Load([]string{"100"})
	f.fetcher.listings["1"] = []deal.RawListing{listing("200", "New deal"), listing("300", "Other deal")}
	f.store.upsertErr = errors.New(`ERROR: duplicate key value violates unique constraint "deals_pkey" (SQLSTATE 23505)`)

	sum, err := f.pipeline.RunOnce(context.Background())

	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeStore))
	assert.Equal(t, StateFailed, sum.State)
	assert.Equal(t, 1, f.cache.Size())
	assert.Equal(t, StateFailed, f.pipeline.State())

	stats := f.pipeline.Stats()
	assert.Equal(t, 1, stats.TotalRuns)
	assert.Equal(t, 1, stats.FailedRuns)
	require.NotNil(t, stats.LastError)
	assert.Equal(t, "[store] batch upsert failed", stats.LastError.Message)
	assert.Equal(t, "[store] batch upsert failed", sum.Error)
	assert.NotContains(t, stats.LastError.Message, "SQLSTATE")
	assert.Contains(t, err.Error(), "SQLSTATE")
	assert.Nil(t, stats.LastSuccess)
}

func TestCategoryFailureIsIsolated(t *testing.T) {
	f := newFixture(t, Options{})
	f.fetcher.listings["1"] = []deal.RawListing{listing("1001", "First deal")}
	f.fetcher.errs["2"] = apperrors.NewNetwork("algumon", "unexpected status code: 503", nil)
	f.fetcher.listings["3"] = []deal.RawListing{listing("3001", "Third deal")}

	sum, err := f.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"1", "2", "3"}, f.fetcher.calls)
	assert.Equal(t, 1, sum.FailedCategories)
	assert.Contains(t, sum.Categories[1].Error, "503")
	assert.Equal(t, 2, sum.Saved)
}

func TestEveryCategoryFailingFailsCycle(t *testing.T) {
	f := newFixture(t, Options{})
	for _, c := range deal.Categories[:3] {
		f.fetcher.errs[c.Code] = errors.New("dial tcp: timeout")
	}

	_, err := f.pipeline.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeNetwork))
	assert.Empty(t, f.store.submitted)
}

func TestEmptyCategoriesStillSucceed(t *testing.T) {
	f := newFixture(t, Options{})

	sum, err := f.pipeline.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Listings)
	assert.Equal(t, 1, f.pipeline.Stats().SuccessRuns)
}

func TestParallelFetchKeepsCategoryOrder(t *testing.T) {
	f := newFixture(t, Options{Parallel: true, Categories: deal.Categories})
	for _, c := range deal.Categories {
		id := c.Code + "00" + c.Code
		f.fetcher.listings[c.Code] = []deal.RawListing{listing(id, "Deal in "+c.Name)}
	}
	f.fetcher.errs["4"] = errors.New("boom")

	sum, err := f.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, sum.Categories, 6)
	for i, r := range sum.Categories {
		assert.Equal(t, deal.Categories[i].Code, r.Category.Code)
	}
	assert.Equal(t, []string{"1001", "2002", "3003", "5005", "6006"}, deal.IDs(f.store.submitted[0]))
	assert.Equal(t, 1, sum.FailedCategories)
}

func TestRunOnceRejectsConcurrentCycle(t *testing.T) {
	f := newFixture(t, Options{Categories: deal.Categories[:1]})
	f.fetcher.gate = make(chan struct{})
	f.fetcher.started = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := f.pipeline.RunOnce(context.Background())
		done <- err
	}()

	<-f.fetcher.started
	assert.True(t, f.pipeline.Running())
	assert.Equal(t, StateFetching, f.pipeline.State())

	_, err := f.pipeline.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)

	close(f.fetcher.gate)
	require.NoError(t, <-done)
	assert.False(t, f.pipeline.Running())
	assert.Equal(t, 1, f.pipeline.Stats().TotalRuns)
}

func TestCleanupRunsOncePerDay(t *testing.T) {
	f := newFixture(t, Options{RetentionDays: 7})

	sum, err := f.pipeline.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.CleanupRan)
	assert.Equal(t, int64(5), sum.CleanupDeleted)

	require.Len(t, f.store.deletes, 2)
	assert.True(t, f.store.deletes[0].missingIDOnly)
	assert.Equal(t, f.clock.Add(-7*24*time.Hour), f.store.deletes[0].cutoff)
	assert.False(t, f.store.deletes[1].missingIDOnly)
	assert.Equal(t, f.clock.Add(-14*24*time.Hour), f.store.deletes[1].cutoff)

	*f.clock = f.clock.Add(6 * time.Hour)
	sum, err = f.pipeline.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, sum.CleanupRan)
	assert.Len(t, f.store.deletes, 2)

	*f.clock = f.clock.Add(24 * time.Hour)
	sum, err = f.pipeline.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.CleanupRan)
	assert.Len(t, f.store.deletes, 4)
}

func TestCleanupFailureDoesNotFailCycle(t *testing.T) {
	f := newFixture(t, Options{RetentionDays: 7})
	f.store.deleteErr = errors.New("lock timeout")

	sum, err := f.pipeline.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.CleanupRan)
	assert.Equal(t, StateDone, sum.State)
}

func TestManualCleanup(t *testing.T) {
	f := newFixture(t, Options{})

	deleted, err := f.pipeline.Cleanup(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)
	assert.Equal(t, f.clock.Add(-3*24*time.Hour), f.store.deletes[0].cutoff)
	assert.Equal(t, f.clock.Add(-6*24*time.Hour), f.store.deletes[1].cutoff)

	_, err = f.pipeline.Cleanup(context.Background(), 0)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	f.store.deleteErr = errors.New("denied")
	_, err = f.pipeline.Cleanup(context.Background(), 3)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeCleanup))
}

func TestWarm(t *testing.T) {
	f := newFixture(t, Options{CacheWarmLimit: 2})
	f.store.recent = []string{"300", "200", "100"}

	loaded, err := f.pipeline.Warm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, 2, f.cache.Stats().TotalLoaded)

	f.store.recentErr = errors.New("relation \"deals\" does not exist")
	loaded, err = f.pipeline.Warm(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, loaded)
	assert.Equal(t, 2, f.cache.Size())
}

func TestPublishesSavedDeals(t *testing.T) {
	builder, err := deal.NewBuilder("https://www.algumon.com")
	require.NoError(t, err)

	fetcher := &mockFetcher{listings: map[string][]deal.RawListing{
		"1": {listing("1001", "Keyboard 39,000원"), listing("1002", "Mouse pad")},
	}}
	st := &mockStore{confirm: func(deals []deal.Deal) []string { return []string{"1002"} }}
	pub := &mockPublisher{}

	p, err := New(Deps{Fetcher: fetcher, Store: st, Cache: idcache.New(), Builder: builder, Publisher: pub},
		Options{Categories: deal.Categories[:1]})
	require.NoError(t, err)

	sum, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Published)
	assert.Equal(t, 1, pub.trims)

	require.Len(t, pub.messages, 1)
	var got deal.Deal
	require.NoError(t, json.Unmarshal(pub.messages[0], &got))
	assert.Equal(t, "1002", got.ID)
	assert.Equal(t, "https://www.algumon.com/l/d/1002?from=category", got.URL)
}

func TestStatsAccumulate(t *testing.T) {
	f := newFixture(t, Options{})
	f.fetcher.listings["1"] = []deal.RawListing{listing("1001", "First deal"), listing("1002", "Second deal")}

	_, err := f.pipeline.RunOnce(context.Background())
	require.NoError(t, err)
	_, err = f.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	stats := f.pipeline.Stats()
	assert.Equal(t, 2, stats.TotalRuns)
	assert.Equal(t, 2, stats.SuccessRuns)
	assert.Equal(t, 4, stats.TotalItems)
	assert.Equal(t, 2, stats.SavedItems)
	assert.Equal(t, 2, stats.SkippedItems)
	require.NotNil(t, stats.LastSuccess)
	assert.Equal(t, *f.clock, *stats.LastSuccess)

	efficiency := f.cache.Efficiency()
	assert.Equal(t, 50, efficiency.HitRate)
}
