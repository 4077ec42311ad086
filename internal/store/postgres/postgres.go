package postgres

import (
	"context"
	"fmt"
	"time"

	"sjsage522/dealingest/internal/deal"
	"sjsage522/dealingest/internal/store"
	"sjsage522/dealingest/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// MallName tags every row this ingester owns
	MallName = "알구몬"
	// Source records the writer of a row
	Source = "Crawler-알구몬-v2"

	deliveryInfo    = "원문 확인"
	defaultCategory = "general"

	StrategyUpsert = "upsert"
	StrategyURL    = "url_check"
)

const dealIDCapabilityQuery = `
	SELECT EXISTS (
		SELECT 1
		FROM information_schema.columns
		WHERE table_schema = current_schema()
		  AND table_name = 'deals'
		  AND column_name = 'deal_id'
	) AND EXISTS (
		SELECT 1
		FROM pg_indexes
		WHERE schemaname = current_schema()
		  AND tablename = 'deals'
		  AND indexdef ILIKE 'CREATE UNIQUE INDEX%(deal_id)'
	)
`

// Connect opens a pool and verifies it answers
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	const op = "store.postgres.Connect"

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return pool, nil
}

// HasUniqueDealID reports whether the deals table carries a uniquely indexed
// deal_id column, which the conflict-ignoring upsert needs.
func HasUniqueDealID(ctx context.Context, pool *pgxpool.Pool) (bool, error) {
	const op = "store.postgres.HasUniqueDealID"

	var ok bool
	if err := pool.QueryRow(ctx, dealIDCapabilityQuery).Scan(&ok); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return ok, nil
}

// New inspects the schema once and returns the matching store. Schemas without
// a unique deal_id fall back to checking each record by URL before insert.
func New(ctx context.Context, pool *pgxpool.Pool, log *logger.Logger) (store.Store, error) {
	if log == nil {
		log = logger.Nop()
	}

	ok, err := HasUniqueDealID(ctx, pool)
	if err != nil {
		return nil, err
	}

	b := base{db: pool, log: log, now: time.Now}
	if ok {
		log.Info().Str("strategy", StrategyUpsert).Msg("Using identifier upsert")
		return &UpsertStore{base: b}, nil
	}

	log.Warn().Str("strategy", StrategyURL).Msg("deals.deal_id is missing or not unique, falling back to URL checks")
	return &URLStore{base: b}, nil
}

// base holds what both strategies share
type base struct {
	db  *pgxpool.Pool
	log *logger.Logger
	now func() time.Time
}

// RecordPrices appends a price_history row for every priced deal
func (b *base) RecordPrices(ctx context.Context, deals []deal.Deal) (int, error) {
	const op = "store.postgres.RecordPrices"

	query := `
		INSERT INTO price_history (deal_id, price, original_price, discount_rate, crawled_at)
		VALUES ($1, $2, $3, 0, $4)
	`

	batch := &pgx.Batch{}
	for _, d := range deals {
		if !d.HasPrice {
			continue
		}
		batch.Queue(query, d.ID, d.Price, d.Price, capturedAt(d, b.now))
	}
	if batch.Len() == 0 {
		return 0, nil
	}

	if err := b.db.SendBatch(ctx, batch).Close(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return batch.Len(), nil
}

func (b *base) countRows(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	err := b.db.QueryRow(ctx, query, args...).Scan(&n)
	return n, err
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func completionRate(withID, total int64) int {
	if total == 0 {
		return 0
	}
	return int(withID * 100 / total)
}

var (
	_ store.Store         = (*UpsertStore)(nil)
	_ store.PriceRecorder = (*UpsertStore)(nil)
	_ store.StatsReader   = (*UpsertStore)(nil)
	_ store.Store         = (*URLStore)(nil)
	_ store.PriceRecorder = (*URLStore)(nil)
	_ store.StatsReader   = (*URLStore)(nil)
)
