package postgres

import (
	"context"
	"fmt"
	"time"

	"sjsage522/dealingest/internal/deal"
	"sjsage522/dealingest/internal/store"

	"github.com/jackc/pgx/v5"
)

// URLStore serves schemas without a unique deal_id. Every record costs a
// NOT EXISTS lookup on its URL, and identifiers are recovered from stored URLs.
type URLStore struct {
	base
}

// Casts are needed because INSERT ... SELECT does not infer parameter types
// from the target columns.
const urlInsertQuery = `
	INSERT INTO deals (` + dealColumns + `)
	SELECT $1::text, $2::text, $3::integer, $4::integer, $5::integer, $6::boolean, $7::text,
		$8::text, $9::text, $10::text, $11::text, $12::text, $13::text, $14::text,
		$15::text, $16::text, $17::timestamptz, $18::timestamptz, $19::timestamptz, $20::timestamptz
	WHERE NOT EXISTS (SELECT 1 FROM deals WHERE url = $13::text OR id = $1::text)
`

// Strategy implements store.Store
func (s *URLStore) Strategy() string { return StrategyURL }

// RecentIDs implements store.Store. Rows whose URL carries no valid
// identifier are skipped, so fewer than limit may be returned.
func (s *URLStore) RecentIDs(ctx context.Context, limit int) ([]string, error) {
	const op = "store.postgres.URLStore.RecentIDs"

	query := `
		SELECT url
		FROM deals
		WHERE mall_name = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, MallName, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	urls, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ids := make([]string, 0, len(urls))
	for _, u := range urls {
		if id, ok := deal.ExtractID(u); ok {
			ids = append(ids, id)
		}
	}

	return ids, nil
}

// UpsertBatch implements store.Store. Records go one by one inside a single
// transaction; one whose URL or composite id is already stored is skipped.
func (s *URLStore) UpsertBatch(ctx context.Context, deals []deal.Deal) ([]string, error) {
	const op = "store.postgres.URLStore.UpsertBatch"

	if len(deals) == 0 {
		return []string{}, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback(ctx)

	now := s.now()
	written := make([]string, 0, len(deals))
	for _, d := range deals {
		tag, err := tx.Exec(ctx, urlInsertQuery, dealRow(d, now)...)
		if err != nil {
			return nil, fmt.Errorf("%s: deal %s: %w", op, d.ID, err)
		}
		if tag.RowsAffected() == 1 {
			written = append(written, d.ID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	s.log.Debug().
		Int("attempted", len(deals)).
		Int("written", len(written)).
		Msg("URL checked batch committed")

	return written, nil
}

// DeleteOlderThan implements store.Store. Without an identifier column every
// row counts as missing one, so both passes delete by age alone.
func (s *URLStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, _ bool) (int64, error) {
	const op = "store.postgres.URLStore.DeleteOlderThan"

	tag, err := s.db.Exec(ctx, `DELETE FROM deals WHERE mall_name = $1 AND created_at < $2`, MallName, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

// Stats implements store.StatsReader
func (s *URLStore) Stats(ctx context.Context) (*store.Stats, error) {
	const op = "store.postgres.URLStore.Stats"

	now := s.now()
	st := &store.Stats{Strategy: StrategyURL, Timestamp: now}

	var err error
	if st.TodayCount, err = s.countRows(ctx,
		`SELECT COUNT(*) FROM deals WHERE mall_name = $1 AND created_at >= $2`, MallName, startOfDay(now)); err != nil {
		return nil, fmt.Errorf("%s: today: %w", op, err)
	}
	if st.TotalCount, err = s.countRows(ctx,
		`SELECT COUNT(*) FROM deals WHERE mall_name = $1`, MallName); err != nil {
		return nil, fmt.Errorf("%s: total: %w", op, err)
	}

	return st, nil
}
