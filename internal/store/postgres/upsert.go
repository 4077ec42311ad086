package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sjsage522/dealingest/internal/deal"
	"sjsage522/dealingest/internal/store"

	"github.com/jackc/pgx/v5"
)

// UpsertStore writes through a unique deal_id index, letting the database
// drop rows whose identifier or composite id already exists. Rows written
// before the deal_id column existed only carry the composite id.
type UpsertStore struct {
	base
}

var upsertQuery = `
	INSERT INTO deals (deal_id, ` + dealColumns + `)
	VALUES ($1, ` + placeholders(2, 21) + `)
	ON CONFLICT DO NOTHING
	RETURNING deal_id
`

// Strategy implements store.Store
func (s *UpsertStore) Strategy() string { return StrategyUpsert }

// RecentIDs implements store.Store
func (s *UpsertStore) RecentIDs(ctx context.Context, limit int) ([]string, error) {
	const op = "store.postgres.UpsertStore.RecentIDs"

	query := `
		SELECT deal_id
		FROM deals
		WHERE deal_id IS NOT NULL AND mall_name = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.Query(ctx, query, MallName, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return ids, nil
}

// UpsertBatch implements store.Store. The batch runs in one transaction;
// a row whose identifier already exists returns nothing and is skipped.
func (s *UpsertStore) UpsertBatch(ctx context.Context, deals []deal.Deal) ([]string, error) {
	const op = "store.postgres.UpsertStore.UpsertBatch"

	if len(deals) == 0 {
		return []string{}, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", op, err)
	}
	defer tx.Rollback(ctx)

	now := s.now()
	batch := &pgx.Batch{}
	for _, d := range deals {
		args := append([]any{d.ID}, dealRow(d, now)...)
		batch.Queue(upsertQuery, args...)
	}

	br := tx.SendBatch(ctx, batch)
	written := make([]string, 0, len(deals))
	for _, d := range deals {
		var id string
		err := br.QueryRow().Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			br.Close()
			return nil, fmt.Errorf("%s: deal %s: %w", op, d.ID, err)
		}
		written = append(written, id)
	}

	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: commit: %w", op, err)
	}

	s.log.Debug().
		Int("attempted", len(deals)).
		Int("written", len(written)).
		Msg("Upsert batch committed")

	return written, nil
}

// DeleteOlderThan implements store.Store
func (s *UpsertStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, missingIDOnly bool) (int64, error) {
	const op = "store.postgres.UpsertStore.DeleteOlderThan"

	query := `DELETE FROM deals WHERE mall_name = $1 AND created_at < $2`
	if missingIDOnly {
		query += ` AND deal_id IS NULL`
	}

	tag, err := s.db.Exec(ctx, query, MallName, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

// Stats implements store.StatsReader
func (s *UpsertStore) Stats(ctx context.Context) (*store.Stats, error) {
	const op = "store.postgres.UpsertStore.Stats"

	now := s.now()
	st := &store.Stats{Strategy: StrategyUpsert, Timestamp: now}

	var err error
	if st.TodayCount, err = s.countRows(ctx,
		`SELECT COUNT(*) FROM deals WHERE mall_name = $1 AND created_at >= $2`, MallName, startOfDay(now)); err != nil {
		return nil, fmt.Errorf("%s: today: %w", op, err)
	}
	if st.TotalCount, err = s.countRows(ctx,
		`SELECT COUNT(*) FROM deals WHERE mall_name = $1`, MallName); err != nil {
		return nil, fmt.Errorf("%s: total: %w", op, err)
	}
	if st.WithIDCount, err = s.countRows(ctx,
		`SELECT COUNT(*) FROM deals WHERE mall_name = $1 AND deal_id IS NOT NULL`, MallName); err != nil {
		return nil, fmt.Errorf("%s: with id: %w", op, err)
	}

	st.IDCompletionRate = completionRate(st.WithIDCount, st.TotalCount)
	return st, nil
}
