// Package store defines the contract the ingestion pipeline needs from the
// deal store.
package store

import (
	"context"
	"time"

	"sjsage522/dealingest/internal/deal"
)

// Store persists deals keyed by identifier.
type Store interface {
	// RecentIDs returns up to limit identifiers, most recently stored first.
	RecentIDs(ctx context.Context, limit int) ([]string, error)
	// UpsertBatch inserts deals skipping any whose identifier already exists,
	// and returns the identifiers actually written. Either the whole batch is
	// attempted and reported or an error is returned with nothing written.
	UpsertBatch(ctx context.Context, deals []deal.Deal) ([]string, error)
	// DeleteOlderThan removes records created before cutoff. When
	// missingIDOnly is set only records without an identifier are removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, missingIDOnly bool) (int64, error)
	// Strategy names the write strategy selected for the backing schema.
	Strategy() string
}

// PriceRecorder is implemented by stores that keep a price history
type PriceRecorder interface {
	RecordPrices(ctx context.Context, deals []deal.Deal) (int, error)
}

// Stats describes stored deal counts
type Stats struct {
	TodayCount       int64     `json:"todayCount"`
	TotalCount       int64     `json:"totalCount"`
	WithIDCount      int64     `json:"withDealIdCount"`
	IDCompletionRate int       `json:"dealIdCompletionRate"`
	Strategy         string    `json:"strategy"`
	Timestamp        time.Time `json:"timestamp"`
}

// StatsReader is implemented by stores that can report counts
type StatsReader interface {
	Stats(ctx context.Context) (*Stats, error)
}
