package pipeline

import (
	"context"
	"time"

	apperrors "sjsage522/dealingest/pkg/errors"
)

const day = 24 * time.Hour

// cleanupDue reports whether the daily cleanup has not run yet today and
// claims today's slot. The slot is claimed before the attempt, so a failed
// cleanup is retried the next day, not the next cycle.
func (p *Pipeline) cleanupDue() bool {
	if p.opts.RetentionDays <= 0 {
		return false
	}

	today := p.now().Format("2006-01-02")

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastCleanupDay == today {
		return false
	}
	p.lastCleanupDay = today
	return true
}

// Cleanup deletes records without an identifier older than days, then every
// record older than twice that window. It returns the total deleted.
func (p *Pipeline) Cleanup(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, apperrors.NewValidation("cleanup", "retention days must be positive")
	}

	now := p.now()
	window := time.Duration(days) * day

	missing, err := p.store.DeleteOlderThan(ctx, now.Add(-window), true)
	if err != nil {
		return 0, apperrors.NewCleanup("records without identifier", err)
	}

	expired, err := p.store.DeleteOlderThan(ctx, now.Add(-2*window), false)
	if err != nil {
		return missing, apperrors.NewCleanup("expired records", err)
	}

	p.log.Info().
		Int("retention_days", days).
		Int64("without_identifier", missing).
		Int64("expired", expired).
		Msg("Retention cleanup completed")

	return missing + expired, nil
}
