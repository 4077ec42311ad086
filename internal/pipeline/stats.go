package pipeline

import (
	"time"

	"sjsage522/dealingest/internal/deal"
	apperrors "sjsage522/dealingest/pkg/errors"
)

// CategoryResult is the outcome of one category fetch
type CategoryResult struct {
	Category deal.Category `json:"category"`
	Listings int           `json:"listings"`
	Built    int           `json:"built"`
	Error    string        `json:"error,omitempty"`
}

// Summary reports one cycle
type Summary struct {
	RunID             string           `json:"runId"`
	StartedAt         time.Time        `json:"startedAt"`
	Duration          time.Duration    `json:"duration"`
	State             State            `json:"state"`
	Error             string           `json:"error,omitempty"`
	Categories        []CategoryResult `json:"categories"`
	FailedCategories  int              `json:"failedCategories"`
	Listings          int              `json:"listings"`
	Built             int              `json:"built"`
	Dropped           int              `json:"dropped"`
	Unique            int              `json:"unique"`
	DuplicatesRemoved int              `json:"duplicatesRemoved"`
	CacheHits         int              `json:"cacheHits"`
	Submitted         int              `json:"submitted"`
	Saved             int              `json:"saved"`
	Skipped           int              `json:"skipped"`
	CacheAdded        int              `json:"cacheAdded"`
	PricesRecorded    int              `json:"pricesRecorded"`
	Published         int              `json:"published"`
	CleanupRan        bool             `json:"cleanupRan"`
	CleanupDeleted    int64            `json:"cleanupDeleted"`
}

// LastError describes the most recent failed cycle
type LastError struct {
	Message  string        `json:"message"`
	Time     time.Time     `json:"time"`
	Duration time.Duration `json:"duration"`
}

// CycleStats are cumulative counters over the process lifetime
type CycleStats struct {
	TotalRuns    int        `json:"totalRuns"`
	SuccessRuns  int        `json:"successRuns"`
	FailedRuns   int        `json:"failedRuns"`
	TotalItems   int        `json:"totalItems"`
	SavedItems   int        `json:"savedItems"`
	SkippedItems int        `json:"skippedItems"`
	LastRunID    string     `json:"lastRunId,omitempty"`
	LastSuccess  *time.Time `json:"lastSuccess,omitempty"`
	LastError    *LastError `json:"lastError,omitempty"`
}

// Stats returns a snapshot of the cumulative counters
func (p *Pipeline) Stats() CycleStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	if s.LastSuccess != nil {
		t := *s.LastSuccess
		s.LastSuccess = &t
	}
	if s.LastError != nil {
		e := *s.LastError
		s.LastError = &e
	}
	return s
}

func (p *Pipeline) record(sum *Summary, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.TotalRuns++
	p.stats.LastRunID = sum.RunID
	p.stats.TotalItems += sum.Unique

	if err != nil {
		p.stats.FailedRuns++
		p.stats.LastError = &LastError{
			Message:  apperrors.Message(err),
			Time:     p.now(),
			Duration: sum.Duration,
		}
		return
	}

	p.stats.SuccessRuns++
	p.stats.SavedItems += sum.Saved
	p.stats.SkippedItems += sum.Skipped
	finished := sum.StartedAt.Add(sum.Duration)
	p.stats.LastSuccess = &finished
}
