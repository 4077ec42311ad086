package dedup

import (
	"sjsage522/dealingest/internal/deal"
)

// Seen answers whether an identifier is already known
type Seen interface {
	Contains(id string) bool
}

// Partition splits a batch by cache membership
type Partition struct {
	New       []deal.Deal
	Duplicate []deal.Deal
}

// Unique collapses a batch to one deal per identifier, keeping the first
// occurrence. Later duplicates are discarded without merging fields.
func Unique(deals []deal.Deal) ([]deal.Deal, int) {
	seen := make(map[string]struct{}, len(deals))
	unique := make([]deal.Deal, 0, len(deals))

	for _, d := range deals {
		if d.ID == "" {
			continue
		}
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		unique = append(unique, d)
	}

	return unique, len(deals) - len(unique)
}

// Filter partitions an already unique batch against the known identifiers.
// It only saves store writes; the store conflict policy stays authoritative.
func Filter(deals []deal.Deal, known Seen) Partition {
	p := Partition{
		New:       make([]deal.Deal, 0, len(deals)),
		Duplicate: make([]deal.Deal, 0),
	}

	for _, d := range deals {
		if known.Contains(d.ID) {
			p.Duplicate = append(p.Duplicate, d)
			continue
		}
		p.New = append(p.New, d)
	}

	return p
}
