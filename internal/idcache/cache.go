// Package idcache keeps the set of deal identifiers already known to the store,
// so a cycle can skip store writes for listings it has seen before.
//
// The cache is owned by the ingestion pipeline. Mutation goes through Load,
// Add, AddMany and Clear only; the internal lock lets status readers observe
// stats while a cycle is running.
package idcache

import (
	"math"
	"regexp"
	"sort"
	"sync"
	"time"
)

// Stats describes the cache contents and counters
type Stats struct {
	TotalLoaded       int       `json:"totalLoaded"`
	DuplicatesBlocked int       `json:"duplicatesBlocked"`
	NewDealsAdded     int       `json:"newDealsAdded"`
	LoadedAt          time.Time `json:"loadedAt"`
	LastUpdate        time.Time `json:"lastUpdate"`
	CurrentSize       int       `json:"currentSize"`
}

// Efficiency summarizes how many store round trips the cache avoided
type Efficiency struct {
	HitRate       int `json:"hitRate"`
	MissRate      int `json:"missRate"`
	TotalRequests int `json:"totalRequests"`
	SavedQueries  int `json:"savedQueries"`
}

// Cache is the process-wide identifier set
type Cache struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	stats Stats
	now   func() time.Time
}

// New creates an empty cache
func New() *Cache {
	return &Cache{
		ids: make(map[string]struct{}),
		now: time.Now,
	}
}

// Load replaces the set wholesale. Blocked/added counters survive reloads so
// efficiency reflects the whole process uptime. It returns the loaded count.
func (c *Cache) Load(ids []string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ids = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			c.ids[id] = struct{}{}
		}
	}

	now := c.now()
	c.stats.TotalLoaded = len(c.ids)
	c.stats.LoadedAt = now
	c.stats.LastUpdate = now
	return len(c.ids)
}

// Contains reports whether id is known. A positive answer is counted as a
// blocked duplicate.
func (c *Cache) Contains(id string) bool {
	if id == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.ids[id]; !ok {
		return false
	}
	c.stats.DuplicatesBlocked++
	c.stats.LastUpdate = c.now()
	return true
}

// Add inserts id and reports whether it was newly added
func (c *Cache) Add(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.addLocked(id)
}

// AddMany inserts every id and returns how many were newly added
func (c *Cache) AddMany(ids []string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	added := 0
	for _, id := range ids {
		if c.addLocked(id) {
			added++
		}
	}
	return added
}

func (c *Cache) addLocked(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := c.ids[id]; ok {
		return false
	}

	c.ids[id] = struct{}{}
	c.stats.NewDealsAdded++
	c.stats.LastUpdate = c.now()
	return true
}

// Clear empties the set and resets every counter, stamping a new last update
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := len(c.ids)
	c.ids = make(map[string]struct{})
	c.stats = Stats{LastUpdate: c.now()}
	return removed
}

// Size returns the number of cached identifiers
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.ids)
}

// Stats returns a snapshot of the counters
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.CurrentSize = len(c.ids)
	return s
}

// Efficiency derives hit and miss rates from the counters, rounded to whole percents
func (c *Cache) Efficiency() Efficiency {
	s := c.Stats()
	total := s.DuplicatesBlocked + s.NewDealsAdded

	e := Efficiency{
		TotalRequests: total,
		SavedQueries:  s.DuplicatesBlocked,
	}
	if total > 0 {
		e.HitRate = percent(s.DuplicatesBlocked, total)
		e.MissRate = percent(s.NewDealsAdded, total)
	}
	return e
}

// Search returns the cached identifiers matching pattern, case-insensitively, sorted
func (c *Cache) Search(pattern string) ([]string, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	matches := make([]string, 0)
	for id := range c.ids {
		if re.MatchString(id) {
			matches = append(matches, id)
		}
	}
	c.mu.Unlock()

	sort.Strings(matches)
	return matches, nil
}

func percent(part, total int) int {
	return int(math.Round(float64(part) / float64(total) * 100))
}
