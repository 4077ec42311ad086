package cache

import (
	"errors"
	"strconv"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired
var ErrMiss = errors.New("cache: miss")

// CacheService represents a key/value store with expiry
type CacheService interface {
	// Get retrieves a value, returning ErrMiss when absent
	Get(key string) ([]byte, error)

	// Set stores a value with an expiration time
	Set(key string, value []byte, expiration time.Duration) error

	// Delete removes a value; deleting an absent key is not an error
	Delete(key string) error
}

// RateLimiter records per-key block windows on top of a CacheService
type RateLimiter struct {
	svc CacheService
}

// NewRateLimiter wraps svc
func NewRateLimiter(svc CacheService) *RateLimiter {
	return &RateLimiter{svc: svc}
}

// Block marks key as blocked for d
func (r *RateLimiter) Block(key string, d time.Duration) error {
	return r.svc.Set(key, []byte(strconv.Itoa(int(d/time.Second))), d)
}

// Blocked reports whether key is inside a block window
func (r *RateLimiter) Blocked(key string) (bool, error) {
	_, err := r.svc.Get(key)
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Release lifts a block early
func (r *RateLimiter) Release(key string) error {
	return r.svc.Delete(key)
}
