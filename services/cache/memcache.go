package cache

import (
	"errors"
	"time"

	apperrors "sjsage522/dealingest/pkg/errors"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcacheService implements CacheService using memcache
type MemcacheService struct {
	client *memcache.Client
	prefix string
}

// NewMemcacheService creates a memcache service; every key is namespaced by prefix
func NewMemcacheService(serverAddr, prefix string) *MemcacheService {
	client := memcache.New(serverAddr)
	client.Timeout = 500 * time.Millisecond

	return &MemcacheService{
		client: client,
		prefix: prefix,
	}
}

// Ping checks that the server answers
func (m *MemcacheService) Ping() error {
	if err := m.client.Ping(); err != nil {
		return apperrors.NewCache("memcache", "ping failed", err)
	}
	return nil
}

// Get retrieves a value from memcache
func (m *MemcacheService) Get(key string) ([]byte, error) {
	item, err := m.client.Get(m.prefix + key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, apperrors.NewCache("memcache", "get "+key, err)
	}
	return item.Value, nil
}

// Set stores a value in memcache with an expiration time
func (m *MemcacheService) Set(key string, value []byte, expiration time.Duration) error {
	err := m.client.Set(&memcache.Item{
		Key:        m.prefix + key,
		Value:      value,
		Expiration: int32(expiration.Seconds()),
	})
	if err != nil {
		return apperrors.NewCache("memcache", "set "+key, err)
	}
	return nil
}

// Delete removes a value from memcache
func (m *MemcacheService) Delete(key string) error {
	err := m.client.Delete(m.prefix + key)
	if err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return apperrors.NewCache("memcache", "delete "+key, err)
	}
	return nil
}
