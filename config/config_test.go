package config

import (
	"testing"
	"time"

	apperrors "sjsage522/dealingest/pkg/errors"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	// Test with default values
	config := LoadConfig()
	assert.Equal(t, "localhost:6379", config.RedisAddr)
	assert.Equal(t, 0, config.RedisDB)
	assert.Equal(t, 1, config.RedisStreamCount)
	assert.Equal(t, "localhost:11211", config.MemcacheAddr)
	assert.Equal(t, 300*time.Second, config.CrawlInterval)
	assert.Equal(t, time.Second, config.CategoryPause)
	assert.Equal(t, 2000, config.CacheWarmLimit)
	assert.Equal(t, 7, config.RetentionDays)
	assert.Equal(t, "https://www.algumon.com", config.AlgumonURL)
	assert.False(t, config.ParallelFetch)
	assert.NoError(t, config.Validate())

	// Test with environment variables
	t.Setenv("REDIS_ADDR", "redis.example.com:6379")
	t.Setenv("REDIS_DB", "1")
	t.Setenv("MEMCACHE_ADDR", "memcache.example.com:11211")
	t.Setenv("CRAWL_INTERVAL_SECONDS", "30")
	t.Setenv("ALGUMON_URL", "https://example.com/")
	t.Setenv("PARALLEL_FETCH", "true")
	t.Setenv("CATEGORY_PAUSE_MS", "250")
	t.Setenv("RETENTION_DAYS", "14")

	config = LoadConfig()
	assert.Equal(t, "redis.example.com:6379", config.RedisAddr)
	assert.Equal(t, 1, config.RedisDB)
	assert.Equal(t, "memcache.example.com:11211", config.MemcacheAddr)
	assert.Equal(t, 30*time.Second, config.CrawlInterval)
	assert.Equal(t, "https://example.com", config.AlgumonURL)
	assert.True(t, config.ParallelFetch)
	assert.Equal(t, 250*time.Millisecond, config.CategoryPause)
	assert.Equal(t, 14, config.RetentionDays)
}

func TestLoadConfigIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("CACHE_WARM_LIMIT", "lots")
	t.Setenv("AUTO_MIGRATE", "maybe")

	config := LoadConfig()
	assert.Equal(t, 2000, config.CacheWarmLimit)
	assert.False(t, config.AutoMigrate)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"relative site url", func(c *Config) { c.AlgumonURL = "/category" }},
		{"empty database url", func(c *Config) { c.DatabaseURL = "" }},
		{"zero interval", func(c *Config) { c.CrawlInterval = 0 }},
		{"zero warm limit", func(c *Config) { c.CacheWarmLimit = 0 }},
		{"zero retention", func(c *Config) { c.RetentionDays = 0 }},
		{"publishing without streams", func(c *Config) {
			c.PublishEnabled = true
			c.RedisStreamCount = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			config := LoadConfig()
			tc.mutate(config)
			err := config.Validate()
			assert.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeConfiguration))
		})
	}
}
