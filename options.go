package boc

import (
	"fmt"
	"time"
)

var (
	defaultCacheCapacity = 300
	defaultCacheTTL      = time.Hour
)

type config struct {
	capacity int
	ttl      time.Duration
	now      func() time.Time
}

type Option func(*config) error

// CacheCapacity bounds how many library cells the cache retains.
func CacheCapacity(n int) Option {
	return func(c *config) error {
		if n < 1 {
			return fmt.Errorf("cache capacity must be positive, is %d", n)
		}
		c.capacity = n
		return nil
	}
}

// CacheTTL bounds how long a cached library cell stays valid.
func CacheTTL(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return fmt.Errorf("cache ttl must be positive, is %s", d)
		}
		c.ttl = d
		return nil
	}
}

func withClock(now func() time.Time) Option {
	return func(c *config) error {
		c.now = now
		return nil
	}
}

func defaultConfig() *config {
	return &config{
		capacity: defaultCacheCapacity,
		ttl:      defaultCacheTTL,
		now:      time.Now,
	}
}
