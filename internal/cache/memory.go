package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sle-predictor-server/internal/domain"
)

// MemoryCache is an in-process LRU with per-entry expiry.
type MemoryCache struct {
	lru  *expirable.LRU[string, *domain.PredictionResult]
	size int
	ttl  time.Duration
}

// NewMemoryCache creates a cache holding at most size results for ttl each.
// Non-positive arguments fall back to 1000 entries and one hour.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = defaultMaxItems
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryCache{
		lru:  expirable.NewLRU[string, *domain.PredictionResult](size, nil, ttl),
		size: size,
		ttl:  ttl,
	}
}

func (c *MemoryCache) Get(_ context.Context, id string) (*domain.PredictionResult, error) {
	r, ok := c.lru.Get(id)
	if !ok {
		return nil, fmt.Errorf("cached prediction %s: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

func (c *MemoryCache) Set(_ context.Context, result *domain.PredictionResult) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("cannot cache a result without an ID")
	}
	c.lru.Add(result.ID, result)
	return nil
}

// Len returns the number of cached results.
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}

func (c *MemoryCache) Close() error {
	c.lru.Purge()
	return nil
}
