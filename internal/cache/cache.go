// Package cache keeps recently produced prediction results close to the API so
// report and export requests avoid a round trip to the history store.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sle-predictor-server/internal/domain"
)

// Cache stores prediction results by ID.
type Cache interface {
	// Get returns the cached result or an error wrapping domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.PredictionResult, error)
	Set(ctx context.Context, result *domain.PredictionResult) error
	Close() error
}

// New creates the cache selected by cfg.Backend.
func New(cfg domain.CacheConfig, logger *logrus.Logger) (Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		c := NewMemoryCache(cfg.MaxItems, cfg.DefaultTTL)
		logger.WithFields(logrus.Fields{
			"backend":   "memory",
			"max_items": c.size,
			"ttl":       c.ttl.String(),
		}).Info("Result cache initialized")
		return c, nil
	case "redis":
		c, err := NewRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		logger.WithField("backend", "redis").Info("Result cache initialized")
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Backend)
	}
}

const (
	defaultMaxItems = 1000
	defaultTTL      = time.Hour
)
