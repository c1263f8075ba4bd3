package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/sle-predictor-server/internal/domain"
	"github.com/sle-predictor-server/pkg/fields"
)

// RiskScorer owns a Model and the one-time load that gates it. Each scorer has its
// own loaded flag, so independent instances never share state.
type RiskScorer struct {
	model   Model
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger

	mu     sync.Mutex
	loaded bool
}

// NewRiskScorer wraps model with a circuit breaker configured from cfg.
func NewRiskScorer(model Model, cfg domain.BreakerConfig, logger *logrus.Logger) *RiskScorer {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	s := &RiskScorer{model: model, logger: logger}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "prediction-model",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
	return s
}

// Load initialises the model once. Later calls are no-ops; a failed load leaves the
// scorer unloaded so the next call retries.
func (s *RiskScorer) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return nil
	}

	start := time.Now()
	if err := s.model.Load(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		s.logger.WithError(err).Error("Failed to load prediction model")
		return fmt.Errorf("%w: loading model: %v", domain.ErrModelUnavailable, err)
	}
	s.loaded = true

	s.logger.WithFields(logrus.Fields{
		"model_version": s.model.Version(),
		"duration_ms":   time.Since(start).Milliseconds(),
	}).Info("Prediction model loaded")
	return nil
}

// IsLoaded reports whether the model has been loaded.
func (s *RiskScorer) IsLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Version returns the wrapped model's version.
func (s *RiskScorer) Version() string {
	return s.model.Version()
}

// Score loads the model if needed and returns clamped probabilities.
func (s *RiskScorer) Score(ctx context.Context, rec *fields.ValidatedRecord) (domain.RiskScores, error) {
	if err := s.Load(ctx); err != nil {
		return domain.RiskScores{}, err
	}

	out, err := s.breaker.Execute(func() (interface{}, error) {
		return s.model.Predict(ctx, rec)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.RiskScores{}, ctxErr
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.RiskScores{}, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, err)
		}
		return domain.RiskScores{}, fmt.Errorf("%w: prediction failed: %v", domain.ErrModelUnavailable, err)
	}

	scores := out.(domain.RiskScores)
	scores.SLEProbability = clamp01(scores.SLEProbability)
	scores.FlareProbability = clamp01(scores.FlareProbability)
	return scores, nil
}
