package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sle-predictor-server/internal/domain"
	"github.com/sle-predictor-server/pkg/fields"
)

// Default and maximum page sizes for history listings.
const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

// Stages reported while a prediction is being computed.
var Stages = []string{
	"Processing Clinical Data",
	"Analyzing US Embeddings",
	"Processing CXR Features",
	"Evaluating Omic Data",
}

// Progress describes one pipeline stage that has started.
type Progress struct {
	Stage string `json:"stage"`
	Step  int    `json:"step"`
	Total int    `json:"total"`
}

// ProgressFunc receives progress updates. It is called synchronously.
type ProgressFunc func(Progress)

// ResultStore persists prediction results.
type ResultStore interface {
	Save(ctx context.Context, result *domain.PredictionResult) error
	Get(ctx context.Context, id string) (*domain.PredictionResult, error)
	List(ctx context.Context, limit, offset int) ([]*domain.PredictionResult, error)
	Count(ctx context.Context) (int64, error)
}

// ResultCache holds recently produced results. Get returns domain.ErrNotFound on a miss.
type ResultCache interface {
	Get(ctx context.Context, id string) (*domain.PredictionResult, error)
	Set(ctx context.Context, result *domain.PredictionResult) error
}

// Prediction is a result together with the tiers and plan derived from it.
type Prediction struct {
	Result    *domain.PredictionResult `json:"result"`
	SLETier   domain.RiskTier          `json:"sle_tier"`
	FlareTier domain.RiskTier          `json:"flare_tier"`
	Treatment domain.TreatmentPlan     `json:"treatment"`
}

// NewPrediction derives tiers and treatment for an existing result.
func NewPrediction(result *domain.PredictionResult) *Prediction {
	return &Prediction{
		Result:    result,
		SLETier:   Classify(result.SLEProbability),
		FlareTier: Classify(result.FlareProbability),
		Treatment: RecommendTreatment(result.SLEProbability, result.FlareProbability),
	}
}

// PredictionService runs submissions through validation, scoring, classification
// and assembly, then records the result. Store and cache are optional.
type PredictionService struct {
	schema         *fields.Schema
	scorer         *RiskScorer
	store          ResultStore
	cache          ResultCache
	inferenceDelay time.Duration
	logger         *logrus.Logger

	now   func() time.Time
	newID func() string
}

// NewPredictionService creates a new prediction service.
func NewPredictionService(scorer *RiskScorer, store ResultStore, cache ResultCache, cfg domain.ModelConfig, logger *logrus.Logger) *PredictionService {
	return &PredictionService{
		schema:         fields.DefaultSchema(),
		scorer:         scorer,
		store:          store,
		cache:          cache,
		inferenceDelay: cfg.InferenceDelay,
		logger:         logger,
		now:            time.Now,
		newID:          uuid.NewString,
	}
}

// Schema returns the field schema submissions are validated against.
func (s *PredictionService) Schema() *fields.Schema {
	return s.schema
}

// Scorer returns the underlying risk scorer.
func (s *PredictionService) Scorer() *RiskScorer {
	return s.scorer
}

// Predict runs one submission through the pipeline. Invalid input fails with a
// *fields.ValidationErrors before the model is touched; model failures wrap
// domain.ErrModelUnavailable. Nothing is stored unless the whole run succeeds.
func (s *PredictionService) Predict(ctx context.Context, sub *fields.Submission, progress ProgressFunc) (*Prediction, error) {
	start := s.now()
	record := sub.Record()

	validated, err := fields.Validate(record, s.schema)
	if err != nil {
		var verrs *fields.ValidationErrors
		if errors.As(err, &verrs) {
			s.logger.WithFields(logrus.Fields{
				"issues":         len(verrs.Issues),
				"missing_fields": len(verrs.MissingFields()),
			}).Warn("Submission failed validation")
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"fields":       len(validated.Values),
		"patient_name": validated.PatientName != "",
	}).Info("Submission accepted")

	if err := s.scorer.Load(ctx); err != nil {
		return nil, err
	}

	if err := s.runStages(ctx, progress); err != nil {
		return nil, err
	}

	scores, err := s.scorer.Score(ctx, validated)
	if err != nil {
		return nil, err
	}

	result := Assemble(record, scores, domain.FormatTimestamp(s.now()), validated.PatientName)
	result.ID = s.newID()
	result.DoctorNotes = sub.DoctorNotes
	result.ModelVersion = s.scorer.Version()
	delete(result.InputData, fields.PatientNameField)

	prediction := NewPrediction(result)
	s.record(ctx, result)

	s.logger.WithFields(logrus.Fields{
		"prediction_id":      result.ID,
		"sle_probability":    result.SLEProbability,
		"flare_probability":  result.FlareProbability,
		"sle_tier":           prediction.SLETier,
		"flare_tier":         prediction.FlareTier,
		"processing_time_ms": s.now().Sub(start).Milliseconds(),
	}).Info("Prediction completed")

	if prediction.SLETier == domain.RiskHigh {
		s.logger.WithFields(prediction.SLETier.LogFields()).
			WithField("prediction_id", result.ID).
			Warn("High SLE risk prediction")
	}

	return prediction, nil
}

// runStages reports each stage and waits out its share of the inference delay.
func (s *PredictionService) runStages(ctx context.Context, progress ProgressFunc) error {
	perStage := s.inferenceDelay / time.Duration(len(Stages))
	for i, stage := range Stages {
		if progress != nil {
			progress(Progress{Stage: stage, Step: i + 1, Total: len(Stages)})
		}
		if err := sleep(ctx, perStage); err != nil {
			return err
		}
	}
	return nil
}

// record saves the result to the store and cache. Failures are logged only.
func (s *PredictionService) record(ctx context.Context, result *domain.PredictionResult) {
	if s.store != nil {
		if err := s.store.Save(ctx, result); err != nil {
			s.logger.WithError(err).WithField("prediction_id", result.ID).Error("Failed to save prediction")
		}
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, result); err != nil {
			s.logger.WithError(err).WithField("prediction_id", result.ID).Warn("Failed to cache prediction")
		}
	}
}

// GetPrediction returns a stored result by ID, checking the cache first.
func (s *PredictionService) GetPrediction(ctx context.Context, id string) (*Prediction, error) {
	if s.cache != nil {
		result, err := s.cache.Get(ctx, id)
		if err == nil {
			return NewPrediction(result), nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WithError(err).WithField("prediction_id", id).Warn("Cache lookup failed")
		}
	}

	if s.store == nil {
		return nil, fmt.Errorf("prediction %s: %w", id, domain.ErrNotFound)
	}
	result, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, result); err != nil {
			s.logger.WithError(err).WithField("prediction_id", id).Warn("Failed to cache prediction")
		}
	}
	return NewPrediction(result), nil
}

// ListPredictions returns a page of stored results, newest first, and the total count.
func (s *PredictionService) ListPredictions(ctx context.Context, limit, offset int) ([]*domain.PredictionResult, int64, error) {
	if s.store == nil {
		return []*domain.PredictionResult{}, 0, nil
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	results, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing predictions: %w", err)
	}
	total, err := s.store.Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("counting predictions: %w", err)
	}
	return results, total, nil
}
