// Package history persists prediction results so they can be listed, re-exported
// and moved between deployments.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sle-predictor-server/internal/domain"
)

// ExportVersion is the version written into JSON exports.
const ExportVersion = "1.0"

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// Store defines the interface for prediction history storage.
type Store interface {
	// Save stores a result. Saving an ID that already exists is a no-op.
	Save(ctx context.Context, result *domain.PredictionResult) error

	// Get retrieves a result by ID, or an error wrapping domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.PredictionResult, error)

	// List returns results newest first with pagination.
	List(ctx context.Context, limit, offset int) ([]*domain.PredictionResult, error)

	// Count returns the total number of stored results.
	Count(ctx context.Context) (int64, error)

	// Delete removes a result by ID.
	Delete(ctx context.Context, id string) error

	// ExportJSON writes every stored result to writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ImportJSON reads an export and saves results whose IDs are not yet stored.
	// Returns the number of imported and skipped entries.
	ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error)

	// Close closes the store and releases resources.
	Close() error
}

// Export represents the JSON export format.
type Export struct {
	Version     string                     `json:"version"`
	ExportedAt  time.Time                  `json:"exported_at"`
	Count       int                        `json:"count"`
	Predictions []*domain.PredictionResult `json:"predictions"`
}

func exportJSON(ctx context.Context, s Store, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list predictions: %w", err)
	}

	export := &Export{
		Version:     ExportVersion,
		ExportedAt:  time.Now().UTC(),
		Count:       len(all),
		Predictions: all,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func importJSON(ctx context.Context, s Store, reader io.Reader) (imported int, skipped int, err error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return 0, 0, fmt.Errorf("failed to decode JSON: %w", err)
	}

	for _, result := range export.Predictions {
		if result == nil || result.ID == "" {
			skipped++
			continue
		}

		_, err := s.Get(ctx, result.ID)
		if err == nil {
			skipped++
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return imported, skipped, fmt.Errorf("failed to check existing: %w", err)
		}

		if err := s.Save(ctx, result); err != nil {
			return imported, skipped, fmt.Errorf("failed to save: %w", err)
		}
		imported++
	}

	return imported, skipped, nil
}

// encodeInput serialises the submitted record for storage.
func encodeInput(rec domain.PatientRecord) (string, error) {
	if rec == nil {
		return "{}", nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode input data: %w", err)
	}
	return string(data), nil
}

func decodeInput(data []byte) (domain.PatientRecord, error) {
	rec := domain.PatientRecord{}
	if len(data) == 0 {
		return rec, nil
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode input data: %w", err)
	}
	return rec, nil
}

// predictedAt parses the result timestamp, falling back to now for legacy values.
func predictedAt(result *domain.PredictionResult) time.Time {
	if t := result.Time(); !t.IsZero() {
		return t.UTC()
	}
	return time.Now().UTC()
}

// Open creates the store selected by cfg.Driver. postgresURL is only used by the
// postgres driver.
func Open(cfg domain.DatabaseConfig, postgresURL string) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		store, err := NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := NewPostgresStoreFromURL(postgresURL, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported history driver %q", cfg.Driver)
	}
}
