package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"

	"github.com/sle-predictor-server/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL history store.
// It expects the predictions table to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL history store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string, cfg domain.DatabaseConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen, maxIdle, lifetime := cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime
	if maxOpen <= 0 {
		maxOpen = 25
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

const postgresColumns = `id, patient_name, sle_diagnosis, sle_probability,
	flare_12m, flare_probability, doctor_notes, model_version,
	input_data, predicted_at`

// Save stores a prediction result.
func (s *PostgresStore) Save(ctx context.Context, result *domain.PredictionResult) error {
	input, err := encodeInput(result.InputData)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO predictions (` + postgresColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = s.db.ExecContext(ctx, query,
		result.ID,
		result.PatientName,
		result.SLEDiagnosis,
		result.SLEProbability,
		result.Flare12m,
		result.FlareProbability,
		result.DoctorNotes,
		result.ModelVersion,
		input,
		predictedAt(result),
	)
	if err != nil {
		return fmt.Errorf("failed to save prediction: %w", err)
	}
	return nil
}

func scanPostgresResult(s scanner) (*domain.PredictionResult, error) {
	r := &domain.PredictionResult{}
	var input []byte
	var at time.Time

	err := s.Scan(
		&r.ID, &r.PatientName, &r.SLEDiagnosis, &r.SLEProbability,
		&r.Flare12m, &r.FlareProbability, &r.DoctorNotes, &r.ModelVersion,
		&input, &at,
	)
	if err != nil {
		return nil, err
	}

	r.Timestamp = domain.FormatTimestamp(at)
	if r.InputData, err = decodeInput(input); err != nil {
		return nil, err
	}
	return r, nil
}

// Get retrieves a prediction result by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.PredictionResult, error) {
	query := `
		SELECT ` + postgresColumns + `
		FROM predictions
		WHERE id = $1
	`

	r, err := scanPostgresResult(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prediction %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	return r, nil
}

// List returns prediction results newest first with pagination.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*domain.PredictionResult, error) {
	query := `
		SELECT ` + postgresColumns + `
		FROM predictions
		ORDER BY predicted_at DESC, id
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}
	defer rows.Close()

	result := []*domain.PredictionResult{}
	for rows.Next() {
		r, err := scanPostgresResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Count returns the total number of stored predictions.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM predictions").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count predictions: %w", err)
	}
	return count, nil
}

// Delete removes a prediction by ID.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM predictions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete prediction: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("prediction %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ExportJSON exports all predictions to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// ImportJSON imports predictions from a JSON reader.
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importJSON(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
