package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/sle-predictor-server/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite history store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets readers proceed while a prediction is being written.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanResult(s scanner) (*domain.PredictionResult, error) {
	r := &domain.PredictionResult{}
	var input string

	err := s.Scan(
		&r.ID, &r.PatientName, &r.SLEDiagnosis, &r.SLEProbability,
		&r.Flare12m, &r.FlareProbability, &r.DoctorNotes, &r.ModelVersion,
		&input, &r.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	if r.InputData, err = decodeInput([]byte(input)); err != nil {
		return nil, err
	}
	return r, nil
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS predictions (
		id TEXT PRIMARY KEY,
		patient_name TEXT NOT NULL DEFAULT '',
		sle_diagnosis INTEGER NOT NULL,
		sle_probability REAL NOT NULL,
		flare_12m INTEGER NOT NULL,
		flare_probability REAL NOT NULL,
		doctor_notes TEXT NOT NULL DEFAULT '',
		model_version TEXT NOT NULL DEFAULT '',
		input_data TEXT NOT NULL DEFAULT '{}',
		predicted_at TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_predictions_predicted_at ON predictions(predicted_at);
	CREATE INDEX IF NOT EXISTS idx_predictions_patient_name ON predictions(patient_name);
	`

	_, err := db.Exec(schema)
	return err
}

const sqliteColumns = `id, patient_name, sle_diagnosis, sle_probability,
	flare_12m, flare_probability, doctor_notes, model_version,
	input_data, predicted_at`

// Save stores a prediction result.
func (s *SQLiteStore) Save(ctx context.Context, result *domain.PredictionResult) error {
	input, err := encodeInput(result.InputData)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO predictions (`+sqliteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		result.ID,
		result.PatientName,
		result.SLEDiagnosis,
		result.SLEProbability,
		result.Flare12m,
		result.FlareProbability,
		result.DoctorNotes,
		result.ModelVersion,
		input,
		domain.FormatTimestamp(predictedAt(result)),
	)
	if err != nil {
		return fmt.Errorf("failed to insert: %w", err)
	}
	return nil
}

// Get retrieves a prediction result by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.PredictionResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteColumns+`
		FROM predictions
		WHERE id = ?
	`, id)

	r, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prediction %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return r, nil
}

// List returns prediction results newest first with pagination.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*domain.PredictionResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sqliteColumns+`
		FROM predictions
		ORDER BY predicted_at DESC, id
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	result := []*domain.PredictionResult{}
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Count returns the total number of stored predictions.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM predictions").Scan(&count)
	return count, err
}

// Delete removes a prediction by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM predictions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("prediction %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ExportJSON exports all predictions to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// ImportJSON imports predictions from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importJSON(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
