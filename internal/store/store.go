package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/scribe/internal/types"
)

// Store manages the PostgreSQL connection holding prediction history.
type Store struct {
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the history table if it doesn't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS predictions (
			id BIGSERIAL PRIMARY KEY,
			request_id TEXT NOT NULL UNIQUE,
			image_id TEXT NOT NULL DEFAULT '',
			prediction TEXT NOT NULL DEFAULT '',
			error_kind TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			duration_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS predictions_image_id_idx ON predictions (image_id);
		CREATE INDEX IF NOT EXISTS predictions_created_at_idx ON predictions (created_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// RecordPrediction saves the outcome of one request. Recording the same request twice keeps the
// latest outcome.
func (s *Store) RecordPrediction(ctx context.Context, rec types.PredictionRecord) error {
	if rec.RequestID == "" {
		return errors.New("prediction record has no request id")
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.conn.Exec(ctx, `
		INSERT INTO predictions (request_id, image_id, prediction, error_kind, error_message, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (request_id) DO UPDATE SET
			prediction = EXCLUDED.prediction,
			error_kind = EXCLUDED.error_kind,
			error_message = EXCLUDED.error_message,
			duration_ms = EXCLUDED.duration_ms
	`, rec.RequestID, rec.ImageID, rec.Prediction, rec.ErrorKind, rec.ErrorMessage, rec.Duration.Milliseconds(), createdAt)
	return err
}

// ListPredictions returns the most recent records, newest first.
func (s *Store) ListPredictions(ctx context.Context, limit int) ([]types.PredictionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.Query(ctx, `
		SELECT request_id, image_id, prediction, error_kind, error_message, duration_ms, created_at
		FROM predictions
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

// FindByImage returns every recorded request for the same image, newest first.
func (s *Store) FindByImage(ctx context.Context, imageID string) ([]types.PredictionRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT request_id, image_id, prediction, error_kind, error_message, duration_ms, created_at
		FROM predictions
		WHERE image_id = $1
		ORDER BY created_at DESC, id DESC
	`, imageID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]types.PredictionRecord, error) {
	defer rows.Close()

	var results []types.PredictionRecord
	for rows.Next() {
		var rec types.PredictionRecord
		var durationMS int64
		if err := rows.Scan(&rec.RequestID, &rec.ImageID, &rec.Prediction, &rec.ErrorKind, &rec.ErrorMessage, &durationMS, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		results = append(results, rec)
	}
	return results, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `DROP TABLE IF EXISTS predictions CASCADE;`)
	return err
}
