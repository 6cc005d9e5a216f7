package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps records in a calibrations table keyed by user and
// fingerprint.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a SQLite database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps db and creates the schema if needed.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate calibrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS calibrations (
		user_id TEXT NOT NULL,
		device_fingerprint TEXT NOT NULL,
		record JSON NOT NULL,
		accuracy REAL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, device_fingerprint)
	);`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Load returns the record for k.
func (s *SQLiteStore) Load(ctx context.Context, k Key) (*Record, error) {
	if err := validKey(k); err != nil {
		return nil, err
	}
	query := `SELECT record FROM calibrations WHERE user_id = ? AND device_fingerprint = ?`

	var raw string
	err := s.db.QueryRowContext(ctx, query, k.UserID, k.Fingerprint).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query calibration: %w", err)
	}

	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("parse calibration: %w", err)
	}
	return &r, nil
}

// LoadLatest returns the newest record saved for userID on any device.
func (s *SQLiteStore) LoadLatest(ctx context.Context, userID string) (*Record, error) {
	query := `SELECT record FROM calibrations WHERE user_id = ? ORDER BY created_at DESC LIMIT 1`

	var raw string
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest calibration: %w", err)
	}

	var r Record
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("parse calibration: %w", err)
	}
	return &r, nil
}

// Save upserts the record for k.
func (s *SQLiteStore) Save(ctx context.Context, k Key, r *Record) error {
	if err := validKey(k); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}
	query := `INSERT INTO calibrations (user_id, device_fingerprint, record, accuracy, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (user_id, device_fingerprint) DO UPDATE SET
		record = excluded.record,
		accuracy = excluded.accuracy,
		created_at = excluded.created_at`

	_, err = s.db.ExecContext(ctx, query,
		k.UserID, k.Fingerprint, string(data), r.AccuracyEstimate, r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert calibration: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
