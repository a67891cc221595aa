// Package journal records every WFS write and its observed outcome in DuckDB.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var schema = []string{
	`CREATE SEQUENCE IF NOT EXISTS wfs_writes_id START 1`,
	`CREATE TABLE IF NOT EXISTS wfs_writes (
		id BIGINT PRIMARY KEY DEFAULT nextval('wfs_writes_id'),
		op VARCHAR NOT NULL,
		type_name VARCHAR NOT NULL,
		feature_id VARCHAR NOT NULL DEFAULT '',
		confirmed BOOLEAN NOT NULL,
		error VARCHAR NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
}

// Entry is one journaled write.
type Entry struct {
	ID        int64     `json:"id" doc:"Journal sequence number"`
	Op        string    `json:"op" doc:"Write operation" example:"insert"`
	TypeName  string    `json:"typeName" doc:"Feature type written" example:"batiments"`
	FeatureID string    `json:"featureId,omitempty" doc:"Feature id written or assigned" example:"batiments.12"`
	Confirmed bool      `json:"confirmed" doc:"Whether the server confirmed the write"`
	Error     string    `json:"error,omitempty" doc:"Failure reason"`
	CreatedAt time.Time `json:"createdAt" doc:"When the write was attempted"`
}

// Journal appends and lists write entries. A nil *Journal discards writes
// and lists nothing.
type Journal struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// New wraps an open database. Call Migrate before first use.
func New(db *sql.DB, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{db: db, logger: logger.Named("journal"), now: time.Now}
}

// Open opens the DuckDB file in cfg.DataDir and creates the schema.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Journal, error) {
	db, err := openDuckDB(cfg)
	if err != nil {
		return nil, err
	}
	j := New(db, logger)
	if err := j.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// Migrate creates the wfs_writes table if missing.
func (j *Journal) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := j.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

// Record appends an entry. CreatedAt defaults to now.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if j == nil {
		return nil
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = j.now().UTC()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO wfs_writes (op, type_name, feature_id, confirmed, error, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.Op, e.TypeName, e.FeatureID, e.Confirmed, e.Error, e.CreatedAt)
	if err != nil {
		j.logger.Error("journal write failed", zap.String("op", e.Op), zap.Error(err))
		return fmt.Errorf("record %s: %w", e.Op, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if j == nil {
		return []Entry{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, op, type_name, feature_id, confirmed, error, created_at FROM wfs_writes ORDER BY id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Op, &e.TypeName, &e.FeatureID, &e.Confirmed, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
