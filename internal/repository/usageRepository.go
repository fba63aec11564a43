package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rightly/dsar-gateway/internal/storage"
	"github.com/rightly/dsar-gateway/internal/usage"
)

const usageSnapshotKey = "usage-metrics"

// UsageRepository stores the usage counters as a JSON snapshot in SQLite
type UsageRepository struct {
	db *storage.SQLite
}

func NewUsageRepository(db *storage.SQLite) (*UsageRepository, error) {
	r := &UsageRepository{db: db}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize usage schema: %w", err)
	}
	return r, nil
}

func (r *UsageRepository) initSchema() error {
	_, err := r.db.DB.Exec(`
	CREATE TABLE IF NOT EXISTS snapshots (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	return err
}

func (r *UsageRepository) Load(ctx context.Context) (*usage.Counters, error) {
	var raw string
	err := r.db.DB.QueryRowContext(ctx, `SELECT value FROM snapshots WHERE key = ?`, usageSnapshotKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var counters usage.Counters
	if err := json.Unmarshal([]byte(raw), &counters); err != nil {
		return nil, fmt.Errorf("decode usage snapshot: %w", err)
	}
	return &counters, nil
}

func (r *UsageRepository) Save(ctx context.Context, c usage.Counters) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}

	_, err = r.db.DB.ExecContext(ctx, `
		INSERT INTO snapshots (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		usageSnapshotKey, string(raw), time.Now().Unix())
	return err
}
