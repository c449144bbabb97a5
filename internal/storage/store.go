// Package storage provides the snapshot persistence adapters and database
// connection wrappers. The in-memory ledger remains authoritative: a failing
// Save must never affect ledger state.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/portfolio-ledger/internal/config"
	"github.com/portfolio-ledger/internal/models"
)

// ListOptions narrows a snapshot listing. A zero From/To means unbounded;
// Limit > 0 keeps only the newest Limit entries of the filtered range.
type ListOptions struct {
	Limit int
	From  time.Time
	To    time.Time
}

// SnapshotStore is the pluggable persistence adapter behind the tracker.
// Implementations are interchangeable: memory, local file, Postgres or
// ClickHouse. List returns snapshots ascending by timestamp.
type SnapshotStore interface {
	Initialize(ctx context.Context) error
	Save(ctx context.Context, snapshot *models.Snapshot) error
	List(ctx context.Context, portfolioID string, opts ListOptions) ([]*models.Snapshot, error)
	Delete(ctx context.Context, snapshotID string) error
	DeleteOlderThan(ctx context.Context, portfolioID string, cutoff time.Time) (int, error)
	DeletePortfolio(ctx context.Context, portfolioID string) error
	Cleanup(ctx context.Context) error
}

// NewSnapshotStore builds the snapshot store selected by configuration.
func NewSnapshotStore(cfg *config.DatabaseConfig) (SnapshotStore, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemorySnapshotStore(), nil
	case "file":
		return NewFileSnapshotStore(cfg.FilePath)
	case "postgres":
		db, err := NewPostgresDB(&cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return NewPostgresSnapshotStore(db), nil
	case "clickhouse":
		db, err := NewClickHouseDB(&cfg.ClickHouse)
		if err != nil {
			return nil, err
		}
		return NewClickHouseSnapshotStore(db), nil
	default:
		return nil, fmt.Errorf("unknown snapshot backend: %s", cfg.Backend)
	}
}

// filterSnapshots applies ListOptions to an ascending snapshot slice.
// Shared by the memory and file stores; the database stores filter in SQL.
func filterSnapshots(snapshots []*models.Snapshot, opts ListOptions) []*models.Snapshot {
	filtered := make([]*models.Snapshot, 0, len(snapshots))
	for _, s := range snapshots {
		if !opts.From.IsZero() && s.Timestamp.Before(opts.From) {
			continue
		}
		if !opts.To.IsZero() && s.Timestamp.After(opts.To) {
			continue
		}
		filtered = append(filtered, s)
	}
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[len(filtered)-opts.Limit:]
	}
	return filtered
}
