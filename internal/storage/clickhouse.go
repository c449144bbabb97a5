package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/config"
	"github.com/portfolio-ledger/internal/models"
)

// ClickHouseDB wraps the ClickHouse connection
type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// ClickHouseSnapshotStore persists snapshots in a MergeTree table ordered by
// (portfolio, timestamp). ClickHouse suits the append-only snapshot stream:
// snapshots are never updated, only inserted and range-scanned.
type ClickHouseSnapshotStore struct {
	db *ClickHouseDB
}

// NewClickHouseSnapshotStore creates a ClickHouse-backed snapshot store.
func NewClickHouseSnapshotStore(db *ClickHouseDB) *ClickHouseSnapshotStore {
	return &ClickHouseSnapshotStore{db: db}
}

// Initialize creates the snapshots table.
func (s *ClickHouseSnapshotStore) Initialize(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS snapshots (
			id            String,
			portfolio_id  String,
			ts            DateTime64(3, 'UTC'),
			total_value   String,
			cash_balance  String,
			change        String,
			change_pct    Float64,
			positions     String,
			performance   String,
			metadata      String,
			created_at    DateTime64(3, 'UTC'),
			deleted       UInt8 DEFAULT 0
		) ENGINE = ReplacingMergeTree(created_at)
		ORDER BY (portfolio_id, ts, id)
	`
	if err := s.db.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to initialize snapshots table: %w", err)
	}
	return nil
}

// Save inserts one snapshot row.
func (s *ClickHouseSnapshotStore) Save(ctx context.Context, snapshot *models.Snapshot) error {
	positionsJSON, err := json.Marshal(snapshot.Positions)
	if err != nil {
		return fmt.Errorf("failed to marshal positions: %w", err)
	}
	performanceJSON, err := json.Marshal(snapshot.Performance)
	if err != nil {
		return fmt.Errorf("failed to marshal performance: %w", err)
	}
	metadataJSON, err := json.Marshal(snapshot.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO snapshots (
			id, portfolio_id, ts, total_value, cash_balance,
			change, change_pct, positions, performance, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err = s.db.conn.Exec(
		ctx,
		query,
		snapshot.ID,
		snapshot.PortfolioID,
		snapshot.Timestamp,
		snapshot.TotalValue.String(),
		snapshot.CashBalance.String(),
		snapshot.Change.String(),
		snapshot.ChangePercent,
		string(positionsJSON),
		string(performanceJSON),
		string(metadataJSON),
		snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// List retrieves snapshots ascending by timestamp within the given range.
func (s *ClickHouseSnapshotStore) List(ctx context.Context, portfolioID string, opts ListOptions) ([]*models.Snapshot, error) {
	query := `
		SELECT id, portfolio_id, ts, total_value, cash_balance,
			change, change_pct, positions, performance, metadata, created_at
		FROM snapshots FINAL
		WHERE portfolio_id = ? AND deleted = 0
	`
	args := []interface{}{portfolioID}
	if !opts.From.IsZero() {
		query += " AND ts >= ?"
		args = append(args, opts.From)
	}
	if !opts.To.IsZero() {
		query += " AND ts <= ?"
		args = append(args, opts.To)
	}
	query += " ORDER BY ts ASC"

	rows, err := s.db.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.Snapshot
	for rows.Next() {
		var (
			snap                              models.Snapshot
			totalValue, cashBalance, change   string
			positionsJSON, perfJSON, metaJSON string
		)
		err := rows.Scan(
			&snap.ID,
			&snap.PortfolioID,
			&snap.Timestamp,
			&totalValue,
			&cashBalance,
			&change,
			&snap.ChangePercent,
			&positionsJSON,
			&perfJSON,
			&metaJSON,
			&snap.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		if snap.TotalValue, err = decimal.NewFromString(totalValue); err != nil {
			return nil, fmt.Errorf("failed to parse total value: %w", err)
		}
		if snap.CashBalance, err = decimal.NewFromString(cashBalance); err != nil {
			return nil, fmt.Errorf("failed to parse cash balance: %w", err)
		}
		if snap.Change, err = decimal.NewFromString(change); err != nil {
			return nil, fmt.Errorf("failed to parse change: %w", err)
		}
		if err := json.Unmarshal([]byte(positionsJSON), &snap.Positions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal positions: %w", err)
		}
		if err := json.Unmarshal([]byte(perfJSON), &snap.Performance); err != nil {
			return nil, fmt.Errorf("failed to unmarshal performance: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &snap.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		snapshots = append(snapshots, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot rows: %w", err)
	}

	if opts.Limit > 0 && len(snapshots) > opts.Limit {
		snapshots = snapshots[len(snapshots)-opts.Limit:]
	}
	return snapshots, nil
}

// Delete marks one snapshot deleted; ReplacingMergeTree folds the tombstone
// in at merge time.
func (s *ClickHouseSnapshotStore) Delete(ctx context.Context, snapshotID string) error {
	query := `
		INSERT INTO snapshots (id, portfolio_id, ts, total_value, cash_balance,
			change, change_pct, positions, performance, metadata, created_at, deleted)
		SELECT id, portfolio_id, ts, total_value, cash_balance,
			change, change_pct, positions, performance, metadata, now64(3), 1
		FROM snapshots FINAL
		WHERE id = ?
	`
	if err := s.db.conn.Exec(ctx, query, snapshotID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// DeleteOlderThan removes snapshots before cutoff and returns the count.
func (s *ClickHouseSnapshotStore) DeleteOlderThan(ctx context.Context, portfolioID string, cutoff time.Time) (int, error) {
	var count uint64
	row := s.db.conn.QueryRow(
		ctx,
		`SELECT count() FROM snapshots FINAL WHERE portfolio_id = ? AND ts < ? AND deleted = 0`,
		portfolioID,
		cutoff,
	)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count old snapshots: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	err := s.db.conn.Exec(
		ctx,
		`ALTER TABLE snapshots DELETE WHERE portfolio_id = ? AND ts < ?`,
		portfolioID,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old snapshots: %w", err)
	}
	return int(count), nil
}

// DeletePortfolio removes the whole history of one portfolio.
func (s *ClickHouseSnapshotStore) DeletePortfolio(ctx context.Context, portfolioID string) error {
	err := s.db.conn.Exec(
		ctx,
		`ALTER TABLE snapshots DELETE WHERE portfolio_id = ?`,
		portfolioID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete portfolio snapshots: %w", err)
	}
	return nil
}

// Cleanup forces a merge so tombstones and mutations are applied.
func (s *ClickHouseSnapshotStore) Cleanup(ctx context.Context) error {
	if err := s.db.conn.Exec(ctx, `OPTIMIZE TABLE snapshots FINAL`); err != nil {
		return fmt.Errorf("failed to optimize snapshots table: %w", err)
	}
	return nil
}
