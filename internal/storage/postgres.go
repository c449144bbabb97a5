package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/config"
	"github.com/portfolio-ledger/internal/models"
)

// PostgresDB wraps the pgxpool connection
type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB creates a new Postgres database connection
func NewPostgresDB(cfg *config.PostgresConfig) (*PostgresDB, error) {
	connString := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable pool_max_conns=%d",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.MaxConnections,
	)

	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the database connection pool
func (db *PostgresDB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Pool returns the underlying connection pool
func (db *PostgresDB) Pool() *pgxpool.Pool {
	return db.pool
}

// PostgresSnapshotStore persists snapshots in a Postgres table with JSON
// columns for the nested position and metadata blocks.
type PostgresSnapshotStore struct {
	db *PostgresDB
}

// NewPostgresSnapshotStore creates a Postgres-backed snapshot store.
func NewPostgresSnapshotStore(db *PostgresDB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

// Initialize creates the snapshots table when migrations have not run yet.
func (s *PostgresSnapshotStore) Initialize(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS snapshots (
			id            TEXT PRIMARY KEY,
			portfolio_id  TEXT NOT NULL,
			ts            TIMESTAMPTZ NOT NULL,
			total_value   NUMERIC NOT NULL,
			cash_balance  NUMERIC NOT NULL,
			change        NUMERIC NOT NULL,
			change_pct    DOUBLE PRECISION NOT NULL,
			positions     JSONB NOT NULL,
			performance   JSONB NOT NULL,
			metadata      JSONB NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_portfolio_ts
			ON snapshots (portfolio_id, ts);
	`
	if _, err := s.db.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to initialize snapshots table: %w", err)
	}
	return nil
}

// Save inserts one snapshot. Snapshots are immutable, so conflicts on id are
// ignored rather than updated.
func (s *PostgresSnapshotStore) Save(ctx context.Context, snapshot *models.Snapshot) error {
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
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`

	_, err = s.db.pool.Exec(
		ctx,
		query,
		snapshot.ID,
		snapshot.PortfolioID,
		snapshot.Timestamp,
		snapshot.TotalValue.String(),
		snapshot.CashBalance.String(),
		snapshot.Change.String(),
		snapshot.ChangePercent,
		positionsJSON,
		performanceJSON,
		metadataJSON,
		snapshot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// List retrieves snapshots ascending by timestamp within the given range.
func (s *PostgresSnapshotStore) List(ctx context.Context, portfolioID string, opts ListOptions) ([]*models.Snapshot, error) {
	query := `
		SELECT id, portfolio_id, ts, total_value::TEXT, cash_balance::TEXT,
			change::TEXT, change_pct, positions, performance, metadata, created_at
		FROM snapshots
		WHERE portfolio_id = $1
			AND ($2::TIMESTAMPTZ IS NULL OR ts >= $2)
			AND ($3::TIMESTAMPTZ IS NULL OR ts <= $3)
		ORDER BY ts ASC
	`

	var from, to interface{}
	if !opts.From.IsZero() {
		from = opts.From
	}
	if !opts.To.IsZero() {
		to = opts.To
	}

	rows, err := s.db.pool.Query(ctx, query, portfolioID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []*models.Snapshot
	for rows.Next() {
		var (
			snap                                 models.Snapshot
			totalValue, cashBalance, change      string
			positionsJSON, perfJSON, metaJSON    []byte
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
		if err := json.Unmarshal(positionsJSON, &snap.Positions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal positions: %w", err)
		}
		if err := json.Unmarshal(perfJSON, &snap.Performance); err != nil {
			return nil, fmt.Errorf("failed to unmarshal performance: %w", err)
		}
		if err := json.Unmarshal(metaJSON, &snap.Metadata); err != nil {
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

// Delete removes one snapshot by id.
func (s *PostgresSnapshotStore) Delete(ctx context.Context, snapshotID string) error {
	if _, err := s.db.pool.Exec(ctx, `DELETE FROM snapshots WHERE id = $1`, snapshotID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// DeleteOlderThan removes snapshots before cutoff and returns the count.
func (s *PostgresSnapshotStore) DeleteOlderThan(ctx context.Context, portfolioID string, cutoff time.Time) (int, error) {
	result, err := s.db.pool.Exec(
		ctx,
		`DELETE FROM snapshots WHERE portfolio_id = $1 AND ts < $2`,
		portfolioID,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old snapshots: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// DeletePortfolio removes the whole history of one portfolio.
func (s *PostgresSnapshotStore) DeletePortfolio(ctx context.Context, portfolioID string) error {
	if _, err := s.db.pool.Exec(ctx, `DELETE FROM snapshots WHERE portfolio_id = $1`, portfolioID); err != nil {
		return fmt.Errorf("failed to delete portfolio snapshots: %w", err)
	}
	return nil
}

// Cleanup is a no-op for Postgres; retention is driven by DeleteOlderThan.
func (s *PostgresSnapshotStore) Cleanup(ctx context.Context) error {
	return nil
}
