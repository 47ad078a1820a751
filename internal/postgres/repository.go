package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/profile-ledger/internal/config"
	"github.com/profile-ledger/internal/domain"
)

// Repository is the durable archive behind the key-value store: exported
// season snapshots, anti-cheat anomaly events for offline review, and purge
// tombstones. It is never read on the request path.
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{pool: pool, logger: logger}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS season_snapshots (
			id BIGSERIAL PRIMARY KEY,
			season VARCHAR(7) NOT NULL,
			account_id VARCHAR(64) NOT NULL,
			score BIGINT NOT NULL,
			exported_at TIMESTAMP NOT NULL,
			UNIQUE(season, account_id)
		)`,
		`CREATE TABLE IF NOT EXISTS anticheat_events (
			id BIGSERIAL PRIMARY KEY,
			account_id VARCHAR(64) NOT NULL,
			kind VARCHAR(32) NOT NULL,
			field VARCHAR(64),
			submitted BIGINT NOT NULL,
			accepted BIGINT NOT NULL,
			occurred_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS purge_tombstones (
			id BIGSERIAL PRIMARY KEY,
			account_id VARCHAR(64) NOT NULL,
			display_name VARCHAR(255),
			purged_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_season_snapshots_season ON season_snapshots(season, score DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_anticheat_events_account ON anticheat_events(account_id, occurred_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := r.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// SaveSnapshot batch-inserts exported leaderboard rows. Re-exports of the
// same season overwrite the previous rows.
func (r *Repository) SaveSnapshot(ctx context.Context, entries []domain.SnapshotEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO season_snapshots (season, account_id, score, exported_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (season, account_id)
		DO UPDATE SET score = EXCLUDED.score, exported_at = EXCLUDED.exported_at
	`
	for _, e := range entries {
		batch.Queue(query, e.Season, e.AccountID, e.Score, e.ExportedAt)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting snapshot row: %w", err)
		}
	}
	return nil
}

// SeasonSnapshot returns one archived season, best score first
func (r *Repository) SeasonSnapshot(ctx context.Context, season string) ([]domain.SnapshotEntry, error) {
	query := `
		SELECT season, account_id, score, exported_at
		FROM season_snapshots
		WHERE season = $1
		ORDER BY score DESC
	`
	rows, err := r.pool.Query(ctx, query, season)
	if err != nil {
		return nil, fmt.Errorf("querying season snapshot: %w", err)
	}
	defer rows.Close()

	var entries []domain.SnapshotEntry
	for rows.Next() {
		var e domain.SnapshotEntry
		if err := rows.Scan(&e.Season, &e.AccountID, &e.Score, &e.ExportedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordAnomalies batch-inserts drained anti-cheat events
func (r *Repository) RecordAnomalies(ctx context.Context, records []domain.AnomalyRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO anticheat_events (account_id, kind, field, submitted, accepted, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, rec := range records {
		batch.Queue(query, rec.AccountID, rec.Kind, rec.Field, rec.Submitted, rec.Accepted, rec.Timestamp)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("inserting anomaly row: %w", err)
		}
	}
	return nil
}

// RecentAnomalies returns the newest archived events for an account
func (r *Repository) RecentAnomalies(ctx context.Context, accountID string, limit int) ([]domain.AnomalyRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT account_id, kind, COALESCE(field, ''), submitted, accepted, occurred_at
		FROM anticheat_events
		WHERE account_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying anomalies: %w", err)
	}
	defer rows.Close()

	var records []domain.AnomalyRecord
	for rows.Next() {
		var rec domain.AnomalyRecord
		if err := rows.Scan(&rec.AccountID, &rec.Kind, &rec.Field, &rec.Submitted, &rec.Accepted, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning anomaly row: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordTombstone notes a purged account for audit
func (r *Repository) RecordTombstone(ctx context.Context, accountID, displayName string) error {
	query := `INSERT INTO purge_tombstones (account_id, display_name) VALUES ($1, $2)`
	if _, err := r.pool.Exec(ctx, query, accountID, displayName); err != nil {
		return fmt.Errorf("recording tombstone: %w", err)
	}
	return nil
}
