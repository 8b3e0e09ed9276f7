package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"zone-backtester/config"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	db := &DB{
		Pool:   pool,
		logger: logger.With().Str("component", "database").Logger(),
	}
	db.logger.Info().Str("database", poolConfig.ConnConfig.Database).Msg("Connected to PostgreSQL")

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// migrations are idempotent and run in order
var migrations = []string{
	// OHLCV bars per ticker and timeframe
	`CREATE TABLE IF NOT EXISTS bars (
		ticker VARCHAR(20) NOT NULL,
		timeframe VARCHAR(5) NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		volume DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (ticker, timeframe, ts)
	)`,

	// Filtered zones per ticker-day
	`CREATE TABLE IF NOT EXISTS zones (
		ticker VARCHAR(20) NOT NULL,
		session_date DATE NOT NULL,
		zone_id VARCHAR(20) NOT NULL,
		poc_price DOUBLE PRECISION NOT NULL,
		poc_volume DOUBLE PRECISION NOT NULL,
		poc_rank INT NOT NULL,
		zone_high DOUBLE PRECISION NOT NULL,
		zone_low DOUBLE PRECISION NOT NULL,
		overlap_count INT NOT NULL DEFAULT 0,
		score DOUBLE PRECISION NOT NULL,
		confluences TEXT[],
		atr_distance DOUBLE PRECISION,
		proximity_group INT,
		tier VARCHAR(2) NOT NULL,
		is_bull_anchor BOOLEAN NOT NULL DEFAULT FALSE,
		is_bear_anchor BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (ticker, session_date, zone_id)
	)`,

	// Completed simulated trades
	`CREATE TABLE IF NOT EXISTS backtest_trades (
		trade_id VARCHAR(36) PRIMARY KEY,
		ticker VARCHAR(20) NOT NULL,
		session_date DATE NOT NULL,
		model_id INT NOT NULL,
		zone_class VARCHAR(10) NOT NULL,
		zone_id VARCHAR(20) NOT NULL,
		direction VARCHAR(5) NOT NULL,
		entry_time TIMESTAMPTZ NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		exit_time TIMESTAMPTZ NOT NULL,
		exit_price DOUBLE PRECISION NOT NULL,
		exit_reason VARCHAR(20) NOT NULL,
		stop_type VARCHAR(20) NOT NULL,
		stop_price DOUBLE PRECISION NOT NULL,
		target_price DOUBLE PRECISION NOT NULL,
		target_kind VARCHAR(20) NOT NULL,
		risk DOUBLE PRECISION NOT NULL,
		pnl DOUBLE PRECISION NOT NULL,
		pnl_r DOUBLE PRECISION NOT NULL,
		is_win BOOLEAN NOT NULL,
		mfe_r DOUBLE PRECISION NOT NULL DEFAULT 0,
		mae_r DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backtest_trades_ticker_date ON backtest_trades(ticker, session_date)`,
	`CREATE INDEX IF NOT EXISTS idx_backtest_trades_exit_reason ON backtest_trades(exit_reason)`,
	`CREATE INDEX IF NOT EXISTS idx_backtest_trades_stop_type ON backtest_trades(stop_type)`,
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Int("count", len(migrations)).Msg("Running database migrations")

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("Database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
