package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
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

	logger.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")

	return &DB{Pool: pool, logger: logger.With().Str("component", "database").Logger()}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS positions (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL DEFAULT 'BUY',
			quantity DECIMAL(20, 8) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			current_price DECIMAL(20, 8),
			highest_price DECIMAL(20, 8),
			unrealized_pnl DECIMAL(20, 8),
			is_demo BOOLEAN NOT NULL DEFAULT TRUE,
			opened_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, symbol, is_demo)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_positions_user_mode ON positions(user_id, is_demo)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(4) NOT NULL,
			price DECIMAL(20, 8) NOT NULL,
			quantity DECIMAL(20, 8) NOT NULL,
			commission DECIMAL(20, 8) NOT NULL DEFAULT 0,
			profit_loss DECIMAL(20, 8),
			close_reason VARCHAR(20),
			is_demo BOOLEAN NOT NULL DEFAULT TRUE,
			executed_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user_executed ON trades(user_id, executed_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_user_closed ON trades(user_id, executed_at DESC) WHERE profit_loss IS NOT NULL`,

		`CREATE TABLE IF NOT EXISTS bot_daily_stats (
			id BIGSERIAL PRIMARY KEY,
			user_id VARCHAR(64) NOT NULL,
			date DATE NOT NULL,
			starting_balance DECIMAL(20, 8) NOT NULL,
			current_balance DECIMAL(20, 8) NOT NULL,
			trades_count INT NOT NULL DEFAULT 0,
			can_trade BOOLEAN NOT NULL DEFAULT TRUE,
			stop_reason TEXT,
			is_demo BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (user_id, date, is_demo)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_daily_stats_user_date ON bot_daily_stats(user_id, date DESC)`,

		`CREATE TABLE IF NOT EXISTS auto_trading_config (
			user_id VARCHAR(64) PRIMARY KEY,
			leverage INT NOT NULL DEFAULT 5,
			stop_loss_percent DECIMAL(10, 4) NOT NULL DEFAULT 1.0,
			take_profit_percent DECIMAL(10, 4) NOT NULL DEFAULT 0.3,
			min_confidence DECIMAL(10, 4) NOT NULL DEFAULT 70,
			quantity_usdt DECIMAL(20, 8) NOT NULL DEFAULT 50,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			strategy_tier VARCHAR(20) NOT NULL DEFAULT 'moderate',
			strategy_adjusted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
