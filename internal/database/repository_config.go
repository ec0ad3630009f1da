package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNoTradingConfig is returned when a user has no config row. The trading
// path treats this as fatal for the run rather than inventing defaults.
var ErrNoTradingConfig = errors.New("no trading config for user")

// GetTradingConfig returns the per-user risk parameters
func (db *DB) GetTradingConfig(ctx context.Context, userID string) (*TradingConfig, error) {
	query := `
		SELECT user_id, leverage, stop_loss_percent, take_profit_percent,
			min_confidence, quantity_usdt, is_active, strategy_tier,
			strategy_adjusted_at, created_at, updated_at
		FROM auto_trading_config WHERE user_id = $1`

	cfg := &TradingConfig{}
	err := db.Pool.QueryRow(ctx, query, userID).Scan(
		&cfg.UserID, &cfg.Leverage, &cfg.StopLossPercent, &cfg.TakeProfitPercent,
		&cfg.MinConfidence, &cfg.QuantityUSDT, &cfg.IsActive, &cfg.StrategyTier,
		&cfg.StrategyAdjustedAt, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoTradingConfig
		}
		return nil, fmt.Errorf("failed to get trading config: %w", err)
	}
	return cfg, nil
}

// UpsertTradingConfig creates or replaces a user's config row
func (db *DB) UpsertTradingConfig(ctx context.Context, cfg *TradingConfig) error {
	query := `
		INSERT INTO auto_trading_config (
			user_id, leverage, stop_loss_percent, take_profit_percent,
			min_confidence, quantity_usdt, is_active, strategy_tier,
			strategy_adjusted_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			leverage = EXCLUDED.leverage,
			stop_loss_percent = EXCLUDED.stop_loss_percent,
			take_profit_percent = EXCLUDED.take_profit_percent,
			min_confidence = EXCLUDED.min_confidence,
			quantity_usdt = EXCLUDED.quantity_usdt,
			is_active = EXCLUDED.is_active,
			strategy_tier = EXCLUDED.strategy_tier,
			strategy_adjusted_at = EXCLUDED.strategy_adjusted_at,
			updated_at = EXCLUDED.updated_at`

	now := time.Now()
	if cfg.StrategyAdjustedAt.IsZero() {
		cfg.StrategyAdjustedAt = now
	}
	_, err := db.Pool.Exec(ctx, query,
		cfg.UserID, cfg.Leverage, cfg.StopLossPercent, cfg.TakeProfitPercent,
		cfg.MinConfidence, cfg.QuantityUSDT, cfg.IsActive, cfg.StrategyTier,
		cfg.StrategyAdjustedAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert trading config: %w", err)
	}
	return nil
}

// ApplyStrategyTier overwrites the risk parameters with a tier's fixed
// values and stamps strategy_adjusted_at, resetting the circuit breaker's
// lookback window and re-arming the stabilization period.
func (db *DB) ApplyStrategyTier(ctx context.Context, userID, tier string, leverage int, stopLossPercent, takeProfitPercent, minConfidence float64, adjustedAt time.Time) error {
	query := `
		UPDATE auto_trading_config SET
			leverage = $2,
			stop_loss_percent = $3,
			take_profit_percent = $4,
			min_confidence = $5,
			strategy_tier = $6,
			strategy_adjusted_at = $7,
			updated_at = $7
		WHERE user_id = $1`

	tag, err := db.Pool.Exec(ctx, query, userID, leverage, stopLossPercent,
		takeProfitPercent, minConfidence, tier, adjustedAt)
	if err != nil {
		return fmt.Errorf("failed to apply strategy tier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoTradingConfig
	}
	return nil
}

// SetTradingActive flips the bot on or off for a user
func (db *DB) SetTradingActive(ctx context.Context, userID string, active bool) error {
	query := `UPDATE auto_trading_config SET is_active = $2, updated_at = $3 WHERE user_id = $1`

	tag, err := db.Pool.Exec(ctx, query, userID, active, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set trading active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoTradingConfig
	}
	return nil
}
