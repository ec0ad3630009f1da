package database

import (
	"context"
	"fmt"
	"time"
)

// CreateTrade appends one fill to the trade log. Trades are never updated.
func (db *DB) CreateTrade(ctx context.Context, trade *Trade) error {
	query := `
		INSERT INTO trades (
			user_id, symbol, side, price, quantity, commission,
			profit_loss, close_reason, is_demo, executed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	now := time.Now()
	err := db.Pool.QueryRow(ctx, query,
		trade.UserID, trade.Symbol, trade.Side, trade.Price, trade.Quantity,
		trade.Commission, trade.ProfitLoss, trade.CloseReason, trade.IsDemo,
		trade.ExecutedAt, now,
	).Scan(&trade.ID)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}

	trade.CreatedAt = now
	return nil
}

const tradeColumns = `id, user_id, symbol, side, price, quantity, commission,
	profit_loss, close_reason, is_demo, executed_at, created_at`

func (db *DB) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*Trade, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		trade := &Trade{}
		err := rows.Scan(
			&trade.ID, &trade.UserID, &trade.Symbol, &trade.Side, &trade.Price,
			&trade.Quantity, &trade.Commission, &trade.ProfitLoss, &trade.CloseReason,
			&trade.IsDemo, &trade.ExecutedAt, &trade.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	return trades, rows.Err()
}

// ListClosedTradesSince returns closed trades (profit_loss recorded) for a
// user since the given instant, newest first.
func (db *DB) ListClosedTradesSince(ctx context.Context, userID string, since time.Time) ([]*Trade, error) {
	query := `SELECT ` + tradeColumns + `
		FROM trades
		WHERE user_id = $1 AND profit_loss IS NOT NULL AND executed_at >= $2
		ORDER BY executed_at DESC`

	return db.queryTrades(ctx, query, userID, since)
}

// ListRecentClosedTrades returns the most recent closed trades for a user,
// newest first, capped at limit.
func (db *DB) ListRecentClosedTrades(ctx context.Context, userID string, limit int) ([]*Trade, error) {
	query := `SELECT ` + tradeColumns + `
		FROM trades
		WHERE user_id = $1 AND profit_loss IS NOT NULL
		ORDER BY executed_at DESC
		LIMIT $2`

	return db.queryTrades(ctx, query, userID, limit)
}
