package database

import (
	"context"
	"fmt"
	"time"
)

// SettleClose atomically records a full position exit: the SELL trade is
// appended, the position row is deleted, and the balance delta lands on the
// day's stats row, all in one transaction. A failure anywhere rolls back
// everything, so a retried close can never append a duplicate SELL trade or
// leave the trade log and the balance diverged.
func (db *DB) SettleClose(ctx context.Context, trade *Trade, positionID int64, date time.Time, balanceDelta float64) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin close settlement: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	tradeQuery := `
		INSERT INTO trades (
			user_id, symbol, side, price, quantity, commission,
			profit_loss, close_reason, is_demo, executed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`

	err = tx.QueryRow(ctx, tradeQuery,
		trade.UserID, trade.Symbol, trade.Side, trade.Price, trade.Quantity,
		trade.Commission, trade.ProfitLoss, trade.CloseReason, trade.IsDemo,
		trade.ExecutedAt, now,
	).Scan(&trade.ID)
	if err != nil {
		return fmt.Errorf("failed to record close trade: %w", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM positions WHERE id = $1`, positionID)
	if err != nil {
		return fmt.Errorf("failed to delete closed position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPositionNotFound
	}

	statsQuery := `
		UPDATE bot_daily_stats SET
			current_balance = current_balance + $4,
			trades_count = trades_count + 1,
			updated_at = $5
		WHERE user_id = $1 AND date = $2 AND is_demo = $3`

	tag, err = tx.Exec(ctx, statsQuery,
		trade.UserID, date.Format("2006-01-02"), trade.IsDemo, balanceDelta, now)
	if err != nil {
		return fmt.Errorf("failed to settle close balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoDailyStats
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit close settlement: %w", err)
	}
	trade.CreatedAt = now
	return nil
}
