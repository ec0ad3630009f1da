package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrPositionNotFound is returned when no position row matches
var ErrPositionNotFound = errors.New("position not found")

const positionColumns = `id, user_id, symbol, side, quantity, entry_price, current_price,
	highest_price, unrealized_pnl, is_demo, opened_at, created_at, updated_at`

func scanPosition(row pgx.Row) (*Position, error) {
	pos := &Position{}
	err := row.Scan(
		&pos.ID, &pos.UserID, &pos.Symbol, &pos.Side, &pos.Quantity, &pos.EntryPrice,
		&pos.CurrentPrice, &pos.HighestPrice, &pos.UnrealizedPnL, &pos.IsDemo,
		&pos.OpenedAt, &pos.CreatedAt, &pos.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPositionNotFound
		}
		return nil, err
	}
	return pos, nil
}

// CreatePosition inserts a new open position
func (db *DB) CreatePosition(ctx context.Context, pos *Position) error {
	query := `
		INSERT INTO positions (
			user_id, symbol, side, quantity, entry_price, current_price,
			highest_price, unrealized_pnl, is_demo, opened_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`

	now := time.Now()
	err := db.Pool.QueryRow(ctx, query,
		pos.UserID, pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice,
		pos.CurrentPrice, pos.HighestPrice, pos.UnrealizedPnL, pos.IsDemo,
		pos.OpenedAt, now, now,
	).Scan(&pos.ID)
	if err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}

	pos.CreatedAt = now
	pos.UpdatedAt = now
	return nil
}

// GetPosition retrieves the open position for (user, symbol, mode)
func (db *DB) GetPosition(ctx context.Context, userID, symbol string, isDemo bool) (*Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions WHERE user_id = $1 AND symbol = $2 AND is_demo = $3`

	pos, err := scanPosition(db.Pool.QueryRow(ctx, query, userID, symbol, isDemo))
	if err != nil {
		if errors.Is(err, ErrPositionNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return pos, nil
}

// ListOpenPositions returns all open positions for a user in one mode
func (db *DB) ListOpenPositions(ctx context.Context, userID string, isDemo bool) ([]*Position, error) {
	query := `SELECT ` + positionColumns + `
		FROM positions WHERE user_id = $1 AND is_demo = $2 ORDER BY opened_at`

	rows, err := db.Pool.Query(ctx, query, userID, isDemo)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var positions []*Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// UpdatePositionEntry rewrites quantity and the weighted entry price after a
// DCA add
func (db *DB) UpdatePositionEntry(ctx context.Context, id int64, quantity, entryPrice float64) error {
	query := `UPDATE positions SET quantity = $2, entry_price = $3, updated_at = $4 WHERE id = $1`

	tag, err := db.Pool.Exec(ctx, query, id, quantity, entryPrice, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update position entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPositionNotFound
	}
	return nil
}

// UpdatePositionMarks persists the evaluation marks for a position that
// stays open. highest_price only ever moves up.
func (db *DB) UpdatePositionMarks(ctx context.Context, id int64, currentPrice, highestPrice, unrealizedPnL float64) error {
	query := `
		UPDATE positions SET
			current_price = $2,
			highest_price = GREATEST(COALESCE(highest_price, 0), $3),
			unrealized_pnl = $4,
			updated_at = $5
		WHERE id = $1`

	tag, err := db.Pool.Exec(ctx, query, id, currentPrice, highestPrice, unrealizedPnL, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update position marks: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPositionNotFound
	}
	return nil
}

// ReducePosition shrinks a partially closed position
func (db *DB) ReducePosition(ctx context.Context, id int64, quantity float64) error {
	query := `UPDATE positions SET quantity = quantity - $2, updated_at = $3 WHERE id = $1 AND quantity > $2`

	tag, err := db.Pool.Exec(ctx, query, id, quantity, time.Now())
	if err != nil {
		return fmt.Errorf("failed to reduce position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPositionNotFound
	}
	return nil
}
