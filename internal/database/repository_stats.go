package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNoDailyStats is returned when the day's row is missing. Balance-bearing
// reads fail closed on it; callers bootstrap the row with EnsureDailyStats
// before taking a ledger snapshot.
var ErrNoDailyStats = errors.New("no daily stats row for date")

const dailyStatsColumns = `id, user_id, date, starting_balance, current_balance,
	trades_count, can_trade, stop_reason, is_demo, created_at, updated_at`

func scanDailyStats(row pgx.Row) (*DailyStats, error) {
	stats := &DailyStats{}
	err := row.Scan(
		&stats.ID, &stats.UserID, &stats.Date, &stats.StartingBalance,
		&stats.CurrentBalance, &stats.TradesCount, &stats.CanTrade,
		&stats.StopReason, &stats.IsDemo, &stats.CreatedAt, &stats.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoDailyStats
		}
		return nil, err
	}
	return stats, nil
}

// GetDailyStats returns the stats row for one calendar day in one mode
func (db *DB) GetDailyStats(ctx context.Context, userID string, date time.Time, isDemo bool) (*DailyStats, error) {
	query := `SELECT ` + dailyStatsColumns + `
		FROM bot_daily_stats WHERE user_id = $1 AND date = $2 AND is_demo = $3`

	stats, err := scanDailyStats(db.Pool.QueryRow(ctx, query, userID, date.Format("2006-01-02"), isDemo))
	if err != nil {
		if errors.Is(err, ErrNoDailyStats) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	return stats, nil
}

// GetLatestDailyStatsBefore returns the newest stats row strictly before the
// given day, used for balance carry-over.
func (db *DB) GetLatestDailyStatsBefore(ctx context.Context, userID string, date time.Time, isDemo bool) (*DailyStats, error) {
	query := `SELECT ` + dailyStatsColumns + `
		FROM bot_daily_stats WHERE user_id = $1 AND date < $2 AND is_demo = $3
		ORDER BY date DESC LIMIT 1`

	stats, err := scanDailyStats(db.Pool.QueryRow(ctx, query, userID, date.Format("2006-01-02"), isDemo))
	if err != nil {
		if errors.Is(err, ErrNoDailyStats) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get prior daily stats: %w", err)
	}
	return stats, nil
}

// GetFirstDailyStatsOfMonth returns the first recorded day of the month
// containing the given date.
func (db *DB) GetFirstDailyStatsOfMonth(ctx context.Context, userID string, date time.Time, isDemo bool) (*DailyStats, error) {
	monthStart := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, date.Location())
	query := `SELECT ` + dailyStatsColumns + `
		FROM bot_daily_stats WHERE user_id = $1 AND date >= $2 AND date <= $3 AND is_demo = $4
		ORDER BY date ASC LIMIT 1`

	stats, err := scanDailyStats(db.Pool.QueryRow(ctx, query,
		userID, monthStart.Format("2006-01-02"), date.Format("2006-01-02"), isDemo))
	if err != nil {
		if errors.Is(err, ErrNoDailyStats) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get first daily stats of month: %w", err)
	}
	return stats, nil
}

// EnsureDailyStats creates today's row if it does not exist, carrying over
// the prior day's closing balance or falling back to defaultBalance for a
// first day. starting_balance is fixed at creation and never rewritten.
func (db *DB) EnsureDailyStats(ctx context.Context, userID string, date time.Time, isDemo bool, defaultBalance float64) (*DailyStats, error) {
	stats, err := db.GetDailyStats(ctx, userID, date, isDemo)
	if err == nil {
		return stats, nil
	}
	if !errors.Is(err, ErrNoDailyStats) {
		return nil, err
	}

	balance := defaultBalance
	if prior, err := db.GetLatestDailyStatsBefore(ctx, userID, date, isDemo); err == nil {
		balance = prior.CurrentBalance
	} else if !errors.Is(err, ErrNoDailyStats) {
		return nil, err
	}

	query := `
		INSERT INTO bot_daily_stats (
			user_id, date, starting_balance, current_balance, trades_count,
			can_trade, is_demo, created_at, updated_at
		) VALUES ($1, $2, $3, $3, 0, TRUE, $4, $5, $5)
		ON CONFLICT (user_id, date, is_demo) DO NOTHING`

	if _, err := db.Pool.Exec(ctx, query, userID, date.Format("2006-01-02"), balance, isDemo, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to create daily stats: %w", err)
	}

	// Re-read: a concurrent bootstrap may have won the insert
	return db.GetDailyStats(ctx, userID, date, isDemo)
}

// AddToCurrentBalance applies a signed delta to the day's authoritative
// balance and bumps the trade counter.
func (db *DB) AddToCurrentBalance(ctx context.Context, userID string, date time.Time, isDemo bool, delta float64) error {
	query := `
		UPDATE bot_daily_stats SET
			current_balance = current_balance + $4,
			trades_count = trades_count + 1,
			updated_at = $5
		WHERE user_id = $1 AND date = $2 AND is_demo = $3`

	tag, err := db.Pool.Exec(ctx, query, userID, date.Format("2006-01-02"), isDemo, delta, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update current balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoDailyStats
	}
	return nil
}

// SetDailyTradingHalt marks the day as halted with a reason
func (db *DB) SetDailyTradingHalt(ctx context.Context, userID string, date time.Time, isDemo bool, reason string) error {
	query := `
		UPDATE bot_daily_stats SET can_trade = FALSE, stop_reason = $4, updated_at = $5
		WHERE user_id = $1 AND date = $2 AND is_demo = $3`

	tag, err := db.Pool.Exec(ctx, query, userID, date.Format("2006-01-02"), isDemo, reason, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set trading halt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoDailyStats
	}
	return nil
}
