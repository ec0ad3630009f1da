// Package ledger computes point-in-time account snapshots and applies the
// balance deltas produced by trade fills. The bot_daily_stats row is the
// single source of truth for total balance; everything else in a snapshot is
// derived from open positions and live prices.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"cryptum-bot/internal/database"

	"github.com/rs/zerolog"
)

// ErrNotReconciled means a snapshot's components do not add up. It is a
// corruption signal; callers abort the run instead of persisting anything
// derived from it.
var ErrNotReconciled = errors.New("snapshot not reconciled")

// Store is the slice of the repository the ledger needs
type Store interface {
	GetDailyStats(ctx context.Context, userID string, date time.Time, isDemo bool) (*database.DailyStats, error)
	GetFirstDailyStatsOfMonth(ctx context.Context, userID string, date time.Time, isDemo bool) (*database.DailyStats, error)
	AddToCurrentBalance(ctx context.Context, userID string, date time.Time, isDemo bool, delta float64) error
	ListOpenPositions(ctx context.Context, userID string, isDemo bool) ([]*database.Position, error)
}

// PriceSource supplies live prices for the snapshot's open positions
type PriceSource interface {
	FetchPrices(ctx context.Context, symbols []string) map[string]float64
}

// Snapshot is the derived, non-persisted view of account state
type Snapshot struct {
	FreeBalance      float64 `json:"free_balance"`
	AllocatedCapital float64 `json:"allocated_capital"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	TotalBalance     float64 `json:"total_balance"`
	DailyProfit      float64 `json:"daily_profit"`
	MonthlyProfit    float64 `json:"monthly_profit"`
	CurrentBalance   float64 `json:"current_balance"`
	StartingBalance  float64 `json:"starting_balance"`
	OpenPositions    int     `json:"open_positions"`
}

// Ledger computes snapshots and settles trade deltas for one user mode.
// Demo and real positions route to separate ledgers; the IsDemo flag is
// fixed at construction so the two can never cross-contaminate.
type Ledger struct {
	store  Store
	prices PriceSource
	isDemo bool
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a ledger bound to one mode
func New(store Store, prices PriceSource, isDemo bool, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		prices: prices,
		isDemo: isDemo,
		logger: logger.With().Str("component", "ledger").Bool("demo", isDemo).Logger(),
		now:    time.Now,
	}
}

// ComputeSnapshot builds the current financial snapshot. It fails closed
// when today's daily-stats row is missing: a balance cannot be assumed, the
// caller must bootstrap the row first.
func (l *Ledger) ComputeSnapshot(ctx context.Context, userID string) (*Snapshot, error) {
	today := l.now()
	stats, err := l.store.GetDailyStats(ctx, userID, today, l.isDemo)
	if err != nil {
		return nil, fmt.Errorf("snapshot for %s: %w", userID, err)
	}

	positions, err := l.store.ListOpenPositions(ctx, userID, l.isDemo)
	if err != nil {
		return nil, fmt.Errorf("snapshot for %s: %w", userID, err)
	}

	symbols := make([]string, 0, len(positions))
	for _, pos := range positions {
		symbols = append(symbols, pos.Symbol)
	}
	prices := l.prices.FetchPrices(ctx, symbols)

	allocated, unrealized := ComputeComponents(positions, prices)

	snap := &Snapshot{
		AllocatedCapital: allocated,
		UnrealizedPnL:    unrealized,
		FreeBalance:      stats.CurrentBalance - allocated,
		CurrentBalance:   stats.CurrentBalance,
		StartingBalance:  stats.StartingBalance,
		OpenPositions:    len(positions),
	}
	snap.TotalBalance = snap.FreeBalance + snap.AllocatedCapital + snap.UnrealizedPnL
	snap.DailyProfit = snap.TotalBalance - stats.StartingBalance

	if monthly, err := l.ComputeMonthlyProfit(ctx, userID, snap.TotalBalance); err == nil {
		snap.MonthlyProfit = monthly
	}

	if err := VerifySnapshot(snap); err != nil {
		return nil, err
	}
	return snap, nil
}

// ComputeComponents sums allocated capital and unrealized P&L over open
// positions. A position without a live price falls back to its last
// persisted mark; with no mark at all it contributes zero unrealized P&L
// rather than a guess.
func ComputeComponents(positions []*database.Position, prices map[string]float64) (allocated, unrealized float64) {
	for _, pos := range positions {
		allocated += pos.EntryPrice * pos.Quantity

		price, ok := prices[pos.Symbol]
		if !ok {
			if pos.CurrentPrice == nil {
				continue
			}
			price = *pos.CurrentPrice
		}
		unrealized += (price - pos.EntryPrice) * pos.Quantity
	}
	return allocated, unrealized
}

// BalanceDelta computes the signed balance change for one fill. BUY moves
// capital from free to allocated, so only the commission leaves the balance.
// For SELL, realizedPnL is the gross price P&L (exit minus entry times
// quantity, before the exit commission); the delta credited is that gross
// figure minus the commission, which equals the net P&L recorded on the
// trade row. The commission is charged exactly once.
func BalanceDelta(side string, commission, realizedPnL float64) float64 {
	if side == database.SideBuy {
		return -commission
	}
	return realizedPnL - commission
}

// ApplyTradeDelta settles one fill against the day's authoritative balance
// and returns the delta that was applied.
func (l *Ledger) ApplyTradeDelta(ctx context.Context, userID, side string, tradeValue, commission, realizedPnL float64) (float64, error) {
	delta := BalanceDelta(side, commission, realizedPnL)

	if err := l.store.AddToCurrentBalance(ctx, userID, l.now(), l.isDemo, delta); err != nil {
		return 0, fmt.Errorf("apply %s delta for %s: %w", side, userID, err)
	}

	l.logger.Info().
		Str("user_id", userID).
		Str("side", side).
		Float64("trade_value", tradeValue).
		Float64("commission", commission).
		Float64("realized_pnl", realizedPnL).
		Float64("delta", delta).
		Msg("trade delta applied")

	return delta, nil
}

// ComputeMonthlyProfit returns totalBalance minus the starting balance of
// the first recorded day of the current month.
func (l *Ledger) ComputeMonthlyProfit(ctx context.Context, userID string, totalBalance float64) (float64, error) {
	first, err := l.store.GetFirstDailyStatsOfMonth(ctx, userID, l.now(), l.isDemo)
	if err != nil {
		return 0, fmt.Errorf("monthly profit for %s: %w", userID, err)
	}
	return totalBalance - first.StartingBalance, nil
}

// reconcileTolerance absorbs float accumulation noise; anything beyond it
// is a real accounting divergence.
const reconcileTolerance = 1e-6

// VerifySnapshot asserts the snapshot's internal reconciliation invariant.
// A divergence means corrupted accounting and must abort the run instead of
// being persisted.
func VerifySnapshot(s *Snapshot) error {
	for _, v := range []float64{s.FreeBalance, s.AllocatedCapital, s.UnrealizedPnL, s.TotalBalance} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite component", ErrNotReconciled)
		}
	}

	expected := s.FreeBalance + s.AllocatedCapital + s.UnrealizedPnL
	if math.Abs(s.TotalBalance-expected) > reconcileTolerance {
		return fmt.Errorf("%w: total %.8f != components %.8f", ErrNotReconciled, s.TotalBalance, expected)
	}
	return nil
}
