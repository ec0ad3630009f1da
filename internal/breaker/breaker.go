// Package breaker is the aggregate safety gate over recent closed trades.
// It inspects the performance window since the last strategy adjustment and
// can block new entries or force the bot off entirely.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"cryptum-bot/internal/database"

	"github.com/rs/zerolog"
)

// Assessment levels, from healthy to tripped
const (
	LevelOK    = "OK"
	LevelWarn  = "WARN"
	LevelBlock = "BLOCK"
)

// Thresholds are the breaker's trip bands. Win rates and loss percentages
// are whole percents, not fractions.
type Thresholds struct {
	MinSample       int
	LookbackDays    int
	HardWinRate     float64
	HardLossPercent float64
	SoftWinRate     float64
	SoftLossPercent float64
}

// Assessment is the outcome of one breaker check
type Assessment struct {
	Level       string    `json:"level"`
	Reason      string    `json:"reason,omitempty"`
	SampleSize  int       `json:"sample_size"`
	WinRate     float64   `json:"win_rate"`
	LossPercent float64   `json:"loss_percent"`
	NetPnL      float64   `json:"net_pnl"`
	WindowStart time.Time `json:"window_start"`
}

// Allowed reports whether new entries may proceed
func (a Assessment) Allowed() bool {
	return a.Level != LevelBlock
}

// Store is the slice of the repository the breaker needs
type Store interface {
	GetTradingConfig(ctx context.Context, userID string) (*database.TradingConfig, error)
	ListClosedTradesSince(ctx context.Context, userID string, since time.Time) ([]*database.Trade, error)
	GetDailyStats(ctx context.Context, userID string, date time.Time, isDemo bool) (*database.DailyStats, error)
	SetTradingActive(ctx context.Context, userID string, active bool) error
	SetDailyTradingHalt(ctx context.Context, userID string, date time.Time, isDemo bool, reason string) error
}

// Breaker evaluates recent performance against the trip thresholds
type Breaker struct {
	store      Store
	thresholds Thresholds
	isDemo     bool
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a circuit breaker bound to one mode
func New(store Store, thresholds Thresholds, isDemo bool, logger zerolog.Logger) *Breaker {
	return &Breaker{
		store:      store,
		thresholds: thresholds,
		isDemo:     isDemo,
		logger:     logger.With().Str("component", "breaker").Logger(),
		now:        time.Now,
	}
}

// Assess runs the trip bands over a set of closed trades. Below the minimum
// sample the breaker stays silent; a handful of trades is noise, not signal.
// The loss percentage only counts when the window is net negative.
func Assess(trades []*database.Trade, refBalance float64, t Thresholds, windowStart time.Time) Assessment {
	assessment := Assessment{Level: LevelOK, SampleSize: len(trades), WindowStart: windowStart}
	if len(trades) < t.MinSample {
		return assessment
	}

	var wins int
	var netPnL float64
	for _, trade := range trades {
		if trade.ProfitLoss == nil {
			continue
		}
		if *trade.ProfitLoss >= 0 {
			wins++
		}
		netPnL += *trade.ProfitLoss
	}

	assessment.WinRate = float64(wins) / float64(len(trades)) * 100
	assessment.NetPnL = netPnL
	if netPnL < 0 && refBalance > 0 {
		assessment.LossPercent = math.Abs(netPnL) / refBalance * 100
	}

	switch {
	case assessment.WinRate < t.HardWinRate:
		assessment.Level = LevelBlock
		assessment.Reason = fmt.Sprintf("win rate %.1f%% below %.1f%% over %d trades",
			assessment.WinRate, t.HardWinRate, len(trades))
	case assessment.LossPercent > t.HardLossPercent:
		assessment.Level = LevelBlock
		assessment.Reason = fmt.Sprintf("drawdown %.1f%% of reference balance exceeds %.1f%%",
			assessment.LossPercent, t.HardLossPercent)
	case assessment.WinRate < t.SoftWinRate:
		assessment.Level = LevelWarn
		assessment.Reason = fmt.Sprintf("win rate %.1f%% below %.1f%%", assessment.WinRate, t.SoftWinRate)
	case assessment.LossPercent > t.SoftLossPercent:
		assessment.Level = LevelWarn
		assessment.Reason = fmt.Sprintf("drawdown %.1f%% of reference balance exceeds %.1f%%",
			assessment.LossPercent, t.SoftLossPercent)
	}
	return assessment
}

// CheckRecentPerformance assesses the user's closed trades since the later
// of the lookback horizon and the last strategy adjustment. A strategy
// change resets the window so the new tier is judged on its own trades.
func (b *Breaker) CheckRecentPerformance(ctx context.Context, userID string) (Assessment, error) {
	now := b.now()
	windowStart := now.AddDate(0, 0, -b.thresholds.LookbackDays)

	cfg, err := b.store.GetTradingConfig(ctx, userID)
	if err == nil && cfg.StrategyAdjustedAt.After(windowStart) {
		windowStart = cfg.StrategyAdjustedAt
	} else if err != nil && !errors.Is(err, database.ErrNoTradingConfig) {
		return Assessment{}, fmt.Errorf("breaker check for %s: %w", userID, err)
	}

	trades, err := b.store.ListClosedTradesSince(ctx, userID, windowStart)
	if err != nil {
		return Assessment{}, fmt.Errorf("breaker check for %s: %w", userID, err)
	}

	// The drawdown band needs the day's starting balance as its reference.
	// A missing or unreadable row fails the check rather than silently
	// disabling the loss-percent stop with a zero reference.
	stats, err := b.store.GetDailyStats(ctx, userID, now, b.isDemo)
	if err != nil {
		return Assessment{}, fmt.Errorf("breaker check for %s: %w", userID, err)
	}
	refBalance := stats.StartingBalance

	assessment := Assess(trades, refBalance, b.thresholds, windowStart)
	if assessment.Level != LevelOK {
		b.logger.Warn().
			Str("user_id", userID).
			Str("level", assessment.Level).
			Str("reason", assessment.Reason).
			Int("sample", assessment.SampleSize).
			Float64("win_rate", assessment.WinRate).
			Float64("loss_percent", assessment.LossPercent).
			Msg("breaker assessment")
	}
	return assessment, nil
}

// Trip force-disables the bot and halts the trading day with the breaker's
// reason. Called by the orchestrator when an assessment blocks.
func (b *Breaker) Trip(ctx context.Context, userID string, assessment Assessment) error {
	if err := b.store.SetTradingActive(ctx, userID, false); err != nil {
		return fmt.Errorf("trip breaker for %s: %w", userID, err)
	}
	if err := b.store.SetDailyTradingHalt(ctx, userID, b.now(), b.isDemo, assessment.Reason); err != nil {
		if !errors.Is(err, database.ErrNoDailyStats) {
			return fmt.Errorf("trip breaker for %s: %w", userID, err)
		}
	}

	b.logger.Error().
		Str("user_id", userID).
		Str("reason", assessment.Reason).
		Msg("circuit breaker tripped, trading disabled")
	return nil
}
