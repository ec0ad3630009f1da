// Package adaptive swaps the active risk parameter set between predefined
// strategy tiers based on recent win/loss streaks. Downgrades are automatic;
// upgrades are left to the operator.
package adaptive

import (
	"context"
	"fmt"
	"time"

	"cryptum-bot/internal/database"

	"github.com/rs/zerolog"
)

// Tier holds the fixed risk parameters applied when a tier activates
type Tier struct {
	Name              string
	Leverage          int
	StopLossPercent   float64
	TakeProfitPercent float64
	MinConfidence     float64
}

// minConfidenceFloor is the lowest confidence gate any tier may set
const minConfidenceFloor = 70

var tiers = map[string]Tier{
	database.TierConservative: {
		Name:              database.TierConservative,
		Leverage:          3,
		StopLossPercent:   1.0,
		TakeProfitPercent: 0.5,
		MinConfidence:     85,
	},
	database.TierModerate: {
		Name:              database.TierModerate,
		Leverage:          5,
		StopLossPercent:   1.5,
		TakeProfitPercent: 1.0,
		MinConfidence:     75,
	},
	database.TierAggressive: {
		Name:              database.TierAggressive,
		Leverage:          10,
		StopLossPercent:   2.0,
		TakeProfitPercent: 1.5,
		MinConfidence:     minConfidenceFloor,
	},
}

// TierByName returns a tier's fixed parameters
func TierByName(name string) (Tier, bool) {
	t, ok := tiers[name]
	return t, ok
}

// Settings control when the selector is allowed to act
type Settings struct {
	Enabled            bool
	MinTrades          int
	LookbackTrades     int
	StabilizationHours int
}

// Store is the slice of the repository the selector needs
type Store interface {
	GetTradingConfig(ctx context.Context, userID string) (*database.TradingConfig, error)
	ListRecentClosedTrades(ctx context.Context, userID string, limit int) ([]*database.Trade, error)
	ApplyStrategyTier(ctx context.Context, userID, tier string, leverage int, stopLossPercent, takeProfitPercent, minConfidence float64, adjustedAt time.Time) error
}

// Selector inspects recent streaks and downgrades the active tier
type Selector struct {
	store    Store
	settings Settings
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates an adaptive strategy selector
func New(store Store, settings Settings, logger zerolog.Logger) *Selector {
	return &Selector{
		store:    store,
		settings: settings,
		logger:   logger.With().Str("component", "adaptive").Logger(),
		now:      time.Now,
	}
}

// LossStreak counts consecutive losses from the newest trade backward,
// stopping at the first non-losing trade. Trades must be ordered newest
// first; a breakeven trade ends the streak.
func LossStreak(trades []*database.Trade) int {
	streak := 0
	for _, trade := range trades {
		if trade.ProfitLoss == nil || *trade.ProfitLoss >= 0 {
			break
		}
		streak++
	}
	return streak
}

// targetTier maps a streak and the current tier to the tier that should be
// active, or "" for no change.
func targetTier(streak int, current string) string {
	switch {
	case streak >= 5 && current != database.TierConservative:
		return database.TierConservative
	case streak >= 3 && current == database.TierAggressive:
		return database.TierModerate
	default:
		return ""
	}
}

// Adjustment describes a tier change the selector applied
type Adjustment struct {
	FromTier string `json:"from_tier"`
	ToTier   string `json:"to_tier"`
	Streak   int    `json:"streak"`
}

// MaybeAdjust evaluates the streak rules once and applies a downgrade when
// warranted. Returns nil when nothing changed. The stabilization window
// after any adjustment keeps noisy short-term streaks from flapping the
// tier back and forth.
func (s *Selector) MaybeAdjust(ctx context.Context, userID string) (*Adjustment, error) {
	if !s.settings.Enabled {
		return nil, nil
	}

	cfg, err := s.store.GetTradingConfig(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("adaptive check for %s: %w", userID, err)
	}

	now := s.now()
	stabilization := time.Duration(s.settings.StabilizationHours) * time.Hour
	if now.Sub(cfg.StrategyAdjustedAt) < stabilization {
		return nil, nil
	}

	trades, err := s.store.ListRecentClosedTrades(ctx, userID, s.settings.LookbackTrades)
	if err != nil {
		return nil, fmt.Errorf("adaptive check for %s: %w", userID, err)
	}
	if len(trades) < s.settings.MinTrades {
		return nil, nil
	}

	streak := LossStreak(trades)
	target := targetTier(streak, cfg.StrategyTier)
	if target == "" {
		return nil, nil
	}

	tier := tiers[target]
	if err := s.store.ApplyStrategyTier(ctx, userID, tier.Name, tier.Leverage,
		tier.StopLossPercent, tier.TakeProfitPercent, tier.MinConfidence, now); err != nil {
		return nil, fmt.Errorf("apply tier %s for %s: %w", tier.Name, userID, err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("from_tier", cfg.StrategyTier).
		Str("to_tier", tier.Name).
		Int("loss_streak", streak).
		Msg("strategy tier adjusted")

	return &Adjustment{FromTier: cfg.StrategyTier, ToTier: tier.Name, Streak: streak}, nil
}
