// Package orchestrator runs the periodic analysis cycle for one user: gate
// through the circuit breaker, let the adaptive selector adjust the tier,
// evaluate every open position against live prices, and open new positions
// from the opportunity feed. Each cycle is one short-lived run under an
// exclusive per-user lock.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"cryptum-bot/internal/adaptive"
	"cryptum-bot/internal/breaker"
	"cryptum-bot/internal/database"
	"cryptum-bot/internal/evaluator"
	"cryptum-bot/internal/executor"
	"cryptum-bot/internal/ledger"
	"cryptum-bot/internal/signal"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RunContext identifies whose positions a cycle operates on. It is built
// once at startup from configuration and passed explicitly; nothing in the
// trading path reads user identity or mode from ambient state.
type RunContext struct {
	UserID string
	Demo   bool
}

// OpportunitySource supplies candidate entries. May be nil, in which case
// the orchestrator only manages exits.
type OpportunitySource interface {
	Candidates(ctx context.Context) ([]signal.Opportunity, error)
}

// Locker serializes cycles per user
type Locker interface {
	Acquire(ctx context.Context, userID string) (func(), error)
}

// Store is the slice of the repository the orchestrator needs directly
type Store interface {
	EnsureDailyStats(ctx context.Context, userID string, date time.Time, isDemo bool, defaultBalance float64) (*database.DailyStats, error)
	GetTradingConfig(ctx context.Context, userID string) (*database.TradingConfig, error)
	ListOpenPositions(ctx context.Context, userID string, isDemo bool) ([]*database.Position, error)
	UpdatePositionMarks(ctx context.Context, id int64, currentPrice, highestPrice, unrealizedPnL float64) error
}

// Accountant is the ledger surface the cycle settles through
type Accountant interface {
	ComputeSnapshot(ctx context.Context, userID string) (*ledger.Snapshot, error)
	ApplyTradeDelta(ctx context.Context, userID, side string, tradeValue, commission, realizedPnL float64) (float64, error)
}

// SafetyGate is the circuit breaker surface
type SafetyGate interface {
	CheckRecentPerformance(ctx context.Context, userID string) (breaker.Assessment, error)
	Trip(ctx context.Context, userID string, assessment breaker.Assessment) error
}

// StrategySelector may downgrade the active tier once per cycle
type StrategySelector interface {
	MaybeAdjust(ctx context.Context, userID string) (*adaptive.Adjustment, error)
}

// Trader executes fills
type Trader interface {
	OpenPosition(ctx context.Context, userID, symbol string, notionalUSDT float64) (*executor.Fill, error)
	ClosePosition(ctx context.Context, pos *database.Position, reason string) (*executor.Fill, float64, error)
}

// PriceSource supplies live prices for the cycle's symbols
type PriceSource interface {
	FetchPrices(ctx context.Context, symbols []string) map[string]float64
}

// Notifier surfaces cycle events to the operator. Implementations must be
// nil-safe no-ops when notifications are disabled.
type Notifier interface {
	NotifyBreakerTripped(userID, reason string)
	NotifyStrategyAdjusted(userID, fromTier, toTier string, streak int)
	NotifyPositionClosed(userID, symbol, reason string, realizedPnL float64)
}

// Options are the orchestrator's fixed knobs
type Options struct {
	InitialBalance float64
	Rules          evaluator.RuleParams
}

// CycleReport summarizes one completed run
type CycleReport struct {
	CycleID     string               `json:"cycle_id"`
	UserID      string               `json:"user_id"`
	Demo        bool                 `json:"demo"`
	StartedAt   time.Time            `json:"started_at"`
	Duration    time.Duration        `json:"duration"`
	Evaluated   int                  `json:"evaluated"`
	Closed      int                  `json:"closed"`
	Opened      int                  `json:"opened"`
	Skipped     int                  `json:"skipped"`
	Breaker     breaker.Assessment   `json:"breaker"`
	Adjustment  *adaptive.Adjustment `json:"adjustment,omitempty"`
	Snapshot    *ledger.Snapshot     `json:"snapshot"`
	EntriesOpen bool                 `json:"entries_open"`
}

// Orchestrator drives analysis cycles
type Orchestrator struct {
	store         Store
	accountant    Accountant
	gate          SafetyGate
	selector      StrategySelector
	trader        Trader
	prices        PriceSource
	opportunities OpportunitySource
	lock          Locker
	notifier      Notifier
	opts          Options
	logger        zerolog.Logger
	now           func() time.Time
}

// New creates an orchestrator. opportunities may be nil.
func New(store Store, accountant Accountant, gate SafetyGate, selector StrategySelector,
	trader Trader, prices PriceSource, opportunities OpportunitySource, lock Locker,
	notifier Notifier, opts Options, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		store:         store,
		accountant:    accountant,
		gate:          gate,
		selector:      selector,
		trader:        trader,
		prices:        prices,
		opportunities: opportunities,
		lock:          lock,
		notifier:      notifier,
		opts:          opts,
		logger:        logger.With().Str("component", "orchestrator").Logger(),
		now:           time.Now,
	}
}

// RunCycle executes one analysis cycle under the per-user lock. Lock and
// cooldown contention come back as ErrLockHeld and ErrCooldownActive so the
// scheduler can reschedule instead of alarming. Per-position failures are
// logged and skipped; only missing required state and a non-reconciling
// snapshot abort the run.
func (o *Orchestrator) RunCycle(ctx context.Context, rc RunContext) (*CycleReport, error) {
	release, err := o.lock.Acquire(ctx, rc.UserID)
	if err != nil {
		return nil, err
	}
	defer release()

	started := o.now()
	report := &CycleReport{
		CycleID:   uuid.NewString(),
		UserID:    rc.UserID,
		Demo:      rc.Demo,
		StartedAt: started,
	}

	stats, err := o.store.EnsureDailyStats(ctx, rc.UserID, started, rc.Demo, o.opts.InitialBalance)
	if err != nil {
		return nil, fmt.Errorf("cycle for %s: %w", rc.UserID, err)
	}

	cfg, err := o.store.GetTradingConfig(ctx, rc.UserID)
	if err != nil {
		return nil, fmt.Errorf("cycle for %s: %w", rc.UserID, err)
	}

	assessment, err := o.gate.CheckRecentPerformance(ctx, rc.UserID)
	if err != nil {
		return nil, fmt.Errorf("cycle for %s: %w", rc.UserID, err)
	}
	report.Breaker = assessment
	if !assessment.Allowed() {
		if err := o.gate.Trip(ctx, rc.UserID, assessment); err != nil {
			o.logger.Error().Err(err).Str("user_id", rc.UserID).Msg("breaker trip failed")
		}
		o.notifier.NotifyBreakerTripped(rc.UserID, assessment.Reason)
	}

	if adjustment, err := o.selector.MaybeAdjust(ctx, rc.UserID); err != nil {
		o.logger.Error().Err(err).Str("user_id", rc.UserID).Msg("adaptive adjustment failed")
	} else if adjustment != nil {
		report.Adjustment = adjustment
		o.notifier.NotifyStrategyAdjusted(rc.UserID, adjustment.FromTier, adjustment.ToTier, adjustment.Streak)
		// Re-read so this cycle's exits already use the new tier
		if fresh, err := o.store.GetTradingConfig(ctx, rc.UserID); err == nil {
			cfg = fresh
		}
	}

	o.evaluatePositions(ctx, rc, cfg, report)

	snapshot, err := o.accountant.ComputeSnapshot(ctx, rc.UserID)
	if err != nil {
		// Includes reconciliation failures: never trade on corrupted accounting
		return nil, fmt.Errorf("cycle for %s: %w", rc.UserID, err)
	}
	report.Snapshot = snapshot

	report.EntriesOpen = assessment.Allowed() && cfg.IsActive && stats.CanTrade
	if report.EntriesOpen {
		o.openPositions(ctx, rc, cfg, snapshot, report)
	}

	report.Duration = o.now().Sub(started)
	o.logger.Info().
		Str("cycle_id", report.CycleID).
		Str("user_id", rc.UserID).
		Int("evaluated", report.Evaluated).
		Int("closed", report.Closed).
		Int("opened", report.Opened).
		Int("skipped", report.Skipped).
		Str("breaker", assessment.Level).
		Dur("duration", report.Duration).
		Msg("cycle complete")
	return report, nil
}

// ruleParams overlays the user's active tier thresholds on the base rules
func (o *Orchestrator) ruleParams(cfg *database.TradingConfig) evaluator.RuleParams {
	params := o.opts.Rules
	if cfg.TakeProfitPercent > 0 {
		params.TakeProfitPercent = cfg.TakeProfitPercent
	}
	if cfg.StopLossPercent > 0 {
		params.StopLossPercent = cfg.StopLossPercent
	}
	return params
}

func (o *Orchestrator) evaluatePositions(ctx context.Context, rc RunContext, cfg *database.TradingConfig, report *CycleReport) {
	positions, err := o.store.ListOpenPositions(ctx, rc.UserID, rc.Demo)
	if err != nil {
		o.logger.Error().Err(err).Str("user_id", rc.UserID).Msg("listing positions failed")
		return
	}

	symbols := make([]string, 0, len(positions))
	for _, pos := range positions {
		symbols = append(symbols, pos.Symbol)
	}
	prices := o.prices.FetchPrices(ctx, symbols)
	params := o.ruleParams(cfg)
	now := o.now()

	for _, pos := range positions {
		price, ok := prices[pos.Symbol]
		if !ok {
			// No price means no decision; the position is retried next cycle
			report.Skipped++
			o.logger.Warn().Str("symbol", pos.Symbol).Msg("price unavailable, position skipped")
			continue
		}

		report.Evaluated++
		verdict := evaluator.Evaluate(pos, params, price, now)

		if !verdict.ShouldClose {
			if err := o.store.UpdatePositionMarks(ctx, pos.ID, verdict.CurrentPrice, verdict.HighestPrice, verdict.UnrealizedPnL); err != nil {
				o.logger.Error().Err(err).Str("symbol", pos.Symbol).Msg("updating marks failed")
			}
			continue
		}

		// The trader settles the exit transactionally: trade, position
		// delete, and balance credit commit together.
		_, realized, err := o.trader.ClosePosition(ctx, pos, verdict.Reason)
		if err != nil {
			o.logger.Error().Err(err).Str("symbol", pos.Symbol).Str("reason", verdict.Reason).Msg("close failed")
			continue
		}
		report.Closed++
		o.notifier.NotifyPositionClosed(rc.UserID, pos.Symbol, verdict.Reason, realized)
	}
}

func (o *Orchestrator) openPositions(ctx context.Context, rc RunContext, cfg *database.TradingConfig, snapshot *ledger.Snapshot, report *CycleReport) {
	if o.opportunities == nil || cfg.QuantityUSDT <= 0 {
		return
	}

	candidates, err := o.opportunities.Candidates(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Str("user_id", rc.UserID).Msg("opportunity feed failed")
		return
	}

	free := snapshot.FreeBalance
	for _, c := range candidates {
		if c.Confidence < cfg.MinConfidence {
			continue
		}
		if free < cfg.QuantityUSDT {
			o.logger.Info().Str("symbol", c.Symbol).Float64("free", free).Msg("insufficient free balance for entry")
			break
		}

		fill, err := o.trader.OpenPosition(ctx, rc.UserID, c.Symbol, cfg.QuantityUSDT)
		if err != nil {
			o.logger.Error().Err(err).Str("symbol", c.Symbol).Msg("open failed")
			continue
		}
		if _, err := o.accountant.ApplyTradeDelta(ctx, rc.UserID, database.SideBuy,
			fill.Price*fill.Quantity, fill.Commission, 0); err != nil {
			o.logger.Error().Err(err).Str("symbol", c.Symbol).Msg("settling open failed")
			continue
		}
		free -= fill.Price*fill.Quantity + fill.Commission
		report.Opened++
	}
}
