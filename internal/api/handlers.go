package api

import (
	"context"
	"errors"
	"net/http"

	"cryptum-bot/internal/adaptive"
	"cryptum-bot/internal/breaker"
	"cryptum-bot/internal/database"
	"cryptum-bot/internal/ledger"
	"cryptum-bot/internal/orchestrator"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ConfigStore is the repository slice the handlers read directly
type ConfigStore interface {
	GetTradingConfig(ctx context.Context, userID string) (*database.TradingConfig, error)
}

// Accountant serves the snapshot read
type Accountant interface {
	ComputeSnapshot(ctx context.Context, userID string) (*ledger.Snapshot, error)
}

// SafetyGate serves the circuit breaker read
type SafetyGate interface {
	CheckRecentPerformance(ctx context.Context, userID string) (breaker.Assessment, error)
}

// StrategySelector serves the manual adjustment trigger
type StrategySelector interface {
	MaybeAdjust(ctx context.Context, userID string) (*adaptive.Adjustment, error)
}

// CycleRunner serves the manual cycle trigger
type CycleRunner interface {
	RunCycle(ctx context.Context, rc orchestrator.RunContext) (*orchestrator.CycleReport, error)
}

// Handlers binds the control surface to one run context
type Handlers struct {
	rc         orchestrator.RunContext
	store      ConfigStore
	accountant Accountant
	gate       SafetyGate
	selector   StrategySelector
	runner     CycleRunner
	logger     zerolog.Logger
}

// NewHandlers creates the API handlers
func NewHandlers(rc orchestrator.RunContext, store ConfigStore, accountant Accountant,
	gate SafetyGate, selector StrategySelector, runner CycleRunner, logger zerolog.Logger) *Handlers {
	return &Handlers{
		rc:         rc,
		store:      store,
		accountant: accountant,
		gate:       gate,
		selector:   selector,
		runner:     runner,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// Status answers the watchdog probe. is_running reflects whether automated
// trading is active for the configured user; the endpoint itself answering
// means the process is alive.
func (h *Handlers) Status(c *gin.Context) {
	isRunning := false
	if cfg, err := h.store.GetTradingConfig(c.Request.Context(), h.rc.UserID); err == nil {
		isRunning = cfg.IsActive
	}
	c.JSON(http.StatusOK, gin.H{
		"is_running": isRunning,
		"user_id":    h.rc.UserID,
		"demo":       h.rc.Demo,
	})
}

// Snapshot returns the current financial snapshot
func (h *Handlers) Snapshot(c *gin.Context) {
	snap, err := h.accountant.ComputeSnapshot(c.Request.Context(), h.rc.UserID)
	if err != nil {
		if errors.Is(err, database.ErrNoDailyStats) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no daily stats for today, run a cycle first"})
			return
		}
		h.logger.Error().Err(err).Msg("snapshot failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot failed"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// CircuitBreaker returns the current breaker assessment
func (h *Handlers) CircuitBreaker(c *gin.Context) {
	assessment, err := h.gate.CheckRecentPerformance(c.Request.Context(), h.rc.UserID)
	if err != nil {
		if errors.Is(err, database.ErrNoDailyStats) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no daily stats for today, run a cycle first"})
			return
		}
		h.logger.Error().Err(err).Msg("breaker check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "breaker check failed"})
		return
	}
	c.JSON(http.StatusOK, assessment)
}

// AdjustStrategy triggers one adaptive evaluation
func (h *Handlers) AdjustStrategy(c *gin.Context) {
	adjustment, err := h.selector.MaybeAdjust(c.Request.Context(), h.rc.UserID)
	if err != nil {
		if errors.Is(err, database.ErrNoTradingConfig) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no trading config for user"})
			return
		}
		h.logger.Error().Err(err).Msg("strategy adjustment failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "strategy adjustment failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"adjusted":   adjustment != nil,
		"adjustment": adjustment,
	})
}

// TriggerCycle runs one analysis cycle on demand. Lock and cooldown
// contention are expected outcomes answered with 429 so the caller backs
// off instead of treating them as failures.
func (h *Handlers) TriggerCycle(c *gin.Context) {
	report, err := h.runner.RunCycle(c.Request.Context(), h.rc)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrCooldownActive):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "cooldown active"})
		case errors.Is(err, orchestrator.ErrLockHeld):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "cycle already running"})
		case errors.Is(err, database.ErrNoTradingConfig):
			c.JSON(http.StatusNotFound, gin.H{"error": "no trading config for user"})
		default:
			h.logger.Error().Err(err).Msg("cycle failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "cycle failed"})
		}
		return
	}
	c.JSON(http.StatusOK, report)
}
