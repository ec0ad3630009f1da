package database

import (
	"time"
)

// Trade side constants
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Strategy tier constants
const (
	TierConservative = "conservative"
	TierModerate     = "moderate"
	TierAggressive   = "aggressive"
)

// Position represents an open long exposure to one symbol. There is at most
// one row per (user, symbol, mode); DCA adds fold into it via the weighted
// entry price.
type Position struct {
	ID            int64      `json:"id"`
	UserID        string     `json:"user_id"`
	Symbol        string     `json:"symbol"`
	Side          string     `json:"side"`
	Quantity      float64    `json:"quantity"`
	EntryPrice    float64    `json:"entry_price"`    // Volume-weighted, entry commission included
	CurrentPrice  *float64   `json:"current_price,omitempty"`
	HighestPrice  *float64   `json:"highest_price,omitempty"` // Running max since open, non-decreasing
	UnrealizedPnL *float64   `json:"unrealized_pnl,omitempty"`
	IsDemo        bool       `json:"is_demo"`
	OpenedAt      time.Time  `json:"opened_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Value returns the position notional at entry
func (p *Position) Value() float64 {
	return p.EntryPrice * p.Quantity
}

// Trade is an immutable record of one fill. SELL fills carry the realized
// ProfitLoss net of exit commission; the append-only trade log is the source
// of truth for realized P&L aggregation.
type Trade struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	Symbol      string    `json:"symbol"`
	Side        string    `json:"side"`
	Price       float64   `json:"price"`
	Quantity    float64   `json:"quantity"`
	Commission  float64   `json:"commission"`
	ProfitLoss  *float64  `json:"profit_loss,omitempty"` // SELL only
	CloseReason *string   `json:"close_reason,omitempty"`
	IsDemo      bool      `json:"is_demo"`
	ExecutedAt  time.Time `json:"executed_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// DailyStats is one row per (user, calendar day, mode). StartingBalance is
// fixed at day start and never changes; CurrentBalance is the authoritative
// total account value at any instant. Demo and real balances live in
// separate rows so the two ledgers can never settle into one another.
type DailyStats struct {
	ID              int64     `json:"id"`
	UserID          string    `json:"user_id"`
	Date            time.Time `json:"date"`
	StartingBalance float64   `json:"starting_balance"`
	CurrentBalance  float64   `json:"current_balance"`
	TradesCount     int       `json:"trades_count"`
	CanTrade        bool      `json:"can_trade"`
	StopReason      *string   `json:"stop_reason,omitempty"`
	IsDemo          bool      `json:"is_demo"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TradingConfig holds the mutable per-user risk parameters.
// StrategyAdjustedAt gates re-adjustment and windows the circuit breaker's
// trade lookback.
type TradingConfig struct {
	UserID             string    `json:"user_id"`
	Leverage           int       `json:"leverage"`
	StopLossPercent    float64   `json:"stop_loss_percent"`
	TakeProfitPercent  float64   `json:"take_profit_percent"`
	MinConfidence      float64   `json:"min_confidence"`
	QuantityUSDT       float64   `json:"quantity_usdt"`
	IsActive           bool      `json:"is_active"`
	StrategyTier       string    `json:"strategy_tier"`
	StrategyAdjustedAt time.Time `json:"strategy_adjusted_at"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
