// Package evaluator decides whether an open position should close and why.
// Evaluate is a pure function of (position, rules, price, now); it performs
// no I/O, so the orchestrator can apply its verdicts transactionally and a
// re-evaluation at the same price yields the same verdict.
package evaluator

import (
	"time"

	"cryptum-bot/internal/database"
)

// Close reasons recorded on the exit trade
const (
	ReasonTakeProfit   = "TAKE_PROFIT"
	ReasonStopLoss     = "STOP_LOSS"
	ReasonTrailingStop = "TRAILING_STOP"
	ReasonBreakeven    = "BREAKEVEN"
	ReasonTimeout      = "TIMEOUT"
)

// RuleParams are the exit thresholds for one evaluation. TakeProfitPercent
// and StopLossPercent come from the user's active strategy tier; the rest
// come from the rules configuration.
type RuleParams struct {
	TakeProfitPercent         float64
	StopLossPercent           float64
	TrailingEnabled           bool
	TrailingActivationPercent float64
	TrailingPercent           float64
	BreakEvenEnabled          bool
	BreakEvenThresholdPercent float64
	TimeoutEnabled            bool
	TimeoutMinutes            int
	TimeoutFloorPercent       float64
}

// Verdict is the outcome of one evaluation. HighestPrice carries the updated
// running maximum and must be persisted whether or not the position closes.
type Verdict struct {
	ShouldClose   bool
	Reason        string
	CurrentPrice  float64
	UnrealizedPnL float64
	PnLPercent    float64
	HighestPrice  float64
}

// Evaluate runs the exit rules against one open position at the given price.
// Rule order is a fixed priority and first match wins: take-profit, trailing
// stop, breakeven, stop-loss, timeout. A position that matches both the
// take-profit and stop-loss bands in one tick must exit as a win.
func Evaluate(pos *database.Position, params RuleParams, currentPrice float64, now time.Time) Verdict {
	positionValue := pos.EntryPrice * pos.Quantity
	unrealizedPnL := (currentPrice - pos.EntryPrice) * pos.Quantity

	var pnlPercent float64
	if positionValue > 0 {
		pnlPercent = unrealizedPnL / positionValue * 100
	}

	// The running maximum never decreases, even across ticks where the
	// trailing rule is disabled.
	highest := currentPrice
	if pos.HighestPrice != nil && *pos.HighestPrice > highest {
		highest = *pos.HighestPrice
	}

	verdict := Verdict{
		CurrentPrice:  currentPrice,
		UnrealizedPnL: unrealizedPnL,
		PnLPercent:    pnlPercent,
		HighestPrice:  highest,
	}

	if unrealizedPnL > 0 && pnlPercent >= params.TakeProfitPercent {
		verdict.ShouldClose = true
		verdict.Reason = ReasonTakeProfit
		return verdict
	}

	if params.TrailingEnabled {
		activationPrice := pos.EntryPrice * (1 + params.TrailingActivationPercent/100)
		if highest >= activationPrice {
			trailingStopPrice := highest * (1 - params.TrailingPercent/100)
			if currentPrice <= trailingStopPrice {
				verdict.ShouldClose = true
				verdict.Reason = ReasonTrailingStop
				return verdict
			}
		}
	}

	if params.BreakEvenEnabled {
		armPrice := pos.EntryPrice * (1 + params.BreakEvenThresholdPercent/100)
		if highest >= armPrice && currentPrice <= pos.EntryPrice {
			verdict.ShouldClose = true
			verdict.Reason = ReasonBreakeven
			return verdict
		}
	}

	stopLossAmount := positionValue * params.StopLossPercent / 100
	if unrealizedPnL < 0 && -unrealizedPnL >= stopLossAmount {
		verdict.ShouldClose = true
		verdict.Reason = ReasonStopLoss
		return verdict
	}

	if params.TimeoutEnabled {
		age := now.Sub(pos.OpenedAt)
		if age >= time.Duration(params.TimeoutMinutes)*time.Minute && pnlPercent > params.TimeoutFloorPercent {
			verdict.ShouldClose = true
			verdict.Reason = ReasonTimeout
			return verdict
		}
	}

	return verdict
}
