package evaluator

import (
	"testing"
	"time"

	"cryptum-bot/internal/database"
)

func floatEquals(a, b, tolerance float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

func defaultParams() RuleParams {
	return RuleParams{
		TakeProfitPercent:         0.30,
		StopLossPercent:           1.00,
		TrailingEnabled:           true,
		TrailingActivationPercent: 0.25,
		TrailingPercent:           0.15,
		BreakEvenEnabled:          false,
		BreakEvenThresholdPercent: 0.20,
		TimeoutEnabled:            true,
		TimeoutMinutes:            240,
		TimeoutFloorPercent:       -0.20,
	}
}

func position(entry, qty float64, age time.Duration, highest *float64) *database.Position {
	return &database.Position{
		Symbol:       "BTCUSDT",
		Side:         database.SideBuy,
		Quantity:     qty,
		EntryPrice:   entry,
		HighestPrice: highest,
		OpenedAt:     time.Now().Add(-age),
	}
}

func TestEvaluateRules(t *testing.T) {
	now := time.Now()
	highSeen := 103.0
	trailHigh := 100.5

	testCases := []struct {
		name       string
		pos        *database.Position
		params     RuleParams
		price      float64
		wantClose  bool
		wantReason string
	}{
		{
			name:       "take profit at exact threshold",
			pos:        position(100, 10, time.Minute, nil),
			params:     defaultParams(),
			price:      100.30, // exactly +0.30%
			wantClose:  true,
			wantReason: ReasonTakeProfit,
		},
		{
			name:      "just below take profit stays open",
			pos:       position(100, 10, time.Minute, nil),
			params:    defaultParams(),
			price:     100.29,
			wantClose: false,
		},
		{
			name:       "stop loss at threshold",
			pos:        position(100, 10, time.Minute, nil),
			params:     defaultParams(),
			price:      99.0, // -1.00% of a 1000 position is -10
			wantClose:  true,
			wantReason: ReasonStopLoss,
		},
		{
			name:      "just inside stop loss stays open",
			pos:       position(100, 10, time.Minute, nil),
			params:    defaultParams(),
			price:     99.001,
			wantClose: false,
		},
		{
			name:       "trailing stop after pullback from armed high",
			pos:        position(100, 10, time.Minute, &trailHigh),
			params:     defaultParams(),
			price:      100.25, // high 100.5 armed the trail, stop at 100.34925
			wantClose:  true,
			wantReason: ReasonTrailingStop,
		},
		{
			name:      "trailing not armed below activation",
			pos:       position(100, 10, time.Minute, nil),
			params:    defaultParams(),
			price:     100.1, // never reached entry * 1.0025
			wantClose: false,
		},
		{
			name: "breakeven fires once armed and price returns to entry",
			pos:  position(100, 10, time.Minute, &highSeen),
			params: func() RuleParams {
				p := defaultParams()
				p.TrailingEnabled = false
				p.BreakEvenEnabled = true
				return p
			}(),
			price:      99.9,
			wantClose:  true,
			wantReason: ReasonBreakeven,
		},
		{
			name:       "timeout closes an aged flat position",
			pos:        position(100, 10, 5*time.Hour, nil),
			params:     defaultParams(),
			price:      100.05,
			wantClose:  true,
			wantReason: ReasonTimeout,
		},
		{
			name:      "timeout spares a deep loser",
			pos:       position(100, 10, 5*time.Hour, nil),
			params:    defaultParams(),
			price:     99.5, // -0.50% is below the floor, stop loss not hit either
			wantClose: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			verdict := Evaluate(tc.pos, tc.params, tc.price, now)
			if verdict.ShouldClose != tc.wantClose {
				t.Fatalf("ShouldClose = %v, want %v (reason %q)", verdict.ShouldClose, tc.wantClose, verdict.Reason)
			}
			if tc.wantClose && verdict.Reason != tc.wantReason {
				t.Errorf("Reason = %q, want %q", verdict.Reason, tc.wantReason)
			}
		})
	}
}

// When a gapping price satisfies both exit bands in one tick, the win exit
// must take priority over every loss exit.
func TestEvaluateTakeProfitBeatsLowerRules(t *testing.T) {
	params := defaultParams()
	params.TimeoutEnabled = true
	params.TimeoutFloorPercent = -0.20

	pos := position(100, 10, 10*time.Hour, nil)
	verdict := Evaluate(pos, params, 101.0, time.Now())

	if !verdict.ShouldClose || verdict.Reason != ReasonTakeProfit {
		t.Errorf("verdict = (%v, %q), want take profit before timeout", verdict.ShouldClose, verdict.Reason)
	}
}

func TestEvaluateHighestPriceNeverDecreases(t *testing.T) {
	high := 105.0
	pos := position(100, 10, time.Minute, &high)
	params := defaultParams()
	params.TrailingEnabled = false

	verdict := Evaluate(pos, params, 101.0, time.Now())
	if !floatEquals(verdict.HighestPrice, 105.0, 1e-9) {
		t.Errorf("HighestPrice = %v, want 105 retained", verdict.HighestPrice)
	}

	verdict = Evaluate(pos, params, 106.0, time.Now())
	if !floatEquals(verdict.HighestPrice, 106.0, 1e-9) {
		t.Errorf("HighestPrice = %v, want 106 after new high", verdict.HighestPrice)
	}
}

func TestEvaluateThresholdsScaleWithPositionValue(t *testing.T) {
	params := defaultParams()
	now := time.Now()

	// Same -1% move on very different position sizes must both stop out
	small := Evaluate(position(10, 1, time.Minute, nil), params, 9.9, now)
	large := Evaluate(position(50000, 2, time.Minute, nil), params, 49500, now)

	if !small.ShouldClose || small.Reason != ReasonStopLoss {
		t.Errorf("small position verdict = (%v, %q), want stop loss", small.ShouldClose, small.Reason)
	}
	if !large.ShouldClose || large.Reason != ReasonStopLoss {
		t.Errorf("large position verdict = (%v, %q), want stop loss", large.ShouldClose, large.Reason)
	}
}

func TestEvaluateIsIdempotentAtSamePrice(t *testing.T) {
	pos := position(100, 10, time.Minute, nil)
	params := defaultParams()
	now := time.Now()

	first := Evaluate(pos, params, 100.15, now)
	second := Evaluate(pos, params, 100.15, now)

	if first != second {
		t.Errorf("verdicts differ across identical evaluations: %+v vs %+v", first, second)
	}
}
