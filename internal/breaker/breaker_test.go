package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"cryptum-bot/internal/database"

	"github.com/rs/zerolog"
)

func defaultThresholds() Thresholds {
	return Thresholds{
		MinSample:       10,
		LookbackDays:    7,
		HardWinRate:     20,
		HardLossPercent: 10,
		SoftWinRate:     40,
		SoftLossPercent: 5,
	}
}

func closedTrades(pls ...float64) []*database.Trade {
	trades := make([]*database.Trade, len(pls))
	for i := range pls {
		pl := pls[i]
		trades[i] = &database.Trade{ProfitLoss: &pl}
	}
	return trades
}

func losses(n int, each float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = each
	}
	return out
}

func TestAssess(t *testing.T) {
	windowStart := time.Now().AddDate(0, 0, -7)

	testCases := []struct {
		name       string
		trades     []*database.Trade
		refBalance float64
		wantLevel  string
	}{
		{
			name:       "nine losses stay below the minimum sample",
			trades:     closedTrades(losses(9, -1)...),
			refBalance: 1000,
			wantLevel:  LevelOK,
		},
		{
			name:       "tenth loss trips the hard win rate band",
			trades:     closedTrades(losses(10, -1)...),
			refBalance: 1000,
			wantLevel:  LevelBlock,
		},
		{
			name:       "drawdown beyond ten percent blocks despite decent win rate",
			trades:     closedTrades(5, 5, 5, 5, 5, -30, -30, -30, -30, -30),
			refBalance: 1000, // net -125 is 12.5% of reference
			wantLevel:  LevelBlock,
		},
		{
			name:       "low but not critical win rate warns",
			trades:     closedTrades(8, 8, 8, -1, -1, -1, -1, -1, -1, -1),
			refBalance: 1000, // 30% wins, net positive
			wantLevel:  LevelWarn,
		},
		{
			name:       "drawdown at exactly the soft band passes",
			trades:     closedTrades(10, 10, 10, 10, 10, -20, -20, -20, -20, -20),
			refBalance: 1000, // net -50 is exactly 5%, band requires strictly more
			wantLevel:  LevelOK,
		},
		{
			name:       "moderate net drawdown warns",
			trades:     closedTrades(10, 10, 10, 10, 10, -22, -22, -22, -22, -22),
			refBalance: 1000, // net -60 is 6% of reference
			wantLevel:  LevelWarn,
		},
		{
			name:       "net positive window with healthy win rate passes",
			trades:     closedTrades(2, 2, 2, 2, 2, 2, -1, -1, -1, -1),
			refBalance: 1000,
			wantLevel:  LevelOK,
		},
		{
			name:       "profitable window never reports a loss percent",
			trades:     closedTrades(50, 50, 50, 50, 50, -2, -2, -2, -2, -2),
			refBalance: 100,
			wantLevel:  LevelOK,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Assess(tc.trades, tc.refBalance, defaultThresholds(), windowStart)
			if got.Level != tc.wantLevel {
				t.Errorf("Assess() level = %s (reason %q), want %s", got.Level, got.Reason, tc.wantLevel)
			}
		})
	}
}

type fakeStore struct {
	config   *database.TradingConfig
	trades   []*database.Trade
	stats    *database.DailyStats
	statsErr error
	halted   bool
	inactive bool
}

func (f *fakeStore) GetTradingConfig(ctx context.Context, userID string) (*database.TradingConfig, error) {
	if f.config == nil {
		return nil, database.ErrNoTradingConfig
	}
	return f.config, nil
}

func (f *fakeStore) ListClosedTradesSince(ctx context.Context, userID string, since time.Time) ([]*database.Trade, error) {
	return f.trades, nil
}

func (f *fakeStore) GetDailyStats(ctx context.Context, userID string, date time.Time, isDemo bool) (*database.DailyStats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return f.stats, nil
}

func (f *fakeStore) SetTradingActive(ctx context.Context, userID string, active bool) error {
	f.inactive = !active
	return nil
}

func (f *fakeStore) SetDailyTradingHalt(ctx context.Context, userID string, date time.Time, isDemo bool, reason string) error {
	f.halted = true
	return nil
}

func TestCheckRecentPerformanceUsesStartingBalance(t *testing.T) {
	store := &fakeStore{
		trades: closedTrades(5, 5, 5, 5, 5, -30, -30, -30, -30, -30),
		stats:  &database.DailyStats{StartingBalance: 1000},
	}
	b := New(store, defaultThresholds(), true, zerolog.Nop())

	got, err := b.CheckRecentPerformance(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CheckRecentPerformance() error = %v", err)
	}
	if got.Level != LevelBlock {
		t.Errorf("level = %s, want BLOCK at 12.5%% drawdown", got.Level)
	}
}

// A missing or unreadable daily-stats row must fail the check. Falling back
// to a zero reference balance would turn off the drawdown stop entirely.
func TestCheckRecentPerformancePropagatesStatsError(t *testing.T) {
	store := &fakeStore{
		trades:   closedTrades(5, 5, 5, 5, 5, -30, -30, -30, -30, -30),
		statsErr: database.ErrNoDailyStats,
	}
	b := New(store, defaultThresholds(), true, zerolog.Nop())

	_, err := b.CheckRecentPerformance(context.Background(), "user-1")
	if !errors.Is(err, database.ErrNoDailyStats) {
		t.Fatalf("CheckRecentPerformance() error = %v, want ErrNoDailyStats", err)
	}
}

func TestTripDisablesTradingAndHaltsDay(t *testing.T) {
	store := &fakeStore{stats: &database.DailyStats{StartingBalance: 1000}}
	b := New(store, defaultThresholds(), true, zerolog.Nop())

	assessment := Assess(closedTrades(losses(10, -1)...), 1000, defaultThresholds(), time.Now())
	if err := b.Trip(context.Background(), "user-1", assessment); err != nil {
		t.Fatalf("Trip() error = %v", err)
	}
	if !store.inactive {
		t.Error("Trip() did not disable trading")
	}
	if !store.halted {
		t.Error("Trip() did not halt the trading day")
	}
}

func TestAssessBlockedDisallowsEntries(t *testing.T) {
	windowStart := time.Now().AddDate(0, 0, -7)
	assessment := Assess(closedTrades(losses(10, -1)...), 1000, defaultThresholds(), windowStart)

	if assessment.Allowed() {
		t.Error("Allowed() = true for a blocked assessment")
	}
	if assessment.Reason == "" {
		t.Error("blocked assessment carries no reason")
	}
}

func TestAssessTreatsFlatTradesAsWins(t *testing.T) {
	windowStart := time.Now().AddDate(0, 0, -7)
	trades := closedTrades(0, 0, 0, 0, 0, 0, 0, 0, 0, 0)

	got := Assess(trades, 1000, defaultThresholds(), windowStart)
	if got.Level != LevelOK {
		t.Errorf("Assess() level = %s, want OK for flat window", got.Level)
	}
	if got.WinRate != 100 {
		t.Errorf("WinRate = %v, want 100 with breakeven trades counted as wins", got.WinRate)
	}
}
