package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"cryptum-bot/internal/database"
	"cryptum-bot/internal/market"

	"github.com/rs/zerolog"
)

func floatEquals(a, b, tolerance float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

type fakeStore struct {
	position  *database.Position
	trades    []*database.Trade
	deleted   []int64
	deltas    []float64
	settleErr error
	updated   *struct {
		quantity   float64
		entryPrice float64
	}
}

func (f *fakeStore) GetPosition(ctx context.Context, userID, symbol string, isDemo bool) (*database.Position, error) {
	if f.position == nil {
		return nil, database.ErrPositionNotFound
	}
	return f.position, nil
}

func (f *fakeStore) CreatePosition(ctx context.Context, pos *database.Position) error {
	pos.ID = 1
	f.position = pos
	return nil
}

func (f *fakeStore) UpdatePositionEntry(ctx context.Context, id int64, quantity, entryPrice float64) error {
	f.updated = &struct {
		quantity   float64
		entryPrice float64
	}{quantity, entryPrice}
	return nil
}

func (f *fakeStore) CreateTrade(ctx context.Context, trade *database.Trade) error {
	trade.ID = int64(len(f.trades) + 1)
	f.trades = append(f.trades, trade)
	return nil
}

// SettleClose mirrors the transactional settlement: on failure nothing is
// recorded, on success the trade, delete, and delta land together.
func (f *fakeStore) SettleClose(ctx context.Context, trade *database.Trade, positionID int64, date time.Time, balanceDelta float64) error {
	if f.settleErr != nil {
		return f.settleErr
	}
	trade.ID = int64(len(f.trades) + 1)
	f.trades = append(f.trades, trade)
	f.deleted = append(f.deleted, positionID)
	f.position = nil
	f.deltas = append(f.deltas, balanceDelta)
	return nil
}

func demoExecutor(store *fakeStore, prices market.PriceSource) *Executor {
	return New(store, prices, nil, true, 0.001, zerolog.Nop())
}

func TestOpenPositionCreatesRowAndTrade(t *testing.T) {
	store := &fakeStore{}
	prices := market.NewMockGateway()
	prices.SetPrice("BTCUSDT", 100)

	e := demoExecutor(store, prices)
	fill, err := e.OpenPosition(context.Background(), "user-1", "BTCUSDT", 500)
	if err != nil {
		t.Fatalf("OpenPosition() error = %v", err)
	}

	if !floatEquals(fill.Quantity, 5, 1e-9) {
		t.Errorf("fill quantity = %v, want 5", fill.Quantity)
	}
	if !floatEquals(fill.Commission, 0.5, 1e-9) {
		t.Errorf("fill commission = %v, want 0.5", fill.Commission)
	}
	if store.position == nil {
		t.Fatal("no position created")
	}
	// Entry price carries the commission: (100*5 + 0.5) / 5
	if !floatEquals(store.position.EntryPrice, 100.1, 1e-9) {
		t.Errorf("entry price = %v, want 100.1", store.position.EntryPrice)
	}
	if len(store.trades) != 1 || store.trades[0].Side != database.SideBuy {
		t.Fatalf("trades = %+v, want one BUY", store.trades)
	}
	if store.trades[0].ProfitLoss != nil {
		t.Error("BUY trade carries a profit_loss, want nil")
	}
	if !store.position.IsDemo || !store.trades[0].IsDemo {
		t.Error("demo executor wrote non-demo rows")
	}
}

func TestOpenPositionAveragesIntoExisting(t *testing.T) {
	store := &fakeStore{
		position: &database.Position{
			ID:         1,
			UserID:     "user-1",
			Symbol:     "BTCUSDT",
			Quantity:   5,
			EntryPrice: 100,
			IsDemo:     true,
		},
	}
	prices := market.NewMockGateway()
	prices.SetPrice("BTCUSDT", 110)

	e := demoExecutor(store, prices)
	if _, err := e.OpenPosition(context.Background(), "user-1", "BTCUSDT", 550); err != nil {
		t.Fatalf("OpenPosition() error = %v", err)
	}

	if store.updated == nil {
		t.Fatal("existing position was not updated")
	}
	if !floatEquals(store.updated.quantity, 10, 1e-9) {
		t.Errorf("quantity = %v, want 10", store.updated.quantity)
	}
	// (100*5 + 110*5 + 0.55) / 10
	if !floatEquals(store.updated.entryPrice, 105.055, 1e-9) {
		t.Errorf("weighted entry = %v, want 105.055", store.updated.entryPrice)
	}
}

func TestClosePositionSettlesAndDeletes(t *testing.T) {
	pos := &database.Position{
		ID:         7,
		UserID:     "user-1",
		Symbol:     "BTCUSDT",
		Quantity:   10,
		EntryPrice: 100,
		IsDemo:     true,
	}
	store := &fakeStore{position: pos}
	prices := market.NewMockGateway()
	prices.SetPrice("BTCUSDT", 100.31)

	e := demoExecutor(store, prices)
	fill, realized, err := e.ClosePosition(context.Background(), pos, "TAKE_PROFIT")
	if err != nil {
		t.Fatalf("ClosePosition() error = %v", err)
	}

	wantCommission := 100.31 * 10 * 0.001
	if !floatEquals(fill.Commission, wantCommission, 1e-9) {
		t.Errorf("commission = %v, want %v", fill.Commission, wantCommission)
	}
	if !floatEquals(realized, (100.31-100)*10-wantCommission, 1e-9) {
		t.Errorf("realized = %v, want exit delta minus commission", realized)
	}
	if len(store.deleted) != 1 || store.deleted[0] != 7 {
		t.Errorf("deleted = %v, want [7]", store.deleted)
	}

	if len(store.trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(store.trades))
	}
	trade := store.trades[0]
	if trade.Side != database.SideSell || trade.ProfitLoss == nil || trade.CloseReason == nil {
		t.Fatalf("sell trade incomplete: %+v", trade)
	}
	if *trade.CloseReason != "TAKE_PROFIT" {
		t.Errorf("close reason = %q, want TAKE_PROFIT", *trade.CloseReason)
	}
	// The settled balance delta is the net realized figure itself, so the
	// exit commission hits the balance exactly once.
	if len(store.deltas) != 1 || !floatEquals(store.deltas[0], realized, 1e-9) {
		t.Errorf("settled deltas = %v, want [%v]", store.deltas, realized)
	}
}

// A settlement failure must leave no partial state behind. The position
// stays open and no SELL trade is recorded, so the next cycle's retry
// appends exactly one SELL instead of a duplicate.
func TestClosePositionFailedSettlementLeavesPositionOpen(t *testing.T) {
	pos := &database.Position{
		ID:         7,
		UserID:     "user-1",
		Symbol:     "BTCUSDT",
		Quantity:   10,
		EntryPrice: 100,
		IsDemo:     true,
	}
	settleErr := errors.New("connection reset")
	store := &fakeStore{position: pos, settleErr: settleErr}
	prices := market.NewMockGateway()
	prices.SetPrice("BTCUSDT", 100.31)

	e := demoExecutor(store, prices)
	if _, _, err := e.ClosePosition(context.Background(), pos, "TAKE_PROFIT"); !errors.Is(err, settleErr) {
		t.Fatalf("ClosePosition() error = %v, want settlement failure", err)
	}
	if len(store.trades) != 0 {
		t.Fatalf("trades recorded = %d after failed settlement, want 0", len(store.trades))
	}
	if store.position == nil || len(store.deleted) != 0 {
		t.Fatal("position removed despite failed settlement")
	}

	store.settleErr = nil
	if _, _, err := e.ClosePosition(context.Background(), pos, "TAKE_PROFIT"); err != nil {
		t.Fatalf("ClosePosition() retry error = %v", err)
	}

	sells := 0
	for _, trade := range store.trades {
		if trade.Side == database.SideSell {
			sells++
		}
	}
	if sells != 1 {
		t.Errorf("SELL trades after retry = %d, want exactly 1", sells)
	}
	if len(store.deleted) != 1 || store.deleted[0] != 7 {
		t.Errorf("deleted = %v, want [7]", store.deleted)
	}
}

func TestOpenPositionFailsWithoutPrice(t *testing.T) {
	store := &fakeStore{}
	prices := market.NewMockGateway()
	prices.FailSymbol("BTCUSDT")

	e := demoExecutor(store, prices)
	if _, err := e.OpenPosition(context.Background(), "user-1", "BTCUSDT", 500); err == nil {
		t.Fatal("OpenPosition() = nil error with unavailable price")
	}
	if store.position != nil || len(store.trades) != 0 {
		t.Error("state mutated despite failed fill")
	}
}
