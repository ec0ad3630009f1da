// Package executor turns open and close decisions into fills and persisted
// position/trade records. Demo mode fills at the live market price without
// touching the exchange; real mode submits market orders.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"cryptum-bot/internal/database"
	"cryptum-bot/internal/market"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
)

// ErrOrderRejected signals the exchange refused a real order
var ErrOrderRejected = errors.New("order rejected by exchange")

// Fill describes one executed order
type Fill struct {
	Price      float64
	Quantity   float64
	Commission float64
}

// Store is the slice of the repository the executor needs. SettleClose is
// transactional: the SELL trade, the position delete, and the balance delta
// commit together or not at all.
type Store interface {
	GetPosition(ctx context.Context, userID, symbol string, isDemo bool) (*database.Position, error)
	CreatePosition(ctx context.Context, pos *database.Position) error
	UpdatePositionEntry(ctx context.Context, id int64, quantity, entryPrice float64) error
	CreateTrade(ctx context.Context, trade *database.Trade) error
	SettleClose(ctx context.Context, trade *database.Trade, positionID int64, date time.Time, balanceDelta float64) error
}

// Executor opens and closes positions for one mode. In demo mode fills are
// simulated at the live price with the configured commission rate; demo
// trades and positions never mix with real ones.
type Executor struct {
	store          Store
	prices         market.PriceSource
	client         *futures.Client
	isDemo         bool
	commissionRate float64
	logger         zerolog.Logger
	now            func() time.Time
}

// New creates an executor. client may be nil in demo mode.
func New(store Store, prices market.PriceSource, client *futures.Client, isDemo bool, commissionRate float64, logger zerolog.Logger) *Executor {
	return &Executor{
		store:          store,
		prices:         prices,
		client:         client,
		isDemo:         isDemo,
		commissionRate: commissionRate,
		logger:         logger.With().Str("component", "executor").Bool("demo", isDemo).Logger(),
		now:            time.Now,
	}
}

// OpenPosition buys notionalUSDT worth of symbol at market. An existing
// position for the symbol is averaged into via a volume-weighted entry price
// rather than duplicated. Returns the fill for ledger settlement.
func (e *Executor) OpenPosition(ctx context.Context, userID, symbol string, notionalUSDT float64) (*Fill, error) {
	fill, err := e.executeMarket(ctx, symbol, futures.SideTypeBuy, notionalUSDT, 0)
	if err != nil {
		return nil, err
	}
	now := e.now()

	existing, err := e.store.GetPosition(ctx, userID, symbol, e.isDemo)
	switch {
	case err == nil:
		// DCA add: fold the fill into the weighted entry. The entry
		// commission is baked into the entry price so realized P&L at
		// close needs no separate entry-fee bookkeeping.
		totalQty := existing.Quantity + fill.Quantity
		weightedEntry := (existing.EntryPrice*existing.Quantity + fill.Price*fill.Quantity + fill.Commission) / totalQty
		if err := e.store.UpdatePositionEntry(ctx, existing.ID, totalQty, weightedEntry); err != nil {
			return nil, fmt.Errorf("dca add %s: %w", symbol, err)
		}
	case errors.Is(err, database.ErrPositionNotFound):
		entryPrice := (fill.Price*fill.Quantity + fill.Commission) / fill.Quantity
		pos := &database.Position{
			UserID:     userID,
			Symbol:     symbol,
			Side:       database.SideBuy,
			Quantity:   fill.Quantity,
			EntryPrice: entryPrice,
			IsDemo:     e.isDemo,
			OpenedAt:   now,
		}
		if err := e.store.CreatePosition(ctx, pos); err != nil {
			return nil, fmt.Errorf("open %s: %w", symbol, err)
		}
	default:
		return nil, fmt.Errorf("open %s: %w", symbol, err)
	}

	trade := &database.Trade{
		UserID:     userID,
		Symbol:     symbol,
		Side:       database.SideBuy,
		Price:      fill.Price,
		Quantity:   fill.Quantity,
		Commission: fill.Commission,
		IsDemo:     e.isDemo,
		ExecutedAt: now,
	}
	if err := e.store.CreateTrade(ctx, trade); err != nil {
		return nil, fmt.Errorf("record buy %s: %w", symbol, err)
	}

	e.logger.Info().
		Str("user_id", userID).
		Str("symbol", symbol).
		Float64("price", fill.Price).
		Float64("quantity", fill.Quantity).
		Float64("commission", fill.Commission).
		Msg("position opened")
	return fill, nil
}

// ClosePosition sells the full position at market and settles the exit in
// one transaction: the SELL trade, the position delete, and the balance
// credit land together. If any of them fails the close leaves no trace, so
// the next cycle retries from the still-open position without ever doubling
// the SELL. Returns the fill and the realized P&L net of exit commission.
func (e *Executor) ClosePosition(ctx context.Context, pos *database.Position, reason string) (*Fill, float64, error) {
	fill, err := e.executeMarket(ctx, pos.Symbol, futures.SideTypeSell, 0, pos.Quantity)
	if err != nil {
		return nil, 0, err
	}
	now := e.now()

	realizedPnL := (fill.Price-pos.EntryPrice)*pos.Quantity - fill.Commission

	trade := &database.Trade{
		UserID:      pos.UserID,
		Symbol:      pos.Symbol,
		Side:        database.SideSell,
		Price:       fill.Price,
		Quantity:    pos.Quantity,
		Commission:  fill.Commission,
		ProfitLoss:  &realizedPnL,
		CloseReason: &reason,
		IsDemo:      e.isDemo,
		ExecutedAt:  now,
	}
	// The commission is already inside realizedPnL, so it is the exact
	// amount the balance gains from this exit.
	if err := e.store.SettleClose(ctx, trade, pos.ID, now, realizedPnL); err != nil {
		return nil, 0, fmt.Errorf("close %s: %w", pos.Symbol, err)
	}

	e.logger.Info().
		Str("user_id", pos.UserID).
		Str("symbol", pos.Symbol).
		Str("reason", reason).
		Float64("exit_price", fill.Price).
		Float64("realized_pnl", realizedPnL).
		Msg("position closed")
	return fill, realizedPnL, nil
}

// executeMarket fills a market order. For buys quantity is derived from the
// notional at the fill price; for sells the quantity is given.
func (e *Executor) executeMarket(ctx context.Context, symbol string, side futures.SideType, notionalUSDT, quantity float64) (*Fill, error) {
	if e.isDemo || e.client == nil {
		return e.simulateFill(ctx, symbol, side, notionalUSDT, quantity)
	}
	return e.placeOrder(ctx, symbol, side, notionalUSDT, quantity)
}

func (e *Executor) simulateFill(ctx context.Context, symbol string, side futures.SideType, notionalUSDT, quantity float64) (*Fill, error) {
	price, err := e.prices.GetCurrentPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if side == futures.SideTypeBuy {
		quantity = notionalUSDT / price
	}
	return &Fill{
		Price:      price,
		Quantity:   quantity,
		Commission: price * quantity * e.commissionRate,
	}, nil
}

func (e *Executor) placeOrder(ctx context.Context, symbol string, side futures.SideType, notionalUSDT, quantity float64) (*Fill, error) {
	if side == futures.SideTypeBuy {
		price, err := e.prices.GetCurrentPrice(ctx, symbol)
		if err != nil {
			return nil, err
		}
		quantity = notionalUSDT / price
	}

	order, err := e.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(strconv.FormatFloat(quantity, 'f', -1, 64)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		e.logger.Error().Err(err).Str("symbol", symbol).Str("side", string(side)).Msg("order failed")
		return nil, fmt.Errorf("%w: %s %s", ErrOrderRejected, side, symbol)
	}

	fillPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	fillQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	if fillPrice <= 0 || fillQty <= 0 {
		// Some venues return cumulative quote volume instead of an
		// average price on market fills.
		cumQuote, _ := strconv.ParseFloat(order.CumQuote, 64)
		if fillQty > 0 && cumQuote > 0 {
			fillPrice = cumQuote / fillQty
		}
	}
	if fillPrice <= 0 || fillQty <= 0 {
		return nil, fmt.Errorf("%w: empty fill for %s", ErrOrderRejected, symbol)
	}

	// The futures order response carries no commission field; estimate
	// with the configured taker rate.
	return &Fill{
		Price:      fillPrice,
		Quantity:   fillQty,
		Commission: fillPrice * fillQty * e.commissionRate,
	}, nil
}
