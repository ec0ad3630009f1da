// Package market fetches live prices from the exchange. Every lookup is a
// fresh fetch with a bounded timeout; there is no caching layer.
package market

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
)

// ErrPriceUnavailable signals a transient lookup failure. Callers skip the
// affected symbol for the current cycle and retry on the next tick; they
// must never act on a guessed or stale price.
var ErrPriceUnavailable = errors.New("price unavailable")

const priceTimeout = 5 * time.Second

// PriceSource supplies current prices for symbols
type PriceSource interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	FetchPrices(ctx context.Context, symbols []string) map[string]float64
}

// Gateway is the Binance Futures price source
type Gateway struct {
	client *futures.Client
	logger zerolog.Logger
}

// NewGateway creates a gateway over the Binance Futures API
func NewGateway(apiKey, secretKey string, testnet bool, logger zerolog.Logger) *Gateway {
	if testnet {
		futures.UseTestnet = true
	}
	return &Gateway{
		client: futures.NewClient(apiKey, secretKey),
		logger: logger.With().Str("component", "market").Logger(),
	}
}

// GetCurrentPrice fetches the current price for one symbol. Failures of any
// kind collapse into ErrPriceUnavailable so callers can skip-and-retry.
func (g *Gateway) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, priceTimeout)
	defer cancel()

	prices, err := g.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		g.logger.Warn().Err(err).Str("symbol", symbol).Msg("price fetch failed")
		return 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("%w: no price data for %s", ErrPriceUnavailable, symbol)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("%w: bad price payload for %s", ErrPriceUnavailable, symbol)
	}
	return price, nil
}

// FetchPrices looks up all distinct symbols concurrently and returns the
// prices it could get. Missing symbols are simply absent from the result;
// the caller decides what to skip.
func (g *Gateway) FetchPrices(ctx context.Context, symbols []string) map[string]float64 {
	return fanOutPrices(ctx, g, symbols)
}

func fanOutPrices(ctx context.Context, src PriceSource, symbols []string) map[string]float64 {
	distinct := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		distinct[s] = struct{}{}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	prices := make(map[string]float64, len(distinct))

	for symbol := range distinct {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			price, err := src.GetCurrentPrice(ctx, symbol)
			if err != nil {
				return
			}
			mu.Lock()
			prices[symbol] = price
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()

	return prices
}
