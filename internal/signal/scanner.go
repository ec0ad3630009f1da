// Package signal produces candidate entries from recent price action. The
// momentum scanner is deliberately simple; the interesting gating happens
// downstream in the confidence filter, the circuit breaker, and the sizing
// against free balance.
package signal

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
)

// Opportunity is one candidate entry with a confidence score in percent
type Opportunity struct {
	Symbol     string  `json:"symbol"`
	Confidence float64 `json:"confidence"`
}

const (
	klineInterval = "15m"
	klineLimit    = 6
	scanTimeout   = 10 * time.Second

	baseConfidence    = 55.0
	perCandleBoost    = 10.0
	maxConfidence     = 95.0
)

// Scanner scores a fixed watchlist by short-term momentum
type Scanner struct {
	client  *futures.Client
	symbols []string
	logger  zerolog.Logger
}

// NewScanner creates a momentum scanner over the given watchlist
func NewScanner(client *futures.Client, symbols []string, logger zerolog.Logger) *Scanner {
	return &Scanner{
		client:  client,
		symbols: symbols,
		logger:  logger.With().Str("component", "signal").Logger(),
	}
}

// Candidates scores every watchlist symbol. Symbols whose candles cannot be
// fetched are skipped for this scan; a thin or flat tape yields no candidate.
func (s *Scanner) Candidates(ctx context.Context) ([]Opportunity, error) {
	ctx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	var out []Opportunity
	for _, symbol := range s.symbols {
		klines, err := s.client.NewKlinesService().
			Symbol(symbol).
			Interval(klineInterval).
			Limit(klineLimit).
			Do(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("kline fetch failed")
			continue
		}

		closes := make([]float64, 0, len(klines))
		for _, k := range klines {
			c, err := strconv.ParseFloat(k.Close, 64)
			if err != nil || c <= 0 {
				break
			}
			closes = append(closes, c)
		}

		confidence, ok := ScoreMomentum(closes)
		if !ok {
			continue
		}
		out = append(out, Opportunity{Symbol: symbol, Confidence: confidence})
	}
	return out, nil
}

// ScoreMomentum maps a close series to a confidence score. The streak of
// consecutive rising closes ending at the newest candle drives the score;
// no streak means no candidate.
func ScoreMomentum(closes []float64) (float64, bool) {
	if len(closes) < 2 {
		return 0, false
	}

	streak := 0
	for i := len(closes) - 1; i > 0; i-- {
		if closes[i] <= closes[i-1] {
			break
		}
		streak++
	}
	if streak == 0 {
		return 0, false
	}

	confidence := baseConfidence + perCandleBoost*float64(streak)
	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	return confidence, true
}
