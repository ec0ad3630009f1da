package market

import (
	"context"
	"fmt"
	"sync"
)

// MockGateway is a deterministic in-memory price source for tests and for
// running the bot without exchange connectivity.
type MockGateway struct {
	mu     sync.RWMutex
	prices map[string]float64
	failed map[string]bool
}

// NewMockGateway creates an empty mock price source
func NewMockGateway() *MockGateway {
	return &MockGateway{
		prices: make(map[string]float64),
		failed: make(map[string]bool),
	}
}

// SetPrice sets the price returned for a symbol
func (m *MockGateway) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = price
	delete(m.failed, symbol)
}

// FailSymbol makes lookups for a symbol return ErrPriceUnavailable
func (m *MockGateway) FailSymbol(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[symbol] = true
}

// GetCurrentPrice returns the configured price for a symbol
func (m *MockGateway) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failed[symbol] {
		return 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
	}
	price, ok := m.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
	}
	return price, nil
}

// FetchPrices resolves all configured symbols concurrently
func (m *MockGateway) FetchPrices(ctx context.Context, symbols []string) map[string]float64 {
	return fanOutPrices(ctx, m, symbols)
}
