package binance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var ErrBelowMinQty = errors.New("quantity below exchange minimum")

// FloorToStep rounds v down to a multiple of step. A zero step returns v.
func FloorToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	d := decimal.NewFromFloat(v)
	s := decimal.NewFromFloat(step)
	f, _ := d.Div(s).Floor().Mul(s).Float64()
	return f
}

// FormatQuantity renders a quantity with exactly the precision of step,
// the way the order endpoint accepts it.
func FormatQuantity(v, step float64) string {
	if step <= 0 {
		return decimal.NewFromFloat(v).String()
	}
	places := -decimal.NewFromFloat(step).Exponent()
	if places < 0 {
		places = 0
	}
	return decimal.NewFromFloat(FloorToStep(v, step)).StringFixed(places)
}

// NormalizeQuantity floors qty to the lot step and enforces minQty and,
// given a reference price, minNotional.
func (p *SymbolPrecision) NormalizeQuantity(qty, price float64) (float64, error) {
	q := FloorToStep(qty, p.StepSize)
	if q <= 0 || q < p.MinQty {
		return 0, fmt.Errorf("%w: %s qty %.8f min %.8f", ErrBelowMinQty, p.Symbol, q, p.MinQty)
	}
	if p.MaxQty > 0 && q > p.MaxQty {
		q = FloorToStep(p.MaxQty, p.StepSize)
	}
	if price > 0 && p.MinNotional > 0 && q*price < p.MinNotional {
		return 0, fmt.Errorf("%w: %s notional %.8f min %.8f", ErrBelowMinQty, p.Symbol, q*price, p.MinNotional)
	}
	return q, nil
}

// ============================================================================
// EXCHANGE INFO CACHE
// ============================================================================

type precisionLoader func(ctx context.Context) (map[string]SymbolPrecision, error)

// PrecisionCache keeps symbol filters for a refresh period. The whole table
// is reloaded at once since exchangeInfo returns every symbol.
type PrecisionCache struct {
	mu       sync.RWMutex
	load     precisionLoader
	refresh  time.Duration
	loadedAt time.Time
	symbols  map[string]SymbolPrecision
	now      func() time.Time
}

// NewPrecisionCache creates a cache backed by load
func NewPrecisionCache(load precisionLoader, refresh time.Duration) *PrecisionCache {
	if refresh <= 0 {
		refresh = 24 * time.Hour
	}
	return &PrecisionCache{load: load, refresh: refresh, now: time.Now}
}

// Get returns the filters for symbol, reloading the table when stale
func (c *PrecisionCache) Get(ctx context.Context, symbol string) (*SymbolPrecision, error) {
	c.mu.RLock()
	fresh := c.symbols != nil && c.now().Sub(c.loadedAt) < c.refresh
	p, ok := c.symbols[symbol]
	c.mu.RUnlock()

	if fresh {
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
		}
		return &p, nil
	}

	if err := c.Reload(ctx); err != nil {
		// Serve stale filters rather than block trading
		if ok {
			return &p, nil
		}
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok = c.symbols[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return &p, nil
}

// Reload fetches the full table
func (c *PrecisionCache) Reload(ctx context.Context) error {
	symbols, err := c.load(ctx)
	if err != nil {
		return fmt.Errorf("error loading exchange info: %w", err)
	}
	c.mu.Lock()
	c.symbols = symbols
	c.loadedAt = c.now()
	c.mu.Unlock()
	return nil
}
