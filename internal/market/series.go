package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"grid-trading-bot/internal/binance"
)

// DefaultInterval is used for pairs without their own candle interval
const DefaultInterval = "4h"

// FallbackDelay is the evaluation delay for a symbol the cache does not know
const FallbackDelay = 60 * time.Minute

var ErrUnsupportedInterval = errors.New("unsupported candle interval")

// refreshCadence is how often, in minutes, a symbol is re-evaluated for each
// supported candle interval
var refreshCadence = map[string]float64{
	"5m":  0.5,
	"15m": 1,
	"30m": 3,
	"1h":  5,
	"4h":  5,
}

// candleMinutes is the length of one candle
var candleMinutes = map[string]float64{
	"1m": 1, "3m": 3, "5m": 5, "15m": 15, "30m": 30,
	"1h": 60, "2h": 120, "4h": 240, "6h": 360, "8h": 480, "12h": 720,
	"1d": 1440, "3d": 4320, "1w": 10080,
}

// ValidInterval reports whether the tracker can evaluate on interval
func ValidInterval(interval string) bool {
	_, ok := refreshCadence[interval]
	return ok
}

// Cadence returns the refresh cadence of interval
func Cadence(interval string) (time.Duration, error) {
	m, ok := refreshCadence[interval]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedInterval, interval)
	}
	return time.Duration(m * float64(time.Minute)), nil
}

type symbolSeries struct {
	interval  string
	prices    []float64
	startTime time.Time
	fetchedAt time.Time
}

// SeriesCache holds recent closing prices per symbol. Between full candle
// refetches only the newest point is replaced with the ticker price.
type SeriesCache struct {
	mu     sync.Mutex
	client binance.ExchangeClient
	series map[string]*symbolSeries
	now    func() time.Time
	logger zerolog.Logger
}

// NewSeriesCache creates an empty cache reading from client
func NewSeriesCache(client binance.ExchangeClient, logger zerolog.Logger) *SeriesCache {
	return &SeriesCache{
		client: client,
		series: make(map[string]*symbolSeries),
		now:    time.Now,
		logger: logger.With().Str("component", "SeriesCache").Logger(),
	}
}

// SetInterval changes the candle interval of symbol, dropping cached data
// when it differs
func (c *SeriesCache) SetInterval(symbol, interval string) error {
	if !ValidInterval(interval) {
		return fmt.Errorf("%w: %q", ErrUnsupportedInterval, interval)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.series[symbol]
	if !ok {
		c.series[symbol] = &symbolSeries{interval: interval}
		return nil
	}
	if s.interval != interval {
		*s = symbolSeries{interval: interval}
	}
	return nil
}

// Interval returns the candle interval of symbol
func (c *SeriesCache) Interval(symbol string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.series[symbol]; ok && s.interval != "" {
		return s.interval
	}
	return DefaultInterval
}

// Delay returns the base evaluation delay for symbol
func (c *SeriesCache) Delay(symbol string) time.Duration {
	c.mu.Lock()
	s, ok := c.series[symbol]
	c.mu.Unlock()
	if !ok {
		return FallbackDelay
	}
	interval := s.interval
	if interval == "" {
		interval = DefaultInterval
	}
	d, err := Cadence(interval)
	if err != nil {
		return FallbackDelay
	}
	return d
}

// Update refreshes and returns a copy of the last limit closes of symbol
func (c *SeriesCache) Update(ctx context.Context, symbol string, limit int) ([]float64, error) {
	c.mu.Lock()
	s, ok := c.series[symbol]
	if !ok {
		s = &symbolSeries{interval: DefaultInterval}
		c.series[symbol] = s
	}
	interval := s.interval
	full := c.needsFullRefresh(s)
	c.mu.Unlock()

	if full {
		klines, err := c.client.GetKlines(ctx, symbol, interval, limit)
		if err != nil {
			return nil, fmt.Errorf("error refreshing %s series: %w", symbol, err)
		}
		prices := make([]float64, len(klines))
		for i, k := range klines {
			prices[i] = k.Close
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if s.interval != interval {
			// interval changed while fetching; serve what we have
			return append([]float64(nil), prices...), nil
		}
		s.prices = prices
		now := c.now()
		if s.startTime.IsZero() {
			s.startTime = now
		}
		s.fetchedAt = now
		c.logger.Debug().Str("symbol", symbol).Str("interval", interval).Int("points", len(prices)).Msg("series refetched")
		return append([]float64(nil), prices...), nil
	}

	price, err := c.client.GetTickerPrice(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("error refreshing %s price: %w", symbol, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(s.prices) > 0 {
		s.prices[len(s.prices)-1] = price
	}
	return append([]float64(nil), s.prices...), nil
}

// needsFullRefresh is true with no data, or when the elapsed time since the
// first fetch sits within one cadence of a candle boundary
func (c *SeriesCache) needsFullRefresh(s *symbolSeries) bool {
	if len(s.prices) == 0 || s.startTime.IsZero() {
		return true
	}
	period, ok := candleMinutes[s.interval]
	if !ok {
		return true
	}
	cadence := refreshCadence[s.interval]
	elapsed := c.now().Sub(s.startTime).Minutes()
	return mod(elapsed, period) < cadence
}

func mod(a, b float64) float64 {
	return a - b*float64(int64(a/b))
}

// Prices returns a copy of the cached closes without refreshing
func (c *SeriesCache) Prices(symbol string) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.series[symbol]; ok {
		return append([]float64(nil), s.prices...)
	}
	return nil
}

// Reset drops cached closes for symbol, keeping its interval
func (c *SeriesCache) Reset(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.series[symbol]; ok {
		*s = symbolSeries{interval: s.interval}
	}
}

// Remove forgets symbol entirely
func (c *SeriesCache) Remove(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.series, symbol)
}
