package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trading-bot/internal/binance"
)

func newCache(t *testing.T) (*SeriesCache, *binance.MockClient, *time.Time) {
	t.Helper()
	mc := binance.NewMockClient()
	mc.SetCloses("ETHUSDT", []float64{10, 11, 12})
	c := NewSeriesCache(mc, zerolog.Nop())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, mc, &now
}

func TestCadence(t *testing.T) {
	d, err := Cadence("15m")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	d, err = Cadence("5m")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	_, err = Cadence("1d")
	assert.True(t, errors.Is(err, ErrUnsupportedInterval))
	assert.False(t, ValidInterval("2h"))
}

func TestUpdateRefetchesOnCandleBoundary(t *testing.T) {
	c, mc, now := newCache(t)
	ctx := context.Background()

	prices, err := c.Update(ctx, "ETHUSDT", 100)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 11, 12}, prices)

	// mid candle: only the newest point follows the ticker
	*now = now.Add(30 * time.Minute)
	mc.SetPrice("ETHUSDT", 12.5)
	prices, err = c.Update(ctx, "ETHUSDT", 100)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 11, 12.5}, prices)

	// next 4h candle: full refetch
	*now = now.Add(211 * time.Minute)
	mc.SetCloses("ETHUSDT", []float64{11, 12, 13, 14})
	prices, err = c.Update(ctx, "ETHUSDT", 100)
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 12, 13, 14}, prices)
}

func TestUpdateReturnsCopies(t *testing.T) {
	c, _, _ := newCache(t)
	prices, err := c.Update(context.Background(), "ETHUSDT", 100)
	require.NoError(t, err)
	prices[0] = 999
	assert.Equal(t, 10.0, c.Prices("ETHUSDT")[0])
}

func TestSetIntervalDropsCachedCloses(t *testing.T) {
	c, _, _ := newCache(t)
	_, err := c.Update(context.Background(), "ETHUSDT", 100)
	require.NoError(t, err)

	require.NoError(t, c.SetInterval("ETHUSDT", "4h"))
	assert.Len(t, c.Prices("ETHUSDT"), 3, "same interval keeps data")

	require.NoError(t, c.SetInterval("ETHUSDT", "1h"))
	assert.Empty(t, c.Prices("ETHUSDT"))
	assert.Equal(t, "1h", c.Interval("ETHUSDT"))
	assert.Equal(t, 5*time.Minute, c.Delay("ETHUSDT"))

	assert.Error(t, c.SetInterval("ETHUSDT", "1w"))
}

func TestDelayFallsBackForUnknownSymbol(t *testing.T) {
	c, _, _ := newCache(t)
	assert.Equal(t, FallbackDelay, c.Delay("NOPE"))
	assert.Equal(t, DefaultInterval, c.Interval("NOPE"))
}

func TestUpdateSurfacesExchangeErrors(t *testing.T) {
	c, mc, _ := newCache(t)
	mc.FailNext("GetKlines", errors.New("boom"))
	_, err := c.Update(context.Background(), "ETHUSDT", 100)
	assert.ErrorContains(t, err, "boom")
}
