package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var btc = NewPair("BTC", "USDT")

func newTestLedger(t *testing.T) (*Ledger, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return New(store, zerolog.Nop()), store
}

func filled(id int64, side string, qty, price float64) OrderRecord {
	spent := qty * price
	if side == SideBuy {
		spent = -spent
	}
	return OrderRecord{
		OrderID:      id,
		Symbol:       btc.String(),
		Status:       StatusFilled,
		Side:         side,
		TransactTime: 1700000000000 + id,
		Quantity:     qty,
		Price:        price,
		Spent:        spent,
	}
}

// ============================================================================
// TEST CASES: PAIRS AND RECORDS
// ============================================================================

func TestParsePair(t *testing.T) {
	p, err := ParsePair("btc/usdt")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", p.Symbol())
	assert.Equal(t, "BTC/USDT", p.String())

	p, err = ParsePair("ETH-BTC")
	require.NoError(t, err)
	assert.Equal(t, NewPair("ETH", "BTC"), p)

	_, err = ParsePair("BTCUSDT")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOrderRecordValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*OrderRecord)
		field  string
	}{
		{"valid", func(*OrderRecord) {}, ""},
		{"missing id", func(r *OrderRecord) { r.OrderID = 0 }, "orderId"},
		{"bad side", func(r *OrderRecord) { r.Side = "HOLD" }, "side"},
		{"buy credit", func(r *OrderRecord) { r.Spent = 10 }, "spent"},
		{"no status", func(r *OrderRecord) { r.Status = "" }, "status"},
		{"bad symbol", func(r *OrderRecord) { r.Symbol = "BTCUSDT" }, "symbol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := filled(1, SideBuy, 1, 100)
			tt.mutate(&rec)
			err := rec.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

// ============================================================================
// TEST CASES: DERIVED TOTALS
// ============================================================================

func TestFundsAndGoodsReplayFilledOnly(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Fill(ctx, btc, 1000)
	require.NoError(t, err)
	require.NoError(t, l.RecordOrder(ctx, filled(1, SideBuy, 1, 100)))
	require.NoError(t, l.RecordOrder(ctx, filled(2, SideBuy, 2, 90)))

	pending := filled(3, SideSell, 1, 120)
	pending.Status = StatusNew
	require.NoError(t, l.RecordOrder(ctx, pending))

	assert.InDelta(t, 1000-100-180, l.FundsAvailable(btc), 1e-9)
	assert.InDelta(t, 3, l.GoodsAvailable(btc), 1e-9)

	require.NoError(t, l.RecordOrder(ctx, filled(3, SideSell, 1, 120)))
	assert.InDelta(t, 1000-100-180+120, l.FundsAvailable(btc), 1e-9)
	assert.InDelta(t, 2, l.GoodsAvailable(btc), 1e-9)
}

func TestGoodsAvailableClampsNegative(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.RecordOrder(ctx, filled(1, SideBuy, 1, 100)))
	require.NoError(t, l.RecordOrder(ctx, filled(2, SideSell, 3, 100)))

	assert.Equal(t, 0.0, l.GoodsAvailable(btc))
}

func TestUnknownPairHasNothing(t *testing.T) {
	l, _ := newTestLedger(t)
	assert.Equal(t, 0.0, l.FundsAvailable(btc))
	assert.Equal(t, 0.0, l.GoodsAvailable(btc))
	assert.Equal(t, 0.0, l.EntryPrice(btc))
	_, ok := l.Position(btc)
	assert.False(t, ok)
}

// ============================================================================
// TEST CASES: FILL
// ============================================================================

func TestFillRejectsNegativeResult(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Fill(ctx, btc, 30)
	require.NoError(t, err)

	funds, err := l.Fill(ctx, btc, -50)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 30.0, funds)
	assert.Equal(t, 30.0, l.Funds(btc))
	assert.Equal(t, 30.0, store.Snapshot().Stocks["USDT"]["BTC"].Funds)
}

func TestFillToZeroDestroysEmptyPosition(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Fill(ctx, btc, 30)
	require.NoError(t, err)
	_, err = l.Fill(ctx, btc, -30)
	require.NoError(t, err)

	_, ok := l.Position(btc)
	assert.False(t, ok)
	_, ok = store.Snapshot().Stocks["USDT"]["BTC"]
	assert.False(t, ok)
}

func TestFillRequiresPair(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Fill(context.Background(), Pair{Quote: "USDT"}, 10)
	assert.ErrorIs(t, err, ErrValidation)
}

// ============================================================================
// TEST CASES: SETTLEMENT
// ============================================================================

func TestSettleBuysAverage(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, l.RecordOrder(ctx, filled(1, SideBuy, 1, 100)))
	require.NoError(t, l.RecordOrder(ctx, filled(2, SideBuy, 1, 110)))

	avg, err := l.SettleBuys(ctx, btc, false)
	require.NoError(t, err)
	assert.InDelta(t, 105, avg, 1e-9)

	pos, ok := l.Position(btc)
	require.True(t, ok)
	assert.Len(t, pos.Orders, 2, "non-erasing settle keeps records")
}

func TestSettleBuysEmptyIsZero(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Fill(ctx, btc, 100)
	require.NoError(t, err)

	avg, err := l.SettleBuys(ctx, btc, true)
	require.NoError(t, err)
	assert.Equal(t, 0.0, avg)
}

func TestLiquidateClearsRecordsAndEntry(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Fill(ctx, btc, 1000)
	require.NoError(t, err)
	require.NoError(t, l.RecordOrder(ctx, filled(1, SideBuy, 1, 100)))
	require.NoError(t, l.RecordOrder(ctx, filled(2, SideBuy, 1, 110)))
	require.NoError(t, l.SetEntryPrice(ctx, btc, 105))
	require.NoError(t, l.RecordOrder(ctx, filled(3, SideSell, 2, 120)))

	s, err := l.Liquidate(ctx, btc)
	require.NoError(t, err)
	assert.InDelta(t, 105, s.AvgPrice, 1e-9)
	assert.InDelta(t, 2, s.SoldQty, 1e-9)
	assert.InDelta(t, 1000, s.FundsBefore, 1e-9)
	assert.InDelta(t, 1030, s.FundsAfter, 1e-9)
	assert.InDelta(t, 30, s.RealizedPnL, 1e-9)

	pos, ok := l.Position(btc)
	require.True(t, ok)
	assert.Empty(t, pos.Orders)
	assert.Equal(t, 0.0, pos.EntryPrice)
	assert.InDelta(t, 1030, l.FundsAvailable(btc), 1e-9)
	assert.Equal(t, 0.0, l.GoodsAvailable(btc))
	assert.Empty(t, store.Snapshot().Orders["USDT"]["BTC"])
}

func TestLiquidateKeepsPendingOrders(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Fill(ctx, btc, 500)
	require.NoError(t, err)
	pending := filled(9, SideBuy, 1, 100)
	pending.Status = StatusPartiallyFilled
	require.NoError(t, l.RecordOrder(ctx, pending))

	_, err = l.Liquidate(ctx, btc)
	require.NoError(t, err)
	pos, _ := l.Position(btc)
	require.Len(t, pos.Orders, 1)
	assert.True(t, pos.HasPending())
}

func TestLiquidateUnknownPair(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Liquidate(context.Background(), btc)
	assert.ErrorIs(t, err, ErrNotFound)
}

// ============================================================================
// TEST CASES: FLAGS AND THRESHOLDS
// ============================================================================

func TestFlagsApplyToAllWithZeroPair(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	eth := NewPair("ETH", "USDT")
	for _, p := range []Pair{btc, eth} {
		_, err := l.Fill(ctx, p, 100)
		require.NoError(t, err)
	}

	require.NoError(t, l.SetCalm(ctx, Pair{}, true))
	assert.True(t, l.Calm(btc))
	assert.True(t, l.Calm(eth))

	require.NoError(t, l.SetOnlySell(ctx, eth, true))
	assert.False(t, l.OnlySell(btc))
	assert.True(t, l.OnlySell(eth))
	assert.True(t, store.Snapshot().Stocks["USDT"]["ETH"].OnlySell)
}

func TestSetFlagOnUnknownPair(t *testing.T) {
	l, _ := newTestLedger(t)
	assert.ErrorIs(t, l.SetCalm(context.Background(), btc, true), ErrNotFound)
}

func TestRemoveDropsThresholds(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Fill(ctx, btc, 100)
	require.NoError(t, err)
	require.NoError(t, l.SetRSI(ctx, btc, RSISettings{High: 70, Low: 30, Interval: "1h"}))

	s, ok := l.RSI(btc)
	require.True(t, ok)
	assert.Equal(t, "1h", s.Interval)

	require.NoError(t, l.Remove(ctx, btc))
	_, ok = l.RSI(btc)
	assert.False(t, ok)
	_, ok = store.Snapshot().RSI["USDT"]["BTC"]
	assert.False(t, ok)
}

// ============================================================================
// TEST CASES: DURABILITY
// ============================================================================

func TestReloadRestoresState(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Fill(ctx, btc, 1000)
	require.NoError(t, err)
	require.NoError(t, l.RecordOrder(ctx, filled(1, SideBuy, 1, 100)))
	require.NoError(t, l.SetCalm(ctx, btc, true))

	restored := New(NewMemoryStoreFrom(store.Snapshot()), zerolog.Nop())
	require.NoError(t, restored.Load(ctx))

	assert.InDelta(t, 900, restored.FundsAvailable(btc), 1e-9)
	assert.InDelta(t, 1, restored.GoodsAvailable(btc), 1e-9)
	assert.True(t, restored.Calm(btc))
	assert.Equal(t, []Pair{btc}, restored.Pairs())
}

func TestLoadDropsInvalidRecords(t *testing.T) {
	snap := NewSnapshot()
	snap.Orders["USDT"] = map[string]map[int64]OrderRecord{
		"BTC": {
			1: filled(1, SideBuy, 1, 100),
			2: {OrderID: 2, Symbol: "BTC/USDT", Status: StatusFilled, Side: "???"},
		},
	}
	l := New(NewMemoryStoreFrom(snap), zerolog.Nop())
	require.NoError(t, l.Load(context.Background()))

	pos, ok := l.Position(btc)
	require.True(t, ok)
	assert.Len(t, pos.Orders, 1)
}

func TestStoreFailureKeepsMemoryState(t *testing.T) {
	l, store := newTestLedger(t)
	ctx := context.Background()
	boom := errors.New("redis down")
	store.FailWith(boom)

	err := l.RecordOrder(ctx, filled(1, SideBuy, 1, 100))
	assert.ErrorIs(t, err, boom)
	assert.InDelta(t, 1, l.GoodsAvailable(btc), 1e-9)
}

// ============================================================================
// TEST CASES: CONSISTENCY PROPERTY
// ============================================================================

func TestGoodsNeverNegativeOverSequences(t *testing.T) {
	sides := []string{SideBuy, SideSell, SideSell, SideBuy, SideSell, SideSell, SideSell}
	qtys := []float64{1, 0.5, 0.7, 2, 1, 1, 3}

	l, _ := newTestLedger(t)
	ctx := context.Background()
	bought, sold := 0.0, 0.0
	for i, side := range sides {
		require.NoError(t, l.RecordOrder(ctx, filled(int64(i+1), side, qtys[i], 100)))
		if side == SideBuy {
			bought += qtys[i]
		} else {
			sold += qtys[i]
		}
		goods := l.GoodsAvailable(btc)
		assert.GreaterOrEqual(t, goods, 0.0)
		if bought-sold >= 0 {
			assert.InDelta(t, bought-sold, goods, 1e-9)
		}
	}
}
