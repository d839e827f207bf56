package database

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"grid-trading-bot/config"
	"grid-trading-bot/internal/command"
	"grid-trading-bot/internal/ledger"
	"grid-trading-bot/internal/order"
)

// ============================================================================
// UNIT TESTS (can run without Redis or PostgreSQL)
// ============================================================================

func TestKeyspace(t *testing.T) {
	k := newKeyspace("")
	tests := []struct {
		got, want string
	}{
		{k.positions(), "grid:positions"},
		{k.stock("USDT", "BTC"), "grid:stock:USDT:BTC"},
		{k.orders("USDT", "BTC"), "grid:orders:USDT:BTC"},
		{k.rsi("USDT", "ETH"), "grid:rsi:USDT:ETH"},
		{k.decision("BTCUSDT"), "grid:decision:BTCUSDT"},
		{newKeyspace("dev").positions(), "dev:positions"},
		{member("USDT", "BTC"), "USDT:BTC"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("Expected %s, got %s", tt.want, tt.got)
		}
	}
}

func TestDecodeOrder(t *testing.T) {
	rec := ledger.OrderRecord{
		OrderID:      42,
		Symbol:       "BTC/USDT",
		Status:       ledger.StatusFilled,
		Side:         ledger.SideBuy,
		TransactTime: time.Now().UnixMilli(),
		Quantity:     0.5,
		Price:        100,
		Spent:        -50.05,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	t.Run("valid record", func(t *testing.T) {
		got, err := decodeOrder("42", string(raw))
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if got != rec {
			t.Errorf("Expected %+v, got %+v", rec, got)
		}
	})

	t.Run("field and id disagree", func(t *testing.T) {
		if _, err := decodeOrder("43", string(raw)); err == nil {
			t.Error("Expected mismatch error")
		}
	})

	t.Run("non numeric field", func(t *testing.T) {
		if _, err := decodeOrder("abc", string(raw)); err == nil {
			t.Error("Expected parse error")
		}
	})

	t.Run("invalid record", func(t *testing.T) {
		bad := rec
		bad.Spent = 10
		data, _ := json.Marshal(bad)
		if _, err := decodeOrder(strconv.FormatInt(bad.OrderID, 10), string(data)); err == nil {
			t.Error("Expected validation error for a crediting buy")
		}
	})
}

func TestSnapshotHelpers(t *testing.T) {
	snap := ledger.NewSnapshot()
	putStock(snap, "USDT", "BTC", ledger.Stock{Funds: 100})
	putRSI(snap, "USDT", "BTC", ledger.RSISettings{High: 70, Low: 30})
	putOrder(snap, "USDT", "BTC", ledger.OrderRecord{OrderID: 1})
	putOrder(snap, "USDT", "BTC", ledger.OrderRecord{OrderID: 2})

	if snap.Stocks["USDT"]["BTC"].Funds != 100 {
		t.Errorf("Expected funds 100, got %f", snap.Stocks["USDT"]["BTC"].Funds)
	}
	if snap.RSI["USDT"]["BTC"].High != 70 {
		t.Errorf("Expected rsi high 70, got %f", snap.RSI["USDT"]["BTC"].High)
	}
	if len(snap.Orders["USDT"]["BTC"]) != 2 {
		t.Errorf("Expected 2 orders, got %d", len(snap.Orders["USDT"]["BTC"]))
	}
}

// ============================================================================
// SETTLEMENT ROWS
// ============================================================================

func TestSettlementFromAudit(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := order.AuditRecord{
		Pair:        ledger.NewPair("btc", "usdt"),
		SettledAt:   at,
		Funds:       1020,
		AvgPrice:    100,
		RealizedPnL: 20,
		Order: ledger.OrderRecord{
			OrderID: 7, Status: ledger.StatusFilled, Side: ledger.SideSell,
			Price: 120, Quantity: 1, Spent: 119.88,
		},
	}

	row := SettlementFromAudit(rec)
	if row.Symbol != "BTCUSDT" {
		t.Errorf("Expected BTCUSDT, got %s", row.Symbol)
	}
	if !row.SettledAt.Equal(at) {
		t.Errorf("Expected %v, got %v", at, row.SettledAt)
	}
	if row.OrderID != 7 || row.Side != ledger.SideSell || row.Spent != 119.88 {
		t.Errorf("Order fields not copied: %+v", row)
	}
	if row.RealizedPnL != 20 || row.AvgPrice != 100 || row.Funds != 1020 {
		t.Errorf("Settlement fields not copied: %+v", row)
	}

	rec.SettledAt = time.Time{}
	if SettlementFromAudit(rec).SettledAt.IsZero() {
		t.Error("Expected a zero settlement time to default to now")
	}
}

// ============================================================================
// RELAY
// ============================================================================

func TestRelayDefaults(t *testing.T) {
	r := NewRedisRelay(nil, config.RelayConfig{}, zerolog.Nop())
	if r.requestKey != "grid:relay:applicate" {
		t.Errorf("Expected default request key, got %s", r.requestKey)
	}
	if r.block != 5*time.Second {
		t.Errorf("Expected 5s block, got %v", r.block)
	}
	if got := r.PlayerChannel("p1"); got != "grid:relay:broadcast:p1" {
		t.Errorf("Expected player channel, got %s", got)
	}

	r = NewRedisRelay(nil, config.RelayConfig{BroadcastKey: "b", RequestKey: "q", BlockTimeout: time.Second}, zerolog.Nop())
	if r.PlayerChannel("x") != "b:x" || r.requestKey != "q" || r.block != time.Second {
		t.Errorf("Configured keys not used: %+v", r)
	}
}

func TestResponseWireForm(t *testing.T) {
	data, err := json.Marshal(command.Response{Key: "query", Player: "p1", Value: `p1 {}`})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"key":"query","player":"p1","value":"p1 {}"}`
	if string(data) != want {
		t.Errorf("Expected %s, got %s", want, data)
	}
}
