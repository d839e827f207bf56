package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...ClientOption) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]ClientOption{WithRateLimiter(NewRateLimiter(1000, zerolog.Nop()))}, opts...)
	return NewClient("key", "secret", srv.URL, opts...)
}

// ============================================================================
// TEST CASES: PRECISION
// ============================================================================

func TestFloorToStep(t *testing.T) {
	tests := []struct {
		v, step, want float64
	}{
		{0.123456, 0.001, 0.123},
		{1.9999, 0.01, 1.99},
		{5, 0, 5},
		{0.3, 0.1, 0.3}, // exact in decimal, not in float
	}
	for _, tt := range tests {
		if got := FloorToStep(tt.v, tt.step); got != tt.want {
			t.Errorf("FloorToStep(%v, %v) = %v, want %v", tt.v, tt.step, got, tt.want)
		}
	}
}

func TestFormatQuantity(t *testing.T) {
	if got := FormatQuantity(0.12345, 0.001); got != "0.123" {
		t.Errorf("Expected 0.123, got %s", got)
	}
	if got := FormatQuantity(3, 1); got != "3" {
		t.Errorf("Expected 3, got %s", got)
	}
}

func TestNormalizeQuantity(t *testing.T) {
	p := &SymbolPrecision{Symbol: "BTCUSDT", StepSize: 0.0001, MinQty: 0.0001, MaxQty: 10, MinNotional: 5}

	q, err := p.NormalizeQuantity(0.00123456, 100000)
	if err != nil || q != 0.0012 {
		t.Errorf("Expected 0.0012, got %v %v", q, err)
	}

	if q, _ := p.NormalizeQuantity(25, 0); q != 10 {
		t.Errorf("Expected max qty cap, got %v", q)
	}

	if _, err := p.NormalizeQuantity(0.00001, 0); !errors.Is(err, ErrBelowMinQty) {
		t.Errorf("Expected ErrBelowMinQty, got %v", err)
	}

	// 0.0001 * 1000 = 0.1 below notional 5
	if _, err := p.NormalizeQuantity(0.0001, 1000); !errors.Is(err, ErrBelowMinQty) {
		t.Errorf("Expected notional rejection, got %v", err)
	}
}

func TestPrecisionCacheServesStaleOnReloadFailure(t *testing.T) {
	var calls int
	fail := false
	c := NewPrecisionCache(func(ctx context.Context) (map[string]SymbolPrecision, error) {
		calls++
		if fail {
			return nil, errors.New("exchange down")
		}
		return map[string]SymbolPrecision{"ETHUSDT": {Symbol: "ETHUSDT", StepSize: 0.001}}, nil
	}, time.Hour)
	now := time.Now()
	c.now = func() time.Time { return now }

	if _, err := c.Get(context.Background(), "ETHUSDT"); err != nil {
		t.Fatalf("Expected first load, got %v", err)
	}
	if _, err := c.Get(context.Background(), "ETHUSDT"); err != nil || calls != 1 {
		t.Fatalf("Expected cached hit, calls=%d err=%v", calls, err)
	}
	if _, err := c.Get(context.Background(), "XRPUSDT"); !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("Expected ErrUnknownSymbol, got %v", err)
	}

	now = now.Add(2 * time.Hour)
	fail = true
	p, err := c.Get(context.Background(), "ETHUSDT")
	if err != nil || p.StepSize != 0.001 {
		t.Errorf("Expected stale filters, got %+v %v", p, err)
	}
}

// ============================================================================
// TEST CASES: TRANSPORT
// ============================================================================

func TestGetKlinesParsesRows(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" || r.URL.Query().Get("interval") != "4h" {
			http.Error(w, "unexpected", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`[[1,"100.0","110.0","90.0","105.5","12.0",2,"0",0,"0","0","0"],[3,"1","1","1"]]`))
	})

	klines, err := c.GetKlines(context.Background(), "BTCUSDT", "4h", 2)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(klines) != 1 {
		t.Fatalf("Expected short rows skipped, got %d klines", len(klines))
	}
	if klines[0].Close != 105.5 || klines[0].CloseTime != 2 {
		t.Errorf("Unexpected kline %+v", klines[0])
	}
}

func TestSignedRequestCarriesKeyAndSignature(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.Header.Get("X-MBX-APIKEY") != "key" || q.Get("signature") == "" || q.Get("timestamp") == "" {
			http.Error(w, `{"code":-2015,"msg":"Invalid API-key"}`, http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"balances":[{"asset":"USDT","free":"150.5","locked":"1"}]}`))
	})

	b, err := c.GetBalance(context.Background(), "USDT")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if b.Free != 150.5 || b.Locked != 1 {
		t.Errorf("Unexpected balance %+v", b)
	}

	missing, err := c.GetBalance(context.Background(), "BNB")
	if err != nil || missing.Free != 0 {
		t.Errorf("Expected zero balance for missing asset, got %+v %v", missing, err)
	}
}

func TestGetOrderTradesParsesCommission(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/myTrades" || r.URL.Query().Get("orderId") != "42" {
			http.Error(w, "unexpected", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`[{"id":1,"orderId":42,"price":"100.0","qty":"0.6","commission":"0.0006","commissionAsset":"BTC"},
			{"id":2,"orderId":42,"price":"101.0","qty":"0.4","commission":"0.0004","commissionAsset":"BTC"}]`))
	})

	fills, err := c.GetOrderTrades(context.Background(), "BTCUSDT", 42)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("Expected 2 fills, got %d", len(fills))
	}
	if fills[0].Commission != 0.0006 || fills[1].CommissionAsset != "BTC" || fills[1].Price != 101 {
		t.Errorf("Unexpected fills %+v", fills)
	}
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}, WithRetries(3))

	_, err := c.GetTickerPrice(context.Background(), "NOPE")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != -1121 {
		t.Fatalf("Expected APIError -1121, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("Expected a single attempt, got %d", hits.Load())
	}
}

func TestServerErrorsAreRetried(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"104500.10"}`))
	}, WithRetries(2))

	price, err := c.GetTickerPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if price != 104500.10 || hits.Load() != 2 {
		t.Errorf("Unexpected price %v after %d attempts", price, hits.Load())
	}
}

func TestObserverSeesEveryRoundTrip(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"serverTime":1700000000000}`))
	}, WithObserver(func(endpoint string, seconds float64) {
		mu.Lock()
		seen[endpoint]++
		mu.Unlock()
	}))

	if err := c.SyncTime(context.Background()); err != nil {
		t.Fatalf("SyncTime failed: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if seen["/api/v3/time"] != 1 {
		t.Errorf("Expected one observation, got %v", seen)
	}
}

func TestAPIErrorRetryable(t *testing.T) {
	tests := []struct {
		err  APIError
		want bool
	}{
		{APIError{HTTPStatus: 503}, true},
		{APIError{HTTPStatus: 429}, true},
		{APIError{HTTPStatus: 400, Code: -1001}, true},
		{APIError{HTTPStatus: 400, Code: -2010}, false},
		{APIError{HTTPStatus: 401, Code: -2015}, false},
	}
	for _, tt := range tests {
		if got := tt.err.Retryable(); got != tt.want {
			t.Errorf("%+v Retryable() = %v, want %v", tt.err, got, tt.want)
		}
	}
}
