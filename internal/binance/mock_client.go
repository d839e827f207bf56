package binance

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// MockClient simulates the spot exchange in memory. Market orders fill at
// the current price unless a status has been scripted for the symbol.
type MockClient struct {
	mu        sync.Mutex
	prices    map[string]float64
	klines    map[string][]Kline
	balances  map[string]*Balance
	precision map[string]SymbolPrecision
	orders    map[int64]*OrderTicket
	scripted  map[string][]string // symbol -> statuses for upcoming orders
	nextID    int64
	feeRate   float64
	errs      map[string]error
	now       func() time.Time

	// Placed counts submitted orders, for tests
	Placed int
}

// NewMockClient creates a mock preloaded with a few USDT pairs
func NewMockClient() *MockClient {
	mc := &MockClient{
		prices:    make(map[string]float64),
		klines:    make(map[string][]Kline),
		balances:  make(map[string]*Balance),
		precision: make(map[string]SymbolPrecision),
		orders:    make(map[int64]*OrderTicket),
		scripted:  make(map[string][]string),
		errs:      make(map[string]error),
		nextID:    1000,
		now:       time.Now,
	}

	for symbol, price := range map[string]float64{
		"BTCUSDT": 104500.00,
		"ETHUSDT": 3900.00,
		"BNBUSDT": 710.00,
		"SOLUSDT": 220.00,
	} {
		mc.prices[symbol] = price
		mc.precision[symbol] = SymbolPrecision{
			Symbol:     symbol,
			BaseAsset:  symbol[:len(symbol)-4],
			QuoteAsset: "USDT",
			StepSize:   0.0001,
			TickSize:   0.01,
			MinQty:     0.0001,
		}
	}
	mc.balances["USDT"] = &Balance{Asset: "USDT", Free: 10000}

	return mc
}

// SetPrice sets the ticker price for symbol
func (mc *MockClient) SetPrice(symbol string, price float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.prices[symbol] = price
}

// SetCloses replaces the candle history for symbol. The ticker price
// follows the newest close.
func (mc *MockClient) SetCloses(symbol string, closes []float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	klines := make([]Kline, len(closes))
	start := mc.now().Add(-time.Duration(len(closes)) * time.Hour)
	for i, c := range closes {
		open := start.Add(time.Duration(i) * time.Hour)
		klines[i] = Kline{
			OpenTime:  open.UnixMilli(),
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			CloseTime: open.Add(time.Hour).UnixMilli() - 1,
		}
	}
	mc.klines[symbol] = klines
	if len(closes) > 0 {
		mc.prices[symbol] = closes[len(closes)-1]
	}
}

// SetBalance sets the free balance of asset
func (mc *MockClient) SetBalance(asset string, free float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.balances[asset] = &Balance{Asset: asset, Free: free}
}

// SetPrecision registers exchange filters for a symbol
func (mc *MockClient) SetPrecision(p SymbolPrecision) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.precision[p.Symbol] = p
}

// SetFeeRate charges a proportional commission on every fill
func (mc *MockClient) SetFeeRate(rate float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.feeRate = rate
}

// ScriptStatuses makes the next orders on symbol come back with the given
// statuses instead of FILLED, in order.
func (mc *MockClient) ScriptStatuses(symbol string, statuses ...string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.scripted[symbol] = append(mc.scripted[symbol], statuses...)
}

// SetOrderStatus changes a stored order, filling it when status is FILLED
func (mc *MockClient) SetOrderStatus(orderID int64, status string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	t, ok := mc.orders[orderID]
	if !ok {
		return
	}
	if status == StatusFilled && t.ExecutedQty < t.OrigQty {
		mc.execute(t, t.OrigQty-t.ExecutedQty, mc.prices[t.Symbol])
	}
	t.Status = status
	t.UpdateTime = mc.now().UnixMilli()
}

// FailNext makes the named method return err once
func (mc *MockClient) FailNext(method string, err error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.errs[method] = err
}

func (mc *MockClient) takeErr(method string) error {
	if err, ok := mc.errs[method]; ok {
		delete(mc.errs, method)
		return err
	}
	return nil
}

// PlaceMarketOrder simulates a MARKET order
func (mc *MockClient) PlaceMarketOrder(ctx context.Context, symbol, side string, quantity float64) (*OrderTicket, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if err := mc.takeErr("PlaceMarketOrder"); err != nil {
		return nil, err
	}
	p, ok := mc.precision[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	qty, err := p.NormalizeQuantity(quantity, 0)
	if err != nil {
		return nil, err
	}
	price, ok := mc.prices[symbol]
	if !ok || price <= 0 {
		return nil, &APIError{HTTPStatus: 400, Code: -1121, Message: "Invalid symbol."}
	}

	mc.nextID++
	mc.Placed++
	t := &OrderTicket{
		Symbol:        symbol,
		OrderID:       mc.nextID,
		ClientOrderID: newClientOrderID(),
		TransactTime:  mc.now().UnixMilli(),
		OrigQty:       qty,
		Type:          "MARKET",
		Side:          side,
		Status:        StatusFilled,
	}
	if queue := mc.scripted[symbol]; len(queue) > 0 {
		t.Status = queue[0]
		mc.scripted[symbol] = queue[1:]
	}
	switch t.Status {
	case StatusFilled:
		mc.execute(t, qty, price)
	case StatusPartiallyFilled:
		mc.execute(t, FloorToStep(qty/2, p.StepSize), price)
	}
	mc.orders[t.OrderID] = t

	cp := *t
	cp.Fills = append([]Fill(nil), t.Fills...)
	return &cp, nil
}

// execute books a fill of qty at price into t and the balances. Commission
// is charged in the asset received.
func (mc *MockClient) execute(t *OrderTicket, qty, price float64) {
	p := mc.precision[t.Symbol]
	quote := qty * price
	fill := Fill{Price: price, Qty: qty}
	base := mc.balance(p.BaseAsset)
	quoteBal := mc.balance(p.QuoteAsset)
	if t.Side == SideBuy {
		fill.Commission = qty * mc.feeRate
		fill.CommissionAsset = p.BaseAsset
		quoteBal.Free -= quote
		base.Free += qty - fill.Commission
	} else {
		fill.Commission = quote * mc.feeRate
		fill.CommissionAsset = p.QuoteAsset
		base.Free -= qty
		quoteBal.Free += quote - fill.Commission
	}
	t.Fills = append(t.Fills, fill)
	t.ExecutedQty += qty
	t.CummulativeQuoteQty += quote
}

func (mc *MockClient) balance(asset string) *Balance {
	b, ok := mc.balances[asset]
	if !ok {
		b = &Balance{Asset: asset}
		mc.balances[asset] = b
	}
	return b
}

// GetOrder returns the stored order
func (mc *MockClient) GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderTicket, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err := mc.takeErr("GetOrder"); err != nil {
		return nil, err
	}
	t, ok := mc.orders[orderID]
	if !ok || t.Symbol != symbol {
		return nil, &APIError{HTTPStatus: 400, Code: -2013, Message: "Order does not exist."}
	}
	cp := *t
	cp.TransactTime = 0
	cp.Fills = nil // status queries carry no fills
	return &cp, nil
}

// GetOrderTrades returns the fills recorded on an order
func (mc *MockClient) GetOrderTrades(ctx context.Context, symbol string, orderID int64) ([]Fill, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err := mc.takeErr("GetOrderTrades"); err != nil {
		return nil, err
	}
	t, ok := mc.orders[orderID]
	if !ok || t.Symbol != symbol {
		return nil, &APIError{HTTPStatus: 400, Code: -2013, Message: "Order does not exist."}
	}
	return append([]Fill(nil), t.Fills...), nil
}

// GetKlines returns the scripted history, or a gentle synthetic wave
// around the current price
func (mc *MockClient) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err := mc.takeErr("GetKlines"); err != nil {
		return nil, err
	}

	if k, ok := mc.klines[symbol]; ok {
		if len(k) > limit {
			k = k[len(k)-limit:]
		}
		return append([]Kline(nil), k...), nil
	}

	base, ok := mc.prices[symbol]
	if !ok {
		base = 100.0
	}
	klines := make([]Kline, limit)
	start := mc.now().Add(-time.Duration(limit) * time.Hour)
	for i := 0; i < limit; i++ {
		c := base * (1 + 0.02*math.Sin(float64(i)/6))
		open := start.Add(time.Duration(i) * time.Hour)
		klines[i] = Kline{
			OpenTime:  open.UnixMilli(),
			Open:      c,
			High:      c * 1.002,
			Low:       c * 0.998,
			Close:     c,
			Volume:    1000,
			CloseTime: open.Add(time.Hour).UnixMilli() - 1,
		}
	}
	if limit > 0 {
		klines[limit-1].Close = base
	}
	return klines, nil
}

// GetTickerPrice returns the current simulated price
func (mc *MockClient) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err := mc.takeErr("GetTickerPrice"); err != nil {
		return 0, err
	}
	price, ok := mc.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return price, nil
}

// GetBalance returns the simulated balance of asset
func (mc *MockClient) GetBalance(ctx context.Context, asset string) (*Balance, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if err := mc.takeErr("GetBalance"); err != nil {
		return nil, err
	}
	b := *mc.balance(asset)
	return &b, nil
}

// GetSymbolPrecision returns the registered filters
func (mc *MockClient) GetSymbolPrecision(ctx context.Context, symbol string) (*SymbolPrecision, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	p, ok := mc.precision[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return &p, nil
}
