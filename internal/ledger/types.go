package ledger

import (
	"fmt"
	"strings"
	"time"
)

// Order sides and statuses as reported by the exchange
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	StatusNew             = "NEW"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
)

// Pair identifies a position by base and quote asset
type Pair struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// NewPair upper-cases both assets
func NewPair(base, quote string) Pair {
	return Pair{Base: strings.ToUpper(base), Quote: strings.ToUpper(quote)}
}

// ParsePair accepts "BTC/USDT" or "BTC-USDT"
func ParsePair(s string) (Pair, error) {
	for _, sep := range []string{"/", "-"} {
		if base, quote, ok := strings.Cut(s, sep); ok && base != "" && quote != "" {
			return NewPair(base, quote), nil
		}
	}
	return Pair{}, &ValidationError{Field: "symbol", Reason: fmt.Sprintf("cannot parse %q", s)}
}

// Symbol is the exchange symbol, e.g. BTCUSDT
func (p Pair) Symbol() string { return p.Base + p.Quote }

// String is the display form, e.g. BTC/USDT
func (p Pair) String() string { return p.Base + "/" + p.Quote }

// IsZero reports an empty pair, used to address all positions
func (p Pair) IsZero() bool { return p.Base == "" && p.Quote == "" }

// Validate rejects a pair with a missing asset
func (p Pair) Validate() error {
	if p.Base == "" {
		return &ValidationError{Field: "base", Reason: "missing"}
	}
	if p.Quote == "" {
		return &ValidationError{Field: "quote", Reason: "missing"}
	}
	return nil
}

// OrderRecord is one submitted order as last observed on the exchange.
// Spent is negative for buys and positive for sells, net of fees.
type OrderRecord struct {
	OrderID      int64   `json:"orderId"`
	Symbol       string  `json:"symbol"` // display form BASE/QUOTE
	Status       string  `json:"status"`
	Side         string  `json:"side"`
	TransactTime int64   `json:"transactTime"`
	Quantity     float64 `json:"quantity"`
	Price        float64 `json:"price"`
	Spent        float64 `json:"spent"`
}

// Pair decodes the record's symbol
func (r OrderRecord) Pair() (Pair, error) {
	return ParsePair(r.Symbol)
}

// Filled reports whether the record counts toward ledger totals
func (r OrderRecord) Filled() bool { return r.Status == StatusFilled }

// Pending reports a record still being worked by the exchange
func (r OrderRecord) Pending() bool {
	return r.Status == StatusNew || r.Status == StatusPartiallyFilled
}

// Time returns the transaction time
func (r OrderRecord) Time() time.Time { return time.UnixMilli(r.TransactTime) }

// Validate checks the record before it enters the ledger
func (r OrderRecord) Validate() error {
	if r.OrderID == 0 {
		return &ValidationError{Field: "orderId", Reason: "missing"}
	}
	if _, err := r.Pair(); err != nil {
		return err
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return &ValidationError{Field: "side", Reason: fmt.Sprintf("unknown side %q", r.Side)}
	}
	if r.Status == "" {
		return &ValidationError{Field: "status", Reason: "missing"}
	}
	if r.Quantity < 0 {
		return &ValidationError{Field: "quantity", Reason: "negative"}
	}
	if r.Side == SideBuy && r.Spent > 0 {
		return &ValidationError{Field: "spent", Reason: "buy must not credit funds"}
	}
	if r.Side == SideSell && r.Spent < 0 {
		return &ValidationError{Field: "spent", Reason: "sell must not debit funds"}
	}
	return nil
}

// RSISettings are the per-pair evaluation thresholds
type RSISettings struct {
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Interval string  `json:"interval,omitempty"`
}

// IsZero reports unset thresholds
func (s RSISettings) IsZero() bool { return s.High == 0 && s.Low == 0 && s.Interval == "" }

// Stock is the persisted per-pair capital state
type Stock struct {
	Funds      float64 `json:"funds"`
	EntryPrice float64 `json:"entryPrice"`
	OnlySell   bool    `json:"profit"`
	Calm       bool    `json:"calm"`
}

// Position is a read-only view of one pair
type Position struct {
	Pair       Pair          `json:"pair"`
	Funds      float64       `json:"funds"`
	EntryPrice float64       `json:"entryPrice"`
	OnlySell   bool          `json:"onlySell"`
	Calm       bool          `json:"calm"`
	RSI        RSISettings   `json:"rsi"`
	Orders     []OrderRecord `json:"orders"`
}

// HasPending reports whether any order is still open on the exchange
func (p Position) HasPending() bool {
	for _, o := range p.Orders {
		if o.Pending() {
			return true
		}
	}
	return false
}

// HasFilled reports whether any settled order is held
func (p Position) HasFilled() bool {
	for _, o := range p.Orders {
		if o.Filled() {
			return true
		}
	}
	return false
}

// OldestFilled returns the earliest filled transaction time
func (p Position) OldestFilled() (time.Time, bool) {
	var oldest int64
	for _, o := range p.Orders {
		if o.Filled() && (oldest == 0 || o.TransactTime < oldest) {
			oldest = o.TransactTime
		}
	}
	if oldest == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(oldest), true
}

// Snapshot is the durable form of the whole ledger, keyed quote then base
type Snapshot struct {
	Orders map[string]map[string]map[int64]OrderRecord `json:"order"`
	Stocks map[string]map[string]Stock                 `json:"stock"`
	RSI    map[string]map[string]RSISettings           `json:"rsi"`
}

// NewSnapshot returns an empty snapshot
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Orders: make(map[string]map[string]map[int64]OrderRecord),
		Stocks: make(map[string]map[string]Stock),
		RSI:    make(map[string]map[string]RSISettings),
	}
}

// Settlement summarizes a full exit
type Settlement struct {
	Pair        Pair    `json:"pair"`
	AvgPrice    float64 `json:"avgPrice"`
	SoldQty     float64 `json:"soldQty"`
	FundsBefore float64 `json:"fundsBefore"`
	FundsAfter  float64 `json:"fundsAfter"`
	RealizedPnL float64 `json:"realizedPnl"`
}
