package binance

import (
	"errors"
	"fmt"
	"strconv"
)

// Order sides
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order statuses reported by the spot API
const (
	StatusNew             = "NEW"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCanceled        = "CANCELED"
	StatusRejected        = "REJECTED"
	StatusExpired         = "EXPIRED"
)

var (
	ErrRateLimited   = errors.New("binance rate limit circuit open")
	ErrUnknownSymbol = errors.New("symbol not listed on exchange")
)

// Kline represents a candlestick
type Kline struct {
	OpenTime  int64   `json:"openTime"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	CloseTime int64   `json:"closeTime"`
}

// Fill is one trade that contributed to an order
type Fill struct {
	Price           float64 `json:"price,string"`
	Qty             float64 `json:"qty,string"`
	Commission      float64 `json:"commission,string"`
	CommissionAsset string  `json:"commissionAsset"`
}

// OrderTicket is the order state returned by placement and status queries
type OrderTicket struct {
	Symbol              string  `json:"symbol"`
	OrderID             int64   `json:"orderId"`
	ClientOrderID       string  `json:"clientOrderId"`
	TransactTime        int64   `json:"transactTime"`
	UpdateTime          int64   `json:"updateTime"`
	OrigQty             float64 `json:"origQty,string"`
	ExecutedQty         float64 `json:"executedQty,string"`
	CummulativeQuoteQty float64 `json:"cummulativeQuoteQty,string"`
	Status              string  `json:"status"`
	Type                string  `json:"type"`
	Side                string  `json:"side"`
	Fills               []Fill  `json:"fills"`
}

// Time returns the best known transaction time in milliseconds. Status
// queries carry updateTime instead of transactTime.
func (t *OrderTicket) Time() int64 {
	if t.TransactTime > 0 {
		return t.TransactTime
	}
	return t.UpdateTime
}

// Pending reports whether the exchange may still execute more of the order
func (t *OrderTicket) Pending() bool {
	return t.Status == StatusNew || t.Status == StatusPartiallyFilled
}

// Balance is the free and locked amount of one asset
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
}

// SymbolPrecision carries the LOT_SIZE, PRICE_FILTER and notional filters
type SymbolPrecision struct {
	Symbol      string  `json:"symbol"`
	BaseAsset   string  `json:"baseAsset"`
	QuoteAsset  string  `json:"quoteAsset"`
	StepSize    float64 `json:"stepSize"`
	TickSize    float64 `json:"tickSize"`
	MinQty      float64 `json:"minQty"`
	MaxQty      float64 `json:"maxQty"`
	MinNotional float64 `json:"minNotional"`
}

// APIError is an error payload returned by the exchange
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       int    `json:"code"`
	Message    string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (http %d): %s", e.Code, e.HTTPStatus, e.Message)
}

// Retryable reports whether repeating the request can succeed. Client side
// rejections (bad params, auth, insufficient balance) are permanent.
func (e *APIError) Retryable() bool {
	return e.HTTPStatus >= 500 || e.HTTPStatus == 429 || e.Code == -1001 || e.Code == -1003
}

func parseFloat(v interface{}) float64 {
	switch val := v.(type) {
	case string:
		f, _ := strconv.ParseFloat(val, 64)
		return f
	case float64:
		return val
	default:
		return 0
	}
}

func parseInt(v interface{}) int64 {
	switch val := v.(type) {
	case float64:
		return int64(val)
	case string:
		i, _ := strconv.ParseInt(val, 10, 64)
		return i
	default:
		return 0
	}
}
