package binance

import "context"

// ExchangeClient defines the spot operations the grid engine consumes
type ExchangeClient interface {
	PlaceMarketOrder(ctx context.Context, symbol, side string, quantity float64) (*OrderTicket, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderTicket, error)
	GetOrderTrades(ctx context.Context, symbol string, orderID int64) ([]Fill, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)
	GetBalance(ctx context.Context, asset string) (*Balance, error)
	GetSymbolPrecision(ctx context.Context, symbol string) (*SymbolPrecision, error)
}

// Ensure both Client and MockClient implement ExchangeClient
var _ ExchangeClient = (*Client)(nil)
var _ ExchangeClient = (*MockClient)(nil)
