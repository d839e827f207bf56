package database

import (
	"time"

	"grid-trading-bot/internal/order"
)

// Settlement is one row of the grid_settlements audit table
type Settlement struct {
	ID          int64     `json:"id"`
	Symbol      string    `json:"symbol"`
	SettledAt   time.Time `json:"settled_at"`
	Funds       float64   `json:"funds"`
	AvgPrice    float64   `json:"avg_price"`
	OrderID     int64     `json:"order_id"`
	Status      string    `json:"status"`
	Side        string    `json:"side"`
	Price       float64   `json:"price"`
	Quantity    float64   `json:"quantity"`
	Spent       float64   `json:"spent"`
	RealizedPnL float64   `json:"realized_pnl"`
	CreatedAt   time.Time `json:"created_at"`
}

// SettlementFromAudit flattens a gateway audit record into a row
func SettlementFromAudit(rec order.AuditRecord) Settlement {
	at := rec.SettledAt
	if at.IsZero() {
		at = time.Now()
	}
	return Settlement{
		Symbol:      rec.Pair.Symbol(),
		SettledAt:   at,
		Funds:       rec.Funds,
		AvgPrice:    rec.AvgPrice,
		OrderID:     rec.Order.OrderID,
		Status:      rec.Order.Status,
		Side:        rec.Order.Side,
		Price:       rec.Order.Price,
		Quantity:    rec.Order.Quantity,
		Spent:       rec.Order.Spent,
		RealizedPnL: rec.RealizedPnL,
	}
}
