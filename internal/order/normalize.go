package order

import (
	"time"

	"grid-trading-bot/internal/binance"
	"grid-trading-bot/internal/ledger"
)

// Commission totals of a ticket split by the asset they were paid in
type commission struct {
	base  float64
	quote float64
}

func commissions(t *binance.OrderTicket, p *binance.SymbolPrecision) commission {
	var c commission
	for _, f := range t.Fills {
		switch f.CommissionAsset {
		case p.BaseAsset:
			c.base += f.Commission
		case p.QuoteAsset:
			c.quote += f.Commission
		}
	}
	return c
}

// NormalizeTicket turns an exchange ticket into a ledger record net of
// fees. Quantity drops commission paid in the base asset and is floored
// to the lot step. Spend carries commission paid in the quote asset and
// is signed by side. A ticket without fills is taken as commission free,
// so polled tickets must have their trades attached first.
func NormalizeTicket(pair ledger.Pair, t *binance.OrderTicket, p *binance.SymbolPrecision) ledger.OrderRecord {
	c := commissions(t, p)

	qty := binance.FloorToStep(t.ExecutedQty-c.base, p.StepSize)
	if qty < 0 {
		qty = 0
	}
	price := 0.0
	if t.ExecutedQty > 0 {
		price = t.CummulativeQuoteQty / t.ExecutedQty
	}
	spent := t.CummulativeQuoteQty - c.quote
	if t.Side == binance.SideBuy {
		spent = -(t.CummulativeQuoteQty + c.quote)
	}

	ts := t.Time()
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return ledger.OrderRecord{
		OrderID:      t.OrderID,
		Symbol:       pair.String(),
		Status:       t.Status,
		Side:         t.Side,
		TransactTime: ts,
		Quantity:     qty,
		Price:        price,
		Spent:        spent,
	}
}
