package order

import (
	"context"
	"fmt"

	"grid-trading-bot/internal/binance"
	"grid-trading-bot/internal/ledger"
	"grid-trading-bot/internal/logging"
)

// PollState is where a pending order stands after one poll
type PollState string

const (
	PollPolling   PollState = "POLLING"
	PollSettled   PollState = "SETTLED"
	PollAbandoned PollState = "ABANDONED"
)

// PollResult is the outcome of one poll cycle
type PollResult struct {
	State      PollState
	Order      ledger.OrderRecord
	Settlement *ledger.Settlement
	Err        error
}

// Poll queries a pending order once. FILLED runs the settlement path,
// NEW and PARTIALLY_FILLED stay polling, anything else is abandoned.
// Read errors keep the order polling.
func (g *Gateway) Poll(ctx context.Context, pair ledger.Pair, orderID int64) PollResult {
	log := logging.OrderContext(g.logger, orderID, pair.Symbol(), "")

	ticket, err := g.client.GetOrder(ctx, pair.Symbol(), orderID)
	if err != nil {
		log.Warn().Err(err).Msg("Order poll failed, retrying later")
		g.metrics.RecordPoll("error")
		return PollResult{State: PollPolling, Err: fmt.Errorf("%w: %v", ledger.ErrExchange, err)}
	}
	precision, err := g.client.GetSymbolPrecision(ctx, pair.Symbol())
	if err != nil {
		log.Warn().Err(err).Msg("Precision lookup failed, retrying later")
		g.metrics.RecordPoll("error")
		return PollResult{State: PollPolling, Err: fmt.Errorf("%w: %v", ledger.ErrExchange, err)}
	}

	if ticket.Status == binance.StatusFilled && len(ticket.Fills) == 0 && ticket.ExecutedQty > 0 {
		fills, err := g.client.GetOrderTrades(ctx, pair.Symbol(), orderID)
		if err != nil {
			log.Warn().Err(err).Msg("Order trades unavailable, settling without commission")
		} else {
			ticket.Fills = fills
		}
	}

	rec := g.pollRecord(pair, ticket, precision)

	switch {
	case rec.Filled():
		s, err := g.Settle(ctx, pair, rec)
		if err != nil {
			log.Error().Err(err).Msg("Settlement after poll failed")
		}
		log.Info().Str("side", rec.Side).Msg("Pending order filled")
		g.metrics.RecordPoll("filled")
		return PollResult{State: PollSettled, Order: rec, Settlement: s, Err: err}

	case rec.Pending():
		if err := g.ledger.RecordOrder(ctx, rec); err != nil {
			log.Error().Err(err).Msg("Recording polled order failed")
		}
		log.Info().Str("status", rec.Status).Msg("Order still filling")
		g.metrics.RecordPoll("pending")
		return PollResult{State: PollPolling, Order: rec}

	default:
		if err := g.ledger.RecordOrder(ctx, rec); err != nil {
			log.Error().Err(err).Msg("Recording abandoned order failed")
		}
		log.Warn().Str("status", rec.Status).Msg("Order left the book unfilled, polling abandoned")
		g.metrics.RecordPoll("abandoned")
		g.bus.PublishOrderAbandoned(rec.OrderID, pair.Symbol(), rec.Status)
		return PollResult{State: PollAbandoned, Order: rec}
	}
}

// pollRecord normalizes a status query. Those carry no transactTime so
// the time first recorded at submission is kept.
func (g *Gateway) pollRecord(pair ledger.Pair, t *binance.OrderTicket, p *binance.SymbolPrecision) ledger.OrderRecord {
	rec := NormalizeTicket(pair, t, p)
	if pos, ok := g.ledger.Position(pair); ok {
		for _, o := range pos.Orders {
			if o.OrderID == rec.OrderID && o.TransactTime > 0 {
				rec.TransactTime = o.TransactTime
				break
			}
		}
	}
	return rec
}
