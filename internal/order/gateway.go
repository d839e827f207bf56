// Package order places market orders for the grid engine, follows pending
// orders to completion and folds fills into the ledger.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"grid-trading-bot/internal/binance"
	"grid-trading-bot/internal/events"
	"grid-trading-bot/internal/ledger"
	"grid-trading-bot/internal/logging"
	"grid-trading-bot/internal/metrics"
)

// Outcome of a buy or sell request
type Outcome string

const (
	OutcomeFilled       Outcome = "filled"
	OutcomeFilling      Outcome = "filling"
	OutcomeFailed       Outcome = "failed"
	OutcomeInsufficient Outcome = "insufficient"
	// OutcomeStrategy means the request was declined before any order
	OutcomeStrategy Outcome = "strategy"
)

// Result describes one gateway call
type Result struct {
	Outcome    Outcome
	Order      *ledger.OrderRecord
	Settlement *ledger.Settlement
	Reason     string
	Err        error
}

// AuditRecord is one settled order for offline bookkeeping
type AuditRecord struct {
	Pair        ledger.Pair
	SettledAt   time.Time
	Funds       float64
	AvgPrice    float64
	RealizedPnL float64
	Order       ledger.OrderRecord
}

// AuditSink receives a row per settled order
type AuditSink interface {
	RecordSettlement(ctx context.Context, rec AuditRecord) error
}

// Gateway wraps the exchange client with the ledger's sufficiency checks
type Gateway struct {
	client  binance.ExchangeClient
	ledger  *ledger.Ledger
	audit   AuditSink
	bus     *events.EventBus
	metrics *metrics.Collector
	logger  zerolog.Logger
}

// GatewayOption configures optional collaborators
type GatewayOption func(*Gateway)

func WithAudit(a AuditSink) GatewayOption           { return func(g *Gateway) { g.audit = a } }
func WithEvents(b *events.EventBus) GatewayOption   { return func(g *Gateway) { g.bus = b } }
func WithMetrics(m *metrics.Collector) GatewayOption { return func(g *Gateway) { g.metrics = m } }

// NewGateway creates a gateway trading through client
func NewGateway(client binance.ExchangeClient, l *ledger.Ledger, logger zerolog.Logger, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		client: client,
		ledger: l,
		logger: logger.With().Str("component", "OrderGateway").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.audit == nil {
		g.audit = NewLogAudit(logger)
	}
	return g
}

// Buy spends quantity at roughly refPrice. Each buy while a position is
// open must come in below entry*step, so repeated signals never chase the
// price upward.
func (g *Gateway) Buy(ctx context.Context, pair ledger.Pair, quantity, refPrice, step float64) Result {
	log := logging.WithSymbol(g.logger, pair.Symbol())

	if g.ledger.OnlySell(pair) {
		log.Info().Msg("Profit-only mode, buy skipped")
		return Result{Outcome: OutcomeStrategy, Reason: "profit only"}
	}
	if entry := g.ledger.EntryPrice(pair); entry > 0 && entry*step < refPrice {
		log.Info().Float64("target", entry*step).Float64("price", refPrice).Msg("Price above next buy target")
		return Result{Outcome: OutcomeStrategy, Reason: "above buy target"}
	}

	precision, err := g.client.GetSymbolPrecision(ctx, pair.Symbol())
	if err != nil {
		return g.failed(log, binance.SideBuy, err)
	}
	qty, err := precision.NormalizeQuantity(quantity, refPrice)
	if err != nil {
		return g.failed(log, binance.SideBuy, fmt.Errorf("%w: %v", ledger.ErrValidation, err))
	}

	value := qty * refPrice
	if funds := g.ledger.FundsAvailable(pair); funds < value {
		log.Warn().Float64("funds", funds).Float64("value", value).Msg("Ledger funds insufficient")
		return g.insufficient(binance.SideBuy, "ledger funds")
	}
	balance, err := g.client.GetBalance(ctx, pair.Quote)
	if err != nil {
		return g.failed(log, binance.SideBuy, err)
	}
	if balance.Free < value {
		log.Warn().Float64("free", balance.Free).Float64("value", value).Msg("Exchange balance insufficient")
		return g.insufficient(binance.SideBuy, "exchange balance")
	}

	return g.submit(ctx, pair, binance.SideBuy, qty, precision)
}

// Sell liquidates all available goods of pair
func (g *Gateway) Sell(ctx context.Context, pair ledger.Pair) Result {
	log := logging.WithSymbol(g.logger, pair.Symbol())

	goods := g.ledger.GoodsAvailable(pair)
	if goods <= 0 {
		return Result{Outcome: OutcomeStrategy, Reason: "nothing to sell"}
	}

	precision, err := g.client.GetSymbolPrecision(ctx, pair.Symbol())
	if err != nil {
		return g.failed(log, binance.SideSell, err)
	}
	qty, err := precision.NormalizeQuantity(goods, 0)
	if err != nil {
		return g.failed(log, binance.SideSell, fmt.Errorf("%w: %v", ledger.ErrValidation, err))
	}

	balance, err := g.client.GetBalance(ctx, pair.Base)
	if err != nil {
		return g.failed(log, binance.SideSell, err)
	}
	if balance.Free < qty {
		log.Warn().Float64("free", balance.Free).Float64("qty", qty).Msg("Exchange holdings insufficient")
		return g.insufficient(binance.SideSell, "exchange holdings")
	}

	log.Info().Float64("qty", qty).Msg("Selling available goods")
	return g.submit(ctx, pair, binance.SideSell, qty, precision)
}

func (g *Gateway) submit(ctx context.Context, pair ledger.Pair, side string, qty float64, precision *binance.SymbolPrecision) Result {
	log := logging.WithSymbol(g.logger, pair.Symbol())

	ticket, err := g.client.PlaceMarketOrder(ctx, pair.Symbol(), side, qty)
	if err != nil {
		return g.failed(log, side, err)
	}
	rec := NormalizeTicket(pair, ticket, precision)
	log = logging.OrderContext(log, rec.OrderID, pair.Symbol(), side)
	g.bus.PublishOrderPlaced(rec.OrderID, pair.Symbol(), side, rec.Status, qty)

	switch {
	case rec.Filled():
		s, err := g.Settle(ctx, pair, rec)
		if err != nil {
			log.Error().Err(err).Msg("Settlement after fill failed")
		}
		g.metrics.RecordOrder(side, string(OutcomeFilled))
		return Result{Outcome: OutcomeFilled, Order: &rec, Settlement: s, Err: err}

	case rec.Pending():
		if err := g.ledger.RecordOrder(ctx, rec); err != nil {
			log.Error().Err(err).Msg("Recording pending order failed")
		}
		log.Info().Str("status", rec.Status).Msg("Order still filling")
		g.metrics.RecordOrder(side, string(OutcomeFilling))
		return Result{Outcome: OutcomeFilling, Order: &rec}

	default:
		if err := g.ledger.RecordOrder(ctx, rec); err != nil {
			log.Error().Err(err).Msg("Recording rejected order failed")
		}
		log.Warn().Str("status", rec.Status).Msg("Order not accepted")
		g.metrics.RecordOrder(side, string(OutcomeFailed))
		return Result{Outcome: OutcomeFailed, Order: &rec, Reason: rec.Status,
			Err: fmt.Errorf("%w: order %d %s", ledger.ErrExchange, rec.OrderID, rec.Status)}
	}
}

// Settle records a FILLED order and runs the settlement path. A buy
// refreshes the entry price. A sell folds the whole position into funds
// and writes an audit row. Store write-through failures do not stop the
// in-memory settlement and are returned joined.
func (g *Gateway) Settle(ctx context.Context, pair ledger.Pair, rec ledger.OrderRecord) (*ledger.Settlement, error) {
	var storeErrs []error
	keep := func(err error) {
		if err != nil {
			storeErrs = append(storeErrs, err)
		}
	}

	if err := g.ledger.RecordOrder(ctx, rec); err != nil {
		if errors.Is(err, ledger.ErrValidation) {
			return nil, err
		}
		keep(err)
	}
	g.bus.PublishOrderFilled(rec.OrderID, pair.Symbol(), rec.Side, rec.Price, rec.Quantity, rec.Spent)

	if rec.Side == ledger.SideBuy {
		avg, err := g.ledger.SettleBuys(ctx, pair, false)
		keep(err)
		keep(g.ledger.SetEntryPrice(ctx, pair, avg))
		g.logger.Info().Str("symbol", pair.Symbol()).Float64("entry_price", avg).Msg("Entry price updated")
		g.writeAudit(ctx, AuditRecord{
			Pair: pair, SettledAt: time.Now(), Funds: g.ledger.FundsAvailable(pair), AvgPrice: avg, Order: rec,
		})
		g.updateGauges(pair)
		return nil, errors.Join(storeErrs...)
	}

	s, err := g.ledger.Liquidate(ctx, pair)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, err
	}
	keep(err)
	g.writeAudit(ctx, AuditRecord{
		Pair: pair, SettledAt: time.Now(), Funds: s.FundsAfter, AvgPrice: s.AvgPrice,
		RealizedPnL: s.RealizedPnL, Order: rec,
	})
	g.bus.PublishPositionClosed(pair.Symbol(), s.AvgPrice, s.SoldQty, s.FundsAfter, s.RealizedPnL)
	g.metrics.SetRealizedPnL(pair.Symbol(), s.RealizedPnL)
	g.updateGauges(pair)
	return &s, errors.Join(storeErrs...)
}

func (g *Gateway) writeAudit(ctx context.Context, rec AuditRecord) {
	if err := g.audit.RecordSettlement(ctx, rec); err != nil {
		g.logger.Warn().Err(err).Str("symbol", rec.Pair.Symbol()).Msg("Audit write failed")
	}
}

func (g *Gateway) updateGauges(pair ledger.Pair) {
	g.metrics.SetPosition(pair.Symbol(), g.ledger.FundsAvailable(pair), g.ledger.GoodsAvailable(pair))
}

func (g *Gateway) insufficient(side, reason string) Result {
	g.metrics.RecordOrder(side, string(OutcomeInsufficient))
	return Result{Outcome: OutcomeInsufficient, Reason: reason, Err: fmt.Errorf("%w: %s", ledger.ErrInsufficient, reason)}
}

func (g *Gateway) failed(log zerolog.Logger, side string, err error) Result {
	if !errors.Is(err, ledger.ErrValidation) {
		err = fmt.Errorf("%w: %v", ledger.ErrExchange, err)
	}
	log.Error().Err(err).Str("side", side).Msg("Order request failed")
	g.metrics.RecordOrder(side, string(OutcomeFailed))
	return Result{Outcome: OutcomeFailed, Reason: err.Error(), Err: err}
}

// LogAudit writes settlement rows to the log when no database is configured
type LogAudit struct {
	logger zerolog.Logger
}

// NewLogAudit creates a logging audit sink
func NewLogAudit(logger zerolog.Logger) *LogAudit {
	return &LogAudit{logger: logger.With().Str("component", "Audit").Logger()}
}

func (a *LogAudit) RecordSettlement(ctx context.Context, rec AuditRecord) error {
	a.logger.Info().
		Str("symbol", rec.Pair.String()).
		Float64("funds", rec.Funds).
		Float64("avg_price", rec.AvgPrice).
		Float64("realized_pnl", rec.RealizedPnL).
		Int64("order_id", rec.Order.OrderID).
		Str("side", rec.Order.Side).
		Str("status", rec.Order.Status).
		Float64("price", rec.Order.Price).
		Float64("quantity", rec.Order.Quantity).
		Float64("spent", rec.Order.Spent).
		Msg("Settlement")
	return nil
}
