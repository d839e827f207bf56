package bot

import (
	"context"
	"fmt"
	"math"
	"time"

	"grid-trading-bot/internal/ledger"
	"grid-trading-bot/internal/order"
	"grid-trading-bot/internal/strategy"
)

// buy steps per action: each buy must come in this far below the entry
const (
	buyStep    = 0.95
	supplyStep = 0.90
)

// settleDelay hands control back to evaluation once a poll settles
const settleDelay = 100 * time.Millisecond

// DecisionSnapshot is what one evaluation saw and did
type DecisionSnapshot struct {
	Symbol        string            `json:"symbol"`
	Price         float64           `json:"price"`
	EntryPrice    float64           `json:"entryPrice"`
	Funds         float64           `json:"funds"`
	Goods         float64           `json:"goods"`
	UnrealizedPnL float64           `json:"unrealizedPnl"`
	Decision      strategy.Decision `json:"decision"`
	Outcome       order.Outcome     `json:"outcome,omitempty"`
	NextIn        time.Duration     `json:"nextIn"`
	At            time.Time         `json:"at"`
}

// EarlyStopLoss decides whether a down-trending position should be cut.
// pct is the unrealized return fraction and hours the age of the oldest
// held buy. The longer a position is held the smaller the gain it settles
// for.
func EarlyStopLoss(pct, hours, maxLoss float64) bool {
	if pct <= -maxLoss {
		return true
	}
	for i := 18; i >= 1; i-- {
		if hours > float64(4*i) && pct > 0.03-0.005*float64(i) {
			return true
		}
	}
	return false
}

// evaluate runs one tracking cycle for pair
func (b *GridBot) evaluate(pair ledger.Pair) TaskFunc {
	return func(ctx context.Context, tok Token) {
		b.cycle(ctx, tok, pair)
	}
}

func (b *GridBot) cycle(ctx context.Context, tok Token, pair ledger.Pair) {
	symbol := pair.Symbol()
	log := b.symbolLog(pair)

	if !b.sched.Live(tok) {
		return
	}
	if _, ok := b.ledger.Position(pair); !ok {
		log.Info().Msg("Position gone, tracking stopped")
		return
	}

	settings := b.rsiSettings(pair)
	if err := b.series.SetInterval(symbol, settings.Interval); err != nil {
		log.Warn().Err(err).Str("interval", settings.Interval).Msg("Keeping previous candle interval")
	}
	window := b.cfg.SeriesWindow
	if window <= 0 {
		window = 100
	}
	prices, err := b.series.Update(ctx, symbol, window)
	delay := b.series.Delay(symbol)
	if err != nil || len(prices) == 0 {
		log.Warn().Err(err).Msg("Price refresh failed, retrying next cycle")
		if err != nil {
			b.bus.PublishError(symbol, "price refresh failed", err)
		}
		b.reschedule(tok, pair, delay)
		return
	}
	price := prices[len(prices)-1]

	entry := b.ledger.EntryPrice(pair)
	d := strategy.Decide(prices, price, entry, b.thresholds(settings))
	next := delay
	var res *order.Result

	// calm pairs are evaluated and reported but never traded
	calm := b.ledger.Calm(pair)
	action := d.Action
	if calm {
		action = ""
		next = scale(delay, b.cfg.CalmMultiplier)
	}

	switch action {
	case strategy.ActionGaze:
		next = scale(delay, 1/b.cfg.GazeDivisor)

	case strategy.ActionStopLoss:
		r := b.sell(ctx, pair)
		res = &r
		if r.Outcome == order.OutcomeFilled || r.Outcome == order.OutcomeFilling {
			b.notify(b.notifier.SendStopLoss(pair.String(), pair.Quote, price))
		}

	case strategy.ActionDownTrend:
		if b.cfg.EarlyStopLoss && b.earlyExit(pair, price, entry) {
			log.Info().Float64("price", price).Float64("entry_price", entry).Msg("Early stop-loss triggered")
			r := b.sell(ctx, pair)
			res = &r
		}

	case strategy.ActionSell:
		r := b.sell(ctx, pair)
		res = &r

	case strategy.ActionBuy, strategy.ActionSupply:
		step := buyStep
		if d.Action == strategy.ActionSupply {
			step = supplyStep
		}
		r := b.gridBuy(ctx, pair, price, step)
		res = &r

	case strategy.ActionOverBought, strategy.ActionBucket:
		b.notify(b.notifier.SendManualReminder(string(d.Action), pair.String()))
		next = delay / 2
	}

	b.report(ctx, pair, price, d, res, next)

	if !b.sched.Live(tok) {
		return
	}
	if res == nil {
		b.reschedule(tok, pair, next)
		return
	}
	b.follow(tok, pair, *res, next)
}

// follow picks the next step after a trade attempt. A cleared position
// has already cancelled tok.
func (b *GridBot) follow(tok Token, pair ledger.Pair, res order.Result, next time.Duration) {
	if res.Outcome == order.OutcomeFilling && res.Order != nil {
		b.sched.SchedulePoll(pair.Symbol(), res.Order.OrderID, b.cfg.PollInterval, b.poll(pair, res.Order.OrderID))
		return
	}
	b.reschedule(tok, pair, next)
}

// stopReason marks a sell whose fill ended tracking of the pair
const stopReason = "stop trade"

// sell liquidates pair. A fill while profit-only is set ends tracking.
func (b *GridBot) sell(ctx context.Context, pair ledger.Pair) order.Result {
	onlySell := b.ledger.OnlySell(pair)
	res := b.gateway.Sell(ctx, pair)
	switch res.Outcome {
	case order.OutcomeFilled:
		if onlySell {
			b.clear(ctx, pair)
			res.Reason = stopReason
		}
	case order.OutcomeFailed, order.OutcomeInsufficient:
		b.notify(b.notifier.SendTradeFailed(pair.String(), ledger.SideSell, res.Reason))
	}
	return res
}

// gridBuy spends a fifth of the allocation just above price
func (b *GridBot) gridBuy(ctx context.Context, pair ledger.Pair, price, step float64) order.Result {
	precision, err := b.client.GetSymbolPrecision(ctx, pair.Symbol())
	if err != nil {
		return order.Result{Outcome: order.OutcomeFailed, Reason: err.Error(),
			Err: fmt.Errorf("%w: %v", ledger.ErrExchange, err)}
	}
	qty := b.ledger.Funds(pair) / (price + 5*precision.TickSize) / 5
	res := b.gateway.Buy(ctx, pair, qty, price, step)
	if res.Outcome == order.OutcomeFailed || res.Outcome == order.OutcomeInsufficient {
		b.notify(b.notifier.SendTradeFailed(pair.String(), ledger.SideBuy, res.Reason))
	}
	return res
}

func (b *GridBot) earlyExit(pair ledger.Pair, price, entry float64) bool {
	if entry <= 0 {
		return false
	}
	pos, ok := b.ledger.Position(pair)
	if !ok {
		return false
	}
	oldest, ok := pos.OldestFilled()
	if !ok {
		return false
	}
	return EarlyStopLoss((price-entry)/entry, time.Since(oldest).Hours(), b.cfg.MaxLoss)
}

// poll follows one pending order of pair
func (b *GridBot) poll(pair ledger.Pair, orderID int64) TaskFunc {
	return func(ctx context.Context, tok Token) {
		if !b.sched.Live(tok) {
			return
		}
		log := b.symbolLog(pair)
		onlySell := b.ledger.OnlySell(pair)
		res := b.gateway.Poll(ctx, pair, orderID)
		if !b.sched.Live(tok) {
			return
		}

		switch res.State {
		case order.PollPolling:
			b.sched.SchedulePoll(pair.Symbol(), orderID, b.cfg.PollInterval, b.poll(pair, orderID))

		case order.PollSettled:
			if res.Order.Side == ledger.SideSell && onlySell {
				b.clear(ctx, pair)
				return
			}
			if next, ok := b.nextPending(pair); ok {
				b.sched.SchedulePoll(pair.Symbol(), next, b.cfg.PollInterval, b.poll(pair, next))
				return
			}
			b.sched.Schedule(pair.Symbol(), settleDelay, b.evaluate(pair))

		case order.PollAbandoned:
			log.Warn().Int64("order_id", orderID).Str("status", res.Order.Status).Msg("Tracking halted until operator acts")
			b.notify(b.notifier.Notify(fmt.Sprintf("%s order %d %s, tracking halted", pair, orderID, res.Order.Status)))
		}
	}
}

func (b *GridBot) nextPending(pair ledger.Pair) (int64, bool) {
	pos, ok := b.ledger.Position(pair)
	if !ok {
		return 0, false
	}
	for _, o := range pos.Orders {
		if o.Pending() {
			return o.OrderID, true
		}
	}
	return 0, false
}

// clear forgets pair everywhere
func (b *GridBot) clear(ctx context.Context, pair ledger.Pair) {
	symbol := pair.Symbol()
	b.sched.Cancel(symbol)
	if err := b.ledger.Remove(ctx, pair); err != nil {
		b.logger.Error().Err(err).Str("symbol", symbol).Msg("Removing position failed")
	}
	b.series.Remove(symbol)
	b.metrics.ForgetPosition(symbol)
	log := b.symbolLog(pair)
	log.Info().Msg("Position cleared")
}

func (b *GridBot) reschedule(tok Token, pair ledger.Pair, delay time.Duration) {
	if !b.sched.Live(tok) {
		return
	}
	b.sched.Schedule(pair.Symbol(), delay, b.evaluate(pair))
}

// report logs the cycle and publishes its snapshot
func (b *GridBot) report(ctx context.Context, pair ledger.Pair, price float64, d strategy.Decision, res *order.Result, next time.Duration) {
	symbol := pair.Symbol()
	entry := b.ledger.EntryPrice(pair)
	goods := b.ledger.GoodsAvailable(pair)
	funds := b.ledger.FundsAvailable(pair)
	var upnl float64
	if entry > 0 {
		upnl = goods * (price - entry)
	}

	snap := DecisionSnapshot{
		Symbol:        symbol,
		Price:         price,
		EntryPrice:    entry,
		Funds:         funds,
		Goods:         goods,
		UnrealizedPnL: upnl,
		Decision:      d,
		NextIn:        next,
		At:            time.Now(),
	}
	if res != nil {
		snap.Outcome = res.Outcome
	}

	log := b.symbolLog(pair)
	log.Info().
		Str("action", string(d.Action)).
		Str("trend", string(d.Trend)).
		Float64("rsi", d.RSI).
		Float64("price", price).
		Float64("entry_price", entry).
		Float64("unrealized_pnl", upnl).
		Str("outcome", string(snap.Outcome)).
		Dur("next", next).
		Msg("Evaluated")
	if c := d.Confirmation; c.Action == strategy.ActionBuy || c.Action == strategy.ActionSell {
		log.Info().Str("signal", string(c.Action)).Str("reason", c.Reason).Msg("Divergence confirmation")
	}

	b.bus.PublishDecision(symbol, snap)
	if b.snapshots != nil {
		if err := b.snapshots.SaveDecision(ctx, symbol, snap); err != nil {
			log.Warn().Err(err).Msg("Saving decision snapshot failed")
		}
	}
	b.metrics.RecordEvaluation(symbol, string(d.Action))
	b.metrics.SetPosition(symbol, funds, goods)
}

func (b *GridBot) notify(err error) {
	if err != nil {
		b.logger.Warn().Err(err).Msg("Notification failed")
	}
}

func scale(d time.Duration, f float64) time.Duration {
	if f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return d
	}
	return time.Duration(float64(d) * f)
}
