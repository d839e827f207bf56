package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"grid-trading-bot/internal/ledger"
	"grid-trading-bot/internal/market"
	"grid-trading-bot/internal/order"
)

// startDelay is how soon a commanded pair is first evaluated
const startDelay = 500 * time.Millisecond

// Execute starts grid trading pair with funds added to its allocation. A
// pair following a pending order keeps polling and is evaluated once the
// poll hands back.
func (b *GridBot) Execute(ctx context.Context, pair ledger.Pair, funds float64) error {
	if err := pair.Validate(); err != nil {
		return err
	}
	var err error
	b.sched.Do(pair.Symbol(), func() {
		if _, err = b.ledger.Fill(ctx, pair, funds); err != nil {
			return
		}
		if err = b.ledger.SetEntryPrice(ctx, pair, 0); err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return
		}
		err = nil
		if !b.sched.Polling(pair.Symbol()) {
			b.sched.Schedule(pair.Symbol(), startDelay, b.evaluate(pair))
		}
	})
	if err == nil {
		log := b.symbolLog(pair)
		log.Info().Float64("funds", funds).Msg("Grid strategy executed")
	}
	return err
}

// Fill adds funds to pair's allocation
func (b *GridBot) Fill(ctx context.Context, pair ledger.Pair, funds float64) (float64, error) {
	if err := pair.Validate(); err != nil {
		return 0, err
	}
	return b.ledger.Fill(ctx, pair, funds)
}

// Pause stops trading on the selected pairs while their loop keeps running.
// A zero pair selects every position.
func (b *GridBot) Pause(ctx context.Context, pair ledger.Pair) ([]ledger.Pair, error) {
	return b.each(pair, func(p ledger.Pair) error {
		if err := b.ledger.SetCalm(ctx, p, true); err != nil {
			return err
		}
		b.series.Reset(p.Symbol())
		if !b.sched.Polling(p.Symbol()) {
			delay := scale(b.series.Delay(p.Symbol()), b.cfg.CalmMultiplier)
			b.sched.Schedule(p.Symbol(), delay, b.evaluate(p))
		}
		return nil
	})
}

// Resume lifts a pause and re-derives the entry price from held buys
func (b *GridBot) Resume(ctx context.Context, pair ledger.Pair) ([]ledger.Pair, error) {
	return b.each(pair, func(p ledger.Pair) error {
		if err := b.ledger.SetCalm(ctx, p, false); err != nil {
			return err
		}
		avg, err := b.ledger.SettleBuys(ctx, p, false)
		if err != nil {
			b.logger.Warn().Err(err).Str("symbol", p.Symbol()).Msg("Entry price not recomputed")
		}
		if err := b.ledger.SetEntryPrice(ctx, p, avg); err != nil {
			return err
		}
		if !b.sched.Polling(p.Symbol()) {
			b.sched.Schedule(p.Symbol(), startDelay, b.evaluate(p))
		}
		return nil
	})
}

// Profit switches positions holding orders to profit-only. Callers
// resume the returned pairs.
func (b *GridBot) Profit(ctx context.Context, pair ledger.Pair) ([]ledger.Pair, error) {
	var marked []ledger.Pair
	_, err := b.each(pair, func(p ledger.Pair) error {
		pos, ok := b.ledger.Position(p)
		if !ok || len(pos.Orders) == 0 {
			return nil
		}
		if err := b.ledger.SetOnlySell(ctx, p, true); err != nil {
			return err
		}
		marked = append(marked, p)
		return nil
	})
	return marked, err
}

// Stop sells everything held by the selected pairs and forgets them. A
// sell still filling leaves the pair profit-only so settlement clears it.
// A sell that cannot be placed is reported and the pair is forgotten anyway.
func (b *GridBot) Stop(ctx context.Context, pair ledger.Pair) ([]ledger.Pair, error) {
	return b.each(pair, func(p ledger.Pair) error {
		res := b.gateway.Sell(ctx, p)
		switch res.Outcome {
		case order.OutcomeFilled, order.OutcomeStrategy:
			b.clear(ctx, p)
			return nil
		case order.OutcomeFilling:
			if err := b.ledger.SetOnlySell(ctx, p, true); err != nil {
				return err
			}
			b.sched.SchedulePoll(p.Symbol(), res.Order.OrderID, b.cfg.PollInterval, b.poll(p, res.Order.OrderID))
			return nil
		default:
			// dust below the lot filters or a rejected exit still ends tracking
			log := b.symbolLog(p)
			log.Warn().Err(res.Err).Str("outcome", string(res.Outcome)).
				Float64("goods", b.ledger.GoodsAvailable(p)).Msg("Exit sell not placed, clearing position")
			b.notify(b.notifier.SendTradeFailed(p.String(), ledger.SideSell, res.Reason))
			b.clear(ctx, p)
			return nil
		}
	})
}

// SetRSI stores evaluation thresholds for pair, or for all positions when
// pair is zero
func (b *GridBot) SetRSI(ctx context.Context, pair ledger.Pair, high, low float64, interval string) error {
	if high < 50 {
		return &ledger.ValidationError{Field: "rsi high", Reason: "must be at least 50"}
	}
	if low > 50 {
		return &ledger.ValidationError{Field: "rsi low", Reason: "must be at most 50"}
	}
	if high < low {
		return &ledger.ValidationError{Field: "rsi", Reason: "high below low"}
	}
	if interval == "" {
		interval = b.cfg.Interval
	}
	if !market.ValidInterval(interval) {
		return &ledger.ValidationError{Field: "interval", Reason: fmt.Sprintf("unsupported %q", interval)}
	}
	return b.ledger.SetRSI(ctx, pair, ledger.RSISettings{High: high, Low: low, Interval: interval})
}

// Query reports available goods and funds per symbol
func (b *GridBot) Query() map[string]map[string]float64 {
	out := make(map[string]map[string]float64)
	for _, p := range b.ledger.Pairs() {
		out[p.Symbol()] = map[string]float64{
			p.Base:  b.ledger.GoodsAvailable(p),
			p.Quote: b.ledger.FundsAvailable(p),
		}
	}
	return out
}

// Tracking reloads the ledger and resumes every position: pending orders
// are polled, held positions re-derive their entry price and idle
// allocations are evaluated.
func (b *GridBot) Tracking(ctx context.Context) error {
	if err := b.ledger.Load(ctx); err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	for i, pos := range b.ledger.Positions() {
		p := pos.Pair
		symbol := p.Symbol()
		log := b.symbolLog(p)
		if _, err := b.client.GetSymbolPrecision(ctx, symbol); err != nil {
			log.Warn().Err(err).Msg("Precision not loaded")
		}
		offset := time.Duration(i) * time.Second

		switch {
		case pos.HasPending():
			id, _ := b.nextPending(p)
			b.sched.SchedulePoll(symbol, id, startDelay+offset, b.poll(p, id))
			log.Info().Int64("order_id", id).Msg("Resumed polling")
		case pos.HasFilled():
			avg, err := b.ledger.SettleBuys(ctx, p, false)
			if err != nil {
				log.Warn().Err(err).Msg("Entry price not recomputed")
			}
			if err := b.ledger.SetEntryPrice(ctx, p, avg); err != nil {
				log.Warn().Err(err).Msg("Entry price not saved")
			}
			b.sched.Schedule(symbol, startDelay+offset, b.evaluate(p))
			log.Info().Float64("entry_price", avg).Msg("Resumed tracking")
		case pos.Funds > 0:
			b.sched.Schedule(symbol, settleDelay+offset, b.evaluate(p))
			log.Info().Float64("funds", pos.Funds).Msg("Resumed tracking")
		default:
			log.Warn().Msg("Unknown position state, not tracked")
		}
	}

	b.notify(b.notifier.Notify("tracking grid strategy"))
	return nil
}

// Bid places a manual buy. spent > 0 buys that much quote, otherwise a fifth
// of the allocation.
func (b *GridBot) Bid(ctx context.Context, pair ledger.Pair, spent float64) (order.Result, error) {
	if err := pair.Validate(); err != nil {
		return order.Result{}, err
	}
	price, err := b.client.GetTickerPrice(ctx, pair.Symbol())
	if err != nil {
		return order.Result{}, fmt.Errorf("%w: %v", ledger.ErrExchange, err)
	}
	if price <= 0 {
		return order.Result{}, &ledger.ValidationError{Field: "price", Reason: "not available"}
	}
	precision, err := b.client.GetSymbolPrecision(ctx, pair.Symbol())
	if err != nil {
		return order.Result{}, fmt.Errorf("%w: %v", ledger.ErrExchange, err)
	}

	qty := spent / price
	if spent <= 0 {
		qty = b.ledger.Funds(pair)/price/5 - 5*precision.StepSize
	}
	if qty <= 0 {
		return order.Result{}, &ledger.ValidationError{Field: "quantity", Reason: "nothing to buy"}
	}

	var res order.Result
	b.sched.Do(pair.Symbol(), func() {
		res = b.gateway.Buy(ctx, pair, qty, price, 1)
		b.followManual(pair, res)
	})
	return res, res.Err
}

// Ask places a manual sell of everything held
func (b *GridBot) Ask(ctx context.Context, pair ledger.Pair) (order.Result, error) {
	if err := pair.Validate(); err != nil {
		return order.Result{}, err
	}
	var res order.Result
	b.sched.Do(pair.Symbol(), func() {
		res = b.gateway.Sell(ctx, pair)
		b.followManual(pair, res)
	})
	return res, res.Err
}

func (b *GridBot) followManual(pair ledger.Pair, res order.Result) {
	if res.Outcome == order.OutcomeFilling && res.Order != nil {
		b.sched.SchedulePoll(pair.Symbol(), res.Order.OrderID, b.cfg.PollInterval, b.poll(pair, res.Order.OrderID))
	}
}

// each runs fn for pair, or for every position when pair is zero, while
// holding the pair's run lock. It returns the pairs fn succeeded for.
func (b *GridBot) each(pair ledger.Pair, fn func(ledger.Pair) error) ([]ledger.Pair, error) {
	targets := []ledger.Pair{pair}
	if pair.IsZero() {
		targets = b.ledger.Pairs()
	} else if _, ok := b.ledger.Position(pair); !ok {
		return nil, fmt.Errorf("%s: %w", pair, ledger.ErrNotFound)
	}

	var done []ledger.Pair
	var errs []error
	for _, p := range targets {
		var err error
		b.sched.Do(p.Symbol(), func() { err = fn(p) })
		if err != nil {
			errs = append(errs, err)
			continue
		}
		done = append(done, p)
	}
	return done, errors.Join(errs...)
}
