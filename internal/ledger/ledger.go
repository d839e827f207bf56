// Package ledger keeps the per-pair funds, holdings and order history the
// grid engine trades against. Totals are always derived by replaying
// FILLED order records over the allocated funds.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

type position struct {
	stock  Stock
	orders map[int64]OrderRecord
}

func (p *position) empty() bool {
	return p.stock.Funds == 0 && len(p.orders) == 0
}

// Ledger is the engine's single shared state, partitioned by pair
type Ledger struct {
	mu        sync.RWMutex
	store     Store
	logger    zerolog.Logger
	positions map[Pair]*position
	rsi       map[Pair]RSISettings
}

// New creates an empty ledger writing through to store
func New(store Store, logger zerolog.Logger) *Ledger {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Ledger{
		store:     store,
		logger:    logger.With().Str("component", "Ledger").Logger(),
		positions: make(map[Pair]*position),
		rsi:       make(map[Pair]RSISettings),
	}
}

// Load replaces the in-memory state with the store's snapshot. Records
// that fail validation are dropped and logged.
func (l *Ledger) Load(ctx context.Context) error {
	snap, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger snapshot: %w", err)
	}

	positions := make(map[Pair]*position)
	get := func(p Pair) *position {
		pos, ok := positions[p]
		if !ok {
			pos = &position{orders: make(map[int64]OrderRecord)}
			positions[p] = pos
		}
		return pos
	}

	for quote, bases := range snap.Stocks {
		for base, stock := range bases {
			get(NewPair(base, quote)).stock = stock
		}
	}
	for quote, bases := range snap.Orders {
		for base, orders := range bases {
			pair := NewPair(base, quote)
			for id, rec := range orders {
				if rec.OrderID == 0 {
					rec.OrderID = id
				}
				if rec.Symbol == "" {
					rec.Symbol = pair.String()
				}
				if err := rec.Validate(); err != nil {
					l.logger.Error().Err(err).Str("symbol", pair.String()).Int64("order_id", id).
						Msg("Dropping invalid order record")
					continue
				}
				get(pair).orders[rec.OrderID] = rec
			}
		}
	}
	rsi := make(map[Pair]RSISettings)
	for quote, bases := range snap.RSI {
		for base, s := range bases {
			rsi[NewPair(base, quote)] = s
		}
	}

	l.mu.Lock()
	l.positions = positions
	l.rsi = rsi
	l.mu.Unlock()

	l.logger.Info().Int("positions", len(positions)).Msg("Ledger loaded")
	return nil
}

// ============================================================================
// DERIVED TOTALS
// ============================================================================

// FundsAvailable is the allocation plus the signed spend of every FILLED
// record. Unknown pairs have no funds.
func (l *Ledger) FundsAvailable(pair Pair) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[pair]
	if !ok {
		return 0
	}
	return fundsAvailable(pos)
}

func fundsAvailable(pos *position) float64 {
	funds := pos.stock.Funds
	for _, o := range pos.orders {
		if o.Filled() {
			funds += o.Spent
		}
	}
	return funds
}

// GoodsAvailable is the filled bought quantity minus the filled sold
// quantity, clamped at zero
func (l *Ledger) GoodsAvailable(pair Pair) float64 {
	l.mu.RLock()
	pos, ok := l.positions[pair]
	var goods float64
	if ok {
		goods = goodsAvailable(pos)
	}
	l.mu.RUnlock()

	if goods < 0 {
		l.logger.Error().Str("symbol", pair.String()).Float64("goods", goods).
			Msg("Negative holdings derived from order records, clamping to zero")
		return 0
	}
	return goods
}

func goodsAvailable(pos *position) float64 {
	goods := 0.0
	for _, o := range pos.orders {
		if !o.Filled() {
			continue
		}
		if o.Side == SideBuy {
			goods += o.Quantity
		} else {
			goods -= o.Quantity
		}
	}
	return goods
}

// Funds returns the raw allocation without order replay
func (l *Ledger) Funds(pair Pair) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if pos, ok := l.positions[pair]; ok {
		return pos.stock.Funds
	}
	return 0
}

// ============================================================================
// ORDER RECORDS
// ============================================================================

// RecordOrder upserts rec by order id and persists it immediately
func (l *Ledger) RecordOrder(ctx context.Context, rec OrderRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	pair, _ := rec.Pair()

	l.mu.Lock()
	l.ensure(pair).orders[rec.OrderID] = rec
	l.mu.Unlock()

	return l.persist(ctx, pair, "save order", func() error {
		return l.store.SaveOrder(ctx, pair, rec)
	})
}

// SettleBuys returns the volume weighted price of the FILLED buy records,
// deleting them when erase is set. An empty set averages to zero.
func (l *Ledger) SettleBuys(ctx context.Context, pair Pair, erase bool) (float64, error) {
	l.mu.Lock()
	pos, ok := l.positions[pair]
	if !ok {
		l.mu.Unlock()
		return 0, nil
	}
	cost, qty := 0.0, 0.0
	var ids []int64
	for id, o := range pos.orders {
		if o.Filled() && o.Side == SideBuy {
			cost += o.Price * o.Quantity
			qty += o.Quantity
			ids = append(ids, id)
		}
	}
	avg := 0.0
	if qty > 0 {
		avg = cost / qty
	}
	if erase {
		for _, id := range ids {
			delete(pos.orders, id)
		}
	}
	gone := erase && l.gc(pair, pos)
	l.mu.Unlock()

	if !erase || len(ids) == 0 {
		return avg, nil
	}
	return avg, l.persistRemoval(ctx, pair, ids, gone)
}

// SettleSells sums and deletes the FILLED sell records
func (l *Ledger) SettleSells(ctx context.Context, pair Pair) (float64, error) {
	l.mu.Lock()
	pos, ok := l.positions[pair]
	if !ok {
		l.mu.Unlock()
		return 0, nil
	}
	qty := 0.0
	var ids []int64
	for id, o := range pos.orders {
		if o.Filled() && o.Side == SideSell {
			qty += o.Quantity
			ids = append(ids, id)
			delete(pos.orders, id)
		}
	}
	gone := l.gc(pair, pos)
	l.mu.Unlock()

	if len(ids) == 0 {
		return qty, nil
	}
	return qty, l.persistRemoval(ctx, pair, ids, gone)
}

// Liquidate folds a completed exit into the allocation: funds become the
// available funds, buys and sells are settled and the entry price is cleared.
func (l *Ledger) Liquidate(ctx context.Context, pair Pair) (Settlement, error) {
	l.mu.Lock()
	pos, ok := l.positions[pair]
	if !ok {
		l.mu.Unlock()
		return Settlement{}, fmt.Errorf("%w: %s", ErrNotFound, pair)
	}
	s := Settlement{Pair: pair, FundsBefore: pos.stock.Funds}
	s.FundsAfter = fundsAvailable(pos)
	pos.stock.Funds = s.FundsAfter
	pos.stock.EntryPrice = 0
	stock := pos.stock
	l.mu.Unlock()

	// the memory side always completes, store errors are reported joined
	var errs []error
	errs = append(errs, l.persist(ctx, pair, "save stock", func() error {
		return l.store.SaveStock(ctx, pair, stock)
	}))
	var err error
	s.AvgPrice, err = l.SettleBuys(ctx, pair, true)
	errs = append(errs, err)
	s.SoldQty, err = l.SettleSells(ctx, pair)
	errs = append(errs, err)
	s.RealizedPnL = s.FundsAfter - s.FundsBefore

	l.logger.Info().Str("symbol", pair.String()).
		Float64("avg_price", s.AvgPrice).
		Float64("sold_qty", s.SoldQty).
		Float64("funds", s.FundsAfter).
		Float64("realized_pnl", s.RealizedPnL).
		Msg("Position settled")
	return s, errors.Join(errs...)
}

// ============================================================================
// STOCK FIELDS
// ============================================================================

// Fill adds amount to the allocation. A result below zero is rejected and
// the funds are left untouched.
func (l *Ledger) Fill(ctx context.Context, pair Pair, amount float64) (float64, error) {
	if err := pair.Validate(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	current := 0.0
	if pos, ok := l.positions[pair]; ok {
		current = pos.stock.Funds
	}
	funds := current + amount
	if funds < 0 {
		l.mu.Unlock()
		l.logger.Warn().Str("symbol", pair.String()).Float64("funds", current).Float64("amount", amount).
			Msg("Fill rejected, funds would turn negative")
		return current, &ValidationError{Field: "funds", Reason: fmt.Sprintf("%g + %g is negative", current, amount)}
	}
	pos := l.ensure(pair)
	pos.stock.Funds = funds
	stock := pos.stock
	gone := l.gc(pair, pos)
	l.mu.Unlock()

	if gone {
		return funds, l.persist(ctx, pair, "delete position", func() error {
			return l.store.DeletePosition(ctx, pair)
		})
	}
	return funds, l.persist(ctx, pair, "save stock", func() error {
		return l.store.SaveStock(ctx, pair, stock)
	})
}

// SetEntryPrice stores the open position's average price
func (l *Ledger) SetEntryPrice(ctx context.Context, pair Pair, price float64) error {
	return l.updateStock(ctx, pair, func(s *Stock) bool {
		if s.EntryPrice == price {
			return false
		}
		s.EntryPrice = price
		return true
	})
}

// EntryPrice returns zero when no position is open
func (l *Ledger) EntryPrice(pair Pair) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if pos, ok := l.positions[pair]; ok {
		return pos.stock.EntryPrice
	}
	return 0
}

// SetOnlySell toggles profit-only mode. A zero pair applies to all positions.
func (l *Ledger) SetOnlySell(ctx context.Context, pair Pair, onlySell bool) error {
	return l.forPairs(pair, func(p Pair) error {
		return l.updateStock(ctx, p, func(s *Stock) bool {
			if s.OnlySell == onlySell {
				return false
			}
			s.OnlySell = onlySell
			return true
		})
	})
}

// OnlySell reports profit-only mode
func (l *Ledger) OnlySell(pair Pair) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[pair]
	return ok && pos.stock.OnlySell
}

// SetCalm toggles the paused flag. A zero pair applies to all positions.
func (l *Ledger) SetCalm(ctx context.Context, pair Pair, calm bool) error {
	return l.forPairs(pair, func(p Pair) error {
		return l.updateStock(ctx, p, func(s *Stock) bool {
			if s.Calm == calm {
				return false
			}
			s.Calm = calm
			return true
		})
	})
}

// Calm reports the paused flag
func (l *Ledger) Calm(pair Pair) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[pair]
	return ok && pos.stock.Calm
}

// SetRSI stores per-pair thresholds. A zero pair applies to all positions.
func (l *Ledger) SetRSI(ctx context.Context, pair Pair, s RSISettings) error {
	return l.forPairs(pair, func(p Pair) error {
		l.mu.Lock()
		l.rsi[p] = s
		l.mu.Unlock()
		return l.persist(ctx, p, "save rsi", func() error {
			return l.store.SaveRSI(ctx, p, s)
		})
	})
}

// RSI returns the stored thresholds for pair
func (l *Ledger) RSI(pair Pair) (RSISettings, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.rsi[pair]
	return s, ok
}

// ============================================================================
// VIEWS
// ============================================================================

// Position returns a copy of pair's state
func (l *Ledger) Position(pair Pair) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[pair]
	if !ok {
		return Position{}, false
	}
	return l.view(pair, pos), true
}

// Positions returns every position ordered by symbol
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Position, 0, len(l.positions))
	for _, pair := range l.pairsLocked() {
		out = append(out, l.view(pair, l.positions[pair]))
	}
	return out
}

// Pairs lists the tracked pairs ordered by quote then base
func (l *Ledger) Pairs() []Pair {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pairsLocked()
}

// Remove deletes a position together with its orders and thresholds
func (l *Ledger) Remove(ctx context.Context, pair Pair) error {
	l.mu.Lock()
	_, ok := l.positions[pair]
	delete(l.positions, pair)
	delete(l.rsi, pair)
	l.mu.Unlock()

	if !ok {
		return nil
	}
	l.logger.Info().Str("symbol", pair.String()).Msg("Position removed")
	return l.persist(ctx, pair, "delete position", func() error {
		return l.store.DeletePosition(ctx, pair)
	})
}

// ============================================================================
// HELPERS
// ============================================================================

// ensure returns pair's position, creating it. Callers hold mu.
func (l *Ledger) ensure(pair Pair) *position {
	pos, ok := l.positions[pair]
	if !ok {
		pos = &position{orders: make(map[int64]OrderRecord)}
		l.positions[pair] = pos
	}
	return pos
}

// gc drops a position with no funds and no orders. Callers hold mu.
func (l *Ledger) gc(pair Pair, pos *position) bool {
	if !pos.empty() {
		return false
	}
	delete(l.positions, pair)
	delete(l.rsi, pair)
	return true
}

func (l *Ledger) updateStock(ctx context.Context, pair Pair, mutate func(*Stock) bool) error {
	l.mu.Lock()
	pos, ok := l.positions[pair]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, pair)
	}
	if !mutate(&pos.stock) {
		l.mu.Unlock()
		return nil
	}
	stock := pos.stock
	l.mu.Unlock()

	return l.persist(ctx, pair, "save stock", func() error {
		return l.store.SaveStock(ctx, pair, stock)
	})
}

func (l *Ledger) forPairs(pair Pair, fn func(Pair) error) error {
	if !pair.IsZero() {
		return fn(pair)
	}
	for _, p := range l.Pairs() {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) persistRemoval(ctx context.Context, pair Pair, ids []int64, gone bool) error {
	if gone {
		return l.persist(ctx, pair, "delete position", func() error {
			return l.store.DeletePosition(ctx, pair)
		})
	}
	return l.persist(ctx, pair, "delete orders", func() error {
		return l.store.DeleteOrders(ctx, pair, ids)
	})
}

func (l *Ledger) persist(ctx context.Context, pair Pair, op string, fn func() error) error {
	if err := fn(); err != nil {
		l.logger.Error().Err(err).Str("symbol", pair.String()).Str("op", op).Msg("Ledger write-through failed")
		return fmt.Errorf("ledger %s %s: %w", op, pair, err)
	}
	return nil
}

func (l *Ledger) pairsLocked() []Pair {
	pairs := make([]Pair, 0, len(l.positions))
	for p := range l.positions {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Quote != pairs[j].Quote {
			return pairs[i].Quote < pairs[j].Quote
		}
		return pairs[i].Base < pairs[j].Base
	})
	return pairs
}

func (l *Ledger) view(pair Pair, pos *position) Position {
	v := Position{
		Pair:       pair,
		Funds:      pos.stock.Funds,
		EntryPrice: pos.stock.EntryPrice,
		OnlySell:   pos.stock.OnlySell,
		Calm:       pos.stock.Calm,
		RSI:        l.rsi[pair],
		Orders:     make([]OrderRecord, 0, len(pos.orders)),
	}
	for _, o := range pos.orders {
		v.Orders = append(v.Orders, o)
	}
	sort.Slice(v.Orders, func(i, j int) bool { return v.Orders[i].OrderID < v.Orders[j].OrderID })
	return v
}
