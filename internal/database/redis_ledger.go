package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"grid-trading-bot/internal/ledger"
)

// DecisionTTL bounds how long the last decision of a symbol is kept
const DecisionTTL = 7 * 24 * time.Hour

// RedisLedgerStore persists the ledger per position:
//
//	<prefix>:positions             set of QUOTE:BASE
//	<prefix>:stock:<QUOTE>:<BASE>  stock JSON
//	<prefix>:orders:<QUOTE>:<BASE> hash orderId -> record JSON
//	<prefix>:rsi:<QUOTE>:<BASE>    thresholds JSON
type RedisLedgerStore struct {
	client *redis.Client
	keys   keyspace
	logger zerolog.Logger
}

var _ ledger.Store = (*RedisLedgerStore)(nil)

// NewRedisLedgerStore creates a store writing under prefix
func NewRedisLedgerStore(client *redis.Client, prefix string, logger zerolog.Logger) *RedisLedgerStore {
	return &RedisLedgerStore{
		client: client,
		keys:   newKeyspace(prefix),
		logger: logger.With().Str("component", "RedisLedger").Logger(),
	}
}

// Load reads every stored position. Undecodable entries are skipped with a
// warning so one bad record does not block recovery of the rest.
func (s *RedisLedgerStore) Load(ctx context.Context) (*ledger.Snapshot, error) {
	members, err := s.client.SMembers(ctx, s.keys.positions()).Result()
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	type reads struct {
		quote, base string
		stock       *redis.StringCmd
		orders      *redis.MapStringStringCmd
		rsi         *redis.StringCmd
	}
	pending := make([]reads, 0, len(members))
	pipe := s.client.Pipeline()
	for _, m := range members {
		quote, base, ok := strings.Cut(m, ":")
		if !ok {
			s.logger.Warn().Str("member", m).Msg("Malformed position member")
			continue
		}
		pending = append(pending, reads{
			quote:  quote,
			base:   base,
			stock:  pipe.Get(ctx, s.keys.stock(quote, base)),
			orders: pipe.HGetAll(ctx, s.keys.orders(quote, base)),
			rsi:    pipe.Get(ctx, s.keys.rsi(quote, base)),
		})
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read positions: %w", err)
	}

	snap := ledger.NewSnapshot()
	for _, r := range pending {
		if raw, err := r.stock.Bytes(); err == nil {
			var st ledger.Stock
			if err := json.Unmarshal(raw, &st); err != nil {
				s.logger.Warn().Err(err).Str("position", member(r.quote, r.base)).Msg("Stock not decodable")
			} else {
				putStock(snap, r.quote, r.base, st)
			}
		}
		if raw, err := r.rsi.Bytes(); err == nil {
			var rs ledger.RSISettings
			if err := json.Unmarshal(raw, &rs); err != nil {
				s.logger.Warn().Err(err).Str("position", member(r.quote, r.base)).Msg("RSI settings not decodable")
			} else {
				putRSI(snap, r.quote, r.base, rs)
			}
		}
		for field, raw := range r.orders.Val() {
			rec, err := decodeOrder(field, raw)
			if err != nil {
				s.logger.Warn().Err(err).Str("position", member(r.quote, r.base)).Msg("Order not decodable")
				continue
			}
			putOrder(snap, r.quote, r.base, rec)
		}
	}

	s.logger.Info().Int("positions", len(pending)).Msg("Ledger snapshot loaded")
	return snap, nil
}

func (s *RedisLedgerStore) SaveStock(ctx context.Context, pair ledger.Pair, stock ledger.Stock) error {
	data, err := json.Marshal(stock)
	if err != nil {
		return fmt.Errorf("encode stock: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keys.stock(pair.Quote, pair.Base), data, 0)
	pipe.SAdd(ctx, s.keys.positions(), member(pair.Quote, pair.Base))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisLedgerStore) SaveOrder(ctx context.Context, pair ledger.Pair, rec ledger.OrderRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode order %d: %w", rec.OrderID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.keys.orders(pair.Quote, pair.Base), strconv.FormatInt(rec.OrderID, 10), data)
	pipe.SAdd(ctx, s.keys.positions(), member(pair.Quote, pair.Base))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisLedgerStore) DeleteOrders(ctx context.Context, pair ledger.Pair, orderIDs []int64) error {
	if len(orderIDs) == 0 {
		return nil
	}
	fields := make([]string, len(orderIDs))
	for i, id := range orderIDs {
		fields[i] = strconv.FormatInt(id, 10)
	}
	return s.client.HDel(ctx, s.keys.orders(pair.Quote, pair.Base), fields...).Err()
}

func (s *RedisLedgerStore) SaveRSI(ctx context.Context, pair ledger.Pair, rs ledger.RSISettings) error {
	data, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("encode rsi: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keys.rsi(pair.Quote, pair.Base), data, 0)
	pipe.SAdd(ctx, s.keys.positions(), member(pair.Quote, pair.Base))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisLedgerStore) DeletePosition(ctx context.Context, pair ledger.Pair) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx,
		s.keys.stock(pair.Quote, pair.Base),
		s.keys.orders(pair.Quote, pair.Base),
		s.keys.rsi(pair.Quote, pair.Base),
	)
	pipe.SRem(ctx, s.keys.positions(), member(pair.Quote, pair.Base))
	_, err := pipe.Exec(ctx)
	return err
}

// SaveDecision keeps the latest decision snapshot of symbol
func (s *RedisLedgerStore) SaveDecision(ctx context.Context, symbol string, snapshot interface{}) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}
	return s.client.Set(ctx, s.keys.decision(symbol), data, DecisionTTL).Err()
}

// LastDecision returns the raw JSON of the latest decision of symbol
func (s *RedisLedgerStore) LastDecision(ctx context.Context, symbol string) (json.RawMessage, error) {
	data, err := s.client.Get(ctx, s.keys.decision(symbol)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func decodeOrder(field, raw string) (ledger.OrderRecord, error) {
	id, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return ledger.OrderRecord{}, fmt.Errorf("order field %q: %w", field, err)
	}
	var rec ledger.OrderRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return ledger.OrderRecord{}, fmt.Errorf("order %d: %w", id, err)
	}
	if rec.OrderID != id {
		return ledger.OrderRecord{}, fmt.Errorf("order %d stored under field %d", rec.OrderID, id)
	}
	if err := rec.Validate(); err != nil {
		return ledger.OrderRecord{}, fmt.Errorf("order %d: %w", id, err)
	}
	return rec, nil
}

func putStock(snap *ledger.Snapshot, quote, base string, st ledger.Stock) {
	if snap.Stocks[quote] == nil {
		snap.Stocks[quote] = make(map[string]ledger.Stock)
	}
	snap.Stocks[quote][base] = st
}

func putRSI(snap *ledger.Snapshot, quote, base string, rs ledger.RSISettings) {
	if snap.RSI[quote] == nil {
		snap.RSI[quote] = make(map[string]ledger.RSISettings)
	}
	snap.RSI[quote][base] = rs
}

func putOrder(snap *ledger.Snapshot, quote, base string, rec ledger.OrderRecord) {
	if snap.Orders[quote] == nil {
		snap.Orders[quote] = make(map[string]map[int64]ledger.OrderRecord)
	}
	if snap.Orders[quote][base] == nil {
		snap.Orders[quote][base] = make(map[int64]ledger.OrderRecord)
	}
	snap.Orders[quote][base][rec.OrderID] = rec
}
