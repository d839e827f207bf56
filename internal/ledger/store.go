package ledger

import (
	"context"
	"sync"
)

// Store persists the ledger. Every mutation is written through as it
// happens so a restart resumes from the last known order state.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	SaveStock(ctx context.Context, pair Pair, stock Stock) error
	SaveOrder(ctx context.Context, pair Pair, rec OrderRecord) error
	DeleteOrders(ctx context.Context, pair Pair, orderIDs []int64) error
	SaveRSI(ctx context.Context, pair Pair, s RSISettings) error
	// DeletePosition removes the stock, orders and thresholds of pair
	DeletePosition(ctx context.Context, pair Pair) error
}

// MemoryStore keeps a snapshot in process, used in mock mode and tests
type MemoryStore struct {
	mu   sync.Mutex
	snap *Snapshot
	err  error
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snap: NewSnapshot()}
}

// NewMemoryStoreFrom seeds the store with snap
func NewMemoryStoreFrom(snap *Snapshot) *MemoryStore {
	ms := NewMemoryStore()
	if snap != nil {
		ms.snap = cloneSnapshot(snap)
	}
	return ms
}

// FailWith makes every following call return err until cleared with nil
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Snapshot returns a deep copy of the stored state
func (m *MemoryStore) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSnapshot(m.snap)
}

func (m *MemoryStore) Load(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return cloneSnapshot(m.snap), nil
}

func (m *MemoryStore) SaveStock(ctx context.Context, pair Pair, stock Stock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.snap.Stocks[pair.Quote] == nil {
		m.snap.Stocks[pair.Quote] = make(map[string]Stock)
	}
	m.snap.Stocks[pair.Quote][pair.Base] = stock
	return nil
}

func (m *MemoryStore) SaveOrder(ctx context.Context, pair Pair, rec OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.snap.Orders[pair.Quote] == nil {
		m.snap.Orders[pair.Quote] = make(map[string]map[int64]OrderRecord)
	}
	if m.snap.Orders[pair.Quote][pair.Base] == nil {
		m.snap.Orders[pair.Quote][pair.Base] = make(map[int64]OrderRecord)
	}
	m.snap.Orders[pair.Quote][pair.Base][rec.OrderID] = rec
	return nil
}

func (m *MemoryStore) DeleteOrders(ctx context.Context, pair Pair, orderIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	orders := m.snap.Orders[pair.Quote][pair.Base]
	for _, id := range orderIDs {
		delete(orders, id)
	}
	return nil
}

func (m *MemoryStore) SaveRSI(ctx context.Context, pair Pair, s RSISettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.snap.RSI[pair.Quote] == nil {
		m.snap.RSI[pair.Quote] = make(map[string]RSISettings)
	}
	m.snap.RSI[pair.Quote][pair.Base] = s
	return nil
}

func (m *MemoryStore) DeletePosition(ctx context.Context, pair Pair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	delete(m.snap.Stocks[pair.Quote], pair.Base)
	delete(m.snap.Orders[pair.Quote], pair.Base)
	delete(m.snap.RSI[pair.Quote], pair.Base)
	return nil
}

func cloneSnapshot(s *Snapshot) *Snapshot {
	out := NewSnapshot()
	for quote, bases := range s.Stocks {
		out.Stocks[quote] = make(map[string]Stock, len(bases))
		for base, st := range bases {
			out.Stocks[quote][base] = st
		}
	}
	for quote, bases := range s.Orders {
		out.Orders[quote] = make(map[string]map[int64]OrderRecord, len(bases))
		for base, orders := range bases {
			m := make(map[int64]OrderRecord, len(orders))
			for id, o := range orders {
				m[id] = o
			}
			out.Orders[quote][base] = m
		}
	}
	for quote, bases := range s.RSI {
		out.RSI[quote] = make(map[string]RSISettings, len(bases))
		for base, r := range bases {
			out.RSI[quote][base] = r
		}
	}
	return out
}
