package bot

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TaskKind is what a symbol's slot holds
type TaskKind string

const (
	TaskIdle    TaskKind = "IDLE"
	TaskPending TaskKind = "PENDING"
	TaskPolling TaskKind = "POLLING"
)

// TaskState describes a symbol's current slot
type TaskState struct {
	Kind    TaskKind  `json:"kind"`
	OrderID int64     `json:"orderId,omitempty"`
	Due     time.Time `json:"due,omitempty"`
	Running bool      `json:"running"`
}

// Token identifies one scheduled run. A run whose token is no longer live
// must not mutate state for its symbol.
type Token struct {
	Key string
	gen uint64
}

// TaskFunc is a scheduled callback
type TaskFunc func(ctx context.Context, tok Token)

type slot struct {
	kind    TaskKind
	orderID int64
	due     time.Time
	timer   *time.Timer
	gen     uint64
	running bool
	runMu   sync.Mutex // serializes runs of one key
}

// Scheduler keeps at most one delayed task per key. Scheduling a key
// replaces whatever was pending for it, and runs of the same key never
// overlap.
type Scheduler struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	slots   map[string]*slot
	gen     uint64
	wg      sync.WaitGroup
	stopped bool
	logger  zerolog.Logger
}

// NewScheduler creates a scheduler whose tasks run under ctx
func NewScheduler(ctx context.Context, logger zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		slots:  make(map[string]*slot),
		logger: logger.With().Str("component", "Scheduler").Logger(),
	}
}

// Schedule runs fn for key after delay, replacing any pending task
func (s *Scheduler) Schedule(key string, delay time.Duration, fn TaskFunc) {
	s.schedule(key, TaskPending, 0, delay, fn)
}

// SchedulePoll runs fn for key after delay while marking the key as
// following orderID
func (s *Scheduler) SchedulePoll(key string, orderID int64, delay time.Duration, fn TaskFunc) {
	s.schedule(key, TaskPolling, orderID, delay, fn)
}

func (s *Scheduler) schedule(key string, kind TaskKind, orderID int64, delay time.Duration, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if delay < 0 {
		delay = 0
	}

	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{}
		s.slots[key] = sl
	}
	if sl.timer != nil {
		sl.timer.Stop()
	}
	s.gen++
	gen := s.gen
	sl.gen = gen
	sl.kind = kind
	sl.orderID = orderID
	sl.due = time.Now().Add(delay)
	sl.timer = time.AfterFunc(delay, func() { s.fire(key, gen, fn) })

	s.logger.Debug().Str("symbol", key).Str("kind", string(kind)).Dur("delay", delay).Msg("Task scheduled")
}

func (s *Scheduler) fire(key string, gen uint64, fn TaskFunc) {
	s.mu.Lock()
	sl, ok := s.slots[key]
	if !ok || sl.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	sl.timer = nil
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	sl.runMu.Lock()
	defer sl.runMu.Unlock()

	// rescheduled or cancelled while waiting for a previous run
	s.mu.Lock()
	if sl.gen != gen || s.stopped {
		s.mu.Unlock()
		return
	}
	sl.running = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("symbol", key).Interface("panic", r).Msg("Task panicked")
		}
		s.mu.Lock()
		if sl.gen == gen {
			sl.kind = TaskIdle
			sl.orderID = 0
			sl.due = time.Time{}
		}
		sl.running = false
		s.mu.Unlock()
	}()

	fn(s.ctx, Token{Key: key, gen: gen})
}

// Do runs fn while holding key's run lock so it never interleaves with a
// scheduled run of the same key. fn must not call Do for the same key.
func (s *Scheduler) Do(key string, fn func()) {
	s.mu.Lock()
	sl, ok := s.slots[key]
	if !ok {
		sl = &slot{kind: TaskIdle}
		s.slots[key] = sl
	}
	s.mu.Unlock()

	sl.runMu.Lock()
	defer sl.runMu.Unlock()
	fn()
}

// Live reports whether tok is still the newest task of its key
func (s *Scheduler) Live(tok Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[tok.Key]
	return ok && sl.gen == tok.gen && !s.stopped
}

// Cancel drops the pending task of key and invalidates a running one.
// Safe to call repeatedly.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[key]
	if !ok {
		return
	}
	if sl.timer != nil {
		sl.timer.Stop()
		sl.timer = nil
	}
	s.gen++
	sl.gen = s.gen
	sl.kind = TaskIdle
	sl.orderID = 0
	sl.due = time.Time{}
}

// CancelAll drops every pending task
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	keys := make([]string, 0, len(s.slots))
	for k := range s.slots {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	for _, k := range keys {
		s.Cancel(k)
	}
}

// State returns the slot of key, idle when unknown
func (s *Scheduler) State(key string) TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[key]
	if !ok {
		return TaskState{Kind: TaskIdle}
	}
	return TaskState{Kind: sl.kind, OrderID: sl.orderID, Due: sl.due, Running: sl.running}
}

// Polling reports whether key is following a pending order
func (s *Scheduler) Polling(key string) bool {
	return s.State(key).Kind == TaskPolling
}

// Pending counts keys with a timer armed
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sl := range s.slots {
		if sl.timer != nil {
			n++
		}
	}
	return n
}

// Stop cancels all timers and waits for running tasks to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for k, sl := range s.slots {
		if sl.timer != nil {
			sl.timer.Stop()
		}
		delete(s.slots, k)
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
