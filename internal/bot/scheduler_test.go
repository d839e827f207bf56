package bot

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// ============================================================================
// TEST CASES: SINGLE FLIGHT
// ============================================================================

func TestScheduleReplacesPendingTask(t *testing.T) {
	s := NewScheduler(context.Background(), zerolog.Nop())
	defer s.Stop()

	noop := func(context.Context, Token) {}
	s.Schedule("BTCUSDT", time.Hour, noop)
	s.Schedule("BTCUSDT", time.Hour, noop)

	if got := s.Pending(); got != 1 {
		t.Fatalf("expected exactly one live timer, got %d", got)
	}
	if st := s.State("BTCUSDT"); st.Kind != TaskPending {
		t.Errorf("expected PENDING, got %s", st.Kind)
	}
}

func TestOnlyNewestTaskRuns(t *testing.T) {
	s := NewScheduler(context.Background(), zerolog.Nop())
	defer s.Stop()

	var first, second atomic.Int32
	done := make(chan struct{})
	s.Schedule("BTCUSDT", 20*time.Millisecond, func(context.Context, Token) { first.Add(1) })
	s.Schedule("BTCUSDT", 20*time.Millisecond, func(context.Context, Token) {
		second.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("replacement task never ran")
	}
	time.Sleep(30 * time.Millisecond)
	if first.Load() != 0 {
		t.Error("replaced task must not run")
	}
	if second.Load() != 1 {
		t.Errorf("expected one run, got %d", second.Load())
	}
	if st := s.State("BTCUSDT"); st.Kind != TaskIdle {
		t.Errorf("expected IDLE after run, got %s", st.Kind)
	}
}

func TestSymbolsAreIndependent(t *testing.T) {
	s := NewScheduler(context.Background(), zerolog.Nop())
	defer s.Stop()

	noop := func(context.Context, Token) {}
	s.Schedule("BTCUSDT", time.Hour, noop)
	s.Schedule("ETHUSDT", time.Hour, noop)
	s.SchedulePoll("SOLUSDT", 42, time.Hour, noop)

	if got := s.Pending(); got != 3 {
		t.Fatalf("expected 3 timers, got %d", got)
	}
	st := s.State("SOLUSDT")
	if st.Kind != TaskPolling || st.OrderID != 42 {
		t.Errorf("expected POLLING(42), got %s(%d)", st.Kind, st.OrderID)
	}
	if !s.Polling("SOLUSDT") || s.Polling("BTCUSDT") {
		t.Error("polling flag mismatch")
	}
}

// ============================================================================
// TEST CASES: CANCELLATION
// ============================================================================

func TestCancelIsIdempotent(t *testing.T) {
	s := NewScheduler(context.Background(), zerolog.Nop())
	defer s.Stop()

	var runs atomic.Int32
	s.Schedule("BTCUSDT", 10*time.Millisecond, func(context.Context, Token) { runs.Add(1) })
	s.Cancel("BTCUSDT")
	s.Cancel("BTCUSDT")
	s.Cancel("UNKNOWN")

	time.Sleep(40 * time.Millisecond)
	if runs.Load() != 0 {
		t.Error("cancelled task ran")
	}
	if s.Pending() != 0 {
		t.Errorf("expected no timers, got %d", s.Pending())
	}
}

func TestTokenGoesStaleOnReschedule(t *testing.T) {
	s := NewScheduler(context.Background(), zerolog.Nop())
	defer s.Stop()

	tokens := make(chan Token, 1)
	release := make(chan struct{})
	s.Schedule("BTCUSDT", 0, func(_ context.Context, tok Token) {
		tokens <- tok
		<-release
	})

	tok := <-tokens
	if !s.Live(tok) {
		t.Fatal("running task should be live")
	}
	s.Schedule("BTCUSDT", time.Hour, func(context.Context, Token) {})
	if s.Live(tok) {
		t.Error("token should be stale after reschedule")
	}
	close(release)

	s.Cancel("BTCUSDT")
	if s.Live(tok) {
		t.Error("token should stay stale after cancel")
	}
}

func TestRunsOfOneKeyNeverOverlap(t *testing.T) {
	s := NewScheduler(context.Background(), zerolog.Nop())
	defer s.Stop()

	var active, maxActive atomic.Int32
	task := func(context.Context, Token) {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
	}

	s.Schedule("BTCUSDT", 0, task)
	time.Sleep(5 * time.Millisecond)
	finished := make(chan struct{})
	go func() {
		s.Do("BTCUSDT", func() {
			n := active.Add(1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			active.Add(-1)
		})
		close(finished)
	}()
	<-finished

	if maxActive.Load() > 1 {
		t.Errorf("runs overlapped: %d concurrent", maxActive.Load())
	}
}

func TestPanickingTaskIsRecovered(t *testing.T) {
	s := NewScheduler(context.Background(), zerolog.Nop())
	defer s.Stop()

	s.Schedule("BTCUSDT", 0, func(context.Context, Token) { panic("boom") })
	time.Sleep(20 * time.Millisecond)

	ran := make(chan struct{})
	s.Schedule("BTCUSDT", 0, func(context.Context, Token) { close(ran) })
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not survive a panicking task")
	}
}

func TestStopWaitsForRunningTask(t *testing.T) {
	s := NewScheduler(context.Background(), zerolog.Nop())

	started := make(chan struct{})
	var finished atomic.Bool
	s.Schedule("BTCUSDT", 0, func(ctx context.Context, _ Token) {
		close(started)
		<-ctx.Done()
		finished.Store(true)
	})
	<-started
	s.Stop()

	if !finished.Load() {
		t.Error("Stop returned before the running task")
	}
	s.Schedule("BTCUSDT", 0, func(context.Context, Token) {})
	if s.Pending() != 0 {
		t.Error("stopped scheduler accepted a task")
	}
}
