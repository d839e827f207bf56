package events

import (
	"sync"
	"testing"
	"time"
)

// ===== TEST CASES: PUBLISH / SUBSCRIBE =====

func TestPublishReachesTypedAndAllSubscribers(t *testing.T) {
	bus := NewEventBus()

	var wg sync.WaitGroup
	wg.Add(2)
	var mu sync.Mutex
	got := map[string]Event{}

	bus.Subscribe(EventOrderFilled, func(e Event) {
		mu.Lock()
		got["typed"] = e
		mu.Unlock()
		wg.Done()
	})
	bus.SubscribeAll(func(e Event) {
		mu.Lock()
		got["all"] = e
		mu.Unlock()
		wg.Done()
	})

	bus.PublishOrderFilled(42, "BTCUSDT", "BUY", 100, 1, -100)
	waitOrFail(t, &wg)

	for _, key := range []string{"typed", "all"} {
		e := got[key]
		if e.Type != EventOrderFilled {
			t.Errorf("Expected %s for %s subscriber, got %s", EventOrderFilled, key, e.Type)
		}
		if e.Symbol != "BTCUSDT" {
			t.Errorf("Expected symbol BTCUSDT, got %s", e.Symbol)
		}
		if e.Timestamp.IsZero() {
			t.Error("Timestamp should be set on publish")
		}
	}
}

func TestPublishSkipsOtherTypes(t *testing.T) {
	bus := NewEventBus()
	called := make(chan struct{}, 1)
	bus.Subscribe(EventPositionClosed, func(Event) { called <- struct{}{} })

	bus.PublishCommand("pause", "p1", "success")

	select {
	case <-called:
		t.Error("Subscriber for another type should not be called")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var bus *EventBus
	bus.PublishError("test", "nothing listens", nil)
}

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for subscribers")
	}
}
