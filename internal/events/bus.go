package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the engine
type EventType string

const (
	EventDecision       EventType = "DECISION"
	EventOrderPlaced    EventType = "ORDER_PLACED"
	EventOrderFilled    EventType = "ORDER_FILLED"
	EventOrderAbandoned EventType = "ORDER_ABANDONED"
	EventPositionClosed EventType = "POSITION_CLOSED"
	EventCommand        EventType = "COMMAND"
	EventError          EventType = "ERROR"
)

// Event represents an engine event
type Event struct {
	Type      EventType              `json:"type"`
	Symbol    string                 `json:"symbol,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers. A nil bus drops the event.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking the tracker
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishDecision publishes one evaluation cycle's outcome
func (eb *EventBus) PublishDecision(symbol string, snapshot interface{}) {
	eb.Publish(Event{
		Type:   EventDecision,
		Symbol: symbol,
		Data: map[string]interface{}{
			"decision": snapshot,
		},
	})
}

// PublishOrderPlaced publishes a submitted market order
func (eb *EventBus) PublishOrderPlaced(orderID int64, symbol, side, status string, quantity float64) {
	eb.Publish(Event{
		Type:   EventOrderPlaced,
		Symbol: symbol,
		Data: map[string]interface{}{
			"order_id": orderID,
			"side":     side,
			"status":   status,
			"quantity": quantity,
		},
	})
}

// PublishOrderFilled publishes a settled order
func (eb *EventBus) PublishOrderFilled(orderID int64, symbol, side string, price, quantity, spent float64) {
	eb.Publish(Event{
		Type:   EventOrderFilled,
		Symbol: symbol,
		Data: map[string]interface{}{
			"order_id": orderID,
			"side":     side,
			"price":    price,
			"quantity": quantity,
			"spent":    spent,
		},
	})
}

// PublishOrderAbandoned publishes an order that left polling without filling
func (eb *EventBus) PublishOrderAbandoned(orderID int64, symbol, status string) {
	eb.Publish(Event{
		Type:   EventOrderAbandoned,
		Symbol: symbol,
		Data: map[string]interface{}{
			"order_id": orderID,
			"status":   status,
		},
	})
}

// PublishPositionClosed publishes a full exit
func (eb *EventBus) PublishPositionClosed(symbol string, avgPrice, soldQty, funds, pnl float64) {
	eb.Publish(Event{
		Type:   EventPositionClosed,
		Symbol: symbol,
		Data: map[string]interface{}{
			"avg_price":    avgPrice,
			"sold_qty":     soldQty,
			"funds":        funds,
			"realized_pnl": pnl,
		},
	})
}

// PublishCommand publishes an operator command and its result
func (eb *EventBus) PublishCommand(verb, player, result string) {
	eb.Publish(Event{
		Type: EventCommand,
		Data: map[string]interface{}{
			"verb":   verb,
			"player": player,
			"result": result,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
