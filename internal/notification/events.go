package notification

import (
	"fmt"

	"grid-trading-bot/internal/events"
)

// Follow forwards full exits and engine errors from bus to the operator
func (m *Manager) Follow(bus *events.EventBus) {
	if m == nil || bus == nil {
		return
	}
	bus.Subscribe(events.EventPositionClosed, m.handleEvent)
	bus.Subscribe(events.EventError, m.handleEvent)
}

func (m *Manager) handleEvent(ev events.Event) {
	var err error
	switch ev.Type {
	case events.EventPositionClosed:
		err = m.SendSettlement(ev.Symbol, number(ev.Data["avg_price"]), number(ev.Data["realized_pnl"]))
	case events.EventError:
		msg := fmt.Sprint(ev.Data["message"])
		if detail, ok := ev.Data["error"]; ok {
			msg = fmt.Sprintf("%s: %v", msg, detail)
		}
		err = m.SendError(fmt.Sprintf("Error in %v", ev.Data["source"]), msg)
	}
	if err != nil {
		m.logger.Debug().Err(err).Str("event_type", string(ev.Type)).Msg("Event notification failed")
	}
}

func number(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
