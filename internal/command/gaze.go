package command

import (
	"context"
	"encoding/json"
	"errors"

	"grid-trading-bot/internal/events"
)

// Broadcaster delivers a response to one player
type Broadcaster interface {
	Broadcast(ctx context.Context, resp Response) error
}

// Broadcasters fans a response out to several surfaces. Each surface
// ignores players it does not serve.
type Broadcasters []Broadcaster

func (bs Broadcasters) Broadcast(ctx context.Context, resp Response) error {
	var errs []error
	for _, b := range bs {
		if err := b.Broadcast(ctx, resp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ForwardDecisions sends every decision of a gazed symbol to the players
// watching it
func (d *Dispatcher) ForwardDecisions(ctx context.Context, bus *events.EventBus, out Broadcaster) {
	bus.Subscribe(events.EventDecision, func(e events.Event) {
		players := d.Gazers(e.Symbol)
		if len(players) == 0 {
			return
		}
		body, err := json.Marshal(e.Data["decision"])
		if err != nil {
			d.logger.Warn().Err(err).Str("symbol", e.Symbol).Msg("Decision not encodable")
			return
		}
		for _, p := range players {
			resp := Response{Key: VerbGaze, Player: p, Value: p + " " + e.Symbol + " " + string(body)}
			if err := out.Broadcast(ctx, resp); err != nil {
				d.logger.Warn().Err(err).Str("player", p).Msg("Gaze forward failed")
			}
		}
	})
}
