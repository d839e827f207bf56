package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"grid-trading-bot/config"
	"grid-trading-bot/internal/command"
)

// ErrNoReply is returned when no response arrives before the deadline
var ErrNoReply = errors.New("no reply from tracker")

// Handler answers one relay request text
type Handler func(ctx context.Context, text string) (command.Response, error)

// RedisRelay carries operator commands through Redis. Requests are pushed
// onto a list and popped by the tracker; responses are published on the
// broadcast channel and on a per-player channel.
type RedisRelay struct {
	client       *redis.Client
	requestKey   string
	broadcastKey string
	block        time.Duration
	logger       zerolog.Logger
}

var _ command.Broadcaster = (*RedisRelay)(nil)

// NewRedisRelay creates a relay using the configured keys
func NewRedisRelay(client *redis.Client, cfg config.RelayConfig, logger zerolog.Logger) *RedisRelay {
	r := &RedisRelay{
		client:       client,
		requestKey:   cfg.RequestKey,
		broadcastKey: cfg.BroadcastKey,
		block:        cfg.BlockTimeout,
		logger:       logger.With().Str("component", "RedisRelay").Logger(),
	}
	if r.requestKey == "" {
		r.requestKey = "grid:relay:applicate"
	}
	if r.broadcastKey == "" {
		r.broadcastKey = "grid:relay:broadcast"
	}
	if r.block <= 0 {
		r.block = 5 * time.Second
	}
	return r
}

// PlayerChannel is the channel carrying responses for player
func (r *RedisRelay) PlayerChannel(player string) string {
	return r.broadcastKey + ":" + player
}

// Run pops requests until ctx is done
func (r *RedisRelay) Run(ctx context.Context, handle Handler) error {
	r.logger.Info().Str("key", r.requestKey).Msg("Relay listening")
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		res, err := r.client.BLPop(ctx, r.block, r.requestKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn().Err(err).Msg("Relay pop failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		// BLPOP answers [key, value]
		if len(res) < 2 {
			continue
		}
		r.serve(ctx, handle, res[1])
	}
}

func (r *RedisRelay) serve(ctx context.Context, handle Handler, text string) {
	resp, err := handle(ctx, text)
	if err != nil {
		r.logger.Warn().Err(err).Str("request", text).Msg("Relay request rejected")
		return
	}
	if err := r.Broadcast(ctx, resp); err != nil {
		r.logger.Warn().Err(err).Str("player", resp.Player).Msg("Relay response not published")
	}
}

// Broadcast publishes resp on the shared and the player channel
func (r *RedisRelay) Broadcast(ctx context.Context, resp command.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	pipe := r.client.Pipeline()
	pipe.Publish(ctx, r.broadcastKey, data)
	if resp.Player != "" {
		pipe.Publish(ctx, r.PlayerChannel(resp.Player), data)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Request pushes req and waits for its response. Gaze updates arriving
// in the meantime are skipped.
func (r *RedisRelay) Request(ctx context.Context, req command.Request, timeout time.Duration) (command.Response, error) {
	sub := r.client.Subscribe(ctx, r.PlayerChannel(req.Player))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return command.Response{}, fmt.Errorf("subscribe: %w", err)
	}

	if err := r.client.RPush(ctx, r.requestKey, req.String()).Err(); err != nil {
		return command.Response{}, fmt.Errorf("push request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return command.Response{}, ErrNoReply
		case msg, ok := <-ch:
			if !ok {
				return command.Response{}, ErrNoReply
			}
			var resp command.Response
			if err := json.Unmarshal([]byte(msg.Payload), &resp); err != nil {
				continue
			}
			if resp.Key == command.VerbGaze && req.Verb != command.VerbGaze {
				continue
			}
			return resp, nil
		}
	}
}

// Watch streams every response published for player until ctx is done
func (r *RedisRelay) Watch(ctx context.Context, player string, fn func(command.Response)) error {
	sub := r.client.Subscribe(ctx, r.PlayerChannel(player))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var resp command.Response
			if err := json.Unmarshal([]byte(msg.Payload), &resp); err != nil {
				r.logger.Debug().Err(err).Msg("Skipping undecodable message")
				continue
			}
			fn(resp)
		}
	}
}
