package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"grid-trading-bot/internal/command"
	"grid-trading-bot/internal/database"
)

var errCommandFailed = errors.New("command failed")

var (
	player   string
	password string
	timeout  time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send verb [args...]",
	Short: "Send one command through the relay and print the reply",
	Example: `  gridctl send execute BTC USDT 500
  gridctl send rsi all USDT 70 30 1h
  gridctl send query`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		relay, closeFn, err := openRelay(cmd.Context())
		if err != nil {
			return err
		}
		defer closeFn()

		who := playerID()
		req := command.Request{Verb: strings.ToLower(args[0]), Player: who, Args: args[1:]}
		if req.Verb != command.VerbVerify && req.Verb != command.VerbPing {
			if err := verify(cmd.Context(), relay, who); err != nil {
				return err
			}
		}

		resp, err := relay.Request(cmd.Context(), req, timeout)
		if err != nil {
			return err
		}
		fmt.Println(strings.TrimPrefix(resp.Value, who+" "))
		if strings.HasPrefix(resp.Value, who+" fail") {
			return errCommandFailed
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [base quote]",
	Short: "Stream relay replies, gazing at a pair when one is given",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("expected no arguments or base and quote")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		relay, closeFn, err := openRelay(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		who := playerID()
		if len(args) == 2 {
			if err := verify(ctx, relay, who); err != nil {
				return err
			}
			gaze := command.Request{Verb: command.VerbGaze, Player: who, Args: []string{args[0], args[1], "1"}}
			if _, err := relay.Request(ctx, gaze, timeout); err != nil {
				return err
			}
			defer func() {
				off := command.Request{Verb: command.VerbGaze, Player: who, Args: []string{args[0], args[1], "0"}}
				offCtx, cancel := context.WithTimeout(context.Background(), timeout)
				defer cancel()
				_, _ = relay.Request(offCtx, off, timeout)
			}()
		}

		err = relay.Watch(ctx, who, func(resp command.Response) {
			fmt.Printf("%s %s %s\n", time.Now().Format(time.TimeOnly), resp.Key, strings.TrimPrefix(resp.Value, who+" "))
		})
		if ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func openRelay(ctx context.Context) (*database.RedisRelay, func(), error) {
	client, err := database.NewRedisClient(ctx, cfg.RedisConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	return database.NewRedisRelay(client, cfg.RelayConfig, logger), func() { closeRedis(client) }, nil
}

func closeRedis(c *redis.Client) {
	if err := c.Close(); err != nil {
		logger.Debug().Err(err).Msg("Redis close failed")
	}
}

// verify opens a session for who; sessions live in the daemon per player
func verify(ctx context.Context, relay *database.RedisRelay, who string) error {
	pw := password
	if pw == "" {
		pw = cfg.RelayConfig.Password
	}
	resp, err := relay.Request(ctx, command.Request{Verb: command.VerbVerify, Player: who, Args: []string{pw}}, timeout)
	if err != nil {
		return err
	}
	if resp.Value != who+" success" {
		return fmt.Errorf("verify rejected for %s", who)
	}
	return nil
}

func playerID() string {
	if player != "" {
		return player
	}
	return "cli:" + uuid.NewString()[:8]
}

func init() {
	for _, c := range []*cobra.Command{sendCmd, watchCmd} {
		c.Flags().StringVar(&player, "player", "", "player id, random when empty")
		c.Flags().StringVar(&password, "password", "", "relay password, relay.password when empty")
		c.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "reply timeout")
	}
}
