package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"grid-trading-bot/config"
)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Address, err)
	}

	logger.Info().Str("component", "Redis").Str("address", cfg.Address).Msg("Redis connected")
	return client, nil
}

// keyspace builds every key under one prefix
type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	if prefix == "" {
		prefix = "grid"
	}
	return keyspace{prefix: prefix}
}

// positions is the set of "QUOTE:BASE" members with any stored state
func (k keyspace) positions() string { return k.prefix + ":positions" }

func (k keyspace) stock(quote, base string) string {
	return fmt.Sprintf("%s:stock:%s:%s", k.prefix, quote, base)
}

func (k keyspace) orders(quote, base string) string {
	return fmt.Sprintf("%s:orders:%s:%s", k.prefix, quote, base)
}

func (k keyspace) rsi(quote, base string) string {
	return fmt.Sprintf("%s:rsi:%s:%s", k.prefix, quote, base)
}

func (k keyspace) decision(symbol string) string {
	return fmt.Sprintf("%s:decision:%s", k.prefix, symbol)
}

func member(quote, base string) string { return quote + ":" + base }
