package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FromContext retrieves the logger from context, falling back to Default
func FromContext(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// WithTraceContext adds a trace ID to the logger carried by ctx
func WithTraceContext(ctx context.Context) (context.Context, zerolog.Logger) {
	l := FromContext(ctx).With().Str("trace_id", uuid.NewString()).Logger()
	return NewContext(ctx, l), l
}

// WithSymbol tags l with a trading pair
func WithSymbol(l zerolog.Logger, symbol string) zerolog.Logger {
	return l.With().Str("symbol", symbol).Logger()
}

// OrderContext creates a logger context for order operations
func OrderContext(l zerolog.Logger, orderID int64, symbol, side string) zerolog.Logger {
	return l.With().
		Int64("order_id", orderID).
		Str("symbol", symbol).
		Str("side", side).
		Logger()
}

// CommandContext creates a logger context for operator commands
func CommandContext(l zerolog.Logger, verb, player string) zerolog.Logger {
	return l.With().
		Str("component", "command").
		Str("verb", verb).
		Str("player", player).
		Logger()
}
