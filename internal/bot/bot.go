// Package bot runs the per-symbol grid tracking loop and exposes the
// operator commands that steer it.
package bot

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"grid-trading-bot/config"
	"grid-trading-bot/internal/binance"
	"grid-trading-bot/internal/events"
	"grid-trading-bot/internal/ledger"
	"grid-trading-bot/internal/logging"
	"grid-trading-bot/internal/market"
	"grid-trading-bot/internal/metrics"
	"grid-trading-bot/internal/order"
	"grid-trading-bot/internal/strategy"
)

// Notifier receives operator-facing status messages
type Notifier interface {
	Notify(message string) error
	SendStopLoss(symbol, quote string, price float64) error
	SendManualReminder(action, symbol string) error
	SendTradeFailed(symbol, side, reason string) error
}

// SnapshotSink keeps the latest decision of each symbol
type SnapshotSink interface {
	SaveDecision(ctx context.Context, symbol string, snapshot interface{}) error
}

// TrackerConfig tunes the tracking loop
type TrackerConfig struct {
	RSIHigh        float64
	RSILow         float64
	Interval       string
	MaxLoss        float64
	MinProfit      float64
	SeriesWindow   int
	PollInterval   time.Duration
	CalmMultiplier float64
	GazeDivisor    float64
	EarlyStopLoss  bool
}

// DefaultTrackerConfig returns the stock tuning
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		RSIHigh:        60,
		RSILow:         40,
		Interval:       market.DefaultInterval,
		MaxLoss:        0.06,
		MinProfit:      0.05,
		SeriesWindow:   100,
		PollInterval:   60 * time.Second,
		CalmMultiplier: 5,
		GazeDivisor:    5,
		EarlyStopLoss:  true,
	}
}

// TrackerConfigFrom maps the grid section of the service config, keeping
// defaults for unset values
func TrackerConfigFrom(g config.GridConfig) TrackerConfig {
	c := DefaultTrackerConfig()
	if g.RSIHigh > 0 {
		c.RSIHigh = g.RSIHigh
	}
	if g.RSILow > 0 {
		c.RSILow = g.RSILow
	}
	if g.Interval != "" {
		c.Interval = g.Interval
	}
	if g.MaxLoss > 0 {
		c.MaxLoss = g.MaxLoss
	}
	if g.MinProfit > 0 {
		c.MinProfit = g.MinProfit
	}
	if g.SeriesWindow > 0 {
		c.SeriesWindow = g.SeriesWindow
	}
	if g.PollInterval > 0 {
		c.PollInterval = g.PollInterval
	}
	if g.CalmMultiplier > 0 {
		c.CalmMultiplier = g.CalmMultiplier
	}
	if g.GazeDivisor > 0 {
		c.GazeDivisor = g.GazeDivisor
	}
	c.EarlyStopLoss = g.EarlyStopLoss
	return c
}

// GridBot owns the tracking loop of every position in the ledger
type GridBot struct {
	cfg        TrackerConfig
	client     binance.ExchangeClient
	ledger     *ledger.Ledger
	gateway    *order.Gateway
	series     *market.SeriesCache
	sched      *Scheduler
	notifier   Notifier
	snapshots  SnapshotSink
	bus        *events.EventBus
	metrics    *metrics.Collector
	symbolLogs *logging.SymbolLoggers
	logger     zerolog.Logger
}

// Option configures optional collaborators
type Option func(*GridBot)

func WithNotifier(n Notifier) Option                    { return func(b *GridBot) { b.notifier = n } }
func WithSnapshots(s SnapshotSink) Option               { return func(b *GridBot) { b.snapshots = s } }
func WithEvents(bus *events.EventBus) Option            { return func(b *GridBot) { b.bus = bus } }
func WithMetrics(m *metrics.Collector) Option           { return func(b *GridBot) { b.metrics = m } }
func WithSymbolLoggers(s *logging.SymbolLoggers) Option { return func(b *GridBot) { b.symbolLogs = s } }

// NewGridBot wires the engine. Scheduled work runs under ctx until Shutdown.
func NewGridBot(ctx context.Context, cfg TrackerConfig, client binance.ExchangeClient, l *ledger.Ledger, gw *order.Gateway, logger zerolog.Logger, opts ...Option) *GridBot {
	logger = logger.With().Str("component", "GridBot").Logger()
	b := &GridBot{
		cfg:     cfg,
		client:  client,
		ledger:  l,
		gateway: gw,
		series:  market.NewSeriesCache(client, logger),
		sched:   NewScheduler(ctx, logger),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.notifier == nil {
		b.notifier = nopNotifier{}
	}
	return b
}

// Start resumes tracking of the persisted positions
func (b *GridBot) Start(ctx context.Context) error {
	b.logger.Info().
		Float64("rsi_high", b.cfg.RSIHigh).
		Float64("rsi_low", b.cfg.RSILow).
		Str("interval", b.cfg.Interval).
		Dur("poll_interval", b.cfg.PollInterval).
		Msg("Grid bot started")
	return b.Tracking(ctx)
}

// Shutdown cancels all timers and waits for running cycles
func (b *GridBot) Shutdown() {
	b.sched.Stop()
	b.logger.Info().Msg("Grid bot stopped")
}

// Ledger exposes the position ledger
func (b *GridBot) Ledger() *ledger.Ledger { return b.ledger }

// Scheduler exposes the per-symbol scheduler
func (b *GridBot) Scheduler() *Scheduler { return b.sched }

// Positions returns every tracked position with its slot state
func (b *GridBot) Positions() []PositionView {
	positions := b.ledger.Positions()
	out := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		out = append(out, PositionView{
			Position:       p,
			Symbol:         p.Pair.Symbol(),
			FundsAvailable: b.ledger.FundsAvailable(p.Pair),
			GoodsAvailable: b.ledger.GoodsAvailable(p.Pair),
			Task:           b.sched.State(p.Pair.Symbol()),
		})
	}
	return out
}

// PositionView is a position with its derived totals
type PositionView struct {
	ledger.Position
	Symbol         string    `json:"symbol"`
	FundsAvailable float64   `json:"fundsAvailable"`
	GoodsAvailable float64   `json:"goodsAvailable"`
	Task           TaskState `json:"task"`
}

func (b *GridBot) symbolLog(pair ledger.Pair) zerolog.Logger {
	if b.symbolLogs != nil {
		return b.symbolLogs.For(pair.Symbol())
	}
	return logging.WithSymbol(b.logger, pair.Symbol())
}

func (b *GridBot) rsiSettings(pair ledger.Pair) ledger.RSISettings {
	s, ok := b.ledger.RSI(pair)
	if !ok || s.IsZero() {
		return ledger.RSISettings{High: b.cfg.RSIHigh, Low: b.cfg.RSILow, Interval: b.cfg.Interval}
	}
	if s.Interval == "" {
		s.Interval = b.cfg.Interval
	}
	return s
}

func (b *GridBot) thresholds(s ledger.RSISettings) strategy.Thresholds {
	th := strategy.DefaultThresholds()
	th.RSIHigh = s.High
	th.RSILow = s.Low
	th.MaxLoss = b.cfg.MaxLoss
	th.MinProfit = b.cfg.MinProfit
	return th
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) error                          { return nil }
func (nopNotifier) SendStopLoss(string, string, float64) error   { return nil }
func (nopNotifier) SendManualReminder(string, string) error      { return nil }
func (nopNotifier) SendTradeFailed(string, string, string) error { return nil }
