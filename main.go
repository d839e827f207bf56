package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"grid-trading-bot/config"
	"grid-trading-bot/internal/api"
	"grid-trading-bot/internal/auth"
	"grid-trading-bot/internal/binance"
	"grid-trading-bot/internal/bot"
	"grid-trading-bot/internal/command"
	"grid-trading-bot/internal/database"
	"grid-trading-bot/internal/events"
	"grid-trading-bot/internal/ledger"
	"grid-trading-bot/internal/logging"
	"grid-trading-bot/internal/metrics"
	"grid-trading-bot/internal/notification"
	"grid-trading-bot/internal/order"
	"grid-trading-bot/internal/telegram"
	"grid-trading-bot/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		MaxSizeMB:   cfg.LoggingConfig.MaxSizeMB,
		MaxBackups:  cfg.LoggingConfig.MaxBackups,
		Component:   "main",
	})
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Grid trading bot exited")
	}
	logger.Info().Msg("Shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	bus := events.NewEventBus()

	var collector *metrics.Collector
	if cfg.MetricsConfig.Enabled {
		collector = metrics.NewCollector()
	}

	secrets, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		return err
	}
	if secrets.Enabled() {
		creds, err := secrets.GetExchangeCredentials(ctx)
		if err != nil {
			return fmt.Errorf("exchange credentials: %w", err)
		}
		cfg.BinanceConfig.APIKey = creds.APIKey
		cfg.BinanceConfig.SecretKey = creds.SecretKey
		logger.Info().Msg("Exchange credentials loaded from vault")
	}

	client, err := newExchange(ctx, cfg.BinanceConfig, cfg.GridConfig, collector, logger)
	if err != nil {
		return err
	}

	checks := map[string]api.HealthCheck{"vault": secrets.HealthCheck}

	// Ledger persistence: redis when enabled, memory otherwise
	var (
		store       ledger.Store = ledger.NewMemoryStore()
		redisStore  *database.RedisLedgerStore
		redisClient *redis.Client
	)
	if cfg.RedisConfig.Enabled {
		redisClient, err = database.NewRedisClient(ctx, cfg.RedisConfig, logger)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		redisStore = database.NewRedisLedgerStore(redisClient, cfg.RedisConfig.KeyPrefix, logger)
		store = redisStore
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	} else {
		logger.Warn().Msg("Redis disabled, positions will not survive a restart")
	}

	// Settlement audit: postgres when enabled, log otherwise
	var (
		audit       order.AuditSink = order.NewLogAudit(logger)
		settlements *database.AuditRepository
	)
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(ctx, cfg.DatabaseConfig, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			return err
		}
		settlements = database.NewAuditRepository(db)
		audit = settlements
		checks["postgres"] = db.HealthCheck
	}

	l := ledger.New(store, logger)
	if err := l.Load(ctx); err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	gateway := order.NewGateway(client, l, logger,
		order.WithAudit(audit),
		order.WithEvents(bus),
		order.WithMetrics(collector),
	)

	notifier := notification.NewManager(cfg.NotificationConfig.Enabled, logger)
	notifier.AddNotifier(notification.NewLogNotifier(logger))
	notifier.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
		BotToken: cfg.NotificationConfig.Telegram.BotToken,
		ChatID:   cfg.NotificationConfig.Telegram.ChatID,
		Enabled:  cfg.NotificationConfig.Telegram.Enabled,
	}))
	notifier.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
		WebhookURL: cfg.NotificationConfig.Discord.WebhookURL,
		Enabled:    cfg.NotificationConfig.Discord.Enabled,
	}))
	notifier.Follow(bus)

	symbolLogs := logging.NewSymbolLoggers(logger, cfg.LoggingConfig.SymbolDir, cfg.LoggingConfig.MaxSizeMB, cfg.LoggingConfig.MaxBackups)
	defer symbolLogs.Close()

	opts := []bot.Option{
		bot.WithNotifier(notifier),
		bot.WithEvents(bus),
		bot.WithMetrics(collector),
		bot.WithSymbolLoggers(symbolLogs),
	}
	if redisStore != nil {
		opts = append(opts, bot.WithSnapshots(redisStore))
	}
	gridBot := bot.NewGridBot(ctx, bot.TrackerConfigFrom(cfg.GridConfig), client, l, gateway, logger, opts...)

	dispatcher := command.NewDispatcher(gridBot, cfg.RelayConfig.Password, bus, logger)

	g, gctx := errgroup.WithContext(ctx)
	var broadcasters command.Broadcasters

	if cfg.RelayConfig.Enabled {
		if redisClient == nil {
			return errors.New("command relay requires redis")
		}
		relay := database.NewRedisRelay(redisClient, cfg.RelayConfig, logger)
		broadcasters = append(broadcasters, relay)
		g.Go(func() error { return relay.Run(gctx, dispatcher.DispatchText) })
	}

	if cfg.TelegramBotConfig.Enabled {
		tg, err := telegram.New(cfg.TelegramBotConfig, dispatcher, cfg.GridConfig.DefaultQuote, logger)
		if err != nil {
			return err
		}
		notifier.AddNotifier(tg)
		broadcasters = append(broadcasters, tg)
		g.Go(func() error { return tg.Run(gctx) })
	}

	if len(broadcasters) > 0 {
		dispatcher.ForwardDecisions(gctx, bus, broadcasters)
	}

	if cfg.ServerConfig.Enabled {
		deps := api.Deps{
			Positions:  gridBot,
			Dispatcher: dispatcher,
			Bus:        bus,
			Checks:     checks,
		}
		if cfg.AuthConfig.Enabled {
			deps.Auth = auth.NewService(cfg.AuthConfig, logger)
		}
		if collector != nil {
			deps.Metrics = collector.Handler()
			deps.MetricsPath = cfg.MetricsConfig.Path
		}
		if settlements != nil {
			deps.Settlements = settlements
		}
		if redisStore != nil {
			deps.Decisions = redisStore
		}
		server := api.NewServer(cfg.ServerConfig, deps, logger)
		g.Go(func() error { return server.Run(gctx) })
	} else if collector != nil {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsConfig, collector.Handler(), logger) })
	}

	if err := gridBot.Start(gctx); err != nil {
		logger.Warn().Err(err).Msg("Some positions could not resume tracking")
	}

	g.Go(func() error {
		<-gctx.Done()
		gridBot.Shutdown()
		return nil
	})

	return g.Wait()
}

// newExchange builds the live client, or the in-memory mock in mock mode
func newExchange(ctx context.Context, bc config.BinanceConfig, gc config.GridConfig, collector *metrics.Collector, logger zerolog.Logger) (binance.ExchangeClient, error) {
	if bc.MockMode {
		logger.Warn().Msg("Mock mode enabled, orders fill against a simulated exchange")
		return binance.NewMockClient(), nil
	}
	if bc.APIKey == "" || bc.SecretKey == "" {
		return nil, errors.New("binance api key and secret key are required outside mock mode")
	}

	client := binance.NewClient(bc.APIKey, bc.SecretKey, bc.BaseURL,
		binance.WithLogger(logger),
		binance.WithRateLimiter(binance.NewRateLimiter(bc.RequestsPerSecond, logger)),
		binance.WithRetries(bc.MaxRetries),
		binance.WithRecvWindow(bc.RecvWindow),
		binance.WithPrecisionRefresh(gc.PrecisionRefresh),
		binance.WithObserver(collector.ObserveExchange),
	)
	if err := client.SyncTime(ctx); err != nil {
		logger.Warn().Err(err).Msg("Server time sync failed, using local clock")
	}
	if err := client.LoadExchangeInfo(ctx); err != nil {
		return nil, fmt.Errorf("load exchange info: %w", err)
	}
	logger.Info().Str("base_url", bc.BaseURL).Bool("testnet", bc.TestNet).Msg("Connected to Binance")
	return client, nil
}

// serveMetrics exposes /metrics on its own listener when the API is off
func serveMetrics(ctx context.Context, cfg config.MetricsConfig, h http.Handler, logger zerolog.Logger) error {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, h)
	srv := &http.Server{Addr: ":9090", Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	logger.Info().Str("addr", srv.Addr).Str("path", path).Msg("Metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
