package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	BinanceConfig      BinanceConfig      `json:"binance"`
	GridConfig         GridConfig         `json:"grid"`
	NotificationConfig NotificationConfig `json:"notification"`
	TelegramBotConfig  TelegramBotConfig  `json:"telegram_bot"`
	RelayConfig        RelayConfig        `json:"relay"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	MetricsConfig      MetricsConfig      `json:"metrics"`
	ServerConfig       ServerConfig       `json:"server"`
	AuthConfig         AuthConfig         `json:"auth"`
	VaultConfig        VaultConfig        `json:"vault"`
	RedisConfig        RedisConfig        `json:"redis"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
	MaxSizeMB   int    `json:"max_size_mb"`  // Rotation size for file output
	MaxBackups  int    `json:"max_backups"`
	SymbolDir   string `json:"symbol_dir"` // Per-symbol trade logs, empty disables
}

type BinanceConfig struct {
	APIKey            string  `json:"api_key"`
	SecretKey         string  `json:"secret_key"`
	BaseURL           string  `json:"base_url"`
	TestNet           bool    `json:"testnet"`
	MockMode          bool    `json:"mock_mode"` // Simulated exchange, orders fill locally
	RecvWindow        int     `json:"recv_window"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	MaxRetries        int     `json:"max_retries"`
}

// GridConfig holds the default thresholds applied to every tracked pair
// unless a pair carries its own RSI settings.
type GridConfig struct {
	RSIHigh          float64       `json:"rsi_high"`
	RSILow           float64       `json:"rsi_low"`
	Interval         string        `json:"interval"`
	MaxLoss          float64       `json:"max_loss"`
	MinProfit        float64       `json:"min_profit"`
	SeriesWindow     int           `json:"series_window"`
	PollInterval     time.Duration `json:"poll_interval"`
	CalmMultiplier   float64       `json:"calm_multiplier"`
	GazeDivisor      float64       `json:"gaze_divisor"`
	EarlyStopLoss    bool          `json:"early_stop_loss"`
	DefaultQuote     string        `json:"default_quote"`
	PrecisionRefresh time.Duration `json:"precision_refresh"`
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// TelegramBotConfig configures the interactive command bot, separate from
// the one-way webhook notifier above.
type TelegramBotConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	Password string `json:"password"`
	Debug    bool   `json:"debug"`
}

// RelayConfig configures the Redis command relay used by remote operators.
type RelayConfig struct {
	Enabled      bool          `json:"enabled"`
	Password     string        `json:"password"`
	RequestKey   string        `json:"request_key"`
	BroadcastKey string        `json:"broadcast_key"`
	BlockTimeout time.Duration `json:"block_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`  // CORS allowed origins
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// AuthConfig holds operator authentication configuration
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	PasswordHash        string        `json:"password_hash"` // bcrypt hash of the operator password
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV secrets engine mount path
	SecretPath string `json:"secret_path"` // Path of the exchange credentials
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// RedisConfig holds Redis configuration for the ledger snapshot and command relay
type RedisConfig struct {
	Enabled   bool   `json:"enabled"`
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	PoolSize  int    `json:"pool_size"`
	KeyPrefix string `json:"key_prefix"`
}

// DatabaseConfig holds PostgreSQL configuration for the settlement audit
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// Load reads .env, then config.json (or GRID_CONFIG), then applies
// environment overrides.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := loadFromFile(getEnvOrDefault("GRID_CONFIG", "config.json"))
	if err != nil {
		// If no config file, start from the switches that default on
		cfg = &Config{
			GridConfig:    GridConfig{EarlyStopLoss: true},
			MetricsConfig: MetricsConfig{Enabled: true},
			ServerConfig:  ServerConfig{Enabled: true},
		}
	}

	// Environment variables take precedence
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var supportedIntervals = map[string]bool{"5m": true, "15m": true, "30m": true, "1h": true, "4h": true}

// Validate rejects threshold combinations the tracker cannot use.
func (c *Config) Validate() error {
	g := c.GridConfig
	if g.RSIHigh < 50 || g.RSILow > 50 || g.RSIHigh < g.RSILow {
		return fmt.Errorf("invalid grid rsi thresholds high=%.1f low=%.1f", g.RSIHigh, g.RSILow)
	}
	if g.MaxLoss <= 0 || g.MaxLoss >= 1 {
		return fmt.Errorf("invalid grid max loss %.4f", g.MaxLoss)
	}
	if !supportedIntervals[g.Interval] {
		return fmt.Errorf("unsupported grid interval %q", g.Interval)
	}
	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return errors.New("auth enabled without a jwt secret")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Values already present in the file serve as the defaults.
func applyEnvOverrides(cfg *Config) {
	// Binance config
	cfg.BinanceConfig.APIKey = getEnvOrDefault("BINANCE_API_KEY", cfg.BinanceConfig.APIKey)
	cfg.BinanceConfig.SecretKey = getEnvOrDefault("BINANCE_SECRET_KEY", cfg.BinanceConfig.SecretKey)
	cfg.BinanceConfig.BaseURL = getEnvOrDefault("BINANCE_BASE_URL", cfg.BinanceConfig.BaseURL)
	cfg.BinanceConfig.TestNet = getEnvBoolOrDefault("BINANCE_TESTNET", cfg.BinanceConfig.TestNet)
	if cfg.BinanceConfig.BaseURL == "" {
		cfg.BinanceConfig.BaseURL = "https://api.binance.com"
		if cfg.BinanceConfig.TestNet {
			cfg.BinanceConfig.BaseURL = "https://testnet.binance.vision"
		}
	}
	cfg.BinanceConfig.MockMode = getEnvBoolOrDefault("MOCK_MODE", cfg.BinanceConfig.MockMode)
	cfg.BinanceConfig.RecvWindow = getEnvIntOrDefault("BINANCE_RECV_WINDOW", orInt(cfg.BinanceConfig.RecvWindow, 5000))
	cfg.BinanceConfig.RequestsPerSecond = getEnvFloatOrDefault("BINANCE_REQUESTS_PER_SECOND", orFloat(cfg.BinanceConfig.RequestsPerSecond, 10))
	cfg.BinanceConfig.MaxRetries = getEnvIntOrDefault("BINANCE_MAX_RETRIES", orInt(cfg.BinanceConfig.MaxRetries, 3))

	// Grid config
	cfg.GridConfig.RSIHigh = getEnvFloatOrDefault("GRID_RSI_HIGH", orFloat(cfg.GridConfig.RSIHigh, 60))
	cfg.GridConfig.RSILow = getEnvFloatOrDefault("GRID_RSI_LOW", orFloat(cfg.GridConfig.RSILow, 40))
	cfg.GridConfig.Interval = getEnvOrDefault("GRID_INTERVAL", orString(cfg.GridConfig.Interval, "4h"))
	cfg.GridConfig.MaxLoss = getEnvFloatOrDefault("GRID_MAX_LOSS", orFloat(cfg.GridConfig.MaxLoss, 0.06))
	cfg.GridConfig.MinProfit = getEnvFloatOrDefault("GRID_MIN_PROFIT", orFloat(cfg.GridConfig.MinProfit, 0.05))
	cfg.GridConfig.SeriesWindow = getEnvIntOrDefault("GRID_SERIES_WINDOW", orInt(cfg.GridConfig.SeriesWindow, 100))
	cfg.GridConfig.PollInterval = getEnvDurationOrDefault("GRID_POLL_INTERVAL", orDuration(cfg.GridConfig.PollInterval, time.Minute))
	cfg.GridConfig.CalmMultiplier = getEnvFloatOrDefault("GRID_CALM_MULTIPLIER", orFloat(cfg.GridConfig.CalmMultiplier, 5))
	cfg.GridConfig.GazeDivisor = getEnvFloatOrDefault("GRID_GAZE_DIVISOR", orFloat(cfg.GridConfig.GazeDivisor, 5))
	cfg.GridConfig.EarlyStopLoss = getEnvBoolOrDefault("GRID_EARLY_STOP_LOSS", cfg.GridConfig.EarlyStopLoss)
	cfg.GridConfig.DefaultQuote = getEnvOrDefault("GRID_DEFAULT_QUOTE", orString(cfg.GridConfig.DefaultQuote, "USDT"))
	cfg.GridConfig.PrecisionRefresh = getEnvDurationOrDefault("GRID_PRECISION_REFRESH", orDuration(cfg.GridConfig.PrecisionRefresh, 24*time.Hour))

	// Notification config
	cfg.NotificationConfig.Enabled = getEnvBoolOrDefault("NOTIFICATIONS_ENABLED", cfg.NotificationConfig.Enabled)
	cfg.NotificationConfig.Telegram.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", cfg.NotificationConfig.Telegram.Enabled)
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvBoolOrDefault("DISCORD_ENABLED", cfg.NotificationConfig.Discord.Enabled)
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)

	// Command bot
	cfg.TelegramBotConfig.Enabled = getEnvBoolOrDefault("TELEGRAM_BOT_ENABLED", cfg.TelegramBotConfig.Enabled)
	cfg.TelegramBotConfig.BotToken = getEnvOrDefault("TELEGRAM_BOT_COMMAND_TOKEN", cfg.TelegramBotConfig.BotToken)
	cfg.TelegramBotConfig.Password = getEnvOrDefault("TELEGRAM_BOT_PASSWORD", cfg.TelegramBotConfig.Password)
	cfg.TelegramBotConfig.Debug = getEnvBoolOrDefault("TELEGRAM_BOT_DEBUG", cfg.TelegramBotConfig.Debug)

	// Relay config
	cfg.RelayConfig.Enabled = getEnvBoolOrDefault("RELAY_ENABLED", cfg.RelayConfig.Enabled)
	cfg.RelayConfig.Password = getEnvOrDefault("RELAY_PASSWORD", cfg.RelayConfig.Password)
	cfg.RelayConfig.RequestKey = getEnvOrDefault("RELAY_REQUEST_KEY", orString(cfg.RelayConfig.RequestKey, "grid:relay:applicate"))
	cfg.RelayConfig.BroadcastKey = getEnvOrDefault("RELAY_BROADCAST_KEY", orString(cfg.RelayConfig.BroadcastKey, "grid:relay:broadcast"))
	cfg.RelayConfig.BlockTimeout = getEnvDurationOrDefault("RELAY_BLOCK_TIMEOUT", orDuration(cfg.RelayConfig.BlockTimeout, 5*time.Second))

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", orString(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", orString(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)
	cfg.LoggingConfig.MaxSizeMB = getEnvIntOrDefault("LOG_MAX_SIZE_MB", orInt(cfg.LoggingConfig.MaxSizeMB, 50))
	cfg.LoggingConfig.MaxBackups = getEnvIntOrDefault("LOG_MAX_BACKUPS", orInt(cfg.LoggingConfig.MaxBackups, 5))
	cfg.LoggingConfig.SymbolDir = getEnvOrDefault("LOG_SYMBOL_DIR", cfg.LoggingConfig.SymbolDir)

	// Metrics config
	cfg.MetricsConfig.Enabled = getEnvBoolOrDefault("METRICS_ENABLED", cfg.MetricsConfig.Enabled)
	cfg.MetricsConfig.Path = getEnvOrDefault("METRICS_PATH", orString(cfg.MetricsConfig.Path, "/metrics"))

	// Server config
	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("WEB_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", orInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", orString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", orString(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", orInt(cfg.ServerConfig.ReadTimeout, 15))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", orInt(cfg.ServerConfig.WriteTimeout, 15))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", orInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Auth config
	cfg.AuthConfig.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.AuthConfig.Enabled)
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", orDuration(cfg.AuthConfig.AccessTokenDuration, 12*time.Hour))
	cfg.AuthConfig.PasswordHash = getEnvOrDefault("AUTH_PASSWORD_HASH", cfg.AuthConfig.PasswordHash)

	// Vault config
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", orString(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", orString(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", orString(cfg.VaultConfig.SecretPath, "grid-trading-bot/binance"))
	cfg.VaultConfig.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.VaultConfig.TLSEnabled)
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CACERT", cfg.VaultConfig.CACert)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", orString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", orInt(cfg.RedisConfig.PoolSize, 10))
	cfg.RedisConfig.KeyPrefix = getEnvOrDefault("REDIS_KEY_PREFIX", orString(cfg.RedisConfig.KeyPrefix, "grid"))

	// Database config
	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", orString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", orInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", orString(cfg.DatabaseConfig.User, "grid_bot"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", orString(cfg.DatabaseConfig.Database, "grid_bot"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", orString(cfg.DatabaseConfig.SSLMode, "disable"))
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true"
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func orDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		BinanceConfig: BinanceConfig{
			APIKey:            "your_api_key_here",
			SecretKey:         "your_secret_key_here",
			BaseURL:           "https://api.binance.com",
			TestNet:           true,
			RecvWindow:        5000,
			RequestsPerSecond: 10,
			MaxRetries:        3,
		},
		GridConfig: GridConfig{
			RSIHigh:          60,
			RSILow:           40,
			Interval:         "4h",
			MaxLoss:          0.06,
			MinProfit:        0.05,
			SeriesWindow:     100,
			PollInterval:     time.Minute,
			CalmMultiplier:   5,
			GazeDivisor:      5,
			EarlyStopLoss:    true,
			DefaultQuote:     "USDT",
			PrecisionRefresh: 24 * time.Hour,
		},
		RelayConfig: RelayConfig{
			Enabled:      true,
			RequestKey:   "grid:relay:applicate",
			BroadcastKey: "grid:relay:broadcast",
			BlockTimeout: 5 * time.Second,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
			MaxSizeMB:  50,
			MaxBackups: 5,
			SymbolDir:  "logs/symbols",
		},
		MetricsConfig: MetricsConfig{Enabled: true, Path: "/metrics"},
		ServerConfig: ServerConfig{
			Enabled:         true,
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     15,
			WriteTimeout:    15,
			ShutdownTimeout: 10,
		},
		AuthConfig: AuthConfig{AccessTokenDuration: 12 * time.Hour},
		RedisConfig: RedisConfig{
			Enabled:   true,
			Address:   "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "grid",
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "grid_bot",
			Database: "grid_bot",
			SSLMode:  "disable",
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
