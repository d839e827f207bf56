package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ============================================================================
// TEST CASES: LOADING
// ============================================================================

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("GRID_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected defaults to validate, got %v", err)
	}
	g := cfg.GridConfig
	if g.RSIHigh != 60 || g.RSILow != 40 || g.Interval != "4h" || g.MaxLoss != 0.06 {
		t.Errorf("Unexpected grid defaults %+v", g)
	}
	if !g.EarlyStopLoss || !cfg.MetricsConfig.Enabled || !cfg.ServerConfig.Enabled {
		t.Error("Expected default-on switches to be on")
	}
	if cfg.RelayConfig.RequestKey != "grid:relay:applicate" || cfg.RelayConfig.BlockTimeout != 5*time.Second {
		t.Errorf("Unexpected relay defaults %+v", cfg.RelayConfig)
	}
	if cfg.BinanceConfig.BaseURL != "https://api.binance.com" {
		t.Errorf("Unexpected base url %s", cfg.BinanceConfig.BaseURL)
	}
}

func TestFileValuesAndEnvOverrides(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"binance": {"testnet": true},
		"grid": {"rsi_high": 70, "rsi_low": 30, "interval": "1h", "max_loss": 0.1, "early_stop_loss": false},
		"metrics": {"enabled": false}
	}`
	if err := os.WriteFile(file, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GRID_CONFIG", file)
	t.Setenv("GRID_RSI_HIGH", "65")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if cfg.GridConfig.RSIHigh != 65 {
		t.Errorf("Expected env to win, got %.0f", cfg.GridConfig.RSIHigh)
	}
	if cfg.GridConfig.RSILow != 30 || cfg.GridConfig.Interval != "1h" {
		t.Errorf("Expected file values, got %+v", cfg.GridConfig)
	}
	if cfg.GridConfig.EarlyStopLoss || cfg.MetricsConfig.Enabled {
		t.Error("Expected switches turned off in file to stay off")
	}
	if cfg.BinanceConfig.BaseURL != "https://testnet.binance.vision" {
		t.Errorf("Expected testnet url, got %s", cfg.BinanceConfig.BaseURL)
	}
}

// ============================================================================
// TEST CASES: VALIDATION
// ============================================================================

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{GridConfig: GridConfig{RSIHigh: 60, RSILow: 40, Interval: "4h", MaxLoss: 0.06}}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"high below 50", func(c *Config) { c.GridConfig.RSIHigh = 45 }, true},
		{"low above 50", func(c *Config) { c.GridConfig.RSILow = 55 }, true},
		{"max loss too large", func(c *Config) { c.GridConfig.MaxLoss = 1 }, true},
		{"unsupported interval", func(c *Config) { c.GridConfig.Interval = "1d" }, true},
		{"auth without secret", func(c *Config) { c.AuthConfig.Enabled = true }, true},
		{"auth with secret", func(c *Config) { c.AuthConfig = AuthConfig{Enabled: true, JWTSecret: "s"} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateSampleConfigLoads(t *testing.T) {
	file := filepath.Join(t.TempDir(), "sample.json")
	if err := GenerateSampleConfig(file); err != nil {
		t.Fatalf("GenerateSampleConfig failed: %v", err)
	}
	cfg, err := loadFromFile(file)
	if err != nil {
		t.Fatalf("Expected sample to parse, got %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected sample to validate, got %v", err)
	}
}
