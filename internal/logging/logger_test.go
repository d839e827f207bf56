package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// ===== TEST CASES: LEVELS =====

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"ERROR":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

// ===== TEST CASES: CONTEXT =====

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("invalid log line %q: %v", buf.String(), err)
	}
	return m
}

func TestCommandContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := CommandContext(zerolog.New(&buf), "execute", "tg:42")
	l.Info().Msg("x")

	m := decode(t, &buf)
	if m["verb"] != "execute" || m["player"] != "tg:42" || m["component"] != "command" {
		t.Errorf("Unexpected fields %v", m)
	}
}

func TestOrderContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := OrderContext(zerolog.New(&buf), 1001, "BTCUSDT", "BUY")
	l.Info().Msg("x")

	m := decode(t, &buf)
	if m["order_id"] != float64(1001) || m["symbol"] != "BTCUSDT" || m["side"] != "BUY" {
		t.Errorf("Unexpected fields %v", m)
	}
}

func TestTraceContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ctx := NewContext(context.Background(), zerolog.New(&buf))
	ctx, _ = WithTraceContext(ctx)

	l := FromContext(ctx)
	l.Info().Msg("traced")
	m := decode(t, &buf)
	if id, _ := m["trace_id"].(string); len(id) != 36 {
		t.Errorf("Expected a uuid trace id, got %v", m["trace_id"])
	}
}

// ===== TEST CASES: SYMBOL LOGS =====

func TestSymbolLoggersWriteFiles(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	s := NewSymbolLoggers(zerolog.New(&buf), dir, 1, 1)

	l := s.For("ETH/USDT")
	l.Info().Msg("bought")
	if again := s.For("ETH/USDT"); again.GetLevel() != l.GetLevel() {
		t.Error("Expected the cached logger")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if !strings.Contains(buf.String(), `"symbol":"ETH/USDT"`) {
		t.Errorf("Expected base logger line, got %q", buf.String())
	}
	data, err := os.ReadFile(filepath.Join(dir, "ETHUSDT.log"))
	if err != nil {
		t.Fatalf("Expected symbol file: %v", err)
	}
	if !strings.Contains(string(data), "bought") {
		t.Errorf("Expected message in symbol file, got %q", data)
	}
}

func TestSymbolLoggersWithoutDir(t *testing.T) {
	var buf bytes.Buffer
	s := NewSymbolLoggers(zerolog.New(&buf), "", 0, 0)
	l := s.For("BTCUSDT")
	l.Warn().Msg("slow")
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !strings.Contains(buf.String(), "slow") {
		t.Errorf("Expected base logger line, got %q", buf.String())
	}
}
