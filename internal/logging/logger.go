package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration
type Config struct {
	Level       string `json:"level"`
	Output      string `json:"output"` // "stdout", "stderr", or file path
	Component   string `json:"component"`
	IncludeFile bool   `json:"include_file"` // Include file and line number
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	MaxSizeMB   int    `json:"max_size_mb"`
	MaxBackups  int    `json:"max_backups"`
}

var (
	defaultLogger zerolog.Logger
	defaultMu     sync.RWMutex
	once          sync.Once
)

// ParseLevel converts a string to a zerolog level, INFO when unknown
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates a new logger with the given configuration
func New(cfg *Config) zerolog.Logger {
	out := newWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups)
	if !cfg.JSONFormat {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: cfg.Output != "" && cfg.Output != "stdout" && cfg.Output != "stderr"}
	}

	ctx := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	if cfg.IncludeFile {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

func newWriter(output string, maxSize, maxBackups int) io.Writer {
	switch output {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	}
	if dir := filepath.Dir(output); dir != "." {
		_ = os.MkdirAll(dir, 0755)
	}
	return &lumberjack.Logger{
		Filename:   output,
		MaxSize:    orDefault(maxSize, 50),
		MaxBackups: orDefault(maxBackups, 5),
		Compress:   true,
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Default returns the default logger instance
func Default() zerolog.Logger {
	once.Do(func() {
		defaultMu.Lock()
		defaultLogger = New(&Config{Level: "INFO", Output: "stdout", Component: "app", JSONFormat: true})
		defaultMu.Unlock()
	})
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l zerolog.Logger) {
	once.Do(func() {})
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// WithComponent returns a child of l tagged with the component name
func WithComponent(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}

// ============================================================================
// PER-SYMBOL TRADE LOGS
// ============================================================================

// SymbolLoggers hands out one logger per trading pair. Each writes to the
// base logger and, when a directory is configured, to <dir>/<SYMBOL>.log.
type SymbolLoggers struct {
	mu         sync.Mutex
	base       zerolog.Logger
	dir        string
	maxSize    int
	maxBackups int
	loggers    map[string]zerolog.Logger
	files      map[string]*lumberjack.Logger
}

// NewSymbolLoggers creates a SymbolLoggers. An empty dir disables the files.
func NewSymbolLoggers(base zerolog.Logger, dir string, maxSize, maxBackups int) *SymbolLoggers {
	if dir != "" {
		_ = os.MkdirAll(dir, 0755)
	}
	return &SymbolLoggers{
		base:       base,
		dir:        dir,
		maxSize:    maxSize,
		maxBackups: maxBackups,
		loggers:    make(map[string]zerolog.Logger),
		files:      make(map[string]*lumberjack.Logger),
	}
}

// For returns the logger for symbol, creating it on first use.
func (s *SymbolLoggers) For(symbol string) zerolog.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.loggers[symbol]; ok {
		return l
	}

	var l zerolog.Logger
	if s.dir == "" {
		l = WithSymbol(s.base, symbol)
	} else {
		file := &lumberjack.Logger{
			Filename:   filepath.Join(s.dir, strings.ReplaceAll(symbol, "/", "")+".log"),
			MaxSize:    orDefault(s.maxSize, 10),
			MaxBackups: orDefault(s.maxBackups, 3),
		}
		s.files[symbol] = file
		fileLogger := zerolog.New(file).With().Timestamp().Str("symbol", symbol).Logger()
		l = WithSymbol(s.base, symbol).Hook(teeHook{file: fileLogger})
	}
	s.loggers[symbol] = l
	return l
}

// Close flushes and closes every per-symbol file.
func (s *SymbolLoggers) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for symbol, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, symbol)
		delete(s.loggers, symbol)
	}
	return firstErr
}

// teeHook repeats the event message into the per-symbol file.
type teeHook struct {
	file zerolog.Logger
}

func (h teeHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	h.file.WithLevel(level).Msg(msg)
}
