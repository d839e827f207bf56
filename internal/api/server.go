package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"grid-trading-bot/config"
	"grid-trading-bot/internal/auth"
	"grid-trading-bot/internal/bot"
	"grid-trading-bot/internal/command"
	"grid-trading-bot/internal/database"
	"grid-trading-bot/internal/events"
)

// RateLimiter provides simple in-memory rate limiting per key
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// PositionSource lists tracked positions
type PositionSource interface {
	Positions() []bot.PositionView
}

// SettlementReader reads audit rows
type SettlementReader interface {
	GetSettlements(ctx context.Context, symbol string, limit int) ([]database.Settlement, error)
	RealizedPnL(ctx context.Context) (map[string]float64, error)
}

// DecisionReader returns the latest stored decision of a symbol
type DecisionReader interface {
	LastDecision(ctx context.Context, symbol string) (json.RawMessage, error)
}

// HealthCheck reports the state of one dependency
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators the server exposes
type Deps struct {
	Positions   PositionSource
	Dispatcher  *command.Dispatcher
	Bus         *events.EventBus
	Auth        *auth.Service // nil disables authentication
	Metrics     http.Handler  // nil disables /metrics
	MetricsPath string
	Settlements SettlementReader // nil when the database is disabled
	Decisions   DecisionReader   // nil without redis
	Checks      map[string]HealthCheck
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	deps        Deps
	config      config.ServerConfig
	hub         *WSHub
	rateLimiter *RateLimiter
	started     time.Time
	logger      zerolog.Logger
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Deps, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = splitOrigins(cfg.AllowedOrigins)
	if len(corsConfig.AllowOrigins) == 0 || corsConfig.AllowOrigins[0] == "*" {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	if deps.MetricsPath == "" {
		deps.MetricsPath = "/metrics"
	}

	s := &Server{
		router:      router,
		deps:        deps,
		config:      cfg,
		hub:         NewWSHub(logger),
		rateLimiter: NewRateLimiter(60, time.Minute), // commands reach the exchange
		started:     time.Now(),
		logger:      logger.With().Str("component", "API").Logger(),
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, used by tests
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.router.GET(s.deps.MetricsPath, gin.WrapH(s.deps.Metrics))
	}

	s.router.GET("/api/auth/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"auth_enabled": s.deps.Auth != nil})
	})

	protected := s.router.Group("/api")
	if s.deps.Auth != nil {
		authHandlers := auth.NewHandlers(s.deps.Auth)
		s.router.POST("/api/auth/login", authHandlers.Login)
		protected.Use(auth.Middleware(s.deps.Auth.JWT()))
		protected.GET("/auth/me", authHandlers.Me)
	}

	protected.GET("/positions", s.handlePositions)
	protected.POST("/commands", s.rateLimitMiddleware(), s.handleCommand)
	protected.GET("/settlements", s.handleSettlements)
	protected.GET("/pnl", s.handlePnL)
	protected.GET("/decisions/:symbol", s.handleDecision)
	protected.GET("/ws", s.handleWebSocket)
}

// rateLimitMiddleware limits requests per operator
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := s.operator(c)
		if !s.rateLimiter.Allow(key) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Rate limit exceeded",
				"message": "Too many commands, slow down to protect the exchange rate limit.",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Run starts the hub and serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	if s.deps.Bus != nil {
		s.deps.Bus.SubscribeAll(s.hub.BroadcastEvent)
	}
	go s.hub.Run(ctx)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("API server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := time.Duration(s.config.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) operator(c *gin.Context) string {
	if s.deps.Auth == nil {
		return auth.DefaultOperator
	}
	if op := auth.GetOperator(c); op != "" {
		return op
	}
	return auth.DefaultOperator
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "HTTP").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request")
	}
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
