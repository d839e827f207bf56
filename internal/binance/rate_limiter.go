package binance

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ==================== PRIORITY TYPES ====================

// RequestPriority defines priority levels for API requests
type RequestPriority int

const (
	// PriorityCritical - order placement, uses up to 95% of weight budget
	PriorityCritical RequestPriority = iota

	// PriorityHigh - order status and balances, up to 80%
	PriorityHigh

	// PriorityNormal - candles and tickers, up to 60%
	PriorityNormal

	// PriorityLow - exchange info refresh, up to 40%
	PriorityLow
)

// String returns a human-readable priority name
func (p RequestPriority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// AcquireResult represents the result of a non-blocking TryAcquire attempt
type AcquireResult struct {
	Acquired     bool
	WaitTime     time.Duration
	Reason       string
	CurrentUsage float64 // percent of maxWeight
}

// ==================== RATE LIMITER ====================

// RateLimiter tracks request weight per minute, opens a circuit on 429/418
// responses, and paces calls through a token bucket.
type RateLimiter struct {
	mu sync.RWMutex

	circuitOpen bool
	banUntil    time.Time

	currentWeight int
	weightResetAt time.Time
	maxWeight     int

	consecutiveErrors int

	pacer  *rate.Limiter
	logger zerolog.Logger
}

// Endpoint weights for the Binance spot API
var endpointWeights = map[string]int{
	"/api/v3/order":        2,
	"/api/v3/account":      20,
	"/api/v3/myTrades":     20,
	"/api/v3/klines":       2,
	"/api/v3/ticker/price": 2,
	"/api/v3/exchangeInfo": 20,
	"/api/v3/time":         1,
}

// NewRateLimiter creates a limiter allowing requestsPerSecond sustained calls
func NewRateLimiter(requestsPerSecond float64, logger zerolog.Logger) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	return &RateLimiter{
		maxWeight:     6000, // spot REQUEST_WEIGHT per minute
		weightResetAt: time.Now().Add(time.Minute),
		pacer:         rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
		logger:        logger.With().Str("component", "RateLimiter").Logger(),
	}
}

// Wait blocks until the endpoint may be called at the given priority or ctx ends
func (r *RateLimiter) Wait(ctx context.Context, endpoint string, priority RequestPriority) error {
	for {
		res := r.TryAcquire(endpoint, priority)
		if res.Acquired {
			return r.pacer.Wait(ctx)
		}
		if res.Reason == "circuit_breaker_open" {
			return fmt.Errorf("%w: retry in %s", ErrRateLimited, res.WaitTime.Round(time.Second))
		}
		wait := res.WaitTime
		if wait > 5*time.Second {
			wait = 5 * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// TryAcquire atomically checks the budget for priority and records the weight
func (r *RateLimiter) TryAcquire(endpoint string, priority RequestPriority) AcquireResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.After(r.weightResetAt) {
		r.currentWeight = 0
		r.weightResetAt = now.Add(time.Minute)
	}

	if r.circuitOpen && now.Before(r.banUntil) {
		return AcquireResult{
			WaitTime:     time.Until(r.banUntil),
			Reason:       "circuit_breaker_open",
			CurrentUsage: 100,
		}
	}
	if r.circuitOpen {
		r.circuitOpen = false
		r.logger.Info().Msg("circuit breaker auto-closed (ban expired)")
	}

	weight := getEndpointWeight(endpoint)
	threshold := int(float64(r.maxWeight) * thresholdForPriority(priority))
	if r.currentWeight+weight > threshold {
		wait := time.Until(r.weightResetAt)
		if wait < 0 {
			wait = 100 * time.Millisecond
		}
		return AcquireResult{
			WaitTime:     wait,
			Reason:       fmt.Sprintf("weight_limit_exceeded_for_%s_priority", priority),
			CurrentUsage: r.usage(),
		}
	}

	r.currentWeight += weight
	r.consecutiveErrors = 0
	return AcquireResult{Acquired: true, CurrentUsage: r.usage()}
}

func thresholdForPriority(priority RequestPriority) float64 {
	switch priority {
	case PriorityCritical:
		return 0.95
	case PriorityHigh:
		return 0.80
	case PriorityNormal:
		return 0.60
	case PriorityLow:
		return 0.40
	default:
		return 0.50
	}
}

func (r *RateLimiter) usage() float64 {
	return float64(r.currentWeight) / float64(r.maxWeight) * 100
}

// RecordRateLimitError opens the circuit until banUntilMs, or with
// exponential backoff when the exchange gave no timestamp
func (r *RateLimiter) RecordRateLimitError(banUntilMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutiveErrors++

	var banUntil time.Time
	if banUntilMs > 0 {
		banUntil = time.UnixMilli(banUntilMs)
	} else {
		backoff := time.Duration(1<<uint(r.consecutiveErrors)) * time.Minute
		if backoff > 30*time.Minute {
			backoff = 30 * time.Minute
		}
		banUntil = time.Now().Add(backoff)
	}

	r.circuitOpen = true
	r.banUntil = banUntil

	r.logger.Warn().
		Time("ban_until", banUntil).
		Int("consecutive_errors", r.consecutiveErrors).
		Msg("CIRCUIT BREAKER OPEN")
}

// IsCircuitOpen returns true while a ban is in effect
func (r *RateLimiter) IsCircuitOpen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.circuitOpen && time.Now().Before(r.banUntil)
}

// UpdateFromHeaders adopts the exchange-reported weight when it is higher
func (r *RateLimiter) UpdateFromHeaders(usedWeight1m int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if usedWeight1m > r.currentWeight {
		r.currentWeight = usedWeight1m
	}
	if pct := r.usage(); pct > 60 {
		r.logger.Warn().Int("weight", r.currentWeight).Int("max", r.maxWeight).Float64("pct", pct).Msg("weight usage high")
	}
}

// RateLimiterStatus is a point-in-time view of the limiter
type RateLimiterStatus struct {
	CircuitOpen       bool      `json:"circuit_open"`
	CurrentWeight     int       `json:"current_weight"`
	MaxWeight         int       `json:"max_weight"`
	UsagePct          float64   `json:"weight_usage_pct"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	BanUntil          time.Time `json:"ban_until,omitempty"`
}

// GetStatus returns the current rate limiter status
func (r *RateLimiter) GetStatus() RateLimiterStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := RateLimiterStatus{
		CircuitOpen:       r.circuitOpen,
		CurrentWeight:     r.currentWeight,
		MaxWeight:         r.maxWeight,
		UsagePct:          r.usage(),
		ConsecutiveErrors: r.consecutiveErrors,
	}
	if r.circuitOpen {
		s.BanUntil = r.banUntil
	}
	return s
}

var banTimestamp = regexp.MustCompile(`\d{13}`)

func getEndpointWeight(endpoint string) int {
	if weight, ok := endpointWeights[endpoint]; ok {
		return weight
	}
	return 1
}

// ParseBanUntilFromError extracts the ban timestamp from an exchange message
// such as "IP banned until 1766824120342".
func ParseBanUntilFromError(errMsg string) int64 {
	m := banTimestamp.FindString(errMsg)
	if m == "" {
		return 0
	}
	banUntil, err := strconv.ParseInt(m, 10, 64)
	if err != nil {
		return 0
	}
	if banUntil > time.Now().UnixMilli() && banUntil < time.Now().Add(24*time.Hour).UnixMilli() {
		return banUntil
	}
	return 0
}
