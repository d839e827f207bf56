package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"grid-trading-bot/internal/command"
	"grid-trading-bot/internal/ledger"
)

// PlayerPrefix marks players issuing commands over HTTP
const PlayerPrefix = "api:"

// CommandRequest is the JSON body of POST /api/commands
type CommandRequest struct {
	Verb     string  `json:"verb" binding:"required"`
	Base     string  `json:"base"`
	Quote    string  `json:"quote"`
	Funds    float64 `json:"funds"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Interval string  `json:"interval"`
	Gaze     bool    `json:"gaze"`
}

// ============================================================================
// HEALTH HANDLERS
// ============================================================================

// handleHealth reports process uptime and the state of each dependency
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{
		"status": state,
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"checks": checks,
	})
}

// ============================================================================
// POSITION HANDLERS
// ============================================================================

// handlePositions returns every tracked position with its task state
// GET /api/positions
func (s *Server) handlePositions(c *gin.Context) {
	if s.deps.Positions == nil {
		successResponse(c, []interface{}{})
		return
	}
	successResponse(c, s.deps.Positions.Positions())
}

// handleDecision returns the latest stored evaluation of a symbol
// GET /api/decisions/:symbol
func (s *Server) handleDecision(c *gin.Context) {
	if s.deps.Decisions == nil {
		errorResponse(c, http.StatusServiceUnavailable, "Decision history is not enabled")
		return
	}
	symbol := strings.ToUpper(c.Param("symbol"))
	raw, err := s.deps.Decisions.LastDecision(c.Request.Context(), symbol)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", symbol).Msg("Failed to load decision")
		errorResponse(c, http.StatusInternalServerError, "Failed to load decision")
		return
	}
	if raw == nil {
		errorResponse(c, http.StatusNotFound, "No decision for "+symbol)
		return
	}
	successResponse(c, raw)
}

// ============================================================================
// SETTLEMENT HANDLERS
// ============================================================================

// handleSettlements returns recent settled orders
// GET /api/settlements?symbol=BTCUSDT&limit=50
func (s *Server) handleSettlements(c *gin.Context) {
	if s.deps.Settlements == nil {
		errorResponse(c, http.StatusServiceUnavailable, "Settlement history is not enabled")
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	rows, err := s.deps.Settlements.GetSettlements(c.Request.Context(), strings.ToUpper(c.Query("symbol")), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to fetch settlements")
		errorResponse(c, http.StatusInternalServerError, "Failed to fetch settlements")
		return
	}
	successResponse(c, rows)
}

// handlePnL returns realized profit per symbol
// GET /api/pnl
func (s *Server) handlePnL(c *gin.Context) {
	if s.deps.Settlements == nil {
		errorResponse(c, http.StatusServiceUnavailable, "Settlement history is not enabled")
		return
	}
	pnl, err := s.deps.Settlements.RealizedPnL(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to sum realized pnl")
		errorResponse(c, http.StatusInternalServerError, "Failed to sum realized pnl")
		return
	}
	successResponse(c, pnl)
}

// ============================================================================
// COMMAND HANDLERS
// ============================================================================

// handleCommand runs one operator command through the shared dispatcher.
// The bearer token stands in for verify.
// POST /api/commands
func (s *Server) handleCommand(c *gin.Context) {
	if s.deps.Dispatcher == nil {
		errorResponse(c, http.StatusServiceUnavailable, "Commands are not enabled")
		return
	}

	var body CommandRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	req, err := body.toRequest(PlayerPrefix + s.operator(c))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	s.deps.Dispatcher.Trust(req.Player)
	resp := s.deps.Dispatcher.Dispatch(c.Request.Context(), req)

	if strings.HasPrefix(resp.Value, resp.Player+" fail") {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"data":    resp,
		})
		return
	}
	successResponse(c, resp)
}

// toRequest lays the JSON fields out in the positional form verbs expect
func (b CommandRequest) toRequest(player string) (command.Request, error) {
	verb := strings.ToLower(strings.TrimSpace(b.Verb))
	req := command.Request{Verb: verb, Player: player}
	pair := []string{strings.ToUpper(b.Base), strings.ToUpper(b.Quote)}
	hasPair := b.Base != "" && b.Quote != ""

	switch verb {
	case command.VerbExecute, command.VerbFill:
		req.Args = append(pair, num(b.Funds))
	case command.VerbBid:
		req.Args = pair
		if b.Funds > 0 {
			req.Args = append(req.Args, num(b.Funds))
		}
	case command.VerbAsk:
		req.Args = pair
	case command.VerbPause, command.VerbResume, command.VerbStop, command.VerbProfit:
		if hasPair {
			req.Args = pair
		}
	case command.VerbRSI:
		if !hasPair {
			pair[0] = "all"
			if pair[1] == "" {
				pair[1] = "-"
			}
		}
		req.Args = append(pair, num(b.High), num(b.Low))
		if b.Interval != "" {
			req.Args = append(req.Args, b.Interval)
		}
	case command.VerbGaze:
		flag := "0"
		if b.Gaze {
			flag = "1"
		}
		req.Args = append(pair, flag)
	case command.VerbTracking, command.VerbQuery:
	default:
		return command.Request{}, &ledger.ValidationError{Field: "verb", Reason: "not available over http: " + verb}
	}
	return req, nil
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
