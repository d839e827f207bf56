package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"grid-trading-bot/config"
	"grid-trading-bot/internal/auth"
	"grid-trading-bot/internal/bot"
	"grid-trading-bot/internal/command"
	"grid-trading-bot/internal/database"
	"grid-trading-bot/internal/ledger"
	"grid-trading-bot/internal/order"
)

type stubEngine struct {
	executed []ledger.Pair
	funds    []float64
}

func (e *stubEngine) Execute(ctx context.Context, pair ledger.Pair, funds float64) error {
	e.executed = append(e.executed, pair)
	e.funds = append(e.funds, funds)
	return nil
}
func (e *stubEngine) Fill(ctx context.Context, pair ledger.Pair, funds float64) (float64, error) {
	return funds, nil
}
func (e *stubEngine) Pause(ctx context.Context, pair ledger.Pair) ([]ledger.Pair, error) {
	return []ledger.Pair{pair}, nil
}
func (e *stubEngine) Resume(ctx context.Context, pair ledger.Pair) ([]ledger.Pair, error) {
	return []ledger.Pair{pair}, nil
}
func (e *stubEngine) Profit(ctx context.Context, pair ledger.Pair) ([]ledger.Pair, error) {
	return nil, nil
}
func (e *stubEngine) Stop(ctx context.Context, pair ledger.Pair) ([]ledger.Pair, error) {
	return nil, ledger.ErrNotFound
}
func (e *stubEngine) SetRSI(ctx context.Context, pair ledger.Pair, high, low float64, interval string) error {
	return nil
}
func (e *stubEngine) Query() map[string]map[string]float64 { return nil }
func (e *stubEngine) Tracking(ctx context.Context) error  { return nil }
func (e *stubEngine) Bid(ctx context.Context, pair ledger.Pair, spent float64) (order.Result, error) {
	return order.Result{}, nil
}
func (e *stubEngine) Ask(ctx context.Context, pair ledger.Pair) (order.Result, error) {
	return order.Result{}, nil
}

type stubPositions []bot.PositionView

func (s stubPositions) Positions() []bot.PositionView { return s }

type stubSettlements struct{ err error }

func (s stubSettlements) GetSettlements(ctx context.Context, symbol string, limit int) ([]database.Settlement, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []database.Settlement{{Symbol: symbol, OrderID: int64(limit), Side: "SELL"}}, nil
}

func (s stubSettlements) RealizedPnL(ctx context.Context) (map[string]float64, error) {
	return map[string]float64{"BTCUSDT": 12.5}, s.err
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	return NewServer(config.ServerConfig{AllowedOrigins: "*"}, deps, zerolog.Nop())
}

func do(t *testing.T, s *Server, method, url string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthReportsFailingChecks(t *testing.T) {
	s := newTestServer(t, Deps{Checks: map[string]HealthCheck{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	}})

	w := do(t, s, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["redis"])
	assert.Equal(t, "connection refused", body.Checks["postgres"])
}

func TestPositionsListed(t *testing.T) {
	pair := ledger.NewPair("btc", "usdt")
	s := newTestServer(t, Deps{Positions: stubPositions{{
		Position:       ledger.Position{Pair: pair, Funds: 100},
		Symbol:         pair.Symbol(),
		FundsAvailable: 60,
	}}})

	w := do(t, s, http.MethodGet, "/api/positions", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data []struct {
			Symbol         string  `json:"symbol"`
			Funds          float64 `json:"funds"`
			FundsAvailable float64 `json:"fundsAvailable"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "BTCUSDT", body.Data[0].Symbol)
	assert.Equal(t, 100.0, body.Data[0].Funds)
	assert.Equal(t, 60.0, body.Data[0].FundsAvailable)
}

func TestCommandsRunTrustedThroughDispatcher(t *testing.T) {
	engine := &stubEngine{}
	d := command.NewDispatcher(engine, "", nil, zerolog.Nop())
	s := newTestServer(t, Deps{Dispatcher: d})

	w := do(t, s, http.MethodPost, "/api/commands", CommandRequest{Verb: "execute", Base: "eth", Quote: "usdt", Funds: 250}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, engine.executed, 1)
	assert.Equal(t, ledger.NewPair("ETH", "USDT"), engine.executed[0])
	assert.Equal(t, 250.0, engine.funds[0])
	assert.True(t, d.Verified(PlayerPrefix+auth.DefaultOperator))

	w = do(t, s, http.MethodPost, "/api/commands", CommandRequest{Verb: "stop", Base: "eth", Quote: "usdt"}, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = do(t, s, http.MethodPost, "/api/commands", CommandRequest{Verb: "verify"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCommandBodyLayout(t *testing.T) {
	tests := []struct {
		name string
		body CommandRequest
		args []string
	}{
		{"fill", CommandRequest{Verb: "FILL", Base: "btc", Quote: "usdt", Funds: 10.5}, []string{"BTC", "USDT", "10.5"}},
		{"pause all", CommandRequest{Verb: "pause"}, nil},
		{"bid without amount", CommandRequest{Verb: "bid", Base: "btc", Quote: "usdt"}, []string{"BTC", "USDT"}},
		{"rsi all", CommandRequest{Verb: "rsi", High: 70, Low: 30, Interval: "15m"}, []string{"all", "-", "70", "30", "15m"}},
		{"gaze on", CommandRequest{Verb: "gaze", Base: "btc", Quote: "usdt", Gaze: true}, []string{"BTC", "USDT", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := tt.body.toRequest("api:op")
			require.NoError(t, err)
			assert.Equal(t, "api:op", req.Player)
			assert.Equal(t, tt.args, req.Args)
		})
	}
}

func TestCommandsRateLimited(t *testing.T) {
	d := command.NewDispatcher(&stubEngine{}, "", nil, zerolog.Nop())
	s := newTestServer(t, Deps{Dispatcher: d})
	s.rateLimiter = NewRateLimiter(2, time.Minute)

	for i := 0; i < 2; i++ {
		w := do(t, s, http.MethodPost, "/api/commands", CommandRequest{Verb: "tracking"}, "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := do(t, s, http.MethodPost, "/api/commands", CommandRequest{Verb: "tracking"}, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestSettlementsAndPnL(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		s := newTestServer(t, Deps{})
		assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/api/settlements", nil, "").Code)
		assert.Equal(t, http.StatusServiceUnavailable, do(t, s, http.MethodGet, "/api/pnl", nil, "").Code)
	})

	t.Run("query parameters", func(t *testing.T) {
		s := newTestServer(t, Deps{Settlements: stubSettlements{}})
		w := do(t, s, http.MethodGet, "/api/settlements?symbol=btcusdt&limit=7", nil, "")
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Data []database.Settlement `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Len(t, body.Data, 1)
		assert.Equal(t, "BTCUSDT", body.Data[0].Symbol)
		assert.Equal(t, int64(7), body.Data[0].OrderID)

		w = do(t, s, http.MethodGet, "/api/pnl", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"BTCUSDT":12.5`)
	})

	t.Run("store error", func(t *testing.T) {
		s := newTestServer(t, Deps{Settlements: stubSettlements{err: errors.New("down")}})
		assert.Equal(t, http.StatusInternalServerError, do(t, s, http.MethodGet, "/api/settlements", nil, "").Code)
	})
}

func TestAuthenticatedRoutes(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("Grid-Bot-2026"), bcrypt.MinCost)
	require.NoError(t, err)
	svc := auth.NewService(config.AuthConfig{JWTSecret: "secret", AccessTokenDuration: time.Hour, PasswordHash: string(hash)}, zerolog.Nop())

	engine := &stubEngine{}
	d := command.NewDispatcher(engine, "", nil, zerolog.Nop())
	s := newTestServer(t, Deps{Auth: svc, Dispatcher: d, Positions: stubPositions{}})

	assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/api/positions", nil, "").Code)

	w := do(t, s, http.MethodPost, "/api/auth/login", auth.LoginRequest{Operator: "carol", Password: "Grid-Bot-2026"}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tok auth.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tok))

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/positions", nil, tok.AccessToken).Code)

	w = do(t, s, http.MethodPost, "/api/commands", CommandRequest{Verb: "execute", Base: "btc", Quote: "usdt", Funds: 1}, tok.AccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, d.Verified("api:carol"))
	assert.False(t, d.Verified("api:"+auth.DefaultOperator))
}
