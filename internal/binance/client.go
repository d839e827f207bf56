package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	limiter    *RateLimiter
	precision  *PrecisionCache
	recvWindow int
	maxRetries uint
	timeOffset atomic.Int64 // server minus local clock, ms
	observe    func(endpoint string, seconds float64)
	logger     zerolog.Logger
}

// ClientOption customizes a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the default 10s-timeout HTTP client
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = h }
}

// WithRateLimiter shares a limiter between clients
func WithRateLimiter(l *RateLimiter) ClientOption {
	return func(c *Client) { c.limiter = l }
}

// WithRetries sets how many times read requests are attempted
func WithRetries(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.maxRetries = uint(n)
		}
	}
}

// WithRecvWindow sets the signed request validity window in ms
func WithRecvWindow(ms int) ClientOption {
	return func(c *Client) { c.recvWindow = ms }
}

// WithPrecisionRefresh sets how long exchange filters are cached
func WithPrecisionRefresh(d time.Duration) ClientOption {
	return func(c *Client) { c.precision = NewPrecisionCache(c.loadExchangeInfo, d) }
}

// WithObserver reports the latency of every exchange round trip
func WithObserver(fn func(endpoint string, seconds float64)) ClientOption {
	return func(c *Client) { c.observe = fn }
}

// WithLogger sets the client logger
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = l.With().Str("component", "BinanceClient").Logger() }
}

func NewClient(apiKey, secretKey, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		recvWindow: 5000,
		maxRetries: 3,
		logger:     zerolog.Nop(),
	}
	c.precision = NewPrecisionCache(c.loadExchangeInfo, 24*time.Hour)
	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = NewRateLimiter(10, c.logger)
	}
	return c
}

// RateLimiter exposes the limiter for status reporting
func (c *Client) RateLimiter() *RateLimiter {
	return c.limiter
}

// ============================================================================
// MARKET DATA
// ============================================================================

// GetKlines fetches candlestick data
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.getWithRetry(ctx, "/api/v3/klines", params, false, PriorityNormal)
	if err != nil {
		return nil, fmt.Errorf("error fetching klines: %w", err)
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(body, &rawKlines); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	klines := make([]Kline, 0, len(rawKlines))
	for _, raw := range rawKlines {
		if len(raw) < 7 {
			continue
		}
		klines = append(klines, Kline{
			OpenTime:  parseInt(raw[0]),
			Open:      parseFloat(raw[1]),
			High:      parseFloat(raw[2]),
			Low:       parseFloat(raw[3]),
			Close:     parseFloat(raw[4]),
			Volume:    parseFloat(raw[5]),
			CloseTime: parseInt(raw[6]),
		})
	}

	return klines, nil
}

// GetTickerPrice fetches the latest trade price for a symbol
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	body, err := c.getWithRetry(ctx, "/api/v3/ticker/price", params, false, PriorityNormal)
	if err != nil {
		return 0, fmt.Errorf("error fetching price: %w", err)
	}

	var priceResp struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price,string"`
	}
	if err := json.Unmarshal(body, &priceResp); err != nil {
		return 0, fmt.Errorf("error parsing price: %w", err)
	}

	return priceResp.Price, nil
}

// ============================================================================
// ORDERS
// ============================================================================

// PlaceMarketOrder submits a MARKET order. It is never retried: a timeout
// may still have reached the matching engine.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol, side string, quantity float64) (*OrderTicket, error) {
	p, err := c.GetSymbolPrecision(ctx, symbol)
	if err != nil {
		return nil, err
	}
	qty, err := p.NormalizeQuantity(quantity, 0)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", FormatQuantity(qty, p.StepSize))
	params.Set("newClientOrderId", newClientOrderID())
	params.Set("newOrderRespType", "FULL")

	body, err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true, PriorityCritical)
	if err != nil {
		return nil, fmt.Errorf("error placing order: %w", err)
	}

	var ticket OrderTicket
	if err := json.Unmarshal(body, &ticket); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}

	c.logger.Info().
		Str("symbol", symbol).
		Str("side", side).
		Int64("order_id", ticket.OrderID).
		Str("status", ticket.Status).
		Float64("executed_qty", ticket.ExecutedQty).
		Msg("market order placed")

	return &ticket, nil
}

// GetOrder queries the status of an order
func (c *Client) GetOrder(ctx context.Context, symbol string, orderID int64) (*OrderTicket, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	body, err := c.getWithRetry(ctx, "/api/v3/order", params, true, PriorityHigh)
	if err != nil {
		return nil, fmt.Errorf("error fetching order %d: %w", orderID, err)
	}

	var ticket OrderTicket
	if err := json.Unmarshal(body, &ticket); err != nil {
		return nil, fmt.Errorf("error parsing order: %w", err)
	}
	return &ticket, nil
}

// GetOrderTrades lists the executions of one order. Status queries carry
// no fills, so this is where their commission comes from.
func (c *Client) GetOrderTrades(ctx context.Context, symbol string, orderID int64) ([]Fill, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	body, err := c.getWithRetry(ctx, "/api/v3/myTrades", params, true, PriorityHigh)
	if err != nil {
		return nil, fmt.Errorf("error fetching trades of order %d: %w", orderID, err)
	}

	var fills []Fill
	if err := json.Unmarshal(body, &fills); err != nil {
		return nil, fmt.Errorf("error parsing trades: %w", err)
	}
	return fills, nil
}

// ============================================================================
// ACCOUNT
// ============================================================================

// GetBalance reads one asset from the account snapshot. Missing assets
// return a zero balance.
func (c *Client) GetBalance(ctx context.Context, asset string) (*Balance, error) {
	body, err := c.getWithRetry(ctx, "/api/v3/account", url.Values{}, true, PriorityHigh)
	if err != nil {
		return nil, fmt.Errorf("error fetching account: %w", err)
	}

	var account struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("error parsing account: %w", err)
	}

	for _, b := range account.Balances {
		if b.Asset == asset {
			return &Balance{Asset: asset, Free: parseFloat(b.Free), Locked: parseFloat(b.Locked)}, nil
		}
	}
	return &Balance{Asset: asset}, nil
}

// GetSymbolPrecision returns the cached exchange filters for symbol
func (c *Client) GetSymbolPrecision(ctx context.Context, symbol string) (*SymbolPrecision, error) {
	return c.precision.Get(ctx, symbol)
}

// LoadExchangeInfo refreshes the precision cache immediately
func (c *Client) LoadExchangeInfo(ctx context.Context) error {
	return c.precision.Reload(ctx)
}

func (c *Client) loadExchangeInfo(ctx context.Context) (map[string]SymbolPrecision, error) {
	body, err := c.getWithRetry(ctx, "/api/v3/exchangeInfo", url.Values{}, false, PriorityLow)
	if err != nil {
		return nil, err
	}

	var info struct {
		Symbols []struct {
			Symbol     string                   `json:"symbol"`
			Status     string                   `json:"status"`
			BaseAsset  string                   `json:"baseAsset"`
			QuoteAsset string                   `json:"quoteAsset"`
			Filters    []map[string]interface{} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("error parsing exchange info: %w", err)
	}

	out := make(map[string]SymbolPrecision, len(info.Symbols))
	for _, s := range info.Symbols {
		p := SymbolPrecision{Symbol: s.Symbol, BaseAsset: s.BaseAsset, QuoteAsset: s.QuoteAsset}
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "LOT_SIZE":
				p.StepSize = parseFloat(f["stepSize"])
				p.MinQty = parseFloat(f["minQty"])
				p.MaxQty = parseFloat(f["maxQty"])
			case "PRICE_FILTER":
				p.TickSize = parseFloat(f["tickSize"])
			case "NOTIONAL", "MIN_NOTIONAL":
				p.MinNotional = parseFloat(f["minNotional"])
			}
		}
		out[s.Symbol] = p
	}
	return out, nil
}

// SyncTime samples the server clock so signed timestamps stay inside recvWindow
func (c *Client) SyncTime(ctx context.Context) error {
	body, err := c.do(ctx, http.MethodGet, "/api/v3/time", url.Values{}, false, PriorityLow)
	if err != nil {
		return fmt.Errorf("error fetching server time: %w", err)
	}
	var t struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &t); err != nil {
		return fmt.Errorf("error parsing server time: %w", err)
	}
	c.timeOffset.Store(t.ServerTime - time.Now().UnixMilli())
	return nil
}

// ============================================================================
// TRANSPORT
// ============================================================================

// getWithRetry retries transient failures with exponential backoff
func (c *Client) getWithRetry(ctx context.Context, path string, params url.Values, signed bool, priority RequestPriority) ([]byte, error) {
	op := func() ([]byte, error) {
		body, err := c.do(ctx, http.MethodGet, path, params, signed, priority)
		if err == nil {
			return body, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return nil, backoff.Permanent(err)
		}
		if errors.Is(err, ErrRateLimited) || errors.Is(err, context.Canceled) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(c.maxRetries),
		backoff.WithNotify(func(err error, d time.Duration) {
			c.logger.Warn().Err(err).Str("path", path).Dur("backoff", d).Msg("retrying request")
		}))
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool, priority RequestPriority) ([]byte, error) {
	if err := c.limiter.Wait(ctx, path, priority); err != nil {
		return nil, err
	}

	query := cloneValues(params)
	if signed {
		query.Set("recvWindow", strconv.Itoa(c.recvWindow))
		query.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli()+c.timeOffset.Load(), 10))
	}
	encoded := query.Encode()
	if signed {
		encoded += "&signature=" + c.sign(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.URL.RawQuery = encoded
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.observe != nil {
		c.observe(path, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if used := resp.Header.Get("X-MBX-USED-WEIGHT-1M"); used != "" {
		if w, err := strconv.Atoi(used); err == nil {
			c.limiter.UpdateFromHeaders(w)
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = string(body)
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot {
			c.limiter.RecordRateLimitError(ParseBanUntilFromError(apiErr.Message))
		}
		return nil, apiErr
	}

	return body, nil
}

// sign creates a signature for authenticated requests
func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+3)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

func newClientOrderID() string {
	return "grid_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
