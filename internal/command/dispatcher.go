// Package command turns operator texts into engine operations. Every
// command surface (relay, chat bot, HTTP API) goes through one Dispatcher
// so sessions and responses stay consistent.
package command

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"grid-trading-bot/internal/events"
	"grid-trading-bot/internal/ledger"
	"grid-trading-bot/internal/logging"
	"grid-trading-bot/internal/order"
)

// Verbs understood by the dispatcher
const (
	VerbVerify   = "verify"
	VerbExecute  = "execute"
	VerbFill     = "fill"
	VerbPause    = "pause"
	VerbResume   = "resume"
	VerbProfit   = "profit"
	VerbStop     = "stop"
	VerbRSI      = "rsi"
	VerbBid      = "bid"
	VerbAsk      = "ask"
	VerbTracking = "tracking"
	VerbQuery    = "query"
	VerbGaze     = "gaze"
	VerbPing     = "ping"
	VerbQuit     = "quit"
)

var (
	ErrEmpty      = errors.New("empty command")
	ErrNoPlayer   = errors.New("missing player id")
	ErrUnknown    = errors.New("unknown verb")
	ErrUnverified = errors.New("verify_0")
)

// Engine is the set of operations commands map onto
type Engine interface {
	Execute(ctx context.Context, pair ledger.Pair, funds float64) error
	Fill(ctx context.Context, pair ledger.Pair, funds float64) (float64, error)
	Pause(ctx context.Context, pair ledger.Pair) ([]ledger.Pair, error)
	Resume(ctx context.Context, pair ledger.Pair) ([]ledger.Pair, error)
	Profit(ctx context.Context, pair ledger.Pair) ([]ledger.Pair, error)
	Stop(ctx context.Context, pair ledger.Pair) ([]ledger.Pair, error)
	SetRSI(ctx context.Context, pair ledger.Pair, high, low float64, interval string) error
	Query() map[string]map[string]float64
	Tracking(ctx context.Context) error
	Bid(ctx context.Context, pair ledger.Pair, spent float64) (order.Result, error)
	Ask(ctx context.Context, pair ledger.Pair) (order.Result, error)
}

// Request is one parsed command
type Request struct {
	Verb   string   `json:"verb"`
	Player string   `json:"player"`
	Args   []string `json:"args,omitempty"`
}

// Response is sent back on the channel named by Key
type Response struct {
	Key    string `json:"key"`
	Player string `json:"player"`
	Value  string `json:"value"`
}

// Parse reads "verb playerID args..."
func Parse(text string) (Request, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Request{}, ErrEmpty
	}
	if len(fields) < 2 {
		return Request{}, ErrNoPlayer
	}
	return Request{Verb: strings.ToLower(fields[0]), Player: fields[1], Args: fields[2:]}, nil
}

// String renders the request back into relay form
func (r Request) String() string {
	return strings.TrimSpace(strings.Join(append([]string{r.Verb, r.Player}, r.Args...), " "))
}

// Dispatcher holds verified sessions and gaze subscriptions
type Dispatcher struct {
	engine   Engine
	password string
	bus      *events.EventBus
	logger   zerolog.Logger

	mu       sync.RWMutex
	verified map[string]bool
	gaze     map[string]map[string]bool // symbol -> players
}

// NewDispatcher creates a dispatcher checking verify against password
func NewDispatcher(engine Engine, password string, bus *events.EventBus, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		engine:   engine,
		password: password,
		bus:      bus,
		logger:   logger.With().Str("component", "CommandDispatcher").Logger(),
		verified: make(map[string]bool),
		gaze:     make(map[string]map[string]bool),
	}
}

// Trust marks player as verified, for surfaces that authenticate on their own
func (d *Dispatcher) Trust(player string) {
	d.mu.Lock()
	d.verified[player] = true
	d.mu.Unlock()
}

// Verified reports whether player holds a session
func (d *Dispatcher) Verified(player string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.verified[player]
}

// Gazers lists players watching symbol
func (d *Dispatcher) Gazers(symbol string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for p := range d.gaze[symbol] {
		out = append(out, p)
	}
	return out
}

// DispatchText parses and dispatches a relay text
func (d *Dispatcher) DispatchText(ctx context.Context, text string) (Response, error) {
	req, err := Parse(text)
	if err != nil {
		return Response{}, err
	}
	return d.Dispatch(ctx, req), nil
}

// Dispatch runs req and returns its response. Failures are reported in the
// response, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Response {
	log := logging.CommandContext(d.logger, req.Verb, req.Player)
	resp := d.dispatch(ctx, req)
	log.Info().Strs("args", req.Args).Str("result", resp.Value).Msg("Command handled")
	d.bus.PublishCommand(req.Verb, req.Player, resp.Value)
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) Response {
	switch req.Verb {
	case VerbVerify:
		return d.verify(req)
	case VerbPing:
		return Response{Key: "pong", Player: req.Player, Value: strings.Join(append([]string{req.Player}, req.Args...), " ")}
	}

	if !d.Verified(req.Player) {
		return fail(req, ErrUnverified)
	}

	switch req.Verb {
	case VerbExecute:
		pair, funds, err := pairAmount(req.Args, true)
		if err != nil {
			return fail(req, err)
		}
		if err := d.engine.Execute(ctx, pair, funds); err != nil {
			return fail(req, err)
		}
		return success(req, pair.Base, pair.Quote)

	case VerbFill:
		pair, funds, err := pairAmount(req.Args, true)
		if err != nil {
			return fail(req, err)
		}
		total, err := d.engine.Fill(ctx, pair, funds)
		if err != nil {
			return fail(req, err)
		}
		return success(req, pair.Base, pair.Quote, formatFloat(total))

	case VerbPause, VerbResume, VerbStop:
		pair, err := optionalPair(req.Args)
		if err != nil {
			return fail(req, err)
		}
		var op func(context.Context, ledger.Pair) ([]ledger.Pair, error)
		switch req.Verb {
		case VerbPause:
			op = d.engine.Pause
		case VerbResume:
			op = d.engine.Resume
		default:
			op = d.engine.Stop
		}
		done, err := op(ctx, pair)
		if err != nil && len(done) == 0 {
			return fail(req, err)
		}
		return success(req, pairList(done))

	case VerbProfit:
		pair, err := optionalPair(req.Args)
		if err != nil {
			return fail(req, err)
		}
		marked, err := d.engine.Profit(ctx, pair)
		if err != nil && len(marked) == 0 {
			return fail(req, err)
		}
		for _, p := range marked {
			if _, err := d.engine.Resume(ctx, p); err != nil {
				return fail(req, err)
			}
		}
		return success(req, pairList(marked))

	case VerbRSI:
		return d.rsi(ctx, req)

	case VerbBid:
		pair, spent, err := pairAmount(req.Args, false)
		if err != nil {
			return fail(req, err)
		}
		res, err := d.engine.Bid(ctx, pair, spent)
		if err != nil {
			return fail(req, err)
		}
		return d.afterTrade(req, res)

	case VerbAsk:
		pair, _, err := pairAmount(req.Args, false)
		if err != nil {
			return fail(req, err)
		}
		res, err := d.engine.Ask(ctx, pair)
		if err != nil {
			return fail(req, err)
		}
		return d.afterTrade(req, res)

	case VerbTracking:
		if err := d.engine.Tracking(ctx); err != nil {
			return fail(req, err)
		}
		return success(req)

	case VerbQuery:
		return d.query(req)

	case VerbGaze:
		return d.setGaze(req)

	case VerbQuit:
		d.forget(req.Player)
		return success(req)
	}
	return fail(req, fmt.Errorf("%w %q", ErrUnknown, req.Verb))
}

func (d *Dispatcher) verify(req Request) Response {
	ok := d.password != "" && len(req.Args) > 0 &&
		subtle.ConstantTimeCompare([]byte(req.Args[0]), []byte(d.password)) == 1
	d.mu.Lock()
	d.verified[req.Player] = ok
	d.mu.Unlock()
	if !ok {
		return Response{Key: req.Verb, Player: req.Player, Value: req.Player + " fail"}
	}
	return success(req)
}

func (d *Dispatcher) rsi(ctx context.Context, req Request) Response {
	if len(req.Args) < 4 {
		return fail(req, &ledger.ValidationError{Field: "rsi", Reason: "usage: rsi base|all quote high low [interval]"})
	}
	var pair ledger.Pair
	if !strings.EqualFold(req.Args[0], "all") {
		pair = ledger.NewPair(req.Args[0], req.Args[1])
	}
	high, err := parseAmount("high", req.Args[2])
	if err != nil {
		return fail(req, err)
	}
	low, err := parseAmount("low", req.Args[3])
	if err != nil {
		return fail(req, err)
	}
	var interval string
	if len(req.Args) > 4 {
		interval = req.Args[4]
	}
	if err := d.engine.SetRSI(ctx, pair, high, low, interval); err != nil {
		return fail(req, err)
	}
	return success(req, req.Args[0], req.Args[1], formatFloat(high), formatFloat(low), interval)
}

func (d *Dispatcher) afterTrade(req Request, res order.Result) Response {
	if res.Outcome == order.OutcomeStrategy {
		return Response{Key: req.Verb, Player: req.Player, Value: fmt.Sprintf("%s fail %s", req.Player, res.Reason)}
	}
	return d.query(Request{Verb: VerbQuery, Player: req.Player})
}

func (d *Dispatcher) query(req Request) Response {
	body, err := json.Marshal(d.engine.Query())
	if err != nil {
		return fail(req, err)
	}
	return Response{Key: VerbQuery, Player: req.Player, Value: req.Player + " " + string(body)}
}

func (d *Dispatcher) setGaze(req Request) Response {
	if len(req.Args) < 3 {
		return fail(req, &ledger.ValidationError{Field: "gaze", Reason: "usage: gaze base quote 0|1"})
	}
	pair := ledger.NewPair(req.Args[0], req.Args[1])
	on := req.Args[2] == "1"

	d.mu.Lock()
	players := d.gaze[pair.Symbol()]
	if players == nil {
		players = make(map[string]bool)
		d.gaze[pair.Symbol()] = players
	}
	if on {
		players[req.Player] = true
	} else {
		delete(players, req.Player)
	}
	d.mu.Unlock()

	flag := "gaze_0"
	if on {
		flag = "gaze_1"
	}
	return success(req, pair.Base, pair.Quote, flag)
}

func (d *Dispatcher) forget(player string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.verified, player)
	for _, players := range d.gaze {
		delete(players, player)
	}
}

func success(req Request, parts ...string) Response {
	value := strings.TrimSpace(strings.Join(append([]string{req.Player, "success"}, parts...), " "))
	return Response{Key: req.Verb, Player: req.Player, Value: strings.Join(strings.Fields(value), " ")}
}

func fail(req Request, err error) Response {
	return Response{Key: req.Verb, Player: req.Player, Value: fmt.Sprintf("%s fail %v", req.Player, err)}
}

// pairAmount reads "base quote [amount]"
func pairAmount(args []string, amountRequired bool) (ledger.Pair, float64, error) {
	if len(args) < 2 {
		return ledger.Pair{}, 0, &ledger.ValidationError{Field: "symbol", Reason: "base and quote required"}
	}
	pair := ledger.NewPair(args[0], args[1])
	if err := pair.Validate(); err != nil {
		return ledger.Pair{}, 0, err
	}
	if len(args) < 3 {
		if amountRequired {
			return ledger.Pair{}, 0, &ledger.ValidationError{Field: "funds", Reason: "missing"}
		}
		return pair, 0, nil
	}
	amount, err := parseAmount("funds", args[2])
	return pair, amount, err
}

// optionalPair reads "[base quote]", empty meaning every position
func optionalPair(args []string) (ledger.Pair, error) {
	switch len(args) {
	case 0:
		return ledger.Pair{}, nil
	case 1:
		if strings.EqualFold(args[0], "all") {
			return ledger.Pair{}, nil
		}
		return ledger.Pair{}, &ledger.ValidationError{Field: "symbol", Reason: "base and quote required"}
	default:
		pair := ledger.NewPair(args[0], args[1])
		return pair, pair.Validate()
	}
}

func parseAmount(field, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &ledger.ValidationError{Field: field, Reason: fmt.Sprintf("not a number %q", s)}
	}
	return v, nil
}

func pairList(pairs []ledger.Pair) string {
	names := make([]string, len(pairs))
	for i, p := range pairs {
		names[i] = p.Symbol()
	}
	return strings.Join(names, ",")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
