// Package telegram runs the interactive chat bot. Chat commands are
// translated into dispatcher requests under the player id "tg:<chat>",
// and verified chats receive engine notifications.
package telegram

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"grid-trading-bot/config"
	"grid-trading-bot/internal/command"
	"grid-trading-bot/internal/ledger"
	"grid-trading-bot/internal/notification"
)

const playerPrefix = "tg:"

const helpText = `Grid tracker commands
/verify <password>
/query
/execute <sym> <funds>
/fill <sym> <funds>
/pause|/resume|/stop|/profit <sym|all>
/rsi <sym|all> <high>-<low> [interval]
/bid <sym> [spent]
/ask <sym>
/gaze <sym> <0|1>
/tracking
/quit
Symbols are BTC (default quote) or BTC/USDT.`

// API is the part of the Telegram client the bot uses
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot serves chat commands and relays notifications to verified chats
type Bot struct {
	api        API
	dispatcher *command.Dispatcher
	password   string
	quote      string
	logger     zerolog.Logger

	mu    sync.RWMutex
	chats map[int64]bool
}

var (
	_ notification.Notifier = (*Bot)(nil)
	_ command.Broadcaster   = (*Bot)(nil)
)

// New connects to Telegram with the command bot token
func New(cfg config.TelegramBotConfig, d *command.Dispatcher, defaultQuote string, logger zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	api.Debug = cfg.Debug
	b := NewWithAPI(api, d, cfg.Password, defaultQuote, logger)
	b.logger.Info().Str("account", api.Self.UserName).Msg("Telegram bot authorized")
	return b, nil
}

// NewWithAPI creates a bot over an existing client. An empty password
// defers verification to the dispatcher.
func NewWithAPI(api API, d *command.Dispatcher, password, defaultQuote string, logger zerolog.Logger) *Bot {
	if defaultQuote == "" {
		defaultQuote = "USDT"
	}
	return &Bot{
		api:        api,
		dispatcher: d,
		password:   password,
		quote:      strings.ToUpper(defaultQuote),
		logger:     logger.With().Str("component", "TelegramBot").Logger(),
		chats:      make(map[int64]bool),
	}
}

// Run long-polls updates until ctx is done
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if msg := update.Message; msg != nil && msg.Chat != nil {
		if msg.IsCommand() {
			b.handleCommand(ctx, msg)
		}
		return
	}
	if cb := update.CallbackQuery; cb != nil && cb.Message != nil && cb.Message.Chat != nil {
		b.handleCallback(ctx, cb)
	}
}

func player(chatID int64) string { return playerPrefix + strconv.FormatInt(chatID, 10) }

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	who := player(chatID)
	args := strings.Fields(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		b.send(chatID, helpText)
		return
	case command.VerbVerify:
		b.verify(ctx, msg, args)
		return
	case command.VerbQuery:
		b.query(ctx, chatID)
		return
	case command.VerbQuit:
		b.dispatch(ctx, chatID, command.Request{Verb: command.VerbQuit, Player: who})
		b.forget(chatID)
		return
	}

	req, err := b.translate(msg.Command(), who, args)
	if err != nil {
		b.send(chatID, err.Error())
		return
	}
	b.dispatch(ctx, chatID, req)
}

// translate maps chat arguments onto relay arguments
func (b *Bot) translate(verb, who string, args []string) (command.Request, error) {
	req := command.Request{Verb: verb, Player: who}
	switch verb {
	case command.VerbExecute, command.VerbFill:
		if len(args) < 2 {
			return req, fmt.Errorf("usage: /%s <sym> <funds>", verb)
		}
		pair := b.pair(args[0])
		req.Args = []string{pair.Base, pair.Quote, args[1]}

	case command.VerbPause, command.VerbResume, command.VerbStop, command.VerbProfit:
		if len(args) > 0 && !strings.EqualFold(args[0], "all") {
			pair := b.pair(args[0])
			req.Args = []string{pair.Base, pair.Quote}
		}

	case command.VerbRSI:
		if len(args) < 2 {
			return req, fmt.Errorf("usage: /rsi <sym|all> <high>-<low> [interval]")
		}
		high, low, ok := strings.Cut(args[1], "-")
		if !ok {
			return req, fmt.Errorf("thresholds must look like 70-30")
		}
		base, quote := "all", b.quote
		if !strings.EqualFold(args[0], "all") {
			pair := b.pair(args[0])
			base, quote = pair.Base, pair.Quote
		}
		req.Args = []string{base, quote, high, low}
		if len(args) > 2 {
			req.Args = append(req.Args, args[2])
		}

	case command.VerbBid, command.VerbAsk, command.VerbGaze:
		if len(args) < 1 {
			return req, fmt.Errorf("usage: /%s <sym>", verb)
		}
		pair := b.pair(args[0])
		req.Args = append([]string{pair.Base, pair.Quote}, args[1:]...)
		if verb == command.VerbGaze && len(req.Args) < 3 {
			req.Args = append(req.Args, "1")
		}

	case command.VerbTracking:

	default:
		return req, fmt.Errorf("unknown command /%s, see /help", verb)
	}
	return req, nil
}

// pair reads BTC, BTC/USDT or BTC-USDT
func (b *Bot) pair(arg string) ledger.Pair {
	if p, err := ledger.ParsePair(arg); err == nil {
		return p
	}
	return ledger.NewPair(arg, b.quote)
}

func (b *Bot) verify(ctx context.Context, msg *tgbotapi.Message, args []string) {
	chatID := msg.Chat.ID
	who := player(chatID)

	// The password should not stay in the chat history
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, msg.MessageID)); err != nil {
		b.logger.Debug().Err(err).Msg("Verify message not deleted")
	}

	if b.password == "" {
		resp := b.dispatcher.Dispatch(ctx, command.Request{Verb: command.VerbVerify, Player: who, Args: args})
		if !b.dispatcher.Verified(who) {
			b.send(chatID, "verification failed")
			return
		}
		b.remember(chatID)
		b.send(chatID, strip(resp.Value, who))
		return
	}

	if len(args) == 0 || subtle.ConstantTimeCompare([]byte(args[0]), []byte(b.password)) != 1 {
		b.logger.Warn().Int64("chat", chatID).Msg("Failed verification")
		b.send(chatID, "verification failed")
		return
	}
	b.dispatcher.Trust(who)
	b.remember(chatID)
	b.send(chatID, "verified, notifications enabled")
}

func (b *Bot) dispatch(ctx context.Context, chatID int64, req command.Request) {
	resp := b.dispatcher.Dispatch(ctx, req)
	if resp.Key == command.VerbQuery {
		b.sendHoldings(chatID, req.Player, resp)
		return
	}
	b.send(chatID, strip(resp.Value, req.Player))
}

// query answers with one button per tracked symbol
func (b *Bot) query(ctx context.Context, chatID int64) {
	who := player(chatID)
	resp := b.dispatcher.Dispatch(ctx, command.Request{Verb: command.VerbQuery, Player: who})
	holdings, ok := decodeHoldings(resp, who)
	if !ok {
		b.send(chatID, strip(resp.Value, who))
		return
	}
	if len(holdings) == 0 {
		b.send(chatID, "no tracked symbols")
		return
	}

	symbols := make([]string, 0, len(holdings))
	for s := range holdings {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, s := range symbols {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(s, "q:"+s)))
	}
	m := tgbotapi.NewMessage(chatID, fmt.Sprintf("%d tracked symbols", len(symbols)))
	m.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(m); err != nil {
		b.logger.Warn().Err(err).Int64("chat", chatID).Msg("Query keyboard not sent")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	chatID := cb.Message.Chat.ID
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.logger.Debug().Err(err).Msg("Callback not acknowledged")
	}

	symbol, ok := strings.CutPrefix(cb.Data, "q:")
	if !ok {
		return
	}
	who := player(chatID)
	resp := b.dispatcher.Dispatch(ctx, command.Request{Verb: command.VerbQuery, Player: who})
	holdings, ok := decodeHoldings(resp, who)
	if !ok {
		b.send(chatID, strip(resp.Value, who))
		return
	}
	assets, found := holdings[symbol]
	if !found {
		b.send(chatID, symbol+" is no longer tracked")
		return
	}
	b.send(chatID, symbol+"\n"+formatAssets(assets))
}

func (b *Bot) sendHoldings(chatID int64, who string, resp command.Response) {
	holdings, ok := decodeHoldings(resp, who)
	if !ok {
		b.send(chatID, strip(resp.Value, who))
		return
	}
	symbols := make([]string, 0, len(holdings))
	for s := range holdings {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	var sb strings.Builder
	for _, s := range symbols {
		fmt.Fprintf(&sb, "%s\n%s\n", s, formatAssets(holdings[s]))
	}
	if sb.Len() == 0 {
		sb.WriteString("no tracked symbols")
	}
	b.send(chatID, strings.TrimSpace(sb.String()))
}

func decodeHoldings(resp command.Response, who string) (map[string]map[string]float64, bool) {
	if resp.Key != command.VerbQuery {
		return nil, false
	}
	var out map[string]map[string]float64
	if err := json.Unmarshal([]byte(strip(resp.Value, who)), &out); err != nil {
		return nil, false
	}
	return out, true
}

func formatAssets(assets map[string]float64) string {
	names := make([]string, 0, len(assets))
	for a := range assets {
		names = append(names, a)
	}
	sort.Strings(names)
	lines := make([]string, len(names))
	for i, a := range names {
		lines[i] = fmt.Sprintf("  %s: %s", a, strconv.FormatFloat(assets[a], 'f', -1, 64))
	}
	return strings.Join(lines, "\n")
}

func strip(value, who string) string {
	return strings.TrimSpace(strings.TrimPrefix(value, who))
}

func (b *Bot) remember(chatID int64) {
	b.mu.Lock()
	b.chats[chatID] = true
	b.mu.Unlock()
}

func (b *Bot) forget(chatID int64) {
	b.mu.Lock()
	delete(b.chats, chatID)
	b.mu.Unlock()
}

// Chats lists chats receiving notifications
func (b *Bot) Chats() []int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]int64, 0, len(b.chats))
	for id := range b.chats {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b *Bot) send(chatID int64, text string) {
	if text == "" {
		return
	}
	if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Warn().Err(err).Int64("chat", chatID).Msg("Message not sent")
	}
}

// Broadcast delivers a response to a chat player, other players are ignored
func (b *Bot) Broadcast(ctx context.Context, resp command.Response) error {
	id, ok := strings.CutPrefix(resp.Player, playerPrefix)
	if !ok {
		return nil
	}
	chatID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("bad chat player %q: %w", resp.Player, err)
	}
	_, err = b.api.Send(tgbotapi.NewMessage(chatID, strip(resp.Value, resp.Player)))
	return err
}

func (b *Bot) Name() string { return "telegram_bot" }

func (b *Bot) IsEnabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.chats) > 0
}

// Send pushes a notification to every verified chat
func (b *Bot) Send(n *notification.Notification) error {
	var lastErr error
	for _, chatID := range b.Chats() {
		if !b.dispatcher.Verified(player(chatID)) {
			b.forget(chatID)
			continue
		}
		if _, err := b.api.Send(tgbotapi.NewMessage(chatID, n.Text())); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
