package telegram

import (
	"context"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grid-trading-bot/internal/command"
	"grid-trading-bot/internal/ledger"
	"grid-trading-bot/internal/notification"
	"grid-trading-bot/internal/order"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeAPI) StopReceivingUpdates() {}

func (f *fakeAPI) last() tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

// stubEngine records the pair of the last mutating call
type stubEngine struct {
	last ledger.Pair
	verb string
	args []float64
}

func (s *stubEngine) Execute(_ context.Context, p ledger.Pair, funds float64) error {
	s.last, s.verb, s.args = p, "execute", []float64{funds}
	return nil
}
func (s *stubEngine) Fill(_ context.Context, p ledger.Pair, funds float64) (float64, error) {
	s.last, s.verb = p, "fill"
	return funds, nil
}
func (s *stubEngine) Pause(_ context.Context, p ledger.Pair) ([]ledger.Pair, error) {
	s.last, s.verb = p, "pause"
	return []ledger.Pair{p}, nil
}
func (s *stubEngine) Resume(_ context.Context, p ledger.Pair) ([]ledger.Pair, error) {
	s.last, s.verb = p, "resume"
	return []ledger.Pair{p}, nil
}
func (s *stubEngine) Profit(_ context.Context, p ledger.Pair) ([]ledger.Pair, error) {
	s.last, s.verb = p, "profit"
	return nil, nil
}
func (s *stubEngine) Stop(_ context.Context, p ledger.Pair) ([]ledger.Pair, error) {
	s.last, s.verb = p, "stop"
	return []ledger.Pair{p}, nil
}
func (s *stubEngine) SetRSI(_ context.Context, p ledger.Pair, high, low float64, _ string) error {
	s.last, s.verb, s.args = p, "rsi", []float64{high, low}
	return nil
}
func (s *stubEngine) Query() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"ETHUSDT": {"ETH": 2, "USDT": 100},
		"BTCUSDT": {"BTC": 0.5, "USDT": 950},
	}
}
func (s *stubEngine) Tracking(context.Context) error { s.verb = "tracking"; return nil }
func (s *stubEngine) Bid(_ context.Context, p ledger.Pair, _ float64) (order.Result, error) {
	s.last, s.verb = p, "bid"
	return order.Result{Outcome: order.OutcomeFilled}, nil
}
func (s *stubEngine) Ask(_ context.Context, p ledger.Pair) (order.Result, error) {
	s.last, s.verb = p, "ask"
	return order.Result{Outcome: order.OutcomeFilled}, nil
}

func newBot(t *testing.T, password string) (*Bot, *fakeAPI, *stubEngine, *command.Dispatcher) {
	t.Helper()
	eng := &stubEngine{}
	d := command.NewDispatcher(eng, "relay-pw", nil, zerolog.Nop())
	api := &fakeAPI{}
	return NewWithAPI(api, d, password, "usdt", zerolog.Nop()), api, eng, d
}

func commandUpdate(chatID int64, text string) tgbotapi.Update {
	length := len(text)
	for i, r := range text {
		if r == ' ' {
			length = i
			break
		}
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 1,
		Text:      text,
		Chat:      &tgbotapi.Chat{ID: chatID},
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}},
	}}
}

// ============================================================================
// TEST CASES: VERIFICATION
// ============================================================================

func TestVerifyWithBotPassword(t *testing.T) {
	b, api, _, d := newBot(t, "chat-pw")
	ctx := context.Background()

	b.handleUpdate(ctx, commandUpdate(7, "/verify wrong"))
	assert.Equal(t, "verification failed", api.last().Text)
	assert.False(t, d.Verified("tg:7"))

	b.handleUpdate(ctx, commandUpdate(7, "/verify chat-pw"))
	assert.True(t, d.Verified("tg:7"))
	assert.Equal(t, []int64{7}, b.Chats())
	assert.True(t, b.IsEnabled())

	// both attempts deleted the password message
	assert.Len(t, api.requests, 2)
}

func TestVerifyFallsBackToDispatcher(t *testing.T) {
	b, _, _, d := newBot(t, "")
	b.handleUpdate(context.Background(), commandUpdate(9, "/verify relay-pw"))
	assert.True(t, d.Verified("tg:9"))
}

func TestUnverifiedChatIsRejected(t *testing.T) {
	b, api, eng, _ := newBot(t, "chat-pw")
	b.handleUpdate(context.Background(), commandUpdate(7, "/pause btc"))
	assert.Equal(t, "fail verify_0", api.last().Text)
	assert.Empty(t, eng.verb)
}

// ============================================================================
// TEST CASES: COMMANDS
// ============================================================================

func TestCommandsTranslate(t *testing.T) {
	b, api, eng, d := newBot(t, "chat-pw")
	d.Trust("tg:7")
	ctx := context.Background()

	tests := []struct {
		text string
		verb string
		pair ledger.Pair
	}{
		{"/execute btc 100", "execute", ledger.NewPair("BTC", "USDT")},
		{"/fill eth/btc 2", "fill", ledger.NewPair("ETH", "BTC")},
		{"/pause sol", "pause", ledger.NewPair("SOL", "USDT")},
		{"/resume all", "resume", ledger.Pair{}},
		{"/stop", "stop", ledger.Pair{}},
		{"/rsi btc 70-30 1h", "rsi", ledger.NewPair("BTC", "USDT")},
		{"/rsi all 65-35", "rsi", ledger.Pair{}},
		{"/ask btc-usdt", "ask", ledger.NewPair("BTC", "USDT")},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			eng.verb, eng.last = "", ledger.Pair{}
			b.handleUpdate(ctx, commandUpdate(7, tt.text))
			assert.Equal(t, tt.verb, eng.verb)
			assert.Equal(t, tt.pair, eng.last)
		})
	}

	b.handleUpdate(ctx, commandUpdate(7, "/rsi btc 70"))
	assert.Contains(t, api.last().Text, "70-30")

	b.handleUpdate(ctx, commandUpdate(7, "/dance"))
	assert.Contains(t, api.last().Text, "unknown command")
}

func TestQueryKeyboardAndCallback(t *testing.T) {
	b, api, _, d := newBot(t, "chat-pw")
	d.Trust("tg:7")
	ctx := context.Background()

	b.handleUpdate(ctx, commandUpdate(7, "/query"))
	m := api.last()
	kb, ok := m.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 2)
	assert.Equal(t, "BTCUSDT", kb.InlineKeyboard[0][0].Text)

	b.handleUpdate(ctx, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb1",
		Data:    "q:ETHUSDT",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}},
	}})
	assert.Equal(t, "ETHUSDT\n  ETH: 2\n  USDT: 100", api.last().Text)
}

// ============================================================================
// TEST CASES: NOTIFICATIONS
// ============================================================================

func TestSendReachesVerifiedChatsOnly(t *testing.T) {
	b, api, _, _ := newBot(t, "chat-pw")
	ctx := context.Background()
	b.handleUpdate(ctx, commandUpdate(7, "/verify chat-pw"))
	b.handleUpdate(ctx, commandUpdate(8, "/verify chat-pw"))
	b.handleUpdate(ctx, commandUpdate(8, "/quit"))
	api.sent = nil

	require.NoError(t, b.Send(&notification.Notification{Message: "tracking grid strategy"}))
	require.Len(t, api.sent, 1)
	assert.Equal(t, int64(7), api.sent[0].ChatID)
}

func TestBroadcastIgnoresOtherPlayers(t *testing.T) {
	b, api, _, _ := newBot(t, "")
	ctx := context.Background()

	require.NoError(t, b.Broadcast(ctx, command.Response{Key: "gaze", Player: "relay-1", Value: "relay-1 x"}))
	assert.Empty(t, api.sent)

	require.NoError(t, b.Broadcast(ctx, command.Response{Key: "gaze", Player: "tg:5", Value: "tg:5 BTCUSDT {}"}))
	require.Len(t, api.sent, 1)
	assert.Equal(t, "BTCUSDT {}", api.sent[0].Text)

	assert.Error(t, b.Broadcast(ctx, command.Response{Player: "tg:abc"}))
}
