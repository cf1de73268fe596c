// Package alert notifies an operator of events that need human attention:
// rollback incidents and session-limit/funding-flip events (spec §7).
// Grounded in the teacher's bot/telegram.go NewTelegramBot construction and
// message-formatting conventions, narrowed from a full control-and-status
// bot down to a send-only incident notifier.
package alert

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Notifier sends operator-facing incident alerts. The Notifier returned by
// NewNoop silently drops alerts, used when Telegram isn't configured.
type Notifier interface {
	RollbackIncident(symbol string, residualQty decimal.Decimal, venue string, lastError string)
	FundingFlip(positionID, symbol string, currentDivergence decimal.Decimal)
	SessionLimitReached(symbol string)
}

type telegramNotifier struct {
	mu     sync.Mutex
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram constructs a Notifier backed by a Telegram bot, reading
// TELEGRAM_BOT_TOKEN / TELEGRAM_CHAT_ID the way the teacher's
// bot.NewTelegramBot does.
func NewTelegram() (Notifier, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	if token == "" {
		return NewNoop(), nil
	}
	chatIDStr := os.Getenv("TELEGRAM_CHAT_ID")
	if chatIDStr == "" {
		return nil, fmt.Errorf("alert: TELEGRAM_CHAT_ID required when TELEGRAM_BOT_TOKEN is set")
	}
	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("alert: invalid TELEGRAM_CHAT_ID: %w", err)
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("alert: failed to create telegram bot: %w", err)
	}
	return &telegramNotifier{api: api, chatID: chatID}, nil
}

func (t *telegramNotifier) send(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := t.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("telegram send failed")
	}
}

func (t *telegramNotifier) RollbackIncident(symbol string, residualQty decimal.Decimal, venue string, lastError string) {
	t.send(fmt.Sprintf("🚨 *Rollback incident* %s on %s\nresidual qty: %s\nlast error: %s", symbol, venue, residualQty.String(), lastError))
}

func (t *telegramNotifier) FundingFlip(positionID, symbol string, currentDivergence decimal.Decimal) {
	t.send(fmt.Sprintf("⚠️ *Funding flip* %s (%s)\ncurrent divergence: %s", symbol, positionID, currentDivergence.String()))
}

func (t *telegramNotifier) SessionLimitReached(symbol string) {
	t.send(fmt.Sprintf("ℹ️ Session position limit reached, skipping new entry for %s", symbol))
}

type noopNotifier struct{}

// NewNoop returns a Notifier that drops every alert, used in tests and
// when Telegram credentials aren't configured.
func NewNoop() Notifier { return noopNotifier{} }

func (noopNotifier) RollbackIncident(string, decimal.Decimal, string, string) {}
func (noopNotifier) FundingFlip(string, string, decimal.Decimal)              {}
func (noopNotifier) SessionLimitReached(string)                               {}

var _ Notifier = (*telegramNotifier)(nil)
var _ Notifier = noopNotifier{}
