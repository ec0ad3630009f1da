// Package notify pushes operator-facing alerts over Telegram. All methods
// are safe to call on a nil notifier so callers never branch on whether
// notifications are configured.
package notify

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v3"
)

// Telegram sends alerts to one chat
type Telegram struct {
	bot    *tele.Bot
	chatID int64
	logger zerolog.Logger
}

// NewTelegram connects the bot. Returns an error only when a token is given
// but the connection fails; callers treat a nil notifier as disabled.
func NewTelegram(token string, chatID int64, logger zerolog.Logger) (*Telegram, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	return &Telegram{
		bot:    bot,
		chatID: chatID,
		logger: logger.With().Str("component", "notify").Logger(),
	}, nil
}

func (t *Telegram) send(text string) {
	if t == nil || t.bot == nil {
		return
	}
	if _, err := t.bot.Send(tele.ChatID(t.chatID), text); err != nil {
		t.logger.Warn().Err(err).Msg("telegram send failed")
	}
}

// NotifyBreakerTripped alerts that automated trading was force-disabled
func (t *Telegram) NotifyBreakerTripped(userID, reason string) {
	t.send(fmt.Sprintf("🛑 Circuit breaker tripped for %s\n%s\nTrading disabled until parameters change.", userID, reason))
}

// NotifyStrategyAdjusted alerts a tier downgrade
func (t *Telegram) NotifyStrategyAdjusted(userID, fromTier, toTier string, streak int) {
	t.send(fmt.Sprintf("⚙️ Strategy adjusted for %s: %s → %s after %d consecutive losses", userID, fromTier, toTier, streak))
}

// NotifyPositionClosed reports a closed position with its realized result
func (t *Telegram) NotifyPositionClosed(userID, symbol, reason string, realizedPnL float64) {
	icon := "✅"
	if realizedPnL < 0 {
		icon = "🔻"
	}
	t.send(fmt.Sprintf("%s %s closed (%s): %+.2f USDT", icon, symbol, reason, realizedPnL))
}
