package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"walletgate/internal/bus"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram is an out-of-band notifier: it mirrors decision-path events to a
// chat so the user sees warnings even when the popup is not in view. It
// never carries verdicts.
type Telegram struct {
	token     string
	chatID    int64
	parseMode string

	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	ChatID    int64
	ParseMode string
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	return &Telegram{
		token:     cfg.Token,
		chatID:    cfg.ChatID,
		parseMode: cfg.ParseMode,
		logger:    cfg.Logger,
	}
}

// Connect initializes the bot API client.
func (t *Telegram) Connect() error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram notifier connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return nil
}

// Notify sends a plain notification to the configured chat.
func (t *Telegram) Notify(ctx context.Context, text string) error {
	if t.bot == nil {
		return fmt.Errorf("telegram notifier not connected")
	}
	t.sendMessage(t.chatID, text)
	return nil
}

// Watch subscribes to decision-path events and mirrors them to the chat.
func (t *Telegram) Watch(events *bus.EventBus) {
	events.On(bus.EventWarningPrompted, func(e bus.Event) {
		kind, _ := e.Payload["kind"].(string)
		hostname, _ := e.Payload["hostname"].(string)
		t.sendMessage(t.chatID, fmt.Sprintf("⚠️ %s warning raised for *%s*", kind, hostname))
	})
	events.On(bus.EventVerdictDelivered, func(e bus.Event) {
		approved, _ := e.Payload["approved"].(bool)
		id, _ := e.Payload["request_id"].(string)
		result := "denied ❌"
		if approved {
			result = "approved ✅"
		}
		t.sendMessage(t.chatID, fmt.Sprintf("Request `%s` %s", id, result))
	})
	events.On(bus.EventPopupFailed, func(e bus.Event) {
		id, _ := e.Payload["request_id"].(string)
		t.sendMessage(t.chatID, fmt.Sprintf("🚨 Popup failed for request `%s` — it was allowed through", id))
	})
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	// Telegram has a 4096 char limit per message
	const maxLen = telegramMaxMsgLen
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends a single message chunk with retry and rate limit handling.
// Strategy: try Markdown first → on parse error fallback to plain text → retry with backoff.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}
		// On subsequent attempts: send as plain text (parse mode may be malformed).

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		// Handle Telegram rate limiting (HTTP 429).
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		// Markdown parse error on first attempt — immediately retry as plain text.
		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode,
			)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plainMsg); err2 == nil {
				return
			}
			// Plain also failed — fall through to backoff loop.
		}

		// Exponential backoff for other transient errors.
		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
