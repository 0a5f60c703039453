package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"onboardbot/internal/domain"
)

const (
	maxSendRetries = 3
	rateLimitStep  = 3 * time.Second
)

// botAPI is the slice of tgbotapi.BotAPI the channel uses; tests stub it.
type botAPI interface {
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Channel adapts the Telegram Bot API to the inbound event and outbound
// reply shapes the engines work with. It pulls updates explicitly with
// an offset so the caller owns cursor persistence.
type Channel struct {
	bot         botAPI
	logger      *slog.Logger
	pollTimeout int
	sleep       func(time.Duration)
}

type Config struct {
	Token string
	// PollTimeoutSeconds is the long-poll timeout passed to getUpdates.
	PollTimeoutSeconds int
	Logger             *slog.Logger
}

func New(cfg Config) (*Channel, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	cfg.Logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	return &Channel{
		bot:         bot,
		logger:      cfg.Logger,
		pollTimeout: cfg.PollTimeoutSeconds,
		sleep:       time.Sleep,
	}, nil
}

// Events long-polls Telegram starting at offset and maps each usable
// update to an InboundEvent. Updates without a message (edits, channel
// posts) still advance the cursor through their ID, so the slice may be
// shorter than what Telegram returned but never skips IDs the caller
// must acknowledge.
func (c *Channel) Events(ctx context.Context, offset int64, limit int) ([]domain.InboundEvent, error) {
	u := tgbotapi.NewUpdate(int(offset))
	u.Limit = limit
	u.Timeout = c.pollTimeout

	updates, err := c.bot.GetUpdates(u)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.Transient("get updates", err)
	}

	events := make([]domain.InboundEvent, 0, len(updates))
	for _, update := range updates {
		ev := domain.InboundEvent{ID: int64(update.UpdateID)}

		msg := update.Message
		if msg == nil || msg.Chat == nil {
			// Non-message update: surface the ID so the cursor moves past it.
			events = append(events, ev)
			continue
		}

		ev.ChatID = msg.Chat.ID
		ev.Text = strings.TrimSpace(msg.Text)
		ev.Timestamp = time.Unix(int64(msg.Date), 0)
		if msg.Contact != nil {
			ev.Contact = &domain.Contact{PhoneNumber: msg.Contact.PhoneNumber}
		}
		events = append(events, ev)
	}
	return events, nil
}

// Send delivers one reply, photo first when present, with retry and
// rate limit handling.
func (c *Channel) Send(ctx context.Context, chatID int64, reply domain.Reply) error {
	if reply.ImagePath != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FilePath(reply.ImagePath))
		if err := c.sendWithRetry(ctx, photo); err != nil {
			// The text still goes out; the image is illustrative.
			c.logger.Warn("photo send failed, sending text only",
				"chat_id", chatID, "path", reply.ImagePath, "err", err)
		}
	}

	if reply.Text == "" {
		return nil
	}

	msg := tgbotapi.NewMessage(chatID, reply.Text)
	switch {
	case len(reply.Keyboard) > 0:
		msg.ReplyMarkup = replyKeyboard(reply.Keyboard)
	case reply.RemoveKeyboard:
		msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(false)
	}
	return c.sendWithRetry(ctx, msg)
}

func replyKeyboard(rows [][]domain.KeyboardButton) tgbotapi.ReplyKeyboardMarkup {
	tgRows := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		tgRow := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, b := range row {
			btn := tgbotapi.NewKeyboardButton(b.Label)
			if b.RequestContact {
				btn = tgbotapi.NewKeyboardButtonContact(b.Label)
			}
			tgRow = append(tgRow, btn)
		}
		tgRows = append(tgRows, tgRow)
	}
	kb := tgbotapi.NewReplyKeyboard(tgRows...)
	kb.OneTimeKeyboard = true
	return kb
}

// sendWithRetry retries transient failures with backoff and honors
// Telegram rate limiting.
func (c *Channel) sendWithRetry(ctx context.Context, m tgbotapi.Chattable) error {
	var lastErr error
	for attempt := 0; attempt <= maxSendRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		_, err := c.bot.Send(m)
		if err == nil {
			return nil
		}
		lastErr = err
		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * rateLimitStep
			c.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1)
			c.sleep(retryAfter)
			continue
		}

		if attempt < maxSendRetries {
			backoff := time.Duration(attempt+1) * time.Second
			c.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			c.sleep(backoff)
			continue
		}
	}
	return domain.Transient("telegram send", lastErr)
}
