package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/LADAN401/Elite-Degen/internal/logger"
)

var (
	// ErrDeliveryFailed is returned when a message could not be delivered
	ErrDeliveryFailed = errors.New("telegram delivery failed")
	// ErrBlocked is returned when the user blocked the bot or the chat is gone
	ErrBlocked = fmt.Errorf("%w: bot blocked by user", ErrDeliveryFailed)
)

const maxRetryAfter = 30 * time.Second

// Sender is the part of the Bot API used for delivery
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Config holds Telegram notifier configuration
type Config struct {
	RetryCount int
	// Backoff is multiplied by attempt squared between retries
	Backoff time.Duration
}

// Notifier delivers messages through the Bot API with retries
type Notifier struct {
	bot    Sender
	config Config
	log    logger.Logger
}

// NewNotifier creates a new Telegram notifier
func NewNotifier(bot Sender, cfg Config, log logger.Logger) *Notifier {
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	}
	return &Notifier{
		bot:    bot,
		config: cfg,
		log:    log.With(logger.F("component", "telegram")),
	}
}

// SendMarkdown sends a Markdown message with an optional keyboard
func (n *Notifier) SendMarkdown(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	return n.deliver(ctx, msg)
}

// SendAlert delivers a wallet alert. It satisfies the listener's sender.
func (n *Notifier) SendAlert(ctx context.Context, chatID int64, text string) error {
	_, err := n.SendMarkdown(ctx, chatID, text, nil)
	return err
}

// SendText sends a plain text message
func (n *Notifier) SendText(ctx context.Context, chatID int64, text string) (tgbotapi.Message, error) {
	return n.deliver(ctx, tgbotapi.NewMessage(chatID, text))
}

// SendPhoto sends a photo by URL with a Markdown caption
func (n *Notifier) SendPhoto(ctx context.Context, chatID int64, photoURL, caption string, markup *tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(photoURL))
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeMarkdown
	if markup != nil {
		photo.ReplyMarkup = *markup
	}
	return n.deliver(ctx, photo)
}

// EditMarkdown replaces the text of a message, or its caption when the
// message is a photo. An unchanged message is not an error.
func (n *Notifier) EditMarkdown(ctx context.Context, chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup, caption bool) error {
	var edit tgbotapi.Chattable
	if caption {
		cfg := tgbotapi.NewEditMessageCaption(chatID, messageID, text)
		cfg.ParseMode = tgbotapi.ModeMarkdown
		cfg.ReplyMarkup = markup
		edit = cfg
	} else {
		cfg := tgbotapi.NewEditMessageText(chatID, messageID, text)
		cfg.ParseMode = tgbotapi.ModeMarkdown
		cfg.DisableWebPagePreview = true
		cfg.ReplyMarkup = markup
		edit = cfg
	}

	_, err := n.deliver(ctx, edit)
	if err != nil && isNotModified(err) {
		return nil
	}
	return err
}

// AnswerCallback acknowledges a button press
func (n *Notifier) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := n.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	return nil
}

// deliver sends with retry logic
func (n *Notifier) deliver(ctx context.Context, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	var lastErr error

	for i := 0; i <= n.config.RetryCount; i++ {
		if i > 0 {
			backoff := time.Duration(i*i) * n.config.Backoff
			if wait := retryAfter(lastErr); wait > backoff {
				backoff = wait
			}
			select {
			case <-ctx.Done():
				return tgbotapi.Message{}, fmt.Errorf("%w: %v", ErrDeliveryFailed, ctx.Err())
			case <-time.After(backoff):
			}
		}

		msg, err := n.bot.Send(c)
		if err == nil {
			return msg, nil
		}

		lastErr = err
		if !retryable(err) {
			break
		}
		n.log.Warn("telegram send failed, retrying",
			logger.F("attempt", i+1),
			logger.F("max_retries", n.config.RetryCount),
			logger.F("error", err),
		)
	}

	if isBlocked(lastErr) {
		return tgbotapi.Message{}, fmt.Errorf("%w: %v", ErrBlocked, lastErr)
	}
	return tgbotapi.Message{}, fmt.Errorf("%w: %v", ErrDeliveryFailed, lastErr)
}

// Broadcast sends text to every chat and returns the first error. A failed
// chat does not stop delivery to the others.
func (n *Notifier) Broadcast(ctx context.Context, chatIDs []int64, text string) error {
	var firstErr error
	for _, id := range chatIDs {
		if _, err := n.SendMarkdown(ctx, id, text, nil); err != nil {
			n.log.Error("failed to broadcast",
				logger.F("chat_id", id),
				logger.F("error", err),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func apiError(err error) (*tgbotapi.Error, bool) {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// retryable reports whether err is worth another attempt. Client errors are
// final except for rate limiting.
func retryable(err error) bool {
	apiErr, ok := apiError(err)
	if !ok {
		return true
	}
	return apiErr.Code == 429 || apiErr.Code >= 500
}

func retryAfter(err error) time.Duration {
	apiErr, ok := apiError(err)
	if !ok || apiErr.RetryAfter <= 0 {
		return 0
	}
	wait := time.Duration(apiErr.RetryAfter) * time.Second
	if wait > maxRetryAfter {
		wait = maxRetryAfter
	}
	return wait
}

func isBlocked(err error) bool {
	apiErr, ok := apiError(err)
	return ok && apiErr.Code == 403
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}
