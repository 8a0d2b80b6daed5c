package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/LADAN401/Elite-Degen/internal/detect"
	"github.com/LADAN401/Elite-Degen/internal/logger"
	"github.com/LADAN401/Elite-Degen/internal/metrics"
	"github.com/LADAN401/Elite-Degen/internal/redis"
	"github.com/LADAN401/Elite-Degen/internal/registry"
	"github.com/LADAN401/Elite-Degen/pkg/models"
)

// Telegram rejects photo captions longer than this
const maxCaptionLength = 1024

// Bot is the part of tgbotapi.BotAPI the router uses
type Bot interface {
	Sender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Scanner resolves scan queries
type Scanner interface {
	Scan(ctx context.Context, q models.Query) (*models.ScanResult, error)
	Rescan(ctx context.Context, q models.Query) (*models.ScanResult, error)
}

// Throttle limits scans per user. It returns redis.ErrRateLimited when the
// user is over the limit.
type Throttle interface {
	AllowUser(ctx context.Context, userID int64) error
}

// RouterConfig holds router configuration
type RouterConfig struct {
	Workers        int
	QueueSize      int
	PollTimeout    int
	HandlerTimeout time.Duration
	StopTimeout    time.Duration
}

// Router dispatches Telegram updates to their handlers. Updates are queued
// and handled by a fixed pool of workers.
type Router struct {
	bot       Bot
	notifier  *Notifier
	scanner   Scanner
	registry  *registry.Registry
	formatter *Formatter
	throttle  Throttle
	log       logger.Logger
	cfg       RouterConfig

	queue chan tgbotapi.Update
	wg    sync.WaitGroup
}

// NewRouter creates a new router
func NewRouter(bot Bot, notifier *Notifier, scanner Scanner, reg *registry.Registry, formatter *Formatter, log logger.Logger, cfg RouterConfig) *Router {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 60
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}

	return &Router{
		bot:       bot,
		notifier:  notifier,
		scanner:   scanner,
		registry:  reg,
		formatter: formatter,
		log:       log.With(logger.F("component", "router")),
		cfg:       cfg,
		queue:     make(chan tgbotapi.Update, cfg.QueueSize),
	}
}

// SetThrottle enables per-user scan throttling
func (r *Router) SetThrottle(t Throttle) {
	r.throttle = t
}

// Run long-polls updates until ctx is done, then drains the queue
func (r *Router) Run(ctx context.Context) error {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = r.cfg.PollTimeout
	updates := r.bot.GetUpdatesChan(u)

	r.log.Info("router started", logger.F("workers", r.cfg.Workers))

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case update, ok := <-updates:
			if !ok {
				break loop
			}
			select {
			case r.queue <- update:
			case <-ctx.Done():
				break loop
			}
		}
	}

	r.bot.StopReceivingUpdates()
	r.stop()
	return nil
}

// stop closes the queue and waits for workers with a timeout
func (r *Router) stop() {
	close(r.queue)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Debug("all router workers stopped gracefully")
	case <-time.After(r.cfg.StopTimeout):
		r.log.Warn("router workers shutdown timeout")
	}
}

func (r *Router) worker(ctx context.Context, id int) {
	defer r.wg.Done()

	log := r.log.With(logger.F("worker_id", id))
	log.Debug("worker started")

	// queued updates are still answered after ctx is done, with a fresh
	// deadline, so nothing accepted from Telegram is silently lost
	base := context.WithoutCancel(ctx)
	for update := range r.queue {
		r.safeHandle(base, update)
	}
	log.Debug("worker stopped")
}

func (r *Router) safeHandle(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic while handling update",
				logger.F("update_id", update.UpdateID),
				logger.F("panic", fmt.Sprint(rec)),
			)
		}
	}()
	r.HandleUpdate(ctx, update)
}

// HandleUpdate dispatches one update by shape
func (r *Router) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.HandlerTimeout)
	defer cancel()

	ctx = logger.ContextWithRequestID(ctx, uuid.NewString())
	ctx = logger.ContextWithUpdateID(ctx, update.UpdateID)
	if chat := update.FromChat(); chat != nil {
		ctx = logger.ContextWithChatID(ctx, chat.ID)
	}

	switch {
	case update.CallbackQuery != nil:
		metrics.UpdatesTotal.WithLabelValues("callback").Inc()
		r.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		metrics.UpdatesTotal.WithLabelValues("command").Inc()
		r.handleCommand(ctx, update.Message)
	case update.Message != nil && update.Message.Text != "":
		metrics.UpdatesTotal.WithLabelValues("text").Inc()
		r.handleText(ctx, update.Message)
	default:
		metrics.UpdatesTotal.WithLabelValues("other").Inc()
	}
}

func (r *Router) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	r.log.WithContext(ctx).Debug("command received", logger.F("command", msg.Command()))

	switch msg.Command() {
	case "start":
		r.reply(ctx, chatID, r.formatter.Greeting())
	case "help":
		r.reply(ctx, chatID, r.formatter.Help())
	case "scan":
		if args == "" {
			r.replyPlain(ctx, chatID, UsageScan)
			return
		}
		q, err := detect.ParseQuery(strings.Fields(args)[0])
		if err != nil {
			r.replyPlain(ctx, chatID, UserMessage(err))
			return
		}
		r.scan(ctx, msg, q)
	case "add":
		r.handleAdd(ctx, chatID, args)
	case "remove":
		r.handleRemove(ctx, chatID, args)
	case "list":
		r.reply(ctx, chatID, r.formatter.FormatWalletList(r.registry.List(chatID)))
	default:
		r.reply(ctx, chatID, r.formatter.Help())
	}
}

// handleText scans the first address or ticker in free text. Messages with
// neither are ignored.
func (r *Router) handleText(ctx context.Context, msg *tgbotapi.Message) {
	q, err := detect.Recognize(msg.Text)
	if errors.Is(err, detect.ErrNoMatch) {
		return
	}
	if err != nil {
		r.replyPlain(ctx, msg.Chat.ID, UserMessage(err))
		return
	}
	r.scan(ctx, msg, q)
}

func (r *Router) handleAdd(ctx context.Context, chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		r.replyPlain(ctx, chatID, UsageAdd)
		return
	}

	entry, err := r.registry.Add(chatID, fields[0], strings.Join(fields[1:], " "))
	if err != nil {
		r.replyPlain(ctx, chatID, UserMessage(err))
		return
	}

	r.log.WithContext(ctx).Info("wallet tracked", logger.F("wallet", entry.Address))
	r.reply(ctx, chatID, r.formatter.FormatWalletAdded(entry))
}

func (r *Router) handleRemove(ctx context.Context, chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		r.replyPlain(ctx, chatID, UsageRemove)
		return
	}

	address, err := detect.NormalizeAddress(fields[0])
	if err != nil {
		r.replyPlain(ctx, chatID, UserMessage(err))
		return
	}

	removed := r.registry.Remove(chatID, address)
	r.reply(ctx, chatID, r.formatter.FormatWalletRemoved(address, removed))
}

// scan runs a query and replies with the result, as a photo when the token
// has a banner
func (r *Router) scan(ctx context.Context, msg *tgbotapi.Message, q models.Query) {
	chatID := msg.Chat.ID
	log := r.log.WithContext(ctx).With(
		logger.F("kind", string(q.Kind)),
		logger.F("query", q.Value),
	)

	if err := r.allow(ctx, msg.From, chatID); err != nil {
		r.replyPlain(ctx, chatID, UserMessage(err))
		return
	}

	res, err := r.scanner.Scan(ctx, q)
	metrics.ObserveScan(err)
	if err != nil {
		log.Warn("scan failed", logger.F("error", err))
		r.replyPlain(ctx, chatID, UserMessage(err))
		return
	}

	text, keyboard := r.formatter.FormatScan(res)
	if banner := bannerURL(res); banner != "" && len(text) <= maxCaptionLength {
		_, err := r.notifier.SendPhoto(ctx, chatID, banner, text, &keyboard)
		if err == nil {
			return
		}
		log.Warn("failed to send banner, falling back to text", logger.F("error", err))
	}

	if _, err := r.notifier.SendMarkdown(ctx, chatID, text, &keyboard); err != nil {
		log.Error("failed to send scan result", logger.F("error", err))
	}
}

// handleCallback re-runs a scan for a refresh button and edits the message
// in place. The callback is always answered.
func (r *Router) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	log := r.log.WithContext(ctx)
	answer := ""
	defer func() {
		if err := r.notifier.AnswerCallback(ctx, cb.ID, answer); err != nil {
			log.Warn("failed to answer callback", logger.F("error", err))
		}
	}()

	chain, address, ok := ParseRefreshData(cb.Data)
	if !ok || cb.Message == nil {
		log.Debug("ignoring callback", logger.F("data", cb.Data))
		return
	}

	chatID := cb.Message.Chat.ID
	if err := r.allow(ctx, cb.From, chatID); err != nil {
		answer = UserMessage(err)
		return
	}

	q := models.Query{Kind: models.QueryAddress, Value: address, Chain: chain}
	res, err := r.scanner.Rescan(ctx, q)
	metrics.ObserveScan(err)
	if err != nil {
		log.Warn("refresh failed", logger.F("error", err), logger.F("address", address))
		answer = UserMessage(err)
		return
	}

	text, keyboard := r.formatter.FormatScan(res)
	caption := len(cb.Message.Photo) > 0
	if caption {
		text = truncateLines(text, maxCaptionLength)
	}
	if err := r.notifier.EditMarkdown(ctx, chatID, cb.Message.MessageID, text, &keyboard, caption); err != nil {
		log.Error("failed to edit scan result", logger.F("error", err))
		answer = MsgInternal
		return
	}
	answer = "🔄 Refreshed"
}

// allow applies the scan throttle. Throttle outages fail open.
func (r *Router) allow(ctx context.Context, from *tgbotapi.User, chatID int64) error {
	if r.throttle == nil {
		return nil
	}

	userID := chatID
	if from != nil {
		userID = from.ID
	}

	err := r.throttle.AllowUser(ctx, userID)
	if err == nil || errors.Is(err, redis.ErrRateLimited) {
		return err
	}

	r.log.WithContext(ctx).Warn("scan throttle unavailable", logger.F("error", err))
	return nil
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	if _, err := r.notifier.SendMarkdown(ctx, chatID, text, nil); err != nil {
		r.log.WithContext(ctx).Error("failed to send reply", logger.F("error", err))
	}
}

// replyPlain sends fixed messages without Markdown so usage strings with
// angle brackets and underscores render verbatim
func (r *Router) replyPlain(ctx context.Context, chatID int64, text string) {
	if _, err := r.notifier.SendText(ctx, chatID, text); err != nil {
		r.log.WithContext(ctx).Error("failed to send reply", logger.F("error", err))
	}
}

// truncateLines cuts text at the last line break that fits in limit bytes.
// Every line of a scan is self-contained Markdown so the result stays valid.
func truncateLines(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	if i := strings.LastIndex(text[:limit], "\n"); i > 0 {
		return text[:i]
	}
	return ""
}

func bannerURL(res *models.ScanResult) string {
	if res.Profile == nil {
		return ""
	}
	return res.Profile.HeaderURL
}
