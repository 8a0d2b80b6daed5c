package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/LADAN401/Elite-Degen/internal/config"
	"github.com/LADAN401/Elite-Degen/internal/listener"
	"github.com/LADAN401/Elite-Degen/internal/logger"
	"github.com/LADAN401/Elite-Degen/internal/marketdata"
	"github.com/LADAN401/Elite-Degen/internal/mempool"
	"github.com/LADAN401/Elite-Degen/internal/memstore"
	"github.com/LADAN401/Elite-Degen/internal/metrics"
	intRedis "github.com/LADAN401/Elite-Degen/internal/redis"
	"github.com/LADAN401/Elite-Degen/internal/registry"
	"github.com/LADAN401/Elite-Degen/internal/telegram"
	"github.com/LADAN401/Elite-Degen/internal/web"
	"github.com/LADAN401/Elite-Degen/internal/web/handlers"
	"github.com/LADAN401/Elite-Degen/internal/websocket"
)

// Flags
var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	debug      = flag.Bool("debug", false, "Enable debug mode")
)

// Application holds all application components
type Application struct {
	cfg *config.Config
	log logger.Logger

	bot          *tgbotapi.BotAPI
	notifier     *telegram.Notifier
	formatter    *telegram.Formatter
	router       *telegram.Router
	registry     *registry.Registry
	scanner      *marketdata.Scanner
	redisClient  *intRedis.Client
	deduplicator *intRedis.Deduplicator
	source       listener.Source
	listener     *listener.Listener
	webServer    *web.Server

	wg sync.WaitGroup
}

func main() {
	flag.Parse()

	if v := os.Getenv("CONFIG_PATH"); v != "" {
		*configPath = v
	}
	if v := os.Getenv("DEBUG"); v == "true" || v == "1" {
		*debug = true
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", logger.F("error", err))
	}
	if *debug {
		cfg.Logger.Level = "debug"
	}

	log, closeLog, err := initLogger(cfg)
	if err != nil {
		logger.Fatal("failed to initialize logger", logger.F("error", err))
	}
	defer closeLog()

	log.Info("starting elite-degen",
		logger.F("app", cfg.App.Name),
		logger.F("env", cfg.App.Environment),
		logger.F("chains", cfg.MarketData.Chains),
		logger.F("stream_enabled", cfg.Stream.Enabled),
		logger.F("redis_enabled", cfg.IsRedisEnabled()),
		logger.F("web_enabled", cfg.Web.Enabled),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := &Application{cfg: cfg, log: log}

	if err := app.initialize(ctx); err != nil {
		log.Fatal("failed to initialize application", logger.F("error", err))
	}

	app.start(ctx)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	sig := <-shutdown
	log.Info("shutdown signal received", logger.F("signal", sig.String()))

	app.shutdown(cancel)
}

// initialize builds every component. Redis is optional; without it the
// scan cache and throttle are kept in memory and alerts are not deduplicated.
func (app *Application) initialize(ctx context.Context) error {
	cfg := app.cfg
	log := app.log

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		return fmt.Errorf("failed to connect to telegram: %w", err)
	}
	bot.Debug = *debug
	app.bot = bot
	log.Info("authorized on telegram", logger.F("username", bot.Self.UserName))

	app.notifier = telegram.NewNotifier(bot, telegram.Config{
		RetryCount: cfg.Telegram.RetryCount,
	}, log)
	app.formatter = telegram.NewFormatter(cfg)

	client := marketdata.NewClient(cfg.MarketData, log)
	client.SetObserver(metrics.ObserveUpstream)
	app.scanner = marketdata.NewScanner(client, cfg.MarketData.Chains, log)

	app.registry = registry.New()
	app.registry.OnChange(func() {
		_, entries := app.registry.Stats()
		metrics.TrackedWallets.Set(float64(entries))
	})

	app.router = telegram.NewRouter(bot, app.notifier, app.scanner, app.registry, app.formatter, log, telegram.RouterConfig{
		Workers:        cfg.Telegram.Workers,
		QueueSize:      cfg.Telegram.QueueSize,
		PollTimeout:    cfg.Telegram.PollTimeout,
		HandlerTimeout: cfg.Telegram.Timeout,
	})

	if cfg.IsRedisEnabled() {
		app.initializeRedis(ctx)
	}
	if app.redisClient == nil {
		app.scanner.SetCache(memstore.NewScanCache(cfg.MarketData.CacheTTL))
		app.router.SetThrottle(memstore.NewThrottle(cfg.Redis.RateLimitMax, cfg.Redis.RateLimitWindow))
		log.Info("using in-memory scan cache and throttle")
	}

	if cfg.Stream.Enabled {
		app.initializeStream()
	}

	if cfg.Web.Enabled {
		var feed handlers.FeedStatus
		if app.listener != nil {
			feed = app.listener
		}
		server, err := web.NewServer(web.Config{
			Host:    cfg.Web.Host,
			Port:    cfg.Web.Port,
			AppName: cfg.App.Name,
			Debug:   *debug,
			Token:   cfg.Web.Token,
		}, app.registry, feed, log)
		if err != nil {
			return fmt.Errorf("failed to create web server: %w", err)
		}
		if app.redisClient != nil {
			server.AddHealthCheck("redis", app.redisClient)
		}
		app.webServer = server
	}

	return nil
}

// initializeRedis wires the scan cache, the scan throttle and alert
// deduplication
func (app *Application) initializeRedis(ctx context.Context) {
	cfg := app.cfg
	log := app.log

	client, err := intRedis.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Warn("redis unavailable, continuing without cache and throttling", logger.F("error", err))
		return
	}
	app.redisClient = client

	app.scanner.SetCache(intRedis.NewScanCache(client, cfg.MarketData.CacheTTL, log))
	app.router.SetThrottle(intRedis.NewRateLimiter(client, intRedis.RateLimitConfig{
		Limit:  cfg.Redis.RateLimitMax,
		Window: cfg.Redis.RateLimitWindow,
	}, log))
	app.deduplicator = intRedis.NewDeduplicator(client, cfg.Redis.DedupTTL, log)

	log.Info("redis helpers enabled", logger.F("instance_id", app.deduplicator.InstanceID()))
}

// initializeStream picks the feed for the configured provider
func (app *Application) initializeStream() {
	cfg := app.cfg
	log := app.log

	switch cfg.Stream.Provider {
	case config.StreamProviderRPC:
		app.source = mempool.NewWatcher(mempool.ConfigFromStream(cfg.Stream), log)
	default:
		feed := websocket.NewFeed(websocket.ConfigFromStream(cfg.Stream), app.registry.Addresses, cfg.Stream.FilterAddresses, log)
		app.registry.OnChange(feed.Subscriptions().Notify)
		app.source = feed
	}

	app.listener = listener.New(app.source, app.registry, app.formatter, app.notifier, log, listener.Config{
		QueueSize: cfg.Stream.QueueSize,
	})
	if app.deduplicator != nil {
		app.listener.SetDeduplicator(app.deduplicator)
	}
}

// start launches the router, the listener and the web server
func (app *Application) start(ctx context.Context) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		if err := app.router.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			app.log.Error("router stopped", logger.F("error", err))
		}
	}()

	if app.listener != nil {
		app.wg.Add(1)
		go func() {
			defer app.wg.Done()
			app.runListener(ctx)
		}()
	}

	if app.webServer != nil {
		go func() {
			if err := app.webServer.Start(); err != nil {
				app.log.Error("web server error", logger.F("error", err))
			}
		}()
	}

	app.notifyAdmins(ctx, fmt.Sprintf("✅ Bot started\nChains: %s\nWallet alerts: %s",
		strings.Join(app.cfg.MarketData.Chains, ", "), onOff(app.listener != nil)))

	app.log.Info("application started successfully")
}

// runListener runs the alert listener. When the feed gives up the bot keeps
// serving scans and the admins are told alerts are down.
func (app *Application) runListener(ctx context.Context) {
	err := app.listener.Run(ctx)
	if ctx.Err() != nil {
		return
	}

	app.log.Error("wallet alerts stopped", logger.F("error", err))
	app.notifyAdmins(ctx, "⚠️ Wallet alerts stopped: the pending transaction feed is unreachable. Scans still work.")
}

func (app *Application) notifyAdmins(ctx context.Context, text string) {
	if len(app.cfg.Telegram.AdminChatIDs) == 0 {
		return
	}

	notifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := app.notifier.Broadcast(notifyCtx, app.cfg.Telegram.AdminChatIDs, text); err != nil {
		app.log.Warn("failed to notify admins", logger.F("error", err))
	}
}

// shutdown performs graceful shutdown of all components
func (app *Application) shutdown(cancel context.CancelFunc) {
	app.log.Info("starting graceful shutdown")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if app.webServer != nil {
		if err := app.webServer.Shutdown(shutdownCtx); err != nil {
			app.log.Error("error shutting down web server", logger.F("error", err))
		}
	}

	// Close the feed first so no new events arrive while the queue drains
	if app.source != nil {
		if err := app.source.Close(); err != nil {
			app.log.Error("error closing feed", logger.F("error", err))
		}
	}

	done := make(chan struct{})
	go func() {
		app.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		app.log.Warn("shutdown timeout, forcing exit")
	}

	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			app.log.Error("error closing redis client", logger.F("error", err))
		}
	}

	app.log.Info("graceful shutdown completed")
}

// initLogger initializes the logger based on configuration
func initLogger(cfg *config.Config) (logger.Logger, func() error, error) {
	output, closer, err := logger.OpenOutput(cfg.Logger.Output)
	if err != nil {
		return nil, nil, err
	}

	log := logger.New(logger.Config{
		Level:      logger.ParseLevel(cfg.Logger.Level),
		Format:     cfg.Logger.Format,
		Output:     output,
		TimeFormat: cfg.Logger.TimeFormat,
		AppName:    cfg.App.Name,
	})

	logger.SetGlobal(log)
	return log, closer, nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
