package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"

	"github.com/LADAN401/Elite-Degen/internal/listener"
	"github.com/LADAN401/Elite-Degen/internal/logger"
	"github.com/LADAN401/Elite-Degen/internal/registry"
)

// WalletSource is the read side of the wallet registry
type WalletSource interface {
	Stats() (owners, entries int)
	ScanAll() []registry.Match
	List(owner int64) []registry.Entry
}

// FeedStatus reports the alert listener state
type FeedStatus interface {
	Running() bool
	Stats() listener.Stats
}

// HealthChecker reports the health of an optional dependency
type HealthChecker interface {
	Health(ctx context.Context) map[string]interface{}
}

// StatusHandler serves the status page and the read-only API
type StatusHandler struct {
	appName   string
	wallets   WalletSource
	feed      FeedStatus
	checks    map[string]HealthChecker
	startedAt time.Time
	log       logger.Logger
}

// NewStatusHandler creates a new status handler. feed may be nil when the
// stream is disabled.
func NewStatusHandler(appName string, wallets WalletSource, feed FeedStatus, log logger.Logger) *StatusHandler {
	return &StatusHandler{
		appName:   appName,
		wallets:   wallets,
		feed:      feed,
		checks:    make(map[string]HealthChecker),
		startedAt: time.Now(),
		log:       log.With(logger.F("component", "status-handler")),
	}
}

// AddCheck registers a dependency reported by /health
func (h *StatusHandler) AddCheck(name string, check HealthChecker) {
	h.checks[name] = check
}

// RegisterRoutes registers all status routes
func (h *StatusHandler) RegisterRoutes(app *fiber.App) {
	app.Get("/", h.IndexPage)
	app.Get("/health", h.Health)

	api := app.Group("/api")
	api.Get("/wallets", h.GetWallets)
	api.Get("/wallets/:owner", h.GetOwnerWallets)
	api.Get("/feed", h.GetFeed)
}

// IndexPage renders the status page
func (h *StatusHandler) IndexPage(c *fiber.Ctx) error {
	owners, entries := h.wallets.Stats()

	data := fiber.Map{
		"Title":   h.appName,
		"Uptime":  humanize.Time(h.startedAt),
		"Started": h.startedAt.UTC().Format(time.RFC3339),
		"Owners":  owners,
		"Entries": entries,
		"Wallets": h.wallets.ScanAll(),
		"Stream":  false,
	}
	if h.feed != nil {
		data["Stream"] = true
		data["Running"] = h.feed.Running()
		data["Feed"] = h.feed.Stats()
	}

	return c.Render("index", data)
}

// Health reports process and dependency health. Any dependency that is not up
// turns the response into 503.
func (h *StatusHandler) Health(c *fiber.Ctx) error {
	status := "healthy"
	code := fiber.StatusOK

	components := fiber.Map{}
	for name, check := range h.checks {
		result := check.Health(c.UserContext())
		if result["status"] != "up" {
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}
		components[name] = result
	}
	if h.feed != nil {
		components["stream"] = fiber.Map{"running": h.feed.Running()}
	}

	return c.Status(code).JSON(fiber.Map{
		"status":     status,
		"uptime":     time.Since(h.startedAt).Round(time.Second).String(),
		"components": components,
	})
}

// GetWallets returns aggregate counts and every tracked entry
func (h *StatusHandler) GetWallets(c *fiber.Ctx) error {
	owners, entries := h.wallets.Stats()
	return c.JSON(fiber.Map{
		"owners":  owners,
		"entries": entries,
		"wallets": h.wallets.ScanAll(),
	})
}

// GetOwnerWallets returns the entries of one owner
func (h *StatusHandler) GetOwnerWallets(c *fiber.Ctx) error {
	owner, err := strconv.ParseInt(c.Params("owner"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "owner must be a numeric chat id",
		})
	}

	return c.JSON(fiber.Map{
		"owner":   owner,
		"wallets": h.wallets.List(owner),
	})
}

// GetFeed returns the listener counters
func (h *StatusHandler) GetFeed(c *fiber.Ctx) error {
	if h.feed == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "stream disabled",
		})
	}

	return c.JSON(fiber.Map{
		"running": h.feed.Running(),
		"stats":   h.feed.Stats(),
	})
}
