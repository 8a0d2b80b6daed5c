package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/template/html/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LADAN401/Elite-Degen/internal/logger"
	"github.com/LADAN401/Elite-Degen/internal/web/handlers"
)

//go:embed templates
var templatesFS embed.FS

// Server represents the HTTP server
type Server struct {
	app    *fiber.App
	log    logger.Logger
	addr   string
	status *handlers.StatusHandler
}

// Config holds server configuration
type Config struct {
	Host    string
	Port    int
	AppName string
	Debug   bool
	// Token, when set, is required as a bearer token on every route except
	// /health and /metrics
	Token string
	// AccessLog receives one line per request, stdout when nil
	AccessLog io.Writer
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, wallets handlers.WalletSource, feed handlers.FeedStatus, log logger.Logger) (*Server, error) {
	views, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		return nil, fmt.Errorf("failed to open templates: %w", err)
	}

	engine := html.NewFileSystem(http.FS(views), ".html")
	engine.AddFunc("short", func(address string) string {
		if len(address) <= 12 {
			return address
		}
		return address[:6] + "..." + address[len(address)-4:]
	})
	if cfg.Debug {
		engine.Debug(true)
	}

	srvLog := log.With(logger.F("component", "web-server"))

	app := fiber.New(fiber.Config{
		Views:                 engine,
		ViewsLayout:           "layouts/main",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}

			if code >= fiber.StatusInternalServerError {
				srvLog.Error("HTTP error", logger.F("error", err), logger.F("code", code))
			}

			if strings.HasPrefix(c.Path(), "/api") {
				return c.Status(code).JSON(fiber.Map{"error": err.Error()})
			}

			return c.Status(code).Render("error", fiber.Map{
				"Title":   "Error",
				"Code":    code,
				"Message": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${method} ${path} ${latency}\n",
		Output: cfg.AccessLog,
	}))
	if cfg.Token != "" {
		app.Use(keyauth.New(keyauth.Config{
			Next: func(c *fiber.Ctx) bool {
				return c.Path() == "/health" || c.Path() == "/metrics"
			},
			KeyLookup:  "header:" + fiber.HeaderAuthorization,
			AuthScheme: "Bearer",
			Validator: func(_ *fiber.Ctx, key string) (bool, error) {
				if subtle.ConstantTimeCompare([]byte(key), []byte(cfg.Token)) == 1 {
					return true, nil
				}
				return false, keyauth.ErrMissingOrMalformedAPIKey
			},
			ErrorHandler: func(_ *fiber.Ctx, _ error) error {
				return fiber.NewError(fiber.StatusUnauthorized, "missing or invalid token")
			},
		}))
	}

	server := &Server{
		app:    app,
		log:    srvLog,
		addr:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		status: handlers.NewStatusHandler(cfg.AppName, wallets, feed, log),
	}

	server.status.RegisterRoutes(app)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return server, nil
}

// AddHealthCheck registers a dependency reported by /health
func (s *Server) AddHealthCheck(name string, check handlers.HealthChecker) {
	s.status.AddCheck(name, check)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("starting web server", logger.F("addr", s.addr))
	return s.app.Listen(s.addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down web server")
	return s.app.ShutdownWithContext(ctx)
}
