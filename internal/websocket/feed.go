package websocket

import (
	"context"
	"net/url"
	"strings"

	"github.com/LADAN401/Elite-Degen/internal/config"
	"github.com/LADAN401/Elite-Degen/internal/listener"
	"github.com/LADAN401/Elite-Degen/internal/logger"
	"github.com/LADAN401/Elite-Degen/internal/metrics"
	"github.com/LADAN401/Elite-Degen/pkg/models"
)

// ConfigFromStream maps the stream section onto the client configuration
func ConfigFromStream(cfg config.StreamConfig) Config {
	return Config{
		URL: cfg.URL,
		Backoff: listener.Backoff{
			Min:        cfg.ReconnectMin,
			Max:        cfg.ReconnectMax,
			MaxRetries: cfg.MaxRetries,
		},
		PingInterval: cfg.PingInterval,
		PongTimeout:  cfg.PongTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
	}
}

// Feed is a listener.Source over an alchemy_pendingTransactions subscription
type Feed struct {
	client *Client
	subs   *SubscriptionManager
	log    logger.Logger
}

// NewFeed creates a feed. addresses supplies the upstream filter when
// filter is set.
func NewFeed(cfg Config, addresses AddressSource, filter bool, log logger.Logger) *Feed {
	client := NewClient(cfg, log)
	return &Feed{
		client: client,
		subs:   NewSubscriptionManager(client, addresses, filter, log),
		log:    log.With(logger.F("component", "websocket-feed")),
	}
}

// Subscriptions exposes the subscription manager so registry changes can
// trigger a resync
func (f *Feed) Subscriptions() *SubscriptionManager {
	return f.subs
}

// Start streams decoded transactions into handle until ctx is done or the
// reconnect budget is exhausted
func (f *Feed) Start(ctx context.Context, handle listener.TxHandler) error {
	f.client.SetHandler(func(event *models.Event) {
		switch event.Type {
		case models.EventTypePendingTx:
			tx, err := event.ParsePendingTx()
			if err != nil {
				metrics.StreamEventsTotal.WithLabelValues("malformed").Inc()
				f.log.Warn("skipping malformed transaction", logger.F("error", err))
				return
			}
			handle(tx)
		case models.EventTypeError:
			f.log.Warn("rpc error from feed", logger.F("error", string(event.Data)))
		default:
			f.log.Debug("ignoring frame", logger.F("type", string(event.Type)))
		}
	})
	f.client.OnConnect(f.subs.Resubscribe)

	go f.subs.Run(ctx)

	return f.client.Run(ctx)
}

// Close stops the feed
func (f *Feed) Close() error {
	return f.client.Close()
}

// redactURL hides API keys carried in the URL path or query
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid url>"
	}
	path := u.Path
	if i := strings.LastIndex(path, "/"); i > 0 && i < len(path)-1 {
		path = path[:i+1] + "***"
	}
	return u.Scheme + "://" + u.Host + path
}
