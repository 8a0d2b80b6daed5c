package websocket

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/LADAN401/Elite-Degen/internal/logger"
	"github.com/LADAN401/Elite-Degen/pkg/models"
)

// MaxFilterAddresses is the largest address filter sent upstream. Larger
// sets fall back to an unfiltered subscription matched locally.
const MaxFilterAddresses = 1000

const pendingTxMethod = "alchemy_pendingTransactions"

// AddressSource returns the currently tracked addresses, sorted
type AddressSource func() []string

// SubscriptionManager keeps the upstream pending transaction subscription in
// step with the tracked wallet set
type SubscriptionManager struct {
	client    *Client
	addresses AddressSource
	filter    bool
	log       logger.Logger

	mu      sync.Mutex
	subID   string
	current []string
	trigger chan struct{}
}

// NewSubscriptionManager creates a new subscription manager. With filter
// off a single unfiltered subscription is kept.
func NewSubscriptionManager(client *Client, addresses AddressSource, filter bool, log logger.Logger) *SubscriptionManager {
	return &SubscriptionManager{
		client:    client,
		addresses: addresses,
		filter:    filter,
		log:       log.With(logger.F("component", "subscription-manager")),
		trigger:   make(chan struct{}, 1),
	}
}

// Resubscribe drops the state of the previous connection and subscribes
// again. It is the client's connect hook.
func (m *SubscriptionManager) Resubscribe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subID = ""
	m.current = nil
	return m.sync(ctx)
}

// Sync re-issues the subscription when the tracked set changed
func (m *SubscriptionManager) Sync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.sync(ctx)
}

// Notify schedules a Sync. Bursts of changes collapse into one.
func (m *SubscriptionManager) Notify() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Run performs scheduled syncs until ctx is done
func (m *SubscriptionManager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.trigger:
			if err := m.Sync(ctx); err != nil {
				if errors.Is(err, ErrNotConnected) {
					// the connect hook will pick up the new set
					m.log.Debug("sync deferred until reconnect")
					continue
				}
				m.log.Error("failed to sync subscription", logger.F("error", err))
			}
		}
	}
}

// SubscriptionID returns the active upstream subscription id
func (m *SubscriptionManager) SubscriptionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subID
}

// Current returns the address filter of the active subscription
func (m *SubscriptionManager) Current() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.current...)
}

func (m *SubscriptionManager) desired() ([]string, bool) {
	if !m.filter {
		return nil, true
	}
	addrs := m.addresses()
	if len(addrs) == 0 {
		return nil, false
	}
	if len(addrs) > MaxFilterAddresses {
		m.log.Warn("too many tracked wallets for an upstream filter, subscribing unfiltered",
			logger.F("count", len(addrs)),
		)
		return nil, true
	}
	return addrs, true
}

func (m *SubscriptionManager) sync(ctx context.Context) error {
	if m.client == nil || !m.client.IsConnected() {
		return ErrNotConnected
	}

	addrs, want := m.desired()
	if m.subID != "" && want && equal(addrs, m.current) {
		return nil
	}
	if m.subID == "" && !want {
		m.log.Info("no tracked wallets, feed idle")
		return nil
	}

	m.log.Info("syncing subscription",
		logger.F("current", len(m.current)),
		logger.F("active", len(addrs)),
		logger.F("to_subscribe", len(difference(addrs, m.current))),
		logger.F("to_unsubscribe", len(difference(m.current, addrs))),
	)

	if m.subID != "" {
		if _, err := m.client.Call(ctx, "eth_unsubscribe", m.subID); err != nil {
			// a stale subscription only costs extra frames, matched locally
			m.log.Warn("failed to unsubscribe", logger.F("error", err), logger.F("subscription", m.subID))
		}
		m.subID = ""
		m.current = nil
	}
	if !want {
		m.log.Info("no tracked wallets, feed idle")
		return nil
	}

	event, err := m.client.Call(ctx, "eth_subscribe", pendingTxMethod, subscribeParams(addrs))
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	if event.Type != models.EventTypeSubscribed {
		return fmt.Errorf("failed to subscribe: unexpected reply %s", string(event.Data))
	}

	m.subID = event.Subscription
	m.current = addrs
	m.log.Info("subscribed to pending transactions",
		logger.F("subscription", m.subID),
		logger.F("filtered", len(addrs) > 0),
		logger.F("addresses", len(addrs)),
	)
	return nil
}

// subscribeParams builds the alchemy_pendingTransactions filter. The
// provider returns transactions matching either list.
func subscribeParams(addrs []string) map[string]interface{} {
	params := map[string]interface{}{
		"hashesOnly": false,
	}
	if len(addrs) > 0 {
		params["fromAddress"] = addrs
		params["toAddress"] = addrs
	}
	return params
}

// difference returns elements in a that are not in b
func difference(a, b []string) []string {
	bSet := make(map[string]bool, len(b))
	for _, item := range b {
		bSet[item] = true
	}

	var result []string
	for _, item := range a {
		if !bSet[item] {
			result = append(result, item)
		}
	}
	return result
}

func equal(a, b []string) bool {
	return strings.Join(a, ",") == strings.Join(b, ",")
}
