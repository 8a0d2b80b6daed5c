// Package marketdata is a read-only client for the DexScreener HTTP API.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/LADAN401/Elite-Degen/internal/config"
	"github.com/LADAN401/Elite-Degen/internal/logger"
	"github.com/LADAN401/Elite-Degen/pkg/models"
)

var (
	// ErrNotFound is returned when the API has no record for the token
	ErrNotFound = errors.New("token not found")
	// ErrUpstream is returned for network failures and non-success responses
	ErrUpstream = errors.New("market data upstream error")
	// ErrTimeout is returned when a call exceeds its deadline. It wraps ErrUpstream.
	ErrTimeout = fmt.Errorf("%w: timeout", ErrUpstream)
	// ErrDecode is returned for malformed response bodies. It wraps ErrUpstream.
	ErrDecode = fmt.Errorf("%w: malformed response", ErrUpstream)
)

// Observer receives the outcome of every upstream call
type Observer func(endpoint string, took time.Duration, err error)

// Client talks to a DexScreener-compatible API
type Client struct {
	http     *resty.Client
	timeout  time.Duration
	log      logger.Logger
	observer Observer
}

// NewClient creates a new market data client
func NewClient(cfg config.MarketDataConfig, log logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}

	http := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "elite-degen-bot/1.0")

	return &Client{
		http:    http,
		timeout: timeout,
		log:     log.With(logger.F("component", "marketdata")),
	}
}

// SetObserver installs a hook called after every request
func (c *Client) SetObserver(o Observer) {
	c.observer = o
}

// Search runs a free-text pair search. No results is an empty slice.
func (c *Client) Search(ctx context.Context, query string) ([]models.Pair, error) {
	body, err := c.get(ctx, "search", "/latest/dex/search", map[string]string{"q": query}, nil)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	return decodeSearch(body)
}

// TokenPairs returns every pair of the token on chain
func (c *Client) TokenPairs(ctx context.Context, chain, address string) ([]models.Pair, error) {
	body, err := c.get(ctx, "token_pairs", "/tokens/v1/{chain}/{address}", nil, map[string]string{
		"chain":   chain,
		"address": address,
	})
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, chain, address)
	}

	pairs, err := decodePairs(body)
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, chain, address)
	}
	return pairs, nil
}

// Orders returns the paid promotion orders of the token. An empty body means
// no orders.
func (c *Client) Orders(ctx context.Context, chain, address string) ([]models.Order, error) {
	body, err := c.get(ctx, "orders", "/orders/v1/{chain}/{address}", nil, map[string]string{
		"chain":   chain,
		"address": address,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	return decodeOrders(body)
}

// PaidStatus resolves the paid promotion status. It never fails: any error
// yields PaidStateUnknown.
func (c *Client) PaidStatus(ctx context.Context, chain, address string) models.PaidStatus {
	orders, err := c.Orders(ctx, chain, address)
	if err != nil {
		c.log.Warn("Failed to fetch paid status",
			logger.F("chain", chain),
			logger.F("address", address),
			logger.F("error", err),
		)
		return models.PaidStatus{State: models.PaidStateUnknown}
	}
	return ResolvePaid(orders)
}

// Profile returns the banner, icon and social links of the token from the
// first pair that carries an info block.
func (c *Client) Profile(ctx context.Context, chain, address string) (*models.TokenProfile, error) {
	pairs, err := c.TokenPairs(ctx, chain, address)
	if err != nil {
		return nil, err
	}
	for _, p := range pairs {
		if p.Profile != nil {
			return p.Profile, nil
		}
	}
	return nil, fmt.Errorf("%w: no profile for %s/%s", ErrNotFound, chain, address)
}

// ResolvePaid derives the paid status from a list of orders
func ResolvePaid(orders []models.Order) models.PaidStatus {
	status := models.PaidStatus{State: models.PaidStateNotPaid}
	for _, o := range orders {
		state := strings.ToLower(o.Status)
		if state == "approved" || (state == "" && !o.PaidAt.IsZero()) {
			status.State = models.PaidStatePaid
			if o.PaidAt.After(status.At) {
				status.At = o.PaidAt
			}
		}
	}
	return status
}

// BestPair returns the pair with the highest USD liquidity. Ties keep the
// earlier pair. It returns false for an empty slice.
func BestPair(pairs []models.Pair) (models.Pair, bool) {
	if len(pairs) == 0 {
		return models.Pair{}, false
	}
	best := pairs[0]
	for _, p := range pairs[1:] {
		if p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}
	return best, true
}

func (c *Client) get(ctx context.Context, endpoint, path string, query, params map[string]string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	req := c.http.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParams(query)
	}
	if params != nil {
		req.SetPathParams(params)
	}

	resp, err := req.Get(path)
	err = classify(endpoint, resp, err)
	if c.observer != nil {
		c.observer(endpoint, time.Since(start), err)
	}
	if err != nil {
		c.log.Debug("Market data request failed",
			logger.F("endpoint", endpoint),
			logger.F("error", err),
		)
		return nil, err
	}

	return resp.Body(), nil
}

func classify(endpoint string, resp *resty.Response, err error) error {
	if err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%s: %w", endpoint, ErrTimeout)
		}
		return fmt.Errorf("%s: %w: %v", endpoint, ErrUpstream, err)
	}

	switch code := resp.StatusCode(); {
	case code == 404:
		return fmt.Errorf("%s: %w", endpoint, ErrNotFound)
	case code < 200 || code >= 300:
		return fmt.Errorf("%s: %w: status %d", endpoint, ErrUpstream, code)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
