// Package mempool watches a node's pending transaction pool over the
// standard newPendingTransactions subscription.
package mempool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/LADAN401/Elite-Degen/internal/config"
	"github.com/LADAN401/Elite-Degen/internal/listener"
	"github.com/LADAN401/Elite-Degen/internal/logger"
	"github.com/LADAN401/Elite-Degen/internal/metrics"
	"github.com/LADAN401/Elite-Degen/pkg/models"
)

var (
	ErrEmptyURL   = errors.New("rpc url is empty")
	ErrMaxRetries = errors.New("max reconnect retries exceeded")
)

// Config holds watcher configuration
type Config struct {
	URL           string
	Backoff       listener.Backoff
	Fetchers      int
	DialTimeout   time.Duration
	LookupTimeout time.Duration
}

// ConfigFromStream maps the stream section onto the watcher configuration
func ConfigFromStream(cfg config.StreamConfig) Config {
	return Config{
		URL: cfg.URL,
		Backoff: listener.Backoff{
			Min:        cfg.ReconnectMin,
			Max:        cfg.ReconnectMax,
			MaxRetries: cfg.MaxRetries,
		},
		DialTimeout:   cfg.WriteTimeout,
		LookupTimeout: cfg.WriteTimeout,
	}
}

// Watcher is a listener.Source for nodes without an address-filtered
// pending transaction stream. Each announced hash is resolved to the full
// transaction and its sender is recovered from the signature.
type Watcher struct {
	cfg Config
	log logger.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewWatcher creates a new watcher
func NewWatcher(cfg Config, log logger.Logger) *Watcher {
	if cfg.Fetchers <= 0 {
		cfg.Fetchers = 4
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}

	return &Watcher{
		cfg:  cfg,
		log:  log.With(logger.F("component", "mempool")),
		done: make(chan struct{}),
	}
}

// Start subscribes and reconnects until ctx is done, Close is called, or
// the reconnect budget is exhausted
func (w *Watcher) Start(ctx context.Context, handle listener.TxHandler) error {
	if w.cfg.URL == "" {
		return ErrEmptyURL
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	attempt := 0
	for {
		subscribed, err := w.subscribeOnce(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		if subscribed {
			attempt = 0
		}

		attempt++
		if w.cfg.Backoff.Exhausted(attempt) {
			w.log.Error("giving up on rpc feed", logger.F("error", err), logger.F("attempts", attempt-1))
			return fmt.Errorf("%w: %v", ErrMaxRetries, err)
		}

		wait := w.cfg.Backoff.Delay(attempt)
		metrics.StreamReconnectsTotal.Inc()
		w.log.Warn("subscription error, reconnecting",
			logger.F("error", err),
			logger.F("attempt", attempt),
			logger.F("wait", wait.String()),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// Close stops the watcher
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return nil
}

// subscribeOnce runs one connection. It reports whether the subscription
// was established so the caller can reset its retry budget.
func (w *Watcher) subscribeOnce(ctx context.Context, handle listener.TxHandler) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, w.cfg.DialTimeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(dialCtx, w.cfg.URL)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer rpcClient.Close()

	ethCl := ethclient.NewClient(rpcClient)

	hashes := make(chan common.Hash, 4096)
	sub, err := rpcClient.EthSubscribe(ctx, hashes, "newPendingTransactions")
	if err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	w.log.Info("subscribed to newPendingTransactions", logger.F("fetchers", w.cfg.Fetchers))

	fetchCtx, stopFetchers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(w.cfg.Fetchers)
	for i := 0; i < w.cfg.Fetchers; i++ {
		go func() {
			defer wg.Done()
			w.fetch(fetchCtx, ethCl, hashes, handle)
		}()
	}
	defer func() {
		stopFetchers()
		wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return true, nil
	case err := <-sub.Err():
		if err == nil {
			err = errors.New("subscription closed")
		}
		return true, err
	}
}

func (w *Watcher) fetch(ctx context.Context, ethCl *ethclient.Client, hashes <-chan common.Hash, handle listener.TxHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case h := <-hashes:
			lookupCtx, cancel := context.WithTimeout(ctx, w.cfg.LookupTimeout)
			tx, _, err := ethCl.TransactionByHash(lookupCtx, h)
			cancel()
			if err != nil {
				// dropped or mined before we asked
				w.log.Debug("pending transaction lookup failed", logger.F("tx", h.Hex()), logger.F("error", err))
				continue
			}

			pending, err := ToPendingTx(tx)
			if err != nil {
				metrics.StreamEventsTotal.WithLabelValues("malformed").Inc()
				w.log.Warn("skipping transaction with unrecoverable sender", logger.F("tx", h.Hex()), logger.F("error", err))
				continue
			}
			handle(pending)
		}
	}
}

// ToPendingTx converts a signed transaction, recovering its sender
func ToPendingTx(tx *types.Transaction) (*models.PendingTx, error) {
	if tx == nil {
		return nil, models.ErrMalformedTx
	}

	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrMalformedTx, err)
	}

	pending := &models.PendingTx{
		Hash:  tx.Hash().Hex(),
		From:  from.Hex(),
		Value: hexutil.EncodeBig(tx.Value()),
		Nonce: hexutil.EncodeUint64(tx.Nonce()),
	}
	if tx.To() != nil {
		pending.To = tx.To().Hex()
	}
	if id := tx.ChainId(); id != nil && id.Sign() > 0 {
		pending.ChainID = hexutil.EncodeBig(id)
	}
	return pending, nil
}
