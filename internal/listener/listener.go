// Package listener fans pending transactions out to the users tracking the
// sender or recipient wallet.
package listener

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LADAN401/Elite-Degen/internal/detect"
	"github.com/LADAN401/Elite-Degen/internal/logger"
	"github.com/LADAN401/Elite-Degen/internal/metrics"
	"github.com/LADAN401/Elite-Degen/internal/registry"
	"github.com/LADAN401/Elite-Degen/pkg/models"
)

// TxHandler receives decoded pending transactions from a Source
type TxHandler func(tx *models.PendingTx)

// Source is a pending transaction feed. Start blocks until ctx is done or
// the feed gives up reconnecting.
type Source interface {
	Start(ctx context.Context, handle TxHandler) error
	Close() error
}

// Sender delivers an alert to a user
type Sender interface {
	SendAlert(ctx context.Context, chatID int64, text string) error
}

// Formatter renders an alert
type Formatter interface {
	FormatAlert(m registry.Match, tx *models.PendingTx) string
}

// Deduplicator suppresses repeated alerts across reconnects and instances
type Deduplicator interface {
	Claim(ctx context.Context, txHash string, owner int64, address string) (bool, error)
	Release(ctx context.Context, txHash string, owner int64, address string) error
}

// Config holds listener configuration
type Config struct {
	QueueSize   int
	StopTimeout time.Duration
}

// Stats are the listener counters since start
type Stats struct {
	Received  uint64 `json:"received"`
	Dropped   uint64 `json:"dropped"`
	Matched   uint64 `json:"matched"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
}

// Listener matches feed events against the registry. Events are handled by
// a single worker so they are processed in arrival order.
type Listener struct {
	source    Source
	registry  *registry.Registry
	formatter Formatter
	sender    Sender
	dedup     Deduplicator
	log       logger.Logger
	cfg       Config

	queue      chan *models.PendingTx
	workerDone chan struct{}
	closeOnce  sync.Once
	running    atomic.Bool

	received  atomic.Uint64
	dropped   atomic.Uint64
	matched   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// New creates a new listener
func New(source Source, reg *registry.Registry, formatter Formatter, sender Sender, log logger.Logger, cfg Config) *Listener {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}

	return &Listener{
		source:     source,
		registry:   reg,
		formatter:  formatter,
		sender:     sender,
		log:        log.With(logger.F("component", "listener")),
		cfg:        cfg,
		queue:      make(chan *models.PendingTx, cfg.QueueSize),
		workerDone: make(chan struct{}),
	}
}

// SetDeduplicator enables alert deduplication
func (l *Listener) SetDeduplicator(d Deduplicator) {
	l.dedup = d
}

// Run starts the worker and the source and blocks until the source stops.
// Queued events are drained before Run returns.
func (l *Listener) Run(ctx context.Context) error {
	l.running.Store(true)
	defer l.running.Store(false)

	go l.worker(ctx)

	l.log.Info("listener started")
	err := l.source.Start(ctx, l.Handle)
	if err != nil && ctx.Err() == nil {
		l.log.Error("pending transaction feed stopped", logger.F("error", err))
	}

	l.stop()
	return err
}

// Running reports whether the feed is being consumed
func (l *Listener) Running() bool {
	return l.running.Load()
}

// Stats returns a snapshot of the counters
func (l *Listener) Stats() Stats {
	return Stats{
		Received:  l.received.Load(),
		Dropped:   l.dropped.Load(),
		Matched:   l.matched.Load(),
		Delivered: l.delivered.Load(),
		Failed:    l.failed.Load(),
	}
}

// Handle queues a transaction for matching. It never blocks: when the queue
// is full the transaction is dropped.
func (l *Listener) Handle(tx *models.PendingTx) {
	if tx == nil {
		return
	}
	metrics.StreamEventsTotal.WithLabelValues("received").Inc()
	l.received.Add(1)

	select {
	case l.queue <- tx:
	default:
		metrics.StreamEventsTotal.WithLabelValues("dropped").Inc()
		l.dropped.Add(1)
		l.log.Warn("event queue full, dropping transaction", logger.F("tx", tx.Hash))
	}
}

// stop closes the queue and waits for the worker with a timeout
func (l *Listener) stop() {
	l.closeOnce.Do(func() {
		close(l.queue)
	})

	select {
	case <-l.workerDone:
		l.log.Debug("listener worker stopped gracefully")
	case <-time.After(l.cfg.StopTimeout):
		l.log.Warn("listener worker shutdown timeout")
	}
}

func (l *Listener) worker(ctx context.Context) {
	defer close(l.workerDone)

	// Context cancellation only affects deliveries; the queue is always
	// drained so shutdown never races with Handle.
	for tx := range l.queue {
		l.Process(ctx, tx)
	}
}

// Process matches one transaction and notifies every matching owner.
// Delivery failures are logged and do not stop delivery to other owners.
func (l *Listener) Process(ctx context.Context, tx *models.PendingTx) int {
	if tx.Hash == "" {
		metrics.StreamEventsTotal.WithLabelValues("malformed").Inc()
		l.log.Warn("skipping transaction without hash")
		return 0
	}

	from, err := detect.NormalizeAddress(tx.From)
	if err != nil {
		metrics.StreamEventsTotal.WithLabelValues("malformed").Inc()
		l.log.Warn("skipping transaction with invalid sender",
			logger.F("tx", tx.Hash),
			logger.F("from", tx.From),
		)
		return 0
	}
	to, err := detect.NormalizeAddress(tx.To)
	if err != nil {
		// contract creation or a garbage recipient, only the sender can match
		to = ""
	}

	normalized := *tx
	normalized.From = from
	normalized.To = to

	matches := l.registry.Lookup(from, to)
	if len(matches) == 0 {
		return 0
	}
	metrics.StreamEventsTotal.WithLabelValues("matched").Inc()
	l.matched.Add(1)

	delivered := 0
	for _, m := range matches {
		if l.notify(ctx, m, &normalized) {
			delivered++
		}
	}
	return delivered
}

func (l *Listener) notify(ctx context.Context, m registry.Match, tx *models.PendingTx) bool {
	log := l.log.With(
		logger.F("tx", tx.Hash),
		logger.F("owner", m.Owner),
		logger.F("wallet", m.Entry.Address),
	)

	if l.dedup != nil {
		claimed, err := l.dedup.Claim(ctx, tx.Hash, m.Owner, m.Entry.Address)
		if err != nil {
			// Redis trouble should not cost the user an alert
			log.Warn("dedup check failed, sending anyway", logger.F("error", err))
		} else if !claimed {
			metrics.AlertsTotal.WithLabelValues("duplicate").Inc()
			return false
		}
	}

	text := l.formatter.FormatAlert(m, tx)
	if err := l.sender.SendAlert(ctx, m.Owner, text); err != nil {
		metrics.AlertsTotal.WithLabelValues("failed").Inc()
		l.failed.Add(1)
		log.Error("failed to deliver wallet alert", logger.F("error", err))
		if l.dedup != nil {
			if err := l.dedup.Release(ctx, tx.Hash, m.Owner, m.Entry.Address); err != nil {
				log.Warn("failed to release alert claim", logger.F("error", err))
			}
		}
		return false
	}

	metrics.AlertsTotal.WithLabelValues("sent").Inc()
	l.delivered.Add(1)
	log.Info("wallet alert sent")
	return true
}
