// Package metrics holds the Prometheus collectors of the bot.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/LADAN401/Elite-Degen/internal/marketdata"
)

var (
	// UpdatesTotal tracks inbound Telegram updates by kind
	UpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elitedegen_updates_total",
			Help: "Total number of Telegram updates handled",
		},
		[]string{"kind"},
	)

	// ScansTotal tracks scans by outcome
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elitedegen_scans_total",
			Help: "Total number of token scans",
		},
		[]string{"outcome"},
	)

	// UpstreamLatency tracks market data call latency
	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "elitedegen_upstream_latency_seconds",
			Help:    "Market data API latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "outcome"},
	)

	// StreamEventsTotal tracks pending transaction feed events
	StreamEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elitedegen_stream_events_total",
			Help: "Total number of pending transaction events by result",
		},
		[]string{"result"},
	)

	// StreamReconnectsTotal tracks feed reconnect attempts
	StreamReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "elitedegen_stream_reconnects_total",
			Help: "Total number of pending transaction feed reconnect attempts",
		},
	)

	// AlertsTotal tracks wallet alerts by outcome
	AlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elitedegen_alerts_total",
			Help: "Total number of wallet alerts by outcome",
		},
		[]string{"outcome"},
	)

	// TrackedWallets is the number of tracked wallet entries
	TrackedWallets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "elitedegen_tracked_wallets",
			Help: "Number of tracked wallet entries",
		},
	)
)

// Outcome labels
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeTimeout  = "timeout"
	OutcomeError    = "error"
)

// Outcome classifies a market data error
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, marketdata.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, marketdata.ErrTimeout):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}

// ObserveUpstream records one market data call. It matches marketdata.Observer.
func ObserveUpstream(endpoint string, took time.Duration, err error) {
	UpstreamLatency.WithLabelValues(endpoint, Outcome(err)).Observe(took.Seconds())
}

// ObserveScan records the outcome of a scan
func ObserveScan(err error) {
	ScansTotal.WithLabelValues(Outcome(err)).Inc()
}
