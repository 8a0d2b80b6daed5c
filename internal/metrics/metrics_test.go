package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/LADAN401/Elite-Degen/internal/marketdata"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, OutcomeOK},
		{fmt.Errorf("lookup: %w", marketdata.ErrNotFound), OutcomeNotFound},
		{fmt.Errorf("lookup: %w", marketdata.ErrTimeout), OutcomeTimeout},
		{fmt.Errorf("lookup: %w", marketdata.ErrDecode), OutcomeError},
		{errors.New("boom"), OutcomeError},
	}

	for _, tt := range tests {
		if got := Outcome(tt.err); got != tt.expected {
			t.Errorf("Outcome(%v) = %s, want %s", tt.err, got, tt.expected)
		}
	}
}

func TestObserveScan(t *testing.T) {
	before := testutil.ToFloat64(ScansTotal.WithLabelValues(OutcomeNotFound))
	ObserveScan(marketdata.ErrNotFound)
	after := testutil.ToFloat64(ScansTotal.WithLabelValues(OutcomeNotFound))

	if after-before != 1 {
		t.Errorf("expected counter to grow by 1, got %v", after-before)
	}
}

func TestObserveUpstream(t *testing.T) {
	before := testutil.CollectAndCount(UpstreamLatency)
	ObserveUpstream("metrics_test_endpoint", 25*time.Millisecond, nil)
	after := testutil.CollectAndCount(UpstreamLatency)

	if after != before+1 {
		t.Errorf("expected a new series, got %d -> %d", before, after)
	}
}
