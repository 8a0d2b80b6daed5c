package listener

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LADAN401/Elite-Degen/internal/logger"
	"github.com/LADAN401/Elite-Degen/internal/registry"
	"github.com/LADAN401/Elite-Degen/pkg/models"
)

const (
	walletA = "0x1111111111111111111111111111111111111111"
	walletB = "0x2222222222222222222222222222222222222222"
	walletC = "0x3333333333333333333333333333333333333333"
)

type sentAlert struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []sentAlert
	failOn map[int64]bool
}

func (s *fakeSender) SendAlert(ctx context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOn[chatID] {
		return errors.New("delivery failed")
	}
	s.sent = append(s.sent, sentAlert{chatID: chatID, text: text})
	return nil
}

func (s *fakeSender) alerts() []sentAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentAlert(nil), s.sent...)
}

type fakeFormatter struct{}

func (fakeFormatter) FormatAlert(m registry.Match, tx *models.PendingTx) string {
	return fmt.Sprintf("%s %s %s->%s", m.Entry.Label, tx.Hash, tx.From, tx.To)
}

type sliceSource struct {
	txs []*models.PendingTx
	err error
}

func (s *sliceSource) Start(ctx context.Context, handle TxHandler) error {
	for _, tx := range s.txs {
		handle(tx)
	}
	return s.err
}

func (s *sliceSource) Close() error { return nil }

type memDedup struct {
	mu       sync.Mutex
	claimed  map[string]bool
	released int
}

func (d *memDedup) key(hash string, owner int64, addr string) string {
	return fmt.Sprintf("%s|%d|%s", hash, owner, addr)
}

func (d *memDedup) Claim(ctx context.Context, hash string, owner int64, addr string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	k := d.key(hash, owner, addr)
	if d.claimed[k] {
		return false, nil
	}
	d.claimed[k] = true
	return true, nil
}

func (d *memDedup) Release(ctx context.Context, hash string, owner int64, addr string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claimed, d.key(hash, owner, addr))
	d.released++
	return nil
}

func newTestListener(t *testing.T, src Source, reg *registry.Registry, sender Sender) *Listener {
	t.Helper()
	return New(src, reg, fakeFormatter{}, sender, logger.NewNop(), Config{QueueSize: 16, StopTimeout: time.Second})
}

func TestListenerNotifiesMatchingOwnerOnly(t *testing.T) {
	reg := registry.New()
	if _, err := reg.Add(1, walletA, "alpha"); err != nil {
		t.Fatalf("failed to add wallet: %v", err)
	}
	if _, err := reg.Add(2, walletB, "beta"); err != nil {
		t.Fatalf("failed to add wallet: %v", err)
	}

	src := &sliceSource{txs: []*models.PendingTx{{
		Hash: "0xfeed",
		From: strings.ToUpper(walletA[:2]) + strings.ToUpper(walletA[2:]),
		To:   walletC,
	}}}
	sender := &fakeSender{}

	l := newTestListener(t, src, reg, sender)
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	alerts := sender.alerts()
	if len(alerts) != 1 {
		t.Fatalf("expected exactly 1 alert, got %d: %+v", len(alerts), alerts)
	}
	if alerts[0].chatID != 1 {
		t.Errorf("expected alert for owner 1, got %d", alerts[0].chatID)
	}
	if !strings.Contains(alerts[0].text, "0xfeed") {
		t.Errorf("expected tx hash in alert, got %q", alerts[0].text)
	}
	if !strings.Contains(alerts[0].text, walletA) {
		t.Errorf("expected normalized sender in alert, got %q", alerts[0].text)
	}
}

func TestListenerMatchesRecipient(t *testing.T) {
	reg := registry.New()
	reg.Add(7, walletB, "")

	sender := &fakeSender{}
	l := newTestListener(t, &sliceSource{}, reg, sender)

	got := l.Process(context.Background(), &models.PendingTx{Hash: "0x1", From: walletA, To: walletB})
	if got != 1 {
		t.Fatalf("expected 1 delivery, got %d", got)
	}
	if alerts := sender.alerts(); alerts[0].chatID != 7 {
		t.Errorf("expected alert for owner 7, got %+v", alerts)
	}
}

func TestListenerPreservesOrder(t *testing.T) {
	reg := registry.New()
	reg.Add(1, walletA, "alpha")

	var txs []*models.PendingTx
	for i := 0; i < 10; i++ {
		txs = append(txs, &models.PendingTx{Hash: fmt.Sprintf("0x%02d", i), From: walletA})
	}
	sender := &fakeSender{}

	l := newTestListener(t, &sliceSource{txs: txs}, reg, sender)
	l.Run(context.Background())

	alerts := sender.alerts()
	if len(alerts) != len(txs) {
		t.Fatalf("expected %d alerts, got %d", len(txs), len(alerts))
	}
	for i, a := range alerts {
		if !strings.Contains(a.text, fmt.Sprintf("0x%02d", i)) {
			t.Errorf("alert %d out of order: %q", i, a.text)
		}
	}
}

func TestListenerDeliveryFailureIsolated(t *testing.T) {
	reg := registry.New()
	reg.Add(1, walletA, "")
	reg.Add(2, walletA, "")
	reg.Add(3, walletA, "")

	sender := &fakeSender{failOn: map[int64]bool{2: true}}
	dedup := &memDedup{claimed: map[string]bool{}}

	l := newTestListener(t, &sliceSource{}, reg, sender)
	l.SetDeduplicator(dedup)

	got := l.Process(context.Background(), &models.PendingTx{Hash: "0xabc", From: walletA})
	if got != 2 {
		t.Fatalf("expected 2 deliveries, got %d", got)
	}

	alerts := sender.alerts()
	if alerts[0].chatID != 1 || alerts[1].chatID != 3 {
		t.Errorf("unexpected recipients: %+v", alerts)
	}
	if dedup.released != 1 {
		t.Errorf("expected failed claim released, got %d releases", dedup.released)
	}
}

func TestListenerDeduplicates(t *testing.T) {
	reg := registry.New()
	reg.Add(1, walletA, "")

	sender := &fakeSender{}
	l := newTestListener(t, &sliceSource{}, reg, sender)
	l.SetDeduplicator(&memDedup{claimed: map[string]bool{}})

	tx := &models.PendingTx{Hash: "0xabc", From: walletA}
	l.Process(context.Background(), tx)
	l.Process(context.Background(), tx)

	if n := len(sender.alerts()); n != 1 {
		t.Errorf("expected 1 alert after replay, got %d", n)
	}
}

func TestListenerSkipsMalformed(t *testing.T) {
	reg := registry.New()
	reg.Add(1, walletA, "")

	tests := []struct {
		name string
		tx   *models.PendingTx
	}{
		{"missing hash", &models.PendingTx{From: walletA}},
		{"invalid sender", &models.PendingTx{Hash: "0x1", From: "nope", To: walletA}},
		{"short sender", &models.PendingTx{Hash: "0x1", From: "0x1234", To: walletA}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			l := newTestListener(t, &sliceSource{}, reg, sender)
			if got := l.Process(context.Background(), tt.tx); got != 0 {
				t.Errorf("expected no deliveries, got %d", got)
			}
			if n := len(sender.alerts()); n != 0 {
				t.Errorf("expected no alerts, got %d", n)
			}
		})
	}
}

func TestListenerContinuesAfterMalformed(t *testing.T) {
	reg := registry.New()
	reg.Add(1, walletA, "")

	src := &sliceSource{txs: []*models.PendingTx{
		{Hash: "0xbad", From: "garbage"},
		nil,
		{Hash: "0xgood", From: walletA},
	}}
	sender := &fakeSender{}

	l := newTestListener(t, src, reg, sender)
	l.Run(context.Background())

	alerts := sender.alerts()
	if len(alerts) != 1 || !strings.Contains(alerts[0].text, "0xgood") {
		t.Errorf("expected only the valid tx alerted, got %+v", alerts)
	}
}

func TestListenerDropsWhenQueueFull(t *testing.T) {
	l := New(&sliceSource{}, registry.New(), fakeFormatter{}, &fakeSender{}, logger.NewNop(), Config{QueueSize: 1})

	l.Handle(&models.PendingTx{Hash: "0x1", From: walletA})
	l.Handle(&models.PendingTx{Hash: "0x2", From: walletA})

	if n := len(l.queue); n != 1 {
		t.Errorf("expected 1 queued event, got %d", n)
	}
}

func TestListenerReturnsSourceError(t *testing.T) {
	want := errors.New("feed gave up")
	l := newTestListener(t, &sliceSource{err: want}, registry.New(), &fakeSender{})

	if err := l.Run(context.Background()); !errors.Is(err, want) {
		t.Errorf("expected source error, got %v", err)
	}
}

func TestListenerStats(t *testing.T) {
	reg := registry.New()
	reg.Add(1, walletA, "")
	reg.Add(2, walletA, "")

	src := &sliceSource{txs: []*models.PendingTx{
		{Hash: "0x1", From: walletA},
		{Hash: "0x2", From: walletC},
	}}
	sender := &fakeSender{failOn: map[int64]bool{2: true}}

	l := newTestListener(t, src, reg, sender)
	l.Run(context.Background())

	got := l.Stats()
	want := Stats{Received: 2, Matched: 1, Delivered: 1, Failed: 1}
	if got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
	if l.Running() {
		t.Error("expected listener stopped after Run returned")
	}
}
