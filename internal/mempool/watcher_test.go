package mempool

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/LADAN401/Elite-Degen/internal/listener"
	"github.com/LADAN401/Elite-Degen/internal/logger"
	"github.com/LADAN401/Elite-Degen/pkg/models"
)

var recipient = common.HexToAddress("0x2222222222222222222222222222222222222222")

func signedTx(t *testing.T, key *ecdsa.PrivateKey, nonce uint64, to *common.Address) *types.Transaction {
	t.Helper()
	chainID := big.NewInt(8453)
	return types.MustSignNewTx(key, types.LatestSignerForChainID(chainID), &types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(100),
		Gas:       21000,
		To:        to,
		Value:     big.NewInt(1_500_000_000_000_000_000),
	})
}

// ethService is an in-process node answering the two calls the watcher makes
type ethService struct {
	txs      map[common.Hash]*types.Transaction
	announce []common.Hash
}

func (s *ethService) NewPendingTransactions(ctx context.Context) (*rpc.Subscription, error) {
	notifier, ok := rpc.NotifierFromContext(ctx)
	if !ok {
		return nil, rpc.ErrNotificationsUnsupported
	}
	sub := notifier.CreateSubscription()
	go func() {
		for _, h := range s.announce {
			notifier.Notify(sub.ID, h)
		}
	}()
	return sub, nil
}

func (s *ethService) GetTransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, error) {
	return s.txs[hash], nil
}

func newNode(t *testing.T, svc *ethService) string {
	t.Helper()
	server := rpc.NewServer()
	if err := server.RegisterName("eth", svc); err != nil {
		t.Fatalf("failed to register service: %v", err)
	}
	srv := httptest.NewServer(server.WebsocketHandler([]string{"*"}))
	t.Cleanup(func() {
		srv.Close()
		server.Stop()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestToPendingTx(t *testing.T) {
	key, _ := crypto.GenerateKey()
	from := crypto.PubkeyToAddress(key.PublicKey)

	tx := signedTx(t, key, 7, &recipient)
	got, err := ToPendingTx(tx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.From != from.Hex() {
		t.Errorf("expected sender %s, got %s", from.Hex(), got.From)
	}
	if got.To != recipient.Hex() {
		t.Errorf("expected recipient %s, got %s", recipient.Hex(), got.To)
	}
	if got.Hash != tx.Hash().Hex() {
		t.Errorf("expected hash %s, got %s", tx.Hash().Hex(), got.Hash)
	}
	if got.Nonce != "0x7" || got.ChainID != "0x2105" {
		t.Errorf("unexpected nonce/chain %s/%s", got.Nonce, got.ChainID)
	}
	if got.ValueEther() != "1.5" {
		t.Errorf("expected 1.5 ether, got %s", got.ValueEther())
	}
}

func TestToPendingTxContractCreation(t *testing.T) {
	key, _ := crypto.GenerateKey()

	got, err := ToPendingTx(signedTx(t, key, 0, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.To != "" {
		t.Errorf("expected empty recipient, got %q", got.To)
	}
}

func TestToPendingTxUnsigned(t *testing.T) {
	tx := types.NewTx(&types.DynamicFeeTx{ChainID: big.NewInt(1), Gas: 21000, To: &recipient})

	if _, err := ToPendingTx(tx); !errors.Is(err, models.ErrMalformedTx) {
		t.Errorf("expected ErrMalformedTx, got %v", err)
	}
	if _, err := ToPendingTx(nil); !errors.Is(err, models.ErrMalformedTx) {
		t.Errorf("expected ErrMalformedTx for nil, got %v", err)
	}
}

func TestWatcherResolvesAnnouncedHashes(t *testing.T) {
	key, _ := crypto.GenerateKey()
	from := crypto.PubkeyToAddress(key.PublicKey)
	tx1 := signedTx(t, key, 1, &recipient)
	tx2 := signedTx(t, key, 2, &recipient)

	url := newNode(t, &ethService{
		txs: map[common.Hash]*types.Transaction{
			tx1.Hash(): tx1,
			tx2.Hash(): tx2,
		},
		announce: []common.Hash{tx1.Hash(), common.HexToHash("0xdead"), tx2.Hash()},
	})

	w := NewWatcher(Config{
		URL:     url,
		Backoff: listener.Backoff{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond, MaxRetries: 3},
	}, logger.NewNop())

	var mu sync.Mutex
	var got []*models.PendingTx
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Start(ctx, func(tx *models.PendingTx) {
			mu.Lock()
			got = append(got, tx)
			mu.Unlock()
		})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out, got %d transactions", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("expected clean stop, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	hashes := []string{got[0].Hash, got[1].Hash}
	sort.Strings(hashes)
	want := []string{tx1.Hash().Hex(), tx2.Hash().Hex()}
	sort.Strings(want)
	if strings.Join(hashes, ",") != strings.Join(want, ",") {
		t.Errorf("expected %v, got %v", want, hashes)
	}
	for _, tx := range got {
		if tx.From != from.Hex() {
			t.Errorf("expected sender %s, got %s", from.Hex(), tx.From)
		}
	}
}

func TestWatcherGivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	w := NewWatcher(Config{
		URL:         url,
		Backoff:     listener.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, MaxRetries: 2},
		DialTimeout: time.Second,
	}, logger.NewNop())

	err := w.Start(context.Background(), func(*models.PendingTx) {})
	if !errors.Is(err, ErrMaxRetries) {
		t.Errorf("expected ErrMaxRetries, got %v", err)
	}
}

func TestWatcherEmptyURL(t *testing.T) {
	w := NewWatcher(Config{}, logger.NewNop())
	if err := w.Start(context.Background(), func(*models.PendingTx) {}); !errors.Is(err, ErrEmptyURL) {
		t.Errorf("expected ErrEmptyURL, got %v", err)
	}
}

func TestWatcherCloseStopsStart(t *testing.T) {
	url := newNode(t, &ethService{})
	w := NewWatcher(Config{URL: url, Backoff: listener.Backoff{Min: time.Millisecond}}, logger.NewNop())

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background(), func(*models.PendingTx) {}) }()

	time.Sleep(50 * time.Millisecond)
	w.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean stop, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not stop after Close")
	}
}
