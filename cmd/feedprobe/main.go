package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/LADAN401/Elite-Degen/internal/config"
	"github.com/LADAN401/Elite-Degen/internal/listener"
	"github.com/LADAN401/Elite-Degen/internal/logger"
	"github.com/LADAN401/Elite-Degen/internal/mempool"
	"github.com/LADAN401/Elite-Degen/internal/registry"
	"github.com/LADAN401/Elite-Degen/internal/websocket"
	"github.com/LADAN401/Elite-Degen/pkg/models"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	addresses  = flag.String("address", "", "Comma-separated addresses; only transactions touching them are printed")
	limit      = flag.Int("limit", 0, "Stop after printing this many transactions (0 = no limit)")
	provider   = flag.String("provider", "", "Override the stream provider (websocket or rpc)")
)

func main() {
	flag.Parse()

	// The probe does not need a bot token, so only the stream section is validated
	cfg, err := config.Read(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", logger.F("error", err))
	}

	log := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Logger.Level),
		Format: cfg.Logger.Format,
		Output: os.Stderr,
	})

	if *provider != "" {
		cfg.Stream.Provider = strings.ToLower(*provider)
	}
	if err := cfg.ValidateStream(); err != nil {
		log.Fatal("invalid stream configuration", logger.F("error", err))
	}

	// The registry doubles as the filter: every watched address belongs to
	// a single pseudo owner.
	watch := registry.New()
	for _, addr := range strings.Split(*addresses, ",") {
		if addr = strings.TrimSpace(addr); addr == "" {
			continue
		}
		if _, err := watch.Add(0, addr, ""); err != nil && !errors.Is(err, registry.ErrDuplicateEntry) {
			log.Fatal("invalid address", logger.F("address", addr), logger.F("error", err))
		}
	}
	_, watched := watch.Stats()

	var source listener.Source
	switch cfg.Stream.Provider {
	case config.StreamProviderRPC:
		source = mempool.NewWatcher(mempool.ConfigFromStream(cfg.Stream), log)
	default:
		source = websocket.NewFeed(websocket.ConfigFromStream(cfg.Stream), watch.Addresses, watched > 0, log)
	}
	defer source.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received signal, shutting down", logger.F("signal", sig.String()))
		cancel()
	}()

	log.Info("connecting to feed",
		logger.F("provider", cfg.Stream.Provider),
		logger.F("watched", watched),
	)

	var printed atomic.Int64
	handle := func(tx *models.PendingTx) {
		if watched > 0 && len(watch.Lookup(tx.From, tx.To)) == 0 {
			return
		}

		n := printed.Add(1)
		if *limit > 0 && n > int64(*limit) {
			return
		}
		printTx(n, tx)
		if *limit > 0 && n == int64(*limit) {
			cancel()
		}
	}

	if err := source.Start(ctx, handle); err != nil && ctx.Err() == nil {
		log.Error("feed stopped", logger.F("error", err))
		os.Exit(1)
	}

	count := printed.Load()
	if *limit > 0 && count > int64(*limit) {
		count = int64(*limit)
	}
	log.Info("done", logger.F("printed", count))
}

func printTx(n int64, tx *models.PendingTx) {
	out := struct {
		*models.PendingTx
		ValueEther string `json:"value_ether"`
	}{tx, tx.ValueEther()}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode tx %s: %v\n", tx.Hash, err)
		return
	}
	fmt.Printf("#%d %s\n", n, data)
}
