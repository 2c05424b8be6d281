package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/acmedex/matchbook/params"
	"github.com/acmedex/matchbook/pkg/api"
	"github.com/acmedex/matchbook/pkg/app/core/engine"
	"github.com/acmedex/matchbook/pkg/app/core/market"
	"github.com/acmedex/matchbook/pkg/oracle"
	"github.com/acmedex/matchbook/pkg/storage"
	"github.com/acmedex/matchbook/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	// ---- Storage ----
	store, err := storage.NewStore(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("storage_init_failed", "path", cfg.Node.DBPath, "err", err)
	}
	defer store.Close()
	sugar.Infow("storage_opened", "path", cfg.Node.DBPath)

	// ---- Market & oracle ----
	pair := market.Default()
	pair.Symbol = cfg.Market.Symbol
	pair.BaseAsset = cfg.Market.BaseAsset
	pair.QuoteAsset = cfg.Market.QuoteAsset
	pair.TakerFeeBps = cfg.Market.TakerFeeBps
	pair.ToleranceBps = cfg.Market.ToleranceBps

	clock := util.RealClock{}
	feed := oracle.NewMemoryFeed(cfg.Oracle.MaxAge, clock)
	if cfg.Oracle.InitialPrice != "" {
		price, err := uint256.FromDecimal(cfg.Oracle.InitialPrice)
		if err != nil {
			sugar.Fatalw("bad_oracle_price", "value", cfg.Oracle.InitialPrice, "err", err)
		}
		feed.Write(price)
		sugar.Infow("oracle_seeded", "price", price.Dec())
	}

	if !common.IsHexAddress(cfg.Node.EscrowAddress) || !common.IsHexAddress(cfg.Node.TreasuryAddress) {
		sugar.Fatalw("bad_protocol_address",
			"escrow", cfg.Node.EscrowAddress, "treasury", cfg.Node.TreasuryAddress)
	}

	// ---- Matching engine ----
	eng, err := engine.New(engine.Config{
		Pair:     pair,
		Feed:     feed,
		Store:    store,
		Clock:    clock,
		Log:      logger,
		Escrow:   common.HexToAddress(cfg.Node.EscrowAddress),
		Treasury: common.HexToAddress(cfg.Node.TreasuryAddress),
	})
	if err != nil {
		sugar.Fatalw("engine_init_failed", "err", err)
	}

	sugar.Infow("node_starting",
		"symbol", pair.Symbol,
		"taker_fee_bps", pair.TakerFeeBps,
		"tolerance_bps", pair.ToleranceBps)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(eng, pair, logger)
	go func() {
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// ---- Expiry reaper ----
	// Timed-out orders are inert immediately; the sweep returns their
	// escrow without waiting for the book to touch them.
	ticker := time.NewTicker(cfg.Node.ExpirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			sugar.Info("shutting down")
			return
		case <-ticker.C:
			if _, n := eng.SweepExpired(); n > 0 {
				sugar.Infow("expired_orders_reclaimed", "count", n)
			}
		}
	}
}
