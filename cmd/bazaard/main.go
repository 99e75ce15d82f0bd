package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bazaarchain/config"
	"bazaarchain/core/events"
	"bazaarchain/core/state"
	"bazaarchain/core/types"
	"bazaarchain/crypto"
	"bazaarchain/native/market"
	"bazaarchain/native/mint"
	nativeparams "bazaarchain/native/params"
	"bazaarchain/observability/logging"
	"bazaarchain/observability/metrics"
	"bazaarchain/rpc"
	"bazaarchain/storage"
)

const envName = "BAZAAR_ENV"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := os.Getenv(envName)
	cfg, err := config.Load(*configFile)
	if err != nil {
		logging.Setup("bazaard", env, "")
		slog.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := logging.Setup("bazaard", env, cfg.LogFile)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	store := nativeparams.NewStore(manager)
	ring := events.NewRing(1024)
	feed := &meteredEmitter{ring: ring}

	// The dev timeline oracle: a monotonically advancing height counter. A
	// consensus integration replaces this with real block heights.
	var height atomic.Uint64
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			height.Add(1)
		}
	}()

	pauses, err := store.Pauses()
	if err != nil {
		logger.Error("Failed to load pause config", slog.Any("error", err))
		os.Exit(1)
	}

	mintEngine, err := buildMintEngine(cfg, store, manager, feed, pauses, &height)
	if err != nil {
		logger.Error("Failed to build mint engine", slog.Any("error", err))
		os.Exit(1)
	}
	marketEngine, err := buildMarketEngine(cfg, store, manager, feed, pauses)
	if err != nil {
		logger.Error("Failed to build market engine", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(mintEngine, marketEngine, manager, ring, logger)
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Handle("/", server.Handler())

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("RPC server listening", slog.String("addr", cfg.RPCAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("RPC server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}

func mustAddr(raw string) [20]byte {
	var out [20]byte
	if raw == "" {
		return out
	}
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return out
	}
	copy(out[:], addr.Bytes())
	return out
}

// buildMintEngine restores or seeds the allocation engine. Parameters come
// from the param store when present; on first boot they are seeded from the
// TOML config at version 1 and the token pool is filled.
func buildMintEngine(cfg *config.Config, store *nativeparams.Store, manager *state.Manager, feed events.Emitter, pauses config.Pauses, height *atomic.Uint64) (*mint.Engine, error) {
	engine := mint.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(feed)
	engine.SetPauses(pauses)
	engine.SetHeightFunc(height.Load)

	engineCfg, ok, err := store.MintConfig()
	if err != nil {
		return nil, err
	}
	firstBoot := !ok
	if firstBoot {
		engineCfg = mint.Config{
			MaxSupply:       cfg.Mint.MaxSupply,
			GiveawayAccount: mustAddr(cfg.Mint.GiveawayAccount),
			GiveawayBudget:  cfg.Mint.GiveawayBudget,
			Oracle:          mustAddr(cfg.Mint.Oracle),
			Treasury:        mustAddr(cfg.Mint.Treasury),
			BatchCeiling:    cfg.Mint.BatchCeiling,
			Version:         1,
		}
		copy(engineCfg.Tiers.Boundaries[:], cfg.Mint.TierBoundaries)
		engineCfg.Tiers.Prices = cfg.TierPrices()
		copy(engineCfg.Tiers.Caps[:], cfg.Mint.TierCaps)
		if err := store.SetMintConfig(engineCfg); err != nil {
			return nil, err
		}
	}
	if err := engine.SetConfig(engineCfg); err != nil {
		return nil, err
	}
	if err := engine.Restore(); err != nil {
		return nil, err
	}
	if firstBoot {
		if err := engine.SeedPool(); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// buildMarketEngine restores or seeds the settlement engine, including the
// collection royalty policy.
func buildMarketEngine(cfg *config.Config, store *nativeparams.Store, manager *state.Manager, feed events.Emitter, pauses config.Pauses) (*market.Engine, error) {
	engine := market.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(feed)
	engine.SetPauses(pauses)

	engineCfg, ok, err := store.MarketConfig()
	if err != nil {
		return nil, err
	}
	if !ok {
		engineCfg = market.Config{
			Operator:           mustAddr(cfg.Market.Operator),
			TimeBufferSecs:     cfg.Market.TimeBufferSecs,
			BidIncrementBps:    cfg.Market.BidIncrementBps,
			RestrictedListings: cfg.Market.RestrictedListings,
			Version:            1,
		}
		if err := store.SetMarketConfig(engineCfg); err != nil {
			return nil, err
		}
		if cfg.Market.RoyaltyRecipient != "" {
			if err := manager.SetRoyaltyConfig(mustAddr(cfg.Market.RoyaltyRecipient), cfg.Market.RoyaltyBps); err != nil {
				return nil, err
			}
		}
	}
	if err := engine.SetConfig(engineCfg); err != nil {
		return nil, err
	}
	if err := engine.Restore(); err != nil {
		return nil, err
	}
	return engine, nil
}

// meteredEmitter forwards every engine event to the RPC ring buffer and
// mirrors the interesting ones into Prometheus.
type meteredEmitter struct {
	ring *events.Ring
}

func (m *meteredEmitter) Emit(evt events.Event) {
	m.ring.Emit(evt)
	switch evt.EventType() {
	case events.TypeMintPending:
		metrics.Mint().RequestsQueued(1)
	case events.TypeMintCompleted:
		metrics.Mint().DrawsResolved(1)
	case events.TypeListingCreated:
		metrics.Market().ListingOpened()
	case events.TypeListingRemoved:
		metrics.Market().ListingClosed()
	case events.TypeSaleExecuted:
		metrics.Market().ListingClosed()
		metrics.Market().SaleSettled("sale")
	case events.TypeAuctionClosed:
		// Settled auctions are counted through their SaleExecuted event; a
		// cancellation is the only close that removes a listing on its own.
		if record, ok := evt.(interface{ Event() *types.Event }); ok {
			if e := record.Event(); e != nil && e.Attributes["outcome"] == "cancelled" {
				metrics.Market().ListingClosed()
			}
		}
	case events.TypeOfferPlaced:
		metrics.Market().OfferOpened()
	case events.TypeOfferCancelled:
		metrics.Market().OfferClosed()
	case events.TypeBidPlaced:
		metrics.Market().BidAccepted()
	}
}
