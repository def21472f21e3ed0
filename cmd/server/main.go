// Command server runs the auction core: the bid engine, the lifecycle
// scheduler, the broadcast hub bridge, and the HTTP/websocket facade in
// one process. Instances scale horizontally; coordination happens through
// the shared live store and the hub.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aaronwang/auction-core/internal/api"
	"github.com/aaronwang/auction-core/internal/auctionerrors"
	"github.com/aaronwang/auction-core/internal/broadcast"
	"github.com/aaronwang/auction-core/internal/config"
	"github.com/aaronwang/auction-core/internal/engine"
	"github.com/aaronwang/auction-core/internal/livestore"
	"github.com/aaronwang/auction-core/internal/logging"
	"github.com/aaronwang/auction-core/internal/models"
	"github.com/aaronwang/auction-core/internal/scheduler"
	"github.com/aaronwang/auction-core/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load configuration")
	}
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	durable, err := store.NewPostgres(cfg.DurableStoreURL)
	if err != nil {
		return err
	}
	defer durable.Close()

	initCtx, initCancel := context.WithTimeout(ctx, 10*time.Second)
	defer initCancel()
	if err := durable.InitSchema(initCtx); err != nil {
		return err
	}
	logging.Info().Msg("durable store ready")

	live, err := livestore.NewRedis(cfg.LiveStoreURL)
	if err != nil {
		return err
	}
	defer live.Close()
	logging.Info().Msg("live store ready")

	natsURL := cfg.NATSURL
	if cfg.NATSEmbedded {
		embedded, err := broadcast.StartEmbedded(cfg.NATSStoreDir)
		if err != nil {
			return err
		}
		defer embedded.Shutdown()
		natsURL = embedded.ClientURL()
		logging.Info().Str("url", natsURL).Msg("embedded hub started")
	}
	conn, err := broadcast.Connect(natsURL)
	if err != nil {
		return err
	}
	defer conn.Drain()

	manager := broadcast.NewManager()
	go manager.Run(ctx)
	defer manager.Stop()

	bridge, err := broadcast.NewBridge(conn, manager)
	if err != nil {
		return err
	}
	defer bridge.Close()

	pub := broadcast.NewNATSPublisher(conn)
	eng := engine.New(live, durable, pub)

	sched := scheduler.New(durable, live, eng, pub, scheduler.Config{
		Tick:          cfg.TickInterval(),
		PaymentWindow: cfg.PaymentWindow(),
		TTLGrace:      cfg.TTLGrace(),
	})
	sched.Start(ctx)
	defer sched.Stop()

	if cfg.SeedDemoData {
		if err := seedDemoData(ctx, durable, cfg.MinIncrement()); err != nil {
			logging.Warn().Err(err).Msg("seed demo data failed")
		}
	}

	facade := api.New(eng, durable, manager, api.Config{
		BidRateLimit:  cfg.BidRateLimit,
		BidRateWindow: cfg.BidRateWindow(),
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           facade.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

// seedDemoData plants one user pair, one item, and an auction opening now.
// Development convenience behind seed_demo_data; replays are no-ops.
func seedDemoData(ctx context.Context, durable *store.Postgres, increment decimal.Decimal) error {
	now := time.Now().UTC()

	for _, u := range []models.User{
		{ID: "demo-alice", Username: "alice"},
		{ID: "demo-bob", Username: "bob"},
	} {
		if err := durable.SaveUser(ctx, u); err != nil {
			return err
		}
	}

	item := models.Item{
		ID:        "demo-item",
		Name:      "vintage cello",
		BasePrice: decimal.RequireFromString("8500.00"),
	}
	if err := durable.SaveItem(ctx, item); err != nil {
		return err
	}

	if _, err := durable.GetAuction(ctx, "demo-auction"); err == nil {
		return nil
	} else if !errors.Is(err, auctionerrors.ErrAuctionNotFound) {
		return err
	}
	auction := models.Auction{
		ID:                  "demo-auction",
		ItemID:              item.ID,
		StartTime:           now,
		EndTime:             now.Add(time.Hour),
		Status:              models.StatusPending,
		MinIncrementPercent: increment,
		CreatedAt:           now,
	}
	if err := durable.SaveAuction(ctx, auction); err != nil {
		return err
	}
	logging.Info().Str("auction", auction.ID).Msg("demo auction seeded")
	return nil
}
