// Command server runs the Covey valuation engine: the nightly portfolio
// reconstruction pipeline plus the read-only HTTP API over its output.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/coveylabs/valuation-engine/internal/clients/covey"
	"github.com/coveylabs/valuation-engine/internal/config"
	"github.com/coveylabs/valuation-engine/internal/database"
	"github.com/coveylabs/valuation-engine/internal/domain"
	"github.com/coveylabs/valuation-engine/internal/modules/market_hours"
	"github.com/coveylabs/valuation-engine/internal/modules/portfolio"
	portfoliohandlers "github.com/coveylabs/valuation-engine/internal/modules/portfolio/handlers"
	"github.com/coveylabs/valuation-engine/internal/modules/prices"
	"github.com/coveylabs/valuation-engine/internal/modules/refdata"
	"github.com/coveylabs/valuation-engine/internal/modules/trading"
	"github.com/coveylabs/valuation-engine/internal/reliability"
	"github.com/coveylabs/valuation-engine/internal/scheduler"
	"github.com/coveylabs/valuation-engine/internal/server"
	"github.com/coveylabs/valuation-engine/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logger.SetGlobalLogger(log)

	log.Info().
		Str("data_dir", cfg.DataDir).
		Str("analyst", cfg.AnalystAddress).
		Msg("Valuation engine starting")

	// Databases
	ledgerDB, err := database.New(database.Config{
		Path: cfg.DatabasePath("ledger"), Profile: database.ProfileLedger, Name: "ledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open ledger database")
	}
	defer ledgerDB.Close()

	historyDB, err := database.New(database.Config{
		Path: cfg.DatabasePath("history"), Profile: database.ProfileCache, Name: "history",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open history database")
	}
	defer historyDB.Close()

	refdataDB, err := database.New(database.Config{
		Path: cfg.DatabasePath("refdata"), Profile: database.ProfileStandard, Name: "refdata",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open refdata database")
	}
	defer refdataDB.Close()

	portfolioDB, err := database.New(database.Config{
		Path: cfg.DatabasePath("portfolio"), Profile: database.ProfileStandard, Name: "portfolio",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open portfolio database")
	}
	defer portfolioDB.Close()

	databases := []*database.DB{ledgerDB, historyDB, refdataDB, portfolioDB}
	for _, db := range databases {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Migration failed")
		}
	}

	// Core services
	calendar := market_hours.New(log)
	priceRepo := prices.NewRepository(historyDB.Conn(), log)
	refdataRepo := refdata.NewRepository(refdataDB.Conn(), log)
	tradeRepo := trading.NewRepository(ledgerDB.Conn(), log)
	snapshotRepo := portfolio.NewSnapshotRepository(portfolioDB.Conn(), log)

	var priceSync *prices.SyncService
	if cfg.MarketDataKeyID != "" {
		feedClient, err := prices.NewHTTPFeedClient(prices.HTTPFeedConfig{
			BaseURL:       cfg.MarketDataBaseURL,
			KeyID:         cfg.MarketDataKeyID,
			SecretKey:     cfg.MarketDataSecretKey,
			RatePerSecond: cfg.MarketDataRateLimit,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to build market data client")
		}
		priceSync = prices.NewSyncService(feedClient, priceRepo, log)
	} else {
		log.Warn().Msg("No market data credentials configured, valuing against stored bars only")
	}

	var readers []domain.ChainReader
	if cfg.PolygonRPCURL != "" {
		readers = append(readers, covey.NewHTTPReader(domain.ChainPolygon, cfg.PolygonRPCURL, log))
	}
	if cfg.SkaleRPCURL != "" {
		readers = append(readers, covey.NewHTTPReader(domain.ChainSkale, cfg.SkaleRPCURL, log))
	}
	if len(readers) == 0 {
		log.Fatal().Msg("No chain endpoints configured")
	}
	gatherer := covey.NewGatherer(readers, log)

	runner := portfolio.NewRunner(
		cfg.AnalystAddress,
		portfolio.Params{
			StartCash:      cfg.StartCash,
			AnnualInterest: cfg.AnnualInterest,
			FeeRate:        cfg.FeeRate,
		},
		gatherer, priceSync, priceRepo, refdataRepo, calendar, tradeRepo, snapshotRepo, log,
	)

	var backup *reliability.BackupService
	if cfg.Backup.Enabled {
		backup, err = reliability.NewBackupService(context.Background(), cfg.Backup, cfg.DataDir,
			[]string{"ledger.db", "history.db", "refdata.db", "portfolio.db"}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to build backup service")
		}
	}

	sched := scheduler.New(runner, backup, databases, log)
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}
	defer sched.Stop()

	httpServer := server.New(server.Config{
		Log:              log,
		Port:             cfg.Port,
		DevMode:          cfg.DevMode,
		PortfolioHandler: portfoliohandlers.NewHandler(snapshotRepo, tradeRepo, log),
		Databases:        databases,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	// First valuation runs immediately so a fresh deployment serves data
	// without waiting for the nightly schedule
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()
		if err := sched.RunNow(ctx); err != nil {
			log.Error().Err(err).Msg("Initial valuation run failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
}
