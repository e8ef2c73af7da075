// Command executiond wires up the deterministic trade execution engine
// and serves its admin surface: logging, then config, then storage,
// then each domain component in dependency order, then the
// long-running services, then wait-for-signal.
package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/execengine/adminrpc"
	"github.com/web3guy0/execengine/alert"
	"github.com/web3guy0/execengine/broker/paper"
	"github.com/web3guy0/execengine/closure"
	"github.com/web3guy0/execengine/config"
	"github.com/web3guy0/execengine/eventlog"
	"github.com/web3guy0/execengine/metrics"
	"github.com/web3guy0/execengine/orchestrator"
	"github.com/web3guy0/execengine/position"
	"github.com/web3guy0/execengine/risk"
	"github.com/web3guy0/execengine/storage"
)

const version = "1.0.0"

// Process exit codes.
const (
	exitSuccess           = 0
	exitRiskRejected      = 1
	exitBrokerRejected    = 2
	exitInvariantViolated = 3
	exitConnectivityFatal = 4
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	log.Info().Str("version", version).Msg("execution engine starting")

	store, err := storage.New(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open storage")
	}
	defer store.Close()

	bro := paper.New(cfg.Paper, decimal.NewFromInt(10000), rand.New(rand.NewSource(time.Now().UnixNano())))

	validator := risk.NewValidator(cfg.Risk, store)
	positions := position.NewManager(store)
	events := eventlog.New(store)

	closureSvc := closure.NewService(store, bro)
	alertNotifier, err := alert.NewTelegramNotifier(cfg.Telegram)
	if err != nil {
		log.Error().Err(err).Msg("alert notifier init failed, falling back to log-only")
		alertNotifier = alert.NoopNotifier{}
	}
	closureSvc.Alert = alertNotifier
	closureSvc.Ledger = validator // folds realized P&L into the daily risk counters

	orch := orchestrator.New(store, bro, validator, positions, closureSvc, events, alertNotifier, cfg.Retry, cfg.Breaker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bro.Connect(ctx); err != nil {
		log.Error().Err(err).Msg("broker connect failed at startup")
		os.Exit(exitConnectivityFatal)
	}
	orch.Start(ctx)

	reconciler := closure.NewReconciler(store, bro)
	reconciler.Alert = alertNotifier
	if err := reconciler.Run(ctx); err != nil {
		log.Error().Err(err).Msg("startup reconciliation pass failed")
	}

	go runHeartbeat(ctx, bro)

	adminServer := adminrpc.NewServer(cfg.Server.ListenAddr, orch)
	go func() {
		if err := adminServer.Start(); err != nil {
			log.Error().Err(err).Msg("admin server stopped")
		}
	}()

	metricsServer := newMetricsServer(cfg.Server.MetricsAddr)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	log.Info().
		Str("admin_addr", cfg.Server.ListenAddr).
		Str("metrics_addr", cfg.Server.MetricsAddr).
		Msg("execution engine ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := adminServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin server shutdown error")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics server shutdown error")
	}
	_ = bro.Disconnect(shutdownCtx)

	log.Info().Msg("goodbye")
	os.Exit(exitSuccess)
}
