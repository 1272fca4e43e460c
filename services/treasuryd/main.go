package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/D2dProtocol/d2d-program/config"
	nativecommon "github.com/D2dProtocol/d2d-program/native/common"
	"github.com/D2dProtocol/d2d-program/native/treasury"
	"github.com/D2dProtocol/d2d-program/observability"
	"github.com/D2dProtocol/d2d-program/observability/logging"
	telemetry "github.com/D2dProtocol/d2d-program/observability/otel"
	daemonconfig "github.com/D2dProtocol/d2d-program/services/treasuryd/config"
	"github.com/D2dProtocol/d2d-program/services/treasuryd/journal"
	"github.com/D2dProtocol/d2d-program/services/treasuryd/keeper"
	"github.com/D2dProtocol/d2d-program/services/treasuryd/server"
	"github.com/D2dProtocol/d2d-program/storage"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/treasuryd/config.yaml", "path to treasuryd config")
	flag.Parse()

	cfg, err := daemonconfig.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	var logFile *logging.FileOptions
	if cfg.Log.File != "" {
		logFile = &logging.FileOptions{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		}
	}
	env := cfg.Environment
	if env == "" {
		env = os.Getenv("D2D_ENV")
	}
	logger := logging.SetupWithLevel("treasuryd", env, cfg.Log.Level, logFile)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName:    "treasuryd",
		Environment:    env,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
		MetricInterval: time.Duration(cfg.Telemetry.MetricIntervalSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	stopTelemetry := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}

	var tracer trace.TracerProvider
	if cfg.Telemetry.Traces {
		tracer = otel.GetTracerProvider()
	}
	if err := run(cfg, logger, tracer); err != nil {
		logger.Error("treasuryd exited", slog.Any("error", err))
		stopTelemetry()
		os.Exit(1)
	}
	stopTelemetry()
}

func run(cfg daemonconfig.Config, logger *slog.Logger, tracer trace.TracerProvider) error {
	params, err := config.LoadParams(cfg.ParamsFile)
	if err != nil {
		return fmt.Errorf("load params: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.LedgerPath())
	if err != nil {
		return fmt.Errorf("open ledger store: %w", err)
	}
	defer db.Close()

	store := treasury.NewStore(db)
	engine := treasury.NewEngine(store)
	engine.SetLogger(logger)
	metrics := observability.TreasuryMetrics()
	engine.AddObserver(metrics)
	if cfg.Telemetry.Metrics {
		recorder, err := telemetry.NewOperationRecorder(otel.GetMeterProvider())
		if err != nil {
			return fmt.Errorf("telemetry recorder: %w", err)
		}
		engine.AddObserver(recorder)
	}

	var opsJournal *journal.Journal
	if cfg.Journal.DSN != "" {
		opsJournal, err = journal.Open(cfg.Journal.DSN, journal.WithLogger(logger))
		if err != nil {
			return err
		}
		defer func() {
			if err := opsJournal.Close(); err != nil {
				logger.Warn("close journal", slog.Any("error", err))
			}
		}()
		engine.AddObserver(opsJournal)
		logger.Info("operation journal enabled", slog.String("journal_dsn", logging.MaskDSN(cfg.Journal.DSN)))
	}

	operator := nativecommon.NewCapability("treasuryd", nativecommon.RoleAdmin)
	if err := bootstrap(engine, operator, params, cfg.Bootstrap, metrics, logger); err != nil {
		return err
	}

	var k *keeper.Keeper
	if cfg.Keeper.Enabled {
		k = keeper.New(engine, operator, keeper.Schedule{
			ProcessQueue: cfg.Keeper.QueueSchedule,
			QueueBatch:   cfg.Keeper.QueueBatch,
			Distribute:   cfg.Keeper.RewardsSchedule,
			RewardsBatch: cfg.Keeper.RewardsBatch,
			Invariants:   cfg.Keeper.InvariantsSchedule,
		}, metrics, logPayouts(logger), logger)
		if err := k.Register(); err != nil {
			return fmt.Errorf("keeper: %w", err)
		}
		k.Start()
		defer k.Stop()
	}

	srvCfg := server.Config{
		Treasury:  engine,
		State:     store,
		Metrics:   observability.ModuleMetrics(),
		Logger:    logger,
		RateLimit: server.RateLimit{RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst},
		Tracer:    tracer,
	}
	if opsJournal != nil {
		srvCfg.Journal = opsJournal
	}
	srv, err := server.New(srvCfg)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("treasuryd listening", slog.String("listen", cfg.ListenAddress))
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = httpServer.Close()
		}
		return nil
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// bootstrap initialises an empty ledger when allowed and seeds the gauges.
func bootstrap(engine *treasury.Engine, operator *nativecommon.Capability, params treasury.Params, allowed bool, metrics *observability.TreasuryMetricsRegistry, logger *slog.Logger) error {
	ledger, err := engine.Ledger()
	switch {
	case err == nil:
		metrics.ObserveLedger(ledger)
		return nil
	case !errors.Is(err, treasury.ErrNotInitialized):
		return fmt.Errorf("read ledger: %w", err)
	case !allowed:
		logger.Warn("treasury ledger not initialised; set bootstrap: true to create it")
		return nil
	}
	if err := engine.Initialize(operator, params); err != nil {
		return fmt.Errorf("initialise ledger: %w", err)
	}
	logger.Info("treasury ledger bootstrapped")
	return nil
}

func logPayouts(logger *slog.Logger) keeper.PayoutSink {
	return func(payouts []treasury.Payout) {
		for _, p := range payouts {
			logger.Info("queued withdrawal payout",
				slog.Uint64("position", p.Position),
				logging.MaskField("staker", p.StakerID),
				slog.Uint64("amount", p.Amount),
				slog.String("status", p.Status.String()))
		}
	}
}
