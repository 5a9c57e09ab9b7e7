// Package main runs the full candle service: HTTP API, incremental poller,
// alert evaluation and backfill workers over a shared store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"candlewatch/internal/alerts"
	"candlewatch/internal/cache"
	"candlewatch/internal/candles"
	"candlewatch/internal/config"
	"candlewatch/internal/domain"
	"candlewatch/internal/httpapi"
	"candlewatch/internal/observability"
	"candlewatch/internal/orchestrator"
	"candlewatch/internal/provider"
	"candlewatch/internal/storage"
	chstore "candlewatch/internal/storage/clickhouse"
	"candlewatch/internal/storage/memory"
	"candlewatch/internal/storage/migrations"
	pgstore "candlewatch/internal/storage/postgres"
	"candlewatch/internal/workers"
)

// stores groups the storage implementations the service runs on.
type stores struct {
	candles  storage.CandleStore
	alerts   storage.AlertStore
	triggers storage.TriggerStore
	jobs     storage.BackfillJobStore
	archive  storage.CandleArchive // nil when no ClickHouse DSN is configured
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, cleanup, err := createStores(ctx, cfg.Storage, log)
	if err != nil {
		log.WithError(err).Fatal("failed to create stores")
	}
	defer cleanup()

	if err := run(ctx, cancel, cfg, st, log); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("server error")
	}
	log.Info("shutdown complete")
}

// newLogger builds the service logger from config.
func newLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// createStores builds the configured storage backend and runs migrations.
func createStores(ctx context.Context, cfg config.StorageConfig, log logrus.FieldLogger) (*stores, func(), error) {
	if cfg.Backend == "memory" {
		log.Info("using in-memory storage")
		return &stores{
			candles:  memory.NewCandleStore(),
			alerts:   memory.NewAlertStore(),
			triggers: memory.NewTriggerStore(),
			jobs:     memory.NewBackfillJobStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}

	st := &stores{
		candles:  pgstore.NewCandleStore(pool),
		alerts:   pgstore.NewAlertStore(pool),
		triggers: pgstore.NewTriggerStore(pool),
		jobs:     pgstore.NewBackfillJobStore(pool),
	}
	cleanup := func() { pool.Close() }

	if cfg.ClickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.ClickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			conn.Close()
			pool.Close()
			return nil, nil, fmt.Errorf("run clickhouse migrations: %w", err)
		}
		st.archive = chstore.NewCandleArchiveStore(conn)
		cleanup = func() {
			conn.Close()
			pool.Close()
		}
		log.Info("clickhouse archive enabled")
	}

	return st, cleanup, nil
}

// run wires the components and blocks until shutdown.
func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, st *stores, log *logrus.Logger) error {
	symbols := make([]domain.Symbol, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols = append(symbols, domain.Symbol{ID: s.ID, Ticker: s.Ticker, Name: s.Name})
	}

	writerOpts := []candles.WriterOption{}
	if st.archive != nil {
		writerOpts = append(writerOpts, candles.WithArchive(st.archive))
	}
	writer := candles.NewWriter(st.candles, log, writerOpts...)

	prov := provider.NewRESTProvider(cfg.Provider.Name, cfg.Provider.BaseURL,
		provider.WithRateLimit(cfg.Provider.RatePerSecond, cfg.Provider.RateBurst),
		provider.WithMaxWindow(cfg.Provider.MaxWindow.Std()),
		provider.WithHTTPClient(&http.Client{Timeout: cfg.Provider.RequestTimeout.Std()}),
		provider.WithLogger(log),
	)

	orch := orchestrator.New(st.candles, writer, prov,
		orchestrator.WithHardCap(cfg.Orchestrator.HardCapBars),
		orchestrator.WithGapTimeout(cfg.Orchestrator.GapTimeout.Std()),
		orchestrator.WithLogger(log),
	)

	engine := alerts.NewEngine(st.alerts, st.triggers, alerts.WithLogger(log))
	dispatcher := alerts.NewDispatcher(st.triggers, alerts.NewLogNotifier(log), log)
	backfill := workers.NewBackfillWorker(st.jobs, orch, log)

	// Indicator series cache, sized for a handful of symbols and indicators
	// per poll. Entries expire after two poll periods.
	seriesCache := cache.New(256, 2*cfg.Poller.Every.Std())
	observability.DefaultMetrics.ObserveCache("candlewatch", "indicator_series", seriesCache)

	poller := workers.NewPoller(workers.PollerConfig{
		Interval:     cfg.Poller.Interval,
		Every:        cfg.Poller.Every.Std(),
		LookbackBars: cfg.Poller.LookbackBars,
	}, symbols, orch, engine, dispatcher, st.alerts, seriesCache, log)

	manager := workers.NewManager(ctx, log)
	manager.Start("poller", poller.Run)
	manager.Start("backfill_sweep", func(ctx context.Context) {
		if err := backfill.RunPending(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("pending backfill sweep failed")
		}
	})

	if cfg.Provider.StreamURL != "" {
		manager.Start("price_stream", func(ctx context.Context) {
			runPriceStream(ctx, cfg.Provider.StreamURL, symbols, poller, log)
		})
	}

	api := httpapi.NewServer(orch, st.alerts, st.triggers, st.jobs, backfill, manager, symbols, log)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: api.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTP.Addr).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		cancel()
		manager.Shutdown(cfg.Workers.ShutdownTimeout.Std())
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Workers.ShutdownTimeout.Std())
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown failed")
	}

	cancel()
	if clean := manager.Shutdown(cfg.Workers.ShutdownTimeout.Std()); !clean {
		log.Warn("some workers did not stop in time")
	}
	return nil
}

// runPriceStream consumes live price ticks until ctx is cancelled. Each tick
// is fed to the poller, which evaluates the symbol's price alerts against the
// live bar; candle history stays authoritative through the scheduled sweeps.
func runPriceStream(ctx context.Context, endpoint string, symbols []domain.Symbol, poller *workers.Poller, log logrus.FieldLogger) {
	stream, err := provider.NewPriceStream(ctx, endpoint, nil, log)
	if err != nil {
		log.WithError(err).Error("price stream connect failed")
		return
	}
	defer stream.Close()

	tickers := make([]string, 0, len(symbols))
	for _, s := range symbols {
		tickers = append(tickers, s.Ticker)
	}
	if err := stream.Subscribe(tickers...); err != nil {
		log.WithError(err).Error("price stream subscribe failed")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-stream.Updates():
			if !ok {
				return
			}
			if err := poller.HandleTick(ctx, update); err != nil {
				log.WithError(err).WithField("ticker", update.Ticker).Warn("tick evaluation failed")
			}
		}
	}
}
