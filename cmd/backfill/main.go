// Package main runs a single backfill job from the command line and exits.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"candlewatch/internal/candles"
	"candlewatch/internal/config"
	"candlewatch/internal/domain"
	"candlewatch/internal/orchestrator"
	"candlewatch/internal/provider"
	"candlewatch/internal/storage"
	"candlewatch/internal/storage/memory"
	"candlewatch/internal/storage/migrations"
	pgstore "candlewatch/internal/storage/postgres"
	"candlewatch/internal/workers"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	ticker := flag.String("ticker", "", "Ticker to backfill (must be declared in config symbols)")
	interval := flag.String("interval", "1d", "Candle interval")
	startStr := flag.String("start", "", "Range start, RFC3339")
	endStr := flag.String("end", "", "Range end, RFC3339")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	if *ticker == "" || *startStr == "" || *endStr == "" {
		log.Fatal("--ticker, --start and --end are required")
	}
	start, err := time.Parse(time.RFC3339, *startStr)
	if err != nil {
		log.WithError(err).Fatal("invalid --start")
	}
	end, err := time.Parse(time.RFC3339, *endStr)
	if err != nil {
		log.WithError(err).Fatal("invalid --end")
	}

	var symbol *domain.Symbol
	for _, s := range cfg.Symbols {
		if s.Ticker == *ticker {
			symbol = &domain.Symbol{ID: s.ID, Ticker: s.Ticker, Name: s.Name}
			break
		}
	}
	if symbol == nil {
		log.Fatalf("ticker %q is not declared in config symbols", *ticker)
	}

	ctx := context.Background()

	candleStore, jobStore, cleanup, err := createStores(ctx, cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("create stores")
	}
	defer cleanup()

	writer := candles.NewWriter(candleStore, log)
	prov := provider.NewRESTProvider(cfg.Provider.Name, cfg.Provider.BaseURL,
		provider.WithRateLimit(cfg.Provider.RatePerSecond, cfg.Provider.RateBurst),
		provider.WithMaxWindow(cfg.Provider.MaxWindow.Std()),
		provider.WithHTTPClient(&http.Client{Timeout: cfg.Provider.RequestTimeout.Std()}),
		provider.WithLogger(log),
	)
	orch := orchestrator.New(candleStore, writer, prov, orchestrator.WithLogger(log))
	worker := workers.NewBackfillWorker(jobStore, orch, log)

	now := time.Now().UTC()
	job := &domain.BackfillJob{
		ID:        uuid.NewString(),
		SymbolID:  symbol.ID,
		Ticker:    symbol.Ticker,
		Interval:  *interval,
		Start:     start,
		End:       end,
		Status:    domain.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := jobStore.Insert(ctx, job); err != nil {
		log.WithError(err).Fatal("insert backfill job")
	}

	if err := worker.RunJob(ctx, job.ID); err != nil {
		log.WithError(err).Fatal("run backfill job")
	}

	done, err := jobStore.GetByID(ctx, job.ID)
	if err != nil {
		log.WithError(err).Fatal("read backfill job")
	}
	if done.Status == domain.JobFailed {
		log.WithField("error", done.ErrorMessage).Fatal("backfill failed")
	}

	n, err := candleStore.Count(ctx, symbol.ID, *interval)
	if err != nil {
		log.WithError(err).Fatal("count candles")
	}
	fmt.Printf("backfill %s: %s %s %s..%s, %d candles stored\n",
		done.Status, symbol.Ticker, *interval,
		start.Format(time.RFC3339), end.Format(time.RFC3339), n)
}

// createStores builds the candle and job stores for the configured backend.
func createStores(ctx context.Context, cfg config.StorageConfig) (storage.CandleStore, storage.BackfillJobStore, func(), error) {
	if cfg.Backend == "memory" {
		return memory.NewCandleStore(), memory.NewBackfillJobStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("run postgres migrations: %w", err)
	}
	return pgstore.NewCandleStore(pool), pgstore.NewBackfillJobStore(pool), func() { pool.Close() }, nil
}
