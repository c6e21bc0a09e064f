// Package main runs one ingestion cycle and exits. Useful for cron-style
// scheduling and for backfilling a fresh database before starting the
// server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"market-signal-lab/internal/anomaly"
	"market-signal-lab/internal/classify"
	"market-signal-lab/internal/config"
	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/feature"
	"market-signal-lab/internal/ingest"
	"market-signal-lab/internal/ingest/stub"
	"market-signal-lab/internal/lifecycle"
	"market-signal-lab/internal/scoring"
	"market-signal-lab/internal/storage"
	"market-signal-lab/internal/storage/memory"
	"market-signal-lab/internal/storage/migrations"
	pgstore "market-signal-lab/internal/storage/postgres"
)

func main() {
	cycles := flag.Int("cycles", 1, "Number of ingestion cycles to run")
	refit := flag.Bool("refit", false, "Refit the model after the final cycle")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	signals, history, cleanup, err := buildStores(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create stores")
	}
	defer cleanup()

	manager := lifecycle.NewManager(signals, lifecycle.Config{
		MinFitSamples:  cfg.Lifecycle.MinFitSamples,
		BootstrapLimit: cfg.Lifecycle.BootstrapLimit,
		RefitTimeout:   cfg.Lifecycle.RefitTimeout(),
		Forest: anomaly.Config{
			Trees:         cfg.Anomaly.Trees,
			SubsampleSize: cfg.Anomaly.SubsampleSize,
			Seed:          cfg.Anomaly.Seed,
		},
	}, log)
	if err := manager.Bootstrap(ctx); err != nil {
		log.Fatal().Err(err).Msg("bootstrap model")
	}

	engine := scoring.NewEngine(
		feature.NewExtractor(history, feature.Config{
			Window:     cfg.Features.Window,
			MinHistory: cfg.Features.MinHistory,
			Clamp:      cfg.Features.Clamp,
		}),
		classify.NewClassifier(classify.DefaultConfig()),
		scoring.Models(manager),
		signals,
		history,
		scoring.Config{
			AnomalyThreshold:   cfg.Scoring.AnomalyThreshold,
			HighSeverityScore:  cfg.Scoring.HighSeverityScore,
			HighPriorityLabels: cfg.Scoring.HighPriorityLabels,
		},
		log,
	)

	enabled := make(map[domain.Source]bool, len(cfg.Ingest.Sources))
	for _, s := range cfg.Ingest.Sources {
		enabled[domain.Source(s)] = true
	}
	var adapters []ingest.SourceAdapter
	for _, a := range stub.All(cfg.Ingest.StubSeed) {
		if enabled[a.Source()] {
			adapters = append(adapters, a)
		}
	}
	runner := ingest.NewRunner(adapters, engine, log)

	for i := 0; i < *cycles; i++ {
		res, err := runner.RunOnce(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("ingest cycle")
		}
		fmt.Printf("cycle %d: fetched=%d scored=%d alerts=%d rejected=%d failed=%d\n",
			i+1, res.Fetched, res.Scored, res.Alerts, res.Rejected, res.Failed)
	}

	if *refit {
		res, err := manager.Refit(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("refit")
		}
		fmt.Printf("refit: samples=%d fitted_at=%s\n", res.SampleCount, res.FittedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
}

func buildStores(ctx context.Context, cfg *config.Config) (storage.SignalStore, storage.MetricHistoryStore, func(), error) {
	if cfg.Storage.Backend == "memory" {
		return memory.NewSignalStore(), memory.NewMetricHistoryStore(cfg.Features.Window * 2), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}
	return pgstore.NewSignalStore(pool), pgstore.NewMetricHistoryStore(pool), func() { pool.Close() }, nil
}
