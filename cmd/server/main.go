// Package main runs the full service: periodic ingestion over all enabled
// sources, the model lifecycle (bootstrap plus scheduled refit), and the
// HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"market-signal-lab/internal/anomaly"
	"market-signal-lab/internal/classify"
	"market-signal-lab/internal/config"
	"market-signal-lab/internal/domain"
	"market-signal-lab/internal/feature"
	"market-signal-lab/internal/ingest"
	"market-signal-lab/internal/ingest/stub"
	"market-signal-lab/internal/lifecycle"
	"market-signal-lab/internal/observability"
	"market-signal-lab/internal/scoring"
	"market-signal-lab/internal/server"
	"market-signal-lab/internal/storage"
	chstore "market-signal-lab/internal/storage/clickhouse"
	"market-signal-lab/internal/storage/memory"
	"market-signal-lab/internal/storage/migrations"
	pgstore "market-signal-lab/internal/storage/postgres"
)

func main() {
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
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	if err := run(ctx, cfg, log); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	signals, alerts, history, cleanup, err := buildStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	metrics := observability.NewMetrics("")

	manager := lifecycle.NewManager(signals, lifecycle.Config{
		MinFitSamples:  cfg.Lifecycle.MinFitSamples,
		BootstrapLimit: cfg.Lifecycle.BootstrapLimit,
		RefitTimeout:   cfg.Lifecycle.RefitTimeout(),
		Forest:         forestConfig(cfg),
	}, log).WithMetrics(metrics)
	if err := manager.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap model: %w", err)
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
	runner := ingest.NewRunner(buildAdapters(cfg), engine, log).WithMetrics(metrics)
	api := server.New(signals, alerts, manager, cfg.Server.Port, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Loop(gctx, cfg.Ingest.Interval()) })
	g.Go(func() error { return api.Run(gctx) })
	if interval := cfg.Lifecycle.RefitInterval(); interval > 0 {
		g.Go(func() error { return refitLoop(gctx, manager, interval, log) })
	}
	return g.Wait()
}

func refitLoop(ctx context.Context, manager *lifecycle.Manager, interval time.Duration, log zerolog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res, err := manager.Refit(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("scheduled refit skipped")
				continue
			}
			log.Info().Int("samples", res.SampleCount).Msg("scheduled refit complete")
		}
	}
}

func forestConfig(cfg *config.Config) anomaly.Config {
	return anomaly.Config{
		Trees:         cfg.Anomaly.Trees,
		SubsampleSize: cfg.Anomaly.SubsampleSize,
		Seed:          cfg.Anomaly.Seed,
	}
}

// buildAdapters returns one adapter per enabled source; disabled sources get
// a placeholder so per-cycle accounting still sees them.
func buildAdapters(cfg *config.Config) []ingest.SourceAdapter {
	enabled := make(map[domain.Source]bool, len(cfg.Ingest.Sources))
	for _, s := range cfg.Ingest.Sources {
		enabled[domain.Source(s)] = true
	}

	var adapters []ingest.SourceAdapter
	for _, a := range stub.All(cfg.Ingest.StubSeed) {
		if enabled[a.Source()] {
			adapters = append(adapters, a)
		} else {
			adapters = append(adapters, ingest.Disabled(a.Source()))
		}
	}
	return adapters
}

// buildStores creates the configured backend. With postgres, metric history
// optionally lives in ClickHouse.
func buildStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (
	storage.SignalStore, storage.AlertStore, storage.MetricHistoryStore, func(), error,
) {
	if cfg.Storage.Backend == "memory" {
		signals := memory.NewSignalStore()
		return signals, memory.NewAlertStore(signals),
			memory.NewMetricHistoryStore(cfg.Features.Window * 2), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	signals := pgstore.NewSignalStore(pool)
	alerts := pgstore.NewAlertStore(pool)
	var history storage.MetricHistoryStore = pgstore.NewMetricHistoryStore(pool)
	cleanup := func() { pool.Close() }

	if cfg.Storage.ClickhouseDSN != "" {
		conn, err := chstore.NewConn(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			pool.Close()
			return nil, nil, nil, nil, fmt.Errorf("connect to clickhouse: %w", err)
		}
		if err := migrations.RunClickhouseMigrations(ctx, conn); err != nil {
			conn.Close()
			pool.Close()
			return nil, nil, nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		history = chstore.NewMetricHistoryStore(conn)
		cleanup = func() {
			conn.Close()
			pool.Close()
		}
		log.Info().Msg("metric history backed by clickhouse")
	}

	return signals, alerts, history, cleanup, nil
}
