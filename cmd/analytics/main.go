// Command analytics runs the standalone analytics service.
//
// It consumes search and enrichment events published by the search service,
// aggregates them in memory (search volume, failure and cancellation rates,
// latency percentiles, cache hit rate, top keywords, per-stage enrichment
// outcomes), snapshots the aggregate to PostgreSQL and serves it over HTTP.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/analytics"
	"github.com/bhandzo/cw-search-prototype/internal/analytics/aggregator"
	"github.com/bhandzo/cw-search-prototype/pkg/config"
	"github.com/bhandzo/cw-search-prototype/pkg/health"
	"github.com/bhandzo/cw-search-prototype/pkg/httpserver"
	"github.com/bhandzo/cw-search-prototype/pkg/kafka"
	"github.com/bhandzo/cw-search-prototype/pkg/logger"
	"github.com/bhandzo/cw-search-prototype/pkg/metrics"
	"github.com/bhandzo/cw-search-prototype/pkg/middleware"
	"github.com/bhandzo/cw-search-prototype/pkg/postgres"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	snapshotInterval  = time.Minute
	snapshotRetention = 30 * 24 * time.Hour
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.NewRegistry())
	agg := analytics.NewAggregator()
	checker := health.NewChecker()

	consumer := kafka.NewConsumer(cfg.Kafka, analytics.HandleEvent(agg),
		cfg.Kafka.Topics.AnalyticsEvents, cfg.Kafka.Topics.EnrichmentEvents)
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("analytics consumer error", "error", err)
		}
	}()
	checker.Register("kafka", health.Ping(false, consumer.Check(5*time.Minute)))
	slog.Info("analytics consumer started",
		"topics", []string{cfg.Kafka.Topics.AnalyticsEvents, cfg.Kafka.Topics.EnrichmentEvents},
		"group", cfg.Kafka.ConsumerGroup,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", analytics.NewHandler(agg).Stats)

	pg, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Warn("postgres unavailable, snapshots disabled", "error", err)
		checker.Register("postgres", health.Ping(false, nil))
	} else {
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate postgres schema", "error", err)
			os.Exit(1)
		}
		store := aggregator.NewStore(pg)
		if last, err := store.LatestSnapshot(ctx); err != nil {
			slog.Warn("could not read latest snapshot", "error", err)
		} else if last != nil {
			slog.Info("previous snapshot found",
				"captured_at", last.CapturedAt,
				"total_searches", last.Stats.TotalSearches,
			)
		}
		store.StartPeriodicSave(ctx, agg, snapshotInterval, snapshotRetention)
		mux.HandleFunc("GET /api/v1/analytics/snapshots", aggregator.NewHandler(store).Snapshots)
		checker.Register("postgres", health.Ping(false, pg.Ping))
	}

	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", m.Handler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	chain = middleware.Observe(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := httpserver.Run(ctx, server, cfg.Server.ShutdownTimeout); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
