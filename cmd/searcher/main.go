// Command searcher runs the candidate search service: session-gated keyword
// search against the ATS, streamed ranking and per-candidate enrichment.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bhandzo/cw-search-prototype/internal/analytics"
	"github.com/bhandzo/cw-search-prototype/internal/analytics/collector"
	"github.com/bhandzo/cw-search-prototype/internal/ats"
	"github.com/bhandzo/cw-search-prototype/internal/auth/ratelimit"
	"github.com/bhandzo/cw-search-prototype/internal/auth/session"
	gwhandler "github.com/bhandzo/cw-search-prototype/internal/gateway/handler"
	"github.com/bhandzo/cw-search-prototype/internal/gateway/router"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/archive"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/cache"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/enrich"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/executor"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/handler"
	"github.com/bhandzo/cw-search-prototype/internal/searcher/ranker"
	"github.com/bhandzo/cw-search-prototype/internal/summarizer"
	"github.com/bhandzo/cw-search-prototype/pkg/config"
	"github.com/bhandzo/cw-search-prototype/pkg/health"
	"github.com/bhandzo/cw-search-prototype/pkg/httpserver"
	"github.com/bhandzo/cw-search-prototype/pkg/kafka"
	"github.com/bhandzo/cw-search-prototype/pkg/logger"
	"github.com/bhandzo/cw-search-prototype/pkg/metrics"
	"github.com/bhandzo/cw-search-prototype/pkg/postgres"
	pkgredis "github.com/bhandzo/cw-search-prototype/pkg/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
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
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"session_backend", cfg.Session.Backend,
		"summarizer", cfg.Summarizer.Provider,
		"ranking_strategy", cfg.Search.RankingStrategy,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	if cfg.Metrics.Enabled {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Port); err != nil {
				slog.Error("metrics server error", "error", err)
			}
		}()
	}

	checker := health.NewChecker()

	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, result caching disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}
	var redisPing func(context.Context) error
	if redisClient != nil {
		redisPing = redisClient.Ping
	}
	checker.Register("redis", health.Ping(cfg.Session.Backend == config.SessionRedis, redisPing))

	needPostgres := cfg.Session.Backend == config.SessionPostgres || cfg.Archive.Enabled
	var pg *postgres.Client
	if needPostgres {
		pg, err = postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("failed to migrate postgres schema", "error", err)
			os.Exit(1)
		}
		checker.Register("postgres", health.Ping(cfg.Session.Backend == config.SessionPostgres, pg.Ping))
	}

	var store session.Store
	switch cfg.Session.Backend {
	case config.SessionRedis:
		if redisClient == nil {
			slog.Error("session backend redis selected but redis is unavailable")
			os.Exit(1)
		}
		store = session.NewRedisStore(redisClient)
	case config.SessionPostgres:
		store = session.NewPostgresStore(pg)
	default:
		store = session.NewMemoryStore()
	}
	sessions := session.NewManager(store, cfg.Session, cfg.Search)

	completer, err := newCompleter(ctx, cfg.Summarizer)
	if err != nil {
		slog.Error("failed to create summarizer", "error", err)
		os.Exit(1)
	}
	llm := summarizer.New(completer, cfg.Summarizer, cfg.Resilience, m)
	checker.Register("summarizer", health.Static(health.StatusUp, llm.Provider()))

	aggregator := analytics.NewAggregator()
	var searchCollector *analytics.Collector
	var enrichmentPublisher analytics.EnrichmentPublisher
	if cfg.Kafka.Enabled {
		searchProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		defer searchProducer.Close()
		searchCollector = analytics.NewCollector(searchProducer, 10000)
		searchCollector.Start(ctx)
		defer searchCollector.Close()

		enrichmentProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.EnrichmentEvents)
		defer enrichmentProducer.Close()
		batch := collector.NewBatchCollector(enrichmentProducer, 100, 2*time.Second)
		batch.Start(ctx)
		defer batch.Close()
		enrichmentPublisher = batch

		checker.Register("kafka", health.Static(health.StatusUp, "publishing"))
		slog.Info("analytics publishing enabled",
			"brokers", cfg.Kafka.Brokers,
			"search_topic", cfg.Kafka.Topics.AnalyticsEvents,
			"enrichment_topic", cfg.Kafka.Topics.EnrichmentEvents,
		)
	}
	tracker := analytics.NewTracker(aggregator, searchCollector, enrichmentPublisher)

	client := ats.New(cfg.ATS, cfg.Resilience, m)

	opts := enrich.OptionsFromConfig(cfg.Enrich)
	if cfg.Archive.Enabled {
		opts.Archive = archive.New(pg.DB)
		slog.Info("summary archive enabled")
	}
	pipeline := enrich.New(client, llm, opts, m)

	var ranked *cache.RankedCache
	if redisClient != nil && cfg.Search.CacheResults {
		ranked = cache.New(redisClient, cfg.Redis.CacheTTL, m)
		ranked.SetComputeTimeout(cfg.Server.RequestTimeout)
		slog.Info("ranked result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	strategy, err := ranker.ParseStrategy(cfg.Search.RankingStrategy)
	if err != nil {
		slog.Error("invalid ranking strategy", "error", err)
		os.Exit(1)
	}

	searchH := handler.New(handler.Deps{
		Searcher:     executor.New(client, cfg.ATS.PagesPerKeyword),
		ATS:          client,
		LLM:          llm,
		Enricher:     pipeline,
		Cache:        ranked,
		Tracker:      tracker,
		Metrics:      m,
		Strategy:     strategy,
		NoteMaxChars: cfg.Enrich.NoteMaxChars,
		Tracing:      cfg.Tracing.Enabled,
	})

	limiter := ratelimit.New(cfg.Gateway.RateLimitPerMinute, cfg.Gateway.RateLimitBurst)
	defer limiter.Close()

	chain := router.New(router.Deps{
		Search:         searchH,
		Credentials:    gwhandler.New(sessions, client, cfg.ATS.ValidateOnIssue),
		Analytics:      analytics.NewHandler(aggregator),
		Health:         checker,
		Metrics:        m,
		Sessions:       sessions,
		Limiter:        limiter,
		AllowOrigins:   cfg.Gateway.AllowOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     chain,
		ReadTimeout: cfg.Server.ReadTimeout,
		// The search stream clears this per request.
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	slog.Info("search service listening", "addr", server.Addr)
	if err := httpserver.Run(ctx, server, cfg.Server.ShutdownTimeout); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}

func newCompleter(ctx context.Context, cfg config.SummarizerConfig) (summarizer.Completer, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return summarizer.NewGemini(ctx, cfg)
	default:
		return summarizer.NewOpenAI(cfg), nil
	}
}
