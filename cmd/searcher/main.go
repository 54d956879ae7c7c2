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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/novelnest/bookmatch/internal/catalog"
	"github.com/novelnest/bookmatch/internal/indexer/segment"
	"github.com/novelnest/bookmatch/internal/indexer/tokenizer"
	"github.com/novelnest/bookmatch/internal/searcher/cache"
	"github.com/novelnest/bookmatch/internal/searcher/handler"
	"github.com/novelnest/bookmatch/internal/searcher/recommender"
	"github.com/novelnest/bookmatch/internal/searcher/reload"
	"github.com/novelnest/bookmatch/pkg/config"
	"github.com/novelnest/bookmatch/pkg/health"
	"github.com/novelnest/bookmatch/pkg/kafka"
	"github.com/novelnest/bookmatch/pkg/logger"
	"github.com/novelnest/bookmatch/pkg/metrics"
	"github.com/novelnest/bookmatch/pkg/middleware"
	"github.com/novelnest/bookmatch/pkg/postgres"
	pkgredis "github.com/novelnest/bookmatch/pkg/redis"
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
	slog.Info("starting recommendation service", "port", cfg.Server.Port, "index_path", cfg.Index.Path)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	tok, err := tokenizer.New(tokenizer.Options{
		DictionaryPath: cfg.Index.DictionaryPath,
		StopWordsPath:  cfg.Index.StopWordsPath,
		MinTokenRunes:  cfg.Index.MinTokenRunes,
	})
	if err != nil {
		slog.Error("failed to load tokenizer", "error", err)
		os.Exit(1)
	}

	idx, err := segment.Load(cfg.Index.Path)
	if err != nil {
		slog.Error("failed to load index", "path", cfg.Index.Path, "error", err)
		os.Exit(1)
	}
	slog.Info("index loaded",
		"build_id", idx.Meta().BuildID,
		"docs", idx.Len(),
		"terms", idx.Vocabulary().Size(),
	)

	checker := health.NewChecker()

	var store catalog.Store
	var csvBooks *catalog.CSVStore
	switch cfg.Index.CorpusSource {
	case config.CorpusSourcePostgres:
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		store = catalog.NewPostgresStore(client)
		checker.Register("catalog", health.Ping(false, client.Ping))
	default:
		csvBooks, err = catalog.NewCSVStore(cfg.Index.CSVPath)
		if err != nil {
			slog.Error("failed to load catalog", "path", cfg.Index.CSVPath, "error", err)
			os.Exit(1)
		}
		store = csvBooks
		slog.Info("catalog loaded", "books", csvBooks.Len())
	}

	rec := recommender.New(idx, tok, store, m)
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		current := rec.Index()
		if current == nil || current.Len() == 0 {
			return health.ComponentHealth{Status: health.StatusDown, Message: "no index loaded"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("build %s, %d books", current.Meta().BuildID, current.Len()),
		}
	})

	var queryCache *cache.QueryCache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, result caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
				if !queryCache.Available() {
					return health.ComponentHealth{Status: health.StatusDegraded, Message: "cache bypassed after repeated errors"}
				}
				return health.Ping(true, redisClient.Ping)(ctx)
			})
			slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(cfg.Kafka.Brokers) > 0 {
		var invalidator reload.Invalidator
		if queryCache != nil {
			invalidator = queryCache
		}
		reloader := reload.New(rec, invalidator, m)
		if csvBooks != nil {
			reloader = reloader.WithCatalog(csvBooks)
		}
		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexPublished, reloader.HandleMessage())
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("index reload consumer stopped", "error", err)
			}
		}()
		slog.Info("hot reload enabled",
			"topic", cfg.Kafka.Topics.IndexPublished,
			"group", cfg.Kafka.ConsumerGroup,
		)
	}

	h := handler.New(rec, store, queryCache, cfg.Search.DefaultK, cfg.Search.MaxK)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	if cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", metrics.Handler(reg))
	}

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("recommendation service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("recommendation service stopped")
}
