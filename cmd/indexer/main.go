package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/novelnest/bookmatch/internal/catalog"
	"github.com/novelnest/bookmatch/internal/indexer"
	"github.com/novelnest/bookmatch/internal/indexer/index"
	"github.com/novelnest/bookmatch/internal/indexer/tokenizer"
	"github.com/novelnest/bookmatch/pkg/config"
	"github.com/novelnest/bookmatch/pkg/kafka"
	"github.com/novelnest/bookmatch/pkg/logger"
	"github.com/novelnest/bookmatch/pkg/metrics"
	"github.com/novelnest/bookmatch/pkg/postgres"
)

// csvFile rereads the catalog CSV on every build.
type csvFile string

func (p csvFile) Documents(ctx context.Context) ([]catalog.Document, error) {
	store, err := catalog.LoadCSV(string(p))
	if err != nil {
		return nil, err
	}
	return store.Documents(ctx)
}

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	importCSV := flag.String("import-csv", "", "upsert this books CSV into PostgreSQL before building")
	interval := flag.Duration("interval", 0, "rebuild periodically at this interval instead of once")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting index builder",
		"corpus_source", cfg.Index.CorpusSource,
		"index_path", cfg.Index.Path,
		"max_features", cfg.Index.MaxFeatures,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tok, err := tokenizer.New(tokenizer.Options{
		DictionaryPath: cfg.Index.DictionaryPath,
		StopWordsPath:  cfg.Index.StopWordsPath,
		MinTokenRunes:  cfg.Index.MinTokenRunes,
	})
	if err != nil {
		slog.Error("failed to load tokenizer", "error", err)
		os.Exit(1)
	}

	var source indexer.DocumentSource = csvFile(cfg.Index.CSVPath)
	if cfg.Index.CorpusSource == config.CorpusSourcePostgres || *importCSV != "" {
		client, err := postgres.New(cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		store := catalog.NewPostgresStore(client)
		if err := store.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare catalog schema", "error", err)
			os.Exit(1)
		}
		if *importCSV != "" {
			if err := importBooks(ctx, store, *importCSV); err != nil {
				slog.Error("catalog import failed", "path", *importCSV, "error", err)
				os.Exit(1)
			}
		}
		if cfg.Index.CorpusSource == config.CorpusSourcePostgres {
			source = store
		}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	builder := indexer.NewBuilder(source, tok, cfg.Index.Path, index.Options{
		MaxFeatures: cfg.Index.MaxFeatures,
		Workers:     cfg.Index.Workers,
	}).WithMetrics(m)

	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexPublished)
		defer producer.Close()
		builder = builder.WithPublisher(producer)
		slog.Info("index announcements enabled", "topic", cfg.Kafka.Topics.IndexPublished)
	}

	if *interval <= 0 {
		if _, err := builder.Run(ctx); err != nil {
			slog.Error("index build failed", "error", err)
			os.Exit(1)
		}
		slog.Info("index builder finished")
		return
	}

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			shutdown(shutdownCtx)
		}()
	}
	watch(ctx, builder, *interval)
	slog.Info("index builder stopped")
}

// watch rebuilds on every tick. A failed build is logged and the previous
// file keeps serving.
func watch(ctx context.Context, builder *indexer.Builder, interval time.Duration) {
	slog.Info("rebuilding periodically", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := builder.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("index build failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func importBooks(ctx context.Context, store *catalog.PostgresStore, path string) error {
	books, err := catalog.LoadCSV(path)
	if err != nil {
		return err
	}
	docs, err := books.Documents(ctx)
	if err != nil {
		return err
	}
	if err := store.Upsert(ctx, docs); err != nil {
		return err
	}
	slog.Info("catalog imported", "path", path, "books", len(docs))
	return nil
}
