package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/novelnest/bookmatch/internal/catalog"
	"github.com/novelnest/bookmatch/internal/indexer/index"
	"github.com/novelnest/bookmatch/internal/indexer/segment"
	apperrors "github.com/novelnest/bookmatch/pkg/errors"
	"github.com/novelnest/bookmatch/pkg/kafka"
	"github.com/novelnest/bookmatch/pkg/metrics"
	"github.com/novelnest/bookmatch/pkg/resilience"
	"github.com/novelnest/bookmatch/pkg/tracing"
)

// DocumentSource is the part of a catalog the builder reads.
type DocumentSource interface {
	Documents(ctx context.Context) ([]catalog.Document, error)
}

// Builder runs one offline build. Publisher and Metrics are optional.
type Builder struct {
	source    DocumentSource
	tokenizer index.Tokenizer
	path      string
	options   index.Options
	publisher kafka.Publisher
	retry     resilience.RetryConfig
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewBuilder(source DocumentSource, tok index.Tokenizer, path string, opts index.Options) *Builder {
	return &Builder{
		source:    source,
		tokenizer: tok,
		path:      path,
		options:   opts,
		retry:     resilience.DefaultRetry,
		logger:    slog.Default().With("component", "indexer"),
	}
}

// WithPublisher announces each written index through p.
func (b *Builder) WithPublisher(p kafka.Publisher) *Builder {
	b.publisher = p
	return b
}

// WithRetry sets the backoff used when announcing fails.
func (b *Builder) WithRetry(cfg resilience.RetryConfig) *Builder {
	b.retry = cfg
	return b
}

// WithMetrics records build outcomes on m.
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

// Run loads and validates the corpus, builds the index and replaces the
// index file. Any failure before the write leaves the previous file
// untouched. The returned event is non-nil once the file is written, even
// if announcing it failed.
func (b *Builder) Run(ctx context.Context) (*IndexPublishedEvent, error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "index build")
	event, err := b.run(ctx)
	span.End(err)
	status := "success"
	if err != nil {
		status = "failed"
		if event != nil {
			status = "unannounced"
		}
	}
	span.SetAttr("status", status)
	span.Log(b.logger)
	if b.metrics != nil {
		b.metrics.IndexBuildsTotal.WithLabelValues(status).Inc()
		b.metrics.IndexBuildDuration.Observe(time.Since(start).Seconds())
	}
	return event, err
}

func (b *Builder) run(ctx context.Context) (*IndexPublishedEvent, error) {
	var input []index.Document
	err := stage(ctx, "load corpus", func(ctx context.Context) error {
		var err error
		input, err = b.load(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	var idx *index.Index
	err = stage(ctx, "build index", func(ctx context.Context) error {
		var err error
		idx, err = index.Build(ctx, input, b.tokenizer, b.options)
		return err
	})
	if err != nil {
		return nil, err
	}

	err = stage(ctx, "write file", func(context.Context) error {
		return segment.NewWriter(b.path).Write(idx)
	})
	if err != nil {
		return nil, fmt.Errorf("writing index file: %w", err)
	}
	b.metrics.SetIndexSize(idx.Len(), idx.Vocabulary().Size())

	meta := idx.Meta()
	event := &IndexPublishedEvent{
		BuildID:   meta.BuildID,
		Path:      b.path,
		Documents: idx.Len(),
		Terms:     idx.Vocabulary().Size(),
		BuiltAt:   meta.BuiltAt,
	}
	if span := tracing.FromContext(ctx); span != nil {
		span.SetAttr("build_id", event.BuildID)
	}
	b.logger.Info("index file written",
		"build_id", event.BuildID,
		"path", event.Path,
		"docs", event.Documents,
		"terms", event.Terms,
	)

	if b.publisher == nil {
		return event, nil
	}
	err = stage(ctx, "announce", func(ctx context.Context) error {
		return resilience.Retry(ctx, "announce index", b.retry, func(ctx context.Context) error {
			return b.publisher.Publish(ctx, kafka.Event{Key: event.BuildID, Value: event})
		})
	})
	if err != nil {
		return event, fmt.Errorf("announcing index %s: %w", event.BuildID, err)
	}
	b.logger.Info("index published", "build_id", event.BuildID)
	return event, nil
}

// load reads and validates the corpus.
func (b *Builder) load(ctx context.Context) ([]index.Document, error) {
	docs, err := b.source.Documents(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("loading corpus: %w", apperrors.ErrEmptyCorpus)
	}
	input := make([]index.Document, len(docs))
	for i, d := range docs {
		if err := catalog.ValidateDocument(d); err != nil {
			return nil, fmt.Errorf("%w: book %d: %v", apperrors.ErrCorruptCorpus, d.ID, err)
		}
		input[i] = index.Document{ID: d.ID, Text: d.Blob()}
	}
	b.logger.Info("corpus loaded", "docs", len(docs))
	return input, nil
}

func stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.Start(ctx, name)
	err := fn(ctx)
	span.End(err)
	return err
}
