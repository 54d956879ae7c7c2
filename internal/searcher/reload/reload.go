// Package reload swaps freshly built index files into a running searcher
// when the indexer announces them on Kafka.
package reload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/novelnest/bookmatch/internal/catalog"
	"github.com/novelnest/bookmatch/internal/indexer"
	"github.com/novelnest/bookmatch/internal/indexer/index"
	"github.com/novelnest/bookmatch/internal/indexer/segment"
	apperrors "github.com/novelnest/bookmatch/pkg/errors"
	"github.com/novelnest/bookmatch/pkg/kafka"
	"github.com/novelnest/bookmatch/pkg/metrics"
	"github.com/novelnest/bookmatch/pkg/resilience"
)

// Swapper is the part of the recommender a reload touches.
type Swapper interface {
	Index() *index.Index
	Swap(idx *index.Index) *index.Index
}

// Invalidator drops cached results of the previous index. May be nil.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Catalog is a file-backed catalog that must move with the index, so that
// every ranked id resolves to a record. Live catalogs such as PostgreSQL
// need none.
type Catalog interface {
	Load(ctx context.Context) (*catalog.MemoryStore, error)
	Replace(snapshot *catalog.MemoryStore)
}

// LoadFunc reads an index file. segment.Load in production.
type LoadFunc func(path string) (*index.Index, error)

type Reloader struct {
	target  Swapper
	cache   Invalidator
	catalog Catalog
	load    LoadFunc
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(target Swapper, cache Invalidator, m *metrics.Metrics) *Reloader {
	return &Reloader{
		target:  target,
		cache:   cache,
		load:    segment.Load,
		retry:   resilience.DefaultRetry,
		metrics: m,
		logger:  slog.Default().With("component", "index-reloader"),
	}
}

// WithLoader replaces the file loader.
func (r *Reloader) WithLoader(load LoadFunc) *Reloader {
	r.load = load
	return r
}

// WithCatalog reloads c with every index and refuses indexes holding ids
// the reloaded catalog lacks.
func (r *Reloader) WithCatalog(c Catalog) *Reloader {
	r.catalog = c
	return r
}

// WithRetry sets the backoff for announced files that are not yet visible,
// as happens on shared volumes with delayed propagation.
func (r *Reloader) WithRetry(cfg resilience.RetryConfig) *Reloader {
	r.retry = cfg
	return r
}

// HandleMessage returns a Kafka MessageHandler for index-published events.
// Undecodable messages and unloadable files are logged and committed: the
// current index keeps serving and redelivery would fail the same way.
func (r *Reloader) HandleMessage() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[indexer.IndexPublishedEvent](value)
		if err != nil {
			r.logger.Error("failed to decode index event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		r.Apply(ctx, event)
		return nil
	}
}

// Apply loads the announced file and swaps it in. It reports whether the
// serving index changed.
func (r *Reloader) Apply(ctx context.Context, event indexer.IndexPublishedEvent) bool {
	if current := r.target.Index(); current != nil && current.Meta().BuildID == event.BuildID {
		r.logger.Debug("index already active", "build_id", event.BuildID)
		r.count("skipped")
		return false
	}

	var idx *index.Index
	err := resilience.Retry(ctx, "load index "+event.BuildID, r.retry, func(context.Context) error {
		loaded, err := r.load(event.Path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return resilience.Permanent(err)
		}
		idx = loaded
		return nil
	})
	if err != nil {
		r.logger.Error("index reload failed, keeping current index",
			"build_id", event.BuildID,
			"path", event.Path,
			"error", err,
		)
		r.count("failed")
		return false
	}
	if idx.Meta().BuildID != event.BuildID {
		r.logger.Warn("index file build differs from event",
			"event_build_id", event.BuildID,
			"file_build_id", idx.Meta().BuildID,
		)
	}

	var snapshot *catalog.MemoryStore
	if r.catalog != nil {
		snapshot, err = r.loadCatalog(ctx, idx)
		if err != nil {
			r.logger.Error("catalog reload failed, keeping current index",
				"build_id", event.BuildID,
				"error", err,
			)
			r.count("failed")
			return false
		}
	}

	r.target.Swap(idx)
	if snapshot != nil {
		r.catalog.Replace(snapshot)
	}
	if r.cache != nil {
		if err := r.cache.Invalidate(ctx); err != nil {
			r.logger.Error("cache invalidation after reload failed", "error", err)
		}
	}
	r.count("success")
	return true
}

// loadCatalog rereads the catalog and checks that it covers every id in idx.
func (r *Reloader) loadCatalog(ctx context.Context, idx *index.Index) (*catalog.MemoryStore, error) {
	snapshot, err := r.catalog.Load(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, idx.Len())
	for i := range ids {
		ids[i] = idx.DocID(i)
	}
	found, err := snapshot.Get(ctx, ids)
	if err != nil {
		return nil, err
	}
	if missing := len(ids) - len(found); missing > 0 {
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				return nil, fmt.Errorf("%w: %d indexed books missing from catalog, first is %d",
					apperrors.ErrCorruptCorpus, missing, id)
			}
		}
	}
	return snapshot, nil
}

func (r *Reloader) count(status string) {
	if r.metrics != nil {
		r.metrics.IndexReloadsTotal.WithLabelValues(status).Inc()
	}
}
