// Package catalog is the query surface of flightbag. A Service owns the
// catalog store and the in-memory flight index built from it, keeps the
// index current as records arrive, and answers search, similarity, and
// gap queries against a pinned index snapshot.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mesh-intelligence/flightbag/internal/flightindex"
	"github.com/mesh-intelligence/flightbag/internal/gap"
	"github.com/mesh-intelligence/flightbag/internal/metrics"
	"github.com/mesh-intelligence/flightbag/internal/normalize"
	"github.com/mesh-intelligence/flightbag/internal/similarity"
	"github.com/mesh-intelligence/flightbag/internal/sqlite"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

// Options configure Open.
type Options struct {
	Config  types.Config
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// Now overrides the store clock.
	Now func() time.Time
}

// runtime is everything derived from one Config. It is swapped as a whole.
type runtime struct {
	cfg        types.Config
	normalizer *normalize.Normalizer
	similarity *similarity.Engine
	gap        *gap.Engine
}

// Service is safe for concurrent use.
type Service struct {
	store   *sqlite.Store
	logger  *zap.Logger
	metrics *metrics.Metrics

	rt    atomic.Pointer[runtime]
	index atomic.Pointer[similarity.Index]

	// refreshMu serializes index writers and guards watermark.
	refreshMu sync.Mutex
	watermark time.Time
	group     singleflight.Group
}

// Open opens the store under cfg.DataDir and builds the index from it.
func Open(ctx context.Context, opts Options) (*Service, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := sqlite.Open(ctx, sqlite.Options{
		DataDir: opts.Config.DataDir,
		Logger:  logger.Named("store"),
		Now:     opts.Now,
	})
	if err != nil {
		return nil, err
	}

	s := &Service{store: store, logger: logger, metrics: opts.Metrics}
	rt, err := newRuntime(opts.Config, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	s.rt.Store(rt)
	if err := s.Rebuild(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the store.
func (s *Service) Close() error {
	return s.store.Close()
}

// Store returns the underlying catalog store.
func (s *Service) Store() *sqlite.Store { return s.store }

// Config returns the active configuration.
func (s *Service) Config() types.Config { return s.rt.Load().cfg }

// Normalizer returns the normalizer for the active bounds.
func (s *Service) Normalizer() *normalize.Normalizer { return s.rt.Load().normalizer }

// Snapshot returns the current index snapshot.
func (s *Service) Snapshot() *similarity.Snapshot { return s.index.Load().Snapshot() }

// SetConfig swaps in a new configuration. Queries already running keep
// the one they started with. A change of bounds or weights rebuilds the
// index, since both feed the distance metric; the new index is published
// only once it is complete.
func (s *Service) SetConfig(ctx context.Context, cfg types.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	rt, err := newRuntime(cfg, s.logger)
	if err != nil {
		return err
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	prev := s.rt.Load()
	if reflect.DeepEqual(prev.cfg.Bounds, cfg.Bounds) && reflect.DeepEqual(prev.cfg.Weights, cfg.Weights) {
		s.rt.Store(rt)
		s.logger.Info("configuration reloaded")
		return nil
	}

	ix, err := s.buildIndex(ctx, cfg)
	if err != nil {
		return err
	}
	s.index.Store(ix)
	s.rt.Store(rt)
	s.logger.Info("configuration reloaded, index rebuilt", zap.Int("points", ix.Len()))
	return nil
}

func newRuntime(cfg types.Config, logger *zap.Logger) (*runtime, error) {
	n := normalize.New(cfg.Bounds, normalize.WithLogger(logger.Named("normalize")))
	g, err := gap.New(cfg.Grid, cfg.Forehand)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &runtime{
		cfg:        cfg,
		normalizer: n,
		similarity: similarity.New(n, cfg.Forehand),
		gap:        g,
	}, nil
}

// buildIndex returns a complete index of the store for cfg without
// publishing it. The caller holds refreshMu.
func (s *Service) buildIndex(ctx context.Context, cfg types.Config) (*similarity.Index, error) {
	ix, err := similarity.NewIndex(cfg.Bounds, cfg.Weights)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	recs, err := s.store.ListSince(ctx, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}
	var entries []flightindex.Entry[similarity.Point]
	for _, rec := range recs {
		entries = append(entries, similarity.Entries(rec)...)
	}
	if err := ix.Build(entries); err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}
	s.watermark = nextWatermark(time.Time{}, recs)
	s.metrics.IndexPublished("rebuild", ix.Len())
	s.logger.Debug("index rebuilt",
		zap.Int("records", len(recs)),
		zap.Int("points", ix.Len()))
	return ix, nil
}

// Rebuild reloads the whole index from the store and publishes it in one
// step.
func (s *Service) Rebuild(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	ix, err := s.buildIndex(ctx, s.rt.Load().cfg)
	if err != nil {
		return err
	}
	s.index.Store(ix)
	return nil
}

// Refresh applies records stored since the last refresh to the index as
// one atomic update. Concurrent callers share one refresh.
func (s *Service) Refresh(ctx context.Context) (int, error) {
	v, err, _ := s.group.Do("refresh", func() (any, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (s *Service) refresh(ctx context.Context) (int, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	recs, err := s.store.ListSince(ctx, s.watermark)
	if err != nil {
		return 0, fmt.Errorf("refresh index: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	ix := s.index.Load()
	snap := ix.Snapshot()
	var (
		upserts []flightindex.Entry[similarity.Point]
		removes []string
	)
	for _, rec := range recs {
		if old, ok := snap.Get(rec.ID); ok {
			removes = append(removes, similarity.EntryIDs(old.Value.Record)...)
		}
		upserts = append(upserts, similarity.Entries(rec)...)
	}
	if err := ix.Update(upserts, removes); err != nil {
		return 0, fmt.Errorf("refresh index: %w", err)
	}
	s.watermark = nextWatermark(s.watermark, recs)
	s.metrics.IndexPublished("refresh", ix.Len())
	s.logger.Debug("index refreshed",
		zap.Int("records", len(recs)),
		zap.Int("points", ix.Len()))
	return len(recs), nil
}

// nextWatermark returns the instant just after the newest StoredAt.
func nextWatermark(cur time.Time, recs []*types.DiscRecord) time.Time {
	for _, rec := range recs {
		if next := rec.StoredAt.Add(time.Nanosecond); next.After(cur) {
			cur = next
		}
	}
	return cur
}

// Rejection is a raw record that failed normalization.
type Rejection struct {
	Index  int
	Source string
	Err    error
}

// IngestResult summarizes Ingest.
type IngestResult struct {
	Received  int
	Rejected  []Rejection
	Batch     sqlite.BatchResult
	Refreshed int
}

// Ingest normalizes raw records, applies the valid ones in one batch, and
// refreshes the index. Records that fail normalization are skipped and
// reported; stale writes are reported in Batch.
func (s *Service) Ingest(ctx context.Context, raws []types.RawRecord) (IngestResult, error) {
	res := IngestResult{Received: len(raws)}
	n := s.Normalizer()

	recs := make([]*types.DiscRecord, 0, len(raws))
	for i, raw := range raws {
		rec, err := n.Normalize(raw)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Source: raw.Source, Err: err})
			s.logger.Warn("record rejected",
				zap.Int("index", i),
				zap.String("source", raw.Source),
				zap.String("schema", raw.Schema),
				zap.Error(err))
			continue
		}
		recs = append(recs, rec)
	}
	s.metrics.Ingested(metrics.OutcomeRejected, len(res.Rejected))

	batch, err := s.store.ApplyBatch(ctx, recs)
	if err != nil {
		return res, err
	}
	res.Batch = batch
	s.metrics.Ingested(metrics.OutcomeInserted, batch.Inserted)
	s.metrics.Ingested(metrics.OutcomeUpdated, batch.Updated)
	s.metrics.Ingested(metrics.OutcomeStale, batch.Stale)

	if res.Refreshed, err = s.Refresh(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, id string) (*types.DiscRecord, error) {
	return s.store.Get(ctx, id)
}

// Search finds records by brand and mold text.
func (s *Service) Search(ctx context.Context, text string, f sqlite.SearchFilter) ([]*types.DiscRecord, error) {
	defer s.metrics.ObserveQuery(metrics.QuerySearch, time.Now())
	return s.store.Search(ctx, text, f)
}

// FindSimilar ranks catalog discs by flight similarity.
func (s *Service) FindSimilar(ctx context.Context, q similarity.Query, opts similarity.Options) ([]similarity.Match, error) {
	defer s.metrics.ObserveQuery(metrics.QuerySimilar, time.Now())
	return s.rt.Load().similarity.FindSimilar(ctx, s.Snapshot(), q, opts)
}

// AnalyzeBag runs gap analysis on a stored bag.
func (s *Service) AnalyzeBag(ctx context.Context, bagID string) (*types.GapReport, error) {
	defer s.metrics.ObserveQuery(metrics.QueryGap, time.Now())
	bag, err := s.store.GetBag(ctx, bagID)
	if err != nil {
		return nil, err
	}
	return s.rt.Load().gap.Analyze(ctx, bag, Resolver(s.Snapshot()))
}

// Resolver resolves bag entries against one snapshot. A plastic the
// catalog does not list flies with the base signature.
func Resolver(snap *similarity.Snapshot) gap.Resolver {
	return func(discID, plastic string) (types.Signature, error) {
		e, ok := snap.Get(discID)
		if !ok {
			return types.Signature{}, fmt.Errorf("%w: %s", types.ErrUnresolvedDisc, discID)
		}
		sig, err := e.Value.Record.EffectiveSignature(plastic)
		if errors.Is(err, types.ErrPlasticNotFound) {
			return e.Value.Record.Signature, nil
		}
		return sig, err
	}
}

// AddToBag adds a catalog disc to a bag. The disc must be in the catalog
// and a named plastic must be one the catalog lists for it.
func (s *Service) AddToBag(ctx context.Context, bagID string, e types.BagEntry) (types.BagEntry, error) {
	entry, ok := s.Snapshot().Get(e.DiscID)
	if !ok {
		return types.BagEntry{}, fmt.Errorf("disc %s: %w", e.DiscID, types.ErrNotFound)
	}
	if e.Plastic != "" {
		p, ok := entry.Value.Record.Plastic(e.Plastic)
		if !ok {
			return types.BagEntry{}, fmt.Errorf("disc %s plastic %q: %w", e.DiscID, e.Plastic, types.ErrPlasticNotFound)
		}
		e.Plastic = p.Name
	}
	return s.store.AddEntry(ctx, bagID, e)
}
