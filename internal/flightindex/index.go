// Package flightindex is an in-memory spatial index over flight signatures.
//
// Points live in a bucket kd-tree built by median split. Writers never
// mutate a published tree: every Update produces a new Snapshot that shares
// the tree with its predecessor and records the difference in a small
// overlay. Once the overlay grows past a limit the tree is rebuilt from the
// live set. Readers pin a Snapshot and are never blocked by writers.
package flightindex

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// Index errors.
var (
	ErrDimensionMismatch = errors.New("coordinate dimension mismatch")
	ErrInvalidMetric     = errors.New("invalid metric")
	ErrEmptyID           = errors.New("entry id must not be empty")
)

// Entry is one indexed point. A NaN coordinate marks a dimension the point
// does not carry; it contributes nothing to distance and never matches a
// range constraint.
type Entry[T any] struct {
	ID     string
	Coords []float64
	Value  T
}

// Metric is a weighted, per-dimension scaled Euclidean distance:
//
//	d(a, b) = sqrt( sum_i (w_i * (a_i - b_i) / s_i)^2 )
type Metric struct {
	Scale   []float64
	Weights []float64
}

// Validate checks the metric against a dimension count.
func (m Metric) Validate(dims int) error {
	if len(m.Scale) != dims || len(m.Weights) != dims {
		return fmt.Errorf("%w: want %d scales and weights", ErrInvalidMetric, dims)
	}
	for i := 0; i < dims; i++ {
		if !(m.Scale[i] > 0) || math.IsInf(m.Scale[i], 0) {
			return fmt.Errorf("%w: scale[%d]=%v", ErrInvalidMetric, i, m.Scale[i])
		}
	}
	return validateWeights(m.Weights, dims)
}

func validateWeights(w []float64, dims int) error {
	if len(w) != dims {
		return fmt.Errorf("%w: want %d weights, got %d", ErrInvalidMetric, dims, len(w))
	}
	for i, v := range w {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: weight[%d]=%v", ErrInvalidMetric, i, v)
		}
	}
	return nil
}

// Option configures an Index.
type Option func(*options)

type options struct {
	leafSize     int
	overlayMin   int
	overlayRatio float64
}

// WithLeafSize sets the number of points a kd-tree leaf holds.
func WithLeafSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.leafSize = n
		}
	}
}

// WithOverlayLimit sets when pending changes are compacted into a new tree:
// once overlay plus stale entries exceed max(min, ratio*live).
func WithOverlayLimit(min int, ratio float64) Option {
	return func(o *options) {
		o.overlayMin = min
		o.overlayRatio = ratio
	}
}

// Index is safe for concurrent use. Writers are serialized; readers take a
// Snapshot.
type Index[T any] struct {
	dims   int
	metric Metric
	opts   options

	mu  sync.Mutex
	cur atomic.Pointer[Snapshot[T]]
}

// New returns an empty index over dims dimensions.
func New[T any](dims int, metric Metric, opts ...Option) (*Index[T], error) {
	if dims <= 0 {
		return nil, fmt.Errorf("%w: dims=%d", ErrDimensionMismatch, dims)
	}
	if err := metric.Validate(dims); err != nil {
		return nil, err
	}
	o := options{leafSize: 8, overlayMin: 64, overlayRatio: 0.125}
	for _, opt := range opts {
		opt(&o)
	}
	ix := &Index[T]{dims: dims, metric: cloneMetric(metric), opts: o}
	ix.cur.Store(ix.rebuild(0, map[string]*item[T]{}))
	return ix, nil
}

// Dims returns the dimension count.
func (ix *Index[T]) Dims() int { return ix.dims }

// Snapshot returns the current immutable view.
func (ix *Index[T]) Snapshot() *Snapshot[T] {
	return ix.cur.Load()
}

// Len returns the number of live entries in the current snapshot.
func (ix *Index[T]) Len() int {
	return ix.Snapshot().Len()
}

// Build replaces the index contents. When ids repeat, the later entry wins.
func (ix *Index[T]) Build(entries []Entry[T]) error {
	live := make(map[string]*item[T], len(entries))
	for _, e := range entries {
		it, err := ix.newItem(e)
		if err != nil {
			return err
		}
		live[e.ID] = it
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	prev := ix.cur.Load()
	ix.cur.Store(ix.rebuild(prev.version+1, live))
	return nil
}

// Update applies removals then upserts as one atomic change: a reader sees
// either none or all of it. Removing an unknown id is a no-op.
func (ix *Index[T]) Update(upserts []Entry[T], removes []string) error {
	pending := make([]*item[T], 0, len(upserts))
	for _, e := range upserts {
		it, err := ix.newItem(e)
		if err != nil {
			return err
		}
		pending = append(pending, it)
	}
	if len(pending) == 0 && len(removes) == 0 {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	prev := ix.cur.Load()
	live := maps.Clone(prev.live)
	stale := prev.stale
	retire := func(id string) {
		if old, ok := live[id]; ok {
			if old.inTree {
				stale++
			}
			delete(live, id)
		}
	}
	for _, id := range removes {
		retire(id)
	}
	for _, it := range pending {
		retire(it.ID)
		live[it.ID] = it
	}

	overlay := make([]*item[T], 0, len(prev.overlay)+len(pending))
	for _, it := range prev.overlay {
		if live[it.ID] == it {
			overlay = append(overlay, it)
		}
	}
	for _, it := range pending {
		if live[it.ID] == it {
			overlay = append(overlay, it)
		}
	}

	limit := ix.opts.overlayMin
	if r := int(ix.opts.overlayRatio * float64(len(live))); r > limit {
		limit = r
	}
	if len(overlay)+stale > limit {
		ix.cur.Store(ix.rebuild(prev.version+1, live))
		return nil
	}

	ix.cur.Store(&Snapshot[T]{
		dims:    ix.dims,
		metric:  ix.metric,
		version: prev.version + 1,
		live:    live,
		tree:    prev.tree,
		overlay: overlay,
		stale:   stale,
	})
	return nil
}

// rebuild builds a fresh tree from the live set. Items are copied so the
// previous snapshot's items keep their inTree flags.
func (ix *Index[T]) rebuild(version uint64, live map[string]*item[T]) *Snapshot[T] {
	ids := make([]string, 0, len(live))
	for id := range live {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := make([]*item[T], len(ids))
	fresh := make(map[string]*item[T], len(ids))
	for i, id := range ids {
		it := &item[T]{Entry: live[id].Entry, inTree: true}
		items[i] = it
		fresh[id] = it
	}

	return &Snapshot[T]{
		dims:    ix.dims,
		metric:  ix.metric,
		version: version,
		live:    fresh,
		tree:    buildTree(items, ix.dims, ix.metric.Scale, ix.opts.leafSize),
	}
}

func (ix *Index[T]) newItem(e Entry[T]) (*item[T], error) {
	if e.ID == "" {
		return nil, ErrEmptyID
	}
	if len(e.Coords) != ix.dims {
		return nil, fmt.Errorf("%w: entry %s has %d coordinates, want %d",
			ErrDimensionMismatch, e.ID, len(e.Coords), ix.dims)
	}
	e.Coords = append([]float64(nil), e.Coords...)
	return &item[T]{Entry: e}, nil
}

func cloneMetric(m Metric) Metric {
	return Metric{
		Scale:   append([]float64(nil), m.Scale...),
		Weights: append([]float64(nil), m.Weights...),
	}
}
