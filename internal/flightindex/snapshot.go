package flightindex

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"sort"
)

// checkEvery is how many node visits pass between context checks.
const checkEvery = 64

// Snapshot is an immutable view of the index. It stays valid and unchanged
// after later updates.
type Snapshot[T any] struct {
	dims    int
	metric  Metric
	version uint64
	live    map[string]*item[T]
	tree    *kdTree[T]
	overlay []*item[T]
	stale   int
}

// Neighbor is a kNearest result.
type Neighbor[T any] struct {
	Entry[T]
	Distance float64
}

// Query is a nearest-neighbour request. Weights, when set, replaces the
// index weights for this query only. Filter, when set, drops entries before
// they compete for a slot.
type Query[T any] struct {
	Coords  []float64
	K       int
	Weights []float64
	Filter  func(Entry[T]) bool
}

// Region is a box of half-open intervals [Min, Max). A dimension whose Min
// and Max are both NaN is unconstrained; use infinities for open ends.
type Region struct {
	Min []float64
	Max []float64
}

// Version increases with every published change.
func (s *Snapshot[T]) Version() uint64 { return s.version }

// Len returns the number of live entries.
func (s *Snapshot[T]) Len() int { return len(s.live) }

// Metric returns the distance configuration.
func (s *Snapshot[T]) Metric() Metric { return cloneMetric(s.metric) }

// Get returns the live entry with the given id.
func (s *Snapshot[T]) Get(id string) (Entry[T], bool) {
	it, ok := s.live[id]
	if !ok {
		return Entry[T]{}, false
	}
	return it.Entry, true
}

// All returns every live entry ordered by id.
func (s *Snapshot[T]) All() []Entry[T] {
	out := make([]Entry[T], 0, len(s.live))
	for _, it := range s.live {
		out = append(out, it.Entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Distance measures two points with the snapshot's metric.
func (s *Snapshot[T]) Distance(a, b []float64) float64 {
	return math.Sqrt(sqDistance(a, b, s.metric.Weights, s.metric.Scale))
}

func (s *Snapshot[T]) isLive(it *item[T]) bool {
	return s.live[it.ID] == it
}

// KNearest returns up to K entries ordered by ascending distance, ties
// broken by ascending id. The result is identical to a brute-force scan.
func (s *Snapshot[T]) KNearest(ctx context.Context, q Query[T]) ([]Neighbor[T], error) {
	if len(q.Coords) != s.dims {
		return nil, fmt.Errorf("%w: query has %d coordinates, want %d",
			ErrDimensionMismatch, len(q.Coords), s.dims)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	weights := s.metric.Weights
	if q.Weights != nil {
		if err := validateWeights(q.Weights, s.dims); err != nil {
			return nil, err
		}
		weights = q.Weights
	}
	if q.K <= 0 || len(s.live) == 0 {
		return nil, nil
	}

	k := &knn[T]{
		ctx:     ctx,
		snap:    s,
		q:       q.Coords,
		weights: weights,
		filter:  q.Filter,
		limit:   q.K,
	}
	for _, it := range s.overlay {
		k.consider(it)
	}
	if root := s.tree.root(); root != nil {
		if err := k.search(root); err != nil {
			return nil, err
		}
	}

	out := make([]Neighbor[T], len(k.best))
	for i := len(out) - 1; i >= 0; i-- {
		c := heap.Pop(&k.best).(candidate[T])
		out[i] = Neighbor[T]{Entry: c.it.Entry, Distance: math.Sqrt(c.sq)}
	}
	return out, nil
}

type candidate[T any] struct {
	it *item[T]
	sq float64
}

// worse reports whether a ranks after b.
func (a candidate[T]) worse(b candidate[T]) bool {
	if a.sq != b.sq {
		return a.sq > b.sq
	}
	return a.it.ID > b.it.ID
}

// maxHeap keeps the worst kept candidate on top.
type maxHeap[T any] []candidate[T]

func (h maxHeap[T]) Len() int           { return len(h) }
func (h maxHeap[T]) Less(i, j int) bool { return h[i].worse(h[j]) }
func (h maxHeap[T]) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap[T]) Push(x any)        { *h = append(*h, x.(candidate[T])) }
func (h *maxHeap[T]) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type knn[T any] struct {
	ctx     context.Context
	snap    *Snapshot[T]
	q       []float64
	weights []float64
	filter  func(Entry[T]) bool
	limit   int
	best    maxHeap[T]
	visits  int
}

func (k *knn[T]) consider(it *item[T]) {
	if !k.snap.isLive(it) {
		return
	}
	if k.filter != nil && !k.filter(it.Entry) {
		return
	}
	c := candidate[T]{it: it, sq: sqDistance(k.q, it.Coords, k.weights, k.snap.metric.Scale)}
	if len(k.best) < k.limit {
		heap.Push(&k.best, c)
		return
	}
	if k.best[0].worse(c) {
		k.best[0] = c
		heap.Fix(&k.best, 0)
	}
}

func (k *knn[T]) search(n *node) error {
	k.visits++
	if k.visits%checkEvery == 0 {
		if err := k.ctx.Err(); err != nil {
			return err
		}
	}
	// Equal bounds are still visited so id tie-breaks stay exact.
	if len(k.best) == k.limit && k.lowerBound(n) > k.best[0].sq {
		return nil
	}
	t := k.snap.tree
	if n.leaf() {
		for _, it := range t.items[n.start:n.end] {
			k.consider(it)
		}
		return nil
	}

	near, far := &t.nodes[n.left], &t.nodes[n.right]
	if k.lowerBound(far) < k.lowerBound(near) {
		near, far = far, near
	}
	if err := k.search(near); err != nil {
		return err
	}
	return k.search(far)
}

// lowerBound is the smallest squared distance any point under n can have.
func (k *knn[T]) lowerBound(n *node) float64 {
	var sum float64
	for d, qv := range k.q {
		w := k.weights[d]
		if w == 0 || math.IsNaN(qv) || n.partial[d] || n.lo[d] > n.hi[d] {
			continue
		}
		var gap float64
		switch {
		case qv < n.lo[d]:
			gap = n.lo[d] - qv
		case qv > n.hi[d]:
			gap = qv - n.hi[d]
		}
		v := w * gap / k.snap.metric.Scale[d]
		sum += v * v
	}
	return sum
}

// Range returns every live entry inside r, ordered by id.
func (s *Snapshot[T]) Range(ctx context.Context, r Region) ([]Entry[T], error) {
	if len(r.Min) != s.dims || len(r.Max) != s.dims {
		return nil, fmt.Errorf("%w: region bounds want %d coordinates", ErrDimensionMismatch, s.dims)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rs := &rangeSearch[T]{ctx: ctx, snap: s, r: r}
	for _, it := range s.overlay {
		rs.consider(it)
	}
	if root := s.tree.root(); root != nil {
		if err := rs.search(root); err != nil {
			return nil, err
		}
	}
	sort.Slice(rs.out, func(i, j int) bool { return rs.out[i].ID < rs.out[j].ID })
	return rs.out, nil
}

type rangeSearch[T any] struct {
	ctx    context.Context
	snap   *Snapshot[T]
	r      Region
	out    []Entry[T]
	visits int
}

func (rs *rangeSearch[T]) constrained(d int) bool {
	return !math.IsNaN(rs.r.Min[d]) || !math.IsNaN(rs.r.Max[d])
}

func (rs *rangeSearch[T]) consider(it *item[T]) {
	if !rs.snap.isLive(it) {
		return
	}
	for d, v := range it.Coords {
		if !rs.constrained(d) {
			continue
		}
		if math.IsNaN(v) {
			return
		}
		if lo := rs.r.Min[d]; !math.IsNaN(lo) && v < lo {
			return
		}
		if hi := rs.r.Max[d]; !math.IsNaN(hi) && v >= hi {
			return
		}
	}
	rs.out = append(rs.out, it.Entry)
}

func (rs *rangeSearch[T]) search(n *node) error {
	rs.visits++
	if rs.visits%checkEvery == 0 {
		if err := rs.ctx.Err(); err != nil {
			return err
		}
	}
	for d := 0; d < rs.snap.dims; d++ {
		if !rs.constrained(d) {
			continue
		}
		if n.lo[d] > n.hi[d] {
			return nil
		}
		if lo := rs.r.Min[d]; !math.IsNaN(lo) && n.hi[d] < lo {
			return nil
		}
		if hi := rs.r.Max[d]; !math.IsNaN(hi) && n.lo[d] >= hi {
			return nil
		}
	}
	t := rs.snap.tree
	if n.leaf() {
		for _, it := range t.items[n.start:n.end] {
			rs.consider(it)
		}
		return nil
	}
	if err := rs.search(&t.nodes[n.left]); err != nil {
		return err
	}
	return rs.search(&t.nodes[n.right])
}

func sqDistance(a, b, weights, scale []float64) float64 {
	var sum float64
	for d := range a {
		if math.IsNaN(a[d]) || math.IsNaN(b[d]) || weights[d] == 0 {
			continue
		}
		v := weights[d] * (a[d] - b[d]) / scale[d]
		sum += v * v
	}
	return sum
}
