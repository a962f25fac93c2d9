package flightindex

import "math"

type item[T any] struct {
	Entry[T]
	inTree bool
}

// node is a kd-tree node over items[start:end]. Internal nodes hold no
// points of their own. lo and hi bound the present coordinates of the
// subtree; partial[d] is set when some point lacks dimension d.
type node struct {
	start, end  int
	left, right int
	lo, hi      []float64
	partial     []bool
}

func (n *node) leaf() bool { return n.left < 0 }

type kdTree[T any] struct {
	items []*item[T]
	nodes []node
}

func (t *kdTree[T]) root() *node {
	if t == nil || len(t.nodes) == 0 {
		return nil
	}
	return &t.nodes[0]
}

type treeBuilder[T any] struct {
	tree     *kdTree[T]
	dims     int
	scale    []float64
	leafSize int
}

// buildTree reorders items in place. Expected cost is O(n log n).
func buildTree[T any](items []*item[T], dims int, scale []float64, leafSize int) *kdTree[T] {
	t := &kdTree[T]{items: items}
	if len(items) == 0 {
		return t
	}
	b := &treeBuilder[T]{tree: t, dims: dims, scale: scale, leafSize: leafSize}
	b.build(0, len(items))
	return t
}

func (b *treeBuilder[T]) build(start, end int) int {
	idx := len(b.tree.nodes)
	b.tree.nodes = append(b.tree.nodes, node{start: start, end: end, left: -1, right: -1})

	lo, hi, partial := b.bounds(b.tree.items[start:end])
	b.tree.nodes[idx].lo, b.tree.nodes[idx].hi, b.tree.nodes[idx].partial = lo, hi, partial

	if end-start <= b.leafSize {
		return idx
	}
	axis := -1
	widest := 0.0
	for d := 0; d < b.dims; d++ {
		if partial[d] {
			continue
		}
		if w := (hi[d] - lo[d]) / b.scale[d]; axis < 0 || w > widest {
			axis, widest = d, w
		}
	}
	if axis < 0 {
		return idx
	}

	mid := start + (end-start)/2
	selectNth(b.tree.items[start:end], mid-start, axis)
	left := b.build(start, mid)
	right := b.build(mid, end)
	b.tree.nodes[idx].left, b.tree.nodes[idx].right = left, right
	return idx
}

func (b *treeBuilder[T]) bounds(items []*item[T]) (lo, hi []float64, partial []bool) {
	lo = make([]float64, b.dims)
	hi = make([]float64, b.dims)
	partial = make([]bool, b.dims)
	for d := range lo {
		lo[d], hi[d] = math.Inf(1), math.Inf(-1)
	}
	for _, it := range items {
		for d, v := range it.Coords {
			if math.IsNaN(v) {
				partial[d] = true
				continue
			}
			lo[d] = math.Min(lo[d], v)
			hi[d] = math.Max(hi[d], v)
		}
	}
	return lo, hi, partial
}

// lessOn orders by coordinate on axis, then by id, so every key is distinct.
func lessOn[T any](a, b *item[T], axis int) bool {
	av, bv := a.Coords[axis], b.Coords[axis]
	if av != bv {
		return av < bv
	}
	return a.ID < b.ID
}

// selectNth partially sorts s so s[k] is the element that would be there
// if s were fully sorted, with smaller elements before it.
func selectNth[T any](s []*item[T], k, axis int) {
	lo, hi := 0, len(s)-1
	for lo < hi {
		p := medianOfThree(s, lo, lo+(hi-lo)/2, hi, axis)
		s[p], s[hi] = s[hi], s[p]
		pivot := s[hi]
		store := lo
		for i := lo; i < hi; i++ {
			if lessOn(s[i], pivot, axis) {
				s[store], s[i] = s[i], s[store]
				store++
			}
		}
		s[store], s[hi] = s[hi], s[store]
		switch {
		case k == store:
			return
		case k < store:
			hi = store - 1
		default:
			lo = store + 1
		}
	}
}

func medianOfThree[T any](s []*item[T], a, b, c, axis int) int {
	if lessOn(s[b], s[a], axis) {
		a, b = b, a
	}
	if lessOn(s[c], s[b], axis) {
		b = c
		if lessOn(s[b], s[a], axis) {
			b = a
		}
	}
	return b
}
