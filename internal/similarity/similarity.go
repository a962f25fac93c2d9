// Package similarity finds catalog discs that fly like a given disc or
// signature.
package similarity

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/flightbag/internal/flightindex"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

// DefaultMaxResults is used when Options.MaxResults is zero.
const DefaultMaxResults = 10

// Query names the reference flight: either a catalog disc or a raw
// signature. Plastic selects a plastic override of DiscID and, with
// ExcludeSamePlastic, names the plastic to exclude.
type Query struct {
	DiscID    string
	Signature *types.Signature
	Plastic   string
}

// Options tune one FindSimilar call.
type Options struct {
	ExcludeSamePlastic bool
	MaxResults         int
	WeightOverride     *types.Weights
	Orientation        types.Orientation
}

// Match is one similar disc.
type Match struct {
	DiscID      string            `json:"disc_id"`
	Brand       string            `json:"brand"`
	Mold        string            `json:"mold"`
	Plastic     string            `json:"plastic,omitempty"`
	Signature   types.Signature   `json:"signature"`
	Orientation types.Orientation `json:"orientation"`
	Distance    float64           `json:"distance"`
}

// SignatureChecker validates raw signatures against the configured bounds.
type SignatureChecker interface {
	CheckSignature(types.Signature) error
}

// Engine answers similarity queries against index snapshots.
type Engine struct {
	checker  SignatureChecker
	forehand types.ForehandProfile
}

// New returns an Engine.
func New(checker SignatureChecker, forehand types.ForehandProfile) *Engine {
	return &Engine{checker: checker, forehand: forehand}
}

// FindSimilar ranks catalog discs by distance to the query, ascending, ties
// broken by disc id. Each disc appears at most once, in its closest plastic.
func (e *Engine) FindSimilar(ctx context.Context, snap *Snapshot, q Query, opts Options) ([]Match, error) {
	if snap == nil || snap.Len() == 0 {
		return nil, types.ErrEmptyCatalog
	}
	orientation, err := types.ParseOrientation(string(opts.Orientation))
	if err != nil {
		return nil, &types.QueryError{Kind: types.ErrInvalidOrientation, Detail: string(opts.Orientation)}
	}
	limit := opts.MaxResults
	switch {
	case limit < 0:
		return nil, &types.QueryError{Kind: types.ErrInvalidQuery, Detail: fmt.Sprintf("max results %d", limit)}
	case limit == 0:
		limit = DefaultMaxResults
	}
	// No query can return more discs than the snapshot holds points.
	limit = min(limit, snap.Len())
	var weights []float64
	if opts.WeightOverride != nil {
		if err := opts.WeightOverride.Validate(); err != nil {
			return nil, &types.QueryError{Kind: types.ErrInvalidQuery, Detail: err.Error()}
		}
		weights = opts.WeightOverride.Vector()
	}

	ref, err := e.resolve(snap, q)
	if err != nil {
		return nil, err
	}

	s := search{
		snap:    snap,
		limit:   limit,
		weights: weights,
		filter:  excludeFilter(q, opts.ExcludeSamePlastic),
	}

	switch orientation {
	case types.Forehand:
		return s.run(ctx, e.towardForehand(ref), types.Forehand)
	case types.Both:
		var back, fore []Match
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			back, err = s.run(gctx, ref, types.Backhand)
			return err
		})
		g.Go(func() error {
			var err error
			fore, err = s.run(gctx, e.towardForehand(ref), types.Forehand)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return merge(limit, back, fore), nil
	default:
		return s.run(ctx, ref, types.Backhand)
	}
}

// resolve returns the query coordinates.
func (e *Engine) resolve(snap *Snapshot, q Query) ([]float64, error) {
	switch {
	case q.DiscID != "" && q.Signature != nil:
		return nil, &types.QueryError{Kind: types.ErrInvalidQuery, Detail: "both disc id and signature given"}
	case q.Signature != nil:
		if e.checker != nil {
			if err := e.checker.CheckSignature(*q.Signature); err != nil {
				return nil, &types.QueryError{Kind: types.ErrInvalidQuery, Detail: err.Error()}
			}
		}
		return Coords(*q.Signature), nil
	case q.DiscID != "":
		entry, ok := snap.Get(q.DiscID)
		if !ok {
			return nil, &types.QueryError{Kind: types.ErrNotFound, Detail: q.DiscID}
		}
		sig, err := entry.Value.Record.EffectiveSignature(q.Plastic)
		if err != nil {
			return nil, &types.QueryError{Kind: err, Detail: q.Plastic}
		}
		return Coords(sig), nil
	default:
		return nil, &types.QueryError{Kind: types.ErrInvalidQuery, Detail: "no disc id or signature"}
	}
}

// towardForehand moves the query so that comparing it against stored
// backhand numbers equals comparing the original query against each
// candidate's forehand projection.
func (e *Engine) towardForehand(coords []float64) []float64 {
	out := append([]float64(nil), coords...)
	out[DimTurn] -= e.forehand.TurnOffset
	out[DimFade] -= e.forehand.FadeOffset
	return out
}

func excludeFilter(q Query, samePlastic bool) func(flightindex.Entry[Point]) bool {
	plastic := ""
	if samePlastic {
		plastic = q.Plastic
	}
	return func(e flightindex.Entry[Point]) bool {
		if q.DiscID != "" && e.Value.DiscID == q.DiscID {
			return false
		}
		if plastic != "" && strings.EqualFold(e.Value.Plastic, plastic) {
			return false
		}
		return true
	}
}

type search struct {
	snap    *Snapshot
	limit   int
	weights []float64
	filter  func(flightindex.Entry[Point]) bool
}

// run widens k until limit distinct discs are found or the index is
// exhausted. Points of one disc can crowd the first k slots.
func (s search) run(ctx context.Context, coords []float64, o types.Orientation) ([]Match, error) {
	n := s.snap.Len()
	k := n
	if s.limit <= n/2 {
		k = s.limit * 2
	}
	for {
		neighbors, err := s.snap.KNearest(ctx, flightindex.Query[Point]{
			Coords:  coords,
			K:       k,
			Weights: s.weights,
			Filter:  s.filter,
		})
		if err != nil {
			return nil, err
		}
		matches := dedupe(neighbors, o, s.limit)
		if len(matches) == s.limit || len(neighbors) < k || k >= n {
			return matches, nil
		}
		k = min(k*2, n)
	}
}

// dedupe keeps the first, closest, point of each disc.
func dedupe(neighbors []flightindex.Neighbor[Point], o types.Orientation, limit int) []Match {
	seen := make(map[string]bool, len(neighbors))
	out := make([]Match, 0, limit)
	for _, n := range neighbors {
		p := n.Value
		if seen[p.DiscID] {
			continue
		}
		seen[p.DiscID] = true
		out = append(out, Match{
			DiscID:      p.DiscID,
			Brand:       p.Record.Brand,
			Mold:        p.Record.Mold,
			Plastic:     p.Plastic,
			Signature:   p.Signature(),
			Orientation: o,
			Distance:    n.Distance,
		})
		if len(out) == limit {
			break
		}
	}
	return out
}

// merge keeps the closer orientation of each disc. Backhand wins ties.
func merge(limit int, lists ...[]Match) []Match {
	best := make(map[string]Match)
	for _, list := range lists {
		for _, m := range list {
			if cur, ok := best[m.DiscID]; !ok || m.Distance < cur.Distance {
				best[m.DiscID] = m
			}
		}
	}
	out := make([]Match, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].DiscID < out[j].DiscID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
