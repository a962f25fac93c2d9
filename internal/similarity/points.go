package similarity

import (
	"math"
	"strings"

	"github.com/mesh-intelligence/flightbag/internal/flightindex"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

// Catalog index dimensions.
const (
	DimSpeed = iota
	DimGlide
	DimTurn
	DimFade
	DimStability
	Dims
)

// Point is the payload of one catalog index entry: a disc in its base
// signature (Plastic empty) or in one plastic override.
type Point struct {
	DiscID  string
	Plastic string
	Record  *types.DiscRecord
}

// Signature returns the numbers this point was indexed with.
func (p Point) Signature() types.Signature {
	sig, err := p.Record.EffectiveSignature(p.Plastic)
	if err != nil {
		return p.Record.Signature
	}
	return sig
}

// Index is the catalog flight index.
type Index = flightindex.Index[Point]

// Snapshot is a pinned view of the catalog flight index.
type Snapshot = flightindex.Snapshot[Point]

// NewIndex returns an empty catalog index. Each dimension is scaled by the
// width of its bound so a full-range difference counts as 1.
func NewIndex(bounds types.Bounds, weights types.Weights, opts ...flightindex.Option) (*Index, error) {
	return flightindex.New[Point](Dims, Metric(bounds, weights), opts...)
}

// Metric builds the catalog distance from bounds and weights.
func Metric(bounds types.Bounds, weights types.Weights) flightindex.Metric {
	return flightindex.Metric{
		Scale: []float64{
			bounds.Speed.Width(),
			bounds.Glide.Width(),
			bounds.Turn.Width(),
			bounds.Fade.Width(),
			bounds.Stability.Width(),
		},
		Weights: weights.Vector(),
	}
}

// Coords maps a signature to index coordinates. A missing stability value
// is NaN.
func Coords(sig types.Signature) []float64 {
	stability := math.NaN()
	if sig.Stability != nil {
		stability = *sig.Stability
	}
	return []float64{sig.Speed, sig.Glide, sig.Turn, sig.Fade, stability}
}

// PointID is the index id of a disc in a plastic. The base signature uses
// the disc id itself. Disc ids never contain '#'.
func PointID(discID, plastic string) string {
	if plastic == "" {
		return discID
	}
	return discID + "#" + strings.ToLower(plastic)
}

// Entries returns the index entries of a record: its base signature plus
// one per plastic that overrides it.
func Entries(rec *types.DiscRecord) []flightindex.Entry[Point] {
	out := []flightindex.Entry[Point]{{
		ID:     rec.ID,
		Coords: Coords(rec.Signature),
		Value:  Point{DiscID: rec.ID, Record: rec},
	}}
	for _, p := range rec.Plastics {
		if p.Override == nil {
			continue
		}
		out = append(out, flightindex.Entry[Point]{
			ID:     PointID(rec.ID, p.Name),
			Coords: Coords(*p.Override),
			Value:  Point{DiscID: rec.ID, Plastic: p.Name, Record: rec},
		})
	}
	return out
}

// EntryIDs returns the ids Entries would produce for rec.
func EntryIDs(rec *types.DiscRecord) []string {
	entries := Entries(rec)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
