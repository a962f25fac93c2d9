package similarity

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/flightbag/internal/normalize"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

func disc(id, brand, mold string, speed, glide, turn, fade float64, plastics ...types.PlasticVariant) *types.DiscRecord {
	return &types.DiscRecord{
		ID:        id,
		Brand:     brand,
		Mold:      mold,
		Signature: types.Signature{Speed: speed, Glide: glide, Turn: turn, Fade: fade},
		Plastics:  plastics,
		Provenance: types.Provenance{
			Source:        "test",
			SchemaVersion: normalize.SchemaFlightNumbers,
			UpdatedAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func override(name string, speed, glide, turn, fade float64) types.PlasticVariant {
	return types.PlasticVariant{
		Name:     name,
		Override: &types.Signature{Speed: speed, Glide: glide, Turn: turn, Fade: fade},
	}
}

func snapshotOf(t *testing.T, recs ...*types.DiscRecord) *Snapshot {
	t.Helper()
	ix, err := NewIndex(types.DefaultBounds(), types.DefaultWeights())
	require.NoError(t, err)
	for _, rec := range recs {
		require.NoError(t, ix.Update(Entries(rec), nil))
	}
	return ix.Snapshot()
}

func newEngine() *Engine {
	return New(normalize.New(types.DefaultBounds()), types.ForehandProfile{TurnOffset: -1})
}

func matchIDs(ms []Match) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.DiscID
	}
	return out
}

func sig(speed, glide, turn, fade float64) *types.Signature {
	return &types.Signature{Speed: speed, Glide: glide, Turn: turn, Fade: fade}
}

func TestFindSimilar_ThunderbirdSurfacesVulture(t *testing.T) {
	snap := snapshotOf(t,
		disc("innova:innova-thunderbird", "Innova", "Thunderbird", 9, 5, 0, 2),
		disc("discraft:discraft-vulture", "Discraft", "Vulture", 10, 5, 0, 2),
		disc("innova:innova-aviar", "Innova", "Aviar", 2, 3, 0, 1),
	)
	e := newEngine()

	got, err := e.FindSimilar(context.Background(), snap, Query{DiscID: "innova:innova-thunderbird"}, Options{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "discraft:discraft-vulture", got[0].DiscID)
	assert.Equal(t, "Vulture", got[0].Mold)
	// One speed unit over a 14-wide range, weighted 2.
	assert.InDelta(t, 2.0/14.0, got[0].Distance, 1e-12)
	assert.Greater(t, got[0].Distance, 0.0)
	assert.NotContains(t, matchIDs(got), "innova:innova-thunderbird")
	assert.Equal(t, 3, snap.Len())

	again, err := e.FindSimilar(context.Background(), snap, Query{DiscID: "innova:innova-thunderbird"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestFindSimilar_OrderingAndLimit(t *testing.T) {
	var recs []*types.DiscRecord
	for i := 0; i < 12; i++ {
		recs = append(recs, disc(fmt.Sprintf("d%02d", i), "B", fmt.Sprintf("M%d", i), 1+float64(i), 5, -1, 2))
	}
	// Exact tie with d04 at speed 5.
	recs = append(recs, disc("c-tie", "B", "Tie", 5, 5, -1, 2))
	snap := snapshotOf(t, recs...)

	got, err := newEngine().FindSimilar(context.Background(), snap,
		Query{Signature: sig(5, 5, -1, 2)}, Options{MaxResults: 4})
	require.NoError(t, err)
	assert.Equal(t, []string{"c-tie", "d04", "d03", "d05"}, matchIDs(got))
	assert.Zero(t, got[0].Distance)
	assert.Equal(t, got[2].Distance, got[3].Distance)
}

func TestFindSimilar_PlasticsDedupedPerDisc(t *testing.T) {
	snap := snapshotOf(t,
		disc("ref", "Innova", "Leopard", 6, 5, -2, 1),
		disc("multi", "Discraft", "Buzzz", 5, 4, -1, 1,
			override("Z", 5, 4, -1, 1),
			override("ESP", 5, 4, -1, 1),
			override("Big Z", 5, 4, -2, 1),
			override("Jawbreaker", 5, 4, -1, 2),
			override("Ti", 6, 5, -2, 1),
		),
		disc("other", "MVP", "Volt", 8, 5, -0.5, 2),
	)

	got, err := newEngine().FindSimilar(context.Background(), snap, Query{DiscID: "ref"}, Options{MaxResults: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"multi", "other"}, matchIDs(got))
	assert.Equal(t, "Ti", got[0].Plastic)
	assert.Zero(t, got[0].Distance)
	assert.Equal(t, 6.0, got[0].Signature.Speed)
}

func TestFindSimilar_QueryPlasticOverride(t *testing.T) {
	snap := snapshotOf(t,
		disc("buzzz", "Discraft", "Buzzz", 5, 4, -1, 1, override("Big Z", 5, 4, -2, 0)),
		disc("stable", "X", "Stable", 5, 4, -1, 1),
		disc("flippy", "X", "Flippy", 5, 4, -2, 0),
	)
	e := newEngine()

	got, err := e.FindSimilar(context.Background(), snap, Query{DiscID: "buzzz", Plastic: "big z"}, Options{MaxResults: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"flippy"}, matchIDs(got))

	_, err = e.FindSimilar(context.Background(), snap, Query{DiscID: "buzzz", Plastic: "Star"}, Options{})
	assert.ErrorIs(t, err, types.ErrPlasticNotFound)
}

func TestFindSimilar_ExcludeSamePlastic(t *testing.T) {
	snap := snapshotOf(t,
		disc("a", "Innova", "Teebird", 7, 5, 0, 2, override("Star", 7, 5, -1, 2)),
		disc("b", "Innova", "Leopard", 6, 5, -2, 1, override("Star", 7, 5, -1, 2)),
		disc("c", "MVP", "Inertia", 9, 5, -2, 2),
	)
	e := newEngine()
	q := Query{DiscID: "a", Plastic: "Star"}

	got, err := e.FindSimilar(context.Background(), snap, q, Options{MaxResults: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].DiscID)
	assert.Equal(t, "Star", got[0].Plastic)

	got, err = e.FindSimilar(context.Background(), snap, q, Options{MaxResults: 5, ExcludeSamePlastic: true})
	require.NoError(t, err)
	for _, m := range got {
		assert.NotEqual(t, "Star", m.Plastic)
	}
	assert.Equal(t, []string{"b", "c"}, matchIDs(got))
}

func TestFindSimilar_Orientation(t *testing.T) {
	snap := snapshotOf(t,
		disc("flips", "X", "Flips", 9, 5, -1, 2),
		disc("straight", "X", "Straight", 9, 5, 0, 2),
	)
	e := newEngine()
	q := Query{Signature: sig(9, 5, -1, 2)}

	back, err := e.FindSimilar(context.Background(), snap, q, Options{Orientation: types.Backhand})
	require.NoError(t, err)
	assert.Equal(t, []string{"flips", "straight"}, matchIDs(back))
	assert.Zero(t, back[0].Distance)

	// Thrown forehand, Straight picks up a unit of turn and matches exactly.
	fore, err := e.FindSimilar(context.Background(), snap, q, Options{Orientation: types.Forehand})
	require.NoError(t, err)
	assert.Equal(t, []string{"straight", "flips"}, matchIDs(fore))
	assert.Zero(t, fore[0].Distance)
	assert.Equal(t, types.Forehand, fore[0].Orientation)

	both, err := e.FindSimilar(context.Background(), snap, q, Options{Orientation: types.Both})
	require.NoError(t, err)
	require.Len(t, both, 2)
	assert.Equal(t, []string{"flips", "straight"}, matchIDs(both))
	assert.Zero(t, both[0].Distance)
	assert.Zero(t, both[1].Distance)
	assert.Equal(t, types.Backhand, both[0].Orientation)
	assert.Equal(t, types.Forehand, both[1].Orientation)

	_, err = e.FindSimilar(context.Background(), snap, q, Options{Orientation: "sidearm-ish"})
	assert.ErrorIs(t, err, types.ErrInvalidOrientation)
}

func TestFindSimilar_WeightOverride(t *testing.T) {
	snap := snapshotOf(t,
		disc("fast", "X", "Fast", 12, 5, -1, 2),
		disc("turny", "X", "Turny", 9, 5, -4, 2),
	)
	e := newEngine()
	q := Query{Signature: sig(9, 5, -1, 2)}

	speedOnly := types.Weights{Speed: 1}
	got, err := e.FindSimilar(context.Background(), snap, q, Options{MaxResults: 1, WeightOverride: &speedOnly})
	require.NoError(t, err)
	assert.Equal(t, []string{"turny"}, matchIDs(got))

	turnOnly := types.Weights{Turn: 1}
	got, err = e.FindSimilar(context.Background(), snap, q, Options{MaxResults: 1, WeightOverride: &turnOnly})
	require.NoError(t, err)
	assert.Equal(t, []string{"fast"}, matchIDs(got))

	_, err = e.FindSimilar(context.Background(), snap, q, Options{WeightOverride: &types.Weights{}})
	assert.ErrorIs(t, err, types.ErrInvalidQuery)
}

func TestFindSimilar_HugeMaxResults(t *testing.T) {
	snap := snapshotOf(t,
		disc("innova:innova-thunderbird", "Innova", "Thunderbird", 9, 5, 0, 2),
		disc("discraft:discraft-vulture", "Discraft", "Vulture", 10, 5, 0, 2, override("ESP", 10, 5, -1, 2)),
		disc("innova:innova-aviar", "Innova", "Aviar", 2, 3, 0, 1),
	)
	e := newEngine()

	for _, limit := range []int{math.MaxInt, 1 << 40, math.MaxInt / 2} {
		for _, o := range []types.Orientation{types.Backhand, types.Forehand, types.Both} {
			t.Run(fmt.Sprintf("%d/%s", limit, o), func(t *testing.T) {
				got, err := e.FindSimilar(context.Background(), snap,
					Query{DiscID: "innova:innova-thunderbird"},
					Options{MaxResults: limit, Orientation: o})
				require.NoError(t, err)
				assert.Equal(t, []string{"discraft:discraft-vulture", "innova:innova-aviar"}, matchIDs(got))
			})
		}
	}
}

func TestFindSimilar_Errors(t *testing.T) {
	e := newEngine()
	empty := snapshotOf(t)
	_, err := e.FindSimilar(context.Background(), empty, Query{DiscID: "x"}, Options{})
	assert.ErrorIs(t, err, types.ErrEmptyCatalog)

	snap := snapshotOf(t, disc("a", "X", "A", 9, 5, -1, 2))
	tests := []struct {
		name string
		q    Query
		opts Options
		want error
	}{
		{"unknown disc", Query{DiscID: "missing"}, Options{}, types.ErrNotFound},
		{"speed out of range", Query{Signature: sig(16, 5, 0, 2)}, Options{}, types.ErrInvalidQuery},
		{"fade out of range", Query{Signature: sig(9, 5, 0, -1)}, Options{}, types.ErrInvalidQuery},
		{"empty query", Query{}, Options{}, types.ErrInvalidQuery},
		{"both id and signature", Query{DiscID: "a", Signature: sig(9, 5, 0, 2)}, Options{}, types.ErrInvalidQuery},
		{"negative limit", Query{DiscID: "a"}, Options{MaxResults: -1}, types.ErrInvalidQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.FindSimilar(context.Background(), snap, tt.q, tt.opts)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFindSimilar_OnlyQueryDisc(t *testing.T) {
	snap := snapshotOf(t, disc("a", "X", "A", 9, 5, -1, 2))
	got, err := newEngine().FindSimilar(context.Background(), snap, Query{DiscID: "a"}, Options{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEntries(t *testing.T) {
	rec := disc("buzzz", "Discraft", "Buzzz", 5, 4, -1, 1,
		override("Big Z", 5, 4, -2, 1),
		types.PlasticVariant{Name: "ESP"},
	)
	assert.Equal(t, []string{"buzzz", "buzzz#big z"}, EntryIDs(rec))

	entries := Entries(rec)
	assert.Equal(t, "Big Z", entries[1].Value.Plastic)
	assert.Equal(t, -2.0, entries[1].Coords[DimTurn])
	assert.True(t, entries[0].Coords[DimStability] != entries[0].Coords[DimStability], "missing stability is NaN")
}
