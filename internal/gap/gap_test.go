package gap

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/flightbag/pkg/types"
)

type catalog map[string]types.Signature

func (c catalog) resolve(discID, _ string) (types.Signature, error) {
	sig, ok := c[discID]
	if !ok {
		return types.Signature{}, types.ErrNotFound
	}
	return sig, nil
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(types.DefaultGrid(), types.ForehandProfile{TurnOffset: -1})
	require.NoError(t, err)
	return e
}

func bagOf(entries ...types.BagEntry) *types.Bag {
	return &types.Bag{ID: "bag-1", Name: "test", Version: 3, Entries: entries}
}

func entry(id, discID string, o types.Orientation) types.BagEntry {
	return types.BagEntry{EntryID: id, DiscID: discID, Orientation: o}
}

var drivers = catalog{
	"destroyer": {Speed: 12, Glide: 5, Turn: 0, Fade: 3},
	"firebird":  {Speed: 9, Glide: 3, Turn: 0, Fade: 4},
	"zone":      {Speed: 4, Glide: 1, Turn: 0, Fade: 3},
	"enforcer":  {Speed: 13, Glide: 4, Turn: 1, Fade: 4},
}

func TestAnalyze_OverstableBagLeavesLowStabilityEmpty(t *testing.T) {
	e := newEngine(t)
	bag := bagOf(
		entry("e1", "destroyer", types.Backhand),
		entry("e2", "firebird", types.Backhand),
		entry("e3", "enforcer", types.Backhand),
	)

	report, err := e.Analyze(context.Background(), bag, drivers.resolve)
	require.NoError(t, err)
	assert.Equal(t, 10, report.Rows)
	assert.Equal(t, 7, report.Cols)
	require.Len(t, report.Cells, 70)
	assert.Equal(t, "bag-1", report.BagID)
	assert.Equal(t, int64(3), report.Version)

	// Stability below 3 is the low-fade region.
	for r := 0; r < 7; r++ {
		for c := 0; c < report.Cols; c++ {
			cell := report.Cell(r, c)
			assert.False(t, cell.Occupied, "cell %d,%d", r, c)
			assert.NotNil(t, cell.NearestOccupiedDistance, "cell %d,%d", r, c)
			assert.NotEmpty(t, cell.NearestDiscID)
		}
	}

	assert.Equal(t, 3, report.Occupied)
	assert.Equal(t, 67, report.Empty)
	assert.Equal(t, []string{"destroyer"}, report.Cell(7, 5).OccupyingDiscIDs)
	assert.Equal(t, []string{"firebird"}, report.Cell(8, 4).OccupyingDiscIDs)
	assert.Equal(t, []string{"enforcer"}, report.Cell(9, 6).OccupyingDiscIDs)
	assert.Nil(t, report.Cell(7, 5).NearestOccupiedDistance)

	below := report.Cell(6, 5)
	assert.Equal(t, 11.0, below.SpeedMin)
	assert.Equal(t, 13.0, below.SpeedMax)
	assert.Equal(t, 2.0, below.StabilityMin)
	assert.Equal(t, 3.0, below.StabilityMax)
	require.NotNil(t, below.NearestOccupiedDistance)
	assert.InDelta(t, 0.5, *below.NearestOccupiedDistance, 1e-12)
	assert.Equal(t, "destroyer", below.NearestDiscID)
}

func TestAnalyze_Deterministic(t *testing.T) {
	e := newEngine(t)
	bag := bagOf(
		entry("e1", "destroyer", types.Both),
		entry("e2", "zone", types.Backhand),
		entry("e3", "firebird", types.Forehand),
	)
	first, err := e.Analyze(context.Background(), bag, drivers.resolve)
	require.NoError(t, err)
	second, err := e.Analyze(context.Background(), bag, drivers.resolve)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAnalyze_EmptyBag(t *testing.T) {
	report, err := newEngine(t).Analyze(context.Background(), bagOf(), drivers.resolve)
	require.NoError(t, err)
	assert.Zero(t, report.Occupied)
	assert.Equal(t, 70, report.Empty)
	for _, cell := range report.Cells {
		assert.False(t, cell.Occupied)
		assert.Nil(t, cell.NearestOccupiedDistance)
		assert.Empty(t, cell.NearestDiscID)
	}
}

func TestAnalyze_Orientation(t *testing.T) {
	e := newEngine(t)

	report, err := e.Analyze(context.Background(), bagOf(entry("e1", "destroyer", types.Forehand)), drivers.resolve)
	require.NoError(t, err)
	assert.True(t, report.Cell(6, 5).Occupied, "forehand adds a unit of turn")
	assert.False(t, report.Cell(7, 5).Occupied)

	report, err = e.Analyze(context.Background(), bagOf(entry("e1", "destroyer", types.Both)), drivers.resolve)
	require.NoError(t, err)
	assert.True(t, report.Cell(6, 5).Occupied)
	assert.True(t, report.Cell(7, 5).Occupied)
	assert.Equal(t, 2, report.Occupied)

	_, err = e.Analyze(context.Background(), bagOf(entry("e1", "destroyer", "overhand")), drivers.resolve)
	assert.ErrorIs(t, err, types.ErrInvalidOrientation)
}

func TestAnalyze_OutOfGridPointsClampToEdges(t *testing.T) {
	e := newEngine(t)
	odd := catalog{
		"max":   {Speed: 15, Glide: 5, Turn: 1, Fade: 5},
		"flip":  {Speed: 1, Glide: 5, Turn: -5, Fade: 0},
		"weird": {Speed: 20, Glide: 5, Turn: 0, Fade: 9},
	}
	bag := bagOf(
		entry("e1", "max", types.Backhand),
		entry("e2", "flip", types.Backhand),
		entry("e3", "weird", types.Backhand),
	)
	report, err := e.Analyze(context.Background(), bag, odd.resolve)
	require.NoError(t, err)
	assert.Equal(t, []string{"max", "weird"}, report.Cell(9, 6).OccupyingDiscIDs)
	assert.Equal(t, []string{"flip"}, report.Cell(0, 0).OccupyingDiscIDs)
	assert.Equal(t, 2, report.Occupied)
}

func TestAnalyze_UnresolvedDisc(t *testing.T) {
	_, err := newEngine(t).Analyze(context.Background(), bagOf(entry("e1", "ghost", types.Backhand)), drivers.resolve)
	assert.ErrorIs(t, err, types.ErrUnresolvedDisc)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestAnalyze_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newEngine(t).Analyze(ctx, bagOf(entry("e1", "zone", types.Backhand)), drivers.resolve)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_InvalidGrid(t *testing.T) {
	grid := types.DefaultGrid()
	grid.SpeedStep = 0
	_, err := New(grid, types.ForehandProfile{})
	assert.ErrorIs(t, err, types.ErrInvalidGrid)

	grid = types.DefaultGrid()
	grid.Stability = types.Range{Min: 3, Max: 3}
	_, err = New(grid, types.ForehandProfile{})
	assert.ErrorIs(t, err, types.ErrInvalidGrid)
}

func TestAnalyze_UnevenLastBand(t *testing.T) {
	grid := types.GridConfig{
		Speed:         types.Range{Min: 1, Max: 14},
		SpeedStep:     4,
		Stability:     types.Range{Min: 0, Max: 2},
		StabilityStep: 1,
	}
	e, err := New(grid, types.ForehandProfile{})
	require.NoError(t, err)

	report, err := e.Analyze(context.Background(), bagOf(), drivers.resolve)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Cols)
	last := report.Cell(0, 3)
	assert.Equal(t, 13.0, last.SpeedMin)
	assert.Equal(t, 14.0, last.SpeedMax)
}
