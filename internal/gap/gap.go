// Package gap maps a bag onto a speed by stability grid and reports which
// cells it covers and how far each empty cell is from the nearest disc.
package gap

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/mesh-intelligence/flightbag/internal/flightindex"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

// Resolver returns the signature a bag entry flies with.
type Resolver func(discID, plastic string) (types.Signature, error)

// Engine analyzes bags against a fixed grid.
type Engine struct {
	grid     types.GridConfig
	forehand types.ForehandProfile
}

// New validates the grid and returns an Engine.
func New(grid types.GridConfig, forehand types.ForehandProfile) (*Engine, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	return &Engine{grid: grid, forehand: forehand}, nil
}

// Grid returns the grid the engine bins into.
func (e *Engine) Grid() types.GridConfig { return e.grid }

// Analyze builds the gap report for bag. Cells are row-major with row the
// stability band and col the speed band, both ascending. An empty bag yields
// all cells empty with no nearest distance.
func (e *Engine) Analyze(ctx context.Context, bag *types.Bag, resolve Resolver) (*types.GapReport, error) {
	points, err := e.project(bag, resolve)
	if err != nil {
		return nil, err
	}

	// Distances are measured in cell units.
	ix, err := flightindex.New[string](2, flightindex.Metric{
		Scale:   []float64{e.grid.SpeedStep, e.grid.StabilityStep},
		Weights: []float64{1, 1},
	})
	if err != nil {
		return nil, fmt.Errorf("gap index: %w", err)
	}
	if err := ix.Build(points); err != nil {
		return nil, fmt.Errorf("gap index: %w", err)
	}
	snap := ix.Snapshot()

	rows, cols := e.grid.Rows(), e.grid.Cols()
	report := &types.GapReport{
		BagID:   bag.ID,
		Version: bag.Version,
		Grid:    e.grid,
		Rows:    rows,
		Cols:    cols,
		Cells:   make([]types.GapCell, 0, rows*cols),
	}

	for r := 0; r < rows; r++ {
		stabMin, stabMax := band(e.grid.Stability, e.grid.StabilityStep, r)
		for c := 0; c < cols; c++ {
			speedMin, speedMax := band(e.grid.Speed, e.grid.SpeedStep, c)
			cell := types.GapCell{
				Row:          r,
				Col:          c,
				SpeedMin:     speedMin,
				SpeedMax:     speedMax,
				StabilityMin: stabMin,
				StabilityMax: stabMax,
			}

			members, err := snap.Range(ctx, cellRegion(speedMin, speedMax, c == 0, c == cols-1,
				stabMin, stabMax, r == 0, r == rows-1))
			if err != nil {
				return nil, err
			}
			cell.OccupyingDiscIDs = discIDs(members)
			cell.Occupied = len(cell.OccupyingDiscIDs) > 0

			if cell.Occupied {
				report.Occupied++
			} else {
				report.Empty++
				if snap.Len() > 0 {
					nearest, err := snap.KNearest(ctx, flightindex.Query[string]{
						Coords: []float64{(speedMin + speedMax) / 2, (stabMin + stabMax) / 2},
						K:      1,
					})
					if err != nil {
						return nil, err
					}
					d := nearest[0].Distance
					cell.NearestOccupiedDistance = &d
					cell.NearestDiscID = nearest[0].Value
				}
			}
			report.Cells = append(report.Cells, cell)
		}
	}
	return report, nil
}

// project turns bag entries into grid points, one per release thrown.
func (e *Engine) project(bag *types.Bag, resolve Resolver) ([]flightindex.Entry[string], error) {
	var points []flightindex.Entry[string]
	for _, entry := range bag.Entries {
		sig, err := resolve(entry.DiscID, entry.Plastic)
		if err != nil {
			if errors.Is(err, types.ErrUnresolvedDisc) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s: %w", types.ErrUnresolvedDisc, entry.DiscID, err)
		}
		orientation, err := types.ParseOrientation(string(entry.Orientation))
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", entry.EntryID, err)
		}
		if orientation.Includes(types.Backhand) {
			points = append(points, e.point(entry, types.Backhand, sig))
		}
		if orientation.Includes(types.Forehand) {
			points = append(points, e.point(entry, types.Forehand, e.forehand.Apply(sig)))
		}
	}
	return points, nil
}

// point clamps a signature into the grid so outliers land in edge cells.
func (e *Engine) point(entry types.BagEntry, o types.Orientation, sig types.Signature) flightindex.Entry[string] {
	return flightindex.Entry[string]{
		ID: entry.EntryID + "/" + string(o),
		Coords: []float64{
			clamp(sig.Speed, e.grid.Speed),
			clamp(sig.StabilityIndex(), e.grid.Stability),
		},
		Value: entry.DiscID,
	}
}

func clamp(v float64, r types.Range) float64 {
	return math.Max(r.Min, math.Min(r.Max, v))
}

// band returns the bounds of band i. The last band is cut at Max.
func band(r types.Range, step float64, i int) (float64, float64) {
	lo := r.Min + float64(i)*step
	return lo, math.Min(lo+step, r.Max)
}

// cellRegion opens the outer edges of edge cells so clamped points at Max
// fall inside the last band.
func cellRegion(speedMin, speedMax float64, firstCol, lastCol bool,
	stabMin, stabMax float64, firstRow, lastRow bool) flightindex.Region {
	if firstCol {
		speedMin = math.Inf(-1)
	}
	if lastCol {
		speedMax = math.Inf(1)
	}
	if firstRow {
		stabMin = math.Inf(-1)
	}
	if lastRow {
		stabMax = math.Inf(1)
	}
	return flightindex.Region{
		Min: []float64{speedMin, stabMin},
		Max: []float64{speedMax, stabMax},
	}
}

func discIDs(members []flightindex.Entry[string]) []string {
	if len(members) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(members))
	var out []string
	for _, m := range members {
		if !seen[m.Value] {
			seen[m.Value] = true
			out = append(out, m.Value)
		}
	}
	sort.Strings(out)
	return out
}
