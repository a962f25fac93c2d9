package types

import (
	"errors"
	"math"
	"time"
)

// Config holds every tunable of the engine. The CLI fills it from
// config.yaml; tests build it from DefaultConfig.
type Config struct {
	DataDir  string          `json:"data_dir" yaml:"data_dir" mapstructure:"data_dir"`
	Bounds   Bounds          `json:"bounds" yaml:"bounds" mapstructure:"bounds"`
	Weights  Weights         `json:"weights" yaml:"weights" mapstructure:"weights"`
	Grid     GridConfig      `json:"grid" yaml:"grid" mapstructure:"grid"`
	Forehand ForehandProfile `json:"forehand" yaml:"forehand" mapstructure:"forehand"`
	Sync     SyncConfig      `json:"sync" yaml:"sync" mapstructure:"sync"`
}

// Range is a closed interval.
type Range struct {
	Min float64 `json:"min" yaml:"min" mapstructure:"min"`
	Max float64 `json:"max" yaml:"max" mapstructure:"max"`
}

// Contains reports whether v lies in [Min, Max].
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Width returns Max-Min.
func (r Range) Width() float64 {
	return r.Max - r.Min
}

// Bounds are the manufacturer-plausible limits for each flight number.
// They are sanity limits, not physics.
type Bounds struct {
	Speed     Range `json:"speed" yaml:"speed" mapstructure:"speed"`
	Glide     Range `json:"glide" yaml:"glide" mapstructure:"glide"`
	Turn      Range `json:"turn" yaml:"turn" mapstructure:"turn"`
	Fade      Range `json:"fade" yaml:"fade" mapstructure:"fade"`
	Stability Range `json:"stability" yaml:"stability" mapstructure:"stability"`
}

// Weights scale each dimension of the similarity distance. A zero weight
// removes the dimension from the metric.
type Weights struct {
	Speed     float64 `json:"speed" yaml:"speed" mapstructure:"speed"`
	Glide     float64 `json:"glide" yaml:"glide" mapstructure:"glide"`
	Turn      float64 `json:"turn" yaml:"turn" mapstructure:"turn"`
	Fade      float64 `json:"fade" yaml:"fade" mapstructure:"fade"`
	Stability float64 `json:"stability" yaml:"stability" mapstructure:"stability"`
}

// Vector returns the weights in index dimension order.
func (w Weights) Vector() []float64 {
	return []float64{w.Speed, w.Glide, w.Turn, w.Fade, w.Stability}
}

// GridConfig fixes the cell boundaries of the gap grid. Cells are
// [Min+i*Step, Min+(i+1)*Step); the last band also includes Max.
type GridConfig struct {
	Speed         Range   `json:"speed" yaml:"speed" mapstructure:"speed"`
	SpeedStep     float64 `json:"speed_step" yaml:"speed_step" mapstructure:"speed_step"`
	Stability     Range   `json:"stability" yaml:"stability" mapstructure:"stability"`
	StabilityStep float64 `json:"stability_step" yaml:"stability_step" mapstructure:"stability_step"`
}

// Cols returns the number of speed bands.
func (g GridConfig) Cols() int {
	return int(math.Ceil(g.Speed.Width()/g.SpeedStep - 1e-9))
}

// Rows returns the number of stability bands.
func (g GridConfig) Rows() int {
	return int(math.Ceil(g.Stability.Width()/g.StabilityStep - 1e-9))
}

// ForehandProfile shifts a signature to approximate a forehand release,
// which typically adds high-speed turn and trims fade.
type ForehandProfile struct {
	TurnOffset float64 `json:"turn_offset" yaml:"turn_offset" mapstructure:"turn_offset"`
	FadeOffset float64 `json:"fade_offset" yaml:"fade_offset" mapstructure:"fade_offset"`
}

// Apply returns the forehand projection of s.
func (f ForehandProfile) Apply(s Signature) Signature {
	out := s
	out.Turn += f.TurnOffset
	out.Fade += f.FadeOffset
	return out
}

// SyncConfig controls the background sync coordinator.
type SyncConfig struct {
	FeedURL  string        `json:"feed_url" yaml:"feed_url" mapstructure:"feed_url"`
	FeedFile string        `json:"feed_file" yaml:"feed_file" mapstructure:"feed_file"`
	Interval time.Duration `json:"interval" yaml:"interval" mapstructure:"interval"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// Config validation errors.
var (
	ErrBoundsInvalid   = errors.New("bounds must have min < max")
	ErrWeightsInvalid  = errors.New("weights must be non-negative with at least one positive")
	ErrIntervalInvalid = errors.New("sync interval must not be negative")
)

// DefaultBounds returns the commonly published flight number ranges.
func DefaultBounds() Bounds {
	return Bounds{
		Speed:     Range{Min: 1, Max: 15},
		Glide:     Range{Min: 1, Max: 7},
		Turn:      Range{Min: -5, Max: 1},
		Fade:      Range{Min: 0, Max: 5},
		Stability: Range{Min: -5, Max: 5},
	}
}

// DefaultWeights emphasizes speed and turn; stability is carried but not
// weighted.
func DefaultWeights() Weights {
	return Weights{Speed: 2, Glide: 1, Turn: 2, Fade: 1, Stability: 0}
}

// DefaultGrid returns a 7x10 flight matrix.
func DefaultGrid() GridConfig {
	return GridConfig{
		Speed:         Range{Min: 1, Max: 15},
		SpeedStep:     2,
		Stability:     Range{Min: -4, Max: 6},
		StabilityStep: 1,
	}
}

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() Config {
	return Config{
		Bounds:   DefaultBounds(),
		Weights:  DefaultWeights(),
		Grid:     DefaultGrid(),
		Forehand: ForehandProfile{TurnOffset: -1, FadeOffset: 0},
		Sync: SyncConfig{
			Interval: 6 * time.Hour,
			Timeout:  30 * time.Second,
		},
	}
}

// Validate checks that the Config is well-formed and returns a sentinel
// error from this package on failure.
func (c Config) Validate() error {
	if err := c.Bounds.Validate(); err != nil {
		return err
	}
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if err := c.Grid.Validate(); err != nil {
		return err
	}
	if c.Sync.Interval < 0 || c.Sync.Timeout < 0 {
		return ErrIntervalInvalid
	}
	return nil
}

// Validate checks every range is non-empty.
func (b Bounds) Validate() error {
	for _, r := range []Range{b.Speed, b.Glide, b.Turn, b.Fade, b.Stability} {
		if !(r.Min < r.Max) {
			return ErrBoundsInvalid
		}
	}
	return nil
}

// Validate checks weights are usable as a metric.
func (w Weights) Validate() error {
	positive := false
	for _, v := range w.Vector() {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return ErrWeightsInvalid
		}
		if v > 0 {
			positive = true
		}
	}
	if !positive {
		return ErrWeightsInvalid
	}
	return nil
}

// Validate checks the grid has positive steps and non-empty ranges.
func (g GridConfig) Validate() error {
	if !(g.Speed.Min < g.Speed.Max) || !(g.Stability.Min < g.Stability.Max) {
		return ErrInvalidGrid
	}
	if !(g.SpeedStep > 0) || !(g.StabilityStep > 0) {
		return ErrInvalidGrid
	}
	return nil
}
