package types

import (
	"strings"
	"time"
)

// Signature is the canonical flight signature of a disc. Values keep the
// precision they were published with; 1.5 stays 1.5.
type Signature struct {
	Speed float64 `json:"speed"`
	Glide float64 `json:"glide"`
	Turn  float64 `json:"turn"`
	Fade  float64 `json:"fade"`

	// Stability is the optional fifth number some manufacturers publish.
	// It is carried as metadata and only affects distance when weighted.
	Stability *float64 `json:"stability,omitempty"`
}

// StabilityIndex returns turn+fade, the value plotted on the flight matrix.
func (s Signature) StabilityIndex() float64 {
	return s.Turn + s.Fade
}

// Equal reports whether two signatures carry the same numbers.
func (s Signature) Equal(o Signature) bool {
	if s.Speed != o.Speed || s.Glide != o.Glide || s.Turn != o.Turn || s.Fade != o.Fade {
		return false
	}
	switch {
	case s.Stability == nil && o.Stability == nil:
		return true
	case s.Stability == nil || o.Stability == nil:
		return false
	default:
		return *s.Stability == *o.Stability
	}
}

// PlasticVariant is a material blend of a mold. Override, when set, replaces
// the mold's base signature for discs in that plastic.
type PlasticVariant struct {
	Name     string     `json:"name"`
	Override *Signature `json:"override,omitempty"`
}

// Provenance records which source supplied a record's numbers and when the
// source last changed them.
type Provenance struct {
	Source        string    `json:"source"`
	SchemaVersion string    `json:"schema"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ProvenanceChange is one retained prior state of a record, written whenever
// an accepted update replaces it.
type ProvenanceChange struct {
	HistoryID  string     `json:"history_id"`
	DiscID     string     `json:"disc_id"`
	Provenance Provenance `json:"provenance"`
	Signature  Signature  `json:"signature"`
	ReplacedAt time.Time  `json:"replaced_at"`
}

// PhysicalSpec holds PDGA-style physical measurements. All fields are
// optional and independent of the flight signature.
type PhysicalSpec struct {
	DiameterCm            *float64 `json:"diameter_cm,omitempty"`
	HeightCm              *float64 `json:"height_cm,omitempty"`
	RimDepthCm            *float64 `json:"rim_depth_cm,omitempty"`
	InsideRimDiameterCm   *float64 `json:"inside_rim_diameter_cm,omitempty"`
	RimThicknessCm        *float64 `json:"rim_thickness_cm,omitempty"`
	RimDepthDiameterRatio *float64 `json:"rim_depth_diameter_ratio,omitempty"`
	RimConfiguration      *float64 `json:"rim_configuration,omitempty"`
	FlexibilityKg         *float64 `json:"flexibility_kg,omitempty"`
	MaxWeightG            *float64 `json:"max_weight_g,omitempty"`
	MaxWeightVintG        *float64 `json:"max_weight_vint_g,omitempty"`
	WeightMinG            *float64 `json:"weight_min_g,omitempty"`
	WeightMaxG            *float64 `json:"weight_max_g,omitempty"`

	Class               string `json:"class,omitempty"`
	CertificationNumber string `json:"certification_number,omitempty"`
	ApprovedDate        string `json:"approved_date,omitempty"`
	LastYearProduction  *int   `json:"last_year_production,omitempty"`
}

// IsZero reports whether no physical measurement is present.
func (p PhysicalSpec) IsZero() bool {
	return p == PhysicalSpec{}
}

// DiscRecord is the canonical, normalized description of one mold as
// published by one source.
type DiscRecord struct {
	ID         string           `json:"id"`
	Brand      string           `json:"brand"`
	Mold       string           `json:"mold"`
	Signature  Signature        `json:"signature"`
	Plastics   []PlasticVariant `json:"plastics,omitempty"`
	Provenance Provenance       `json:"provenance"`
	Physical   PhysicalSpec     `json:"physical"`
	Weblink    string           `json:"weblink,omitempty"`

	// StoredAt is the local time the record was last written. It drives
	// incremental index refresh and is set by the store.
	StoredAt time.Time `json:"stored_at"`
}

// Plastic returns the named plastic variant. Names match case-insensitively.
func (d *DiscRecord) Plastic(name string) (PlasticVariant, bool) {
	for _, p := range d.Plastics {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return PlasticVariant{}, false
}

// EffectiveSignature returns the signature of the disc in the given plastic.
// An empty plastic name, or a plastic without an override, yields the base
// signature. Returns ErrPlasticNotFound for an unknown plastic.
func (d *DiscRecord) EffectiveSignature(plastic string) (Signature, error) {
	if plastic == "" {
		return d.Signature, nil
	}
	p, ok := d.Plastic(plastic)
	if !ok {
		return Signature{}, ErrPlasticNotFound
	}
	if p.Override == nil {
		return d.Signature, nil
	}
	return *p.Override, nil
}

// RawRecord is a manufacturer- or feed-native record before normalization.
// Schema tags which decoder interprets Fields.
type RawRecord struct {
	Source    string         `json:"source"`
	Schema    string         `json:"schema"`
	UpdatedAt time.Time      `json:"updated_at,omitempty"`
	Fields    map[string]any `json:"fields"`
}
