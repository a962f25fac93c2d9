// Package normalize converts manufacturer- and feed-native raw records into
// canonical DiscRecords. It is a pure transform: nothing here touches the
// store, and no number is ever corrected across manufacturers.
package normalize

import (
	"sort"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/flightbag/pkg/types"
)

// draft is what a schema decoder extracts before bounds checking.
type draft struct {
	id        string
	brand     string
	mold      string
	sig       types.Signature
	plastics  []types.PlasticVariant
	physical  types.PhysicalSpec
	dropped   []error
	weblink   string
	updatedAt time.Time
}

type decoder func(f fields) (*draft, error)

// Normalizer maps raw records onto the canonical schema. It is safe for
// concurrent use once constructed.
type Normalizer struct {
	bounds   types.Bounds
	decoders map[string]decoder
	logger   *zap.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger logs physical cells that were dropped because they did not
// parse.
func WithLogger(l *zap.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

// New returns a Normalizer that rejects values outside bounds.
func New(bounds types.Bounds, opts ...Option) *Normalizer {
	n := &Normalizer{
		bounds: bounds,
		decoders: map[string]decoder{
			SchemaFlightNumbers: decodeFlightNumbers,
			SchemaFlightString:  decodeFlightString,
			SchemaPDGA:          decodePDGA,
		},
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Schemas lists the schema tags this Normalizer understands.
func (n *Normalizer) Schemas() []string {
	out := make([]string, 0, len(n.decoders))
	for k := range n.decoders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Normalize converts one raw record. Failures are *types.NormalizationError
// values matching ErrMissingRequiredField, ErrOutOfRange, ErrUnknownSchema
// or ErrInvalidValue under errors.Is.
func (n *Normalizer) Normalize(raw types.RawRecord) (*types.DiscRecord, error) {
	f := fields{raw: raw.Fields, source: raw.Source, schema: raw.Schema}
	dec, ok := n.decoders[raw.Schema]
	if !ok {
		return nil, f.fail(types.ErrUnknownSchema, "schema", raw.Schema)
	}
	if strings.TrimSpace(raw.Source) == "" {
		return nil, f.fail(types.ErrMissingRequiredField, "source", nil)
	}
	if f.raw == nil {
		f.raw = map[string]any{}
	}

	d, err := dec(f)
	if err != nil {
		return nil, err
	}

	updatedAt := d.updatedAt
	if updatedAt.IsZero() {
		updatedAt = raw.UpdatedAt.UTC()
	}
	if updatedAt.IsZero() {
		return nil, f.fail(types.ErrMissingRequiredField, "updated_at", nil)
	}

	if err := n.checkSignature(f, "", d.sig); err != nil {
		return nil, err
	}
	for _, p := range d.plastics {
		if p.Override == nil {
			continue
		}
		if err := n.checkSignature(f, "plastics["+p.Name+"].", *p.Override); err != nil {
			return nil, err
		}
	}

	// '#' separates a disc id from a plastic in flight index point ids.
	if strings.Contains(d.id, "#") {
		return nil, f.fail(types.ErrInvalidValue, "id", d.id)
	}
	id := d.id
	if id == "" {
		id = DiscID(raw.Source, d.brand, d.mold)
	}
	for _, err := range d.dropped {
		n.logger.Warn("dropped unparseable physical value",
			zap.String("disc_id", id),
			zap.Error(err))
	}

	return &types.DiscRecord{
		ID:        id,
		Brand:     d.brand,
		Mold:      d.mold,
		Signature: d.sig,
		Plastics:  d.plastics,
		Provenance: types.Provenance{
			Source:        raw.Source,
			SchemaVersion: raw.Schema,
			UpdatedAt:     updatedAt,
		},
		Physical: d.physical,
		Weblink:  d.weblink,
	}, nil
}

// CheckSignature validates a caller-supplied signature against the bounds,
// returning ErrOutOfRange when a number is implausible.
func (n *Normalizer) CheckSignature(sig types.Signature) error {
	return n.checkSignature(fields{source: "query", schema: "signature"}, "", sig)
}

func (n *Normalizer) checkSignature(f fields, prefix string, sig types.Signature) error {
	checks := []struct {
		field string
		value float64
		r     types.Range
	}{
		{"speed", sig.Speed, n.bounds.Speed},
		{"glide", sig.Glide, n.bounds.Glide},
		{"turn", sig.Turn, n.bounds.Turn},
		{"fade", sig.Fade, n.bounds.Fade},
	}
	for _, c := range checks {
		if !c.r.Contains(c.value) {
			return f.fail(types.ErrOutOfRange, prefix+c.field, c.value)
		}
	}
	if sig.Stability != nil && !n.bounds.Stability.Contains(*sig.Stability) {
		return f.fail(types.ErrOutOfRange, prefix+"stability", *sig.Stability)
	}
	return nil
}

// CheckRecord re-validates a stored or exported record by passing its
// flight-numbers/v1 form back through Normalize. Records that never came
// through this Normalizer, such as hand-edited exports, are held to the
// same bounds as fresh feed data.
func (n *Normalizer) CheckRecord(rec *types.DiscRecord) error {
	if rec == nil {
		return &types.NormalizationError{Kind: types.ErrInvalidValue, Field: "record"}
	}
	_, err := n.Normalize(Denormalize(rec))
	return err
}

// DiscID derives the stable identifier of a mold as published by a source.
// The source is part of the id so two manufacturers' numbers are never
// merged into one record.
func DiscID(source, brand, mold string) string {
	return slug.Make(source) + ":" + slug.Make(brand+" "+mold)
}

// Denormalize re-derives a flight-numbers/v1 raw record from rec. Feeding
// the result back through Normalize yields an equal record.
func Denormalize(rec *types.DiscRecord) types.RawRecord {
	fm := map[string]any{
		"id":         rec.ID,
		"brand":      rec.Brand,
		"mold":       rec.Mold,
		"updated_at": rec.Provenance.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	putSignature(fm, rec.Signature)
	if rec.Weblink != "" {
		fm["weblink"] = rec.Weblink
	}
	if len(rec.Plastics) > 0 {
		plastics := make([]any, 0, len(rec.Plastics))
		for _, p := range rec.Plastics {
			pm := map[string]any{"name": p.Name}
			if p.Override != nil {
				putSignature(pm, *p.Override)
			}
			plastics = append(plastics, pm)
		}
		fm["plastics"] = plastics
	}
	putPhysical(fm, rec.Physical)

	return types.RawRecord{
		Source:    rec.Provenance.Source,
		Schema:    SchemaFlightNumbers,
		UpdatedAt: rec.Provenance.UpdatedAt,
		Fields:    fm,
	}
}

func putSignature(m map[string]any, s types.Signature) {
	m["speed"] = s.Speed
	m["glide"] = s.Glide
	m["turn"] = s.Turn
	m["fade"] = s.Fade
	if s.Stability != nil {
		m["stability"] = *s.Stability
	}
}

func putPhysical(m map[string]any, p types.PhysicalSpec) {
	k := flightNumbersPhysical
	for key, v := range map[string]*float64{
		k.diameter:      p.DiameterCm,
		k.height:        p.HeightCm,
		k.rimDepth:      p.RimDepthCm,
		k.insideRim:     p.InsideRimDiameterCm,
		k.rimThickness:  p.RimThicknessCm,
		k.ratio:         p.RimDepthDiameterRatio,
		k.configuration: p.RimConfiguration,
		k.flexibility:   p.FlexibilityKg,
		k.maxWeight:     p.MaxWeightG,
		k.maxWeightVint: p.MaxWeightVintG,
		k.weightMin:     p.WeightMinG,
		k.weightMax:     p.WeightMaxG,
	} {
		if v != nil {
			m[key] = *v
		}
	}
	for key, v := range map[string]string{
		k.class:        p.Class,
		k.cert:         p.CertificationNumber,
		k.approvedDate: p.ApprovedDate,
	} {
		if v != "" {
			m[key] = v
		}
	}
	if p.LastYearProduction != nil {
		m[k.lastYear] = float64(*p.LastYearProduction)
	}
}
