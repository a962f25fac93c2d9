package normalize

import (
	"strings"

	"github.com/mesh-intelligence/flightbag/pkg/types"
)

// Source schema tags.
const (
	// SchemaFlightNumbers carries speed, glide, turn and fade as separate
	// fields, optionally with a fifth stability number.
	SchemaFlightNumbers = "flight-numbers/v1"

	// SchemaFlightString carries the numbers as one delimited string such
	// as "9 | 5 | -1.5 | 2".
	SchemaFlightString = "flight-string/v1"

	// SchemaPDGA is a row of the PDGA approved-disc list with flight
	// number columns appended.
	SchemaPDGA = "pdga-approved/v1"
)

// physicalKeys names the fields a schema uses for physical measurements.
type physicalKeys struct {
	diameter, height, rimDepth, insideRim, rimThickness, ratio string
	configuration, flexibility, maxWeight, maxWeightVint       string
	weightMin, weightMax                                       string
	class, cert, approvedDate, lastYear                        string
}

var flightNumbersPhysical = physicalKeys{
	diameter:      "diameter_cm",
	height:        "height_cm",
	rimDepth:      "rim_depth_cm",
	insideRim:     "inside_rim_diameter_cm",
	rimThickness:  "rim_thickness_cm",
	ratio:         "rim_depth_diameter_ratio",
	configuration: "rim_configuration",
	flexibility:   "flexibility_kg",
	maxWeight:     "max_weight_g",
	maxWeightVint: "max_weight_vint_g",
	weightMin:     "weight_min_g",
	weightMax:     "weight_max_g",
	class:         "class",
	cert:          "certification_number",
	approvedDate:  "approved_date",
	lastYear:      "last_year_production",
}

var pdgaPhysical = physicalKeys{
	diameter:      "Diameter (cm)",
	height:        "Height (cm)",
	rimDepth:      "Rim Depth (cm)",
	insideRim:     "Inside Rim Diameter (cm)",
	rimThickness:  "Rim Thickness (cm)",
	ratio:         "Rim Depth / Diameter Ratio (%)",
	configuration: "Rim Configuration",
	flexibility:   "Flexibility (kg)",
	maxWeight:     "Max Weight (gr)",
	maxWeightVint: "Max Weight Vint (gr)",
	weightMin:     "Weight Min (gr)",
	weightMax:     "Weight Max (gr)",
	class:         "Class",
	cert:          "Certification Number",
	approvedDate:  "Approved Date",
	lastYear:      "Last Year Production",
}

func decodeFlightNumbers(f fields) (*draft, error) {
	d := &draft{id: f.str("id")}
	var err error
	if d.brand, err = f.requiredString("brand", "manufacturer"); err != nil {
		return nil, err
	}
	if d.mold, err = f.requiredString("mold", "model", "name"); err != nil {
		return nil, err
	}
	if d.sig, err = signatureFields(f, "speed", "glide", "turn", "fade", "stability"); err != nil {
		return nil, err
	}
	return finish(f, d, flightNumbersPhysical, "updated_at", "weblink")
}

func decodeFlightString(f fields) (*draft, error) {
	d := &draft{id: f.str("id")}
	var err error
	if d.brand, err = f.requiredString("manufacturer", "brand"); err != nil {
		return nil, err
	}
	if d.mold, err = f.requiredString("model", "mold"); err != nil {
		return nil, err
	}

	flight := f.str("flight")
	if flight == "" {
		return nil, f.fail(types.ErrMissingRequiredField, "speed", nil)
	}
	parts := strings.FieldsFunc(flight, func(r rune) bool {
		return r == '|' || r == '/' || r == ',' || r == ' ' || r == '\t'
	})
	if len(parts) > 5 {
		return nil, f.fail(types.ErrInvalidValue, "flight", flight)
	}
	names := []string{"speed", "glide", "turn", "fade", "stability"}
	split := make(map[string]any, len(parts))
	for i, p := range parts {
		split[names[i]] = p
	}
	sub := fields{raw: split, source: f.source, schema: f.schema}
	if d.sig, err = signatureFields(sub, names...); err != nil {
		return nil, err
	}
	return finish(f, d, flightNumbersPhysical, "updated_at", "weblink")
}

func decodePDGA(f fields) (*draft, error) {
	d := &draft{}
	var err error
	if d.brand, err = f.requiredString("Manufacturer / Distributor", "Manufacturer"); err != nil {
		return nil, err
	}
	if d.mold, err = f.requiredString("Disc Model", "Model"); err != nil {
		return nil, err
	}
	if d.sig, err = signatureFields(f, "Speed", "Glide", "Turn", "Fade", "Stability"); err != nil {
		return nil, err
	}
	return finish(f, d, pdgaPhysical, "Updated At", "Weblink")
}

// signatureFields reads the four required numbers and the optional fifth.
// Keys are speed, glide, turn, fade, stability in that order.
func signatureFields(f fields, keys ...string) (types.Signature, error) {
	var s types.Signature
	var err error
	if s.Speed, err = f.requiredNumber(keys[0]); err != nil {
		return s, err
	}
	if s.Glide, err = f.requiredNumber(keys[1]); err != nil {
		return s, err
	}
	if s.Turn, err = f.requiredNumber(keys[2]); err != nil {
		return s, err
	}
	if s.Fade, err = f.requiredNumber(keys[3]); err != nil {
		return s, err
	}
	if s.Stability, err = f.number(keys[4]); err != nil {
		return s, err
	}
	return s, nil
}

// finish decodes the fields every schema shares: plastics, physical spec,
// weblink and the source timestamp.
func finish(f fields, d *draft, pk physicalKeys, updatedKey, weblinkKey string) (*draft, error) {
	var err error
	if d.plastics, err = plastics(f, d.sig); err != nil {
		return nil, err
	}
	d.physical, d.dropped = physical(f, pk)
	if d.updatedAt, err = f.timestamp(updatedKey); err != nil {
		return nil, err
	}
	d.weblink = f.str(weblinkKey)
	return d, nil
}

// plastics decodes the optional plastics list. An entry may be a bare name
// or an object; an object with any flight number gets an override, with
// missing numbers inherited from the mold.
func plastics(f fields, base types.Signature) ([]types.PlasticVariant, error) {
	key, v, ok := f.lookup("plastics")
	if !ok {
		return nil, nil
	}
	list, isList := v.([]any)
	if !isList {
		return nil, f.fail(types.ErrInvalidValue, key, v)
	}

	out := make([]types.PlasticVariant, 0, len(list))
	for _, item := range list {
		switch p := item.(type) {
		case string:
			if strings.TrimSpace(p) == "" {
				return nil, f.fail(types.ErrInvalidValue, key, item)
			}
			out = append(out, types.PlasticVariant{Name: strings.TrimSpace(p)})
		case map[string]any:
			pf := fields{raw: p, source: f.source, schema: f.schema}
			name := pf.str("name")
			if name == "" {
				return nil, f.fail(types.ErrInvalidValue, key, item)
			}
			variant := types.PlasticVariant{Name: name}
			override, err := overrideFields(pf, base)
			if err != nil {
				return nil, err
			}
			variant.Override = override
			out = append(out, variant)
		default:
			return nil, f.fail(types.ErrInvalidValue, key, item)
		}
	}
	return out, nil
}

func overrideFields(pf fields, base types.Signature) (*types.Signature, error) {
	sig := base
	touched := false
	for _, t := range []struct {
		key string
		dst *float64
	}{
		{"speed", &sig.Speed},
		{"glide", &sig.Glide},
		{"turn", &sig.Turn},
		{"fade", &sig.Fade},
	} {
		n, err := pf.number(t.key)
		if err != nil {
			return nil, err
		}
		if n != nil {
			*t.dst = *n
			touched = true
		}
	}
	st, err := pf.number("stability")
	if err != nil {
		return nil, err
	}
	if st != nil {
		sig.Stability = st
		touched = true
	}
	if !touched {
		return nil, nil
	}
	return &sig, nil
}

// physical decodes the optional measurements. A cell that does not parse
// is left unset and returned in dropped; it never rejects the disc.
func physical(f fields, k physicalKeys) (p types.PhysicalSpec, dropped []error) {
	for _, t := range []struct {
		key string
		dst **float64
	}{
		{k.diameter, &p.DiameterCm},
		{k.height, &p.HeightCm},
		{k.rimDepth, &p.RimDepthCm},
		{k.insideRim, &p.InsideRimDiameterCm},
		{k.rimThickness, &p.RimThicknessCm},
		{k.ratio, &p.RimDepthDiameterRatio},
		{k.configuration, &p.RimConfiguration},
		{k.flexibility, &p.FlexibilityKg},
		{k.maxWeight, &p.MaxWeightG},
		{k.maxWeightVint, &p.MaxWeightVintG},
		{k.weightMin, &p.WeightMinG},
		{k.weightMax, &p.WeightMaxG},
	} {
		n, err := f.number(t.key)
		if err != nil {
			dropped = append(dropped, err)
			continue
		}
		*t.dst = n
	}
	year, err := f.integer(k.lastYear)
	if err != nil {
		dropped = append(dropped, err)
	}
	p.LastYearProduction = year
	p.Class = f.str(k.class)
	p.CertificationNumber = f.str(k.cert)
	p.ApprovedDate = f.str(k.approvedDate)
	return p, dropped
}
