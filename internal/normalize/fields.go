package normalize

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mesh-intelligence/flightbag/pkg/types"
)

// fields wraps a raw record's field map with typed, alias-aware accessors.
// Every accessor treats an absent key, a JSON null, and a blank string the
// same way: the value is missing.
type fields struct {
	raw    map[string]any
	source string
	schema string
}

func (f fields) lookup(keys ...string) (string, any, bool) {
	for _, k := range keys {
		v, ok := f.raw[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return k, v, true
	}
	return keys[0], nil, false
}

func (f fields) fail(kind error, field string, value any) error {
	return &types.NormalizationError{
		Kind:   kind,
		Source: f.source,
		Schema: f.schema,
		Field:  field,
		Value:  value,
	}
}

// number returns the value under the first present key, or nil when every
// key is missing.
func (f fields) number(keys ...string) (*float64, error) {
	key, v, ok := f.lookup(keys...)
	if !ok {
		return nil, nil
	}
	n, err := parseNumber(v)
	if err != nil {
		return nil, f.fail(types.ErrInvalidValue, key, v)
	}
	return &n, nil
}

func (f fields) requiredNumber(keys ...string) (float64, error) {
	n, err := f.number(keys...)
	if err != nil {
		return 0, err
	}
	if n == nil {
		return 0, f.fail(types.ErrMissingRequiredField, keys[0], nil)
	}
	return *n, nil
}

func (f fields) integer(keys ...string) (*int, error) {
	n, err := f.number(keys...)
	if err != nil || n == nil {
		return nil, err
	}
	i := int(*n)
	if float64(i) != *n {
		key, v, _ := f.lookup(keys...)
		return nil, f.fail(types.ErrInvalidValue, key, v)
	}
	return &i, nil
}

func (f fields) str(keys ...string) string {
	_, v, ok := f.lookup(keys...)
	if !ok {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}

func (f fields) requiredString(keys ...string) (string, error) {
	s := f.str(keys...)
	if s == "" {
		return "", f.fail(types.ErrMissingRequiredField, keys[0], nil)
	}
	return s, nil
}

func (f fields) timestamp(keys ...string) (time.Time, error) {
	key, v, ok := f.lookup(keys...)
	if !ok {
		return time.Time{}, nil
	}
	s, isStr := v.(string)
	if !isStr {
		return time.Time{}, f.fail(types.ErrInvalidValue, key, v)
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, f.fail(types.ErrInvalidValue, key, v)
}

// parseNumber accepts JSON numbers and numeric strings such as "1.5",
// "-0.5" or "+1". Strings are parsed with strconv so published half points
// stay exact.
func parseNumber(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
