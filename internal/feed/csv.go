package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/mesh-intelligence/flightbag/internal/normalize"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

// DefaultCSVSource names records read from the PDGA list.
const DefaultCSVSource = "pdga"

// CSVFeed reads the PDGA approved-disc list (master.csv). Every row becomes
// a pdga-approved/v1 record stamped with the file's modification time, so
// an unchanged file yields nothing after the first pull. Blank cells are
// left out, and only the first row for a brand and mold is kept.
//
// The list as published by the PDGA has no flight numbers. Rows are only
// accepted once Speed, Glide, Turn and Fade columns (and optionally
// Stability) are appended; without them every row is rejected with
// ErrMissingRequiredField.
type CSVFeed struct {
	Path   string
	Source string
}

// PullUpdatesSince implements Feed.
func (f *CSVFeed) PullUpdatesSince(ctx context.Context, since time.Time) ([]types.RawRecord, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.Path, err)
	}
	defer fh.Close()

	info, err := fh.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", f.Path, err)
	}
	modified := info.ModTime().UTC()
	if !since.IsZero() && !modified.After(since) {
		return nil, nil
	}

	source := f.Source
	if source == "" {
		source = DefaultCSVSource
	}
	recs, err := readPDGA(ctx, fh, source, modified)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Path, err)
	}
	return recs, nil
}

func readPDGA(ctx context.Context, r io.Reader, source string, at time.Time) ([]types.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var out []types.RawRecord
	seen := make(map[string]bool)
	for n := 0; ; n++ {
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		fields := make(map[string]any, len(header))
		for i, cell := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			if v := strings.TrimSpace(cell); v != "" {
				fields[header[i]] = v
			}
		}
		key := strings.ToLower(str(fields, "Manufacturer / Distributor") + "\x00" + str(fields, "Disc Model"))
		if seen[key] {
			continue
		}
		seen[key] = true

		out = append(out, types.RawRecord{
			Source:    source,
			Schema:    normalize.SchemaPDGA,
			UpdatedAt: at,
			Fields:    fields,
		})
	}
	return out, nil
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
