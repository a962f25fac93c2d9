package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/flightbag/internal/jsonl"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

// Export writes the whole catalog to w as JSONL, one record per line, in
// StoredAt order.
func (s *Store) Export(ctx context.Context, w io.Writer) (int, error) {
	lines, err := s.exportLines(ctx)
	if err != nil {
		return 0, err
	}
	if err := jsonl.Encode(w, lines); err != nil {
		return 0, fmt.Errorf("export: %w", err)
	}
	return len(lines), nil
}

// ExportFile atomically writes the catalog to path. A path ending in .sz is
// snappy-compressed.
func (s *Store) ExportFile(ctx context.Context, path string) (int, error) {
	lines, err := s.exportLines(ctx)
	if err != nil {
		return 0, err
	}
	if err := jsonl.Write(path, lines); err != nil {
		return 0, s.fail("export "+path, err)
	}
	return len(lines), nil
}

func (s *Store) exportLines(ctx context.Context) ([]json.RawMessage, error) {
	recs, err := s.ListSince(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	lines, err := jsonl.Marshal(recs)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return lines, nil
}

// ImportResult summarizes Import.
type ImportResult struct {
	BatchResult
	Malformed int
}

// RecordChecker validates an imported record before it is written.
// normalize.Normalizer implements it.
type RecordChecker interface {
	CheckRecord(*types.DiscRecord) error
}

// Import applies the records of a JSONL export in one batch. Stale records
// are rejected as with any other write. Lines that do not decode or fail
// check are skipped and counted as malformed.
func (s *Store) Import(ctx context.Context, path string, check RecordChecker) (ImportResult, error) {
	lines, skipped, err := jsonl.Read(path)
	if err != nil {
		return ImportResult{}, fmt.Errorf("import %s: %w", path, err)
	}

	recs := make([]*types.DiscRecord, 0, len(lines))
	for _, line := range lines {
		var rec types.DiscRecord
		if err := json.Unmarshal(line, &rec); err != nil || validateRecord(&rec) != nil {
			skipped++
			continue
		}
		if err := check.CheckRecord(&rec); err != nil {
			s.logger.Warn("import rejected record",
				zap.String("disc_id", rec.ID),
				zap.Error(err))
			skipped++
			continue
		}
		recs = append(recs, &rec)
	}
	if skipped > 0 {
		s.logger.Warn("import skipped malformed lines",
			zap.String("path", path),
			zap.Int("skipped", skipped))
	}

	res, err := s.ApplyBatch(ctx, recs)
	if err != nil {
		return ImportResult{}, err
	}
	return ImportResult{BatchResult: res, Malformed: skipped}, nil
}
