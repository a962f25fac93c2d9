package feed

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/flightbag/internal/jsonl"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

// FileFeed reads raw records from a JSONL file, snappy-framed when the
// name ends in .sz.
type FileFeed struct {
	Path   string
	Logger *zap.Logger
}

// PullUpdatesSince implements Feed.
func (f *FileFeed) PullUpdatesSince(ctx context.Context, since time.Time) ([]types.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lines, malformed, err := jsonl.Read(f.Path)
	if err != nil {
		return nil, err
	}
	recs, bad := decodeRaw(lines, since)
	if skipped := malformed + bad; skipped > 0 && f.Logger != nil {
		f.Logger.Warn("skipped malformed feed lines",
			zap.String("path", f.Path),
			zap.Int("skipped", skipped))
	}
	return recs, nil
}
