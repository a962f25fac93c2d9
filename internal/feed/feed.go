// Package feed pulls raw disc records from the places catalogs are
// published: JSONL dumps on disk, the PDGA approved-disc CSV, and an HTTP
// endpoint serving JSONL.
package feed

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/mesh-intelligence/flightbag/pkg/types"
)

// Feed returns the raw records published after since. A zero since asks
// for everything.
type Feed interface {
	PullUpdatesSince(ctx context.Context, since time.Time) ([]types.RawRecord, error)
}

// FromConfig picks the feed described by cfg. A URL takes precedence over
// a file; a file ending in .csv is read as the PDGA list.
func FromConfig(cfg types.SyncConfig) (Feed, error) {
	switch {
	case cfg.FeedURL != "":
		return NewHTTPFeed(cfg.FeedURL, cfg.Timeout), nil
	case strings.EqualFold(filepath.Ext(cfg.FeedFile), ".csv"):
		return &CSVFeed{Path: cfg.FeedFile}, nil
	case cfg.FeedFile != "":
		return &FileFeed{Path: cfg.FeedFile}, nil
	default:
		return nil, types.ErrNoFeed
	}
}

// decodeRaw unmarshals JSONL lines into raw records, keeping those newer
// than since. A record without a top-level timestamp is always kept; the
// store decides whether it is stale. Lines that do not decode are counted.
func decodeRaw(lines []json.RawMessage, since time.Time) ([]types.RawRecord, int) {
	out := make([]types.RawRecord, 0, len(lines))
	bad := 0
	for _, line := range lines {
		var rec types.RawRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			bad++
			continue
		}
		if !since.IsZero() && !rec.UpdatedAt.IsZero() && !rec.UpdatedAt.After(since) {
			continue
		}
		out = append(out, rec)
	}
	return out, bad
}
