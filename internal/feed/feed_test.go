package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/flightbag/internal/jsonl"
	"github.com/mesh-intelligence/flightbag/internal/normalize"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

var (
	jan = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	feb = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
)

func rawRecords() []types.RawRecord {
	return []types.RawRecord{
		{Source: "innova", Schema: normalize.SchemaFlightNumbers, UpdatedAt: jan,
			Fields: map[string]any{"brand": "Innova", "mold": "Aviar", "speed": 2.0, "glide": 3.0, "turn": 0.0, "fade": 1.0}},
		{Source: "innova", Schema: normalize.SchemaFlightNumbers, UpdatedAt: feb,
			Fields: map[string]any{"brand": "Innova", "mold": "Wraith", "speed": 11.0, "glide": 5.0, "turn": -1.0, "fade": 3.0}},
		{Source: "mvp", Schema: normalize.SchemaFlightString,
			Fields: map[string]any{"brand": "MVP", "mold": "Volt", "flight": "8/5/-0.5/2"}},
	}
}

func molds(recs []types.RawRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i], _ = r.Fields["mold"].(string)
	}
	return out
}

func writeFeed(t *testing.T, name string) string {
	t.Helper()
	lines, err := jsonl.Marshal(rawRecords())
	require.NoError(t, err)
	lines = append(lines, json.RawMessage(`"not a record"`))
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, jsonl.Write(path, lines))
	return path
}

func TestFileFeed(t *testing.T) {
	for _, name := range []string{"feed.jsonl", "feed.jsonl.sz"} {
		t.Run(name, func(t *testing.T) {
			f := &FileFeed{Path: writeFeed(t, name)}

			all, err := f.PullUpdatesSince(context.Background(), time.Time{})
			require.NoError(t, err)
			assert.Equal(t, []string{"Aviar", "Wraith", "Volt"}, molds(all))

			newer, err := f.PullUpdatesSince(context.Background(), jan)
			require.NoError(t, err)
			assert.Equal(t, []string{"Wraith", "Volt"}, molds(newer))
		})
	}
}

func TestFileFeedMissingFile(t *testing.T) {
	f := &FileFeed{Path: filepath.Join(t.TempDir(), "missing.jsonl")}
	_, err := f.PullUpdatesSince(context.Background(), time.Time{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

const masterCSV = "\ufeffManufacturer / Distributor,Disc Model,Max Weight (gr),Diameter (cm),Class,Certification Number,Approved Date,Speed,Glide,Turn,Fade\n" +
	"Innova Champion Discs,Destroyer,175.1,21.1,Super Class,,2007-03-01,12,5,-1,3\n" +
	"Innova Champion Discs,Destroyer,175.1,21.1,Super Class,,2007-03-01,12,5,-1,3\n" +
	"\"Discmania, Inc.\",PD,175.1,21.1,Super Class,X-1,,10,4,0,3\n"

func TestCSVFeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "master.csv")
	require.NoError(t, os.WriteFile(path, []byte(masterCSV), 0o644))
	require.NoError(t, os.Chtimes(path, feb, feb))

	f := &CSVFeed{Path: path}
	recs, err := f.PullUpdatesSince(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	first := recs[0]
	assert.Equal(t, DefaultCSVSource, first.Source)
	assert.Equal(t, normalize.SchemaPDGA, first.Schema)
	assert.True(t, first.UpdatedAt.Equal(feb))
	assert.Equal(t, "Innova Champion Discs", first.Fields["Manufacturer / Distributor"])
	assert.Equal(t, "175.1", first.Fields["Max Weight (gr)"])
	assert.NotContains(t, first.Fields, "Certification Number")
	assert.Equal(t, "Discmania, Inc.", recs[1].Fields["Manufacturer / Distributor"])

	rec, err := normalize.New(types.DefaultBounds()).Normalize(first)
	require.NoError(t, err)
	assert.Equal(t, "Destroyer", rec.Mold)
	assert.Equal(t, 12.0, rec.Signature.Speed)

	again, err := f.PullUpdatesSince(context.Background(), feb)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestHTTPFeed(t *testing.T) {
	var gotSince atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince.Store(r.URL.Query().Get("since"))
		lines, err := jsonl.Marshal(rawRecords())
		assert.NoError(t, err)
		if r.URL.Path == "/compressed" {
			w.Header().Set("Content-Type", snappyContentType)
			sw := snappy.NewBufferedWriter(w)
			assert.NoError(t, jsonl.Encode(sw, lines))
			assert.NoError(t, sw.Close())
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		assert.NoError(t, jsonl.Encode(w, lines))
	}))
	defer srv.Close()

	f := NewHTTPFeed(srv.URL+"/discs", time.Second)
	recs, err := f.PullUpdatesSince(context.Background(), jan)
	require.NoError(t, err)
	assert.Equal(t, jan.Format(time.RFC3339Nano), gotSince.Load())
	assert.Equal(t, []string{"Wraith", "Volt"}, molds(recs))

	f = NewHTTPFeed(srv.URL+"/compressed", time.Second)
	recs, err = f.PullUpdatesSince(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "", gotSince.Load())
	assert.Len(t, recs, 3)
}

func TestHTTPFeedUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPFeed(srv.URL, time.Second).PullUpdatesSince(context.Background(), time.Time{})
	require.ErrorIs(t, err, types.ErrFeedUnavailable)
	assert.True(t, strings.Contains(err.Error(), "503"))
}

func TestFromConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  types.SyncConfig
		want any
	}{
		{"url wins", types.SyncConfig{FeedURL: "http://x", FeedFile: "a.jsonl"}, &HTTPFeed{}},
		{"csv", types.SyncConfig{FeedFile: "master.CSV"}, &CSVFeed{}},
		{"jsonl", types.SyncConfig{FeedFile: "feed.jsonl.sz"}, &FileFeed{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := FromConfig(tt.cfg)
			require.NoError(t, err)
			assert.IsType(t, tt.want, f)
		})
	}

	_, err := FromConfig(types.SyncConfig{})
	assert.ErrorIs(t, err, types.ErrNoFeed)
}
