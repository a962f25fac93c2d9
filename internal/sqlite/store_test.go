package sqlite

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/flightbag/internal/normalize"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{DataDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ptr(v float64) *float64 { return &v }

func rec(id, brand, mold string, speed, glide, turn, fade float64, updated time.Time) *types.DiscRecord {
	return &types.DiscRecord{
		ID:        id,
		Brand:     brand,
		Mold:      mold,
		Signature: types.Signature{Speed: speed, Glide: glide, Turn: turn, Fade: fade},
		Provenance: types.Provenance{
			Source:        "test",
			SchemaVersion: "flight-numbers/v1",
			UpdatedAt:     updated,
		},
	}
}

func TestOpen_AppliesMigrations(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	assert.Equal(t, uint(3), s.SchemaVersion())
	assert.FileExists(t, filepath.Join(dir, DBFileName))
	assert.NoError(t, s.Degraded())
}

func TestUpsertAndGet(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx := context.Background()

	in := rec("innova:thunderbird", "Innova", "Thunderbird", 9, 5, 0, 2, t0)
	in.Signature.Stability = ptr(1.5)
	in.Plastics = []types.PlasticVariant{
		{Name: "Star"},
		{Name: "DX", Override: &types.Signature{Speed: 9, Glide: 5, Turn: -0.5, Fade: 2}},
	}
	in.Physical = types.PhysicalSpec{DiameterCm: ptr(21.1), Class: "Distance"}
	in.Weblink = "https://example.com/thunderbird"
	require.NoError(t, s.Upsert(ctx, in))

	got, err := s.Get(ctx, "innova:thunderbird")
	require.NoError(t, err)
	assert.Equal(t, in.Brand, got.Brand)
	assert.True(t, in.Signature.Equal(got.Signature))
	assert.Equal(t, in.Plastics, got.Plastics)
	assert.Equal(t, in.Physical, got.Physical)
	assert.Equal(t, in.Weblink, got.Weblink)
	assert.True(t, in.Provenance.UpdatedAt.Equal(got.Provenance.UpdatedAt))
	assert.False(t, got.StoredAt.IsZero())

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestUpsert_StaleWriteDoesNotAlterSignature(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, rec("d1", "Innova", "Teebird", 7, 5, 0, 2, t0)))

	for _, ts := range []time.Time{t0.Add(-time.Hour), t0} {
		err := s.Upsert(ctx, rec("d1", "Innova", "Teebird", 8, 4, -1, 1, ts))
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrStaleWrite)
		var stale *types.StaleWriteError
		require.True(t, errors.As(err, &stale))
		assert.Equal(t, "d1", stale.ID)
		assert.True(t, stale.Stored.Equal(t0))
	}

	got, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 7.0, got.Signature.Speed)
	assert.Equal(t, 0.0, got.Signature.Turn)

	history, err := s.ProvenanceHistory(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.NoError(t, s.Degraded())
}

func TestUpsert_NewerUpdateKeepsHistory(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, rec("d1", "Innova", "Teebird", 7, 5, 0, 2, t0)))
	first, err := s.LastUpdated(ctx, "d1")
	require.NoError(t, err)

	newer := rec("d1", "Innova", "Teebird", 7, 5, -1, 2, t0.Add(time.Hour))
	newer.Provenance.Source = "innova"
	require.NoError(t, s.Upsert(ctx, newer))

	got, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, -1.0, got.Signature.Turn)

	fresh, err := s.LastUpdated(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "innova", fresh.Source)
	assert.True(t, fresh.UpdatedAt.Equal(t0.Add(time.Hour)))
	assert.True(t, fresh.StoredAt.After(first.StoredAt))

	history, err := s.ProvenanceHistory(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "test", history[0].Provenance.Source)
	assert.True(t, history[0].Provenance.UpdatedAt.Equal(t0))
	assert.Equal(t, 0.0, history[0].Signature.Turn)

	_, err = s.ProvenanceHistory(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestApplyBatch_ReapplyIsIdempotent(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx := context.Background()
	batch := []*types.DiscRecord{
		rec("a", "Innova", "Aviar", 2, 3, 0, 1, t0),
		rec("b", "Discraft", "Buzzz", 5, 4, -1, 1, t0),
		rec("c", "MVP", "Volt", 8, 5, -0.5, 2, t0),
	}

	res, err := s.ApplyBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 3, res.Applied())
	before, err := s.ListSince(ctx, time.Time{})
	require.NoError(t, err)

	res, err = s.ApplyBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Applied())
	assert.Equal(t, 3, res.Stale)
	for _, r := range res.Records {
		assert.Equal(t, OutcomeStale, r.Outcome)
		assert.NotNil(t, r.Stale)
	}

	after, err := s.ListSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestApplyBatch_MixedOutcomes(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, rec("a", "Innova", "Aviar", 2, 3, 0, 1, t0)))

	res, err := s.ApplyBatch(ctx, []*types.DiscRecord{
		rec("a", "Innova", "Aviar", 2, 3, 0, 2, t0.Add(-time.Minute)),
		rec("b", "Discraft", "Buzzz", 5, 4, -1, 1, t0),
		rec("b", "Discraft", "Buzzz", 5, 4, -2, 1, t0.Add(time.Minute)),
	})
	require.NoError(t, err)
	assert.Equal(t, []Outcome{OutcomeStale, OutcomeInserted, OutcomeUpdated},
		[]Outcome{res.Records[0].Outcome, res.Records[1].Outcome, res.Records[2].Outcome})
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Stale)

	got, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, -2.0, got.Signature.Turn)
}

func TestApplyBatch_InvalidRecordRejectsBatch(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx := context.Background()

	_, err := s.ApplyBatch(ctx, []*types.DiscRecord{
		rec("a", "Innova", "Aviar", 2, 3, 0, 1, t0),
		rec("", "Innova", "Blank", 2, 3, 0, 1, t0),
	})
	assert.ErrorIs(t, err, types.ErrInvalidID)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.ApplyBatch(ctx, []*types.DiscRecord{rec("a", "Innova", "Aviar", 2, 3, 0, 1, time.Time{})})
	assert.ErrorIs(t, err, types.ErrInvalidData)
}

func TestListSince_MonotonicStoredAt(t *testing.T) {
	fixed := t0
	s, err := Open(context.Background(), Options{DataDir: t.TempDir(), Now: func() time.Time { return fixed }})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, err = s.ApplyBatch(ctx, []*types.DiscRecord{
		rec("z", "B", "Z", 5, 4, 0, 1, t0),
		rec("a", "B", "A", 5, 4, 0, 1, t0),
	})
	require.NoError(t, err)
	all, err := s.ListSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "z", all[0].ID)
	assert.True(t, all[1].StoredAt.After(all[0].StoredAt))

	watermark := all[1].StoredAt.Add(time.Nanosecond)
	require.NoError(t, s.Upsert(ctx, rec("z", "B", "Z", 6, 4, 0, 1, t0.Add(time.Hour))))

	changed, err := s.ListSince(ctx, watermark)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "z", changed[0].ID)
	assert.Equal(t, 6.0, changed[0].Signature.Speed)
}

func TestStore_PersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(ctx, Options{DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, s.Upsert(ctx, rec("d1", "Innova", "Teebird", 7, 5, 0, 2, t0)))
	bag, err := s.CreateBag(ctx, "Tournament")
	require.NoError(t, err)
	_, err = s.AddEntry(ctx, bag.ID, types.BagEntry{DiscID: "d1"})
	require.NoError(t, err)
	require.NoError(t, s.SetSyncTime(ctx, "last_successful_sync", t0))
	before, err := s.LastUpdated(ctx, "d1")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	got, err := s.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "Teebird", got.Mold)

	reloaded, err := s.GetBagByName(ctx, "tournament")
	require.NoError(t, err)
	require.Len(t, reloaded.Entries, 1)

	last, err := s.SyncTime(ctx, "last_successful_sync")
	require.NoError(t, err)
	assert.True(t, last.Equal(t0))

	require.NoError(t, s.Upsert(ctx, rec("d2", "Innova", "Leopard", 6, 5, -2, 1, t0)))
	after, err := s.LastUpdated(ctx, "d2")
	require.NoError(t, err)
	assert.True(t, after.StoredAt.After(before.StoredAt))
}

func TestStore_Closed(t *testing.T) {
	s, err := Open(context.Background(), Options{DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Get(context.Background(), "x")
	assert.ErrorIs(t, err, types.ErrStoreClosed)
	err = s.Upsert(context.Background(), rec("x", "B", "M", 5, 4, 0, 1, t0))
	assert.ErrorIs(t, err, types.ErrStoreClosed)
}

func TestSearch(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx := context.Background()
	destroyer := rec("innova:destroyer", "Innova", "Destroyer", 12, 5, -1, 3, t0)
	destroyer.Provenance.Source = "innova"
	_, err := s.ApplyBatch(ctx, []*types.DiscRecord{
		destroyer,
		rec("innova:teebird", "Innova", "Teebird", 7, 5, 0, 2, t0),
		rec("discraft:buzzz", "Discraft", "Buzzz", 5, 4, -1, 1, t0),
		rec("discraft:buzzz-ss", "Discraft", "Buzzz SS", 5, 4, -2, 1, t0),
		rec("odd:100", "Odd", "100%_Pure", 5, 4, 0, 1, t0),
	})
	require.NoError(t, err)

	ids := func(recs []*types.DiscRecord) []string {
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = r.ID
		}
		return out
	}

	tests := []struct {
		name   string
		text   string
		filter SearchFilter
		want   []string
	}{
		{"all", "", SearchFilter{}, []string{"discraft:buzzz", "discraft:buzzz-ss", "innova:destroyer", "innova:teebird", "odd:100"}},
		{"case insensitive", "BUZZZ", SearchFilter{}, []string{"discraft:buzzz", "discraft:buzzz-ss"}},
		{"every term", "discraft ss", SearchFilter{}, []string{"discraft:buzzz-ss"}},
		{"brand filter", "", SearchFilter{Brand: "innova"}, []string{"innova:destroyer", "innova:teebird"}},
		{"source filter", "", SearchFilter{Source: "innova"}, []string{"innova:destroyer"}},
		{"speed range", "", SearchFilter{SpeedMin: ptr(6), SpeedMax: ptr(10)}, []string{"innova:teebird"}},
		{"stability range", "", SearchFilter{StabilityMin: ptr(2)}, []string{"innova:destroyer", "innova:teebird"}},
		{"limit", "", SearchFilter{Limit: 2}, []string{"discraft:buzzz", "discraft:buzzz-ss"}},
		{"like metacharacters are literal", "%_", SearchFilter{}, []string{"odd:100"}},
		{"no match", "zzz teebird", SearchFilter{}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Search(ctx, tt.text, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestSyncState(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx := context.Background()

	_, ok, err := s.SyncState(ctx, "cursor")
	require.NoError(t, err)
	assert.False(t, ok)

	zero, err := s.SyncTime(ctx, "last_successful_sync")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	require.NoError(t, s.SetSyncState(ctx, "cursor", "1"))
	require.NoError(t, s.SetSyncState(ctx, "cursor", "2"))
	v, ok, err := s.SyncState(ctx, "cursor")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := openStore(t, t.TempDir())
	withPlastic := rec("b", "Discraft", "Buzzz", 5, 4, -1, 1, t0)
	withPlastic.Plastics = []types.PlasticVariant{{Name: "Z", Override: &types.Signature{Speed: 5, Glide: 4, Turn: -0.5, Fade: 1}}}
	_, err := src.ApplyBatch(ctx, []*types.DiscRecord{
		rec("a", "Innova", "Aviar", 2, 3, 0, 1, t0),
		withPlastic,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := src.Export(ctx, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))

	path := filepath.Join(t.TempDir(), "catalog.jsonl.sz")
	n, err = src.ExportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dst := openStore(t, t.TempDir())
	res, err := dst.Import(ctx, path, normalize.New(types.DefaultBounds()))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Zero(t, res.Malformed)

	got, err := dst.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, withPlastic.Plastics, got.Plastics)

	res, err = dst.Import(ctx, path, normalize.New(types.DefaultBounds()))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stale)
}

func TestImportRejectsOutOfBoundsRecords(t *testing.T) {
	ctx := context.Background()
	ok := rec("a", "Innova", "Aviar", 2, 3, 0, 1, t0)
	fast := rec("b", "Homemade", "Rocket", 99, 5, 0, 2, t0)
	badPlastic := rec("c", "Discraft", "Buzzz", 5, 4, -1, 1, t0)
	badPlastic.Plastics = []types.PlasticVariant{{Name: "Z", Override: &types.Signature{Speed: 5, Glide: 4, Turn: -9, Fade: 1}}}

	var buf bytes.Buffer
	for _, r := range []*types.DiscRecord{ok, fast, badPlastic} {
		line, err := json.Marshal(r)
		require.NoError(t, err)
		buf.Write(line)
		buf.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "edited.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	s := openStore(t, t.TempDir())
	res, err := s.Import(ctx, path, normalize.New(types.DefaultBounds()))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 2, res.Malformed)

	_, err = s.Get(ctx, "b")
	assert.ErrorIs(t, err, types.ErrNotFound)
	_, err = s.Get(ctx, "c")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestBags(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx := context.Background()

	bag, err := s.CreateBag(ctx, " Field Work ")
	require.NoError(t, err)
	assert.Equal(t, "Field Work", bag.Name)
	assert.Equal(t, int64(1), bag.Version)

	_, err = s.CreateBag(ctx, "field work")
	assert.ErrorIs(t, err, types.ErrDuplicateName)
	_, err = s.CreateBag(ctx, "  ")
	assert.ErrorIs(t, err, types.ErrInvalidName)

	e1, err := s.AddEntry(ctx, bag.ID, types.BagEntry{DiscID: "d1", Plastic: "Star", WeightG: ptr(175)})
	require.NoError(t, err)
	assert.NotEmpty(t, e1.EntryID)
	assert.Equal(t, types.Backhand, e1.Orientation)
	e2, err := s.AddEntry(ctx, bag.ID, types.BagEntry{DiscID: "d2", Orientation: types.Forehand})
	require.NoError(t, err)

	_, err = s.AddEntry(ctx, bag.ID, types.BagEntry{DiscID: "d3", Orientation: "thumber"})
	assert.ErrorIs(t, err, types.ErrInvalidOrientation)
	_, err = s.AddEntry(ctx, bag.ID, types.BagEntry{})
	assert.ErrorIs(t, err, types.ErrInvalidID)
	_, err = s.AddEntry(ctx, "missing", types.BagEntry{DiscID: "d1"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	got, err := s.GetBag(ctx, bag.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, e1.EntryID, got.Entries[0].EntryID)
	assert.Equal(t, "Star", got.Entries[0].Plastic)
	assert.Equal(t, 175.0, *got.Entries[0].WeightG)
	assert.Equal(t, e2.EntryID, got.Entries[1].EntryID)
	assert.Equal(t, types.Forehand, got.Entries[1].Orientation)

	other, err := s.CreateBag(ctx, "Backup")
	require.NoError(t, err)
	copied, err := s.CopyEntry(ctx, bag.ID, e1.EntryID, other.ID)
	require.NoError(t, err)
	assert.NotEqual(t, e1.EntryID, copied.EntryID)
	assert.Equal(t, "d1", copied.DiscID)

	_, err = s.CopyEntry(ctx, other.ID, e2.EntryID, bag.ID)
	assert.ErrorIs(t, err, types.ErrEntryNotInBag)

	require.NoError(t, s.RemoveEntry(ctx, bag.ID, e1.EntryID))
	err = s.RemoveEntry(ctx, bag.ID, e1.EntryID)
	assert.ErrorIs(t, err, types.ErrEntryNotInBag)

	backup, err := s.GetBag(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, backup.Entries, 1, "copy survives removal from the source bag")
	assert.Equal(t, copied.EntryID, backup.Entries[0].EntryID)

	bags, err := s.ListBags(ctx)
	require.NoError(t, err)
	require.Len(t, bags, 2)
	assert.Equal(t, "Backup", bags[0].Name)
	assert.Len(t, bags[1].Entries, 1)

	require.NoError(t, s.DeleteBag(ctx, other.ID))
	_, err = s.GetBag(ctx, other.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, s.DeleteBag(ctx, other.ID), types.ErrNotFound)
}

func bagLockCount(s *Store) int {
	n := 0
	s.bagLocks.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func TestBags_DeleteReleasesLock(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		bag, err := s.CreateBag(ctx, "Round")
		require.NoError(t, err)
		_, err = s.AddEntry(ctx, bag.ID, types.BagEntry{DiscID: "d1"})
		require.NoError(t, err)
		require.NoError(t, s.DeleteBag(ctx, bag.ID))
	}
	_, err := s.AddEntry(ctx, "missing", types.BagEntry{DiscID: "d1"})
	assert.ErrorIs(t, err, types.ErrNotFound)

	assert.Zero(t, bagLockCount(s))
}

func TestBags_ConcurrentAddsAreSerialized(t *testing.T) {
	s := openStore(t, t.TempDir())
	ctx := context.Background()
	bag, err := s.CreateBag(ctx, "Busy")
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddEntry(ctx, bag.ID, types.BagEntry{DiscID: "d"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetBag(ctx, bag.ID)
	require.NoError(t, err)
	assert.Len(t, got.Entries, n)
	assert.Equal(t, int64(n+1), got.Version)
}
