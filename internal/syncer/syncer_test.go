package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/flightbag/internal/catalog"
	"github.com/mesh-intelligence/flightbag/internal/metrics"
	"github.com/mesh-intelligence/flightbag/internal/normalize"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

type mockFeed struct {
	mock.Mock
}

func (m *mockFeed) PullUpdatesSince(ctx context.Context, since time.Time) ([]types.RawRecord, error) {
	args := m.Called(ctx, since)
	recs, _ := args.Get(0).([]types.RawRecord)
	return recs, args.Error(1)
}

var (
	published = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	firstRun  = time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
	secondRun = time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC)
)

func raw(mold string, speed float64, at time.Time) types.RawRecord {
	return types.RawRecord{
		Source:    "innova",
		Schema:    normalize.SchemaFlightNumbers,
		UpdatedAt: at,
		Fields: map[string]any{
			"brand": "Innova", "mold": mold,
			"speed": speed, "glide": 5.0, "turn": 0.0, "fade": 2.0,
		},
	}
}

type fixture struct {
	svc  *catalog.Service
	feed *mockFeed
	reg  *prometheus.Registry
	now  time.Time
	c    *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := types.DefaultConfig()
	cfg.DataDir = t.TempDir()
	svc, err := catalog.Open(context.Background(), catalog.Options{Config: cfg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	f := &fixture{svc: svc, feed: &mockFeed{}, reg: prometheus.NewRegistry(), now: firstRun}
	f.c = New(Options{
		Feed:    f.feed,
		Catalog: svc,
		State:   svc.Store(),
		Metrics: metrics.New(f.reg),
		Now:     func() time.Time { return f.now },
		Backoff: func(time.Duration) backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 5)
		},
	})
	return f
}

func assertSyncRuns(t *testing.T, reg *prometheus.Registry, result string, n int) {
	t.Helper()
	expected := fmt.Sprintf(`
# HELP flightbag_sync_runs_total Sync runs by result.
# TYPE flightbag_sync_runs_total counter
flightbag_sync_runs_total{result=%q} %d
`, result, n)
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "flightbag_sync_runs_total"))
}

func TestRunOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.feed.On("PullUpdatesSince", mock.Anything, time.Time{}).Return([]types.RawRecord{
		raw("Thunderbird", 9, published),
		raw("Wraith", 11, published),
		raw("Rocket", 40, published),
	}, nil).Once()

	res, err := f.c.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pulled)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 2, res.Applied())
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, firstRun, res.SyncedAt)
	assert.Equal(t, 2, f.svc.Snapshot().Len())

	last, err := f.c.LastSuccessfulSync(ctx)
	require.NoError(t, err)
	assert.True(t, last.Equal(firstRun))

	// The second run asks only for what changed and keeps stored records
	// when the feed replays an older version.
	f.now = secondRun
	f.feed.On("PullUpdatesSince", mock.Anything, firstRun).Return([]types.RawRecord{
		raw("Thunderbird", 10, published.Add(-time.Hour)),
		raw("Wraith", 12, published.Add(time.Hour)),
	}, nil).Once()

	res, err = f.c.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stale)
	assert.Equal(t, 1, res.Updated)
	assert.True(t, res.Since.Equal(firstRun))

	rec, err := f.svc.Get(ctx, "innova:innova-thunderbird")
	require.NoError(t, err)
	assert.Equal(t, 9.0, rec.Signature.Speed)
	rec, err = f.svc.Get(ctx, "innova:innova-wraith")
	require.NoError(t, err)
	assert.Equal(t, 12.0, rec.Signature.Speed)

	f.feed.AssertExpectations(t)
	assertSyncRuns(t, f.reg, "success", 2)
}

func TestRunOnceFeedFailureKeepsWatermark(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.feed.On("PullUpdatesSince", mock.Anything, time.Time{}).
		Return(nil, types.ErrFeedUnavailable).Once()

	_, err := f.c.RunOnce(ctx)
	require.ErrorIs(t, err, types.ErrFeedUnavailable)

	last, err := f.c.LastSuccessfulSync(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero())
	assertSyncRuns(t, f.reg, "failure", 1)
}

func TestRunRetriesUntilFeedRecovers(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.feed.On("PullUpdatesSince", mock.Anything, time.Time{}).
		Return(nil, types.ErrFeedUnavailable).Twice()
	f.feed.On("PullUpdatesSince", mock.Anything, time.Time{}).
		Return([]types.RawRecord{raw("Aviar", 2, published)}, nil).Once()

	done := make(chan error, 1)
	go func() { done <- f.c.Run(ctx, time.Hour) }()

	require.Eventually(t, func() bool {
		last, err := f.c.LastSuccessfulSync(context.Background())
		return err == nil && !last.IsZero()
	}, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	f.feed.AssertNumberOfCalls(t, "PullUpdatesSince", 3)
	assert.Equal(t, 1, f.svc.Snapshot().Len())
}

func TestRunRejectsInvalidInterval(t *testing.T) {
	f := newFixture(t)
	err := f.c.Run(context.Background(), 0)
	assert.True(t, errors.Is(err, types.ErrIntervalInvalid))
}
