// Package syncer reconciles the local catalog with a remote feed. The
// catalog stays fully usable offline; a sync only ever adds or replaces
// records that are newer than what is stored.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/flightbag/internal/catalog"
	"github.com/mesh-intelligence/flightbag/internal/feed"
	"github.com/mesh-intelligence/flightbag/internal/metrics"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

// LastSyncKey is the sync-state key holding the last successful sync.
const LastSyncKey = "last_successful_sync"

// Ingester normalizes and applies raw records. catalog.Service implements it.
type Ingester interface {
	Ingest(ctx context.Context, raws []types.RawRecord) (catalog.IngestResult, error)
}

// StateStore persists sync watermarks. sqlite.Store implements it.
type StateStore interface {
	SyncTime(ctx context.Context, key string) (time.Time, error)
	SetSyncTime(ctx context.Context, key string, t time.Time) error
}

// Options configure a Coordinator. Feed, Catalog and State are required.
type Options struct {
	Feed    feed.Feed
	Catalog Ingester
	State   StateStore
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// Now stamps successful syncs.
	Now func() time.Time
	// Backoff paces retries of a failed run within one interval.
	Backoff func(interval time.Duration) backoff.BackOff
}

// Result summarizes one sync run.
type Result struct {
	Since    time.Time `json:"since"`
	SyncedAt time.Time `json:"synced_at"`
	Pulled   int       `json:"pulled"`
	Inserted int       `json:"inserted"`
	Updated  int       `json:"updated"`
	Stale    int       `json:"stale"`
	Rejected int       `json:"rejected"`
}

// Applied returns the records that changed the catalog.
func (r Result) Applied() int { return r.Inserted + r.Updated }

// Coordinator runs syncs. Runs never overlap.
type Coordinator struct {
	feed    feed.Feed
	catalog Ingester
	state   StateStore
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	backoff func(time.Duration) backoff.BackOff

	mu sync.Mutex
}

// New returns a Coordinator.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		feed:    opts.Feed,
		catalog: opts.Catalog,
		state:   opts.State,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		backoff: opts.Backoff,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.backoff == nil {
		c.backoff = defaultBackoff
	}
	return c
}

func defaultBackoff(interval time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	// Give up before the next scheduled run.
	b.MaxElapsedTime = interval / 2
	return b
}

// LastSuccessfulSync returns when the last sync completed, or the zero
// time if none has.
func (c *Coordinator) LastSuccessfulSync(ctx context.Context) (time.Time, error) {
	return c.state.SyncTime(ctx, LastSyncKey)
}

// RunOnce pulls everything the feed published since the last successful
// sync and applies it. Records that fail normalization and stale writes
// are logged and counted; neither fails the run. The watermark advances
// only when the whole run succeeds.
func (c *Coordinator) RunOnce(ctx context.Context) (res Result, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	defer func() { c.metrics.SyncFinished(start, err) }()

	since, err := c.state.SyncTime(ctx, LastSyncKey)
	if err != nil {
		return res, fmt.Errorf("reading sync state: %w", err)
	}
	res.Since = since
	// Stamp before pulling so records published mid-run are pulled again.
	syncedAt := c.now().UTC()

	raws, err := c.feed.PullUpdatesSince(ctx, since)
	if err != nil {
		return res, fmt.Errorf("pulling feed: %w", err)
	}
	res.Pulled = len(raws)

	ing, err := c.catalog.Ingest(ctx, raws)
	if err != nil {
		return res, fmt.Errorf("applying feed: %w", err)
	}
	res.Inserted = ing.Batch.Inserted
	res.Updated = ing.Batch.Updated
	res.Stale = ing.Batch.Stale
	res.Rejected = len(ing.Rejected)
	for _, r := range ing.Batch.Records {
		if r.Stale != nil {
			c.logger.Info("sync conflict kept stored record",
				zap.String("disc_id", r.ID),
				zap.Time("stored", r.Stale.Stored),
				zap.Time("incoming", r.Stale.Incoming))
		}
	}

	if err := c.state.SetSyncTime(ctx, LastSyncKey, syncedAt); err != nil {
		return res, fmt.Errorf("saving sync state: %w", err)
	}
	res.SyncedAt = syncedAt

	c.logger.Info("sync complete",
		zap.Time("since", since),
		zap.Int("pulled", res.Pulled),
		zap.Int("applied", res.Applied()),
		zap.Int("stale", res.Stale),
		zap.Int("rejected", res.Rejected))
	return res, nil
}

// Run syncs now and then every interval until ctx is done. A failed run
// is retried with backoff; if it still fails the error is logged and the
// next interval tries again.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return types.ErrIntervalInvalid
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := c.runWithRetry(ctx, interval); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("sync failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) runWithRetry(ctx context.Context, interval time.Duration) error {
	op := func() error {
		_, err := c.RunOnce(ctx)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("sync attempt failed, retrying",
			zap.Error(err),
			zap.Duration("backoff", wait))
	}
	return backoff.RetryNotify(op, backoff.WithContext(c.backoff(interval), ctx), notify)
}
