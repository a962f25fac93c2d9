package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/flightbag/internal/feed"
	"github.com/mesh-intelligence/flightbag/internal/metrics"
	"github.com/mesh-intelligence/flightbag/internal/syncer"
	"github.com/mesh-intelligence/flightbag/pkg/types"
)

type syncFlags struct {
	feedURL     string
	feedFile    string
	watch       bool
	interval    time.Duration
	metricsAddr string
}

func newSyncCmd(a *app) *cobra.Command {
	var f syncFlags
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull catalog updates from the configured feed",
		Long: "Pull records published since the last successful sync and apply them.\n" +
			"With --watch, keep syncing every interval, reload config.yaml on change,\n" +
			"and optionally serve Prometheus metrics.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSync(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.feedURL, "feed-url", "", "feed URL (overrides sync.feed_url)")
	cmd.Flags().StringVar(&f.feedFile, "feed-file", "", "feed file (overrides sync.feed_file)")
	cmd.Flags().BoolVar(&f.watch, "watch", false, "keep running and sync every interval")
	cmd.Flags().DurationVar(&f.interval, "interval", 0, "sync interval with --watch (overrides sync.interval)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics on this address with --watch")
	return cmd
}

func (a *app) runSync(cmd *cobra.Command, f syncFlags) error {
	sc := a.cfg.Sync
	if f.feedURL != "" || f.feedFile != "" {
		sc.FeedURL, sc.FeedFile = f.feedURL, f.feedFile
	}
	if f.interval > 0 {
		sc.Interval = f.interval
	}
	source, err := feed.FromConfig(sc)
	if err != nil {
		return err
	}
	if ff, ok := source.(*feed.FileFeed); ok {
		ff.Logger = a.logger
	}

	var reg *prometheus.Registry
	if f.watch && f.metricsAddr != "" {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := metrics.New(reg)

	ctx := cmd.Context()
	svc, err := a.openService(ctx, m)
	if err != nil {
		return err
	}
	defer svc.Close()

	coord := syncer.New(syncer.Options{
		Feed:    source,
		Catalog: svc,
		State:   svc.Store(),
		Logger:  a.logger.Named("sync"),
		Metrics: m,
	})

	if !f.watch {
		res, err := coord.RunOnce(ctx)
		if err != nil {
			return err
		}
		if a.flags.jsonMode {
			return printJSON(cmd.OutOrStdout(), res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pulled %d, applied %d, stale %d, rejected %d\n",
			res.Pulled, res.Applied(), res.Stale, res.Rejected)
		return nil
	}

	if sc.Interval <= 0 {
		return fmt.Errorf("sync --watch: %w", types.ErrIntervalInvalid)
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if reg != nil {
		srv := serveMetrics(f.metricsAddr, reg, a.logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	dataDir := a.cfg.DataDir
	watchConfig(a.v, a.logger, func(cfg types.Config) error {
		cfg.DataDir = dataDir
		return svc.SetConfig(ctx, cfg)
	})

	a.logger.Info("sync watching",
		zap.Duration("interval", sc.Interval),
		zap.String("data_dir", dataDir))
	err = coord.Run(ctx, sc.Interval)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return srv
}
