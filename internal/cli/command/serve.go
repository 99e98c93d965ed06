package command

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/fugue-ai/rhema-sub010/internal/config"
	"github.com/fugue-ai/rhema-sub010/internal/core/domain"
	"github.com/fugue-ai/rhema-sub010/internal/infra/buildinfo"
	"github.com/fugue-ai/rhema-sub010/internal/infra/confloader"
	"github.com/fugue-ai/rhema-sub010/internal/infra/shutdown"
	"github.com/fugue-ai/rhema-sub010/internal/storage/optimize"
	"github.com/fugue-ai/rhema-sub010/internal/telemetry/logger"
	"github.com/fugue-ai/rhema-sub010/internal/telemetry/metric"
)

const shutdownTimeout = 30 * time.Second

// ServeCommand keeps the store open and runs background maintenance.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run background cleanup, backups and optimization until interrupted",
		Description: "Cleanup and backups follow the storage section. The optimization " +
			"pipeline runs every optimization.interval and metrics are written to " +
			"metrics.textfile_path every metrics.interval. Changing log.level in the " +
			"configuration file takes effect without a restart.",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "optimize-interval", Usage: "Override optimization.interval"},
			&cli.StringFlag{Name: "metrics-textfile", Usage: "Override metrics.textfile_path"},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	e, err := setup(c, true)
	if err != nil {
		return err
	}
	if c.IsSet("optimize-interval") {
		e.cfg.Optimization.Interval = c.Duration("optimize-interval")
	}
	if c.IsSet("metrics-textfile") {
		e.cfg.Metrics.TextfilePath = c.String("metrics-textfile")
	}
	slog.SetDefault(e.logger)
	log := e.logger

	m, err := e.open(c)
	if err != nil {
		return err
	}

	info := buildinfo.Get()
	log.Info("rhema-store serving",
		"version", info.Version,
		"commit", info.Commit,
		"base_path", m.BasePath(),
		"backend", e.cfg.Storage.Backend,
		"config", config.Sanitize(e.cfg))

	h := shutdown.NewHandler(shutdownTimeout, log)
	h.OnShutdown("storage", func(context.Context) error { return m.Close() })

	ctx, cancel := context.WithCancel(logger.WithLogger(c.Context, log))
	var wg sync.WaitGroup
	h.OnShutdown("maintenance", func(sctx context.Context) error {
		cancel()
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-sctx.Done():
			return sctx.Err()
		}
	})

	if interval := e.cfg.Optimization.Interval; interval > 0 {
		opt := optimize.New(m, log, e.metrics)
		oc := e.cfg.ToOptimization(e.cipher, log, e.metrics)
		if oc.EnableEncryption && oc.Cipher == nil {
			cancel()
			m.Close()
			return domain.ErrConfiguration.WithDetails("encryption enabled without key material")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			every(ctx, interval, func(ctx context.Context) {
				runMaintenance(ctx, opt, oc)
			})
		}()
	}

	if path := e.cfg.Metrics.TextfilePath; path != "" {
		interval := e.cfg.Metrics.Interval
		if interval <= 0 {
			interval = config.DefaultMetricsInterval
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			every(ctx, interval, func(context.Context) {
				writeMetrics(log, e.metrics, path)
			})
			writeMetrics(log, e.metrics, path)
		}()
	}

	if path := c.String("config"); path != "" {
		w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
		if err != nil {
			log.Warn("config watcher unavailable", "error", err)
		} else if err := w.Watch(path); err != nil {
			log.Warn("config watcher unavailable", "file", path, "error", err)
			w.Stop()
		} else {
			w.OnChange(func(string) { reloadLogLevel(log, path, overrides(c)) })
			w.StartAsync()
			h.OnShutdown("config-watcher", func(context.Context) error { return w.Stop() })
		}
	}

	err = h.Wait(c.Context)
	log.Info("rhema-store stopped")
	return err
}

// every calls fn each interval until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func runMaintenance(ctx context.Context, opt *optimize.Optimizer, oc optimize.Config) {
	if id, err := domain.NewID(); err == nil {
		ctx = logger.WithOperationID(ctx, id)
	}
	log := logger.L(ctx)

	res, err := opt.OptimizeStorage(ctx, oc)
	if err != nil {
		if ctx.Err() == nil {
			log.Error("scheduled optimization failed", "error", err)
		}
		return
	}
	attrs := []any{"duration", res.Duration}
	if res.Dedup != nil {
		attrs = append(attrs, "dedup_saved_bytes", res.Dedup.BytesSaved)
	}
	if res.Validation != nil && !res.Validation.Healthy() {
		log.Warn("storage damage remains after repair",
			"repair_failed", res.Validation.RepairFailed,
			"broken_references", res.Validation.BrokenReferences)
	}
	log.Info("scheduled optimization done", attrs...)
}

func writeMetrics(log *slog.Logger, m *metric.Metrics, path string) {
	if err := m.WriteTextfile(path); err != nil {
		log.Warn("metrics textfile write failed", "path", path, "error", err)
	}
}

func reloadLogLevel(log *slog.Logger, path string, o map[string]any) {
	cfg, err := config.Load(path, o)
	if err != nil {
		log.Warn("config reload failed; keeping current settings", "error", err)
		return
	}
	if cfg.Log.Level == logger.GetLevel() {
		return
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		log.Warn("invalid log level in reloaded config", "level", cfg.Log.Level, "error", err)
		return
	}
	log.Info("log level changed", "level", cfg.Log.Level)
}
