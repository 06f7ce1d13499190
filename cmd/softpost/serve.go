package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/yangwenmai/softpost/internal/api"
	"github.com/yangwenmai/softpost/internal/brand"
	"github.com/yangwenmai/softpost/internal/config"
	"github.com/yangwenmai/softpost/internal/engine"
	"github.com/yangwenmai/softpost/internal/metrics"
	"github.com/yangwenmai/softpost/internal/notify"
	"github.com/yangwenmai/softpost/internal/publish"
	"github.com/yangwenmai/softpost/internal/scheduler"
	"github.com/yangwenmai/softpost/internal/store"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(flags *rootFlags) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the publishing scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	db, err := store.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	st, err := store.New(db)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	// Posts left in posting by a previous process go back to the queue.
	if n, err := st.ResetStalePosting(ctx); err != nil {
		logger.Warn("reset stale posting", "error", err)
	} else if n > 0 {
		logger.Info("reset stale posting posts", "count", n)
	}

	rules, err := brand.Load(cfg.BrandRulesPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	gen, err := newGenerator(ctx, cfg, rules, logger, m)
	if err != nil {
		return err
	}

	pubOpts := []publish.Option{publish.WithTimeout(cfg.HTTPTimeout), publish.WithLogger(logger)}
	registry := publish.NewRegistry(
		publish.NewLinkedInPublisher(cfg.LinkedInAPIURL, pubOpts...),
		publish.NewSubstackPublisher(cfg.SubstackAPIURL, pubOpts...),
	)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.NotificationsEnabled() {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Warn("telegram notifications disabled", "error", err)
		} else {
			notifier = tg
		}
	}

	sched := scheduler.New(st, registry, scheduler.Config{
		Interval:           cfg.SchedulerInterval,
		MaxConcurrentPosts: cfg.SchedulerMaxConcurrent,
		RetryDelay:         cfg.SchedulerRetryDelay,
	}, scheduler.WithLogger(logger), scheduler.WithNotifier(notifier), scheduler.WithRecorder(m))
	if cfg.SchedulerEnabled {
		sched.Start(ctx)
		defer sched.Stop()
	} else {
		logger.Info("scheduler disabled")
	}

	srv := api.New(api.Deps{
		Store:      st,
		Generator:  gen,
		Scheduler:  sched,
		Service:    scheduler.NewService(st, scheduler.WithServiceLogger(logger)),
		Gatherer:   reg,
		Logger:     logger,
		CORSOrigin: cfg.CORSOrigin,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("softpost server listening", "addr", "http://localhost:"+cfg.Port)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newGenerator wires the model client and extractor for cfg. A nil rec
// disables generation metrics.
func newGenerator(ctx context.Context, cfg config.Config, rules *brand.Rules, logger *slog.Logger, rec engine.Recorder) (*engine.Generator, error) {
	mc, err := engine.NewModelClient(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("model client: %w", err)
	}
	var extractor engine.ContentExtractor = engine.NewHTTPExtractor(cfg.HTTPTimeout)
	if cfg.UseStubs() {
		extractor = &engine.StubExtractor{}
	}
	opts := []engine.GeneratorOption{
		engine.WithGeneratorConfig(engine.GeneratorConfig{
			MaxRewriteAttempts:  cfg.MaxRewriteAttempts,
			CreativeTemperature: cfg.CreativeTemperature,
			RefineTemperature:   cfg.RefineTemperature,
			MaxTokens:           cfg.MaxTokens,
			BatchConcurrency:    cfg.GenerationConcurrency,
		}),
		engine.WithLogger(logger),
		engine.WithExtractor(extractor),
	}
	if rec != nil {
		opts = append(opts, engine.WithRecorder(rec))
	}
	return engine.NewGenerator(mc, rules, opts...), nil
}
