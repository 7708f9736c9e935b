package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"outbound-dialer/internal/app"
	"outbound-dialer/internal/config"
	"outbound-dialer/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "worker")
	slog.SetDefault(log)

	a, err := app.Build(rootCtx, cfg, log)
	if err != nil {
		log.Error("dependency init failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	w := a.Worker
	g, gctx := errgroup.WithContext(rootCtx)
	ctx := logger.With(gctx, log)

	// Overlapping firings are intended: each tick claims a different job, and
	// the worker's own semaphore bounds how many run at once.
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := c.AddFunc(cfg.Worker.Schedule, func() {
		outcome, err := w.Tick(ctx)
		if err != nil {
			log.Error("worker tick failed", "outcome", outcome, "err", err)
			return
		}
		log.Debug("worker tick", "outcome", outcome)
	}); err != nil {
		log.Error("invalid worker schedule", "schedule", cfg.Worker.Schedule, "err", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:              cfg.MetricsAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		log.Info("worker metrics listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("worker started", "worker_id", w.ID(), "schedule", cfg.Worker.Schedule)
		c.Start()
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)

		// In-flight ticks see ctx cancelled and leave their jobs to be reclaimed.
		<-c.Stop().Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("worker exited with error", "err", err)
		os.Exit(1)
	}
}
