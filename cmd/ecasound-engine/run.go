package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/antorsae/ecasound/internal/audiomgr"
	"github.com/antorsae/ecasound/internal/config"
)

// runEngine loads cfg from configPath, builds the object graph, and runs
// the engine to completion or until ctx is cancelled by a signal.
func runEngine(ctx context.Context, configPath string, batchMode bool, logger *slog.Logger) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	var registry *prometheus.Registry
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		go func() {
			<-sigCtx.Done()
			_ = srv.Close()
		}()
	}

	mgr, err := audiomgr.New(cfg, registry, logger)
	if err != nil {
		return fmt.Errorf("building audio manager: %w", err)
	}

	err = mgr.Run(sigCtx, batchMode)
	if err == context.Canceled {
		return nil
	}
	return err
}
