// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/statline/statline/internal/config"
	"github.com/statline/statline/internal/counters"
	"github.com/statline/statline/internal/gpu"
	"github.com/statline/statline/internal/gpuusage"
	"github.com/statline/statline/internal/httpserver"
	"github.com/statline/statline/internal/monitor"
	"github.com/statline/statline/internal/sysmon"
)

const shutdownTimeout = 10 * time.Second

// Run bootstraps the application lifecycle.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	cards, err := gpu.Discover(cfg.SysfsRoot, baseLogger.With("component", "gpu_discovery"))
	if err != nil {
		return fmt.Errorf("discover gpus: %w", err)
	}
	appLogger.Info("discovered GPUs", "count", len(cards))

	openCounters := func() *counters.Set {
		return counters.Open(cfg.SysfsRoot, cards, baseLogger.With("component", "counters"))
	}

	provider := gpuusage.Detect(ctx, gpuusage.Options{
		NvidiaSMIPath: cfg.GPU.NvidiaSMIPath,
		RocmSMIPath:   cfg.GPU.RocmSMIPath,
	}, gpuusage.NewExecRunner(), openCounters, baseLogger.With("component", "gpuusage"))
	appLogger.Info("gpu acquisition selected", "strategy", provider.Strategy())

	hostSampler := sysmon.New(ctx, cfg.DiskDevice, baseLogger.With("component", "sysmon"))

	monitorManager, err := monitor.NewManager(cfg.SampleInterval, hostSampler, provider, baseLogger.With("component", "monitor"))
	if err != nil {
		return fmt.Errorf("init monitor: %w", err)
	}
	defer func() {
		if err := monitorManager.Close(); err != nil {
			appLogger.Warn("monitor close", "err", err)
		}
	}()

	monitorCtx, monitorCancel := context.WithCancel(ctx)
	defer monitorCancel()

	monitorErrCh := make(chan error, 1)
	go func() {
		monitorErrCh <- monitorManager.Run(monitorCtx)
	}()

	srv := httpserver.New(cfg, baseLogger.With("component", "http"), cards, monitorManager, provider)

	appLogger.Info("starting HTTP server", "listen_addr", cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	for {
		select {
		case err := <-errCh:
			monitorCancel()
			if err != nil {
				return err
			}
			if monitorErrCh != nil {
				if monitorErr := <-monitorErrCh; monitorErr != nil && !errors.Is(monitorErr, context.Canceled) {
					return monitorErr
				}
			}
			return nil
		case err := <-monitorErrCh:
			monitorErrCh = nil
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		case <-ctx.Done():
			appLogger.Info("shutdown initiated", "reason", ctx.Err())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("http shutdown: %w", err)
			}

			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}

			monitorCancel()
			if monitorErrCh != nil {
				if monitorErr := <-monitorErrCh; monitorErr != nil && !errors.Is(monitorErr, context.Canceled) {
					return monitorErr
				}
			}

			appLogger.Info("shutdown complete")
			return nil
		}
	}
}
