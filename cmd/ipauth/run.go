package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bcnelson/ipauth-sync/internal/api"
	"github.com/coreos/go-systemd/daemon"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon (default)",
	Long: `Bootstrap the authorization list from the current public address, then
reconcile every CHECK_CYCLE_TIME minutes until interrupted. The status API is
served alongside unless SERVER_ENABLED=false.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger, func() {
		if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			logger.Warnf("systemd notify failed: %v", err)
		}
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return a.reconciler.Run(groupCtx)
	})

	if cfg.Server.Enabled {
		server := &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      api.NewRouter(a.store, a.reconciler, cfg.Server.APIKey, cfg.Server.RateLimit),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		logger.Infof("Starting status API on http://%s", cfg.Server.Addr())

		group.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server failed: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Sync.ShutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logger.Infof("Press Ctrl+C to stop")

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		logger.Infof("Shutting down...")
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		select {
		case runErr = <-done:
		case <-time.After(cfg.Sync.ShutdownTimeout):
			logger.Warnf("Shutdown did not finish within %v, exiting anyway", cfg.Sync.ShutdownTimeout)
		}
	}

	return multierr.Combine(runErr, closeStore(a.store))
}
