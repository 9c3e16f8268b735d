package main

import (
	"fmt"

	"github.com/bcnelson/ipauth-sync/internal/domain"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Bootstrap the authorization list once and exit",
	Long: `Resolve the current public address, reconcile the remote allow-list
against it exactly as the daemon does at startup, and exit. Exits non-zero
when any authorization call failed. Useful from cron or a systemd timer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		a, err := newApp(cfg, logger, nil)
		if err != nil {
			return err
		}

		runErr := a.reconciler.Bootstrap(cmd.Context())
		if runErr == nil {
			report := a.reconciler.LastCycle()
			logger.Infof("Resolved %v: %d created, %d adopted, %d revoked, %d failed",
				report.Resolved, report.Created, report.Adopted, report.Revoked, report.Failures)
			if report.Status != domain.CycleStatusSuccess {
				runErr = fmt.Errorf("reconciliation finished with status %s", report.Status)
			}
		}

		return multierr.Combine(runErr, closeStore(a.store))
	},
}
