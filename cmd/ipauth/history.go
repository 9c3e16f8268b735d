package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/bcnelson/ipauth-sync/internal/config"
	"github.com/bcnelson/ipauth-sync/internal/domain"
	"github.com/bcnelson/ipauth-sync/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history [cycle-id]",
	Short: "Show recorded reconciliation cycles",
	Long: `Without arguments, list the most recent cycles from the history store.
With a cycle id, show that cycle and every authorization call it made.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Only the database settings matter here.
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if cfg.Database.Driver == "memory" {
			return fmt.Errorf("DB_DRIVER=memory keeps no history between runs")
		}

		store, err := openStore(cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(args) == 1 {
			err = printCycle(cmd, out, store, args[0])
		} else {
			err = printCycles(cmd, out, store, historyLimit)
		}
		return multierr.Combine(err, closeStore(store))
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of cycles to list.")
}

func printCycles(cmd *cobra.Command, out io.Writer, store storage.Storage, limit int) error {
	cycles, err := store.ListCycles(cmd.Context(), limit, 0)
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		fmt.Fprintln(out, "No cycles recorded.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tKIND\tSTATUS\tCREATED\tREVOKED\tADOPTED\tFAILED\tRESOLVED\tID")
	for _, c := range cycles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			c.StartedAt.Local().Format(time.DateTime), c.Kind, c.Status,
			c.Created, c.Revoked, c.Adopted, c.Failures, strings.Join(c.Resolved, ","), c.ID)
	}
	return w.Flush()
}

func printCycle(cmd *cobra.Command, out io.Writer, store storage.Storage, id string) error {
	cycle, err := store.GetCycle(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("cycle %s: %w", id, err)
	}
	events, err := store.ListEvents(cmd.Context(), id)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Cycle %s (%s) %s\n", cycle.ID, cycle.Kind, cycle.Status)
	fmt.Fprintf(out, "Started:  %s\n", cycle.StartedAt.Local().Format(time.DateTime))
	if cycle.FinishedAt != nil {
		fmt.Fprintf(out, "Duration: %v\n", cycle.FinishedAt.Sub(cycle.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(out, "Resolved: %s\n", strings.Join(cycle.Resolved, ", "))
	fmt.Fprintf(out, "Added:    %s\n", strings.Join(cycle.Added, ", "))
	fmt.Fprintf(out, "Removed:  %s\n", strings.Join(cycle.Removed, ", "))
	if cycle.Error != "" {
		fmt.Fprintf(out, "Error:    %s\n", cycle.Error)
	}
	if len(events) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACTION\tADDRESS\tAUTHORIZATION\tRESULT")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.Action, ev.Address, ev.AuthorizationID, eventResult(ev))
	}
	return w.Flush()
}

func eventResult(ev *domain.AuthorizationEvent) string {
	if ev.Success {
		return "ok"
	}
	return "failed: " + ev.Error
}
