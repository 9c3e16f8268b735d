package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cyclopcam/logs"
	"github.com/spf13/cobra"
)

// logger is created before any command runs and closed on exit.
var logger logs.Log

var rootCmd = &cobra.Command{
	Use:   "ipauth",
	Short: "Keep a Webshare IP authorization list in sync with this machine's public address",
	Long: `ipauth polls the machine's public address and keeps the Webshare proxy
IP authorization allow-list in sync with it. Configuration is read from the
environment and an optional .env file.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logs.NewLog()
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		logger = l
		return nil
	},
	// Running without a subcommand starts the daemon.
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd, onceCmd, historyCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		if logger != nil {
			logger.Errorf("%v", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	if logger != nil {
		logger.Close()
	}
	if err != nil {
		os.Exit(1)
	}
}
