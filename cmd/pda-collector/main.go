package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/pda-report-collector/internal/collector"
	"github.com/withObsrvr/pda-report-collector/internal/config"
	"github.com/withObsrvr/pda-report-collector/internal/logging"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "pda-collector",
	Short: "Collect PDA reports without duplicates",
	Long: `Walks the PDA people list through an already logged-in Chrome and files one
report per person in a shared directory. A shared index and a scan of the
directory keep several workers from generating the same report twice.

Settings come from defaults, then the YAML file named by CONFIG_FILE, then
environment variables, then flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		logging.Setup(logging.Config{Format: cfg.Log.Format, Level: cfg.Log.Level})
		return nil
	},
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	// Graceful shutdown: the current row finishes its lock handling and the
	// final checkpoint is written.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func banner() {
	log.Printf("[main] PDA report collector %s (%s)", collector.Version, collector.GitSHA)
}
