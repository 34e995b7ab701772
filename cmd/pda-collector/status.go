package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/withObsrvr/pda-report-collector/internal/audit"
	"github.com/withObsrvr/pda-report-collector/internal/catalog"
	"github.com/withObsrvr/pda-report-collector/internal/checkpoint"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index, lock and worker status",
	Long:  `Displays the shared index size, the current index lock holder and the last run of every worker.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== PDA Collector Status ==="))

	idx := newIndex(cfg.Paths.SharedDir)
	fmt.Printf("%s\n", yellow("Index:"))
	fmt.Printf("  Path: %s\n", idx.Path())
	fmt.Printf("  Keys: %d\n", len(idx.Snapshot()))

	if h, ok := idx.Locker().Inspect(); ok {
		age := h.Age.Round(time.Second)
		stale := cfg.Lock.StaleAfter > 0 && h.Age > cfg.Lock.StaleAfter
		state := green("held")
		if stale {
			state = red("stale")
		}
		fmt.Printf("  Lock: %s by %s (pid %d, %v ago)\n", state, h.Host, h.PID, age)
	} else {
		fmt.Printf("  Lock: %s\n", gray("free"))
	}
	fmt.Println()

	fmt.Printf("%s\n", yellow("Workers:"))
	cps, err := checkpoint.List(cfg.Paths.StateDir)
	if err != nil {
		return err
	}
	if len(cps) == 0 {
		fmt.Printf("  %s\n", gray("no runs recorded"))
	}
	for _, cp := range cps {
		icon, paint := "●", yellow
		switch {
		case cp.Error != "":
			icon, paint = "✗", red
		case cp.Finished:
			icon, paint = "○", green
		}
		fmt.Printf("  %s %s\n", paint(icon), cp.Worker)
		fmt.Printf("    Run:     %s\n", cp.RunID)
		fmt.Printf("    Page:    %d  Rows: %d\n", cp.Page, cp.Rows)
		if len(cp.States) > 0 {
			fmt.Printf("    States:  %v\n", cp.States)
		}
		fmt.Printf("    Updated: %s (%v ago)\n", cp.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
			time.Since(cp.UpdatedAt).Round(time.Second))
		if cp.Error != "" {
			fmt.Printf("    Error:   %s\n", red(cp.Error))
		}
	}
	fmt.Println()

	if cfg.Audit.Enabled {
		fmt.Printf("%s\n", yellow("Audit chains:"))
		chains, err := audit.LoadChains(filepath.Join(cfg.Paths.StateDir, "audit"))
		if err != nil {
			return err
		}
		workers := make([]string, 0, len(chains))
		for w := range chains {
			workers = append(workers, w)
		}
		sort.Strings(workers)
		if len(workers) == 0 {
			fmt.Printf("  %s\n", gray("no events recorded"))
		}
		for _, w := range workers {
			if err := audit.VerifyChain(chains[w]); err != nil {
				fmt.Printf("  %s %s: %d event(s), %s\n", red("✗"), w, len(chains[w]), red(err.Error()))
				continue
			}
			fmt.Printf("  %s %s: %d event(s), intact\n", green("○"), w, len(chains[w]))
		}
		fmt.Println()
	}

	if cfg.Catalog.PostgresDSN != "" {
		w, err := catalog.NewWriter(catalog.Config{PostgresDSN: cfg.Catalog.PostgresDSN})
		if err != nil {
			fmt.Printf("%s %v\n\n", red("Catalog unavailable:"), err)
			return nil
		}
		defer w.Close()
		n, err := w.Count(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s %d report(s)\n\n", yellow("Catalog:"), n)
	}
	return nil
}
