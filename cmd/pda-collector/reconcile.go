package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/withObsrvr/pda-report-collector/internal/catalog"
	"github.com/withObsrvr/pda-report-collector/internal/identity"
	"github.com/withObsrvr/pda-report-collector/internal/reconcile"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Find and normalize the filed report for one person",
	Long: `Searches the shared directory for a report belonging to the given person,
renames it to the canonical name when it lacks the email or document token and,
with --mark, records the person's keys in the shared index. The portal is not
touched.`,
	RunE: runReconcile,
}

var reconcileFlags struct {
	name, email, doc, gender string
	mark, dryRun             bool
}

func init() {
	f := reconcileCmd.Flags()
	f.StringVar(&reconcileFlags.name, "name", "", "Person name")
	f.StringVar(&reconcileFlags.email, "email", "", "Person email")
	f.StringVar(&reconcileFlags.doc, "doc", "", "Document number")
	f.StringVar(&reconcileFlags.gender, "gender", "", "Gender")
	f.BoolVar(&reconcileFlags.mark, "mark", false, "Record the person's keys in the index when a report is found")
	f.BoolVar(&reconcileFlags.dryRun, "dry-run", false, "List candidates without renaming")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	rec := identity.NewRecord(reconcileFlags.name, reconcileFlags.email, reconcileFlags.doc, reconcileFlags.gender)
	if rec.Empty() {
		return errors.New("at least one of --name, --email or --doc is required")
	}
	sharedDir := cfg.Paths.SharedDir
	scanner := reconcile.NewScanner(sharedDir, cfg.Worker)

	cands, err := scanner.Find(rec)
	if err != nil {
		return err
	}

	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("%s %s\n", yellow("Person:"), rec.String())
	if len(cands) == 0 {
		fmt.Printf("  %s\n", gray("no filed report found"))
		return nil
	}
	for i, c := range cands {
		marker := " "
		if i == 0 {
			marker = "*"
		}
		fmt.Printf("  %s score=%d %s\n", marker, c.Score, filepath.Base(c.Path))
	}
	if reconcileFlags.dryRun {
		if missing := reconcile.Missing(cands[0].Path, rec); len(missing) > 0 {
			fmt.Printf("  %s missing %v\n", yellow("would rename:"), missing)
		}
		return nil
	}

	path, renamed, err := scanner.Ensure(rec)
	if err != nil {
		return err
	}
	if renamed {
		fmt.Printf("  %s %s\n", green("renamed to"), filepath.Base(path))
	}

	if cfg.Catalog.PostgresDSN != "" {
		showCatalogEntry(cmd, rec)
	}

	if reconcileFlags.mark && path != "" {
		added, err := newIndex(sharedDir).MarkAll(cmd.Context(), identity.CandidateKeys(rec))
		if err != nil {
			return err
		}
		fmt.Printf("  %s %d new key(s)\n", green("indexed"), added)
	}
	return nil
}

func showCatalogEntry(cmd *cobra.Command, rec identity.Record) {
	gray := color.New(color.FgHiBlack).SprintFunc()
	w, err := catalog.NewWriter(catalog.Config{PostgresDSN: cfg.Catalog.PostgresDSN})
	if err != nil {
		fmt.Printf("  %s %v\n", gray("catalog unavailable:"), err)
		return
	}
	defer w.Close()

	e, ok, err := w.Lookup(cmd.Context(), identity.CandidateKeys(rec))
	switch {
	case err != nil:
		fmt.Printf("  %s %v\n", gray("catalog lookup failed:"), err)
	case !ok:
		fmt.Printf("  %s\n", gray("not in catalog"))
	default:
		fmt.Printf("  catalog: %s (%s by %s, %s)\n", e.FileName, e.State, e.Worker,
			e.FiledAt.Local().Format("2006-01-02 15:04"))
	}
}
