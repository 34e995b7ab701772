package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/withObsrvr/pda-report-collector/internal/collector"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pda-collector %s (%s)\n", collector.Version, collector.GitSHA)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
