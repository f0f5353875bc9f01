package cli

import (
	"github.com/spf13/cobra"

	"reef-ingest/internal/app"
)

var runInput string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest a unit dump into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Run(cmd.Context(), app.RunOptions{Input: runInput})
	},
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "Path to a JSONL unit dump (defaults to config)")
}
