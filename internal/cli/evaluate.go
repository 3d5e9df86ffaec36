package cli

import (
	"github.com/spf13/cobra"

	"budgetwatch/internal/app"
)

var (
	evaluateSnapshot string
	evaluateJSON     bool
	evaluateNotify   bool
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Dry-run the rule battery against a snapshot JSON file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Evaluate(cmd.Context(), app.EvaluateOptions{
			SnapshotPath: evaluateSnapshot,
			JSON:         evaluateJSON,
			Notify:       evaluateNotify,
		})
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evaluateSnapshot, "snapshot", "", "Path to a snapshot JSON file")
	evaluateCmd.Flags().BoolVar(&evaluateJSON, "json", false, "Print the derived feed as JSON")
	evaluateCmd.Flags().BoolVar(&evaluateNotify, "notify", false, "Push alert-worthy results through the configured channels")
	_ = evaluateCmd.MarkFlagRequired("snapshot")
}
