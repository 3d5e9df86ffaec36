package cli

import (
	"github.com/spf13/cobra"

	"budgetwatch/internal/app"
)

var (
	refreshUser  string
	refreshForce bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Derive notifications once for one user or all users",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Refresh(cmd.Context(), app.RefreshOptions{
			UserID: refreshUser,
			Force:  refreshForce,
		})
	},
}

func init() {
	refreshCmd.Flags().StringVar(&refreshUser, "user", "", "Refresh only this user (default: every user)")
	refreshCmd.Flags().BoolVar(&refreshForce, "force", false, "Ignore refresh.min_interval throttling")
}
