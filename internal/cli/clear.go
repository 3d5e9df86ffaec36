package cli

import (
	"github.com/spf13/cobra"

	"budgetwatch/internal/app"
)

var (
	clearUser string
	clearID   string
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete one notification or a user's whole feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Clear(cmd.Context(), app.ClearOptions{
			UserID: clearUser,
			ID:     clearID,
		})
	},
}

func init() {
	clearCmd.Flags().StringVar(&clearUser, "user", "", "Owner of the feed")
	clearCmd.Flags().StringVar(&clearID, "id", "", "Delete only this notification")
	_ = clearCmd.MarkFlagRequired("user")
}
