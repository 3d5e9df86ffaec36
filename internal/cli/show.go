package cli

import (
	"github.com/spf13/cobra"

	"budgetwatch/internal/app"
)

var (
	showUser   string
	showUnread bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display a user's stored notification feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ShowOptions{
			UserID:     showUser,
			UnreadOnly: showUnread,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showUser, "user", "", "User whose feed to display")
	showCmd.Flags().BoolVar(&showUnread, "unread", false, "Only list unread notifications")
	_ = showCmd.MarkFlagRequired("user")
}
