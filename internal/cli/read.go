package cli

import (
	"github.com/spf13/cobra"

	"budgetwatch/internal/app"
)

var (
	readUser string
	readID   string
	readAll  bool
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Mark notifications as read",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().MarkRead(cmd.Context(), app.ReadOptions{
			UserID: readUser,
			ID:     readID,
			All:    readAll,
		})
	},
}

func init() {
	readCmd.Flags().StringVar(&readUser, "user", "", "Owner of the notifications")
	readCmd.Flags().StringVar(&readID, "id", "", "Notification id (<category>_<subkey>)")
	readCmd.Flags().BoolVar(&readAll, "all", false, "Mark the whole feed as read")
	readCmd.MarkFlagsMutuallyExclusive("id", "all")
	_ = readCmd.MarkFlagRequired("user")
}
