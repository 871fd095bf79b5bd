package cli

import "github.com/spf13/cobra"

func NewRecurringRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recurring",
		Short: "Manage recurring schedules",
	}
}
