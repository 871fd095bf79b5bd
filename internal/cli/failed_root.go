package cli

import "github.com/spf13/cobra"

func NewFailedRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "failed",
		Short: "Inspect and requeue failed jobs",
	}
}
