package cli

import (
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "jobq",
		Short:        "Durable local job queue",
		SilenceUsage: true,
	}
	return cmd
}
