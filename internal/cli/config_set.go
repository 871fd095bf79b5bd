package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"jobq/store/sqlite"
)

func NewConfigSetCmd(st *sqlite.Store) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Args:  cobra.ExactArgs(2),
		Short: "Set a config value",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if err := st.SetConfig(cmd.Context(), key, value); err != nil {
				return fmt.Errorf("failed to set config: %w", err)
			}
			fmt.Println("Updated:", key, "=", value)
			return nil
		},
	}
}
