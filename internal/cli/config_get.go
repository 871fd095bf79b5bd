package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"jobq/store/sqlite"
)

func NewConfigGetCmd(st *sqlite.Store) *cobra.Command {
	return &cobra.Command{
		Use:   "get [key]",
		Args:  cobra.MaximumNArgs(1),
		Short: "Get one config value, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				val, err := st.GetConfig(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if val == "" {
					fmt.Println("(not set)")
				} else {
					fmt.Println(val)
				}
				return nil
			}

			all, err := st.AllConfig(cmd.Context())
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Println("(no config set)")
				return nil
			}
			for k, v := range all {
				fmt.Printf("%s = %s\n", k, v)
			}
			return nil
		},
	}
}
