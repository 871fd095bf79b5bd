package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"jobq/queue"
)

func NewCancelCmd(q *queue.Queue) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			err = q.Cancel(cmd.Context(), id)
			if errors.Is(err, queue.ErrNotPending) {
				fmt.Println("Job is no longer pending; if running, it was asked to stop.")
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Println("Job cancelled:", id)
			return nil
		},
	}
}
