package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"jobq/queue"
)

func NewFailedRequeueCmd(q *queue.Queue) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <id>",
		Short: "Clone a failed job back into the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			newID, err := q.RequeueFailed(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Printf("Job %d requeued as %d\n", id, newID)
			return nil
		},
	}
}
