package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"jobq/queue"
)

func NewFailedListCmd(q *queue.Queue) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs that exhausted their retries",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := q.ListFailed(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if len(jobs) == 0 {
				fmt.Println("No failed jobs.")
				return nil
			}

			for _, j := range jobs {
				fmt.Printf("%d | attempt=%d/%d | failed %s | %s | %s\n",
					j.ID, j.Attempt, j.MaxRetries, humanize.Time(j.UpdatedAt),
					j.Type, j.LastError)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "max jobs to show (0 = all)")
	return cmd
}
