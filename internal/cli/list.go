package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"jobq/queue"
)

func NewListCmd(q *queue.Queue) *cobra.Command {
	var (
		state string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			st := queue.JobState(state)
			if state != "" && !st.Valid() {
				return fmt.Errorf("unknown state %q", state)
			}

			jobs, err := q.ListJobs(cmd.Context(), st, limit)
			if err != nil {
				return err
			}

			if len(jobs) == 0 {
				fmt.Println("No jobs found.")
				return nil
			}

			for _, j := range jobs {
				fmt.Printf("%d | %-9s | attempt=%d/%d | prio=%d | run %s | %s\n",
					j.ID, j.State, j.Attempt, j.MaxRetries, j.Priority,
					humanize.Time(j.RunAt), j.Type)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "filter by job state (pending,running,succeeded,failed,cancelled)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max jobs to show (0 = all)")
	return cmd
}
