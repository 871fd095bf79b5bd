package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"jobq/queue"
)

func NewStatusCmd(q *queue.Queue) *cobra.Command {
	return &cobra.Command{
		Use:   "status [id]",
		Short: "Show queue summary, or one job's status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				stats, err := q.Stats(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Println("Queue Status:")
				for _, state := range []queue.JobState{
					queue.StatePending, queue.StateRunning, queue.StateSucceeded,
					queue.StateFailed, queue.StateCancelled,
				} {
					fmt.Printf("  %-10s %d\n", state, stats[state])
				}
				return nil
			}

			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}
			st, err := q.GetStatus(cmd.Context(), id)
			if err != nil {
				return err
			}

			fmt.Printf("Job %d (%s)\n", st.ID, st.Type)
			fmt.Printf("  state       %s\n", st.State)
			fmt.Printf("  attempt     %d/%d\n", st.Attempt, st.MaxRetries)
			fmt.Printf("  run at      %s\n", st.RunAt.Format(time.RFC3339))
			if st.LastError != "" {
				fmt.Printf("  last error  %s\n", st.LastError)
			}
			if len(st.Checkpoint) > 0 {
				fmt.Printf("  checkpoint  %s\n", st.Checkpoint)
			}
			return nil
		},
	}
}
