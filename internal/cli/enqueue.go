package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"jobq/queue"
)

func NewEnqueueCmd(q *queue.Queue) *cobra.Command {
	var (
		priority   int
		runAt      string
		delay      time.Duration
		maxRetries int
	)

	cmd := &cobra.Command{
		Use:   "enqueue <type> [payload-json]",
		Short: "Add a job to the queue",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("payload is not valid json")
				}
				payload = []byte(args[1])
			}

			opts := []queue.EnqueueOption{queue.WithPriority(priority)}
			if runAt != "" {
				t, err := time.Parse(time.RFC3339, runAt)
				if err != nil {
					return fmt.Errorf("invalid --run-at: %w", err)
				}
				opts = append(opts, queue.WithRunAt(t))
			} else if delay > 0 {
				opts = append(opts, queue.WithDelay(delay))
			}
			if maxRetries >= 0 {
				opts = append(opts, queue.WithMaxRetries(maxRetries))
			}

			id, err := q.Enqueue(cmd.Context(), args[0], payload, opts...)
			if err != nil {
				return err
			}

			fmt.Println("Job enqueued:", id)
			return nil
		},
	}

	cmd.Flags().IntVar(&priority, "priority", 0, "higher runs first")
	cmd.Flags().StringVar(&runAt, "run-at", "", "earliest start time (RFC3339)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "delay before the job becomes eligible")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "retries after the first failed attempt")
	return cmd
}
