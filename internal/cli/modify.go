package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"jobq/queue"
)

func NewModifyCmd(q *queue.Queue) *cobra.Command {
	var (
		payload    string
		priority   int
		runAt      string
		maxRetries int
	)

	cmd := &cobra.Command{
		Use:   "modify <id>",
		Short: "Change a pending job's payload, priority, schedule or retries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			var mod queue.Modification
			if cmd.Flags().Changed("payload") {
				if !json.Valid([]byte(payload)) {
					return fmt.Errorf("payload is not valid json")
				}
				mod.Payload = []byte(payload)
			}
			if cmd.Flags().Changed("priority") {
				mod.Priority = &priority
			}
			if cmd.Flags().Changed("run-at") {
				t, err := time.Parse(time.RFC3339, runAt)
				if err != nil {
					return fmt.Errorf("invalid --run-at: %w", err)
				}
				mod.RunAt = &t
			}
			if cmd.Flags().Changed("max-retries") {
				mod.MaxRetries = &maxRetries
			}

			if err := q.Modify(cmd.Context(), id, mod); err != nil {
				return err
			}

			fmt.Println("Job updated:", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "", "replacement payload json")
	cmd.Flags().IntVar(&priority, "priority", 0, "new priority")
	cmd.Flags().StringVar(&runAt, "run-at", "", "new earliest start time (RFC3339)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "new retry ceiling")
	return cmd
}
