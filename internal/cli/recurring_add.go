package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"jobq/queue"
)

func NewRecurringAddCmd(q *queue.Queue) *cobra.Command {
	var (
		priority   int
		maxRetries int
	)

	cmd := &cobra.Command{
		Use:   "add <name> <type> <cadence> [payload-json]",
		Short: "Register a recurring schedule",
		Long: `Register a recurring schedule. Cadence examples:
  "every 15m"
  "hourly :30"
  "daily 02:00"
  "weekly mon 09:00"
  "monthly 1 06:00"`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload []byte
			if len(args) == 4 {
				if !json.Valid([]byte(args[3])) {
					return fmt.Errorf("payload is not valid json")
				}
				payload = []byte(args[3])
			}

			opts := []queue.ScheduleOption{queue.WithSchedulePriority(priority)}
			if maxRetries >= 0 {
				opts = append(opts, queue.WithScheduleMaxRetries(maxRetries))
			}

			id, err := q.RegisterRecurring(cmd.Context(), args[0], args[1], payload, args[2], opts...)
			if err != nil {
				return err
			}

			fmt.Println("Schedule registered:", id)
			return nil
		},
	}

	cmd.Flags().IntVar(&priority, "priority", 0, "priority for each occurrence")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "retry ceiling for each occurrence")
	return cmd
}
