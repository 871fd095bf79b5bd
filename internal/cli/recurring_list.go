package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"jobq/queue"
)

func NewRecurringListCmd(q *queue.Queue) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recurring schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			scheds, err := q.Schedules(cmd.Context())
			if err != nil {
				return err
			}

			if len(scheds) == 0 {
				fmt.Println("No recurring schedules.")
				return nil
			}

			for _, s := range scheds {
				fmt.Printf("%s | %s | %s | next %s | %s\n",
					s.Name, s.JobType, s.Cadence, humanize.Time(s.NextRunAt), s.ID)
			}
			return nil
		},
	}
}
