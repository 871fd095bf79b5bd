package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewWorkerStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Gracefully stop a running worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := createStopFile(); err != nil {
				return fmt.Errorf("failed to request stop: %w", err)
			}
			if pid, err := readPID(); err == nil {
				fmt.Printf("Stop requested for worker PID %d. In-flight jobs will finish first.\n", pid)
			} else {
				fmt.Println("Stop requested. In-flight jobs will finish first.")
			}
			return nil
		},
	}
}
