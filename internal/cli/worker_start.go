package cli

import (
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"jobq/queue"
	"jobq/store/sqlite"
)

func NewWorkerStartCmd(q *queue.Queue, st *sqlite.Store, cfg queue.Config) *cobra.Command {
	var (
		concurrency int
		poll        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the worker process",
		RunE: func(cmd *cobra.Command, args []string) error {
			removeStopFile()
			ctx := cmd.Context()

			// env defaults, overridable by the db-stored config, overridable
			// by flags
			if concurrency <= 0 {
				concurrency = st.IntConfig(ctx, sqlite.ConfigMaxConcurrency, cfg.MaxConcurrency)
			}
			if poll <= 0 {
				poll = st.DurationConfig(ctx, sqlite.ConfigPollInterval, cfg.PollInterval)
			}

			w, err := queue.NewWorker(q,
				queue.WithMaxConcurrency(concurrency),
				queue.WithPollInterval(poll),
			)
			if err != nil {
				return err
			}
			if err := RegisterShellHandler(w); err != nil {
				return err
			}

			if err := w.Start(ctx); err != nil {
				return err
			}
			if err := writePID(os.Getpid()); err != nil {
				fmt.Println("Warning: could not write pid file:", err)
			}
			defer removePID()

			fmt.Printf("Worker started (PID %d, concurrency %d). Use `jobq worker stop` or Ctrl+C to stop.\n",
				os.Getpid(), concurrency)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			defer signal.Stop(sigCh)

			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()

		wait:
			for {
				select {
				case <-sigCh:
					break wait
				case <-ctx.Done():
					break wait
				case <-ticker.C:
					if shouldStop() {
						removeStopFile()
						break wait
					}
					if w.Halted() {
						fmt.Println("Worker halted on a store error.")
						break wait
					}
				}
			}

			fmt.Println("Stopping worker gracefully...")
			return w.Stop()
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "max jobs in flight (0 = configured default)")
	cmd.Flags().DurationVar(&poll, "poll", 0, "claim poll interval (0 = configured default)")
	return cmd
}
