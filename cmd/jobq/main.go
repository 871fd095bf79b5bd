package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"

	"jobq/internal/cli"
	"jobq/queue"
	"jobq/store/sqlite"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := env.ParseAs[queue.Config]()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// values stored with `jobq config set` override the environment
	q, err := queue.Open(ctx, st,
		queue.WithLogger(logger),
		queue.WithLivenessThreshold(st.DurationConfig(ctx, sqlite.ConfigLiveness, cfg.LivenessThreshold)),
		queue.WithDefaultMaxRetries(st.IntConfig(ctx, sqlite.ConfigDefaultMaxRetries, cfg.DefaultMaxRetries)),
		queue.WithRetryPolicy(queue.RetryPolicy{
			BaseDelay: st.DurationConfig(ctx, sqlite.ConfigRetryBaseDelay, cfg.RetryBaseDelay),
			MaxDelay:  st.DurationConfig(ctx, sqlite.ConfigRetryMaxDelay, cfg.RetryMaxDelay),
			Jitter:    queue.DefaultRetryPolicy().Jitter,
		}),
	)
	if err != nil {
		st.Close()
		return fmt.Errorf("open queue: %w", err)
	}
	defer q.Close()

	root := cli.NewRootCmd()
	root.AddCommand(
		cli.NewEnqueueCmd(q),
		cli.NewListCmd(q),
		cli.NewStatusCmd(q),
		cli.NewCancelCmd(q),
		cli.NewModifyCmd(q),
	)

	failed := cli.NewFailedRootCmd()
	failed.AddCommand(cli.NewFailedListCmd(q), cli.NewFailedRequeueCmd(q))
	root.AddCommand(failed)

	recurring := cli.NewRecurringRootCmd()
	recurring.AddCommand(cli.NewRecurringAddCmd(q), cli.NewRecurringListCmd(q))
	root.AddCommand(recurring)

	worker := cli.NewWorkerRootCmd()
	worker.AddCommand(cli.NewWorkerStartCmd(q, st, cfg), cli.NewWorkerStopCmd())
	root.AddCommand(worker)

	config := cli.NewConfigRootCmd()
	config.AddCommand(cli.NewConfigGetCmd(st), cli.NewConfigSetCmd(st))
	root.AddCommand(config)

	return root.ExecuteContext(ctx)
}
