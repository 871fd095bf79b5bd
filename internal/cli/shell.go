package cli

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"jobq/queue"
)

type shellPayload struct {
	Command string `json:"command"`
}

// RegisterShellHandler installs the built-in "shell" job type, whose payload
// is {"command": "..."} run through bash.
func RegisterShellHandler(w *queue.Worker) error {
	return w.Register("shell", queue.JSONHandler(func(ctx context.Context, job *queue.ActiveJob, p shellPayload) error {
		if p.Command == "" {
			return fmt.Errorf("empty command")
		}
		if job.CancelRequested() {
			return fmt.Errorf("cancelled before start")
		}

		out, err := exec.CommandContext(ctx, "bash", "-lc", p.Command).CombinedOutput()
		if err != nil {
			return fmt.Errorf("command failed: %w: %s", err, bytes.TrimSpace(out))
		}
		return nil
	}))
}
