package campaign

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const logName = "run.log"

// Executor runs the solver command in a run directory through the shell.
// Output goes to run.log in that directory.
type Executor struct {
	Command string
	Timeout time.Duration
}

func (x *Executor) Execute(ctx context.Context, runDir string) error {
	if x.Command == "" {
		return fmt.Errorf("no command configured")
	}
	if x.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.Timeout)
		defer cancel()
	}

	logFile, err := os.Create(filepath.Join(runDir, logName))
	if err != nil {
		return err
	}
	defer logFile.Close()

	cmd := exec.CommandContext(ctx, "sh", "-c", x.Command)
	cmd.Dir = runDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("command timed out after %s: %w", x.Timeout, ctx.Err())
		}
		return fmt.Errorf("command failed: %w (see %s)", err, filepath.Join(runDir, logName))
	}
	return nil
}
