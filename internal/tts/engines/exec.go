package engines

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// killDelay is how long a subprocess gets to exit after an interrupt
// before it is killed.
const killDelay = 100 * time.Millisecond

// run executes name with stdin fully prepared up front and returns stdout.
// Cancelling ctx interrupts the process, then kills it after killDelay.
func run(ctx context.Context, name string, args []string, stdin io.Reader) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = killDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", name, ctx.Err())
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s failed: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// checkSize rejects implausibly large subprocess output.
func checkSize(name string, out []byte, limit int) error {
	if len(out) > limit {
		return fmt.Errorf("%s output too large: %d bytes (max %d)", name, len(out), limit)
	}
	return nil
}
