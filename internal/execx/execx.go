// Package execx runs external host tools with captured output and timeouts.
//
// Adapters that shell out (targetcli, qemu-img, dhcpd, systemctl) take a
// Runner so tests can substitute a fake and never spawn processes.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Result holds the outcome of one tool invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes a tool and returns its captured output. Implementations
// must honor ctx cancellation.
type Runner func(ctx context.Context, name string, args ...string) (*Result, error)

// Run is the default Runner. Arguments are passed verbatim to the process,
// never through a shell.
func Run(ctx context.Context, name string, args ...string) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, fmt.Errorf("%s exited with code %d: %s",
				name, res.ExitCode, StderrTail(res.Stderr))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, fmt.Errorf("%s: %w", name, ctxErr)
		}
		return res, fmt.Errorf("running %s: %w", name, err)
	}
	return res, nil
}

// StderrTail returns the last non-empty line of a tool's stderr, which is
// usually the actual diagnostic.
func StderrTail(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
