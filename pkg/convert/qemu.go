// Package convert turns uploaded disk images into RAW files that can back
// iSCSI targets, using qemu-img.
package convert

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ggnet/ggboot/internal/logger"
)

// ConversionError wraps a failed qemu-img run with the stderr tail attached.
type ConversionError struct {
	Input  string
	Stderr string
	Err    error
}

func (e *ConversionError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("converting %s: %v: %s", e.Input, e.Err, e.Stderr)
	}
	return fmt.Sprintf("converting %s: %v", e.Input, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// ImageInfo is the subset of `qemu-img info` the control plane records.
type ImageInfo struct {
	Format      string `json:"format"`
	VirtualSize int64  `json:"virtual-size"`
	ActualSize  int64  `json:"actual-size"`
}

// ProgressFunc receives conversion progress as a percentage in [0, 100].
type ProgressFunc func(percent float64)

// Tool runs qemu-img. The zero value uses the qemu-img on PATH.
type Tool struct {
	// Binary overrides the qemu-img executable.
	Binary string
}

func (t *Tool) binary() string {
	if t.Binary != "" {
		return t.Binary
	}
	return "qemu-img"
}

// Info probes an image file.
func (t *Tool) Info(ctx context.Context, path string) (*ImageInfo, error) {
	cmd := exec.CommandContext(ctx, t.binary(), "info", "--output=json", path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, &ConversionError{Input: path, Stderr: tail(stderr.String()), Err: err}
	}

	var info ImageInfo
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("parsing qemu-img info for %s: %w", path, err)
	}
	return &info, nil
}

// progressPattern matches qemu-img -p output: "    (12.34/100%)".
var progressPattern = regexp.MustCompile(`\(([0-9]+(?:\.[0-9]+)?)/100%\)`)

// Convert converts src into a new file at dst in the given output format,
// reporting progress parsed from the tool's stderr. A partially written dst
// is unlinked on failure.
func (t *Tool) Convert(ctx context.Context, src, dst, outFormat string, progress ProgressFunc) error {
	cmd := exec.CommandContext(ctx, t.binary(),
		"convert", "-p", "-O", outFormat, src, dst)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("attaching stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return &ConversionError{Input: src, Err: err}
	}

	// qemu-img rewrites the progress line with carriage returns.
	var stderrTail []string
	scanner := bufio.NewScanner(stderrPipe)
	scanner.Split(scanCRLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if m := progressPattern.FindStringSubmatch(line); m != nil {
			if pct, err := strconv.ParseFloat(m[1], 64); err == nil && progress != nil {
				progress(pct)
			}
			continue
		}
		stderrTail = append(stderrTail, line)
		if len(stderrTail) > 20 {
			stderrTail = stderrTail[1:]
		}
	}

	if err := cmd.Wait(); err != nil {
		if removeErr := os.Remove(dst); removeErr != nil && !os.IsNotExist(removeErr) {
			logger.Warn("failed to unlink partial conversion output",
				logger.Path(dst), logger.Err(removeErr))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &ConversionError{
			Input:  src,
			Stderr: strings.Join(stderrTail, "\n"),
			Err:    err,
		}
	}

	logger.Info("image converted",
		logger.Path(dst),
		logger.Tool("qemu-img"),
		logger.DurationMs(logger.Duration(start)))
	return nil
}

// scanCRLines splits on both \n and \r so progress rewrites become tokens.
func scanCRLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func tail(stderr string) string {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
