// Package ffmpeg drives the external ffmpeg and ffprobe tools.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dudu/metalroop/internal/runerr"
)

// SafeCommand wraps exec.Cmd with a buffer catching stderr, so a failing
// tool still reports why it failed
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand prepares a command bound to ctx without starting it
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Tail returns the last lines of captured stderr
func (c *SafeCommand) Tail(lines int) string {
	out := strings.TrimSpace(c.Stderr.String())
	if out == "" {
		return ""
	}
	parts := strings.Split(out, "\n")
	if len(parts) > lines {
		parts = parts[len(parts)-lines:]
	}
	return strings.Join(parts, "\n")
}

// Tool runs ffmpeg and ffprobe binaries
type Tool struct {
	FFmpeg  string
	FFprobe string
	Log     logrus.FieldLogger
}

// New creates a tool using the given binaries, defaulting to PATH lookups
func New(ffmpegPath, ffprobePath string, log logrus.FieldLogger) *Tool {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tool{FFmpeg: ffmpegPath, FFprobe: ffprobePath, Log: log}
}

// Check verifies both binaries are reachable
func (t *Tool) Check() error {
	for _, bin := range []string{t.FFmpeg, t.FFprobe} {
		if _, err := exec.LookPath(bin); err != nil {
			return runerr.New(runerr.KindMissingDependency, "find "+bin, err)
		}
	}
	return nil
}

// run executes ffmpeg with args and classifies any failure
func (t *Tool) run(ctx context.Context, op string, args []string) error {
	full := append([]string{"-hide_banner", "-loglevel", "error"}, args...)
	cmd := NewSafeCommand(ctx, t.FFmpeg, full...)

	t.Log.WithField("args", strings.Join(full, " ")).Debug("Running ffmpeg")

	if err := cmd.Run(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return runerr.New(runerr.KindMissingDependency, op, err)
		}
		if tail := cmd.Tail(5); tail != "" {
			err = fmt.Errorf("%w: %s", err, tail)
		}
		return runerr.New(runerr.KindExternalToolFailure, op, err)
	}
	return nil
}
