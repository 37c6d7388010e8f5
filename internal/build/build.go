// Package build compiles a protocol's simulation image.
package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/weisiCeltics/teacp/internal/monitoring"
)

var logf = monitoring.Component("build")

// ErrBuildFailed is matched by every Failure.
var ErrBuildFailed = errors.New("build failed")

// Failure reports a build command that did not exit cleanly.
type Failure struct {
	Protocol string
	// ExitCode is -1 when the command could not be started.
	ExitCode int
	LogPath  string
	Err      error
}

func (e *Failure) Error() string {
	msg := fmt.Sprintf("build %s failed (exit %d), see %s", e.Protocol, e.ExitCode, e.LogPath)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Failure) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrBuildFailed) match any Failure.
func (e *Failure) Is(target error) bool { return target == ErrBuildFailed }

// Make runs a make-style build in <dir(configPath)>/<protocol>, writing
// combined output to LogName in that directory.
type Make struct {
	// Command defaults to make micaz sim.
	Command []string
	// LogName defaults to make_log.
	LogName string
	Env     []string
}

// DefaultCommand builds the micaz simulation image.
var DefaultCommand = []string{"make", "micaz", "sim"}

// Dir returns the directory the build runs in.
func (m *Make) Dir(protocol, configPath string) string {
	return filepath.Join(filepath.Dir(configPath), protocol)
}

// Build compiles protocol against the header at configPath.
func (m *Make) Build(ctx context.Context, protocol, configPath string) error {
	argv := m.Command
	if len(argv) == 0 {
		argv = DefaultCommand
	}
	logName := m.LogName
	if logName == "" {
		logName = "make_log"
	}
	dir := m.Dir(protocol, configPath)
	logPath := filepath.Join(dir, logName)

	out, err := os.Create(logPath)
	if err != nil {
		return &Failure{Protocol: protocol, ExitCode: -1, LogPath: logPath, Err: err}
	}
	defer out.Close()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), m.Env...)
	cmd.Stdout = out
	cmd.Stderr = out

	logf("building %s in %s", protocol, dir)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("build %s interrupted: %w", protocol, ctxErr)
		}
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &Failure{Protocol: protocol, ExitCode: code, LogPath: logPath, Err: err}
	}
	return nil
}
