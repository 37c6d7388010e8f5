// Package analysis turns a trial's simulation log into delivery, delay and
// goodput figures by calling an external analyzer.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Result is the analyzer output for one trial.
type Result struct {
	DeliveryRate float64 `json:"delivery_rate"`
	AvgDelay     float64 `json:"avg_delay"`
	Goodput      float64 `json:"goodput"`
}

// Validate checks that every metric is finite and in range.
func (r Result) Validate() error {
	for name, v := range map[string]float64{
		"delivery_rate": r.DeliveryRate,
		"avg_delay":     r.AvgDelay,
		"goodput":       r.Goodput,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s is not finite", name)
		}
	}
	if r.DeliveryRate < 0 || r.DeliveryRate > 1 {
		return fmt.Errorf("delivery_rate %g outside [0, 1]", r.DeliveryRate)
	}
	if r.AvgDelay < 0 {
		return fmt.Errorf("avg_delay %g is negative", r.AvgDelay)
	}
	if r.Goodput < 0 {
		return fmt.Errorf("goodput %g is negative", r.Goodput)
	}
	return nil
}

// PacketRange is the inclusive range of packet IDs counted by the analyzer.
type PacketRange struct {
	Lo, Hi int
}

func (r PacketRange) String() string { return fmt.Sprintf("[%d, %d]", r.Lo, r.Hi) }

// Analyzer computes a Result from a simulation log.
type Analyzer interface {
	Analyze(ctx context.Context, logPath string, pr PacketRange) (Result, error)
}

// ErrAnalyzer is matched by every Error.
var ErrAnalyzer = errors.New("analyzer failed")

// Error reports an analyzer that could not produce a Result.
type Error struct {
	LogPath string
	Reason  string
	Err     error
}

func (e *Error) Error() string {
	msg := "analyze " + e.LogPath + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrAnalyzer) match any Error.
func (e *Error) Is(target error) bool { return target == ErrAnalyzer }

// Command runs `<Argv...> <log> <lo> <hi>` and decodes a JSON Result from
// its stdout.
type Command struct {
	Argv []string
	Env  []string
	Dir  string
}

// Analyze implements Analyzer.
func (c *Command) Analyze(ctx context.Context, logPath string, pr PacketRange) (Result, error) {
	if len(c.Argv) == 0 {
		return Result{}, &Error{LogPath: logPath, Reason: "no analyzer command"}
	}
	if pr.Lo > pr.Hi {
		return Result{}, &Error{LogPath: logPath, Reason: "empty packet range " + pr.String()}
	}
	info, err := os.Stat(logPath)
	if err != nil {
		return Result{}, &Error{LogPath: logPath, Reason: "log unreadable", Err: err}
	}
	if info.Size() == 0 {
		return Result{}, &Error{LogPath: logPath, Reason: "log is empty"}
	}

	args := append(append([]string{}, c.Argv[1:]...), logPath, strconv.Itoa(pr.Lo), strconv.Itoa(pr.Hi))
	cmd := exec.CommandContext(ctx, c.Argv[0], args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("analyze %s interrupted: %w", logPath, ctxErr)
		}
		reason := "analyzer exited with error"
		if s := strings.TrimSpace(stderr.String()); s != "" {
			reason += " (" + lastLine(s) + ")"
		}
		return Result{}, &Error{LogPath: logPath, Reason: reason, Err: err}
	}

	var res Result
	dec := json.NewDecoder(&stdout)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&res); err != nil {
		return Result{}, &Error{LogPath: logPath, Reason: "undecodable output", Err: err}
	}
	if err := res.Validate(); err != nil {
		return Result{}, &Error{LogPath: logPath, Reason: "invalid result", Err: err}
	}
	return res, nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
