// Package sim defines the capability surface of the external discrete-event
// simulator that traces are replayed into. The simulator owns every node and
// its radio; callers only drive its clock and set channel parameters.
package sim

import (
	"context"
	"errors"
	"fmt"

	"github.com/weisiCeltics/teacp/internal/trace"
)

// Simulator is the oracle consumed by the replay controller.
type Simulator interface {
	// RunNextEvent executes the next pending simulator event. It reports
	// false when the event queue is empty.
	RunNextEvent(ctx context.Context) (bool, error)

	// Time returns the current simulated time in ticks.
	Time() int64

	// TicksPerSecond is the simulator time-scale factor.
	TicksPerSecond() int64

	// SetLinkGain sets the gain on the directed link src -> dst.
	SetLinkGain(src, dst trace.NodeID, gain float64) error

	AddNoiseReading(node trace.NodeID, value int) error
	CreateNoiseModel(node trace.NodeID) error

	// BootAtTime schedules node boot at the given simulated tick.
	BootAtTime(node trace.NodeID, ticks int64) error
}

// Session is a Simulator bound to one trial. Close releases it.
type Session interface {
	Simulator
	Close() error
}

// LaunchSpec describes the simulator instance a trial needs.
type LaunchSpec struct {
	// Protocol names the compiled protocol image, e.g. "ctp".
	Protocol string
	// BuildDir is the directory holding the compiled simulation image.
	BuildDir string
	// LogPath receives the protocol's debug output for the analyzer.
	LogPath string
}

// Launcher opens a fresh simulator session per trial.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Session, error)
}

// Millis converts simulator ticks to milliseconds.
func Millis(ticks, ticksPerSecond int64) float64 {
	return float64(ticks) / float64(ticksPerSecond) * 1000
}

// ErrStall is matched by every StallError.
var ErrStall = errors.New("simulation stalled")

// StallError reports that the simulator stopped making progress before the
// replay reached its finish time.
type StallError struct {
	// SimMillis is the simulated time when progress stopped.
	SimMillis float64
	// TargetMillis is the trace instant the controller was advancing to.
	TargetMillis int64
	Reason       string
	Err          error
}

func (e *StallError) Error() string {
	msg := fmt.Sprintf("simulation stalled at %.3fms advancing to %dms: %s", e.SimMillis, e.TargetMillis, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StallError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStall) match any StallError.
func (e *StallError) Is(target error) bool { return target == ErrStall }
