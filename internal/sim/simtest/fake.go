// Package simtest provides a scripted in-memory Simulator for tests.
package simtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/weisiCeltics/teacp/internal/sim"
	"github.com/weisiCeltics/teacp/internal/trace"
)

// Op names recorded in Call.Op.
const (
	OpSetLinkGain      = "set_link_gain"
	OpAddNoiseReading  = "add_noise_reading"
	OpCreateNoiseModel = "create_noise_model"
	OpBootAtTime       = "boot_at_time"
)

// Call is one recorded mutation of the fake simulator.
type Call struct {
	Op    string
	Src   trace.NodeID
	Dst   trace.NodeID
	Gain  float64
	Node  trace.NodeID
	Value int
	Ticks int64
	// At is the simulated time in ticks when the call was made.
	At int64
}

// Simulator is a deterministic fake. Every RunNextEvent advances the clock
// by StepTicks until Pending events are exhausted.
type Simulator struct {
	mu sync.Mutex

	// TicksPerSec defaults to 1000 (one tick per millisecond).
	TicksPerSec int64
	// StepTicks is the clock advance per event; defaults to 1.
	StepTicks int64
	// Pending is the number of events left; negative means unlimited.
	Pending int
	// Block makes RunNextEvent wait for ctx cancellation.
	Block bool
	// FailOp makes the named op return an error.
	FailOp string

	now    int64
	steps  int
	calls  []Call
	closed bool
}

// New returns a fake with unlimited events, 1000 ticks/s and 1 tick per step.
func New() *Simulator {
	return &Simulator{TicksPerSec: 1000, StepTicks: 1, Pending: -1}
}

var errInjected = errors.New("injected failure")

// RunNextEvent implements sim.Simulator.
func (s *Simulator) RunNextEvent(ctx context.Context) (bool, error) {
	s.mu.Lock()
	block := s.Block
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailOp == "run_next_event" {
		return false, errInjected
	}
	if s.Pending == 0 {
		return false, nil
	}
	if s.Pending > 0 {
		s.Pending--
	}
	step := s.StepTicks
	if step <= 0 {
		step = 1
	}
	s.now += step
	s.steps++
	return true, nil
}

// Time implements sim.Simulator.
func (s *Simulator) Time() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// TicksPerSecond implements sim.Simulator.
func (s *Simulator) TicksPerSecond() int64 {
	if s.TicksPerSec <= 0 {
		return 1000
	}
	return s.TicksPerSec
}

// SetLinkGain implements sim.Simulator.
func (s *Simulator) SetLinkGain(src, dst trace.NodeID, gain float64) error {
	return s.record(Call{Op: OpSetLinkGain, Src: src, Dst: dst, Gain: gain})
}

// AddNoiseReading implements sim.Simulator.
func (s *Simulator) AddNoiseReading(node trace.NodeID, value int) error {
	return s.record(Call{Op: OpAddNoiseReading, Node: node, Value: value})
}

// CreateNoiseModel implements sim.Simulator.
func (s *Simulator) CreateNoiseModel(node trace.NodeID) error {
	return s.record(Call{Op: OpCreateNoiseModel, Node: node})
}

// BootAtTime implements sim.Simulator.
func (s *Simulator) BootAtTime(node trace.NodeID, ticks int64) error {
	return s.record(Call{Op: OpBootAtTime, Node: node, Ticks: ticks})
}

// Close marks the fake closed. It makes Simulator usable as a sim.Session.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Simulator) record(c Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailOp == c.Op {
		return fmt.Errorf("%s: %w", c.Op, errInjected)
	}
	c.At = s.now
	s.calls = append(s.calls, c)
	return nil
}

// Calls returns a copy of every recorded call.
func (s *Simulator) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsOf returns the recorded calls with the given op.
func (s *Simulator) CallsOf(op string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Steps is the number of events executed.
func (s *Simulator) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps
}

// Closed reports whether Close was called.
func (s *Simulator) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SetTime moves the simulated clock.
func (s *Simulator) SetTime(ticks int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = ticks
}

// Launcher hands out fakes built by New (or NewSim, when set) and remembers
// every launch.
type Launcher struct {
	mu     sync.Mutex
	NewSim func(spec sim.LaunchSpec) *Simulator
	Err    error

	Specs    []sim.LaunchSpec
	Sessions []*Simulator
}

// Launch implements sim.Launcher.
func (l *Launcher) Launch(ctx context.Context, spec sim.LaunchSpec) (sim.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	var s *Simulator
	if l.NewSim != nil {
		s = l.NewSim(spec)
	} else {
		s = New()
	}
	l.Specs = append(l.Specs, spec)
	l.Sessions = append(l.Sessions, s)
	return s, nil
}

var (
	_ sim.Session  = (*Simulator)(nil)
	_ sim.Launcher = (*Launcher)(nil)
)
