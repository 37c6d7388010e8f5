// Package replay drives the simulator clock and injects recorded link-gain
// changes at the instants the trace dictates.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weisiCeltics/teacp/internal/monitoring"
	"github.com/weisiCeltics/teacp/internal/sim"
	"github.com/weisiCeltics/teacp/internal/timeutil"
	"github.com/weisiCeltics/teacp/internal/trace"
)

var logf = monitoring.Component("replay")

// State is the lifecycle of a Controller.
type State int

const (
	StateIdle State = iota
	StateReplaying
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReplaying:
		return "replaying"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Update is one gain change applied to the simulator.
type Update struct {
	// Effective is the trace timestamp plus the wraparound offset, in ms.
	Effective int64
	// Pass counts trace passes from 1; static updates report pass 0.
	Pass int
	A, B trace.NodeID
	Gain float64
}

// Options configure a Controller.
type Options struct {
	// FinishTime is the simulated time, in ms, at which replay stops.
	FinishTime int64
	// GainShift is added to every recorded gain.
	GainShift float64
	// StepTimeout bounds a single RunNextEvent call. Zero disables it.
	StepTimeout time.Duration
	// Clock drives StepTimeout; defaults to the real clock.
	Clock timeutil.Clock
	// OnApply, when set, observes every update after it is applied.
	OnApply func(Update)
}

// Stats summarise a replay.
type Stats struct {
	Steps       int
	Passes      int
	Applied     int
	LastApplied int64
	SimMillis   float64
}

// Controller replays one link trace into one simulator. It is single use.
type Controller struct {
	sim  sim.Simulator
	opts Options

	mu    sync.Mutex
	state State
	stats Stats
}

// NewController returns an idle controller.
func NewController(s sim.Simulator, opts Options) *Controller {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Controller{sim: s, opts: opts}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns a snapshot of the replay counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Run replays lt until FinishTime. It returns a *sim.StallError when the
// simulator stops making progress first.
func (c *Controller) Run(ctx context.Context, lt *trace.LinkTrace) error {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		return fmt.Errorf("replay controller already %s", st)
	}
	c.state = StateReplaying
	c.mu.Unlock()

	var err error
	switch lt.Mode {
	case trace.Static:
		err = c.runStatic(ctx, lt)
	case trace.Dynamic:
		err = c.runDynamic(ctx, lt)
	default:
		err = fmt.Errorf("unknown trace mode %v", lt.Mode)
	}

	c.mu.Lock()
	c.stats.SimMillis = c.simMillis()
	if err != nil {
		c.state = StateFailed
	} else {
		c.state = StateFinished
	}
	stats := c.stats
	c.mu.Unlock()

	if err != nil {
		logf("%s replay of %s failed after %d steps: %v", lt.Mode, lt.Path, stats.Steps, err)
		return err
	}
	logf("%s replay finished: %d steps, %d passes, %d updates, sim time %.1fms",
		lt.Mode, stats.Steps, stats.Passes, stats.Applied, stats.SimMillis)
	return nil
}

func (c *Controller) runStatic(ctx context.Context, lt *trace.LinkTrace) error {
	for _, ev := range lt.Events {
		if err := c.apply(Update{A: ev.A, B: ev.B, Gain: ev.Gain + c.opts.GainShift}, false); err != nil {
			return err
		}
	}
	if c.opts.FinishTime <= 0 {
		return nil
	}
	return c.advanceThrough(ctx, c.opts.FinishTime)
}

func (c *Controller) runDynamic(ctx context.Context, lt *trace.LinkTrace) error {
	if c.opts.FinishTime <= 0 {
		return nil
	}
	cur := newCursor(lt)
	for {
		ev, eff, err := cur.next()
		if err != nil {
			return err
		}
		if cur.pass != c.passes() {
			c.mu.Lock()
			c.stats.Passes = cur.pass
			c.mu.Unlock()
		}
		if err := c.advanceThrough(ctx, eff); err != nil {
			return err
		}
		u := Update{Effective: eff, Pass: cur.pass, A: ev.A, B: ev.B, Gain: ev.Gain + c.opts.GainShift}
		if err := c.apply(u, true); err != nil {
			return err
		}
		cur.applied(eff)
		if eff >= c.opts.FinishTime {
			return nil
		}
	}
}

func (c *Controller) passes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.Passes
}

// advanceThrough runs simulator events while simulated time has not passed
// target milliseconds.
func (c *Controller) advanceThrough(ctx context.Context, target int64) error {
	for c.simMillis() <= float64(target) {
		if err := c.step(ctx, target); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) step(ctx context.Context, target int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stepCtx := ctx
	var timedOut atomic.Bool
	if c.opts.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithCancel(ctx)
		defer cancel()
		timer := c.opts.Clock.NewTimer(c.opts.StepTimeout)
		defer timer.Stop()
		go func() {
			select {
			case <-timer.C():
				timedOut.Store(true)
				cancel()
			case <-stepCtx.Done():
			}
		}()
	}

	ran, err := c.sim.RunNextEvent(stepCtx)
	if err != nil {
		if timedOut.Load() {
			return &sim.StallError{
				SimMillis:    c.simMillis(),
				TargetMillis: target,
				Reason:       fmt.Sprintf("no event within %s", c.opts.StepTimeout),
				Err:          context.DeadlineExceeded,
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return fmt.Errorf("run next event: %w", err)
	}
	if !ran {
		return &sim.StallError{
			SimMillis:    c.simMillis(),
			TargetMillis: target,
			Reason:       "no pending events",
		}
	}
	c.mu.Lock()
	c.stats.Steps++
	c.mu.Unlock()
	return nil
}

func (c *Controller) apply(u Update, symmetric bool) error {
	if err := c.sim.SetLinkGain(u.A, u.B, u.Gain); err != nil {
		return fmt.Errorf("set gain %d->%d: %w", u.A, u.B, err)
	}
	if symmetric {
		if err := c.sim.SetLinkGain(u.B, u.A, u.Gain); err != nil {
			return fmt.Errorf("set gain %d->%d: %w", u.B, u.A, err)
		}
	}
	c.mu.Lock()
	c.stats.Applied++
	c.stats.LastApplied = u.Effective
	c.mu.Unlock()
	if c.opts.OnApply != nil {
		c.opts.OnApply(u)
	}
	return nil
}

func (c *Controller) simMillis() float64 {
	return sim.Millis(c.sim.Time(), c.sim.TicksPerSecond())
}
