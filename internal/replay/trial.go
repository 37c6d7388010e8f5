package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weisiCeltics/teacp/internal/sim"
	"github.com/weisiCeltics/teacp/internal/timeutil"
	"github.com/weisiCeltics/teacp/internal/trace"
)

// Request is one trial's replay.
type Request struct {
	Protocol   string
	BuildDir   string
	LogPath    string
	FinishTime int64
	GainShift  float64
}

// TrialRunner opens a simulator session per request, initializes every
// traced node and replays the link trace to completion.
type TrialRunner struct {
	Launcher    sim.Launcher
	LinkTrace   *trace.LinkTrace
	Noise       []int
	BootTime    int64
	StepTimeout time.Duration
	Clock       timeutil.Clock
}

// Replay runs one trial. The session is always closed; a close error is
// reported only when the replay itself succeeded.
func (r *TrialRunner) Replay(ctx context.Context, req Request) (stats Stats, err error) {
	if r.LinkTrace == nil {
		return Stats{}, errors.New("replay: no link trace")
	}
	session, err := r.Launcher.Launch(ctx, sim.LaunchSpec{
		Protocol: req.Protocol,
		BuildDir: req.BuildDir,
		LogPath:  req.LogPath,
	})
	if err != nil {
		return Stats{}, fmt.Errorf("launch simulator: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close simulator: %w", cerr)
		}
	}()

	boot := r.BootTime
	if boot == 0 {
		boot = DefaultBootTime
	}
	if err := Initialize(ctx, session, r.LinkTrace.Nodes, r.Noise, boot); err != nil {
		return Stats{}, err
	}

	ctrl := NewController(session, Options{
		FinishTime:  req.FinishTime,
		GainShift:   req.GainShift,
		StepTimeout: r.StepTimeout,
		Clock:       r.Clock,
	})
	err = ctrl.Run(ctx, r.LinkTrace)
	return ctrl.Stats(), err
}
