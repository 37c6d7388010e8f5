package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/weisiCeltics/teacp/internal/analysis"
	"github.com/weisiCeltics/teacp/internal/config"
	"github.com/weisiCeltics/teacp/internal/monitoring"
	"github.com/weisiCeltics/teacp/internal/replay"
	"github.com/weisiCeltics/teacp/internal/timeutil"
)

var logf = monitoring.Component("sweep")

// Mutator writes a trial configuration into a header file.
type Mutator interface {
	Apply(path string, cfg config.TrialConfig) error
}

// Builder compiles a protocol against a header file.
type Builder interface {
	Build(ctx context.Context, protocol, configPath string) error
}

// Replayer runs one simulation to completion.
type Replayer interface {
	Replay(ctx context.Context, req replay.Request) (replay.Stats, error)
}

// Plan is one sweep.
type Plan struct {
	Values   []float64
	Variable Variable
	// Base is the setting every value starts from. Its RNG seed is ignored.
	Base           Setting
	TrialsPerPoint int
	BaseSeed       int
	SeedStride     int
	// Workers > 1 runs a point's trials concurrently; it requires an
	// isolated workspace.
	Workers     int
	PacketRange analysis.PacketRange
	// FinishTime maps a packet interval to the replay finish time in ms.
	FinishTime func(packetInterval int) int64

	// Reported in the summary header.
	NoiseTrace string
	LinkTrace  string
}

// Seed returns the RNG seed of a 1-based trial number.
func (p Plan) Seed(trial int) int {
	return p.BaseSeed + p.SeedStride*(trial-1)
}

// Runner orchestrates a sweep.
type Runner struct {
	Mutator   Mutator
	Builder   Builder
	Replayer  Replayer
	Analyzer  analysis.Analyzer
	Workspace Workspace
	Sink      Sink
	Clock     timeutil.Clock

	mu    sync.RWMutex
	state SweepState
}

// NewRunner creates a runner; Sink and Clock may be set afterwards.
func NewRunner(m Mutator, b Builder, rp Replayer, a analysis.Analyzer, ws Workspace) *Runner {
	return &Runner{
		Mutator:   m,
		Builder:   b,
		Replayer:  rp,
		Analyzer:  a,
		Workspace: ws,
		Clock:     timeutil.RealClock{},
		state:     SweepState{Status: SweepStatusIdle},
	}
}

// GetSweepState returns a copy of the current sweep state.
func (r *Runner) GetSweepState() SweepState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state := r.state
	state.Results = append([]Summary(nil), r.state.Results...)
	state.Failures = append([]string(nil), r.state.Failures...)
	return state
}

type resolvedPoint struct {
	value   float64
	setting Setting
}

func (r *Runner) validate(plan Plan) ([]resolvedPoint, error) {
	if len(plan.Values) == 0 {
		return nil, errors.New("sweep has no values")
	}
	if plan.Variable == nil {
		return nil, errors.New("sweep has no variable")
	}
	if plan.TrialsPerPoint <= 0 {
		return nil, fmt.Errorf("trials per point must be positive, got %d", plan.TrialsPerPoint)
	}
	if plan.FinishTime == nil {
		return nil, errors.New("sweep has no finish time")
	}
	if r.Mutator == nil || r.Builder == nil || r.Replayer == nil || r.Analyzer == nil || r.Workspace == nil {
		return nil, errors.New("runner is missing a collaborator")
	}
	if plan.Workers > 1 && !r.Workspace.Isolated() {
		return nil, fmt.Errorf("workers=%d needs an isolated workspace: trials share one config header", plan.Workers)
	}

	points := make([]resolvedPoint, len(plan.Values))
	for i, v := range plan.Values {
		s, err := plan.Variable.Apply(v, plan.Base)
		if err != nil {
			return nil, fmt.Errorf("%s=%g: %w", plan.Variable.Name(), v, err)
		}
		s.Config = s.Config.Normalize()
		if err := s.Config.Validate(); err != nil {
			return nil, fmt.Errorf("%s=%g: %w", plan.Variable.Name(), v, err)
		}
		points[i] = resolvedPoint{value: v, setting: s}
	}
	return points, nil
}

// Run executes the plan. A failing trial discards its point and the sweep
// moves on; Run only returns an error for an invalid plan, a sink failure or
// cancellation. The returned summaries cover the points that completed.
func (r *Runner) Run(ctx context.Context, plan Plan) ([]Summary, error) {
	points, err := r.validate(plan)
	if err != nil {
		return nil, err
	}
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	sink := r.Sink
	if sink == nil {
		sink = MultiSink{}
	}

	start := clock.Now()
	runID := uuid.NewString()
	base := points[0].setting.Config
	info := RunInfo{
		ID:         runID,
		StartedAt:  start,
		Protocol:   base.Protocol,
		QueueType:  base.QueueType,
		NoiseTrace: plan.NoiseTrace,
		LinkTrace:  plan.LinkTrace,
		Variable:   plan.Variable.Name(),
		Column:     plan.Variable.Column(),
		Trials:     plan.TrialsPerPoint,
		Values:     append([]float64(nil), plan.Values...),
	}

	r.mu.Lock()
	if r.state.Status == SweepStatusRunning {
		r.mu.Unlock()
		return nil, errors.New("sweep already in progress")
	}
	r.state = SweepState{
		Status:      SweepStatusRunning,
		RunID:       runID,
		StartedAt:   &start,
		TotalPoints: len(points),
	}
	r.mu.Unlock()

	if err := sink.Begin(info); err != nil {
		return nil, r.fail(clock, fmt.Errorf("write sweep header: %w", err))
	}
	logf("run %s: %s over %v, %d trials each", runID, info.Variable, plan.Values, plan.TrialsPerPoint)

	var summaries []Summary
	for i, pt := range points {
		if err := ctx.Err(); err != nil {
			return summaries, r.fail(clock, err)
		}
		point, failure := r.runPoint(ctx, plan, i, pt)
		if failure != nil {
			// a trial killed by cancellation is not a result of its point
			if ctx.Err() != nil {
				return summaries, r.fail(clock, ctx.Err())
			}
			logf("ABORT %s=%g: trial %d/%d seed %d failed (%s): %v",
				info.Variable, pt.value, failure.Trial, plan.TrialsPerPoint, failure.Seed, failure.Kind, failure.Err)
			r.mu.Lock()
			r.state.Failures = append(r.state.Failures, failure.Error())
			r.state.CompletedPoints++
			r.mu.Unlock()
			if err := sink.Failure(*failure); err != nil {
				return summaries, r.fail(clock, fmt.Errorf("record failure: %w", err))
			}
			continue
		}

		sum := Aggregate(pt.value, point.Results())
		logf("%s=%g: delivery %.4f±%.4f delay %.2f±%.2f goodput %.2f±%.2f",
			info.Variable, sum.Value, sum.DeliveryMean, sum.DeliveryStd,
			sum.DelayMean, sum.DelayStd, sum.GoodputMean, sum.GoodputStd)
		if err := sink.Point(point, sum); err != nil {
			return summaries, r.fail(clock, fmt.Errorf("write summary row: %w", err))
		}
		summaries = append(summaries, sum)
		r.mu.Lock()
		r.state.Results = append(r.state.Results, sum)
		r.state.CompletedPoints++
		r.mu.Unlock()
	}

	if err := sink.End(); err != nil {
		return summaries, r.fail(clock, fmt.Errorf("finish sweep output: %w", err))
	}
	now := clock.Now()
	r.mu.Lock()
	r.state.Status = SweepStatusComplete
	r.state.CompletedAt = &now
	r.mu.Unlock()
	logf("run %s finished in %.2f secs: %d/%d points", runID, now.Sub(start).Seconds(), len(summaries), len(points))
	return summaries, nil
}

func (r *Runner) fail(clock timeutil.Clock, err error) error {
	now := clock.Now()
	r.mu.Lock()
	r.state.Status = SweepStatusError
	r.state.Error = err.Error()
	r.state.CompletedAt = &now
	r.mu.Unlock()
	return err
}

// trialError ties an error to the trial that raised it.
type trialError struct {
	trial int
	seed  int
	err   error
}

func (e *trialError) Error() string { return e.err.Error() }
func (e *trialError) Unwrap() error { return e.err }

func (r *Runner) runPoint(ctx context.Context, plan Plan, index int, pt resolvedPoint) (Point, *Failure) {
	outcomes := make([]TrialOutcome, plan.TrialsPerPoint)
	var err error
	if plan.Workers > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(plan.Workers)
		for i := range outcomes {
			trial := i + 1
			g.Go(func() error {
				out, err := r.runTrial(gctx, plan, index, trial, pt)
				if err != nil {
					return &trialError{trial: trial, seed: plan.Seed(trial), err: err}
				}
				outcomes[trial-1] = out
				return nil
			})
		}
		err = g.Wait()
	} else {
		for i := range outcomes {
			trial := i + 1
			out, terr := r.runTrial(ctx, plan, index, trial, pt)
			if terr != nil {
				err = &trialError{trial: trial, seed: plan.Seed(trial), err: terr}
				break
			}
			outcomes[i] = out
		}
	}

	if err != nil {
		var te *trialError
		errors.As(err, &te)
		return Point{}, &Failure{Value: pt.value, Trial: te.trial, Seed: te.seed, Kind: KindOf(te.err), Err: te.err}
	}
	return Point{Index: index, Value: pt.value, Setting: pt.setting, Trials: outcomes}, nil
}

func (r *Runner) runTrial(ctx context.Context, plan Plan, index, trial int, pt resolvedPoint) (_ TrialOutcome, err error) {
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	started := clock.Now()

	cfg := pt.setting.Config
	cfg.RNGSeed = plan.Seed(trial)
	cfg = cfg.Normalize()

	dirs, err := r.Workspace.Prepare(index, trial)
	if err != nil {
		return TrialOutcome{}, err
	}
	defer func() {
		// A failed trial keeps its tree so the build log it reports survives.
		if err != nil && dirs.Root != "" {
			logf("keeping workspace %s of failed trial %d", dirs.Root, trial)
			return
		}
		if rerr := r.Workspace.Release(dirs); rerr != nil {
			logf("release workspace %s: %v", dirs.Root, rerr)
		}
	}()

	if err := r.Mutator.Apply(dirs.ConfigPath, cfg); err != nil {
		return TrialOutcome{}, err
	}
	if err := r.Builder.Build(ctx, string(cfg.Protocol), dirs.ConfigPath); err != nil {
		return TrialOutcome{}, err
	}

	logf("Running simulation: protocol %s, queue %s, pkt_interval %d, #case %d", cfg.Protocol, cfg.QueueType, cfg.PacketInterval, trial)
	stats, err := r.Replayer.Replay(ctx, replay.Request{
		Protocol:   string(cfg.Protocol),
		BuildDir:   dirs.BuildDir(string(cfg.Protocol)),
		LogPath:    dirs.LogPath,
		FinishTime: plan.FinishTime(cfg.PacketInterval),
		GainShift:  pt.setting.GainShift,
	})
	if err != nil {
		return TrialOutcome{}, err
	}

	res, err := r.Analyzer.Analyze(ctx, dirs.LogPath, plan.PacketRange)
	if err != nil {
		return TrialOutcome{}, err
	}
	return TrialOutcome{
		Trial:   trial,
		Seed:    cfg.RNGSeed,
		Config:  cfg,
		Result:  res,
		Replay:  stats,
		Elapsed: clock.Since(started),
	}, nil
}

