package sweep

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisiCeltics/teacp/internal/analysis"
	"github.com/weisiCeltics/teacp/internal/build"
	"github.com/weisiCeltics/teacp/internal/config"
	"github.com/weisiCeltics/teacp/internal/fsutil"
	"github.com/weisiCeltics/teacp/internal/monitoring"
	"github.com/weisiCeltics/teacp/internal/replay"
	"github.com/weisiCeltics/teacp/internal/sim"
	"github.com/weisiCeltics/teacp/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

// harness wires stub collaborators that record every call.
type harness struct {
	mu       sync.Mutex
	applied  []config.TrialConfig
	paths    []string
	builds   int
	replays  []replay.Request
	analyses int

	buildErr  func(n int, cfg config.TrialConfig) error
	replayErr func(req replay.Request) error
	result    analysis.Result
}

func (h *harness) Apply(path string, cfg config.TrialConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.applied = append(h.applied, cfg)
	h.paths = append(h.paths, path)
	return nil
}

func (h *harness) Build(ctx context.Context, protocol, configPath string) error {
	h.mu.Lock()
	h.builds++
	n := h.builds
	cfg := h.applied[len(h.applied)-1]
	h.mu.Unlock()
	if h.buildErr != nil {
		return h.buildErr(n, cfg)
	}
	return nil
}

func (h *harness) Replay(ctx context.Context, req replay.Request) (replay.Stats, error) {
	h.mu.Lock()
	h.replays = append(h.replays, req)
	h.mu.Unlock()
	if h.replayErr != nil {
		if err := h.replayErr(req); err != nil {
			return replay.Stats{}, err
		}
	}
	return replay.Stats{Steps: 10, SimMillis: float64(req.FinishTime) + 1}, nil
}

func (h *harness) Analyze(ctx context.Context, logPath string, pr analysis.PacketRange) (analysis.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.analyses++
	return h.result, nil
}

var fixed = analysis.Result{DeliveryRate: 0.9, AvgDelay: 50, Goodput: 100}

func newHarness() *harness { return &harness{result: fixed} }

func (h *harness) runner(ws Workspace, sink Sink) *Runner {
	r := NewRunner(h, h, h, h, ws)
	r.Sink = sink
	r.Clock = timeutil.NewMockClock(time.Unix(0, 0).UTC())
	return r
}

func shared() *SharedWorkspace {
	return &SharedWorkspace{NescDir: "nesc", ConfigHeader: "test_config.h", LogPath: "log/temp/simulation.log"}
}

func plan(values []float64, trials int) Plan {
	return Plan{
		Values:         values,
		Variable:       PacketRate{Reference: 1024},
		Base:           Setting{Config: config.TrialConfig{Protocol: config.ProtocolCTP, TimerType: config.TimerPeriodic, PacketInterval: 1024}},
		TrialsPerPoint: trials,
		SeedStride:     101,
		PacketRange:    analysis.PacketRange{Lo: 100, Hi: 2900},
		FinishTime:     func(interval int) int64 { return int64(interval) * 3000 / 1000 * 1000 },
		NoiseTrace:     "meyer-heavy.txt",
		LinkTrace:      "dynamic/intra_car_5nodes.txt",
	}
}

func TestEndToEndTwoRows(t *testing.T) {
	h := newHarness()
	var out bytes.Buffer
	r := h.runner(shared(), NewSummaryWriter(&out))

	sums, err := r.Run(context.Background(), plan([]float64{1, 2}, 2))
	require.NoError(t, err)
	require.Len(t, sums, 2)
	for i, s := range sums {
		assert.Equal(t, float64(i+1), s.Value)
		assert.Equal(t, 2, s.Trials)
		assert.InDelta(t, 0.9, s.DeliveryMean, 1e-12)
		assert.InDelta(t, 50, s.DelayMean, 1e-12)
		assert.InDelta(t, 100, s.GoodputMean, 1e-12)
		assert.InDelta(t, 0, s.DeliveryStd, 1e-12)
		assert.InDelta(t, 0, s.DelayStd, 1e-12)
		assert.InDelta(t, 0, s.GoodputStd, 1e-12)
	}

	want := strings.Join([]string{
		"",
		"--------------------Thu Jan  1 00:00:00 1970--------------------",
		"protocol: ctp",
		"queue_type: N/A",
		"noise_trace: meyer-heavy.txt",
		"rssi_trace: dynamic/intra_car_5nodes.txt",
		"simulation_times: 2",
		"   PktRate   %Delivery      Std   AvgDelay      Std   Goodput      Std",
		"      1.00      0.9000   0.0000      50.00     0.00    100.00     0.00",
		"      2.00      0.9000   0.0000      50.00     0.00    100.00     0.00",
		"",
		"",
		"",
	}, "\n")
	assert.Equal(t, want, out.String())

	st := r.GetSweepState()
	assert.Equal(t, SweepStatusComplete, st.Status)
	assert.Equal(t, 2, st.CompletedPoints)
	assert.Len(t, st.Results, 2)
	assert.NotEmpty(t, st.RunID)
}

func TestTrialFailureDiscardsPoint(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		set  func(h *harness)
	}{
		{"build", KindBuild, func(h *harness) {
			h.buildErr = func(n int, cfg config.TrialConfig) error {
				// Point 2 runs builds 6..10; its third trial is build 8.
				if n == 8 {
					return &build.Failure{Protocol: "ctp", ExitCode: 2, LogPath: "nesc/ctp/make_log"}
				}
				return nil
			}
		}},
		{"stall", KindStall, func(h *harness) {
			var n int
			h.replayErr = func(req replay.Request) error {
				n++
				if n == 8 {
					return &sim.StallError{SimMillis: 12, TargetMillis: 40, Reason: "no pending events"}
				}
				return nil
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			tt.set(h)
			var out bytes.Buffer
			r := h.runner(shared(), NewSummaryWriter(&out))
			p := plan([]float64{1, 2, 4}, 5)
			p.BaseSeed = 11211

			sums, err := r.Run(context.Background(), p)
			require.NoError(t, err)
			require.Len(t, sums, 2, "failed point must not be summarised over fewer trials")
			assert.Equal(t, 1.0, sums[0].Value)
			assert.Equal(t, 4.0, sums[1].Value)
			for _, s := range sums {
				assert.Equal(t, 5, s.Trials)
			}

			st := r.GetSweepState()
			require.Len(t, st.Failures, 1)
			assert.Contains(t, st.Failures[0], "value 2 trial 3 seed 11413")
			assert.Contains(t, st.Failures[0], string(tt.kind))
			assert.Equal(t, 3, st.CompletedPoints)

			text := out.String()
			assert.Contains(t, text, "      2.00  FAILED "+string(tt.kind)+" (trial 3, seed 11413)\n")
			assert.NotContains(t, text, "      2.00      0.9000")
		})
	}
}

func TestSeedsAndIntervals(t *testing.T) {
	h := newHarness()
	r := h.runner(shared(), nil)
	p := plan([]float64{1, 3, 100}, 3)
	p.BaseSeed = 11211

	_, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, h.applied, 9)

	wantIntervals := []int{1024, 342, 11}
	for i, cfg := range h.applied {
		assert.Equal(t, 11211+101*(i%3), cfg.RNGSeed, "call %d", i)
		assert.Equal(t, wantIntervals[i/3], cfg.PacketInterval, "call %d", i)
		assert.Equal(t, config.QueueNA, cfg.QueueType)
		assert.Equal(t, "nesc/test_config.h", h.paths[i])
	}
	assert.Equal(t, int64(1026000), h.replays[3].FinishTime)
	assert.Equal(t, "nesc/ctp", h.replays[0].BuildDir)
	assert.Equal(t, "log/temp/simulation.log", h.replays[0].LogPath)
}

func TestGainShiftVariable(t *testing.T) {
	h := newHarness()
	r := h.runner(shared(), nil)
	p := plan([]float64{-5, 5}, 1)
	p.Variable = LinkGainShift{}

	_, err := r.Run(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, h.replays, 2)
	assert.Equal(t, -5.0, h.replays[0].GainShift)
	assert.Equal(t, 5.0, h.replays[1].GainShift)
	assert.Equal(t, 1024, h.applied[0].PacketInterval)
}

func TestParallelRequiresIsolation(t *testing.T) {
	h := newHarness()
	p := plan([]float64{1}, 4)
	p.Workers = 2

	_, err := h.runner(shared(), nil).Run(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "isolated workspace")
	assert.Zero(t, h.builds)
}

func TestParallelIsolatedTrials(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("/src/nesc/test_config.h", []byte("#define FIFO\n"), 0o644))
	require.NoError(t, fs.WriteFile("/src/nesc/ctp/Makefile", []byte("all:\n"), 0o644))
	ws := &IsolatedWorkspace{FS: fs, NescDir: "/src/nesc", ConfigHeader: "test_config.h", Root: "/work"}

	h := newHarness()
	p := plan([]float64{1, 2}, 4)
	p.Workers = 3

	sums, err := h.runner(ws, nil).Run(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, sums, 2)

	seen := map[string]bool{}
	for _, path := range h.paths {
		assert.False(t, seen[path], "config path %s reused", path)
		seen[path] = true
	}
	assert.True(t, seen["/work/p001-t04/nesc/test_config.h"])
	assert.False(t, fs.Exists("/work/p000-t01/nesc"), "trial tree released")
}

func TestParallelFailureDiscardsPoint(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("/src/nesc/test_config.h", nil, 0o644))
	ws := &IsolatedWorkspace{FS: fs, NescDir: "/src/nesc", ConfigHeader: "test_config.h", Root: "/work"}

	h := newHarness()
	h.replayErr = func(req replay.Request) error {
		if strings.Contains(req.LogPath, "p000-t03") {
			return &sim.StallError{Reason: "no pending events"}
		}
		return nil
	}
	p := plan([]float64{1}, 5)
	p.Workers = 5

	sums, err := h.runner(ws, nil).Run(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, sums)
}

// logBuilder writes a make_log next to the protocol sources, then fails.
type logBuilder struct {
	fs fsutil.FileSystem
}

func (b logBuilder) Build(ctx context.Context, protocol, configPath string) error {
	logPath := filepath.Join(filepath.Dir(configPath), protocol, "make_log")
	if err := b.fs.WriteFile(logPath, []byte("compile error\n"), 0o644); err != nil {
		return err
	}
	return &build.Failure{Protocol: protocol, ExitCode: 2, LogPath: logPath}
}

func TestIsolatedBuildFailureKeepsLog(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("/src/nesc/test_config.h", []byte("#define FIFO\n"), 0o644))
	require.NoError(t, fs.WriteFile("/src/nesc/ctp/Makefile", []byte("all:\n"), 0o644))
	ws := &IsolatedWorkspace{FS: fs, NescDir: "/src/nesc", ConfigHeader: "test_config.h", Root: "/work"}

	h := newHarness()
	r := NewRunner(h, logBuilder{fs: fs}, h, h, ws)
	r.Clock = timeutil.NewMockClock(time.Unix(0, 0).UTC())

	_, err := r.Run(context.Background(), plan([]float64{1}, 2))
	require.NoError(t, err)

	st := r.GetSweepState()
	require.Len(t, st.Failures, 1)
	logPath := "/work/p000-t01/nesc/ctp/make_log"
	assert.Contains(t, st.Failures[0], logPath)
	data, err := fs.ReadFile(logPath)
	require.NoError(t, err, "reported build log must survive the failed trial")
	assert.Equal(t, "compile error\n", string(data))
}

func TestCancelDuringBuildRecordsNoFailure(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	h.buildErr = func(n int, cfg config.TrialConfig) error {
		// a killed make looks like any other non-zero exit
		cancel()
		return &build.Failure{Protocol: "ctp", ExitCode: -1, LogPath: "nesc/ctp/make_log", Err: errors.New("signal: killed")}
	}
	var out bytes.Buffer
	r := h.runner(shared(), NewSummaryWriter(&out))

	_, err := r.Run(ctx, plan([]float64{1, 2}, 3))
	require.ErrorIs(t, err, context.Canceled)

	st := r.GetSweepState()
	assert.Equal(t, SweepStatusError, st.Status)
	assert.Empty(t, st.Failures)
	assert.NotContains(t, out.String(), "FAILED")
	assert.Equal(t, 1, h.builds)
}

func TestInvalidPlans(t *testing.T) {
	h := newHarness()
	r := h.runner(shared(), nil)

	bad := []func(p *Plan){
		func(p *Plan) { p.Values = nil },
		func(p *Plan) { p.Variable = nil },
		func(p *Plan) { p.TrialsPerPoint = 0 },
		func(p *Plan) { p.FinishTime = nil },
		func(p *Plan) { p.Values = []float64{1, 0} },
		func(p *Plan) { p.Base.Config.Protocol = "aodv" },
	}
	for i, mutate := range bad {
		p := plan([]float64{1}, 1)
		mutate(&p)
		_, err := r.Run(context.Background(), p)
		assert.Error(t, err, "plan %d", i)
	}
	assert.Zero(t, h.builds, "invalid plans run nothing")
}

func TestCancelStopsSweep(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	h.replayErr = func(req replay.Request) error {
		cancel()
		return context.Canceled
	}
	r := h.runner(shared(), nil)
	_, err := r.Run(ctx, plan([]float64{1, 2}, 2))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, SweepStatusError, r.GetSweepState().Status)
	assert.Len(t, h.replays, 1)
}

type failingSink struct{ MultiSink }

func (failingSink) Begin(RunInfo) error { return errors.New("disk full") }

func TestSinkErrorAbortsRun(t *testing.T) {
	h := newHarness()
	_, err := h.runner(shared(), failingSink{}).Run(context.Background(), plan([]float64{1}, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, h.builds)
}
