// Command teacp-sweep runs a trace-driven protocol evaluation sweep: for
// every value of the independent variable it builds, replays and analyzes
// a fixed number of trials and appends the aggregated rows to the result
// file.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/weisiCeltics/teacp/internal/analysis"
	"github.com/weisiCeltics/teacp/internal/build"
	"github.com/weisiCeltics/teacp/internal/config"
	"github.com/weisiCeltics/teacp/internal/fsutil"
	"github.com/weisiCeltics/teacp/internal/replay"
	"github.com/weisiCeltics/teacp/internal/report"
	"github.com/weisiCeltics/teacp/internal/sim"
	"github.com/weisiCeltics/teacp/internal/store"
	"github.com/weisiCeltics/teacp/internal/sweep"
	"github.com/weisiCeltics/teacp/internal/timeutil"
	"github.com/weisiCeltics/teacp/internal/trace"
	"github.com/weisiCeltics/teacp/internal/version"
)

func main() {
	configPath := flag.String("config", "", "Experiment config (.json, .yaml or .yml); defaults apply when empty")
	protocol := flag.String("protocol", "", "Protocol: ctp or bcp")
	queue := flag.String("queue", "", "BCP queue type: FIFO or LIFO")
	timer := flag.String("timer", "", "Timer type: periodic or exponential")
	variable := flag.String("variable", "", "Independent variable: packet_rate, packet_interval or link_gain_shift")
	values := flag.String("values", "", "Comma-separated values (e.g. 1,2,4,8) or range min:max:step")
	trials := flag.Int("trials", 0, "Trials per value")
	seed := flag.Int("seed", 0, "Base RNG seed")
	workers := flag.Int("workers", 0, "Concurrent trials per value (requires -isolate when > 1)")
	isolate := flag.Bool("isolate", false, "Build each trial in a private copy of the nesC tree")
	linkTrace := flag.String("link-trace", "", "Link gain trace")
	traceMode := flag.String("trace-mode", "", "Link trace mode: static or dynamic (inferred from path when empty)")
	noiseTrace := flag.String("noise-trace", "", "Noise trace")
	strict := flag.Bool("strict-traces", false, "Reject malformed trace lines instead of skipping them")
	storePath := flag.String("store", "", "SQLite results database")
	pngPath := flag.String("png", "", "Write a PNG chart of the sweep")
	htmlPath := flag.String("html", "", "Write an HTML chart of the sweep")
	simCmd := flag.String("simulator", "", "Simulator bridge command (space separated)")
	analyzerCmd := flag.String("analyzer", "", "Analyzer command (space separated)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg := config.DefaultExperimentConfig()
	if *configPath != "" {
		loaded, err := config.LoadExperimentConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	// Only flags given on the command line override the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "protocol":
			cfg.Protocol = config.Protocol(strings.ToLower(*protocol))
		case "queue":
			cfg.QueueType = config.QueueType(strings.ToUpper(*queue))
		case "timer":
			cfg.TimerType = config.TimerType(strings.ToLower(*timer))
		case "variable":
			cfg.Variable = *variable
		case "values":
			cfg.ValuesSpec = *values
		case "trials":
			cfg.Trials = *trials
		case "seed":
			cfg.BaseSeed = *seed
		case "workers":
			cfg.Workers = *workers
		case "isolate":
			cfg.Isolate = *isolate
		case "link-trace":
			cfg.LinkTrace = *linkTrace
		case "trace-mode":
			cfg.TraceMode = *traceMode
		case "noise-trace":
			cfg.NoiseTrace = *noiseTrace
		case "strict-traces":
			cfg.StrictTraces = *strict
		case "store":
			cfg.StorePath = *storePath
		case "png":
			cfg.ChartPNG = *pngPath
		case "html":
			cfg.ChartHTML = *htmlPath
		case "simulator":
			cfg.SimulatorCommand = strings.Fields(*simCmd)
		case "analyzer":
			cfg.AnalyzerCommand = strings.Fields(*analyzerCmd)
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.LinkTrace == "" || cfg.NoiseTrace == "" {
		log.Fatalf("Both a link trace and a noise trace are required")
	}
	if len(cfg.SimulatorCommand) == 0 {
		log.Fatalf("No simulator command configured (use -simulator or simulator_command)")
	}
	if len(cfg.AnalyzerCommand) == 0 {
		log.Fatalf("No analyzer command configured (use -analyzer or analyzer_command)")
	}

	sweepValues := cfg.Values
	if cfg.ValuesSpec != "" {
		v, err := sweep.ParseValues(cfg.ValuesSpec)
		if err != nil {
			log.Fatalf("Invalid values: %v", err)
		}
		sweepValues = v
	}
	sweepVar, err := sweep.VariableByName(cfg.Variable, cfg.ReferenceRate)
	if err != nil {
		log.Fatalf("%v", err)
	}
	stepTimeout, err := cfg.StepTimeoutDuration()
	if err != nil {
		log.Fatalf("%v", err)
	}

	parser := &trace.Parser{FS: fsutil.OSFileSystem{}, Strict: cfg.StrictTraces}
	lt, noise, err := replay.LoadTraces(parser, cfg.LinkTrace, cfg.TraceMode, cfg.NoiseTrace)
	if err != nil {
		log.Fatalf("Failed to load traces: %v", err)
	}

	var ws sweep.Workspace
	if cfg.Isolate {
		root := cfg.WorkDir
		if root == "" {
			root = filepath.Join(cfg.LogDir, "work")
		}
		ws = &sweep.IsolatedWorkspace{
			FS:           fsutil.OSFileSystem{},
			NescDir:      cfg.NescDir,
			ConfigHeader: cfg.ConfigHeader,
			Root:         root,
			LogName:      cfg.LogName,
		}
	} else {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			log.Fatalf("Could not create log dir %s: %v", cfg.LogDir, err)
		}
		ws = &sweep.SharedWorkspace{
			NescDir:      cfg.NescDir,
			ConfigHeader: cfg.ConfigHeader,
			LogPath:      filepath.Join(cfg.LogDir, cfg.LogName),
		}
	}

	runner := sweep.NewRunner(
		config.NewMutator(),
		&build.Make{Command: cfg.BuildCommand},
		&replay.TrialRunner{
			Launcher:    &sim.BridgeLauncher{Command: cfg.SimulatorCommand},
			LinkTrace:   lt,
			Noise:       noise,
			BootTime:    cfg.BootTime,
			StepTimeout: stepTimeout,
		},
		&analysis.Command{Argv: cfg.AnalyzerCommand},
		ws,
	)

	sinks, closeSinks, err := openSinks(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer closeSinks()
	runner.Sink = sinks

	lo, hi := cfg.PacketRange()
	plan := sweep.Plan{
		Values:         sweepValues,
		Variable:       sweepVar,
		Base:           sweep.Setting{Config: cfg.Template(0), GainShift: cfg.GainShift},
		TrialsPerPoint: cfg.Trials,
		BaseSeed:       cfg.BaseSeed,
		SeedStride:     cfg.SeedStride,
		Workers:        cfg.Workers,
		PacketRange:    analysis.PacketRange{Lo: lo, Hi: hi},
		FinishTime:     cfg.FinishTime,
		NoiseTrace:     cfg.NoiseTrace,
		LinkTrace:      cfg.LinkTrace,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("%s: %s sweep over %d values x %d trials (%s trace %s)",
		version.String(), cfg.Variable, len(sweepValues), cfg.Trials, lt.Mode, cfg.LinkTrace)
	summaries, err := runner.Run(ctx, plan)
	if err != nil {
		closeSinks()
		log.Fatalf("Sweep failed: %v", err)
	}
	state := runner.GetSweepState()
	log.Printf("Sweep %s complete: %d/%d points, %d failures", state.RunID, len(summaries), len(sweepValues), len(state.Failures))
}

// openSinks opens every configured output. The summary table is appended to
// <log_dir>/output/<result_name> and echoed to stdout.
func openSinks(cfg *config.ExperimentConfig) (sweep.MultiSink, func(), error) {
	var sinks sweep.MultiSink
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
		closers = nil
	}

	outDir := cfg.OutputDir()
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, closeAll, fmt.Errorf("could not create output dir %s: %w", outDir, err)
	}
	resultPath := filepath.Join(outDir, cfg.ResultName)
	f, err := os.OpenFile(resultPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, closeAll, fmt.Errorf("could not open result file %s: %w", resultPath, err)
	}
	closers = append(closers, f)
	sinks = append(sinks, sweep.NewSummaryWriter(io.MultiWriter(f, os.Stdout)))
	log.Printf("Appending results to %s", resultPath)

	if cfg.RawCSV {
		rawPath := strings.TrimSuffix(resultPath, filepath.Ext(resultPath)) +
			"-" + time.Now().Format("20060102-150405") + "-raw.csv"
		rf, err := os.Create(rawPath)
		if err != nil {
			closeAll()
			return nil, closeAll, fmt.Errorf("could not create raw output file %s: %w", rawPath, err)
		}
		closers = append(closers, rf)
		sinks = append(sinks, sweep.NewRawCSVWriter(rf))
		log.Printf("Writing raw trials to %s", rawPath)
	}

	if cfg.StorePath != "" {
		s, err := store.Open(cfg.StorePath)
		if err != nil {
			closeAll()
			return nil, closeAll, fmt.Errorf("could not open store %s: %w", cfg.StorePath, err)
		}
		closers = append(closers, s)
		sinks = append(sinks, s.NewSink(timeutil.RealClock{}))
	}

	if cfg.ChartPNG != "" || cfg.ChartHTML != "" {
		sinks = append(sinks, report.NewChartSink(cfg.ChartPNG, cfg.ChartHTML))
	}
	return sinks, closeAll, nil
}
