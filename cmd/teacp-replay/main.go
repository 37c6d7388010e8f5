// Command teacp-replay replays one link-gain trace into an already built
// simulator image, optionally analyzing the resulting log.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/weisiCeltics/teacp/internal/analysis"
	"github.com/weisiCeltics/teacp/internal/config"
	"github.com/weisiCeltics/teacp/internal/fsutil"
	"github.com/weisiCeltics/teacp/internal/replay"
	"github.com/weisiCeltics/teacp/internal/sim"
	"github.com/weisiCeltics/teacp/internal/trace"
	"github.com/weisiCeltics/teacp/internal/version"
)

var (
	protocol    = flag.String("protocol", string(config.ProtocolCTP), "Protocol whose build directory holds the simulator image")
	buildDir    = flag.String("build-dir", "", "Directory of the compiled simulator (defaults to nesc/<protocol>)")
	linkTrace   = flag.String("link-trace", "", "Link gain trace")
	mode        = flag.String("mode", "", "Trace mode: static or dynamic (inferred from path when empty)")
	noiseTrace  = flag.String("noise-trace", "", "Noise trace")
	strict      = flag.Bool("strict-traces", false, "Reject malformed trace lines instead of skipping them")
	finish      = flag.Int64("finish", 0, "Simulated finish time in ms (0 with -interval derives it)")
	interval    = flag.Int("interval", config.DefaultReferenceRate, "Packet interval in ms, used to derive -finish")
	packets     = flag.Int("packets", config.DefaultNumPackets, "Packets per node, used to derive -finish")
	shift       = flag.Float64("shift", 0, "Constant added to every replayed gain (dB)")
	boot        = flag.Int64("boot", config.DefaultBootTime, "Boot time in simulator ticks")
	stepTimeout = flag.Duration("step-timeout", config.DefaultStepTimeout, "Wall-clock bound on a single simulator step (0 disables)")
	logPath     = flag.String("log", config.DefaultLogName, "Simulation log the bridge writes to")
	simCmd      = flag.String("simulator", "", "Simulator bridge command (space separated)")
	analyzerCmd = flag.String("analyzer", "", "Analyzer command; when set the log is analyzed after the replay")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

type output struct {
	Protocol  string           `json:"protocol"`
	Mode      string           `json:"mode"`
	LinkTrace string           `json:"link_trace"`
	Finish    int64            `json:"finish_ms"`
	Steps     int              `json:"steps"`
	Passes    int              `json:"passes"`
	Applied   int              `json:"applied"`
	SimMillis float64          `json:"sim_ms"`
	Elapsed   float64          `json:"elapsed_s"`
	Result    *analysis.Result `json:"result,omitempty"`
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	argv := strings.Fields(*simCmd)
	if len(argv) == 0 {
		log.Fatalf("-simulator is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := run(ctx, fsutil.OSFileSystem{}, &sim.BridgeLauncher{Command: argv})
	if err != nil {
		log.Fatal(err)
	}
	if err := writeOutput(os.Stdout, out); err != nil {
		log.Fatalf("Failed to write output: %v", err)
	}
}

// simBuildDir is the directory holding the compiled image for proto.
func simBuildDir(dir, proto string) string {
	if dir != "" {
		return dir
	}
	return "nesc/" + proto
}

// run replays the traces named by the flags through launcher and, when an
// analyzer is configured, analyzes the resulting log.
func run(ctx context.Context, fs fsutil.FileSystem, launcher sim.Launcher) (output, error) {
	if *linkTrace == "" || *noiseTrace == "" {
		return output{}, errors.New("both -link-trace and -noise-trace are required")
	}

	parser := &trace.Parser{FS: fs, Strict: *strict}
	lt, noise, err := replay.LoadTraces(parser, *linkTrace, *mode, *noiseTrace)
	if err != nil {
		return output{}, fmt.Errorf("load traces: %w", err)
	}

	exp := config.DefaultExperimentConfig()
	exp.NumPackets = *packets
	exp.FinishTimeMs = *finish
	finishMs := exp.FinishTime(*interval)

	runner := &replay.TrialRunner{
		Launcher:    launcher,
		LinkTrace:   lt,
		Noise:       noise,
		BootTime:    *boot,
		StepTimeout: *stepTimeout,
	}
	start := time.Now()
	stats, err := runner.Replay(ctx, replay.Request{
		Protocol:   *protocol,
		BuildDir:   simBuildDir(*buildDir, *protocol),
		LogPath:    *logPath,
		FinishTime: finishMs,
		GainShift:  *shift,
	})
	if err != nil {
		return output{}, fmt.Errorf("replay failed after %d steps: %w", stats.Steps, err)
	}

	out := output{
		Protocol:  *protocol,
		Mode:      lt.Mode.String(),
		LinkTrace: *linkTrace,
		Finish:    finishMs,
		Steps:     stats.Steps,
		Passes:    stats.Passes,
		Applied:   stats.Applied,
		SimMillis: stats.SimMillis,
		Elapsed:   time.Since(start).Seconds(),
	}

	if a := strings.Fields(*analyzerCmd); len(a) > 0 {
		lo, hi := exp.PacketRange()
		res, err := (&analysis.Command{Argv: a}).Analyze(ctx, *logPath, analysis.PacketRange{Lo: lo, Hi: hi})
		if err != nil {
			return output{}, fmt.Errorf("analysis: %w", err)
		}
		out.Result = &res
	}
	return out, nil
}

func writeOutput(w io.Writer, out output) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
