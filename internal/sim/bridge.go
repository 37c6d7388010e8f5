package sim

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/weisiCeltics/teacp/internal/monitoring"
	"github.com/weisiCeltics/teacp/internal/trace"
)

var logf = monitoring.Component("sim")

// Environment variables handed to the bridge process.
const (
	EnvProtocol = "TEACP_PROTOCOL"
	EnvBuildDir = "TEACP_BUILD_DIR"
	EnvLogPath  = "TEACP_LOG"
)

// BridgeLauncher starts the simulator as a child process that speaks
// newline-delimited JSON on stdin/stdout. Each request is one object with an
// "op" field; each reply is one object:
//
//	-> {"op":"hello"}
//	<- {"ok":true,"ticks_per_second":10000000000,"time":0}
//	-> {"op":"run_next_event"}
//	<- {"ok":true,"ran":true,"time":123456}
//	-> {"op":"set_link_gain","src":1,"dst":2,"gain":-54}
//	<- {"ok":true}
//
// Other ops: add_noise_reading {node,value}, create_noise_model {node},
// boot_at_time {node,ticks}, close. A reply with "ok":false carries "error".
type BridgeLauncher struct {
	// Command is the argv of the bridge process.
	Command []string
	// Dir is the working directory; defaults to the LaunchSpec BuildDir.
	Dir string
	// Env is appended to the current environment.
	Env []string
	// CallTimeout bounds every request other than run_next_event, which is
	// bounded by its caller's context. Zero means 30s.
	CallTimeout time.Duration
}

// Launch starts the bridge and performs the hello handshake.
func (l *BridgeLauncher) Launch(ctx context.Context, spec LaunchSpec) (Session, error) {
	if len(l.Command) == 0 {
		return nil, errors.New("bridge command is empty")
	}

	cmd := exec.Command(l.Command[0], l.Command[1:]...)
	cmd.Dir = l.Dir
	if cmd.Dir == "" {
		cmd.Dir = spec.BuildDir
	}
	cmd.Env = append(os.Environ(), l.Env...)
	cmd.Env = append(cmd.Env,
		EnvProtocol+"="+spec.Protocol,
		EnvBuildDir+"="+spec.BuildDir,
		EnvLogPath+"="+spec.LogPath,
	)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start bridge %q: %w", l.Command[0], err)
	}

	timeout := l.CallTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	b := &Bridge{
		cmd:         cmd,
		stdin:       stdin,
		enc:         json.NewEncoder(stdin),
		replies:     make(chan reply),
		done:        make(chan struct{}),
		readDone:    make(chan struct{}),
		callTimeout: timeout,
	}
	go b.readLoop(stdout)

	r, err := b.call(ctx, request{Op: "hello"})
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("bridge handshake: %w", err)
	}
	if r.TicksPerSecond == nil || *r.TicksPerSecond <= 0 {
		b.broken = errors.New("no ticks_per_second")
		b.kill()
		b.Close()
		return nil, errors.New("bridge handshake: missing ticks_per_second")
	}
	b.tps = *r.TicksPerSecond
	logf("bridge started pid=%d protocol=%s ticks/s=%d", cmd.Process.Pid, spec.Protocol, b.tps)
	return b, nil
}

type request struct {
	Op    string   `json:"op"`
	Src   *int     `json:"src,omitempty"`
	Dst   *int     `json:"dst,omitempty"`
	Gain  *float64 `json:"gain,omitempty"`
	Node  *int     `json:"node,omitempty"`
	Value *int     `json:"value,omitempty"`
	Ticks *int64   `json:"ticks,omitempty"`
}

type reply struct {
	OK             bool   `json:"ok"`
	Error          string `json:"error,omitempty"`
	Ran            bool   `json:"ran,omitempty"`
	Time           *int64 `json:"time,omitempty"`
	TicksPerSecond *int64 `json:"ticks_per_second,omitempty"`

	decodeErr error
}

// Bridge is a Session backed by a child process.
type Bridge struct {
	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	enc         *json.Encoder
	replies     chan reply
	done        chan struct{}
	readDone    chan struct{}
	callTimeout time.Duration

	tps    int64
	now    int64
	broken error
	closed bool
}

func (b *Bridge) readLoop(r io.Reader) {
	defer close(b.readDone)
	// Unread output is discarded so the child never blocks on a full pipe.
	defer io.Copy(io.Discard, r)
	defer close(b.replies)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rep reply
		if err := json.Unmarshal(scanner.Bytes(), &rep); err != nil {
			rep = reply{decodeErr: fmt.Errorf("decode reply %q: %w", scanner.Text(), err)}
		}
		select {
		case b.replies <- rep:
		case <-b.done:
			return
		}
	}
}

// call sends one request and waits for its reply. A cancelled wait leaves
// the stream out of step, so the bridge is killed and marked broken.
func (b *Bridge) call(ctx context.Context, req request) (reply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.broken != nil {
		return reply{}, fmt.Errorf("bridge unusable: %w", b.broken)
	}
	if err := b.enc.Encode(req); err != nil {
		b.broken = err
		return reply{}, fmt.Errorf("send %s: %w", req.Op, err)
	}

	select {
	case r, ok := <-b.replies:
		if !ok {
			b.broken = errors.New("bridge exited")
			return reply{}, fmt.Errorf("%s: %w", req.Op, b.broken)
		}
		if r.decodeErr != nil {
			b.broken = r.decodeErr
			return reply{}, r.decodeErr
		}
		if r.Time != nil {
			b.now = *r.Time
		}
		if !r.OK {
			return r, fmt.Errorf("%s: %s", req.Op, r.Error)
		}
		return r, nil
	case <-ctx.Done():
		b.broken = ctx.Err()
		b.killLocked()
		return reply{}, ctx.Err()
	}
}

func (b *Bridge) callBounded(req request) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.callTimeout)
	defer cancel()
	_, err := b.call(ctx, req)
	return err
}

// RunNextEvent implements Simulator.
func (b *Bridge) RunNextEvent(ctx context.Context) (bool, error) {
	r, err := b.call(ctx, request{Op: "run_next_event"})
	if err != nil {
		return false, err
	}
	return r.Ran, nil
}

// Time implements Simulator using the time reported with the last reply.
func (b *Bridge) Time() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now
}

// TicksPerSecond implements Simulator.
func (b *Bridge) TicksPerSecond() int64 { return b.tps }

// SetLinkGain implements Simulator.
func (b *Bridge) SetLinkGain(src, dst trace.NodeID, gain float64) error {
	s, d := int(src), int(dst)
	return b.callBounded(request{Op: "set_link_gain", Src: &s, Dst: &d, Gain: &gain})
}

// AddNoiseReading implements Simulator.
func (b *Bridge) AddNoiseReading(node trace.NodeID, value int) error {
	n := int(node)
	return b.callBounded(request{Op: "add_noise_reading", Node: &n, Value: &value})
}

// CreateNoiseModel implements Simulator.
func (b *Bridge) CreateNoiseModel(node trace.NodeID) error {
	n := int(node)
	return b.callBounded(request{Op: "create_noise_model", Node: &n})
}

// BootAtTime implements Simulator.
func (b *Bridge) BootAtTime(node trace.NodeID, ticks int64) error {
	n := int(node)
	return b.callBounded(request{Op: "boot_at_time", Node: &n, Ticks: &ticks})
}

// Close asks the bridge to exit and waits for it, killing it if it lingers.
// The process is reaped only after the reader has drained stdout.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	healthy := b.broken == nil
	b.mu.Unlock()

	if healthy {
		if err := b.callBounded(request{Op: "close"}); err != nil {
			logf("bridge close request failed: %v", err)
		}
	}
	b.stdin.Close()
	close(b.done)

	deadline := time.NewTimer(b.callTimeout)
	defer deadline.Stop()
	killed := false
	select {
	case <-b.readDone:
	case <-deadline.C:
		b.kill()
		killed = true
		<-b.readDone
	}

	done := make(chan error, 1)
	go func() { done <- b.cmd.Wait() }()
	var err error
	if killed {
		err = <-done
	} else {
		select {
		case err = <-done:
		case <-deadline.C:
			b.kill()
			killed = true
			<-done
		}
	}
	if killed {
		return errors.New("bridge did not exit, killed")
	}
	if err != nil && healthy {
		return fmt.Errorf("bridge exit: %w", err)
	}
	return nil
}

func (b *Bridge) kill() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.killLocked()
}

func (b *Bridge) killLocked() {
	if b.cmd.Process != nil {
		_ = b.cmd.Process.Kill()
	}
}
