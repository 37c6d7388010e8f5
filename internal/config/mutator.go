package config

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/weisiCeltics/teacp/internal/fsutil"
)

// ErrConfigWrite is matched by every WriteError.
var ErrConfigWrite = errors.New("config write failed")

// WriteError reports a configuration header that could not be rewritten.
type WriteError struct {
	Path string
	// Directive is set when a required directive is missing.
	Directive string
	Err       error
}

func (e *WriteError) Error() string {
	var b strings.Builder
	b.WriteString("config write")
	if e.Path != "" {
		b.WriteString(" " + e.Path)
	}
	if e.Directive != "" {
		b.WriteString(": missing directive " + e.Directive)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *WriteError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrConfigWrite) match any WriteError.
func (e *WriteError) Is(target error) bool { return target == ErrConfigWrite }

// directive rewrites one line pattern. The pattern has three groups:
// everything before the value, the value, and everything after it.
type directive struct {
	name  string
	re    *regexp.Regexp
	value func(TrialConfig) string
}

var directives = []directive{
	{
		name:  "PACKET_INTERVAL",
		re:    regexp.MustCompile(`^(\s*PACKET_INTERVAL\s*=\s*)(-?\d+)(.*)$`),
		value: func(c TrialConfig) string { return strconv.Itoa(c.PacketInterval) },
	},
	{
		name:  "queue policy",
		re:    regexp.MustCompile(`^(\s*#define\s+)(LIFO|FIFO|N/A)(\s.*)?$`),
		value: func(c TrialConfig) string { return string(c.QueueType) },
	},
	{
		name:  "timer type",
		re:    regexp.MustCompile(`^(\s*#define\s+)(PERIODIC_TIMER|EXPONENTIAL_TIMER)(\s.*)?$`),
		value: func(c TrialConfig) string { return c.TimerType.define() },
	},
	{
		name:  "RNG_SEED",
		re:    regexp.MustCompile(`^(\s*RNG_SEED\s*=\s*)(-?\d+)(.*)$`),
		value: func(c TrialConfig) string { return strconv.Itoa(c.RNGSeed) },
	},
}

// Render rewrites the known directives of a nesC configuration header for
// cfg. Directive lines keep their indentation and alignment, every line loses
// trailing whitespace, and the result ends with a newline. Rendering its own
// output with the same cfg returns it unchanged.
func Render(text string, cfg TrialConfig) (string, error) {
	text = strings.TrimSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	seen := make([]bool, len(directives))

	for i, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		for d, dir := range directives {
			m := dir.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			line = strings.TrimRight(m[1]+dir.value(cfg)+m[3], " \t")
			seen[d] = true
			break
		}
		lines[i] = line
	}

	for d, ok := range seen {
		if !ok {
			return "", &WriteError{Directive: directives[d].name}
		}
	}
	return strings.Join(lines, "\n") + "\n", nil
}

// Mutator applies a TrialConfig to a header file on disk.
type Mutator struct {
	FS fsutil.FileSystem
}

// NewMutator returns a Mutator over the real filesystem.
func NewMutator() *Mutator {
	return &Mutator{FS: fsutil.OSFileSystem{}}
}

// Apply reads path, renders cfg into it and writes it back.
func (m *Mutator) Apply(path string, cfg TrialConfig) error {
	fs := m.FS
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	if err := cfg.Validate(); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	out, err := Render(string(data), cfg)
	if err != nil {
		var we *WriteError
		if errors.As(err, &we) {
			we.Path = path
			return we
		}
		return &WriteError{Path: path, Err: err}
	}
	if err := fs.WriteFile(path, []byte(out), 0o644); err != nil {
		return &WriteError{Path: path, Err: fmt.Errorf("write: %w", err)}
	}
	return nil
}
