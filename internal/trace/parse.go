package trace

import (
	"bufio"
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/weisiCeltics/teacp/internal/fsutil"
	"github.com/weisiCeltics/teacp/internal/monitoring"
)

var logf = monitoring.Component("trace")

// Parser reads trace files through a FileSystem.
//
// By default malformed link-trace lines are skipped and counted, matching
// how recorded traces have always been consumed. Strict turns the first
// malformed line into a FormatError instead.
type Parser struct {
	FS     fsutil.FileSystem
	Strict bool
}

// NewParser returns a lenient parser over the OS filesystem.
func NewParser() *Parser {
	return &Parser{FS: fsutil.OSFileSystem{}}
}

// ParseLinkTrace reads path from the OS filesystem with a lenient parser.
func ParseLinkTrace(path string, mode Mode) (*LinkTrace, error) {
	return NewParser().LinkTrace(path, mode)
}

// ParseNoiseTrace reads path from the OS filesystem.
func ParseNoiseTrace(path string) ([]int, error) {
	return NewParser().NoiseTrace(path)
}

// LinkTrace parses a link-gain trace and discovers its node set.
func (p *Parser) LinkTrace(path string, mode Mode) (*LinkTrace, error) {
	data, err := p.read(path)
	if err != nil {
		return nil, err
	}

	lt := &LinkTrace{Path: path, Mode: mode}
	nodes := newNodeSet()
	var lastTS int64

	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		var ev LinkGainEvent
		var ok bool
		switch mode {
		case Static:
			if fields[0] != "gain" {
				// noise and other topology directives are not link entries
				continue
			}
			ev, ok = parseStaticFields(fields)
		case Dynamic:
			ev, ok = parseDynamicFields(fields)
		default:
			return nil, &FormatError{Path: path, Reason: fmt.Sprintf("unsupported mode %v", mode)}
		}

		if !ok {
			if p.Strict {
				return nil, &FormatError{Path: path, Line: lineNo, Reason: fmt.Sprintf("malformed %s entry %q", mode, scanner.Text())}
			}
			lt.Skipped++
			continue
		}

		if mode == Dynamic {
			if ev.Timestamp < 0 {
				return nil, &FormatError{Path: path, Line: lineNo, Reason: fmt.Sprintf("negative timestamp %d", ev.Timestamp)}
			}
			if len(lt.Events) > 0 && ev.Timestamp < lastTS {
				return nil, &FormatError{Path: path, Line: lineNo, Reason: fmt.Sprintf("timestamp %d precedes %d", ev.Timestamp, lastTS)}
			}
			lastTS = ev.Timestamp
		}

		nodes.add(ev.A)
		nodes.add(ev.B)
		lt.Events = append(lt.Events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, &FormatError{Path: path, Reason: "read failed", Err: err}
	}

	if len(lt.Events) == 0 {
		return nil, &FormatError{Path: path, Reason: fmt.Sprintf("no usable %s link entries", mode)}
	}
	if lt.Skipped > 0 {
		logf("%s: skipped %d malformed line(s)", path, lt.Skipped)
	}

	lt.Nodes = nodes.order
	return lt, nil
}

// NoiseTrace parses one integer reading per non-empty line.
func (p *Parser) NoiseTrace(path string) ([]int, error) {
	data, err := p.read(path)
	if err != nil {
		return nil, err
	}

	var readings []int
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		s := strings.TrimSpace(scanner.Text())
		if s == "" {
			continue
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, &FormatError{Path: path, Line: lineNo, Reason: fmt.Sprintf("noise reading %q is not an integer", s)}
		}
		readings = append(readings, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, &FormatError{Path: path, Reason: "read failed", Err: err}
	}
	if len(readings) == 0 {
		return nil, &FormatError{Path: path, Reason: "no noise readings"}
	}
	return readings, nil
}

func (p *Parser) read(path string) ([]byte, error) {
	fs := p.FS
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, &FormatError{Path: path, Reason: "unreadable", Err: err}
	}
	return data, nil
}

func parseDynamicFields(fields []string) (LinkGainEvent, bool) {
	if len(fields) != 4 {
		return LinkGainEvent{}, false
	}
	ts, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return LinkGainEvent{}, false
	}
	return parsePair(ts, fields[1], fields[2], fields[3])
}

func parseStaticFields(fields []string) (LinkGainEvent, bool) {
	if len(fields) != 4 {
		return LinkGainEvent{}, false
	}
	return parsePair(0, fields[1], fields[2], fields[3])
}

func parsePair(ts int64, a, b, gain string) (LinkGainEvent, bool) {
	na, err := strconv.Atoi(a)
	if err != nil {
		return LinkGainEvent{}, false
	}
	nb, err := strconv.Atoi(b)
	if err != nil {
		return LinkGainEvent{}, false
	}
	g, err := strconv.ParseFloat(gain, 64)
	if err != nil || math.IsNaN(g) || math.IsInf(g, 0) {
		return LinkGainEvent{}, false
	}
	return LinkGainEvent{Timestamp: ts, A: NodeID(na), B: NodeID(nb), Gain: g}, true
}
