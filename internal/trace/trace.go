// Package trace parses recorded link-gain (RSSI) and noise traces and
// discovers the set of nodes they describe.
//
// Link-gain traces come in two shapes:
//
//	dynamic:  <timestamp_ms> <nodeA> <nodeB> <gain>
//	static:   gain <nodeA> <nodeB> <gain>
//
// Noise traces hold one integer reading per non-empty line.
package trace

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// NodeID identifies a simulated mote. Node 0 is the collection sink.
type NodeID int

// SinkNode is always part of a discovered node set.
const SinkNode NodeID = 0

// Mode selects how a link-gain trace is interpreted.
type Mode int

const (
	// Dynamic traces are time-ordered gain updates replayed against
	// simulated time.
	Dynamic Mode = iota
	// Static traces are a single snapshot applied before the run starts.
	Static
)

func (m Mode) String() string {
	switch m {
	case Dynamic:
		return "dynamic"
	case Static:
		return "static"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "static" or "dynamic".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dynamic":
		return Dynamic, nil
	case "static":
		return Static, nil
	}
	return 0, fmt.Errorf("unknown trace mode %q (want static or dynamic)", s)
}

// ModeForPath infers the mode from a "static" or "dynamic" directory in
// the trace path, the layout used under config/linkgain/.
func ModeForPath(path string) (Mode, bool) {
	for _, part := range strings.Split(filepath.ToSlash(filepath.Clean(path)), "/") {
		switch part {
		case "static":
			return Static, true
		case "dynamic":
			return Dynamic, true
		}
	}
	return 0, false
}

// LinkGainEvent is one gain record. Static entries carry Timestamp 0.
type LinkGainEvent struct {
	Timestamp int64
	A         NodeID
	B         NodeID
	Gain      float64
}

// LinkTrace is a parsed link-gain trace.
type LinkTrace struct {
	Path   string
	Mode   Mode
	Nodes  []NodeID // discovery order, Nodes[0] == SinkNode
	Events []LinkGainEvent

	// Skipped counts lines that did not form a usable entry.
	Skipped int
}

// Period returns the timestamp of the last event, which is the length of
// one replay pass for dynamic traces.
func (t *LinkTrace) Period() int64 {
	if len(t.Events) == 0 {
		return 0
	}
	return t.Events[len(t.Events)-1].Timestamp
}

// ErrTraceFormat is matched by every FormatError.
var ErrTraceFormat = errors.New("trace format error")

// FormatError reports unusable trace input. Line is 1-based and zero when
// the problem concerns the whole file.
type FormatError struct {
	Path   string
	Line   int
	Reason string
	Err    error
}

func (e *FormatError) Error() string {
	msg := e.Reason
	if e.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", e.Line, e.Reason)
	}
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "trace format error: " + msg
}

func (e *FormatError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrTraceFormat) match any FormatError.
func (e *FormatError) Is(target error) bool { return target == ErrTraceFormat }

// nodeSet is an insertion-ordered set of node ids.
type nodeSet struct {
	order []NodeID
	seen  map[NodeID]struct{}
}

func newNodeSet() *nodeSet {
	s := &nodeSet{seen: make(map[NodeID]struct{})}
	s.add(SinkNode)
	return s
}

func (s *nodeSet) add(id NodeID) {
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.order = append(s.order, id)
}
