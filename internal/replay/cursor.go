package replay

import (
	"github.com/weisiCeltics/teacp/internal/trace"
)

// cursor walks a dynamic trace forever, shifting each pass by the last
// effective time reached in the previous one.
type cursor struct {
	path   string
	events []trace.LinkGainEvent

	idx         int
	pass        int
	offset      int64
	lastApplied int64
}

func newCursor(lt *trace.LinkTrace) *cursor {
	return &cursor{path: lt.Path, events: lt.Events}
}

// next returns the next event and its effective time, wrapping around at the
// end of a pass.
func (c *cursor) next() (trace.LinkGainEvent, int64, error) {
	if len(c.events) == 0 {
		return trace.LinkGainEvent{}, 0, &trace.FormatError{Path: c.path, Reason: "no link gain events"}
	}
	if c.pass == 0 || c.idx == len(c.events) {
		if c.pass > 0 && c.lastApplied <= c.offset {
			return trace.LinkGainEvent{}, 0, &trace.FormatError{
				Path:   c.path,
				Reason: "trace period is zero, wraparound cannot make progress",
			}
		}
		c.offset = c.lastApplied
		c.idx = 0
		c.pass++
	}
	ev := c.events[c.idx]
	c.idx++
	return ev, ev.Timestamp + c.offset, nil
}

func (c *cursor) applied(eff int64) {
	c.lastApplied = eff
}
