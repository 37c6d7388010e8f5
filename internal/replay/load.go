package replay

import (
	"fmt"

	"github.com/weisiCeltics/teacp/internal/trace"
)

// LoadTraces parses the link and noise traces for a run. An empty mode is
// inferred from the link trace's directory, falling back to dynamic.
func LoadTraces(p *trace.Parser, linkPath, mode, noisePath string) (*trace.LinkTrace, []int, error) {
	m, err := resolveMode(linkPath, mode)
	if err != nil {
		return nil, nil, err
	}
	lt, err := p.LinkTrace(linkPath, m)
	if err != nil {
		return nil, nil, err
	}
	noise, err := p.NoiseTrace(noisePath)
	if err != nil {
		return nil, nil, err
	}
	logf("loaded %s trace %s: %d entries, %d nodes, %d skipped; noise %s: %d readings",
		lt.Mode, linkPath, len(lt.Events), len(lt.Nodes), lt.Skipped, noisePath, len(noise))
	return lt, noise, nil
}

func resolveMode(path, mode string) (trace.Mode, error) {
	if mode != "" {
		return trace.ParseMode(mode)
	}
	if m, ok := trace.ModeForPath(path); ok {
		return m, nil
	}
	logf("cannot infer trace mode from %s; assuming dynamic", path)
	return trace.Dynamic, nil
}

// ModeName reports the mode LoadTraces would use, for display.
func ModeName(path, mode string) string {
	m, err := resolveMode(path, mode)
	if err != nil {
		return fmt.Sprintf("invalid (%v)", err)
	}
	return m.String()
}
