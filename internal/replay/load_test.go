package replay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisiCeltics/teacp/internal/fsutil"
	"github.com/weisiCeltics/teacp/internal/trace"
)

func newTraceFS(t *testing.T) *fsutil.MemoryFileSystem {
	t.Helper()
	mem := fsutil.NewMemoryFileSystem()
	files := map[string]string{
		"/traces/linkgain/static/grid.txt": "gain 0 1 -60\ngain 1 0 -61\nnoise 0 -98 4\n",
		"/traces/linkgain/dynamic/walk.txt": "100 0 1 -50\n200 1 2 -51\n",
		"/traces/linkgain/flat.txt":         "100 0 1 -50\n",
		"/traces/noise/meyer.txt":           "-98\n-97\n\n-96\n",
	}
	for path, body := range files {
		require.NoError(t, mem.WriteFile(path, []byte(body), 0o644))
	}
	return mem
}

func TestLoadTraces(t *testing.T) {
	p := &trace.Parser{FS: newTraceFS(t)}

	tests := []struct {
		name     string
		path     string
		mode     string
		wantMode trace.Mode
		wantLen  int
	}{
		{"inferred static", "/traces/linkgain/static/grid.txt", "", trace.Static, 2},
		{"inferred dynamic", "/traces/linkgain/dynamic/walk.txt", "", trace.Dynamic, 2},
		{"fallback dynamic", "/traces/linkgain/flat.txt", "", trace.Dynamic, 1},
		{"explicit", "/traces/linkgain/flat.txt", "dynamic", trace.Dynamic, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lt, noise, err := LoadTraces(p, tt.path, tt.mode, "/traces/noise/meyer.txt")
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, lt.Mode)
			assert.Len(t, lt.Events, tt.wantLen)
			assert.Equal(t, []int{-98, -97, -96}, noise)
		})
	}
}

func TestLoadTracesErrors(t *testing.T) {
	p := &trace.Parser{FS: newTraceFS(t)}

	_, _, err := LoadTraces(p, "/traces/linkgain/flat.txt", "sideways", "/traces/noise/meyer.txt")
	assert.Error(t, err)

	_, _, err = LoadTraces(p, "/traces/missing.txt", "", "/traces/noise/meyer.txt")
	assert.True(t, errors.Is(err, trace.ErrTraceFormat), "got %v", err)

	_, _, err = LoadTraces(p, "/traces/linkgain/flat.txt", "", "/traces/noise/none.txt")
	assert.True(t, errors.Is(err, trace.ErrTraceFormat), "got %v", err)
}

func TestModeName(t *testing.T) {
	assert.Equal(t, "static", ModeName("config/linkgain/static/x.txt", ""))
	assert.Equal(t, "dynamic", ModeName("x.txt", ""))
	assert.Contains(t, ModeName("x.txt", "bogus"), "invalid")
}
