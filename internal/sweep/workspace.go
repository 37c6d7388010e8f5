package sweep

import (
	"fmt"
	"path/filepath"

	"github.com/weisiCeltics/teacp/internal/fsutil"
)

// TrialDirs are the paths one trial writes to.
type TrialDirs struct {
	// ConfigPath is the header the Mutator rewrites. Protocol builds live
	// in sibling directories named after the protocol.
	ConfigPath string
	LogPath    string
	// Root is removed on Release when it is trial-private.
	Root string
}

// BuildDir is where the protocol image for this trial is compiled.
func (d TrialDirs) BuildDir(protocol string) string {
	return filepath.Join(filepath.Dir(d.ConfigPath), protocol)
}

// Workspace hands out trial directories.
type Workspace interface {
	// Isolated reports whether concurrent trials get disjoint directories.
	Isolated() bool
	Prepare(point, trial int) (TrialDirs, error)
	Release(TrialDirs) error
}

// SharedWorkspace mutates the nesC tree in place. Every trial uses the same
// header and log, so trials must run one at a time.
type SharedWorkspace struct {
	NescDir      string
	ConfigHeader string
	LogPath      string
}

func (w *SharedWorkspace) Isolated() bool { return false }

func (w *SharedWorkspace) Prepare(point, trial int) (TrialDirs, error) {
	return TrialDirs{
		ConfigPath: filepath.Join(w.NescDir, w.ConfigHeader),
		LogPath:    w.LogPath,
	}, nil
}

func (w *SharedWorkspace) Release(TrialDirs) error { return nil }

// IsolatedWorkspace copies the nesC tree into a private directory per trial
// under Root. The trial log stays after Release; the copied tree does not.
type IsolatedWorkspace struct {
	FS           fsutil.FileSystem
	NescDir      string
	ConfigHeader string
	Root         string
	LogName      string
}

func (w *IsolatedWorkspace) Isolated() bool { return true }

func (w *IsolatedWorkspace) fs() fsutil.FileSystem {
	if w.FS == nil {
		return fsutil.OSFileSystem{}
	}
	return w.FS
}

func (w *IsolatedWorkspace) Prepare(point, trial int) (TrialDirs, error) {
	dir := filepath.Join(w.Root, fmt.Sprintf("p%03d-t%02d", point, trial))
	tree := filepath.Join(dir, filepath.Base(w.NescDir))
	fs := w.fs()
	if err := fs.RemoveAll(tree); err != nil {
		return TrialDirs{}, fmt.Errorf("clear workspace %s: %w", tree, err)
	}
	if err := fs.CopyTree(w.NescDir, tree); err != nil {
		return TrialDirs{}, fmt.Errorf("copy %s to workspace: %w", w.NescDir, err)
	}
	logName := w.LogName
	if logName == "" {
		logName = "simulation.log"
	}
	return TrialDirs{
		ConfigPath: filepath.Join(tree, w.ConfigHeader),
		LogPath:    filepath.Join(dir, logName),
		Root:       tree,
	}, nil
}

func (w *IsolatedWorkspace) Release(d TrialDirs) error {
	if d.Root == "" {
		return nil
	}
	return w.fs().RemoveAll(d.Root)
}
