package store

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/weisiCeltics/teacp/internal/httputil"
	"github.com/weisiCeltics/teacp/internal/security"
)

// Backup writes a consistent copy of the database into dir with VACUUM INTO
// and returns its path.
func (s *Store) Backup(dir string, now time.Time) (string, error) {
	base := strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))
	name := security.SafeName(fmt.Sprintf("%s-backup-%d.db", base, now.Unix()))
	out := filepath.Join(dir, name)
	if err := security.WithinDir(out, dir); err != nil {
		return "", err
	}
	if _, err := s.Exec("VACUUM INTO ?", out); err != nil {
		return "", fmt.Errorf("backup to %s: %w", out, err)
	}
	logf("backup written to %s", out)
	return out, nil
}

// serveBackup streams a fresh backup and removes it afterwards.
func (s *Store) serveBackup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	path, err := s.Backup(os.TempDir(), time.Now())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	defer os.Remove(path)

	f, err := os.Open(path)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(path)))
	if _, err := io.Copy(w, f); err != nil {
		logf("backup download interrupted: %v", err)
	}
}
