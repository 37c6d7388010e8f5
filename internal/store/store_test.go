package store

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisiCeltics/teacp/internal/analysis"
	"github.com/weisiCeltics/teacp/internal/config"
	"github.com/weisiCeltics/teacp/internal/monitoring"
	"github.com/weisiCeltics/teacp/internal/replay"
	"github.com/weisiCeltics/teacp/internal/sweep"
	"github.com/weisiCeltics/teacp/internal/timeutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })

	s, err := Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// TestPragmasApplied verifies the connection PRAGMAs.
func TestPragmasApplied(t *testing.T) {
	s := openTestStore(t)

	var journalMode string
	if err := s.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Failed to query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode=wal, got %s", journalMode)
	}

	var busyTimeout int
	if err := s.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Failed to query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}

	var synchronous int
	if err := s.QueryRow("PRAGMA synchronous").Scan(&synchronous); err != nil {
		t.Fatalf("Failed to query synchronous: %v", err)
	}
	if synchronous != 1 { // NORMAL
		t.Errorf("Expected synchronous=1 (NORMAL), got %d", synchronous)
	}

	var tempStore int
	if err := s.QueryRow("PRAGMA temp_store").Scan(&tempStore); err != nil {
		t.Fatalf("Failed to query temp_store: %v", err)
	}
	if tempStore != 2 { // MEMORY
		t.Errorf("Expected temp_store=2 (MEMORY), got %d", tempStore)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	s := openTestStore(t)

	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)

	// second Up is a no-op
	require.NoError(t, s.MigrateUp())

	for _, table := range []string{"sweep_runs", "sweep_points", "trial_results", "trial_failures"} {
		var name string
		err := s.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestReopenExistingDatabase(t *testing.T) {
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	defer func() { monitoring.Logf = original }()

	path := filepath.Join(t.TempDir(), "results.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	version, _, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func samplePoint(index int, value float64, delivery ...float64) sweep.Point {
	p := sweep.Point{Index: index, Value: value, Setting: sweep.Setting{GainShift: -2}}
	for i, d := range delivery {
		p.Trials = append(p.Trials, sweep.TrialOutcome{
			Trial:  i + 1,
			Seed:   101 * i,
			Config: config.TrialConfig{Protocol: config.ProtocolCTP, PacketInterval: 512},
			Result: analysis.Result{DeliveryRate: d, AvgDelay: 40, Goodput: 10},
			Replay: replay.Stats{Steps: 7, SimMillis: 1500},
		})
	}
	return p
}

func TestSinkRecordsSweep(t *testing.T) {
	s := openTestStore(t)
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	sink := s.NewSink(clock)

	info := sweep.RunInfo{
		ID:         "run-1",
		StartedAt:  start,
		Protocol:   config.ProtocolCTP,
		QueueType:  config.QueueNA,
		NoiseTrace: "meyer-heavy.txt",
		LinkTrace:  "rssi.txt",
		Variable:   "packet_rate",
		Trials:     2,
	}
	require.NoError(t, sink.Begin(info))

	runs, err := s.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusRunning, runs[0].Status)
	assert.Nil(t, runs[0].FinishedAt)

	p := samplePoint(0, 2, 0.9, 0.8)
	sum := sweep.Summary{Value: 2, Trials: 2, DeliveryMean: 0.85, DeliveryStd: 0.05, DelayMean: 40, GoodputMean: 10}
	require.NoError(t, sink.Point(p, sum))
	require.NoError(t, sink.Failure(sweep.Failure{
		Value: 4, Trial: 3, Seed: 202, Kind: sweep.KindBuild, Err: errors.New("make exited 2"),
	}))

	clock.Advance(90 * time.Second)
	require.NoError(t, sink.End())

	runs, err = s.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	got := runs[0]
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, StatusComplete, got.Status)
	assert.Equal(t, "ctp", got.Protocol)
	assert.Equal(t, "N/A", got.QueueType)
	assert.Equal(t, 2, got.Trials)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(start.Add(90*time.Second)), "finished at %v", got.FinishedAt)

	points, err := s.Points("run-1")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, PointRow{Value: 2, DeliveryMean: 0.85, DeliveryStd: 0.05, DelayMean: 40, GoodputMean: 10}, points[0])

	n, err := s.CountTrials("run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	failures, err := s.Failures("run-1")
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, FailureRow{Value: 4, Trial: 3, Seed: 202, Kind: "BuildFailure", Message: "make exited 2"}, failures[0])
}

func TestSinkRejectsDuplicatePoint(t *testing.T) {
	s := openTestStore(t)
	sink := s.NewSink(nil)
	require.NoError(t, sink.Begin(sweep.RunInfo{ID: "dup", StartedAt: time.Now(), Trials: 1}))

	p := samplePoint(0, 1, 0.5)
	require.NoError(t, sink.Point(p, sweep.Summary{Value: 1, Trials: 1}))
	assert.Error(t, sink.Point(p, sweep.Summary{Value: 1, Trials: 1}))

	// the failed transaction must not leave partial trial rows
	n, err := s.CountTrials("dup")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestServeRuns(t *testing.T) {
	s := openTestStore(t)
	sink := s.NewSink(nil)
	require.NoError(t, sink.Begin(sweep.RunInfo{ID: "abc", StartedAt: time.Now(), Protocol: config.ProtocolBCP, QueueType: config.QueueLIFO, Trials: 1}))
	require.NoError(t, sink.Point(samplePoint(0, 8, 0.7), sweep.Summary{Value: 8, Trials: 1, DeliveryMean: 0.7}))

	t.Run("list", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.serveRuns(w, httptest.NewRequest(http.MethodGet, "/debug/runs", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var runs []Run
		require.NoError(t, json.NewDecoder(w.Body).Decode(&runs))
		require.Len(t, runs, 1)
		assert.Equal(t, "bcp", runs[0].Protocol)
	})

	t.Run("detail", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.serveRuns(w, httptest.NewRequest(http.MethodGet, "/debug/runs?id=abc", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var d runDetail
		require.NoError(t, json.NewDecoder(w.Body).Decode(&d))
		require.Len(t, d.Points, 1)
		assert.Equal(t, 0.7, d.Points[0].DeliveryMean)
	})

	t.Run("unknown id", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.serveRuns(w, httptest.NewRequest(http.MethodGet, "/debug/runs?id=nope", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("method", func(t *testing.T) {
		w := httptest.NewRecorder()
		s.serveRuns(w, httptest.NewRequest(http.MethodPost, "/debug/runs", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestAttachAdminRoutes(t *testing.T) {
	s := openTestStore(t)
	mux := http.NewServeMux()
	require.NoError(t, s.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/runs", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	// registered; access control may answer 403 for non-local callers
	if w.Code == http.StatusNotFound {
		t.Error("Route /debug/runs should be registered, got 404")
	}
}

func TestBackup(t *testing.T) {
	s := openTestStore(t)
	sink := s.NewSink(nil)
	require.NoError(t, sink.Begin(sweep.RunInfo{ID: "kept", StartedAt: time.Now(), Trials: 1}))

	dir := t.TempDir()
	path, err := s.Backup(dir, time.Unix(1712000000, 0))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "results-backup-1712000000.db"), path)

	copied, err := Open(path)
	require.NoError(t, err)
	defer copied.Close()
	runs, err := copied.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "kept", runs[0].ID)
}

func TestServeBackup(t *testing.T) {
	s := openTestStore(t)

	w := httptest.NewRecorder()
	s.serveBackup(w, httptest.NewRequest(http.MethodGet, "/debug/backup", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "results-backup-")
	assert.True(t, strings.HasPrefix(w.Body.String(), "SQLite format 3"), "expected a sqlite file")

	w = httptest.NewRecorder()
	s.serveBackup(w, httptest.NewRequest(http.MethodPost, "/debug/backup", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
