package store

import (
	"database/sql"
	"fmt"
	"net/http"

	"github.com/weisiCeltics/teacp/internal/httputil"
	"github.com/weisiCeltics/teacp/internal/sweep"
	"github.com/weisiCeltics/teacp/internal/timeutil"
)

// Run statuses stored in sweep_runs.status.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
)

// Sink records a sweep into the store. It implements sweep.Sink.
type Sink struct {
	store *Store
	clock timeutil.Clock
	runID string
}

// NewSink returns a sink writing to s.
func (s *Store) NewSink(clock timeutil.Clock) *Sink {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Sink{store: s, clock: clock}
}

func (k *Sink) Begin(info sweep.RunInfo) error {
	k.runID = info.ID
	_, err := k.store.Exec(`
		INSERT INTO sweep_runs (run_id, started_at, status, protocol, queue_type, variable, noise_trace, link_trace, trials)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID, info.StartedAt.UTC(), StatusRunning, string(info.Protocol), string(info.QueueType),
		info.Variable, info.NoiseTrace, info.LinkTrace, info.Trials)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", info.ID, err)
	}
	return nil
}

func (k *Sink) Point(p sweep.Point, sum sweep.Summary) error {
	tx, err := k.store.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO sweep_points (run_id, point_index, value, delivery_mean, delivery_std, delay_mean, delay_std, goodput_mean, goodput_std)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		k.runID, p.Index, sum.Value, sum.DeliveryMean, sum.DeliveryStd,
		sum.DelayMean, sum.DelayStd, sum.GoodputMean, sum.GoodputStd); err != nil {
		return fmt.Errorf("insert point %g: %w", p.Value, err)
	}
	for _, t := range p.Trials {
		if _, err := tx.Exec(`
			INSERT INTO trial_results (run_id, value, trial, seed, packet_interval, gain_shift, delivery_rate, avg_delay, goodput, sim_steps, sim_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			k.runID, p.Value, t.Trial, t.Seed, t.Config.PacketInterval, p.Setting.GainShift,
			t.Result.DeliveryRate, t.Result.AvgDelay, t.Result.Goodput, t.Replay.Steps, t.Replay.SimMillis); err != nil {
			return fmt.Errorf("insert trial %d of %g: %w", t.Trial, p.Value, err)
		}
	}
	return tx.Commit()
}

func (k *Sink) Failure(f sweep.Failure) error {
	_, err := k.store.Exec(`
		INSERT INTO trial_failures (run_id, value, trial, seed, kind, message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		k.runID, f.Value, f.Trial, f.Seed, string(f.Kind), fmt.Sprint(f.Err), k.clock.Now().UTC())
	return err
}

func (k *Sink) End() error {
	_, err := k.store.Exec(`UPDATE sweep_runs SET status = ?, finished_at = ? WHERE run_id = ?`,
		StatusComplete, k.clock.Now().UTC(), k.runID)
	return err
}

// FailureRow is one row of trial_failures.
type FailureRow struct {
	Value   float64 `json:"value"`
	Trial   int     `json:"trial"`
	Seed    int     `json:"seed"`
	Kind    string  `json:"kind"`
	Message string  `json:"message"`
}

// Failures returns the failed trials of a run.
func (s *Store) Failures(runID string) ([]FailureRow, error) {
	rows, err := s.Query(`
		SELECT value, trial, seed, kind, message
		  FROM trial_failures
		 WHERE run_id = ?
		 ORDER BY rowid`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FailureRow
	for rows.Next() {
		var f FailureRow
		if err := rows.Scan(&f.Value, &f.Trial, &f.Seed, &f.Kind, &f.Message); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// CountTrials returns how many successful trials a run recorded.
func (s *Store) CountTrials(runID string) (int, error) {
	var n int
	err := s.QueryRow(`SELECT COUNT(*) FROM trial_results WHERE run_id = ?`, runID).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}

type runDetail struct {
	Run
	Points   []PointRow   `json:"points"`
	Failures []FailureRow `json:"failures,omitempty"`
}

// serveRuns lists runs, or a single run with its points when ?id= is set.
func (s *Store) serveRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	runs, err := s.Runs()
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		if runs == nil {
			runs = []Run{}
		}
		httputil.WriteJSON(w, http.StatusOK, runs)
		return
	}
	for _, run := range runs {
		if run.ID != id {
			continue
		}
		d := runDetail{Run: run}
		if d.Points, err = s.Points(id); err != nil {
			httputil.InternalError(w, err)
			return
		}
		if d.Failures, err = s.Failures(id); err != nil {
			httputil.InternalError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, d)
		return
	}
	httputil.NotFound(w, "run "+id)
}
