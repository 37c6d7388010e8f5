// Package store keeps sweep results in a SQLite database.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/weisiCeltics/teacp/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var logf = monitoring.Component("store")

// Store is the results database.
type Store struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	dsn := "file:" + path +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := &Store{DB: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MigrateUp applies every pending embedded migration.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Closing m would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the schema version; 0 when nothing is applied.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// Run is one row of sweep_runs.
type Run struct {
	ID         string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     string     `json:"status"`
	Protocol   string     `json:"protocol"`
	QueueType  string     `json:"queue_type"`
	Variable   string     `json:"variable"`
	NoiseTrace string     `json:"noise_trace"`
	LinkTrace  string     `json:"link_trace"`
	Trials     int        `json:"trials"`
}

// Runs lists sweeps, newest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.Query(`
		SELECT run_id, started_at, finished_at, status, protocol, queue_type,
		       variable, noise_trace, link_trace, trials
		  FROM sweep_runs
		 ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.Status, &r.Protocol, &r.QueueType,
			&r.Variable, &r.NoiseTrace, &r.LinkTrace, &r.Trials); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// PointRow is one aggregated sweep point.
type PointRow struct {
	Value        float64 `json:"value"`
	DeliveryMean float64 `json:"delivery_mean"`
	DeliveryStd  float64 `json:"delivery_std"`
	DelayMean    float64 `json:"delay_mean"`
	DelayStd     float64 `json:"delay_std"`
	GoodputMean  float64 `json:"goodput_mean"`
	GoodputStd   float64 `json:"goodput_std"`
}

// Points returns a run's aggregated points in sweep order.
func (s *Store) Points(runID string) ([]PointRow, error) {
	rows, err := s.Query(`
		SELECT value, delivery_mean, delivery_std, delay_mean, delay_std, goodput_mean, goodput_std
		  FROM sweep_points
		 WHERE run_id = ?
		 ORDER BY point_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PointRow
	for rows.Next() {
		var p PointRow
		if err := rows.Scan(&p.Value, &p.DeliveryMean, &p.DeliveryStd, &p.DelayMean, &p.DelayStd, &p.GoodputMean, &p.GoodputStd); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// AttachAdminRoutes mounts the tailsql console and run listings on the
// tsweb debug page of mux.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.DB, &tailsql.DBOptions{
		Label: "Sweep results",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("runs", "Sweep runs (JSON)", http.HandlerFunc(s.serveRuns))
	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(s.serveBackup))
	logf("admin routes attached for %s", s.path)
	return nil
}
