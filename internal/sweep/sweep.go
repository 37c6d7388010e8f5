// Package sweep runs repeated build, replay and analysis trials over a swept
// independent variable and aggregates them into summary rows.
package sweep

import (
	"fmt"
	"time"

	"github.com/weisiCeltics/teacp/internal/analysis"
	"github.com/weisiCeltics/teacp/internal/config"
	"github.com/weisiCeltics/teacp/internal/replay"
)

// TrialOutcome is one successful trial.
type TrialOutcome struct {
	Trial   int
	Seed    int
	Config  config.TrialConfig
	Result  analysis.Result
	Replay  replay.Stats
	Elapsed time.Duration
}

// Point is a completed sweep value. It owns exactly TrialsPerPoint outcomes.
type Point struct {
	Index   int
	Value   float64
	Setting Setting
	Trials  []TrialOutcome
}

// Summary is the aggregated row written for a Point.
type Summary struct {
	Value        float64 `json:"value"`
	Trials       int     `json:"trials"`
	DeliveryMean float64 `json:"delivery_mean"`
	DeliveryStd  float64 `json:"delivery_std"`
	DelayMean    float64 `json:"delay_mean"`
	DelayStd     float64 `json:"delay_std"`
	GoodputMean  float64 `json:"goodput_mean"`
	GoodputStd   float64 `json:"goodput_std"`
}

// Failure records a sweep value whose results were discarded.
type Failure struct {
	Value float64
	Trial int
	Seed  int
	Kind  Kind
	Err   error
}

func (f Failure) Error() string {
	return fmt.Sprintf("value %g trial %d seed %d: %s: %v", f.Value, f.Trial, f.Seed, f.Kind, f.Err)
}

// RunInfo describes a sweep to its sinks.
type RunInfo struct {
	ID         string
	StartedAt  time.Time
	Protocol   config.Protocol
	QueueType  config.QueueType
	NoiseTrace string
	LinkTrace  string
	Variable   string
	Column     string
	Trials     int
	Values     []float64
}

// SweepStatus represents the current state of a sweep run.
type SweepStatus string

const (
	SweepStatusIdle     SweepStatus = "idle"
	SweepStatusRunning  SweepStatus = "running"
	SweepStatusComplete SweepStatus = "complete"
	SweepStatusError    SweepStatus = "error"
)

// SweepState holds the progress and results of a sweep.
type SweepState struct {
	Status          SweepStatus `json:"status"`
	RunID           string      `json:"run_id,omitempty"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	TotalPoints     int         `json:"total_points"`
	CompletedPoints int         `json:"completed_points"`
	Results         []Summary   `json:"results"`
	Failures        []string    `json:"failures,omitempty"`
	Error           string      `json:"error,omitempty"`
}
