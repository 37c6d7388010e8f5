package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for an experiment.
const (
	DefaultReferenceRate = 1024
	DefaultNumPackets    = 3000
	DefaultTrials        = 5
	DefaultSeedStride    = 101
	DefaultBootTime      = 10000
	DefaultStepTimeout   = 30 * time.Second
	DefaultConfigHeader  = "test_config.h"
	DefaultLogName       = "simulation.log"
	DefaultResultName    = "result.txt"
	DefaultVariable      = "packet_rate"
	// packetIDMargin is trimmed from both ends of the packet ID range.
	packetIDMargin = 100
)

const maxConfigFileSize = 1 * 1024 * 1024 // 1MB

// ExperimentConfig describes a whole sweep. Fields omitted from a config
// file keep the values from DefaultExperimentConfig.
type ExperimentConfig struct {
	Protocol  Protocol  `json:"protocol" yaml:"protocol"`
	QueueType QueueType `json:"queue_type" yaml:"queue_type"`
	TimerType TimerType `json:"timer_type" yaml:"timer_type"`

	// Variable is the swept quantity: packet_rate, packet_interval or
	// link_gain_shift.
	Variable string    `json:"variable" yaml:"variable"`
	Values   []float64 `json:"values" yaml:"values"`
	// ValuesSpec is "min:max:step" or a comma list; used when Values is empty.
	ValuesSpec string `json:"values_spec,omitempty" yaml:"values_spec,omitempty"`

	ReferenceRate  float64 `json:"reference_rate" yaml:"reference_rate"`
	PacketInterval int     `json:"packet_interval" yaml:"packet_interval"`
	NumPackets     int     `json:"num_packets" yaml:"num_packets"`
	// PacketIDLow/High bound the analysed packets. Zero means
	// [100, num_packets-100].
	PacketIDLow  int `json:"packet_id_low,omitempty" yaml:"packet_id_low,omitempty"`
	PacketIDHigh int `json:"packet_id_high,omitempty" yaml:"packet_id_high,omitempty"`
	// FinishTimeMs overrides the finish time derived from the packet budget.
	FinishTimeMs int64   `json:"finish_time_ms,omitempty" yaml:"finish_time_ms,omitempty"`
	GainShift    float64 `json:"link_gain_shift" yaml:"link_gain_shift"`
	BootTime     int64   `json:"boot_time" yaml:"boot_time"`

	Trials     int `json:"trials" yaml:"trials"`
	BaseSeed   int `json:"base_seed" yaml:"base_seed"`
	SeedStride int `json:"seed_stride" yaml:"seed_stride"`
	Workers    int `json:"workers" yaml:"workers"`
	// Isolate gives every trial its own copy of NescDir under WorkDir.
	Isolate bool   `json:"isolate" yaml:"isolate"`
	WorkDir string `json:"work_dir,omitempty" yaml:"work_dir,omitempty"`

	LinkTrace    string `json:"link_trace" yaml:"link_trace"`
	TraceMode    string `json:"trace_mode,omitempty" yaml:"trace_mode,omitempty"`
	NoiseTrace   string `json:"noise_trace" yaml:"noise_trace"`
	StrictTraces bool   `json:"strict_traces" yaml:"strict_traces"`

	NescDir      string `json:"nesc_dir" yaml:"nesc_dir"`
	ConfigHeader string `json:"config_header" yaml:"config_header"`
	LogDir       string `json:"log_dir" yaml:"log_dir"`
	LogName      string `json:"log_name" yaml:"log_name"`
	ResultName   string `json:"result_name" yaml:"result_name"`
	RawCSV       bool   `json:"raw_csv" yaml:"raw_csv"`
	StorePath    string `json:"store_path,omitempty" yaml:"store_path,omitempty"`
	ChartPNG     string `json:"chart_png,omitempty" yaml:"chart_png,omitempty"`
	ChartHTML    string `json:"chart_html,omitempty" yaml:"chart_html,omitempty"`

	BuildCommand     []string `json:"build_command" yaml:"build_command"`
	SimulatorCommand []string `json:"simulator_command" yaml:"simulator_command"`
	AnalyzerCommand  []string `json:"analyzer_command" yaml:"analyzer_command"`
	StepTimeout      string   `json:"step_timeout" yaml:"step_timeout"`
}

// DefaultExperimentConfig returns the stock CTP packet-rate sweep.
func DefaultExperimentConfig() *ExperimentConfig {
	return &ExperimentConfig{
		Protocol:       ProtocolCTP,
		QueueType:      QueueLIFO,
		TimerType:      TimerPeriodic,
		Variable:       DefaultVariable,
		Values:         []float64{1, 2, 3, 4, 5, 6, 7, 8, 10, 20, 50, 100},
		ReferenceRate:  DefaultReferenceRate,
		PacketInterval: DefaultReferenceRate,
		NumPackets:     DefaultNumPackets,
		BootTime:       DefaultBootTime,
		Trials:         DefaultTrials,
		SeedStride:     DefaultSeedStride,
		Workers:        1,
		NescDir:        "nesc",
		ConfigHeader:   DefaultConfigHeader,
		LogDir:         "log/temp",
		LogName:        DefaultLogName,
		ResultName:     DefaultResultName,
		RawCSV:         true,
		BuildCommand:   []string{"make", "micaz", "sim"},
		StepTimeout:    DefaultStepTimeout.String(),
	}
}

// LoadExperimentConfig reads a .json, .yaml or .yml experiment file on top
// of the defaults and validates the result.
func LoadExperimentConfig(path string) (*ExperimentConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultExperimentConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the experiment for values that cannot run.
func (c *ExperimentConfig) Validate() error {
	if err := c.Template(0).Validate(); err != nil {
		return err
	}
	switch c.Variable {
	case "packet_rate", "packet_interval", "link_gain_shift":
	default:
		return fmt.Errorf("unknown sweep variable %q", c.Variable)
	}
	if c.Trials <= 0 {
		return fmt.Errorf("trials must be positive, got %d", c.Trials)
	}
	if c.NumPackets <= 0 {
		return fmt.Errorf("num_packets must be positive, got %d", c.NumPackets)
	}
	if c.ReferenceRate <= 0 {
		return fmt.Errorf("reference_rate must be positive, got %f", c.ReferenceRate)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Workers > 1 && !c.Isolate {
		return fmt.Errorf("workers=%d requires isolate=true", c.Workers)
	}
	lo, hi := c.PacketRange()
	if lo > hi {
		return fmt.Errorf("packet id range [%d, %d] is empty", lo, hi)
	}
	if _, err := c.StepTimeoutDuration(); err != nil {
		return err
	}
	if c.TraceMode != "" && c.TraceMode != "static" && c.TraceMode != "dynamic" {
		return fmt.Errorf("trace_mode must be static or dynamic, got %q", c.TraceMode)
	}
	return nil
}

// Template returns the trial configuration before the swept variable is
// applied, with the given seed.
func (c *ExperimentConfig) Template(seed int) TrialConfig {
	return TrialConfig{
		Protocol:       c.Protocol,
		QueueType:      c.QueueType,
		PacketInterval: c.PacketInterval,
		TimerType:      c.TimerType,
		RNGSeed:        seed,
	}.Normalize()
}

// PacketRange returns the inclusive packet ID range handed to the analyzer.
func (c *ExperimentConfig) PacketRange() (lo, hi int) {
	lo, hi = c.PacketIDLow, c.PacketIDHigh
	if lo == 0 {
		lo = packetIDMargin
	}
	if hi == 0 {
		hi = c.NumPackets - packetIDMargin
	}
	return lo, hi
}

// FinishTime returns the replay finish time in ms for a packet interval.
// Unless overridden, it is the time needed to send every packet, truncated
// to whole seconds.
func (c *ExperimentConfig) FinishTime(packetInterval int) int64 {
	if c.FinishTimeMs > 0 {
		return c.FinishTimeMs
	}
	seconds := int64(packetInterval) * int64(c.NumPackets) / 1000
	return seconds * 1000
}

// StepTimeoutDuration parses StepTimeout. An empty string disables it.
func (c *ExperimentConfig) StepTimeoutDuration() (time.Duration, error) {
	if c.StepTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.StepTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid step_timeout '%s': %w", c.StepTimeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("step_timeout must not be negative, got %s", d)
	}
	return d, nil
}

// HeaderPath is the configuration header under dir.
func (c *ExperimentConfig) HeaderPath(dir string) string {
	return filepath.Join(dir, c.ConfigHeader)
}

// OutputDir is where the summary and raw CSV are written.
func (c *ExperimentConfig) OutputDir() string {
	return filepath.Join(c.LogDir, "output")
}
