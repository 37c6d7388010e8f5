package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultExperimentConfig(t *testing.T) {
	cfg := DefaultExperimentConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Trials != 5 {
		t.Errorf("Trials = %d, want 5", cfg.Trials)
	}
	if cfg.SeedStride != 101 {
		t.Errorf("SeedStride = %d, want 101", cfg.SeedStride)
	}
	lo, hi := cfg.PacketRange()
	if lo != 100 || hi != 2900 {
		t.Errorf("PacketRange() = [%d, %d], want [100, 2900]", lo, hi)
	}
	if got := cfg.Template(7); got.QueueType != QueueNA || got.RNGSeed != 7 {
		t.Errorf("Template(7) = %+v, want ctp with N/A queue and seed 7", got)
	}
}

func TestFinishTime(t *testing.T) {
	cfg := DefaultExperimentConfig()
	// 342 * 3000 / 1000 = 1026 s.
	if got := cfg.FinishTime(342); got != 1026000 {
		t.Errorf("FinishTime(342) = %d, want 1026000", got)
	}
	// 1 * 3000 / 1000 = 3 s.
	if got := cfg.FinishTime(1); got != 3000 {
		t.Errorf("FinishTime(1) = %d, want 3000", got)
	}
	cfg.NumPackets = 999
	if got := cfg.FinishTime(1); got != 0 {
		t.Errorf("FinishTime truncates to whole seconds, got %d", got)
	}
	cfg.FinishTimeMs = 4500
	if got := cfg.FinishTime(1); got != 4500 {
		t.Errorf("explicit finish time ignored, got %d", got)
	}
}

func TestLoadExperimentConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exp.json")
	body := `{"protocol": "bcp", "queue_type": "FIFO", "values": [1, 2], "trials": 2, "step_timeout": "5s"}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadExperimentConfig(path)
	if err != nil {
		t.Fatalf("LoadExperimentConfig: %v", err)
	}
	if cfg.Protocol != ProtocolBCP || cfg.QueueType != QueueFIFO {
		t.Errorf("protocol/queue = %s/%s, want bcp/FIFO", cfg.Protocol, cfg.QueueType)
	}
	if len(cfg.Values) != 2 || cfg.Trials != 2 {
		t.Errorf("values=%v trials=%d", cfg.Values, cfg.Trials)
	}
	// Omitted fields keep their defaults.
	if cfg.NumPackets != DefaultNumPackets || cfg.SeedStride != DefaultSeedStride {
		t.Errorf("defaults lost: num_packets=%d seed_stride=%d", cfg.NumPackets, cfg.SeedStride)
	}
	if d, _ := cfg.StepTimeoutDuration(); d != 5*time.Second {
		t.Errorf("StepTimeoutDuration() = %s, want 5s", d)
	}
}

func TestLoadExperimentConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exp.yaml")
	body := strings.Join([]string{
		"protocol: bcp",
		"queue_type: LIFO",
		"variable: link_gain_shift",
		"values: [-5, 0, 5]",
		"link_trace: config/linkgain/dynamic/intra_car_5nodes.txt",
		"workers: 4",
		"isolate: true",
		"simulator_command: [python, bridge.py]",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadExperimentConfig(path)
	if err != nil {
		t.Fatalf("LoadExperimentConfig: %v", err)
	}
	if cfg.Variable != "link_gain_shift" || len(cfg.Values) != 3 || cfg.Values[0] != -5 {
		t.Errorf("variable=%q values=%v", cfg.Variable, cfg.Values)
	}
	if cfg.Workers != 4 || !cfg.Isolate {
		t.Errorf("workers=%d isolate=%v", cfg.Workers, cfg.Isolate)
	}
	if len(cfg.SimulatorCommand) != 2 || cfg.SimulatorCommand[1] != "bridge.py" {
		t.Errorf("simulator_command = %v", cfg.SimulatorCommand)
	}
	if len(cfg.BuildCommand) != 3 {
		t.Errorf("build_command default lost: %v", cfg.BuildCommand)
	}
}

func TestLoadExperimentConfigRejects(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
		return p
	}

	tests := []struct {
		name string
		path string
		want string
	}{
		{"extension", write("exp.toml", "trials = 1"), "extension"},
		{"missing", filepath.Join(dir, "nope.json"), "stat"},
		{"syntax", write("bad.json", "{"), "parse"},
		{"variable", write("var.json", `{"variable": "radio_power"}`), "unknown sweep variable"},
		{"trials", write("trials.json", `{"trials": 0}`), "trials must be positive"},
		{"workers", write("workers.json", `{"workers": 2}`), "requires isolate"},
		{"timeout", write("timeout.json", `{"step_timeout": "soon"}`), "step_timeout"},
		{"range", write("range.json", `{"num_packets": 150}`), "packet id range"},
		{"mode", write("mode.json", `{"trace_mode": "bursty"}`), "trace_mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadExperimentConfig(tt.path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadExperimentConfigTooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.json")
	if err := os.WriteFile(path, make([]byte, maxConfigFileSize+1), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadExperimentConfig(path); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}
