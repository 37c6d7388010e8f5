package config

import "testing"

func TestNormalize(t *testing.T) {
	got := TrialConfig{Protocol: ProtocolCTP, QueueType: QueueLIFO, PacketInterval: 1}.Normalize()
	if got.QueueType != QueueNA {
		t.Errorf("ctp queue type = %q, want N/A", got.QueueType)
	}
	if got.TimerType != TimerPeriodic {
		t.Errorf("default timer = %q, want periodic", got.TimerType)
	}

	got = TrialConfig{Protocol: ProtocolBCP, QueueType: QueueFIFO, TimerType: TimerExponential}.Normalize()
	if got.QueueType != QueueFIFO || got.TimerType != TimerExponential {
		t.Errorf("bcp config changed by Normalize: %+v", got)
	}
}

func TestTrialConfigValidate(t *testing.T) {
	valid := TrialConfig{Protocol: ProtocolBCP, QueueType: QueueLIFO, PacketInterval: 10, TimerType: TimerPeriodic}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]func(*TrialConfig){
		"protocol": func(c *TrialConfig) { c.Protocol = "aodv" },
		"queue":    func(c *TrialConfig) { c.QueueType = "RED" },
		"timer":    func(c *TrialConfig) { c.TimerType = "poisson" },
		"interval": func(c *TrialConfig) { c.PacketInterval = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			if err := c.Validate(); err == nil {
				t.Errorf("expected error for bad %s", name)
			}
		})
	}
}
