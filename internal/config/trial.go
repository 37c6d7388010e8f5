package config

import (
	"fmt"
)

// Protocol names a collection protocol build under the nesC tree.
type Protocol string

const (
	ProtocolCTP Protocol = "ctp"
	ProtocolBCP Protocol = "bcp"
)

// QueueType is the local queueing policy. Only BCP honours it.
type QueueType string

const (
	QueueFIFO QueueType = "FIFO"
	QueueLIFO QueueType = "LIFO"
	QueueNA   QueueType = "N/A"
)

// TimerType selects the packet generation timer.
type TimerType string

const (
	TimerPeriodic    TimerType = "periodic"
	TimerExponential TimerType = "exponential"
)

// define is the preprocessor symbol selecting the timer.
func (t TimerType) define() string {
	if t == TimerExponential {
		return "EXPONENTIAL_TIMER"
	}
	return "PERIODIC_TIMER"
}

// TrialConfig is the build-time configuration of one trial.
type TrialConfig struct {
	Protocol       Protocol
	QueueType      QueueType
	PacketInterval int
	TimerType      TimerType
	RNGSeed        int
}

// Normalize returns the config with protocol-implied values filled in:
// CTP has no queueing policy, so its queue type is always N/A.
func (c TrialConfig) Normalize() TrialConfig {
	if c.Protocol == ProtocolCTP {
		c.QueueType = QueueNA
	}
	if c.TimerType == "" {
		c.TimerType = TimerPeriodic
	}
	return c
}

// Validate checks that every field holds a known value.
func (c TrialConfig) Validate() error {
	switch c.Protocol {
	case ProtocolCTP, ProtocolBCP:
	default:
		return fmt.Errorf("unknown protocol %q", c.Protocol)
	}
	switch c.QueueType {
	case QueueFIFO, QueueLIFO, QueueNA:
	default:
		return fmt.Errorf("unknown queue type %q", c.QueueType)
	}
	switch c.TimerType {
	case TimerPeriodic, TimerExponential:
	default:
		return fmt.Errorf("unknown timer type %q", c.TimerType)
	}
	if c.PacketInterval <= 0 {
		return fmt.Errorf("packet interval must be positive, got %d", c.PacketInterval)
	}
	return nil
}
