package sweep

import (
	"fmt"
	"math"

	"github.com/weisiCeltics/teacp/internal/config"
)

// Setting is everything a sweep value can change about a trial.
type Setting struct {
	Config    config.TrialConfig
	GainShift float64
}

// Variable maps a sweep value onto a trial Setting.
type Variable interface {
	// Name is the config name, e.g. packet_rate.
	Name() string
	// Column is the summary table heading, at most ten characters.
	Column() string
	Apply(value float64, base Setting) (Setting, error)
}

// PacketRate sets the packet interval to ceil(Reference/rate).
type PacketRate struct {
	Reference float64
}

func (PacketRate) Name() string   { return "packet_rate" }
func (PacketRate) Column() string { return "PktRate" }

func (v PacketRate) Apply(rate float64, base Setting) (Setting, error) {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return Setting{}, fmt.Errorf("packet rate must be positive, got %g", rate)
	}
	ref := v.Reference
	if ref <= 0 {
		ref = config.DefaultReferenceRate
	}
	base.Config.PacketInterval = int(math.Ceil(ref / rate))
	return base, nil
}

// PacketInterval sets the packet interval directly.
type PacketInterval struct{}

func (PacketInterval) Name() string   { return "packet_interval" }
func (PacketInterval) Column() string { return "PktIntvl" }

func (PacketInterval) Apply(interval float64, base Setting) (Setting, error) {
	if interval < 1 || interval != math.Trunc(interval) {
		return Setting{}, fmt.Errorf("packet interval must be a positive integer, got %g", interval)
	}
	base.Config.PacketInterval = int(interval)
	return base, nil
}

// LinkGainShift adds a constant to every replayed link gain.
type LinkGainShift struct{}

func (LinkGainShift) Name() string   { return "link_gain_shift" }
func (LinkGainShift) Column() string { return "GainShift" }

func (LinkGainShift) Apply(shift float64, base Setting) (Setting, error) {
	if math.IsNaN(shift) || math.IsInf(shift, 0) {
		return Setting{}, fmt.Errorf("link gain shift must be finite, got %g", shift)
	}
	base.GainShift = shift
	return base, nil
}

// VariableByName returns the Variable for a config name.
func VariableByName(name string, referenceRate float64) (Variable, error) {
	switch name {
	case "", "packet_rate":
		return PacketRate{Reference: referenceRate}, nil
	case "packet_interval":
		return PacketInterval{}, nil
	case "link_gain_shift":
		return LinkGainShift{}, nil
	default:
		return nil, fmt.Errorf("unknown sweep variable %q", name)
	}
}
