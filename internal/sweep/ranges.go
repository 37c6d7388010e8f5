package sweep

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// maxValues caps generated sweep values.
const maxValues = 10000

// RangeSpec is an inclusive floating-point range.
type RangeSpec struct {
	Min  float64
	Max  float64
	Step float64
}

// ParseRangeSpec parses "min:max:step".
func ParseRangeSpec(s string) (RangeSpec, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return RangeSpec{}, fmt.Errorf("invalid range format %q: expected min:max:step", s)
	}
	var vals [3]float64
	for i, name := range []string{"min", "max", "step"} {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return RangeSpec{}, fmt.Errorf("invalid %s value %q: %w", name, parts[i], err)
		}
		vals[i] = v
	}
	if vals[2] <= 0 {
		return RangeSpec{}, fmt.Errorf("step must be positive, got %g", vals[2])
	}
	if vals[0] > vals[1] {
		return RangeSpec{}, fmt.Errorf("min %g exceeds max %g", vals[0], vals[1])
	}
	return RangeSpec{Min: vals[0], Max: vals[1], Step: vals[2]}, nil
}

// Values expands the range, rounding each value to the decimal precision of
// Min and Step to absorb float accumulation. It returns nil when the range
// would exceed maxValues.
func (r RangeSpec) Values() []float64 {
	if r.Step <= 0 || r.Min > r.Max {
		return nil
	}
	if n := (r.Max-r.Min)/r.Step + 1; n > maxValues {
		return nil
	}
	scale := math.Pow(10, float64(max(decimals(r.Min), decimals(r.Step))))
	var out []float64
	for i := 0; ; i++ {
		v := math.Round((r.Min+float64(i)*r.Step)*scale) / scale
		if v > r.Max {
			break
		}
		out = append(out, v)
	}
	return out
}

// maxDecimals bounds the rounding precision of generated values.
const maxDecimals = 9

// decimals reports the number of fractional digits in the shortest decimal
// form of v, capped at maxDecimals.
func decimals(v float64) int {
	s := strconv.FormatFloat(math.Abs(v), 'f', -1, 64)
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	return min(len(s)-dot-1, maxDecimals)
}

// ParseCSVFloat64s parses a comma-separated list of floats, skipping empty
// entries.
func ParseCSVFloat64s(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid float '%s': %w", p, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseValues parses either a "min:max:step" range or a comma list.
func ParseValues(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if strings.Contains(s, ":") {
		spec, err := ParseRangeSpec(s)
		if err != nil {
			return nil, err
		}
		vals := spec.Values()
		if vals == nil {
			return nil, fmt.Errorf("range %q yields more than %d values", s, maxValues)
		}
		return vals, nil
	}
	return ParseCSVFloat64s(s)
}
