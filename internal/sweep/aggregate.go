package sweep

import (
	"gonum.org/v1/gonum/stat"

	"github.com/weisiCeltics/teacp/internal/analysis"
)

// Aggregate computes the mean and population standard deviation of every
// metric over a point's results.
func Aggregate(value float64, results []analysis.Result) Summary {
	s := Summary{Value: value, Trials: len(results)}
	if len(results) == 0 {
		return s
	}
	delivery := make([]float64, len(results))
	delay := make([]float64, len(results))
	goodput := make([]float64, len(results))
	for i, r := range results {
		delivery[i] = r.DeliveryRate
		delay[i] = r.AvgDelay
		goodput[i] = r.Goodput
	}
	s.DeliveryMean, s.DeliveryStd = stat.PopMeanStdDev(delivery, nil)
	s.DelayMean, s.DelayStd = stat.PopMeanStdDev(delay, nil)
	s.GoodputMean, s.GoodputStd = stat.PopMeanStdDev(goodput, nil)
	return s
}

// Results extracts the analyzer results of a point in trial order.
func (p Point) Results() []analysis.Result {
	out := make([]analysis.Result, len(p.Trials))
	for i, t := range p.Trials {
		out[i] = t.Result
	}
	return out
}
