package sweep

import (
	"context"
	"errors"

	"github.com/weisiCeltics/teacp/internal/analysis"
	"github.com/weisiCeltics/teacp/internal/build"
	"github.com/weisiCeltics/teacp/internal/config"
	"github.com/weisiCeltics/teacp/internal/sim"
	"github.com/weisiCeltics/teacp/internal/trace"
)

// Kind classifies a trial error for reporting.
type Kind string

const (
	KindTraceFormat Kind = "TraceFormatError"
	KindConfigWrite Kind = "ConfigWriteError"
	KindBuild       Kind = "BuildFailure"
	KindStall       Kind = "SimulationStallError"
	KindAnalyzer    Kind = "AnalyzerError"
	KindCanceled    Kind = "Canceled"
	KindOther       Kind = "Error"
)

// KindOf maps an error to its Kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, trace.ErrTraceFormat):
		return KindTraceFormat
	case errors.Is(err, config.ErrConfigWrite):
		return KindConfigWrite
	case errors.Is(err, build.ErrBuildFailed):
		return KindBuild
	case errors.Is(err, sim.ErrStall):
		return KindStall
	case errors.Is(err, analysis.ErrAnalyzer):
		return KindAnalyzer
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindOther
	}
}
