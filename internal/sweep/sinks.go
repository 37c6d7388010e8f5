package sweep

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Sink receives sweep results as they complete.
type Sink interface {
	Begin(info RunInfo) error
	Point(p Point, s Summary) error
	Failure(f Failure) error
	End() error
}

// MultiSink fans out to every sink, collecting all errors.
type MultiSink []Sink

func (m MultiSink) Begin(info RunInfo) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Begin(info))
	}
	return errors.Join(errs...)
}

func (m MultiSink) Point(p Point, sum Summary) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Point(p, sum))
	}
	return errors.Join(errs...)
}

func (m MultiSink) Failure(f Failure) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Failure(f))
	}
	return errors.Join(errs...)
}

func (m MultiSink) End() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.End())
	}
	return errors.Join(errs...)
}

// SummaryWriter appends the fixed-width result table:
//
//	--------------------Mon Jan  2 15:04:05 2006--------------------
//	protocol: ctp
//	...
//	   PktRate   %Delivery      Std   AvgDelay      Std   Goodput      Std
//	      1.00      0.9000   0.0000      50.00     0.00    100.00     0.00
type SummaryWriter struct {
	W io.Writer
}

// NewSummaryWriter returns a SummaryWriter over w.
func NewSummaryWriter(w io.Writer) *SummaryWriter {
	return &SummaryWriter{W: w}
}

func (s *SummaryWriter) Begin(info RunInfo) error {
	column := info.Column
	if column == "" {
		column = "PktRate"
	}
	dashes := strings.Repeat("-", 20)
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(dashes + info.StartedAt.Format(time.ANSIC) + dashes + "\n")
	fmt.Fprintf(&b, "protocol: %s\n", info.Protocol)
	fmt.Fprintf(&b, "queue_type: %s\n", info.QueueType)
	fmt.Fprintf(&b, "noise_trace: %s\n", info.NoiseTrace)
	fmt.Fprintf(&b, "rssi_trace: %s\n", info.LinkTrace)
	fmt.Fprintf(&b, "simulation_times: %d\n", info.Trials)
	fmt.Fprintf(&b, "%10s%12s%9s%11s%9s%10s%9s\n",
		column, "%Delivery", "Std", "AvgDelay", "Std", "Goodput", "Std")
	_, err := io.WriteString(s.W, b.String())
	return err
}

func (s *SummaryWriter) Point(_ Point, sum Summary) error {
	_, err := fmt.Fprintf(s.W, "%10.2f%12.4f%9.4f%11.2f%9.2f%10.2f%9.2f\n",
		sum.Value,
		sum.DeliveryMean, sum.DeliveryStd,
		sum.DelayMean, sum.DelayStd,
		sum.GoodputMean, sum.GoodputStd)
	return err
}

func (s *SummaryWriter) Failure(f Failure) error {
	_, err := fmt.Fprintf(s.W, "%10.2f  FAILED %s (trial %d, seed %d)\n", f.Value, f.Kind, f.Trial, f.Seed)
	return err
}

func (s *SummaryWriter) End() error {
	_, err := io.WriteString(s.W, "\n\n")
	return err
}

// RawCSVWriter writes one CSV row per successful trial.
type RawCSVWriter struct {
	w     *csv.Writer
	runID string
}

// NewRawCSVWriter returns a RawCSVWriter over w.
func NewRawCSVWriter(w io.Writer) *RawCSVWriter {
	return &RawCSVWriter{w: csv.NewWriter(w)}
}

// RawHeaders are the raw CSV columns.
var RawHeaders = []string{
	"run_id", "value", "trial", "seed", "packet_interval", "gain_shift",
	"delivery_rate", "avg_delay", "goodput", "sim_steps", "sim_ms", "elapsed_s",
}

func (r *RawCSVWriter) Begin(info RunInfo) error {
	r.runID = info.ID
	r.w.Write(RawHeaders)
	r.w.Flush()
	return r.w.Error()
}

func (r *RawCSVWriter) Point(p Point, _ Summary) error {
	for _, t := range p.Trials {
		r.w.Write([]string{
			r.runID,
			strconv.FormatFloat(p.Value, 'g', -1, 64),
			strconv.Itoa(t.Trial),
			strconv.Itoa(t.Seed),
			strconv.Itoa(t.Config.PacketInterval),
			strconv.FormatFloat(p.Setting.GainShift, 'g', -1, 64),
			fmt.Sprintf("%.6f", t.Result.DeliveryRate),
			fmt.Sprintf("%.6f", t.Result.AvgDelay),
			fmt.Sprintf("%.6f", t.Result.Goodput),
			strconv.Itoa(t.Replay.Steps),
			fmt.Sprintf("%.3f", t.Replay.SimMillis),
			fmt.Sprintf("%.3f", t.Elapsed.Seconds()),
		})
	}
	r.w.Flush()
	return r.w.Error()
}

func (r *RawCSVWriter) Failure(Failure) error { return nil }

func (r *RawCSVWriter) End() error {
	r.w.Flush()
	return r.w.Error()
}
