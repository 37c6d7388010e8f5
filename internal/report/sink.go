package report

import (
	"bytes"
	"fmt"
	"path/filepath"

	"github.com/weisiCeltics/teacp/internal/fsutil"
	"github.com/weisiCeltics/teacp/internal/monitoring"
	"github.com/weisiCeltics/teacp/internal/sweep"
)

var logf = monitoring.Component("report")

// ChartSink collects summary rows and renders them when the sweep ends.
// An empty path disables that output.
type ChartSink struct {
	FS       fsutil.FileSystem
	PNGPath  string
	HTMLPath string

	title Title
	rows  []sweep.Summary
}

// NewChartSink returns a ChartSink writing through the OS filesystem.
func NewChartSink(pngPath, htmlPath string) *ChartSink {
	return &ChartSink{FS: fsutil.OSFileSystem{}, PNGPath: pngPath, HTMLPath: htmlPath}
}

func (c *ChartSink) Begin(info sweep.RunInfo) error {
	c.rows = c.rows[:0]
	c.title = Title{
		Text:   fmt.Sprintf("%s %s (%s, %d trials)", info.Protocol, info.QueueType, filepath.Base(info.NoiseTrace), info.Trials),
		Column: info.Column,
	}
	return nil
}

func (c *ChartSink) Point(_ sweep.Point, s sweep.Summary) error {
	c.rows = append(c.rows, s)
	return nil
}

func (c *ChartSink) Failure(sweep.Failure) error { return nil }

// Rows returns the collected summaries.
func (c *ChartSink) Rows() []sweep.Summary { return c.rows }

func (c *ChartSink) End() error {
	if len(c.rows) == 0 {
		logf("no completed points; skipping charts")
		return nil
	}
	if c.PNGPath != "" {
		var buf bytes.Buffer
		if err := WritePNG(&buf, c.title, c.rows); err != nil {
			return fmt.Errorf("render png: %w", err)
		}
		if err := c.write(c.PNGPath, buf.Bytes()); err != nil {
			return err
		}
	}
	if c.HTMLPath != "" {
		var buf bytes.Buffer
		if err := WriteHTML(&buf, c.title, c.rows); err != nil {
			return fmt.Errorf("render html: %w", err)
		}
		if err := c.write(c.HTMLPath, buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

func (c *ChartSink) write(path string, data []byte) error {
	fs := c.FS
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := fs.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	logf("wrote %s (%d bytes)", path, len(data))
	return nil
}
