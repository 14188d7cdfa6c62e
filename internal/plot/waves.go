// Package plot draws evoked waveforms with gonum/plot.
package plot

import (
	"fmt"
	"image/color"
	"math"
	"path/filepath"

	"github.com/himanishpuri/NeuroPrep/pkg/utils"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	Blue  = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	Red   = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	Black = color.RGBA{A: 255}
	Gray  = color.RGBA{R: 128, G: 128, B: 128, A: 255}
)

const (
	DefaultWidth  = 8 * vg.Inch
	DefaultHeight = 4 * vg.Inch
)

// Trace is one waveform. Values are in volts and drawn in microvolts.
type Trace struct {
	Label  string
	Times  []float64
	Values []float64
	Color  color.Color
	Dashed bool
}

type Options struct {
	Title string
	// VLines are times (seconds) marked with a vertical line.
	VLines []float64
	// Zero draws a horizontal line at 0 µV.
	Zero bool
}

// Waves plots the traces on shared axes (time in seconds, amplitude in µV).
func Waves(traces []Trace, opts Options) (*plot.Plot, error) {
	if len(traces) == 0 {
		return nil, fmt.Errorf("nothing to plot")
	}
	p := plot.New()
	p.Title.Text = opts.Title
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "µV"
	p.Legend.Top = true

	xmin, xmax := math.Inf(1), math.Inf(-1)
	ymin, ymax := math.Inf(1), math.Inf(-1)
	for _, tr := range traces {
		if len(tr.Times) != len(tr.Values) || len(tr.Times) == 0 {
			return nil, fmt.Errorf("trace %q: %d times for %d values", tr.Label, len(tr.Times), len(tr.Values))
		}
		pts := make(plotter.XYs, len(tr.Times))
		for i := range pts {
			pts[i].X = tr.Times[i]
			pts[i].Y = tr.Values[i] * 1e6
			xmin, xmax = math.Min(xmin, pts[i].X), math.Max(xmax, pts[i].X)
			ymin, ymax = math.Min(ymin, pts[i].Y), math.Max(ymax, pts[i].Y)
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("trace %q: %w", tr.Label, err)
		}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Color = tr.Color
		if tr.Color == nil {
			line.LineStyle.Color = Black
		}
		if tr.Dashed {
			line.LineStyle.Dashes = []vg.Length{vg.Points(6), vg.Points(3)}
		}
		p.Add(line)
		if tr.Label != "" {
			p.Legend.Add(tr.Label, line)
		}
	}

	if ymin == ymax {
		ymin, ymax = ymin-1, ymax+1
	}
	for _, x := range opts.VLines {
		if err := addRule(p, plotter.XYs{{X: x, Y: ymin}, {X: x, Y: ymax}}); err != nil {
			return nil, err
		}
	}
	if opts.Zero {
		if err := addRule(p, plotter.XYs{{X: xmin, Y: 0}, {X: xmax, Y: 0}}); err != nil {
			return nil, err
		}
	}
	p.Add(plotter.NewGrid())
	return p, nil
}

func addRule(p *plot.Plot, pts plotter.XYs) error {
	rule, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	rule.LineStyle.Color = Gray
	rule.LineStyle.Width = vg.Points(0.75)
	rule.LineStyle.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
	p.Add(rule)
	return nil
}

// Save writes p to path; the format follows the extension (png, svg, pdf).
// Missing parent directories are created.
func Save(p *plot.Plot, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := utils.MakeDir(dir); err != nil {
			return fmt.Errorf("creating plot dir: %w", err)
		}
	}
	if err := p.Save(DefaultWidth, DefaultHeight, path); err != nil {
		return fmt.Errorf("saving plot %s: %w", path, err)
	}
	return nil
}
