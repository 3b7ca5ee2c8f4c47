package monitor

import (
	"fmt"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/awb/internal/awb"
	"github.com/banshee-data/awb/internal/calib"
)

// Anchor is a labelled point in gain-ratio space.
type Anchor struct {
	Name string
	Rg   float64
	Bg   float64
}

// PlotConfig holds the calibration overlay drawn under a trajectory.
type PlotConfig struct {
	Anchors    []Anchor
	CenterLine *calib.CenterLine
}

// PlotConfigFromSet builds the overlay from the illuminant gains and centre
// line of set.
func PlotConfigFromSet(set *calib.Set) PlotConfig {
	var pc PlotConfig
	if set == nil {
		return pc
	}
	for _, il := range set.Illuminants {
		rg, bg, err := il.Gains.Ratios()
		if err != nil {
			continue
		}
		pc.Anchors = append(pc.Anchors, Anchor{Name: il.Name, Rg: rg, Bg: bg})
	}
	cl := set.Global.CenterLine
	pc.CenterLine = &cl
	return pc
}

// RatioPlot draws the applied Rg/Bg trajectory of hist over the
// calibration overlay.
func RatioPlot(hist []awb.Snapshot, pc PlotConfig) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "White balance ratio trajectory"
	p.X.Label.Text = "R/G"
	p.Y.Label.Text = "B/G"
	p.Add(plotter.NewGrid())

	minRg, maxRg := math.Inf(1), math.Inf(-1)
	extend := func(rg float64) {
		minRg = math.Min(minRg, rg)
		maxRg = math.Max(maxRg, rg)
	}

	if len(pc.Anchors) > 0 {
		pts := make(plotter.XYs, len(pc.Anchors))
		labels := make([]string, len(pc.Anchors))
		for i, a := range pc.Anchors {
			pts[i] = plotter.XY{X: a.Rg, Y: a.Bg}
			labels[i] = a.Name
			extend(a.Rg)
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, fmt.Errorf("anchors: %w", err)
		}
		sc.GlyphStyle.Radius = vg.Points(4)
		lb, err := plotter.NewLabels(plotter.XYLabels{XYs: pts, Labels: labels})
		if err != nil {
			return nil, fmt.Errorf("anchor labels: %w", err)
		}
		p.Add(sc, lb)
		p.Legend.Add("illuminants", sc)
	}

	traj := make(plotter.XYs, 0, len(hist))
	for _, s := range hist {
		if s.Gain.Ratio.Rg == 0 && s.Gain.Ratio.Bg == 0 {
			continue
		}
		traj = append(traj, plotter.XY{X: s.Gain.Ratio.Rg, Y: s.Gain.Ratio.Bg})
		extend(s.Gain.Ratio.Rg)
	}
	colors := plotPalette(2)
	if len(traj) > 0 {
		line, points, err := plotter.NewLinePoints(traj)
		if err != nil {
			return nil, fmt.Errorf("trajectory: %w", err)
		}
		line.Color = colors[0]
		line.Width = vg.Points(1)
		points.Color = colors[0]
		points.Radius = vg.Points(1.5)
		p.Add(line, points)
		p.Legend.Add("applied", line, points)
	}

	if cl := pc.CenterLine; cl != nil && math.Abs(cl.NormalBg) > 1e-9 && !math.IsInf(minRg, 1) {
		pad := 0.1 * math.Max(maxRg-minRg, 0.1)
		fn := plotter.NewFunction(func(rg float64) float64 {
			return (cl.Distance - cl.NormalRg*rg) / cl.NormalBg
		})
		fn.XMin, fn.XMax = minRg-pad, maxRg+pad
		fn.Color = colors[1]
		fn.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(fn)
		p.Legend.Add("centre line", fn)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WriteRatioPNG renders RatioPlot as a PNG.
func WriteRatioPNG(w io.Writer, hist []awb.Snapshot, pc PlotConfig) error {
	p, err := RatioPlot(hist, pc)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
