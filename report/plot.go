package report

import (
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// Plot file names inside the plot directory.
const (
	BICPathFile         = "bic_path.png"
	ValidationCurveFile = "validation_curve.png"
)

var (
	plotWidth  = 6 * vg.Inch
	plotHeight = 4 * vg.Inch
)

// WritePlots renders every plot the report has data for into dir and
// returns the written paths.
func (r *Report) WritePlots(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create %s", dir)
	}
	var written []string
	if r.Selection != nil {
		path := filepath.Join(dir, BICPathFile)
		if err := PlotBICPath(r.Selection, path); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	if r.Tuning != nil && len(r.Tuning.Grid) > 0 {
		path := filepath.Join(dir, ValidationCurveFile)
		if err := PlotValidationCurve(r.Tuning, path); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

// PlotBICPath draws the BIC after every accepted round, starting from the
// intercept-only model at round 0.
func PlotBICPath(s *SelectionReport, path string) error {
	p := plot.New()
	p.Title.Text = "Forward selection"
	p.X.Label.Text = "round"
	p.Y.Label.Text = "BIC"

	pts := make(plotter.XYs, 0, len(s.Path)+1)
	pts = append(pts, plotter.XY{X: 0, Y: s.InterceptBIC})
	ticks := []plot.Tick{{Value: 0, Label: "intercept"}}
	for _, step := range s.Path {
		pts = append(pts, plotter.XY{X: float64(step.Round), Y: step.BIC})
		ticks = append(ticks, plot.Tick{Value: float64(step.Round), Label: step.Feature})
	}
	p.X.Tick.Marker = plot.ConstantTicks(ticks)

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return errors.Wrap(err, "bic path")
	}
	points.Shape = draw.CircleGlyph{}
	p.Add(plotter.NewGrid(), line, points)

	return save(p, path)
}

// PlotValidationCurve draws the inner-CV mean log-loss against log10 of the
// tuned parameter with a ±1 std band, and marks the chosen value.
func PlotValidationCurve(t *TuningReport, path string) error {
	p := plot.New()
	p.Title.Text = "Validation curve"
	p.X.Label.Text = "log10 " + t.ParamName
	p.Y.Label.Text = "log-loss"

	n := len(t.Grid)
	mean := make(plotter.XYs, n)
	upper := make(plotter.XYs, n)
	lower := make(plotter.XYs, n)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, c := range t.Grid {
		x := math.Log10(c)
		m := -t.InnerMeanScores[i]
		var sd float64
		if i < len(t.InnerStdScores) {
			sd = t.InnerStdScores[i]
		}
		mean[i] = plotter.XY{X: x, Y: m}
		upper[i] = plotter.XY{X: x, Y: m + sd}
		lower[i] = plotter.XY{X: x, Y: m - sd}
		lo, hi = math.Min(lo, m-sd), math.Max(hi, m+sd)
	}

	line, points, err := plotter.NewLinePoints(mean)
	if err != nil {
		return errors.Wrap(err, "validation curve")
	}
	p.Add(plotter.NewGrid(), line, points)

	for _, band := range []plotter.XYs{upper, lower} {
		l, err := plotter.NewLine(band)
		if err != nil {
			return errors.Wrap(err, "validation curve band")
		}
		l.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		l.Color = color.Gray{Y: 128}
		p.Add(l)
	}

	best := math.Log10(t.BestParam)
	marker, err := plotter.NewLine(plotter.XYs{{X: best, Y: lo}, {X: best, Y: hi}})
	if err != nil {
		return errors.Wrap(err, "validation curve marker")
	}
	marker.Color = color.RGBA{R: 200, A: 255}
	p.Add(marker)
	p.Legend.Add("mean", line, points)
	p.Legend.Add("chosen "+t.ParamName, marker)

	return save(p, path)
}

func save(p *plot.Plot, path string) error {
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return errors.Wrapf(err, "save plot %s", path)
	}
	return nil
}
