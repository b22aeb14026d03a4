package report

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// WritePNG plots every series as a line and saves it to path. The image
// format follows the file extension.
func WritePNG(path, dim string, series []Series) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Mean dark level vs %s", dim)
	p.X.Label.Text = dim
	p.Y.Label.Text = "Mean level"
	p.Legend.Top = true

	for i, s := range series {
		pts := make(plotter.XYs, len(s.Points))
		for j, pt := range s.Points {
			pts[j] = plotter.XY{X: float64(pt.X), Y: pt.Mean}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.Label, line)
	}

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}
