package main

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// plotLosses saves a line plot of per-epoch training loss.
func plotLosses(losses []float64, filename string) error {
	if len(losses) == 0 {
		return nil
	}

	p, err := plot.New()
	if err != nil {
		return errors.Wrap(err, "new plot")
	}
	p.Title.Text = "Training loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"

	pts := make(plotter.XYs, len(losses))
	for i, l := range losses {
		pts[i].X = float64(i + 1)
		pts[i].Y = l
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrap(err, "new line")
	}
	p.Add(line)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, filename); err != nil {
		return errors.Wrapf(err, "save plot %q", filename)
	}

	return nil
}
