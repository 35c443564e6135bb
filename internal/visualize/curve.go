package visualize

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"dcgan-forge/internal/trainer"
)

// LossCurve collects logged losses and plots them.
type LossCurve struct {
	d plotter.XYs
	g plotter.XYs
}

// Observe records one report; it matches trainer.RunConfig.Observe.
func (c *LossCurve) Observe(r trainer.Report) {
	x := float64(r.Epoch*r.Batches + r.Batch)
	c.d = append(c.d, plotter.XY{X: x, Y: r.LossD})
	c.g = append(c.g, plotter.XY{X: x, Y: r.LossG})
}

// Len is the number of recorded points.
func (c *LossCurve) Len() int { return len(c.d) }

// Save renders both curves; the image format follows the file extension.
func (c *LossCurve) Save(path string) error {
	if len(c.d) == 0 {
		return errors.New("loss curve: no points recorded")
	}
	p := plot.New()
	p.Title.Text = "Generator and discriminator loss"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "loss"
	if err := plotutil.AddLines(p, "D", c.d, "G", c.g); err != nil {
		return errors.Wrap(err, "loss curve")
	}
	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}
