package trainer

import (
	"context"
	"log"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"dcgan-forge/internal/dataset"
	"dcgan-forge/internal/metrics"
	"dcgan-forge/internal/model"
)

const defaultLogEvery = 50

// RunConfig captures the collaborators and knobs required by the training loop.
type RunConfig struct {
	Source        dataset.Source
	Discriminator model.Network
	Generator     model.Network
	OptimizerD    model.Optimizer
	OptimizerG    model.Optimizer
	// RealLabel and FakeLabel are the constant targets y_1 and y_0, shaped
	// like the discriminator output for a full batch.
	RealLabel *mat.Dense
	FakeLabel *mat.Dense
	Criterion model.Loss
	Noise     NoiseSampler

	Epochs    int
	LogEvery  int
	BatchSize int
	NoiseDim  int

	// Visualize and Observe are optional and run on logged iterations only.
	Visualize Visualizer
	Observe   func(Report)
	Logger    *log.Logger
}

// Report describes one logged iteration.
type Report struct {
	Epoch   int
	Epochs  int
	Batch   int
	Batches int

	LossD     float64
	LossDReal float64
	LossDFake float64
	LossG     float64
	// Mean discriminator output on the real batch, and on the fake batch
	// before and after the discriminator update.
	DReal      float64
	DFake      float64
	DFakeAfter float64

	Metrics metrics.Snapshot
}

// Validate verifies the config is runnable.
func (c *RunConfig) Validate() error {
	switch {
	case c.Source == nil:
		return errors.New("trainer: batch source is nil")
	case c.Discriminator == nil || c.Generator == nil:
		return errors.New("trainer: discriminator and generator are required")
	case c.OptimizerD == nil || c.OptimizerG == nil:
		return errors.New("trainer: both optimizers are required")
	case c.RealLabel == nil || c.FakeLabel == nil:
		return errors.New("trainer: real and fake labels are required")
	case c.Criterion == nil:
		return errors.New("trainer: loss function is nil")
	case c.Noise == nil:
		return errors.New("trainer: noise sampler is nil")
	}
	if c.Epochs <= 0 {
		return errors.Errorf("trainer: epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("trainer: batch size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NoiseDim <= 0 {
		return errors.Errorf("trainer: noise dim must be > 0 (got %d)", c.NoiseDim)
	}
	return nil
}

// Run executes the adversarial training workload for cfg.Epochs epochs.
func Run(ctx context.Context, cfg RunConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = defaultLogEvery
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	batches := cfg.Source.Len()
	if batches == 0 {
		return dataset.ErrNoBatches
	}

	l := &loop{cfg: cfg, batches: batches}
	// Sampled once so every visualization shows the same latent batch.
	l.fixedNoise = cfg.Noise.Sample(cfg.BatchSize, cfg.NoiseDim)

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.runEpoch(ctx, epoch); err != nil {
			return err
		}
	}
	return nil
}

type loop struct {
	cfg        RunConfig
	batches    int
	fixedNoise *mat.Dense
	window     metrics.Window
}

type stepResult struct {
	lossD, lossDReal, lossDFake, lossG float64
	dReal, dFake, dFakeAfter           float64
}

func (l *loop) runEpoch(parent context.Context, epoch int) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	stream, errs := l.cfg.Source.Epoch(ctx, epoch)
	i := 0
	for {
		startData := time.Now()
		batch, ok := <-stream
		if !ok {
			break
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		res, err := l.step(batch.Real)
		if err != nil {
			return errors.Wrapf(err, "epoch %d batch %d", epoch, i)
		}
		computeTime := time.Since(startCompute)

		rows, _ := batch.Real.Dims()
		l.window.Record(rows, dataTime, computeTime, res.lossD, res.lossG)

		if i%l.cfg.LogEvery == 0 {
			l.report(epoch, i, res)
		}
		i++
	}
	if err := <-errs; err != nil {
		return errors.Wrapf(err, "epoch %d", epoch)
	}
	return nil
}

func (l *loop) report(epoch, i int, res stepResult) {
	snap := l.window.Snapshot()
	l.cfg.Logger.Printf("[%d/%d][%d/%d]\tLoss_D: %.4f\tLoss_G: %.4f\tD(x): %.4f\tD(G(z)): %.4f / %.4f\timages_per_sec=%.1f",
		epoch, l.cfg.Epochs, i, l.batches,
		res.lossD, res.lossG,
		res.dReal, res.dFake, res.dFakeAfter,
		snap.ImagesPerSec,
	)
	if l.cfg.Visualize != nil {
		l.cfg.Visualize.Show(l.fixedNoise)
	}
	if l.cfg.Observe != nil {
		l.cfg.Observe(Report{
			Epoch:      epoch,
			Epochs:     l.cfg.Epochs,
			Batch:      i,
			Batches:    l.batches,
			LossD:      res.lossD,
			LossDReal:  res.lossDReal,
			LossDFake:  res.lossDFake,
			LossG:      res.lossG,
			DReal:      res.dReal,
			DFake:      res.dFake,
			DFakeAfter: res.dFakeAfter,
			Metrics:    snap,
		})
	}
}

// step performs one discriminator update followed by one generator update.
func (l *loop) step(realBatch *mat.Dense) (stepResult, error) {
	var res stepResult
	if realBatch == nil {
		return res, errors.New("batch has no real samples")
	}

	z := l.cfg.Noise.Sample(l.cfg.BatchSize, l.cfg.NoiseDim)
	gen, err := l.cfg.Generator.Forward(z)
	if err != nil {
		return res, errors.Wrap(err, "generator forward")
	}
	fake := gen.Output()

	l.cfg.Discriminator.ZeroGrad()
	res.lossDReal, res.dReal, _, err = l.discriminate(realBatch, l.cfg.RealLabel)
	if err != nil {
		return res, errors.Wrap(err, "discriminator on real")
	}
	// Detached: the input gradient is dropped so nothing reaches the generator.
	res.lossDFake, res.dFake, _, err = l.discriminate(fake, l.cfg.FakeLabel)
	if err != nil {
		return res, errors.Wrap(err, "discriminator on fake")
	}
	res.lossD = res.lossDReal + res.lossDFake
	if err := l.cfg.OptimizerD.Step(); err != nil {
		return res, errors.Wrap(err, "discriminator step")
	}

	l.cfg.Generator.ZeroGrad()
	var dFake *mat.Dense
	res.lossG, res.dFakeAfter, dFake, err = l.discriminate(fake, l.cfg.RealLabel)
	if err != nil {
		return res, errors.Wrap(err, "discriminator on fake for generator")
	}
	if _, err := gen.Backward(dFake); err != nil {
		return res, errors.Wrap(err, "generator backward")
	}
	if err := l.cfg.OptimizerG.Step(); err != nil {
		return res, errors.Wrap(err, "generator step")
	}
	return res, nil
}

// discriminate scores x, backpropagates the loss against target into the
// discriminator and returns the loss, the mean score and the gradient with
// respect to x.
func (l *loop) discriminate(x, target *mat.Dense) (float64, float64, *mat.Dense, error) {
	pass, err := l.cfg.Discriminator.Forward(x)
	if err != nil {
		return 0, 0, nil, err
	}
	out := pass.Output()
	loss, grad, err := l.cfg.Criterion.Compute(out, target)
	if err != nil {
		return 0, 0, nil, err
	}
	dx, err := pass.Backward(grad)
	if err != nil {
		return 0, 0, nil, err
	}
	rows, cols := out.Dims()
	return loss, mat.Sum(out) / float64(rows*cols), dx, nil
}
