package trainer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"dcgan-forge/internal/dataset"
	"dcgan-forge/internal/model"
)

const (
	testBatch    = 4
	testNoiseDim = 3
	testWidth    = 6
)

type countingOptimizer struct {
	steps  int
	inner  model.Optimizer
	before func()
	after  func()
	err    error
}

func (o *countingOptimizer) Step() error {
	o.steps++
	if o.err != nil {
		return o.err
	}
	if o.before != nil {
		o.before()
	}
	if o.inner != nil {
		if err := o.inner.Step(); err != nil {
			return err
		}
	}
	if o.after != nil {
		o.after()
	}
	return nil
}

type countingNoise struct {
	calls   int
	samples []*mat.Dense
	inner   NoiseSampler
}

func (n *countingNoise) Sample(rows, cols int) *mat.Dense {
	n.calls++
	z := n.inner.Sample(rows, cols)
	n.samples = append(n.samples, z)
	return z
}

// unitLoss reports 1 for any input and a zero gradient.
type unitLoss struct{}

func (unitLoss) Compute(pred, _ *mat.Dense) (float64, *mat.Dense, error) {
	r, c := pred.Dims()
	return 1, mat.NewDense(r, c, nil), nil
}

func newSource(t *testing.T, batches int) *dataset.MemorySource {
	t.Helper()
	rows := batches * testBatch
	data := mat.NewDense(rows, testWidth, nil)
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < rows; i++ {
		for j := 0; j < testWidth; j++ {
			data.Set(i, j, rng.Float64()*2-1)
		}
	}
	src, err := dataset.NewMemorySource(data, nil, testBatch, 1)
	if err != nil {
		t.Fatalf("NewMemorySource: %v", err)
	}
	return src
}

type fixture struct {
	cfg   RunConfig
	gen   *model.Sequential
	disc  *model.Sequential
	optD  *countingOptimizer
	optG  *countingOptimizer
	noise *countingNoise
}

func newFixture(t *testing.T, src dataset.Source) *fixture {
	t.Helper()
	gen := model.NewGenerator(testNoiseDim, 4, testWidth)
	disc := model.NewDiscriminator(testWidth, 4)
	rng := rand.New(rand.NewSource(2))
	model.InitNormal(gen, 0.2, rng)
	model.InitNormal(disc, 0.2, rng)
	optD := &countingOptimizer{inner: model.NewAdam(disc.Params(), model.DefaultAdamConfig())}
	optG := &countingOptimizer{inner: model.NewAdam(gen.Params(), model.DefaultAdamConfig())}
	noise := &countingNoise{inner: NewGaussianNoise(3)}
	y1, y0 := Labels(testBatch, 1, 0)
	return &fixture{
		gen:   gen,
		disc:  disc,
		optD:  optD,
		optG:  optG,
		noise: noise,
		cfg: RunConfig{
			Source:        src,
			Discriminator: disc,
			Generator:     gen,
			OptimizerD:    optD,
			OptimizerG:    optG,
			RealLabel:     y1,
			FakeLabel:     y0,
			Criterion:     model.BCELoss{},
			Noise:         noise,
			Epochs:        2,
			LogEvery:      2,
			BatchSize:     testBatch,
			NoiseDim:      testNoiseDim,
			Logger:        log.New(io.Discard, "", 0),
		},
	}
}

func TestRunStepsEachOptimizerOncePerBatch(t *testing.T) {
	f := newFixture(t, newSource(t, 5))
	if err := Run(context.Background(), f.cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.optD.steps != 10 || f.optG.steps != 10 {
		t.Fatalf("optimizer steps D=%d G=%d, want 10 each", f.optD.steps, f.optG.steps)
	}
}

func TestRunSamplesVisualizationNoiseOnce(t *testing.T) {
	f := newFixture(t, newSource(t, 5))
	var shown []*mat.Dense
	f.cfg.Visualize = VisualizerFunc(func(z *mat.Dense) { shown = append(shown, z) })
	var reports []Report
	f.cfg.Observe = func(r Report) { reports = append(reports, r) }

	if err := Run(context.Background(), f.cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// One visualization sample plus one fake-batch sample per iteration.
	if f.noise.calls != 11 {
		t.Fatalf("noise sampled %d times, want 11", f.noise.calls)
	}
	if len(shown) != 6 {
		t.Fatalf("visualized %d times, want 6", len(shown))
	}
	for i, z := range shown {
		if z != f.noise.samples[0] {
			t.Fatalf("visualization %d used a different noise batch", i)
		}
	}

	var positions [][2]int
	for _, r := range reports {
		positions = append(positions, [2]int{r.Epoch, r.Batch})
		if r.Epochs != 2 || r.Batches != 5 {
			t.Fatalf("report totals %d/%d, want 2/5", r.Epochs, r.Batches)
		}
	}
	want := [][2]int{{0, 0}, {0, 2}, {0, 4}, {1, 0}, {1, 2}, {1, 4}}
	if !reflect.DeepEqual(positions, want) {
		t.Fatalf("logged at %v, want %v", positions, want)
	}
}

func TestRunLogsFirstBatchWhenIntervalExceedsEpoch(t *testing.T) {
	f := newFixture(t, newSource(t, 3))
	f.cfg.LogEvery = 10
	count := 0
	f.cfg.Observe = func(r Report) {
		count++
		if r.Batch != 0 {
			t.Fatalf("unexpected report at batch %d", r.Batch)
		}
	}
	if err := Run(context.Background(), f.cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if count != 2 {
		t.Fatalf("reports=%d want one per epoch", count)
	}
}

func TestDiscriminatorLossSumsBothPartials(t *testing.T) {
	f := newFixture(t, newSource(t, 2))
	f.cfg.Criterion = unitLoss{}
	f.cfg.LogEvery = 1
	buf := &bytes.Buffer{}
	f.cfg.Logger = log.New(buf, "", 0)
	var reports []Report
	f.cfg.Observe = func(r Report) { reports = append(reports, r) }

	if err := Run(context.Background(), f.cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(reports) != 4 {
		t.Fatalf("reports=%d want 4", len(reports))
	}
	for _, r := range reports {
		if r.LossD != 2 || r.LossDReal != 1 || r.LossDFake != 1 || r.LossG != 1 {
			t.Fatalf("unexpected losses %+v", r)
		}
	}
	if !strings.Contains(buf.String(), "[1/2][1/2]\tLoss_D: 2.0000\tLoss_G: 1.0000") {
		t.Fatalf("progress line missing, got:\n%s", buf.String())
	}
}

func snapshot(params []*model.Param) []*mat.Dense {
	out := make([]*mat.Dense, len(params))
	for i, p := range params {
		out[i] = mat.DenseCopyOf(p.Value)
	}
	return out
}

func assertUnchanged(t *testing.T, before []*mat.Dense, params []*model.Param, who string) {
	t.Helper()
	for i, p := range params {
		if !mat.Equal(before[i], p.Value) {
			t.Fatalf("%s step modified %s", who, p.Name)
		}
	}
}

func TestOptimizerStepsAreIsolated(t *testing.T) {
	f := newFixture(t, newSource(t, 3))
	var genBefore, discBefore []*mat.Dense
	f.optD.before = func() { genBefore = snapshot(f.gen.Params()) }
	f.optD.after = func() { assertUnchanged(t, genBefore, f.gen.Params(), "discriminator") }
	f.optG.before = func() { discBefore = snapshot(f.disc.Params()) }
	f.optG.after = func() { assertUnchanged(t, discBefore, f.disc.Params(), "generator") }

	discStart := snapshot(f.disc.Params())
	genStart := snapshot(f.gen.Params())
	if err := Run(context.Background(), f.cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if reflect.DeepEqual(discStart, snapshot(f.disc.Params())) {
		t.Fatal("discriminator parameters never changed")
	}
	if reflect.DeepEqual(genStart, snapshot(f.gen.Params())) {
		t.Fatal("generator parameters never changed")
	}
}

func TestFakePassForDiscriminatorIsDetached(t *testing.T) {
	f := newFixture(t, newSource(t, 1))
	f.cfg.Epochs = 1
	f.optD.after = func() {
		for _, p := range f.gen.Params() {
			if mat.Sum(p.Grad) != 0 || mat.Norm(p.Grad, 1) != 0 {
				t.Fatalf("generator gradient %s populated before its own update", p.Name)
			}
		}
	}
	f.gen.ZeroGrad()
	if err := Run(context.Background(), f.cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunHandlesUndersizedFinalBatch(t *testing.T) {
	data := mat.NewDense(testBatch*2+1, testWidth, nil)
	src, err := dataset.NewMemorySource(data, nil, testBatch, 1)
	if err != nil {
		t.Fatalf("NewMemorySource: %v", err)
	}
	f := newFixture(t, src)
	f.cfg.Epochs = 1
	if err := Run(context.Background(), f.cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.optD.steps != 3 {
		t.Fatalf("steps=%d want 3", f.optD.steps)
	}
}

func TestRunPropagatesOptimizerFailure(t *testing.T) {
	f := newFixture(t, newSource(t, 2))
	boom := errors.New("boom")
	f.optG.err = boom
	err := Run(context.Background(), f.cfg)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped boom, got %v", err)
	}
	if !strings.Contains(err.Error(), "epoch 0 batch 0") {
		t.Fatalf("error lacks position: %v", err)
	}
	if f.optD.steps != 1 {
		t.Fatalf("loop continued after failure: %d discriminator steps", f.optD.steps)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	f := newFixture(t, newSource(t, 2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Run(ctx, f.cfg); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.optD.steps != 0 {
		t.Fatalf("ran %d steps after cancellation", f.optD.steps)
	}
}

func TestValidateRejectsIncompleteConfig(t *testing.T) {
	f := newFixture(t, newSource(t, 1))
	cases := map[string]func(c *RunConfig){
		"source":    func(c *RunConfig) { c.Source = nil },
		"generator": func(c *RunConfig) { c.Generator = nil },
		"optimizer": func(c *RunConfig) { c.OptimizerD = nil },
		"labels":    func(c *RunConfig) { c.FakeLabel = nil },
		"loss":      func(c *RunConfig) { c.Criterion = nil },
		"noise":     func(c *RunConfig) { c.Noise = nil },
		"epochs":    func(c *RunConfig) { c.Epochs = 0 },
		"batch":     func(c *RunConfig) { c.BatchSize = 0 },
		"noise dim": func(c *RunConfig) { c.NoiseDim = -1 },
	}
	for name, mutate := range cases {
		cfg := f.cfg
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := f.cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
