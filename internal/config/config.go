package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DatasetMNIST      = "mnist"
	DatasetWebDataset = "webdataset"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	Dataset    string   `yaml:"dataset"`
	DataDir    string   `yaml:"data_dir"`
	TrainRoots []string `yaml:"train_roots"`
	ImageSide  int      `yaml:"image_side"`
	Limit      int      `yaml:"limit"`

	Epochs     int   `yaml:"epochs"`
	BatchSize  int   `yaml:"batch_size"`
	NoiseDim   int   `yaml:"noise_dim"`
	Hidden     int   `yaml:"hidden"`
	LogEvery   int   `yaml:"log_every"`
	Seed       int64 `yaml:"seed"`
	NumWorkers int   `yaml:"num_workers"`

	Optimizer string  `yaml:"optimizer"`
	Loss      string  `yaml:"loss"`
	LRD       float64 `yaml:"lr_d"`
	LRG       float64 `yaml:"lr_g"`
	// Beta1 doubles as the momentum when optimizer is sgd.
	Beta1     float64 `yaml:"beta1"`
	Beta2     float64 `yaml:"beta2"`
	RealLabel float64 `yaml:"real_label"`
	FakeLabel float64 `yaml:"fake_label"`

	OutputDir string `yaml:"output_dir"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	DataDir    string
	TrainRoots []string
	Epochs     int
	BatchSize  int
	NumWorkers int
	Seed       int64
	LogEvery   int
	OutputDir  string
}

// Default returns the settings of the reference DCGAN recipe.
func Default() *Config {
	return &Config{
		Dataset:   DatasetMNIST,
		ImageSide: 28,
		Epochs:    5,
		BatchSize: 128,
		NoiseDim:  100,
		Hidden:    256,
		LogEvery:  50,
		Seed:      1,
		Optimizer: "adam",
		Loss:      "bce",
		LRD:       0.0002,
		LRG:       0.0002,
		Beta1:     0.5,
		Beta2:     0.999,
		RealLabel: 1,
		FakeLabel: 0,
		OutputDir: "out",
	}
}

// Load reads a Config from YAML on top of Default.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// Parse decodes YAML on top of Default. Unknown keys are rejected.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if len(o.TrainRoots) > 0 {
		c.TrainRoots = o.TrainRoots
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
}

// Validate verifies the config is runnable and fills derived defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	switch c.Dataset {
	case DatasetMNIST:
		if c.DataDir == "" {
			return errors.New("data_dir is required for the mnist dataset")
		}
	case DatasetWebDataset:
		if len(c.TrainRoots) == 0 {
			return errors.New("train_roots is required for the webdataset dataset")
		}
		if c.ImageSide <= 0 {
			return errors.Errorf("image_side must be > 0 (got %d)", c.ImageSide)
		}
	default:
		return errors.Errorf("unknown dataset %q", c.Dataset)
	}
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NoiseDim <= 0 {
		return errors.Errorf("noise_dim must be > 0 (got %d)", c.NoiseDim)
	}
	if c.Hidden <= 0 {
		return errors.Errorf("hidden must be > 0 (got %d)", c.Hidden)
	}
	switch c.Optimizer {
	case "adam", "sgd":
	default:
		return errors.Errorf("unknown optimizer %q", c.Optimizer)
	}
	switch c.Loss {
	case "bce", "mse":
	default:
		return errors.Errorf("unknown loss %q", c.Loss)
	}
	if c.LRD <= 0 || c.LRG <= 0 {
		return errors.Errorf("learning rates must be > 0 (got lr_d=%g lr_g=%g)", c.LRD, c.LRG)
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = DefaultWorkers()
	}
	return nil
}

// DefaultWorkers sizes the loader pool to the physical core count.
func DefaultWorkers() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// CPUSummary describes the host for the startup log line.
func CPUSummary() string {
	brand := cpuid.CPU.BrandName
	if brand == "" {
		brand = runtime.GOARCH
	}
	return fmt.Sprintf("%s (%d physical / %d logical cores, avx2=%t)",
		brand, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, cpuid.CPU.Supports(cpuid.AVX2))
}
