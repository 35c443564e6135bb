package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"dcgan-forge/internal/config"
	"dcgan-forge/internal/dataset"
	"dcgan-forge/internal/model"
	"dcgan-forge/internal/trainer"
	"dcgan-forge/internal/visualize"
)

const initStd = 0.02

func main() {
	cfgPath := flag.String("config", "configs/mnist.yaml", "Path to YAML config")
	dataDir := flag.String("data-dir", "", "Override MNIST directory")
	trainRoots := flag.String("train-roots", "", "Override comma-separated shard roots")
	epochs := flag.Int("epochs", 0, "Number of training epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	numWorkers := flag.Int("num-workers", 0, "Number of shard loader workers")
	seed := flag.Int64("seed", 0, "PRNG seed")
	logEvery := flag.Int("log-every", 0, "Log every N batches")
	outputDir := flag.String("output-dir", "", "Directory for sample grids and the loss plot")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	var roots []string
	if *trainRoots != "" {
		roots = strings.Split(*trainRoots, ",")
	}
	cfg.ApplyOverrides(config.Overrides{
		DataDir:    *dataDir,
		TrainRoots: roots,
		Epochs:     *epochs,
		BatchSize:  *batchSize,
		NumWorkers: *numWorkers,
		Seed:       *seed,
		LogEvery:   *logEvery,
		OutputDir:  *outputDir,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	log.Printf("cpu=%s workers=%d", config.CPUSummary(), cfg.NumWorkers)

	src, side, err := openSource(cfg)
	if err != nil {
		log.Fatalf("open dataset: %v", err)
	}
	width := side * side
	log.Printf("dataset=%s batches_per_epoch=%d image=%dx%d", cfg.Dataset, src.Len(), side, side)

	rng := rand.New(rand.NewSource(cfg.Seed))
	gen := model.NewGenerator(cfg.NoiseDim, cfg.Hidden, width)
	disc := model.NewDiscriminator(width, cfg.Hidden)
	model.InitNormal(gen, initStd, rng)
	model.InitNormal(disc, initStd, rng)

	realLabel, fakeLabel := trainer.Labels(cfg.BatchSize, cfg.RealLabel, cfg.FakeLabel)
	curve := &visualize.LossCurve{}

	runCfg := trainer.RunConfig{
		Source:        src,
		Discriminator: disc,
		Generator:     gen,
		OptimizerD:    newOptimizer(cfg, disc.Params(), cfg.LRD),
		OptimizerG:    newOptimizer(cfg, gen.Params(), cfg.LRG),
		RealLabel:     realLabel,
		FakeLabel:     fakeLabel,
		Criterion:     newLoss(cfg),
		Noise:         trainer.NewGaussianNoise(cfg.Seed + 1),
		Epochs:        cfg.Epochs,
		LogEvery:      cfg.LogEvery,
		BatchSize:     cfg.BatchSize,
		NoiseDim:      cfg.NoiseDim,
		Visualize:     &visualize.Grid{Generator: gen, Dir: cfg.OutputDir, Side: side},
		Observe:       curve.Observe,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := trainer.Run(ctx, runCfg)
	if curve.Len() > 0 {
		path := filepath.Join(cfg.OutputDir, "loss.png")
		if err := curve.Save(path); err != nil {
			log.Printf("failed to save loss plot: %v", err)
		} else {
			log.Printf("loss plot written to %s", path)
		}
	}
	if runErr != nil {
		log.Fatalf("training failed: %v", runErr)
	}
}

func openSource(cfg *config.Config) (dataset.Source, int, error) {
	switch cfg.Dataset {
	case config.DatasetWebDataset:
		byRoot, err := dataset.DiscoverByRoot(cfg.TrainRoots)
		if err != nil {
			return nil, 0, err
		}
		for root, shards := range byRoot {
			log.Printf("root=%s shards=%d", root, len(shards))
		}
		src, err := dataset.OpenShards(dataset.ShardOptions{
			Roots:      byRoot,
			BatchSize:  cfg.BatchSize,
			Side:       cfg.ImageSide,
			NumWorkers: cfg.NumWorkers,
			Seed:       cfg.Seed,
		})
		if err != nil {
			return nil, 0, err
		}
		return src, cfg.ImageSide, nil
	default:
		src, side, err := dataset.LoadMNIST(cfg.DataDir, cfg.Limit, cfg.BatchSize, cfg.Seed)
		if err != nil {
			return nil, 0, err
		}
		return src, side, nil
	}
}

func newOptimizer(cfg *config.Config, params []*model.Param, lr float64) model.Optimizer {
	if cfg.Optimizer == "sgd" {
		return model.NewSGD(params, lr, cfg.Beta1)
	}
	return model.NewAdam(params, model.AdamConfig{
		LearningRate: lr,
		Beta1:        cfg.Beta1,
		Beta2:        cfg.Beta2,
	})
}

func newLoss(cfg *config.Config) model.Loss {
	if cfg.Loss == "mse" {
		return model.MSELoss{}
	}
	return model.BCELoss{}
}
