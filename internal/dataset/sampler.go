package dataset

import (
	"context"
	"math/rand"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// ShardOptions configures a ShardSource.
type ShardOptions struct {
	Roots      map[string][]string
	BatchSize  int
	Side       int
	NumWorkers int
	Seed       int64
}

// ShardSource serves decoded image batches from WebDataset shards. Each epoch
// visits every shard once, interleaving roots round-robin in a shuffled order.
type ShardSource struct {
	opts    ShardOptions
	samples int
}

// OpenShards validates opts and counts the images available per epoch.
func OpenShards(opts ShardOptions) (*ShardSource, error) {
	if len(opts.Roots) == 0 {
		return nil, errors.New("shards: no dataset roots provided")
	}
	if opts.BatchSize <= 0 {
		return nil, errors.Errorf("shards: batch size must be > 0 (got %d)", opts.BatchSize)
	}
	if opts.Side <= 0 {
		return nil, errors.Errorf("shards: image side must be > 0 (got %d)", opts.Side)
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	total := 0
	for _, shards := range opts.Roots {
		for _, path := range shards {
			n, err := CountImages(path)
			if err != nil {
				return nil, err
			}
			total += n
		}
	}
	if total == 0 {
		return nil, ErrNoBatches
	}
	return &ShardSource{opts: opts, samples: total}, nil
}

func (s *ShardSource) Len() int { return numBatches(s.samples, s.opts.BatchSize) }

// Samples is the number of images per epoch.
func (s *ShardSource) Samples() int { return s.samples }

// Width is the number of features per decoded image.
func (s *ShardSource) Width() int { return s.opts.Side * s.opts.Side }

func (s *ShardSource) Epoch(parent context.Context, epoch int) (<-chan Batch, <-chan error) {
	ctx, cancel := context.WithCancel(parent)

	order := buildRoundRobinOrder(s.opts.Roots, rand.New(rand.NewSource(s.opts.Seed+int64(epoch))))
	jobs := make(chan shardJob, s.opts.NumWorkers)
	cursors := make(chan shardCursor, s.opts.NumWorkers)
	samples := make(chan Sample, s.opts.NumWorkers*2)
	aggErr := make(chan error, 1)
	out := make(chan Batch, 1)
	errCh := make(chan error, 1)

	go produceJobs(ctx, jobs, order)

	var wg sync.WaitGroup
	for i := 0; i < s.opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx, jobs, cursors)
		}()
	}

	go func() {
		wg.Wait()
		close(cursors)
	}()

	go func() {
		defer close(samples)
		defer close(aggErr)
		runAggregator(ctx, cursors, samples, aggErr)
	}()

	go func() {
		defer cancel()
		defer close(errCh)
		defer close(out)
		if err := s.batch(ctx, samples, out); err != nil {
			errCh <- err
			return
		}
		if err := <-aggErr; err != nil {
			errCh <- err
			return
		}
		if err := ctx.Err(); err != nil {
			errCh <- err
		}
	}()

	return out, errCh
}

func (s *ShardSource) batch(ctx context.Context, samples <-chan Sample, out chan<- Batch) error {
	b := newBatcher(s.opts.BatchSize, s.Width())
	for sample := range samples {
		features, err := DecodeGray(sample.Image, s.opts.Side)
		if err != nil {
			return errors.Wrapf(err, "sample %s", sample.Key)
		}
		if !b.add(features, 0, false) {
			continue
		}
		batch, _ := b.flush()
		if !send(ctx, out, batch) {
			return ctx.Err()
		}
	}
	if batch, ok := b.flush(); ok && ctx.Err() == nil {
		if !send(ctx, out, batch) {
			return ctx.Err()
		}
	}
	return nil
}

type shardJob struct {
	id   int64
	root string
	path string
}

type shardCursor struct {
	id      int64
	samples <-chan Sample
	errCh   <-chan error
}

func worker(ctx context.Context, jobs <-chan shardJob, cursors chan<- shardCursor) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			samples, errCh := StreamShard(ctx, job.path)
			cursor := shardCursor{id: job.id, samples: samples, errCh: errCh}
			select {
			case <-ctx.Done():
				return
			case cursors <- cursor:
			}
		}
	}
}

// runAggregator forwards samples shard by shard in job order, regardless of
// which worker opened each shard.
func runAggregator(ctx context.Context, cursors <-chan shardCursor, out chan<- Sample, errCh chan<- error) {
	pending := make(map[int64]shardCursor)
	var nextID int64
	for {
		cursor, ok := pending[nextID]
		if !ok {
			select {
			case <-ctx.Done():
				return
			case c, open := <-cursors:
				if !open {
					return
				}
				pending[c.id] = c
			}
			continue
		}

		for sample := range cursor.samples {
			select {
			case <-ctx.Done():
				return
			case out <- sample:
			}
		}
		if err := <-cursor.errCh; err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
			return
		}
		delete(pending, nextID)
		nextID++
	}
}

func produceJobs(ctx context.Context, jobs chan<- shardJob, order []orderEntry) {
	defer close(jobs)
	for id, entry := range order {
		select {
		case <-ctx.Done():
			return
		case jobs <- shardJob{id: int64(id), root: entry.root, path: entry.path}:
		}
	}
}

type orderEntry struct {
	root string
	path string
}

func buildRoundRobinOrder(roots map[string][]string, rng *rand.Rand) []orderEntry {
	rootNames := make([]string, 0, len(roots))
	copied := make(map[string][]string, len(roots))
	for root, shards := range roots {
		if len(shards) == 0 {
			continue
		}
		rootNames = append(rootNames, root)
		copied[root] = append([]string(nil), shards...)
	}
	sort.Strings(rootNames)
	if rng != nil {
		for _, root := range rootNames {
			shards := copied[root]
			rng.Shuffle(len(shards), func(i, j int) {
				shards[i], shards[j] = shards[j], shards[i]
			})
		}
	}
	var order []orderEntry
	for {
		advanced := false
		for _, root := range rootNames {
			shards := copied[root]
			if len(shards) == 0 {
				continue
			}
			order = append(order, orderEntry{root: root, path: shards[0]})
			copied[root] = shards[1:]
			advanced = true
		}
		if !advanced {
			break
		}
	}
	return order
}
