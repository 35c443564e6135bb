package dataset

import (
	"context"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// MemorySource serves batches from a matrix held in memory.
type MemorySource struct {
	data      *mat.Dense
	labels    []int
	batchSize int
	seed      int64
	// Shuffle reorders rows each epoch using seed+epoch.
	Shuffle bool
}

// NewMemorySource wraps data (one sample per row). labels may be nil.
func NewMemorySource(data *mat.Dense, labels []int, batchSize int, seed int64) (*MemorySource, error) {
	if data == nil {
		return nil, errors.New("memory source: nil data")
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("memory source: batch size must be > 0 (got %d)", batchSize)
	}
	rows, _ := data.Dims()
	if labels != nil && len(labels) != rows {
		return nil, errors.Errorf("memory source: %d labels for %d rows", len(labels), rows)
	}
	if rows == 0 {
		return nil, ErrNoBatches
	}
	return &MemorySource{data: data, labels: labels, batchSize: batchSize, seed: seed, Shuffle: true}, nil
}

func (s *MemorySource) Len() int {
	rows, _ := s.data.Dims()
	return numBatches(rows, s.batchSize)
}

// Width is the number of features per sample.
func (s *MemorySource) Width() int {
	_, cols := s.data.Dims()
	return cols
}

func (s *MemorySource) Epoch(ctx context.Context, epoch int) (<-chan Batch, <-chan error) {
	out := make(chan Batch, 1)
	errCh := make(chan error, 1)

	rows, cols := s.data.Dims()
	order := make([]int, rows)
	for i := range order {
		order[i] = i
	}
	if s.Shuffle {
		rng := rand.New(rand.NewSource(s.seed + int64(epoch)))
		rng.Shuffle(rows, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	go func() {
		defer close(errCh)
		defer close(out)

		b := newBatcher(s.batchSize, cols)
		for _, idx := range order {
			label := 0
			if s.labels != nil {
				label = s.labels[idx]
			}
			if !b.add(s.data.RawRowView(idx), label, s.labels != nil) {
				continue
			}
			batch, _ := b.flush()
			if !send(ctx, out, batch) {
				errCh <- ctx.Err()
				return
			}
		}
		if batch, ok := b.flush(); ok {
			if !send(ctx, out, batch) {
				errCh <- ctx.Err()
			}
		}
	}()

	return out, errCh
}
