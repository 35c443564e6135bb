package dataset

import (
	"context"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoBatches is returned when a source would yield nothing per epoch.
var ErrNoBatches = errors.New("dataset: source yields no batches")

// Batch is one minibatch of real samples, one flattened sample per row.
// Labels is nil when the source carries none.
type Batch struct {
	Real   *mat.Dense
	Labels []int
}

// Source yields a finite, restartable sequence of batches.
type Source interface {
	// Len is the number of batches each epoch yields.
	Len() int
	// Epoch streams the batches of one pass. The error channel receives at
	// most one value and is closed after the batch channel.
	Epoch(ctx context.Context, epoch int) (<-chan Batch, <-chan error)
}

func numBatches(samples, batchSize int) int {
	if samples <= 0 || batchSize <= 0 {
		return 0
	}
	return (samples + batchSize - 1) / batchSize
}

// batcher packs flat feature rows into Batches of up to size rows.
type batcher struct {
	size   int
	width  int
	data   []float64
	labels []int
	rows   int
}

func newBatcher(size, width int) *batcher {
	return &batcher{size: size, width: width}
}

// add appends one row and reports whether a full batch is ready.
func (b *batcher) add(row []float64, label int, hasLabel bool) bool {
	if b.data == nil {
		b.data = make([]float64, 0, b.size*b.width)
	}
	b.data = append(b.data, row...)
	if hasLabel {
		b.labels = append(b.labels, label)
	}
	b.rows++
	return b.rows == b.size
}

// flush returns the pending rows as a Batch; ok is false when none are pending.
func (b *batcher) flush() (Batch, bool) {
	if b.rows == 0 {
		return Batch{}, false
	}
	batch := Batch{Real: mat.NewDense(b.rows, b.width, b.data), Labels: b.labels}
	b.data, b.labels, b.rows = nil, nil, 0
	return batch, true
}

func send(ctx context.Context, out chan<- Batch, batch Batch) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- batch:
		return true
	}
}
