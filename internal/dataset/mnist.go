package dataset

import (
	"path/filepath"

	"github.com/petar/GoMNIST"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	MNISTImages = "train-images-idx3-ubyte.gz"
	MNISTLabels = "train-labels-idx1-ubyte.gz"
)

// LoadMNIST reads the gzipped MNIST training set from dir and returns it as a
// shuffling MemorySource with pixels scaled to [-1, 1]. limit <= 0 keeps
// every image.
func LoadMNIST(dir string, limit, batchSize int, seed int64) (*MemorySource, int, error) {
	set, err := GoMNIST.ReadSet(filepath.Join(dir, MNISTImages), filepath.Join(dir, MNISTLabels))
	if err != nil {
		return nil, 0, errors.Wrapf(err, "read mnist from %s", dir)
	}
	count := len(set.Images)
	if limit > 0 && limit < count {
		count = limit
	}
	if count == 0 {
		return nil, 0, ErrNoBatches
	}
	width := set.NRow * set.NCol
	data := mat.NewDense(count, width, nil)
	labels := make([]int, count)
	for i := 0; i < count; i++ {
		img := set.Images[i]
		if len(img) != width {
			return nil, 0, errors.Errorf("mnist image %d has %d pixels, want %d", i, len(img), width)
		}
		row := data.RawRowView(i)
		for j, px := range img {
			row[j] = float64(px)/127.5 - 1
		}
		labels[i] = int(set.Labels[i])
	}
	src, err := NewMemorySource(data, labels, batchSize, seed)
	if err != nil {
		return nil, 0, err
	}
	return src, set.NRow, nil
}
