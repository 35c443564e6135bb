package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Sample is one image entry from a WebDataset shard.
type Sample struct {
	Key   string
	Image []byte
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// StreamShard streams the image entries of the shard at path in archive
// order. Sidecar entries such as .cls labels are skipped.
func StreamShard(ctx context.Context, path string) (<-chan Sample, <-chan error) {
	out := make(chan Sample)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		f, err := os.Open(path)
		if err != nil {
			errCh <- errors.Wrap(err, "open shard")
			return
		}
		defer f.Close()

		tr := tar.NewReader(bufio.NewReader(f))
		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errCh <- errors.Wrapf(err, "read tar %s", path)
				return
			}
			if hdr.FileInfo().IsDir() || !isImage(hdr.Name) {
				continue
			}
			name := filepath.Base(hdr.Name)
			data, err := io.ReadAll(tr)
			if err != nil {
				errCh <- errors.Wrapf(err, "read image %s", name)
				return
			}
			sample := Sample{Key: strings.TrimSuffix(name, filepath.Ext(name)), Image: data}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- sample:
			}
		}
	}()

	return out, errCh
}

// CountImages returns the number of image entries in the shard at path
// without reading their payloads.
func CountImages(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open shard")
	}
	defer f.Close()

	tr := tar.NewReader(bufio.NewReader(f))
	count := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return 0, errors.Wrapf(err, "read tar %s", path)
		}
		if !hdr.FileInfo().IsDir() && isImage(hdr.Name) {
			count++
		}
	}
}
