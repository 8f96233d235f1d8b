package dataset

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// IDX magic numbers.
const (
	idxImagesMagic = 2051
	idxLabelsMagic = 2049
)

var mnistFiles = map[string][2]string{
	"train": {"train-images-idx3-ubyte", "train-labels-idx1-ubyte"},
	"test":  {"t10k-images-idx3-ubyte", "t10k-labels-idx1-ubyte"},
}

func init() {
	Register("mnist", func(opts Options) (Source, error) {
		if opts.DataDir == "" {
			return nil, errors.New("mnist needs a data directory")
		}
		return &MNIST{dir: opts.DataDir}, nil
	})
}

// MNIST reads the IDX files of the MNIST distribution from a directory.
// Each file may also be present gzip-compressed with a ".gz" suffix.
type MNIST struct {
	dir string
}

// NewMNIST returns a source reading from dir.
func NewMNIST(dir string) *MNIST {
	return &MNIST{dir: dir}
}

func (m *MNIST) Splits() []string { return []string{"train", "test"} }

func (m *MNIST) Load(ctx context.Context, split string) ([]RawExample, error) {
	files, ok := mnistFiles[split]
	if !ok {
		return nil, fmt.Errorf("%w: mnist has no split %q", ErrDataUnavailable, split)
	}
	images, rows, cols, err := readIDXImages(filepath.Join(m.dir, files[0]))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	labels, err := readIDXLabels(filepath.Join(m.dir, files[1]))
	if err != nil {
		return nil, err
	}
	if len(images) != len(labels) {
		return nil, fmt.Errorf("mnist %s: %d images but %d labels", split, len(images), len(labels))
	}

	out := make([]RawExample, len(images))
	for i := range images {
		out[i] = RawExample{
			Image: images[i],
			Shape: [3]int{rows, cols, 1},
			Label: []int{int(labels[i])},
		}
	}
	return out, nil
}

// openIDX opens path, falling back to path+".gz".
func openIDX(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	gzf, gzErr := os.Open(path + ".gz")
	if gzErr != nil {
		return nil, fmt.Errorf("%w: %s(.gz) not found", ErrDataUnavailable, path)
	}
	zr, err := gzip.NewReader(bufio.NewReader(gzf))
	if err != nil {
		gzf.Close()
		return nil, fmt.Errorf("gunzip %s.gz: %w", path, err)
	}
	return &gzipFile{Reader: zr, file: gzf}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	return errors.Join(g.Reader.Close(), g.file.Close())
}

// readIDXImages reads an MNIST image file in IDX format.
//
// IDX file format for images:
//
//	magic number: 0x00000803 (2051)
//	number of images: 4 bytes
//	number of rows: 4 bytes (28)
//	number of cols: 4 bytes (28)
//	pixel data: unsigned bytes (0-255)
func readIDXImages(filename string) (images [][]byte, rows, cols int, err error) {
	rc, err := openIDX(filename)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rc.Close()
	r := bufio.NewReader(rc)

	var header [4]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, 0, 0, fmt.Errorf("%s: failed to read header: %w", filename, err)
	}
	if header[0] != idxImagesMagic {
		return nil, 0, 0, fmt.Errorf("%s: invalid magic number: got %d, want %d", filename, header[0], idxImagesMagic)
	}

	n, rows, cols := int(header[1]), int(header[2]), int(header[3])
	imageSize := rows * cols
	images = make([][]byte, n)
	for i := range images {
		images[i] = make([]byte, imageSize)
		if _, err := io.ReadFull(r, images[i]); err != nil {
			return nil, 0, 0, fmt.Errorf("%s: failed to read image %d: %w", filename, i, err)
		}
	}
	return images, rows, cols, nil
}

// readIDXLabels reads an MNIST label file in IDX format.
//
// IDX file format for labels:
//
//	magic number: 0x00000801 (2049)
//	number of labels: 4 bytes
//	label data: unsigned bytes (0-9)
func readIDXLabels(filename string) ([]byte, error) {
	rc, err := openIDX(filename)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	r := bufio.NewReader(rc)

	var header [2]uint32
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("%s: failed to read header: %w", filename, err)
	}
	if header[0] != idxLabelsMagic {
		return nil, fmt.Errorf("%s: invalid magic number: got %d, want %d", filename, header[0], idxLabelsMagic)
	}

	labels := make([]byte, header[1])
	if _, err := io.ReadFull(r, labels); err != nil {
		return nil, fmt.Errorf("%s: failed to read labels: %w", filename, err)
	}
	return labels, nil
}

// WriteIDX writes images and labels as an uncompressed IDX pair.
func WriteIDX(imagesPath, labelsPath string, examples []RawExample) error {
	if len(examples) == 0 {
		return errors.New("no examples to write")
	}
	rows, cols := examples[0].Shape[0], examples[0].Shape[1]

	var img []byte
	img = binary.BigEndian.AppendUint32(img, idxImagesMagic)
	img = binary.BigEndian.AppendUint32(img, uint32(len(examples)))
	img = binary.BigEndian.AppendUint32(img, uint32(rows))
	img = binary.BigEndian.AppendUint32(img, uint32(cols))
	lbl := binary.BigEndian.AppendUint32(nil, idxLabelsMagic)
	lbl = binary.BigEndian.AppendUint32(lbl, uint32(len(examples)))

	for i, ex := range examples {
		if ex.Shape != examples[0].Shape || ex.Shape[2] != 1 {
			return fmt.Errorf("example %d: IDX needs single-channel images of one shape", i)
		}
		img = append(img, ex.Image...)
		lbl = append(lbl, byte(ex.Label[0]))
	}
	if err := os.WriteFile(imagesPath, img, 0o644); err != nil {
		return err
	}
	return os.WriteFile(labelsPath, lbl, 0o644)
}
