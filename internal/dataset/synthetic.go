package dataset

import (
	"context"
	"fmt"
	"math/rand"
)

// Synthetic geometry: 28x28 single-channel images, 10 classes.
const (
	syntheticSize    = 28
	syntheticClasses = 10
	syntheticBlock   = 7
	syntheticNoise   = 32
)

func init() {
	Register("synthetic", func(opts Options) (Source, error) {
		return NewSynthetic(opts.Examples, opts.Seed), nil
	})
}

// Synthetic generates MNIST-shaped, well-separated classes: class k lights
// one 7x7 block of a 4x4 grid over low-amplitude noise. It needs no files,
// so tests and offline runs use it in place of MNIST.
type Synthetic struct {
	n    int
	seed int64
}

// NewSynthetic returns a source whose "train" split has n examples and
// whose "test" split has n/5 (at least one). n <= 0 selects 1000.
func NewSynthetic(n int, seed int64) *Synthetic {
	if n <= 0 {
		n = 1000
	}
	return &Synthetic{n: n, seed: seed}
}

func (s *Synthetic) Splits() []string { return []string{"train", "test"} }

func (s *Synthetic) Load(ctx context.Context, split string) ([]RawExample, error) {
	var n int
	var seed int64
	switch split {
	case "train":
		n, seed = s.n, s.seed
	case "test":
		n, seed = max(s.n/5, 1), s.seed+1
	default:
		return nil, fmt.Errorf("%w: synthetic has no split %q", ErrDataUnavailable, split)
	}

	//nolint:gosec // Deterministic test data, not security-critical
	rng := rand.New(rand.NewSource(seed))
	out := make([]RawExample, n)
	for i := range out {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		label := rng.Intn(syntheticClasses)
		out[i] = RawExample{
			Image: syntheticImage(label, rng),
			Shape: [3]int{syntheticSize, syntheticSize, 1},
			Label: []int{label},
		}
	}
	return out, nil
}

func syntheticImage(label int, rng *rand.Rand) []uint8 {
	img := make([]uint8, syntheticSize*syntheticSize)
	for i := range img {
		img[i] = uint8(rng.Intn(syntheticNoise))
	}
	per := syntheticSize / syntheticBlock
	by, bx := (label/per)*syntheticBlock, (label%per)*syntheticBlock
	for y := by; y < by+syntheticBlock; y++ {
		for x := bx; x < bx+syntheticBlock; x++ {
			img[y*syntheticSize+x] = uint8(200 + rng.Intn(56))
		}
	}
	return img
}
