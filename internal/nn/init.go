package nn

import (
	"math"
	"math/rand"

	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// GlorotUniform (Xavier) initialization for weights.
//
// Initializes weights with values drawn from a uniform distribution:
// U(-sqrt(6/(fan_in + fan_out)), sqrt(6/(fan_in + fan_out)))
//
// The generator is passed in so a fixed seed reproduces a run.
func GlorotUniform(fanIn, fanOut int, rng *rand.Rand, shape ...int) *tensor.Tensor {
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))

	t := tensor.Zeros(shape...)
	data := t.Data()
	for i := range data {
		//nolint:gosec // Using math/rand for weight initialization (not security-critical)
		data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return t
}
