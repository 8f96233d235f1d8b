package dataset

import (
	"fmt"

	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// Minibatch is a collated group of examples.
type Minibatch struct {
	Images *tensor.Tensor // [N, H, W, C]
	Labels *tensor.Tensor // [N, classes]
}

// Size returns the number of examples in the batch.
func (b Minibatch) Size() int {
	return b.Images.Shape()[0]
}

// Collate stacks examples into tensors. All examples must share image
// shape and class count.
func Collate(examples []Example) (Minibatch, error) {
	if len(examples) == 0 {
		return Minibatch{}, fmt.Errorf("collate: empty batch")
	}
	shape, classes := examples[0].Shape, len(examples[0].OneHot)
	pix := shape[0] * shape[1] * shape[2]

	images := tensor.Zeros(len(examples), shape[0], shape[1], shape[2])
	labels := tensor.Zeros(len(examples), classes)
	img, lbl := images.Data(), labels.Data()
	for i, ex := range examples {
		if ex.Shape != shape || len(ex.OneHot) != classes || len(ex.Image) != pix {
			return Minibatch{}, fmt.Errorf("collate: example %d has shape %v/%d classes, batch has %v/%d",
				i, ex.Shape, len(ex.OneHot), shape, classes)
		}
		copy(img[i*pix:], ex.Image)
		copy(lbl[i*classes:], ex.OneHot)
	}
	return Minibatch{Images: images, Labels: labels}, nil
}

// Batches turns a pipeline of examples into a pipeline of collated batches.
// Collation errors are reported through Err.
func Batches(p Pipeline[Example], size int, dropRemainder bool) Pipeline[Minibatch] {
	return MapErr(Batch(p, size, dropRemainder), Collate)
}
