// Package dataset provides the data stage: named image datasets addressed by
// split strings, the preprocessing transform, and a lazy pipeline with
// shuffling, batching and prefetch.
package dataset

import (
	"fmt"
)

// RawExample is an undecoded (image, label) pair as a source yields it.
//
// Image holds H*W*C intensities in row-major H, W, C order. Label may carry
// singleton dimensions (e.g., [7] or [[7]] flattened to []int{7}); anything
// that does not squeeze to a scalar is rejected by Preprocess.
type RawExample struct {
	Image []uint8
	Shape [3]int // H, W, C
	Label []int
}

// Example is a preprocessed training example.
type Example struct {
	Image  []float32 // values in [0, 1], H, W, C order
	Shape  [3]int
	OneHot []float32 // length = number of classes
}

// Preprocess normalizes pixel intensities to [0, 1] and one-hot encodes the label.
//
// It only accepts raw 8-bit images, so an already-normalized Example can
// never be fed back through it.
func Preprocess(raw RawExample, numClasses int) (Example, error) {
	h, w, c := raw.Shape[0], raw.Shape[1], raw.Shape[2]
	if h <= 0 || w <= 0 || c <= 0 {
		return Example{}, fmt.Errorf("invalid image shape %v", raw.Shape)
	}
	if len(raw.Image) != h*w*c {
		return Example{}, fmt.Errorf("image has %d values, shape %v needs %d", len(raw.Image), raw.Shape, h*w*c)
	}
	if numClasses <= 0 {
		return Example{}, fmt.Errorf("number of classes must be positive, got %d", numClasses)
	}
	if len(raw.Label) != 1 {
		return Example{}, fmt.Errorf("label %v does not squeeze to a scalar", raw.Label)
	}
	label := raw.Label[0]
	if label < 0 || label >= numClasses {
		return Example{}, fmt.Errorf("label %d out of range [0, %d)", label, numClasses)
	}

	img := make([]float32, len(raw.Image))
	for i, v := range raw.Image {
		img[i] = float32(v) / 255
	}
	oneHot := make([]float32, numClasses)
	oneHot[label] = 1

	return Example{Image: img, Shape: raw.Shape, OneHot: oneHot}, nil
}

// Preprocessed maps Preprocess over a raw pipeline.
func Preprocessed(p Pipeline[RawExample], numClasses int) Pipeline[Example] {
	return MapErr(p, func(r RawExample) (Example, error) {
		return Preprocess(r, numClasses)
	})
}
