package nn

import (
	"fmt"
	"math"

	"github.com/jonGuti13/qonnx2mdc/internal/tensor"
)

// CategoricalCrossEntropy is the Keras categorical cross-entropy applied to
// non-softmax scores such as sigmoid outputs.
//
// Scores are first normalized to sum to one per example, then clipped to
// [eps, 1-eps]:
//
//	p_i  = s_i / Σ_j s_j
//	loss = -mean_n Σ_i y_i * log(p_i)
type CategoricalCrossEntropy struct {
	Eps float64
}

// NewCategoricalCrossEntropy uses the Keras epsilon 1e-7.
func NewCategoricalCrossEntropy() *CategoricalCrossEntropy {
	return &CategoricalCrossEntropy{Eps: 1e-7}
}

// Forward returns the batch-mean loss and its gradient with respect to the
// scores. pred and target are [N, classes].
func (l *CategoricalCrossEntropy) Forward(pred, target *tensor.Tensor) (float64, *tensor.Tensor) {
	ps, ts := pred.Shape(), target.Shape()
	if len(ps) != 2 || !ps.Equal(ts) {
		panic(fmt.Sprintf("crossentropy: pred %v and target %v must both be [N, classes]", ps, ts))
	}
	n, k := ps[0], ps[1]
	eps := l.Eps

	grad := tensor.Zeros(n, k)
	p, y, g := pred.Data(), target.Data(), grad.Data()

	var total float64
	for r := 0; r < n; r++ {
		sr := p[r*k : (r+1)*k]
		yr := y[r*k : (r+1)*k]
		gr := g[r*k : (r+1)*k]

		var sum, ySum float64
		for i := range sr {
			sum += float64(sr[i])
			ySum += float64(yr[i])
		}
		sum = math.Max(sum, eps)

		for i := range sr {
			s := float64(sr[i])
			prob := s / sum
			clipped := math.Min(math.Max(prob, eps), 1-eps)
			total -= float64(yr[i]) * math.Log(clipped)

			// d/ds_i of -Σ y_j log(s_j / S) = Σy/S - y_i/s_i, ignoring the clip.
			d := ySum / sum
			if yr[i] != 0 {
				d -= float64(yr[i]) / math.Max(s, eps)
			}
			gr[i] = float32(d / float64(n))
		}
	}
	return total / float64(n), grad
}

// Accuracy is the fraction of rows whose argmax matches the target argmax.
func Accuracy(pred, target *tensor.Tensor) float64 {
	n := pred.Shape()[0]
	if n == 0 {
		return 0
	}
	return float64(CountCorrect(pred, target)) / float64(n)
}

// CountCorrect returns the number of rows whose argmax matches the target argmax.
func CountCorrect(pred, target *tensor.Tensor) int {
	p, t := tensor.Argmax(pred), tensor.Argmax(target)
	correct := 0
	for i := range p {
		if p[i] == t[i] {
			correct++
		}
	}
	return correct
}
