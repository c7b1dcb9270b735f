package training

import (
	"context"

	"github.com/mikey/mail-risk/internal/ml"
)

// TrainOVR fits one binary perceptron per class over sparse vectors.
// Classes are visited inside the example loop, so every class sees examples in the same order.
func TrainOVR(ctx context.Context, xs []ml.SparseVector, ys []int, numClasses, dim, epochs int, lr float64) ([][]float64, []float64, error) {
	weights := make([][]float64, numClasses)
	for c := range weights {
		weights[c] = make([]float64, dim)
	}
	bias := make([]float64, numClasses)

	for epoch := 0; epoch < epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		for i, x := range xs {
			indices := x.Indices()
			for c := 0; c < numClasses; c++ {
				target := -1.0
				if ys[i] == c {
					target = 1
				}
				pred := -1.0
				if x.Dot(weights[c], bias[c]) >= 0 {
					pred = 1
				}
				if pred == target {
					continue
				}
				for _, j := range indices {
					weights[c][j] += lr * target * x[j]
				}
				bias[c] += lr * target
			}
		}
	}
	return weights, bias, nil
}
