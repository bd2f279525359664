package metrics

import (
	"math"
	"testing"

	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// fixedClassifier は固定の確率を返すテスト用分類器
type fixedClassifier struct {
	proba   *mat.Dense
	classes []int
}

func (f *fixedClassifier) Fit(X, y mat.Matrix) error { return nil }

func (f *fixedClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	n, k := f.proba.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		best := 0
		for j := 1; j < k; j++ {
			if f.proba.At(i, j) > f.proba.At(i, best) {
				best = j
			}
		}
		out.Set(i, 0, float64(f.classes[best]))
	}
	return out, nil
}

func (f *fixedClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) { return f.proba, nil }
func (f *fixedClassifier) Classes() []int                                 { return f.classes }

func TestLogLoss(t *testing.T) {
	tests := []struct {
		name   string
		y      []float64
		proba  []float64
		labels []int
		want   float64
	}{
		{
			name:   "binary",
			y:      []float64{0, 1},
			proba:  []float64{0.8, 0.2, 0.3, 0.7},
			labels: []int{0, 1},
			want:   -(math.Log(0.8) + math.Log(0.7)) / 2,
		},
		{
			name:   "three classes",
			y:      []float64{2, 0, 1},
			proba:  []float64{0.1, 0.2, 0.7, 0.5, 0.25, 0.25, 0.2, 0.6, 0.2},
			labels: []int{0, 1, 2},
			want:   -(math.Log(0.7) + math.Log(0.5) + math.Log(0.6)) / 3,
		},
		{
			name:   "perfect prediction is clipped",
			y:      []float64{0},
			proba:  []float64{1, 0},
			labels: []int{0, 1},
			want:   -math.Log(1 - LogLossEpsilon),
		},
		{
			name:   "non-contiguous labels",
			y:      []float64{7, 3},
			proba:  []float64{0.4, 0.6, 0.9, 0.1},
			labels: []int{3, 7},
			want:   -(math.Log(0.6) + math.Log(0.9)) / 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := len(tt.labels)
			got, err := LogLoss(
				mat.NewDense(len(tt.y), 1, tt.y),
				mat.NewDense(len(tt.y), k, tt.proba),
				tt.labels,
			)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestLogLossUnknownLabel(t *testing.T) {
	_, err := LogLoss(
		mat.NewDense(2, 1, []float64{0, 2}),
		mat.NewDense(2, 2, []float64{0.5, 0.5, 0.5, 0.5}),
		[]int{0, 1},
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnknownClass))
}

func TestLogLossDimensions(t *testing.T) {
	_, err := LogLoss(mat.NewDense(2, 1, nil), mat.NewDense(3, 2, nil), []int{0, 1})
	var dimErr *errors.DimensionError
	assert.True(t, errors.As(err, &dimErr))

	_, err = LogLoss(mat.NewDense(2, 1, nil), mat.NewDense(2, 3, nil), []int{0, 1})
	assert.True(t, errors.As(err, &dimErr))
}

func TestAccuracy(t *testing.T) {
	acc, err := Accuracy(
		mat.NewDense(4, 1, []float64{0, 1, 2, 1}),
		mat.NewDense(4, 1, []float64{0, 1, 1, 1}),
	)
	require.NoError(t, err)
	assert.Equal(t, 0.75, acc)
}

func TestScorers(t *testing.T) {
	clf := &fixedClassifier{
		proba:   mat.NewDense(2, 2, []float64{0.9, 0.1, 0.2, 0.8}),
		classes: []int{0, 1},
	}
	X := mat.NewDense(2, 1, nil)
	y := mat.NewDense(2, 1, []float64{0, 1})

	s, err := GetScorer("neg_log_loss")
	require.NoError(t, err)
	score, err := s.Score(clf, X, y)
	require.NoError(t, err)
	assert.InDelta(t, (math.Log(0.9)+math.Log(0.8))/2, score, 1e-12)
	assert.Less(t, score, 0.0)

	s, err = GetScorer("accuracy")
	require.NoError(t, err)
	score, err = s.Score(clf, X, y)
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)

	_, err = GetScorer("roc_auc")
	assert.Error(t, err)
}
