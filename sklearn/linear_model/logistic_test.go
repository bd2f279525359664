package linear_model

import (
	"sync"
	"testing"

	"github.com/YuminosukeSato/stepwise/core/model"
	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var (
	_ model.Classifier     = (*LogisticRegression)(nil)
	_ model.WeightExporter = (*LogisticRegression)(nil)
)

// captureWarnings はテスト中の警告を収集する
func captureWarnings(t *testing.T) func() []error {
	t.Helper()
	var mu sync.Mutex
	var got []error
	errors.SetZerologWarnFunc(nil)
	errors.SetWarningHandler(func(w error) {
		mu.Lock()
		got = append(got, w)
		mu.Unlock()
	})
	t.Cleanup(func() { errors.SetWarningHandler(func(error) {}) })
	return func() []error {
		mu.Lock()
		defer mu.Unlock()
		return append([]error(nil), got...)
	}
}

func TestLogisticRegression_FitPredict_Binary(t *testing.T) {
	// Class 0: points around (1, 1)
	// Class 1: points around (3, 3)
	X := mat.NewDense(6, 2, []float64{
		0.5, 0.5,
		1.0, 1.5,
		1.5, 1.0,
		3.0, 2.5,
		2.5, 3.0,
		3.5, 3.5,
	})
	y := labels(0, 0, 0, 1, 1, 1)

	lr := NewLogisticRegression(WithLRMaxIter(1000))
	require.NoError(t, lr.Fit(X, y))

	predictions, err := lr.Predict(X)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		assert.Equal(t, y.At(i, 0), predictions.At(i, 0), "sample %d", i)
	}

	testPreds, err := lr.Predict(mat.NewDense(2, 2, []float64{1, 1, 3, 3}))
	require.NoError(t, err)
	assert.Equal(t, 0.0, testPreds.At(0, 0))
	assert.Equal(t, 1.0, testPreds.At(1, 0))
	assert.Equal(t, 1.0, lr.Score(X, y))
}

func TestLogisticRegression_Multiclass(t *testing.T) {
	X := mat.NewDense(9, 2, []float64{
		0, 0, 0.2, 0.1, -0.1, 0.2,
		5, 0, 5.1, 0.2, 4.9, -0.1,
		0, 5, 0.1, 5.2, -0.2, 4.8,
	})
	y := labels(0, 0, 0, 1, 1, 1, 2, 2, 2)

	lr := NewLogisticRegression(WithLRPenalty("l1"), WithLRC(10), WithLRMaxIter(2000))
	require.NoError(t, lr.Fit(X, y))
	assert.Equal(t, []int{0, 1, 2}, lr.Classes())

	pred, err := lr.Predict(X)
	require.NoError(t, err)
	for i := 0; i < 9; i++ {
		assert.Equal(t, y.At(i, 0), pred.At(i, 0), "sample %d", i)
	}

	proba, err := lr.PredictProba(X)
	require.NoError(t, err)
	for i := 0; i < 9; i++ {
		row := mat.Row(nil, i, proba)
		assert.InDelta(t, 1.0, row[0]+row[1]+row[2], 1e-12)
	}
}

func TestLogisticRegression_L1StrongPenaltyZeroesCoefficients(t *testing.T) {
	X := mat.NewDense(8, 2, []float64{
		-1, 0.5, -0.5, -1, 0.5, 1, 1, -0.5,
		-1, -0.5, -0.5, 1, 0.5, -1, 1, 0.5,
	})
	// 3:5 class balance
	y := labels(0, 1, 0, 1, 1, 0, 1, 1)

	lr := NewLogisticRegression(WithLRPenalty("l1"), WithLRC(1e-3), WithLRMaxIter(2000))
	require.NoError(t, lr.Fit(X, y))

	K, p := lr.Coef().Dims()
	for k := 0; k < K; k++ {
		for j := 0; j < p; j++ {
			assert.Equal(t, 0.0, lr.Coef().At(k, j))
		}
	}

	// With all slopes at zero the intercepts reproduce the class frequencies.
	proba, err := lr.PredictProba(mat.NewDense(1, 2, []float64{3, -3}))
	require.NoError(t, err)
	assert.InDelta(t, 3.0/8, proba.At(0, 0), 1e-3)
	assert.InDelta(t, 5.0/8, proba.At(0, 1), 1e-3)
}

func TestLogisticRegression_BalancedZeroOptimumConverges(t *testing.T) {
	X := mat.NewDense(9, 2, []float64{
		-1, 0.5, 0, -1, 1, 0.5,
		0.5, -1, -1, 1, 0, 0.5,
		1, -0.5, 0.5, 1, -0.5, -1,
	})
	// 3:3:3 なので最適解は W=0, b=0
	y := labels(0, 1, 2, 0, 1, 2, 0, 1, 2)

	warnings := captureWarnings(t)
	lr := NewLogisticRegression(WithLRPenalty("l1"), WithLRC(1e-3), WithLRMaxIter(2000), WithLRStrictConvergence(true))
	require.NoError(t, lr.Fit(X, y))
	assert.Less(t, lr.NIter(), 2000)
	assert.Empty(t, warnings())

	assert.Equal(t, 0.0, mat.Norm(lr.Coef(), 2))
	sum := 0.0
	for _, b := range lr.Intercept() {
		assert.InDelta(t, 0.0, b, 1e-12)
		sum += b
	}
	assert.InDelta(t, 0.0, sum, 1e-15)

	proba, err := lr.PredictProba(mat.NewDense(1, 2, []float64{2, -2}))
	require.NoError(t, err)
	for k := 0; k < 3; k++ {
		assert.InDelta(t, 1.0/3, proba.At(0, k), 1e-12)
	}
}

func TestLogisticRegression_OverflowingGradientFails(t *testing.T) {
	// 有限だが勾配の和が +Inf にあふれる入力
	X := mat.NewDense(4, 1, []float64{-1e308, -1e308, 1e308, 1e308})
	y := labels(0, 0, 1, 1)

	lr := NewLogisticRegression(WithLRC(1))
	err := lr.Fit(X, y)
	require.Error(t, err)
	var inst *errors.NumericalInstabilityError
	require.True(t, errors.As(err, &inst))
	assert.Equal(t, "fista_gradient", inst.Operation)
	assert.False(t, lr.IsFitted())
}

func TestLogisticRegression_PenaltyShrinks(t *testing.T) {
	X, y := overlapping()
	// drop the constant column, LogisticRegression fits its own intercept
	Xs := X.Slice(0, 16, 1, 2)

	weak := NewLogisticRegression(WithLRPenalty("l2"), WithLRC(100), WithLRMaxIter(5000))
	strong := NewLogisticRegression(WithLRPenalty("l2"), WithLRC(0.01), WithLRMaxIter(5000))
	require.NoError(t, weak.Fit(Xs, y))
	require.NoError(t, strong.Fit(Xs, y))

	assert.Less(t, mat.Norm(strong.Coef(), 2), mat.Norm(weak.Coef(), 2))
}

func TestLogisticRegression_Convergence(t *testing.T) {
	X, y := overlapping()
	Xs := X.Slice(0, 16, 1, 2)

	warnings := captureWarnings(t)
	lr := NewLogisticRegression(WithLRPenalty("l1"), WithLRC(1000), WithLRMaxIter(1))
	require.NoError(t, lr.Fit(Xs, y))
	assert.True(t, lr.IsFitted())
	require.Len(t, warnings(), 1)
	var cw *errors.ConvergenceWarning
	assert.True(t, errors.As(warnings()[0], &cw))

	strict := NewLogisticRegression(WithLRPenalty("l1"), WithLRC(1000), WithLRMaxIter(1), WithLRStrictConvergence(true))
	err := strict.Fit(Xs, y)
	assert.True(t, errors.IsConvergenceError(err))
	assert.False(t, strict.IsFitted())
}

func TestLogisticRegression_Validation(t *testing.T) {
	X := mat.NewDense(2, 1, []float64{0, 1})
	y := labels(0, 1)

	tests := []struct {
		name string
		opts []LogisticRegressionOption
	}{
		{"penalty", []LogisticRegressionOption{WithLRPenalty("elasticnet")}},
		{"solver", []LogisticRegressionOption{WithLRSolver("lbfgs")}},
		{"C", []LogisticRegressionOption{WithLRC(0)}},
		{"multi_class", []LogisticRegressionOption{WithLRMultiClass("ovr")}},
		{"max_iter", []LogisticRegressionOption{WithLRMaxIter(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewLogisticRegression(tt.opts...).Fit(X, y)
			var ve *errors.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.name, ve.ParamName)
		})
	}

	err := NewLogisticRegression().Fit(X, labels(1, 1))
	assert.True(t, errors.Is(err, errors.ErrSingleClass))

	_, err = NewLogisticRegression().Predict(X)
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))
}

func TestLogisticRegression_CloneAndParams(t *testing.T) {
	lr := NewLogisticRegression(WithLRPenalty("l1"), WithLRC(0.5), WithLRMaxIter(2000))
	require.NoError(t, lr.Fit(mat.NewDense(4, 1, []float64{0, 1, 2, 3}), labels(0, 0, 1, 1)))

	c := lr.Clone()
	assert.False(t, c.IsFitted())
	assert.Equal(t, lr.GetParams(), c.GetParams())

	require.NoError(t, c.SetParams(map[string]interface{}{"C": 2.0, "penalty": "l2"}))
	assert.Equal(t, 2.0, c.GetParams()["C"])
	assert.Equal(t, 0.5, lr.GetParams()["C"])
	assert.Error(t, c.SetParams(map[string]interface{}{"C": "big"}))
	assert.Error(t, c.SetParams(map[string]interface{}{"random_state": 1}))

	w, err := lr.ExportWeights()
	require.NoError(t, err)
	require.NoError(t, w.Validate())
	assert.Equal(t, []int{0, 1}, w.Classes)
	assert.Len(t, w.Coefficients, 2)
}
