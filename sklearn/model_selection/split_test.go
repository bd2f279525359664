package model_selection

import (
	"sort"
	"testing"

	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func column(values ...float64) *mat.Dense {
	return mat.NewDense(len(values), 1, values)
}

func rows(n int) *mat.Dense {
	data := make([]float64, n)
	for i := range data {
		data[i] = float64(i)
	}
	return mat.NewDense(n, 1, data)
}

func assertPartition(t *testing.T, n int, folds []Fold) {
	t.Helper()
	seen := make([]int, n)
	for _, f := range folds {
		assert.True(t, sort.IntsAreSorted(f.TestIndices))
		assert.True(t, sort.IntsAreSorted(f.TrainIndices))
		assert.Equal(t, n, len(f.TestIndices)+len(f.TrainIndices))
		for _, i := range f.TestIndices {
			seen[i]++
		}
	}
	for i, c := range seen {
		assert.Equal(t, 1, c, "sample %d must be tested exactly once", i)
	}
}

func TestKFold(t *testing.T) {
	X := rows(11)

	folds, err := NewKFold(5, false, 0).Split(X, nil)
	require.NoError(t, err)
	require.Len(t, folds, 5)
	assertPartition(t, 11, folds)

	sizes := make([]int, 5)
	for i, f := range folds {
		sizes[i] = len(f.TestIndices)
	}
	assert.Equal(t, []int{3, 2, 2, 2, 2}, sizes)
	assert.Equal(t, []int{0, 1, 2}, folds[0].TestIndices)
}

func TestKFoldShuffleIsSeeded(t *testing.T) {
	X := rows(40)

	a, err := NewKFold(5, true, 1).Split(X, nil)
	require.NoError(t, err)
	b, err := NewKFold(5, true, 1).Split(X, nil)
	require.NoError(t, err)
	c, err := NewKFold(5, true, 2).Split(X, nil)
	require.NoError(t, err)

	assertPartition(t, 40, a)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestKFoldInvalid(t *testing.T) {
	_, err := NewKFold(1, false, 0).Split(rows(10), nil)
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = NewKFold(5, false, 0).Split(rows(3), nil)
	assert.Error(t, err)
}

func TestStratifiedKFold(t *testing.T) {
	// 20 of class 0, 10 of class 1
	y := make([]float64, 30)
	for i := 20; i < 30; i++ {
		y[i] = 1
	}
	folds, err := NewStratifiedKFold(5, true, 3).Split(rows(30), column(y...))
	require.NoError(t, err)
	assertPartition(t, 30, folds)

	for _, f := range folds {
		ones := 0
		for _, i := range f.TestIndices {
			ones += int(y[i])
		}
		assert.Len(t, f.TestIndices, 6)
		assert.Equal(t, 2, ones)
	}
}

func TestTrainTestSplit(t *testing.T) {
	n := 100
	y := make([]float64, n)
	for i := 60; i < n; i++ {
		y[i] = 1
	}
	X := rows(n)

	XTrain, XTest, yTrain, yTest, err := TrainTestSplit(X, column(y...), 0.3, 42, true)
	require.NoError(t, err)

	r, _ := XTest.Dims()
	assert.Equal(t, 30, r)
	r, _ = XTrain.Dims()
	assert.Equal(t, 70, r)

	ones := 0
	for i := 0; i < 30; i++ {
		ones += int(yTest.At(i, 0))
		// 行と目的変数の対応が保たれている
		assert.Equal(t, y[int(XTest.At(i, 0))], yTest.At(i, 0))
	}
	assert.Equal(t, 12, ones)
	assert.Equal(t, y[int(XTrain.At(0, 0))], yTrain.At(0, 0))

	again, _, _, _, err := TrainTestSplit(X, column(y...), 0.3, 42, true)
	require.NoError(t, err)
	assert.True(t, mat.Equal(XTrain, again))
}

func TestTrainTestSplitUnstratified(t *testing.T) {
	X := rows(10)
	_, XTest, _, _, err := TrainTestSplit(X, rows(10), 0.25, 7, false)
	require.NoError(t, err)
	r, _ := XTest.Dims()
	assert.Equal(t, 3, r)
}

func TestTrainTestSplitInvalid(t *testing.T) {
	X := rows(10)
	y := column(0, 0, 0, 0, 0, 1, 1, 1, 1, 2)

	_, _, _, _, err := TrainTestSplit(X, y, 0, 1, true)
	assert.Error(t, err)
	_, _, _, _, err = TrainTestSplit(X, y, 1.5, 1, true)
	assert.Error(t, err)
	_, _, _, _, err = TrainTestSplit(X, y, 0.3, 1, true)
	assert.Error(t, err, "class 2 has a single member")
	_, _, _, _, err = TrainTestSplit(X, rows(9), 0.3, 1, false)
	assert.Error(t, err)
}

func TestTrainTestIndicesMatchesSplit(t *testing.T) {
	y := make([]float64, 40)
	for i := range y {
		y[i] = float64(i % 3)
	}
	fold, err := TrainTestIndices(column(y...), 0.25, 9, true)
	require.NoError(t, err)
	assert.Len(t, fold.TestIndices, 10)
	assert.Len(t, fold.TrainIndices, 30)

	_, XTest, _, _, err := TrainTestSplit(rows(40), column(y...), 0.25, 9, true)
	require.NoError(t, err)
	for i, idx := range fold.TestIndices {
		assert.Equal(t, float64(idx), XTest.At(i, 0))
	}
}
