package errors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name    string
		op      string
		kind    string
		err     error
		wantMsg string
	}{
		{
			name:    "with original error",
			op:      "MNLogit.Fit",
			kind:    "singular design",
			err:     fmt.Errorf("rank 2 < 3"),
			wantMsg: "stepwise: MNLogit.Fit: singular design: rank 2 < 3",
		},
		{
			name:    "without original error",
			op:      "Predict",
			kind:    "not fitted",
			wantMsg: "stepwise: Predict: not fitted",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)
			assert.Equal(t, tt.wantMsg, err.Error())

			// スタックトレースの存在確認
			formatted := fmt.Sprintf("%+v", err)
			assert.Contains(t, formatted, "errors_test.go")

			var modelErr *ModelError
			assert.True(t, As(err, &modelErr))
		})
	}
}

func TestModelErrorUnwrap(t *testing.T) {
	err := NewModelError("MNLogit.Fit", "singular design", ErrSingularMatrix)
	assert.True(t, Is(err, ErrSingularMatrix))
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("ForwardBIC.Select", 100, 99, 0)
	assert.Equal(t, "stepwise: ForwardBIC.Select: dimension mismatch on axis 0 (rows). Expected 100, got 99", err.Error())

	var dimErr *DimensionError
	require.True(t, As(err, &dimErr))
	assert.Equal(t, 1, (&DimensionError{Axis: 1}).Axis)
	assert.Contains(t, NewDimensionError("Transform", 3, 4, 1).Error(), "(features)")
}

func TestNewNotFittedError(t *testing.T) {
	err := NewNotFittedError("LogisticRegression", "PredictProba")
	assert.Equal(t, "stepwise: LogisticRegression: this model is not fitted yet. Call Fit() before using PredictProba()", err.Error())

	var notFitted *NotFittedError
	assert.True(t, As(err, &notFitted))
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("inner_folds", "must be at least 2", 1)
	assert.Equal(t, "stepwise: validation failed for parameter 'inner_folds': must be at least 2 (got: 1)", err.Error())
}

func TestConvergenceError(t *testing.T) {
	err := NewConvergenceError("MNLogit(newton)", 100, "log-likelihood still changing")
	assert.True(t, IsConvergenceError(err))
	assert.True(t, IsConvergenceError(Wrapf(err, "candidate %d", 3)))
	assert.False(t, IsConvergenceError(ErrSingularMatrix))
	assert.Contains(t, err.Error(), "did not converge after 100 iterations")
}

func TestCandidateAndFoldErrors(t *testing.T) {
	cause := NewConvergenceError("MNLogit(newton)", 100, "")
	err := NewCandidateError(2, 5, cause)
	assert.Equal(t, "stepwise: round 2: candidate 5: "+cause.Error(), err.Error())
	assert.True(t, IsConvergenceError(err))

	var ce *CandidateError
	require.True(t, As(err, &ce))
	assert.Equal(t, 2, ce.Round)
	assert.Equal(t, 5, ce.Feature)

	err = NewGridFoldError(3, "logisticregression__C", 0.1, ErrUnknownClass)
	assert.Contains(t, err.Error(), "fold 3 (logisticregression__C=0.1)")
	assert.True(t, Is(err, ErrUnknownClass))

	err = NewFoldError(1, ErrEmptyData)
	assert.Equal(t, "stepwise: fold 1: empty data", err.Error())
}

func TestWarnRoutesToHandler(t *testing.T) {
	var got []string
	SetWarningHandler(func(w error) { got = append(got, w.Error()) })
	defer SetWarningHandler(func(w error) {})

	Warn(NewConvergenceWarning("saga", 2000, ""))
	require.Len(t, got, 1)
	assert.True(t, strings.HasPrefix(got[0], "saga failed to converge after 2000 iterations"))
}

func TestWarnPrefersZerologFunc(t *testing.T) {
	var viaZerolog, viaHandler int
	SetWarningHandler(func(w error) { viaHandler++ })
	SetZerologWarnFunc(func(w error) { viaZerolog++ })
	defer SetZerologWarnFunc(nil)

	Warn(NewUndefinedMetricWarning("log_loss", "probability clipped", 34.5))
	assert.Equal(t, 1, viaZerolog)
	assert.Equal(t, 0, viaHandler)
}
