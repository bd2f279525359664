package pipeline

import (
	"testing"

	"github.com/YuminosukeSato/stepwise/core/model"
	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var (
	_ model.Classifier      = (*Pipeline)(nil)
	_ model.ParameterSetter = (*Pipeline)(nil)
	_ model.WeightExporter  = (*Pipeline)(nil)
)

func toy() (*mat.Dense, *mat.Dense) {
	// 2番目の列は桁が大きいがクラスと無関係
	X := mat.NewDense(8, 2, []float64{
		-2, 1000, -1.5, 3000, -1, 2000, -0.5, 4000,
		0.5, 1000, 1, 3000, 1.5, 2000, 2, 4000,
	})
	y := mat.NewDense(8, 1, []float64{0, 0, 0, 0, 1, 1, 1, 1})
	return X, y
}

func TestPipelineFitPredict(t *testing.T) {
	X, y := toy()
	p := NewLasso(10, 2000, 1e-4)
	require.NoError(t, p.Fit(X, y))
	assert.True(t, p.IsFitted())

	// スケーラーは学習データの統計量を保持する
	assert.InDelta(t, 0, p.Scaler.Mean[0], 1e-12)
	assert.InDelta(t, 2500, p.Scaler.Mean[1], 1e-9)

	pred, err := p.Predict(X)
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		assert.Equal(t, y.At(i, 0), pred.At(i, 0))
	}
	assert.Equal(t, []int{0, 1}, p.Classes())
}

func TestPipelineCloneIsIndependent(t *testing.T) {
	X, y := toy()
	p := NewLasso(1, 2000, 1e-4)
	require.NoError(t, p.Fit(X, y))

	c := p.Clone()
	assert.False(t, c.IsFitted())
	assert.NotSame(t, p.Scaler, c.Scaler)
	assert.NotSame(t, p.Classifier, c.Classifier)

	_, err := c.PredictProba(X)
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))
}

func TestPipelineParams(t *testing.T) {
	p := NewLasso(1, 2000, 1e-4)
	params := p.GetParams()
	assert.Equal(t, "l1", params["logisticregression__penalty"])
	assert.Equal(t, true, params["standardscaler__with_mean"])

	require.NoError(t, p.SetParams(map[string]interface{}{"logisticregression__C": 0.01}))
	assert.Equal(t, 0.01, p.GetParams()["logisticregression__C"])

	assert.Error(t, p.SetParams(map[string]interface{}{"C": 0.01}))
	assert.Error(t, p.SetParams(map[string]interface{}{"svc__C": 0.01}))
}

func TestPipelineExportWeights(t *testing.T) {
	X, y := toy()
	p := NewLasso(1, 2000, 1e-4)

	_, err := p.ExportWeights()
	assert.Error(t, err)

	require.NoError(t, p.Fit(X, y))
	w, err := p.ExportWeights()
	require.NoError(t, err)
	require.NoError(t, w.Validate())
	assert.Equal(t, "Pipeline", w.ModelType)
	assert.Len(t, w.ScalerMean, 2)
	assert.Equal(t, 1.0, w.Hyperparameters["logisticregression__C"])
}
