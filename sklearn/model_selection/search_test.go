package model_selection

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/YuminosukeSato/stepwise/core/model"
	"github.com/YuminosukeSato/stepwise/metrics"
	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"github.com/YuminosukeSato/stepwise/pkg/log"
	"github.com/YuminosukeSato/stepwise/sklearn/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// stubClassifier はパラメータだけを覚えるテスト用分類器
type stubClassifier struct {
	param  float64
	fits   int32
	nTrain int
	panics bool
}

func (s *stubClassifier) Fit(X, y mat.Matrix) error {
	if s.panics {
		panic("boom")
	}
	if atomic.AddInt32(&s.fits, 1) > 1 {
		return errors.New("estimator reused across folds")
	}
	s.nTrain, _ = X.Dims()
	return nil
}

func (s *stubClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	n, _ := X.Dims()
	return mat.NewDense(n, 1, nil), nil
}

func (s *stubClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	n, _ := X.Dims()
	return mat.NewDense(n, 2, nil), nil
}

func (s *stubClassifier) Classes() []int { return []int{0, 1} }

// paramScorer は (param - target)^2 が小さいほど高いスコアを返す
func paramScorer(target float64) metrics.Scorer {
	return metrics.ScorerFunc{
		ScorerName: "param",
		Fn: func(est model.Classifier, X, y mat.Matrix) (float64, error) {
			return -math.Pow(est.(*stubClassifier).param-target, 2), nil
		},
	}
}

func stubFactory(created *int32) EstimatorFactory {
	return func(c float64) (model.Classifier, error) {
		atomic.AddInt32(created, 1)
		return &stubClassifier{param: c}, nil
	}
}

func TestLogGrid(t *testing.T) {
	grid, err := LogGrid(1e-3, 1e3, 15)
	require.NoError(t, err)
	require.Len(t, grid, 15)
	assert.Equal(t, 1e-3, grid[0])
	assert.Equal(t, 1e3, grid[14])
	assert.InDelta(t, 1.0, grid[7], 1e-12)
	for i := 1; i < len(grid); i++ {
		assert.InDelta(t, math.Log10(grid[i])-math.Log10(grid[i-1]), 6.0/14, 1e-12)
	}

	one, err := LogGrid(0.5, 0.5, 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, one)

	for _, bad := range [][3]float64{{0, 1, 3}, {1, 0.1, 3}, {1, 10, 0}, {-1, 10, 3}} {
		_, err := LogGrid(bad[0], bad[1], int(bad[2]))
		assert.Error(t, err, "%v", bad)
	}
}

func TestGridSearchCVPicksBestAndRefits(t *testing.T) {
	var created int32
	gs := &GridSearchCV{
		Estimator: stubFactory(&created),
		ParamName: "C",
		Grid:      []float64{0.5, 1, 2, 4},
		CV:        NewKFold(3, true, 1),
		Scoring:   paramScorer(2),
		NJobs:     4,
	}
	res, err := gs.Fit(context.Background(), rows(12), rows(12))
	require.NoError(t, err)

	assert.Equal(t, 2, res.BestIndex)
	assert.Equal(t, 2.0, res.BestParam)
	assert.Equal(t, 0.0, res.BestScore)
	assert.Len(t, res.FoldScores, 4)
	assert.Len(t, res.FoldScores[0], 3)
	assert.InDelta(t, -2.25, res.MeanScores[0], 1e-12)
	assert.Equal(t, 0.0, res.StdScores[0])

	// one fresh estimator per (grid value, fold) plus the refit
	assert.Equal(t, int32(4*3+1), created)
	refit := res.BestEstimator.(*stubClassifier)
	assert.Equal(t, 12, refit.nTrain)
	assert.Equal(t, 2.0, refit.param)
}

func TestGridSearchCVTieBreaksToFirst(t *testing.T) {
	var created int32
	constant := metrics.ScorerFunc{ScorerName: "constant", Fn: func(model.Classifier, mat.Matrix, mat.Matrix) (float64, error) {
		return -0.5, nil
	}}
	gs := &GridSearchCV{
		Estimator: stubFactory(&created),
		Grid:      []float64{3, 1, 2},
		CV:        NewKFold(2, false, 0),
		Scoring:   constant,
		NJobs:     3,
	}
	res, err := gs.Fit(context.Background(), rows(6), rows(6))
	require.NoError(t, err)
	assert.Equal(t, 0, res.BestIndex)
	assert.Equal(t, 3.0, res.BestParam)
}

func TestGridSearchCVErrors(t *testing.T) {
	X := rows(6)

	_, err := (&GridSearchCV{}).Fit(context.Background(), X, X)
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))

	panicking := &GridSearchCV{
		Estimator: func(c float64) (model.Classifier, error) { return &stubClassifier{panics: true}, nil },
		Grid:      []float64{1},
		CV:        NewKFold(2, false, 0),
		Scoring:   paramScorer(1),
	}
	_, err = panicking.Fit(context.Background(), X, X)
	var pe *errors.PanicError
	assert.True(t, errors.As(err, &pe))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var created int32
	canceled := &GridSearchCV{Estimator: stubFactory(&created), Grid: []float64{1, 2}, CV: NewKFold(2, false, 0), Scoring: paramScorer(1)}
	_, err = canceled.Fit(ctx, X, X)
	assert.ErrorIs(t, err, context.Canceled)
}

// blobs は1番目の特徴量だけがクラスに効く2クラスのデータを作る
func blobs(n int, seed uint64) (*mat.Dense, *mat.Dense) {
	src := rand.NewPCG(seed, seed)
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	X := mat.NewDense(n, 3, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		label := float64(i % 2)
		y.Set(i, 0, label)
		X.Set(i, 0, 1.5*label+noise.Rand())
		X.Set(i, 1, noise.Rand())
		X.Set(i, 2, 10+3*noise.Rand())
	}
	return X, y
}

func lassoFactory(c float64) (model.Classifier, error) {
	return pipeline.NewLasso(c, 2000, 1e-4), nil
}

func TestCrossValScore(t *testing.T) {
	X, y := blobs(60, 1)
	factory := func() (model.Classifier, error) { return lassoFactory(1) }

	scores, err := CrossValScore(context.Background(), factory, X, y, NewKFold(5, true, 2), metrics.NegLogLoss, 2)
	require.NoError(t, err)
	require.Len(t, scores, 5)
	for _, s := range scores {
		assert.Less(t, s, 0.0)
		assert.Greater(t, s, -math.Log(2)-0.5)
	}

	again, err := CrossValScore(context.Background(), factory, X, y, NewKFold(5, true, 2), metrics.NegLogLoss, 1)
	require.NoError(t, err)
	assert.Equal(t, scores, again, "parallel and sequential runs agree")
}

func TestCrossValScoreSurfacesUnseenClass(t *testing.T) {
	X, y := blobs(20, 4)
	// class 2 appears once, so the fold that tests it never trained on it
	y.Set(0, 0, 2)

	factory := func() (model.Classifier, error) { return lassoFactory(1) }
	_, err := CrossValScore(context.Background(), factory, X, y, NewKFold(4, false, 0), metrics.NegLogLoss, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnknownClass))
	var fe *errors.FoldError
	require.True(t, errors.As(err, &fe))
	assert.False(t, fe.HasParam)
}

func TestNestedCV(t *testing.T) {
	X, y := blobs(60, 7)
	grid, err := LogGrid(1e-3, 1e3, 15)
	require.NoError(t, err)

	logger, _ := log.NewTestLogger(log.LevelInfo)
	nc := NewNestedCV(lassoFactory, "logisticregression__C", grid)
	nc.NJobs = 4
	nc.Logger = logger

	res, err := nc.Run(context.Background(), X, y)
	require.NoError(t, err)

	require.Len(t, res.OuterScores, 5)
	require.Len(t, res.OuterBestParams, 5)
	assert.Contains(t, grid, res.BestParam)
	for _, p := range res.OuterBestParams {
		assert.Contains(t, grid, p)
	}
	assert.GreaterOrEqual(t, res.Std, 0.0)
	assert.Less(t, res.Mean, 0.0)

	// the chosen value is the first grid value with the best inner mean
	best := 0
	for i, m := range res.Search.MeanScores {
		if m > res.Search.MeanScores[best] {
			best = i
		}
	}
	assert.Equal(t, grid[best], res.BestParam)
	assert.NotNil(t, res.Search.BestEstimator)

	assert.True(t, logger.ContainsMessage("Nested cross validation finished"))
}

func TestCrossValidateFitsScalerPerFold(t *testing.T) {
	X, y := blobs(40, 11)
	splitter := NewKFold(4, true, 3)
	factory := func(context.Context) (model.Classifier, error) { return lassoFactory(1) }

	_, fitted, err := crossValidate(context.Background(), factory, X, y, splitter, metrics.NegLogLoss, 4)
	require.NoError(t, err)

	folds, err := splitter.Split(X, y)
	require.NoError(t, err)
	require.Len(t, fitted, len(folds))

	seen := make(map[model.Classifier]bool)
	for f, fold := range folds {
		assert.False(t, seen[fitted[f]], "fold %d shares an estimator", f)
		seen[fitted[f]] = true

		// the scaler only saw the training rows of its own fold
		want := 0.0
		for _, i := range fold.TrainIndices {
			want += X.At(i, 2)
		}
		want /= float64(len(fold.TrainIndices))
		p := fitted[f].(*pipeline.Pipeline)
		assert.InDelta(t, want, p.Scaler.Mean[2], 1e-9, "fold %d", f)
	}
}

// gate は外側フォールドごとに異なる振る舞いをさせるための共有状態。
// X の0列目は行番号で、half 以上の行で学習する内側フィットは失敗する。
type gate struct {
	half        float64
	slowStarted chan struct{}
	failed      chan struct{}
	once        sync.Once
	first       atomic.Bool
	laterFits   atomic.Int32
}

type gatedClassifier struct{ g *gate }

func (c *gatedClassifier) Fit(X, y mat.Matrix) error {
	if X.At(0, 0) >= c.g.half {
		<-c.g.slowStarted
		c.g.once.Do(func() { close(c.g.failed) })
		return errors.New("inner fit failed")
	}
	if c.g.first.CompareAndSwap(false, true) {
		close(c.g.slowStarted)
		<-c.g.failed
		// leave time for the failure to reach the outer loop
		time.Sleep(100 * time.Millisecond)
		return nil
	}
	c.g.laterFits.Add(1)
	return nil
}

func (c *gatedClassifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	n, _ := X.Dims()
	return mat.NewDense(n, 1, nil), nil
}

func (c *gatedClassifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	n, _ := X.Dims()
	return mat.NewDense(n, 2, nil), nil
}

func (c *gatedClassifier) Classes() []int { return []int{0, 1} }

func TestNestedCVFailingOuterFoldCancelsSiblings(t *testing.T) {
	const n = 8
	X := mat.NewDense(n, 1, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i))
		y.Set(i, 0, float64(i%2))
	}

	g := &gate{half: n / 2, slowStarted: make(chan struct{}), failed: make(chan struct{})}
	factory := func(float64) (model.Classifier, error) { return &gatedClassifier{g: g}, nil }

	nc := NewNestedCV(factory, "C", []float64{0.1, 1, 10})
	nc.Inner = NewKFold(2, false, 0)
	nc.Outer = NewKFold(2, false, 0)
	nc.Scoring = metrics.ScorerFunc{
		ScorerName: "zero",
		Fn:         func(model.Classifier, mat.Matrix, mat.Matrix) (float64, error) { return 0, nil },
	}
	nc.NJobs = 2
	nc.Logger, _ = log.NewTestLogger(log.LevelError)

	_, err := nc.Run(context.Background(), X, y)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inner fit failed")
	// the surviving fold stops after its in-flight fit
	assert.Equal(t, int32(0), g.laterFits.Load())
}
