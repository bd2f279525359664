package model_selection

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/YuminosukeSato/stepwise/core/model"
	"github.com/YuminosukeSato/stepwise/metrics"
	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"github.com/YuminosukeSato/stepwise/pkg/log"
	"github.com/montanaflynn/stats"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// EstimatorFactory returns a fresh, unfitted classifier configured with the
// given hyperparameter value. It is called once per fold so no fitted state
// is shared between folds.
type EstimatorFactory func(param float64) (model.Classifier, error)

// LogGrid returns num values spaced evenly on a log scale from min to max,
// like numpy.logspace(log10(min), log10(max), num).
func LogGrid(min, max float64, num int) ([]float64, error) {
	if !(min > 0) || !(max > 0) || math.IsInf(max, 1) {
		return nil, errors.NewValidationError("grid", "bounds must be positive and finite", []float64{min, max})
	}
	if min > max {
		return nil, errors.NewValidationError("grid", "min must not exceed max", []float64{min, max})
	}
	switch {
	case num < 1:
		return nil, errors.NewValidationError("grid", "needs at least one value", num)
	case num == 1:
		return []float64{min}, nil
	}
	grid := floats.LogSpan(make([]float64, num), min, max)
	grid[0], grid[num-1] = min, max
	return grid, nil
}

// GridSearchCV evaluates every grid value with cross-validation and refits
// the best one on the full data.
type GridSearchCV struct {
	Estimator EstimatorFactory
	ParamName string
	Grid      []float64
	CV        Splitter
	Scoring   metrics.Scorer
	NJobs     int
	Logger    log.Logger
}

// GridSearchResult holds the outcome of a grid search.
type GridSearchResult struct {
	Params     []float64
	MeanScores []float64
	StdScores  []float64
	// FoldScores[i][f] is the score of Params[i] on fold f.
	FoldScores [][]float64

	BestIndex     int
	BestParam     float64
	BestScore     float64
	BestEstimator model.Classifier
}

func (gs *GridSearchCV) validate() error {
	if gs.Estimator == nil {
		return errors.NewValidationError("estimator", "is required", nil)
	}
	if len(gs.Grid) == 0 {
		return errors.NewValidationError("param_grid", "must not be empty", gs.Grid)
	}
	if gs.CV == nil {
		return errors.NewValidationError("cv", "is required", nil)
	}
	if gs.Scoring == nil {
		return errors.NewValidationError("scoring", "is required", nil)
	}
	return nil
}

func (gs *GridSearchCV) logger() log.Logger {
	if gs.Logger != nil {
		return gs.Logger
	}
	return log.GetLoggerWithName("model_selection.grid_search")
}

// Fit scores every (grid value, fold) pair, picks the grid value with the
// highest mean score (the first one on ties) and refits it on X, y.
func (gs *GridSearchCV) Fit(ctx context.Context, X, y mat.Matrix) (*GridSearchResult, error) {
	if err := gs.validate(); err != nil {
		return nil, err
	}
	logger := gs.logger()

	folds, err := gs.CV.Split(X, y)
	if err != nil {
		return nil, errors.Wrap(err, "grid search: split")
	}
	data := splitData(X, y, folds)

	nParams, nFolds := len(gs.Grid), len(folds)
	scores := make([][]float64, nParams)
	for i := range scores {
		scores[i] = make([]float64, nFolds)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs(gs.NJobs))
	for i := 0; i < nParams; i++ {
		for f := 0; f < nFolds; f++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				est, err := gs.Estimator(gs.Grid[i])
				if err != nil {
					return err
				}
				score, err := fitAndScore(est, data[f], gs.Scoring)
				if err != nil {
					return errors.NewGridFoldError(f, gs.ParamName, gs.Grid[i], err)
				}
				scores[i][f] = score
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := &GridSearchResult{
		Params:     append([]float64(nil), gs.Grid...),
		MeanScores: make([]float64, nParams),
		StdScores:  make([]float64, nParams),
		FoldScores: scores,
		BestIndex:  -1,
	}
	for i := range gs.Grid {
		result.MeanScores[i], result.StdScores[i] = meanStd(scores[i])
		if logger.Enabled(ctx, log.LevelDebug) {
			logger.Debug("Grid point evaluated",
				log.ParamNameKey, gs.ParamName,
				log.ParamKey, gs.Grid[i],
				log.ScoreKey, result.MeanScores[i],
			)
		}
		if math.IsNaN(result.MeanScores[i]) {
			errors.Warn(errors.NewUndefinedMetricWarning(gs.Scoring.Name(),
				fmt.Sprintf("a NaN fold score at %s=%g", gs.ParamName, gs.Grid[i]), math.NaN()))
		}
		// strict comparison keeps the first maximum; NaN never wins
		if result.BestIndex < 0 || result.MeanScores[i] > result.BestScore {
			if !math.IsNaN(result.MeanScores[i]) {
				result.BestIndex = i
				result.BestScore = result.MeanScores[i]
			}
		}
	}
	if result.BestIndex < 0 {
		return nil, errors.NewValueError("GridSearchCV.Fit", "every grid value produced a NaN score")
	}
	result.BestParam = gs.Grid[result.BestIndex]

	best, err := gs.Estimator(result.BestParam)
	if err != nil {
		return nil, err
	}
	if err := errors.SafeExecute("grid search refit", func() error { return best.Fit(X, y) }); err != nil {
		return nil, errors.Wrapf(err, "grid search: refit %s=%g", gs.ParamName, result.BestParam)
	}
	result.BestEstimator = best

	logger.Info("Grid search finished",
		log.ParamNameKey, gs.ParamName,
		log.ParamKey, result.BestParam,
		log.ScoreKey, result.BestScore,
	)
	return result, nil
}

// meanStd returns the mean and the population standard deviation (numpy's
// default ddof=0) of xs.
func meanStd(xs []float64) (float64, float64) {
	mean, err := stats.Mean(xs)
	if err != nil {
		return math.NaN(), math.NaN()
	}
	std, err := stats.StandardDeviationPopulation(xs)
	if err != nil {
		return mean, math.NaN()
	}
	return mean, std
}

func jobs(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}
