package model_selection

import (
	"context"

	"github.com/YuminosukeSato/stepwise/core/model"
	"github.com/YuminosukeSato/stepwise/metrics"
	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"github.com/YuminosukeSato/stepwise/pkg/log"
	"gonum.org/v1/gonum/mat"
)

// NestedCV estimates the generalization score of "tune ParamName by inner
// cross-validation, then fit" with an outer cross-validation loop, and picks
// the final parameter with one more inner search on all the data.
//
// It is the equivalent of
//
//	gs := GridSearchCV(est, grid, cv=inner, scoring=...)
//	cross_val_score(gs, X, y, cv=outer, scoring=...)
//	gs.fit(X, y).best_params_
type NestedCV struct {
	Estimator EstimatorFactory
	ParamName string
	Grid      []float64
	Inner     Splitter
	Outer     Splitter
	Scoring   metrics.Scorer
	NJobs     int
	Logger    log.Logger
}

// NestedResult is the outcome of NestedCV.Run.
type NestedResult struct {
	// OuterScores has one score per outer fold, in fold order.
	OuterScores []float64
	Mean        float64
	// Std is the population standard deviation of OuterScores.
	Std float64

	// BestParam is the value chosen by the inner search on all the data.
	BestParam float64
	// OuterBestParams[f] is the value chosen inside outer fold f.
	OuterBestParams []float64
	Search          *GridSearchResult
}

// NewNestedCV returns a NestedCV with the screening defaults: shuffled
// 5-fold inner (seed 1) and outer (seed 2) loops scored by neg_log_loss.
func NewNestedCV(factory EstimatorFactory, paramName string, grid []float64) *NestedCV {
	return &NestedCV{
		Estimator: factory,
		ParamName: paramName,
		Grid:      grid,
		Inner:     NewKFold(5, true, 1),
		Outer:     NewKFold(5, true, 2),
		Scoring:   metrics.NegLogLoss,
	}
}

func (nc *NestedCV) logger() log.Logger {
	if nc.Logger != nil {
		return nc.Logger
	}
	return log.GetLoggerWithName("model_selection.nested_cv")
}

func (nc *NestedCV) search(nJobs int, logger log.Logger) *GridSearchCV {
	return &GridSearchCV{
		Estimator: nc.Estimator,
		ParamName: nc.ParamName,
		Grid:      nc.Grid,
		CV:        nc.Inner,
		Scoring:   nc.Scoring,
		NJobs:     nJobs,
		Logger:    logger,
	}
}

// Run executes the outer loop and the final search.
//
// Outer folds run in parallel (bounded by NJobs) and each runs its inner
// search sequentially, so at most NJobs fits are in flight. The final search
// parallelizes over the grid instead.
func (nc *NestedCV) Run(ctx context.Context, X, y mat.Matrix) (*NestedResult, error) {
	if nc.Outer == nil {
		return nil, errors.NewValidationError("outer_cv", "is required", nil)
	}
	if err := nc.search(1, nil).validate(); err != nil {
		return nil, err
	}
	logger := nc.logger()
	quiet := logger.With(log.PhaseKey, log.PhaseValidation)

	factory := func(foldCtx context.Context) (model.Classifier, error) {
		return &searchEstimator{ctx: foldCtx, search: nc.search(1, quiet)}, nil
	}
	scores, fitted, err := crossValidate(ctx, factory, X, y, nc.Outer, nc.Scoring, nc.NJobs)
	if err != nil {
		return nil, errors.Wrap(err, "nested cv: outer loop")
	}

	result := &NestedResult{
		OuterScores:     scores,
		OuterBestParams: make([]float64, len(fitted)),
	}
	result.Mean, result.Std = meanStd(scores)
	for f, est := range fitted {
		result.OuterBestParams[f] = est.(*searchEstimator).result.BestParam
		logger.Debug("Outer fold scored",
			log.FoldKey, f,
			log.ParamKey, result.OuterBestParams[f],
			log.ScoreKey, scores[f],
		)
	}

	search, err := nc.search(nc.NJobs, logger).Fit(ctx, X, y)
	if err != nil {
		return nil, errors.Wrap(err, "nested cv: final search")
	}
	result.Search = search
	result.BestParam = search.BestParam

	logger.Info("Nested cross validation finished",
		log.ParamNameKey, nc.ParamName,
		log.ParamKey, result.BestParam,
		log.ScoreKey, result.Mean,
		"score_std", result.Std,
	)
	return result, nil
}

// searchEstimator adapts a GridSearchCV to model.Classifier so it can be
// cross-validated like any other estimator: Fit runs the search and the
// predictions come from the refit best estimator.
type searchEstimator struct {
	ctx    context.Context
	search *GridSearchCV
	result *GridSearchResult
}

func (s *searchEstimator) Fit(X, y mat.Matrix) error {
	result, err := s.search.Fit(s.ctx, X, y)
	if err != nil {
		return err
	}
	s.result = result
	return nil
}

func (s *searchEstimator) best() (model.Classifier, error) {
	if s.result == nil {
		return nil, errors.NewNotFittedError("GridSearchCV", "Predict")
	}
	return s.result.BestEstimator, nil
}

func (s *searchEstimator) Predict(X mat.Matrix) (mat.Matrix, error) {
	est, err := s.best()
	if err != nil {
		return nil, err
	}
	return est.Predict(X)
}

func (s *searchEstimator) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	est, err := s.best()
	if err != nil {
		return nil, err
	}
	return est.PredictProba(X)
}

func (s *searchEstimator) Classes() []int {
	if s.result == nil {
		return nil
	}
	return s.result.BestEstimator.Classes()
}
