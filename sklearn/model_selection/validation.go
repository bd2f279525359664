package model_selection

import (
	"context"

	"github.com/YuminosukeSato/stepwise/core/model"
	"github.com/YuminosukeSato/stepwise/metrics"
	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// ClassifierFactory returns a fresh, unfitted classifier.
type ClassifierFactory func() (model.Classifier, error)

// foldData is one fold's materialized partitions.
type foldData struct {
	XTrain, yTrain *mat.Dense
	XTest, yTest   *mat.Dense
}

func splitData(X, y mat.Matrix, folds []Fold) []foldData {
	data := make([]foldData, len(folds))
	for f, fold := range folds {
		data[f].XTrain, data[f].yTrain = extractSubset(X, y, fold.TrainIndices)
		data[f].XTest, data[f].yTest = extractSubset(X, y, fold.TestIndices)
	}
	return data
}

// fitAndScore fits est on the training partition and scores it on the test
// partition. A panic inside the estimator is returned as a PanicError.
func fitAndScore(est model.Classifier, d foldData, scorer metrics.Scorer) (float64, error) {
	if err := errors.SafeExecute("fit", func() error { return est.Fit(d.XTrain, d.yTrain) }); err != nil {
		return 0, err
	}
	return errors.SafeCall("score", func() (float64, error) {
		return scorer.Score(est, d.XTest, d.yTest)
	})
}

// CrossValScore returns the test score of a fresh estimator on every fold
// of splitter, in fold order.
func CrossValScore(ctx context.Context, factory ClassifierFactory, X, y mat.Matrix, splitter Splitter, scorer metrics.Scorer, nJobs int) ([]float64, error) {
	build := func(context.Context) (model.Classifier, error) { return factory() }
	scores, _, err := crossValidate(ctx, build, X, y, splitter, scorer, nJobs)
	return scores, err
}

// crossValidate is CrossValScore that also returns the fitted estimators.
// factory receives the fold context, which is cancelled when any fold fails.
func crossValidate(ctx context.Context, factory func(context.Context) (model.Classifier, error), X, y mat.Matrix, splitter Splitter, scorer metrics.Scorer, nJobs int) ([]float64, []model.Classifier, error) {
	folds, err := splitter.Split(X, y)
	if err != nil {
		return nil, nil, errors.Wrap(err, "cross validation: split")
	}
	data := splitData(X, y, folds)

	scores := make([]float64, len(folds))
	fitted := make([]model.Classifier, len(folds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs(nJobs))
	for f := range data {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			est, err := factory(gctx)
			if err != nil {
				return err
			}
			score, err := fitAndScore(est, data[f], scorer)
			if err != nil {
				return errors.NewFoldError(f, err)
			}
			scores[f] = score
			fitted[f] = est
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return scores, fitted, nil
}
