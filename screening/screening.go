// Package screening composes the two analyses of a screening table: forward
// BIC variable selection with a multinomial logit, and nested
// cross-validation of an L1 multinomial logistic regression over C.
//
// Both run on the training partition of a seeded stratified split. By
// default they are independent and both see every predictor.
// Config.RestrictToSelected feeds the BIC subset into the tuner instead.
package screening

import (
	"context"
	"time"

	"github.com/YuminosukeSato/stepwise/core/model"
	"github.com/YuminosukeSato/stepwise/datasets"
	"github.com/YuminosukeSato/stepwise/pkg/config"
	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"github.com/YuminosukeSato/stepwise/pkg/log"
	"github.com/YuminosukeSato/stepwise/report"
	"github.com/YuminosukeSato/stepwise/sklearn/feature_selection"
	"github.com/YuminosukeSato/stepwise/sklearn/model_selection"
	"github.com/YuminosukeSato/stepwise/sklearn/pipeline"
	"gonum.org/v1/gonum/mat"
)

// TunedParam is the hyperparameter searched by the tuner.
const TunedParam = "C"

// Mode selects the analyses performed by Run.
type Mode int

const (
	ModeSelect Mode = 1 << iota
	ModeTune
	ModeAll = ModeSelect | ModeTune
)

// Result bundles the report with the objects behind it.
type Result struct {
	Report    *report.Report
	Selection *feature_selection.Selection
	Tuning    *model_selection.NestedResult
	// Model is the pipeline refit on the whole training partition with the
	// chosen C. Nil unless tuning ran.
	Model *pipeline.Pipeline
}

// SelectVariables runs the forward-BIC selector on X and y.
func SelectVariables(ctx context.Context, X, y mat.Matrix, cfg *config.Config, logger log.Logger) (*feature_selection.Selection, error) {
	policy, err := feature_selection.ParseFailurePolicy(cfg.Selection.OnNonConvergence)
	if err != nil {
		return nil, err
	}
	selector := feature_selection.NewForwardBIC(
		feature_selection.WithFailurePolicy(policy),
		feature_selection.WithInterceptBaseline(cfg.Selection.InterceptBaseline),
		feature_selection.WithNJobs(cfg.NJobs),
		feature_selection.WithLogger(logger),
	)
	return selector.Select(ctx, X, y)
}

// TuneModel runs nested cross-validation of the lasso pipeline over the
// log-spaced C grid of cfg.
func TuneModel(ctx context.Context, X, y mat.Matrix, cfg *config.Config, logger log.Logger) (*model_selection.NestedResult, error) {
	grid, err := model_selection.LogGrid(cfg.Tuning.CMin, cfg.Tuning.CMax, cfg.Tuning.CNum)
	if err != nil {
		return nil, err
	}
	maxIter, tol := cfg.Tuning.MaxIter, cfg.Tuning.Tol
	factory := func(c float64) (model.Classifier, error) {
		return pipeline.NewLasso(c, maxIter, tol), nil
	}

	nested := model_selection.NewNestedCV(factory, TunedParam, grid)
	nested.Inner = model_selection.NewKFold(cfg.Tuning.InnerFolds, true, cfg.Tuning.InnerSeed)
	nested.Outer = model_selection.NewKFold(cfg.Tuning.OuterFolds, true, cfg.Tuning.OuterSeed)
	nested.NJobs = cfg.NJobs
	nested.Logger = logger
	return nested.Run(ctx, X, y)
}

// Run loads cfg.Data, splits it and performs the analyses of mode. The
// artifacts named in cfg.Output are written before it returns.
func Run(ctx context.Context, cfg *config.Config, mode Mode) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Data.Path == "" || cfg.Data.Target == "" {
		return nil, errors.NewValidationError("data", "--data and --target are required", cfg.Data.Path)
	}

	ds, err := datasets.Load(cfg.Data.Path, cfg.Data.Target)
	if err != nil {
		return nil, err
	}
	split, err := model_selection.TrainTestIndices(ds.Y, cfg.Data.TestSize, cfg.Data.Seed, cfg.Data.Stratify)
	if err != nil {
		return nil, errors.Wrap(err, "train/test split")
	}
	train, test := ds.Rows(split.TrainIndices), ds.Rows(split.TestIndices)

	rep := report.New(report.DataSummary{
		Path:     cfg.Data.Path,
		Target:   cfg.Data.Target,
		Samples:  ds.NSamples(),
		Train:    train.NSamples(),
		Test:     test.NSamples(),
		Features: ds.FeatureNames,
		Classes:  ds.ClassNames,
	})
	logger := log.GetLogger().With(log.RunIDKey, rep.RunID)
	logger.Info("Run started",
		log.PathKey, cfg.Data.Path,
		log.SamplesKey, ds.NSamples(),
		log.FeaturesKey, ds.NFeatures(),
		log.ClassesKey, len(ds.ClassNames),
	)
	res := &Result{Report: rep}

	if mode&ModeSelect != 0 {
		start := time.Now()
		sel, err := SelectVariables(ctx, train.X, train.Y, cfg, logger.With(log.ComponentKey, "feature_selection"))
		if err != nil {
			return nil, errors.Wrap(err, "variable selection")
		}
		res.Selection = sel
		rep.Selection = report.FromSelection(sel, ds.FeatureNames)
		logger.Info("Variable selection done",
			log.SelectedKey, rep.Selection.Selected,
			log.BICKey, sel.BIC,
			log.DurationMsKey, time.Since(start).Milliseconds(),
		)
	}

	if mode&ModeTune != 0 {
		tuneTrain, tuneTest := train, test
		if cfg.RestrictToSelected && res.Selection != nil {
			if tuneTrain, err = train.Subset(res.Selection.Selected); err != nil {
				return nil, err
			}
			if tuneTest, err = test.Subset(res.Selection.Selected); err != nil {
				return nil, err
			}
		}
		if tuneTrain.NFeatures() == 0 {
			return nil, errors.NewValueError("screening.Run", "tuning needs at least one predictor")
		}

		start := time.Now()
		tuned, err := TuneModel(ctx, tuneTrain.X, tuneTrain.Y, cfg, logger.With(log.ComponentKey, "model_selection"))
		if err != nil {
			return nil, errors.Wrap(err, "tuning")
		}
		res.Tuning = tuned
		rep.Tuning = report.FromNested(TunedParam, tuneTrain.FeatureNames, tuned)
		logger.Info("Tuning done",
			log.ParamKey, tuned.BestParam,
			log.ScoreKey, tuned.Mean,
			log.DurationMsKey, time.Since(start).Milliseconds(),
		)

		final, ok := tuned.Search.BestEstimator.(*pipeline.Pipeline)
		if !ok {
			return nil, errors.NewValueError("screening.Run", "refit estimator is not a pipeline")
		}
		res.Model = final
		if rep.Holdout, err = report.Holdout(final, tuneTest.X, tuneTest.Y); err != nil {
			return nil, err
		}
	}

	if err := writeOutputs(res, cfg.Output, logger); err != nil {
		return nil, err
	}
	return res, nil
}

func writeOutputs(res *Result, out config.OutputConfig, logger log.Logger) error {
	if out.JSONPath != "" {
		if err := res.Report.WriteJSON(out.JSONPath); err != nil {
			return err
		}
		logger.Info("Report written", log.PathKey, out.JSONPath)
	}
	if out.PlotDir != "" {
		written, err := res.Report.WritePlots(out.PlotDir)
		if err != nil {
			return err
		}
		for _, path := range written {
			logger.Info("Plot written", log.PathKey, path)
		}
	}
	if out.SaveModel != "" {
		if res.Model == nil {
			return errors.NewValueError("screening.Run", "--save-model needs the tuning step")
		}
		weights, err := res.Model.ExportWeights()
		if err != nil {
			return err
		}
		weights.Features = res.Report.Tuning.Features
		if err := model.SaveModel(weights, out.SaveModel); err != nil {
			return err
		}
		logger.Info("Model saved", log.PathKey, out.SaveModel)
	}
	return nil
}
