// Package pipeline chains feature standardization and a penalized
// multinomial classifier into a single estimator, like scikit-learn's
// make_pipeline(StandardScaler(), LogisticRegression(...)).
//
// The scaler statistics are learned in Fit only, so a pipeline fitted on a
// training fold never sees the rows of its validation fold.
package pipeline

import (
	"strings"

	"github.com/YuminosukeSato/stepwise/core/model"
	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"github.com/YuminosukeSato/stepwise/preprocessing"
	"github.com/YuminosukeSato/stepwise/sklearn/linear_model"
	"gonum.org/v1/gonum/mat"
)

// Step names used to route parameters, e.g. "logisticregression__C".
const (
	ScalerStep     = "standardscaler"
	ClassifierStep = "logisticregression"
)

// Pipeline is StandardScaler followed by LogisticRegression.
type Pipeline struct {
	Scaler     *preprocessing.StandardScaler
	Classifier *linear_model.LogisticRegression
}

// New creates a pipeline from its two steps.
func New(scaler *preprocessing.StandardScaler, clf *linear_model.LogisticRegression) *Pipeline {
	return &Pipeline{Scaler: scaler, Classifier: clf}
}

// NewLasso returns the screening pipeline: standardization and an L1
// multinomial logistic regression solved with saga settings.
func NewLasso(c float64, maxIter int, tol float64) *Pipeline {
	return New(
		preprocessing.NewStandardScalerDefault(),
		linear_model.NewLogisticRegression(
			linear_model.WithLRPenalty("l1"),
			linear_model.WithLRSolver("saga"),
			linear_model.WithLRMultiClass("multinomial"),
			linear_model.WithLRC(c),
			linear_model.WithLRMaxIter(maxIter),
			linear_model.WithLRTol(tol),
		),
	)
}

// Fit standardizes X and fits the classifier on the result.
func (p *Pipeline) Fit(X, y mat.Matrix) error {
	Xs, err := p.Scaler.FitTransform(X)
	if err != nil {
		return errors.Wrap(err, "pipeline: "+ScalerStep)
	}
	if err := p.Classifier.Fit(Xs, y); err != nil {
		return errors.Wrap(err, "pipeline: "+ClassifierStep)
	}
	return nil
}

// PredictProba implements model.Classifier.
func (p *Pipeline) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	Xs, err := p.Scaler.Transform(X)
	if err != nil {
		return nil, err
	}
	return p.Classifier.PredictProba(Xs)
}

// Predict implements model.Predictor.
func (p *Pipeline) Predict(X mat.Matrix) (mat.Matrix, error) {
	Xs, err := p.Scaler.Transform(X)
	if err != nil {
		return nil, err
	}
	return p.Classifier.Predict(Xs)
}

// Classes implements model.Classifier.
func (p *Pipeline) Classes() []int {
	return p.Classifier.Classes()
}

// IsFitted reports whether both steps are fitted.
func (p *Pipeline) IsFitted() bool {
	return p.Scaler.IsFitted() && p.Classifier.IsFitted()
}

// Clone returns an unfitted pipeline with the same hyperparameters.
func (p *Pipeline) Clone() *Pipeline {
	return New(p.Scaler.Clone(), p.Classifier.Clone())
}

// GetParams returns the parameters of both steps as "<step>__<param>".
func (p *Pipeline) GetParams() map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range p.Scaler.GetParams() {
		out[ScalerStep+"__"+k] = v
	}
	for k, v := range p.Classifier.GetParams() {
		out[ClassifierStep+"__"+k] = v
	}
	return out
}

// SetParams routes "<step>__<param>" keys to the matching step.
func (p *Pipeline) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		step, name, ok := strings.Cut(key, "__")
		if !ok {
			return errors.NewValidationError(key, "expected <step>__<param>", value)
		}
		var err error
		switch step {
		case ScalerStep:
			err = p.Scaler.SetParams(map[string]interface{}{name: value})
		case ClassifierStep:
			err = p.Classifier.SetParams(map[string]interface{}{name: value})
		default:
			err = errors.NewValidationError(key, "unknown pipeline step", step)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ExportWeights returns the classifier weights together with the scaler
// statistics. The coefficients apply to standardized inputs.
func (p *Pipeline) ExportWeights() (*model.ModelWeights, error) {
	if !p.Scaler.IsFitted() {
		return nil, errors.NewNotFittedError("Pipeline", "ExportWeights")
	}
	w, err := p.Classifier.ExportWeights()
	if err != nil {
		return nil, err
	}
	w.ModelType = "Pipeline"
	w.ScalerMean = append([]float64(nil), p.Scaler.Mean...)
	w.ScalerScale = append([]float64(nil), p.Scaler.Scale...)
	w.Hyperparameters = p.GetParams()
	return w, nil
}
