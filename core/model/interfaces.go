package model

import (
	"gonum.org/v1/gonum/mat"
)

// Classifier combines interfaces for classification models.
type Classifier interface {
	Estimator

	// PredictProba returns probability estimates for each class, one column
	// per entry of Classes().
	PredictProba(X mat.Matrix) (mat.Matrix, error)

	// Classes returns the unique classes seen during fitting, ascending.
	Classes() []int
}

// ParameterGetter is the interface for models that expose their parameters.
type ParameterGetter interface {
	// GetParams returns the model's hyperparameters.
	GetParams() map[string]interface{}
}

// ParameterSetter is the interface for models that allow parameter modification.
type ParameterSetter interface {
	// SetParams sets the model's hyperparameters.
	SetParams(params map[string]interface{}) error
}

// WeightExporter is implemented by models whose fitted state can be written
// out as ModelWeights.
type WeightExporter interface {
	ExportWeights() (*ModelWeights, error)
}
