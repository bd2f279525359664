// Package log defines standard attribute keys for the selection and tuning
// pipeline.
//
// Keys follow a hierarchical naming convention (e.g. "model.name",
// "data.samples", "selection.bic") so JSON logs can be filtered per concern.
package log

// Model and Operation Context
const (
	// ModelNameKey identifies the type of model.
	// Examples: "MNLogit", "LogisticRegression", "ForwardBIC"
	ModelNameKey = "model.name"

	// EstimatorIDKey provides a unique identifier for a specific model instance.
	EstimatorIDKey = "estimator.id"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "transform", "score", "select", "tune"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component or package is performing the operation.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of model lifecycle.
	PhaseKey = "ml.phase"

	// RunIDKey identifies one end-to-end pipeline run.
	RunIDKey = "run.id"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// ClassesKey indicates the number of outcome classes.
	ClassesKey = "data.classes"

	// PathKey is the input file being read.
	PathKey = "data.path"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// LossKey records loss value during training or evaluation.
	LossKey = "metrics.loss"

	// ScoreKey records a scorer value (higher is better).
	ScoreKey = "metrics.score"

	// AccuracyKey records classification accuracy.
	AccuracyKey = "metrics.accuracy"

	// LogLikelihoodKey records the maximized log-likelihood of a fit.
	LogLikelihoodKey = "metrics.loglik"

	// IterationKey records the current iteration number during iterative processes.
	IterationKey = "training.iteration"
)

// Variable selection
const (
	// RoundKey is the forward-selection round, starting at 1.
	RoundKey = "selection.round"

	// FeatureKey is the candidate or accepted predictor.
	FeatureKey = "selection.feature"

	// BICKey is a Bayesian Information Criterion value.
	BICKey = "selection.bic"

	// SelectedKey is the ordered list of selected predictors.
	SelectedKey = "selection.selected"
)

// Cross-validation
const (
	// FoldKey is the zero-based fold index.
	FoldKey = "cv.fold"

	// ParamKey is the hyperparameter value being evaluated.
	ParamKey = "cv.param"

	// ParamNameKey is the hyperparameter name being evaluated.
	ParamNameKey = "cv.param_name"
)

// Error and Warning Context
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	ErrorCodeKey = "error.code"

	// ErrorTypeKey categorizes the type of error encountered.
	ErrorTypeKey = "error.type"

	// StacktraceKey contains stack trace information for debugging.
	// Automatically populated by the error logging functions.
	StacktraceKey = "error.stacktrace"

	// SuggestionKey provides helpful suggestions for resolving issues.
	SuggestionKey = "error.suggestion"
)

// Hyperparameters and Configuration
const (
	// HyperParamsKey contains model hyperparameters as a structured object.
	HyperParamsKey = "model.hyperparams"

	// RegularizationKey records regularization strength (C).
	RegularizationKey = "hyperparams.regularization"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"
)

// Standard attribute values.
const (
	OperationFit       = "fit"
	OperationPredict   = "predict"
	OperationTransform = "transform"
	OperationScore     = "score"
	OperationSelect    = "select"
	OperationTune      = "tune"

	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseTesting       = "testing"
	PhasePreprocessing = "preprocessing"

	ErrorNotFitted         = "NOT_FITTED"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
	ErrorEmptyData         = "EMPTY_DATA"
	ErrorInvalidInput      = "INVALID_INPUT"
	ErrorConvergence       = "CONVERGENCE_FAILURE"
	ErrorSingularMatrix    = "SINGULAR_MATRIX"
)
