package linear_model

import (
	"context"
	"fmt"
	"math"

	"github.com/YuminosukeSato/stepwise/core/model"
	"github.com/YuminosukeSato/stepwise/metrics"
	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"github.com/YuminosukeSato/stepwise/pkg/log"
	"gonum.org/v1/gonum/mat"
)

// LogisticRegression implements penalized multinomial logistic regression.
// Compatible with scikit-learn's LogisticRegression(multi_class="multinomial").
//
// The objective is C * sum(logloss) + R(W) where R is ||W||_1 for "l1",
// 0.5*||W||^2 for "l2" and 0 for "none". The intercepts are not penalized.
// It is minimized with FISTA (accelerated proximal gradient) using a
// backtracking line search, and stops with the saga rule:
// max|w_new - w_old| / max|w_new| <= tol.
type LogisticRegression struct {
	state *model.StateManager // State management (composition)

	// Hyperparameters
	penalty      string  // Regularization: "l1", "l2", "none"
	C            float64 // Inverse regularization strength (1/alpha)
	fitIntercept bool    // Whether to fit intercept
	solver       string  // Solver label: "saga" or "fista" (both run FISTA)
	maxIter      int     // Maximum iterations
	multiClass   string  // Multi-class: "auto" or "multinomial"
	tol          float64 // Tolerance for stopping
	strict       bool    // Return ConvergenceError instead of warning

	// Model parameters
	coef_      *mat.Dense // Coefficients (n_classes x n_features)
	intercept_ []float64  // Intercept terms
	classes_   []int      // Unique class labels
	nFeatures_ int        // Number of features
	nIter_     int        // Iterations of the last fit

	logger log.Logger
}

// LogisticRegressionOption is a functional option for LogisticRegression
type LogisticRegressionOption func(*LogisticRegression)

// NewLogisticRegression creates a new LogisticRegression classifier
func NewLogisticRegression(opts ...LogisticRegressionOption) *LogisticRegression {
	lr := &LogisticRegression{
		state:        model.NewStateManager(),
		penalty:      "l2",
		C:            1.0,
		fitIntercept: true,
		solver:       "saga",
		maxIter:      100,
		multiClass:   "multinomial",
		tol:          1e-4,
		logger:       log.GetLoggerWithName("linear_model.logistic"),
	}

	for _, opt := range opts {
		opt(lr)
	}
	return lr
}

// WithLRPenalty sets the regularization type
func WithLRPenalty(penalty string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.penalty = penalty
	}
}

// WithLRC sets the inverse regularization strength
func WithLRC(c float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.C = c
	}
}

// WithLogisticFitIntercept sets whether to fit intercept
func WithLogisticFitIntercept(fit bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.fitIntercept = fit
	}
}

// WithLRSolver sets the optimization solver
func WithLRSolver(solver string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.solver = solver
	}
}

// WithLRMaxIter sets the maximum number of iterations
func WithLRMaxIter(maxIter int) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.maxIter = maxIter
	}
}

// WithLRTol sets the tolerance for stopping criteria
func WithLRTol(tol float64) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.tol = tol
	}
}

// WithLRMultiClass sets the multi-class strategy. Only multinomial is
// supported; "auto" resolves to it.
func WithLRMultiClass(multiClass string) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.multiClass = multiClass
	}
}

// WithLRStrictConvergence makes Fit return a ConvergenceError when maxIter
// is reached instead of emitting a ConvergenceWarning.
func WithLRStrictConvergence(strict bool) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.strict = strict
	}
}

// WithLRLogger sets the logger used for fit diagnostics
func WithLRLogger(logger log.Logger) LogisticRegressionOption {
	return func(lr *LogisticRegression) {
		lr.logger = logger
	}
}

func (lr *LogisticRegression) validateParams() error {
	switch lr.penalty {
	case "l1", "l2", "none":
	default:
		return errors.NewValidationError("penalty", "must be one of l1, l2, none", lr.penalty)
	}
	switch lr.solver {
	case "saga", "fista":
	default:
		return errors.NewValidationError("solver", "must be saga or fista", lr.solver)
	}
	switch lr.multiClass {
	case "auto", "multinomial":
	default:
		return errors.NewValidationError("multi_class", "only multinomial is supported", lr.multiClass)
	}
	if !(lr.C > 0) || math.IsInf(lr.C, 0) {
		return errors.NewValidationError("C", "must be positive and finite", lr.C)
	}
	if lr.maxIter <= 0 {
		return errors.NewValidationError("max_iter", "must be positive", lr.maxIter)
	}
	if !(lr.tol > 0) {
		return errors.NewValidationError("tol", "must be positive", lr.tol)
	}
	return nil
}

// Fit trains the logistic regression model
func (lr *LogisticRegression) Fit(X, y mat.Matrix) error {
	const op = "LogisticRegression.Fit"
	if err := lr.validateParams(); err != nil {
		return err
	}
	if err := validateXY(op, X, y); err != nil {
		return err
	}
	lr.state.Reset()

	nSamples, nFeatures := X.Dims()
	classes, yIdx := extractClasses(y)
	if len(classes) < 2 {
		return errors.NewModelError(op, "need at least two classes", errors.ErrSingleClass)
	}

	loss := &multinomialLoss{
		X:         mat.DenseCopyOf(X),
		yIdx:      yIdx,
		nClasses:  len(classes),
		c:         lr.C,
		intercept: lr.fitIntercept,
	}
	W, b, iter, converged, err := lr.fista(loss)
	if err != nil {
		return errors.Wrap(err, "LogisticRegression.Fit")
	}

	lr.coef_ = W
	lr.intercept_ = b
	lr.classes_ = classes
	lr.nFeatures_ = nFeatures
	lr.nIter_ = iter

	if lr.logger.Enabled(context.Background(), log.LevelDebug) {
		lr.logger.Debug("Fit finished",
			log.RegularizationKey, lr.C,
			log.IterationKey, iter,
			log.SamplesKey, nSamples,
			"converged", converged,
		)
	}

	if !converged {
		msg := fmt.Sprintf("the max_iter was reached which means the coef_ did not converge (C=%g)", lr.C)
		if lr.strict {
			return errors.NewConvergenceError("LogisticRegression", iter, msg)
		}
		errors.Warn(errors.NewConvergenceWarning("LogisticRegression", iter, msg))
	}

	lr.state.SetDimensions(nFeatures, nSamples)
	lr.state.SetFitted()
	return nil
}

// weightFloor is the coefficient scale below which the relative stopping
// rule falls back to an absolute one.
var weightFloor = math.Sqrt(2.220446049250313e-16)

// fista minimizes the penalized objective and returns the coefficients, the
// intercepts, the iteration count and whether the stopping rule was met.
//
// The softmax is invariant to adding a constant to every intercept, so the
// intercepts are kept centred at zero mean.
func (lr *LogisticRegression) fista(loss *multinomialLoss) (*mat.Dense, []float64, int, bool, error) {
	K := loss.nClasses
	_, p := loss.X.Dims()

	xW := mat.NewDense(K, p, nil)
	xb := make([]float64, K)
	yW := mat.NewDense(K, p, nil)
	yb := make([]float64, K)
	gW := mat.NewDense(K, p, nil)
	gb := make([]float64, K)
	candW := mat.NewDense(K, p, nil)
	candb := make([]float64, K)

	t := 1.0
	L := lr.C
	fOld := loss.value(xW, xb) + lr.penaltyValue(xW)

	for iter := 1; iter <= lr.maxIter; iter++ {
		fy := loss.valueGrad(yW, yb, gW, gb)
		if err := errors.CheckNumericalStability("fista_gradient", gW.RawMatrix().Data, iter); err != nil {
			return nil, nil, iter, false, err
		}
		if err := errors.CheckNumericalStability("fista_gradient", gb, iter); err != nil {
			return nil, nil, iter, false, err
		}

		// Backtracking: grow L until the quadratic upper bound holds at the
		// proximal point.
		var fc float64
		for {
			step := 1 / L
			lr.proxStep(candW, yW, gW, step)
			for k := range candb {
				candb[k] = yb[k] - step*gb[k]
			}
			centre(candb)

			fc = loss.value(candW, candb)
			var inner, sq float64
			for k := 0; k < K; k++ {
				for j := 0; j < p; j++ {
					d := candW.At(k, j) - yW.At(k, j)
					inner += gW.At(k, j) * d
					sq += d * d
				}
				d := candb[k] - yb[k]
				inner += gb[k] * d
				sq += d * d
			}
			if fc <= fy+inner+0.5*L*sq+1e-12*math.Abs(fy) || L > 1e300 {
				break
			}
			L *= 2
		}

		fNew := fc + lr.penaltyValue(candW)

		// saga stopping rule on consecutive iterates
		maxChange, maxWeight := 0.0, 0.0
		for k := 0; k < K; k++ {
			for j := 0; j < p; j++ {
				maxChange = math.Max(maxChange, math.Abs(candW.At(k, j)-xW.At(k, j)))
				maxWeight = math.Max(maxWeight, math.Abs(candW.At(k, j)))
			}
			maxChange = math.Max(maxChange, math.Abs(candb[k]-xb[k]))
			maxWeight = math.Max(maxWeight, math.Abs(candb[k]))
		}

		// Function-value restart keeps the accelerated sequence monotone.
		momentum := 0.0
		if fNew <= fOld {
			tNew := (1 + math.Sqrt(1+4*t*t)) / 2
			momentum = (t - 1) / tNew
			t = tNew
		} else {
			t = 1
		}
		for k := 0; k < K; k++ {
			for j := 0; j < p; j++ {
				c := candW.At(k, j)
				yW.Set(k, j, c+momentum*(c-xW.At(k, j)))
			}
			yb[k] = candb[k] + momentum*(candb[k]-xb[k])
		}
		xW.Copy(candW)
		copy(xb, candb)
		fOld = fNew

		if maxChange/math.Max(maxWeight, weightFloor) <= lr.tol {
			return xW, xb, iter, true, nil
		}
	}
	return xW, xb, lr.maxIter, false, nil
}

// centre subtracts the mean from v.
func centre(v []float64) {
	if len(v) == 0 {
		return
	}
	mean := 0.0
	for _, x := range v {
		mean += x
	}
	mean /= float64(len(v))
	for i := range v {
		v[i] -= mean
	}
}

// proxStep writes prox_{step*R}(y - step*g) into dst.
func (lr *LogisticRegression) proxStep(dst, y, g *mat.Dense, step float64) {
	K, p := dst.Dims()
	for k := 0; k < K; k++ {
		for j := 0; j < p; j++ {
			v := y.At(k, j) - step*g.At(k, j)
			switch lr.penalty {
			case "l1":
				v = softThreshold(v, step)
			case "l2":
				v /= 1 + step
			}
			dst.Set(k, j, v)
		}
	}
}

func (lr *LogisticRegression) penaltyValue(W *mat.Dense) float64 {
	switch lr.penalty {
	case "l1":
		K, p := W.Dims()
		s := 0.0
		for k := 0; k < K; k++ {
			for j := 0; j < p; j++ {
				s += math.Abs(W.At(k, j))
			}
		}
		return s
	case "l2":
		n := mat.Norm(W, 2)
		return 0.5 * n * n
	default:
		return 0
	}
}

func softThreshold(v, tau float64) float64 {
	switch {
	case v > tau:
		return v - tau
	case v < -tau:
		return v + tau
	default:
		return 0
	}
}

// multinomialLoss is C times the summed multinomial cross-entropy.
type multinomialLoss struct {
	X         *mat.Dense
	yIdx      []int
	nClasses  int
	c         float64
	intercept bool
}

// scores computes the softmax probabilities for (W, b) into a new n x K
// matrix and returns it with the loss value.
func (l *multinomialLoss) scores(W *mat.Dense, b []float64) (*mat.Dense, float64) {
	n, _ := l.X.Dims()
	Z := mat.NewDense(n, l.nClasses, nil)
	Z.Mul(l.X, W.T())

	total := 0.0
	for i := 0; i < n; i++ {
		row := Z.RawRowView(i)
		if l.intercept {
			for k := range row {
				row[k] += b[k]
			}
		}
		yScore := row[l.yIdx[i]]
		lse := errors.Softmax(row)
		total += lse - yScore
	}
	return Z, l.c * total
}

func (l *multinomialLoss) value(W *mat.Dense, b []float64) float64 {
	_, v := l.scores(W, b)
	return v
}

// valueGrad returns the loss and writes its gradient into gW and gb.
func (l *multinomialLoss) valueGrad(W *mat.Dense, b []float64, gW *mat.Dense, gb []float64) float64 {
	P, v := l.scores(W, b)
	n, _ := P.Dims()
	for i := 0; i < n; i++ {
		P.Set(i, l.yIdx[i], P.At(i, l.yIdx[i])-1)
	}
	gW.Mul(P.T(), l.X)
	gW.Scale(l.c, gW)
	for k := range gb {
		gb[k] = 0
		if !l.intercept {
			continue
		}
		for i := 0; i < n; i++ {
			gb[k] += P.At(i, k)
		}
		gb[k] *= l.c
	}
	return v
}

// Predict makes predictions for input data
func (lr *LogisticRegression) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := lr.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return argmaxLabels(proba, lr.classes_), nil
}

// PredictProba returns probability estimates for each class
func (lr *LogisticRegression) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := lr.state.RequireFitted("LogisticRegression", "PredictProba"); err != nil {
		return nil, err
	}
	_, nFeatures := X.Dims()
	if err := lr.state.RequireFeatures("LogisticRegression.PredictProba", nFeatures); err != nil {
		return nil, err
	}

	n, _ := X.Dims()
	probas := mat.NewDense(n, len(lr.classes_), nil)
	probas.Mul(X, lr.coef_.T())
	for i := 0; i < n; i++ {
		row := probas.RawRowView(i)
		for k := range row {
			row[k] += lr.intercept_[k]
		}
		errors.Softmax(row)
	}
	return probas, nil
}

// Score returns the mean accuracy on the given test data and labels
func (lr *LogisticRegression) Score(X, y mat.Matrix) float64 {
	predictions, err := lr.Predict(X)
	if err != nil {
		return 0.0
	}
	acc, err := metrics.Accuracy(y, predictions)
	if err != nil {
		return 0.0
	}
	return acc
}

// Classes returns the sorted class labels seen during Fit.
func (lr *LogisticRegression) Classes() []int { return lr.classes_ }

// Coef returns the n_classes x n_features coefficient matrix.
func (lr *LogisticRegression) Coef() mat.Matrix { return lr.coef_ }

// Intercept returns the per-class intercepts.
func (lr *LogisticRegression) Intercept() []float64 { return lr.intercept_ }

// NIter returns the number of iterations of the last fit.
func (lr *LogisticRegression) NIter() int { return lr.nIter_ }

// IsFitted reports whether the model has been fitted.
func (lr *LogisticRegression) IsFitted() bool { return lr.state.IsFitted() }

// Clone returns an unfitted copy with the same hyperparameters.
func (lr *LogisticRegression) Clone() *LogisticRegression {
	return NewLogisticRegression(
		WithLRPenalty(lr.penalty),
		WithLRC(lr.C),
		WithLogisticFitIntercept(lr.fitIntercept),
		WithLRSolver(lr.solver),
		WithLRMaxIter(lr.maxIter),
		WithLRMultiClass(lr.multiClass),
		WithLRTol(lr.tol),
		WithLRStrictConvergence(lr.strict),
		WithLRLogger(lr.logger),
	)
}

// GetParams returns the model hyperparameters
func (lr *LogisticRegression) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"penalty":       lr.penalty,
		"C":             lr.C,
		"fit_intercept": lr.fitIntercept,
		"solver":        lr.solver,
		"max_iter":      lr.maxIter,
		"multi_class":   lr.multiClass,
		"tol":           lr.tol,
	}
}

// SetParams sets the model hyperparameters
func (lr *LogisticRegression) SetParams(params map[string]interface{}) error {
	for key, value := range params {
		var ok bool
		switch key {
		case "penalty":
			lr.penalty, ok = value.(string)
		case "C":
			lr.C, ok = value.(float64)
		case "fit_intercept":
			lr.fitIntercept, ok = value.(bool)
		case "solver":
			lr.solver, ok = value.(string)
		case "max_iter":
			lr.maxIter, ok = value.(int)
		case "multi_class":
			lr.multiClass, ok = value.(string)
		case "tol":
			lr.tol, ok = value.(float64)
		default:
			return errors.NewValidationError(key, "unknown parameter", value)
		}
		if !ok {
			return errors.NewValidationError(key, "wrong type", value)
		}
	}
	return nil
}

// ExportWeights exports the fitted coefficients.
func (lr *LogisticRegression) ExportWeights() (*model.ModelWeights, error) {
	if err := lr.state.RequireFitted("LogisticRegression", "ExportWeights"); err != nil {
		return nil, err
	}
	K, _ := lr.coef_.Dims()
	coef := make([][]float64, K)
	for k := 0; k < K; k++ {
		coef[k] = mat.Row(nil, k, lr.coef_)
	}
	return &model.ModelWeights{
		ModelType:       "LogisticRegression",
		Version:         "1",
		Coefficients:    coef,
		Intercepts:      append([]float64(nil), lr.intercept_...),
		Classes:         append([]int(nil), lr.classes_...),
		Hyperparameters: lr.GetParams(),
		IsFitted:        true,
	}, nil
}
