package linear_model

import (
	"fmt"
	"math"

	"github.com/YuminosukeSato/stepwise/core/model"
	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// MNLogit is an unpenalized multinomial logit model fitted by maximum
// likelihood with Newton-Raphson, equivalent to statsmodels'
// MNLogit(y, X).fit(method="newton").
//
// The design matrix is used as given: callers that want an intercept prepend
// a column of ones (see AddConstant). The first (lowest) class is the
// reference category, so the parameters form a (K-1)×d matrix.
type MNLogit struct {
	state *model.StateManager

	maxIter int
	tol     float64

	params    *mat.Dense // (K-1) x d
	classes   []int
	llf       float64
	llnull    float64
	rank      int
	nObs      int
	nIter     int
	converged bool
}

// MNLogitOption is a functional option for MNLogit
type MNLogitOption func(*MNLogit)

// NewMNLogit creates a new MNLogit with maxIter 100 and tol 1e-8.
func NewMNLogit(opts ...MNLogitOption) *MNLogit {
	m := &MNLogit{
		state:   model.NewStateManager(),
		maxIter: 100,
		tol:     1e-8,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithMNMaxIter sets the maximum number of Newton iterations
func WithMNMaxIter(maxIter int) MNLogitOption {
	return func(m *MNLogit) {
		m.maxIter = maxIter
	}
}

// WithMNTol sets the convergence tolerance
func WithMNTol(tol float64) MNLogitOption {
	return func(m *MNLogit) {
		m.tol = tol
	}
}

// Fit maximizes the multinomial log-likelihood.
//
// Errors:
//   - ErrSingleClass wrapped in a ModelError when y has fewer than two classes
//   - ErrSingularMatrix wrapped in a ModelError when X is rank deficient
//   - ConvergenceError when maxIter Newton steps do not converge
func (m *MNLogit) Fit(X, y mat.Matrix) error {
	const op = "MNLogit.Fit"
	if err := validateXY(op, X, y); err != nil {
		return err
	}
	m.state.Reset()

	n, d := X.Dims()
	classes, yIdx := extractClasses(y)
	if len(classes) < 2 {
		return errors.NewModelError(op, "need at least two classes", errors.ErrSingleClass)
	}

	rank, err := matrixRank(X)
	if err != nil {
		return err
	}
	if rank < d {
		return errors.NewModelError(op,
			fmt.Sprintf("design matrix has rank %d < %d columns", rank, d),
			errors.ErrSingularMatrix)
	}

	Xd := mat.DenseCopyOf(X)
	K := len(classes)
	nParams := (K - 1) * d

	beta := make([]float64, nParams)
	probs := mat.NewDense(n, K, nil)
	ll := mnLogLikelihood(Xd, yIdx, beta, probs)
	grad := make([]float64, nParams)
	mnGradient(Xd, yIdx, probs, grad)

	m.classes = classes
	m.nObs = n
	m.rank = rank
	m.llnull = nullLogLikelihood(yIdx, K)

	converged := floats.Norm(grad, math.Inf(1)) <= m.tol
	iter := 0
	trial := make([]float64, nParams)
	trialProbs := mat.NewDense(n, K, nil)

	for !converged && iter < m.maxIter {
		iter++

		negH := mnNegHessian(Xd, probs, d)
		step, err := solveDamped(negH, grad)
		if err != nil {
			return errors.Wrapf(err, "%s: iteration %d", op, iter)
		}

		// Step halving: accept the first step that does not lower the
		// log-likelihood.
		accepted := false
		llNew := ll
		for s, h := 1.0, 0; h < 40; s, h = s/2, h+1 {
			copy(trial, beta)
			floats.AddScaled(trial, s, step)
			llNew = mnLogLikelihood(Xd, yIdx, trial, trialProbs)
			if llNew >= ll && !math.IsNaN(llNew) {
				accepted = true
				break
			}
		}
		if !accepted {
			// No representable ascent direction remains.
			converged = true
			break
		}

		copy(beta, trial)
		probs, trialProbs = trialProbs, probs
		mnGradient(Xd, yIdx, probs, grad)

		delta := llNew - ll
		ll = llNew
		if err := errors.CheckScalar(op, ll, iter); err != nil {
			return err
		}
		if floats.Norm(grad, math.Inf(1)) <= m.tol || math.Abs(delta) <= m.tol*math.Max(1, math.Abs(ll)) {
			converged = true
		}
	}

	m.nIter = iter
	m.converged = converged
	m.llf = ll
	m.params = mat.NewDense(K-1, d, beta)

	if !converged {
		return errors.NewConvergenceError("MNLogit", iter, "Newton-Raphson did not reach the tolerance")
	}

	m.state.SetDimensions(d, n)
	m.state.SetFitted()
	return nil
}

// PredictProba returns the class probabilities, one column per class.
func (m *MNLogit) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	if err := m.state.RequireFitted("MNLogit", "PredictProba"); err != nil {
		return nil, err
	}
	n, d := X.Dims()
	if err := m.state.RequireFeatures("MNLogit.PredictProba", d); err != nil {
		return nil, err
	}

	out := mat.NewDense(n, len(m.classes), nil)
	mnLogLikelihood(mat.DenseCopyOf(X), nil, m.params.RawMatrix().Data, out)
	return out, nil
}

// Predict returns the most probable class for every row.
func (m *MNLogit) Predict(X mat.Matrix) (mat.Matrix, error) {
	proba, err := m.PredictProba(X)
	if err != nil {
		return nil, err
	}
	return argmaxLabels(proba, m.classes), nil
}

// LogLikelihood returns the maximized log-likelihood.
func (m *MNLogit) LogLikelihood() float64 { return m.llf }

// NullLogLikelihood returns the log-likelihood of the intercept-only model
// with the same outcome.
func (m *MNLogit) NullLogLikelihood() float64 { return m.llnull }

// DFModel returns (rank - 1) * (K - 1), the statsmodels model degrees of
// freedom. The intercept column counts towards rank.
func (m *MNLogit) DFModel() int { return (m.rank - 1) * (len(m.classes) - 1) }

// NObs returns the number of observations used in the fit.
func (m *MNLogit) NObs() int { return m.nObs }

// Params returns the (K-1)×d coefficient matrix. Row k holds the log-odds
// of class k+1 against the reference class.
func (m *MNLogit) Params() mat.Matrix { return m.params }

// Classes returns the sorted class labels.
func (m *MNLogit) Classes() []int { return m.classes }

// Iterations returns the number of Newton steps taken.
func (m *MNLogit) Iterations() int { return m.nIter }

// Converged reports whether the last fit converged.
func (m *MNLogit) Converged() bool { return m.converged }

// IsFitted reports whether Fit completed successfully.
func (m *MNLogit) IsFitted() bool { return m.state.IsFitted() }

// mnLogLikelihood fills probs (n x K) for parameters beta ((K-1)*d, row
// major) and returns the log-likelihood of yIdx. With yIdx nil only the
// probabilities are computed.
func mnLogLikelihood(X *mat.Dense, yIdx []int, beta []float64, probs *mat.Dense) float64 {
	n, d := X.Dims()
	_, K := probs.Dims()
	scores := make([]float64, K)
	ll := 0.0
	for i := 0; i < n; i++ {
		row := X.RawRowView(i)
		scores[0] = 0
		for k := 1; k < K; k++ {
			scores[k] = floats.Dot(row, beta[(k-1)*d:k*d])
		}
		var yScore float64
		if yIdx != nil {
			yScore = scores[yIdx[i]]
		}
		lse := errors.Softmax(scores)
		probs.SetRow(i, scores)
		if yIdx != nil {
			ll += yScore - lse
		}
	}
	return ll
}

func mnGradient(X *mat.Dense, yIdx []int, probs *mat.Dense, grad []float64) {
	n, d := X.Dims()
	_, K := probs.Dims()
	for i := range grad {
		grad[i] = 0
	}
	for i := 0; i < n; i++ {
		row := X.RawRowView(i)
		for k := 1; k < K; k++ {
			r := -probs.At(i, k)
			if yIdx[i] == k {
				r += 1
			}
			floats.AddScaled(grad[(k-1)*d:k*d], r, row)
		}
	}
}

// mnNegHessian returns the negative Hessian of the log-likelihood, which is
// positive semi-definite.
func mnNegHessian(X *mat.Dense, probs *mat.Dense, d int) *mat.SymDense {
	n, _ := X.Dims()
	_, K := probs.Dims()
	size := (K - 1) * d
	h := mat.NewSymDense(size, nil)
	for i := 0; i < n; i++ {
		row := X.RawRowView(i)
		for k := 1; k < K; k++ {
			pk := probs.At(i, k)
			for l := k; l < K; l++ {
				w := -pk * probs.At(i, l)
				if k == l {
					w += pk
				}
				if w == 0 {
					continue
				}
				for a := 0; a < d; a++ {
					start := 0
					if k == l {
						start = a
					}
					for b := start; b < d; b++ {
						r, c := (k-1)*d+a, (l-1)*d+b
						h.SetSym(r, c, h.At(r, c)+w*row[a]*row[b])
					}
				}
			}
		}
	}
	return h
}

// solveDamped solves negH * step = grad with a Cholesky factorization. When
// negH is not numerically positive definite a growing multiple of the
// identity is added (Levenberg-Marquardt damping).
func solveDamped(negH *mat.SymDense, grad []float64) ([]float64, error) {
	size := negH.SymmetricDim()
	g := mat.NewVecDense(size, grad)
	step := mat.NewVecDense(size, nil)

	var chol mat.Cholesky
	if chol.Factorize(negH) {
		if err := chol.SolveVecTo(step, g); err == nil {
			return step.RawVector().Data, nil
		}
	}

	maxDiag := 0.0
	for i := 0; i < size; i++ {
		maxDiag = math.Max(maxDiag, negH.At(i, i))
	}
	lambda := 1e-10 * math.Max(1, maxDiag)
	damped := mat.NewSymDense(size, nil)
	for attempt := 0; attempt < 20; attempt++ {
		damped.CopySym(negH)
		for i := 0; i < size; i++ {
			damped.SetSym(i, i, damped.At(i, i)+lambda)
		}
		if chol.Factorize(damped) {
			if err := chol.SolveVecTo(step, g); err == nil {
				return step.RawVector().Data, nil
			}
		}
		lambda *= 10
	}
	return nil, errors.NewModelError("MNLogit.Newton", "Hessian is not positive definite", errors.ErrSingularMatrix)
}

// nullLogLikelihood is the log-likelihood of predicting the empirical class
// frequencies for every sample.
func nullLogLikelihood(yIdx []int, K int) float64 {
	counts := make([]float64, K)
	for _, k := range yIdx {
		counts[k]++
	}
	n := float64(len(yIdx))
	ll := 0.0
	for _, c := range counts {
		if c > 0 {
			ll += c * math.Log(c/n)
		}
	}
	return ll
}
