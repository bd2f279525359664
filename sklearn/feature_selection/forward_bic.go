// Package feature_selection implements forward stepwise variable selection
// driven by the Bayesian Information Criterion.
//
// Every round fits one multinomial model per remaining predictor on
// [1 | X[:, selected + j]] and keeps the predictor with the lowest BIC if it
// improves on the current one. Candidates are compared in ascending column
// order, so the first minimum wins regardless of how many fits ran in
// parallel.
package feature_selection

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/YuminosukeSato/stepwise/core/model"
	"github.com/YuminosukeSato/stepwise/core/parallel"
	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"github.com/YuminosukeSato/stepwise/pkg/log"
	"github.com/YuminosukeSato/stepwise/sklearn/linear_model"
	"gonum.org/v1/gonum/mat"
)

// BIC returns -2*logLik + k*ln(n).
func BIC(logLik float64, k, n int) float64 {
	return -2*logLik + float64(k)*math.Log(float64(n))
}

// CandidateFitter fits a likelihood model on a design matrix that already
// contains the intercept column.
type CandidateFitter interface {
	Fit(X, y mat.Matrix) (model.LikelihoodModel, error)
}

// CandidateFitterFunc adapts a function to CandidateFitter.
type CandidateFitterFunc func(X, y mat.Matrix) (model.LikelihoodModel, error)

// Fit implements CandidateFitter.
func (f CandidateFitterFunc) Fit(X, y mat.Matrix) (model.LikelihoodModel, error) {
	return f(X, y)
}

// MNLogitFitter fits a fresh linear_model.MNLogit per candidate.
type MNLogitFitter struct {
	Options []linear_model.MNLogitOption
}

// Fit implements CandidateFitter.
func (f MNLogitFitter) Fit(X, y mat.Matrix) (model.LikelihoodModel, error) {
	m := linear_model.NewMNLogit(f.Options...)
	if err := m.Fit(X, y); err != nil {
		return nil, err
	}
	return m, nil
}

// FailurePolicy decides what a failed candidate fit does to the run.
type FailurePolicy int

const (
	// FailFast aborts the selection on the first failed candidate fit.
	FailFast FailurePolicy = iota
	// SkipAsInfinite scores a candidate whose fit did not converge as
	// BIC = +Inf for that round. Other failures still abort.
	SkipAsInfinite
)

func (p FailurePolicy) String() string {
	switch p {
	case FailFast:
		return "fail"
	case SkipAsInfinite:
		return "infinite"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy parses "fail" or "infinite".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch s {
	case "fail", "":
		return FailFast, nil
	case "infinite", "skip":
		return SkipAsInfinite, nil
	default:
		return FailFast, errors.NewValidationError("on_nonconvergence", "must be fail or infinite", s)
	}
}

// Candidate is one trial fit of a round.
type Candidate struct {
	Feature       int
	BIC           float64
	LogLikelihood float64
	DFModel       int
	// Err is set when the fit failed and the policy turned it into +Inf.
	Err error
}

// Step is an accepted round.
type Step struct {
	Round         int
	Feature       int
	BIC           float64
	LogLikelihood float64
	DFModel       int
	Candidates    []Candidate
}

// Selection is the result of ForwardBIC.Select.
type Selection struct {
	// Selected holds column indices in the order they were accepted.
	Selected []int
	// BIC of the intercept plus Selected model.
	BIC float64
	// InterceptBIC is the BIC of the intercept-only model.
	InterceptBIC float64
	Steps        []Step
}

// ForwardBIC is the forward stepwise selector.
type ForwardBIC struct {
	fitter            CandidateFitter
	policy            FailurePolicy
	interceptBaseline bool
	nJobs             int
	logger            log.Logger
}

// Option is a functional option for ForwardBIC
type Option func(*ForwardBIC)

// NewForwardBIC creates a selector that fits MNLogit candidates, fails on
// the first fit error and starts from the intercept-only BIC.
func NewForwardBIC(opts ...Option) *ForwardBIC {
	f := &ForwardBIC{
		fitter:            MNLogitFitter{},
		policy:            FailFast,
		interceptBaseline: true,
		nJobs:             1,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = log.GetLoggerWithName("feature_selection")
	}
	return f
}

// WithFitter sets the candidate fitting capability
func WithFitter(fitter CandidateFitter) Option {
	return func(f *ForwardBIC) {
		f.fitter = fitter
	}
}

// WithFailurePolicy sets the policy for failed candidate fits
func WithFailurePolicy(policy FailurePolicy) Option {
	return func(f *ForwardBIC) {
		f.policy = policy
	}
}

// WithInterceptBaseline controls the BIC the search has to beat in its
// first round. true uses the intercept-only model, so a useless first
// predictor is rejected. false starts from +Inf and always accepts one.
func WithInterceptBaseline(enabled bool) Option {
	return func(f *ForwardBIC) {
		f.interceptBaseline = enabled
	}
}

// WithNJobs bounds the number of concurrent candidate fits. n <= 0 uses
// every CPU.
func WithNJobs(n int) Option {
	return func(f *ForwardBIC) {
		f.nJobs = n
	}
}

// WithLogger sets the logger
func WithLogger(logger log.Logger) Option {
	return func(f *ForwardBIC) {
		f.logger = logger
	}
}

// Select runs the forward search on X (n x p) and the class labels y (n x 1).
//
// With p = 0 it returns an empty selection and the intercept-only BIC
// without fitting any candidate.
func (f *ForwardBIC) Select(ctx context.Context, X, y mat.Matrix) (*Selection, error) {
	const op = "ForwardBIC.Select"
	n, p, err := validate(op, X, y)
	if err != nil {
		return nil, err
	}
	logger := f.logger.With(log.ModelNameKey, "ForwardBIC", log.OperationKey, log.OperationSelect)

	intercept, err := f.fitter.Fit(design(X, nil, -1), y)
	if err != nil {
		return nil, errors.Wrap(err, "intercept-only fit")
	}
	interceptBIC := BIC(intercept.LogLikelihood(), intercept.DFModel()+1, n)
	logger.Info("Selection started",
		log.SamplesKey, n,
		log.FeaturesKey, p,
		log.BICKey, interceptBIC,
	)

	sel := &Selection{
		Selected:     []int{},
		BIC:          interceptBIC,
		InterceptBIC: interceptBIC,
	}
	if p == 0 {
		return sel, nil
	}

	current := math.Inf(1)
	if f.interceptBaseline {
		current = interceptBIC
	}

	remaining := make(map[int]struct{}, p)
	for j := 0; j < p; j++ {
		remaining[j] = struct{}{}
	}

	for round := 1; len(remaining) > 0; round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidates, err := f.fitRound(ctx, X, y, sel.Selected, sortedKeys(remaining), n, round)
		if err != nil {
			return nil, err
		}

		best := -1
		for i, c := range candidates {
			if logger.Enabled(ctx, log.LevelDebug) {
				logger.Debug("Candidate evaluated",
					log.RoundKey, round,
					log.FeatureKey, c.Feature,
					log.BICKey, c.BIC,
				)
			}
			if c.BIC < math.Inf(1) && (best < 0 || c.BIC < candidates[best].BIC) {
				best = i
			}
		}
		if best < 0 || !(candidates[best].BIC < current) {
			break
		}

		winner := candidates[best]
		current = winner.BIC
		sel.Selected = append(sel.Selected, winner.Feature)
		sel.BIC = current
		delete(remaining, winner.Feature)
		sel.Steps = append(sel.Steps, Step{
			Round:         round,
			Feature:       winner.Feature,
			BIC:           winner.BIC,
			LogLikelihood: winner.LogLikelihood,
			DFModel:       winner.DFModel,
			Candidates:    candidates,
		})

		logger.Info("Round accepted",
			log.RoundKey, round,
			log.FeatureKey, winner.Feature,
			log.BICKey, winner.BIC,
			log.LogLikelihoodKey, winner.LogLikelihood,
		)
	}

	logger.Info("Selection finished",
		log.SelectedKey, sel.Selected,
		log.BICKey, sel.BIC,
	)
	return sel, nil
}

// fitRound fits one candidate per remaining column. Results are stored by
// position in remaining (ascending column order) whatever order the
// workers finish in.
func (f *ForwardBIC) fitRound(ctx context.Context, X, y mat.Matrix, selected, remaining []int, n, round int) ([]Candidate, error) {
	candidates := make([]Candidate, len(remaining))
	errs := make([]error, len(remaining))

	parallel.ParallelizeN(len(remaining), f.nJobs, func(i int) {
		j := remaining[i]
		candidates[i].Feature = j
		if err := ctx.Err(); err != nil {
			errs[i] = err
			return
		}
		fitted, err := errors.SafeCall(fmt.Sprintf("candidate %d", j), func() (model.LikelihoodModel, error) {
			return f.fitter.Fit(design(X, selected, j), y)
		})
		if err != nil {
			errs[i] = err
			return
		}
		candidates[i].LogLikelihood = fitted.LogLikelihood()
		candidates[i].DFModel = fitted.DFModel()
		candidates[i].BIC = BIC(fitted.LogLikelihood(), fitted.DFModel()+1, n)
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, err := range errs {
		if err == nil {
			continue
		}
		if f.policy == SkipAsInfinite && errors.IsConvergenceError(err) {
			candidates[i].BIC = math.Inf(1)
			candidates[i].LogLikelihood = math.Inf(-1)
			candidates[i].Err = err
			f.logger.Warn("Candidate did not converge, scored as +Inf",
				log.RoundKey, round,
				log.FeatureKey, remaining[i],
				log.ErrorTypeKey, "ConvergenceError",
			)
			continue
		}
		return nil, errors.NewCandidateError(round, remaining[i], err)
	}
	return candidates, nil
}

// design builds [1 | X[:, selected] | X[:, extra]]. extra < 0 adds nothing.
func design(X mat.Matrix, selected []int, extra int) *mat.Dense {
	n, _ := X.Dims()
	cols := append(append([]int(nil), selected...), extra)
	if extra < 0 {
		cols = cols[:len(cols)-1]
	}
	out := mat.NewDense(n, len(cols)+1, nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, 1)
		for c, j := range cols {
			out.Set(i, c+1, X.At(i, j))
		}
	}
	return out
}

func validate(op string, X, y mat.Matrix) (n, p int, err error) {
	n, p = X.Dims()
	yRows, yCols := y.Dims()
	switch {
	case n == 0:
		return 0, 0, errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	case yRows != n:
		return 0, 0, errors.NewDimensionError(op, n, yRows, 0)
	case yCols != 1:
		return 0, 0, errors.NewValueError(op, "y must be a column vector")
	}
	if err := errors.CheckMatrix(op, X, n, p, 0); err != nil {
		return 0, 0, errors.NewModelError(op, "predictors must be finite", errors.Wrap(errors.ErrMissingValue, err.Error()))
	}

	classes := make(map[float64]struct{})
	for i := 0; i < n; i++ {
		classes[y.At(i, 0)] = struct{}{}
	}
	if len(classes) < 2 {
		return 0, 0, errors.NewModelError(op, "outcome must have at least two classes", errors.ErrSingleClass)
	}
	return n, p, nil
}

func sortedKeys(m map[int]struct{}) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
