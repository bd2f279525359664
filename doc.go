// Package stepwise selects and tunes multinomial classifiers for disease
// screening tables.
//
// A run performs two analyses on the training partition of a seeded,
// stratified train/test split:
//
//   - Forward variable selection: starting from the intercept-only
//     multinomial logit, each round adds the predictor whose model has the
//     lowest BIC and stops when no candidate improves it.
//   - Nested cross-validation: an L1-penalized multinomial logistic
//     regression (after standardization) is tuned over a log-spaced grid of
//     C by inner K-fold search, and the whole procedure is scored by an outer
//     K-fold loop with log-loss.
//
// # Installation
//
//	go install github.com/YuminosukeSato/stepwise/cmd/stepwise@latest
//
// # Quick Start
//
//	stepwise run --data screening.csv --target diagnosis --plot-dir out/ --json out/report.json
//
// or from Go:
//
//	sel, err := feature_selection.NewForwardBIC().Select(ctx, X, y)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(sel.Selected, sel.BIC)
//
// # Packages
//
//   - sklearn/feature_selection: forward BIC selector (ForwardBIC)
//   - sklearn/linear_model: MNLogit (Newton maximum likelihood) and
//     LogisticRegression (L1/L2 multinomial)
//   - sklearn/model_selection: KFold, StratifiedKFold, TrainTestSplit,
//     GridSearchCV, NestedCV
//   - sklearn/pipeline: StandardScaler + LogisticRegression
//   - preprocessing: StandardScaler
//   - metrics: log-loss, accuracy and scorers
//   - datasets: CSV and XLSX loading
//   - report: console, JSON and PNG output
//   - screening: the composed analysis used by cmd/stepwise
//   - core/model, core/parallel: shared interfaces and worker pools
//   - pkg/errors, pkg/log, pkg/config: errors, structured logging and
//     configuration
//
// # Concurrency
//
// Candidate fits, grid points and folds are independent and run on up to
// n_jobs goroutines. Results are stored by index and reduced in a fixed
// order, so the output does not depend on n_jobs.
//
// # License
//
// stepwise is released under the MIT License.
package stepwise
