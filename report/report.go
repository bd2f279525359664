// Package report turns selection and tuning results into the console
// summary, a JSON document and PNG plots.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/YuminosukeSato/stepwise/core/model"
	"github.com/YuminosukeSato/stepwise/metrics"
	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"github.com/YuminosukeSato/stepwise/sklearn/feature_selection"
	"github.com/YuminosukeSato/stepwise/sklearn/model_selection"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// Report is everything one run produced.
type Report struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`

	Data      DataSummary      `json:"data"`
	Selection *SelectionReport `json:"selection,omitempty"`
	Tuning    *TuningReport    `json:"tuning,omitempty"`
	Holdout   *HoldoutReport   `json:"holdout,omitempty"`
}

// DataSummary describes the input table and the split.
type DataSummary struct {
	Path     string   `json:"path"`
	Target   string   `json:"target"`
	Samples  int      `json:"samples"`
	Train    int      `json:"train"`
	Test     int      `json:"test"`
	Features []string `json:"features"`
	Classes  []string `json:"classes"`
}

// SelectionReport is the forward-BIC outcome with feature names resolved.
type SelectionReport struct {
	Selected     []string      `json:"selected"`
	Indices      []int         `json:"indices"`
	BIC          float64       `json:"bic"`
	InterceptBIC float64       `json:"intercept_bic"`
	Path         []RoundReport `json:"path"`
}

// RoundReport is one accepted round.
type RoundReport struct {
	Round   int     `json:"round"`
	Feature string  `json:"feature"`
	BIC     float64 `json:"bic"`
}

// TuningReport is the nested cross-validation outcome. Scores are
// neg-log-loss, LogLoss fields are their positive counterparts.
type TuningReport struct {
	ParamName       string      `json:"param_name"`
	Features        []string    `json:"features"`
	Grid            []float64   `json:"grid"`
	InnerMeanScores []float64   `json:"inner_mean_scores"`
	InnerStdScores  []float64   `json:"inner_std_scores"`
	OuterScores     []float64   `json:"outer_scores"`
	OuterBestParams []float64   `json:"outer_best_params"`
	MeanLogLoss     float64     `json:"mean_log_loss"`
	StdLogLoss      float64     `json:"std_log_loss"`
	BestParam       float64     `json:"best_param"`
	BestInnerScore  float64     `json:"best_inner_score"`
	Intercepts      []float64   `json:"intercepts,omitempty"`
	Coefficients    [][]float64 `json:"coefficients,omitempty"`
}

// HoldoutReport scores the tuned model on the held-out partition.
type HoldoutReport struct {
	Samples  int     `json:"samples"`
	LogLoss  float64 `json:"log_loss"`
	Accuracy float64 `json:"accuracy"`
}

// New starts a report with a fresh run id.
func New(data DataSummary) *Report {
	return &Report{
		RunID:     NewRunID(),
		CreatedAt: time.Now().UTC(),
		Data:      data,
	}
}

// NewRunID returns a random run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// FromSelection resolves column indices of sel against names.
func FromSelection(sel *feature_selection.Selection, names []string) *SelectionReport {
	out := &SelectionReport{
		Selected:     make([]string, len(sel.Selected)),
		Indices:      append([]int{}, sel.Selected...),
		BIC:          sel.BIC,
		InterceptBIC: sel.InterceptBIC,
		Path:         make([]RoundReport, len(sel.Steps)),
	}
	for i, j := range sel.Selected {
		out.Selected[i] = names[j]
	}
	for i, step := range sel.Steps {
		out.Path[i] = RoundReport{Round: step.Round, Feature: names[step.Feature], BIC: step.BIC}
	}
	return out
}

// FromNested summarizes a nested CV run of the named parameter.
func FromNested(paramName string, features []string, res *model_selection.NestedResult) *TuningReport {
	out := &TuningReport{
		ParamName:       paramName,
		Features:        features,
		OuterScores:     res.OuterScores,
		OuterBestParams: res.OuterBestParams,
		MeanLogLoss:     -res.Mean,
		StdLogLoss:      res.Std,
		BestParam:       res.BestParam,
	}
	if s := res.Search; s != nil {
		out.Grid = s.Params
		out.InnerMeanScores = s.MeanScores
		out.InnerStdScores = s.StdScores
		out.BestInnerScore = s.BestScore
		if we, ok := s.BestEstimator.(model.WeightExporter); ok {
			if w, err := we.ExportWeights(); err == nil {
				out.Intercepts = w.Intercepts
				out.Coefficients = w.Coefficients
			}
		}
	}
	return out
}

// Holdout scores est on the test partition.
func Holdout(est model.Classifier, X, y mat.Matrix) (*HoldoutReport, error) {
	proba, err := est.PredictProba(X)
	if err != nil {
		return nil, errors.Wrap(err, "holdout: predict proba")
	}
	logLoss, err := metrics.LogLoss(y, proba, est.Classes())
	if err != nil {
		return nil, errors.Wrap(err, "holdout: log loss")
	}
	pred, err := est.Predict(X)
	if err != nil {
		return nil, errors.Wrap(err, "holdout: predict")
	}
	acc, err := metrics.Accuracy(y, pred)
	if err != nil {
		return nil, errors.Wrap(err, "holdout: accuracy")
	}
	n, _ := X.Dims()
	return &HoldoutReport{Samples: n, LogLoss: logLoss, Accuracy: acc}, nil
}

// WriteText prints the human readable summary.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s\n", r.RunID)
	fmt.Fprintf(&b, "Data: %s (target %q), %d samples, %d predictors, classes %v\n",
		r.Data.Path, r.Data.Target, r.Data.Samples, len(r.Data.Features), r.Data.Classes)
	if r.Data.Test > 0 {
		fmt.Fprintf(&b, "Split: %d train / %d test\n", r.Data.Train, r.Data.Test)
	}

	if s := r.Selection; s != nil {
		b.WriteString("\nForward selection (BIC)\n")
		fmt.Fprintf(&b, "  intercept only: %.4f\n", s.InterceptBIC)
		for _, step := range s.Path {
			fmt.Fprintf(&b, "  round %d: +%-20s BIC %.4f\n", step.Round, step.Feature, step.BIC)
		}
		if len(s.Selected) == 0 {
			b.WriteString("Selected variables: (none)\n")
		} else {
			fmt.Fprintf(&b, "Selected variables: %s\n", strings.Join(s.Selected, ", "))
		}
		fmt.Fprintf(&b, "Final BIC: %.4f\n", s.BIC)
	}

	if t := r.Tuning; t != nil {
		b.WriteString("\nNested cross validation (L1 multinomial logistic regression)\n")
		for f, score := range t.OuterScores {
			fmt.Fprintf(&b, "  outer fold %d: log-loss %.4f (%s=%s)\n", f, -score, t.ParamName, formatParam(t.OuterBestParams[f]))
		}
		fmt.Fprintf(&b, "Nested CV log-loss: %.4f ± %.4f\n", t.MeanLogLoss, t.StdLogLoss)
		fmt.Fprintf(&b, "Chosen %s: %s\n", t.ParamName, formatParam(t.BestParam))
	}

	if h := r.Holdout; h != nil {
		fmt.Fprintf(&b, "\nHold-out (%d samples): log-loss %.4f, accuracy %.4f\n", h.Samples, h.LogLoss, h.Accuracy)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func formatParam(v float64) string {
	if v != 0 && (math.Abs(v) < 1e-2 || math.Abs(v) >= 1e3) {
		return fmt.Sprintf("%.3e", v)
	}
	return fmt.Sprintf("%.4g", v)
}

// WriteJSON writes the report as indented JSON to path.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}
