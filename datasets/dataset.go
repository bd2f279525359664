// Package datasets loads the screening table from CSV or XLSX, encodes the
// outcome labels and rejects malformed input before any model is fitted.
package datasets

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"github.com/YuminosukeSato/stepwise/pkg/log"
	"github.com/xuri/excelize/v2"
	"gonum.org/v1/gonum/mat"
)

// Dataset is a numeric predictor matrix with an encoded class outcome.
type Dataset struct {
	// X is n x p. It is an EmptyMatrix when the table has no predictors.
	X mat.Matrix
	// Y is n x 1 and holds class codes 0..K-1.
	Y *mat.Dense
	// FeatureNames[j] names column j of X.
	FeatureNames []string
	// ClassNames[k] is the original label of class code k.
	ClassNames []string
	Target     string
}

// NSamples returns the number of rows.
func (d *Dataset) NSamples() int {
	n, _ := d.Y.Dims()
	return n
}

// NFeatures returns the number of predictor columns.
func (d *Dataset) NFeatures() int {
	return len(d.FeatureNames)
}

// Names maps column indices to feature names.
func (d *Dataset) Names(indices []int) []string {
	out := make([]string, len(indices))
	for i, j := range indices {
		out[i] = d.FeatureNames[j]
	}
	return out
}

// Subset returns a dataset restricted to the given predictor columns, in
// that order. It shares Y with d.
func (d *Dataset) Subset(cols []int) (*Dataset, error) {
	n := d.NSamples()
	out := &Dataset{
		Y:            d.Y,
		FeatureNames: d.Names(cols),
		ClassNames:   d.ClassNames,
		Target:       d.Target,
	}
	if len(cols) == 0 {
		out.X = EmptyMatrix{Rows: n}
		return out, nil
	}
	_, p := d.X.Dims()
	X := mat.NewDense(n, len(cols), nil)
	for c, j := range cols {
		if j < 0 || j >= p {
			return nil, errors.NewValueError("Dataset.Subset", fmt.Sprintf("column %d out of range [0, %d)", j, p))
		}
		for i := 0; i < n; i++ {
			X.Set(i, c, d.X.At(i, j))
		}
	}
	out.X = X
	return out, nil
}

// Rows returns the dataset restricted to the given rows, in that order.
func (d *Dataset) Rows(indices []int) *Dataset {
	out := &Dataset{
		Y:            mat.NewDense(len(indices), 1, nil),
		FeatureNames: d.FeatureNames,
		ClassNames:   d.ClassNames,
		Target:       d.Target,
	}
	p := d.NFeatures()
	var X *mat.Dense
	if p > 0 {
		X = mat.NewDense(len(indices), p, nil)
	}
	for r, i := range indices {
		out.Y.Set(r, 0, d.Y.At(i, 0))
		for j := 0; j < p; j++ {
			X.Set(r, j, d.X.At(i, j))
		}
	}
	if X != nil {
		out.X = X
	} else {
		out.X = EmptyMatrix{Rows: len(indices)}
	}
	return out
}

// Load reads path as CSV or XLSX (by extension) and splits off the target
// column.
func Load(path, target string) (*Dataset, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSVFile(path)
	case ".xlsx":
		rows, err = readXLSX(path)
	default:
		return nil, errors.NewValidationError("data", "unsupported file type, want .csv or .xlsx", path)
	}
	if err != nil {
		return nil, err
	}

	ds, err := FromRows(rows, target)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	log.GetLoggerWithName("datasets").Info("Dataset loaded",
		log.PathKey, path,
		log.SamplesKey, ds.NSamples(),
		log.FeaturesKey, ds.NFeatures(),
		log.ClassesKey, len(ds.ClassNames),
	)
	return ds, nil
}

// LoadCSV reads CSV from r.
func LoadCSV(r io.Reader, target string) (*Dataset, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "read csv")
	}
	return FromRows(rows, target)
}

func readCSVFile(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return rows, nil
}

// readXLSX returns the rows of the first sheet.
func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.NewValueError("datasets.Load", path+" has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrapf(err, "read sheet %s", sheets[0])
	}
	return rows, nil
}

// FromRows builds a Dataset from a header row followed by data rows.
//
// It fails on: no data rows, a missing target column, an empty or
// non-numeric predictor cell (reported with its line and column), and an
// outcome with fewer than two classes.
func FromRows(rows [][]string, target string) (*Dataset, error) {
	const op = "datasets.FromRows"
	if len(rows) == 0 {
		return nil, errors.NewValueError(op, "missing header row")
	}
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(h)
	}
	data := rows[1:]
	if len(data) == 0 {
		return nil, errors.NewModelError(op, "no data rows", errors.ErrEmptyData)
	}

	targetCol := -1
	var features []string
	var featureCols []int
	for i, h := range header {
		if h == target {
			targetCol = i
			continue
		}
		features = append(features, h)
		featureCols = append(featureCols, i)
	}
	if targetCol < 0 {
		return nil, errors.NewValidationError("target", "column not found in header", target)
	}

	n, p := len(data), len(featureCols)
	var X *mat.Dense
	if p > 0 {
		X = mat.NewDense(n, p, nil)
	}
	labels := make([]string, n)
	for i, row := range data {
		line := i + 2
		labels[i] = strings.TrimSpace(cell(row, targetCol))
		if labels[i] == "" {
			return nil, errors.Wrapf(errors.ErrMissingValue, "line %d: column %q is empty", line, target)
		}
		for c, col := range featureCols {
			raw := strings.TrimSpace(cell(row, col))
			if raw == "" || strings.EqualFold(raw, "nan") || strings.EqualFold(raw, "na") {
				return nil, errors.Wrapf(errors.ErrMissingValue, "line %d: column %q is empty", line, header[col])
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, errors.NewValueError(op, fmt.Sprintf("line %d: column %q: %q is not numeric", line, header[col], raw))
			}
			X.Set(i, c, v)
		}
	}

	classNames, codes, err := encodeLabels(op, target, labels)
	if err != nil {
		return nil, err
	}
	if len(classNames) < 2 {
		return nil, errors.NewModelError(op, fmt.Sprintf("target %q has a single class", target), errors.ErrSingleClass)
	}

	ds := &Dataset{
		Y:            mat.NewDense(n, 1, codes),
		FeatureNames: features,
		ClassNames:   classNames,
		Target:       target,
	}
	if X != nil {
		ds.X = X
	} else {
		ds.X = EmptyMatrix{Rows: n}
	}
	return ds, nil
}

func cell(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}

// encodeLabels maps labels to 0..K-1 in sorted order. Labels that all parse
// as numbers are sorted numerically, otherwise lexically. Two spellings of
// the same number ("1" and "1.0") are rejected.
func encodeLabels(op, target string, labels []string) ([]string, []float64, error) {
	seen := make(map[string]struct{})
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for l := range seen {
		classes = append(classes, l)
	}

	numeric := make(map[string]float64, len(classes))
	for _, c := range classes {
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			numeric = nil
			break
		}
		numeric[c] = v
	}
	if numeric != nil {
		sort.Slice(classes, func(a, b int) bool { return numeric[classes[a]] < numeric[classes[b]] })
		for k := 1; k < len(classes); k++ {
			if numeric[classes[k]] == numeric[classes[k-1]] {
				a, b := classes[k-1], classes[k]
				if b < a {
					a, b = b, a
				}
				return nil, nil, errors.NewValueError(op,
					fmt.Sprintf("target %q: labels %q and %q are the same number", target, a, b))
			}
		}
	} else {
		sort.Strings(classes)
	}

	code := make(map[string]float64, len(classes))
	for k, c := range classes {
		code[c] = float64(k)
	}
	out := make([]float64, len(labels))
	for i, l := range labels {
		out[i] = code[l]
	}
	return classes, out, nil
}

// EmptyMatrix is an n x 0 matrix, the predictor matrix of a table without
// predictor columns. mat.Dense cannot have zero columns.
type EmptyMatrix struct {
	Rows int
}

// Dims implements mat.Matrix.
func (e EmptyMatrix) Dims() (int, int) { return e.Rows, 0 }

// At implements mat.Matrix. There are no elements, so it always panics.
func (e EmptyMatrix) At(i, j int) float64 { panic(mat.ErrIndexOutOfRange) }

// T implements mat.Matrix.
func (e EmptyMatrix) T() mat.Matrix { return mat.Transpose{Matrix: e} }
