package linear_model

import (
	"sort"

	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// validateXY checks that X and y are row-aligned, non-empty and finite, and
// that y is a column vector.
func validateXY(op string, X, y mat.Matrix) error {
	nSamples, nFeatures := X.Dims()
	yRows, yCols := y.Dims()

	if nSamples == 0 {
		return errors.NewModelError(op, "empty data", errors.ErrEmptyData)
	}
	if nSamples != yRows {
		return errors.NewDimensionError(op, nSamples, yRows, 0)
	}
	if yCols != 1 {
		return errors.NewValueError(op, "y must be a column vector")
	}
	if err := errors.CheckMatrix(op, X, nSamples, nFeatures, 0); err != nil {
		return err
	}
	return nil
}

// extractClasses returns the sorted unique labels of y and the position of
// each sample's label in that slice.
func extractClasses(y mat.Matrix) (classes []int, index []int) {
	rows, _ := y.Dims()
	seen := make(map[int]struct{})
	for i := 0; i < rows; i++ {
		seen[int(y.At(i, 0))] = struct{}{}
	}

	classes = make([]int, 0, len(seen))
	for c := range seen {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	pos := make(map[int]int, len(classes))
	for k, c := range classes {
		pos[c] = k
	}
	index = make([]int, rows)
	for i := 0; i < rows; i++ {
		index[i] = pos[int(y.At(i, 0))]
	}
	return classes, index
}

// argmaxLabels maps each row of proba to the class with the highest
// probability. Ties go to the lower class.
func argmaxLabels(proba mat.Matrix, classes []int) *mat.Dense {
	n, k := proba.Dims()
	out := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		best := 0
		for j := 1; j < k; j++ {
			if proba.At(i, j) > proba.At(i, best) {
				best = j
			}
		}
		out.Set(i, 0, float64(classes[best]))
	}
	return out
}

// AddConstant prepends a column of ones to X, like statsmodels' add_constant.
func AddConstant(X mat.Matrix) *mat.Dense {
	n, p := X.Dims()
	out := mat.NewDense(n, p+1, nil)
	for i := 0; i < n; i++ {
		out.Set(i, 0, 1)
		for j := 0; j < p; j++ {
			out.Set(i, j+1, X.At(i, j))
		}
	}
	return out
}

// matrixRank follows numpy.linalg.matrix_rank: singular values above
// s_max * max(n, d) * eps count.
func matrixRank(X mat.Matrix) (int, error) {
	n, d := X.Dims()
	var svd mat.SVD
	if !svd.Factorize(X, mat.SVDNone) {
		return 0, errors.NewModelError("matrixRank", "SVD did not converge", errors.ErrSingularMatrix)
	}
	values := svd.Values(nil)
	if len(values) == 0 {
		return 0, nil
	}
	dim := n
	if d > dim {
		dim = d
	}
	tol := values[0] * float64(dim) * 2.220446049250313e-16
	rank := 0
	for _, s := range values {
		if s > tol {
			rank++
		}
	}
	return rank, nil
}
