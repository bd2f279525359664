package model_selection

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Splitter defines interface for cross-validation splitters
type Splitter interface {
	Split(X, y mat.Matrix) ([]Fold, error)
	GetNSplits() int
}

// Fold represents a single fold in cross-validation. Both index slices are
// sorted ascending.
type Fold struct {
	TrainIndices []int
	TestIndices  []int
}

// KFold implements k-fold cross-validation splitter
type KFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed uint64
}

// NewKFold creates a new k-fold splitter
func NewKFold(nSplits int, shuffle bool, randomSeed uint64) *KFold {
	return &KFold{
		NSplits:    nSplits,
		Shuffle:    shuffle,
		RandomSeed: randomSeed,
	}
}

// GetNSplits returns the number of splits
func (kf *KFold) GetNSplits() int {
	return kf.NSplits
}

// Split generates train/test indices for each fold. The first n % k folds
// get one extra sample, as in scikit-learn.
func (kf *KFold) Split(X, _ mat.Matrix) ([]Fold, error) {
	nSamples, _ := X.Dims()
	if err := checkSplits("KFold", kf.NSplits, nSamples); err != nil {
		return nil, err
	}

	indices := make([]int, nSamples)
	for i := range indices {
		indices[i] = i
	}
	if kf.Shuffle {
		newRand(kf.RandomSeed).Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})
	}

	folds := make([]Fold, kf.NSplits)
	foldSize := nSamples / kf.NSplits
	remainder := nSamples % kf.NSplits

	current := 0
	for i := 0; i < kf.NSplits; i++ {
		testSize := foldSize
		if i < remainder {
			testSize++
		}
		folds[i] = newFold(nSamples, indices[current:current+testSize])
		current += testSize
	}
	return folds, nil
}

// StratifiedKFold implements stratified k-fold cross-validation
type StratifiedKFold struct {
	NSplits    int
	Shuffle    bool
	RandomSeed uint64
}

// NewStratifiedKFold creates a new stratified k-fold splitter
func NewStratifiedKFold(nSplits int, shuffle bool, randomSeed uint64) *StratifiedKFold {
	return &StratifiedKFold{
		NSplits:    nSplits,
		Shuffle:    shuffle,
		RandomSeed: randomSeed,
	}
}

// GetNSplits returns the number of splits
func (skf *StratifiedKFold) GetNSplits() int {
	return skf.NSplits
}

// Split generates stratified train/test indices for each fold. Each class is
// dealt round-robin over the folds so every fold keeps the class ratio.
func (skf *StratifiedKFold) Split(X, y mat.Matrix) ([]Fold, error) {
	nSamples, _ := X.Dims()
	if err := checkSplits("StratifiedKFold", skf.NSplits, nSamples); err != nil {
		return nil, err
	}

	labels, groups := groupByClass(y)
	var r *rand.Rand
	if skf.Shuffle {
		r = newRand(skf.RandomSeed)
	}

	tests := make([][]int, skf.NSplits)
	offset := 0
	for _, label := range labels {
		indices := groups[label]
		if r != nil {
			r.Shuffle(len(indices), func(i, j int) {
				indices[i], indices[j] = indices[j], indices[i]
			})
		}
		// Continue the round-robin where the previous class stopped so fold
		// sizes stay balanced.
		for j, idx := range indices {
			f := (offset + j) % skf.NSplits
			tests[f] = append(tests[f], idx)
		}
		offset = (offset + len(indices)) % skf.NSplits
	}

	folds := make([]Fold, skf.NSplits)
	for i, test := range tests {
		folds[i] = newFold(nSamples, test)
	}
	return folds, nil
}

// TrainTestSplit splits X and y into a training and a test partition.
// nTest = ceil(testSize * n). With stratify the class proportions are kept
// in both partitions (largest-remainder allocation, ties to the lower class).
func TrainTestSplit(X, y mat.Matrix, testSize float64, seed uint64, stratify bool) (XTrain, XTest, yTrain, yTest *mat.Dense, err error) {
	n, _ := X.Dims()
	if yn, _ := y.Dims(); yn != n {
		return nil, nil, nil, nil, errors.NewDimensionError("TrainTestSplit", n, yn, 0)
	}
	fold, err := TrainTestIndices(y, testSize, seed, stratify)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	XTrain, yTrain = extractSubset(X, y, fold.TrainIndices)
	XTest, yTest = extractSubset(X, y, fold.TestIndices)
	return XTrain, XTest, yTrain, yTest, nil
}

// TrainTestIndices is TrainTestSplit on row indices only. It works for
// tables without predictor columns, which mat.Dense cannot hold.
func TrainTestIndices(y mat.Matrix, testSize float64, seed uint64, stratify bool) (Fold, error) {
	n, _ := y.Dims()
	if !(testSize > 0 && testSize < 1) {
		return Fold{}, errors.NewValidationError("test_size", "must be in (0, 1)", testSize)
	}
	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest < 1 || nTest >= n {
		return Fold{}, errors.NewValueError("TrainTestSplit",
			"test_size leaves an empty training or test partition")
	}

	r := newRand(seed)
	var test []int
	if !stratify {
		test = r.Perm(n)[:nTest]
	} else {
		labels, groups := groupByClass(y)
		if len(labels) > nTest || len(labels) > n-nTest {
			return Fold{}, errors.NewValueError("TrainTestSplit",
				"each partition must be able to hold every class")
		}
		counts := allocate(labels, groups, nTest, n)
		for k, label := range labels {
			indices := groups[label]
			if len(indices) < 2 {
				return Fold{}, errors.NewValueError("TrainTestSplit",
					"the least populated class has only 1 member, stratification needs 2")
			}
			r.Shuffle(len(indices), func(i, j int) {
				indices[i], indices[j] = indices[j], indices[i]
			})
			test = append(test, indices[:counts[k]]...)
		}
	}
	return newFold(n, test), nil
}

// allocate distributes nTest test slots over the classes proportionally.
func allocate(labels []int, groups map[int][]int, nTest, n int) []int {
	counts := make([]int, len(labels))
	remainders := make([]float64, len(labels))
	assigned := 0
	for k, label := range labels {
		exact := float64(nTest) * float64(len(groups[label])) / float64(n)
		counts[k] = int(math.Floor(exact))
		remainders[k] = exact - float64(counts[k])
		assigned += counts[k]
	}

	order := make([]int, len(labels))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]] > remainders[order[b]]
	})
	for _, k := range order {
		if assigned == nTest {
			break
		}
		if counts[k] < len(groups[labels[k]])-1 {
			counts[k]++
			assigned++
		}
	}
	return counts
}

func checkSplits(op string, nSplits, nSamples int) error {
	if nSplits < 2 {
		return errors.NewValidationError("n_splits", "must be at least 2", nSplits)
	}
	if nSplits > nSamples {
		return errors.NewValueError(op, "cannot have n_splits greater than the number of samples")
	}
	return nil
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

// newFold builds a fold from its test indices; every other row trains.
func newFold(nSamples int, test []int) Fold {
	isTest := make([]bool, nSamples)
	for _, idx := range test {
		isTest[idx] = true
	}
	fold := Fold{
		TrainIndices: make([]int, 0, nSamples-len(test)),
		TestIndices:  make([]int, 0, len(test)),
	}
	for i := 0; i < nSamples; i++ {
		if isTest[i] {
			fold.TestIndices = append(fold.TestIndices, i)
		} else {
			fold.TrainIndices = append(fold.TrainIndices, i)
		}
	}
	return fold
}

// groupByClass returns the sorted labels of y and the row indices of each.
func groupByClass(y mat.Matrix) ([]int, map[int][]int) {
	n, _ := y.Dims()
	groups := make(map[int][]int)
	for i := 0; i < n; i++ {
		label := int(y.At(i, 0))
		groups[label] = append(groups[label], i)
	}
	labels := make([]int, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	sort.Ints(labels)
	return labels, groups
}

// extractSubset extracts subset of data based on indices
func extractSubset(X, y mat.Matrix, indices []int) (*mat.Dense, *mat.Dense) {
	_, xCols := X.Dims()
	_, yCols := y.Dims()

	xSubset := mat.NewDense(len(indices), xCols, nil)
	ySubset := mat.NewDense(len(indices), yCols, nil)
	for i, idx := range indices {
		for j := 0; j < xCols; j++ {
			xSubset.Set(i, j, X.At(idx, j))
		}
		for j := 0; j < yCols; j++ {
			ySubset.Set(i, j, y.At(idx, j))
		}
	}
	return xSubset, ySubset
}
