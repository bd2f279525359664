package metrics

import (
	"github.com/YuminosukeSato/stepwise/core/model"
	"github.com/YuminosukeSato/stepwise/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// LogLossEpsilon は確率のクリップ幅。log(0) を避ける。
const LogLossEpsilon = 1e-15

// LogLoss は多クラス交差エントロピー（平均負対数尤度）を計算する
//
// yTrue は n×1 のクラスラベル、proba は n×K の予測確率で、列 k が labels[k] に対応する。
// labels に含まれないラベルが yTrue にあればエラーを返す（学習フォールドに現れなかった
// クラスを検証フォールドで見つけた場合など）。確率は [eps, 1-eps] にクリップしてから
// 行ごとに正規化する。
func LogLoss(yTrue, proba mat.Matrix, labels []int) (float64, error) {
	n, _ := yTrue.Dims()
	if n == 0 {
		return 0, errors.NewValueError("LogLoss", "empty input")
	}
	pr, pc := proba.Dims()
	if pr != n {
		return 0, errors.NewDimensionError("LogLoss", n, pr, 0)
	}
	if pc != len(labels) {
		return 0, errors.NewDimensionError("LogLoss", len(labels), pc, 1)
	}

	index := make(map[int]int, len(labels))
	for k, l := range labels {
		index[l] = k
	}

	row := make([]float64, pc)
	var total float64
	for i := 0; i < n; i++ {
		label := int(yTrue.At(i, 0))
		k, ok := index[label]
		if !ok {
			return 0, errors.Wrapf(errors.ErrUnknownClass,
				"LogLoss: y_true contains label %d not in %v", label, labels)
		}

		var sum float64
		for j := 0; j < pc; j++ {
			row[j] = errors.ClipValue(proba.At(i, j), LogLossEpsilon, 1-LogLossEpsilon)
			sum += row[j]
		}
		total -= errors.StabilizeLog(row[k] / sum)
	}

	return total / float64(n), nil
}

// Accuracy は正解率を計算する
func Accuracy(yTrue, yPred mat.Matrix) (float64, error) {
	n, _ := yTrue.Dims()
	if n == 0 {
		return 0, errors.NewValueError("Accuracy", "empty input")
	}
	if pn, _ := yPred.Dims(); pn != n {
		return 0, errors.NewDimensionError("Accuracy", n, pn, 0)
	}

	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.At(i, 0) == yPred.At(i, 0) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// Scorer は学習済み分類器を評価する。値が大きいほど良い。
type Scorer interface {
	Score(est model.Classifier, X, y mat.Matrix) (float64, error)
	Name() string
}

// ScorerFunc は関数を Scorer として使うためのアダプタ
type ScorerFunc struct {
	ScorerName string
	Fn         func(est model.Classifier, X, y mat.Matrix) (float64, error)
}

// Score implements Scorer.
func (f ScorerFunc) Score(est model.Classifier, X, y mat.Matrix) (float64, error) {
	return f.Fn(est, X, y)
}

// Name implements Scorer.
func (f ScorerFunc) Name() string {
	return f.ScorerName
}

// NegLogLoss は scikit-learn の "neg_log_loss" スコアラー。
// 推定器のクラス順で LogLoss を計算し、符号を反転して返す。
var NegLogLoss Scorer = ScorerFunc{
	ScorerName: "neg_log_loss",
	Fn: func(est model.Classifier, X, y mat.Matrix) (float64, error) {
		proba, err := est.PredictProba(X)
		if err != nil {
			return 0, err
		}
		loss, err := LogLoss(y, proba, est.Classes())
		if err != nil {
			return 0, err
		}
		return -loss, nil
	},
}

// AccuracyScorer は "accuracy" スコアラー
var AccuracyScorer Scorer = ScorerFunc{
	ScorerName: "accuracy",
	Fn: func(est model.Classifier, X, y mat.Matrix) (float64, error) {
		pred, err := est.Predict(X)
		if err != nil {
			return 0, err
		}
		return Accuracy(y, pred)
	},
}

// GetScorer は名前からスコアラーを返す
func GetScorer(name string) (Scorer, error) {
	switch name {
	case "neg_log_loss":
		return NegLogLoss, nil
	case "accuracy":
		return AccuracyScorer, nil
	default:
		return nil, errors.NewValidationError("scoring", "unknown scorer", name)
	}
}
