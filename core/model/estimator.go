package model

import "gonum.org/v1/gonum/mat"

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行う
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Estimator は Fit と Predict を持つ教師あり学習モデル
type Estimator interface {
	Fitter
	Predictor
}

// LikelihoodModel は最尤推定済みモデルの要約統計量を公開する。
// 変数選択で情報量規準を計算するために使う。
type LikelihoodModel interface {
	// LogLikelihood は最大化された対数尤度を返す
	LogLikelihood() float64

	// DFModel はモデルの自由度（切片を除く推定パラメータ数）を返す
	DFModel() int

	// NObs は学習に使ったサンプル数を返す
	NObs() int
}
