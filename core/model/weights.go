package model

import (
	"encoding/json"

	"github.com/YuminosukeSato/stepwise/pkg/errors"
)

// ModelWeights はモデルの重みを表す構造体（シリアライゼーション用）
type ModelWeights struct {
	// ModelType はモデルの種類（LogisticRegression, Pipeline等）
	ModelType string `json:"model_type"`

	// Version はモデルのバージョン（互換性チェック用）
	Version string `json:"version"`

	// Coefficients はクラスごとの重み係数 (n_classes × n_features)
	Coefficients [][]float64 `json:"coefficients"`

	// Intercepts はクラスごとの切片
	Intercepts []float64 `json:"intercepts"`

	// Classes は学習時のクラスラベル
	Classes []int `json:"classes"`

	// Features は特徴量の名前（オプション）
	Features []string `json:"features,omitempty"`

	// ScalerMean と ScalerScale は前処理の標準化パラメータ（パイプラインのみ）
	ScalerMean  []float64 `json:"scaler_mean,omitempty"`
	ScalerScale []float64 `json:"scaler_scale,omitempty"`

	// Hyperparameters はモデルのハイパーパラメータ
	Hyperparameters map[string]interface{} `json:"hyperparameters"`

	// IsFitted はモデルが学習済みかどうか
	IsFitted bool `json:"is_fitted"`
}

// ToJSON はModelWeightsをJSON形式にシリアライズ
func (mw *ModelWeights) ToJSON() ([]byte, error) {
	return json.MarshalIndent(mw, "", "  ")
}

// FromJSON はJSON形式からModelWeightsをデシリアライズ
func (mw *ModelWeights) FromJSON(data []byte) error {
	return json.Unmarshal(data, mw)
}

// Validate はModelWeightsの妥当性を検証
func (mw *ModelWeights) Validate() error {
	if mw.ModelType == "" {
		return errors.Newf("model_type is required")
	}
	if mw.Version == "" {
		return errors.Newf("version is required")
	}
	if !mw.IsFitted && len(mw.Coefficients) > 0 {
		return errors.Newf("unfitted model should not have coefficients")
	}
	if mw.IsFitted && len(mw.Coefficients) == 0 {
		return errors.Newf("fitted model must have coefficients")
	}
	if len(mw.Intercepts) != len(mw.Coefficients) {
		return errors.Newf("intercepts (%d) and coefficient rows (%d) differ", len(mw.Intercepts), len(mw.Coefficients))
	}
	if len(mw.Coefficients) > 0 && len(mw.Classes) != len(mw.Coefficients) {
		return errors.Newf("classes (%d) and coefficient rows (%d) differ", len(mw.Classes), len(mw.Coefficients))
	}
	return nil
}
