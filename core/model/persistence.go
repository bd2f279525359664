package model

import (
	"encoding/gob"
	"io"
	"os"

	"github.com/YuminosukeSato/stepwise/pkg/errors"
)

// SaveModel はモデルをgob形式でファイルに保存する
//
// パラメータ:
//   - model: 保存する値（通常は *ModelWeights）
//   - filename: 保存先のファイルパス
//
// 使用例:
//
//	w, err := pipe.ExportWeights()
//	// ...
//	err = model.SaveModel(w, "final.gob")
func SaveModel(model interface{}, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "create %s", filename)
	}
	defer file.Close()

	return SaveModelToWriter(model, file)
}

// LoadModel はファイルからモデルを読み込む
//
//	var w model.ModelWeights
//	err := model.LoadModel(&w, "final.gob")
func LoadModel(model interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrapf(err, "open %s", filename)
	}
	defer file.Close()

	return LoadModelFromReader(model, file)
}

// SaveModelToWriter はモデルをio.Writerに保存する
func SaveModelToWriter(model interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(model); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadModelFromReader はio.Readerからモデルを読み込む
func LoadModelFromReader(model interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(model); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}
