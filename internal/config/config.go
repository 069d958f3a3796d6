// Package config holds per-submodel hyperparameters and precision flags.
// A Model is constructed before graph assembly and read-only afterwards.
package config

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Flags are the precision/behavior switches applied uniformly to every
// submodel of an ensemble build.
type Flags struct {
	FP16          bool
	Int8          bool
	Strict        bool
	FC2Gemm       bool
	Int8SkipLN    bool
	Int8MultiHead bool
	QAT           bool
}

// Model is one submodel's configuration.
type Model struct {
	NumAttentionHeads int
	HiddenSize        int
	IntermediateSize  int
	NumHiddenLayers   int

	UseFP16          bool
	UseInt8          bool
	UseStrict        bool
	UseFC2Gemm       bool
	UseInt8SkipLN    bool
	UseInt8MultiHead bool
	UseQAT           bool

	// CalibMode marks the nested fp32 calibration build. It is only ever
	// set on the isolated clone produced by ForCalibration.
	CalibMode bool
}

type modelJSON struct {
	NumAttentionHeads int `json:"num_attention_heads"`
	HiddenSize        int `json:"hidden_size"`
	IntermediateSize  int `json:"intermediate_size"`
	NumHiddenLayers   int `json:"num_hidden_layers"`
}

type ensembleJSON struct {
	ConfigList []modelJSON `json:"config_list"`
}

// LoadEnsemble parses an ensemble config document, one entry per submodel,
// and applies the shared precision flags to each.
func LoadEnsemble(data []byte, flags Flags) ([]*Model, error) {
	var doc ensembleJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse ensemble config: %w", err)
	}
	if len(doc.ConfigList) == 0 {
		return nil, fmt.Errorf("ensemble config: empty config_list")
	}

	models := make([]*Model, 0, len(doc.ConfigList))
	for i, mj := range doc.ConfigList {
		m := &Model{
			NumAttentionHeads: mj.NumAttentionHeads,
			HiddenSize:        mj.HiddenSize,
			IntermediateSize:  mj.IntermediateSize,
			NumHiddenLayers:   mj.NumHiddenLayers,

			UseFP16:          flags.FP16,
			UseInt8:          flags.Int8,
			UseStrict:        flags.Strict,
			UseFC2Gemm:       flags.FC2Gemm,
			UseInt8SkipLN:    flags.Int8SkipLN,
			UseInt8MultiHead: flags.Int8MultiHead,
			UseQAT:           flags.QAT,
		}
		if err := m.check(); err != nil {
			return nil, fmt.Errorf("submodel %d: %w", i, err)
		}
		models = append(models, m)
	}
	return models, nil
}

func (m *Model) check() error {
	if m.NumAttentionHeads <= 0 {
		return fmt.Errorf("num_attention_heads must be set")
	}
	if m.HiddenSize <= 0 {
		return fmt.Errorf("hidden_size must be set")
	}
	if m.IntermediateSize <= 0 {
		return fmt.Errorf("intermediate_size must be set")
	}
	if m.NumHiddenLayers <= 0 {
		return fmt.Errorf("num_hidden_layers must be set")
	}
	return nil
}

// HeadSize returns hidden_size / num_attention_heads. Divisibility is
// enforced by the builder before any graph node exists.
func (m *Model) HeadSize() int {
	return m.HiddenSize / m.NumAttentionHeads
}

// ForCalibration returns an isolated copy configured for the nested fp32
// calibration build: fp16 off, calibration mode on. The receiver is not
// touched, so the main build never observes calibration flags.
func (m *Model) ForCalibration() *Model {
	clone := *m
	clone.UseFP16 = false
	clone.CalibMode = true
	return &clone
}
