package scgpt

import (
	"encoding/json"
	"fmt"
	"os"
)

// Sentinel expression values used in tokenized batches before they are
// mapped to value-embedding rows.
const (
	MaskValue float32 = -1
	PadValue  float32 = -2
)

// Value-embedding row layout: row 0 is padding, row 1 is the mask token,
// bins start at row 2.
const (
	PadValueID  int32 = 0
	MaskValueID int32 = 1
	BinOffset   int32 = 2
)

// PretrainedConfig is the architecture description shipped alongside the
// pretrained weights as args.json.
type PretrainedConfig struct {
	EmbSize    int `json:"embsize"`
	NHeads     int `json:"nheads"`
	DHid       int `json:"d_hid"`
	NLayers    int `json:"nlayers"`
	NLayersCls int `json:"n_layers_cls"`
}

// LoadPretrainedConfig reads and validates an args.json file.
func LoadPretrainedConfig(path string) (*PretrainedConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model config: %w", err)
	}
	var cfg PretrainedConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing model config %s: %w", path, err)
	}
	if cfg.EmbSize <= 0 || cfg.NHeads <= 0 || cfg.NLayers <= 0 || cfg.DHid <= 0 {
		return nil, fmt.Errorf("model config %s: non-positive dimensions", path)
	}
	if cfg.EmbSize%cfg.NHeads != 0 {
		return nil, fmt.Errorf("model config %s: embsize %d not divisible by nheads %d",
			path, cfg.EmbSize, cfg.NHeads)
	}
	return &cfg, nil
}

// Save writes the config back out as args.json.
func (c *PretrainedConfig) Save(path string) error {
	raw, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// ModelSettings are the fixed input and preprocessing settings of the
// pretrained model family.
type ModelSettings struct {
	PadToken          string
	SpecialTokens     []string
	NInputBins        int
	NHVG              int
	MaxSeqLen         int
	PerSeqBatchSample bool
	DSBN              bool
}

// DefaultModelSettings returns the settings the pretrained checkpoints were
// produced with; only the highly-variable-gene count is caller-chosen.
func DefaultModelSettings(nHVG int) ModelSettings {
	return ModelSettings{
		PadToken:          PadToken,
		SpecialTokens:     SpecialTokens,
		NInputBins:        51,
		NHVG:              nHVG,
		MaxSeqLen:         nHVG + 1, // +1 for the <cls> token
		PerSeqBatchSample: true,
		DSBN:              true,
	}
}

// Hyperparameters is the fixed fine-tuning hyperparameter table.
type Hyperparameters struct {
	GEPC          bool    // gene expression modelling for cell objective
	ECSThreshold  float32 // elastic cell similarity threshold, 0 disables
	DabWeight     float32 // domain adversarial (batch) objective weight
	MaskRatio     float32
	Epochs        int
	LR            float32
	BatchSize     int
	Dropout       float32
	ScheduleRatio float32 // learning rate decay per epoch
	LogInterval   int
}

// DefaultHyperparameters returns the fine-tuning defaults.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		GEPC:          true,
		ECSThreshold:  0.8,
		DabWeight:     1.0,
		MaskRatio:     0.4,
		Epochs:        15,
		LR:            1e-4,
		BatchSize:     64,
		Dropout:       0.2,
		ScheduleRatio: 0.9,
		LogInterval:   100,
	}
}
