package scgpt

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTrip(t *testing.T) {
	model, err := NewTransformerModel(tinyModelConfig(), 42)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "best_model.bin")
	meta := CheckpointMeta{Epoch: 7, ValLoss: 0.25, CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	require.NoError(t, SaveCheckpoint(model, path, meta))

	loaded, err := NewTransformerModel(tinyModelConfig(), 1)
	require.NoError(t, err)
	assert.NotEqual(t, model.Params.Memory, loaded.Params.Memory, "different seeds differ")

	gotMeta, err := LoadCheckpoint(loaded, path)
	require.NoError(t, err)
	assert.Equal(t, model.Params.Memory, loaded.Params.Memory)
	require.NotNil(t, gotMeta)
	assert.Equal(t, 7, gotMeta.Epoch)
	assert.InDelta(t, 0.25, gotMeta.ValLoss, 1e-6)
}

func TestCheckpointToleratesShapeMismatch(t *testing.T) {
	model, err := NewTransformerModel(tinyModelConfig(), 42)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "best_model.bin")
	require.NoError(t, SaveCheckpoint(model, path, CheckpointMeta{}))

	// A model with a larger vocabulary: the gene embedding no longer
	// matches, everything else still loads.
	cfg := tinyModelConfig()
	cfg.VocabSize = 32
	bigger, err := NewTransformerModel(cfg, 1)
	require.NoError(t, err)
	before := bigger.Snapshot()

	_, err = LoadCheckpoint(bigger, path)
	require.NoError(t, err)

	geneEmbedLen := cfg.VocabSize * cfg.EmbSize
	assert.Equal(t, before[:geneEmbedLen], bigger.Params.Memory[:geneEmbedLen],
		"mismatched tensor is skipped")
	assert.Equal(t, model.Params.Memory[model.Config.VocabSize*cfg.EmbSize:],
		bigger.Params.Memory[geneEmbedLen:], "matching tensors are loaded")
}

func TestLoadCheckpointRejectsGarbage(t *testing.T) {
	model, err := NewTransformerModel(tinyModelConfig(), 1)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "junk.bin")
	require.NoError(t, os.WriteFile(path, []byte("not a checkpoint at all"), 0o644))
	_, err = LoadCheckpoint(model, path)
	assert.Error(t, err)
}
