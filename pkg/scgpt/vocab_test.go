package scgpt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeVocabFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocab.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadVocab(t *testing.T) {
	path := writeVocabFile(t, `{"<pad>": 0, "TP53": 1, "BRCA1": 2}`)
	v, err := LoadVocab(path)
	require.NoError(t, err)

	assert.Equal(t, 3, v.Len())
	assert.True(t, v.Contains("TP53"))
	assert.False(t, v.Contains("MYC"))
	assert.Equal(t, int32(2), v.ID("BRCA1"))
	assert.Equal(t, []string{"<pad>", "TP53", "BRCA1"}, v.Tokens())
}

func TestVocabDefaultIndex(t *testing.T) {
	path := writeVocabFile(t, `{"<pad>": 0, "TP53": 1}`)
	v, err := LoadVocab(path)
	require.NoError(t, err)

	assert.Equal(t, int32(-1), v.ID("MYC"), "no default set")
	v.SetDefaultIndex(v.ID(PadToken))
	assert.Equal(t, int32(0), v.ID("MYC"))
}

func TestVocabAddToken(t *testing.T) {
	path := writeVocabFile(t, `{"TP53": 0}`)
	v, err := LoadVocab(path)
	require.NoError(t, err)

	id := v.AddToken(ClsToken)
	assert.Equal(t, int32(1), id)
	assert.Equal(t, id, v.AddToken(ClsToken), "re-adding returns the same id")
	assert.Equal(t, 2, v.Len())
}

func TestVocabSaveRoundTrip(t *testing.T) {
	path := writeVocabFile(t, `{"<pad>": 0, "TP53": 1}`)
	v, err := LoadVocab(path)
	require.NoError(t, err)
	v.AddToken("MYC")

	out := filepath.Join(t.TempDir(), "vocab.json")
	require.NoError(t, v.Save(out))
	loaded, err := LoadVocab(out)
	require.NoError(t, err)
	assert.Equal(t, v.Tokens(), loaded.Tokens())
	assert.Equal(t, int32(2), loaded.ID("MYC"))
}

func TestLoadVocabSparseIDs(t *testing.T) {
	path := writeVocabFile(t, `{"<pad>": 0, "TP53": 5}`)
	v, err := LoadVocab(path)
	require.NoError(t, err)
	assert.Equal(t, 6, v.Len(), "embedding table must cover the highest id")
}
