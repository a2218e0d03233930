package anndata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundTrip(t *testing.T) {
	a := sampleAnnData(t)
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, Write(a, path))

	got, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, a.Obs.Index(), got.Obs.Index())
	batch, ok := got.Obs.Str("batch")
	require.True(t, ok)
	assert.Equal(t, []string{"x", "y", "x"}, batch)
	assert.Equal(t, a.Var.Index(), got.Var.Index())
	assert.Equal(t, MatrixData(a.X), MatrixData(got.X))
	assert.Equal(t, MatrixData(a.Layers["counts"]), MatrixData(got.Layers["counts"]))
	r, c := MatrixDims(got.Obsm["X_emb"])
	assert.Equal(t, 3, r)
	assert.Equal(t, 4, c)
	assert.Equal(t, "ds1", got.Uns["dataset_id"])
}

func TestReadXFromLayer(t *testing.T) {
	a := sampleAnnData(t)
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, Write(a, path))

	got, err := Read(path, WithXFromLayer("counts"))
	require.NoError(t, err)
	assert.Equal(t, []float32{10, 20, 30, 40, 50, 60}, MatrixData(got.X),
		"the named layer becomes X")
	assert.NotContains(t, got.Layers, "counts")
	assert.Contains(t, got.Obsm, "X_emb", "later matrices still load after skipping X")
}

func TestReadXFromMissingLayer(t *testing.T) {
	a := sampleAnnData(t)
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, Write(a, path))

	_, err := Read(path, WithXFromLayer("nope"))
	assert.Error(t, err)
}

func TestReadWithoutObsm(t *testing.T) {
	a := sampleAnnData(t)
	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, Write(a, path))

	got, err := Read(path, WithoutObsm())
	require.NoError(t, err)
	assert.Empty(t, got.Obsm)
	assert.Equal(t, MatrixData(a.X), MatrixData(got.X))
}

func TestWriteWithoutX(t *testing.T) {
	obs := NewFrame([]string{"c0", "c1"})
	vars := NewFrame([]string{"g0"})
	a, err := NewAnnData(nil, obs, vars)
	require.NoError(t, err)
	a.Obsm["X_emb"] = NewMatrix(2, 3, []float32{1, 2, 3, 4, 5, 6})

	path := filepath.Join(t.TempDir(), "emb.bin")
	require.NoError(t, Write(a, path))
	got, err := Read(path)
	require.NoError(t, err)
	assert.Nil(t, got.X)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, MatrixData(got.Obsm["X_emb"]))
}

func TestReadRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.bin")
	require.NoError(t, os.WriteFile(path, []byte("definitely not the format"), 0o644))
	_, err := Read(path)
	assert.Error(t, err)
}
