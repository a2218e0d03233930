package scgpt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scembed/scembed/pkg/anndata"
)

func countsAnnData(t *testing.T, rows, cols int, counts []float32) *anndata.AnnData {
	t.Helper()
	obsNames := make([]string, rows)
	for i := range obsNames {
		obsNames[i] = "cell" + string(rune('A'+i))
	}
	varNames := make([]string, cols)
	for i := range varNames {
		varNames[i] = "G" + string(rune('0'+i))
	}
	a, err := anndata.NewAnnData(anndata.NewMatrix(rows, cols, counts),
		anndata.NewFrame(obsNames), anndata.NewFrame(varNames))
	require.NoError(t, err)
	return a
}

func TestNormalizeTotal(t *testing.T) {
	x := []float32{1, 3, 0, 0, 2, 2}
	normalizeTotal(x, 3, 2, 100)

	assert.InDelta(t, 25, x[0], 1e-4)
	assert.InDelta(t, 75, x[1], 1e-4)
	assert.Equal(t, float32(0), x[2], "all-zero cells stay zero")
	assert.Equal(t, float32(0), x[3])
	assert.InDelta(t, 50, x[4], 1e-4)
}

func TestProcessLayersAndFiltering(t *testing.T) {
	// gene 0 has total 2 (< 3, filtered out), genes 1..3 survive
	counts := []float32{
		1, 5, 0, 2,
		0, 3, 4, 1,
		1, 2, 1, 3,
	}
	a := countsAnnData(t, 3, 4, counts)

	p := &Preprocessor{
		FilterGeneByCounts: 3,
		NormalizeTotal:     1e4,
		Log1p:              true,
		Binning:            5,
	}
	out, err := p.Process(a)
	require.NoError(t, err)

	assert.Equal(t, 3, out.NVars())
	assert.Equal(t, []string{"G1", "G2", "G3"}, out.Var.Index())

	normed := anndata.MatrixData(out.Layers[LayerNormed])
	for r := 0; r < 3; r++ {
		var sum float32
		for c := 0; c < 3; c++ {
			sum += normed[r*3+c]
		}
		assert.InDelta(t, 1e4, sum, 1, "row %d should be library-size normalized", r)
	}

	require.Contains(t, out.Layers, LayerLog1p)
	binned := anndata.MatrixData(out.Layers[LayerBinned])
	for i, v := range binned {
		assert.GreaterOrEqual(t, v, float32(0), "bin %d", i)
		assert.Less(t, v, float32(5), "bin %d", i)
		assert.Equal(t, v, float32(int32(v)), "bins are integral")
	}
}

func TestProcessExcludeGenePattern(t *testing.T) {
	counts := []float32{
		5, 5, 5,
		5, 5, 5,
	}
	a := countsAnnData(t, 2, 3, counts)
	require.NoError(t, a.Var.SetIndex([]string{"MT-CO1", "TP53", "MT-ND1"}))

	p := &Preprocessor{ExcludeGenePattern: `^MT-`}
	out, err := p.Process(a)
	require.NoError(t, err)
	assert.Equal(t, []string{"TP53"}, out.Var.Index())
}

func TestProcessRejectsEmptyResult(t *testing.T) {
	a := countsAnnData(t, 2, 2, []float32{0, 0, 1, 0})
	p := &Preprocessor{FilterGeneByCounts: 10}
	_, err := p.Process(a)
	assert.Error(t, err)
}

func TestProcessWithoutLog1p(t *testing.T) {
	rows, cols := 50, 6
	counts := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			switch c {
			case 0, 3:
				counts[r*cols+c] = float32((r%2)*100 + 1)
			case 1:
				counts[r*cols+c] = 10 + float32(r%3)
			case 2:
				counts[r*cols+c] = 20 + float32(r%5)
			case 4:
				counts[r*cols+c] = 5 + float32(r%2)
			case 5:
				counts[r*cols+c] = 40 + float32(r%7)
			}
		}
	}
	a := countsAnnData(t, rows, cols, counts)

	// Log1p off with HVG selection on: binning falls back to the
	// normalized layer instead of the missing log1p one.
	p := &Preprocessor{NormalizeTotal: 1e4, Log1p: false, SubsetHVG: 2, Binning: 5}
	out, err := p.Process(a)
	require.NoError(t, err)
	assert.Equal(t, 2, out.NVars())
	assert.Nil(t, out.Layers[LayerLog1p])
	require.NotNil(t, out.Layers[LayerBinned])
	binned := anndata.MatrixData(out.Layers[LayerBinned])
	assert.Len(t, binned, rows*2)
	for _, v := range binned {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.Less(t, v, float32(5))
	}
}

func TestHighlyVariableGenes(t *testing.T) {
	rows, cols := 50, 6
	counts := make([]float32, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			// columns 0 and 3 are bimodal with huge variance for their
			// mean, the rest sit on a tight mean-variance trend
			switch c {
			case 0, 3:
				counts[r*cols+c] = float32((r % 2) * 100)
			case 1:
				counts[r*cols+c] = 10 + float32(r%3)
			case 2:
				counts[r*cols+c] = 20 + float32(r%5)
			case 4:
				counts[r*cols+c] = 5 + float32(r%2)
			case 5:
				counts[r*cols+c] = 40 + float32(r%7)
			}
		}
	}

	keep, err := highlyVariableGenes(counts, rows, cols, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, keep)
}

func TestBinValuesZerosStayZero(t *testing.T) {
	x := []float32{0, 1, 2, 3, 4, 0, 0, 10}
	binned := binValues(x, 2, 4, 4)
	assert.Equal(t, float32(0), binned[0])
	assert.Equal(t, float32(0), binned[4])
	assert.Equal(t, float32(0), binned[5])
	// within a row, larger values never get a smaller bin
	assert.LessOrEqual(t, binned[1], binned[2])
	assert.LessOrEqual(t, binned[2], binned[3])
	assert.Greater(t, binned[7], float32(0))
}

func TestDigitize(t *testing.T) {
	edges := []float64{1, 2, 3}
	assert.Equal(t, 1, digitize(0.5, edges))
	assert.Equal(t, 1, digitize(1, edges))
	assert.Equal(t, 2, digitize(1.5, edges))
	assert.Equal(t, 3, digitize(3, edges))
	assert.Equal(t, 3, digitize(99, edges))
}
