package scgpt

import (
	"fmt"
	"math"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/dlclark/regexp2"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/scembed/scembed/pkg/anndata"
)

// Layer keys produced by the preprocessor.
const (
	LayerNormed = "X_normed"
	LayerLog1p  = "X_log1p"
	LayerBinned = "X_binned"
)

// Preprocessor runs the count matrix through gene filtering, library-size
// normalization, log1p, highly-variable-gene selection and value binning.
// Zero-valued settings disable the corresponding step.
type Preprocessor struct {
	// FilterGeneByCounts drops genes whose total count across cells is
	// below this many.
	FilterGeneByCounts float32
	// ExcludeGenePattern drops genes whose name matches this pattern,
	// e.g. mitochondrial prefixes.
	ExcludeGenePattern string
	// NormalizeTotal scales each cell to this total count.
	NormalizeTotal float32
	// Log1p applies log(1+x) after normalization.
	Log1p bool
	// SubsetHVG keeps only the top n highly variable genes.
	SubsetHVG int
	// Binning digitizes each cell's values into this many bins.
	Binning int
}

// NewPreprocessor returns the settings the fine-tuning pipeline uses.
func NewPreprocessor(nHVG, nBins int) *Preprocessor {
	return &Preprocessor{
		FilterGeneByCounts: 3,
		NormalizeTotal:     1e4,
		Log1p:              true,
		SubsetHVG:          nHVG,
		Binning:            nBins,
	}
}

// Process applies the configured steps in order and returns the resulting
// container. X must hold raw counts; the normalized, log-transformed and
// binned matrices land in the layers under LayerNormed, LayerLog1p and
// LayerBinned.
func (p *Preprocessor) Process(a *anndata.AnnData) (*anndata.AnnData, error) {
	if a.X == nil {
		return nil, fmt.Errorf("preprocess: no count matrix")
	}

	if p.FilterGeneByCounts > 0 || p.ExcludeGenePattern != "" {
		var err error
		a, err = p.filterGenes(a)
		if err != nil {
			return nil, err
		}
	}

	rows, cols := anndata.MatrixDims(a.X)
	counts := anndata.MatrixData(a.X)

	normed := make([]float32, len(counts))
	copy(normed, counts)
	if p.NormalizeTotal > 0 {
		normalizeTotal(normed, rows, cols, p.NormalizeTotal)
	}
	a.Layers[LayerNormed] = anndata.NewMatrix(rows, cols, normed)

	logged := normed
	if p.Log1p {
		logged = make([]float32, len(normed))
		for i, v := range normed {
			logged[i] = float32(math.Log1p(float64(v)))
		}
		a.Layers[LayerLog1p] = anndata.NewMatrix(rows, cols, logged)
	}

	if p.SubsetHVG > 0 && p.SubsetHVG < cols {
		keep, err := highlyVariableGenes(counts, rows, cols, p.SubsetHVG)
		if err != nil {
			return nil, err
		}
		a, err = a.SubsetVars(keep)
		if err != nil {
			return nil, err
		}
		rows, cols = anndata.MatrixDims(a.X)
		// The log1p layer only exists when Log1p ran; fall back to the
		// normalized layer, which Process always writes.
		if m := a.Layers[LayerLog1p]; m != nil {
			logged = anndata.MatrixData(m)
		} else {
			logged = anndata.MatrixData(a.Layers[LayerNormed])
		}
		log.Info("selected highly variable genes", "kept", cols)
	}

	if p.Binning > 1 {
		binned := binValues(logged, rows, cols, p.Binning)
		a.Layers[LayerBinned] = anndata.NewMatrix(rows, cols, binned)
	}
	return a, nil
}

// filterGenes drops low-count and pattern-excluded genes.
func (p *Preprocessor) filterGenes(a *anndata.AnnData) (*anndata.AnnData, error) {
	rows, cols := anndata.MatrixDims(a.X)
	x := anndata.MatrixData(a.X)
	names := a.Var.Index()

	var exclude *regexp2.Regexp
	if p.ExcludeGenePattern != "" {
		var err error
		exclude, err = regexp2.Compile(p.ExcludeGenePattern, regexp2.IgnoreCase)
		if err != nil {
			return nil, fmt.Errorf("gene exclusion pattern: %w", err)
		}
	}

	totals := make([]float32, cols)
	for r := 0; r < rows; r++ {
		row := x[r*cols:]
		for c := 0; c < cols; c++ {
			totals[c] += row[c]
		}
	}

	var keep []int
	for c := 0; c < cols; c++ {
		if totals[c] < p.FilterGeneByCounts {
			continue
		}
		if exclude != nil {
			if matched, err := exclude.MatchString(names[c]); err != nil {
				return nil, err
			} else if matched {
				continue
			}
		}
		keep = append(keep, c)
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("gene filtering removed every gene")
	}
	if len(keep) < cols {
		log.Info("filtered genes", "before", cols, "after", len(keep))
		return a.SubsetVars(keep)
	}
	return a, nil
}

// normalizeTotal scales each row to sum to target. All-zero rows stay zero.
func normalizeTotal(x []float32, rows, cols int, target float32) {
	for r := 0; r < rows; r++ {
		row := x[r*cols : (r+1)*cols]
		var sum float32
		for _, v := range row {
			sum += v
		}
		if sum == 0 {
			continue
		}
		scale := target / sum
		for i := range row {
			row[i] *= scale
		}
	}
}

// highlyVariableGenes ranks genes by variance standardized against the
// mean-variance trend of the raw counts and returns the indices of the top
// n, in their original column order. The trend is a quadratic fit of
// log10 variance on log10 mean over genes with nonzero variance.
func highlyVariableGenes(counts []float32, rows, cols, n int) ([]int, error) {
	means := make([]float64, cols)
	vars := make([]float64, cols)
	col := make([]float64, rows)
	for c := 0; c < cols; c++ {
		for r := 0; r < rows; r++ {
			col[r] = float64(counts[r*cols+c])
		}
		means[c] = stat.Mean(col, nil)
		vars[c] = stat.Variance(col, nil)
	}

	var logMean, logVar []float64
	var fitIdx []int
	for c := 0; c < cols; c++ {
		if means[c] > 0 && vars[c] > 0 {
			logMean = append(logMean, math.Log10(means[c]))
			logVar = append(logVar, math.Log10(vars[c]))
			fitIdx = append(fitIdx, c)
		}
	}
	if len(fitIdx) < n {
		return nil, fmt.Errorf("only %d genes with nonzero variance, need %d", len(fitIdx), n)
	}

	coef, err := polyfit2(logMean, logVar)
	if err != nil {
		return nil, fmt.Errorf("fitting variance trend: %w", err)
	}

	// Standardized variance per gene, clipped at sqrt(N) against outlier
	// cells dominating the score.
	clip := math.Sqrt(float64(rows))
	scores := make([]float64, len(fitIdx))
	for i, c := range fitIdx {
		lm := math.Log10(means[c])
		expected := math.Pow(10, coef[0]+coef[1]*lm+coef[2]*lm*lm)
		sd := math.Sqrt(expected)
		if sd == 0 {
			continue
		}
		var sum, sumSq float64
		for r := 0; r < rows; r++ {
			z := (float64(counts[r*cols+c]) - means[c]) / sd
			if z > clip {
				z = clip
			} else if z < -clip {
				z = -clip
			}
			sum += z
			sumSq += z * z
		}
		nf := float64(rows)
		scores[i] = (sumSq - sum*sum/nf) / (nf - 1)
	}

	order := make([]int, len(fitIdx))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })

	keep := make([]int, n)
	for i := 0; i < n; i++ {
		keep[i] = fitIdx[order[i]]
	}
	sort.Ints(keep)
	return keep, nil
}

// polyfit2 least-squares fits y = c0 + c1*x + c2*x^2.
func polyfit2(x, y []float64) ([3]float64, error) {
	var coef [3]float64
	a := mat.NewDense(len(x), 3, nil)
	for i, v := range x {
		a.Set(i, 0, 1)
		a.Set(i, 1, v)
		a.Set(i, 2, v*v)
	}
	b := mat.NewVecDense(len(y), y)
	var qr mat.QR
	qr.Factorize(a)
	var sol mat.VecDense
	if err := qr.SolveVecTo(&sol, false, b); err != nil {
		return coef, err
	}
	coef[0], coef[1], coef[2] = sol.AtVec(0), sol.AtVec(1), sol.AtVec(2)
	return coef, nil
}

// binValues digitizes each cell's nonzero values into nBins-1 quantile bins,
// leaving zeros in bin 0. Bin ids range over [0, nBins).
func binValues(x []float32, rows, cols, nBins int) []float32 {
	out := make([]float32, rows*cols)
	nonzero := make([]float64, 0, cols)
	edges := make([]float64, nBins-1)
	for r := 0; r < rows; r++ {
		row := x[r*cols : (r+1)*cols]
		nonzero = nonzero[:0]
		for _, v := range row {
			if v > 0 {
				nonzero = append(nonzero, float64(v))
			}
		}
		if len(nonzero) == 0 {
			continue
		}
		sort.Float64s(nonzero)
		for i := range edges {
			q := float64(i) / float64(nBins-2)
			edges[i] = stat.Quantile(q, stat.Empirical, nonzero, nil)
		}
		for c, v := range row {
			if v <= 0 {
				continue
			}
			out[r*cols+c] = float32(digitize(float64(v), edges))
		}
	}
	return out
}

// digitize returns the 1-based bin for v given ascending edges, so values at
// or below the first edge land in bin 1 and values above the last edge in
// bin len(edges).
func digitize(v float64, edges []float64) int {
	lo := sort.SearchFloat64s(edges, v)
	if lo >= len(edges) {
		return len(edges)
	}
	return lo + 1
}
