package scgpt

import "fmt"

// TokenizedData holds the tokenized form of an expression matrix: per cell
// a fixed-length sequence of gene token ids and their binned expression
// values, flattened row-major over (N, T).
type TokenizedData struct {
	Genes  []int32
	Values []float32
	N      int
	T      int
}

// TokenizeAndPad turns a binned expression matrix (nRows x nCols, row-major)
// into fixed-length token sequences. geneIDs maps column index to vocabulary
// id. With appendCls a <cls> token with value zero is prepended; that
// position later carries the cell embedding. With includeZero zero-valued
// genes are kept, otherwise only expressed genes are tokenized. Sequences
// longer than maxLen are truncated, shorter ones padded with the pad token
// and the pad value.
func TokenizeAndPad(x []float32, nRows, nCols int, geneIDs []int32, maxLen int,
	vocab *GeneVocab, settings ModelSettings, appendCls, includeZero bool) (*TokenizedData, error) {
	if len(geneIDs) != nCols {
		return nil, fmt.Errorf("have %d gene ids for %d columns", len(geneIDs), nCols)
	}
	if maxLen < 1 {
		return nil, fmt.Errorf("max_len must be positive, got %d", maxLen)
	}
	padID := vocab.ID(settings.PadToken)
	clsID := vocab.ID(ClsToken)
	td := &TokenizedData{
		Genes:  make([]int32, nRows*maxLen),
		Values: make([]float32, nRows*maxLen),
		N:      nRows,
		T:      maxLen,
	}
	for row := 0; row < nRows; row++ {
		genes := td.Genes[row*maxLen : (row+1)*maxLen]
		values := td.Values[row*maxLen : (row+1)*maxLen]
		pos := 0
		if appendCls {
			genes[pos] = clsID
			values[pos] = 0
			pos++
		}
		for col := 0; col < nCols && pos < maxLen; col++ {
			v := x[row*nCols+col]
			if !includeZero && v == 0 {
				continue
			}
			genes[pos] = geneIDs[col]
			values[pos] = v
			pos++
		}
		for ; pos < maxLen; pos++ {
			genes[pos] = padID
			values[pos] = PadValue
		}
	}
	return td, nil
}
