package anndata

import (
	"fmt"

	"gorgonia.org/tensor"
)

// AnnData bundles an expression matrix with its annotations. X and every
// entry of Layers are dense (n_obs, n_vars) float32 matrices; Obsm matrices
// share n_obs rows but carry their own column count.
type AnnData struct {
	X      *tensor.Dense
	Layers map[string]*tensor.Dense
	Obs    *Frame
	Var    *Frame
	Obsm   map[string]*tensor.Dense
	Uns    map[string]string
}

// NewAnnData builds a container around x, validating that the annotation
// frames match its shape. x may be nil when only annotations are carried.
func NewAnnData(x *tensor.Dense, obs, vars *Frame) (*AnnData, error) {
	if x != nil {
		r, c := MatrixDims(x)
		if r != obs.Len() {
			return nil, fmt.Errorf("matrix has %d rows, obs has %d", r, obs.Len())
		}
		if c != vars.Len() {
			return nil, fmt.Errorf("matrix has %d columns, var has %d", c, vars.Len())
		}
	}
	return &AnnData{
		X:      x,
		Layers: make(map[string]*tensor.Dense),
		Obs:    obs,
		Var:    vars,
		Obsm:   make(map[string]*tensor.Dense),
		Uns:    make(map[string]string),
	}, nil
}

// NRows returns the number of observations.
func (a *AnnData) NRows() int { return a.Obs.Len() }

// NVars returns the number of variables.
func (a *AnnData) NVars() int { return a.Var.Len() }

// SubsetVars returns a copy restricted to the variable columns at the given
// positions. X and all layers are subset; obsm matrices pass through.
func (a *AnnData) SubsetVars(cols []int) (*AnnData, error) {
	out, err := NewAnnData(nil, a.Obs, a.Var.SubsetRows(cols))
	if err != nil {
		return nil, err
	}
	if a.X != nil {
		out.X, err = subsetCols(a.X, cols)
		if err != nil {
			return nil, err
		}
	}
	for name, m := range a.Layers {
		out.Layers[name], err = subsetCols(m, cols)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", name, err)
		}
	}
	for name, m := range a.Obsm {
		out.Obsm[name] = m
	}
	for k, v := range a.Uns {
		out.Uns[k] = v
	}
	return out, nil
}

// SubsetObs returns a copy restricted to the observation rows at the given
// positions.
func (a *AnnData) SubsetObs(rows []int) (*AnnData, error) {
	out, err := NewAnnData(nil, a.Obs.SubsetRows(rows), a.Var)
	if err != nil {
		return nil, err
	}
	if a.X != nil {
		out.X, err = subsetRows(a.X, rows)
		if err != nil {
			return nil, err
		}
	}
	for name, m := range a.Layers {
		out.Layers[name], err = subsetRows(m, rows)
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", name, err)
		}
	}
	for name, m := range a.Obsm {
		out.Obsm[name], err = subsetRows(m, rows)
		if err != nil {
			return nil, fmt.Errorf("obsm %s: %w", name, err)
		}
	}
	for k, v := range a.Uns {
		out.Uns[k] = v
	}
	return out, nil
}

// NewMatrix wraps a flat row-major float32 slice as a dense (rows, cols)
// matrix. The slice is used as backing storage, not copied.
func NewMatrix(rows, cols int, data []float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))
}

// MatrixData returns the flat row-major backing slice of a dense matrix.
func MatrixData(m *tensor.Dense) []float32 {
	return m.Data().([]float32)
}

// MatrixDims returns the (rows, cols) shape of a dense matrix.
func MatrixDims(m *tensor.Dense) (int, int) {
	shape := m.Shape()
	return shape[0], shape[1]
}

func subsetCols(m *tensor.Dense, cols []int) (*tensor.Dense, error) {
	rows, nc := MatrixDims(m)
	src := MatrixData(m)
	dst := make([]float32, rows*len(cols))
	for _, c := range cols {
		if c < 0 || c >= nc {
			return nil, fmt.Errorf("column %d out of range [0, %d)", c, nc)
		}
	}
	for r := 0; r < rows; r++ {
		row := src[r*nc:]
		for i, c := range cols {
			dst[r*len(cols)+i] = row[c]
		}
	}
	return NewMatrix(rows, len(cols), dst), nil
}

func subsetRows(m *tensor.Dense, rows []int) (*tensor.Dense, error) {
	nr, cols := MatrixDims(m)
	src := MatrixData(m)
	dst := make([]float32, len(rows)*cols)
	for i, r := range rows {
		if r < 0 || r >= nr {
			return nil, fmt.Errorf("row %d out of range [0, %d)", r, nr)
		}
		copy(dst[i*cols:(i+1)*cols], src[r*cols:(r+1)*cols])
	}
	return NewMatrix(len(rows), cols, dst), nil
}
