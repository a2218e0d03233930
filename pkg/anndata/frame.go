// Package anndata provides the annotated expression matrix container the
// pipeline reads and writes: a float32 matrix with named layers, obs/var
// annotation frames, obsm matrices and unstructured string metadata, plus a
// gzip-compressed binary file format.
package anndata

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Frame is a small column-oriented annotation table: an index of row names
// plus string and numeric columns in insertion order.
type Frame struct {
	index   []string
	order   []string
	strCols map[string][]string
	numCols map[string][]float64
}

// NewFrame creates a frame over the given row names.
func NewFrame(index []string) *Frame {
	return &Frame{
		index:   index,
		strCols: make(map[string][]string),
		numCols: make(map[string][]float64),
	}
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.index) }

// Index returns the row names.
func (f *Frame) Index() []string { return f.index }

// SetIndex replaces the row names.
func (f *Frame) SetIndex(index []string) error {
	if len(index) != len(f.index) {
		return fmt.Errorf("index has %d entries, frame has %d rows", len(index), len(f.index))
	}
	f.index = index
	return nil
}

// Columns returns the column names in insertion order.
func (f *Frame) Columns() []string { return f.order }

// HasColumn reports whether name exists as a column.
func (f *Frame) HasColumn(name string) bool {
	_, s := f.strCols[name]
	_, n := f.numCols[name]
	return s || n
}

// SetStr sets a string column.
func (f *Frame) SetStr(name string, values []string) error {
	if len(values) != len(f.index) {
		return fmt.Errorf("column %s has %d values, frame has %d rows", name, len(values), len(f.index))
	}
	if !f.HasColumn(name) {
		f.order = append(f.order, name)
	}
	delete(f.numCols, name)
	f.strCols[name] = values
	return nil
}

// Str returns a string column.
func (f *Frame) Str(name string) ([]string, bool) {
	v, ok := f.strCols[name]
	return v, ok
}

// SetNum sets a numeric column.
func (f *Frame) SetNum(name string, values []float64) error {
	if len(values) != len(f.index) {
		return fmt.Errorf("column %s has %d values, frame has %d rows", name, len(values), len(f.index))
	}
	if !f.HasColumn(name) {
		f.order = append(f.order, name)
	}
	delete(f.strCols, name)
	f.numCols[name] = values
	return nil
}

// Num returns a numeric column.
func (f *Frame) Num(name string) ([]float64, bool) {
	v, ok := f.numCols[name]
	return v, ok
}

// Codes factorizes a string column: it returns one integer code per row and
// the sorted category values, code i referring to categories[i].
func (f *Frame) Codes(name string) ([]int32, []string, error) {
	values, ok := f.strCols[name]
	if !ok {
		return nil, nil, fmt.Errorf("no string column %q", name)
	}
	seen := make(map[string]bool)
	var categories []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			categories = append(categories, v)
		}
	}
	sort.Strings(categories)
	lookup := make(map[string]int32, len(categories))
	for i, c := range categories {
		lookup[c] = int32(i)
	}
	codes := make([]int32, len(values))
	for i, v := range values {
		codes[i] = lookup[v]
	}
	return codes, categories, nil
}

// SubsetRows returns a new frame with only the rows at the given positions,
// in the given order.
func (f *Frame) SubsetRows(rows []int) *Frame {
	out := NewFrame(make([]string, len(rows)))
	for i, r := range rows {
		out.index[i] = f.index[r]
	}
	for _, name := range f.order {
		if col, ok := f.strCols[name]; ok {
			sub := make([]string, len(rows))
			for i, r := range rows {
				sub[i] = col[r]
			}
			out.strCols[name] = sub
			out.order = append(out.order, name)
		} else if col, ok := f.numCols[name]; ok {
			sub := make([]float64, len(rows))
			for i, r := range rows {
				sub[i] = col[r]
			}
			out.numCols[name] = sub
			out.order = append(out.order, name)
		}
	}
	return out
}

// Select returns a new frame keeping only the named columns. Select with no
// arguments keeps just the index, the shape the output container uses.
func (f *Frame) Select(names ...string) *Frame {
	out := NewFrame(f.index)
	for _, name := range names {
		if col, ok := f.strCols[name]; ok {
			out.strCols[name] = col
			out.order = append(out.order, name)
		} else if col, ok := f.numCols[name]; ok {
			out.numCols[name] = col
			out.order = append(out.order, name)
		}
	}
	return out
}

// frameJSON is the serialized form of a Frame.
type frameJSON struct {
	Index   []string             `json:"index"`
	Order   []string             `json:"order"`
	StrCols map[string][]string  `json:"str_cols,omitempty"`
	NumCols map[string][]float64 `json:"num_cols,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (f *Frame) MarshalJSON() ([]byte, error) {
	return json.Marshal(frameJSON{
		Index:   f.index,
		Order:   f.order,
		StrCols: f.strCols,
		NumCols: f.numCols,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var raw frameJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.index = raw.Index
	f.order = raw.Order
	f.strCols = raw.StrCols
	f.numCols = raw.NumCols
	if f.strCols == nil {
		f.strCols = make(map[string][]string)
	}
	if f.numCols == nil {
		f.numCols = make(map[string][]float64)
	}
	return nil
}
