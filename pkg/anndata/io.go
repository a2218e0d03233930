package anndata

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"gorgonia.org/tensor"
)

const (
	fileMagic   int32 = 20240901
	fileVersion int32 = 1
)

// matrixMeta records the shape of one serialized matrix. Payloads follow the
// header in manifest order: X first when present, then layers, then obsm.
type matrixMeta struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`
	Cols int    `json:"cols"`
}

type fileHeader struct {
	Obs    *Frame            `json:"obs"`
	Var    *Frame            `json:"var"`
	Uns    map[string]string `json:"uns"`
	HasX   bool              `json:"has_x"`
	X      matrixMeta        `json:"x,omitempty"`
	Layers []matrixMeta      `json:"layers,omitempty"`
	Obsm   []matrixMeta      `json:"obsm,omitempty"`
}

// readConfig controls which parts of a file Read loads.
type readConfig struct {
	xFromLayer string
	skipObsm   bool
}

// ReadOption customizes Read.
type ReadOption func(*readConfig)

// WithXFromLayer makes Read use the named layer as X, dropping the file's
// own X matrix and the layer entry.
func WithXFromLayer(name string) ReadOption {
	return func(c *readConfig) { c.xFromLayer = name }
}

// WithoutObsm makes Read skip obsm matrices.
func WithoutObsm() ReadOption {
	return func(c *readConfig) { c.skipObsm = true }
}

// Write serializes the container to path. The payload is gzip-compressed
// behind an uncompressed magic and version prefix.
func Write(a *AnnData, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := binary.Write(w, binary.LittleEndian, fileMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, fileVersion); err != nil {
		return err
	}

	zw := gzip.NewWriter(w)
	header := fileHeader{Obs: a.Obs, Var: a.Var, Uns: a.Uns}

	var matrices []matrixView
	if a.X != nil {
		r, c := MatrixDims(a.X)
		header.HasX = true
		header.X = matrixMeta{Name: "X", Rows: r, Cols: c}
		matrices = append(matrices, matrixView{meta: header.X, data: MatrixData(a.X)})
	}
	for _, name := range sortedKeys(a.Layers) {
		m := a.Layers[name]
		r, c := MatrixDims(m)
		meta := matrixMeta{Name: name, Rows: r, Cols: c}
		header.Layers = append(header.Layers, meta)
		matrices = append(matrices, matrixView{meta: meta, data: MatrixData(m)})
	}
	for _, name := range sortedKeys(a.Obsm) {
		m := a.Obsm[name]
		r, c := MatrixDims(m)
		meta := matrixMeta{Name: name, Rows: r, Cols: c}
		header.Obsm = append(header.Obsm, meta)
		matrices = append(matrices, matrixView{meta: meta, data: MatrixData(m)})
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encoding header: %w", err)
	}
	if err := binary.Write(zw, binary.LittleEndian, int32(len(headerBytes))); err != nil {
		return err
	}
	if _, err := zw.Write(headerBytes); err != nil {
		return err
	}
	for _, m := range matrices {
		if len(m.data) != m.meta.Rows*m.meta.Cols {
			return fmt.Errorf("matrix %s: backing has %d values for shape (%d, %d)",
				m.meta.Name, len(m.data), m.meta.Rows, m.meta.Cols)
		}
		if err := binary.Write(zw, binary.LittleEndian, m.data); err != nil {
			return fmt.Errorf("writing matrix %s: %w", m.meta.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return w.Flush()
}

type matrixView struct {
	meta matrixMeta
	data []float32
}

// Read loads a container from path.
func Read(path string, opts ...ReadOption) (*AnnData, error) {
	var cfg readConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var magic, version int32
	if err := binary.Read(br, binary.LittleEndian, &magic); err != nil {
		return nil, fmt.Errorf("reading magic: %w", err)
	}
	if magic != fileMagic {
		return nil, fmt.Errorf("bad magic %d in %s", magic, path)
	}
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != fileVersion {
		return nil, fmt.Errorf("unsupported file version %d", version)
	}

	zr, err := gzip.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("opening compressed payload: %w", err)
	}
	defer zr.Close()

	var headerLen int32
	if err := binary.Read(zr, binary.LittleEndian, &headerLen); err != nil {
		return nil, err
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(zr, headerBytes); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	var header fileHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("decoding header: %w", err)
	}

	a, err := NewAnnData(nil, header.Obs, header.Var)
	if err != nil {
		return nil, err
	}
	if header.Uns != nil {
		a.Uns = header.Uns
	}

	readMatrix := func(meta matrixMeta) (*tensor.Dense, error) {
		data := make([]float32, meta.Rows*meta.Cols)
		if err := binary.Read(zr, binary.LittleEndian, data); err != nil {
			return nil, fmt.Errorf("reading matrix %s: %w", meta.Name, err)
		}
		return NewMatrix(meta.Rows, meta.Cols, data), nil
	}
	skipMatrix := func(meta matrixMeta) error {
		n := int64(meta.Rows) * int64(meta.Cols) * 4
		if _, err := io.CopyN(io.Discard, zr, n); err != nil {
			return fmt.Errorf("skipping matrix %s: %w", meta.Name, err)
		}
		return nil
	}

	if header.HasX {
		if cfg.xFromLayer != "" {
			if err := skipMatrix(header.X); err != nil {
				return nil, err
			}
		} else if a.X, err = readMatrix(header.X); err != nil {
			return nil, err
		}
	}
	for _, meta := range header.Layers {
		m, err := readMatrix(meta)
		if err != nil {
			return nil, err
		}
		if meta.Name == cfg.xFromLayer {
			a.X = m
		} else {
			a.Layers[meta.Name] = m
		}
	}
	if cfg.xFromLayer != "" && a.X == nil {
		return nil, fmt.Errorf("layer %q not present in %s", cfg.xFromLayer, path)
	}
	for _, meta := range header.Obsm {
		if cfg.skipObsm {
			if err := skipMatrix(meta); err != nil {
				return nil, err
			}
			continue
		}
		m, err := readMatrix(meta)
		if err != nil {
			return nil, err
		}
		a.Obsm[meta.Name] = m
	}
	return a, nil
}

func sortedKeys(m map[string]*tensor.Dense) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
