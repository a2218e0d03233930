package scgpt

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// Weights file layout: two little-endian int32s (magic, version), an int32
// JSON header length, the JSON header, then the float32 tensor payload in
// header order.
const (
	checkpointMagic   int32 = 20240915
	checkpointVersion int32 = 1
)

// CheckpointMeta records the training state a weights file was saved at.
type CheckpointMeta struct {
	Epoch     int       `json:"epoch"`
	ValLoss   float32   `json:"val_loss"`
	CreatedAt time.Time `json:"created_at"`
}

type checkpointHeader struct {
	Meta    CheckpointMeta   `json:"meta"`
	Tensors []tensorManifest `json:"tensors"`
}

type tensorManifest struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

type namedParam struct {
	name string
	data []float32
}

// namedParams lists every parameter tensor with a stable name, the unit of
// matching when loading weights trained with a different head layout.
func (m *TransformerModel) namedParams() []namedParam {
	p := &m.Params
	return []namedParam{
		{"gene_encoder.weight", p.GeneEmbed.data},
		{"value_encoder.weight", p.ValueEmbed.data},
		{"dsbn.weight", p.DSBNW.data},
		{"dsbn.bias", p.DSBNB.data},
		{"encoder.ln1.weight", p.LayerNorm1W.data},
		{"encoder.ln1.bias", p.LayerNorm1B.data},
		{"encoder.qkv.weight", p.QueryKeyValW.data},
		{"encoder.qkv.bias", p.QueryKeyValB.data},
		{"encoder.attn_proj.weight", p.AttProjW.data},
		{"encoder.attn_proj.bias", p.AttProjB.data},
		{"encoder.ln2.weight", p.LayerNorm2W.data},
		{"encoder.ln2.bias", p.LayerNorm2B.data},
		{"encoder.ffn.weight", p.FeedFwdW.data},
		{"encoder.ffn.bias", p.FeedFwdB.data},
		{"encoder.ffn_proj.weight", p.FeedFwdProjW.data},
		{"encoder.ffn_proj.bias", p.FeedFwdProjB.data},
		{"norm_final.weight", p.LayerFinNormW.data},
		{"norm_final.bias", p.LayerFinNormB.data},
		{"decoder.fc1.weight", p.DecFc1W.data},
		{"decoder.fc1.bias", p.DecFc1B.data},
		{"decoder.fc2.weight", p.DecFc2W.data},
		{"decoder.fc2.bias", p.DecFc2B.data},
		{"mvc.query.weight", p.MvcW.data},
		{"dab.weight", p.DabW.data},
		{"dab.bias", p.DabB.data},
	}
}

// SaveCheckpoint writes the model weights plus metadata to path.
func SaveCheckpoint(m *TransformerModel, path string, meta CheckpointMeta) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating checkpoint: %w", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)

	params := m.namedParams()
	hdr := checkpointHeader{Meta: meta}
	for _, p := range params {
		hdr.Tensors = append(hdr.Tensors, tensorManifest{Name: p.name, Size: len(p.data)})
	}
	hdrBytes, err := json.Marshal(hdr)
	if err != nil {
		return err
	}
	for _, v := range []int32{checkpointMagic, checkpointVersion, int32(len(hdrBytes))} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if _, err := w.Write(hdrBytes); err != nil {
		return err
	}
	for _, p := range params {
		if err := binary.Write(w, binary.LittleEndian, p.data); err != nil {
			return fmt.Errorf("writing tensor %s: %w", p.name, err)
		}
	}
	return w.Flush()
}

// LoadCheckpoint reads a weights file into the model. Tensors are matched
// by name and size; anything unmatched on either side is logged and left
// alone, so a pretrained backbone without fine-tuning heads (or with heads
// sized for different batch domains) still loads.
func LoadCheckpoint(m *TransformerModel, path string) (*CheckpointMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint: %w", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)

	var magic, version, hdrLen int32
	for _, v := range []*int32{&magic, &version, &hdrLen} {
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("reading checkpoint header: %w", err)
		}
	}
	if magic != checkpointMagic {
		return nil, fmt.Errorf("%s is not a model weights file (magic %d)", path, magic)
	}
	if version != checkpointVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", version)
	}
	hdrBytes := make([]byte, hdrLen)
	if _, err := io.ReadFull(r, hdrBytes); err != nil {
		return nil, fmt.Errorf("reading checkpoint header: %w", err)
	}
	var hdr checkpointHeader
	if err := json.Unmarshal(hdrBytes, &hdr); err != nil {
		return nil, fmt.Errorf("parsing checkpoint header: %w", err)
	}

	own := make(map[string][]float32)
	for _, p := range m.namedParams() {
		own[p.name] = p.data
	}
	loaded := make(map[string]bool)
	for _, tm := range hdr.Tensors {
		buf := make([]float32, tm.Size)
		if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
			return nil, fmt.Errorf("reading tensor %s: %w", tm.Name, err)
		}
		dst, ok := own[tm.Name]
		switch {
		case !ok:
			log.Debug("checkpoint tensor not in model, skipping", "tensor", tm.Name)
		case len(dst) != tm.Size:
			log.Warn("checkpoint tensor size mismatch, keeping initialization",
				"tensor", tm.Name, "checkpoint", tm.Size, "model", len(dst))
		default:
			copy(dst, buf)
			loaded[tm.Name] = true
		}
	}
	for name := range own {
		if !loaded[name] {
			log.Debug("model tensor not in checkpoint, keeping initialization", "tensor", name)
		}
	}
	return &hdr.Meta, nil
}
