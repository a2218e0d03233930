package scgpt

import (
	"github.com/scembed/scembed/pkg/torch"
)

// EmbedData runs the model over every cell of a tokenized dataset and
// returns the L2-normalized cell embeddings, flattened row-major over
// (N, EmbSize). The model must be allocated for batchSize rows.
func EmbedData(model *TransformerModel, tok *TokenizedData, batchLabels []int32, batchSize int) ([]float32, error) {
	model.SetTraining(false)
	C := model.Config.EmbSize
	data := PrepareData(tok, batchLabels, 0, nil)
	loader := NewDataLoader(data, batchSize, false, false, nil)
	out := make([]float32, tok.N*C)
	row := 0
	for batch := loader.NextBatch(); batch != nil; batch = loader.NextBatch() {
		if err := model.Forward(batch); err != nil {
			return nil, err
		}
		for i := 0; i < batch.Size; i++ {
			emb := out[row*C : (row+1)*C]
			copy(emb, model.Acts.CellEmb.data[i*C:(i+1)*C])
			var norm float32
			for _, v := range emb {
				norm += v * v
			}
			norm = torch.Sqrt(norm)
			if norm > 0 {
				for j := range emb {
					emb[j] /= norm
				}
			}
			row++
		}
	}
	return out, nil
}
