package scgpt

import (
	"math/rand"
	"sort"
	"time"

	"github.com/charmbracelet/log"
)

// Adam settings shared by all fine-tuning runs. The learning rate itself
// comes from the scheduler.
const (
	adamBeta1   float32 = 0.9
	adamBeta2   float32 = 0.999
	adamEps     float32 = 1e-8
	gradMaxNorm float32 = 1.0
)

// Batch is one model input: flattened (Size, SeqLen) token tensors plus the
// per-row batch labels. Targets/MaskPos are nil for inference batches.
type Batch struct {
	Genes       []int32
	ValueIDs    []int32
	Targets     []float32
	MaskPos     []bool
	PadMask     []bool
	BatchLabels []int32
	Size        int
	SeqLen      int
}

// EpochData is a tokenized dataset with one realization of the random value
// masking. The masking is redrawn every epoch, so a fresh EpochData is
// built per epoch from the same TokenizedData.
type EpochData struct {
	Genes       []int32
	ValueIDs    []int32
	Targets     []float32
	MaskPos     []bool
	PadMask     []bool
	BatchLabels []int32
	N           int
	T           int
}

// PrepareData masks a fraction of the non-pad, non-cls value positions and
// maps every value to its value-embedding row. Targets keep the unmasked
// values; the loss is restricted to masked positions. With maskRatio <= 0
// (evaluation of embeddings) nothing is masked.
func PrepareData(tok *TokenizedData, batchLabels []int32, maskRatio float32, rng *rand.Rand) *EpochData {
	n := tok.N * tok.T
	ed := &EpochData{
		Genes:       tok.Genes,
		ValueIDs:    make([]int32, n),
		Targets:     make([]float32, n),
		MaskPos:     make([]bool, n),
		PadMask:     make([]bool, n),
		BatchLabels: batchLabels,
		N:           tok.N,
		T:           tok.T,
	}
	for row := 0; row < tok.N; row++ {
		for t := 0; t < tok.T; t++ {
			i := row*tok.T + t
			v := tok.Values[i]
			ed.Targets[i] = v
			switch {
			case v == PadValue:
				ed.ValueIDs[i] = PadValueID
				ed.PadMask[i] = true
			case t > 0 && maskRatio > 0 && rng.Float32() < maskRatio:
				ed.ValueIDs[i] = MaskValueID
				ed.MaskPos[i] = true
			default:
				ed.ValueIDs[i] = BinOffset + int32(v)
			}
		}
	}
	return ed
}

// DataLoader iterates an EpochData in batches. With perSeqBatchSample rows
// are grouped by sequencing batch so that every model batch is dominated by
// one domain; intraDomainShuffle shuffles rows within each group.
type DataLoader struct {
	data       *EpochData
	batchSize  int
	order      []int
	cur        int
	NumBatches int
	buf        Batch
}

// NewDataLoader builds a loader over data. The final batch may be smaller
// than batchSize; no rows are dropped.
func NewDataLoader(data *EpochData, batchSize int, intraDomainShuffle, perSeqBatchSample bool, rng *rand.Rand) *DataLoader {
	if batchSize > data.N {
		batchSize = data.N
	}
	order := make([]int, data.N)
	for i := range order {
		order[i] = i
	}
	if perSeqBatchSample {
		groups := make(map[int32][]int)
		var labels []int32
		for i := 0; i < data.N; i++ {
			lbl := data.BatchLabels[i]
			if _, ok := groups[lbl]; !ok {
				labels = append(labels, lbl)
			}
			groups[lbl] = append(groups[lbl], i)
		}
		sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
		order = order[:0]
		for _, lbl := range labels {
			grp := groups[lbl]
			if intraDomainShuffle {
				rng.Shuffle(len(grp), func(i, j int) { grp[i], grp[j] = grp[j], grp[i] })
			}
			order = append(order, grp...)
		}
	} else if intraDomainShuffle {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	T := data.T
	return &DataLoader{
		data:       data,
		batchSize:  batchSize,
		order:      order,
		NumBatches: (data.N + batchSize - 1) / batchSize,
		buf: Batch{
			Genes:       make([]int32, batchSize*T),
			ValueIDs:    make([]int32, batchSize*T),
			Targets:     make([]float32, batchSize*T),
			MaskPos:     make([]bool, batchSize*T),
			PadMask:     make([]bool, batchSize*T),
			BatchLabels: make([]int32, batchSize),
			SeqLen:      T,
		},
	}
}

// BatchSize returns the configured (maximum) batch size.
func (dl *DataLoader) BatchSize() int { return dl.batchSize }

// Reset rewinds the loader to the first batch.
func (dl *DataLoader) Reset() { dl.cur = 0 }

// NextBatch gathers the next batch into an internal buffer and returns it,
// or nil when the epoch is exhausted. The returned batch is only valid
// until the next call.
func (dl *DataLoader) NextBatch() *Batch {
	if dl.cur >= len(dl.order) {
		return nil
	}
	end := dl.cur + dl.batchSize
	if end > len(dl.order) {
		end = len(dl.order)
	}
	T := dl.data.T
	size := end - dl.cur
	for i, row := range dl.order[dl.cur:end] {
		copy(dl.buf.Genes[i*T:(i+1)*T], dl.data.Genes[row*T:(row+1)*T])
		copy(dl.buf.ValueIDs[i*T:(i+1)*T], dl.data.ValueIDs[row*T:(row+1)*T])
		copy(dl.buf.Targets[i*T:(i+1)*T], dl.data.Targets[row*T:(row+1)*T])
		copy(dl.buf.MaskPos[i*T:(i+1)*T], dl.data.MaskPos[row*T:(row+1)*T])
		copy(dl.buf.PadMask[i*T:(i+1)*T], dl.data.PadMask[row*T:(row+1)*T])
		dl.buf.BatchLabels[i] = dl.data.BatchLabels[row]
	}
	dl.cur = end
	dl.buf.Size = size
	return &dl.buf
}

// StepLR decays the learning rate by a fixed factor per epoch.
type StepLR struct {
	lr    float32
	gamma float32
}

// NewStepLR returns a scheduler starting at lr with per-step decay gamma.
func NewStepLR(lr, gamma float32) *StepLR {
	return &StepLR{lr: lr, gamma: gamma}
}

// LR returns the current learning rate.
func (s *StepLR) LR() float32 { return s.lr }

// Step decays the learning rate.
func (s *StepLR) Step() { s.lr *= s.gamma }

// Train runs one fine-tuning epoch and returns the mean training loss.
// globalStep carries the Adam bias-correction step count across epochs.
func Train(model *TransformerModel, loader *DataLoader, hp Hyperparameters, lr float32, epoch int, globalStep *int) (float32, error) {
	model.SetTraining(true)
	var totalLoss float64
	var intervalLoss float64
	var nBatches int
	start := time.Now()
	loader.Reset()
	for batch := loader.NextBatch(); batch != nil; batch = loader.NextBatch() {
		if err := model.Forward(batch); err != nil {
			return 0, err
		}
		model.ZeroGrads()
		if err := model.Backward(batch); err != nil {
			return 0, err
		}
		model.ClipGradients(gradMaxNorm)
		*globalStep++
		model.Update(lr, adamBeta1, adamBeta2, adamEps, *globalStep)
		totalLoss += float64(model.Loss)
		intervalLoss += float64(model.Loss)
		nBatches++
		if hp.LogInterval > 0 && nBatches%hp.LogInterval == 0 {
			log.Info("training",
				"epoch", epoch,
				"batch", nBatches,
				"batches", loader.NumBatches,
				"lr", lr,
				"loss", float32(intervalLoss/float64(hp.LogInterval)),
				"elapsed", time.Since(start).Round(time.Millisecond))
			intervalLoss = 0
			start = time.Now()
		}
	}
	if nBatches == 0 {
		return 0, nil
	}
	return float32(totalLoss / float64(nBatches)), nil
}

// Evaluate computes the validation masked-MSE and masked relative error
// without touching the parameters. Only the masked-MSE counts here; the MVC
// and batch-classifier terms are training objectives, not model quality.
func Evaluate(model *TransformerModel, loader *DataLoader) (loss, mre float32, err error) {
	model.SetTraining(false)
	var lossSum, mreSum float64
	var rows int
	loader.Reset()
	for batch := loader.NextBatch(); batch != nil; batch = loader.NextBatch() {
		if err := model.Forward(batch); err != nil {
			return 0, 0, err
		}
		lossSum += float64(model.LossMSE) * float64(batch.Size)
		mreSum += float64(model.RelErr) * float64(batch.Size)
		rows += batch.Size
	}
	if rows == 0 {
		return 0, 0, nil
	}
	return float32(lossSum / float64(rows)), float32(mreSum / float64(rows)), nil
}
