package scgpt

import (
	"fmt"
	"math/rand"

	"github.com/scembed/scembed/pkg/torch"
)

// ModelConfig fixes the dimensions of a TransformerModel instance. The
// architecture fields come from the pretrained args.json, the rest from the
// dataset (vocabulary size, batch domain count) and the model settings.
type ModelConfig struct {
	VocabSize  int     // number of gene tokens
	EmbSize    int     // embedding dimension C
	NHeads     int     // attention heads
	DHid       int     // feed-forward hidden size
	NLayers    int     // encoder layers
	NInputBins int     // expression value bins
	NBatches   int     // sequencing-batch domains for DSBN and DAB
	Dropout    float32
	GEPC       bool // gene expression modelling for cell objective
	DSBN       bool // domain-specific batch normalization
	DabWeight  float32
}

// TransformerModel is the gene-expression transformer: a bidirectional
// encoder over gene tokens with binned-value embeddings, a per-position
// expression decoder, an MVC head predicting expression from the cell
// embedding, and a DAB batch classifier. Parameters, gradients and
// activations live in flat float32 memory.
type TransformerModel struct {
	Config ModelConfig

	Params ParameterTensors
	Grads  ParameterTensors

	Acts     ActivationTensors
	GradActs ActivationTensors

	// Adam moment estimates over Params.Memory.
	firstMoment  []float32
	secondMoment []float32

	rng      *rand.Rand
	training bool

	maxB int // batch capacity the activations were allocated for
	seqT int // fixed sequence length

	zeroDomains []int32

	// Losses of the most recent forward pass with targets.
	Loss    float32
	LossMSE float32
	LossMVC float32
	LossDAB float32
	RelErr  float32
}

// NewTransformerModel builds a model with randomly initialised parameters.
// Pretrained weights are applied afterwards with LoadPretrained.
func NewTransformerModel(cfg ModelConfig, seed int64) (*TransformerModel, error) {
	if cfg.VocabSize <= 0 || cfg.EmbSize <= 0 || cfg.NLayers <= 0 {
		return nil, fmt.Errorf("invalid model config: %+v", cfg)
	}
	if cfg.EmbSize%cfg.NHeads != 0 {
		return nil, fmt.Errorf("embsize %d not divisible by nheads %d", cfg.EmbSize, cfg.NHeads)
	}
	if cfg.NBatches <= 0 {
		cfg.NBatches = 1
	}
	m := &TransformerModel{
		Config: cfg,
		rng:    rand.New(rand.NewSource(seed)),
	}
	nb := cfg.NInputBins + int(BinOffset)
	m.Params.Init(cfg.VocabSize, cfg.EmbSize, cfg.DHid, cfg.NLayers, nb, cfg.NBatches)
	m.Grads.Init(cfg.VocabSize, cfg.EmbSize, cfg.DHid, cfg.NLayers, nb, cfg.NBatches)
	m.initWeights()
	return m, nil
}

// initWeights draws small gaussian weights and sets all norm scales to one.
func (m *TransformerModel) initWeights() {
	const std = 0.02
	for i := range m.Params.Memory {
		m.Params.Memory[i] = float32(m.rng.NormFloat64()) * std
	}
	ones := func(t tensor) {
		for i := range t.data {
			t.data[i] = 1.0
		}
	}
	zeros := func(t tensor) {
		for i := range t.data {
			t.data[i] = 0.0
		}
	}
	ones(m.Params.DSBNW)
	zeros(m.Params.DSBNB)
	ones(m.Params.LayerNorm1W)
	zeros(m.Params.LayerNorm1B)
	ones(m.Params.LayerNorm2W)
	zeros(m.Params.LayerNorm2B)
	ones(m.Params.LayerFinNormW)
	zeros(m.Params.LayerFinNormB)
	zeros(m.Params.QueryKeyValB)
	zeros(m.Params.AttProjB)
	zeros(m.Params.FeedFwdB)
	zeros(m.Params.FeedFwdProjB)
	zeros(m.Params.DecFc1B)
	zeros(m.Params.DecFc2B)
	zeros(m.Params.DabB)
}

// Allocate sizes the activation buffers for batches up to maxBatch rows of
// seqLen tokens. It must be called once before Forward.
func (m *TransformerModel) Allocate(maxBatch, seqLen int) {
	cfg := m.Config
	m.maxB, m.seqT = maxBatch, seqLen
	m.Acts.Init(maxBatch, seqLen, cfg.EmbSize, cfg.DHid, cfg.NLayers, cfg.NHeads, cfg.NBatches)
	m.GradActs.Init(maxBatch, seqLen, cfg.EmbSize, cfg.DHid, cfg.NLayers, cfg.NHeads, cfg.NBatches)
	m.zeroDomains = make([]int32, maxBatch)
}

// SetTraining toggles dropout.
func (m *TransformerModel) SetTraining(training bool) {
	m.training = training
}

// domains returns the DSBN domain per row: the batch labels when DSBN is
// on, domain zero otherwise.
func (m *TransformerModel) domains(b *Batch) []int32 {
	if m.Config.DSBN && b.BatchLabels != nil {
		return b.BatchLabels
	}
	return m.zeroDomains
}

// Forward runs the model over one batch. When the batch carries targets the
// loss fields are populated; otherwise only activations (and the cell
// embeddings) are computed.
func (m *TransformerModel) Forward(b *Batch) error {
	cfg := m.Config
	B, T, C, H, NH, ND := b.Size, b.SeqLen, cfg.EmbSize, cfg.DHid, cfg.NHeads, cfg.NBatches
	if m.maxB == 0 {
		return fmt.Errorf("model activations not allocated; call Allocate first")
	}
	if B > m.maxB || T != m.seqT {
		return fmt.Errorf("batch %dx%d exceeds allocated %dx%d", B, T, m.maxB, m.seqT)
	}
	mB := m.maxB

	torch.EmbedderForward(m.Acts.Embedded.data, b.Genes, b.ValueIDs,
		m.Params.GeneEmbed.data, m.Params.ValueEmbed.data, B, T, C)
	torch.DSBNForward(m.Acts.DSBNNorm.data, m.Acts.DSBNMean.data, m.Acts.DSBNRstd.data,
		m.Acts.Embedded.data, m.Params.DSBNW.data, m.Params.DSBNB.data, m.domains(b), B, T, C)

	var dropRng *rand.Rand
	if m.training && cfg.Dropout > 0 {
		dropRng = m.rng
	}

	var residual []float32
	for layer := 0; layer < cfg.NLayers; layer++ {
		if layer == 0 {
			residual = m.Acts.DSBNNorm.data
		} else {
			residual = m.Acts.Residual3.data[(layer-1)*mB*T*C:]
		}
		lLn1w := m.Params.LayerNorm1W.data[layer*C:]
		lLn1b := m.Params.LayerNorm1B.data[layer*C:]
		lQkvw := m.Params.QueryKeyValW.data[layer*3*C*C:]
		lQkvb := m.Params.QueryKeyValB.data[layer*3*C:]
		lAttprojw := m.Params.AttProjW.data[layer*C*C:]
		lAttprojb := m.Params.AttProjB.data[layer*C:]
		lLn2w := m.Params.LayerNorm2W.data[layer*C:]
		lLn2b := m.Params.LayerNorm2B.data[layer*C:]
		lFcw := m.Params.FeedFwdW.data[layer*H*C:]
		lFcb := m.Params.FeedFwdB.data[layer*H:]
		lFcprojw := m.Params.FeedFwdProjW.data[layer*C*H:]
		lFcprojb := m.Params.FeedFwdProjB.data[layer*C:]

		lLn1 := m.Acts.LayerNorm1Act.data[layer*mB*T*C:]
		lLn1Mean := m.Acts.LayerNorm1Mean.data[layer*mB*T:]
		lLn1Rstd := m.Acts.LayerNorm1Rstd.data[layer*mB*T:]
		lQkv := m.Acts.QueryKeyVal.data[layer*mB*T*3*C:]
		lAtty := m.Acts.AttentionInter.data[layer*mB*T*C:]
		lPreatt := m.Acts.PreAttention.data[layer*mB*NH*T*T:]
		lAtt := m.Acts.Attention.data[layer*mB*NH*T*T:]
		lAttproj := m.Acts.AttentionProj.data[layer*mB*T*C:]
		lAttdropMask := m.Acts.AttnDropMask.data[layer*mB*T*C:]
		lAttdrop := m.Acts.AttnDrop.data[layer*mB*T*C:]
		lResidual2 := m.Acts.Residual2.data[layer*mB*T*C:]
		lLn2 := m.Acts.LayerNorm2Act.data[layer*mB*T*C:]
		lLn2Mean := m.Acts.LayerNorm2Mean.data[layer*mB*T:]
		lLn2Rstd := m.Acts.LayerNorm2Rstd.data[layer*mB*T:]
		lFch := m.Acts.FeedForward.data[layer*mB*T*H:]
		lFchGelu := m.Acts.FeedFwdGelu.data[layer*mB*T*H:]
		lFcproj := m.Acts.FeedFwdProj.data[layer*mB*T*C:]
		lFfndropMask := m.Acts.FfnDropMask.data[layer*mB*T*C:]
		lFfndrop := m.Acts.FfnDrop.data[layer*mB*T*C:]
		lResidual3 := m.Acts.Residual3.data[layer*mB*T*C:]

		torch.LayernormForward(lLn1, lLn1Mean, lLn1Rstd, residual, lLn1w, lLn1b, B, T, C)
		torch.MatmulForward(lQkv, lLn1, lQkvw, lQkvb, B, T, C, 3*C)
		torch.AttentionForward(lAtty, lPreatt, lAtt, lQkv, b.PadMask, B, T, C, NH)
		torch.MatmulForward(lAttproj, lAtty, lAttprojw, lAttprojb, B, T, C, C)
		torch.DropoutForward(lAttdrop, lAttdropMask, lAttproj, cfg.Dropout, dropRng, B*T*C)
		torch.ResidualForward(lResidual2, residual, lAttdrop, B*T*C)
		torch.LayernormForward(lLn2, lLn2Mean, lLn2Rstd, lResidual2, lLn2w, lLn2b, B, T, C)
		torch.MatmulForward(lFch, lLn2, lFcw, lFcb, B, T, C, H)
		torch.GeluForward(lFchGelu, lFch, B*T*H)
		torch.MatmulForward(lFcproj, lFchGelu, lFcprojw, lFcprojb, B, T, H, C)
		torch.DropoutForward(lFfndrop, lFfndropMask, lFcproj, cfg.Dropout, dropRng, B*T*C)
		torch.ResidualForward(lResidual3, lResidual2, lFfndrop, B*T*C)
	}
	residual = m.Acts.Residual3.data[(cfg.NLayers-1)*mB*T*C:]
	torch.LayernormForward(m.Acts.LayerNormFinal.data, m.Acts.LayerNormFinalMean.data,
		m.Acts.LayerNormFinalStd.data, residual,
		m.Params.LayerFinNormW.data, m.Params.LayerFinNormB.data, B, T, C)

	// Expression decoder: per-position value prediction.
	torch.MatmulForward(m.Acts.DecFc1.data, m.Acts.LayerNormFinal.data,
		m.Params.DecFc1W.data, m.Params.DecFc1B.data, B, T, C, C)
	torch.GeluForward(m.Acts.DecFc1Gelu.data, m.Acts.DecFc1.data, B*T*C)
	torch.MatmulForward(m.Acts.Pred.data, m.Acts.DecFc1Gelu.data,
		m.Params.DecFc2W.data, m.Params.DecFc2B.data, B, T, C, 1)

	// Cell embedding: the final hidden state at the <cls> position.
	for row := 0; row < B; row++ {
		copy(m.Acts.CellEmb.data[row*C:row*C+C], m.Acts.LayerNormFinal.data[row*T*C:row*T*C+C])
	}

	if cfg.GEPC {
		torch.MatmulForward(m.Acts.MvcQuery.data, m.Acts.CellEmb.data,
			m.Params.MvcW.data, nil, B, 1, C, C)
		torch.MvcDotForward(m.Acts.MvcPred.data, m.Acts.MvcQuery.data,
			m.Params.GeneEmbed.data, b.Genes, B, T, C)
	}

	if b.BatchLabels != nil {
		torch.MatmulForward(m.Acts.DabLogits.data, m.Acts.CellEmb.data,
			m.Params.DabW.data, m.Params.DabB.data, B, 1, C, ND)
		torch.SoftmaxForward(m.Acts.DabProbs.data, m.Acts.DabLogits.data, B, 1, ND)
	}

	if b.Targets == nil {
		m.Loss, m.LossMSE, m.LossMVC, m.LossDAB, m.RelErr = -1, -1, -1, -1, -1
		return nil
	}

	m.LossMSE = torch.MaskedMSEForward(m.Acts.Pred.data, b.Targets, b.MaskPos, B*T)
	m.RelErr = torch.MaskedRelativeError(m.Acts.Pred.data, b.Targets, b.MaskPos, B*T)
	m.Loss = m.LossMSE
	if cfg.GEPC {
		m.LossMVC = torch.MaskedMSEForward(m.Acts.MvcPred.data, b.Targets, b.MaskPos, B*T)
		m.Loss += m.LossMVC
	}
	if b.BatchLabels != nil {
		torch.CrossEntropyForward(m.Acts.DabLosses.data, m.Acts.DabProbs.data, b.BatchLabels, B, 1, ND)
		var sum float32
		for row := 0; row < B; row++ {
			sum += m.Acts.DabLosses.data[row]
		}
		m.LossDAB = sum / float32(B)
		m.Loss += cfg.DabWeight * m.LossDAB
	}
	return nil
}

// Backward accumulates parameter gradients for the batch of the preceding
// Forward call. ZeroGrads must be called between steps.
func (m *TransformerModel) Backward(b *Batch) error {
	cfg := m.Config
	B, T, C, H, NH, ND := b.Size, b.SeqLen, cfg.EmbSize, cfg.DHid, cfg.NHeads, cfg.NBatches
	mB := m.maxB
	if b.Targets == nil {
		return fmt.Errorf("must forward with targets before backward")
	}

	torch.MaskedMSEBackward(m.GradActs.Pred.data, m.Acts.Pred.data, b.Targets, b.MaskPos, 1.0, B*T)
	if cfg.GEPC {
		torch.MaskedMSEBackward(m.GradActs.MvcPred.data, m.Acts.MvcPred.data, b.Targets, b.MaskPos, 1.0, B*T)
	}
	if b.BatchLabels != nil {
		for row := 0; row < B; row++ {
			m.GradActs.DabLosses.data[row] = cfg.DabWeight / float32(B)
		}
		torch.CrossentropySoftmaxBackward(m.GradActs.DabLogits.data, m.GradActs.DabLosses.data,
			m.Acts.DabProbs.data, b.BatchLabels, B, 1, ND)
		torch.MatmulBackward(m.GradActs.CellEmb.data, m.Grads.DabW.data, m.Grads.DabB.data,
			m.GradActs.DabLogits.data, m.Acts.CellEmb.data, m.Params.DabW.data, B, 1, C, ND)
	}
	if cfg.GEPC {
		torch.MvcDotBackward(m.GradActs.MvcQuery.data, m.Grads.GeneEmbed.data,
			m.GradActs.MvcPred.data, m.Acts.MvcQuery.data, m.Params.GeneEmbed.data, b.Genes, B, T, C)
		torch.MatmulBackward(m.GradActs.CellEmb.data, m.Grads.MvcW.data, nil,
			m.GradActs.MvcQuery.data, m.Acts.CellEmb.data, m.Params.MvcW.data, B, 1, C, C)
	}

	// Expression decoder.
	torch.MatmulBackward(m.GradActs.DecFc1Gelu.data, m.Grads.DecFc2W.data, m.Grads.DecFc2B.data,
		m.GradActs.Pred.data, m.Acts.DecFc1Gelu.data, m.Params.DecFc2W.data, B, T, C, 1)
	torch.GeluBackward(m.GradActs.DecFc1.data, m.Acts.DecFc1.data, m.GradActs.DecFc1Gelu.data, B*T*C)
	torch.MatmulBackward(m.GradActs.LayerNormFinal.data, m.Grads.DecFc1W.data, m.Grads.DecFc1B.data,
		m.GradActs.DecFc1.data, m.Acts.LayerNormFinal.data, m.Params.DecFc1W.data, B, T, C, C)

	// The cell embedding is the <cls> slice of the final layernorm output.
	for row := 0; row < B; row++ {
		dst := m.GradActs.LayerNormFinal.data[row*T*C : row*T*C+C]
		src := m.GradActs.CellEmb.data[row*C : row*C+C]
		for i := 0; i < C; i++ {
			dst[i] += src[i]
		}
	}

	residual := m.Acts.Residual3.data[(cfg.NLayers-1)*mB*T*C:]
	dresidual := m.GradActs.Residual3.data[(cfg.NLayers-1)*mB*T*C:]
	torch.LayernormBackward(dresidual, m.Grads.LayerFinNormW.data, m.Grads.LayerFinNormB.data,
		m.GradActs.LayerNormFinal.data, residual, m.Params.LayerFinNormW.data,
		m.Acts.LayerNormFinalMean.data, m.Acts.LayerNormFinalStd.data, B, T, C)

	for layer := cfg.NLayers - 1; layer >= 0; layer-- {
		if layer == 0 {
			residual = m.Acts.DSBNNorm.data
			dresidual = m.GradActs.DSBNNorm.data
		} else {
			residual = m.Acts.Residual3.data[(layer-1)*mB*T*C:]
			dresidual = m.GradActs.Residual3.data[(layer-1)*mB*T*C:]
		}
		lLn1w := m.Params.LayerNorm1W.data[layer*C:]
		lQkvw := m.Params.QueryKeyValW.data[layer*3*C*C:]
		lAttprojw := m.Params.AttProjW.data[layer*C*C:]
		lLn2w := m.Params.LayerNorm2W.data[layer*C:]
		lFcw := m.Params.FeedFwdW.data[layer*H*C:]
		lFcprojw := m.Params.FeedFwdProjW.data[layer*C*H:]

		dlLn1w := m.Grads.LayerNorm1W.data[layer*C:]
		dlLn1b := m.Grads.LayerNorm1B.data[layer*C:]
		dlQkvw := m.Grads.QueryKeyValW.data[layer*3*C*C:]
		dlQkvb := m.Grads.QueryKeyValB.data[layer*3*C:]
		dlAttprojw := m.Grads.AttProjW.data[layer*C*C:]
		dlAttprojb := m.Grads.AttProjB.data[layer*C:]
		dlLn2w := m.Grads.LayerNorm2W.data[layer*C:]
		dlLn2b := m.Grads.LayerNorm2B.data[layer*C:]
		dlFcw := m.Grads.FeedFwdW.data[layer*H*C:]
		dlFcb := m.Grads.FeedFwdB.data[layer*H:]
		dlFcprojw := m.Grads.FeedFwdProjW.data[layer*C*H:]
		dlFcprojb := m.Grads.FeedFwdProjB.data[layer*C:]

		lLn1 := m.Acts.LayerNorm1Act.data[layer*mB*T*C:]
		lLn1Mean := m.Acts.LayerNorm1Mean.data[layer*mB*T:]
		lLn1Rstd := m.Acts.LayerNorm1Rstd.data[layer*mB*T:]
		lQkv := m.Acts.QueryKeyVal.data[layer*mB*T*3*C:]
		lAtty := m.Acts.AttentionInter.data[layer*mB*T*C:]
		lAtt := m.Acts.Attention.data[layer*mB*NH*T*T:]
		lAttdropMask := m.Acts.AttnDropMask.data[layer*mB*T*C:]
		lResidual2 := m.Acts.Residual2.data[layer*mB*T*C:]
		lLn2 := m.Acts.LayerNorm2Act.data[layer*mB*T*C:]
		lLn2Mean := m.Acts.LayerNorm2Mean.data[layer*mB*T:]
		lLn2Rstd := m.Acts.LayerNorm2Rstd.data[layer*mB*T:]
		lFch := m.Acts.FeedForward.data[layer*mB*T*H:]
		lFchGelu := m.Acts.FeedFwdGelu.data[layer*mB*T*H:]
		lFfndropMask := m.Acts.FfnDropMask.data[layer*mB*T*C:]

		dlLn1 := m.GradActs.LayerNorm1Act.data[layer*mB*T*C:]
		dlQkv := m.GradActs.QueryKeyVal.data[layer*mB*T*3*C:]
		dlAtty := m.GradActs.AttentionInter.data[layer*mB*T*C:]
		dlPreatt := m.GradActs.PreAttention.data[layer*mB*NH*T*T:]
		dlAtt := m.GradActs.Attention.data[layer*mB*NH*T*T:]
		dlAttproj := m.GradActs.AttentionProj.data[layer*mB*T*C:]
		dlAttdrop := m.GradActs.AttnDrop.data[layer*mB*T*C:]
		dlResidual2 := m.GradActs.Residual2.data[layer*mB*T*C:]
		dlLn2 := m.GradActs.LayerNorm2Act.data[layer*mB*T*C:]
		dlFch := m.GradActs.FeedForward.data[layer*mB*T*H:]
		dlFchGelu := m.GradActs.FeedFwdGelu.data[layer*mB*T*H:]
		dlFcproj := m.GradActs.FeedFwdProj.data[layer*mB*T*C:]
		dlFfndrop := m.GradActs.FfnDrop.data[layer*mB*T*C:]
		dlResidual3 := m.GradActs.Residual3.data[layer*mB*T*C:]

		torch.ResidualBackward(dlResidual2, dlFfndrop, dlResidual3, B*T*C)
		torch.DropoutBackward(dlFcproj, dlFfndrop, lFfndropMask, B*T*C)
		torch.MatmulBackward(dlFchGelu, dlFcprojw, dlFcprojb, dlFcproj, lFchGelu, lFcprojw, B, T, H, C)
		torch.GeluBackward(dlFch, lFch, dlFchGelu, B*T*H)
		torch.MatmulBackward(dlLn2, dlFcw, dlFcb, dlFch, lLn2, lFcw, B, T, C, H)
		torch.LayernormBackward(dlResidual2, dlLn2w, dlLn2b, dlLn2, lResidual2, lLn2w, lLn2Mean, lLn2Rstd, B, T, C)
		torch.ResidualBackward(dresidual, dlAttdrop, dlResidual2, B*T*C)
		torch.DropoutBackward(dlAttproj, dlAttdrop, lAttdropMask, B*T*C)
		torch.MatmulBackward(dlAtty, dlAttprojw, dlAttprojb, dlAttproj, lAtty, lAttprojw, B, T, C, C)
		torch.AttentionBackward(dlQkv, dlPreatt, dlAtt, dlAtty, lQkv, lAtt, b.PadMask, B, T, C, NH)
		torch.MatmulBackward(dlLn1, dlQkvw, dlQkvb, dlQkv, lLn1, lQkvw, B, T, C, 3*C)
		torch.LayernormBackward(dresidual, dlLn1w, dlLn1b, dlLn1, residual, lLn1w, lLn1Mean, lLn1Rstd, B, T, C)
	}

	torch.DSBNBackward(m.GradActs.Embedded.data, m.Grads.DSBNW.data, m.Grads.DSBNB.data,
		m.GradActs.DSBNNorm.data, m.Acts.Embedded.data, m.Params.DSBNW.data,
		m.Acts.DSBNMean.data, m.Acts.DSBNRstd.data, m.domains(b), B, T, C)
	torch.EmbedderBackward(m.Grads.GeneEmbed.data, m.Grads.ValueEmbed.data,
		m.GradActs.Embedded.data, b.Genes, b.ValueIDs, B, T, C)
	return nil
}

// ZeroGrads resets parameter and activation gradients.
func (m *TransformerModel) ZeroGrads() {
	for i := range m.Grads.Memory {
		m.Grads.Memory[i] = 0.0
	}
	for i := range m.GradActs.Memory {
		m.GradActs.Memory[i] = 0.0
	}
}

// ClipGradients clips the global gradient norm and returns the pre-clip
// value.
func (m *TransformerModel) ClipGradients(maxNorm float32) float32 {
	return torch.ClipGradNorm(m.Grads.Memory, maxNorm)
}

// Update applies one Adam step to the parameters.
func (m *TransformerModel) Update(learningRate, beta1, beta2, eps float32, step int) {
	if m.firstMoment == nil {
		m.firstMoment = make([]float32, m.Params.Len())
		m.secondMoment = make([]float32, m.Params.Len())
	}
	for i := 0; i < m.Params.Len(); i++ {
		gradient := m.Grads.Memory[i]
		mom := beta1*m.firstMoment[i] + (1.0-beta1)*gradient
		vel := beta2*m.secondMoment[i] + (1.0-beta2)*gradient*gradient
		mHat := mom / (1.0 - torch.Pow(beta1, float32(step)))
		vHat := vel / (1.0 - torch.Pow(beta2, float32(step)))
		m.firstMoment[i] = mom
		m.secondMoment[i] = vel
		m.Params.Memory[i] -= learningRate * mHat / (torch.Sqrt(vHat) + eps)
	}
}

// Snapshot returns an independent copy of the parameter memory, used to
// retain the best model seen across epochs.
func (m *TransformerModel) Snapshot() []float32 {
	snap := make([]float32, len(m.Params.Memory))
	copy(snap, m.Params.Memory)
	return snap
}

// Restore overwrites the parameters with a snapshot taken earlier.
func (m *TransformerModel) Restore(snapshot []float32) error {
	if len(snapshot) != len(m.Params.Memory) {
		return fmt.Errorf("snapshot has %d parameters, model has %d", len(snapshot), len(m.Params.Memory))
	}
	copy(m.Params.Memory, snapshot)
	return nil
}
