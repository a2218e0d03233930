package scgpt

// tensor is a wrapper around a slice of float32 values and a list of
// dimensions. All tensors of a group are views into one backing slice so
// the optimizer and checkpointing can treat the whole model as flat memory.
type tensor struct {
	data []float32
	dims []int
}

// newTensor creates a new tensor view over the given data.
func newTensor(data []float32, dims ...int) (tensor, int) {
	s := 1
	for _, d := range dims {
		s *= d
	}
	if s > len(data) {
		panic("dimensions larger than supplied data")
	}
	return tensor{
		data: data[:s],
		dims: dims,
	}, s
}

// ParameterTensors are the parameters of the model.
//
// Dimension letters: V vocabulary size, C embedding size, H feed-forward
// hidden size, L encoder layers, NB value-embedding rows (input bins plus
// pad and mask), ND batch domains.
type ParameterTensors struct {
	Memory []float32

	GeneEmbed  tensor // (V, C) - gene identity embedding
	ValueEmbed tensor // (NB, C) - binned expression value embedding
	DSBNW      tensor // (ND, C) - domain-specific norm scale, one row per batch domain
	DSBNB      tensor // (ND, C) - domain-specific norm shift

	LayerNorm1W  tensor // (L, C)
	LayerNorm1B  tensor // (L, C)
	QueryKeyValW tensor // (L, 3*C, C)
	QueryKeyValB tensor // (L, 3*C)
	AttProjW     tensor // (L, C, C)
	AttProjB     tensor // (L, C)
	LayerNorm2W  tensor // (L, C)
	LayerNorm2B  tensor // (L, C)
	FeedFwdW     tensor // (L, H, C)
	FeedFwdB     tensor // (L, H)
	FeedFwdProjW tensor // (L, C, H)
	FeedFwdProjB tensor // (L, C)

	LayerFinNormW tensor // (C)
	LayerFinNormB tensor // (C)

	DecFc1W tensor // (C, C) - expression decoder hidden layer
	DecFc1B tensor // (C)
	DecFc2W tensor // (1, C) - expression decoder output layer
	DecFc2B tensor // (1)

	MvcW tensor // (C, C) - cell-embedding query projection for the MVC head
	DabW tensor // (ND, C) - batch classifier for the DAB objective
	DabB tensor // (ND)
}

// Init allocates the backing memory and carves it into the parameter views.
func (p *ParameterTensors) Init(V, C, H, L, NB, ND int) {
	p.Memory = make([]float32,
		V*C+
			NB*C+
			ND*C+
			ND*C+
			L*C+
			L*C+
			L*3*C*C+
			L*3*C+
			L*C*C+
			L*C+
			L*C+
			L*C+
			L*H*C+
			L*H+
			L*C*H+
			L*C+
			C+
			C+
			C*C+
			C+
			C+
			1+
			C*C+
			ND*C+
			ND)
	var ptr int
	mem := p.Memory
	p.GeneEmbed, ptr = newTensor(mem, V, C)
	mem = mem[ptr:]
	p.ValueEmbed, ptr = newTensor(mem, NB, C)
	mem = mem[ptr:]
	p.DSBNW, ptr = newTensor(mem, ND, C)
	mem = mem[ptr:]
	p.DSBNB, ptr = newTensor(mem, ND, C)
	mem = mem[ptr:]
	p.LayerNorm1W, ptr = newTensor(mem, L, C)
	mem = mem[ptr:]
	p.LayerNorm1B, ptr = newTensor(mem, L, C)
	mem = mem[ptr:]
	p.QueryKeyValW, ptr = newTensor(mem, L, 3*C, C)
	mem = mem[ptr:]
	p.QueryKeyValB, ptr = newTensor(mem, L, 3*C)
	mem = mem[ptr:]
	p.AttProjW, ptr = newTensor(mem, L, C, C)
	mem = mem[ptr:]
	p.AttProjB, ptr = newTensor(mem, L, C)
	mem = mem[ptr:]
	p.LayerNorm2W, ptr = newTensor(mem, L, C)
	mem = mem[ptr:]
	p.LayerNorm2B, ptr = newTensor(mem, L, C)
	mem = mem[ptr:]
	p.FeedFwdW, ptr = newTensor(mem, L, H, C)
	mem = mem[ptr:]
	p.FeedFwdB, ptr = newTensor(mem, L, H)
	mem = mem[ptr:]
	p.FeedFwdProjW, ptr = newTensor(mem, L, C, H)
	mem = mem[ptr:]
	p.FeedFwdProjB, ptr = newTensor(mem, L, C)
	mem = mem[ptr:]
	p.LayerFinNormW, ptr = newTensor(mem, C)
	mem = mem[ptr:]
	p.LayerFinNormB, ptr = newTensor(mem, C)
	mem = mem[ptr:]
	p.DecFc1W, ptr = newTensor(mem, C, C)
	mem = mem[ptr:]
	p.DecFc1B, ptr = newTensor(mem, C)
	mem = mem[ptr:]
	p.DecFc2W, ptr = newTensor(mem, 1, C)
	mem = mem[ptr:]
	p.DecFc2B, ptr = newTensor(mem, 1)
	mem = mem[ptr:]
	p.MvcW, ptr = newTensor(mem, C, C)
	mem = mem[ptr:]
	p.DabW, ptr = newTensor(mem, ND, C)
	mem = mem[ptr:]
	p.DabB, ptr = newTensor(mem, ND)
	mem = mem[ptr:]
	if len(mem) != 0 {
		panic("parameter memory accounting is off")
	}
}

// Len returns the total number of parameters.
func (p *ParameterTensors) Len() int {
	return len(p.Memory)
}

// ActivationTensors hold every intermediate result of a forward pass over
// one batch, sized for the largest batch the model will see.
type ActivationTensors struct {
	Memory []float32

	Embedded tensor // (B, T, C) - summed gene+value embeddings
	DSBNNorm tensor // (B, T, C) - domain-normalized embeddings
	DSBNMean tensor // (B, T)
	DSBNRstd tensor // (B, T)

	LayerNorm1Act  tensor // (L, B, T, C)
	LayerNorm1Mean tensor // (L, B, T)
	LayerNorm1Rstd tensor // (L, B, T)
	QueryKeyVal    tensor // (L, B, T, 3*C)
	AttentionInter tensor // (L, B, T, C)
	PreAttention   tensor // (L, B, NH, T, T)
	Attention      tensor // (L, B, NH, T, T)
	AttentionProj  tensor // (L, B, T, C)
	AttnDropMask   tensor // (L, B, T, C) - realized dropout mask after the attention projection
	AttnDrop       tensor // (L, B, T, C)
	Residual2      tensor // (L, B, T, C)
	LayerNorm2Act  tensor // (L, B, T, C)
	LayerNorm2Mean tensor // (L, B, T)
	LayerNorm2Rstd tensor // (L, B, T)
	FeedForward    tensor // (L, B, T, H)
	FeedFwdGelu    tensor // (L, B, T, H)
	FeedFwdProj    tensor // (L, B, T, C)
	FfnDropMask    tensor // (L, B, T, C) - realized dropout mask after the feed-forward projection
	FfnDrop        tensor // (L, B, T, C)
	Residual3      tensor // (L, B, T, C)

	LayerNormFinal     tensor // (B, T, C)
	LayerNormFinalMean tensor // (B, T)
	LayerNormFinalStd  tensor // (B, T)

	DecFc1     tensor // (B, T, C)
	DecFc1Gelu tensor // (B, T, C)
	Pred       tensor // (B, T) - predicted expression value per position

	CellEmb  tensor // (B, C) - final hidden state at the <cls> position
	MvcQuery tensor // (B, C)
	MvcPred  tensor // (B, T)

	DabLogits tensor // (B, ND)
	DabProbs  tensor // (B, ND)
	DabLosses tensor // (B)
}

// Init allocates the backing memory and carves it into the activation views.
func (a *ActivationTensors) Init(B, T, C, H, L, NH, ND int) {
	a.Memory = make([]float32,
		B*T*C+
			B*T*C+
			B*T+
			B*T+
			L*B*T*C+
			L*B*T+
			L*B*T+
			L*B*T*3*C+
			L*B*T*C+
			L*B*NH*T*T+
			L*B*NH*T*T+
			L*B*T*C+
			L*B*T*C+
			L*B*T*C+
			L*B*T*C+
			L*B*T*C+
			L*B*T+
			L*B*T+
			L*B*T*H+
			L*B*T*H+
			L*B*T*C+
			L*B*T*C+
			L*B*T*C+
			L*B*T*C+
			B*T*C+
			B*T+
			B*T+
			B*T*C+
			B*T*C+
			B*T+
			B*C+
			B*C+
			B*T+
			B*ND+
			B*ND+
			B)
	var ptr int
	mem := a.Memory
	a.Embedded, ptr = newTensor(mem, B, T, C)
	mem = mem[ptr:]
	a.DSBNNorm, ptr = newTensor(mem, B, T, C)
	mem = mem[ptr:]
	a.DSBNMean, ptr = newTensor(mem, B, T)
	mem = mem[ptr:]
	a.DSBNRstd, ptr = newTensor(mem, B, T)
	mem = mem[ptr:]
	a.LayerNorm1Act, ptr = newTensor(mem, L, B, T, C)
	mem = mem[ptr:]
	a.LayerNorm1Mean, ptr = newTensor(mem, L, B, T)
	mem = mem[ptr:]
	a.LayerNorm1Rstd, ptr = newTensor(mem, L, B, T)
	mem = mem[ptr:]
	a.QueryKeyVal, ptr = newTensor(mem, L, B, T, 3*C)
	mem = mem[ptr:]
	a.AttentionInter, ptr = newTensor(mem, L, B, T, C)
	mem = mem[ptr:]
	a.PreAttention, ptr = newTensor(mem, L, B, NH, T, T)
	mem = mem[ptr:]
	a.Attention, ptr = newTensor(mem, L, B, NH, T, T)
	mem = mem[ptr:]
	a.AttentionProj, ptr = newTensor(mem, L, B, T, C)
	mem = mem[ptr:]
	a.AttnDropMask, ptr = newTensor(mem, L, B, T, C)
	mem = mem[ptr:]
	a.AttnDrop, ptr = newTensor(mem, L, B, T, C)
	mem = mem[ptr:]
	a.Residual2, ptr = newTensor(mem, L, B, T, C)
	mem = mem[ptr:]
	a.LayerNorm2Act, ptr = newTensor(mem, L, B, T, C)
	mem = mem[ptr:]
	a.LayerNorm2Mean, ptr = newTensor(mem, L, B, T)
	mem = mem[ptr:]
	a.LayerNorm2Rstd, ptr = newTensor(mem, L, B, T)
	mem = mem[ptr:]
	a.FeedForward, ptr = newTensor(mem, L, B, T, H)
	mem = mem[ptr:]
	a.FeedFwdGelu, ptr = newTensor(mem, L, B, T, H)
	mem = mem[ptr:]
	a.FeedFwdProj, ptr = newTensor(mem, L, B, T, C)
	mem = mem[ptr:]
	a.FfnDropMask, ptr = newTensor(mem, L, B, T, C)
	mem = mem[ptr:]
	a.FfnDrop, ptr = newTensor(mem, L, B, T, C)
	mem = mem[ptr:]
	a.Residual3, ptr = newTensor(mem, L, B, T, C)
	mem = mem[ptr:]
	a.LayerNormFinal, ptr = newTensor(mem, B, T, C)
	mem = mem[ptr:]
	a.LayerNormFinalMean, ptr = newTensor(mem, B, T)
	mem = mem[ptr:]
	a.LayerNormFinalStd, ptr = newTensor(mem, B, T)
	mem = mem[ptr:]
	a.DecFc1, ptr = newTensor(mem, B, T, C)
	mem = mem[ptr:]
	a.DecFc1Gelu, ptr = newTensor(mem, B, T, C)
	mem = mem[ptr:]
	a.Pred, ptr = newTensor(mem, B, T)
	mem = mem[ptr:]
	a.CellEmb, ptr = newTensor(mem, B, C)
	mem = mem[ptr:]
	a.MvcQuery, ptr = newTensor(mem, B, C)
	mem = mem[ptr:]
	a.MvcPred, ptr = newTensor(mem, B, T)
	mem = mem[ptr:]
	a.DabLogits, ptr = newTensor(mem, B, ND)
	mem = mem[ptr:]
	a.DabProbs, ptr = newTensor(mem, B, ND)
	mem = mem[ptr:]
	a.DabLosses, ptr = newTensor(mem, B)
	mem = mem[ptr:]
	if len(mem) != 0 {
		panic("activation memory accounting is off")
	}
}
