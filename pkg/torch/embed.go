package torch

import "math/rand"

// EmbedderForward sums the gene-identity embedding and the binned-value
// embedding for every position: out[b,t,:] = geneEmbed[genes[b,t]] +
// valueEmbed[values[b,t]]. There is no positional table, gene tokens are
// order-free.
//
// Shapes: out (B,T,C), geneEmbed (V,C), valueEmbed (NB,C).
func EmbedderForward(out []float32, genes, values []int32, geneEmbed, valueEmbed []float32, B, T, C int) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			outBase := b*T*C + t*C
			geneBase := genes[b*T+t] * int32(C)
			valueBase := values[b*T+t] * int32(C)
			for i := 0; i < C; i++ {
				out[outBase+i] = geneEmbed[geneBase+int32(i)] + valueEmbed[valueBase+int32(i)]
			}
		}
	}
}

// EmbedderBackward scatters the output gradient back into both embedding
// tables.
func EmbedderBackward(dgeneEmbed, dvalueEmbed, dout []float32, genes, values []int32, B, T, C int) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			doutBase := b*T*C + t*C
			geneBase := genes[b*T+t] * int32(C)
			valueBase := values[b*T+t] * int32(C)
			for i := 0; i < C; i++ {
				d := dout[doutBase+i]
				dgeneEmbed[geneBase+int32(i)] += d
				dvalueEmbed[valueBase+int32(i)] += d
			}
		}
	}
}

// DSBNForward is domain-specific batch normalization over the embedded
// input: each (b,t) vector is normalized like a layernorm, but the affine
// scale and shift are selected by the sequencing-batch domain of row b.
// This is what corrects for batch effects inside the model.
//
// Shapes: out/inp (B,T,C), mean/rstd (B,T), weight/bias (ND,C),
// domains (B) with values in [0,ND).
func DSBNForward(out, mean, rstd, inp, weight, bias []float32, domains []int32, B, T, C int) {
	const eps float32 = 1e-5
	for b := 0; b < B; b++ {
		w := weight[domains[b]*int32(C):]
		bb := bias[domains[b]*int32(C):]
		for t := 0; t < T; t++ {
			x := inp[b*T*C+t*C:]
			var m float32
			for i := 0; i < C; i++ {
				m += x[i]
			}
			m /= float32(C)
			var v float32
			for i := 0; i < C; i++ {
				xshift := x[i] - m
				v += xshift * xshift
			}
			v /= float32(C)
			s := 1.0 / Sqrt(v+eps)
			outBT := out[b*T*C+t*C:]
			for i := 0; i < C; i++ {
				outBT[i] = s*(x[i]-m)*w[i] + bb[i]
			}
			mean[b*T+t] = m
			rstd[b*T+t] = s
		}
	}
}

// DSBNBackward accumulates DSBN gradients; dweight/dbias receive gradient
// only in the rows of the domains present in the batch.
func DSBNBackward(dinp, dweight, dbias, dout, inp, weight, mean, rstd []float32, domains []int32, B, T, C int) {
	for b := 0; b < B; b++ {
		w := weight[domains[b]*int32(C):]
		dw := dweight[domains[b]*int32(C):]
		db := dbias[domains[b]*int32(C):]
		for t := 0; t < T; t++ {
			base := b*T*C + t*C
			doutBT := dout[base : base+C]
			inpBT := inp[base : base+C]
			dinpBT := dinp[base : base+C]
			meanBT := mean[b*T+t]
			rstdBT := rstd[b*T+t]

			var dnormMean, dnormNormMean float32
			for i := 0; i < C; i++ {
				normBTI := (inpBT[i] - meanBT) * rstdBT
				dnormI := w[i] * doutBT[i]
				dnormMean += dnormI
				dnormNormMean += dnormI * normBTI
			}
			dnormMean /= float32(C)
			dnormNormMean /= float32(C)

			for i := 0; i < C; i++ {
				normBTI := (inpBT[i] - meanBT) * rstdBT
				dnormI := w[i] * doutBT[i]
				db[i] += doutBT[i]
				dw[i] += normBTI * doutBT[i]

				dval := dnormI
				dval -= dnormMean
				dval -= normBTI * dnormNormMean
				dval *= rstdBT
				dinpBT[i] += dval
			}
		}
	}
}

// DropoutForward applies inverted dropout: kept units are scaled by
// 1/(1-p) so evaluation needs no rescaling. The realized mask (already
// scaled) is stored for the backward pass. With p <= 0 or a nil rng the
// input passes through and the mask is all ones.
func DropoutForward(out, mask, inp []float32, p float32, rng *rand.Rand, n int) {
	if p <= 0 || rng == nil {
		for i := 0; i < n; i++ {
			mask[i] = 1.0
			out[i] = inp[i]
		}
		return
	}
	scale := 1.0 / (1.0 - p)
	for i := 0; i < n; i++ {
		if rng.Float32() < p {
			mask[i] = 0.0
			out[i] = 0.0
		} else {
			mask[i] = scale
			out[i] = inp[i] * scale
		}
	}
}

// DropoutBackward routes gradient through the stored mask.
func DropoutBackward(dinp, dout, mask []float32, n int) {
	for i := 0; i < n; i++ {
		dinp[i] += dout[i] * mask[i]
	}
}

// MvcDotForward computes the gene-expression-for-cell (MVC) predictions:
// out[b,t] = query[b,:] . geneEmbed[genes[b,t],:], the dot product of the
// projected cell embedding with each gene's identity embedding.
//
// Shapes: out (B,T), query (B,C), geneEmbed (V,C).
func MvcDotForward(out, query, geneEmbed []float32, genes []int32, B, T, C int) {
	for b := 0; b < B; b++ {
		q := query[b*C:]
		for t := 0; t < T; t++ {
			g := geneEmbed[genes[b*T+t]*int32(C):]
			var val float32
			for i := 0; i < C; i++ {
				val += q[i] * g[i]
			}
			out[b*T+t] = val
		}
	}
}

// MvcDotBackward accumulates gradients into the projected cell query and
// the gene embedding table.
func MvcDotBackward(dquery, dgeneEmbed, dout, query, geneEmbed []float32, genes []int32, B, T, C int) {
	for b := 0; b < B; b++ {
		q := query[b*C:]
		dq := dquery[b*C:]
		for t := 0; t < T; t++ {
			g := geneEmbed[genes[b*T+t]*int32(C):]
			dg := dgeneEmbed[genes[b*T+t]*int32(C):]
			d := dout[b*T+t]
			for i := 0; i < C; i++ {
				dq[i] += d * g[i]
				dg[i] += d * q[i]
			}
		}
	}
}
