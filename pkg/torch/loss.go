package torch

import "sync"

// SoftmaxForward turns logits into probabilities row by row.
//
// Shapes: probs/logits (B,T,V).
func SoftmaxForward(probs, logits []float32, B, T, V int) {
	var wg sync.WaitGroup
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			wg.Add(1)
			go func(b, t int) {
				defer wg.Done()
				base := b*T*V + t*V
				logitsBT := logits[base : base+V]
				probsBT := probs[base : base+V]
				maxval := Inf(-1)
				for i := 0; i < V; i++ {
					if logitsBT[i] > maxval {
						maxval = logitsBT[i]
					}
				}
				var sum float32
				for i := 0; i < V; i++ {
					probsBT[i] = Exp(logitsBT[i] - maxval)
					sum += probsBT[i]
				}
				for i := 0; i < V; i++ {
					probsBT[i] /= sum
				}
			}(b, t)
		}
	}
	wg.Wait()
}

// CrossEntropyForward computes -log p(target) per row.
//
// Shapes: losses (B,T), probs (B,T,V), targets (B,T).
func CrossEntropyForward(losses, probs []float32, targets []int32, B, T, V int) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			base := int32(b*T*V + t*V)
			ix := targets[b*T+t]
			losses[b*T+t] = -Log(probs[base+ix])
		}
	}
}

// CrossentropySoftmaxBackward fuses the softmax and cross-entropy backward
// passes: dlogits += (p - 1{target}) * dloss.
func CrossentropySoftmaxBackward(dlogits, dlosses, probs []float32, targets []int32, B, T, V int) {
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			base := b*T*V + t*V
			dlogitsBT := dlogits[base : base+V]
			probsBT := probs[base : base+V]
			dloss := dlosses[b*T+t]
			ix := targets[b*T+t]
			for i := 0; i < V; i++ {
				p := probsBT[i]
				var indicator float32
				if int32(i) == ix {
					indicator = 1.0
				}
				dlogitsBT[i] += (p - indicator) * dloss
			}
		}
	}
}

// MaskedMSEForward computes the mean squared error restricted to positions
// where mask is true. Returns zero when nothing is masked.
//
// Shapes: pred/target (n), mask (n).
func MaskedMSEForward(pred, target []float32, mask []bool, n int) float32 {
	var sum float64
	var count int
	for i := 0; i < n; i++ {
		if !mask[i] {
			continue
		}
		d := float64(pred[i] - target[i])
		sum += d * d
		count++
	}
	if count == 0 {
		return 0
	}
	return float32(sum / float64(count))
}

// MaskedMSEBackward accumulates dpred += 2*(pred-target)/count * dloss for
// masked positions.
func MaskedMSEBackward(dpred, pred, target []float32, mask []bool, dloss float32, n int) {
	var count int
	for i := 0; i < n; i++ {
		if mask[i] {
			count++
		}
	}
	if count == 0 {
		return
	}
	scale := 2.0 / float32(count) * dloss
	for i := 0; i < n; i++ {
		if !mask[i] {
			continue
		}
		dpred[i] += scale * (pred[i] - target[i])
	}
}

// MaskedRelativeError is the mean |pred-target| / (target+1e-6) over masked
// positions, the relative-error metric reported next to the validation loss.
// Targets are non-negative bin values, so the epsilon only guards zeros.
func MaskedRelativeError(pred, target []float32, mask []bool, n int) float32 {
	var sum float64
	var count int
	for i := 0; i < n; i++ {
		if !mask[i] {
			continue
		}
		sum += float64(Abs(pred[i]-target[i])) / (float64(target[i]) + 1e-6)
		count++
	}
	if count == 0 {
		return 0
	}
	return float32(sum / float64(count))
}
