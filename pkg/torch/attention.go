package torch

import "sync"

// AttentionForward is bidirectional multi-head attention over packed QKV
// input with a key padding mask. Unlike a causal language model every
// position may attend to every other position: a cell's gene tokens carry
// no ordering, only the padding tail must be excluded.
//
// Shapes: out (B,T,C), preatt/att (B,NH,T,T), inp (B,T,3C) packed as
// query|key|value per position, padMask (B,T) with true marking padding.
func AttentionForward(out, preatt, att, inp []float32, padMask []bool, B, T, C, NH int) {
	C3 := C * 3
	hs := C / NH
	scale := 1.0 / Sqrt(float32(hs))
	var wg sync.WaitGroup
	for batch := 0; batch < B; batch++ {
		for pos := 0; pos < T; pos++ {
			for head := 0; head < NH; head++ {
				wg.Add(1)
				go func(b, t, h int) {
					defer wg.Done()
					queryT := inp[b*T*C3+t*C3+h*hs:]
					preattBTH := preatt[b*NH*T*T+h*T*T+t*T:]
					attBTH := att[b*NH*T*T+h*T*T+t*T:]
					maxval := Inf(-1)
					for t2 := 0; t2 < T; t2++ {
						if padMask[b*T+t2] {
							continue
						}
						keyT2 := inp[b*T*C3+t2*C3+h*hs+C:]
						var val float32
						for i := 0; i < hs; i++ {
							val += queryT[i] * keyT2[i]
						}
						val *= scale
						if val > maxval {
							maxval = val
						}
						preattBTH[t2] = val
					}
					var expsum float32
					for t2 := 0; t2 < T; t2++ {
						if padMask[b*T+t2] {
							attBTH[t2] = 0.0
							continue
						}
						expv := Exp(preattBTH[t2] - maxval)
						expsum += expv
						attBTH[t2] = expv
					}
					var expsumInv float32
					if expsum != 0.0 {
						expsumInv = 1.0 / expsum
					}
					for t2 := 0; t2 < T; t2++ {
						attBTH[t2] *= expsumInv
					}
					outBTH := out[b*T*C+t*C+h*hs:]
					for i := 0; i < hs; i++ {
						outBTH[i] = 0.0
					}
					for t2 := 0; t2 < T; t2++ {
						if padMask[b*T+t2] {
							continue
						}
						valueT2 := inp[b*T*C3+t2*C3+h*hs+C*2:]
						attBTHT2 := attBTH[t2]
						for i := 0; i < hs; i++ {
							outBTH[i] += attBTHT2 * valueT2[i]
						}
					}
				}(batch, pos, head)
			}
		}
	}
	wg.Wait()
}

// AttentionBackward accumulates gradients for AttentionForward. Padded key
// positions contributed nothing in the forward pass and receive no gradient.
func AttentionBackward(dinp, dpreatt, datt, dout, inp, att []float32, padMask []bool, B, T, C, NH int) {
	C3 := C * 3
	hs := C / NH
	scale := 1.0 / Sqrt(float32(hs))
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			for h := 0; h < NH; h++ {
				attBTH := att[b*NH*T*T+h*T*T+t*T:]
				dattBTH := datt[b*NH*T*T+h*T*T+t*T:]
				dpreattBTH := dpreatt[b*NH*T*T+h*T*T+t*T:]
				dqueryT := dinp[b*T*C3+t*C3+h*hs:]
				queryT := inp[b*T*C3+t*C3+h*hs:]
				doutBTH := dout[b*T*C+t*C+h*hs:]
				// value accumulation
				for t2 := 0; t2 < T; t2++ {
					if padMask[b*T+t2] {
						continue
					}
					valueT2 := inp[b*T*C3+t2*C3+h*hs+C*2:]
					dvalueT2 := dinp[b*T*C3+t2*C3+h*hs+C*2:]
					for i := 0; i < hs; i++ {
						dattBTH[t2] += valueT2[i] * doutBTH[i]
						dvalueT2[i] += attBTH[t2] * doutBTH[i]
					}
				}
				// softmax
				for t2 := 0; t2 < T; t2++ {
					if padMask[b*T+t2] {
						continue
					}
					for t3 := 0; t3 < T; t3++ {
						if padMask[b*T+t3] {
							continue
						}
						var indicator float32
						if t2 == t3 {
							indicator = 1.0
						}
						localDerivative := attBTH[t2] * (indicator - attBTH[t3])
						dpreattBTH[t3] += localDerivative * dattBTH[t2]
					}
				}
				// query @ key matmul
				for t2 := 0; t2 < T; t2++ {
					if padMask[b*T+t2] {
						continue
					}
					keyT2 := inp[b*T*C3+t2*C3+h*hs+C:]
					dkeyT2 := dinp[b*T*C3+t2*C3+h*hs+C:]
					for i := 0; i < hs; i++ {
						dqueryT[i] += keyT2[i] * dpreattBTH[t2] * scale
						dkeyT2[i] += queryT[i] * dpreattBTH[t2] * scale
					}
				}
			}
		}
	}
}
