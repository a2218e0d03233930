// Package torch holds the float32 compute kernels for the transformer:
// forward and backward passes over flat slices, parallelised with goroutines
// where the work is per-position independent.
package torch

import (
	"math"
	"sync"
)

var geluScaleFactor = Sqrt(2.0 / math.Pi)

// Abs returns the absolute value of x.
func Abs(x float32) float32 {
	if x > 0 {
		return x
	}
	return -x
}

// Cosh returns the hyperbolic cosine of x.
func Cosh(x float32) float32 {
	return float32(math.Cosh(float64(x)))
}

// Tanh returns the hyperbolic tangent of x.
func Tanh(x float32) float32 {
	return float32(math.Tanh(float64(x)))
}

// Exp returns e**x.
func Exp(x float32) float32 {
	return float32(math.Exp(float64(x)))
}

// Inf returns positive infinity if sign >= 0, negative infinity if sign < 0.
func Inf(sign int) float32 {
	return float32(math.Inf(sign))
}

// Log returns the natural logarithm of x.
func Log(x float32) float32 {
	return float32(math.Log(float64(x)))
}

// Log1p returns the natural logarithm of 1+x.
func Log1p(x float32) float32 {
	return float32(math.Log1p(float64(x)))
}

// IsNaN reports whether f is not a number.
func IsNaN(f float32) bool {
	return math.IsNaN(float64(f))
}

// Pow returns x**y.
func Pow(x, y float32) float32 {
	return float32(math.Pow(float64(x), float64(y)))
}

// Sqrt returns the square root of x.
func Sqrt(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

// LayernormForward normalizes each (b,t) vector to zero mean and unit
// variance, then scales and shifts with the learnable weight and bias.
// The per-position mean and reciprocal standard deviation are stored for
// the backward pass.
//
// Shapes: out/inp (B,T,C), mean/rstd (B,T), weight/bias (C).
func LayernormForward(out, mean, rstd, inp, weight, bias []float32, B, T, C int) {
	const eps float32 = 1e-5
	for b := 0; b < B; b++ {
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
				n := s * (x[i] - m)
				outBT[i] = n*weight[i] + bias[i]
			}
			mean[b*T+t] = m
			rstd[b*T+t] = s
		}
	}
}

// LayernormBackward accumulates the layernorm gradients into dinp, dweight
// and dbias given the stored mean and rstd from the forward pass.
func LayernormBackward(dinp, dweight, dbias, dout, inp, weight, mean, rstd []float32, B, T, C int) {
	for b := 0; b < B; b++ {
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
				dnormI := weight[i] * doutBT[i]
				dnormMean += dnormI
				dnormNormMean += dnormI * normBTI
			}
			dnormMean /= float32(C)
			dnormNormMean /= float32(C)

			for i := 0; i < C; i++ {
				normBTI := (inpBT[i] - meanBT) * rstdBT
				dnormI := weight[i] * doutBT[i]
				dbias[i] += doutBT[i]
				dweight[i] += normBTI * doutBT[i]

				dval := dnormI
				dval -= dnormMean
				dval -= normBTI * dnormNormMean
				dval *= rstdBT
				dinpBT[i] += dval
			}
		}
	}
}

// MatmulForward computes out[b,t,:] = inp[b,t,:] @ weight^T + bias for every
// position. weight is (OC,C) row-major, bias may be nil.
func MatmulForward(out, inp, weight, bias []float32, B, T, C, OC int) {
	var wg sync.WaitGroup
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			wg.Add(1)
			go func(b, t int) {
				defer wg.Done()
				inpBT := inp[b*T*C+t*C:]
				outBT := out[b*T*OC+t*OC:]
				for o := 0; o < OC; o++ {
					var val float32
					if bias != nil {
						val = bias[o]
					}
					wrow := weight[o*C:]
					for i := 0; i < C; i++ {
						val += inpBT[i] * wrow[i]
					}
					outBT[o] = val
				}
			}(b, t)
		}
	}
	wg.Wait()
}

// MatmulBackward accumulates gradients for MatmulForward. dbias may be nil
// when the forward pass had no bias.
func MatmulBackward(dinp, dweight, dbias, dout, inp, weight []float32, B, T, C, OC int) {
	var wg sync.WaitGroup
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			wg.Add(1)
			go func(b, t int) {
				defer wg.Done()
				doutBT := dout[b*T*OC+t*OC:]
				dinpBT := dinp[b*T*C+t*C:]
				for o := 0; o < OC; o++ {
					wrow := weight[o*C:]
					d := doutBT[o]
					for i := 0; i < C; i++ {
						dinpBT[i] += wrow[i] * d
					}
				}
			}(b, t)
		}
	}
	wg.Wait()
	for o := 0; o < OC; o++ {
		wg.Add(1)
		go func(o int) {
			defer wg.Done()
			for b := 0; b < B; b++ {
				for t := 0; t < T; t++ {
					doutBT := dout[b*T*OC+t*OC:]
					inpBT := inp[b*T*C+t*C:]
					dwrow := dweight[o*C:]
					d := doutBT[o]
					if dbias != nil {
						dbias[o] += d
					}
					for i := 0; i < C; i++ {
						dwrow[i] += inpBT[i] * d
					}
				}
			}
		}(o)
	}
	wg.Wait()
}

// GeluForward is the tanh-approximated Gaussian Error Linear Unit.
func GeluForward(out, inp []float32, n int) {
	for i := 0; i < n; i++ {
		x := inp[i]
		cube := 0.044715 * x * x * x
		out[i] = 0.5 * x * (1.0 + Tanh(geluScaleFactor*(x+cube)))
	}
}

// GeluBackward computes the backward pass of the GELU non-linearity.
func GeluBackward(dinp, inp, dout []float32, n int) {
	for i := 0; i < n; i++ {
		x := inp[i]
		cube := 0.044715 * x * x * x
		tanhArg := geluScaleFactor * (x + cube)
		tanhOut := Tanh(tanhArg)
		coshOut := Cosh(tanhArg)
		sechOut := 1.0 / (coshOut * coshOut)
		localGrad := 0.5*(1.0+tanhOut) + x*0.5*sechOut*geluScaleFactor*(1.0+3.0*0.044715*x*x)
		dinp[i] += localGrad * dout[i]
	}
}

// ResidualForward computes out = inp1 + inp2 elementwise.
func ResidualForward(out, inp1, inp2 []float32, n int) {
	for i := 0; i < n; i++ {
		out[i] = inp1[i] + inp2[i]
	}
}

// ResidualBackward routes the output gradient to both inputs of a residual
// connection.
func ResidualBackward(dinp1, dinp2, dout []float32, n int) {
	for i := 0; i < n; i++ {
		dinp1[i] += dout[i]
		dinp2[i] += dout[i]
	}
}

// ClipGradNorm scales grads in place so that their global L2 norm does not
// exceed maxNorm, and returns the pre-clip norm.
func ClipGradNorm(grads []float32, maxNorm float32) float32 {
	var sum float64
	for _, g := range grads {
		sum += float64(g) * float64(g)
	}
	norm := float32(math.Sqrt(sum))
	if norm > maxNorm && norm > 0 {
		scale := maxNorm / norm
		for i := range grads {
			grads[i] *= scale
		}
	}
	return norm
}
