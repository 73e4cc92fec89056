// Package spectrum provides reductions and resampling helpers for
// frequency-domain data: complex-bin magnitude/power, dB conversion with a
// numeric floor, log-frequency interpolation, and across-band smoothing.
package spectrum

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cwbudde/algo-vecmath"
)

// scratchBuf holds pooled scratch memory for complex-to-real unpacking.
type scratchBuf struct {
	data []float64
}

var scratchPool = sync.Pool{
	New: func() any { return &scratchBuf{} },
}

func getScratch(n int) (re, im []float64, buf *scratchBuf) {
	buf = scratchPool.Get().(*scratchBuf)
	need := 2 * n
	if cap(buf.data) < need {
		buf.data = make([]float64, need)
	} else {
		buf.data = buf.data[:need]
	}
	return buf.data[:n], buf.data[n:need], buf
}

func putScratch(buf *scratchBuf) {
	scratchPool.Put(buf)
}

// Magnitude returns |X[k]| for each complex spectrum bin.
//
// Uses SIMD-optimized kernels when available. Scratch buffers are pooled,
// so in steady state this allocates only the output slice.
func Magnitude(in []complex128) []float64 {
	if len(in) == 0 {
		return nil
	}

	out := make([]float64, len(in))
	re, im, buf := getScratch(len(in))

	for i, c := range in {
		re[i] = real(c)
		im[i] = imag(c)
	}

	vecmath.Magnitude(out, re, im)
	putScratch(buf)
	return out
}

// Power returns |X[k]|^2 for each complex spectrum bin.
func Power(in []complex128) []float64 {
	if len(in) == 0 {
		return nil
	}

	out := make([]float64, len(in))
	re, im, buf := getScratch(len(in))

	for i, c := range in {
		re[i] = real(c)
		im[i] = imag(c)
	}

	vecmath.Power(out, re, im)
	putScratch(buf)
	return out
}

// PowerTo computes |X[k]|^2 into dst without allocating the output.
// dst and in must have the same length.
func PowerTo(dst []float64, in []complex128) {
	if len(in) == 0 {
		return
	}

	re, im, buf := getScratch(len(in))
	for i, c := range in {
		re[i] = real(c)
		im[i] = imag(c)
	}

	vecmath.Power(dst, re, im)
	putScratch(buf)
}

// InterpolateLog samples a piecewise-linear curve at queryFreqs, where the
// curve is linear in log10(frequency) and linear in level (dB).
//
// Queries below the first point or above the last return the boundary value
// (clamped, no extrapolation). freqs must be strictly increasing and
// positive, matching levels in length.
func InterpolateLog(freqs, levels, queryFreqs []float64) ([]float64, error) {
	if len(freqs) == 0 || len(levels) == 0 {
		return nil, fmt.Errorf("interpolate requires non-empty freqs and levels")
	}
	if len(freqs) != len(levels) {
		return nil, fmt.Errorf("interpolate freqs/levels length mismatch: %d != %d", len(freqs), len(levels))
	}
	for i := range freqs {
		if freqs[i] <= 0 {
			return nil, fmt.Errorf("interpolate frequencies must be > 0 at index %d", i)
		}
		if i > 0 && !(freqs[i] > freqs[i-1]) {
			return nil, fmt.Errorf("interpolate frequencies must be strictly increasing at index %d", i)
		}
	}

	out := make([]float64, len(queryFreqs))
	for i, q := range queryFreqs {
		out[i] = interpLogOne(freqs, levels, q)
	}
	return out, nil
}

// InterpolateLogAt samples the curve at a single frequency with the same
// clamped-end semantics as InterpolateLog. The inputs are assumed valid.
func InterpolateLogAt(freqs, levels []float64, q float64) float64 {
	return interpLogOne(freqs, levels, q)
}

func interpLogOne(freqs, levels []float64, q float64) float64 {
	n := len(freqs)
	if q <= freqs[0] {
		return levels[0]
	}
	if q >= freqs[n-1] {
		return levels[n-1]
	}

	j := sort.SearchFloat64s(freqs, q)
	if freqs[j] == q {
		return levels[j]
	}

	lf0 := math.Log10(freqs[j-1])
	lf1 := math.Log10(freqs[j])
	t := (math.Log10(q) - lf0) / (lf1 - lf0)
	return levels[j-1] + t*(levels[j]-levels[j-1])
}

// SmoothMovingAverage applies a centered moving average of the given tap
// count across the values, repeated for the given number of passes. Taps is
// forced odd; edges shrink the kernel symmetrically so the sequence length
// is preserved. This smooths across bands, never within a band's history.
func SmoothMovingAverage(values []float64, taps, passes int) []float64 {
	out := make([]float64, len(values))
	copy(out, values)

	if len(values) < 2 || taps < 2 || passes < 1 {
		return out
	}

	if taps%2 == 0 {
		taps++
	}
	half := taps / 2

	tmp := make([]float64, len(values))
	for p := 0; p < passes; p++ {
		for i := range out {
			lo := i - half
			hi := i + half
			if lo < 0 {
				lo = 0
			}
			if hi > len(out)-1 {
				hi = len(out) - 1
			}

			sum := 0.0
			for j := lo; j <= hi; j++ {
				sum += out[j]
			}
			tmp[i] = sum / float64(hi-lo+1)
		}
		copy(out, tmp)
	}

	return out
}
