// Package design computes biquad coefficients for parametric equalizer
// filters using the RBJ Audio-EQ-Cookbook formulas.
package design

import (
	"math"

	"github.com/nilszm/masteringeq/dsp/filter/biquad"
)

const defaultQ = 1 / math.Sqrt2

// Peak designs a peaking-EQ biquad with gain in dB.
//
// A gain of exactly 0 dB returns identity coefficients so an idle band is a
// true pass-through with no rounding coloration. Invalid input (non-positive
// or non-finite Q, frequency outside (0, Nyquist), bad sample rate) degrades
// to identity rather than producing NaN coefficients.
func Peak(freq, gainDB, q, sampleRate float64) biquad.Coefficients {
	if gainDB == 0 || math.IsNaN(gainDB) || math.IsInf(gainDB, 0) {
		return biquad.Identity()
	}

	w0, ok := normalizedW0(freq, sampleRate)
	if !ok {
		return biquad.Identity()
	}

	q = normalizedQ(q)
	cw := math.Cos(w0)
	sw := math.Sin(w0)
	alpha := sw / (2 * q)
	a := math.Pow(10, gainDB/40)

	b0 := 1 + alpha*a
	b1 := -2 * cw
	b2 := 1 - alpha*a
	a0 := 1 + alpha/a
	a1 := -2 * cw
	a2 := 1 - alpha/a

	return normalizeBiquad(b0, b1, b2, a0, a1, a2)
}

func normalizedW0(freq, sampleRate float64) (float64, bool) {
	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return 0, false
	}

	nyquist := sampleRate / 2
	if freq <= 0 || freq >= nyquist || math.IsNaN(freq) || math.IsInf(freq, 0) {
		return 0, false
	}

	return 2 * math.Pi * freq / sampleRate, true
}

func normalizedQ(q float64) float64 {
	if q <= 0 || math.IsNaN(q) || math.IsInf(q, 0) {
		return defaultQ
	}

	return q
}

func normalizeBiquad(b0, b1, b2, a0, a1, a2 float64) biquad.Coefficients {
	if a0 == 0 || math.IsNaN(a0) || math.IsInf(a0, 0) {
		return biquad.Identity()
	}

	return biquad.Coefficients{
		B0: b0 / a0,
		B1: b1 / a0,
		B2: b2 / a0,
		A1: a1 / a0,
		A2: a2 / a0,
	}
}
