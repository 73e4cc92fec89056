// Package autoeq computes 31-band EQ corrections: residuals between a
// measured spectrum and a reference curve, a two-stage curve-fit solver
// for per-band gains and Qs, and a broadband makeup-gain estimate.
package autoeq

import (
	"math"

	"github.com/nilszm/masteringeq/dsp/eqbands"
	"github.com/nilszm/masteringeq/dsp/filter/biquad"
	"github.com/nilszm/masteringeq/dsp/filter/design"
	"github.com/nilszm/masteringeq/measure/spectral"
)

// BandResponseDB returns the dB contribution of a single peaking band at
// the given frequency. Invalid parameters never propagate NaN or Inf:
// non-finite gain or an out-of-range center frequency contributes 0 dB,
// and a non-positive Q falls back to the designer's default.
func BandResponseDB(centerFreq, gainDB, q, freq, sampleRate float64) float64 {
	coeffs := design.Peak(centerFreq, gainDB, q, sampleRate)
	if coeffs.IsIdentity() {
		return 0
	}

	db := coeffs.MagnitudeDB(freq, sampleRate)
	if math.IsNaN(db) || math.IsInf(db, 0) {
		return 0
	}

	return db
}

// cascade caches the coefficients of all 31 bands so repeated response
// evaluations inside the solver skip filter redesign.
type cascade struct {
	grid       eqbands.Grid
	sampleRate float64
	coeffs     [eqbands.NumBands]biquad.Coefficients
	active     [eqbands.NumBands]bool
}

func newCascade(grid eqbands.Grid, gains, qs []float64, sampleRate float64) *cascade {
	c := &cascade{grid: grid, sampleRate: sampleRate}
	for i := 0; i < eqbands.NumBands; i++ {
		c.setBand(i, gains[i], qs[i])
	}
	return c
}

func (c *cascade) setBand(i int, gainDB, q float64) {
	c.coeffs[i] = design.Peak(c.grid.Freq(i), gainDB, q, c.sampleRate)
	c.active[i] = !c.coeffs[i].IsIdentity()
}

// bandDB returns band i's dB contribution at freq, guarded against
// non-finite magnitudes near the filter's numeric limits.
func (c *cascade) bandDB(i int, freq float64) float64 {
	if !c.active[i] {
		return 0
	}

	db := c.coeffs[i].MagnitudeDB(freq, c.sampleRate)
	if math.IsNaN(db) || math.IsInf(db, 0) {
		return 0
	}

	return db
}

// responseDB returns the summed dB response of the whole cascade at freq.
// Cascaded magnitudes multiply, so their dB contributions add.
func (c *cascade) responseDB(freq float64) float64 {
	sum := 0.0
	for i := 0; i < eqbands.NumBands; i++ {
		sum += c.bandDB(i, freq)
	}
	return sum
}

// ResponseDB returns the summed dB response of a 31-band peaking cascade
// at a single frequency.
func ResponseDB(grid eqbands.Grid, gains, qs []float64, freq, sampleRate float64) float64 {
	sum := 0.0
	for i := 0; i < eqbands.NumBands; i++ {
		sum += BandResponseDB(grid.Freq(i), gains[i], qs[i], freq, sampleRate)
	}
	return sum
}

// ResponseCurve evaluates the cascade's dB response on a log-spaced
// frequency grid from the lowest band to the highest band below Nyquist.
// Used for display overlays.
func ResponseCurve(grid eqbands.Grid, gains, qs []float64, sampleRate float64, points int) []spectral.Point {
	if points < 2 || sampleRate <= 0 {
		return nil
	}

	c := newCascade(grid, gains, qs, sampleRate)

	low := grid.Freq(0)
	high := math.Min(grid.Freq(eqbands.NumBands-1), 0.45*sampleRate)
	if high <= low {
		return nil
	}

	logLow := math.Log10(low)
	logHigh := math.Log10(high)

	out := make([]spectral.Point, points)
	for k := 0; k < points; k++ {
		f := math.Pow(10, logLow+(logHigh-logLow)*float64(k)/float64(points-1))
		out[k] = spectral.Point{Freq: f, LevelDB: c.responseDB(f)}
	}
	return out
}
