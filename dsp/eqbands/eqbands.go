// Package eqbands defines the fixed 31-band third-octave grid shared by the
// filter cascade, the analyzers, and the curve-fit solver.
package eqbands

import "math"

// NumBands is the number of equalizer bands.
const NumBands = 31

// Parameter and display ranges shared across the engine.
const (
	MinGainDB = -12.0
	MaxGainDB = 12.0

	MinQ     = 0.3
	MaxQ     = 10.0
	DefaultQ = 4.32

	MinInputGainDB = -24.0
	MaxInputGainDB = 24.0

	// FloorDB is the numeric floor for all dB conversions. Values at or
	// below this level are treated as silence.
	FloorDB = -160.0
)

// Stable range used for curve alignment and makeup-gain estimation.
// Levels outside this range are too dependent on FFT resolution and
// program material to anchor broadband decisions on.
const (
	StableLowHz  = 50.0
	StableHighHz = 10000.0
)

// Edge-fade range: residuals taper linearly to zero below FadeLowHz and
// above FadeHighHz.
const (
	FadeLowHz  = 40.0
	FadeHighHz = 16000.0
)

// centerFreqs are the IEC 61260 third-octave center frequencies from
// 20 Hz to 20 kHz.
var centerFreqs = [NumBands]float64{
	20, 25, 31.5, 40, 50, 63, 80, 100, 125, 160, 200,
	250, 315, 400, 500, 630, 800, 1000, 1250, 1600, 2000,
	2500, 3150, 4000, 5000, 6300, 8000, 10000, 12500, 16000, 20000,
}

// halfBandFactor is 2^(1/6): one half of a third-octave band.
var halfBandFactor = math.Pow(2, 1.0/6.0)

// Grid is the immutable band layout passed into components at construction.
type Grid struct {
	freqs [NumBands]float64
}

// Standard returns the 31-band third-octave grid.
func Standard() Grid {
	return Grid{freqs: centerFreqs}
}

// Freq returns the center frequency of band i.
func (g Grid) Freq(i int) float64 { return g.freqs[i] }

// Freqs returns a copy of all center frequencies, ascending.
func (g Grid) Freqs() []float64 {
	out := make([]float64, NumBands)
	copy(out, g.freqs[:])
	return out
}

// Edges returns the lower and upper band-edge frequencies of band i,
// spaced a half third-octave (factor 2^(1/6)) around the center.
func (g Grid) Edges(i int) (low, high float64) {
	return g.freqs[i] / halfBandFactor, g.freqs[i] * halfBandFactor
}

// Nearest returns the index of the band whose center frequency is closest
// to f in log-frequency distance.
func (g Grid) Nearest(f float64) int {
	if f <= g.freqs[0] {
		return 0
	}
	if f >= g.freqs[NumBands-1] {
		return NumBands - 1
	}

	best := 0
	bestDist := math.Inf(1)
	lf := math.Log10(f)
	for i, fc := range g.freqs {
		d := math.Abs(math.Log10(fc) - lf)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// EdgeFadeWeight returns the per-band residual weight in [0, 1]: 1 inside
// [FadeLowHz, FadeHighHz], tapering linearly in log-frequency to 0 at the
// grid extremes.
func (g Grid) EdgeFadeWeight(f float64) float64 {
	switch {
	case f >= FadeLowHz && f <= FadeHighHz:
		return 1
	case f <= g.freqs[0] || f >= g.freqs[NumBands-1]:
		return 0
	case f < FadeLowHz:
		lo := math.Log10(g.freqs[0])
		hi := math.Log10(FadeLowHz)
		return (math.Log10(f) - lo) / (hi - lo)
	default:
		lo := math.Log10(FadeHighHz)
		hi := math.Log10(g.freqs[NumBands-1])
		return (hi - math.Log10(f)) / (hi - lo)
	}
}
