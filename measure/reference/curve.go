// Package reference builds and represents statistical reference curves:
// per-band level distributions a track's spectrum is matched against.
package reference

import "math"

// Band is one fixed-frequency point of a reference curve, describing the
// distribution of levels observed at that frequency across a reference
// file or corpus.
//
// The field names follow the curve-file schema (p10/median/p90); the
// builder actually computes the 20th, 50th and 80th percentiles, which
// proved less noisy on short program material. The ordering invariant
// P10 <= Median <= P90 always holds after construction.
type Band struct {
	Freq   float64
	P10    float64
	Median float64
	P90    float64
}

// Curve is a frequency-ordered set of reference bands. An empty curve
// means "no reference loaded"; callers treat it as absent, never as an
// error condition.
type Curve []Band

// Empty reports whether no reference data is present.
func (c Curve) Empty() bool { return len(c) == 0 }

// Clone returns an owned copy of the curve.
func (c Curve) Clone() Curve {
	if len(c) == 0 {
		return nil
	}

	out := make(Curve, len(c))
	copy(out, c)
	return out
}

// Freqs returns the band center frequencies, ascending.
func (c Curve) Freqs() []float64 {
	out := make([]float64, len(c))
	for i, b := range c {
		out[i] = b.Freq
	}
	return out
}

// Medians returns the median level of each band.
func (c Curve) Medians() []float64 {
	out := make([]float64, len(c))
	for i, b := range c {
		out[i] = b.Median
	}
	return out
}

// clampOrdering restores P10 <= Median <= P90 on every band.
func (c Curve) clampOrdering() {
	for i := range c {
		b := &c[i]
		if b.P10 > b.Median {
			b.P10 = b.Median
		}
		if b.P90 < b.Median {
			b.P90 = b.Median
		}
	}
}

// Flat returns a synthetic curve with the given median level and a
// symmetric spread on every band of the grid frequencies supplied.
// Useful as a neutral built-in reference and in tests.
func Flat(freqs []float64, levelDB, spreadDB float64) Curve {
	if spreadDB < 0 {
		spreadDB = 0
	}

	out := make(Curve, len(freqs))
	for i, f := range freqs {
		out[i] = Band{
			Freq:   f,
			P10:    levelDB - spreadDB/2,
			Median: levelDB,
			P90:    levelDB + spreadDB/2,
		}
	}
	return out
}

// Builtin returns a named built-in reference curve for the given band
// frequencies, or false if the name is unknown. Genre curves ship as
// external JSON files; the built-ins cover the neutral targets that need
// no data file.
func Builtin(name string, freqs []float64) (Curve, bool) {
	switch name {
	case "flat":
		return Flat(freqs, defaultCalibrationDB, 4), true
	case "pink":
		// Pink noise falls 3 dB per octave; anchor 0 dB of tilt at 1 kHz.
		out := make(Curve, len(freqs))
		for i, f := range freqs {
			level := defaultCalibrationDB - 3*math.Log2(f/1000)
			out[i] = Band{Freq: f, P10: level - 2, Median: level, P90: level + 2}
		}
		return out, true
	default:
		return nil, false
	}
}
