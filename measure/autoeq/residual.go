package autoeq

import (
	"fmt"

	"github.com/nilszm/masteringeq/dsp/eqbands"
	"github.com/nilszm/masteringeq/dsp/spectrum"
	"github.com/nilszm/masteringeq/measure/reference"
	"github.com/nilszm/masteringeq/measure/spectral"
)

// NoiseGateDB is the measurement noise gate. Measured levels below it are
// clamped up before differencing so a silent band's FFT noise floor does
// not turn into an enormous positive correction.
const NoiseGateDB = -120.0

// ResidualSet holds per-band correction targets derived from one measured
// spectrum and one reference curve.
type ResidualSet struct {
	// Values are the edge-faded per-band residuals in dB, positive where
	// the band needs boosting to reach the reference.
	Values [eqbands.NumBands]float64

	// StableOffsetDB is the mean raw residual over the stable range,
	// before edge fading. It doubles as a broadband gain signal and as
	// an offset callers may subtract before per-band fitting.
	StableOffsetDB float64
}

// Residuals aligns a measured spectrum and a reference curve onto the
// 31 band frequencies and returns their per-band dB differences.
//
// Both curves are sampled by log-frequency linear interpolation with
// clamped ends. alignOffsetDB is added to the measured side before
// differencing. Residuals taper to zero toward the grid extremes.
func Residuals(grid eqbands.Grid, measured []spectral.Point, ref reference.Curve, alignOffsetDB float64) (ResidualSet, error) {
	var out ResidualSet

	if len(measured) == 0 {
		return out, fmt.Errorf("autoeq: empty measured spectrum")
	}

	if ref.Empty() {
		return out, fmt.Errorf("autoeq: empty reference curve")
	}

	mFreqs := make([]float64, len(measured))
	mLevels := make([]float64, len(measured))
	for i, p := range measured {
		mFreqs[i] = p.Freq
		mLevels[i] = p.LevelDB
		if mLevels[i] < NoiseGateDB {
			mLevels[i] = NoiseGateDB
		}
	}

	rFreqs := ref.Freqs()
	rLevels := ref.Medians()

	stableSum := 0.0
	stableCount := 0

	for i := 0; i < eqbands.NumBands; i++ {
		f := grid.Freq(i)

		m := spectrum.InterpolateLogAt(mFreqs, mLevels, f) + alignOffsetDB
		r := spectrum.InterpolateLogAt(rFreqs, rLevels, f)
		resid := r - m

		if f >= eqbands.StableLowHz && f <= eqbands.StableHighHz {
			stableSum += resid
			stableCount++
		}

		out.Values[i] = resid * grid.EdgeFadeWeight(f)
	}

	if stableCount > 0 {
		out.StableOffsetDB = stableSum / float64(stableCount)
	}

	return out, nil
}
