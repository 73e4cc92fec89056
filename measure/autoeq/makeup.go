package autoeq

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/nilszm/masteringeq/dsp/core"
	"github.com/nilszm/masteringeq/dsp/eqbands"
	"github.com/nilszm/masteringeq/dsp/spectrum"
	"github.com/nilszm/masteringeq/measure/reference"
	"github.com/nilszm/masteringeq/measure/spectral"
)

// MakeupGainDB estimates the broadband input-gain correction that levels
// the post-EQ spectrum with the reference.
//
// The predicted spectrum (measured level, plus the alignment offset,
// plus the solved cascade response) is compared against the reference
// median at every band in the stable range; the median of those
// differences is the makeup gain, clamped to the input-gain range. The
// median keeps single-band mismatches from skewing a broadband level
// decision. Callers add the result to the existing input gain so
// repeated runs compose instead of discarding prior manual adjustment.
func MakeupGainDB(grid eqbands.Grid, measured []spectral.Point, ref reference.Curve, alignOffsetDB float64, gains, qs []float64, sampleRate float64) float64 {
	if len(measured) == 0 || ref.Empty() {
		return 0
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

	casc := newCascade(grid, gains, qs, sampleRate)

	var diffs []float64
	for i := 0; i < eqbands.NumBands; i++ {
		f := grid.Freq(i)
		if f < eqbands.StableLowHz || f > eqbands.StableHighHz {
			continue
		}

		predicted := spectrum.InterpolateLogAt(mFreqs, mLevels, f) + alignOffsetDB + casc.responseDB(f)
		diffs = append(diffs, spectrum.InterpolateLogAt(rFreqs, rLevels, f)-predicted)
	}

	if len(diffs) == 0 {
		return 0
	}

	sort.Float64s(diffs)
	med := stat.Quantile(0.5, stat.LinInterp, diffs, nil)

	return core.ClampFinite(med, eqbands.MinInputGainDB, eqbands.MaxInputGainDB, 0)
}
