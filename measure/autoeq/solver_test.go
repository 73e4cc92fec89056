package autoeq

import (
	"math"
	"testing"

	"github.com/nilszm/masteringeq/dsp/eqbands"
	"github.com/nilszm/masteringeq/measure/reference"
)

func defaultQs() []float64 {
	qs := make([]float64, eqbands.NumBands)
	for i := range qs {
		qs[i] = eqbands.DefaultQ
	}
	return qs
}

func TestSolver_FlatTargetStaysFlat(t *testing.T) {
	s := NewSolver(eqbands.Standard())

	res, err := s.Fit(make([]float64, eqbands.NumBands), nil, 48000)
	if err != nil {
		t.Fatal(err)
	}

	for i, g := range res.GainsDB {
		if math.Abs(g) > 0.5 {
			t.Errorf("band %d: gain %v on a flat target, want ~0", i, g)
		}
	}

	if res.HybridBass {
		t.Error("hybrid bass engaged on a flat target")
	}
}

func TestSolver_RecoversKnownGains(t *testing.T) {
	grid := eqbands.Standard()
	qs := defaultQs()

	trueGains := make([]float64, eqbands.NumBands)
	trueGains[grid.Nearest(1000)] = 4
	trueGains[grid.Nearest(200)] = -3

	// Target sampled from the model's own response at the band centers.
	resid := make([]float64, eqbands.NumBands)
	for i := range resid {
		resid[i] = ResponseDB(grid, trueGains, qs, grid.Freq(i), 48000)
	}

	s := NewSolver(grid,
		WithRegularization(1e-6, 0),
		WithQPasses(0),
	)

	res, err := s.Fit(resid, qs, 48000)
	if err != nil {
		t.Fatal(err)
	}

	for i := range trueGains {
		if !almostEqual(res.GainsDB[i], trueGains[i], 0.5) {
			t.Errorf("band %v Hz: gain %v, want %v", grid.Freq(i), res.GainsDB[i], trueGains[i])
		}
	}
}

func TestSolver_SingleDipCorrection(t *testing.T) {
	grid := eqbands.Standard()
	ref := reference.Flat(grid.Freqs(), -60, 4)

	measured := flatSpectrum(grid, -60)
	dip := grid.Nearest(1000)
	measured[dip].LevelDB = -66

	rs, err := Residuals(grid, measured, ref, 0)
	if err != nil {
		t.Fatal(err)
	}

	s := NewSolver(grid)
	res, err := s.Fit(rs.Values[:], nil, 48000)
	if err != nil {
		t.Fatal(err)
	}

	if res.GainsDB[dip] <= 0 {
		t.Fatalf("gain at 1 kHz %v, want positive", res.GainsDB[dip])
	}

	for i, g := range res.GainsDB {
		if i != dip && math.Abs(g) > math.Abs(res.GainsDB[dip]) {
			t.Errorf("band %v Hz gain %v dominates the 1 kHz correction %v",
				grid.Freq(i), g, res.GainsDB[dip])
		}
	}
}

func TestSolver_ClampsAdversarialInput(t *testing.T) {
	grid := eqbands.Standard()

	resid := make([]float64, eqbands.NumBands)
	for i := range resid {
		resid[i] = 100
	}
	resid[3] = math.NaN()
	resid[4] = math.Inf(1)

	badQs := make([]float64, eqbands.NumBands)
	for i := range badQs {
		badQs[i] = -5
	}

	s := NewSolver(grid)
	res, err := s.Fit(resid, badQs, 48000)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < eqbands.NumBands; i++ {
		g, q := res.GainsDB[i], res.Qs[i]
		if math.IsNaN(g) || g < eqbands.MinGainDB || g > eqbands.MaxGainDB {
			t.Errorf("band %d: gain %v outside [%v, %v]", i, g, eqbands.MinGainDB, eqbands.MaxGainDB)
		}
		if math.IsNaN(q) || q < eqbands.MinQ || q > eqbands.MaxQ {
			t.Errorf("band %d: q %v outside [%v, %v]", i, q, eqbands.MinQ, eqbands.MaxQ)
		}
	}
}

func TestSolver_Deterministic(t *testing.T) {
	grid := eqbands.Standard()

	resid := make([]float64, eqbands.NumBands)
	for i := range resid {
		resid[i] = 3 * math.Sin(float64(i)/3)
	}

	s := NewSolver(grid)

	a, err := s.Fit(resid, nil, 48000)
	if err != nil {
		t.Fatal(err)
	}

	b, err := s.Fit(resid, nil, 48000)
	if err != nil {
		t.Fatal(err)
	}

	if a != b {
		t.Error("two identical fits produced different results")
	}
}

func TestSolver_HybridBassTrigger(t *testing.T) {
	grid := eqbands.Standard()

	resid := make([]float64, eqbands.NumBands)
	resid[grid.Nearest(63)] = 5
	resid[grid.Nearest(250)] = -4

	s := NewSolver(grid)
	res, err := s.Fit(resid, nil, 48000)
	if err != nil {
		t.Fatal(err)
	}

	if !res.HybridBass {
		t.Error("9 dB bass spread should engage hybrid bass mode")
	}

	// A mild spread stays on the per-band path.
	for i := range resid {
		resid[i] = 0
	}
	resid[grid.Nearest(63)] = 2

	res, err = s.Fit(resid, nil, 48000)
	if err != nil {
		t.Fatal(err)
	}

	if res.HybridBass {
		t.Error("2 dB bass spread should not engage hybrid bass mode")
	}
}

func TestSolver_QCeilingTightensForLargeGains(t *testing.T) {
	if got := qCeiling(3); got != eqbands.MaxQ {
		t.Errorf("ceiling at 3 dB: %v, want %v", got, eqbands.MaxQ)
	}

	if got := qCeiling(12); !almostEqual(got, 1.4, 1e-9) {
		t.Errorf("ceiling at 12 dB: %v, want 1.4", got)
	}

	if got := qCeiling(-12); !almostEqual(got, 1.4, 1e-9) {
		t.Errorf("ceiling at -12 dB: %v, want 1.4", got)
	}

	mid := qCeiling(9)
	if mid >= 4.0 || mid <= 1.4 {
		t.Errorf("ceiling at 9 dB: %v, want between 1.4 and 4.0", mid)
	}
}

func TestSolver_InputValidation(t *testing.T) {
	s := NewSolver(eqbands.Standard())

	if _, err := s.Fit(make([]float64, 5), nil, 48000); err == nil {
		t.Error("wrong residual count should error")
	}

	if _, err := s.Fit(make([]float64, eqbands.NumBands), nil, 0); err == nil {
		t.Error("zero sample rate should error")
	}
}
