package autoeq

import (
	"math"
	"testing"

	"github.com/nilszm/masteringeq/dsp/eqbands"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestBandResponseDB_IdentityAtZeroGain(t *testing.T) {
	for _, q := range []float64{0.3, 1, 4.32, 10} {
		for _, f := range []float64{20, 100, 1000, 10000, 20000} {
			if got := BandResponseDB(1000, 0, q, f, 48000); got != 0 {
				t.Errorf("q=%v f=%v: zero gain gave %v dB, want exactly 0", q, f, got)
			}
		}
	}
}

func TestBandResponseDB_PeaksAtCenter(t *testing.T) {
	got := BandResponseDB(1000, 6, 4.32, 1000, 48000)
	if !almostEqual(got, 6, 0.01) {
		t.Errorf("response at center %v dB, want ~6", got)
	}

	// Far from center the band contributes almost nothing.
	if got := BandResponseDB(1000, 6, 4.32, 20, 48000); math.Abs(got) > 0.1 {
		t.Errorf("response two decades away %v dB, want ~0", got)
	}
}

func TestBandResponseDB_GuardsAdversarialInput(t *testing.T) {
	cases := []struct {
		name                        string
		center, gain, q, freq, rate float64
	}{
		{"zero q", 1000, 6, 0, 1000, 48000},
		{"negative q", 1000, 6, -1, 1000, 48000},
		{"nan gain", 1000, math.NaN(), 4, 1000, 48000},
		{"inf gain", 1000, math.Inf(1), 4, 1000, 48000},
		{"center at nyquist", 24000, 6, 4, 1000, 48000},
		{"center above nyquist", 30000, 6, 4, 1000, 48000},
		{"zero sample rate", 1000, 6, 4, 1000, 0},
	}

	for _, tc := range cases {
		got := BandResponseDB(tc.center, tc.gain, tc.q, tc.freq, tc.rate)
		if math.IsNaN(got) || math.IsInf(got, 0) {
			t.Errorf("%s: non-finite response %v", tc.name, got)
		}
	}
}

func TestResponseDB_Additive(t *testing.T) {
	grid := eqbands.Standard()

	gains := make([]float64, eqbands.NumBands)
	qs := make([]float64, eqbands.NumBands)
	for i := range qs {
		qs[i] = eqbands.DefaultQ
	}

	gains[10] = 4 // 200 Hz
	gains[20] = -3 // 2 kHz

	sum := BandResponseDB(grid.Freq(10), 4, eqbands.DefaultQ, 500, 48000) +
		BandResponseDB(grid.Freq(20), -3, eqbands.DefaultQ, 500, 48000)

	if got := ResponseDB(grid, gains, qs, 500, 48000); !almostEqual(got, sum, 1e-9) {
		t.Errorf("cascade response %v, want additive sum %v", got, sum)
	}
}

func TestResponseCurve(t *testing.T) {
	grid := eqbands.Standard()

	gains := make([]float64, eqbands.NumBands)
	qs := make([]float64, eqbands.NumBands)
	for i := range qs {
		qs[i] = eqbands.DefaultQ
	}
	gains[17] = 6 // 1 kHz

	pts := ResponseCurve(grid, gains, qs, 48000, 128)
	if len(pts) != 128 {
		t.Fatalf("got %d points, want 128", len(pts))
	}

	best := 0
	for i, p := range pts {
		if i > 0 && p.Freq <= pts[i-1].Freq {
			t.Fatalf("frequencies not strictly increasing at %d", i)
		}
		if math.IsNaN(p.LevelDB) || math.IsInf(p.LevelDB, 0) {
			t.Fatalf("non-finite level at %v Hz", p.Freq)
		}
		if p.LevelDB > pts[best].LevelDB {
			best = i
		}
	}

	if pts[best].Freq < 800 || pts[best].Freq > 1250 {
		t.Errorf("response peak at %v Hz, want near 1000", pts[best].Freq)
	}

	if got := ResponseCurve(grid, gains, qs, 48000, 1); got != nil {
		t.Error("degenerate point count should yield nil")
	}
}
