package spectrum

import (
	"math"
	"testing"
)

const eps = 1e-12

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestMagnitude(t *testing.T) {
	in := []complex128{complex(3, 4), complex(0, 0), complex(-1, 0)}

	got := Magnitude(in)
	want := []float64{5, 0, 1}

	for i := range want {
		if !almostEqual(got[i], want[i], eps) {
			t.Errorf("bin %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPower(t *testing.T) {
	in := []complex128{complex(3, 4), complex(1, 1)}

	got := Power(in)
	want := []float64{25, 2}

	for i := range want {
		if !almostEqual(got[i], want[i], eps) {
			t.Errorf("bin %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPowerTo_MatchesPower(t *testing.T) {
	in := []complex128{complex(1, 2), complex(-3, 0.5), complex(0, -4)}

	dst := make([]float64, len(in))
	PowerTo(dst, in)

	ref := Power(in)
	for i := range ref {
		if !almostEqual(dst[i], ref[i], eps) {
			t.Errorf("bin %d: got %v, want %v", i, dst[i], ref[i])
		}
	}
}

func TestInterpolateLog_ExactPoints(t *testing.T) {
	freqs := []float64{100, 1000, 10000}
	levels := []float64{-60, -50, -70}

	got, err := InterpolateLog(freqs, levels, freqs)
	if err != nil {
		t.Fatal(err)
	}

	for i := range levels {
		if !almostEqual(got[i], levels[i], eps) {
			t.Errorf("exact point %d: got %v, want %v", i, got[i], levels[i])
		}
	}
}

func TestInterpolateLog_ClampedEnds(t *testing.T) {
	freqs := []float64{100, 1000}
	levels := []float64{-10, -20}

	got, err := InterpolateLog(freqs, levels, []float64{20, 20000})
	if err != nil {
		t.Fatal(err)
	}

	if got[0] != -10 {
		t.Errorf("below range: got %v, want -10", got[0])
	}

	if got[1] != -20 {
		t.Errorf("above range: got %v, want -20", got[1])
	}
}

func TestInterpolateLog_GeometricMidpoint(t *testing.T) {
	// Equal levels: any interior query returns that level.
	got, err := InterpolateLog([]float64{100, 10000}, []float64{-60, -60}, []float64{1000})
	if err != nil {
		t.Fatal(err)
	}

	if !almostEqual(got[0], -60, eps) {
		t.Errorf("flat curve midpoint: got %v, want -60", got[0])
	}

	// Sloped curve: the geometric midpoint lies halfway in dB.
	got, err = InterpolateLog([]float64{100, 10000}, []float64{-40, -60}, []float64{1000})
	if err != nil {
		t.Fatal(err)
	}

	if !almostEqual(got[0], -50, 1e-9) {
		t.Errorf("sloped curve midpoint: got %v, want -50", got[0])
	}
}

func TestInterpolateLog_Errors(t *testing.T) {
	if _, err := InterpolateLog(nil, nil, []float64{100}); err == nil {
		t.Error("empty inputs should error")
	}

	if _, err := InterpolateLog([]float64{1, 2}, []float64{0}, nil); err == nil {
		t.Error("length mismatch should error")
	}

	if _, err := InterpolateLog([]float64{100, 100}, []float64{0, 0}, nil); err == nil {
		t.Error("non-increasing freqs should error")
	}

	if _, err := InterpolateLog([]float64{-1, 100}, []float64{0, 0}, nil); err == nil {
		t.Error("non-positive freqs should error")
	}
}

func TestSmoothMovingAverage_FlatUnchanged(t *testing.T) {
	in := []float64{-60, -60, -60, -60, -60, -60, -60}

	out := SmoothMovingAverage(in, 5, 2)
	for i := range out {
		if !almostEqual(out[i], -60, eps) {
			t.Errorf("index %d: got %v, want -60", i, out[i])
		}
	}
}

func TestSmoothMovingAverage_ReducesSpike(t *testing.T) {
	in := make([]float64, 31)
	in[15] = 12

	out := SmoothMovingAverage(in, 5, 2)
	if out[15] >= 12 {
		t.Errorf("spike not attenuated: %v", out[15])
	}

	if out[13] <= 0 {
		t.Errorf("spike not spread to neighbors: %v", out[13])
	}

	// Energy is conserved away from edges.
	sumIn, sumOut := 0.0, 0.0
	for i := range in {
		sumIn += in[i]
		sumOut += out[i]
	}

	if !almostEqual(sumIn, sumOut, 1e-9) {
		t.Errorf("sum changed: %v -> %v", sumIn, sumOut)
	}
}

func TestSmoothMovingAverage_DegenerateInputs(t *testing.T) {
	in := []float64{1, 2}

	out := SmoothMovingAverage(in, 0, 0)
	if out[0] != 1 || out[1] != 2 {
		t.Errorf("degenerate params should copy input: %v", out)
	}
}
