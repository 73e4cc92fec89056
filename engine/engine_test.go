package engine

import (
	"math"
	"testing"

	"github.com/nilszm/masteringeq/dsp/eqbands"
	"github.com/nilszm/masteringeq/measure/spectral"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func flatSnapshot(levelDB float64) []spectral.Point {
	grid := eqbands.Standard()
	pts := make([]spectral.Point, eqbands.NumBands)
	for i := range pts {
		pts[i] = spectral.Point{Freq: grid.Freq(i), LevelDB: levelDB}
	}
	return pts
}

func TestNew_InvalidSampleRate(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("zero sample rate should error")
	}
}

func TestEngine_ParameterClamping(t *testing.T) {
	e, err := New(48000)
	if err != nil {
		t.Fatal(err)
	}

	e.SetBandGainDB(0, 100)
	if got := e.BandGainDB(0); got != eqbands.MaxGainDB {
		t.Errorf("gain %v, want clamp at %v", got, eqbands.MaxGainDB)
	}

	e.SetBandGainDB(0, math.NaN())
	if got := e.BandGainDB(0); got != 0 {
		t.Errorf("NaN gain stored as %v, want 0", got)
	}

	e.SetBandQ(5, 0)
	if got := e.BandQ(5); got != eqbands.DefaultQ {
		t.Errorf("invalid q stored as %v, want default %v", got, eqbands.DefaultQ)
	}

	e.SetInputGainDB(-100)
	if got := e.InputGainDB(); got != eqbands.MinInputGainDB {
		t.Errorf("input gain %v, want clamp at %v", got, eqbands.MinInputGainDB)
	}
}

func TestEngine_ChangeNotification(t *testing.T) {
	e, err := New(48000)
	if err != nil {
		t.Fatal(err)
	}

	calls := 0
	e.SetChangeListener(func() { calls++ })

	e.SetBandGainDB(3, 2)
	e.SetBandQ(3, 1)
	e.SetInputGainDB(-3)
	e.ResetBands()

	if calls != 4 {
		t.Errorf("listener fired %d times, want 4", calls)
	}
}

func TestEngine_ResetBands(t *testing.T) {
	e, err := New(48000)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < eqbands.NumBands; i++ {
		e.SetBandGainDB(i, 5)
		e.SetBandQ(i, 2)
	}

	e.ResetBands()

	for i := 0; i < eqbands.NumBands; i++ {
		if e.BandGainDB(i) != 0 || e.BandQ(i) != eqbands.DefaultQ {
			t.Fatalf("band %d not reset: gain %v q %v", i, e.BandGainDB(i), e.BandQ(i))
		}
	}
}

func TestEngine_IdentityPassAtZeroGain(t *testing.T) {
	e, err := New(48000)
	if err != nil {
		t.Fatal(err)
	}

	left := make([]float64, 256)
	right := make([]float64, 256)
	want := make([]float64, 256)
	for i := range left {
		s := math.Sin(2 * math.Pi * 440 * float64(i) / 48000)
		left[i], right[i], want[i] = s, s, s
	}

	e.ProcessBlock(left, right)

	for i := range left {
		if left[i] != want[i] || right[i] != want[i] {
			t.Fatalf("sample %d: identity pass altered signal: %v / %v, want %v",
				i, left[i], right[i], want[i])
		}
	}
}

func TestEngine_InputGainApplied(t *testing.T) {
	e, err := New(48000)
	if err != nil {
		t.Fatal(err)
	}

	e.SetInputGainDB(-6)

	left := []float64{1, 1, 1, 1}
	e.ProcessBlock(left, nil)

	want := math.Pow(10, -6.0/20)
	for i, s := range left {
		if !almostEqual(s, want, 1e-12) {
			t.Fatalf("sample %d: %v, want %v", i, s, want)
		}
	}
}

func TestEngine_BoostChangesSignal(t *testing.T) {
	e, err := New(48000)
	if err != nil {
		t.Fatal(err)
	}

	e.SetBandGainDB(17, 6) // 1 kHz

	n := 4096
	left := make([]float64, n)
	right := make([]float64, n)
	var inputPower float64
	for i := range left {
		s := 0.5 * math.Sin(2*math.Pi*1000*float64(i)/48000)
		left[i], right[i] = s, s
		inputPower += s * s
	}

	e.ProcessBlock(left, right)

	var outputPower float64
	for _, s := range left {
		outputPower += s * s
	}

	if outputPower <= inputPower {
		t.Errorf("6 dB boost at 1 kHz: output power %v not above input power %v",
			outputPower, inputPower)
	}
}

func TestEngine_TickProducesSpectra(t *testing.T) {
	e, err := New(48000)
	if err != nil {
		t.Fatal(err)
	}

	if e.PreSpectrum() != nil || e.PostSpectrum() != nil {
		t.Fatal("spectra present before any audio")
	}

	block := make([]float64, 512)
	for i := 0; i <= spectral.DefaultFFTSize/len(block); i++ {
		for j := range block {
			block[j] = 0.5 * math.Sin(2*math.Pi*1000*float64(i*len(block)+j)/48000)
		}
		e.ProcessBlock(block, nil)
	}

	e.Tick()

	if e.PreSpectrum() == nil {
		t.Error("no pre-EQ spectrum after a full frame")
	}

	if e.PostSpectrum() == nil {
		t.Error("no post-EQ spectrum after a full frame")
	}
}

func TestEngine_MeasurementSession(t *testing.T) {
	e, err := New(48000)
	if err != nil {
		t.Fatal(err)
	}

	if e.IsMeasuring() {
		t.Fatal("measuring before start")
	}

	if e.AveragedSpectrum() != nil {
		t.Fatal("averaged spectrum without snapshots")
	}

	e.StartMeasurement()
	if !e.IsMeasuring() {
		t.Fatal("not measuring after start")
	}

	e.mu.Lock()
	e.snapshots = append(e.snapshots, flatSnapshot(-20), flatSnapshot(-20))
	e.mu.Unlock()

	e.StopMeasurement()
	if e.IsMeasuring() {
		t.Fatal("still measuring after stop")
	}

	if got := e.SnapshotCount(); got != 2 {
		t.Fatalf("snapshot count %d, want 2", got)
	}

	avg := e.AveragedSpectrum()
	if avg == nil {
		t.Fatal("no averaged spectrum after stop")
	}

	for _, p := range avg {
		if !almostEqual(p.LevelDB, -20, 1e-9) {
			t.Errorf("band %v Hz: average of two -20 dB snapshots is %v", p.Freq, p.LevelDB)
		}
	}

	e.ClearMeasurement()
	if e.AveragedSpectrum() != nil {
		t.Error("averaged spectrum survived clear")
	}
}

func TestPowerAverage_PowerDomain(t *testing.T) {
	snaps := [][]spectral.Point{
		{{Freq: 1000, LevelDB: -20}},
		{{Freq: 1000, LevelDB: eqbands.FloorDB}},
	}

	avg := powerAverage(snaps)
	if avg == nil {
		t.Fatal("nil average")
	}

	// Power-domain mean of -20 dB and silence sits strictly between the
	// floor and -20 dB, close to -23 dB (half the power).
	got := avg[0].LevelDB
	if got <= eqbands.FloorDB || got >= -20 {
		t.Fatalf("average %v, want strictly between floor and -20", got)
	}

	if !almostEqual(got, -20+10*math.Log10(0.5), 0.01) {
		t.Errorf("average %v, want ~%v", got, -20+10*math.Log10(0.5))
	}
}
