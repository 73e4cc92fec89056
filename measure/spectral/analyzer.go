// Package spectral implements a streaming third-octave spectrum analyzer.
//
// Samples are pushed one at a time from the audio thread into a fixed-size
// FIFO; when a frame fills, it is handed to the consumer side through an
// atomic ready flag. The consumer (a UI timer, typically ~30 Hz) calls
// Process to window the frame, run the FFT, and reduce the bins to
// third-octave band levels in dB.
//
// Push never blocks, locks, or allocates. Two independent analyzers (one
// before and one after the EQ) share nothing.
package spectral

import (
	"fmt"
	"math"
	"sync/atomic"

	algofft "github.com/cwbudde/algo-fft"

	"github.com/nilszm/masteringeq/dsp/core"
	"github.com/nilszm/masteringeq/dsp/eqbands"
	"github.com/nilszm/masteringeq/dsp/spectrum"
	"github.com/nilszm/masteringeq/dsp/window"
)

// DefaultFFTSize is the analysis frame length in samples.
const DefaultFFTSize = 4096

// Point is one sample of a discretized spectrum.
type Point struct {
	Freq    float64 // band center frequency in Hz
	LevelDB float64 // band level in dB, floored at eqbands.FloorDB
}

// Config holds analyzer settings.
type Config struct {
	SampleRate float64
	FFTSize    int
	WindowType window.Type
}

// Option configures an Analyzer.
type Option func(*Config)

// WithFFTSize sets the analysis frame length. Must be a power of two.
func WithFFTSize(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.FFTSize = n
		}
	}
}

// WithWindowType sets the analysis window.
func WithWindowType(t window.Type) Option {
	return func(cfg *Config) {
		cfg.WindowType = t
	}
}

// Analyzer converts a continuous sample stream into third-octave band
// levels. It is safe for one producer goroutine (Push) and one consumer
// goroutine (FrameReady/Process) to use concurrently.
type Analyzer struct {
	grid       eqbands.Grid
	sampleRate float64
	fftSize    int

	fifo      []float64
	fifoIndex int

	frame      []float64
	frameReady atomic.Bool

	win     []float64
	winGain float64

	plan   *algofft.Plan[complex128]
	input  []complex128
	output []complex128
	power  []float64

	points []Point
}

// New creates an analyzer for the given band grid and sample rate.
func New(grid eqbands.Grid, sampleRate float64, opts ...Option) (*Analyzer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("spectral: sample rate must be > 0: %f", sampleRate)
	}

	cfg := Config{
		SampleRate: sampleRate,
		FFTSize:    DefaultFFTSize,
		WindowType: window.TypeHann,
	}
	for _, o := range opts {
		o(&cfg)
	}

	plan, err := algofft.NewPlan64(cfg.FFTSize)
	if err != nil {
		return nil, fmt.Errorf("spectral: init fft plan: %w", err)
	}

	win := window.Generate(cfg.WindowType, cfg.FFTSize, window.WithPeriodic())

	return &Analyzer{
		grid:       grid,
		sampleRate: cfg.SampleRate,
		fftSize:    cfg.FFTSize,
		fifo:       make([]float64, cfg.FFTSize),
		frame:      make([]float64, cfg.FFTSize),
		win:        win,
		winGain:    window.CoherentGain(win),
		plan:       plan,
		input:      make([]complex128, cfg.FFTSize),
		output:     make([]complex128, cfg.FFTSize),
		power:      make([]float64, cfg.FFTSize),
		points:     make([]Point, 0, eqbands.NumBands),
	}, nil
}

// SampleRate returns the configured sample rate.
func (a *Analyzer) SampleRate() float64 { return a.sampleRate }

// FFTSize returns the analysis frame length.
func (a *Analyzer) FFTSize() int { return a.fftSize }

// Push appends one sample to the FIFO. When the FIFO fills, the frame is
// published to the consumer side unless the previous frame is still
// unconsumed, in which case it is dropped. O(1), lock-free, alloc-free:
// safe inside a real-time audio callback.
func (a *Analyzer) Push(sample float64) {
	if a.fifoIndex == a.fftSize {
		if !a.frameReady.Load() {
			copy(a.frame, a.fifo)
			a.frameReady.Store(true)
		}

		a.fifoIndex = 0
	}

	a.fifo[a.fifoIndex] = sample
	a.fifoIndex++
}

// PushBlock appends a block of samples.
func (a *Analyzer) PushBlock(samples []float64) {
	for _, s := range samples {
		a.Push(s)
	}
}

// FrameReady reports whether a full frame is waiting to be processed.
func (a *Analyzer) FrameReady() bool {
	return a.frameReady.Load()
}

// Process consumes the pending frame and returns the fresh band levels,
// or nil if no frame is ready. The returned slice fully replaces any
// previous spectrum; it is reused across calls and must not be retained
// across the next Process.
func (a *Analyzer) Process() []Point {
	if !a.frameReady.Load() {
		return nil
	}

	for i, s := range a.frame {
		a.input[i] = complex(s*a.win[i], 0)
	}

	a.frameReady.Store(false)

	if err := a.plan.Forward(a.output, a.input); err != nil {
		return nil
	}

	spectrum.PowerTo(a.power, a.output)

	a.points = ReduceBands(a.points[:0], a.power, a.grid, a.sampleRate, a.fftSize, a.winGain)
	return a.points
}

// ReduceBands averages bin power over each third-octave band and converts
// the result to dB. Bands whose lower edge reaches Nyquist are omitted,
// along with everything above them. The offline reference builder shares
// this reduction so measured and reference levels stay comparable.
func ReduceBands(dst []Point, power []float64, grid eqbands.Grid, sampleRate float64, fftSize int, winGain float64) []Point {
	nyquist := sampleRate / 2
	binWidth := sampleRate / float64(fftSize)
	maxBin := fftSize/2 - 1

	norm := float64(fftSize) * math.Max(winGain, 1e-12)
	normSq := norm * norm

	for i := 0; i < eqbands.NumBands; i++ {
		lower, upper := grid.Edges(i)
		if lower >= nyquist {
			break
		}

		if upper > nyquist {
			upper = nyquist
		}

		lowerBin := int(math.Floor(lower / binWidth))
		upperBin := int(math.Ceil(upper / binWidth))

		lowerBin = clampBin(lowerBin, 1, maxBin)
		upperBin = clampBin(upperBin, 1, maxBin)
		if upperBin < lowerBin {
			continue
		}

		sum := 0.0
		for bin := lowerBin; bin <= upperBin; bin++ {
			sum += power[bin]
		}

		meanPower := sum / (float64(upperBin-lowerBin+1) * normSq)

		dst = append(dst, Point{
			Freq:    grid.Freq(i),
			LevelDB: core.PowerToDB(meanPower, eqbands.FloorDB),
		})
	}

	return dst
}

func clampBin(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ClonePoints returns an owned copy of a spectrum slice.
func ClonePoints(pts []Point) []Point {
	if len(pts) == 0 {
		return nil
	}

	out := make([]Point, len(pts))
	copy(out, pts)
	return out
}
