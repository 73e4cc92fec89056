// Package engine ties the measurement and correction pipeline together
// behind one facade: parameter state for 31 EQ bands plus input gain,
// per-block stereo filtering with analyzer taps, a measurement session,
// reference-curve management, and asynchronous auto-fit jobs.
//
// Threading contract: ProcessBlock is called from the real-time audio
// thread and never blocks, locks, or allocates. Tick is called from a
// periodic owner-side timer (~30 Hz) and consumes analyzer frames. All
// other methods belong to the owner side; background jobs capture copies
// of their inputs and marshal results back through the engine's own
// state under its lock.
package engine

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/nilszm/masteringeq/dsp/core"
	"github.com/nilszm/masteringeq/dsp/eqbands"
	"github.com/nilszm/masteringeq/dsp/filter/biquad"
	"github.com/nilszm/masteringeq/dsp/filter/design"
	"github.com/nilszm/masteringeq/measure/autoeq"
	"github.com/nilszm/masteringeq/measure/reference"
	"github.com/nilszm/masteringeq/measure/spectral"
)

// Expected refusals. Callers treat these as "nothing happened", not as
// fatal conditions.
var (
	ErrBusy          = errors.New("engine: job already running")
	ErrNoMeasurement = errors.New("engine: no measurement snapshots")
	ErrNoReference   = errors.New("engine: no reference curve loaded")
)

// TargetKind says which target curve, if any, is populated.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetResiduals
	TargetCorrections
)

// Config holds engine settings.
type Config struct {
	SampleRate float64
	FFTSize    int
}

// Option configures an Engine.
type Option func(*Config)

// WithFFTSize sets the analyzer frame length. Must be a power of two.
func WithFFTSize(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.FFTSize = n
		}
	}
}

// Engine is the plugin core. Create one per audio stream; recreate when
// the sample rate changes.
type Engine struct {
	grid       eqbands.Grid
	sampleRate float64

	// Parameters are float bits in atomics so the audio thread reads
	// them tear-free while the owner side or a fit job writes them.
	gains     [eqbands.NumBands]atomic.Uint64
	qs        [eqbands.NumBands]atomic.Uint64
	inputGain atomic.Uint64

	// Audio-thread-only state.
	left   *biquad.Chain
	right  *biquad.Chain
	coeffs []biquad.Coefficients

	pre  *spectral.Analyzer
	post *spectral.Analyzer

	measuring atomic.Bool
	fitting   atomic.Bool
	analyzing atomic.Bool
	closed    atomic.Bool

	mu           sync.Mutex
	snapshots    [][]spectral.Point
	preSpectrum  []spectral.Point
	postSpectrum []spectral.Point
	ref          reference.Curve
	targetKind   TargetKind
	targets      [eqbands.NumBands]float64
	onChange     func()

	solver  *autoeq.Solver
	builder *reference.Builder
}

// New creates an engine for the given sample rate.
func New(sampleRate float64, opts ...Option) (*Engine, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("engine: sample rate must be > 0: %f", sampleRate)
	}

	cfg := Config{SampleRate: sampleRate, FFTSize: spectral.DefaultFFTSize}
	for _, o := range opts {
		o(&cfg)
	}

	grid := eqbands.Standard()

	pre, err := spectral.New(grid, sampleRate, spectral.WithFFTSize(cfg.FFTSize))
	if err != nil {
		return nil, err
	}

	post, err := spectral.New(grid, sampleRate, spectral.WithFFTSize(cfg.FFTSize))
	if err != nil {
		return nil, err
	}

	identity := make([]biquad.Coefficients, eqbands.NumBands)
	for i := range identity {
		identity[i] = biquad.Identity()
	}

	e := &Engine{
		grid:       grid,
		sampleRate: sampleRate,
		left:       biquad.NewChain(identity),
		right:      biquad.NewChain(identity),
		coeffs:     make([]biquad.Coefficients, eqbands.NumBands),
		pre:        pre,
		post:       post,
		solver:     autoeq.NewSolver(grid),
		builder:    reference.NewBuilder(grid),
	}

	for i := 0; i < eqbands.NumBands; i++ {
		e.gains[i].Store(math.Float64bits(0))
		e.qs[i].Store(math.Float64bits(eqbands.DefaultQ))
	}
	e.inputGain.Store(math.Float64bits(0))

	return e, nil
}

// SampleRate returns the configured sample rate.
func (e *Engine) SampleRate() float64 { return e.sampleRate }

// Close marks the engine as torn down. In-flight background jobs detect
// this and skip all further side effects.
func (e *Engine) Close() { e.closed.Store(true) }

// SetChangeListener installs a callback invoked after any parameter
// change, including those applied by background fit jobs. The callback
// may run on a background goroutine.
func (e *Engine) SetChangeListener(fn func()) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

func (e *Engine) notify() {
	e.mu.Lock()
	fn := e.onChange
	e.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func storeFloat(a *atomic.Uint64, v float64) { a.Store(math.Float64bits(v)) }
func loadFloat(a *atomic.Uint64) float64     { return math.Float64frombits(a.Load()) }

// BandGainDB returns band i's gain in dB.
func (e *Engine) BandGainDB(i int) float64 { return loadFloat(&e.gains[i]) }

// SetBandGainDB sets band i's gain, clamped to the valid range.
func (e *Engine) SetBandGainDB(i int, db float64) {
	storeFloat(&e.gains[i], core.ClampFinite(db, eqbands.MinGainDB, eqbands.MaxGainDB, 0))
	e.notify()
}

// BandQ returns band i's Q.
func (e *Engine) BandQ(i int) float64 { return loadFloat(&e.qs[i]) }

// SetBandQ sets band i's Q, clamped to the valid range.
func (e *Engine) SetBandQ(i int, q float64) {
	storeFloat(&e.qs[i], core.ClampFinite(q, eqbands.MinQ, eqbands.MaxQ, eqbands.DefaultQ))
	e.notify()
}

// InputGainDB returns the global input gain in dB.
func (e *Engine) InputGainDB() float64 { return loadFloat(&e.inputGain) }

// SetInputGainDB sets the global input gain, clamped to the valid range.
func (e *Engine) SetInputGainDB(db float64) {
	storeFloat(&e.inputGain, core.ClampFinite(db, eqbands.MinInputGainDB, eqbands.MaxInputGainDB, 0))
	e.notify()
}

// ResetBands restores every band to 0 dB gain and the default Q.
func (e *Engine) ResetBands() {
	for i := 0; i < eqbands.NumBands; i++ {
		storeFloat(&e.gains[i], 0)
		storeFloat(&e.qs[i], eqbands.DefaultQ)
	}
	e.notify()
}

// Reset clears the filter delay lines, for transport repositioning.
func (e *Engine) Reset() {
	e.left.Reset()
	e.right.Reset()
}

// ProcessBlock applies input gain and the EQ cascade to a stereo block
// in place, feeding the pre-EQ analyzer with the gained mono downmix and
// the post-EQ analyzer with the filtered downmix. Pass right as nil for
// mono. Coefficients are rebuilt from the current parameters on every
// block; at 0 dB a band is an exact pass-through.
func (e *Engine) ProcessBlock(left, right []float64) {
	gainLin := core.DBToLinear(loadFloat(&e.inputGain))

	for i := 0; i < eqbands.NumBands; i++ {
		e.coeffs[i] = design.Peak(e.grid.Freq(i), loadFloat(&e.gains[i]), loadFloat(&e.qs[i]), e.sampleRate)
	}
	e.left.UpdateCoefficients(e.coeffs)
	e.right.UpdateCoefficients(e.coeffs)

	if right == nil {
		for i := range left {
			left[i] *= gainLin
			e.pre.Push(left[i])
		}

		e.left.ProcessBlock(left)

		for _, s := range left {
			e.post.Push(s)
		}
		return
	}

	n := len(left)
	if len(right) < n {
		n = len(right)
	}

	for i := 0; i < n; i++ {
		left[i] *= gainLin
		right[i] *= gainLin
		e.pre.Push((left[i] + right[i]) * 0.5)
	}

	e.left.ProcessBlock(left[:n])
	e.right.ProcessBlock(right[:n])

	for i := 0; i < n; i++ {
		e.post.Push((left[i] + right[i]) * 0.5)
	}
}

// Tick consumes any analyzer frames that became ready since the last
// call, refreshing the display spectra and, while a measurement session
// is active, appending a pre-EQ snapshot.
func (e *Engine) Tick() {
	if pts := e.pre.Process(); pts != nil {
		clone := spectral.ClonePoints(pts)

		e.mu.Lock()
		e.preSpectrum = clone
		if e.measuring.Load() {
			e.snapshots = append(e.snapshots, clone)
		}
		e.mu.Unlock()
	}

	if pts := e.post.Process(); pts != nil {
		clone := spectral.ClonePoints(pts)

		e.mu.Lock()
		e.postSpectrum = clone
		e.mu.Unlock()
	}
}

// PreSpectrum returns the latest pre-EQ spectrum, or nil.
func (e *Engine) PreSpectrum() []spectral.Point {
	e.mu.Lock()
	defer e.mu.Unlock()
	return spectral.ClonePoints(e.preSpectrum)
}

// PostSpectrum returns the latest post-EQ spectrum, or nil.
func (e *Engine) PostSpectrum() []spectral.Point {
	e.mu.Lock()
	defer e.mu.Unlock()
	return spectral.ClonePoints(e.postSpectrum)
}

// StartMeasurement clears accumulated snapshots and begins collecting
// one pre-EQ snapshot per analyzer frame.
func (e *Engine) StartMeasurement() {
	e.mu.Lock()
	e.snapshots = nil
	e.mu.Unlock()

	e.measuring.Store(true)
}

// StopMeasurement stops collecting snapshots. Collected data stays
// available to AveragedSpectrum and the fit.
func (e *Engine) StopMeasurement() { e.measuring.Store(false) }

// ClearMeasurement stops the session and discards all snapshots and
// target curves.
func (e *Engine) ClearMeasurement() {
	e.measuring.Store(false)

	e.mu.Lock()
	e.snapshots = nil
	e.targetKind = TargetNone
	e.mu.Unlock()
}

// IsMeasuring reports whether a measurement session is active.
func (e *Engine) IsMeasuring() bool { return e.measuring.Load() }

// SnapshotCount returns the number of collected measurement snapshots.
func (e *Engine) SnapshotCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.snapshots)
}

// AveragedSpectrum reduces all measurement snapshots to one spectrum by
// per-band power-domain averaging. Returns nil if no snapshots exist.
func (e *Engine) AveragedSpectrum() []spectral.Point {
	e.mu.Lock()
	defer e.mu.Unlock()
	return powerAverage(e.snapshots)
}

// powerAverage averages spectra in the power domain:
// 10*log10(mean(10^(dB/10))) per band. Averaging dB values directly
// would bias the result toward quiet snapshots.
func powerAverage(snaps [][]spectral.Point) []spectral.Point {
	if len(snaps) == 0 {
		return nil
	}

	out := spectral.ClonePoints(snaps[0])
	for i := range out {
		sum := 0.0
		count := 0
		for _, snap := range snaps {
			if i >= len(snap) {
				continue
			}

			sum += core.DBPowerToLinear(snap[i].LevelDB)
			count++
		}

		if count > 0 {
			out[i].LevelDB = core.PowerToDB(sum/float64(count), eqbands.FloorDB)
		}
	}

	return out
}

// Targets returns which target curve is populated and its 31 values:
// raw residuals before a fit, fitted corrections after one.
func (e *Engine) Targets() (TargetKind, [eqbands.NumBands]float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.targetKind, e.targets
}
