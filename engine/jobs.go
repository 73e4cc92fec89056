package engine

import (
	"context"
	"fmt"

	"github.com/nilszm/masteringeq/dsp/core"
	"github.com/nilszm/masteringeq/dsp/eqbands"
	"github.com/nilszm/masteringeq/measure/autoeq"
	"github.com/nilszm/masteringeq/measure/reference"
	"github.com/nilszm/masteringeq/measure/spectral"
)

// SetReference installs a reference curve. An empty curve clears the
// reference.
func (e *Engine) SetReference(c reference.Curve) {
	e.mu.Lock()
	e.ref = c.Clone()
	e.mu.Unlock()

	e.notify()
}

// Reference returns a copy of the current reference curve, or nil.
func (e *Engine) Reference() reference.Curve {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ref.Clone()
}

// HasReference reports whether a reference curve is loaded.
func (e *Engine) HasReference() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.ref.Empty()
}

// LoadReferenceJSON loads a reference curve from a JSON file. On failure
// the current reference is left untouched.
func (e *Engine) LoadReferenceJSON(path string) error {
	c, err := reference.LoadJSON(path)
	if err != nil {
		return err
	}

	e.SetReference(c)
	return nil
}

// LoadBuiltinReference installs a named built-in reference curve.
func (e *Engine) LoadBuiltinReference(name string) error {
	c, ok := reference.Builtin(name, e.grid.Freqs())
	if !ok {
		return fmt.Errorf("engine: unknown builtin reference %q", name)
	}

	e.SetReference(c)
	return nil
}

// IsAnalyzingReference reports whether a reference file analysis is in
// flight.
func (e *Engine) IsAnalyzingReference() bool { return e.analyzing.Load() }

// AnalyzeReferenceFile builds a reference curve from a WAV file on a
// background goroutine and installs it on success. Returns ErrBusy if an
// analysis is already running. done, if non-nil, is called from the
// goroutine with the job's outcome; it is skipped entirely when the
// engine was closed before completion.
func (e *Engine) AnalyzeReferenceFile(ctx context.Context, path string, done func(error)) error {
	if !e.analyzing.CompareAndSwap(false, true) {
		return ErrBusy
	}

	go func() {
		defer e.analyzing.Store(false)

		c, err := e.builder.AnalyzeFile(ctx, path)

		if e.closed.Load() {
			return
		}

		if err == nil {
			e.SetReference(c)
		}

		if done != nil {
			done(err)
		}
	}()

	return nil
}

// IsFitting reports whether an auto-fit job is in flight.
func (e *Engine) IsFitting() bool { return e.fitting.Load() }

// ComputeTargetResiduals computes the per-band residuals from the
// averaged measurement against the reference and publishes them as the
// current target curve, without fitting.
func (e *Engine) ComputeTargetResiduals() error {
	e.mu.Lock()
	avg := powerAverage(e.snapshots)
	ref := e.ref.Clone()
	e.mu.Unlock()

	if avg == nil {
		return ErrNoMeasurement
	}

	if ref.Empty() {
		return ErrNoReference
	}

	rs, err := autoeq.Residuals(e.grid, avg, ref, 0)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.targetKind = TargetResiduals
	e.targets = rs.Values
	e.mu.Unlock()

	e.notify()
	return nil
}

// RunAutoFit solves for per-band gains and Qs matching the averaged
// measurement to the reference, on a background goroutine.
//
// The job captures copies of its inputs at submission. On completion it
// applies the fitted gains and Qs, adds the makeup gain to the existing
// input gain, publishes the corrections as the target curve, and fires
// the change notification. Returns ErrBusy if a fit is already running,
// ErrNoMeasurement or ErrNoReference when inputs are missing; in those
// cases nothing is mutated. done, if non-nil, runs from the goroutine
// after the result is applied; it is skipped when the engine was closed
// mid-job.
func (e *Engine) RunAutoFit(done func(error)) error {
	if !e.fitting.CompareAndSwap(false, true) {
		return ErrBusy
	}

	e.mu.Lock()
	avg := powerAverage(e.snapshots)
	ref := e.ref.Clone()
	e.mu.Unlock()

	if avg == nil {
		e.fitting.Store(false)
		return ErrNoMeasurement
	}

	if ref.Empty() {
		e.fitting.Store(false)
		return ErrNoReference
	}

	startQs := make([]float64, eqbands.NumBands)
	for i := range startQs {
		startQs[i] = loadFloat(&e.qs[i])
	}

	go func() {
		defer e.fitting.Store(false)

		err := e.runFit(avg, ref, startQs)

		if e.closed.Load() {
			return
		}

		if done != nil {
			done(err)
		}
	}()

	return nil
}

func (e *Engine) runFit(avg []spectral.Point, ref reference.Curve, startQs []float64) error {
	// First pass measures the broadband offset; the second pass aligns
	// the measured side with it so level mismatch lands in input gain,
	// not in 31 identical band gains.
	raw, err := autoeq.Residuals(e.grid, avg, ref, 0)
	if err != nil {
		return err
	}

	align := raw.StableOffsetDB

	aligned, err := autoeq.Residuals(e.grid, avg, ref, align)
	if err != nil {
		return err
	}

	res, err := e.solver.Fit(aligned.Values[:], startQs, e.sampleRate)
	if err != nil {
		return err
	}

	makeup := autoeq.MakeupGainDB(e.grid, avg, ref, align, res.GainsDB[:], res.Qs[:], e.sampleRate)

	if e.closed.Load() {
		return nil
	}

	for i := 0; i < eqbands.NumBands; i++ {
		storeFloat(&e.gains[i], res.GainsDB[i])
		storeFloat(&e.qs[i], res.Qs[i])
	}

	// Makeup composes with the existing input gain so repeated runs do
	// not discard prior manual adjustment.
	newGain := core.Clamp(loadFloat(&e.inputGain)+align+makeup,
		eqbands.MinInputGainDB, eqbands.MaxInputGainDB)
	storeFloat(&e.inputGain, newGain)

	e.mu.Lock()
	e.targetKind = TargetCorrections
	e.targets = res.GainsDB
	e.mu.Unlock()

	e.notify()
	return nil
}
