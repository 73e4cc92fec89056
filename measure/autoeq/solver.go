package autoeq

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/nilszm/masteringeq/dsp/core"
	"github.com/nilszm/masteringeq/dsp/eqbands"
	"github.com/nilszm/masteringeq/dsp/spectrum"
)

// Config holds solver tuning parameters. The defaults are empirically
// tuned; treat them as adjustable knobs, not invariants.
type Config struct {
	// Stage 1: Gauss-Newton gain fit.
	MaxGainIterations int
	FDStepDB          float64 // finite-difference probe step per gain
	MaxStepDB         float64 // per-iteration step clamp
	StepTolDB         float64 // convergence tolerance on the step norm
	Damping           float64 // Tikhonov diagonal damping
	Smoothness        float64 // adjacent-band gain difference penalty

	// Stage 2: coordinate-descent Q fit.
	MaxQPasses  int
	QFactors    []float64 // multiplicative candidates per sweep
	QDriftWeight float64  // log-domain penalty for leaving the start Q
	RippleWeight float64  // second-difference penalty on the prediction

	// Dense fit grid.
	FitPoints int

	// Hybrid bass mode: when bass residuals spread beyond the trigger,
	// they are replaced by two broad bumps at the strongest positive and
	// negative extremes and the remaining bass bands are pinned to zero.
	BassLowHz        float64
	BassHighHz       float64
	BassTriggerDB    float64
	BassSigmaOctaves float64
	BassBlend        float64
	BassPinWeight    float64
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		MaxGainIterations: 8,
		FDStepDB:          0.25,
		MaxStepDB:         3,
		StepTolDB:         0.01,
		Damping:           1e-3,
		Smoothness:        0.1,

		MaxQPasses:   4,
		QFactors:     []float64{0.70, 0.85, 1.0, 1.18, 1.35},
		QDriftWeight: 0.5,
		RippleWeight: 0.05,

		FitPoints: 200,

		BassLowHz:        40,
		BassHighHz:       400,
		BassTriggerDB:    6,
		BassSigmaOctaves: 0.55,
		BassBlend:        0.85,
		BassPinWeight:    4,
	}
}

// Option configures a Solver.
type Option func(*Config)

// WithGainIterations sets the Stage 1 iteration cap.
func WithGainIterations(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.MaxGainIterations = n
		}
	}
}

// WithQPasses sets the Stage 2 sweep cap.
func WithQPasses(n int) Option {
	return func(cfg *Config) {
		if n >= 0 {
			cfg.MaxQPasses = n
		}
	}
}

// WithRegularization sets the Tikhonov damping and the adjacent-band
// smoothness weight of the gain fit.
func WithRegularization(damping, smoothness float64) Option {
	return func(cfg *Config) {
		if damping >= 0 {
			cfg.Damping = damping
		}
		if smoothness >= 0 {
			cfg.Smoothness = smoothness
		}
	}
}

// WithFitPoints sets the dense fit grid size.
func WithFitPoints(n int) Option {
	return func(cfg *Config) {
		if n >= 2 {
			cfg.FitPoints = n
		}
	}
}

// WithBassTrigger sets the residual spread (dB, over the bass range)
// above which hybrid bass mode engages. A very large value disables it.
func WithBassTrigger(db float64) Option {
	return func(cfg *Config) {
		if db > 0 {
			cfg.BassTriggerDB = db
		}
	}
}

// Result holds a completed fit.
type Result struct {
	GainsDB [eqbands.NumBands]float64
	Qs      [eqbands.NumBands]float64

	// HybridBass reports whether the bass residuals were replaced by the
	// two-bump approximation before fitting.
	HybridBass bool
}

// Solver fits 31 peaking-band gains and Qs to a per-band residual curve.
//
// Stage 1 solves for gains with Qs fixed: Gauss-Newton via normal
// equations with a finite-difference Jacobian, Tikhonov damping, an
// adjacent-band smoothness penalty, and a Cholesky solve, iterated a
// fixed number of times with a clamped step. Stage 2 holds gains fixed
// and coordinate-descends each band's Q over a small factor set against
// a loss combining fit error, prediction ripple, and Q drift. Stage 1
// then runs once more with the final Qs. The solver is deterministic:
// fixed iteration counts, first-found-best tie breaks, no randomness.
type Solver struct {
	grid eqbands.Grid
	cfg  Config
}

// NewSolver creates a solver over the given band grid.
func NewSolver(grid eqbands.Grid, opts ...Option) *Solver {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}

	if len(cfg.QFactors) == 0 {
		cfg.QFactors = DefaultConfig().QFactors
	}

	return &Solver{grid: grid, cfg: cfg}
}

// Fit solves for per-band gains and Qs matching the given residuals.
// residuals must have exactly one value per band. startQs supplies the
// Stage 2 starting Qs; nil means the default Q on every band. All
// outputs are hard-clamped to the valid gain and Q ranges.
func (s *Solver) Fit(residuals []float64, startQs []float64, sampleRate float64) (Result, error) {
	var res Result

	if len(residuals) != eqbands.NumBands {
		return res, fmt.Errorf("autoeq: need %d residuals, got %d", eqbands.NumBands, len(residuals))
	}

	if sampleRate <= 0 || math.IsNaN(sampleRate) || math.IsInf(sampleRate, 0) {
		return res, fmt.Errorf("autoeq: sample rate must be > 0: %f", sampleRate)
	}

	qs := make([]float64, eqbands.NumBands)
	for i := range qs {
		q := eqbands.DefaultQ
		if startQs != nil && i < len(startQs) {
			q = startQs[i]
		}
		qs[i] = core.ClampFinite(q, eqbands.MinQ, eqbands.MaxQ, eqbands.DefaultQ)
	}

	startQ := make([]float64, eqbands.NumBands)
	copy(startQ, qs)

	shaped := make([]float64, eqbands.NumBands)
	for i, r := range residuals {
		shaped[i] = core.ClampFinite(r, eqbands.MinGainDB, eqbands.MaxGainDB, 0)
	}

	pinned, hybrid := s.shapeBass(shaped)
	res.HybridBass = hybrid

	fitFreqs := s.fitGrid(sampleRate)
	target := make([]float64, len(fitFreqs))
	bandFreqs := s.grid.Freqs()
	for k, f := range fitFreqs {
		target[k] = spectrum.InterpolateLogAt(bandFreqs, shaped, f)
	}

	gains := make([]float64, eqbands.NumBands)

	s.fitGains(target, fitFreqs, gains, qs, pinned, sampleRate)
	s.fitQs(target, fitFreqs, gains, qs, startQ, sampleRate)
	s.fitGains(target, fitFreqs, gains, qs, pinned, sampleRate)

	for i := 0; i < eqbands.NumBands; i++ {
		res.GainsDB[i] = core.ClampFinite(gains[i], eqbands.MinGainDB, eqbands.MaxGainDB, 0)
		res.Qs[i] = core.ClampFinite(qs[i], eqbands.MinQ, qCeiling(res.GainsDB[i]), eqbands.DefaultQ)
	}

	return res, nil
}

// fitGrid returns the dense log-spaced fit frequencies, spanning the
// band range but staying safely below Nyquist.
func (s *Solver) fitGrid(sampleRate float64) []float64 {
	low := s.grid.Freq(0)
	high := math.Min(s.grid.Freq(eqbands.NumBands-1), 0.45*sampleRate)
	if high <= low {
		high = low * 2
	}

	logLow := math.Log10(low)
	logHigh := math.Log10(high)

	out := make([]float64, s.cfg.FitPoints)
	for k := range out {
		out[k] = math.Pow(10, logLow+(logHigh-logLow)*float64(k)/float64(s.cfg.FitPoints-1))
	}
	return out
}

// shapeBass applies hybrid bass mode in place when the bass residual
// spread exceeds the trigger. It returns the per-band pin weights flag
// and whether the mode engaged.
func (s *Solver) shapeBass(resid []float64) (pinned []bool, hybrid bool) {
	pinned = make([]bool, eqbands.NumBands)

	var bass []int
	for i := 0; i < eqbands.NumBands; i++ {
		f := s.grid.Freq(i)
		if f >= s.cfg.BassLowHz && f <= s.cfg.BassHighHz {
			bass = append(bass, i)
		}
	}

	if len(bass) < 3 {
		return pinned, false
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, i := range bass {
		lo = math.Min(lo, resid[i])
		hi = math.Max(hi, resid[i])
	}

	if hi-lo <= s.cfg.BassTriggerDB {
		return pinned, false
	}

	// The strongest positive and negative residual bands become broad
	// bump centers; everything else in the bass range is pinned.
	posIdx, negIdx := -1, -1
	for _, i := range bass {
		if resid[i] > 0 && (posIdx < 0 || resid[i] > resid[posIdx]) {
			posIdx = i
		}
		if resid[i] < 0 && (negIdx < 0 || resid[i] < resid[negIdx]) {
			negIdx = i
		}
	}

	sigma := s.cfg.BassSigmaOctaves
	bump := func(i, center int) float64 {
		d := math.Log2(s.grid.Freq(i) / s.grid.Freq(center))
		return resid[center] * math.Exp(-d*d/(2*sigma*sigma))
	}

	for _, i := range bass {
		sum := 0.0
		if posIdx >= 0 {
			sum += bump(i, posIdx)
		}
		if negIdx >= 0 {
			sum += bump(i, negIdx)
		}

		resid[i] = s.cfg.BassBlend*sum + (1-s.cfg.BassBlend)*resid[i]

		if i != posIdx && i != negIdx {
			pinned[i] = true
		}
	}

	return pinned, true
}

// fitGains runs the Stage 1 Gauss-Newton gain fit in place.
func (s *Solver) fitGains(target, fitFreqs, gains, qs []float64, pinned []bool, sampleRate float64) {
	const n = eqbands.NumBands
	m := len(fitFreqs)

	casc := newCascade(s.grid, gains, qs, sampleRate)

	contrib := make([][]float64, n)
	pred := make([]float64, m)
	for i := 0; i < n; i++ {
		contrib[i] = make([]float64, m)
	}

	refresh := func(i int) {
		casc.setBand(i, gains[i], qs[i])
		for k, f := range fitFreqs {
			pred[k] -= contrib[i][k]
			contrib[i][k] = casc.bandDB(i, f)
			pred[k] += contrib[i][k]
		}
	}

	for i := 0; i < n; i++ {
		refresh(i)
	}

	h := s.cfg.FDStepDB
	plus := make([]float64, m)
	minus := make([]float64, m)
	jac := mat.NewDense(m, n, nil)

	bVec := mat.NewVecDense(n, nil)
	step := mat.NewVecDense(n, nil)

	for iter := 0; iter < s.cfg.MaxGainIterations; iter++ {
		// The model is additive in dB, so each gain only moves its own
		// band's contribution: the Jacobian column is a central
		// difference of that single band's response.
		for i := 0; i < n; i++ {
			casc.setBand(i, gains[i]+h, qs[i])
			for k, f := range fitFreqs {
				plus[k] = casc.bandDB(i, f)
			}

			casc.setBand(i, gains[i]-h, qs[i])
			for k, f := range fitFreqs {
				minus[k] = casc.bandDB(i, f)
			}

			casc.setBand(i, gains[i], qs[i])
			for k := 0; k < m; k++ {
				jac.Set(k, i, (plus[k]-minus[k])/(2*h))
			}
		}

		a := mat.NewSymDense(n, nil)
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				sum := 0.0
				for k := 0; k < m; k++ {
					sum += jac.At(k, i) * jac.At(k, j)
				}
				a.SetSym(i, j, sum)
			}
		}

		for i := 0; i < n; i++ {
			sum := 0.0
			for k := 0; k < m; k++ {
				sum += jac.At(k, i) * (target[k] - pred[k])
			}
			bVec.SetVec(i, sum)
		}

		damp := s.cfg.Damping
		for i := 0; i < n; i++ {
			d := damp
			if pinned != nil && pinned[i] {
				d += s.cfg.BassPinWeight
				bVec.SetVec(i, bVec.AtVec(i)-s.cfg.BassPinWeight*gains[i])
			}
			a.SetSym(i, i, a.At(i, i)+d)
		}

		lam := s.cfg.Smoothness
		if lam > 0 {
			for i := 0; i < n-1; i++ {
				a.SetSym(i, i, a.At(i, i)+lam)
				a.SetSym(i+1, i+1, a.At(i+1, i+1)+lam)
				a.SetSym(i, i+1, a.At(i, i+1)-lam)

				d := gains[i+1] - gains[i]
				bVec.SetVec(i, bVec.AtVec(i)+lam*d)
				bVec.SetVec(i+1, bVec.AtVec(i+1)-lam*d)
			}
		}

		if !solveSPD(a, bVec, step) {
			break
		}

		maxStep := 0.0
		for i := 0; i < n; i++ {
			d := core.Clamp(step.AtVec(i), -s.cfg.MaxStepDB, s.cfg.MaxStepDB)
			gains[i] = core.Clamp(gains[i]+d, eqbands.MinGainDB, eqbands.MaxGainDB)
			maxStep = math.Max(maxStep, math.Abs(d))
		}

		for i := 0; i < n; i++ {
			refresh(i)
		}

		if maxStep < s.cfg.StepTolDB {
			break
		}
	}
}

// solveSPD solves a*x = b by Cholesky, escalating the diagonal damping a
// bounded number of times if the matrix is not positive definite.
func solveSPD(a *mat.SymDense, b, x *mat.VecDense) bool {
	n, _ := a.Dims()

	boost := 0.0
	for attempt := 0; attempt < 4; attempt++ {
		if boost > 0 {
			for i := 0; i < n; i++ {
				a.SetSym(i, i, a.At(i, i)+boost)
			}
		}

		var chol mat.Cholesky
		if chol.Factorize(a) {
			if err := chol.SolveVecTo(x, b); err == nil {
				return true
			}
		}

		if boost == 0 {
			boost = 1e-6
		} else {
			boost *= 100
		}
	}

	return false
}

// fitQs runs the Stage 2 coordinate descent over Qs in place.
func (s *Solver) fitQs(target, fitFreqs, gains, qs, startQ []float64, sampleRate float64) {
	if s.cfg.MaxQPasses == 0 {
		return
	}

	const n = eqbands.NumBands
	m := len(fitFreqs)

	casc := newCascade(s.grid, gains, qs, sampleRate)

	contrib := make([][]float64, n)
	pred := make([]float64, m)
	for i := 0; i < n; i++ {
		contrib[i] = make([]float64, m)
		for k, f := range fitFreqs {
			contrib[i][k] = casc.bandDB(i, f)
			pred[k] += contrib[i][k]
		}
	}

	fitAndRipple := func(p []float64) float64 {
		loss := 0.0
		for k := 0; k < m; k++ {
			d := target[k] - p[k]
			loss += d * d
		}

		if s.cfg.RippleWeight > 0 {
			for k := 1; k < m-1; k++ {
				r := p[k+1] - 2*p[k] + p[k-1]
				loss += s.cfg.RippleWeight * r * r
			}
		}

		return loss
	}

	drift := func(q, q0 float64) float64 {
		d := math.Log(q / q0)
		return s.cfg.QDriftWeight * d * d
	}

	predTry := make([]float64, m)
	contribTry := make([]float64, m)

	for pass := 0; pass < s.cfg.MaxQPasses; pass++ {
		improved := false

		for i := 0; i < n; i++ {
			if math.Abs(gains[i]) < 0.01 {
				continue
			}

			ceil := qCeiling(gains[i])

			bestLoss := fitAndRipple(pred) + drift(qs[i], startQ[i])
			bestQ := qs[i]

			for _, factor := range s.cfg.QFactors {
				qTry := core.Clamp(qs[i]*factor, eqbands.MinQ, ceil)
				if qTry == qs[i] {
					continue
				}

				casc.setBand(i, gains[i], qTry)
				for k, f := range fitFreqs {
					contribTry[k] = casc.bandDB(i, f)
					predTry[k] = pred[k] - contrib[i][k] + contribTry[k]
				}

				loss := fitAndRipple(predTry) + drift(qTry, startQ[i])
				if loss < bestLoss-1e-12 {
					bestLoss = loss
					bestQ = qTry
				}
			}

			if bestQ != qs[i] {
				qs[i] = bestQ
				casc.setBand(i, gains[i], qs[i])
				for k, f := range fitFreqs {
					c := casc.bandDB(i, f)
					pred[k] += c - contrib[i][k]
					contrib[i][k] = c
				}
				improved = true
			} else {
				casc.setBand(i, gains[i], qs[i])
			}
		}

		if !improved {
			break
		}
	}
}

// qCeiling tightens the maximum Q when the paired gain is large, keeping
// narrow high-gain peaks from ringing audibly.
func qCeiling(gainDB float64) float64 {
	ag := math.Abs(gainDB)
	if ag <= 6 {
		return eqbands.MaxQ
	}

	t := math.Min(1, (ag-6)/(eqbands.MaxGainDB-6))
	return 4.0 + t*(1.4-4.0)
}
