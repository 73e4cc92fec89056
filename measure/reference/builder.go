package reference

import (
	"context"
	"fmt"
	"math"
	"sort"

	algofft "github.com/cwbudde/algo-fft"
	"gonum.org/v1/gonum/stat"

	"github.com/nilszm/masteringeq/dsp/eqbands"
	"github.com/nilszm/masteringeq/dsp/spectrum"
	"github.com/nilszm/masteringeq/dsp/window"
	"github.com/nilszm/masteringeq/measure/spectral"
)

const (
	// DefaultFFTSize is the analysis frame length of the offline builder.
	DefaultFFTSize = 4096

	// DefaultHopSize gives 50% frame overlap.
	DefaultHopSize = 2048

	// defaultCalibrationDB is the level the curve median is recentered to
	// over the stable range, so curves built from files at different
	// loudness are directly comparable.
	defaultCalibrationDB = -60.0

	// Spread post-processing: the raw p20..p80 width is shrunk and then
	// clamped, so dead-quiet and wildly dynamic sources both yield a
	// usable tolerance corridor.
	defaultShrinkFactor = 0.55
	defaultMinWidthDB   = 1.0
	defaultMaxWidthDB   = 6.0

	defaultLowQuantile  = 0.2
	defaultHighQuantile = 0.8

	defaultSmoothTaps   = 5
	defaultSmoothPasses = 2
)

// Config holds builder settings.
type Config struct {
	FFTSize    int
	HopSize    int
	WindowType window.Type

	CalibrationDB float64

	LowQuantile  float64
	HighQuantile float64

	SmoothTaps   int
	SmoothPasses int

	ShrinkFactor float64
	MinWidthDB   float64
	MaxWidthDB   float64
}

// Option configures a Builder.
type Option func(*Config)

// WithFFTSize sets the analysis frame length. Must be a power of two.
func WithFFTSize(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.FFTSize = n
		}
	}
}

// WithHopSize sets the analysis hop in samples.
func WithHopSize(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.HopSize = n
		}
	}
}

// WithCalibration sets the level the curve median is recentered to.
func WithCalibration(levelDB float64) Option {
	return func(cfg *Config) {
		cfg.CalibrationDB = levelDB
	}
}

// WithQuantiles sets the lower and upper percentiles of the per-band
// level distribution. Both must lie in (0, 1) with low < high.
func WithQuantiles(low, high float64) Option {
	return func(cfg *Config) {
		if low > 0 && high < 1 && low < high {
			cfg.LowQuantile = low
			cfg.HighQuantile = high
		}
	}
}

// WithSmoothing sets the across-band moving-average width and pass count.
func WithSmoothing(taps, passes int) Option {
	return func(cfg *Config) {
		if taps > 0 {
			cfg.SmoothTaps = taps
		}
		if passes >= 0 {
			cfg.SmoothPasses = passes
		}
	}
}

// WithSpreadLimits sets the shrink factor and width clamp applied to the
// p20..p80 corridor.
func WithSpreadLimits(shrink, minWidthDB, maxWidthDB float64) Option {
	return func(cfg *Config) {
		if shrink > 0 {
			cfg.ShrinkFactor = shrink
		}
		if minWidthDB >= 0 && maxWidthDB >= minWidthDB {
			cfg.MinWidthDB = minWidthDB
			cfg.MaxWidthDB = maxWidthDB
		}
	}
}

// Builder turns reference audio into a statistical per-band curve.
//
// It runs a Hann-windowed STFT over the material, reduces each frame to
// third-octave band levels with the same reduction the live analyzer
// uses, and summarizes each band's level distribution by its low, median
// and high percentiles. The raw curve is then smoothed across bands,
// recentered to the calibration level, and its spread narrowed to a
// bounded tolerance corridor.
type Builder struct {
	grid eqbands.Grid
	cfg  Config
}

// NewBuilder creates a builder for the given band grid.
func NewBuilder(grid eqbands.Grid, opts ...Option) *Builder {
	cfg := Config{
		FFTSize:       DefaultFFTSize,
		HopSize:       DefaultHopSize,
		WindowType:    window.TypeHann,
		CalibrationDB: defaultCalibrationDB,
		LowQuantile:   defaultLowQuantile,
		HighQuantile:  defaultHighQuantile,
		SmoothTaps:    defaultSmoothTaps,
		SmoothPasses:  defaultSmoothPasses,
		ShrinkFactor:  defaultShrinkFactor,
		MinWidthDB:    defaultMinWidthDB,
		MaxWidthDB:    defaultMaxWidthDB,
	}
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.HopSize > cfg.FFTSize {
		cfg.HopSize = cfg.FFTSize
	}

	return &Builder{grid: grid, cfg: cfg}
}

// AnalyzeFile decodes a WAV file (downmixed to mono) and builds its
// reference curve. The context cancels both decoding and analysis.
func (b *Builder) AnalyzeFile(ctx context.Context, path string) (Curve, error) {
	samples, sampleRate, err := DecodeWAVMono(ctx, path)
	if err != nil {
		return nil, err
	}

	return b.AnalyzeSamples(ctx, samples, sampleRate)
}

// AnalyzeSamples builds a reference curve from a mono sample stream.
func (b *Builder) AnalyzeSamples(ctx context.Context, samples []float64, sampleRate float64) (Curve, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("reference: sample rate must be > 0: %f", sampleRate)
	}

	if len(samples) < b.cfg.FFTSize {
		return nil, fmt.Errorf("reference: need at least %d samples, got %d", b.cfg.FFTSize, len(samples))
	}

	plan, err := algofft.NewPlan64(b.cfg.FFTSize)
	if err != nil {
		return nil, fmt.Errorf("reference: init fft plan: %w", err)
	}

	win := window.Generate(b.cfg.WindowType, b.cfg.FFTSize, window.WithPeriodic())
	winGain := window.CoherentGain(win)

	input := make([]complex128, b.cfg.FFTSize)
	output := make([]complex128, b.cfg.FFTSize)
	power := make([]float64, b.cfg.FFTSize)
	pts := make([]spectral.Point, 0, eqbands.NumBands)

	// Band levels per frame. The band set is fixed for a given sample
	// rate, so frame-to-frame point positions line up.
	var freqs []float64
	var series [][]float64

	for off := 0; off+b.cfg.FFTSize <= len(samples); off += b.cfg.HopSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame := samples[off : off+b.cfg.FFTSize]
		for i, s := range frame {
			input[i] = complex(s*win[i], 0)
		}

		if err := plan.Forward(output, input); err != nil {
			return nil, fmt.Errorf("reference: fft: %w", err)
		}

		spectrum.PowerTo(power, output)
		pts = spectral.ReduceBands(pts[:0], power, b.grid, sampleRate, b.cfg.FFTSize, winGain)

		if series == nil {
			freqs = make([]float64, len(pts))
			series = make([][]float64, len(pts))
			for i, p := range pts {
				freqs[i] = p.Freq
			}
		}

		for i, p := range pts {
			series[i] = append(series[i], p.LevelDB)
		}
	}

	if len(series) == 0 {
		return nil, fmt.Errorf("reference: no analysis frames produced")
	}

	low := make([]float64, len(series))
	mid := make([]float64, len(series))
	high := make([]float64, len(series))
	for i, s := range series {
		sort.Float64s(s)
		low[i] = stat.Quantile(b.cfg.LowQuantile, stat.LinInterp, s, nil)
		mid[i] = stat.Quantile(0.5, stat.LinInterp, s, nil)
		high[i] = stat.Quantile(b.cfg.HighQuantile, stat.LinInterp, s, nil)
	}

	b.smooth(low, mid, high)
	b.recenter(freqs, low, mid, high)
	b.shapeSpread(low, mid, high)

	out := make(Curve, len(freqs))
	for i := range freqs {
		out[i] = Band{Freq: freqs[i], P10: low[i], Median: mid[i], P90: high[i]}
	}

	out.clampOrdering()
	return out, nil
}

// smooth runs the across-band moving average over all three percentile
// tracks so single-band outliers do not become EQ targets.
func (b *Builder) smooth(low, mid, high []float64) {
	if b.cfg.SmoothPasses == 0 {
		return
	}

	copy(low, spectrum.SmoothMovingAverage(low, b.cfg.SmoothTaps, b.cfg.SmoothPasses))
	copy(mid, spectrum.SmoothMovingAverage(mid, b.cfg.SmoothTaps, b.cfg.SmoothPasses))
	copy(high, spectrum.SmoothMovingAverage(high, b.cfg.SmoothTaps, b.cfg.SmoothPasses))
}

// recenter shifts the whole curve so the median of the medians over the
// stable range lands on the calibration level. The absolute loudness of
// the source file must not leak into the curve.
func (b *Builder) recenter(freqs, low, mid, high []float64) {
	var stable []float64
	for i, f := range freqs {
		if f >= eqbands.StableLowHz && f <= eqbands.StableHighHz {
			stable = append(stable, mid[i])
		}
	}

	if len(stable) == 0 {
		stable = append(stable, mid...)
	}

	sort.Float64s(stable)
	center := stat.Quantile(0.5, stat.LinInterp, stable, nil)

	shift := b.cfg.CalibrationDB - center
	for i := range mid {
		low[i] += shift
		mid[i] += shift
		high[i] += shift
	}
}

// shapeSpread narrows the percentile corridor around the median and
// clamps its total width, keeping the tolerance band symmetric.
func (b *Builder) shapeSpread(low, mid, high []float64) {
	for i := range mid {
		width := (high[i] - low[i]) * b.cfg.ShrinkFactor
		width = math.Max(b.cfg.MinWidthDB, math.Min(b.cfg.MaxWidthDB, width))

		low[i] = mid[i] - width/2
		high[i] = mid[i] + width/2
	}
}
