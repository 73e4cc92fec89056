// Package window generates analysis window functions for FFT framing.
package window

import "math"

// Type identifies a window function.
type Type int

const (
	TypeRectangular Type = iota
	TypeHann
	TypeHamming
	TypeBlackman
)

// Option configures window generation.
type Option func(*config)

type config struct {
	periodic bool
}

// WithPeriodic configures the periodic form (FFT framing) instead of the
// symmetric form.
func WithPeriodic() Option {
	return func(c *config) {
		c.periodic = true
	}
}

// Generate returns n window coefficients of the given type.
// For n <= 0 it returns nil; for n == 1 it returns [1].
func Generate(t Type, n int, opts ...Option) []float64 {
	if n <= 0 {
		return nil
	}

	if n == 1 {
		return []float64{1}
	}

	var cfg config
	for _, o := range opts {
		o(&cfg)
	}

	denom := float64(n - 1)
	if cfg.periodic {
		denom = float64(n)
	}

	out := make([]float64, n)
	for i := range out {
		x := 2 * math.Pi * float64(i) / denom

		switch t {
		case TypeHann:
			out[i] = 0.5 - 0.5*math.Cos(x)
		case TypeHamming:
			out[i] = 0.54 - 0.46*math.Cos(x)
		case TypeBlackman:
			out[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
		default:
			out[i] = 1
		}
	}

	return out
}

// CoherentGain returns the mean of the window coefficients. Dividing FFT
// magnitudes by n*CoherentGain restores the amplitude of a coherent tone.
func CoherentGain(w []float64) float64 {
	if len(w) == 0 {
		return 0
	}

	sum := 0.0
	for _, v := range w {
		sum += v
	}

	return sum / float64(len(w))
}

// Apply multiplies buf in-place by the window. Both slices must have the
// same length.
func Apply(buf, w []float64) {
	_ = buf[len(w)-1]
	for i, v := range w {
		buf[i] *= v
	}
}
