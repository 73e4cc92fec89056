package core

import "math"

const defaultEpsilon = 1e-12

// Clamp limits value to the inclusive range [min, max].
func Clamp(value, min, max float64) float64 {
	if min > max {
		min, max = max, min
	}

	if value < min {
		return min
	}

	if value > max {
		return max
	}

	return value
}

// ClampFinite clamps value to [min, max] and maps non-finite input to def.
// Audio-rate code uses this instead of returning errors: NaN and Inf never
// survive past a parameter boundary.
func ClampFinite(value, min, max, def float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return def
	}

	return Clamp(value, min, max)
}

// NearlyEqual reports whether a and b are equal within eps.
func NearlyEqual(a, b, eps float64) bool {
	if eps <= 0 {
		eps = defaultEpsilon
	}

	diff := math.Abs(a - b)
	if diff <= eps {
		return true
	}

	largest := math.Max(math.Abs(a), math.Abs(b))
	if largest == 0 {
		return diff <= eps
	}

	return diff/largest <= eps
}

// DBToLinear converts dB to linear amplitude (20*log10 convention).
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// LinearToDB converts linear amplitude to dB, clamped to floorDB so that
// zero or negative input never produces -Inf or NaN.
func LinearToDB(linear, floorDB float64) float64 {
	if linear <= 0 {
		return floorDB
	}

	db := 20 * math.Log10(linear)
	if db < floorDB {
		return floorDB
	}

	return db
}

// DBPowerToLinear converts dB to linear power (10*log10 convention).
func DBPowerToLinear(db float64) float64 {
	return math.Pow(10, db/10)
}

// PowerToDB converts linear power to dB, clamped to floorDB.
func PowerToDB(power, floorDB float64) float64 {
	if power <= 0 {
		return floorDB
	}

	db := 10 * math.Log10(power)
	if db < floorDB {
		return floorDB
	}

	return db
}
