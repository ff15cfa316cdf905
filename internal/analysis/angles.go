// Package analysis turns a run of decoded measurements into zeroed angle,
// velocity and acceleration series and summarises the slew of each encoder.
package analysis

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// mod returns x mod m with the sign of m.
func mod(x, m float64) float64 {
	r := math.Mod(x, m)
	if r < 0 {
		r += m
	}
	return r
}

// Wrap180 maps deg into [-180, 180).
func Wrap180(deg float64) float64 {
	return mod(deg+180, 360) - 180
}

// Wrap360 maps deg into [0, 360).
func Wrap360(deg float64) float64 {
	return mod(deg, 360)
}

// Unwrap removes 360° jumps between consecutive samples so the series is
// continuous. Steps larger than 180° are taken as wraps.
func Unwrap(deg []float64) []float64 {
	out := make([]float64, len(deg))
	if len(deg) == 0 {
		return out
	}
	corr := make([]float64, len(deg))
	for i := 1; i < len(deg); i++ {
		d := deg[i] - deg[i-1]
		if math.Abs(d) < 180 {
			continue
		}
		dd := mod(d+180, 360) - 180
		if dd == -180 && d > 0 {
			dd = 180
		}
		corr[i] = dd - d
	}
	floats.CumSum(corr, corr)
	floats.AddTo(out, deg, corr)
	return out
}

// Gradient returns dy/dt using second-order central differences in the
// interior and first-order differences at the ends. t need not be uniform.
func Gradient(y, t []float64) []float64 {
	n := len(y)
	out := make([]float64, n)
	if n < 2 || len(t) != n {
		return out
	}
	out[0] = (y[1] - y[0]) / (t[1] - t[0])
	out[n-1] = (y[n-1] - y[n-2]) / (t[n-1] - t[n-2])
	for i := 1; i < n-1; i++ {
		h1 := t[i] - t[i-1]
		h2 := t[i+1] - t[i]
		a := -h2 / (h1 * (h1 + h2))
		b := (h2 - h1) / (h1 * h2)
		c := h1 / (h2 * (h1 + h2))
		out[i] = a*y[i-1] + b*y[i] + c*y[i+1]
	}
	return out
}

// LastChange returns the index of the last sample whose value differs from the
// one before it. The first sample always counts as a change, so a constant
// series returns 0 and an empty series returns -1.
func LastChange(v []float64) int {
	for i := len(v) - 1; i > 0; i-- {
		if v[i] != v[i-1] {
			return i
		}
	}
	if len(v) == 0 {
		return -1
	}
	return 0
}
