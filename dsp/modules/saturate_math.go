//go:build !fastmath

package modules

import "math"

// mathTanh computes tanh(x) using the standard library.
func mathTanh(x float64) float64 {
	return math.Tanh(x)
}

// mathExp computes e^x using the standard library.
func mathExp(x float64) float64 {
	return math.Exp(x)
}
