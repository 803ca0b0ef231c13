package chambers

import "math"

const invSqrt8 = 0.3535533905932738

// hadamard8 applies the normalized 8x8 Hadamard transform in place via the
// fast butterfly. It spreads energy evenly across all lines.
func hadamard8(v *[numLines]float64) {
	a0 := v[0] + v[1]
	a1 := v[0] - v[1]
	a2 := v[2] + v[3]
	a3 := v[2] - v[3]
	a4 := v[4] + v[5]
	a5 := v[4] - v[5]
	a6 := v[6] + v[7]
	a7 := v[6] - v[7]

	b0 := a0 + a2
	b1 := a1 + a3
	b2 := a0 - a2
	b3 := a1 - a3
	b4 := a4 + a6
	b5 := a5 + a7
	b6 := a4 - a6
	b7 := a5 - a7

	v[0] = (b0 + b4) * invSqrt8
	v[1] = (b1 + b5) * invSqrt8
	v[2] = (b2 + b6) * invSqrt8
	v[3] = (b3 + b7) * invSqrt8
	v[4] = (b0 - b4) * invSqrt8
	v[5] = (b1 - b5) * invSqrt8
	v[6] = (b2 - b6) * invSqrt8
	v[7] = (b3 - b7) * invSqrt8
}

// householder8 applies the 8x8 Householder reflection I - J/4 in place. It
// keeps more energy within each line, giving a focused, metallic character.
func householder8(v *[numLines]float64) {
	sum := v[0] + v[1] + v[2] + v[3] + v[4] + v[5] + v[6] + v[7]
	s := sum * 0.25

	for i := range v {
		v[i] -= s
	}
}

// blendMatrix applies the warp morph (1-w)*Hadamard + w*Householder to v,
// scaled by invNorm so the blended matrix has unit spectral norm.
func blendMatrix(v *[numLines]float64, warp, invNorm float64) {
	h := *v
	hadamard8(&h)

	q := *v
	householder8(&q)

	for i := range v {
		v[i] = (h[i] + warp*(q[i]-h[i])) * invNorm
	}
}

// SpectralNorm returns the largest singular value of the warp-blended
// feedback matrix. Both canonical matrices are symmetric, so power iteration
// on the blend itself converges to the dominant eigenvalue magnitude.
func SpectralNorm(warp float64) float64 {
	if warp < 0 {
		warp = 0
	} else if warp > 1 {
		warp = 1
	}

	v := [numLines]float64{0.41, -0.23, 0.87, 0.11, -0.55, 0.32, -0.19, 0.64}

	norm := 0.0
	for iter := 0; iter < 48; iter++ {
		u := v

		h := u
		hadamard8(&h)

		q := u
		householder8(&q)

		for i := range v {
			v[i] = h[i] + warp*(q[i]-h[i])
		}

		norm = 0
		for _, x := range v {
			norm += x * x
		}

		norm = math.Sqrt(norm)
		if norm == 0 {
			return 0
		}

		inv := 1 / norm
		for i := range v {
			v[i] *= inv
		}
	}

	return norm
}
