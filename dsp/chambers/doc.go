// Package chambers implements the late reverberation kernel: an 8-line
// feedback delay network with mutually prime delay lengths, per-line damping,
// a warp-morphable feedback matrix, in-loop low-frequency control, bloom
// envelope shaping, drift modulation of the read positions, and a lossless
// freeze mode.
//
// All loop coefficients are capped so the recirculating gain stays below
// unity outside of freeze; the feedback matrix is renormalized to unit
// spectral norm at every warp setting.
package chambers
