// Package sequence drives timeline-based parameter automation: ordered
// keyframes with sparse parameter targets, interpolated against the host
// transport position with selectable curves and playback modes.
//
// The scheduler emits absolute overrides, not offsets; the parameter pipeline
// gives them precedence over macro and modulation layers.
package sequence
