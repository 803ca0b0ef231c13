// Package engine is the top of the monument signal path: it resolves the
// per-block control snapshot (macros, smoothing, modulation, sequencing),
// hands it to the routing graph, and runs the graph over the host's audio
// buffer in place. Configuration goes through control-thread-safe entry
// points that publish atomically; Process is the real-time path and performs
// bounded work with no allocation, locking, or failure.
package engine
