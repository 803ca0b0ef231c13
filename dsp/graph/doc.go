// Package graph owns the leaf module arena and executes one of a fixed set
// of preset routing topologies per audio block. Topologies are compiled and
// validated up front; the block path trusts them and never allocates, locks,
// or validates. Feedback is modeled as an explicit one-block-delay edge with
// a clamped, low-passed return rather than a general cyclic solver, and
// preset switches glide the output around a block-boundary swap instead of
// cutting over instantly.
package graph
