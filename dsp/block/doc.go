// Package block provides channel-major audio block helpers shared by the
// routing graph and leaf modules. A block is a [][]float64 with one slice per
// channel; all helpers assume equal channel lengths and never allocate except
// in Alloc and View.
package block
