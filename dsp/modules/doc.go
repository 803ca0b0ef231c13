// Package modules implements the leaf processing stages of the monument
// engine: input conditioning, early reflections, modulation, resonator
// banks, memory recall, saturation, and the stereo output stage. Every
// stage satisfies the Module interface so the routing graph can arrange
// them freely; all of them process in place on planar float64 blocks and
// read their controls from a resolved parameter snapshot once per block.
package modules
