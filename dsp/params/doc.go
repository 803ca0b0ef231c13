// Package params defines the engine parameter space and the control pipeline
// that resolves raw host values, macro fan-out, sequence automation, and
// modulation offsets into one immutable Snapshot per audio block.
//
// All parameters are normalized to [0,1]. The audio thread only ever sees
// Snapshots; smoothing and precedence are handled here, at block rate, so the
// consuming modules stay branch-free.
package params
