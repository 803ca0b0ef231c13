// Package modmatrix generates slow control signals (chaotic attractor, audio
// envelope follower, Brownian walk, multi-stage envelope tracker, and a bank
// of user-configurable oscillators) and routes them onto engine parameters
// through a configurable connection list.
//
// Everything runs at block rate. The audio thread reads the connection list
// through an atomically swapped immutable snapshot; edits never block a
// running Process call.
package modmatrix
