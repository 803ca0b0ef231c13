// Package preset reads and writes engine state as JSON. The file schema is a
// convenience for tooling and offline rendering; hosts that own their own
// persistence serialize engine.State directly.
package preset
