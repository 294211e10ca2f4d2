// Package internal carries the flat wire-level shape of a serialized bag
// of cells, decoupled from the linked Cell graph the public API exposes.
package internal

// Cell is one entry of the container's cell array: raw payload bits plus
// references resolved to indices into that array.
type Cell struct {
	Data   []byte
	BitLen uint
	Refs   []int
	Exotic bool
}
