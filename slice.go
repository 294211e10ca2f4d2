package boc

import "golang.org/x/xerrors"

// Slice is a bounded, non-owning view over a cell: a bit window and a
// reference window. Slices never copy payload; ToCell materializes the
// window when an independent cell is needed.
type Slice struct {
	cell     *Cell
	startBit uint
	endBit   uint
	startRef uint
	endRef   uint
}

// NewSlice builds a range-checked window over c. Both windows are
// half-open; start must not exceed end and end must not exceed the
// cell's extent.
func NewSlice(c *Cell, startBit, endBit, startRef, endRef uint) (*Slice, error) {
	if endBit < startBit || endBit > c.bitLen {
		return nil, xerrors.Errorf("bit window [%d, %d) of a %d bit cell: %w",
			startBit, endBit, c.bitLen, ErrRange)
	}
	if endRef < startRef || endRef > uint(len(c.refs)) {
		return nil, xerrors.Errorf("reference window [%d, %d) of %d references: %w",
			startRef, endRef, len(c.refs), ErrRange)
	}
	return &Slice{cell: c, startBit: startBit, endBit: endBit, startRef: startRef, endRef: endRef}, nil
}

// FullCellSlice spans the whole cell.
func FullCellSlice(c *Cell) *Slice {
	return &Slice{cell: c, endBit: c.bitLen, endRef: uint(len(c.refs))}
}

// SliceWithOffset spans from a bit offset to the end of the cell, with
// all references.
func SliceWithOffset(c *Cell, offset uint) (*Slice, error) {
	return NewSlice(c, offset, c.bitLen, 0, uint(len(c.refs)))
}

// BitLen is the size of the bit window.
func (s *Slice) BitLen() uint {
	return s.endBit - s.startBit
}

// RefCount is the size of the reference window.
func (s *Slice) RefCount() uint {
	return s.endRef - s.startRef
}

// Reference returns the idx-th reference within the window. idx is
// relative to the window start; anything at or past the window size is
// out of range.
func (s *Slice) Reference(idx uint) (*Cell, error) {
	if idx >= s.RefCount() {
		return nil, xerrors.Errorf("reference %d of %d in window: %w", idx, s.RefCount(), ErrRange)
	}
	return s.cell.refs[s.startRef+idx], nil
}

// ToCell extracts the windowed bits and references into a fresh,
// independent cell. Payload outside the bit window and references
// outside the reference window are not retained.
func (s *Slice) ToCell() (*Cell, error) {
	n := s.BitLen()
	data := make([]byte, (n+7)/8)
	r := bitReader{data: s.cell.data, pos: s.startBit, end: s.endBit}
	if err := r.readBits(n, data); err != nil {
		return nil, err
	}
	return NewCell(data, n, s.cell.refs[s.startRef:s.endRef])
}

// Parser opens a cursor positioned at the start of the window.
func (s *Slice) Parser() *Parser {
	return &Parser{slice: s, bitPos: s.startBit, refPos: s.startRef}
}
