package boc

import "golang.org/x/xerrors"

// The TLB protocol: a serializable type declares its canonical bit and
// reference encoding by implementing Marshaler and Unmarshaler. A
// composite type delegates to its fields in declaration order, so nested
// and recursive structures compose without any central schema registry.
// A matched pair must consume exactly what it produced, otherwise every
// enclosing type that keeps reading after it sees garbage.

// Marshaler appends a value's canonical encoding to a builder.
type Marshaler interface {
	MarshalTLB(b *Builder) error
}

// Unmarshaler reads a value's canonical encoding from a parser,
// consuming exactly the bits and references that constitute it.
type Unmarshaler interface {
	UnmarshalTLB(p *Parser) error
}

// TLB combines both directions of the protocol.
type TLB interface {
	Marshaler
	Unmarshaler
}

// ToCell serializes v into a fresh cell of its own.
func ToCell(v Marshaler) (*Cell, error) {
	b := NewBuilder()
	if err := v.MarshalTLB(b); err != nil {
		return nil, err
	}
	return b.Build()
}

// FromCell decodes v from the whole of c as a top-level value.
func FromCell(c *Cell, v Unmarshaler) error {
	return v.UnmarshalTLB(c.Parser())
}

// ToBoc serializes v into a single-root bag of cells.
func ToBoc(v Marshaler) ([]byte, error) {
	c, err := ToCell(v)
	if err != nil {
		return nil, err
	}
	return NewBagOfCells(c).Serialize(false)
}

// FromBoc parses data as a single-root bag of cells and decodes v from
// the root.
func FromBoc(data []byte, v Unmarshaler) error {
	bag, err := ParseBoc(data)
	if err != nil {
		return err
	}
	root, err := bag.SingleRoot()
	if err != nil {
		return err
	}
	return FromCell(root, v)
}

// Raw is an opaque TLB value: writing inlines a prebuilt cell, reading
// captures everything left in the parser's window as a cell.
type Raw struct {
	Cell *Cell
}

func (r *Raw) MarshalTLB(b *Builder) error {
	if r.Cell == nil {
		return xerrors.Errorf("raw value without a cell: %w", ErrFormat)
	}
	return b.StoreCell(r.Cell)
}

func (r *Raw) UnmarshalTLB(p *Parser) error {
	c, err := p.RestToCell()
	if err != nil {
		return err
	}
	r.Cell = c
	return nil
}
