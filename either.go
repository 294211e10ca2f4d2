package boc

import "golang.org/x/xerrors"

// EitherRefLayout records where an EitherRef value lives relative to its
// enclosing cell. LayoutNative defers the choice until write time.
type EitherRefLayout uint8

const (
	LayoutNative EitherRefLayout = iota
	LayoutToCell
	LayoutToRef
)

func (l EitherRefLayout) String() string {
	switch l {
	case LayoutNative:
		return "Native"
	case LayoutToCell:
		return "ToCell"
	case LayoutToRef:
		return "ToRef"
	}
	return "Unknown"
}

// Equal treats LayoutNative as matching any concrete layout. Native only
// exists on values that have not been written yet and decoding always
// produces a concrete layout, so round-trip comparison needs the
// wildcard. This is not a transitive equivalence.
func (l EitherRefLayout) Equal(o EitherRefLayout) bool {
	if l == LayoutNative || o == LayoutNative {
		return true
	}
	return l == o
}

// Either is the schema language's two-way inline union: one
// discriminator bit, then the chosen alternative's encoding in place.
// L and R must implement the TLB protocol on their pointer type.
type Either[L, R any] struct {
	Left    L
	Right   R
	IsRight bool
}

func Left[L, R any](v L) Either[L, R] {
	return Either[L, R]{Left: v}
}

func Right[L, R any](v R) Either[L, R] {
	return Either[L, R]{Right: v, IsRight: true}
}

func (e *Either[L, R]) UnmarshalTLB(p *Parser) error {
	bit, err := p.LoadBit()
	if err != nil {
		return err
	}
	e.IsRight = bit
	if bit {
		return unmarshalAs(&e.Right, p)
	}
	return unmarshalAs(&e.Left, p)
}

func (e *Either[L, R]) MarshalTLB(b *Builder) error {
	if err := b.StoreBit(e.IsRight); err != nil {
		return err
	}
	if e.IsRight {
		return marshalAs(&e.Right, b)
	}
	return marshalAs(&e.Left, b)
}

// EitherRef wraps one value with the schema language's inline-vs-
// reference choice: discriminator bit 0 means the value's encoding
// follows in the current cell, 1 means it sits in the next child
// reference as a top-level value.
type EitherRef[T any] struct {
	Value  T
	Layout EitherRefLayout
}

// NewEitherRef wraps v with the automatic layout.
func NewEitherRef[T any](v T) EitherRef[T] {
	return EitherRef[T]{Value: v}
}

func (e *EitherRef[T]) UnmarshalTLB(p *Parser) error {
	bit, err := p.LoadBit()
	if err != nil {
		return err
	}
	if !bit {
		e.Layout = LayoutToCell
		return unmarshalAs(&e.Value, p)
	}
	child, err := p.NextReference()
	if err != nil {
		return err
	}
	u, err := asUnmarshaler(&e.Value)
	if err != nil {
		return err
	}
	e.Layout = LayoutToRef
	return FromCell(child, u)
}

func (e *EitherRef[T]) MarshalTLB(b *Builder) error {
	m, err := asMarshaler(&e.Value)
	if err != nil {
		return err
	}
	cell, err := ToCell(m)
	if err != nil {
		return err
	}
	layout := e.Layout
	if layout == LayoutNative {
		// Bit capacity alone decides, measured before the discriminator
		// bit; reference capacity is not consulted. Format behavior,
		// keep as is.
		if cell.BitLen() < b.RemainingBits() {
			layout = LayoutToCell
		} else {
			layout = LayoutToRef
		}
	}
	switch layout {
	case LayoutToCell:
		if err := b.StoreBit(false); err != nil {
			return err
		}
		return b.StoreCell(cell)
	case LayoutToRef:
		if err := b.StoreBit(true); err != nil {
			return err
		}
		return b.StoreChild(cell)
	}
	return xerrors.Errorf("either ref layout %d: %w", layout, ErrFormat)
}

func asMarshaler(v any) (Marshaler, error) {
	m, ok := v.(Marshaler)
	if !ok {
		return nil, xerrors.Errorf("%T does not implement MarshalTLB: %w", v, ErrFormat)
	}
	return m, nil
}

func asUnmarshaler(v any) (Unmarshaler, error) {
	u, ok := v.(Unmarshaler)
	if !ok {
		return nil, xerrors.Errorf("%T does not implement UnmarshalTLB: %w", v, ErrFormat)
	}
	return u, nil
}

func marshalAs(v any, b *Builder) error {
	m, err := asMarshaler(v)
	if err != nil {
		return err
	}
	return m.MarshalTLB(b)
}

func unmarshalAs(v any, p *Parser) error {
	u, err := asUnmarshaler(v)
	if err != nil {
		return err
	}
	return u.UnmarshalTLB(p)
}
