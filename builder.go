package boc

import (
	"math/big"

	"golang.org/x/xerrors"
)

// Builder accumulates bits and references for exactly one cell. Writes
// that would exceed the capacity maxima fail and leave the builder
// unchanged. Build finalizes the cell; the builder is single-shot and
// rejects any use afterwards. Like Parser, a Builder is single-owner.
type Builder struct {
	w     bitWriter
	refs  []*Cell
	built bool
}

func NewBuilder() *Builder {
	return &Builder{}
}

// BitLen is the number of bits written so far.
func (b *Builder) BitLen() uint {
	return b.w.len
}

// RemainingBits is the capacity left before the per-cell bit maximum.
// Layout decisions during writing (see EitherRef) key off this.
func (b *Builder) RemainingBits() uint {
	return MaxBits - b.w.len
}

// RemainingRefs is the capacity left before the per-cell reference maximum.
func (b *Builder) RemainingRefs() uint {
	return MaxRefs - uint(len(b.refs))
}

func (b *Builder) ensure(bits, refs uint) error {
	if b.built {
		return errBuilt
	}
	if bits > b.RemainingBits() {
		return xerrors.Errorf("store %d bits with %d remaining: %w", bits, b.RemainingBits(), ErrOverflow)
	}
	if refs > b.RemainingRefs() {
		return xerrors.Errorf("store %d references with %d remaining: %w", refs, b.RemainingRefs(), ErrOverflow)
	}
	return nil
}

func (b *Builder) StoreBit(bit bool) error {
	if err := b.ensure(1, 0); err != nil {
		return err
	}
	b.w.writeBit(bit)
	return nil
}

// StoreBits appends the first n bits of data, read MSB-first.
func (b *Builder) StoreBits(data []byte, n uint) error {
	if uint(len(data))*8 < n {
		return xerrors.Errorf("%d bytes cannot supply %d bits: %w", len(data), n, ErrRange)
	}
	if err := b.ensure(n, 0); err != nil {
		return err
	}
	b.w.writeBits(data, n)
	return nil
}

// StoreUint64 appends v as an unsigned big-endian integer of n bits,
// n at most 64. v must fit in n bits.
func (b *Builder) StoreUint64(v uint64, n uint) error {
	if n > 64 {
		return xerrors.Errorf("uint width %d exceeds 64: %w", n, ErrRange)
	}
	if n < 64 && v>>n != 0 {
		return xerrors.Errorf("value %d does not fit in %d bits: %w", v, n, ErrRange)
	}
	if err := b.ensure(n, 0); err != nil {
		return err
	}
	b.w.writeUint64(v, n)
	return nil
}

// StoreUint appends v as an unsigned big-endian integer of n bits.
func (b *Builder) StoreUint(v *big.Int, n uint) error {
	if v.Sign() < 0 {
		return xerrors.Errorf("negative value %s stored as uint: %w", v, ErrRange)
	}
	if uint(v.BitLen()) > n {
		return xerrors.Errorf("value %s does not fit in %d bits: %w", v, n, ErrRange)
	}
	return b.storeBig(v, n)
}

// StoreInt appends v as a signed two's complement integer of n bits.
func (b *Builder) StoreInt(v *big.Int, n uint) error {
	if n == 0 {
		if v.Sign() != 0 {
			return xerrors.Errorf("value %s does not fit in 0 bits: %w", v, ErrRange)
		}
		return b.ensure(0, 0)
	}
	bound := new(big.Int).Lsh(big.NewInt(1), n-1)
	if v.Cmp(bound) >= 0 || v.Cmp(new(big.Int).Neg(bound)) < 0 {
		return xerrors.Errorf("value %s does not fit in %d signed bits: %w", v, n, ErrRange)
	}
	u := v
	if v.Sign() < 0 {
		u = new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), n), v)
	}
	return b.storeBig(u, n)
}

func (b *Builder) storeBig(v *big.Int, n uint) error {
	if err := b.ensure(n, 0); err != nil {
		return err
	}
	pad := (8 - n%8) % 8
	buf := new(big.Int).Lsh(v, pad).FillBytes(make([]byte, (n+7)/8))
	b.w.writeBits(buf, n)
	return nil
}

// StoreCell inlines another cell: its payload bits and its references
// are appended to this builder as if written here directly.
func (b *Builder) StoreCell(c *Cell) error {
	if err := b.ensure(c.bitLen, uint(len(c.refs))); err != nil {
		return err
	}
	b.w.writeBits(c.data, c.bitLen)
	b.refs = append(b.refs, c.refs...)
	return nil
}

// StoreChild appends c as a new reference rather than inlining it.
func (b *Builder) StoreChild(c *Cell) error {
	if err := b.ensure(0, 1); err != nil {
		return err
	}
	b.refs = append(b.refs, c)
	return nil
}

// Build finalizes the accumulated bits and references into an immutable
// cell and consumes the builder.
func (b *Builder) Build() (*Cell, error) {
	if b.built {
		return nil, errBuilt
	}
	b.built = true
	return NewCell(b.w.buf, b.w.len, b.refs)
}
