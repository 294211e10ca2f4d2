package boc

import (
	"math/big"

	"golang.org/x/xerrors"
)

// Parser is a single-owner read cursor over a slice. Reads advance the
// bit and reference positions monotonically; a read that would cross the
// window fails without consuming anything. Parsers carry no internal
// synchronization and must not be shared across goroutines.
type Parser struct {
	slice  *Slice
	bitPos uint
	refPos uint
}

// Parser opens a cursor over the whole cell.
func (c *Cell) Parser() *Parser {
	return FullCellSlice(c).Parser()
}

// RemainingBits is the number of unread bits left in the window.
func (p *Parser) RemainingBits() uint {
	return p.slice.endBit - p.bitPos
}

// RemainingRefs is the number of unread references left in the window.
func (p *Parser) RemainingRefs() uint {
	return p.slice.endRef - p.refPos
}

func (p *Parser) reader() bitReader {
	return bitReader{data: p.slice.cell.data, pos: p.bitPos, end: p.slice.endBit}
}

// Skip discards the next n bits.
func (p *Parser) Skip(n uint) error {
	r := p.reader()
	if err := r.skip(n); err != nil {
		return err
	}
	p.bitPos = r.pos
	return nil
}

// LoadBit reads one bit.
func (p *Parser) LoadBit() (bool, error) {
	r := p.reader()
	bit, err := r.readBit()
	if err != nil {
		return false, err
	}
	p.bitPos = r.pos
	return bit, nil
}

// LoadBits reads the next n bits into a fresh buffer, left-aligned at
// the most significant bit of the first byte.
func (p *Parser) LoadBits(n uint) ([]byte, error) {
	dst := make([]byte, (n+7)/8)
	r := p.reader()
	if err := r.readBits(n, dst); err != nil {
		return nil, err
	}
	p.bitPos = r.pos
	return dst, nil
}

// LoadUint64 reads an unsigned big-endian integer of up to 64 bits.
func (p *Parser) LoadUint64(n uint) (uint64, error) {
	if n > 64 {
		return 0, xerrors.Errorf("uint width %d exceeds 64: %w", n, ErrRange)
	}
	r := p.reader()
	v, err := r.readUint64(n)
	if err != nil {
		return 0, err
	}
	p.bitPos = r.pos
	return v, nil
}

// LoadUint reads an unsigned big-endian integer of arbitrary bit width.
func (p *Parser) LoadUint(n uint) (*big.Int, error) {
	buf, err := p.LoadBits(n)
	if err != nil {
		return nil, err
	}
	v := new(big.Int).SetBytes(buf)
	if n%8 != 0 {
		v.Rsh(v, 8-n%8)
	}
	return v, nil
}

// LoadInt reads a signed two's complement integer of arbitrary bit width.
func (p *Parser) LoadInt(n uint) (*big.Int, error) {
	v, err := p.LoadUint(n)
	if err != nil {
		return nil, err
	}
	if n > 0 && v.Bit(int(n-1)) == 1 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), n))
	}
	return v, nil
}

// NextReference consumes and returns the next child reference.
func (p *Parser) NextReference() (*Cell, error) {
	if p.refPos >= p.slice.endRef {
		return nil, xerrors.Errorf("reference %d of %d: %w", p.refPos, p.slice.endRef, ErrUnderflow)
	}
	c := p.slice.cell.refs[p.refPos]
	p.refPos++
	return c, nil
}

// RestToCell drains every remaining bit and reference into a fresh cell.
func (p *Parser) RestToCell() (*Cell, error) {
	n := p.RemainingBits()
	data, err := p.LoadBits(n)
	if err != nil {
		return nil, err
	}
	refs := make([]*Cell, 0, p.RemainingRefs())
	for p.RemainingRefs() > 0 {
		r, err := p.NextReference()
		if err != nil {
			return nil, err
		}
		refs = append(refs, r)
	}
	return NewCell(data, n, refs)
}

// EnsureEmpty fails unless every bit and reference in the window was
// consumed. Call sites that require exact consumption use it after a
// typed read.
func (p *Parser) EnsureEmpty() error {
	if p.RemainingBits() != 0 || p.RemainingRefs() != 0 {
		return xerrors.Errorf("%d bits and %d references left unconsumed: %w",
			p.RemainingBits(), p.RemainingRefs(), ErrFormat)
	}
	return nil
}
