package boc

import "golang.org/x/xerrors"

// Big-endian bit cursors. Bit 0 of a buffer is the most significant bit
// of its first byte; partial final bytes are padded with zeros.

type bitReader struct {
	data []byte
	pos  uint
	end  uint
}

func (r *bitReader) remaining() uint {
	return r.end - r.pos
}

func (r *bitReader) skip(n uint) error {
	if n > r.remaining() {
		return xerrors.Errorf("skip %d bits with %d remaining: %w", n, r.remaining(), ErrUnderflow)
	}
	r.pos += n
	return nil
}

func (r *bitReader) readBit() (bool, error) {
	if r.pos >= r.end {
		return false, xerrors.Errorf("read bit at %d of %d: %w", r.pos, r.end, ErrUnderflow)
	}
	bit := r.data[r.pos/8]>>(7-r.pos%8)&1 == 1
	r.pos++
	return bit, nil
}

// readBits copies the next n bits into dst, left-aligned at dst[0]'s most
// significant bit. dst must hold at least (n+7)/8 bytes; those bytes are
// fully overwritten.
func (r *bitReader) readBits(n uint, dst []byte) error {
	if n > r.remaining() {
		return xerrors.Errorf("read %d bits with %d remaining: %w", n, r.remaining(), ErrUnderflow)
	}
	for i := range dst[:(n+7)/8] {
		dst[i] = 0
	}
	if r.pos%8 == 0 {
		copy(dst, r.data[r.pos/8:(r.pos+n+7)/8])
		if n%8 != 0 {
			dst[(n-1)/8] &= 0xff << (8 - n%8)
		}
		r.pos += n
		return nil
	}
	for i := uint(0); i < n; i++ {
		if r.data[(r.pos+i)/8]>>(7-(r.pos+i)%8)&1 == 1 {
			dst[i/8] |= 0x80 >> (i % 8)
		}
	}
	r.pos += n
	return nil
}

func (r *bitReader) readUint64(n uint) (uint64, error) {
	if n > r.remaining() {
		return 0, xerrors.Errorf("read %d bit integer with %d remaining: %w", n, r.remaining(), ErrUnderflow)
	}
	var v uint64
	for i := uint(0); i < n; i++ {
		v <<= 1
		if r.data[(r.pos+i)/8]>>(7-(r.pos+i)%8)&1 == 1 {
			v |= 1
		}
	}
	r.pos += n
	return v, nil
}

type bitWriter struct {
	buf []byte
	len uint
}

func (w *bitWriter) writeBit(bit bool) {
	if w.len%8 == 0 {
		w.buf = append(w.buf, 0)
	}
	if bit {
		w.buf[w.len/8] |= 0x80 >> (w.len % 8)
	}
	w.len++
}

// writeBits appends the first n bits of src, read MSB-first.
func (w *bitWriter) writeBits(src []byte, n uint) {
	if w.len%8 == 0 {
		w.buf = append(w.buf, src[:n/8]...)
		w.len += n / 8 * 8
		src = src[n/8:]
		n %= 8
	}
	for i := uint(0); i < n; i++ {
		w.writeBit(src[i/8]&(0x80>>(i%8)) != 0)
	}
}

func (w *bitWriter) writeUint64(v uint64, n uint) {
	for i := n; i > 0; i-- {
		w.writeBit(v>>(i-1)&1 == 1)
	}
}
