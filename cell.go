package boc

import (
	"encoding/binary"
	"encoding/hex"

	cid "github.com/ipfs/go-cid"
	sha256 "github.com/minio/sha256-simd"
	mh "github.com/multiformats/go-multihash"
	"golang.org/x/xerrors"
)

const (
	// MaxBits is the per-cell payload capacity in bits.
	MaxBits = 1023
	// MaxRefs is the per-cell reference capacity.
	MaxRefs = 4
	// HashBytes is the length of a cell representation hash.
	HashBytes = 32
)

// Hash is the sha256 digest of a cell's standard representation. Two
// cells with the same payload bits and the same child hashes share a
// hash regardless of how they were constructed.
type Hash [HashBytes]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Cell is one immutable node of a cell DAG: up to MaxBits of payload and
// up to MaxRefs shared child references. Children are shared, never
// copied, so the same cell may hang off several parents; immutability
// makes cells safe for any number of concurrent readers and rules out
// reference cycles. Construction goes through NewCell or a Builder.
type Cell struct {
	data   []byte
	bitLen uint
	refs   []*Cell
	exotic bool

	hash  Hash
	depth uint16
}

// NewCell validates and constructs an ordinary cell. The payload is
// copied; bits in data past bitLen are discarded.
func NewCell(data []byte, bitLen uint, refs []*Cell) (*Cell, error) {
	return newCell(data, bitLen, refs, false)
}

// NewExoticCell constructs a cell flagged exotic in the container format
// (library references, pruned branches). The flag only affects the wire
// descriptor; hashing treats the payload like any other.
func NewExoticCell(data []byte, bitLen uint, refs []*Cell) (*Cell, error) {
	return newCell(data, bitLen, refs, true)
}

func newCell(data []byte, bitLen uint, refs []*Cell, exotic bool) (*Cell, error) {
	if bitLen > MaxBits {
		return nil, xerrors.Errorf("cell of %d bits: %w", bitLen, ErrOverflow)
	}
	if len(refs) > MaxRefs {
		return nil, xerrors.Errorf("cell with %d references: %w", len(refs), ErrOverflow)
	}
	if uint(len(data))*8 < bitLen {
		return nil, xerrors.Errorf("%d payload bytes cannot hold %d bits: %w", len(data), bitLen, ErrFormat)
	}
	c := &Cell{
		data:   make([]byte, (bitLen+7)/8),
		bitLen: bitLen,
		refs:   append([]*Cell(nil), refs...),
		exotic: exotic,
	}
	copy(c.data, data)
	if bitLen%8 != 0 {
		c.data[len(c.data)-1] &= 0xff << (8 - bitLen%8)
	}
	for _, r := range c.refs {
		if r.depth >= c.depth {
			c.depth = r.depth + 1
		}
	}
	c.hash = sha256.Sum256(c.repr())
	return c, nil
}

// repr is the canonical byte encoding the hash is computed over:
// descriptors, tagged payload, child depths, child hashes.
func (c *Cell) repr() []byte {
	buf := make([]byte, 0, 2+len(c.data)+len(c.refs)*(2+HashBytes))
	buf = append(buf, c.d1(), c.d2())
	buf = append(buf, c.paddedData()...)
	for _, r := range c.refs {
		buf = binary.BigEndian.AppendUint16(buf, r.depth)
	}
	for _, r := range c.refs {
		buf = append(buf, r.hash[:]...)
	}
	return buf
}

// d1 is the refs/exotic descriptor byte, d2 the bit length descriptor
// (floor + ceil of the payload byte count, so an odd d2 signals a
// partial final byte carrying a completion tag).
func (c *Cell) d1() byte {
	d := byte(len(c.refs))
	if c.exotic {
		d |= 0x08
	}
	return d
}

func (c *Cell) d2() byte {
	return byte(c.bitLen/8 + (c.bitLen+7)/8)
}

// paddedData is the payload with the completion tag: a single 1 bit
// after the last payload bit when the length is not byte aligned.
func (c *Cell) paddedData() []byte {
	d := append([]byte(nil), c.data...)
	if c.bitLen%8 != 0 {
		d[len(d)-1] |= 0x80 >> (c.bitLen % 8)
	}
	return d
}

// BitLen is the number of meaningful payload bits.
func (c *Cell) BitLen() uint {
	return c.bitLen
}

// Data is the raw payload, zero padded to the byte boundary. Callers
// must not modify the returned slice.
func (c *Cell) Data() []byte {
	return c.data
}

func (c *Cell) RefCount() int {
	return len(c.refs)
}

// Reference returns the i-th child cell.
func (c *Cell) Reference(i int) (*Cell, error) {
	if i < 0 || i >= len(c.refs) {
		return nil, xerrors.Errorf("reference %d of %d: %w", i, len(c.refs), ErrRange)
	}
	return c.refs[i], nil
}

// References returns the ordered children. The slice is a copy; the
// cells are shared.
func (c *Cell) References() []*Cell {
	return append([]*Cell(nil), c.refs...)
}

// IsExotic reports whether the cell carries the exotic wire flag.
func (c *Cell) IsExotic() bool {
	return c.exotic
}

// Hash is the cell's representation hash, computed once at construction.
func (c *Cell) Hash() Hash {
	return c.hash
}

// Depth is the longest reference chain below the cell: 0 for a leaf.
func (c *Cell) Depth() uint16 {
	return c.depth
}

// Cid maps the representation hash into a CIDv1 over the raw codec, for
// keying cells in content-addressed block stores.
func (c *Cell) Cid() cid.Cid {
	sum, _ := mh.Encode(c.hash[:], mh.SHA2_256)
	return cid.NewCidV1(cid.Raw, sum)
}
