package boc

import (
	"encoding/binary"
	"hash/crc32"
	"math/bits"
	"sort"

	"golang.org/x/xerrors"

	"github.com/toncodec/go-boc/internal"
)

// bocMagic tags the generic serialized_boc container layout.
const bocMagic = 0xb5ee9c72

const (
	flagHasIndex     = 0x80
	flagHasCRC       = 0x40
	flagHasCacheBits = 0x20
	// The low three bits of the flags byte carry the reference byte width.
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// BagOfCells is the linear transport container for a cell graph: an
// explicit root list plus the deduplicated set of every cell reachable
// from it. Built once from a graph or parsed once from bytes, never
// mutated afterwards.
type BagOfCells struct {
	Roots []*Cell
}

func NewBagOfCells(roots ...*Cell) *BagOfCells {
	return &BagOfCells{Roots: roots}
}

// SingleRoot returns the only declared root, failing with the actual
// root count otherwise.
func (b *BagOfCells) SingleRoot() (*Cell, error) {
	if len(b.Roots) != 1 {
		return nil, xerrors.Errorf("expected a single root, got %d: %w", len(b.Roots), ErrFormat)
	}
	return b.Roots[0], nil
}

// flatten deduplicates the reachable graph by hash and orders it so that
// every cell precedes all of its children: cells are ranked by the
// longest path from a root, stable by first visit. Ranks strictly
// increase along references, so reference indices always point forward.
func (b *BagOfCells) flatten() ([]*Cell, map[Hash]int) {
	type entry struct {
		cell *Cell
		rank int
		seen int
	}
	byHash := make(map[Hash]*entry)
	var order []*entry
	var visit func(c *Cell, rank int)
	visit = func(c *Cell, rank int) {
		e, ok := byHash[c.hash]
		if !ok {
			e = &entry{cell: c, rank: rank, seen: len(order)}
			byHash[c.hash] = e
			order = append(order, e)
		} else if rank > e.rank {
			e.rank = rank
		} else {
			return
		}
		for _, r := range c.refs {
			visit(r, e.rank+1)
		}
	}
	for _, r := range b.Roots {
		visit(r, 0)
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].rank != order[j].rank {
			return order[i].rank < order[j].rank
		}
		return order[i].seen < order[j].seen
	})
	cells := make([]*Cell, len(order))
	index := make(map[Hash]int, len(order))
	for i, e := range order {
		cells[i] = e.cell
		index[e.cell.hash] = i
	}
	return cells, index
}

// Serialize encodes the container: header, root list, cell array in
// topological order, and an optional CRC32-C trailer. No index section
// is written.
func (b *BagOfCells) Serialize(withCRC bool) ([]byte, error) {
	if len(b.Roots) == 0 {
		return nil, xerrors.Errorf("bag with no roots: %w", ErrFormat)
	}
	cells, index := b.flatten()

	refSize := byteWidth(uint64(len(cells) - 1))
	reprs := make([][]byte, len(cells))
	total := 0
	for i, c := range cells {
		r := make([]byte, 0, 2+len(c.data)+len(c.refs)*refSize)
		r = append(r, c.d1(), c.d2())
		r = append(r, c.paddedData()...)
		for _, ref := range c.refs {
			r = appendBigEndian(r, uint64(index[ref.hash]), refSize)
		}
		reprs[i] = r
		total += len(r)
	}
	offSize := byteWidth(uint64(total))

	out := make([]byte, 0, 16+len(b.Roots)*refSize+total)
	out = binary.BigEndian.AppendUint32(out, bocMagic)
	flags := byte(refSize)
	if withCRC {
		flags |= flagHasCRC
	}
	out = append(out, flags, byte(offSize))
	out = appendBigEndian(out, uint64(len(cells)), refSize)
	out = appendBigEndian(out, uint64(len(b.Roots)), refSize)
	out = appendBigEndian(out, 0, refSize) // absent cells
	out = appendBigEndian(out, uint64(total), offSize)
	for _, r := range b.Roots {
		out = appendBigEndian(out, uint64(index[r.hash]), refSize)
	}
	for _, r := range reprs {
		out = append(out, r...)
	}
	if withCRC {
		out = binary.LittleEndian.AppendUint32(out, crc32.Checksum(out, castagnoli))
	}
	return out, nil
}

// ParseBoc decodes a serialized container back into a cell graph. The
// wire ordering discipline is enforced: a cell may only reference cells
// with strictly larger indices, so the graph is rebuilt back to front.
func ParseBoc(data []byte) (*BagOfCells, error) {
	r := byteReader{data: data}
	magic, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if magic != bocMagic {
		return nil, xerrors.Errorf("magic %08x: %w", magic, ErrFormat)
	}
	flags, err := r.byte()
	if err != nil {
		return nil, err
	}
	refSize := int(flags & 0x07)
	if refSize == 0 || refSize > 4 {
		return nil, xerrors.Errorf("reference width %d: %w", refSize, ErrFormat)
	}
	offByte, err := r.byte()
	if err != nil {
		return nil, err
	}
	offSize := int(offByte)
	if offSize == 0 || offSize > 8 {
		return nil, xerrors.Errorf("offset width %d: %w", offSize, ErrFormat)
	}
	cellCount, err := r.uintN(refSize)
	if err != nil {
		return nil, err
	}
	rootCount, err := r.uintN(refSize)
	if err != nil {
		return nil, err
	}
	absent, err := r.uintN(refSize)
	if err != nil {
		return nil, err
	}
	if absent != 0 {
		return nil, xerrors.Errorf("%d absent cells unsupported: %w", absent, ErrFormat)
	}
	if rootCount == 0 || rootCount > cellCount {
		return nil, xerrors.Errorf("%d roots for %d cells: %w", rootCount, cellCount, ErrFormat)
	}
	total, err := r.uintN(offSize)
	if err != nil {
		return nil, err
	}
	// Every cell occupies at least its two descriptor bytes, so a count
	// the remaining input cannot hold is rejected before any allocation.
	if cellCount*2 > uint64(r.left()) {
		return nil, xerrors.Errorf("%d cells in %d remaining bytes: %w", cellCount, r.left(), ErrFormat)
	}
	rootIdx := make([]int, rootCount)
	for i := range rootIdx {
		idx, err := r.uintN(refSize)
		if err != nil {
			return nil, err
		}
		if idx >= cellCount {
			return nil, xerrors.Errorf("root %d of %d cells: %w", idx, cellCount, ErrFormat)
		}
		rootIdx[i] = int(idx)
	}
	if flags&flagHasIndex != 0 {
		// The offset index (cache bits included) is redundant for a
		// sequential parse.
		if _, err := r.take(int(cellCount) * offSize); err != nil {
			return nil, err
		}
	}
	cellData, err := r.take(int(total))
	if err != nil {
		return nil, err
	}
	if flags&flagHasCRC != 0 {
		trailer, err := r.take(4)
		if err != nil {
			return nil, err
		}
		sum := crc32.Checksum(data[:len(data)-r.left()-4], castagnoli)
		if binary.LittleEndian.Uint32(trailer) != sum {
			return nil, xerrors.Errorf("checksum mismatch: %w", ErrFormat)
		}
	}
	if r.left() != 0 {
		return nil, xerrors.Errorf("%d trailing bytes: %w", r.left(), ErrFormat)
	}

	raw, err := parseRawCells(cellData, int(cellCount), refSize)
	if err != nil {
		return nil, err
	}
	built := make([]*Cell, cellCount)
	for i := int(cellCount) - 1; i >= 0; i-- {
		refs := make([]*Cell, len(raw[i].Refs))
		for j, ri := range raw[i].Refs {
			refs[j] = built[ri]
		}
		c, err := newCell(raw[i].Data, raw[i].BitLen, refs, raw[i].Exotic)
		if err != nil {
			return nil, xerrors.Errorf("cell %d: %w", i, err)
		}
		built[i] = c
	}
	bag := &BagOfCells{Roots: make([]*Cell, rootCount)}
	for i, idx := range rootIdx {
		bag.Roots[i] = built[idx]
	}
	return bag, nil
}

func parseRawCells(data []byte, count, refSize int) ([]internal.Cell, error) {
	r := byteReader{data: data}
	out := make([]internal.Cell, count)
	for i := 0; i < count; i++ {
		d1, err := r.byte()
		if err != nil {
			return nil, xerrors.Errorf("cell %d: %w", i, err)
		}
		d2, err := r.byte()
		if err != nil {
			return nil, xerrors.Errorf("cell %d: %w", i, err)
		}
		if d1 == 0xff || d1&0xf0 != 0 {
			// Absent markers, stored hashes and nonzero levels are not
			// produced by this serializer and not accepted back.
			return nil, xerrors.Errorf("cell %d descriptor %02x unsupported: %w", i, d1, ErrFormat)
		}
		refCount := int(d1 & 0x07)
		if refCount > MaxRefs {
			return nil, xerrors.Errorf("cell %d with %d references: %w", i, refCount, ErrFormat)
		}
		byteLen := (int(d2) + 1) / 2
		payload, err := r.take(byteLen)
		if err != nil {
			return nil, xerrors.Errorf("cell %d: %w", i, err)
		}
		bitLen := uint(byteLen) * 8
		if d2%2 != 0 {
			// Partial byte: the completion tag is the lowest set bit.
			last := payload[byteLen-1]
			if last == 0 {
				return nil, xerrors.Errorf("cell %d missing completion tag: %w", i, ErrFormat)
			}
			bitLen -= uint(bits.TrailingZeros8(last)) + 1
		}
		refs := make([]int, refCount)
		for j := range refs {
			idx, err := r.uintN(refSize)
			if err != nil {
				return nil, xerrors.Errorf("cell %d: %w", i, err)
			}
			if int(idx) <= i || int(idx) >= count {
				return nil, xerrors.Errorf("cell %d references cell %d: %w", i, idx, ErrFormat)
			}
			refs[j] = int(idx)
		}
		out[i] = internal.Cell{
			Data:   payload,
			BitLen: bitLen,
			Refs:   refs,
			Exotic: d1&0x08 != 0,
		}
	}
	if r.left() != 0 {
		return nil, xerrors.Errorf("%d bytes after last cell: %w", r.left(), ErrFormat)
	}
	return out, nil
}

// byteWidth is the smallest byte count that can represent v.
func byteWidth(v uint64) int {
	n := 1
	for v >= 1<<(8*uint(n)) {
		n++
	}
	return n
}

func appendBigEndian(buf []byte, v uint64, n int) []byte {
	for i := n - 1; i >= 0; i-- {
		buf = append(buf, byte(v>>(8*uint(i))))
	}
	return buf
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) left() int {
	return len(r.data) - r.pos
}

func (r *byteReader) take(n int) ([]byte, error) {
	if n < 0 || r.left() < n {
		return nil, xerrors.Errorf("truncated at byte %d, need %d more: %w", r.pos, n, ErrFormat)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *byteReader) byte() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *byteReader) uintN(n int) (uint64, error) {
	b, err := r.take(n)
	if err != nil {
		return 0, err
	}
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v, nil
}
