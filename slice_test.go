package boc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSliceBounds(t *testing.T) {
	child := mustCell(t, nil, 0)
	c := mustCell(t, []byte{0xab, 0xcd}, 16, child, child)

	t.Run("valid", func(t *testing.T) {
		s, err := NewSlice(c, 4, 12, 1, 2)
		require.NoError(t, err)
		assert.Equal(t, uint(8), s.BitLen())
		assert.Equal(t, uint(1), s.RefCount())
	})

	for _, tc := range []struct {
		name                   string
		sb, eb, sr, er         uint
	}{
		{"end bit past cell", 0, 17, 0, 2},
		{"start bit past end bit", 10, 9, 0, 2},
		{"end ref past cell", 0, 16, 0, 3},
		{"start ref past end ref", 0, 16, 2, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSlice(c, tc.sb, tc.eb, tc.sr, tc.er)
			require.ErrorIs(t, err, ErrRange)
		})
	}
}

func TestSliceConstructors(t *testing.T) {
	c := mustCell(t, []byte{0xff}, 8, mustCell(t, nil, 0))

	full := FullCellSlice(c)
	assert.Equal(t, uint(8), full.BitLen())
	assert.Equal(t, uint(1), full.RefCount())

	off, err := SliceWithOffset(c, 3)
	require.NoError(t, err)
	assert.Equal(t, uint(5), off.BitLen())

	_, err = SliceWithOffset(c, 9)
	require.ErrorIs(t, err, ErrRange)
}

func TestSliceReferenceWindow(t *testing.T) {
	a := mustCell(t, []byte{0x01}, 8)
	b := mustCell(t, []byte{0x02}, 8)
	d := mustCell(t, []byte{0x03}, 8)
	c := mustCell(t, nil, 0, a, b, d)

	s, err := NewSlice(c, 0, 0, 1, 3)
	require.NoError(t, err)

	// Relative indexing into the [1, 3) window.
	got, err := s.Reference(0)
	require.NoError(t, err)
	assert.Equal(t, b.Hash(), got.Hash())

	got, err = s.Reference(1)
	require.NoError(t, err)
	assert.Equal(t, d.Hash(), got.Hash())

	// idx equal to the window size is already out of range.
	_, err = s.Reference(2)
	require.ErrorIs(t, err, ErrRange)
}

func TestSliceToCell(t *testing.T) {
	refA := mustCell(t, []byte{0x0a}, 8)
	refB := mustCell(t, []byte{0x0b}, 8)
	c := mustCell(t, []byte{0b1010_1100, 0b0011_0101}, 16, refA, refB)

	s, err := NewSlice(c, 3, 13, 1, 2)
	require.NoError(t, err)

	out, err := s.ToCell()
	require.NoError(t, err)
	assert.Equal(t, uint(10), out.BitLen())
	// Bits [3, 13) of 1010_1100 0011_0101 are 0_1100_0011_0, left aligned.
	assert.Equal(t, []byte{0b0110_0001, 0b1000_0000}, out.Data())
	require.Equal(t, 1, out.RefCount())
	got, err := out.Reference(0)
	require.NoError(t, err)
	assert.Equal(t, refB.Hash(), got.Hash())
}

func TestSliceToCellIndependent(t *testing.T) {
	c := mustCell(t, []byte{0xff, 0xff}, 16, mustCell(t, nil, 0))
	s, err := NewSlice(c, 8, 16, 0, 0)
	require.NoError(t, err)
	out, err := s.ToCell()
	require.NoError(t, err)
	assert.Equal(t, uint(8), out.BitLen())
	assert.Equal(t, 0, out.RefCount())
	assert.Equal(t, mustCell(t, []byte{0xff}, 8).Hash(), out.Hash())
}
