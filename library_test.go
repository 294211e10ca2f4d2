package boc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	blocks "github.com/ipfs/go-block-format"
	cid "github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockResolver struct {
	mu      sync.Mutex
	libs    map[Hash][]byte
	calls   int
	batches []int
	err     error
}

func newMockResolver() *mockResolver {
	return &mockResolver{libs: make(map[Hash][]byte)}
}

func (m *mockResolver) add(t *testing.T, c *Cell) Hash {
	t.Helper()
	data, err := NewBagOfCells(c).Serialize(false)
	require.NoError(t, err)
	m.libs[c.Hash()] = data
	return c.Hash()
}

func (m *mockResolver) GetLibraries(_ context.Context, hashes []Hash) (map[Hash][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.batches = append(m.batches, len(hashes))
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[Hash][]byte)
	for _, h := range hashes {
		if data, ok := m.libs[h]; ok {
			out[h] = data
		}
	}
	return out, nil
}

type mockBlocks struct {
	mu   sync.Mutex
	data map[cid.Cid]blocks.Block
}

func newMockBlocks() *mockBlocks {
	return &mockBlocks{data: make(map[cid.Cid]blocks.Block)}
}

func (mb *mockBlocks) Get(c cid.Cid) (blocks.Block, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if blk, ok := mb.data[c]; ok {
		return blk, nil
	}
	return nil, fmt.Errorf("not found: %s", c)
}

func (mb *mockBlocks) Put(b blocks.Block) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.data[b.Cid()] = b
	return nil
}

func TestLibrariesResolveAndCache(t *testing.T) {
	ctx := context.Background()
	m := newMockResolver()
	h1 := m.add(t, mustCell(t, []byte{0x11}, 8))
	h2 := m.add(t, mustCell(t, []byte{0x22}, 8))
	unknown := Hash{0xff}

	cr, err := NewCachedLibraryResolver(m)
	require.NoError(t, err)

	got, err := cr.Libraries(ctx, []Hash{h1, h2, unknown})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, h1, got[h1].Hash())
	assert.Equal(t, h2, got[h2].Hash())
	assert.Equal(t, 1, m.calls)

	// Second lookup never reaches the resolver.
	got, err = cr.Libraries(ctx, []Hash{h1, h2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1, m.calls)
}

func TestLibrariesDeduplicateRequest(t *testing.T) {
	m := newMockResolver()
	h := m.add(t, mustCell(t, []byte{0x33}, 8))

	cr, err := NewCachedLibraryResolver(m)
	require.NoError(t, err)

	got, err := cr.Libraries(context.Background(), []Hash{h, h, h})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, []int{1}, m.batches)
}

func TestLibrariesChunking(t *testing.T) {
	m := newMockResolver()
	cr, err := NewCachedLibraryResolver(m)
	require.NoError(t, err)

	hashes := make([]Hash, 600)
	for i := range hashes {
		hashes[i][0] = byte(i >> 8)
		hashes[i][1] = byte(i)
	}
	got, err := cr.Libraries(context.Background(), hashes)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.Equal(t, 3, m.calls)
	total := 0
	for _, n := range m.batches {
		assert.LessOrEqual(t, n, MaxLibraryBatch)
		total += n
	}
	assert.Equal(t, len(hashes), total)
}

func TestLibrariesTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := newMockResolver()
	h := m.add(t, mustCell(t, []byte{0x44}, 8))

	now := time.Unix(1700000000, 0)
	cr, err := NewCachedLibraryResolver(m,
		CacheTTL(time.Minute),
		withClock(func() time.Time { return now }))
	require.NoError(t, err)

	_, err = cr.Libraries(ctx, []Hash{h})
	require.NoError(t, err)
	require.Equal(t, 1, m.calls)

	now = now.Add(59 * time.Second)
	_, err = cr.Libraries(ctx, []Hash{h})
	require.NoError(t, err)
	assert.Equal(t, 1, m.calls)

	now = now.Add(2 * time.Second)
	got, err := cr.Libraries(ctx, []Hash{h})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, m.calls)
}

func TestLibrariesCapacityEviction(t *testing.T) {
	m := newMockResolver()
	h1 := m.add(t, mustCell(t, []byte{0x55}, 8))
	h2 := m.add(t, mustCell(t, []byte{0x66}, 8))

	cr, err := NewCachedLibraryResolver(m, CacheCapacity(1))
	require.NoError(t, err)

	got, err := cr.Libraries(context.Background(), []Hash{h1, h2})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Len(t, cr.entries, 1)
}

func TestLibrariesHashMismatch(t *testing.T) {
	m := newMockResolver()
	m.add(t, mustCell(t, []byte{0x77}, 8))
	// Serve the right payload under the wrong key.
	impostor := mustCell(t, []byte{0x78}, 8)
	data, err := NewBagOfCells(impostor).Serialize(false)
	require.NoError(t, err)
	wrong := Hash{0xaa}
	m.libs[wrong] = data

	cr, err := NewCachedLibraryResolver(m)
	require.NoError(t, err)
	_, err = cr.Libraries(context.Background(), []Hash{wrong})
	require.ErrorIs(t, err, ErrFormat)
}

func TestLibrariesResolverError(t *testing.T) {
	m := newMockResolver()
	m.err = errors.New("node unreachable")

	cr, err := NewCachedLibraryResolver(m)
	require.NoError(t, err)
	_, err = cr.Libraries(context.Background(), []Hash{{0x01}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node unreachable")
}

func TestResolverOptions(t *testing.T) {
	m := newMockResolver()
	_, err := NewCachedLibraryResolver(m, CacheCapacity(0))
	require.Error(t, err)
	_, err = NewCachedLibraryResolver(m, CacheTTL(0))
	require.Error(t, err)
}

func TestBlockResolverRoundTrip(t *testing.T) {
	bs := newMockBlocks()
	lib := mustCell(t, []byte{0x99, 0x88}, 16)
	_, err := StoreLibrary(bs, lib)
	require.NoError(t, err)

	r := NewBlockResolver(bs)
	got, err := r.GetLibraries(context.Background(), []Hash{lib.Hash(), {0xee}})
	require.NoError(t, err)
	require.Len(t, got, 1)

	bag, err := ParseBoc(got[lib.Hash()])
	require.NoError(t, err)
	root, err := bag.SingleRoot()
	require.NoError(t, err)
	assert.Equal(t, lib.Hash(), root.Hash())
}

func TestLibraryCellRoundTrip(t *testing.T) {
	code := Hash{0xde, 0xad}
	lib, err := NewLibraryCell(code)
	require.NoError(t, err)
	assert.True(t, lib.IsExotic())
	assert.Equal(t, uint(264), lib.BitLen())

	got, ok := lib.LibraryHash()
	require.True(t, ok)
	assert.Equal(t, code, got)

	// Same bytes without the exotic flag are ordinary data.
	plain := mustCell(t, lib.Data(), lib.BitLen())
	_, ok = plain.LibraryHash()
	assert.False(t, ok)
}

func TestExtractLibraryHashes(t *testing.T) {
	lib1, err := NewLibraryCell(Hash{0x01})
	require.NoError(t, err)
	lib2, err := NewLibraryCell(Hash{0x02})
	require.NoError(t, err)

	inner := mustCell(t, []byte{0xaa}, 8, lib2)
	root := mustCell(t, []byte{0xbb}, 8, lib1, lib1, inner)
	other := mustCell(t, []byte{0xcc}, 8, lib1)

	got := ExtractLibraryHashes([]*Cell{root, other})
	assert.Equal(t, []Hash{{0x01}, {0x02}}, got)

	assert.Empty(t, ExtractLibraryHashes([]*Cell{mustCell(t, nil, 0)}))
}
