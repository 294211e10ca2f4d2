package boc

import (
	"context"
	"sync"
	"time"

	blocks "github.com/ipfs/go-block-format"
	cid "github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	mh "github.com/multiformats/go-multihash"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

var log = logging.Logger("boc")

// MaxLibraryBatch caps how many hashes go into one resolver request.
const MaxLibraryBatch = 255

const libraryCellTag = 0x02

// LibraryResolver fetches library cells by code hash from wherever they
// live, typically a remote node. Each returned payload is a single-root
// serialized bag of cells. Hashes the source does not know are simply
// absent from the result; an error aborts the whole batch.
type LibraryResolver interface {
	GetLibraries(ctx context.Context, hashes []Hash) (map[Hash][]byte, error)
}

// Blocks is a minimal content-addressed block store.
type Blocks interface {
	Get(cid.Cid) (blocks.Block, error)
	Put(blocks.Block) error
}

// LibraryCid keys a library cell in a block store by its representation
// hash rather than by the hash of its serialized bytes.
func LibraryCid(h Hash) cid.Cid {
	sum, _ := mh.Encode(h[:], mh.SHA2_256)
	return cid.NewCidV1(cid.Raw, sum)
}

// NewLibraryCell builds the exotic cell that references library code by
// hash: an 8 bit tag followed by the 256 bit code hash.
func NewLibraryCell(code Hash) (*Cell, error) {
	data := make([]byte, 1+HashBytes)
	data[0] = libraryCellTag
	copy(data[1:], code[:])
	return newCell(data, uint(len(data))*8, nil, true)
}

// LibraryHash returns the referenced code hash if c is a library
// reference cell.
func (c *Cell) LibraryHash() (Hash, bool) {
	if !c.exotic || c.bitLen != 8+8*HashBytes || c.data[0] != libraryCellTag {
		return Hash{}, false
	}
	var h Hash
	copy(h[:], c.data[1:])
	return h, true
}

// ExtractLibraryHashes walks the graphs under cells and collects the
// code hash of every library reference cell, deduplicated, in visit
// order.
func ExtractLibraryHashes(cells []*Cell) []Hash {
	var out []Hash
	seen := make(map[Hash]struct{})
	var visit func(c *Cell)
	visit = func(c *Cell) {
		if _, ok := seen[c.hash]; ok {
			return
		}
		seen[c.hash] = struct{}{}
		if h, ok := c.LibraryHash(); ok {
			out = append(out, h)
			return
		}
		for _, r := range c.refs {
			visit(r)
		}
	}
	for _, c := range cells {
		visit(c)
	}
	return out
}

// BlockResolver serves library lookups from a local block store. A
// missing block is a miss, not an error.
type BlockResolver struct {
	bs Blocks
}

func NewBlockResolver(bs Blocks) *BlockResolver {
	return &BlockResolver{bs: bs}
}

func (r *BlockResolver) GetLibraries(_ context.Context, hashes []Hash) (map[Hash][]byte, error) {
	out := make(map[Hash][]byte, len(hashes))
	for _, h := range hashes {
		blk, err := r.bs.Get(LibraryCid(h))
		if err != nil {
			log.Debugw("library block miss", "hash", h, "err", err)
			continue
		}
		out[h] = blk.RawData()
	}
	return out, nil
}

// StoreLibrary serializes a cell and puts it in the block store under
// its hash key, so a BlockResolver can serve it back.
func StoreLibrary(bs Blocks, c *Cell) (cid.Cid, error) {
	data, err := NewBagOfCells(c).Serialize(false)
	if err != nil {
		return cid.Undef, err
	}
	blk, err := blocks.NewBlockWithCid(data, c.Cid())
	if err != nil {
		return cid.Undef, err
	}
	if err := bs.Put(blk); err != nil {
		return cid.Undef, err
	}
	return blk.Cid(), nil
}

// CachedLibraryResolver layers a TTL and capacity bounded cache over a
// resolver and fans oversized batches out concurrently. Reuse is best
// effort: two callers may both miss and both fetch the same hash; the
// codec below provides no single-flight deduplication.
type CachedLibraryResolver struct {
	resolver LibraryResolver
	capacity int
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	entries map[Hash]libEntry
}

type libEntry struct {
	cell    *Cell
	expires time.Time
}

func NewCachedLibraryResolver(r LibraryResolver, opts ...Option) (*CachedLibraryResolver, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return &CachedLibraryResolver{
		resolver: r,
		capacity: cfg.capacity,
		ttl:      cfg.ttl,
		now:      cfg.now,
		entries:  make(map[Hash]libEntry),
	}, nil
}

// Libraries resolves every hash, serving what it can from cache and
// fetching the rest in MaxLibraryBatch chunks concurrently. Hashes the
// resolver does not know stay absent from the result.
func (c *CachedLibraryResolver) Libraries(ctx context.Context, hashes []Hash) (map[Hash]*Cell, error) {
	out := make(map[Hash]*Cell, len(hashes))
	var misses []Hash
	requested := make(map[Hash]struct{}, len(hashes))
	now := c.now()
	c.mu.Lock()
	for _, h := range hashes {
		if _, dup := requested[h]; dup {
			continue
		}
		requested[h] = struct{}{}
		if e, ok := c.entries[h]; ok && e.expires.After(now) {
			out[h] = e.cell
			continue
		}
		misses = append(misses, h)
	}
	c.mu.Unlock()
	if len(misses) == 0 {
		return out, nil
	}

	fetched := make(map[Hash]*Cell)
	var mu sync.Mutex
	grp, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(misses); start += MaxLibraryBatch {
		end := start + MaxLibraryBatch
		if end > len(misses) {
			end = len(misses)
		}
		chunk := misses[start:end]
		grp.Go(func() error {
			raw, err := c.resolver.GetLibraries(ctx, chunk)
			if err != nil {
				return xerrors.Errorf("fetching %d libraries: %w", len(chunk), err)
			}
			for h, data := range raw {
				cell, err := parseLibrary(h, data)
				if err != nil {
					return err
				}
				mu.Lock()
				fetched[h] = cell
				mu.Unlock()
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	log.Debugw("library fetch", "requested", len(misses), "resolved", len(fetched))

	c.insert(fetched)
	for h, cell := range fetched {
		out[h] = cell
	}
	return out, nil
}

func parseLibrary(h Hash, data []byte) (*Cell, error) {
	bag, err := ParseBoc(data)
	if err != nil {
		return nil, xerrors.Errorf("library %s: %w", h, err)
	}
	root, err := bag.SingleRoot()
	if err != nil {
		return nil, xerrors.Errorf("library %s: %w", h, err)
	}
	if root.Hash() != h {
		return nil, xerrors.Errorf("library %s resolved to cell %s: %w", h, root.Hash(), ErrFormat)
	}
	return root, nil
}

func (c *CachedLibraryResolver) insert(cells map[Hash]*Cell) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for h, cell := range cells {
		c.entries[h] = libEntry{cell: cell, expires: now.Add(c.ttl)}
	}
	if len(c.entries) <= c.capacity {
		return
	}
	for h, e := range c.entries {
		if !e.expires.After(now) {
			delete(c.entries, h)
		}
	}
	// Still over: drop whatever expires soonest.
	for len(c.entries) > c.capacity {
		var victim Hash
		var soonest time.Time
		for h, e := range c.entries {
			if soonest.IsZero() || e.expires.Before(soonest) {
				victim, soonest = h, e.expires
			}
		}
		delete(c.entries, victim)
	}
}
