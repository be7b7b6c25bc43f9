package spiffs

import (
	"bytes"
	"fmt"
)

const noPage pageID = -1

// cursor tracks the object currently being written. It moves to the next
// block when an object spills over, together with its index page handle.
type cursor struct {
	objID     uint64
	indexPage pageID
	indexSpan uint64
	dataSpan  uint64
}

func (c *cursor) reset() {
	*c = cursor{indexPage: noPage}
}

// Block owns one erase block worth of pages.
type Block struct {
	cfg    *Config
	arena  *arena
	ix     int
	offset uint64

	lookup    []pageID // pre-created lookup pages
	luCur     int      // lookup page taking registrations
	pages     []pageID // every page in emission order, lookup pages first
	remaining int

	cur cursor
}

func newBlock(ix int, cfg *Config, a *arena) *Block {
	b := &Block{
		cfg:       cfg,
		arena:     a,
		ix:        ix,
		offset:    uint64(ix) * uint64(cfg.BlockSize),
		lookup:    make([]pageID, 0, cfg.LookupPagesPerBlock),
		pages:     make([]pageID, 0, cfg.PagesPerBlock),
		remaining: cfg.UsablePagesPerBlock,
	}
	for i := 0; i < cfg.LookupPagesPerBlock; i++ {
		id := a.alloc(newLookupPage())
		b.lookup = append(b.lookup, id)
		b.pages = append(b.pages, id)
	}
	b.cur.reset()
	return b
}

// Index returns the block number within the image.
func (b *Block) Index() int {
	return b.ix
}

// IsFull reports whether every usable page has been taken.
func (b *Block) IsFull() bool {
	return b.remaining <= 0
}

// Remaining returns the number of free usable pages.
func (b *Block) Remaining() int {
	return b.remaining
}

// BeginObject writes an index page for objID. Span indices other than zero
// start a continuation index page of an object already in progress.
func (b *Block) BeginObject(objID uint64, size uint32, name string, indexSpan, dataSpan uint64) error {
	if b.IsFull() {
		return fmt.Errorf("%w: block %d", ErrFull, b.ix)
	}

	b.cur.reset()
	b.cur.objID = objID
	b.cur.indexSpan = indexSpan
	b.cur.dataSpan = dataSpan

	id, err := b.register(newIndexPage(objID, b.cur.indexSpan, size, name))
	if err != nil {
		return err
	}
	b.cur.indexPage = id
	b.remaining--
	b.cur.indexSpan++
	return nil
}

// UpdateObject writes the next chunk of the current object into a data page.
// The chunk is copied, the caller may reuse it.
// ErrFull is returned both when the block is full and when the current index
// page cannot take another entry; IsFull tells the two apart.
func (b *Block) UpdateObject(chunk []byte) error {
	if b.IsFull() {
		return fmt.Errorf("%w: block %d", ErrFull, b.ix)
	}
	if b.cur.indexPage == noPage {
		return fmt.Errorf("block %d: update without an object in progress", b.ix)
	}

	offset := b.offset + uint64(len(b.pages))*uint64(b.cfg.PageSize)
	if _, err := b.register(newDataPage(offset, b.cur.objID, b.cur.dataSpan, bytes.Clone(chunk))); err != nil {
		return err
	}
	b.cur.dataSpan++
	b.remaining--
	return nil
}

// EndObject clears the object cursor.
func (b *Block) EndObject() {
	b.cur.reset()
}

// register adds p to the block. Data pages are recorded in the current index
// page first, so a full index page leaves the block unchanged.
func (b *Block) register(p page) (pageID, error) {
	if err := b.nextLookupSlot(); err != nil {
		return noPage, err
	}
	if p.kind == kindData {
		if err := b.arena.get(b.cur.indexPage).registerOffset(b.cfg, p.offset); err != nil {
			return noPage, err
		}
	}

	objID, kind := p.objID, p.kind
	id := b.arena.alloc(p)
	if err := b.arena.get(b.lookup[b.luCur]).registerEntry(b.cfg, objID, kind); err != nil {
		return noPage, err
	}
	b.pages = append(b.pages, id)
	return id, nil
}

// nextLookupSlot rolls over to the next lookup page once the current one is
// full.
func (b *Block) nextLookupSlot() error {
	for b.arena.get(b.lookup[b.luCur]).free(b.cfg) <= 0 {
		if b.luCur+1 >= len(b.lookup) {
			return fmt.Errorf("%w: block %d", ErrLookupExhausted, b.ix)
		}
		b.luCur++
	}
	return nil
}

// Encode serialises the block to BlockSize bytes.
func (b *Block) Encode(blocksLimit int) []byte {
	out := make([]byte, b.cfg.BlockSize)
	b.encodeTo(out, blocksLimit)
	return out
}

func (b *Block) encodeTo(dst []byte, blocksLimit int) {
	fill(dst, 0xFF)

	ps := b.cfg.PageSize
	for i, id := range b.pages {
		p := b.arena.get(id)
		out := dst[i*ps : (i+1)*ps]
		if b.cfg.UseMagic && i == len(b.lookup)-1 {
			p.encodeSealed(b.cfg, out, blocksLimit, b.ix)
			continue
		}
		p.encode(b.cfg, out)
	}
}

// BlockStats summarises how a block is used.
type BlockStats struct {
	Index       int
	Objects     int // distinct objects with at least one page here
	IndexPages  int
	DataPages   int
	FreePages   int
	UsablePages int
}

// Stats counts the pages of the block.
func (b *Block) Stats() BlockStats {
	st := BlockStats{
		Index:       b.ix,
		FreePages:   b.remaining,
		UsablePages: b.cfg.UsablePagesPerBlock,
	}
	objects := make(map[uint64]struct{})
	for _, id := range b.pages[len(b.lookup):] {
		p := b.arena.get(id)
		switch p.kind {
		case kindIndex:
			st.IndexPages++
		case kindData:
			st.DataPages++
		}
		objects[p.objID] = struct{}{}
	}
	st.Objects = len(objects)
	return st
}

// blockMark is a snapshot of a block used to undo a failed object.
type blockMark struct {
	pages     int
	remaining int
	luCur     int
	entries   []int
	cur       cursor
}

func (b *Block) mark() blockMark {
	m := blockMark{
		pages:     len(b.pages),
		remaining: b.remaining,
		luCur:     b.luCur,
		entries:   make([]int, len(b.lookup)),
		cur:       b.cur,
	}
	for i, id := range b.lookup {
		m.entries[i] = len(b.arena.get(id).entries)
	}
	return m
}

func (b *Block) restore(m blockMark) {
	b.pages = b.pages[:m.pages]
	b.remaining = m.remaining
	b.luCur = m.luCur
	b.cur = m.cur
	for i, id := range b.lookup {
		lu := b.arena.get(id)
		lu.entries = lu.entries[:m.entries[i]]
	}
}
