package spiffs

import "fmt"

type pageKind uint8

const (
	kindLookup pageKind = iota
	kindIndex
	kindData
)

func (k pageKind) String() string {
	switch k {
	case kindLookup:
		return "lookup"
	case kindIndex:
		return "index"
	case kindData:
		return "data"
	default:
		return fmt.Sprintf("pageKind(%d)", k)
	}
}

// pageID is a stable handle into the page arena. Index pages are shared
// between blocks when an object spills over, so blocks never hold pointers
// to pages, only handles.
type pageID int

type lookupEntry struct {
	objID uint64
	kind  pageKind
}

// page is one of the three page variants, selected by kind.
type page struct {
	kind   pageKind
	objID  uint64
	spanIx uint64

	// lookup
	entries []lookupEntry

	// index
	size    uint32
	name    string
	offsets []uint64 // absolute byte offsets of the covered data pages

	// data
	offset   uint64
	contents []byte
}

func newLookupPage() page {
	return page{kind: kindLookup}
}

func newIndexPage(objID, spanIx uint64, size uint32, name string) page {
	return page{kind: kindIndex, objID: objID, spanIx: spanIx, size: size, name: name}
}

func newDataPage(offset, objID, spanIx uint64, contents []byte) page {
	return page{kind: kindData, objID: objID, spanIx: spanIx, offset: offset, contents: contents}
}

// capacity is the number of entries the page accepts in total.
func (p *page) capacity(c *Config) int {
	switch p.kind {
	case kindLookup:
		return c.LookupIDsPerPage
	case kindIndex:
		if p.spanIx == 0 {
			return c.HeadIndexCapacity
		}
		return c.IndexCapacity
	default:
		return 0
	}
}

func (p *page) free(c *Config) int {
	switch p.kind {
	case kindLookup:
		return p.capacity(c) - len(p.entries)
	case kindIndex:
		return p.capacity(c) - len(p.offsets)
	default:
		return 0
	}
}

// registerEntry records the owner of the next page slot in a lookup page.
func (p *page) registerEntry(c *Config, objID uint64, kind pageKind) error {
	if p.free(c) <= 0 {
		return fmt.Errorf("%w: lookup page holds %d entries", ErrFull, len(p.entries))
	}
	p.entries = append(p.entries, lookupEntry{objID: objID, kind: kind})
	return nil
}

// registerOffset records a data page in an index page.
func (p *page) registerOffset(c *Config, offset uint64) error {
	if p.free(c) <= 0 {
		return fmt.Errorf("%w: index page %d of object %d holds %d pages",
			ErrFull, p.spanIx, p.objID, len(p.offsets))
	}
	p.offsets = append(p.offsets, offset)
	return nil
}

// encode writes the page into dst, which must be PageSize bytes long.
func (p *page) encode(c *Config, dst []byte) {
	fill(dst, 0xFF)

	switch p.kind {
	case kindLookup:
		p.encodeLookup(c, dst, p.entries)
	case kindIndex:
		p.encodeIndex(c, dst)
	case kindData:
		p.encodeData(c, dst)
	}
}

// encodeSealed writes a lookup page with its free slots sealed: all but the
// last free slot are filled, the one before the last carries the block magic.
// The page itself is left untouched so encoding can be repeated.
func (p *page) encodeSealed(c *Config, dst []byte, blocksLimit, blockIx int) {
	fill(dst, 0xFF)

	entries := p.entries
	if remaining := p.free(c); remaining >= 2 {
		entries = make([]lookupEntry, len(p.entries), len(p.entries)+remaining-1)
		copy(entries, p.entries)
		filler := maxValue(c.ObjIDLen)
		for i := 0; i < remaining-2; i++ {
			entries = append(entries, lookupEntry{objID: filler, kind: kindData})
		}
		entries = append(entries, lookupEntry{objID: c.blockMagic(blocksLimit, blockIx), kind: kindData})
	}
	p.encodeLookup(c, dst, entries)
}

func (p *page) encodeLookup(c *Config, dst []byte, entries []lookupEntry) {
	pos := 0
	for _, e := range entries {
		id := e.objID
		if e.kind == kindIndex {
			id ^= c.indexBit()
		}
		c.put(dst[pos:], c.ObjIDLen, id)
		pos += c.ObjIDLen
	}
}

func (p *page) encodeIndex(c *Config, dst []byte) {
	pos := p.encodeHeader(c, dst, p.objID^c.indexBit(), flagIndex)
	// alignment pad stays 0xFF
	pos += c.DataHeaderAlignPad

	if p.spanIx == 0 {
		c.put(dst[pos:], ixSizeLen, uint64(p.size))
		pos += ixSizeLen
		dst[pos] = typeFile
		pos += ixObjTypeLen

		n := copy(dst[pos:], p.name)
		pos += n
		pad := c.ObjNameLen - n + c.MetaLen + c.IndexHeaderAlignPad
		fill(dst[pos:pos+pad], 0x00)
		pos += pad
	}

	for _, off := range p.offsets {
		c.put(dst[pos:], c.PageIxLen, off>>c.pageShift)
		pos += c.PageIxLen
	}
}

func (p *page) encodeData(c *Config, dst []byte) {
	pos := p.encodeHeader(c, dst, p.objID, flagData)
	copy(dst[pos:], p.contents)
}

// encodeHeader writes object id, span index and flag and returns the number
// of bytes written.
func (p *page) encodeHeader(c *Config, dst []byte, objID uint64, flag byte) int {
	pos := 0
	c.put(dst[pos:], c.ObjIDLen, objID)
	pos += c.ObjIDLen
	c.put(dst[pos:], c.SpanIxLen, p.spanIx)
	pos += c.SpanIxLen
	dst[pos] = flag
	return pos + flagLen
}

// blockMagic mirrors the device side SPIFFS_MAGIC macro. The mask is one bit
// wider than the id field on purpose; packing drops the extra bit.
func (c *Config) blockMagic(blocksLimit, blockIx int) uint64 {
	magic := uint64(magicBase) ^ uint64(c.PageSize)
	if c.UseMagicLen {
		magic ^= uint64(blocksLimit - blockIx)
	}
	mask := uint64(2)<<(8*c.ObjIDLen) - 1
	return magic & mask
}

// arena owns every page of an image.
type arena struct {
	pages []page
}

func (a *arena) alloc(p page) pageID {
	a.pages = append(a.pages, p)
	return pageID(len(a.pages) - 1)
}

// get returns the page behind id. The pointer is only valid until the next
// alloc.
func (a *arena) get(id pageID) *page {
	return &a.pages[id]
}

func (a *arena) truncate(n int) {
	clear(a.pages[n:])
	a.pages = a.pages[:n]
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
