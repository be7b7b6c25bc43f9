// Package spiffs lays out SPIFFS flash images.
//
// An image is a sequence of erase blocks. Every block starts with one or more
// object lookup pages that record, per page slot, which object owns the page
// and whether it is an index or a data page. The remaining pages hold object
// index pages (name, size and the list of data pages) and object data pages.
//
// The layout has to match the on-device mount code byte for byte, so the
// geometry derived in Config is reproduced exactly, including a few
// asymmetries the device relies on.
package spiffs

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

const (
	flagLen       = 1 // page header flag field
	ixSizeLen     = 4 // object size field in the head index page
	ixObjTypeLen  = 1 // object type field in the head index page
	typeFile      = 1
	flagIndex     = 0xF8 // used, final, index
	flagData      = 0xFC // used, final
	magicBase     = 0x20140529
	headerAlignTo = 4
)

// Options are the user facing inputs of the image geometry.
type Options struct {
	PageSize   int // bytes per page
	BlockSize  int // bytes per erase block, multiple of PageSize
	ObjIDLen   int // width of object ids
	SpanIxLen  int // width of span indices
	PageIxLen  int // width of page indices in index pages
	BlockIxLen int // width used to size index page tables
	MetaLen    int // extra metadata bytes after the name
	ObjNameLen int // maximum object name length

	BigEndian          bool
	UseMagic           bool // seal lookup pages with a block magic
	UseMagicLen        bool // mix the distance to the last block into the magic
	AlignedObjIxTables bool // align index page tables to PageIxLen
}

// DefaultOptions returns the geometry of a stock ESP-IDF SPIFFS partition.
func DefaultOptions() Options {
	return Options{
		PageSize:    256,
		BlockSize:   4096,
		ObjIDLen:    2,
		SpanIxLen:   2,
		PageIxLen:   2,
		BlockIxLen:  2,
		MetaLen:     4,
		ObjNameLen:  32,
		UseMagic:    true,
		UseMagicLen: true,
	}
}

// Config is the validated geometry. It is immutable once created.
type Config struct {
	Options

	order     binary.ByteOrder
	pageShift int

	PagesPerBlock       int
	LookupPagesPerBlock int
	UsablePagesPerBlock int
	LookupIDsPerPage    int

	DataHeaderLen        int
	DataHeaderLenAligned int
	DataHeaderAlignPad   int
	DataContentLen       int

	IndexHeaderLen        int
	IndexHeaderLenAligned int
	IndexHeaderAlignPad   int
	HeadIndexCapacity     int
	IndexCapacity         int
}

// NewConfig validates opts and derives every size and capacity from them.
func NewConfig(opts Options) (*Config, error) {
	if opts.PageSize <= 0 || opts.BlockSize <= 0 {
		return nil, fmt.Errorf("%w: page size %d and block size %d must be positive",
			ErrInvalidConfig, opts.PageSize, opts.BlockSize)
	}
	if opts.BlockSize%opts.PageSize != 0 {
		return nil, fmt.Errorf("%w: block size %d should be a multiple of page size %d",
			ErrInvalidConfig, opts.BlockSize, opts.PageSize)
	}
	if bits.OnesCount(uint(opts.PageSize)) != 1 {
		return nil, fmt.Errorf("%w: page size %d is not a power of two", ErrInvalidConfig, opts.PageSize)
	}

	widths := []struct {
		name  string
		value int
	}{
		{"object id", opts.ObjIDLen},
		{"span index", opts.SpanIxLen},
		{"page index", opts.PageIxLen},
		{"block index", opts.BlockIxLen},
	}
	for _, w := range widths {
		if !validWidth(w.value) {
			return nil, fmt.Errorf("%w: %s length %d must be 1, 2, 4 or 8", ErrInvalidConfig, w.name, w.value)
		}
	}
	if opts.MetaLen < 0 || opts.ObjNameLen < 0 {
		return nil, fmt.Errorf("%w: negative name or meta length", ErrInvalidConfig)
	}

	c := &Config{
		Options:   opts,
		order:     binary.LittleEndian,
		pageShift: bits.TrailingZeros(uint(opts.PageSize)),
	}
	if opts.BigEndian {
		c.order = binary.BigEndian
	}

	c.PagesPerBlock = opts.BlockSize / opts.PageSize
	c.LookupPagesPerBlock = ceilDiv(c.PagesPerBlock*opts.ObjIDLen, opts.PageSize)
	c.UsablePagesPerBlock = c.PagesPerBlock - c.LookupPagesPerBlock
	c.LookupIDsPerPage = opts.PageSize / opts.ObjIDLen

	c.DataHeaderLen = opts.ObjIDLen + opts.SpanIxLen + flagLen
	c.DataHeaderLenAligned = alignUp(c.DataHeaderLen, headerAlignTo)
	c.DataHeaderAlignPad = c.DataHeaderLenAligned - c.DataHeaderLen
	// computed from the unaligned header; data pages store it unaligned
	c.DataContentLen = opts.PageSize - c.DataHeaderLen

	c.IndexHeaderLen = c.DataHeaderLenAligned + ixSizeLen + ixObjTypeLen + opts.ObjNameLen + opts.MetaLen
	c.IndexHeaderLenAligned = c.IndexHeaderLen
	if opts.AlignedObjIxTables {
		c.IndexHeaderLenAligned = alignUp(c.IndexHeaderLen, opts.PageIxLen)
	}
	c.IndexHeaderAlignPad = c.IndexHeaderLenAligned - c.IndexHeaderLen

	c.HeadIndexCapacity = (opts.PageSize - c.IndexHeaderLenAligned) / opts.BlockIxLen
	// continuation pages carry only the data page header, the device sizes
	// their table from it
	c.IndexCapacity = (opts.PageSize - c.DataHeaderLenAligned) / opts.BlockIxLen

	switch {
	case c.UsablePagesPerBlock <= 0:
		return nil, fmt.Errorf("%w: block of %d pages has no room besides its lookup pages",
			ErrInvalidConfig, c.PagesPerBlock)
	case c.DataContentLen <= 0:
		return nil, fmt.Errorf("%w: page size %d leaves no room for data", ErrInvalidConfig, opts.PageSize)
	case c.HeadIndexCapacity <= 0:
		return nil, fmt.Errorf("%w: index header of %d bytes does not fit a %d byte page",
			ErrInvalidConfig, c.IndexHeaderLenAligned, opts.PageSize)
	case c.IndexCapacity <= 0:
		return nil, fmt.Errorf("%w: page size %d leaves no room for index entries", ErrInvalidConfig, opts.PageSize)
	case c.IndexHeaderLenAligned+c.HeadIndexCapacity*opts.PageIxLen > opts.PageSize,
		c.DataHeaderLenAligned+c.IndexCapacity*opts.PageIxLen > opts.PageSize:
		return nil, fmt.Errorf("%w: page index length %d overflows index tables sized for block index length %d",
			ErrInvalidConfig, opts.PageIxLen, opts.BlockIxLen)
	}

	return c, nil
}

// ByteOrder returns the byte order every multi-byte field is packed in.
func (c *Config) ByteOrder() binary.ByteOrder {
	return c.order
}

// put packs v into dst[:width], truncating it to width bytes.
func (c *Config) put(dst []byte, width int, v uint64) {
	switch width {
	case 1:
		dst[0] = byte(v)
	case 2:
		c.order.PutUint16(dst, uint16(v))
	case 4:
		c.order.PutUint32(dst, uint32(v))
	case 8:
		c.order.PutUint64(dst, v)
	}
}

// indexBit is the top bit of an object id, set on index pages.
func (c *Config) indexBit() uint64 {
	return 1 << (c.ObjIDLen*8 - 1)
}

// maxValue returns the largest unsigned value a width byte field can hold.
func maxValue(width int) uint64 {
	if width >= 8 {
		return ^uint64(0)
	}
	return 1<<(8*width) - 1
}

func validWidth(n int) bool {
	return n == 1 || n == 2 || n == 4 || n == 8
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func alignUp(n, to int) int {
	if n%to == 0 {
		return n
	}
	return n + to - n%to
}
