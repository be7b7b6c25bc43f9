package spiffs

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// Image collects objects into blocks and serialises them once everything
// has been added. Nothing is encoded before Finish, because an object's
// index page keeps receiving data page offsets after its block has moved on.
type Image struct {
	cfg         *Config
	size        int64
	blocksLimit int
	blocks      []*Block
	arena       arena
	nextObjID   uint64
	logger      *slog.Logger
}

// NewImage prepares an empty image of size bytes.
func NewImage(size int64, cfg *Config) (*Image, error) {
	if size <= 0 || size%int64(cfg.BlockSize) != 0 {
		return nil, fmt.Errorf("%w: image size %d should be a positive multiple of block size %d",
			ErrInvalidConfig, size, cfg.BlockSize)
	}

	blocksLimit := size / int64(cfg.BlockSize)
	if uint64(blocksLimit-1) > maxValue(cfg.BlockIxLen) {
		return nil, fmt.Errorf("%w: %d blocks do not fit a %d byte block index",
			ErrInvalidConfig, blocksLimit, cfg.BlockIxLen)
	}
	if pages := size / int64(cfg.PageSize); uint64(pages-1) > maxValue(cfg.PageIxLen) {
		return nil, fmt.Errorf("%w: %d pages do not fit a %d byte page index",
			ErrInvalidConfig, pages, cfg.PageIxLen)
	}

	return &Image{
		cfg:         cfg,
		size:        size,
		blocksLimit: int(blocksLimit),
		nextObjID:   1,
		logger:      slog.Default(),
	}, nil
}

// Config returns the geometry the image is laid out with.
func (img *Image) Config() *Config {
	return img.cfg
}

// Size returns the image size in bytes.
func (img *Image) Size() int64 {
	return img.size
}

// BlocksLimit returns the number of blocks that fit the image.
func (img *Image) BlocksLimit() int {
	return img.blocksLimit
}

// BlocksUsed returns the number of blocks holding objects.
func (img *Image) BlocksUsed() int {
	return len(img.blocks)
}

// RemainingBlocks returns the number of blocks not yet allocated.
func (img *Image) RemainingBlocks() int {
	return img.blocksLimit - len(img.blocks)
}

// Objects returns the number of objects added so far.
func (img *Image) Objects() int {
	return int(img.nextObjID - 1)
}

// Stats returns per block usage for every allocated block.
func (img *Image) Stats() []BlockStats {
	stats := make([]BlockStats, 0, len(img.blocks))
	for _, b := range img.blocks {
		stats = append(stats, b.Stats())
	}
	return stats
}

// AddFile stores content as a new object called name. If the file does not
// fit, the image is left as it was before the call.
func (img *Image) AddFile(name string, content []byte) (err error) {
	if len(name) > img.cfg.ObjNameLen {
		return fmt.Errorf("%w: %q is %d bytes, limit is %d", ErrNameTooLong, name, len(name), img.cfg.ObjNameLen)
	}
	// the top bit marks index pages and an all ones id marks a free slot
	if img.nextObjID >= img.cfg.indexBit()-1 {
		return fmt.Errorf("%w: %q would be object %d", ErrTooManyObjects, name, img.nextObjID)
	}
	if uint64(len(content)) >= math.MaxUint32 {
		return fmt.Errorf("%w: %q is %d bytes", ErrFileTooLarge, name, len(content))
	}

	m := img.mark()
	defer func() {
		if err != nil {
			img.rollback(m)
		}
	}()

	objID := img.nextObjID
	size := uint32(len(content))

	block, err := img.currentBlock()
	if err != nil {
		return err
	}
	if err := block.BeginObject(objID, size, name, 0, 0); err != nil {
		if !errors.Is(err, ErrFull) {
			return err
		}
		if block, err = img.newBlock(); err != nil {
			return err
		}
		if err := block.BeginObject(objID, size, name, 0, 0); err != nil {
			return err
		}
	}

	chunkLen := img.cfg.DataContentLen
	for off := 0; off < len(content); {
		end := min(off+chunkLen, len(content))

		err := block.UpdateObject(content[off:end])
		switch {
		case err == nil:
			off = end
		case !errors.Is(err, ErrFull):
			return err
		case !block.IsFull():
			// the index page is full, continue the index on this block
			if err := block.BeginObject(objID, size, name, block.cur.indexSpan, block.cur.dataSpan); err != nil {
				return err
			}
		default:
			next, err := img.newBlock()
			if err != nil {
				return err
			}
			// the index page stays in the previous block and keeps
			// collecting offsets from this one
			next.cur = block.cur
			block = next
		}
	}

	block.EndObject()
	img.nextObjID++
	return nil
}

// Finish encodes the image. When magic numbers are enabled, unused blocks are
// written as sealed empty blocks so the device can mount the image; otherwise
// they are left erased.
func (img *Image) Finish() ([]byte, error) {
	bs := img.cfg.BlockSize
	out := make([]byte, img.size)

	for i, b := range img.blocks {
		b.encodeTo(out[i*bs:(i+1)*bs], img.blocksLimit)
	}

	tail := out[len(img.blocks)*bs:]
	if !img.cfg.UseMagic {
		fill(tail, 0xFF)
		return out, nil
	}

	// empty blocks live in a scratch arena so Finish can be repeated
	var scratch arena
	for ix := len(img.blocks); ix < img.blocksLimit; ix++ {
		empty := newBlock(ix, img.cfg, &scratch)
		empty.encodeTo(out[ix*bs:(ix+1)*bs], img.blocksLimit)
		scratch.truncate(0)
	}

	return out, nil
}

func (img *Image) currentBlock() (*Block, error) {
	if len(img.blocks) == 0 {
		return img.newBlock()
	}
	return img.blocks[len(img.blocks)-1], nil
}

func (img *Image) newBlock() (*Block, error) {
	if img.RemainingBlocks() <= 0 {
		return nil, fmt.Errorf("%w: all %d blocks are in use", ErrImageFull, img.blocksLimit)
	}
	b := newBlock(len(img.blocks), img.cfg, &img.arena)
	img.blocks = append(img.blocks, b)
	img.logger.Debug("allocated block", "block", b.ix, "remaining", img.RemainingBlocks())
	return b, nil
}

type imageMark struct {
	blocks int
	pages  int
	last   *blockMark
}

func (img *Image) mark() imageMark {
	m := imageMark{blocks: len(img.blocks), pages: len(img.arena.pages)}
	if len(img.blocks) > 0 {
		bm := img.blocks[len(img.blocks)-1].mark()
		m.last = &bm
	}
	return m
}

func (img *Image) rollback(m imageMark) {
	clear(img.blocks[m.blocks:])
	img.blocks = img.blocks[:m.blocks]
	img.arena.truncate(m.pages)
	if m.last != nil {
		img.blocks[len(img.blocks)-1].restore(*m.last)
	}
}
