package block

import (
	"fmt"

	"github.com/boljen/go-bitmap"
)

// Cache is the optional sector-cache collaborator the LB layer consults
// before going to media (spec §4.1 "Through-cache algorithm"). It is
// intentionally narrower than a general block cache: LB drives the
// miss-coalescing and burst logic itself, so Cache only needs single- and
// multi-sector primitives over its own storage.
type Cache interface {
	// TryRead copies a cached sector into buf and reports whether it was
	// present. A miss leaves buf untouched.
	TryRead(idx SectorIndex, buf []byte) (hit bool)
	// Populate stores freshly-read sector data in the cache.
	Populate(idx SectorIndex, buf []byte)
	// TryWrite stores buf as the new contents of idx and reports whether
	// the cache accepted the write (true) or whether the caller must still
	// write through to media (false). A write-through cache always returns
	// false here; a write-back cache returns true and marks idx dirty.
	TryWrite(idx SectorIndex, buf []byte) (written bool)
	// Invalidate drops any cached copies of the given sector range without
	// writing them back. Used by FreeSectorsDevice.
	Invalidate(idx SectorIndex, n uint32)
}

// SectorCache is a straightforward write-through/write-back sector cache
// sized to a fixed number of sectors, adapted from
// dargueta/disko/drivers/common/blockcache.BlockCache to the LB layer's
// single/multi-sector access pattern and its bitmap-per-sector bookkeeping.
type SectorCache struct {
	bytesPerSector uint
	totalSectors   uint
	writeBack      bool

	present bitmap.Bitmap
	dirty   bitmap.Bitmap
	data    []byte
}

// NewSectorCache allocates a cache covering totalSectors sectors of
// bytesPerSector each. writeBack selects whether TryWrite absorbs the
// write (true) or always defers to media (false, write-through).
func NewSectorCache(bytesPerSector, totalSectors uint, writeBack bool) *SectorCache {
	return &SectorCache{
		bytesPerSector: bytesPerSector,
		totalSectors:   totalSectors,
		writeBack:      writeBack,
		present:        bitmap.NewSlice(int(totalSectors)),
		dirty:          bitmap.NewSlice(int(totalSectors)),
		data:           make([]byte, bytesPerSector*totalSectors),
	}
}

func (c *SectorCache) slice(idx SectorIndex) ([]byte, bool) {
	i := uint(idx)
	if i >= c.totalSectors {
		return nil, false
	}
	start := i * c.bytesPerSector
	return c.data[start : start+c.bytesPerSector], true
}

func (c *SectorCache) TryRead(idx SectorIndex, buf []byte) bool {
	if !c.present.Get(int(idx)) {
		return false
	}
	s, ok := c.slice(idx)
	if !ok {
		return false
	}
	copy(buf, s)
	return true
}

func (c *SectorCache) Populate(idx SectorIndex, buf []byte) {
	s, ok := c.slice(idx)
	if !ok {
		return
	}
	copy(s, buf)
	c.present.Set(int(idx), true)
	c.dirty.Set(int(idx), false)
}

func (c *SectorCache) TryWrite(idx SectorIndex, buf []byte) bool {
	s, ok := c.slice(idx)
	if !ok {
		return false
	}
	copy(s, buf)
	c.present.Set(int(idx), true)
	if !c.writeBack {
		c.dirty.Set(int(idx), false)
		return false
	}
	c.dirty.Set(int(idx), true)
	return true
}

func (c *SectorCache) Invalidate(idx SectorIndex, n uint32) {
	for i := uint(idx); i < uint(idx)+uint(n) && i < c.totalSectors; i++ {
		c.present.Set(int(i), false)
		c.dirty.Set(int(i), false)
	}
}

// Flush writes back every dirty sector in [idx, idx+n) using flushFn(sector,
// data). Device.Ioctl calls it for the whole cache on a graceful IoctlUnmount.
func (c *SectorCache) Flush(idx SectorIndex, n uint32, flushFn func(SectorIndex, []byte) error) error {
	for i := uint(idx); i < uint(idx)+uint(n) && i < c.totalSectors; i++ {
		if !c.dirty.Get(int(i)) {
			continue
		}
		s, ok := c.slice(SectorIndex(i))
		if !ok {
			continue
		}
		if err := flushFn(SectorIndex(i), s); err != nil {
			return fmt.Errorf("flush sector %d: %w", i, err)
		}
		c.dirty.Set(int(i), false)
	}
	return nil
}
