package fat

import (
	"github.com/gsfs/embfs/block"
	"github.com/gsfs/embfs/errs"
)

// ClusterEndOfChain marks the last cluster in a chain. FAT12/16/32 each use
// a different sentinel range on disk; callers only ever see this normalized
// value.
const ClusterEndOfChain ClusterID = 0x0FFFFFFF

// ClusterBad marks a cluster the file system refuses to allocate.
const ClusterBad ClusterID = 0x0FFFFFF7

// Table is the FAT cluster-chain allocation table, backed by one or more
// on-media copies accessed through the logical-block layer. It owns no
// cache of its own beyond the caller-supplied sector buffer semantics
// implied by spec §3.2 ("FS_SB" borrowed scratch buffer) -- every Get/Set
// here issues its own LB read or write.
type Table struct {
	dev  *block.Device
	part block.Partition
	bs   *BootSector
}

// NewTable binds a cluster table to a mounted volume's partition and
// geometry.
func NewTable(part block.Partition, bs *BootSector) *Table {
	return &Table{dev: part.Device, part: part, bs: bs}
}

func (t *Table) entrySector(cluster ClusterID) (block.SectorIndex, uint32) {
	switch t.bs.Version {
	case FAT12:
		byteOffset := uint32(cluster) + uint32(cluster)/2
		sector := byteOffset / uint32(t.bs.BytesPerSector)
		return t.bs.FirstFATSector + block.SectorIndex(sector), byteOffset % uint32(t.bs.BytesPerSector)
	case FAT16:
		byteOffset := uint32(cluster) * 2
		sector := byteOffset / uint32(t.bs.BytesPerSector)
		return t.bs.FirstFATSector + block.SectorIndex(sector), byteOffset % uint32(t.bs.BytesPerSector)
	default: // FAT32
		byteOffset := uint32(cluster) * 4
		sector := byteOffset / uint32(t.bs.BytesPerSector)
		return t.bs.FirstFATSector + block.SectorIndex(sector), byteOffset % uint32(t.bs.BytesPerSector)
	}
}

// Get returns the next cluster in the chain after cluster, normalized so
// that any end-of-chain marker reads back as ClusterEndOfChain regardless
// of FAT width.
func (t *Table) Get(cluster ClusterID) (ClusterID, error) {
	sector, offset := t.entrySector(cluster)
	sectorSize := int(t.bs.BytesPerSector)

	if t.bs.Version == FAT12 && offset == uint32(sectorSize-1) {
		// The 12-bit entry straddles two sectors; load both.
		buf := make([]byte, sectorSize*2)
		if err := t.part.ReadBurstPart(sector, 2, buf, block.SectorTypeManagement); err != nil {
			return 0, errs.ErrReadFailure.Wrap(err)
		}
		return normalizeFAT12(cluster, uint16(buf[offset])|uint16(buf[offset+1])<<8), nil
	}

	buf := make([]byte, sectorSize)
	if err := t.part.ReadPart(sector, buf, block.SectorTypeManagement); err != nil {
		return 0, errs.ErrReadFailure.Wrap(err)
	}

	switch t.bs.Version {
	case FAT12:
		raw := uint16(buf[offset]) | uint16(buf[offset+1])<<8
		return normalizeFAT12(cluster, raw), nil
	case FAT16:
		raw := uint16(buf[offset]) | uint16(buf[offset+1])<<8
		if raw >= 0xFFF8 {
			return ClusterEndOfChain, nil
		}
		if raw == 0xFFF7 {
			return ClusterBad, nil
		}
		return ClusterID(raw), nil
	default: // FAT32
		raw := uint32(buf[offset]) | uint32(buf[offset+1])<<8 | uint32(buf[offset+2])<<16 | uint32(buf[offset+3])<<24
		raw &= 0x0FFFFFFF
		if raw >= 0x0FFFFFF8 {
			return ClusterEndOfChain, nil
		}
		if raw == 0x0FFFFFF7 {
			return ClusterBad, nil
		}
		return ClusterID(raw), nil
	}
}

func normalizeFAT12(cluster ClusterID, raw uint16) ClusterID {
	var entry uint16
	if cluster%2 == 0 {
		entry = raw & 0x0FFF
	} else {
		entry = raw >> 4
	}
	if entry >= 0xFF8 {
		return ClusterEndOfChain
	}
	if entry == 0xFF7 {
		return ClusterBad
	}
	return ClusterID(entry)
}

// Set writes next as the table entry for cluster, across every FAT copy
// (NumFATs).
func (t *Table) Set(cluster ClusterID, next ClusterID) error {
	for fatIndex := uint8(0); fatIndex < t.bs.NumFATs; fatIndex++ {
		if err := t.setInCopy(fatIndex, cluster, next); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) setInCopy(fatIndex uint8, cluster ClusterID, next ClusterID) error {
	sector, offset := t.entrySector(cluster)
	sector += block.SectorIndex(fatIndex) * block.SectorIndex(t.bs.SectorsPerFAT)
	sectorSize := int(t.bs.BytesPerSector)

	buf := make([]byte, sectorSize)
	if err := t.part.ReadPart(sector, buf, block.SectorTypeManagement); err != nil {
		return errs.ErrReadFailure.Wrap(err)
	}

	switch t.bs.Version {
	case FAT12:
		raw := uint16(buf[offset]) | uint16(buf[offset+1])<<8
		var value uint16
		if next == ClusterEndOfChain {
			value = 0xFFF
		} else {
			value = uint16(next) & 0x0FFF
		}
		if cluster%2 == 0 {
			raw = (raw &^ 0x0FFF) | value
		} else {
			raw = (raw &^ 0xFFF0) | (value << 4)
		}
		buf[offset] = byte(raw)
		buf[offset+1] = byte(raw >> 8)
	case FAT16:
		value := uint16(next)
		if next == ClusterEndOfChain {
			value = 0xFFFF
		}
		buf[offset] = byte(value)
		buf[offset+1] = byte(value >> 8)
	default: // FAT32
		existing := uint32(buf[offset]) | uint32(buf[offset+1])<<8 | uint32(buf[offset+2])<<16 | uint32(buf[offset+3])<<24
		value := uint32(next) & 0x0FFFFFFF
		if next == ClusterEndOfChain {
			value = 0x0FFFFFFF
		}
		value |= existing & 0xF0000000
		buf[offset] = byte(value)
		buf[offset+1] = byte(value >> 8)
		buf[offset+2] = byte(value >> 16)
		buf[offset+3] = byte(value >> 24)
	}

	if err := t.part.WritePart(sector, buf, block.SectorTypeManagement); err != nil {
		return errs.ErrWriteFailure.Wrap(err)
	}
	return nil
}

// AllocateCluster finds a free cluster, marks it end-of-chain, and returns
// its ID. A real implementation would keep a free-cluster cursor; this
// linear scan is correct but not optimized for large volumes.
func (t *Table) AllocateCluster() (ClusterID, error) {
	for c := ClusterFirstValid; uint32(c) < t.bs.TotalClusters+uint32(ClusterFirstValid); c++ {
		entry, err := t.Get(c)
		if err != nil {
			return 0, err
		}
		if entry == ClusterFree {
			if err := t.Set(c, ClusterEndOfChain); err != nil {
				return 0, err
			}
			return c, nil
		}
	}
	return 0, errs.ErrVolumeFull
}

// WalkDelta advances from startCluster by delta cluster-chain hops,
// guarding against a corrupt chain that loops back on itself (spec §4.2.2
// "Corruption guard"). delta must be >= 0; walking is always forward from
// the cached position, never from the head, per spec §4.2.2's O(delta)
// requirement.
func (t *Table) WalkDelta(startCluster ClusterID, delta int) (ClusterID, error) {
	current := startCluster
	for i := 0; i < delta; i++ {
		next, err := t.Get(current)
		if err != nil {
			return 0, err
		}
		if next == current {
			return 0, errs.ErrInvalidClusterChain.WithMessage("cluster chain loops back on itself")
		}
		if next == ClusterEndOfChain || next == ClusterFree {
			return 0, errs.ErrInvalidClusterChain.WithMessage("walked past end of cluster chain")
		}
		current = next
	}
	return current, nil
}

// ExpectedClusterCount computes ceil(fileSize / BytesPerCluster) (spec
// §4.2.3). For directories (fileSize == 0, isDir == true), the configured
// upper bound MaxNumClustersDir is used instead, since a directory's true
// size field is always 0.
func (t *Table) ExpectedClusterCount(fileSize uint32, isDir bool) uint32 {
	if isDir {
		return MaxNumClustersDir
	}
	if fileSize == 0 {
		return 0
	}
	return (fileSize + t.bs.BytesPerCluster - 1) / t.bs.BytesPerCluster
}

// FreeChain walks the chain starting at firstCluster, marking every visited
// cluster free, and stops either at end-of-chain or after expectedCount
// clusters -- whichever comes first, which is the mechanism that keeps this
// safe against a corrupt chain with no real terminator (spec §4.2.3).
// A chain that doesn't terminate within expectedCount entries is reported
// as ErrInvalidClusterChain; callers freeing a directory are expected to
// demote that to OK (spec §4.2.3 rationale), since expectedCount is only an
// upper bound in that case, not the true length.
func (t *Table) FreeChain(firstCluster ClusterID, expectedCount uint32) error {
	if firstCluster == ClusterFree {
		return nil
	}

	current := firstCluster
	var freed uint32
	for current != ClusterEndOfChain && current != ClusterFree {
		if freed >= expectedCount {
			return errs.ErrInvalidClusterChain.WithMessage("cluster chain longer than expected file size implies")
		}
		next, err := t.Get(current)
		if err != nil {
			return err
		}
		if err := t.Set(current, ClusterFree); err != nil {
			return err
		}
		freed++
		if next == current {
			return errs.ErrInvalidClusterChain.WithMessage("cluster chain loops back on itself")
		}
		current = next
	}
	return nil
}
