package fat

import (
	"errors"

	"github.com/gsfs/embfs/block"
	"github.com/gsfs/embfs/errs"
)

// DirPos is a traversal cursor within a directory (spec §3.1 "DirPos").
// Invariant: ClusterIndex*EntriesPerCluster <= DirEntryIndex <
// (ClusterIndex+1)*EntriesPerCluster; ClusterID == 0 (outside the fixed-root
// case) marks an invalid cursor, mirroring spec's SECTOR_INDEX_INVALID
// sentinel at the cluster-ID layer.
type DirPos struct {
	FirstClusterID ClusterID
	ClusterID      ClusterID
	ClusterIndex   uint32
	DirEntryIndex  uint32

	// isFixedRoot is true when this cursor walks a FAT12/16 fixed root
	// region instead of a cluster chain.
	isFixedRoot bool
}

// Valid reports whether the cursor still addresses a real position.
func (p DirPos) Valid() bool {
	return p.ClusterID != 0 || p.isFixedRoot
}

// Scanner drives directory traversal for one mounted volume: init_dir_scan,
// get_dir_entry, and find_empty_dir_entry from spec §4.2.2.
type Scanner struct {
	part  block.Partition
	bs    *BootSector
	table *Table
}

// NewScanner binds a directory scanner to a volume's partition, geometry,
// and cluster table.
func NewScanner(part block.Partition, bs *BootSector, table *Table) *Scanner {
	return &Scanner{part: part, bs: bs, table: table}
}

// InitDirScan sets pos to entry 0 of dirCluster. dirCluster == 0 means "the
// root directory": on FAT32 that's bs.RootDirCluster; on FAT12/16 it
// addresses the fixed root region instead (spec §4.2.2).
func (s *Scanner) InitDirScan(dirCluster ClusterID) DirPos {
	if dirCluster == 0 {
		if s.bs.Version == FAT32 {
			return DirPos{FirstClusterID: s.bs.RootDirCluster, ClusterID: s.bs.RootDirCluster}
		}
		return DirPos{isFixedRoot: true, ClusterID: 1}
	}
	return DirPos{FirstClusterID: dirCluster, ClusterID: dirCluster}
}

// GetDirEntry reads the entry at pos into a decoded DirEntryFAT, advancing
// the cluster-chain walk by the delta between the desired cluster index and
// the cursor's last cached one -- never from the head when moving forward
// (spec §4.2.2). A cursor moved back into an earlier cluster is walked again
// from FirstClusterID, since the chain only links forward.
func (s *Scanner) GetDirEntry(pos *DirPos) (DirEntryFAT, error) {
	if pos.isFixedRoot {
		return s.getFixedRootEntry(pos)
	}

	entriesPerCluster := uint32(s.bs.DirentsPerCluster)
	wantClusterIndex := pos.DirEntryIndex / entriesPerCluster

	if wantClusterIndex != pos.ClusterIndex || pos.ClusterID == 0 {
		delta := int(wantClusterIndex) - int(pos.ClusterIndex)
		if pos.ClusterID == 0 || delta < 0 {
			pos.ClusterID = pos.FirstClusterID
			delta = int(wantClusterIndex)
		}
		next, err := s.table.WalkDelta(pos.ClusterID, delta)
		if err != nil {
			return DirEntryFAT{}, err
		}
		if next == pos.ClusterID && delta > 0 {
			return DirEntryFAT{}, errs.ErrInvalidClusterChain.WithMessage("directory chain loop detected")
		}
		pos.ClusterID = next
		pos.ClusterIndex = wantClusterIndex
	}

	sector := s.bs.ClusterToSector(pos.ClusterID)
	return s.readEntryAt(sector, pos.DirEntryIndex%entriesPerCluster)
}

func (s *Scanner) getFixedRootEntry(pos *DirPos) (DirEntryFAT, error) {
	if pos.DirEntryIndex >= uint32(s.bs.RootEntryCount) {
		return DirEntryFAT{}, errs.ErrFileDirNotFound.WithMessage("past end of fixed root directory")
	}
	entriesPerSector := uint32(s.bs.BytesPerSector) / DirentSize
	sectorOffset := pos.DirEntryIndex / entriesPerSector
	return s.readEntryAt(s.bs.FirstRootDirSector+block.SectorIndex(sectorOffset), pos.DirEntryIndex%entriesPerSector)
}

func (s *Scanner) readEntryAt(sector block.SectorIndex, entryInSector uint32) (DirEntryFAT, error) {
	entriesPerSector := uint32(s.bs.BytesPerSector) / DirentSize
	absSector := sector + block.SectorIndex(entryInSector/entriesPerSector)
	offsetInSector := (entryInSector % entriesPerSector) * DirentSize

	buf := make([]byte, s.bs.BytesPerSector)
	if err := s.part.ReadPart(absSector, buf, block.SectorTypeDirectory); err != nil {
		return DirEntryFAT{}, errs.ErrReadFailure.Wrap(err)
	}
	return DirEntryFromBytes(buf[offsetInSector : offsetInSector+DirentSize]), nil
}

// writeEntryAt writes one directory entry back to its sector (used by
// delete, create, and find_empty_dir_entry).
func (s *Scanner) writeEntryAt(sector block.SectorIndex, entryInSector uint32, entry DirEntryFAT) error {
	entriesPerSector := uint32(s.bs.BytesPerSector) / DirentSize
	absSector := sector + block.SectorIndex(entryInSector/entriesPerSector)
	offsetInSector := (entryInSector % entriesPerSector) * DirentSize

	buf := make([]byte, s.bs.BytesPerSector)
	if err := s.part.ReadPart(absSector, buf, block.SectorTypeDirectory); err != nil {
		return errs.ErrReadFailure.Wrap(err)
	}
	entry.ToBytes(buf[offsetInSector : offsetInSector+DirentSize])
	if err := s.part.WritePart(absSector, buf, block.SectorTypeDirectory); err != nil {
		return errs.ErrWriteFailure.Wrap(err)
	}
	return nil
}

// FindEmptyDirEntry scans a directory (starting at dirCluster) for an entry
// whose first byte is the end marker or the deleted marker. If none is
// found and the directory isn't the FAT12/16 fixed root, a new cluster is
// allocated, zeroed, appended to the chain, and its first entry returned
// (spec §4.2.2).
func (s *Scanner) FindEmptyDirEntry(dirCluster ClusterID) (DirPos, error) {
	pos := s.InitDirScan(dirCluster)
	lastCluster := pos.ClusterID

	for {
		entry, err := s.GetDirEntry(&pos)
		if err != nil {
			if pos.isFixedRoot {
				return DirPos{}, errs.ErrDirFull
			}
			if !errors.Is(err, errs.ErrInvalidClusterChain) {
				return DirPos{}, err
			}
			newCluster, extendErr := s.ExtendDirectory(lastCluster)
			if extendErr != nil {
				return DirPos{}, extendErr
			}
			pos.ClusterID = newCluster
			pos.ClusterIndex = pos.DirEntryIndex / uint32(s.bs.DirentsPerCluster)
			continue
		}
		if entry.IsFree() {
			return pos, nil
		}
		if !pos.isFixedRoot {
			lastCluster = pos.ClusterID
		}
		pos.DirEntryIndex++

		if pos.isFixedRoot && pos.DirEntryIndex >= uint32(s.bs.RootEntryCount) {
			return DirPos{}, errs.ErrDirFull
		}
	}
}

// ExtendDirectory allocates a fresh, zeroed cluster and appends it to the
// chain headed by lastCluster. Every sector of the new cluster is zeroed
// through the normal LB write path, which also replaces any cached copy of
// those sectors.
func (s *Scanner) ExtendDirectory(lastCluster ClusterID) (ClusterID, error) {
	newCluster, err := s.table.AllocateCluster()
	if err != nil {
		return 0, err
	}

	zero := make([]byte, s.bs.BytesPerSector)
	sector := s.bs.ClusterToSector(newCluster)
	for i := uint8(0); i < s.bs.SectorsPerCluster; i++ {
		if err := s.part.WritePart(sector+block.SectorIndex(i), zero, block.SectorTypeDirectory); err != nil {
			return 0, errs.ErrWriteFailure.Wrap(err)
		}
	}

	if lastCluster != 0 {
		if err := s.table.Set(lastCluster, newCluster); err != nil {
			return 0, err
		}
	}
	return newCluster, nil
}
