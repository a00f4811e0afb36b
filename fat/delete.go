package fat

import (
	"github.com/gsfs/embfs/block"
	"github.com/gsfs/embfs/errs"
	"github.com/hashicorp/go-multierror"
)

// EntryLocation identifies one directory entry's position for the open-file
// table lookup in spec §4.2.4 step 1: "(SectorIndex, DirEntryIndex) on the
// same volume".
type EntryLocation struct {
	VolumeID      int
	Sector        block.SectorIndex
	DirEntryIndex uint32
}

// OpenFileChecker answers whether a file at loc currently has an open
// handle (spec §4.2.4 step 1, §3.2 "open-file table").
type OpenFileChecker interface {
	IsOpen(loc EntryLocation) bool
}

// DeleteEntry implements the delete protocol of spec §4.2.4: open-file
// check, dirty flag, long-name entry cleanup, cluster chain free. All
// writes made along the way are through the normal sector-write path, so
// flushing remains the caller's responsibility per spec's final paragraph
// in §4.2.4.
func (s *Scanner) DeleteEntry(volumeID int, pos DirPos, loc EntryLocation, openFiles OpenFileChecker, markDirty func()) error {
	entry, err := s.GetDirEntry(&pos)
	if err != nil {
		return err
	}

	if !entry.IsDirectory() && openFiles != nil && openFiles.IsOpen(loc) {
		return errs.ErrFileIsOpen
	}

	if markDirty != nil {
		markDirty()
	}

	var longNameErr error
	if lfnErr := s.deleteLongNameEntries(pos); lfnErr != nil {
		longNameErr = lfnErr
	}

	entry.ShortName[0] = FirstByteDeleted
	sector, entryIndex := s.entrySectorForPos(pos)
	if werr := s.writeEntryAt(sector, entryIndex, entry); werr != nil {
		return werr
	}

	expected := s.table.ExpectedClusterCount(entry.FileSize, entry.IsDirectory())
	freeErr := s.table.FreeChain(entry.FirstCluster, expected)
	if freeErr != nil && entry.IsDirectory() {
		// spec §4.2.3 rationale: a directory's true chain length isn't
		// recoverable from its (always-zero) size field, so a chain that
		// runs past the configured upper bound is not a real corruption
		// signal for directories.
		freeErr = nil
	}

	result := &multierror.Error{}
	if longNameErr != nil {
		result = multierror.Append(result, longNameErr)
	}
	if freeErr != nil {
		result = multierror.Append(result, freeErr)
	}
	return result.ErrorOrNil()
}

// entrySectorForPos returns the sector readEntryAt/writeEntryAt should be
// called against for pos, and the entry index to pass alongside it. For a
// cluster-based position that's the cluster's first sector plus the index
// within the whole cluster (readEntryAt/writeEntryAt locate the exact
// sector themselves); for the fixed root region the sector is already
// resolved down to one physical sector, so the paired index must be taken
// modulo entries-per-sector, not entries-per-cluster.
func (s *Scanner) entrySectorForPos(pos DirPos) (block.SectorIndex, uint32) {
	if pos.isFixedRoot {
		entriesPerSector := uint32(s.bs.BytesPerSector) / DirentSize
		return s.bs.FirstRootDirSector + block.SectorIndex(pos.DirEntryIndex/entriesPerSector), pos.DirEntryIndex % entriesPerSector
	}
	entriesPerCluster := uint32(s.bs.DirentsPerCluster)
	return s.bs.ClusterToSector(pos.ClusterID), pos.DirEntryIndex % entriesPerCluster
}

// deleteLongNameEntries walks backward from pos, deleting one long-name
// entry per 13 name characters, stopping at the first entry that isn't a
// long-name continuation (spec §4.2.4 step 3). Partial failure is recorded
// and returned to the caller rather than aborting the whole delete.
func (s *Scanner) deleteLongNameEntries(shortNamePos DirPos) error {
	var result *multierror.Error
	cursor := shortNamePos

	for cursor.DirEntryIndex > 0 {
		cursor.DirEntryIndex--
		entry, err := s.GetDirEntry(&cursor)
		if err != nil {
			result = multierror.Append(result, err)
			break
		}
		if !isLongNameEntry(entry) {
			break
		}
		entry.ShortName[0] = FirstByteDeleted
		sector, entryIndex := s.entrySectorForPos(cursor)
		if err := s.writeEntryAt(sector, entryIndex, entry); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// isLongNameEntry reports whether an entry's attribute byte marks it as a
// VFAT long-name continuation entry (the standard ATTR_LONG_NAME
// combination: read-only + hidden + system + volume-label all set).
func isLongNameEntry(e DirEntryFAT) bool {
	const attrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeLabel
	return e.Attributes&attrLongName == attrLongName
}
