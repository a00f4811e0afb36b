package fat

import (
	"errors"
	"sync"
	"time"

	"github.com/boljen/go-bitmap"

	"github.com/gsfs/embfs/errs"
)

// OpenFlags selects the open/create decision-table row (spec §4.2.5).
type OpenFlags struct {
	DoDelete bool
	DoOpen   bool
	DoCreate bool
	// Write is true if the caller needs write access; used for the
	// read-only-attribute check.
	Write bool
	// Append is true if the file position should start at EOF rather than 0.
	Append bool
}

// OpenResult is what Open returns on success: whether a fresh entry was
// created, the entry itself, its location, and the initial file position.
type OpenResult struct {
	Entry    DirEntryFAT
	Pos      DirPos
	Location EntryLocation
	Created  bool
	Position uint32
}

// Open implements the decision table of spec §4.2.5. dirCluster is the
// parent directory; name has already been encoded by EncodeShortName.
// openFiles/markDirty are the same external collaborators DeleteEntry needs;
// newEntryAttrs are the attributes given to a freshly created entry.
func (s *Scanner) Open(volumeID int, dirCluster ClusterID, name Name83, flags OpenFlags, openFiles OpenFileChecker, markDirty func(), newEntryAttrs uint8) (OpenResult, error) {
	pos, entry, found, err := s.findShortName(dirCluster, name)
	if err != nil {
		return OpenResult{}, err
	}

	switch {
	case !found && !flags.DoCreate:
		return OpenResult{}, errs.ErrFileDirNotFound

	case !found && flags.DoCreate:
		return s.createEntry(volumeID, dirCluster, name, flags, newEntryAttrs, markDirty)

	case found && flags.DoDelete:
		loc := s.locationOf(volumeID, pos)
		if err := s.DeleteEntry(volumeID, pos, loc, openFiles, markDirty); err != nil {
			return OpenResult{}, err
		}
		if flags.DoCreate {
			return s.createEntry(volumeID, dirCluster, name, flags, newEntryAttrs, markDirty)
		}
		return OpenResult{}, errs.ErrFileDirNotFound

	case found && entry.IsDirectory():
		return OpenResult{}, errs.ErrNotAFile

	case found && !flags.DoOpen && flags.DoCreate:
		return OpenResult{}, errs.ErrFileDirExists

	case found && flags.DoOpen:
		if flags.Write && entry.Attributes&AttrReadOnly != 0 {
			return OpenResult{}, errs.ErrReadOnlyFile
		}
		position := uint32(0)
		if flags.Append {
			position = entry.FileSize
		}
		return OpenResult{
			Entry:    entry,
			Pos:      pos,
			Location: s.locationOf(volumeID, pos),
			Position: position,
		}, nil
	}

	return OpenResult{}, errs.ErrInvalidParameter
}

func (s *Scanner) createEntry(volumeID int, dirCluster ClusterID, name Name83, flags OpenFlags, attrs uint8, markDirty func()) (OpenResult, error) {
	pos, err := s.FindEmptyDirEntry(dirCluster)
	if err != nil {
		return OpenResult{}, err
	}

	entry := NewFileEntry(name, attrs, time.Now())
	sector, entryIndex := s.entrySectorForPos(pos)
	if err := s.writeEntryAt(sector, entryIndex, entry); err != nil {
		return OpenResult{}, err
	}
	if markDirty != nil {
		markDirty()
	}

	return OpenResult{
		Entry:    entry,
		Pos:      pos,
		Location: s.locationOf(volumeID, pos),
		Created:  true,
	}, nil
}

func (s *Scanner) locationOf(volumeID int, pos DirPos) EntryLocation {
	sector, _ := s.entrySectorForPos(pos)
	return EntryLocation{
		VolumeID:      volumeID,
		Sector:        sector,
		DirEntryIndex: pos.DirEntryIndex,
	}
}

// findShortName linearly scans dirCluster for an entry whose ShortName
// matches. Long-name matching is out of scope for this port (spec's
// "multi-byte depending on build" name support is satisfied at the
// short-name layer; see DESIGN.md).
func (s *Scanner) findShortName(dirCluster ClusterID, name Name83) (DirPos, DirEntryFAT, bool, error) {
	pos := s.InitDirScan(dirCluster)
	for {
		entry, err := s.GetDirEntry(&pos)
		if err != nil {
			if isNotFound(err) {
				return DirPos{}, DirEntryFAT{}, false, nil
			}
			return DirPos{}, DirEntryFAT{}, false, err
		}
		if entry.IsEndMarker() {
			return DirPos{}, DirEntryFAT{}, false, nil
		}
		if !entry.IsDeleted() && entry.ShortName == name {
			return pos, entry, true, nil
		}
		pos.DirEntryIndex++
	}
}

// isNotFound reports whether a scan error means "no more entries": past the
// end of the fixed root, or a cluster chain that ended or looped (spec
// §4.2.2 "Corruption guard").
func isNotFound(err error) bool {
	return errors.Is(err, errs.ErrFileDirNotFound) || errors.Is(err, errs.ErrInvalidClusterChain)
}

// OpenFileTable tracks every currently-open file by its directory-entry
// location, protected by a single mutex standing in for spec §5's system
// micro-lock (spec §3.2 "Directory handles ... allocation is an atomic
// search under the system lock").
type OpenFileTable struct {
	mu   sync.Mutex
	open map[EntryLocation]int
}

// NewOpenFileTable creates an empty table.
func NewOpenFileTable() *OpenFileTable {
	return &OpenFileTable{open: make(map[EntryLocation]int)}
}

// IsOpen implements OpenFileChecker.
func (t *OpenFileTable) IsOpen(loc EntryLocation) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open[loc] > 0
}

// Acquire registers one more open handle for loc.
func (t *OpenFileTable) Acquire(loc EntryLocation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open[loc]++
}

// Release drops one open handle for loc, removing the entry once the count
// reaches zero.
func (t *OpenFileTable) Release(loc EntryLocation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open[loc] <= 1 {
		delete(t.open, loc)
		return
	}
	t.open[loc]--
}

const NumDirHandles = 16

// DirHandle is one slot in the small pre-allocated directory-handle pool
// (spec §3.2).
type DirHandle struct {
	InUse bool
	Pos   DirPos
}

// DirHandlePool is the fixed-size pool of DirHandle slots. Allocation is
// protected by a single mutex standing in for the system micro-lock; the
// `InUse` flags themselves live in a bitmap.Bitmap rather than per-slot
// bools, the same allocator-bitmap idiom dargueta/disko's
// drivers/common/allocatormap.go uses for its own fixed-size pools (spec
// §3.2 "allocation is an atomic search under the system lock").
type DirHandlePool struct {
	mu      sync.Mutex
	inUse   bitmap.Bitmap
	handles [NumDirHandles]DirHandle
}

// NewDirHandlePool creates an empty pool with every slot free.
func NewDirHandlePool() *DirHandlePool {
	return &DirHandlePool{inUse: bitmap.NewSlice(NumDirHandles)}
}

// Allocate finds a free slot, marks it in use, and returns its index.
func (p *DirHandlePool) Allocate() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse == nil {
		p.inUse = bitmap.NewSlice(NumDirHandles)
	}
	for i := 0; i < NumDirHandles; i++ {
		if !p.inUse.Get(i) {
			p.inUse.Set(i, true)
			p.handles[i].InUse = true
			return i, nil
		}
	}
	return -1, errs.ErrInvalidParameter.WithMessage("no free directory handles")
}

// Release returns a slot to the pool.
func (p *DirHandlePool) Release(index int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse != nil {
		p.inUse.Set(index, false)
	}
	p.handles[index] = DirHandle{}
}

// Get returns a pointer to the handle at index for direct manipulation by
// the caller holding it.
func (p *DirHandlePool) Get(index int) *DirHandle {
	return &p.handles[index]
}
