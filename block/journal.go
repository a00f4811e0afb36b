package block

// Journal is the interface the LB layer consumes from the (externally
// supplied, spec §1 "out of scope") journal transaction log implementation.
// LB only needs to know how to route reads and writes to it; the journal's
// own commit/replay logic lives outside this module.
type Journal interface {
	// IsActive reports whether a journal is bound and currently accepting
	// transactions for this device.
	IsActive() bool
	// IsPresent reports whether the journal's own backing storage is
	// healthy (distinct from IsActive: a journal can be bound but
	// temporarily unavailable).
	IsPresent() bool
	// IsNewDataLogged reports whether the most recent write for this
	// sector is sitting in the journal rather than on media yet.
	IsNewDataLogged(idx SectorIndex) bool
	// Read serves either the in-flight new data from the journal, or falls
	// through to the on-media copy, filling buf with exactly one sector's
	// worth of data per entry.
	Read(idx SectorIndex, buf []byte, n uint32, kind SectorType) error
	// Write records n sectors' worth of data in the journal instead of
	// writing directly to media.
	Write(idx SectorIndex, buf []byte, n uint32, repeatSame bool, kind SectorType) error
	// Free records that the given sector range is no longer in use.
	Free(idx SectorIndex, n uint32) error
}

// shouldRouteWriteToJournal decides, per spec §4.1 "Journal routing",
// whether a write must go through the journal rather than directly to
// media.
func shouldRouteWriteToJournal(j Journal, idx SectorIndex, forceJournal bool) bool {
	if j == nil || !j.IsActive() || !j.IsPresent() {
		return false
	}
	return forceJournal || j.IsNewDataLogged(idx)
}

func shouldRouteReadToJournal(j Journal) bool {
	return j != nil && j.IsActive() && j.IsPresent()
}
