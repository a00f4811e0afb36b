package block

// Stats accumulates per-device counters for observability (spec §3.1
// "SectorType ... used for statistics, cache policy, and observability").
// Updates happen under whatever lock the caller (typically the FAT engine)
// holds around the LB call; LB adds no locking of its own (spec §4.1
// "Concurrency").
type Stats struct {
	SectorsRead    [3]uint64 // indexed by SectorType
	SectorsWritten [3]uint64
	CacheHits      uint64
	CacheMisses    uint64
	VerifyFailures uint64
	InitFailures   uint64
}

func (d *Device) recordRead(kind SectorType, n uint32) {
	d.stats.SectorsRead[kind] += uint64(n)
}

func (d *Device) recordWrite(kind SectorType, n uint32) {
	d.stats.SectorsWritten[kind] += uint64(n)
}

// Stats returns a snapshot of this device's counters.
func (d *Device) Stats() Stats {
	return d.stats
}
