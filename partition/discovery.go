package partition

import (
	"fmt"
	"hash/crc32"

	"github.com/gsfs/embfs/block"
	"github.com/gsfs/embfs/errs"
)

const maxPartitionsMBR = 4

// readPartInfoIfRequiredLocked loads and validates the partition table
// exactly once; the caller must hold inst.mu. Implements spec §4.3
// "Partition table discovery".
func (inst *instance) readPartInfoIfRequiredLocked() error {
	if inst.loaded {
		return nil
	}

	info, err := devInfo(inst.underlying, inst.deviceUnit)
	if err != nil {
		return err
	}
	if info.BytesPerSector == 0 {
		return errs.ErrInvalidParameter.WithMessage("underlying device reports zero sector size")
	}
	inst.bytesPerSector = info.BytesPerSector

	sector0 := make([]byte, info.BytesPerSector)
	if err := inst.underlying.Read(inst.deviceUnit, 0, sector0, 1, block.SectorTypeManagement); err != nil {
		return errs.ErrReadFailure.Wrap(err)
	}

	sc := classifyScheme(sector0)
	switch sc {
	case schemeMBR:
		if err := inst.loadMBRLocked(sector0, info); err != nil {
			return err
		}
	case schemeGPT:
		if err := inst.loadGPTLocked(sector0, info); err != nil {
			return err
		}
	default:
		return errs.ErrInitFailure.WithMessage("sector 0 has no recognized partition table")
	}

	if err := inst.rangeCheckLocked(info); err != nil {
		return err
	}
	inst.loaded = true
	return nil
}

func (inst *instance) rangeCheckLocked(info block.DevInfo) error {
	if inst.numSectors == 0 {
		return errs.ErrInitFailure.WithMessage("partition has zero sectors")
	}
	if uint64(inst.startSector) >= uint64(info.NumSectors) {
		return errs.ErrInitFailure.WithMessage("partition start sector beyond device end")
	}
	if uint64(inst.startSector)+uint64(inst.numSectors) > uint64(info.NumSectors) {
		return errs.ErrInitFailure.WithMessage("partition extends beyond device end")
	}
	return nil
}

func (inst *instance) loadMBRLocked(sector0 []byte, info block.DevInfo) error {
	if inst.partIndex >= maxPartitionsMBR {
		return errs.ErrInvalidParameter.WithMessage("MBR partition index must be < 4")
	}
	entry := mbrEntry(sector0, inst.partIndex)
	inst.startSector = entry.startLBA()
	inst.numSectors = entry.numSectors()
	return nil
}

// loadGPTLocked implements spec §4.3 step 3: compute the backup-header
// location from the protective MBR entry, try the main header, and fall
// through to the backup on any validation failure.
func (inst *instance) loadGPTLocked(sector0 []byte, info block.DevInfo) error {
	protective := mbrEntry(sector0, 0)
	protectiveStart := protective.startLBA()
	protectiveLen := protective.numSectors()

	var backupLBA uint64
	if protectiveLen == 0xFFFFFFFF {
		backupLBA = uint64(info.NumSectors) - 1
	} else {
		backupLBA = uint64(protectiveStart) + uint64(protectiveLen) - 1
	}

	mainBuf := make([]byte, info.BytesPerSector)
	extent, mainErr := inst.tryLoadGPTHeaderLocked(1, mainBuf, info)
	if mainErr == nil {
		inst.startSector = extent.StartSector
		inst.numSectors = extent.NumSectors
		return nil
	}
	log.Warn().Err(mainErr).Msg("primary GPT header invalid; falling back to backup header")

	backupBuf := make([]byte, info.BytesPerSector)
	extent, backupErr := inst.tryLoadGPTHeaderLocked(block.SectorIndex(backupLBA), backupBuf, info)
	if backupErr != nil {
		return errs.ErrInitFailure.Wrap(fmt.Errorf("both primary and backup GPT headers are invalid: %w", backupErr))
	}
	inst.startSector = extent.StartSector
	inst.numSectors = extent.NumSectors
	return nil
}

// tryLoadGPTHeaderLocked reads and validates one GPT header (main or
// backup) at sector hdrLBA, then loads and CRC-verifies the entry array to
// extract this instance's configured partition.
func (inst *instance) tryLoadGPTHeaderLocked(hdrLBA block.SectorIndex, buf []byte, info block.DevInfo) (gptExtent, error) {
	if err := inst.underlying.Read(inst.deviceUnit, hdrLBA, buf, 1, block.SectorTypeManagement); err != nil {
		return gptExtent{}, errs.ErrReadFailure.Wrap(err)
	}
	hdr, ok := toGPTHeader(buf)
	if !ok || !hdr.valid() {
		return gptExtent{}, errs.ErrInitFailure.WithMessage("GPT header signature or CRC mismatch")
	}

	firstEntryLBA64 := hdr.firstEntryLBA()
	if firstEntryLBA64 > 0xFFFFFFFF {
		// spec §9 Open Questions: reject rather than silently truncate a
		// U64->U32 narrowing cast.
		return gptExtent{}, errs.ErrInitFailure.WithMessage("GPT first-entry LBA does not fit in 32 bits")
	}
	firstEntryLBA := block.SectorIndex(firstEntryLBA64)

	numEntries := hdr.numEntries()
	entrySize := hdr.entrySize()
	if entrySize < gptMinEntrySize {
		return gptExtent{}, errs.ErrInitFailure.WithMessage("GPT entry size smaller than spec minimum")
	}
	if uint32(inst.partIndex) >= numEntries {
		return gptExtent{}, errs.ErrInvalidParameter.WithMessage("GPT partition index beyond NumEntries")
	}

	tableBytes := uint64(numEntries) * uint64(entrySize)
	sectorsNeeded := (tableBytes + uint64(info.BytesPerSector) - 1) / uint64(info.BytesPerSector)

	hasher := crc32.NewIEEE()
	var remaining uint64 = tableBytes
	var found *gptExtent
	targetByteStart := uint64(inst.partIndex) * uint64(entrySize)
	var consumed uint64

	sectorBuf := make([]byte, info.BytesPerSector)
	for s := uint64(0); s < sectorsNeeded; s++ {
		sector := firstEntryLBA + block.SectorIndex(s)
		if err := inst.underlying.Read(inst.deviceUnit, sector, sectorBuf, 1, block.SectorTypeManagement); err != nil {
			return gptExtent{}, errs.ErrReadFailure.Wrap(err)
		}
		take := uint64(info.BytesPerSector)
		if take > remaining {
			take = remaining
		}
		hasher.Write(sectorBuf[:take])
		remaining -= take

		sectorByteStart := consumed
		sectorByteEnd := consumed + take
		if found == nil && targetByteStart >= sectorByteStart && targetByteStart < sectorByteEnd {
			// The target entry starts within this sector; it is decoded only
			// if it also ends within this sector. An entry that crosses the
			// sector end is left unfound.
			off := targetByteStart - sectorByteStart
			if off+uint64(entrySize) <= take {
				entry, ok := toGPTEntry(sectorBuf[off : off+uint64(entrySize)])
				if ok {
					e := entryToExtent(entry)
					found = &e
				}
			}
		}
		consumed = sectorByteEnd
	}

	if crc32Sum := hasher.Sum32(); crc32Sum != hdr.entriesCRC() {
		return gptExtent{}, errs.ErrInitFailure.WithMessage("GPT entry-array CRC mismatch")
	}
	if found == nil {
		return gptExtent{}, errs.ErrFileDirNotFound.WithMessage("GPT partition entry not found")
	}
	if found.isEmptyEntry() {
		return gptExtent{}, errs.ErrFileDirNotFound.WithMessage("GPT partition entry is unused")
	}
	return *found, nil
}

func entryToExtent(e rawGPTEntry) gptExtent {
	first := e.firstLBA()
	last := e.lastLBA()
	var numSectors uint32
	if last >= first {
		numSectors = uint32(last - first + 1)
	}
	return gptExtent{
		StartSector: uint32(first),
		NumSectors:  numSectors,
		TypeGUID:    e.typeGUID(),
		Attributes:  e.attributes(),
	}
}

func (e gptExtent) isEmptyEntry() bool {
	for _, b := range e.TypeGUID {
		if b != 0 {
			return false
		}
	}
	return true
}
