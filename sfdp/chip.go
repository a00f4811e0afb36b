// Package sfdp implements the serial-NOR physical layer (spec §4.4):
// per-chip SFDP parameter discovery, sector-boundary-aligned page
// programming, ready-polling with timeouts, and unaligned data handling
// for single- and dual-chip configurations. The bit-banging details of a
// specific bus transport are an external collaborator (spec §1 scope),
// modeled here as the Backend interface.
package sfdp

import "github.com/gsfs/embfs/internal/logging"

var log = logging.For("sfdp")

// BusWidth is the number of data lanes a command phase uses: 1 (standard
// SPI), 2 (dual), or 4 (quad). Command, address, and data phases of the
// same transaction may each use a different width (spec §4.4.2).
type BusWidth int

const (
	BusWidthSingle BusWidth = 1
	BusWidthDual   BusWidth = 2
	BusWidthQuad   BusWidth = 4
)

// ChipParams is the per-chip state discovered once at init and mutated
// only by init/reconfigure (spec §3.1 "SFDP-NOR chip state").
type ChipParams struct {
	// LdBytesPerSector is log2 of the erase-sector size in bytes (e.g. 12
	// for a 4096-byte sector).
	LdBytesPerSector uint8
	NumSectors       uint32
	PageSize         uint32
	AddrBytes        int // 3 or 4

	CmdRead          byte
	CmdWrite         byte
	BusWidthAddrRead  BusWidth
	BusWidthDataRead  BusWidth
	BusWidthAddrWrite BusWidth
	BusWidthDataWrite BusWidth
	ReadDummyBytes   int

	// EraseCommands maps an erase granularity in bytes to the opcode that
	// erases a region of that size (spec §4.4.4 "the erase command
	// corresponding to the sector's configured size").
	EraseCommands map[uint32]byte

	Requires4ByteAddressing bool
	SupportsUnprotect       bool
}

// SectorSize returns the erase-sector size in bytes.
func (p ChipParams) SectorSize() uint32 {
	return uint32(1) << p.LdBytesPerSector
}

// PollTimeouts carries the timeout budgets derived from the bus frequency
// reported by the HW backend's Init (spec §4.4.5, §9 "a single bus
// frequency value suffices to parameterize all timeouts").
type PollTimeouts struct {
	ProgramPage uint32 // ms
	EraseSector uint32 // ms
	StatusPoll  uint32 // ms between polls -- calibrated to ~1ms of bus activity
}

// derivePollTimeouts scales the default timeout budget by the observed bus
// frequency: a slower bus needs proportionally more poll iterations to
// cover the same wall-clock timeout (spec §4.4.5).
func derivePollTimeouts(freqKHz uint32) PollTimeouts {
	if freqKHz == 0 {
		freqKHz = 1000
	}
	scale := float64(1000) / float64(freqKHz)
	if scale < 1 {
		scale = 1
	}
	return PollTimeouts{
		ProgramPage: uint32(5 * scale),
		EraseSector: uint32(3000 * scale),
		StatusPoll:  1,
	}
}

// Device is one SFDP-discovered NOR flash instance, addressed by a single
// unit number (spec §3.2 "The SFDP phy owns one NorSpiDevice per unit").
type Device struct {
	Unit    int
	Backend Backend
	Params  ChipParams
	Timeouts PollTimeouts

	// UsedStartByte/UsedNumBytes is the aligned, truncated subrange of
	// flash actually managed by this device (spec §4.4.1 step 6).
	UsedStartByte uint32
	UsedNumBytes  uint32

	// DualChip stripes reads/writes across two chips on a 16-bit bus
	// (spec §4.4.3 "write_page_aligned").
	DualChip bool

	// FailSafeHook is the optional per-byte test hook for management
	// writes of <=32 bytes (spec §4.4.6).
	FailSafeHook func(offset uint32, b byte)
}

func (d *Device) usedSectorCount() uint32 {
	return d.UsedNumBytes / d.Params.SectorSize()
}
