package partition

import "encoding/binary"

// MBR on-disk layout constants (spec §6.3).
const (
	mbrBootstrapLen  = 440
	mbrPTEOffset     = 446
	mbrPTELen        = 16
	mbrSignatureOff  = 510
	mbrBootSignature = 0xAA55

	// ptTypeProtectiveGPT is the MBR partition-type byte a protective MBR
	// uses for its single covering entry (spec §4.3 "Partition table
	// discovery" step 1).
	ptTypeProtectiveGPT = 0xEE
)

// rawMBREntry is one 16-byte partition-table entry at sector-0 offset
// 446+16*i, grounded on soypat/fat's internal/mbr.PartitionTableEntry and
// ostafen-digler's MBRPartitionEntry (spec §6.3 "MBR partition entry").
type rawMBREntry struct {
	data [mbrPTELen]byte
}

func mbrEntry(sector0 []byte, index int) rawMBREntry {
	off := mbrPTEOffset + index*mbrPTELen
	var e rawMBREntry
	copy(e.data[:], sector0[off:off+mbrPTELen])
	return e
}

func (e rawMBREntry) bootIndicator() byte   { return e.data[0] }
func (e rawMBREntry) partitionType() byte   { return e.data[4] }
func (e rawMBREntry) startLBA() uint32      { return binary.LittleEndian.Uint32(e.data[8:12]) }
func (e rawMBREntry) numSectors() uint32    { return binary.LittleEndian.Uint32(e.data[12:16]) }

func readBootSignature(sector0 []byte) uint16 {
	return binary.LittleEndian.Uint16(sector0[mbrSignatureOff : mbrSignatureOff+2])
}

// scheme classifies sector 0's contents as MBR, GPT (protective MBR), or
// unrecognized (spec §4.3 step 1).
type scheme int

const (
	schemeNone scheme = iota
	schemeMBR
	schemeGPT
)

func classifyScheme(sector0 []byte) scheme {
	if readBootSignature(sector0) != mbrBootSignature {
		return schemeNone
	}
	if mbrEntry(sector0, 0).partitionType() == ptTypeProtectiveGPT {
		return schemeGPT
	}
	return schemeMBR
}
