package sfdp

import (
	"encoding/binary"

	"github.com/gsfs/embfs/errs"
)

// JEDEC JESD216 field layout (spec §6.3 "SFDP tables: JEDEC JESD216
// format, parsed per that specification"). Only the subset of the Basic
// Flash Parameter Table this driver actually needs is decoded: address
// width, density, and the erase-type size/opcode pairs. The page size is
// not read from the table; parseSFDP always sets it to 256.
const (
	sfdpSignature = 0x50444653 // "SFDP" little-endian

	sfdpHeaderLen     = 8
	sfdpParamHeaderLen = 8

	// Basic Flash Parameter Table DWORD offsets (1-indexed DWORDs per
	// JESD216, here 0-indexed byte offsets into the table).
	bfptDW1 = 0 * 4
	bfptDW2 = 1 * 4
	bfptDW9 = 8 * 4

	// DW1 bit fields.
	dw1Addr4ByteOnlyMask = 0x3 << 17 // bits 18:17
)

// parseSFDP decodes the raw SFDP header, locates the JEDEC Basic Flash
// Parameter Table pointer, reads it, and fills the subset of ChipParams
// the rest of this package needs (spec §4.4.1 step 5).
func parseSFDP(backend Backend, unit int) (ChipParams, error) {
	header, err := backend.ReadSFDP(unit, 0, sfdpHeaderLen)
	if err != nil {
		return ChipParams{}, errs.ErrReadFailure.Wrap(err)
	}
	if binary.LittleEndian.Uint32(header[0:4]) != sfdpSignature {
		return ChipParams{}, errs.ErrInitFailure.WithMessage("SFDP signature mismatch")
	}
	numParamHeadersMinusOne := int(header[6])

	var bfptPtr, bfptLen uint32
	for i := 0; i <= numParamHeadersMinusOne; i++ {
		off := uint32(sfdpHeaderLen + i*sfdpParamHeaderLen)
		ph, err := backend.ReadSFDP(unit, off, sfdpParamHeaderLen)
		if err != nil {
			return ChipParams{}, errs.ErrReadFailure.Wrap(err)
		}
		idLSB := ph[0]
		idMSB := ph[7]
		lengthDWords := ph[3]
		ptr := uint32(ph[4]) | uint32(ph[5])<<8 | uint32(ph[6])<<16
		if idLSB == 0x00 && idMSB == 0xFF {
			bfptPtr = ptr
			bfptLen = uint32(lengthDWords) * 4
			break
		}
	}
	if bfptLen == 0 {
		return ChipParams{}, errs.ErrInitFailure.WithMessage("no JEDEC Basic Flash Parameter Table found")
	}
	if bfptLen < bfptDW9+4 {
		bfptLen = bfptDW9 + 4
	}

	table, err := backend.ReadSFDP(unit, bfptPtr, int(bfptLen))
	if err != nil {
		return ChipParams{}, errs.ErrReadFailure.Wrap(err)
	}

	dw1 := binary.LittleEndian.Uint32(table[bfptDW1:])
	dw2 := binary.LittleEndian.Uint32(table[bfptDW2:])
	dw9 := binary.LittleEndian.Uint32(table[bfptDW9:])

	params := ChipParams{
		CmdRead:           0x03,
		CmdWrite:          0x02,
		BusWidthAddrRead:  BusWidthSingle,
		BusWidthDataRead:  BusWidthSingle,
		BusWidthAddrWrite: BusWidthSingle,
		BusWidthDataWrite: BusWidthSingle,
		ReadDummyBytes:    0,
		EraseCommands:     map[uint32]byte{},
	}

	switch (dw1 & dw1Addr4ByteOnlyMask) >> 17 {
	case 0:
		params.AddrBytes = 3
	case 1:
		params.AddrBytes = 3 // supports both; default to 3 until required
	case 2:
		params.AddrBytes = 4
		params.Requires4ByteAddressing = true
	default:
		params.AddrBytes = 4
		params.Requires4ByteAddressing = true
	}

	// DW9 (erase types 3 and 4 size+opcode) and, via table extension,
	// erase types 1 and 2 in DW8 -- each byte pair is
	// (log2(size), opcode).
	dw8 := binary.LittleEndian.Uint32(table[bfptDW9-4:])
	addEraseType(params.EraseCommands, byte(dw8), byte(dw8>>8))
	addEraseType(params.EraseCommands, byte(dw8>>16), byte(dw8>>24))
	addEraseType(params.EraseCommands, byte(dw9), byte(dw9>>8))
	addEraseType(params.EraseCommands, byte(dw9>>16), byte(dw9>>24))

	// Pick the smallest non-zero erase granularity as the addressable
	// "sector" the LB layer will see.
	var smallestLd uint8
	for ld := range params.EraseCommands {
		l := ldOf(ld)
		if smallestLd == 0 || l < smallestLd {
			smallestLd = l
		}
	}
	if smallestLd == 0 {
		smallestLd = 12 // 4096-byte default
	}
	params.LdBytesPerSector = smallestLd

	if dw2&0x80000000 != 0 {
		bits := uint64(dw2&0x7FFFFFFF) + 1
		totalBytes := bits / 8
		params.NumSectors = uint32(totalBytes / uint64(params.SectorSize()))
	} else {
		totalBytes := uint64(1) << (dw2 + 1 - 3) // 2^(N+1) bits -> bytes
		params.NumSectors = uint32(totalBytes / uint64(params.SectorSize()))
	}

	params.PageSize = 256 // JESD216 default absent an explicit page-size DWORD in this trimmed parse

	return params, nil
}

func addEraseType(into map[uint32]byte, ldSize, opcode byte) {
	if ldSize == 0 || ldSize == 0xFF {
		return
	}
	into[uint32(1)<<ldSize] = opcode
}

func ldOf(sizeBytes uint32) uint8 {
	var ld uint8
	for sizeBytes > 1 {
		sizeBytes >>= 1
		ld++
	}
	return ld
}
