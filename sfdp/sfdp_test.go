package sfdp_test

import (
	"encoding/binary"
	"testing"

	"github.com/gsfs/embfs/errs"
	"github.com/gsfs/embfs/sfdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend simulates a single SPI-NOR chip in memory: reads copy bytes
// out, "programs" AND new bits into existing bits (real NOR can only clear
// bits until erased), and erase commands fill a sector with 0xFF. This is
// the sfdp package's equivalent of the LB-layer tests' in-memory memDevice.
type fakeBackend struct {
	flash        []byte
	freqKHz      uint32
	jedecID      [3]byte
	sfdpTable    []byte
	writeEnable  bool
	eraseOpcode  byte
	readOpcode   byte
	writeOpcode  byte
	forceBusy    bool
}

func newFakeBackend(flashSize int) *fakeBackend {
	flash := make([]byte, flashSize)
	for i := range flash {
		flash[i] = 0xFF
	}
	return &fakeBackend{
		flash:       flash,
		freqKHz:     50_000,
		jedecID:     [3]byte{0xEF, 0x40, 0x18},
		eraseOpcode: 0x20,
		readOpcode:  0x03,
		writeOpcode: 0x02,
		sfdpTable:   buildFakeSFDPTable(),
	}
}

// buildFakeSFDPTable constructs a minimal JESD216 image: an 8-byte SFDP
// header, one 8-byte parameter header pointing at a 36-byte (9-DWORD)
// JEDEC Basic Flash Parameter Table, with 3-byte addressing and a single
// 4096-byte erase type at opcode 0x20.
func buildFakeSFDPTable() []byte {
	buf := make([]byte, 16+36)
	binary.LittleEndian.PutUint32(buf[0:4], 0x50444653) // "SFDP"
	buf[6] = 0                                          // NPH-1: one parameter header

	// Parameter header at offset 8: JEDEC basic flash table (ID 0xFF00),
	// length 9 DWORDs, pointer 16.
	buf[8] = 0x00   // ID LSB
	buf[11] = 9     // length in DWORDs
	buf[12] = 16    // pointer low
	buf[13] = 0     // pointer mid
	buf[14] = 0     // pointer high
	buf[15] = 0xFF  // ID MSB

	table := buf[16:]
	// DW1: bits 18:17 = 0 -> 3-byte addressing only.
	binary.LittleEndian.PutUint32(table[0:4], 0)
	// DW2: bit31 set -> density is (bits-1) directly. 8192 bytes = 65536
	// bits -> bits-1 = 65535.
	binary.LittleEndian.PutUint32(table[4:8], 0x80000000|0xFFFF)
	// DW8 (table offset 28): erase type 1 = ld 12 (4096 bytes), opcode
	// 0x20; erase type 2 unused.
	table[28] = 12
	table[29] = 0x20
	table[30] = 0
	table[31] = 0
	// DW9 (table offset 32): erase types 3/4 unused.
	binary.LittleEndian.PutUint32(table[32:36], 0)

	return buf
}

func (f *fakeBackend) Init(unit int) (uint32, error) { return f.freqKHz, nil }

func (f *fakeBackend) ReadJEDECID(unit int) ([3]byte, error) { return f.jedecID, nil }

func (f *fakeBackend) ReadSFDP(unit int, addr uint32, length int) ([]byte, error) {
	return f.sfdpTable[addr : addr+uint32(length)], nil
}

func decodeAddr(addr []byte) uint32 {
	var v uint32
	for _, b := range addr {
		v = v<<8 | uint32(b)
	}
	return v
}

func (f *fakeBackend) Exchange(unit int, ex sfdp.Exchange) error {
	switch ex.Opcode {
	case 0x06: // write enable
		f.writeEnable = true
		return nil
	case 0xAB, 0xB7, 0xE9, 0x98: // release-DPD, enter/exit 4B, unprotect
		return nil
	case f.readOpcode:
		offset := decodeAddr(ex.Addr)
		copy(ex.Data, f.flash[offset:offset+uint32(len(ex.Data))])
		return nil
	case f.writeOpcode:
		offset := decodeAddr(ex.Addr)
		for i, b := range ex.Data {
			f.flash[int(offset)+i] &= b
		}
		f.writeEnable = false
		return nil
	case f.eraseOpcode:
		offset := decodeAddr(ex.Addr)
		for i := uint32(0); i < 4096; i++ {
			f.flash[offset+i] = 0xFF
		}
		f.writeEnable = false
		return nil
	default:
		return nil
	}
}

func (f *fakeBackend) ReadStatusRegister(unit int) (byte, error) {
	if f.forceBusy {
		return 0x01, nil
	}
	return 0, nil
}

func (f *fakeBackend) ReadFlagRegister(unit int) (byte, bool, error) { return 0, false, nil }

func (f *fakeBackend) Delay(ms uint32) bool { return true } // hardware-timed no-op; skip the real spin in tests

func TestDiscover_ParsesSFDPAndComputesUsedRange(t *testing.T) {
	backend := newFakeBackend(8192)
	dev, err := sfdp.Discover(sfdp.Config{
		Unit:      0,
		Backend:   backend,
		StartAddr: 0,
		NumBytes:  8192,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4096, dev.Params.SectorSize())
	assert.EqualValues(t, 3, dev.Params.AddrBytes)
	assert.EqualValues(t, 8192, dev.UsedNumBytes)
}

func TestDevice_ReadWriteRoundTripAfterErase(t *testing.T) {
	backend := newFakeBackend(8192)
	dev, err := sfdp.Discover(sfdp.Config{Unit: 0, Backend: backend, NumBytes: 8192})
	require.NoError(t, err)

	require.NoError(t, dev.EraseSector(0))

	payload := []byte{0x11, 0x22, 0x33, 0x44}
	require.NoError(t, dev.Write(0, payload))

	readBack := make([]byte, len(payload))
	require.NoError(t, dev.Read(0, readBack))
	assert.Equal(t, payload, readBack)
}

func TestDevice_WriteStripsLeadingTrailingFF(t *testing.T) {
	backend := newFakeBackend(8192)
	dev, err := sfdp.Discover(sfdp.Config{Unit: 0, Backend: backend, NumBytes: 8192})
	require.NoError(t, err)
	require.NoError(t, dev.EraseSector(0))

	payload := []byte{0xFF, 0xFF, 0xAB, 0xCD, 0xFF}
	require.NoError(t, dev.Write(100, payload))

	readBack := make([]byte, len(payload))
	require.NoError(t, dev.Read(100, readBack))
	assert.Equal(t, payload, readBack, "stripped leading/trailing 0xFF must not change the post-read content")
}

func TestDevice_DualChipUnalignedWrite(t *testing.T) {
	backend := newFakeBackend(8192)
	dev, err := sfdp.Discover(sfdp.Config{Unit: 0, Backend: backend, NumBytes: 8192})
	require.NoError(t, err)
	dev.DualChip = true
	require.NoError(t, dev.EraseSector(0))

	// Scenario D: write(offset=1, [0xAA,0xBB,0xCC]) into pre-erased media.
	require.NoError(t, dev.Write(1, []byte{0xAA, 0xBB, 0xCC}))

	readBack := make([]byte, 4)
	require.NoError(t, dev.Read(0, readBack))
	assert.Equal(t, []byte{0xFF, 0xAA, 0xBB, 0xCC}, readBack)
}

func TestDevice_EraseSectorFillsWithFF(t *testing.T) {
	backend := newFakeBackend(8192)
	dev, err := sfdp.Discover(sfdp.Config{Unit: 0, Backend: backend, NumBytes: 8192})
	require.NoError(t, err)

	require.NoError(t, dev.Write(0, []byte{0x00, 0x00, 0x00, 0x00}))
	require.NoError(t, dev.EraseSector(0))

	readBack := make([]byte, 4)
	require.NoError(t, dev.Read(0, readBack))
	assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, readBack)
}

func TestDevice_TimeoutWhenChipStaysBusy(t *testing.T) {
	backend := newFakeBackend(8192)
	backend.forceBusy = true
	dev, err := sfdp.Discover(sfdp.Config{Unit: 0, Backend: backend, NumBytes: 8192})
	require.NoError(t, err)

	err = dev.EraseSector(0)
	assert.ErrorIs(t, err, errs.ErrTimeout)
}
