package partition_test

import (
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/gsfs/embfs/block"
	"github.com/gsfs/embfs/partition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSectorSize = 512

func buildMBRImage(t *testing.T, numSectors uint32, startLBA, partSectors uint32) []byte {
	t.Helper()
	image := make([]byte, int(numSectors)*testSectorSize)
	entryOff := 446
	image[entryOff] = 0x00 // not bootable
	image[entryOff+4] = 0x0C // FAT32 LBA
	binary.LittleEndian.PutUint32(image[entryOff+8:], startLBA)
	binary.LittleEndian.PutUint32(image[entryOff+12:], partSectors)
	binary.LittleEndian.PutUint16(image[510:], 0xAA55)
	return image
}

// buildGPTImage constructs a minimal valid GPT disk image (protective MBR +
// primary header/entries + backup header/entries) for scenario testing
// (spec §8 Scenario C).
func buildGPTImage(t *testing.T, numSectors uint32) ([]byte, uint32, uint32) {
	t.Helper()
	image := make([]byte, int(numSectors)*testSectorSize)

	// Protective MBR: one entry of type 0xEE covering the whole disk.
	entryOff := 446
	image[entryOff+4] = 0xEE
	binary.LittleEndian.PutUint32(image[entryOff+8:], 1)
	binary.LittleEndian.PutUint32(image[entryOff+12:], numSectors-1)
	binary.LittleEndian.PutUint16(image[510:], 0xAA55)

	const numEntries = 4
	const entrySize = 128
	partStart := uint64(10)
	partSectors := uint32(20)
	partLast := partStart + uint64(partSectors) - 1

	entryTableBytes := make([]byte, numEntries*entrySize)
	e0 := entryTableBytes[0:entrySize]
	e0[0] = 1 // non-zero type GUID byte marks this entry used
	binary.LittleEndian.PutUint64(e0[32:40], partStart)
	binary.LittleEndian.PutUint64(e0[40:48], partLast)

	entriesCRC := crc32.ChecksumIEEE(entryTableBytes)

	writeHeader := func(sector []byte, currentLBA, backupLBA, firstEntryLBA uint64) {
		binary.LittleEndian.PutUint64(sector[0:8], 0x5452415020494645)
		binary.LittleEndian.PutUint32(sector[8:12], 0x00010000)
		binary.LittleEndian.PutUint32(sector[12:16], 92)
		binary.LittleEndian.PutUint64(sector[24:32], currentLBA)
		binary.LittleEndian.PutUint64(sector[32:40], backupLBA)
		binary.LittleEndian.PutUint64(sector[40:48], 2+uint64(numEntries*entrySize)/testSectorSize+1)
		binary.LittleEndian.PutUint64(sector[48:56], uint64(numSectors)-2-uint64(numEntries*entrySize)/testSectorSize-2)
		binary.LittleEndian.PutUint64(sector[72:80], firstEntryLBA)
		binary.LittleEndian.PutUint32(sector[80:84], numEntries)
		binary.LittleEndian.PutUint32(sector[84:88], entrySize)
		binary.LittleEndian.PutUint32(sector[88:92], entriesCRC)
		crc := crc32.ChecksumIEEE(sector[:92])
		binary.LittleEndian.PutUint32(sector[16:20], crc)
	}

	mainHdrSector := image[1*testSectorSize : 2*testSectorSize]
	writeHeader(mainHdrSector, 1, uint64(numSectors)-1, 2)
	copy(image[2*testSectorSize:], entryTableBytes)

	backupEntriesStart := uint64(numSectors) - 1 - uint64(numEntries*entrySize)/testSectorSize
	backupHdrSector := image[(numSectors-1)*testSectorSize:]
	writeHeader(backupHdrSector, uint64(numSectors)-1, 1, backupEntriesStart)
	copy(image[backupEntriesStart*testSectorSize:], entryTableBytes)

	return image, uint32(partStart), partSectors
}

func TestPartition_MBR_ReadMatchesUnderlying(t *testing.T) {
	const total = 4096
	startLBA := uint32(2048)
	partSectors := uint32(1024)
	image := buildMBRImage(t, total, startLBA, partSectors)

	// Stamp a recognizable pattern into the partition's first sector on
	// the underlying device.
	pattern := make([]byte, testSectorSize)
	for i := range pattern {
		pattern[i] = byte(i)
	}
	copy(image[int(startLBA)*testSectorSize:], pattern)

	dev := newStreamDevice(image, testSectorSize)
	driver := partition.NewDriver()
	unit, err := driver.Configure(dev, 0, 0)
	require.NoError(t, err)

	buf := make([]byte, testSectorSize)
	require.NoError(t, driver.Read(unit, 0, buf, 1, block.SectorTypeData))
	assert.Equal(t, pattern, buf)
}

func TestPartition_MBR_GeometryReported(t *testing.T) {
	const total = 4096
	startLBA := uint32(2048)
	partSectors := uint32(1024)
	image := buildMBRImage(t, total, startLBA, partSectors)

	dev := newStreamDevice(image, testSectorSize)
	driver := partition.NewDriver()
	unit, err := driver.Configure(dev, 0, 0)
	require.NoError(t, err)

	var info block.DevInfo
	_, err = driver.Ioctl(unit, block.IoctlGetDevInfo, 0, &info)
	require.NoError(t, err)
	assert.Equal(t, partSectors, info.NumSectors)
	assert.EqualValues(t, testSectorSize, info.BytesPerSector)
}

func TestPartition_GPT_ExtentMatchesEntry(t *testing.T) {
	const total = 256
	image, wantStart, wantSectors := buildGPTImage(t, total)

	dev := newStreamDevice(image, testSectorSize)
	driver := partition.NewDriver()
	unit, err := driver.Configure(dev, 0, 0)
	require.NoError(t, err)

	var info block.DevInfo
	_, err = driver.Ioctl(unit, block.IoctlGetDevInfo, 0, &info)
	require.NoError(t, err)
	assert.Equal(t, wantSectors, info.NumSectors)

	payload := make([]byte, testSectorSize)
	for i := range payload {
		payload[i] = 0x42
	}
	require.NoError(t, driver.Write(unit, 0, payload, 1, false, block.SectorTypeData))

	direct := make([]byte, testSectorSize)
	require.NoError(t, dev.Read(0, block.SectorIndex(wantStart), direct, 1, block.SectorTypeData))
	assert.Equal(t, payload, direct)
}

func TestPartition_GPT_CorruptPrimaryFallsBackToBackup(t *testing.T) {
	const total = 256
	image, _, wantSectors := buildGPTImage(t, total)

	// Corrupt one byte of the primary header's signature.
	image[1*testSectorSize] ^= 0xFF

	dev := newStreamDevice(image, testSectorSize)
	driver := partition.NewDriver()
	unit, err := driver.Configure(dev, 0, 0)
	require.NoError(t, err)

	var info block.DevInfo
	_, err = driver.Ioctl(unit, block.IoctlGetDevInfo, 0, &info)
	require.NoError(t, err)
	assert.Equal(t, wantSectors, info.NumSectors, "backup header should supply the same extent as an uncorrupted primary")
}

func TestPartition_InvalidPartIndexMBR(t *testing.T) {
	image := buildMBRImage(t, 64, 2, 10)
	dev := newStreamDevice(image, testSectorSize)
	driver := partition.NewDriver()
	unit, err := driver.Configure(dev, 0, 5)
	require.NoError(t, err)

	buf := make([]byte, testSectorSize)
	err = driver.Read(unit, 0, buf, 1, block.SectorTypeData)
	assert.Error(t, err)
}

func TestPartition_UnmountClearsExtentAndErrorLatch(t *testing.T) {
	image := buildMBRImage(t, 64, 2, 10)
	dev := newStreamDevice(image, testSectorSize)
	driver := partition.NewDriver()
	unit, err := driver.Configure(dev, 0, 0)
	require.NoError(t, err)

	buf := make([]byte, testSectorSize)
	require.NoError(t, driver.Read(unit, 0, buf, 1, block.SectorTypeData))

	_, err = driver.Ioctl(unit, block.IoctlUnmount, 0, nil)
	require.NoError(t, err)

	// A subsequent access must re-read the table rather than reuse stale
	// cached extents (and must succeed, since the media itself is fine).
	require.NoError(t, driver.Read(unit, 0, buf, 1, block.SectorTypeData))
}
