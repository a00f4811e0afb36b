package fat_test

import (
	"encoding/binary"
	"testing"

	"github.com/gsfs/embfs/fat"
)

// buildFAT16BootSector assembles a minimal, internally consistent FAT16 BPB for
// parser tests. Geometry chosen so TotalClusters lands solidly in the
// FAT16 range (4085 <= n < 65525).
func buildFAT16BootSector(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 512)

	binary.LittleEndian.PutUint16(buf[11:13], 512) // BytesPerSector
	buf[13] = 4                                     // SectorsPerCluster
	binary.LittleEndian.PutUint16(buf[14:16], 1)    // ReservedSectors
	buf[16] = 2                                     // NumFATs
	binary.LittleEndian.PutUint16(buf[17:19], 512)  // RootEntryCount
	binary.LittleEndian.PutUint16(buf[19:21], 0)    // totalSectors16 (use 32-bit below)
	buf[21] = 0xF8                                  // Media
	binary.LittleEndian.PutUint16(buf[22:24], 200)  // sectorsPerFAT16
	binary.LittleEndian.PutUint32(buf[32:36], 100000) // totalSectors32
	binary.LittleEndian.PutUint32(buf[36:40], 0)    // sectorsPerFAT32 (unused for FAT16)

	return buf
}

func TestParseBootSector_FAT16(t *testing.T) {
	buf := buildFAT16BootSector(t)

	bs, err := fat.ParseBootSector(buf)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if bs.Version != fat.FAT16 {
		t.Errorf("expected FAT16, got %v", bs.Version)
	}
	if bs.BytesPerCluster != 2048 {
		t.Errorf("expected BytesPerCluster 2048, got %d", bs.BytesPerCluster)
	}
	if bs.DirentsPerCluster != 2048/fat.DirentSize {
		t.Errorf("wrong DirentsPerCluster: got %d", bs.DirentsPerCluster)
	}
}

func TestParseBootSector_RejectsBadSectorSize(t *testing.T) {
	buf := buildFAT16BootSector(t)
	binary.LittleEndian.PutUint16(buf[11:13], 300)

	_, err := fat.ParseBootSector(buf)
	if err == nil {
		t.Fatal("expected an error for an invalid BytesPerSector")
	}
}

func TestParseBootSector_RejectsBadClusterSize(t *testing.T) {
	buf := buildFAT16BootSector(t)
	buf[13] = 3 // not a power of two

	_, err := fat.ParseBootSector(buf)
	if err == nil {
		t.Fatal("expected an error for a non-power-of-two SectorsPerCluster")
	}
}

func TestParseBootSector_TooShort(t *testing.T) {
	_, err := fat.ParseBootSector(make([]byte, 32))
	if err == nil {
		t.Fatal("expected an error for a truncated boot sector")
	}
}
