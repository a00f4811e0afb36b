// Package fat implements the FAT directory & cluster engine: directory
// entry lookup/allocation, short-name encoding, cluster-chain navigation
// with corruption guards, and atomic delete that respects open-file
// invariants. See spec §4.2.
package fat

import (
	"encoding/binary"
	"fmt"

	"github.com/gsfs/embfs/block"
	"github.com/gsfs/embfs/errs"
	"github.com/gsfs/embfs/internal/logging"
)

var log = logging.For("fat")

// ClusterID addresses one cluster. 0 and 1 are reserved; data clusters start
// at 2, matching every FAT revision.
type ClusterID uint32

const (
	// ClusterFree marks an unallocated table entry.
	ClusterFree ClusterID = 0
	// ClusterFirstValid is the first data cluster number.
	ClusterFirstValid ClusterID = 2
)

// Version identifies which on-disk FAT table width a volume uses.
type Version int

const (
	FAT12 Version = 12
	FAT16 Version = 16
	FAT32 Version = 32
)

// rawBootSector is the on-disk BIOS Parameter Block common to FAT12/16/32,
// grounded on dargueta-disko/drivers/fat.RawFATBootSectorWithBPB.
type rawBootSector struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	totalSectors16    uint16
	Media             uint8
	sectorsPerFAT16   uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	totalSectors32    uint32
}

// BootSector is the fully derived geometry of a mounted FAT volume: the raw
// BPB fields plus every quantity the engine repeatedly needs (sectors per
// FAT, first data sector, cluster count, FAT width).
type BootSector struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	Media             uint8
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32

	SectorsPerFAT     uint32
	TotalSectors      uint32
	RootDirSectors    uint32
	BytesPerCluster   uint32
	TotalClusters     uint32
	TotalDataSectors  uint32
	FirstDataSector   block.SectorIndex
	FirstFATSector    block.SectorIndex
	FirstRootDirSector block.SectorIndex
	Version           Version
	DirentsPerCluster int

	// RootDirCluster is the FAT32 root directory's first cluster (BPB_RootClus,
	// read separately from the FAT32-only extended BPB; 0 on FAT12/16, where
	// the root directory lives in the fixed region instead).
	RootDirCluster ClusterID
}

// ParseBootSector decodes a sector's worth of BPB bytes and derives the
// rest of the volume geometry, following the same validation and derivation
// steps as dargueta-disko/drivers/fat.NewFATBootSectorFromStream (power-of-two
// checks on BytesPerSector/SectorsPerCluster, FAT-version-from-cluster-count
// rule per Microsoft's FAT spec v1.03 p.14).
func ParseBootSector(sector []byte) (*BootSector, error) {
	if len(sector) < 90 {
		return nil, errs.ErrInvalidParameter.WithMessage("boot sector shorter than BPB")
	}

	raw := rawBootSector{
		BytesPerSector:    binary.LittleEndian.Uint16(sector[11:13]),
		SectorsPerCluster: sector[13],
		ReservedSectors:   binary.LittleEndian.Uint16(sector[14:16]),
		NumFATs:           sector[16],
		RootEntryCount:    binary.LittleEndian.Uint16(sector[17:19]),
		totalSectors16:    binary.LittleEndian.Uint16(sector[19:21]),
		Media:             sector[21],
		sectorsPerFAT16:   binary.LittleEndian.Uint16(sector[22:24]),
		SectorsPerTrack:   binary.LittleEndian.Uint16(sector[24:26]),
		NumHeads:          binary.LittleEndian.Uint16(sector[26:28]),
		HiddenSectors:     binary.LittleEndian.Uint32(sector[28:32]),
		totalSectors32:    binary.LittleEndian.Uint32(sector[32:36]),
	}
	copy(raw.JmpBoot[:], sector[0:3])
	copy(raw.OEMName[:], sector[3:11])

	switch raw.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return nil, errs.ErrInvalidParameter.WithMessage(
			fmt.Sprintf("bad BytesPerSector %d: need 512, 1024, 2048, or 4096", raw.BytesPerSector))
	}

	switch raw.SectorsPerCluster {
	case 1, 2, 4, 8, 16, 32, 64, 128:
	default:
		return nil, errs.ErrInvalidParameter.WithMessage(
			fmt.Sprintf("SectorsPerCluster must be a power of 2 in 1-128, got %d", raw.SectorsPerCluster))
	}

	sectorsPerFAT32 := binary.LittleEndian.Uint32(sector[36:40])
	sectorsPerFAT := uint32(raw.sectorsPerFAT16)
	if sectorsPerFAT == 0 {
		sectorsPerFAT = sectorsPerFAT32
	}

	totalSectors := uint32(raw.totalSectors16)
	if totalSectors == 0 {
		totalSectors = raw.totalSectors32
	}

	rootDirSectors := (uint32(raw.RootEntryCount)*32 + uint32(raw.BytesPerSector) - 1) / uint32(raw.BytesPerSector)
	totalFATSectors := uint32(raw.NumFATs) * sectorsPerFAT
	dataSectors := totalSectors - (uint32(raw.ReservedSectors) + totalFATSectors + rootDirSectors)
	totalClusters := dataSectors / uint32(raw.SectorsPerCluster)

	version := determineVersion(totalClusters)
	if version == FAT32 && rootDirSectors != 0 {
		return nil, errs.ErrInvalidClusterChain.WithMessage(
			fmt.Sprintf("RootDirSectors is nonzero (%d) for a FAT32 volume", rootDirSectors))
	}

	bytesPerCluster := uint32(raw.BytesPerSector) * uint32(raw.SectorsPerCluster)
	if bytesPerCluster > 32768 {
		return nil, errs.ErrInvalidClusterChain.WithMessage(
			fmt.Sprintf("BytesPerCluster cannot exceed 32768, got %d", bytesPerCluster))
	}

	firstFAT := block.SectorIndex(raw.ReservedSectors)
	firstRootDir := firstFAT + block.SectorIndex(totalFATSectors)
	firstData := firstRootDir + block.SectorIndex(rootDirSectors)

	bs := &BootSector{
		BytesPerSector:     raw.BytesPerSector,
		SectorsPerCluster:  raw.SectorsPerCluster,
		ReservedSectors:    raw.ReservedSectors,
		NumFATs:            raw.NumFATs,
		RootEntryCount:     raw.RootEntryCount,
		Media:              raw.Media,
		SectorsPerTrack:    raw.SectorsPerTrack,
		NumHeads:           raw.NumHeads,
		HiddenSectors:      raw.HiddenSectors,
		SectorsPerFAT:      sectorsPerFAT,
		TotalSectors:       totalSectors,
		RootDirSectors:     rootDirSectors,
		BytesPerCluster:    bytesPerCluster,
		TotalClusters:      totalClusters,
		TotalDataSectors:   dataSectors,
		FirstDataSector:    firstData,
		FirstFATSector:     firstFAT,
		FirstRootDirSector: firstRootDir,
		Version:            version,
		DirentsPerCluster:  int(bytesPerCluster) / DirentSize,
	}

	if version == FAT32 {
		bs.RootDirCluster = ClusterID(binary.LittleEndian.Uint32(sector[44:48]))
	}

	return bs, nil
}

// determineVersion classifies the FAT width from cluster count alone, which
// is the only specification-correct way to do it (Microsoft FAT spec v1.03
// p.14): the thresholds are fixed constants, not computed from geometry.
func determineVersion(totalClusters uint32) Version {
	if totalClusters < 4085 {
		return FAT12
	}
	if totalClusters < 65525 {
		return FAT16
	}
	return FAT32
}

// ClusterToSector converts a cluster ID to the partition-relative sector
// holding its first byte.
func (bs *BootSector) ClusterToSector(cluster ClusterID) block.SectorIndex {
	offset := uint32(cluster-ClusterFirstValid) * uint32(bs.SectorsPerCluster)
	return bs.FirstDataSector + block.SectorIndex(offset)
}

// MaxNumClustersDir is the configured upper bound used to free a directory's
// cluster chain when its file-size field (always 0 for directories) can't
// supply the real count (spec §4.2.3).
const MaxNumClustersDir = 65536
