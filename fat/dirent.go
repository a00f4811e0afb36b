package fat

import (
	"encoding/binary"
	"time"
)

// DirentSize is the size in bytes of one on-disk directory entry.
const DirentSize = 32

// Attribute flags for DirEntryFAT.Attributes, grounded on
// dargueta-disko/drivers/fat's AttrReadOnly..AttrReserved constants.
const (
	AttrReadOnly = 1 << iota
	AttrHidden
	AttrSystem
	AttrVolumeLabel
	AttrDirectory
	AttrArchived
	AttrDevice
	AttrReserved
)

// FirstByteEndOfDirectory marks the end of a directory's used entries.
const FirstByteEndOfDirectory = 0x00

// FirstByteDeleted marks an entry as deleted.
const FirstByteDeleted = 0xE5

// FirstByteEscapedE5 is what a deleted-marker-colliding real first byte
// (0xE5) is rewritten to on disk (spec §3.1 "DirEntry83").
const FirstByteEscapedE5 = 0x05

// DirEntryFAT is the decoded form of one 32-byte directory entry (spec
// §3.1), grounded on dargueta-disko/drivers/fat.RawDirent/Dirent merged into
// a single struct that round-trips through ToBytes/FromBytes.
type DirEntryFAT struct {
	ShortName    Name83
	Attributes   uint8
	NTReserved   uint8
	CreatedMs    uint8
	CreatedTime  uint16
	CreatedDate  uint16
	AccessedDate uint16
	ModifiedTime uint16
	ModifiedDate uint16
	FirstCluster ClusterID
	FileSize     uint32
}

// DirEntryFromBytes decodes a 32-byte directory entry.
func DirEntryFromBytes(data []byte) DirEntryFAT {
	var e DirEntryFAT
	copy(e.ShortName[:], data[0:11])
	e.Attributes = data[11]
	e.NTReserved = data[12]
	e.CreatedMs = data[13]
	e.CreatedTime = binary.LittleEndian.Uint16(data[14:16])
	e.CreatedDate = binary.LittleEndian.Uint16(data[16:18])
	e.AccessedDate = binary.LittleEndian.Uint16(data[18:20])
	clusterHigh := binary.LittleEndian.Uint16(data[20:22])
	e.ModifiedTime = binary.LittleEndian.Uint16(data[22:24])
	e.ModifiedDate = binary.LittleEndian.Uint16(data[24:26])
	clusterLow := binary.LittleEndian.Uint16(data[26:28])
	e.FirstCluster = ClusterID(uint32(clusterHigh)<<16 | uint32(clusterLow))
	e.FileSize = binary.LittleEndian.Uint32(data[28:32])
	return e
}

// ToBytes serializes the entry back into a 32-byte buffer.
func (e DirEntryFAT) ToBytes(buf []byte) {
	copy(buf[0:11], e.ShortName[:])
	buf[11] = e.Attributes
	buf[12] = e.NTReserved
	buf[13] = e.CreatedMs
	binary.LittleEndian.PutUint16(buf[14:16], e.CreatedTime)
	binary.LittleEndian.PutUint16(buf[16:18], e.CreatedDate)
	binary.LittleEndian.PutUint16(buf[18:20], e.AccessedDate)
	binary.LittleEndian.PutUint16(buf[20:22], uint16(uint32(e.FirstCluster)>>16))
	binary.LittleEndian.PutUint16(buf[22:24], e.ModifiedTime)
	binary.LittleEndian.PutUint16(buf[24:26], e.ModifiedDate)
	binary.LittleEndian.PutUint16(buf[26:28], uint16(uint32(e.FirstCluster)&0xFFFF))
	binary.LittleEndian.PutUint32(buf[28:32], e.FileSize)
}

// IsEndMarker reports whether this entry's first byte signals "no more
// entries beyond this point".
func (e DirEntryFAT) IsEndMarker() bool {
	return e.ShortName[0] == FirstByteEndOfDirectory
}

// IsDeleted reports whether this entry's first byte is the deleted marker.
func (e DirEntryFAT) IsDeleted() bool {
	return e.ShortName[0] == FirstByteDeleted
}

// IsFree reports whether this slot can be reused by find_empty_dir_entry
// (spec §4.2.2): either past the end of the directory or explicitly
// deleted.
func (e DirEntryFAT) IsFree() bool {
	return e.IsEndMarker() || e.IsDeleted()
}

// IsDirectory reports whether the AttrDirectory bit is set.
func (e DirEntryFAT) IsDirectory() bool {
	return e.Attributes&AttrDirectory != 0
}

// dosDate/dosTime pack a time.Time into FAT's packed 16-bit date/time
// fields, the inverse of dargueta-disko/drivers/fat.DateFromInt /
// TimestampFromParts.
func dosDate(t time.Time) uint16 {
	year := t.Year() - 1980
	if year < 0 {
		year = 0
	}
	return uint16(year<<9) | uint16(int(t.Month())<<5) | uint16(t.Day())
}

func dosTime(t time.Time) uint16 {
	return uint16(t.Hour()<<11) | uint16(t.Minute()<<5) | uint16(t.Second()/2)
}

// NewFileEntry builds a fresh directory entry for a newly created file or
// directory (spec §4.2.5 "Create fresh entry, zero size, zero first-cluster,
// archive attr").
func NewFileEntry(shortName Name83, attrs uint8, now time.Time) DirEntryFAT {
	return DirEntryFAT{
		ShortName:    shortName,
		Attributes:   attrs | AttrArchived,
		CreatedDate:  dosDate(now),
		CreatedTime:  dosTime(now),
		ModifiedDate: dosDate(now),
		ModifiedTime: dosTime(now),
		FirstCluster: ClusterFree,
		FileSize:     0,
	}
}
