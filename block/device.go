// Package block implements the logical-block (LB) layer: the uniform,
// sector-addressed interface every file-system format and higher layer
// consumes, including through-cache read/write, journal routing, and
// device-activity instrumentation. See spec §4.1.
package block

import (
	"math"

	"github.com/gsfs/embfs/internal/logging"
)

var log = logging.For("block")

// SectorIndex addresses one logical sector, either device-absolute or
// partition-relative depending on which LB entry point produced it.
type SectorIndex uint32

// SectorIndexInvalid is the reserved all-ones sentinel (spec §3.1).
const SectorIndexInvalid = SectorIndex(math.MaxUint32)

// SectorType tags a sector operation for statistics, cache policy, and
// observability. It never affects correctness.
type SectorType int

const (
	SectorTypeData SectorType = iota
	SectorTypeManagement
	SectorTypeDirectory
)

func (t SectorType) String() string {
	switch t {
	case SectorTypeData:
		return "data"
	case SectorTypeManagement:
		return "management"
	case SectorTypeDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Status reports whether removable media is physically present.
type Status int

const (
	StatusUnknown Status = iota
	StatusNotPresent
	StatusPresent
)

// DevInfo describes a device's fixed geometry.
type DevInfo struct {
	NumSectors      uint32
	BytesPerSector  uint16
	SectorsPerTrack uint16
	NumHeads        uint16
}

// IoctlCmd enumerates the commands the LB layer understands directly; any
// other command is forwarded verbatim to the underlying DeviceType (spec
// §6.2).
type IoctlCmd int

const (
	IoctlGetDevInfo IoctlCmd = iota
	IoctlUnmount
	IoctlUnmountForced
	IoctlDeinit
	IoctlFreeSectors
	IoctlSetReadErrorCallback
	IoctlSync
	IoctlGetSectorUsage
	IoctlCacheFreeSectors
)

// ReadErrorCallback is invoked when a device reports a recoverable read
// error, giving the owner of a sector range one chance to supply corrected
// data. See spec §4.3 SET_READ_ERROR_CALLBACK and §7 "Local recovery".
type ReadErrorCallback func(idx SectorIndex, buf []byte) error

// DeviceType is the vtable every storage driver exposes to the LB layer
// (spec §6.1): the partition driver, the SFDP phy wrapped in a
// format-specific driver, and any other block device.
type DeviceType interface {
	Name(unit int) string
	AddDevice() (int, error)
	Read(unit int, idx SectorIndex, buf []byte, n uint32, kind SectorType) error
	Write(unit int, idx SectorIndex, buf []byte, n uint32, repeatSame bool, kind SectorType) error
	Ioctl(unit int, cmd IoctlCmd, aux int, ptr any) (int, error)
	// InitMedium performs device-specific initialization. A driver with no
	// init step embeds NoInit, whose InitMedium always reports success.
	InitMedium(unit int) error
	GetStatus(unit int) Status
	GetNumUnits() int
}

// NoInit is embedded by a DeviceType that does NOT need media
// initialization. DeviceType.InitMedium is mandatory in the
// interface (Go has no optional interface methods), so drivers with no
// init step should embed NoInit to get a no-op, always-successful
// implementation -- callers still observe "no init implemented" as success,
// per spec §9 "Design notes".
type NoInit struct{}

func (NoInit) InitMedium(unit int) error { return nil }

// Device binds a DeviceType vtable instance to one unit number and tracks
// its runtime state. It owns no mutable file-system data; it only routes
// and instruments.
type Device struct {
	Type     DeviceType
	Unit     int
	IsInited bool

	// BusyLED, if set, is toggled around every media access.
	BusyLED func(on bool)
	// Activity, if set, is called after every access for instrumentation.
	Activity func(kind SectorType, isWrite bool)

	// Cache is the optional through-cache collaborator (spec §4.1
	// "Through-cache algorithm"). Nil means uncached.
	Cache Cache
	// Journal is the optional journal collaborator (spec §4.1 "Journal
	// routing"). Nil means unjournaled.
	Journal Journal

	stats  Stats
	verify *verifyBuf
}

// NewDevice wraps a DeviceType vtable for the given unit.
func NewDevice(t DeviceType, unit int) *Device {
	return &Device{Type: t, Unit: unit}
}

// GetDeviceInfo reports the device's geometry, auto-initializing the
// medium first.
func (d *Device) GetDeviceInfo() (DevInfo, error) {
	if err := d.initMediumIfRequired(); err != nil {
		return DevInfo{}, err
	}
	var info DevInfo
	_, err := d.Type.Ioctl(d.Unit, IoctlGetDevInfo, 0, &info)
	if err != nil {
		return DevInfo{}, errIoctl(err)
	}
	return info, nil
}

// GetSectorSize is a convenience wrapper over GetDeviceInfo.
func (d *Device) GetSectorSize() (uint16, error) {
	info, err := d.GetDeviceInfo()
	if err != nil {
		return 0, err
	}
	return info.BytesPerSector, nil
}

// GetStatus reports whether the underlying media is present, performing no
// I/O and no auto-init.
func (d *Device) GetStatus() Status {
	return d.Type.GetStatus(d.Unit)
}

func (d *Device) withActivity(kind SectorType, isWrite bool, fn func() error) error {
	if d.BusyLED != nil {
		d.BusyLED(true)
		defer d.BusyLED(false)
	}
	err := fn()
	if d.Activity != nil {
		d.Activity(kind, isWrite)
	}
	return err
}
