package sfdp

import (
	"sync"

	"github.com/gsfs/embfs/block"
	"github.com/gsfs/embfs/errs"
)

// Driver wraps one or more discovered sfdp.Device instances as a
// block.DeviceType, the "SFDP phy wrapped in a format-specific driver" the
// overview diagram in spec §2 shows feeding the disk-partition driver or
// the LB layer directly. The logical sector size it reports to LB is the
// chip's erase-sector size (spec §3.1 "LogicalSector... a power of two,
// 512<=size<=4096" -- NOR erase-sector sizes satisfy this for the chips
// this layer targets).
type Driver struct {
	mu      sync.Mutex
	devices []*Device
}

// NewDriver constructs an empty SFDP-backed block.DeviceType.
func NewDriver() *Driver {
	return &Driver{}
}

// AddUnit registers an already-discovered Device and returns its unit
// number. Discovery itself (Discover) happens once per chip outside the LB
// layer's auto-init path, matching spec §4.4.1's one-time "On first
// access" framing -- the LB layer's own auto-init (spec §4.1) is a no-op
// on top of this, since by the time a Driver unit exists its Device is
// already discovered.
func (d *Driver) AddUnit(dev *Device) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.devices = append(d.devices, dev)
	return len(d.devices) - 1
}

func (d *Driver) unitFor(unit int) (*Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if unit < 0 || unit >= len(d.devices) || d.devices[unit] == nil {
		return nil, errs.ErrUnknownDevice
	}
	return d.devices[unit], nil
}

func (d *Driver) Name(unit int) string { return "sfdp-nor" }

func (d *Driver) AddDevice() (int, error) {
	return -1, errs.ErrInvalidParameter.WithMessage("use sfdp.Discover + Driver.AddUnit, not AddDevice")
}

func (d *Driver) GetNumUnits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.devices)
}

func (d *Driver) GetStatus(unit int) block.Status {
	if _, err := d.unitFor(unit); err != nil {
		return block.StatusUnknown
	}
	return block.StatusPresent
}

// InitMedium is a no-op: discovery already ran in Discover before the unit
// was registered (spec §9 "Design notes" -- optional init observed as
// success).
func (d *Driver) InitMedium(unit int) error { return nil }

// Read satisfies block.DeviceType by translating a logical sector index
// into a byte offset relative to the chip's used range (Device.Read applies
// UsedStartByte itself) and issuing one read that covers all n sectors.
func (d *Driver) Read(unit int, idx block.SectorIndex, buf []byte, n uint32, kind block.SectorType) error {
	dev, err := d.unitFor(unit)
	if err != nil {
		return err
	}
	sectorSize := dev.Params.SectorSize()
	offset := uint32(idx) * sectorSize
	return dev.Read(offset, buf[:uint32(n)*sectorSize])
}

// Write satisfies block.DeviceType. The destination range must already be
// erased; erasing happens through IoctlFreeSectors (this layer maps the
// LB's "hint sectors are unused" contract onto an actual NOR erase, since
// on NOR media that is the only way to make a sector writable again).
func (d *Driver) Write(unit int, idx block.SectorIndex, buf []byte, n uint32, repeatSame bool, kind block.SectorType) error {
	dev, err := d.unitFor(unit)
	if err != nil {
		return err
	}
	sectorSize := dev.Params.SectorSize()
	offset := uint32(idx) * sectorSize

	if repeatSame {
		for i := uint32(0); i < n; i++ {
			if err := dev.Write(offset+i*sectorSize, buf[:sectorSize]); err != nil {
				return err
			}
		}
		return nil
	}
	return dev.Write(offset, buf[:uint32(n)*sectorSize])
}

func (d *Driver) Ioctl(unit int, cmd block.IoctlCmd, aux int, ptr any) (int, error) {
	dev, err := d.unitFor(unit)
	if err != nil {
		return 0, err
	}
	switch cmd {
	case block.IoctlGetDevInfo:
		info, ok := ptr.(*block.DevInfo)
		if !ok || info == nil {
			return 0, errs.ErrInvalidParameter.WithMessage("GET_DEVINFO requires a *block.DevInfo")
		}
		*info = block.DevInfo{
			NumSectors:     dev.usedSectorCount(),
			BytesPerSector: uint16(dev.Params.SectorSize()),
		}
		return 0, nil

	case block.IoctlFreeSectors:
		n, ok := ptr.(*uint32)
		count := uint32(1)
		if ok && n != nil {
			count = *n
		}
		for i := uint32(0); i < count; i++ {
			if err := dev.EraseSector(uint32(aux) + i); err != nil {
				return 0, errs.ErrIoctlFailure.Wrap(err)
			}
		}
		return 0, nil

	case block.IoctlUnmount, block.IoctlUnmountForced, block.IoctlDeinit, block.IoctlSync:
		return 0, nil

	default:
		return 0, nil
	}
}
