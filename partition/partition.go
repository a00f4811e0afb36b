// Package partition implements the disk-partition driver (spec §4.3): a
// block.DeviceType that presents the sector-addressed slice of an
// underlying device described by an MBR or GPT partition table, lazily
// validated on first access.
package partition

import (
	"sync"

	"github.com/gsfs/embfs/block"
	"github.com/gsfs/embfs/errs"
	"github.com/gsfs/embfs/internal/logging"
)

var log = logging.For("partition")

// ReadErrorCallback mirrors block.ReadErrorCallback but in partition-
// relative coordinates; see SET_READ_ERROR_CALLBACK in spec §4.3.
type ReadErrorCallback func(idx block.SectorIndex, buf []byte) error

// TestHooks are compile-time-optional callbacks a fault-injection test can
// install to observe or mutate every underlying sector read/write (spec
// §4.3 "Test hooks"). A zero-value TestHooks is a no-op.
type TestHooks struct {
	BeforeRead  func(idx *block.SectorIndex, n *uint32)
	AfterRead   func(idx block.SectorIndex, data []byte, n uint32, result *error)
	BeforeWrite func(idx *block.SectorIndex, data []byte, n *uint32, repeatSame *bool)
	AfterWrite  func(idx block.SectorIndex, data []byte, n uint32, result *error)
}

// instance is one configured partition-driver unit (spec §3.2 "The
// partition driver exclusively owns its configured
// {pDeviceType, DeviceUnit, PartIndex, StartSector, NumSectors, HasError}
// tuple per unit").
type instance struct {
	mu sync.Mutex

	underlying block.DeviceType
	deviceUnit int
	partIndex  int

	loaded         bool
	startSector    uint32
	numSectors     uint32
	bytesPerSector uint16
	hasError       bool

	readErrorCB ReadErrorCallback
	hooks       TestHooks
}

// Driver is the block.DeviceType implementation for partitioned devices. A
// single Driver can host any number of configured units, mirroring the
// vtable's AddDevice/unit-number addressing contract (spec §6.1).
type Driver struct {
	mu        sync.Mutex
	instances []*instance
}

// NewDriver constructs an empty partition driver with no configured units.
func NewDriver() *Driver {
	return &Driver{}
}

// Configure registers a new partition-driver unit bound to deviceUnit on
// underlying, addressing partition table entry partIndex. It performs no
// I/O; the partition table is read lazily on first access (spec §4.3
// "Configuration").
func (d *Driver) Configure(underlying block.DeviceType, deviceUnit, partIndex int) (unit int, err error) {
	if underlying == nil {
		return 0, errs.ErrInvalidParameter.WithMessage("underlying DeviceType must not be nil")
	}
	if partIndex < 0 {
		return 0, errs.ErrInvalidParameter.WithMessage("negative partition index")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	inst := &instance{underlying: underlying, deviceUnit: deviceUnit, partIndex: partIndex}
	d.instances = append(d.instances, inst)
	return len(d.instances) - 1, nil
}

func (d *Driver) instanceFor(unit int) (*instance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if unit < 0 || unit >= len(d.instances) || d.instances[unit] == nil {
		return nil, errs.ErrUnknownDevice.WithMessage("no partition configured for this unit")
	}
	return d.instances[unit], nil
}

// Name satisfies block.DeviceType.
func (d *Driver) Name(unit int) string { return "partition" }

// AddDevice satisfies block.DeviceType for drivers that are configured
// through block.Device directly rather than partition.Driver.Configure;
// this driver requires Configure and always reports an error here, the
// same way dargueta/disko's constructors reject zero-value registration.
func (d *Driver) AddDevice() (int, error) {
	return -1, errs.ErrInvalidParameter.WithMessage("use partition.Driver.Configure, not AddDevice")
}

// GetNumUnits satisfies block.DeviceType.
func (d *Driver) GetNumUnits() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.instances)
}

// GetStatus satisfies block.DeviceType by deferring to the underlying
// device; a partition is present iff its backing device is.
func (d *Driver) GetStatus(unit int) block.Status {
	inst, err := d.instanceFor(unit)
	if err != nil {
		return block.StatusUnknown
	}
	return inst.underlying.GetStatus(inst.deviceUnit)
}

// InitMedium satisfies block.DeviceType. The partition driver has no
// medium-specific init step of its own beyond table discovery, which
// happens lazily on first read/write, so this always succeeds -- callers
// observe "no init implemented" as success (spec §9 "Design notes").
func (d *Driver) InitMedium(unit int) error { return nil }

// SetReadErrorCallback installs the partition-relative read-error recovery
// callback (spec §4.3 "ioctl(SET_READ_ERROR_CALLBACK)"). When the
// underlying device reports a recoverable read error, this driver
// subtracts StartSector from the reported index before invoking cb.
func (d *Driver) SetReadErrorCallback(unit int, cb ReadErrorCallback) error {
	inst, err := d.instanceFor(unit)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	inst.readErrorCB = cb
	inst.mu.Unlock()
	return nil
}

// SetTestHooks installs fault-injection hooks for unit (spec §4.3 "Test
// hooks"). Passing the zero value removes them.
func (d *Driver) SetTestHooks(unit int, hooks TestHooks) error {
	inst, err := d.instanceFor(unit)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	inst.hooks = hooks
	inst.mu.Unlock()
	return nil
}

// Read satisfies block.DeviceType, translating a partition-relative sector
// index to an absolute one before forwarding to the underlying driver
// (spec §4.3 "Runtime operations").
func (d *Driver) Read(unit int, idx block.SectorIndex, buf []byte, n uint32, kind block.SectorType) error {
	inst, err := d.instanceFor(unit)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.hasError {
		return errs.ErrReadFailure.WithMessage("partition is in an error state; unmount required")
	}
	if err := inst.readPartInfoIfRequiredLocked(); err != nil {
		inst.hasError = true
		return err
	}
	if err := inst.checkBoundsLocked(idx, n); err != nil {
		return err
	}

	abs := block.SectorIndex(inst.startSector) + idx
	if inst.hooks.BeforeRead != nil {
		inst.hooks.BeforeRead(&abs, &n)
	}
	rerr := inst.underlying.Read(inst.deviceUnit, abs, buf, n, kind)
	if rerr != nil && inst.readErrorCB != nil {
		// Give the owner of this partition one chance to deliver corrected
		// data before the failure propagates (spec §7 "Local recovery").
		relative := abs - block.SectorIndex(inst.startSector)
		if cbErr := inst.readErrorCB(relative, buf); cbErr == nil {
			rerr = nil
		}
	}
	if inst.hooks.AfterRead != nil {
		inst.hooks.AfterRead(abs, buf, n, &rerr)
	}
	if rerr != nil {
		log.Error().Err(rerr).Int("unit", unit).Uint32("sector", uint32(abs)).Msg("partition read failed")
		inst.hasError = true
		return errs.ErrReadFailure.Wrap(rerr)
	}
	return nil
}

// Write satisfies block.DeviceType, translating the index the same way as
// Read.
func (d *Driver) Write(unit int, idx block.SectorIndex, buf []byte, n uint32, repeatSame bool, kind block.SectorType) error {
	inst, err := d.instanceFor(unit)
	if err != nil {
		return err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.hasError {
		return errs.ErrWriteFailure.WithMessage("partition is in an error state; unmount required")
	}
	if err := inst.readPartInfoIfRequiredLocked(); err != nil {
		inst.hasError = true
		return err
	}
	if err := inst.checkBoundsLocked(idx, n); err != nil {
		return err
	}

	abs := block.SectorIndex(inst.startSector) + idx
	if inst.hooks.BeforeWrite != nil {
		inst.hooks.BeforeWrite(&abs, buf, &n, &repeatSame)
	}
	werr := inst.underlying.Write(inst.deviceUnit, abs, buf, n, repeatSame, kind)
	if inst.hooks.AfterWrite != nil {
		inst.hooks.AfterWrite(abs, buf, n, &werr)
	}
	if werr != nil {
		log.Error().Err(werr).Int("unit", unit).Uint32("sector", uint32(abs)).Msg("partition write failed")
		inst.hasError = true
		return errs.ErrWriteFailure.Wrap(werr)
	}
	return nil
}

func (inst *instance) checkBoundsLocked(idx block.SectorIndex, n uint32) error {
	if !logging.AssertionsEnabled {
		return nil
	}
	if uint64(idx)+uint64(n) > uint64(inst.numSectors) {
		return errs.ErrInvalidParameter.WithMessage("sector range exceeds partition extent")
	}
	return nil
}

// Ioctl satisfies block.DeviceType (spec §4.3 "Runtime operations" / §6.2).
func (d *Driver) Ioctl(unit int, cmd block.IoctlCmd, aux int, ptr any) (int, error) {
	inst, err := d.instanceFor(unit)
	if err != nil {
		return 0, err
	}
	inst.mu.Lock()
	defer inst.mu.Unlock()

	switch cmd {
	case block.IoctlGetDevInfo:
		if err := inst.readPartInfoIfRequiredLocked(); err != nil {
			return 0, err
		}
		info, ok := ptr.(*block.DevInfo)
		if !ok || info == nil {
			return 0, errs.ErrInvalidParameter.WithMessage("GET_DEVINFO requires a *block.DevInfo")
		}
		underInfo, err := devInfo(inst.underlying, inst.deviceUnit)
		if err != nil {
			return 0, err
		}
		*info = block.DevInfo{
			NumSectors:      inst.numSectors,
			BytesPerSector:  inst.bytesPerSector,
			SectorsPerTrack: underInfo.SectorsPerTrack,
			NumHeads:        underInfo.NumHeads,
		}
		return 0, nil

	case block.IoctlUnmount, block.IoctlUnmountForced:
		inst.hasError = false
		inst.loaded = false
		inst.startSector = 0
		inst.numSectors = 0
		return 0, nil

	case block.IoctlFreeSectors:
		if err := inst.readPartInfoIfRequiredLocked(); err != nil {
			return 0, err
		}
		translated := aux + int(inst.startSector)
		return inst.underlying.Ioctl(inst.deviceUnit, cmd, translated, ptr)

	case block.IoctlSetReadErrorCallback:
		cb, ok := ptr.(ReadErrorCallback)
		if !ok {
			return 0, errs.ErrInvalidParameter.WithMessage("SET_READ_ERROR_CALLBACK requires a ReadErrorCallback")
		}
		inst.readErrorCB = cb
		return 0, nil

	default:
		return inst.underlying.Ioctl(inst.deviceUnit, cmd, aux, ptr)
	}
}

func devInfo(dt block.DeviceType, unit int) (block.DevInfo, error) {
	var info block.DevInfo
	_, err := dt.Ioctl(unit, block.IoctlGetDevInfo, 0, &info)
	if err != nil {
		return block.DevInfo{}, errs.ErrIoctlFailure.Wrap(err)
	}
	return info, nil
}
