package sfdp

import (
	"github.com/gsfs/embfs/errs"
)

// Config parameterizes one Discover call (spec §9.3 "plain Go structs
// passed to constructor functions").
type Config struct {
	Unit    int
	Backend Backend

	// VendorParams is the configured device-parameter list walked during
	// JEDEC ID matching (spec §4.4.1 step 2).
	VendorParams []VendorParams

	// StartAddr/NumBytes select the subrange of flash this device
	// actually manages (spec §4.4.1 step 6).
	StartAddr uint32
	NumBytes  uint32

	DualChip bool

	// AllowedBusWidths restricts which widths Discover may configure,
	// even if the chip/SFDP table supports more (spec §4.4.1 step 9
	// "per capabilities and user allow-list").
	AllowedBusWidths []BusWidth

	FailSafeHook func(offset uint32, b byte)
}

// Discover implements spec §4.4.1: bring up the HW backend, identify the
// chip (SFDP, with a vendor-parameter override if one matches), parse its
// SFDP tables, compute the used subrange, and configure 4-byte addressing,
// write protection, and bus width.
func Discover(cfg Config) (*Device, error) {
	backend := cfg.Backend
	if backend == nil {
		return nil, errs.ErrHWLayerNotSet
	}

	freqKHz, err := backend.Init(cfg.Unit)
	if err != nil {
		log.Error().Err(err).Int("unit", cfg.Unit).Msg("SFDP backend init failed")
		return nil, errs.ErrInitFailure.Wrap(err)
	}
	// Compatibility shim: historical HW layers returned Hz, not kHz (spec
	// §4.4.1 step 1).
	if freqKHz > 1_000_000 {
		freqKHz /= 1000
	}

	jedecID, idErr := backend.ReadJEDECID(cfg.Unit)
	if idErr != nil || jedecID == ([3]byte{0xFF, 0xFF, 0xFF}) || jedecID == ([3]byte{0x00, 0x00, 0x00}) {
		// Step 3: release any pre-existing deep-power-down and retry once.
		_ = backend.Exchange(cfg.Unit, Exchange{Opcode: cmdReleaseDeepPowerDown})
		jedecID, idErr = backend.ReadJEDECID(cfg.Unit)
		if idErr != nil {
			return nil, errs.ErrInitFailure.Wrap(idErr)
		}
	}

	timeouts := derivePollTimeouts(freqKHz)

	dev := &Device{
		Unit:         cfg.Unit,
		Backend:      backend,
		Timeouts:     timeouts,
		DualChip:     cfg.DualChip,
		FailSafeHook: cfg.FailSafeHook,
	}

	// Step 4: wait for any pre-existing program/erase to finish before
	// touching SFDP.
	if err := dev.waitForEndOfOperation(timeouts.EraseSector); err != nil {
		log.Warn().Err(err).Msg("pre-existing operation did not finish before SFDP discovery")
	}

	params, err := parseSFDP(backend, cfg.Unit)
	if err != nil {
		return nil, err
	}
	if vendor := selectVendorParams(jedecID, cfg.VendorParams); vendor != nil && vendor.Apply != nil {
		vendor.Apply(&params)
	}
	dev.Params = params

	if err := dev.computeUsedRange(cfg.StartAddr, cfg.NumBytes); err != nil {
		return nil, err
	}

	if params.Requires4ByteAddressing {
		if err := backend.Exchange(cfg.Unit, Exchange{Opcode: cmdEnter4ByteAddressing}); err != nil {
			log.Error().Err(err).Msg("enter-4-byte-addressing command failed")
			return nil, errs.ErrInitFailure.Wrap(err)
		}
	}

	if params.SupportsUnprotect {
		if err := backend.Exchange(cfg.Unit, Exchange{Opcode: cmdWriteEnable}); err == nil {
			_ = backend.Exchange(cfg.Unit, Exchange{Opcode: cmdGlobalUnprotect})
		}
	}

	dev.configureBusWidth(cfg.AllowedBusWidths)

	return dev, nil
}

// computeUsedRange rounds StartAddr up to the next sector boundary (an
// already aligned StartAddr is kept) and truncates NumBytes to whole sectors
// that fit the device, per spec §4.4.1 step 6.
func (d *Device) computeUsedRange(startAddr, numBytes uint32) error {
	sectorSize := d.Params.SectorSize()
	if sectorSize == 0 {
		return errs.ErrInvalidParameter.WithMessage("chip reports zero sector size")
	}
	alignedStart := (startAddr + sectorSize - 1) / sectorSize * sectorSize
	deviceEnd := d.Params.NumSectors * sectorSize
	if alignedStart >= deviceEnd {
		return errs.ErrInvalidParameter.WithMessage("requested flash range starts beyond device end")
	}
	end := startAddr + numBytes
	if end > deviceEnd {
		end = deviceEnd
	}
	if end <= alignedStart {
		return errs.ErrInvalidParameter.WithMessage("requested flash range contains zero sectors")
	}
	usable := (end - alignedStart) / sectorSize * sectorSize
	if usable == 0 {
		return errs.ErrInvalidParameter.WithMessage("requested flash range contains zero sectors")
	}
	d.UsedStartByte = alignedStart
	d.UsedNumBytes = usable
	return nil
}

// configureBusWidth narrows the chip's configured read/write bus widths to
// the intersection of what the chip supports and what the caller allows
// (spec §4.4.1 step 9). An empty allow-list leaves the SFDP/vendor
// defaults untouched.
func (d *Device) configureBusWidth(allowed []BusWidth) {
	if len(allowed) == 0 {
		return
	}
	maxAllowed := BusWidthSingle
	for _, w := range allowed {
		if w > maxAllowed {
			maxAllowed = w
		}
	}
	if d.Params.BusWidthDataRead > maxAllowed {
		d.Params.BusWidthDataRead = maxAllowed
	}
	if d.Params.BusWidthDataWrite > maxAllowed {
		d.Params.BusWidthDataWrite = maxAllowed
	}
}
