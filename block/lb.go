package block

import (
	"github.com/gsfs/embfs/errs"
)

// initMediumIfRequired implements spec §4.1 "Auto-init": every read/write
// calls this first. A device whose DeviceType has no real init step should
// embed NoInit, which always reports success.
func (d *Device) initMediumIfRequired() error {
	if d.IsInited {
		return nil
	}
	if err := d.Type.InitMedium(d.Unit); err != nil {
		d.stats.InitFailures++
		log.Error().Err(err).Str("device", d.Type.Name(d.Unit)).Msg("medium init failed")
		return errs.ErrInitFailure.Wrap(err)
	}
	d.IsInited = true
	return nil
}

// ReadDevice reads one sector at idx into buf.
func (d *Device) ReadDevice(idx SectorIndex, buf []byte, kind SectorType) error {
	return d.ReadBurst(idx, 1, buf, kind)
}

// ReadBurst reads n contiguous sectors starting at idx into buf, which must
// be exactly n sectors long. On failure the contents of buf are unspecified
// (spec §4.1 "Public operations").
func (d *Device) ReadBurst(idx SectorIndex, n uint32, buf []byte, kind SectorType) error {
	if n == 0 {
		return nil
	}
	if err := d.initMediumIfRequired(); err != nil {
		return err
	}

	sectorSize, err := d.currentSectorSize()
	if err != nil {
		return err
	}

	return d.withActivity(kind, false, func() error {
		if shouldRouteReadToJournal(d.Journal) {
			if err := d.Journal.Read(idx, buf, n, kind); err != nil {
				log.Error().Err(err).Str("device", d.Type.Name(d.Unit)).Msg("journal read failed")
				return errs.ErrReadFailure.Wrap(err)
			}
			d.recordRead(kind, n)
			return nil
		}

		if d.Cache == nil {
			if err := d.Type.Read(d.Unit, idx, buf, n, kind); err != nil {
				log.Error().Err(err).Str("device", d.Type.Name(d.Unit)).Uint32("sector", uint32(idx)).
					Msg("device read failed")
				return errs.ErrReadFailure.Wrap(err)
			}
			d.recordRead(kind, n)
			return nil
		}

		return d.readThroughCache(idx, n, buf, sectorSize, kind)
	})
}

// readThroughCache implements spec §4.1's "Through-cache algorithm" read
// path: satisfy from cache sector-by-sector, coalescing consecutive misses
// into one underlying burst, then populate the cache for the missed range.
func (d *Device) readThroughCache(idx SectorIndex, n uint32, buf []byte, sectorSize uint16, kind SectorType) error {
	var i uint32
	for i < n {
		sector := idx + SectorIndex(i)
		dst := buf[int(i)*int(sectorSize) : int(i+1)*int(sectorSize)]

		if d.Cache.TryRead(sector, dst) {
			d.stats.CacheHits++
			i++
			continue
		}
		d.stats.CacheMisses++

		// Coalesce the run of consecutive misses starting here.
		missStart := i
		i++
		for i < n {
			s := idx + SectorIndex(i)
			probe := buf[int(i)*int(sectorSize) : int(i+1)*int(sectorSize)]
			if d.Cache.TryRead(s, probe) {
				d.stats.CacheHits++
				break
			}
			d.stats.CacheMisses++
			i++
		}
		missCount := i - missStart
		missSector := idx + SectorIndex(missStart)
		missBuf := buf[int(missStart)*int(sectorSize) : int(i)*int(sectorSize)]

		if err := d.Type.Read(d.Unit, missSector, missBuf, missCount, kind); err != nil {
			log.Error().Err(err).Str("device", d.Type.Name(d.Unit)).Uint32("sector", uint32(missSector)).
				Msg("underlying burst read failed")
			return errs.ErrReadFailure.Wrap(err)
		}
		for j := uint32(0); j < missCount; j++ {
			s := missSector + SectorIndex(j)
			d.Cache.Populate(s, missBuf[int(j)*int(sectorSize):int(j+1)*int(sectorSize)])
		}
	}
	d.recordRead(kind, n)
	return nil
}

// WriteDevice writes one sector at idx from buf.
func (d *Device) WriteDevice(idx SectorIndex, buf []byte, kind SectorType) error {
	return d.writeCommon(idx, 1, buf, false, false, kind)
}

// WriteBurst writes n distinct sector payloads from buf (n*sectorSize
// bytes).
func (d *Device) WriteBurst(idx SectorIndex, n uint32, buf []byte, kind SectorType) error {
	return d.writeCommon(idx, n, buf, false, false, kind)
}

// WriteMultiple writes the same single-sector payload in buf to n
// consecutive sectors.
func (d *Device) WriteMultiple(idx SectorIndex, n uint32, buf []byte, kind SectorType) error {
	return d.writeCommon(idx, n, buf, true, false, kind)
}

// WriteDeviceJournaled is WriteDevice with the caller forcing journal
// routing regardless of IsNewDataLogged (spec §4.1 "WriteToJournal=1").
func (d *Device) WriteDeviceJournaled(idx SectorIndex, buf []byte, kind SectorType) error {
	return d.writeCommon(idx, 1, buf, false, true, kind)
}

func (d *Device) writeCommon(idx SectorIndex, n uint32, buf []byte, repeatSame, forceJournal bool, kind SectorType) error {
	if n == 0 {
		return nil
	}
	if err := d.initMediumIfRequired(); err != nil {
		return err
	}
	sectorSize, err := d.currentSectorSize()
	if err != nil {
		return err
	}

	return d.withActivity(kind, true, func() error {
		if shouldRouteWriteToJournal(d.Journal, idx, forceJournal) {
			if err := d.Journal.Write(idx, buf, n, repeatSame, kind); err != nil {
				log.Error().Err(err).Str("device", d.Type.Name(d.Unit)).Msg("journal write failed")
				return errs.ErrWriteFailure.Wrap(err)
			}
			d.recordWrite(kind, n)
			return nil
		}

		if d.Cache != nil {
			if err := d.writeThroughCache(idx, n, buf, repeatSame, sectorSize, kind); err != nil {
				return err
			}
		} else if err := d.Type.Write(d.Unit, idx, buf, n, repeatSame, kind); err != nil {
			log.Error().Err(err).Str("device", d.Type.Name(d.Unit)).Uint32("sector", uint32(idx)).
				Msg("device write failed")
			return errs.ErrWriteFailure.Wrap(err)
		}

		d.recordWrite(kind, n)

		if expanded := expandIfRepeated(buf, n, repeatSame, sectorSize); expanded != nil {
			return d.verifyWrittenRange(idx, n, expanded, sectorSize, kind)
		}
		return d.verifyWrittenRange(idx, n, buf, sectorSize, kind)
	})
}

// writeThroughCache implements spec §4.1's write path: attempt
// write-into-cache per sector; if any sector is rejected by the cache,
// emit one underlying write for the *whole* range, not per-sector.
func (d *Device) writeThroughCache(idx SectorIndex, n uint32, buf []byte, repeatSame bool, sectorSize uint16, kind SectorType) error {
	allAbsorbed := true
	for i := uint32(0); i < n; i++ {
		sector := idx + SectorIndex(i)
		var src []byte
		if repeatSame {
			src = buf
		} else {
			src = buf[int(i)*int(sectorSize) : int(i+1)*int(sectorSize)]
		}
		if !d.Cache.TryWrite(sector, src) {
			allAbsorbed = false
		}
	}
	if allAbsorbed {
		return nil
	}
	if err := d.Type.Write(d.Unit, idx, buf, n, repeatSame, kind); err != nil {
		log.Error().Err(err).Str("device", d.Type.Name(d.Unit)).Uint32("sector", uint32(idx)).
			Msg("underlying write failed")
		return errs.ErrWriteFailure.Wrap(err)
	}
	return nil
}

// expandIfRepeated materializes a repeat-same write into n distinct sector
// payloads so write-verification can compare each sector individually. It
// returns nil when no expansion is necessary.
func expandIfRepeated(buf []byte, n uint32, repeatSame bool, sectorSize uint16) []byte {
	if !repeatSame || n <= 1 {
		return nil
	}
	out := make([]byte, int(n)*int(sectorSize))
	for i := uint32(0); i < n; i++ {
		copy(out[int(i)*int(sectorSize):int(i+1)*int(sectorSize)], buf)
	}
	return out
}

func (d *Device) currentSectorSize() (uint16, error) {
	var info DevInfo
	_, err := d.Type.Ioctl(d.Unit, IoctlGetDevInfo, 0, &info)
	if err != nil {
		return 0, errIoctl(err)
	}
	return info.BytesPerSector, nil
}

// FreeSectorsDevice hints that n sectors starting at idx are unused (spec
// §4.1 "free_sectors_device"). It always invalidates any cached copies and,
// if a journal is active, records the free -- even when the underlying
// ioctl itself fails, per spec §7 "Local recovery".
func (d *Device) FreeSectorsDevice(idx SectorIndex, n uint32) error {
	if err := d.initMediumIfRequired(); err != nil {
		return err
	}

	var ioctlErr error
	_, err := d.Type.Ioctl(d.Unit, IoctlFreeSectors, int(idx), &n)
	if err != nil {
		ioctlErr = errs.ErrIoctlFailure.Wrap(err)
		log.Warn().Err(err).Str("device", d.Type.Name(d.Unit)).Uint32("sector", uint32(idx)).
			Msg("free_sectors ioctl failed; cache still invalidated")
	}

	if d.Cache != nil {
		d.Cache.Invalidate(idx, n)
	}
	if d.Journal != nil && d.Journal.IsActive() {
		if jerr := d.Journal.Free(idx, n); jerr != nil && ioctlErr == nil {
			ioctlErr = errs.ErrIoctlFailure.Wrap(jerr)
		}
	}
	return ioctlErr
}

// FreeSectorsPart is FreeSectorsDevice with idx interpreted relative to a
// partition.
func (p Partition) FreeSectorsPart(idx SectorIndex, n uint32) error {
	return p.Device.FreeSectorsDevice(p.toAbsolute(idx), n)
}

// ReadPart reads one sector at a partition-relative index.
func (p Partition) ReadPart(idx SectorIndex, buf []byte, kind SectorType) error {
	return p.Device.ReadDevice(p.toAbsolute(idx), buf, kind)
}

// ReadBurstPart reads n sectors at a partition-relative index.
func (p Partition) ReadBurstPart(idx SectorIndex, n uint32, buf []byte, kind SectorType) error {
	return p.Device.ReadBurst(p.toAbsolute(idx), n, buf, kind)
}

// WritePart writes one sector at a partition-relative index.
func (p Partition) WritePart(idx SectorIndex, buf []byte, kind SectorType) error {
	return p.Device.WriteDevice(p.toAbsolute(idx), buf, kind)
}

// WriteBurstPart writes n distinct sectors at a partition-relative index.
func (p Partition) WriteBurstPart(idx SectorIndex, n uint32, buf []byte, kind SectorType) error {
	return p.Device.WriteBurst(p.toAbsolute(idx), n, buf, kind)
}

// WriteMultiplePart writes the same sector payload n times at a
// partition-relative index.
func (p Partition) WriteMultiplePart(idx SectorIndex, n uint32, buf []byte, kind SectorType) error {
	return p.Device.WriteMultiple(p.toAbsolute(idx), n, buf, kind)
}

// Ioctl passes commands through to the underlying DeviceType. LB itself
// handles UNMOUNT, UNMOUNT_FORCED, and DEINIT (spec §4.1 "ioctl"); every
// other command is forwarded verbatim.
func (d *Device) Ioctl(cmd IoctlCmd, aux int, ptr any) (int, error) {
	switch cmd {
	case IoctlUnmount, IoctlUnmountForced:
		d.flushCacheIfPossible(cmd == IoctlUnmount)
		res, err := d.Type.Ioctl(d.Unit, cmd, aux, ptr)
		d.IsInited = false
		return res, errIoctlOrNil(err)
	case IoctlDeinit:
		d.releaseVerifyBuffer()
		res, err := d.Type.Ioctl(d.Unit, cmd, aux, ptr)
		return res, errIoctlOrNil(err)
	default:
		if err := d.initMediumIfRequired(); err != nil {
			return 0, err
		}
		res, err := d.Type.Ioctl(d.Unit, cmd, aux, ptr)
		return res, errIoctlOrNil(err)
	}
}

func (d *Device) flushCacheIfPossible(graceful bool) {
	if !graceful {
		return
	}
	sc, ok := d.Cache.(*SectorCache)
	if !ok {
		return
	}
	err := sc.Flush(0, uint32(sc.totalSectors), func(idx SectorIndex, data []byte) error {
		return d.Type.Write(d.Unit, idx, data, 1, false, SectorTypeManagement)
	})
	if err != nil {
		log.Warn().Err(err).Str("device", d.Type.Name(d.Unit)).Msg("cache flush on unmount failed")
	}
}

func (d *Device) releaseVerifyBuffer() {
	d.verify = nil
}

func errIoctl(err error) error {
	if err == nil {
		return nil
	}
	return errs.ErrIoctlFailure.Wrap(err)
}

func errIoctlOrNil(err error) error {
	return errIoctl(err)
}
