package main

import (
	"io"
	"os"

	"github.com/gsfs/embfs/block"
	"github.com/gsfs/embfs/errs"
	"github.com/xaionaro-go/bytesextra"
)

// imageDevice is a block.DeviceType backed by a whole disk-image file, read
// fully into memory and wrapped with bytesextra the same way
// dargueta/disko's test harness turns a decompressed image into an
// io.ReadWriteSeeker. It is the raw device embfsctl mounts a partition
// driver or a FAT volume on top of.
type imageDevice struct {
	block.NoInit
	sectorSize uint16
	numSectors uint32
	rw         io.ReadWriteSeeker
}

// openImage reads path fully into memory and reports it as a device of
// sectorSize-byte sectors.
func openImage(path string, sectorSize uint16) (*imageDevice, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.ErrReadFailure.Wrap(err)
	}
	if len(data)%int(sectorSize) != 0 {
		return nil, errs.ErrInvalidParameter.WithMessage("image size is not a multiple of the sector size")
	}
	return &imageDevice{
		sectorSize: sectorSize,
		numSectors: uint32(len(data)) / uint32(sectorSize),
		rw:         bytesextra.NewReadWriteSeeker(data),
	}, nil
}

func (d *imageDevice) Name(unit int) string    { return "embfsctl-image" }
func (d *imageDevice) AddDevice() (int, error) { return 0, nil }
func (d *imageDevice) GetStatus(unit int) block.Status { return block.StatusPresent }
func (d *imageDevice) GetNumUnits() int                { return 1 }

func (d *imageDevice) Read(unit int, idx block.SectorIndex, buf []byte, n uint32, kind block.SectorType) error {
	if _, err := d.rw.Seek(int64(idx)*int64(d.sectorSize), io.SeekStart); err != nil {
		return err
	}
	_, err := io.ReadFull(d.rw, buf[:int(n)*int(d.sectorSize)])
	return err
}

func (d *imageDevice) Write(unit int, idx block.SectorIndex, buf []byte, n uint32, repeatSame bool, kind block.SectorType) error {
	if _, err := d.rw.Seek(int64(idx)*int64(d.sectorSize), io.SeekStart); err != nil {
		return err
	}
	if repeatSame {
		for i := uint32(0); i < n; i++ {
			if _, err := d.rw.Write(buf[:d.sectorSize]); err != nil {
				return err
			}
		}
		return nil
	}
	_, err := d.rw.Write(buf[:int(n)*int(d.sectorSize)])
	return err
}

func (d *imageDevice) Ioctl(unit int, cmd block.IoctlCmd, aux int, ptr any) (int, error) {
	switch cmd {
	case block.IoctlGetDevInfo:
		info, ok := ptr.(*block.DevInfo)
		if !ok || info == nil {
			return 0, errs.ErrInvalidParameter
		}
		info.BytesPerSector = d.sectorSize
		info.NumSectors = d.numSectors
		return 0, nil
	default:
		return 0, nil
	}
}
