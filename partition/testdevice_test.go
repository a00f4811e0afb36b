package partition_test

import (
	"io"

	"github.com/gsfs/embfs/block"
	"github.com/xaionaro-go/bytesextra"
)

// streamDevice is a minimal block.DeviceType backed by an in-memory
// io.ReadWriteSeeker, the same way dargueta/disko's testing.LoadDiskImage
// wraps a decompressed disk image with bytesextra for its driver tests
// (spec SPEC_FULL.md §9.4 "Test tooling").
type streamDevice struct {
	block.NoInit
	sectorSize uint16
	numSectors uint32
	rw         io.ReadWriteSeeker
}

func newStreamDevice(image []byte, sectorSize uint16) *streamDevice {
	return &streamDevice{
		sectorSize: sectorSize,
		numSectors: uint32(len(image)) / uint32(sectorSize),
		rw:         bytesextra.NewReadWriteSeeker(image),
	}
}

func (s *streamDevice) Name(unit int) string   { return "streamdevice" }
func (s *streamDevice) AddDevice() (int, error) { return 0, nil }

func (s *streamDevice) Read(unit int, idx block.SectorIndex, buf []byte, n uint32, kind block.SectorType) error {
	if _, err := s.rw.Seek(int64(idx)*int64(s.sectorSize), io.SeekStart); err != nil {
		return err
	}
	_, err := io.ReadFull(s.rw, buf[:int(n)*int(s.sectorSize)])
	return err
}

func (s *streamDevice) Write(unit int, idx block.SectorIndex, buf []byte, n uint32, repeatSame bool, kind block.SectorType) error {
	if _, err := s.rw.Seek(int64(idx)*int64(s.sectorSize), io.SeekStart); err != nil {
		return err
	}
	if repeatSame {
		for i := uint32(0); i < n; i++ {
			if _, err := s.rw.Write(buf[:s.sectorSize]); err != nil {
				return err
			}
		}
		return nil
	}
	_, err := s.rw.Write(buf[:int(n)*int(s.sectorSize)])
	return err
}

func (s *streamDevice) Ioctl(unit int, cmd block.IoctlCmd, aux int, ptr any) (int, error) {
	switch cmd {
	case block.IoctlGetDevInfo:
		info := ptr.(*block.DevInfo)
		info.BytesPerSector = s.sectorSize
		info.NumSectors = s.numSectors
		return 0, nil
	default:
		return 0, nil
	}
}

func (s *streamDevice) GetStatus(unit int) block.Status { return block.StatusPresent }
func (s *streamDevice) GetNumUnits() int                 { return 1 }
