package fat

import (
	"errors"
	"sync"

	"github.com/gsfs/embfs/block"
	"github.com/gsfs/embfs/errs"
)

// Volume composes a partition, its parsed boot sector, and the cluster
// table into the unit the FAT engine operates on (spec §3.1 "Volume").
// Only its Partition is ever visible to the LB layer.
type Volume struct {
	ID         int
	Partition  block.Partition
	BootSector *BootSector
	Table      *Table
	Scanner    *Scanner
	OpenFiles  *OpenFileTable
	DirHandles *DirHandlePool

	mu       sync.Mutex
	hasError bool
}

// Mount reads and parses the boot sector at the start of part, builds the
// cluster table and scanner, and returns a ready Volume.
func Mount(id int, part block.Partition) (*Volume, error) {
	buf := make([]byte, 512)
	if err := part.ReadPart(0, buf, block.SectorTypeManagement); err != nil {
		return nil, errs.ErrReadFailure.Wrap(err)
	}

	bs, err := ParseBootSector(buf)
	if err != nil {
		return nil, err
	}

	table := NewTable(part, bs)
	scanner := NewScanner(part, bs, table)

	return &Volume{
		ID:         id,
		Partition:  part,
		BootSector: bs,
		Table:      table,
		Scanner:    scanner,
		OpenFiles:  NewOpenFileTable(),
		DirHandles: &DirHandlePool{},
	}, nil
}

// HasError reports the sticky failure latch described in spec §4.2.6: once
// set, every subsequent operation should short-circuit to failure until an
// explicit Unmount clears it.
func (v *Volume) HasError() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hasError
}

// SetError latches the volume into the failed state. Idempotent.
func (v *Volume) SetError() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hasError = true
}

// Unmount clears the error latch, matching spec §4.2.6's "cleared only by
// explicit unmount".
func (v *Volume) Unmount() error {
	v.mu.Lock()
	v.hasError = false
	v.mu.Unlock()
	_, err := v.Partition.Device.Ioctl(block.IoctlUnmount, 0, nil)
	return err
}

// Guard wraps any FAT-engine operation with the HasError short-circuit: it
// refuses to even attempt op if the latch is already set, and latches on a
// genuine I/O-class failure returned by op. Non-I/O outcomes (not-found,
// already-exists, and similar expected results) never latch the volume, the
// same way spec §4.2.6 reserves the latch for undetected loss of media
// rather than ordinary negative results.
func (v *Volume) Guard(op func() error) error {
	if v.HasError() {
		return errs.ErrInitFailure.WithMessage("volume is in an error state; unmount required")
	}
	err := op()
	if isLatchingError(err) {
		v.SetError()
	}
	return err
}

func isLatchingError(err error) bool {
	return errors.Is(err, errs.ErrReadFailure) ||
		errors.Is(err, errs.ErrWriteFailure) ||
		errors.Is(err, errs.ErrIoctlFailure)
}
