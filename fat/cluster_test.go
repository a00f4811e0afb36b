package fat_test

import (
	"testing"

	"github.com/gsfs/embfs/block"
	"github.com/gsfs/embfs/fat"
)

// memDevice is a minimal in-memory block.DeviceType, grounded on the same
// pattern used in block's own tests.
type memDevice struct {
	block.NoInit
	sectorSize uint16
	data       []byte
}

func newMemDevice(sectorSize uint16, numSectors uint32) *memDevice {
	return &memDevice{sectorSize: sectorSize, data: make([]byte, int(sectorSize)*int(numSectors))}
}

func (m *memDevice) Name(unit int) string   { return "memdevice" }
func (m *memDevice) AddDevice() (int, error) { return 0, nil }

func (m *memDevice) Read(unit int, idx block.SectorIndex, buf []byte, n uint32, kind block.SectorType) error {
	start := int(idx) * int(m.sectorSize)
	copy(buf, m.data[start:start+int(n)*int(m.sectorSize)])
	return nil
}

func (m *memDevice) Write(unit int, idx block.SectorIndex, buf []byte, n uint32, repeatSame bool, kind block.SectorType) error {
	for i := uint32(0); i < n; i++ {
		start := (int(idx) + int(i)) * int(m.sectorSize)
		var src []byte
		if repeatSame {
			src = buf
		} else {
			src = buf[int(i)*int(m.sectorSize) : int(i+1)*int(m.sectorSize)]
		}
		copy(m.data[start:start+int(m.sectorSize)], src)
	}
	return nil
}

func (m *memDevice) Ioctl(unit int, cmd block.IoctlCmd, aux int, ptr any) (int, error) {
	if cmd == block.IoctlGetDevInfo {
		info := ptr.(*block.DevInfo)
		info.BytesPerSector = m.sectorSize
		info.NumSectors = uint32(len(m.data)) / uint32(m.sectorSize)
		return 0, nil
	}
	return 0, nil
}

func (m *memDevice) GetStatus(unit int) block.Status { return block.StatusPresent }
func (m *memDevice) GetNumUnits() int                { return 1 }

func newTestVolume(t *testing.T, version fat.Version) (*fat.Table, block.Partition) {
	t.Helper()
	sectorsPerFAT := uint32(4)
	bs := &fat.BootSector{
		BytesPerSector:    512,
		SectorsPerCluster: 1,
		NumFATs:           2,
		SectorsPerFAT:     sectorsPerFAT,
		FirstFATSector:    1,
		FirstDataSector:   1 + block.SectorIndex(sectorsPerFAT)*2,
		BytesPerCluster:   512,
		TotalClusters:     200,
		Version:           version,
		DirentsPerCluster: 512 / fat.DirentSize,
	}

	mem := newMemDevice(512, 64)
	dev := block.NewDevice(mem, 0)
	part := block.NewPartition(dev, 0)

	return fat.NewTable(part, bs), part
}

func TestTable_SetGetRoundTrip_FAT16(t *testing.T) {
	table, _ := newTestVolume(t, fat.FAT16)

	if err := table.Set(2, 5); err != nil {
		t.Fatalf("set failed: %s", err)
	}
	if err := table.Set(5, fat.ClusterEndOfChain); err != nil {
		t.Fatalf("set failed: %s", err)
	}

	next, err := table.Get(2)
	if err != nil {
		t.Fatalf("get failed: %s", err)
	}
	if next != 5 {
		t.Errorf("expected next cluster 5, got %d", next)
	}

	eoc, err := table.Get(5)
	if err != nil {
		t.Fatalf("get failed: %s", err)
	}
	if eoc != fat.ClusterEndOfChain {
		t.Errorf("expected end-of-chain, got %d", eoc)
	}
}

func TestTable_SetGetRoundTrip_FAT12(t *testing.T) {
	table, _ := newTestVolume(t, fat.FAT12)

	if err := table.Set(2, 3); err != nil {
		t.Fatalf("set failed: %s", err)
	}
	if err := table.Set(3, 4); err != nil {
		t.Fatalf("set failed: %s", err)
	}
	if err := table.Set(4, fat.ClusterEndOfChain); err != nil {
		t.Fatalf("set failed: %s", err)
	}

	for cluster, want := range map[fat.ClusterID]fat.ClusterID{2: 3, 3: 4, 4: fat.ClusterEndOfChain} {
		got, err := table.Get(cluster)
		if err != nil {
			t.Fatalf("get(%d) failed: %s", cluster, err)
		}
		if got != want {
			t.Errorf("get(%d) = %d, want %d", cluster, got, want)
		}
	}
}

func TestTable_FreeChain(t *testing.T) {
	table, _ := newTestVolume(t, fat.FAT16)

	if err := table.Set(2, 3); err != nil {
		t.Fatalf("set failed: %s", err)
	}
	if err := table.Set(3, fat.ClusterEndOfChain); err != nil {
		t.Fatalf("set failed: %s", err)
	}

	if err := table.FreeChain(2, 2); err != nil {
		t.Fatalf("free chain failed: %s", err)
	}

	for _, cluster := range []fat.ClusterID{2, 3} {
		got, err := table.Get(cluster)
		if err != nil {
			t.Fatalf("get(%d) failed: %s", cluster, err)
		}
		if got != fat.ClusterFree {
			t.Errorf("cluster %d should be free after FreeChain, got %d", cluster, got)
		}
	}
}

func TestTable_FreeChain_DetectsLoop(t *testing.T) {
	table, _ := newTestVolume(t, fat.FAT16)

	// Corrupt chain: cluster 2 points to itself.
	if err := table.Set(2, 2); err != nil {
		t.Fatalf("set failed: %s", err)
	}

	err := table.FreeChain(2, 10)
	if err == nil {
		t.Fatal("expected an error for a self-looping chain")
	}
}

func TestTable_WalkDelta_DetectsLoop(t *testing.T) {
	table, _ := newTestVolume(t, fat.FAT16)
	if err := table.Set(2, 2); err != nil {
		t.Fatalf("set failed: %s", err)
	}

	_, err := table.WalkDelta(2, 3)
	if err == nil {
		t.Fatal("expected an error walking a self-looping chain")
	}
}

func TestTable_ExpectedClusterCount(t *testing.T) {
	table, _ := newTestVolume(t, fat.FAT16)

	if got := table.ExpectedClusterCount(0, false); got != 0 {
		t.Errorf("zero-size file should need 0 clusters, got %d", got)
	}
	if got := table.ExpectedClusterCount(1, false); got != 1 {
		t.Errorf("1-byte file should round up to 1 cluster, got %d", got)
	}
	if got := table.ExpectedClusterCount(0, true); got != fat.MaxNumClustersDir {
		t.Errorf("directories should use the configured upper bound, got %d", got)
	}
}
