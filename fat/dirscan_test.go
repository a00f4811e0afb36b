package fat_test

import (
	"testing"

	"github.com/gsfs/embfs/fat"
)

// newMultiClusterDirVolume builds a volume whose directories use an
// artificially small DirentsPerCluster (2) so that a handful of creates is
// enough to exercise FindEmptyDirEntry's cluster-chain extension path
// without needing a full 16-entry sector fill.
func newMultiClusterDirVolume(t *testing.T) (*fat.Scanner, *fat.Table) {
	t.Helper()
	_, part := newTestVolume(t, fat.FAT16)

	bs := &fat.BootSector{
		BytesPerSector:    512,
		SectorsPerCluster: 1,
		NumFATs:           2,
		SectorsPerFAT:     4,
		FirstFATSector:    1,
		FirstDataSector:   9,
		BytesPerCluster:   512,
		TotalClusters:     200,
		Version:           fat.FAT16,
		DirentsPerCluster: 2,
	}
	table := fat.NewTable(part, bs)
	return fat.NewScanner(part, bs, table), table
}

func TestFindEmptyDirEntry_ExtendsChainAcrossClusters(t *testing.T) {
	scanner, table := newMultiClusterDirVolume(t)

	first, err := table.AllocateCluster()
	if err != nil {
		t.Fatalf("allocate failed: %s", err)
	}

	names := []string{"a.txt", "b.txt", "c.txt"}
	var lastResult fat.OpenResult
	for _, n := range names {
		name, err := fat.EncodeShortName(n, fat.EncodeOptions{})
		if err != nil {
			t.Fatalf("encode %s failed: %s", n, err)
		}
		result, err := scanner.Open(0, first, name, fat.OpenFlags{DoCreate: true}, nil, nil, 0)
		if err != nil {
			t.Fatalf("create %s failed: %s", n, err)
		}
		if !result.Created {
			t.Errorf("expected Created true for %s", n)
		}
		lastResult = result
	}

	if lastResult.Pos.ClusterID == first {
		t.Error("expected the third entry to land in an extended cluster, not the first one")
	}

	for _, n := range names {
		name, _ := fat.EncodeShortName(n, fat.EncodeOptions{})
		found, err := scanner.Open(0, first, name, fat.OpenFlags{DoOpen: true}, nil, nil, 0)
		if err != nil {
			t.Fatalf("reopen %s failed: %s", n, err)
		}
		if found.Created {
			t.Errorf("reopen of %s should not report Created", n)
		}
	}
}

func TestFindEmptyDirEntry_FixedRootReportsFullWithoutExtending(t *testing.T) {
	table, part := newTestVolume(t, fat.FAT16)
	bs := &fat.BootSector{
		BytesPerSector:     512,
		SectorsPerCluster:  1,
		NumFATs:            2,
		SectorsPerFAT:      4,
		RootEntryCount:     2,
		FirstFATSector:     1,
		FirstRootDirSector: 9,
		FirstDataSector:    10,
		BytesPerCluster:    512,
		TotalClusters:      200,
		Version:            fat.FAT16,
		DirentsPerCluster:  16,
	}
	_ = table
	scanner := fat.NewScanner(part, bs, fat.NewTable(part, bs))

	for i, n := range []string{"one.txt", "two.txt"} {
		name, _ := fat.EncodeShortName(n, fat.EncodeOptions{})
		if _, err := scanner.Open(0, 0, name, fat.OpenFlags{DoCreate: true}, nil, nil, 0); err != nil {
			t.Fatalf("create %d failed: %s", i, err)
		}
	}

	name, _ := fat.EncodeShortName("three.txt", fat.EncodeOptions{})
	if _, err := scanner.Open(0, 0, name, fat.OpenFlags{DoCreate: true}, nil, nil, 0); err == nil {
		t.Fatal("expected ErrDirFull once the fixed root region is exhausted")
	}
}
