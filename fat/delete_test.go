package fat_test

import (
	"testing"

	"github.com/gsfs/embfs/fat"
)

func TestDeleteEntry_MarksEntryDeleted(t *testing.T) {
	scanner := buildMountedScanner(t)
	name, _ := fat.EncodeShortName("gone.txt", fat.EncodeOptions{})

	created, err := scanner.Open(0, 0, name, fat.OpenFlags{DoCreate: true}, nil, nil, 0)
	if err != nil {
		t.Fatalf("create failed: %s", err)
	}

	if err := scanner.DeleteEntry(0, created.Pos, created.Location, nil, nil); err != nil {
		t.Fatalf("delete failed: %s", err)
	}

	entry, err := scanner.GetDirEntry(&created.Pos)
	if err != nil {
		t.Fatalf("re-read after delete failed: %s", err)
	}
	if !entry.IsDeleted() {
		t.Error("expected entry's first byte to be the deleted marker")
	}
}

type alwaysOpen struct{}

func (alwaysOpen) IsOpen(fat.EntryLocation) bool { return true }

func TestDeleteEntry_FailsWhenFileIsOpen(t *testing.T) {
	scanner := buildMountedScanner(t)
	name, _ := fat.EncodeShortName("busy.txt", fat.EncodeOptions{})

	created, err := scanner.Open(0, 0, name, fat.OpenFlags{DoCreate: true}, nil, nil, 0)
	if err != nil {
		t.Fatalf("create failed: %s", err)
	}

	err = scanner.DeleteEntry(0, created.Pos, created.Location, alwaysOpen{}, nil)
	if err == nil {
		t.Fatal("expected delete to fail while the file is open")
	}

	entry, rerr := scanner.GetDirEntry(&created.Pos)
	if rerr != nil {
		t.Fatalf("re-read failed: %s", rerr)
	}
	if entry.IsDeleted() {
		t.Error("on-disk entry must be unmodified when delete is refused")
	}
}

func TestOpenFileTable_AcquireRelease(t *testing.T) {
	table := fat.NewOpenFileTable()
	loc := fat.EntryLocation{VolumeID: 0, Sector: 9, DirEntryIndex: 0}

	if table.IsOpen(loc) {
		t.Fatal("should not be open before Acquire")
	}
	table.Acquire(loc)
	if !table.IsOpen(loc) {
		t.Fatal("should be open after Acquire")
	}
	table.Release(loc)
	if table.IsOpen(loc) {
		t.Fatal("should not be open after matching Release")
	}
}
