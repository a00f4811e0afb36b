package fat_test

import (
	"testing"

	"github.com/gsfs/embfs/fat"
)

// buildMountedScanner assembles a minimal FAT16 volume in memory with a
// fixed root directory, suitable for exercising Open/DeleteEntry without a
// real disk image.
func buildMountedScanner(t *testing.T) *fat.Scanner {
	t.Helper()
	table, part := newTestVolume(t, fat.FAT16)

	bs := &fat.BootSector{
		BytesPerSector:     512,
		SectorsPerCluster:  1,
		NumFATs:            2,
		SectorsPerFAT:      4,
		RootEntryCount:     16,
		FirstFATSector:     1,
		FirstRootDirSector: 9,
		FirstDataSector:    10,
		BytesPerCluster:    512,
		TotalClusters:      200,
		Version:            fat.FAT16,
		DirentsPerCluster:  512 / fat.DirentSize,
	}
	_ = table
	return fat.NewScanner(part, bs, fat.NewTable(part, bs))
}

func TestOpen_CreateThenFind(t *testing.T) {
	scanner := buildMountedScanner(t)

	name, err := fat.EncodeShortName("hello.txt", fat.EncodeOptions{})
	if err != nil {
		t.Fatalf("encode failed: %s", err)
	}

	result, err := scanner.Open(0, 0, name, fat.OpenFlags{DoCreate: true}, nil, nil, 0)
	if err != nil {
		t.Fatalf("create failed: %s", err)
	}
	if !result.Created {
		t.Error("expected Created to be true")
	}

	again, err := scanner.Open(0, 0, name, fat.OpenFlags{DoOpen: true}, nil, nil, 0)
	if err != nil {
		t.Fatalf("reopen failed: %s", err)
	}
	if again.Created {
		t.Error("reopen should not report Created")
	}
}

func TestOpen_CreateExistingWithoutDeleteFails(t *testing.T) {
	scanner := buildMountedScanner(t)
	name, _ := fat.EncodeShortName("dup.txt", fat.EncodeOptions{})

	if _, err := scanner.Open(0, 0, name, fat.OpenFlags{DoCreate: true}, nil, nil, 0); err != nil {
		t.Fatalf("initial create failed: %s", err)
	}

	_, err := scanner.Open(0, 0, name, fat.OpenFlags{DoCreate: true}, nil, nil, 0)
	if err == nil {
		t.Fatal("expected ErrFileDirExists creating an existing name without DoOpen")
	}
}

func TestOpen_NotFoundWithoutCreate(t *testing.T) {
	scanner := buildMountedScanner(t)
	name, _ := fat.EncodeShortName("missing.txt", fat.EncodeOptions{})

	_, err := scanner.Open(0, 0, name, fat.OpenFlags{DoOpen: true}, nil, nil, 0)
	if err == nil {
		t.Fatal("expected ErrFileDirNotFound opening a name that doesn't exist")
	}
}

func TestOpen_ReadOnlyRejectsWrite(t *testing.T) {
	scanner := buildMountedScanner(t)
	name, _ := fat.EncodeShortName("ro.txt", fat.EncodeOptions{})

	if _, err := scanner.Open(0, 0, name, fat.OpenFlags{DoCreate: true}, nil, nil, fat.AttrReadOnly); err != nil {
		t.Fatalf("create failed: %s", err)
	}

	_, err := scanner.Open(0, 0, name, fat.OpenFlags{DoOpen: true, Write: true}, nil, nil, 0)
	if err == nil {
		t.Fatal("expected ErrReadOnlyFile opening a read-only file for write")
	}
}

func TestOpen_DirectoryIsNotAFile(t *testing.T) {
	scanner := buildMountedScanner(t)
	name, _ := fat.EncodeShortName("subdir", fat.EncodeOptions{})

	if _, err := scanner.Open(0, 0, name, fat.OpenFlags{DoCreate: true}, nil, nil, fat.AttrDirectory); err != nil {
		t.Fatalf("create failed: %s", err)
	}

	_, err := scanner.Open(0, 0, name, fat.OpenFlags{DoOpen: true}, nil, nil, 0)
	if err == nil {
		t.Fatal("expected ErrNotAFile opening a directory entry as a file")
	}
}
