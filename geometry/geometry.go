// Package geometry carries canned device-geometry presets for the storage
// media this module targets: NOR and NAND flash, DataFlash parts, and
// ATA/IDE CHS geometries. It generalizes the floppy-only geometry table a
// disk-image library would otherwise hand-roll per test fixture into one
// embedded, named catalog.
package geometry

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gocarina/gocsv"

	"github.com/gsfs/embfs/block"
)

// MediaKind classifies a preset's underlying storage technology, mostly for
// documentation and filtering; it has no effect on how Preset.DevInfo is
// computed.
type MediaKind string

const (
	MediaNOR       MediaKind = "nor"
	MediaNAND      MediaKind = "nand"
	MediaDataFlash MediaKind = "dataflash"
	MediaATAIDE    MediaKind = "ata-ide"
)

// Preset is one row of the embedded catalog: enough geometry to populate a
// block.DevInfo without probing real hardware, useful for test images and
// for seeding defaults before SFDP discovery or partition-table parsing
// provides the real numbers.
type Preset struct {
	Slug            string    `csv:"slug"`
	Name            string    `csv:"name"`
	MediaKind       MediaKind `csv:"media_kind"`
	BytesPerSector  uint16    `csv:"bytes_per_sector"`
	NumSectors      uint32    `csv:"num_sectors"`
	SectorsPerTrack uint16    `csv:"sectors_per_track"`
	NumHeads        uint16    `csv:"num_heads"`
	Notes           string    `csv:"notes"`
}

// DevInfo converts a preset into the block.DevInfo shape GetStatus/Ioctl
// callers expect.
func (p Preset) DevInfo() block.DevInfo {
	return block.DevInfo{
		NumSectors:      p.NumSectors,
		BytesPerSector:  p.BytesPerSector,
		SectorsPerTrack: p.SectorsPerTrack,
		NumHeads:        p.NumHeads,
	}
}

// TotalSizeBytes is the minimum backing-image size for this preset.
func (p Preset) TotalSizeBytes() int64 {
	return int64(p.BytesPerSector) * int64(p.NumSectors)
}

//go:embed presets.csv
var rawCSV string

var presets map[string]Preset

func init() {
	presets = make(map[string]Preset)
	err := gocsv.UnmarshalToCallback(strings.NewReader(rawCSV), func(row Preset) error {
		if _, exists := presets[row.Slug]; exists {
			return fmt.Errorf("duplicate geometry preset slug %q", row.Slug)
		}
		presets[row.Slug] = row
		return nil
	})
	if err != nil {
		panic(err)
	}
}

// Get looks up a preset by slug.
func Get(slug string) (Preset, error) {
	preset, ok := presets[slug]
	if !ok {
		return Preset{}, fmt.Errorf("no geometry preset registered with slug %q", slug)
	}
	return preset, nil
}

// List returns every registered slug, in no particular order.
func List() []string {
	slugs := make([]string, 0, len(presets))
	for slug := range presets {
		slugs = append(slugs, slug)
	}
	return slugs
}
