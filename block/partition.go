package block

// Partition makes sector indices relative to a device by adding a fixed
// start offset (spec §3.1 "Partition"). It carries no other state; all
// translation is addition.
type Partition struct {
	Device      *Device
	StartSector SectorIndex
}

// NewPartition binds a device and a start offset into a Partition.
func NewPartition(dev *Device, startSector SectorIndex) Partition {
	return Partition{Device: dev, StartSector: startSector}
}

func (p Partition) toAbsolute(idx SectorIndex) SectorIndex {
	return idx + p.StartSector
}
