package sfdp

// Standard SPI-NOR opcodes used by the discovery and I/O paths. Vendor
// parameter sets may override CmdRead/CmdWrite in ChipParams; these are
// the commands issued directly by this package.
const (
	cmdReadJEDECID        = 0x9F
	cmdReadStatusRegister = 0x05
	cmdReadFlagRegister   = 0x70
	cmdWriteEnable        = 0x06
	cmdDeepPowerDown      = 0xB9
	cmdReleaseDeepPowerDown = 0xAB
	cmdEnter4ByteAddressing = 0xB7
	cmdExit4ByteAddressing  = 0xE9
	cmdGlobalUnprotect      = 0x98 // "Clear Block Protection" / ULBPR

	statusBusyBit = 0x01

	flagErrorProgram = 0x10
	flagErrorErase   = 0x20
)

// VendorParams is a per-chip-family parameter set, bound when the JEDEC ID
// matches a configured entry, overriding the SFDP-derived defaults (spec
// §4.4.1 step 2 "Walk the configured device-parameter list; if a callback
// matches, bind that per-vendor parameter set").
type VendorParams struct {
	// Match reports whether this vendor entry applies to the given JEDEC
	// ID.
	Match func(jedecID [3]byte) bool
	// Apply customizes params in place (e.g. a non-standard erase opcode
	// table, or a quad-enable bit location this family needs set before
	// BusWidthDataRead can be BusWidthQuad).
	Apply func(params *ChipParams)
}

// selectVendorParams walks the configured list and returns the first
// matching entry, or nil to fall back to SFDP-only defaults.
func selectVendorParams(jedecID [3]byte, table []VendorParams) *VendorParams {
	for i := range table {
		if table[i].Match != nil && table[i].Match(jedecID) {
			return &table[i]
		}
	}
	return nil
}
