package sfdp

// Exchange describes one full SPI-NOR bus transaction: drive CS low, send
// an opcode, optionally send address and dummy bytes, optionally move data
// in or out, then raise CS (spec §4.4.2 "Compose the address bytes... Drive
// CS low, send command, send address and dummies on the address-bus-width
// lanes, read data on the data-bus-width lanes, raise CS").
type Exchange struct {
	Opcode       byte
	Addr         []byte // 0, 3, or 4 bytes depending on the command
	AddrBusWidth BusWidth
	DummyBytes   int
	// Data is read into (if Write is false) or written from (if Write is
	// true) using DataBusWidth lanes. A command with no data phase (write
	// enable, erase) leaves Data nil.
	Data         []byte
	DataBusWidth BusWidth
	Write        bool
}

// Backend is the hardware transport for one or more SPI-NOR chips. It is
// an external collaborator (spec §1 "bit-banging details of specific bus
// transports" are explicitly out of scope); this module only depends on
// the contract below.
type Backend interface {
	// Init brings up the bus for unit and returns the operating frequency
	// in kHz (spec §4.4.1 step 1).
	Init(unit int) (freqKHz uint32, err error)
	// ReadJEDECID issues 0x9F and returns the 3-byte manufacturer/device
	// ID (spec §4.4.1 step 2).
	ReadJEDECID(unit int) ([3]byte, error)
	// ReadSFDP reads length bytes of the SFDP table starting at byte
	// offset addr (spec §4.4.1 step 5).
	ReadSFDP(unit int, addr uint32, length int) ([]byte, error)
	// Exchange performs one bus transaction per the Exchange description.
	Exchange(unit int, ex Exchange) error
	// ReadStatusRegister polls the legacy status register (BUSY bit 0).
	ReadStatusRegister(unit int) (byte, error)
	// ReadFlagRegister polls a vendor flag register with explicit
	// program/erase error bits, for chips that support it. ok is false
	// when the chip has no flag-status register.
	ReadFlagRegister(unit int) (reg byte, ok bool, err error)
	// Delay optionally performs a hardware-timed sleep of ms
	// milliseconds, returning true if it did so (in which case the
	// caller must not also spin-wait). A Backend that always returns
	// false gets a pure software spin loop (spec §5 "Suspension points").
	Delay(ms uint32) bool
}
