// Package errs defines the single error taxonomy shared by every core
// subsystem: the logical-block layer, the FAT directory/cluster engine, the
// disk-partition driver, and the SFDP physical layer. Every negative return
// anywhere in the core is one of these kinds, optionally wrapped with
// additional context.
package errs

import "fmt"

// Error is a sentinel error kind. It's comparable with == and with
// errors.Is, and can be decorated with extra context via WithMessage or
// Wrap without losing its identity.
type Error string

func (e Error) Error() string { return string(e) }

// WithMessage returns a new error that prints as "<e>: <message>" but still
// satisfies errors.Is(newErr, e).
func (e Error) WithMessage(message string) *DetailedError {
	return &DetailedError{kind: e, message: fmt.Sprintf("%s: %s", string(e), message)}
}

// Wrap returns a new error that prints as "<e>: <cause>" and satisfies both
// errors.Is(newErr, e) and errors.Is(newErr, cause).
func (e Error) Wrap(cause error) *DetailedError {
	return &DetailedError{kind: e, cause: cause, message: fmt.Sprintf("%s: %s", string(e), cause.Error())}
}

// DetailedError decorates an Error kind with a specific message and/or an
// underlying cause, while remaining comparable to its kind via errors.Is.
type DetailedError struct {
	kind    Error
	cause   error
	message string
}

func (e *DetailedError) Error() string { return e.message }

func (e *DetailedError) Is(target error) bool {
	if k, ok := target.(Error); ok {
		return k == e.kind
	}
	return false
}

func (e *DetailedError) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return e.kind
}

// The kinds below are the contract fixed by spec §6.4. Numeric errno values
// are deliberately not assigned here: callers compare by identity
// (errors.Is), not by number.
const (
	OK                     = Error("")
	ErrInvalidParameter    = Error("invalid parameter")
	ErrUnknownDevice       = Error("unknown device")
	ErrHWLayerNotSet       = Error("hardware layer not bound")
	ErrInitFailure         = Error("device initialization failed")
	ErrWriteFailure        = Error("write failure")
	ErrReadFailure         = Error("read failure")
	ErrIoctlFailure        = Error("ioctl failure")
	ErrTimeout             = Error("operation timed out")
	ErrPathNotFound        = Error("path not found")
	ErrFileDirNotFound     = Error("file or directory not found")
	ErrFileDirExists       = Error("file or directory already exists")
	ErrNotAFile            = Error("not a file")
	ErrFileIsOpen          = Error("file is open")
	ErrReadOnlyFile        = Error("file is read-only")
	ErrDirFull             = Error("directory is full")
	ErrInvalidClusterChain = Error("invalid cluster chain")
	ErrWriteVerify         = Error("write verification failed")
	ErrEOF                 = Error("end of file")
	ErrVolumeFull          = Error("volume full")

	// ErrHWLayerFault reports a vendor/hardware-reported program or erase
	// error flag (spec §4.4.5, "ERR_HW_LAYER").
	ErrHWLayerFault = Error("hardware layer reported a fault")
)
