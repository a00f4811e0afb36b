package sfdp

import "github.com/gsfs/embfs/errs"

// waitForEndOfOperation implements spec §4.4.5: poll the chip's
// status/flag register in a tight loop with a soft delay between polls
// calibrated to roughly 1ms of bus activity, until either not-busy or the
// timeout is reached. A device-reported program/erase error flag is
// reported as ErrHWLayerFault; exhausting the timeout is ErrTimeout.
func (d *Device) waitForEndOfOperation(timeoutMs uint32) error {
	iterations := timeoutMs / d.Timeouts.StatusPoll
	if iterations == 0 {
		iterations = 1
	}

	for i := uint32(0); i < iterations; i++ {
		if flag, ok, err := d.Backend.ReadFlagRegister(d.Unit); ok {
			if err != nil {
				return errs.ErrHWLayerFault.Wrap(err)
			}
			if flag&(flagErrorProgram|flagErrorErase) != 0 {
				log.Error().Int("unit", d.Unit).Msg("flag register reports a program/erase error")
				return errs.ErrHWLayerFault
			}
			// Flag-register chips use a SET bit to mean "ready".
			if flag&0x80 != 0 {
				return nil
			}
		} else {
			status, err := d.Backend.ReadStatusRegister(d.Unit)
			if err != nil {
				return errs.ErrHWLayerFault.Wrap(err)
			}
			if status&statusBusyBit == 0 {
				return nil
			}
		}

		if !d.Backend.Delay(d.Timeouts.StatusPoll) {
			spinWait(d.Timeouts.StatusPoll)
		}
	}

	log.Error().Int("unit", d.Unit).Uint32("timeout_ms", timeoutMs).Msg("timed out waiting for program/erase to finish")
	return errs.ErrTimeout
}

// spinWait is the software fallback when the HW backend has no
// hardware-timed delay primitive (spec §5 "implicitly a busy-wait in
// software"). It intentionally does no real-time sleeping in this
// portable core; a platform integration supplies a real Backend.Delay.
func spinWait(ms uint32) {
	n := uint64(ms) * 1000
	for i := uint64(0); i < n; i++ {
	}
}
