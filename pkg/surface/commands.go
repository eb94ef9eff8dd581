// Surface controller wire commands
//
// Copyright (C) 2026  Melbourne Instruments
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package surface

// Controller bus addressing. Exactly one address is selected on the
// bus at a time; selection must precede any read or write to that
// controller.
const (
	// NumKnobs is the maximum number of motor-driven knob
	// controllers on the bus.
	NumKnobs = 32

	// PanelAddr is the fixed address of the panel (switch/LED)
	// controller.
	PanelAddr = 0x18

	// DefaultAddr is the shared address every motor controller
	// boots at before it is provisioned with a unique one.
	DefaultAddr = 0x7C

	// MotorBase is the first provisioned motor controller address;
	// knob i lives at MotorBase+i.
	MotorBase = 0x20
)

// MotorAddr returns the provisioned bus address for a knob index.
func MotorAddr(knob int) int {
	return MotorBase + knob
}

// Command/register ids. Byte 0 of every transaction is the command
// id; any following payload bytes are little-endian.
const (
	// Shared across controller types
	cmdConfigDevice  = 0x00
	cmdCheckFirmware = 0x01

	// Bootloader only
	cmdStartFirmware = 0x02

	// Motor controller only
	cmdEncoderAOffset = 0x0B
	cmdEncoderAGain   = 0x0C
	cmdEncoderBOffset = 0x0D
	cmdEncoderBGain   = 0x0E
	cmdDatumThreshold = 0x0F
	cmdHapticConfig   = 0x21
	cmdFindDatum      = 0x25
	cmdPosition       = 0x29
	cmdHapticMode     = 0x2A
	cmdMotorStatus    = 0x2B
	cmdReboot         = 0x2F
	cmdCalEncParams   = 0x33

	// Panel controller only
	regSwitchState = 0x00
	regLedState    = 0x01
)

// Calibration/datum status bytes read back from cmdCalEncParams and
// cmdFindDatum.
const (
	statusBusy   = 0x00
	statusDone   = 0x01
	statusFailed = 0x02
)

// Motor status response flags (second u16 of the position response).
const (
	flagTapDetected    = 1 << 0
	flagMovingToTarget = 1 << 1
)

// Firmware version responses are fixed-size, NUL-padded.
const firmwareVersionLen = 16
