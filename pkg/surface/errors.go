// Surface driver error handling
//
// Copyright (C) 2026  Melbourne Instruments
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package surface

import "fmt"

// ErrorCode is the category of a driver error.
type ErrorCode string

const (
	// ErrNotOpen: the driver was used before Open or after Close.
	ErrNotOpen ErrorCode = "NOT_OPEN"

	// ErrBadKnob: the knob index is out of range.
	ErrBadKnob ErrorCode = "BAD_KNOB"

	// ErrKnobInactive: the knob controller never finished
	// calibration and is excluded from runtime operation.
	ErrKnobInactive ErrorCode = "KNOB_INACTIVE"

	// ErrBadSwitch: the switch index is out of range.
	ErrBadSwitch ErrorCode = "BAD_SWITCH"

	// ErrBusIO: a bus transaction failed after its retry budget.
	ErrBusIO ErrorCode = "BUS_IO"
)

// DriverError is the unified error type for the surface driver.
type DriverError struct {
	Code    ErrorCode
	Message string
	Knob    int
	Err     error
}

func (e *DriverError) Error() string {
	if e.Knob >= 0 {
		return fmt.Sprintf("surface: [%s] knob %d: %s", e.Code, e.Knob, e.Message)
	}
	return fmt.Sprintf("surface: [%s] %s", e.Code, e.Message)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// Is checks whether err is a DriverError with the given code.
func Is(err error, code ErrorCode) bool {
	if de, ok := err.(*DriverError); ok {
		return de.Code == code
	}
	return false
}

func notOpenError() *DriverError {
	return &DriverError{Code: ErrNotOpen, Message: "driver not open", Knob: -1}
}

func badKnobError(knob int) *DriverError {
	return &DriverError{Code: ErrBadKnob, Message: "knob index out of range", Knob: knob}
}

func knobInactiveError(knob int) *DriverError {
	return &DriverError{Code: ErrKnobInactive, Message: "controller not active", Knob: knob}
}

func badSwitchError(n int) *DriverError {
	return &DriverError{Code: ErrBadSwitch, Message: fmt.Sprintf("switch index %d out of range", n), Knob: -1}
}

func busError(op string, err error) *DriverError {
	return &DriverError{Code: ErrBusIO, Message: op, Knob: -1, Err: err}
}

func knobBusError(knob int, op string, err error) *DriverError {
	return &DriverError{Code: ErrBusIO, Message: op, Knob: knob, Err: err}
}
