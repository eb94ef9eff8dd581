// Haptic mode handling for the motorised knob controllers
//
// Copyright (C) 2026  Melbourne Instruments
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package haptics defines the logical haptic configuration of a
// surface control (friction, detents, indents, active range) and its
// serialization into the wire format consumed by the motor
// controllers.
package haptics

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HwMax is the top of the raw hardware position domain.
const HwMax = 32767

// MaxIndents is the most indents a haptic config payload can carry.
const MaxIndents = 32

// Common errors
var (
	ErrUnknownMode = errors.New("haptics: unknown mode")
	ErrInvalidMode = errors.New("haptics: invalid mode")
)

// ControlType distinguishes knob and switch haptic modes.
type ControlType int

const (
	TypeKnob ControlType = iota
	TypeSwitch
)

func (t ControlType) String() string {
	switch t {
	case TypeKnob:
		return "knob"
	case TypeSwitch:
		return "switch"
	default:
		return "unknown"
	}
}

// Indent is a discrete detent position with extra holding torque,
// expressed in raw hardware units.
type Indent struct {
	Enabled  bool
	Position uint16
}

// Mode is an immutable haptic configuration, looked up by name and
// control type. A default mode always exists per type.
type Mode struct {
	Type ControlType
	Name string

	// KnobWidth is the active angular range in degrees (1..360).
	KnobWidth int

	// KnobStartPos anchors the active range at a start angle in
	// degrees. Nil means the range is centered.
	KnobStartPos *int

	Friction       uint8
	NumDetents     uint8
	DetentStrength uint8

	// Indents are ordered by strictly increasing raw position.
	Indents []Indent
}

// HwRange returns the active hardware sub-range [min, max] implied by
// the mode's width and start position. A full 360 degree width (or an
// unset width) covers the whole domain; otherwise the range is
// anchored at the start position, clamped so start+width stays within
// 360 degrees, or centered when no start position is given.
func (m *Mode) HwRange() (min, max uint16) {
	width := m.KnobWidth
	if width <= 0 || width >= 360 {
		return 0, HwMax
	}

	var start int
	if m.KnobStartPos != nil {
		start = *m.KnobStartPos
		if start < 0 {
			start = 0
		}
		if start > 360-width {
			start = 360 - width
		}
	} else {
		start = (360 - width) / 2
	}

	min = uint16((start*HwMax + 180) / 360)
	max = uint16(((start+width)*HwMax + 180) / 360)
	if max > HwMax {
		max = HwMax
	}
	return min, max
}

// EnabledIndents returns the enabled indent positions in order,
// capped at MaxIndents.
func (m *Mode) EnabledIndents() []uint16 {
	var out []uint16
	for _, ind := range m.Indents {
		if !ind.Enabled {
			continue
		}
		out = append(out, ind.Position)
		if len(out) == MaxIndents {
			break
		}
	}
	return out
}

// Encode serializes the mode into the haptic config wire payload:
//
//	[friction][num_detents][detent_strength][start u16 LE][width u16 LE]
//	[num_indents][indent u16 LE]*num_indents
//
// The start/width fields carry the active hardware range. Switch modes
// have no knob geometry and emit the fixed header with zero indents.
func (m *Mode) Encode() []byte {
	indents := m.EnabledIndents()
	if m.Type == TypeSwitch {
		indents = nil
	}

	buf := make([]byte, 0, 9+2*len(indents))
	buf = append(buf, m.Friction, m.NumDetents, m.DetentStrength)

	var min, max uint16
	if m.Type == TypeKnob {
		min, max = m.HwRange()
	}
	buf = binary.LittleEndian.AppendUint16(buf, min)
	buf = binary.LittleEndian.AppendUint16(buf, max-min)

	buf = append(buf, byte(len(indents)))
	for _, pos := range indents {
		buf = binary.LittleEndian.AppendUint16(buf, pos)
	}
	return buf
}

// Validate checks the mode's invariants: width range, indent count,
// indent ordering and domain.
func (m *Mode) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidMode)
	}
	if m.Type == TypeKnob {
		if m.KnobWidth < 1 || m.KnobWidth > 360 {
			return fmt.Errorf("%w: %s: width %d out of range 1..360", ErrInvalidMode, m.Name, m.KnobWidth)
		}
	}
	enabled := m.EnabledIndents()
	if n := len(enabled); n > MaxIndents {
		return fmt.Errorf("%w: %s: %d indents exceeds %d", ErrInvalidMode, m.Name, n, MaxIndents)
	}
	last := -1
	for _, pos := range enabled {
		if int(pos) <= last {
			return fmt.Errorf("%w: %s: indent positions must be strictly increasing", ErrInvalidMode, m.Name)
		}
		if pos > HwMax {
			return fmt.Errorf("%w: %s: indent position %d above domain", ErrInvalidMode, m.Name, pos)
		}
		last = int(pos)
	}
	return nil
}

// DefaultName is the name of the built-in fallback modes.
const DefaultName = "default"

// DefaultKnobMode returns the fallback knob mode: full travel, light
// friction, no detents or indents.
func DefaultKnobMode() Mode {
	return Mode{
		Type:      TypeKnob,
		Name:      DefaultName,
		KnobWidth: 360,
		Friction:  10,
	}
}

// DefaultSwitchMode returns the fallback switch mode.
func DefaultSwitchMode() Mode {
	return Mode{
		Type: TypeSwitch,
		Name: DefaultName,
	}
}
