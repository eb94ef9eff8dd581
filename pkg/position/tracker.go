// Relative knob position tracking
//
// Copyright (C) 2026  Melbourne Instruments
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package position

// Role describes how a knob's physical position relates to the
// control it is currently assigned to.
type Role int

const (
	// RoleFixed: the control has an absolute mapping; raw values are
	// used as-is.
	RoleFixed Role = iota

	// RoleRelative: the control has no fixed absolute mapping; raw
	// values are offset so the physical position at assignment time
	// reads as no movement.
	RoleRelative

	// RoleFree: free-running, no mapping at all.
	RoleFree
)

func (r Role) String() string {
	switch r {
	case RoleFixed:
		return "fixed"
	case RoleRelative:
		return "relative"
	case RoleFree:
		return "free"
	default:
		return "unknown"
	}
}

// Tracker holds the per-knob codec state: the knob's role, the
// relative-mode offset and the last raw value seen. It is reset
// whenever the control's role changes.
type Tracker struct {
	role   Role
	offset int
	last   uint16
	primed bool
}

// NewTracker returns a tracker in the fixed role.
func NewTracker() *Tracker {
	return &Tracker{role: RoleFixed}
}

// Role returns the current role.
func (t *Tracker) Role() Role {
	return t.role
}

// SetFixed resets the tracker to absolute semantics.
func (t *Tracker) SetFixed() {
	*t = Tracker{role: RoleFixed}
}

// SetFree resets the tracker to free-running semantics.
func (t *Tracker) SetFree() {
	*t = Tracker{role: RoleFree}
}

// SetRelative resets the tracker to relative semantics. current is
// the physical position at the moment of reassignment and anchor the
// raw value the control should read as, so the knob shows no movement
// until it is actually turned.
func (t *Tracker) SetRelative(current, anchor uint16) {
	*t = Tracker{
		role:   RoleRelative,
		offset: wrap(int(current) - int(anchor)),
		last:   current,
		primed: true,
	}
}

// Apply maps a raw hardware read through the tracker. In the fixed
// and free roles it passes through unchanged. In the relative role
// the stored offset is subtracted with wrap-around at the domain
// boundary; a single-step jump exceeding half the domain means the
// user released the knob and regrasped it at the opposite rail, so
// the offset is resynchronized instead of producing a discontinuity.
func (t *Tracker) Apply(raw uint16) uint16 {
	if t.role != RoleRelative {
		t.last = raw
		return raw
	}
	if !t.primed {
		t.last = raw
		t.primed = true
	}

	delta := int(raw) - int(t.last)
	if delta > domainSize/2 || delta < -domainSize/2 {
		// Regrasp: keep the reported position where it was.
		t.offset = wrap(t.offset + delta)
	}
	t.last = raw
	return uint16(wrap(int(raw) - t.offset))
}

// Last returns the last raw value passed to Apply.
func (t *Tracker) Last() uint16 {
	return t.last
}

// wrap folds v into [0, domainSize).
func wrap(v int) int {
	v %= domainSize
	if v < 0 {
		v += domainSize
	}
	return v
}
