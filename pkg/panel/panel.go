// Panel switch and LED bit arrays
//
// Copyright (C) 2026  Melbourne Instruments
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package panel packs and unpacks the panel controller's switch and
// LED bit arrays. Switch n lives at logical byte n/8, bit n%8; the
// hardware transmits the byte array in descending significance order
// relative to the logical switch index, so both directions reverse the
// byte order on the wire.
package panel

import "sync"

const (
	// NumSwitches is the number of physical illuminated switches.
	NumSwitches = 37

	// NumBytes is the size of the packed switch/LED payload.
	NumBytes = 5
)

// UnpackSwitches unpacks a wire switch-state payload into per-switch
// booleans.
func UnpackSwitches(wire [NumBytes]byte) [NumSwitches]bool {
	logical := reverse(wire)
	var states [NumSwitches]bool
	for n := 0; n < NumSwitches; n++ {
		states[n] = logical[n/8]&(1<<(n%8)) != 0
	}
	return states
}

// PackLeds packs per-switch LED states into the wire payload.
func PackLeds(states [NumSwitches]bool) [NumBytes]byte {
	var logical [NumBytes]byte
	for n := 0; n < NumSwitches; n++ {
		if states[n] {
			logical[n/8] |= 1 << (n % 8)
		}
	}
	return reverse(logical)
}

func reverse(b [NumBytes]byte) [NumBytes]byte {
	var out [NumBytes]byte
	for i := range b {
		out[NumBytes-1-i] = b[i]
	}
	return out
}

// LedCache is a write-combining buffer for the panel LEDs. Mutations
// accumulate in memory and only reach the hardware when the driver
// commits, batching all pending changes into one bus transaction.
type LedCache struct {
	mu     sync.Mutex
	states [NumSwitches]bool
	dirty  bool
}

// Set records the desired state of one LED.
func (c *LedCache) Set(n int, on bool) bool {
	if n < 0 || n >= NumSwitches {
		return false
	}
	c.mu.Lock()
	if c.states[n] != on {
		c.states[n] = on
		c.dirty = true
	}
	c.mu.Unlock()
	return true
}

// SetAll records the desired state of every LED.
func (c *LedCache) SetAll(on bool) {
	c.mu.Lock()
	for n := range c.states {
		if c.states[n] != on {
			c.states[n] = on
			c.dirty = true
		}
	}
	c.mu.Unlock()
}

// MarkDirty forces the next commit to transmit, e.g. after a failed
// bus transaction.
func (c *LedCache) MarkDirty() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}

// Dirty reports whether there are uncommitted changes.
func (c *LedCache) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Snapshot returns the wire payload for the cached state and clears
// the dirty flag. The caller transmits the payload.
func (c *LedCache) Snapshot() [NumBytes]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = false
	return PackLeds(c.states)
}
