// Haptic mode registry
//
// Copyright (C) 2026  Melbourne Instruments
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package haptics

import (
	"fmt"
	"sync"
)

type modeKey struct {
	typ  ControlType
	name string
}

// Registry holds the known haptic modes, keyed by control type and
// name. A default mode per type is always present and is returned as
// the fallback for unknown names.
type Registry struct {
	mu    sync.RWMutex
	modes map[modeKey]Mode
}

// NewRegistry creates a registry seeded with the default knob and
// switch modes.
func NewRegistry() *Registry {
	r := &Registry{modes: make(map[modeKey]Mode)}
	r.modes[modeKey{TypeKnob, DefaultName}] = DefaultKnobMode()
	r.modes[modeKey{TypeSwitch, DefaultName}] = DefaultSwitchMode()
	return r
}

// Add validates and registers a mode, replacing any mode with the
// same type and name.
func (r *Registry) Add(m Mode) error {
	if err := m.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.modes[modeKey{m.Type, m.Name}] = m
	r.mu.Unlock()
	return nil
}

// Lookup returns the mode registered under (typ, name). Unknown names
// fall back to the default mode for the type.
func (r *Registry) Lookup(typ ControlType, name string) Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.modes[modeKey{typ, name}]; ok {
		return m
	}
	return r.modes[modeKey{typ, DefaultName}]
}

// Find returns the mode registered under (typ, name) or an error when
// it does not exist.
func (r *Registry) Find(typ ControlType, name string) (Mode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.modes[modeKey{typ, name}]; ok {
		return m, nil
	}
	return Mode{}, fmt.Errorf("%w: %s/%s", ErrUnknownMode, typ, name)
}

// Names returns the registered mode names for a control type.
func (r *Registry) Names(typ ControlType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for k := range r.modes {
		if k.typ == typ {
			names = append(names, k.name)
		}
	}
	return names
}
